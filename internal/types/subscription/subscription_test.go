package subscription

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v76"
)

func TestStatusFromStripeCoversEveryProviderStatus(t *testing.T) {
	// Every status stripe-go can deliver must have a mapping; a new
	// provider status should break this test, not production.
	all := []stripe.SubscriptionStatus{
		stripe.SubscriptionStatusActive,
		stripe.SubscriptionStatusCanceled,
		stripe.SubscriptionStatusIncomplete,
		stripe.SubscriptionStatusIncompleteExpired,
		stripe.SubscriptionStatusPastDue,
		stripe.SubscriptionStatusPaused,
		stripe.SubscriptionStatusTrialing,
		stripe.SubscriptionStatusUnpaid,
	}

	for _, s := range all {
		st, err := StatusFromStripe(s)
		require.NoError(t, err, "status %q must be mapped", s)
		assert.Equal(t, string(s), string(st))
	}
}

func TestStatusFromStripeRejectsUnmapped(t *testing.T) {
	_, err := StatusFromStripe(stripe.SubscriptionStatus("hibernating"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unmapped")
}

func TestParseStatus(t *testing.T) {
	st, err := ParseStatus("unpaid")
	require.NoError(t, err)
	assert.Equal(t, StatusUnpaid, st)

	_, err = ParseStatus("premium")
	assert.Error(t, err)

	_, err = ParseStatus("")
	assert.Error(t, err)
}

func TestEntitles(t *testing.T) {
	entitled := map[Status]bool{
		StatusTrialing:          true,
		StatusActive:            true,
		StatusCanceled:          false,
		StatusIncomplete:        false,
		StatusIncompleteExpired: false,
		StatusPastDue:           false,
		StatusUnpaid:            false,
		StatusPaused:            false,
	}

	for st, want := range entitled {
		assert.Equal(t, want, st.Entitles(), "status %s", st)
	}
}
