package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"soundDropAPI/internal/stripeapi"
	"soundDropAPI/internal/types/billing"
	"soundDropAPI/internal/types/subscription"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stripe/stripe-go/v76"
)

// BillingService converges the local subscription mirror with Stripe.
// Stripe is the source of truth; every write here is an idempotent
// upsert keyed on a Stripe-assigned id, so redelivered or concurrently
// processed events settle to last-write-wins.
type BillingService struct {
	db     *pgxpool.Pool
	stripe stripeapi.Provider

	// pausedStatus is the local status a Stripe "paused" subscription
	// maps to. Defaults to paused; operators can remap it because the
	// choice feeds entitlement checks.
	pausedStatus subscription.Status
}

func NewBillingService(db *pgxpool.Pool, provider stripeapi.Provider, pausedStatus subscription.Status) *BillingService {
	if pausedStatus == "" {
		pausedStatus = subscription.StatusPaused
	}
	return &BillingService{db: db, stripe: provider, pausedStatus: pausedStatus}
}

// CreateOrRetrieveCustomer returns the Stripe customer id for a local
// user, creating the Stripe customer and the mapping row on first use.
// An existing mapping short-circuits without any Stripe call. Safe
// under concurrent first-time resolution: the primary key on
// customers.id makes the losing insert re-read the winner instead of
// erroring.
func (s *BillingService) CreateOrRetrieveCustomer(ctx context.Context, userID, email string) (string, error) {
	customerID, found, err := s.lookupStripeCustomer(ctx, userID)
	if err != nil {
		return "", err
	}
	if found {
		return customerID, nil
	}

	log.Printf("[billing] No customer mapping for user %s, creating one", userID)

	cust, err := s.stripe.CreateCustomer(ctx, email, userID)
	if err != nil {
		return "", fmt.Errorf("failed to create stripe customer for user %s: %w", userID, err)
	}

	tag, err := s.db.Exec(ctx,
		`INSERT INTO customers (id, stripe_customer_id) VALUES ($1, $2) ON CONFLICT (id) DO NOTHING`,
		userID, cust.ID,
	)
	if err != nil {
		return "", fmt.Errorf("failed to persist customer mapping for user %s: %w", userID, err)
	}

	if tag.RowsAffected() == 0 {
		// A concurrent resolver won the insert; use its mapping. The
		// customer created above becomes an orphan on the Stripe side,
		// which is harmless.
		existing, found, err := s.lookupStripeCustomer(ctx, userID)
		if err != nil {
			return "", err
		}
		if !found {
			return "", fmt.Errorf("customer mapping for user %s vanished after conflicting insert", userID)
		}
		log.Printf("[billing] Lost customer insert race for user %s, using %s", userID, existing)
		return existing, nil
	}

	log.Printf("[billing] New customer created for user %s: %s", userID, cust.ID)
	return cust.ID, nil
}

// lookupStripeCustomer is result-style: absence is not an error.
func (s *BillingService) lookupStripeCustomer(ctx context.Context, userID string) (string, bool, error) {
	var customerID string
	err := s.db.QueryRow(ctx,
		`SELECT stripe_customer_id FROM customers WHERE id = $1`, userID,
	).Scan(&customerID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("failed to look up customer for user %s: %w", userID, err)
	}
	return customerID, true, nil
}

func (s *BillingService) localUserForStripeCustomer(ctx context.Context, customerID string) (string, bool, error) {
	var userID string
	err := s.db.QueryRow(ctx,
		`SELECT id FROM customers WHERE stripe_customer_id = $1`, customerID,
	).Scan(&userID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("failed to look up user for customer %s: %w", customerID, err)
	}
	return userID, true, nil
}

// SyncSubscription retrieves the subscription from Stripe and upserts
// the local mirror row. On creation events it also propagates billing
// details from the default payment method back onto the customer and
// the local user record.
func (s *BillingService) SyncSubscription(ctx context.Context, subscriptionID, customerID string, isCreation bool) error {
	userID, found, err := s.localUserForStripeCustomer(ctx, customerID)
	if err != nil {
		return err
	}
	if !found {
		return fmt.Errorf("subscription %s: %w: %s", subscriptionID, billing.ErrUnknownCustomer, customerID)
	}

	sub, err := s.stripe.GetSubscription(ctx, subscriptionID)
	if err != nil {
		return fmt.Errorf("failed to retrieve subscription %s: %w", subscriptionID, err)
	}

	row, err := s.subscriptionRow(sub, userID)
	if err != nil {
		return fmt.Errorf("subscription %s: %w", subscriptionID, err)
	}

	query := `
	INSERT INTO subscriptions (id, user_id, status, price_id, cancel_at_period_end, cancel_at, canceled_at,
		current_period_start, current_period_end, created, ended_at, trial_start, trial_end)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	ON CONFLICT (id) DO UPDATE SET
		user_id = EXCLUDED.user_id,
		status = EXCLUDED.status,
		price_id = EXCLUDED.price_id,
		cancel_at_period_end = EXCLUDED.cancel_at_period_end,
		cancel_at = EXCLUDED.cancel_at,
		canceled_at = EXCLUDED.canceled_at,
		current_period_start = EXCLUDED.current_period_start,
		current_period_end = EXCLUDED.current_period_end,
		created = EXCLUDED.created,
		ended_at = EXCLUDED.ended_at,
		trial_start = EXCLUDED.trial_start,
		trial_end = EXCLUDED.trial_end
	`

	_, err = s.db.Exec(ctx, query,
		row.ID,
		row.UserID,
		string(row.Status),
		row.PriceID,
		row.CancelAtPeriodEnd,
		row.CancelAt,
		row.CanceledAt,
		row.CurrentPeriodStart,
		row.CurrentPeriodEnd,
		row.Created,
		row.EndedAt,
		row.TrialStart,
		row.TrialEnd,
	)
	if err != nil {
		return fmt.Errorf("upsert subscription %s: %w", row.ID, err)
	}

	log.Printf("[billing] Subscription inserted/updated: %s for user %s (status %s)", row.ID, userID, row.Status)

	if isCreation {
		if err := s.copyBillingDetails(ctx, userID, sub.DefaultPaymentMethod); err != nil {
			return fmt.Errorf("subscription %s: %w", row.ID, err)
		}
	}

	return nil
}

// subscriptionRow maps a Stripe subscription onto the local schema.
// Optional fields become nil, never invented defaults.
func (s *BillingService) subscriptionRow(sub *stripe.Subscription, userID string) (*subscription.Subscription, error) {
	status, err := subscription.StatusFromStripe(sub.Status)
	if err != nil {
		return nil, err
	}
	if status == subscription.StatusPaused {
		status = s.pausedStatus
	}

	row := &subscription.Subscription{
		ID:                 sub.ID,
		UserID:             userID,
		Status:             status,
		CancelAtPeriodEnd:  sub.CancelAtPeriodEnd,
		CancelAt:           epochToTime(sub.CancelAt),
		CanceledAt:         epochToTime(sub.CanceledAt),
		CurrentPeriodStart: epochToTime(sub.CurrentPeriodStart),
		CurrentPeriodEnd:   epochToTime(sub.CurrentPeriodEnd),
		Created:            epochToTime(sub.Created),
		EndedAt:            epochToTime(sub.EndedAt),
		TrialStart:         epochToTime(sub.TrialStart),
		TrialEnd:           epochToTime(sub.TrialEnd),
	}

	if sub.Items != nil && len(sub.Items.Data) > 0 && sub.Items.Data[0].Price != nil {
		priceID := sub.Items.Data[0].Price.ID
		row.PriceID = &priceID
	}

	return row, nil
}

// copyBillingDetails propagates name/phone/address and the
// type-specific payment method details: back to the Stripe customer so
// both sides agree, and into the local user's billing profile. A
// missing payment method is a logged no-op, not an error.
func (s *BillingService) copyBillingDetails(ctx context.Context, userID string, pm *stripe.PaymentMethod) error {
	if pm == nil {
		log.Printf("[billing] No default payment method for user %s; skipping billing update", userID)
		return nil
	}

	var name, phone string
	var address *stripe.Address
	if pm.BillingDetails != nil {
		name = pm.BillingDetails.Name
		phone = pm.BillingDetails.Phone
		address = pm.BillingDetails.Address
	}

	details := paymentMethodDetails(pm)
	if name == "" && phone == "" && address == nil && details == nil {
		return nil
	}

	if pm.Customer != nil {
		params := &stripe.CustomerParams{}
		if name != "" {
			params.Name = stripe.String(name)
		}
		if phone != "" {
			params.Phone = stripe.String(phone)
		}
		if address != nil {
			params.Address = addressParams(address)
		}
		if _, err := s.stripe.UpdateCustomer(ctx, pm.Customer.ID, params); err != nil {
			return fmt.Errorf("failed to push billing details to customer %s: %w", pm.Customer.ID, err)
		}
	}

	// The JSON round-trip is the guard against persisting SDK
	// internals: anything that does not serialize cleanly fails here
	// instead of landing in the store.
	addressJSON, err := marshalAddress(address)
	if err != nil {
		return fmt.Errorf("failed to serialize billing address for user %s: %w", userID, err)
	}
	detailsJSON, err := marshalDetails(details)
	if err != nil {
		return fmt.Errorf("failed to serialize payment method details for user %s: %w", userID, err)
	}

	// COALESCE keeps the existing column when this event carried
	// nothing for it, matching upsert semantics field by field.
	_, err = s.db.Exec(ctx, `
	UPDATE users
	SET billing_address = COALESCE($2::jsonb, billing_address),
	    payment_method = COALESCE($3::jsonb, payment_method),
	    updated_at = now()
	WHERE id = $1
	`, userID, addressJSON, detailsJSON)
	if err != nil {
		return fmt.Errorf("failed to update billing profile for user %s: %w", userID, err)
	}

	log.Printf("[billing] Billing details copied for user %s (method %s)", userID, pm.Type)
	return nil
}

// paymentMethodDetails picks the blob for the method's own type, the
// way the provider nests card under "card", sepa_debit under
// "sepa_debit" and so on.
func paymentMethodDetails(pm *stripe.PaymentMethod) interface{} {
	switch pm.Type {
	case stripe.PaymentMethodTypeCard:
		if pm.Card != nil {
			return pm.Card
		}
	case stripe.PaymentMethodTypeSEPADebit:
		if pm.SEPADebit != nil {
			return pm.SEPADebit
		}
	case stripe.PaymentMethodTypeUSBankAccount:
		if pm.USBankAccount != nil {
			return pm.USBankAccount
		}
	case stripe.PaymentMethodTypeLink:
		if pm.Link != nil {
			return pm.Link
		}
	default:
		log.Printf("[billing] No detail extraction for payment method type %s", pm.Type)
	}
	return nil
}

// addressParams carries over only the components the provider set;
// sending an empty string would unset the field on the customer.
func addressParams(address *stripe.Address) *stripe.AddressParams {
	params := &stripe.AddressParams{}
	if address.Line1 != "" {
		params.Line1 = stripe.String(address.Line1)
	}
	if address.Line2 != "" {
		params.Line2 = stripe.String(address.Line2)
	}
	if address.City != "" {
		params.City = stripe.String(address.City)
	}
	if address.State != "" {
		params.State = stripe.String(address.State)
	}
	if address.PostalCode != "" {
		params.PostalCode = stripe.String(address.PostalCode)
	}
	if address.Country != "" {
		params.Country = stripe.String(address.Country)
	}
	return params
}

func marshalAddress(address *stripe.Address) (*string, error) {
	if address == nil {
		return nil, nil
	}
	addr := billing.Address{}
	if address.Line1 != "" {
		addr.Line1 = &address.Line1
	}
	if address.Line2 != "" {
		addr.Line2 = &address.Line2
	}
	if address.City != "" {
		addr.City = &address.City
	}
	if address.State != "" {
		addr.State = &address.State
	}
	if address.PostalCode != "" {
		addr.PostalCode = &address.PostalCode
	}
	if address.Country != "" {
		addr.Country = &address.Country
	}
	if addr.Empty() {
		return nil, nil
	}
	b, err := json.Marshal(addr)
	if err != nil {
		return nil, err
	}
	out := string(b)
	return &out, nil
}

func marshalDetails(details interface{}) (*string, error) {
	if details == nil {
		return nil, nil
	}
	b, err := json.Marshal(details)
	if err != nil {
		return nil, err
	}
	out := string(b)
	return &out, nil
}

// CurrentSubscription returns the subscription row that currently
// entitles the user, or nil when there is none. Policy: among rows in
// trialing or active status, the most recently created wins; terminal
// and delinquent rows never satisfy entitlement.
func (s *BillingService) CurrentSubscription(ctx context.Context, userID string) (*subscription.Subscription, error) {
	query := `
	SELECT id, user_id, status, price_id, cancel_at_period_end, cancel_at, canceled_at,
		current_period_start, current_period_end, created, ended_at, trial_start, trial_end
	FROM subscriptions
	WHERE user_id = $1 AND status IN ('trialing', 'active')
	ORDER BY created DESC NULLS LAST, id
	LIMIT 1
	`

	sub := &subscription.Subscription{}
	var status string
	err := s.db.QueryRow(ctx, query, userID).Scan(
		&sub.ID,
		&sub.UserID,
		&status,
		&sub.PriceID,
		&sub.CancelAtPeriodEnd,
		&sub.CancelAt,
		&sub.CanceledAt,
		&sub.CurrentPeriodStart,
		&sub.CurrentPeriodEnd,
		&sub.Created,
		&sub.EndedAt,
		&sub.TrialStart,
		&sub.TrialEnd,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get current subscription for user %s: %w", userID, err)
	}

	sub.Status = subscription.Status(status)
	return sub, nil
}

// CreateCheckoutSession resolves the user's Stripe customer (creating
// one on first use) and starts a subscription checkout.
func (s *BillingService) CreateCheckoutSession(ctx context.Context, userID, email, priceID, successURL, cancelURL string) (*subscription.SubscribeResponse, error) {
	customerID, err := s.CreateOrRetrieveCustomer(ctx, userID, email)
	if err != nil {
		return nil, err
	}

	sess, err := s.stripe.CreateCheckoutSession(ctx, customerID, priceID, successURL, cancelURL)
	if err != nil {
		return nil, fmt.Errorf("failed to create checkout session for user %s: %w", userID, err)
	}

	return &subscription.SubscribeResponse{
		SessionID:   sess.ID,
		CheckoutURL: sess.URL,
	}, nil
}

// epochToTime converts Stripe epoch seconds to a UTC instant. Zero and
// missing are both absent: subscription timestamps never legitimately
// sit at epoch zero.
func epochToTime(secs int64) *time.Time {
	if secs == 0 {
		return nil
	}
	t := time.Unix(secs, 0).UTC()
	return &t
}
