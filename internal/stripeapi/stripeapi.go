package stripeapi

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/checkout/session"
	"github.com/stripe/stripe-go/v76/customer"
	stripesub "github.com/stripe/stripe-go/v76/subscription"
)

// callTimeout bounds every outbound Stripe call. The hosting
// environment enforces nothing on outbound requests, so this is the
// only ceiling.
const callTimeout = 15 * time.Second

// Provider is the surface the services need from Stripe. Narrow on
// purpose so tests can swap in a fake.
type Provider interface {
	// CreateCustomer creates a Stripe customer tagged with the local
	// user id in metadata for auditability.
	CreateCustomer(ctx context.Context, email, localUserID string) (*stripe.Customer, error)

	// UpdateCustomer pushes billing details back to the Stripe
	// customer record.
	UpdateCustomer(ctx context.Context, customerID string, params *stripe.CustomerParams) (*stripe.Customer, error)

	// GetSubscription retrieves a subscription with
	// default_payment_method expanded.
	GetSubscription(ctx context.Context, subscriptionID string) (*stripe.Subscription, error)

	// CreateCheckoutSession starts a subscription checkout for an
	// existing customer.
	CreateCheckoutSession(ctx context.Context, customerID, priceID, successURL, cancelURL string) (*stripe.CheckoutSession, error)
}

// Client implements Provider against the live Stripe API.
type Client struct{}

// NewClient sets the global API key and returns a live client. The key
// is read once at process start, never hot-reloaded.
func NewClient(secretKey string) *Client {
	stripe.Key = secretKey
	return &Client{}
}

func (c *Client) CreateCustomer(ctx context.Context, email, localUserID string) (*stripe.Customer, error) {
	params := &stripe.CustomerParams{}
	if email != "" {
		params.Email = stripe.String(email)
	}
	params.AddMetadata("localUserID", localUserID)

	var cust *stripe.Customer
	err := withRetry(ctx, "customer.create", func(callCtx context.Context) error {
		params.Context = callCtx
		var err error
		cust, err = customer.New(params)
		return err
	})
	return cust, err
}

func (c *Client) UpdateCustomer(ctx context.Context, customerID string, params *stripe.CustomerParams) (*stripe.Customer, error) {
	var cust *stripe.Customer
	err := withRetry(ctx, "customer.update", func(callCtx context.Context) error {
		params.Context = callCtx
		var err error
		cust, err = customer.Update(customerID, params)
		return err
	})
	return cust, err
}

func (c *Client) GetSubscription(ctx context.Context, subscriptionID string) (*stripe.Subscription, error) {
	params := &stripe.SubscriptionParams{}
	params.AddExpand("default_payment_method")

	var sub *stripe.Subscription
	err := withRetry(ctx, "subscription.get", func(callCtx context.Context) error {
		params.Context = callCtx
		var err error
		sub, err = stripesub.Get(subscriptionID, params)
		return err
	})
	return sub, err
}

func (c *Client) CreateCheckoutSession(ctx context.Context, customerID, priceID, successURL, cancelURL string) (*stripe.CheckoutSession, error) {
	params := &stripe.CheckoutSessionParams{
		Customer:                 stripe.String(customerID),
		Mode:                     stripe.String(string(stripe.CheckoutSessionModeSubscription)),
		BillingAddressCollection: stripe.String(string(stripe.CheckoutSessionBillingAddressCollectionRequired)),
		AllowPromotionCodes:      stripe.Bool(true),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				Price:    stripe.String(priceID),
				Quantity: stripe.Int64(1),
			},
		},
		SubscriptionData: &stripe.CheckoutSessionSubscriptionDataParams{
			TrialSettings: &stripe.CheckoutSessionSubscriptionDataTrialSettingsParams{
				EndBehavior: &stripe.CheckoutSessionSubscriptionDataTrialSettingsEndBehaviorParams{
					MissingPaymentMethod: stripe.String("cancel"),
				},
			},
		},
		SuccessURL: stripe.String(successURL),
		CancelURL:  stripe.String(cancelURL),
	}

	var sess *stripe.CheckoutSession
	err := withRetry(ctx, "checkout.session.create", func(callCtx context.Context) error {
		params.Context = callCtx
		var err error
		sess, err = session.New(params)
		return err
	})
	return sess, err
}

// withRetry runs an outbound call with a bounded timeout and a single
// retry on transient failure. Permanent failures propagate to the
// webhook router's per-event isolation boundary.
func withRetry(ctx context.Context, op string, call func(ctx context.Context) error) error {
	run := func() error {
		callCtx, cancel := context.WithTimeout(ctx, callTimeout)
		defer cancel()
		return call(callCtx)
	}

	err := run()
	if err == nil || !isTransient(err) || ctx.Err() != nil {
		return err
	}

	log.Printf("[stripe] %s transient failure, retrying once: %v", op, err)
	return run()
}

// isTransient classifies errors eligible for the single retry: Stripe
// 5xx / 429 responses and anything that never produced a Stripe error
// at all (DNS, connect, timeout).
func isTransient(err error) bool {
	var stripeErr *stripe.Error
	if errors.As(err, &stripeErr) {
		return stripeErr.HTTPStatusCode >= 500 || stripeErr.HTTPStatusCode == 429
	}
	return true
}
