package subscription

import (
	"fmt"
	"time"

	"github.com/stripe/stripe-go/v76"
)

// Status is the closed local subscription status enum. Stripe statuses
// map onto it through an exhaustive table; a Stripe status with no
// entry is an error, never a raw string stored as-is.
type Status string

const (
	StatusTrialing          Status = "trialing"
	StatusActive            Status = "active"
	StatusCanceled          Status = "canceled"
	StatusIncomplete        Status = "incomplete"
	StatusIncompleteExpired Status = "incomplete_expired"
	StatusPastDue           Status = "past_due"
	StatusUnpaid            Status = "unpaid"
	StatusPaused            Status = "paused"
)

var statusFromStripe = map[stripe.SubscriptionStatus]Status{
	stripe.SubscriptionStatusTrialing:          StatusTrialing,
	stripe.SubscriptionStatusActive:            StatusActive,
	stripe.SubscriptionStatusCanceled:          StatusCanceled,
	stripe.SubscriptionStatusIncomplete:        StatusIncomplete,
	stripe.SubscriptionStatusIncompleteExpired: StatusIncompleteExpired,
	stripe.SubscriptionStatusPastDue:           StatusPastDue,
	stripe.SubscriptionStatusUnpaid:            StatusUnpaid,
	stripe.SubscriptionStatusPaused:            StatusPaused,
}

var validStatuses = map[Status]bool{
	StatusTrialing:          true,
	StatusActive:            true,
	StatusCanceled:          true,
	StatusIncomplete:        true,
	StatusIncompleteExpired: true,
	StatusPastDue:           true,
	StatusUnpaid:            true,
	StatusPaused:            true,
}

// StatusFromStripe maps a Stripe subscription status onto the local
// enum. An unmapped status is an error so a new provider status
// surfaces loudly instead of silently defaulting.
func StatusFromStripe(s stripe.SubscriptionStatus) (Status, error) {
	st, ok := statusFromStripe[s]
	if !ok {
		return "", fmt.Errorf("unmapped stripe subscription status %q", s)
	}
	return st, nil
}

// ParseStatus validates a status string against the local enum. Used
// for the STRIPE_PAUSED_STATUS_MAPS_TO override.
func ParseStatus(s string) (Status, error) {
	st := Status(s)
	if !validStatuses[st] {
		return "", fmt.Errorf("unknown subscription status %q", s)
	}
	return st, nil
}

// Entitles reports whether the status grants premium access. Only
// trialing and active rows count; past_due, paused and the terminal
// statuses do not.
func (s Status) Entitles() bool {
	return s == StatusTrialing || s == StatusActive
}

// Subscription is the local mirror of a Stripe subscription. The
// primary key is the Stripe subscription id, so replaying an event
// overwrites in place instead of duplicating. Timestamps are nil when
// Stripe omitted them; epoch zero is treated as absent because the
// domain never legitimately uses it.
type Subscription struct {
	ID                 string     `json:"id" db:"id"`
	UserID             string     `json:"userId" db:"user_id"`
	Status             Status     `json:"status" db:"status"`
	PriceID            *string    `json:"priceId" db:"price_id"`
	CancelAtPeriodEnd  bool       `json:"cancelAtPeriodEnd" db:"cancel_at_period_end"`
	CancelAt           *time.Time `json:"cancelAt" db:"cancel_at"`
	CanceledAt         *time.Time `json:"canceledAt" db:"canceled_at"`
	CurrentPeriodStart *time.Time `json:"currentPeriodStart" db:"current_period_start"`
	CurrentPeriodEnd   *time.Time `json:"currentPeriodEnd" db:"current_period_end"`
	Created            *time.Time `json:"created" db:"created"`
	EndedAt            *time.Time `json:"endedAt" db:"ended_at"`
	TrialStart         *time.Time `json:"trialStart" db:"trial_start"`
	TrialEnd           *time.Time `json:"trialEnd" db:"trial_end"`
}

type SubscribeRequest struct {
	PriceID string `json:"priceId"`
}

type SubscribeResponse struct {
	SessionID   string `json:"sessionId"`
	CheckoutURL string `json:"checkoutUrl"`
}
