package billing

import "errors"

// ErrSignatureInvalid marks a webhook payload that failed Stripe
// signature verification. The only webhook error that produces a
// non-200 response.
var ErrSignatureInvalid = errors.New("webhook signature invalid")

// ErrUnknownCustomer marks an event referencing a Stripe customer with
// no local mapping. The event cannot be attributed to a user and is
// dropped after logging; the delivery is still acknowledged.
var ErrUnknownCustomer = errors.New("no local user for stripe customer")

// Address is the billing address persisted on the local user record by
// the billing detail propagator.
type Address struct {
	Line1      *string `json:"line1"`
	Line2      *string `json:"line2"`
	City       *string `json:"city"`
	State      *string `json:"state"`
	PostalCode *string `json:"postal_code"`
	Country    *string `json:"country"`
}

// Empty reports whether no address component is set.
func (a Address) Empty() bool {
	return a.Line1 == nil && a.Line2 == nil && a.City == nil &&
		a.State == nil && a.PostalCode == nil && a.Country == nil
}
