package catalog

// Product mirrors a Stripe product. Rows are only ever created or
// refreshed by webhook upserts; deactivation is active=false, never a
// delete.
type Product struct {
	ID          string            `json:"id" db:"id"`
	Active      bool              `json:"active" db:"active"`
	Name        string            `json:"name" db:"name"`
	Description *string           `json:"description" db:"description"`
	Image       *string           `json:"image" db:"image"`
	Metadata    map[string]string `json:"metadata" db:"metadata"`
}

// Price mirrors a Stripe price. ProductID is empty when the webhook
// payload carried an unresolved product reference; the row is stored
// anyway rather than failing the event.
type Price struct {
	ID              string            `json:"id" db:"id"`
	ProductID       string            `json:"productId" db:"product_id"`
	Active          bool              `json:"active" db:"active"`
	Currency        string            `json:"currency" db:"currency"`
	Type            string            `json:"type" db:"type"`
	UnitAmount      *int64            `json:"unitAmount" db:"unit_amount"`
	Interval        *string           `json:"interval" db:"interval"`
	IntervalCount   *int64            `json:"intervalCount" db:"interval_count"`
	TrialPeriodDays *int64            `json:"trialPeriodDays" db:"trial_period_days"`
	Metadata        map[string]string `json:"metadata" db:"metadata"`
}

// Plan is a product joined with its active prices, as served to the
// subscribe modal.
type Plan struct {
	Product Product `json:"product"`
	Prices  []Price `json:"prices"`
}
