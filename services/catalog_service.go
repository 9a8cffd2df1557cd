package services

import (
	"context"
	"fmt"
	"log"

	"soundDropAPI/internal/types/catalog"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stripe/stripe-go/v76"
)

// CatalogService mirrors Stripe products and prices. Every write is an
// insert-or-replace keyed on the Stripe id, so redelivered events are
// harmless and concurrent upserts for the same id are last-write-wins.
type CatalogService struct {
	db *pgxpool.Pool
}

func NewCatalogService(db *pgxpool.Pool) *CatalogService {
	return &CatalogService{db: db}
}

func (s *CatalogService) UpsertProduct(ctx context.Context, product *stripe.Product) error {
	row := catalog.Product{
		ID:       product.ID,
		Active:   product.Active,
		Name:     product.Name,
		Metadata: product.Metadata,
	}
	if product.Description != "" {
		row.Description = &product.Description
	}
	if len(product.Images) > 0 {
		row.Image = &product.Images[0]
	}
	if row.Metadata == nil {
		row.Metadata = map[string]string{}
	}

	query := `
	INSERT INTO products (id, active, name, description, image, metadata)
	VALUES ($1, $2, $3, $4, $5, $6)
	ON CONFLICT (id) DO UPDATE SET
		active = EXCLUDED.active,
		name = EXCLUDED.name,
		description = EXCLUDED.description,
		image = EXCLUDED.image,
		metadata = EXCLUDED.metadata
	`

	_, err := s.db.Exec(ctx, query, row.ID, row.Active, row.Name, row.Description, row.Image, row.Metadata)
	if err != nil {
		return fmt.Errorf("upsert product %s: %w", row.ID, err)
	}

	log.Printf("[catalog] Product inserted/updated: %s - %s", row.ID, row.Name)
	return nil
}

// UpsertPrice stores a Stripe price. unitAmount comes from the raw
// payload because stripe-go collapses a JSON null into 0 and tiered
// prices legitimately omit the amount. A price whose product reference
// did not resolve to an id is stored with an empty product_id rather
// than failing the event.
func (s *CatalogService) UpsertPrice(ctx context.Context, price *stripe.Price, unitAmount *int64) error {
	row := catalog.Price{
		ID:         price.ID,
		Active:     price.Active,
		Currency:   string(price.Currency),
		Type:       string(price.Type),
		UnitAmount: unitAmount,
		Metadata:   price.Metadata,
	}
	if price.Product != nil {
		row.ProductID = price.Product.ID
	}
	if price.Recurring != nil {
		interval := string(price.Recurring.Interval)
		row.Interval = &interval
		row.IntervalCount = &price.Recurring.IntervalCount
		// An omitted trial decodes as 0; a zero-day trial is not a
		// thing, so 0 stays null like the epoch timestamps.
		if price.Recurring.TrialPeriodDays != 0 {
			row.TrialPeriodDays = &price.Recurring.TrialPeriodDays
		}
	}
	if row.Metadata == nil {
		row.Metadata = map[string]string{}
	}

	query := `
	INSERT INTO prices (id, product_id, active, currency, type, unit_amount, "interval", interval_count, trial_period_days, metadata)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	ON CONFLICT (id) DO UPDATE SET
		product_id = EXCLUDED.product_id,
		active = EXCLUDED.active,
		currency = EXCLUDED.currency,
		type = EXCLUDED.type,
		unit_amount = EXCLUDED.unit_amount,
		"interval" = EXCLUDED."interval",
		interval_count = EXCLUDED.interval_count,
		trial_period_days = EXCLUDED.trial_period_days,
		metadata = EXCLUDED.metadata
	`

	_, err := s.db.Exec(ctx, query,
		row.ID,
		row.ProductID,
		row.Active,
		row.Currency,
		row.Type,
		row.UnitAmount,
		row.Interval,
		row.IntervalCount,
		row.TrialPeriodDays,
		row.Metadata,
	)
	if err != nil {
		return fmt.Errorf("upsert price %s: %w", row.ID, err)
	}

	log.Printf("[catalog] Price inserted/updated: %s - %s", row.ID, row.ProductID)
	return nil
}

// ListActivePlans returns active products with their active prices for
// the subscribe modal.
func (s *CatalogService) ListActivePlans(ctx context.Context) ([]catalog.Plan, error) {
	productQuery := `
	SELECT id, active, name, description, image, metadata
	FROM products
	WHERE active = true
	ORDER BY name
	`

	rows, err := s.db.Query(ctx, productQuery)
	if err != nil {
		return nil, fmt.Errorf("failed to list products: %w", err)
	}
	defer rows.Close()

	var plans []catalog.Plan
	for rows.Next() {
		var p catalog.Product
		if err := rows.Scan(&p.ID, &p.Active, &p.Name, &p.Description, &p.Image, &p.Metadata); err != nil {
			return nil, fmt.Errorf("failed to scan product: %w", err)
		}
		plans = append(plans, catalog.Plan{Product: p, Prices: []catalog.Price{}})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list products: %w", err)
	}

	for i := range plans {
		prices, err := s.listActivePrices(ctx, plans[i].Product.ID)
		if err != nil {
			return nil, err
		}
		plans[i].Prices = prices
	}

	return plans, nil
}

func (s *CatalogService) listActivePrices(ctx context.Context, productID string) ([]catalog.Price, error) {
	query := `
	SELECT id, product_id, active, currency, type, unit_amount, "interval", interval_count, trial_period_days, metadata
	FROM prices
	WHERE product_id = $1 AND active = true
	ORDER BY unit_amount NULLS LAST
	`

	rows, err := s.db.Query(ctx, query, productID)
	if err != nil {
		return nil, fmt.Errorf("failed to list prices for product %s: %w", productID, err)
	}
	defer rows.Close()

	prices := []catalog.Price{}
	for rows.Next() {
		var p catalog.Price
		err := rows.Scan(
			&p.ID,
			&p.ProductID,
			&p.Active,
			&p.Currency,
			&p.Type,
			&p.UnitAmount,
			&p.Interval,
			&p.IntervalCount,
			&p.TrialPeriodDays,
			&p.Metadata,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan price: %w", err)
		}
		prices = append(prices, p)
	}

	return prices, rows.Err()
}
