package services

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v76"

	"soundDropAPI/tests/helpers"
)

func TestUpsertProductIdempotent(t *testing.T) {
	pool := helpers.SetupTestDB(t)
	defer helpers.CleanupTestDB(t, pool)

	svc := NewCatalogService(pool)
	ctx := context.Background()

	product := &stripe.Product{
		ID:          "prod_test_idem",
		Active:      true,
		Name:        "Premium",
		Description: "Ad-free listening",
	}

	require.NoError(t, svc.UpsertProduct(ctx, product))
	require.NoError(t, svc.UpsertProduct(ctx, product))

	var count int
	require.NoError(t, pool.QueryRow(ctx,
		`SELECT count(*) FROM products WHERE id = 'prod_test_idem'`).Scan(&count))
	assert.Equal(t, 1, count)

	// A later event replaces the row wholesale.
	product.Name = "Premium Plus"
	product.Active = false
	product.Description = ""
	require.NoError(t, svc.UpsertProduct(ctx, product))

	var name string
	var active bool
	var description *string
	require.NoError(t, pool.QueryRow(ctx,
		`SELECT name, active, description FROM products WHERE id = 'prod_test_idem'`).Scan(&name, &active, &description))
	assert.Equal(t, "Premium Plus", name)
	assert.False(t, active)
	assert.Nil(t, description, "omitted description becomes null, not empty string")
}

func TestUpsertPriceUnresolvedProduct(t *testing.T) {
	pool := helpers.SetupTestDB(t)
	defer helpers.CleanupTestDB(t, pool)

	svc := NewCatalogService(pool)
	ctx := context.Background()

	// Price arrives before its product; the reference is stored empty
	// instead of failing the event.
	amount := int64(999)
	require.NoError(t, svc.UpsertPrice(ctx, &stripe.Price{
		ID:       "price_test_orphan",
		Active:   true,
		Currency: stripe.CurrencyUSD,
		Type:     stripe.PriceTypeRecurring,
	}, &amount))

	var productID string
	var unitAmount *int64
	require.NoError(t, pool.QueryRow(ctx,
		`SELECT product_id, unit_amount FROM prices WHERE id = 'price_test_orphan'`).Scan(&productID, &unitAmount))
	assert.Equal(t, "", productID)
	require.NotNil(t, unitAmount)
	assert.Equal(t, int64(999), *unitAmount)
}

func TestUpsertPriceNullUnitAmount(t *testing.T) {
	pool := helpers.SetupTestDB(t)
	defer helpers.CleanupTestDB(t, pool)

	svc := NewCatalogService(pool)
	ctx := context.Background()

	require.NoError(t, svc.UpsertPrice(ctx, &stripe.Price{
		ID:       "price_test_metered",
		Active:   true,
		Currency: stripe.CurrencyUSD,
		Type:     stripe.PriceTypeRecurring,
		Product:  &stripe.Product{ID: "prod_test_metered"},
	}, nil))

	var unitAmount *int64
	require.NoError(t, pool.QueryRow(ctx,
		`SELECT unit_amount FROM prices WHERE id = 'price_test_metered'`).Scan(&unitAmount))
	assert.Nil(t, unitAmount)
}

func TestUpsertPriceLastWriteWins(t *testing.T) {
	pool := helpers.SetupTestDB(t)
	defer helpers.CleanupTestDB(t, pool)

	svc := NewCatalogService(pool)
	ctx := context.Background()

	price := &stripe.Price{
		ID:       "price_test_lww",
		Active:   true,
		Currency: stripe.CurrencyUSD,
		Type:     stripe.PriceTypeRecurring,
		Product:  &stripe.Product{ID: "prod_test_lww"},
	}

	first := int64(499)
	require.NoError(t, svc.UpsertPrice(ctx, price, &first))

	// A second update event for the same price follows immediately
	// with a different amount; the later write wins wholesale.
	second := int64(999)
	price.Active = false
	require.NoError(t, svc.UpsertPrice(ctx, price, &second))

	var count int
	require.NoError(t, pool.QueryRow(ctx,
		`SELECT count(*) FROM prices WHERE id = 'price_test_lww'`).Scan(&count))
	assert.Equal(t, 1, count)

	var unitAmount *int64
	var active bool
	require.NoError(t, pool.QueryRow(ctx,
		`SELECT unit_amount, active FROM prices WHERE id = 'price_test_lww'`).Scan(&unitAmount, &active))
	require.NotNil(t, unitAmount)
	assert.Equal(t, int64(999), *unitAmount)
	assert.False(t, active)
}

func TestUpsertPriceOmittedTrialIsNull(t *testing.T) {
	pool := helpers.SetupTestDB(t)
	defer helpers.CleanupTestDB(t, pool)

	svc := NewCatalogService(pool)
	ctx := context.Background()

	amount := int64(499)
	require.NoError(t, svc.UpsertPrice(ctx, &stripe.Price{
		ID:       "price_test_notrial",
		Active:   true,
		Currency: stripe.CurrencyUSD,
		Type:     stripe.PriceTypeRecurring,
		Product:  &stripe.Product{ID: "prod_test_notrial"},
		Recurring: &stripe.PriceRecurring{
			Interval:      stripe.PriceRecurringIntervalMonth,
			IntervalCount: 1,
		},
	}, &amount))

	var trialDays *int64
	require.NoError(t, pool.QueryRow(ctx,
		`SELECT trial_period_days FROM prices WHERE id = 'price_test_notrial'`).Scan(&trialDays))
	assert.Nil(t, trialDays, "an omitted trial is null, not a zero-day trial")

	require.NoError(t, svc.UpsertPrice(ctx, &stripe.Price{
		ID:       "price_test_trial",
		Active:   true,
		Currency: stripe.CurrencyUSD,
		Type:     stripe.PriceTypeRecurring,
		Product:  &stripe.Product{ID: "prod_test_trial"},
		Recurring: &stripe.PriceRecurring{
			Interval:        stripe.PriceRecurringIntervalMonth,
			IntervalCount:   1,
			TrialPeriodDays: 7,
		},
	}, &amount))

	require.NoError(t, pool.QueryRow(ctx,
		`SELECT trial_period_days FROM prices WHERE id = 'price_test_trial'`).Scan(&trialDays))
	require.NotNil(t, trialDays)
	assert.Equal(t, int64(7), *trialDays)
}

func TestListActivePlans(t *testing.T) {
	pool := helpers.SetupTestDB(t)
	defer helpers.CleanupTestDB(t, pool)

	svc := NewCatalogService(pool)
	ctx := context.Background()

	require.NoError(t, svc.UpsertProduct(ctx, &stripe.Product{
		ID:     "prod_test_plan",
		Active: true,
		Name:   "Test Premium",
	}))
	require.NoError(t, svc.UpsertProduct(ctx, &stripe.Product{
		ID:     "prod_test_retired",
		Active: false,
		Name:   "Test Retired",
	}))

	monthly := int64(499)
	yearly := int64(4990)
	require.NoError(t, svc.UpsertPrice(ctx, &stripe.Price{
		ID:       "price_test_monthly",
		Active:   true,
		Currency: stripe.CurrencyUSD,
		Type:     stripe.PriceTypeRecurring,
		Product:  &stripe.Product{ID: "prod_test_plan"},
		Recurring: &stripe.PriceRecurring{
			Interval:      stripe.PriceRecurringIntervalMonth,
			IntervalCount: 1,
		},
	}, &monthly))
	require.NoError(t, svc.UpsertPrice(ctx, &stripe.Price{
		ID:       "price_test_yearly",
		Active:   true,
		Currency: stripe.CurrencyUSD,
		Type:     stripe.PriceTypeRecurring,
		Product:  &stripe.Product{ID: "prod_test_plan"},
		Recurring: &stripe.PriceRecurring{
			Interval:      stripe.PriceRecurringIntervalYear,
			IntervalCount: 1,
		},
	}, &yearly))
	require.NoError(t, svc.UpsertPrice(ctx, &stripe.Price{
		ID:       "price_test_inactive",
		Active:   false,
		Currency: stripe.CurrencyUSD,
		Type:     stripe.PriceTypeRecurring,
		Product:  &stripe.Product{ID: "prod_test_plan"},
	}, &monthly))

	plans, err := svc.ListActivePlans(ctx)
	require.NoError(t, err)

	var found bool
	for _, plan := range plans {
		if plan.Product.ID != "prod_test_plan" {
			assert.NotEqual(t, "prod_test_retired", plan.Product.ID, "inactive products are excluded")
			continue
		}
		found = true
		require.Len(t, plan.Prices, 2, "inactive prices are excluded")
		assert.Equal(t, "price_test_monthly", plan.Prices[0].ID, "prices sorted cheapest first")
		assert.Equal(t, "price_test_yearly", plan.Prices[1].ID)
	}
	assert.True(t, found)
}
