package helpers

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// SetupTestDB connects to the test database, skipping the test when no
// database is configured so the suite stays runnable without one.
func SetupTestDB(t *testing.T) *pgxpool.Pool {
	dbURL := os.Getenv("TEST_DATABASE_URL")
	if dbURL == "" {
		dbURL = os.Getenv("DATABASE_URL")
	}
	if dbURL == "" {
		t.Skip("TEST_DATABASE_URL or DATABASE_URL not set, skipping database test")
	}

	ctx := context.Background()
	pool, err := pgxpool.New(ctx, dbURL)
	if err != nil {
		t.Fatalf("Failed to connect to test database: %v", err)
	}

	if err := pool.Ping(ctx); err != nil {
		t.Fatalf("Failed to ping test database: %v", err)
	}

	return pool
}

// CleanupTestDB removes rows created by the fixtures below.
func CleanupTestDB(t *testing.T, pool *pgxpool.Pool) {
	ctx := context.Background()
	for _, query := range []string{
		"DELETE FROM subscriptions WHERE id LIKE 'sub_test%'",
		"DELETE FROM prices WHERE id LIKE 'price_test%'",
		"DELETE FROM products WHERE id LIKE 'prod_test%'",
		"DELETE FROM customers WHERE stripe_customer_id LIKE 'cus_test%'",
		"DELETE FROM users WHERE email LIKE 'test%@example.com'",
	} {
		if _, err := pool.Exec(ctx, query); err != nil {
			t.Logf("Warning: failed to cleanup test data: %v", err)
		}
	}
	pool.Close()
}

// InsertTestUser creates a user row and returns its id.
func InsertTestUser(t *testing.T, pool *pgxpool.Pool, clerkID, email string) string {
	t.Helper()

	id := uuid.New().String()
	_, err := pool.Exec(context.Background(),
		`INSERT INTO users (id, clerk_id, email) VALUES ($1, $2, $3)`,
		id, clerkID, email,
	)
	if err != nil {
		t.Fatalf("Failed to insert test user: %v", err)
	}
	return id
}

// InsertTestCustomer maps a local user to a Stripe customer id.
func InsertTestCustomer(t *testing.T, pool *pgxpool.Pool, userID, stripeCustomerID string) {
	t.Helper()

	_, err := pool.Exec(context.Background(),
		`INSERT INTO customers (id, stripe_customer_id) VALUES ($1, $2)`,
		userID, stripeCustomerID,
	)
	if err != nil {
		t.Fatalf("Failed to insert test customer: %v", err)
	}
}

// SignStripePayload produces a Stripe-Signature header value for the
// payload: "t=<ts>,v1=<hex hmac-sha256 of '<ts>.<payload>'>".
func SignStripePayload(payload []byte, secret string, ts time.Time) string {
	signed := fmt.Sprintf("%d.%s", ts.Unix(), payload)
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(signed))
	return fmt.Sprintf("t=%d,v1=%s", ts.Unix(), hex.EncodeToString(mac.Sum(nil)))
}

// StripeEventPayload wraps a raw object payload into an event envelope
// the way Stripe delivers it.
func StripeEventPayload(eventType string, object string) []byte {
	return []byte(fmt.Sprintf(`{
		"id": "evt_test_%d",
		"object": "event",
		"api_version": "2023-10-16",
		"type": %q,
		"data": {"object": %s}
	}`, time.Now().UnixNano(), eventType, object))
}

// GenerateMockClerkJWT signs a throwaway token for handler tests that
// only need a parseable bearer token.
func GenerateMockClerkJWT(clerkID string) (string, error) {
	secretKey := []byte("test-secret-key-for-testing-only")

	claims := jwt.MapClaims{
		"sub": clerkID,
		"iss": "https://clerk.test",
		"iat": time.Now().Unix(),
		"exp": time.Now().Add(time.Hour * 24).Unix(),
		"azp": "test-app-id",
		"sid": "sess_test123",
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenString, err := token.SignedString(secretKey)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}

	return tokenString, nil
}
