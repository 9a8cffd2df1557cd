package handlers

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"soundDropAPI/internal/types/billing"
	clerktypes "soundDropAPI/internal/types/clerk"
	"soundDropAPI/internal/types/user"
	"soundDropAPI/middleware"

	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/webhook"
)

const maxWebhookBodyBytes = int64(65536)

// relevantStripeEvents is the fixed allow-list. Everything else is
// acknowledged and dropped so Stripe never retries events this system
// intentionally ignores.
var relevantStripeEvents = map[string]bool{
	"product.created":               true,
	"product.updated":               true,
	"price.created":                 true,
	"price.updated":                 true,
	"checkout.session.completed":    true,
	"customer.subscription.created": true,
	"customer.subscription.updated": true,
	"customer.subscription.deleted": true,
}

// BillingSyncer is the slice of the billing service the webhook
// pipeline needs.
type BillingSyncer interface {
	SyncSubscription(ctx context.Context, subscriptionID, customerID string, isCreation bool) error
}

// CatalogUpserter stores product and price events.
type CatalogUpserter interface {
	UpsertProduct(ctx context.Context, product *stripe.Product) error
	UpsertPrice(ctx context.Context, price *stripe.Price, unitAmount *int64) error
}

// UserProvisioner maintains local user rows from Clerk identity events.
type UserProvisioner interface {
	CreateUser(ctx context.Context, req *user.CreateUserRequest) (*user.User, error)
	UpdateProfileByClerkID(ctx context.Context, clerkID string, req *user.UpdateProfileRequest) (*user.User, error)
	DeleteUserByClerkID(ctx context.Context, clerkID string) error
}

type WebhookHandler struct {
	billing BillingSyncer
	catalog CatalogUpserter
	users   UserProvisioner

	stripeWebhookSecret string
	clerkWebhookSecret  string
}

func NewWebhookHandler(billingSvc BillingSyncer, catalogSvc CatalogUpserter, userSvc UserProvisioner, stripeWebhookSecret, clerkWebhookSecret string) *WebhookHandler {
	return &WebhookHandler{
		billing:             billingSvc,
		catalog:             catalogSvc,
		users:               userSvc,
		stripeWebhookSecret: stripeWebhookSecret,
		clerkWebhookSecret:  clerkWebhookSecret,
	}
}

// HandleStripeWebhook processes events sent by Stripe.
//
// Signature verification happens on the raw body before any JSON
// decoding and is the only path that returns non-200. Once an event is
// trusted, a handler failure is logged and counted but still
// acknowledged with 200: redelivery storms on a poison event cost more
// than one dropped event that the next related event will converge.
func (h *WebhookHandler) HandleStripeWebhook(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxWebhookBodyBytes)

	payload, err := io.ReadAll(r.Body)
	if err != nil {
		log.Printf("[webhook] Error reading request body: %v", err)
		http.Error(w, "Error reading body", http.StatusBadRequest)
		return
	}

	event, err := h.verifyStripeEvent(payload, r.Header.Get("Stripe-Signature"))
	if err != nil {
		log.Printf("[webhook] %v", err)
		http.Error(w, "Webhook signature verification failed", http.StatusBadRequest)
		return
	}

	eventType := string(event.Type)

	if !relevantStripeEvents[eventType] {
		log.Printf("[webhook] Ignoring irrelevant event type: %s", eventType)
		middleware.ObserveWebhookEvent(eventType, "ignored")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("Ignored"))
		return
	}

	if err := h.dispatchStripeEvent(r.Context(), event); err != nil {
		// Deliberate: still 200 so Stripe does not redeliver forever;
		// the failure stays visible to operators via log and metric.
		log.Printf("[webhook] Handler failed for %s (%s): %v", eventType, event.ID, err)
		if errors.Is(err, billing.ErrUnknownCustomer) {
			middleware.ObserveWebhookEvent(eventType, "unknown_customer")
		} else {
			middleware.ObserveWebhookEvent(eventType, "failed")
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("Webhook handler failed"))
		return
	}

	middleware.ObserveWebhookEvent(eventType, "processed")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("Webhook received"))
}

// verifyStripeEvent authenticates the raw payload. Stripe signs
// timestamp + body with the shared secret; ConstructEvent rejects
// tampered bodies, wrong secrets and stale timestamps.
func (h *WebhookHandler) verifyStripeEvent(payload []byte, sigHeader string) (stripe.Event, error) {
	event, err := webhook.ConstructEvent(payload, sigHeader, h.stripeWebhookSecret)
	if err != nil {
		return stripe.Event{}, fmt.Errorf("%w: %v", billing.ErrSignatureInvalid, err)
	}
	return event, nil
}

func (h *WebhookHandler) dispatchStripeEvent(ctx context.Context, event stripe.Event) error {
	eventType := string(event.Type)

	switch eventType {
	case "product.created", "product.updated":
		var product stripe.Product
		if err := json.Unmarshal(event.Data.Raw, &product); err != nil {
			return fmt.Errorf("failed to decode product payload: %w", err)
		}
		log.Printf("[webhook] Processing product event: %s", product.ID)
		return h.catalog.UpsertProduct(ctx, &product)

	case "price.created", "price.updated":
		var price stripe.Price
		if err := json.Unmarshal(event.Data.Raw, &price); err != nil {
			return fmt.Errorf("failed to decode price payload: %w", err)
		}
		// Second decode keeps null and zero apart: stripe-go collapses
		// a JSON null unit_amount into 0.
		var nullable struct {
			UnitAmount *int64 `json:"unit_amount"`
		}
		if err := json.Unmarshal(event.Data.Raw, &nullable); err != nil {
			return fmt.Errorf("failed to decode price payload: %w", err)
		}
		log.Printf("[webhook] Processing price event: %s", price.ID)
		return h.catalog.UpsertPrice(ctx, &price, nullable.UnitAmount)

	case "customer.subscription.created", "customer.subscription.updated", "customer.subscription.deleted":
		var sub stripe.Subscription
		if err := json.Unmarshal(event.Data.Raw, &sub); err != nil {
			return fmt.Errorf("failed to decode subscription payload: %w", err)
		}
		if sub.Customer == nil {
			return fmt.Errorf("subscription event %s carries no customer", event.ID)
		}
		log.Printf("[webhook] Processing subscription event: %s for subscription %s", eventType, sub.ID)
		return h.billing.SyncSubscription(ctx, sub.ID, sub.Customer.ID, eventType == "customer.subscription.created")

	case "checkout.session.completed":
		var session stripe.CheckoutSession
		if err := json.Unmarshal(event.Data.Raw, &session); err != nil {
			return fmt.Errorf("failed to decode checkout session payload: %w", err)
		}
		if session.Mode != stripe.CheckoutSessionModeSubscription || session.Subscription == nil || session.Customer == nil {
			log.Printf("[webhook] Skipping checkout session %s: not a subscription or missing customer/subscription", session.ID)
			return nil
		}
		log.Printf("[webhook] Processing checkout session: %s", session.ID)
		return h.billing.SyncSubscription(ctx, session.Subscription.ID, session.Customer.ID, true)

	default:
		// Unreachable while the allow-list and this switch agree.
		return fmt.Errorf("no handler for allowed event type %s", eventType)
	}
}

// HandleClerkWebhook keeps local user rows in sync with Clerk. New
// users must exist locally before the billing core can map them to a
// Stripe customer.
func (h *WebhookHandler) HandleClerkWebhook(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxWebhookBodyBytes)

	body, err := io.ReadAll(r.Body)
	if err != nil {
		log.Printf("[webhook] Error reading clerk webhook body: %v", err)
		http.Error(w, "Error reading body", http.StatusBadRequest)
		return
	}

	if !h.verifyClerkSignature(r.Header, body) {
		log.Println("[webhook] Invalid clerk webhook signature")
		http.Error(w, "Invalid signature", http.StatusUnauthorized)
		return
	}

	var event clerktypes.WebhookEvent
	if err := json.Unmarshal(body, &event); err != nil {
		log.Printf("[webhook] Error parsing clerk webhook: %v", err)
		http.Error(w, "Error parsing webhook", http.StatusBadRequest)
		return
	}

	ctx := r.Context()
	switch event.Type {
	case "user.created":
		err = h.handleUserCreated(ctx, event.Data)
	case "user.updated":
		err = h.handleUserUpdated(ctx, event.Data)
	case "user.deleted":
		err = h.handleUserDeleted(ctx, event.Data)
	default:
		log.Printf("[webhook] Unhandled clerk event type: %s", event.Type)
	}

	if err != nil {
		log.Printf("[webhook] Error handling %s: %v", event.Type, err)
		http.Error(w, "Error processing webhook", http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"success": true}`))
}

func (h *WebhookHandler) handleUserCreated(ctx context.Context, data json.RawMessage) error {
	var userData clerktypes.UserData
	if err := json.Unmarshal(data, &userData); err != nil {
		return fmt.Errorf("failed to unmarshal user data: %w", err)
	}

	email := ""
	if len(userData.EmailAddresses) > 0 {
		email = userData.EmailAddresses[0].EmailAddress
	}

	created, err := h.users.CreateUser(ctx, &user.CreateUserRequest{
		ClerkID:   userData.ID,
		Email:     email,
		FullName:  strings.TrimSpace(userData.FirstName + " " + userData.LastName),
		AvatarURL: userData.ImageURL,
	})
	if err != nil {
		return fmt.Errorf("failed to create user: %w", err)
	}

	log.Printf("[webhook] Created user %s (clerk %s)", created.ID, created.ClerkID)
	return nil
}

func (h *WebhookHandler) handleUserUpdated(ctx context.Context, data json.RawMessage) error {
	var userData clerktypes.UserData
	if err := json.Unmarshal(data, &userData); err != nil {
		return fmt.Errorf("failed to unmarshal user data: %w", err)
	}

	email := ""
	if len(userData.EmailAddresses) > 0 {
		email = userData.EmailAddresses[0].EmailAddress
	}

	_, err := h.users.UpdateProfileByClerkID(ctx, userData.ID, &user.UpdateProfileRequest{
		Email:     email,
		FullName:  strings.TrimSpace(userData.FirstName + " " + userData.LastName),
		AvatarURL: userData.ImageURL,
	})
	if err != nil {
		return fmt.Errorf("failed to update user: %w", err)
	}

	log.Printf("[webhook] Updated user (clerk %s)", userData.ID)
	return nil
}

func (h *WebhookHandler) handleUserDeleted(ctx context.Context, data json.RawMessage) error {
	var userData struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(data, &userData); err != nil {
		return fmt.Errorf("failed to unmarshal user data: %w", err)
	}

	if err := h.users.DeleteUserByClerkID(ctx, userData.ID); err != nil {
		return fmt.Errorf("failed to delete user: %w", err)
	}

	log.Printf("[webhook] Deleted user (clerk %s)", userData.ID)
	return nil
}

// verifyClerkSignature checks the svix scheme Clerk uses: HMAC-SHA256
// over "id.timestamp.body" with the base64 part of the whsec_ secret,
// base64-encoded, with a 5 minute timestamp tolerance.
func (h *WebhookHandler) verifyClerkSignature(header http.Header, body []byte) bool {
	if h.clerkWebhookSecret == "" {
		log.Println("[webhook] CLERK_WEBHOOK_SECRET not set, skipping signature verification")
		return true
	}

	svixID := header.Get("svix-id")
	svixTimestamp := header.Get("svix-timestamp")
	svixSignature := header.Get("svix-signature")
	if svixID == "" || svixTimestamp == "" || svixSignature == "" {
		return false
	}

	ts, err := strconv.ParseInt(svixTimestamp, 10, 64)
	if err != nil {
		return false
	}
	if skew := time.Since(time.Unix(ts, 0)); skew > 5*time.Minute || skew < -5*time.Minute {
		return false
	}

	secret, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(h.clerkWebhookSecret, "whsec_"))
	if err != nil {
		return false
	}

	mac := hmac.New(sha256.New, secret)
	fmt.Fprintf(mac, "%s.%s.%s", svixID, svixTimestamp, body)
	expected := base64.StdEncoding.EncodeToString(mac.Sum(nil))

	// The header may carry several space-separated versioned
	// signatures.
	for _, part := range strings.Fields(svixSignature) {
		sig, ok := strings.CutPrefix(part, "v1,")
		if !ok {
			continue
		}
		if hmac.Equal([]byte(sig), []byte(expected)) {
			return true
		}
	}
	return false
}
