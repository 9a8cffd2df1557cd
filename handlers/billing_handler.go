package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"time"

	"soundDropAPI/internal/types/catalog"
	"soundDropAPI/internal/types/subscription"
	"soundDropAPI/internal/types/user"
	"soundDropAPI/middleware"
	"soundDropAPI/services"
)

// SubscriptionProvider is the slice of the billing service the HTTP
// layer needs.
type SubscriptionProvider interface {
	CurrentSubscription(ctx context.Context, userID string) (*subscription.Subscription, error)
	CreateCheckoutSession(ctx context.Context, userID, email, priceID, successURL, cancelURL string) (*subscription.SubscribeResponse, error)
}

// PlanLister serves the public pricing page.
type PlanLister interface {
	ListActivePlans(ctx context.Context) ([]catalog.Plan, error)
}

// UserReader resolves the authenticated Clerk identity to a local user.
type UserReader interface {
	GetUserByClerkID(ctx context.Context, clerkID string) (*user.User, error)
}

type BillingHandler struct {
	billing SubscriptionProvider
	catalog PlanLister
	users   UserReader
	siteURL string
}

func NewBillingHandler(billingSvc SubscriptionProvider, catalogSvc PlanLister, userSvc UserReader, siteURL string) *BillingHandler {
	return &BillingHandler{
		billing: billingSvc,
		catalog: catalogSvc,
		users:   userSvc,
		siteURL: siteURL,
	}
}

// GetSubscription returns the subscription that currently entitles the
// authenticated user, or JSON null when there is none. Having no
// subscription is a normal state, not an error.
func (h *BillingHandler) GetSubscription(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	clerkID, ok := middleware.GetClerkID(ctx)
	if !ok {
		respondWithError(w, http.StatusUnauthorized, "User not authenticated")
		return
	}

	u, err := h.users.GetUserByClerkID(ctx, clerkID)
	if err != nil {
		respondUserLookupError(w, err)
		return
	}

	sub, err := h.billing.CurrentSubscription(ctx, u.ID)
	if err != nil {
		log.Printf("GetSubscription Handler: failed for user %s: %v", u.ID, err)
		respondWithError(w, http.StatusInternalServerError, "Error fetching subscription")
		return
	}

	respondWithJSON(w, http.StatusOK, sub)
}

// CreateCheckoutSession starts a hosted checkout for the requested
// price and returns the session id and redirect URL.
func (h *BillingHandler) CreateCheckoutSession(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 30*time.Second)
	defer cancel()

	clerkID, ok := middleware.GetClerkID(ctx)
	if !ok {
		respondWithError(w, http.StatusUnauthorized, "User not authenticated")
		return
	}

	var req subscription.SubscribeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.PriceID == "" {
		respondWithError(w, http.StatusBadRequest, "priceId is required")
		return
	}

	u, err := h.users.GetUserByClerkID(ctx, clerkID)
	if err != nil {
		respondUserLookupError(w, err)
		return
	}

	successURL := h.siteURL + "/account"
	cancelURL := h.siteURL + "/"

	resp, err := h.billing.CreateCheckoutSession(ctx, u.ID, u.Email, req.PriceID, successURL, cancelURL)
	if err != nil {
		log.Printf("CreateCheckoutSession Handler: failed for user %s: %v", u.ID, err)
		respondWithError(w, http.StatusInternalServerError, "Error creating checkout session")
		return
	}

	log.Printf("CreateCheckoutSession Handler: session %s created for user %s", resp.SessionID, u.ID)
	respondWithJSON(w, http.StatusOK, resp)
}

// ListPlans returns active products with their active prices. Public.
func (h *BillingHandler) ListPlans(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	plans, err := h.catalog.ListActivePlans(ctx)
	if err != nil {
		log.Printf("ListPlans Handler: %v", err)
		respondWithError(w, http.StatusInternalServerError, "Error fetching plans")
		return
	}

	respondWithJSON(w, http.StatusOK, plans)
}

// respondUserLookupError keeps a missing row and a failing store
// apart: only the former is the caller's 404.
func respondUserLookupError(w http.ResponseWriter, err error) {
	if errors.Is(err, services.ErrUserNotFound) {
		respondWithError(w, http.StatusNotFound, "User not found")
		return
	}
	log.Printf("User lookup failed: %v", err)
	respondWithError(w, http.StatusInternalServerError, "Error fetching user")
}

func respondWithJSON(w http.ResponseWriter, code int, payload interface{}) {
	response, err := json.Marshal(payload)
	if err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte(`{"error": "Internal server error"}`))
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	w.Write(response)
}

func respondWithError(w http.ResponseWriter, code int, message string) {
	respondWithJSON(w, code, map[string]string{"error": message})
}
