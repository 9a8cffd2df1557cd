package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"time"

	clerk "github.com/clerk/clerk-sdk-go/v2"
	gorillaHandlers "github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"soundDropAPI/handlers"
	"soundDropAPI/internal/stripeapi"
	"soundDropAPI/internal/types/subscription"
	"soundDropAPI/middleware"
	"soundDropAPI/services"
)

var (
	dbPool         *pgxpool.Pool
	stripeClient   *stripeapi.Client
	userService    *services.UserService
	catalogService *services.CatalogService
	billingService *services.BillingService
	songService    *services.SongService

	stripeWebhookSecret string
	clerkWebhookSecret  string
	siteURL             string
)

func init() {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found")
	}

	clerkSecretKey := os.Getenv("CLERK_SECRET_KEY")
	if clerkSecretKey == "" {
		log.Fatal("CLERK_SECRET_KEY environment variable is not set")
	}
	clerk.SetKey(clerkSecretKey)
	log.Println("Clerk initialized successfully")

	stripeSecretKey := os.Getenv("STRIPE_SECRET_KEY")
	if stripeSecretKey == "" {
		log.Fatal("STRIPE_SECRET_KEY environment variable is not set")
	}
	stripeClient = stripeapi.NewClient(stripeSecretKey)

	stripeWebhookSecret = os.Getenv("STRIPE_WEBHOOK_SECRET")
	if stripeWebhookSecret == "" {
		log.Fatal("STRIPE_WEBHOOK_SECRET environment variable is not set")
	}
	clerkWebhookSecret = os.Getenv("CLERK_WEBHOOK_SECRET")

	siteURL = os.Getenv("SITE_URL")
	if siteURL == "" {
		siteURL = "http://localhost:3000"
	}

	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		log.Fatal("DATABASE_URL environment variable is not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	poolConfig, err := pgxpool.ParseConfig(dbURL)
	if err != nil {
		log.Fatal("Failed to parse database URL:", err)
	}

	poolConfig.MaxConns = 25
	poolConfig.MinConns = 5
	poolConfig.MaxConnLifetime = time.Hour
	poolConfig.MaxConnIdleTime = 30 * time.Minute
	poolConfig.HealthCheckPeriod = time.Minute

	dbPool, err = pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		log.Fatal("Failed to create connection pool:", err)
	}

	if err := dbPool.Ping(ctx); err != nil {
		log.Fatal("Failed to ping database:", err)
	}

	log.Println("Successfully connected to Postgres")

	pausedStatus := subscription.StatusPaused
	if raw := os.Getenv("STRIPE_PAUSED_STATUS_MAPS_TO"); raw != "" {
		pausedStatus, err = subscription.ParseStatus(raw)
		if err != nil {
			log.Fatal("Invalid STRIPE_PAUSED_STATUS_MAPS_TO:", err)
		}
	}

	userService = services.NewUserService(dbPool)
	catalogService = services.NewCatalogService(dbPool)
	billingService = services.NewBillingService(dbPool, stripeClient, pausedStatus)
	songService = services.NewSongService(dbPool)

	middleware.InitPrometheus()
}

func main() {
	defer func() {
		log.Println("Closing database connection pool...")
		dbPool.Close()
	}()

	webhookHandler := handlers.NewWebhookHandler(billingService, catalogService, userService, stripeWebhookSecret, clerkWebhookSecret)
	billingHandler := handlers.NewBillingHandler(billingService, catalogService, userService, siteURL)
	songHandler := handlers.NewSongHandler(songService, billingService, userService)

	r := mux.NewRouter()

	// Webhook routes stay off the rate limiter: Stripe redelivers in
	// bursts and a throttled ack turns into a retry storm.
	webhooks := r.PathPrefix("/webhooks").Subrouter()
	webhooks.Use(middleware.MonitorMiddleware)
	webhooks.HandleFunc("/stripe", webhookHandler.HandleStripeWebhook).Methods("POST")
	webhooks.HandleFunc("/clerk", webhookHandler.HandleClerkWebhook).Methods("POST")

	standardRouter := r.PathPrefix("/").Subrouter()

	go middleware.CleanupVisitors()

	standardRouter.Use(middleware.RateLimitMiddleware)
	standardRouter.Use(middleware.MonitorMiddleware)

	standardRouter.Handle("/metrics", middleware.BasicAuthMiddleware(promhttp.Handler()))

	standardRouter.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		if err := dbPool.Ping(ctx); err != nil {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte(`{"status": "unhealthy", "error": "database connection failed"}`))
			return
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status": "healthy", "service": "soundDrop-api"}`))
	}).Methods("GET")

	api := standardRouter.PathPrefix("/api/v1").Subrouter()

	api.HandleFunc("/billing/plans", billingHandler.ListPlans).Methods("GET")

	// Song browsing is open to visitors, but full playback URLs only
	// show up for entitled subscribers, so these routes take the token
	// when one is present.
	api.Handle("/songs", middleware.OptionalAuthMiddleware(http.HandlerFunc(songHandler.GetSongs))).Methods("GET")
	api.Handle("/songs/search", middleware.OptionalAuthMiddleware(http.HandlerFunc(songHandler.SearchSongs))).Methods("GET")

	protected := api.PathPrefix("").Subrouter()
	protected.Use(middleware.ClerkAuthMiddleware)

	protected.HandleFunc("/billing/subscription", billingHandler.GetSubscription).Methods("GET")
	protected.HandleFunc("/billing/checkout-session", billingHandler.CreateCheckoutSession).Methods("POST")

	protected.HandleFunc("/songs/liked", songHandler.GetLikedSongs).Methods("GET")
	protected.HandleFunc("/songs/{id}/like", songHandler.LikeSong).Methods("POST")
	protected.HandleFunc("/songs/{id}/like", songHandler.UnlikeSong).Methods("DELETE")

	// Registered after /songs/liked so the literal path wins.
	api.Handle("/songs/{id}", middleware.OptionalAuthMiddleware(http.HandlerFunc(songHandler.GetSong))).Methods("GET")

	corsHandler := gorillaHandlers.CORS(
		gorillaHandlers.AllowedOrigins([]string{"*"}),
		gorillaHandlers.AllowedMethods([]string{"GET", "POST", "PUT", "DELETE", "OPTIONS"}),
		gorillaHandlers.AllowedHeaders([]string{"Content-Type", "Authorization", "Stripe-Signature"}),
		gorillaHandlers.ExposedHeaders([]string{"Content-Length"}),
		gorillaHandlers.AllowCredentials(),
	)

	port := os.Getenv("PORT")
	if port == "" {
		port = "3333"
	}
	port = ":" + port

	server := http.Server{
		Addr:         port,
		Handler:      corsHandler(r),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		log.Printf("Starting server on port %s", port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("Error starting server:", err)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt)

	sig := <-sigChan
	log.Println("Got signal:", sig)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server shutdown error: %v", err)
	}

	log.Println("Server shutdown complete")
}
