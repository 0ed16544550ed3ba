package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog/log"

	"github.com/agencyos/billing-api/internal/config"
	"github.com/agencyos/billing-api/internal/domain/checkout"
	"github.com/agencyos/billing-api/internal/domain/creditpackage"
	"github.com/agencyos/billing-api/internal/domain/notification"
	"github.com/agencyos/billing-api/internal/domain/rank"
	"github.com/agencyos/billing-api/internal/domain/subscription"
	"github.com/agencyos/billing-api/internal/domain/user"
	"github.com/agencyos/billing-api/internal/domain/wallet"
	"github.com/agencyos/billing-api/internal/domain/webhook"
	"github.com/agencyos/billing-api/internal/middleware"
	"github.com/agencyos/billing-api/internal/pkg/database"
	"github.com/agencyos/billing-api/internal/pkg/jwt"
	"github.com/agencyos/billing-api/internal/pkg/logger"
	"github.com/agencyos/billing-api/internal/pkg/metrics"
	"github.com/agencyos/billing-api/internal/pkg/polar"
	"github.com/agencyos/billing-api/internal/pkg/response"
)

func main() {
	cfg := config.Load()

	if err := logger.Init(logger.Config{Level: cfg.LogLevel, Environment: cfg.Env}); err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize logger")
	}

	log.Info().
		Str("env", cfg.Env).
		Str("port", cfg.Port).
		Str("signature_policy", string(cfg.SignaturePolicy)).
		Msg("Starting billing API")

	db, err := database.NewPostgres(cfg.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to PostgreSQL")
	}
	defer database.ClosePostgres(db)

	redis, err := database.NewRedis(cfg.RedisURL)
	if err != nil {
		// Redis only backs the webhook replay cache; the ledger's
		// reference uniqueness covers idempotency without it.
		log.Warn().Err(err).Msg("Redis unavailable, webhook replay cache disabled")
		redis = nil
	}
	defer database.CloseRedis(redis)

	jwtService := jwt.NewService(cfg.JWTSecret, cfg.JWTAccessTTL)

	polarClient := polar.NewClient(polar.Config{
		BaseURL:     cfg.PolarBaseURL,
		AccessToken: cfg.PolarAccessToken,
	})

	// ---------- Repositories ----------
	userRepo := user.NewPostgresRepository(db)
	walletRepo := wallet.NewPostgresRepository(db)
	rankRepo := rank.NewPostgresRepository(db)
	notificationRepo := notification.NewPostgresRepository(db)
	subscriptionRepo := subscription.NewPostgresRepository(db)
	packageRepo := creditpackage.NewPostgresRepository(db)

	// ---------- Services ----------
	notificationService := notification.NewService(notificationRepo)
	walletService := wallet.NewService(walletRepo, rankRepo, notificationService)
	subscriptionService := subscription.NewService(subscriptionRepo, walletService, notificationService)
	checkoutService := checkout.NewService(walletService, packageRepo, polarClient, checkout.Config{
		BaseCentsPerCredit: int64(cfg.BaseCentsPerCredit),
		SuccessURL:         cfg.PolarSuccessURL,
	})
	webhookService := webhook.NewService(userRepo, walletService, subscriptionService, redis)

	// ---------- Handlers ----------
	walletHandler := wallet.NewHandler(walletService)
	checkoutHandler := checkout.NewHandler(checkoutService)
	packageHandler := creditpackage.NewHandler(packageRepo)
	notificationHandler := notification.NewHandler(notificationService)
	webhookHandler := webhook.NewHandler(webhookService, cfg.PolarWebhookSecret, cfg.SignaturePolicy)

	authMiddleware := middleware.Auth(jwtService)

	// ---------- Router ----------
	r := chi.NewRouter()

	r.Use(chimw.RealIP)
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recover)
	r.Use(middleware.CORSHandler(cfg.AllowedOrigins))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		response.OK(w, map[string]string{
			"status":  "ok",
			"version": "1.0.0",
		})
	})
	r.Handle("/metrics", metrics.Handler())

	// Webhooks are authenticated by signature, not JWT.
	r.Mount("/webhooks", webhookHandler.Routes())

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/packages", packageHandler.List)

		r.Group(func(r chi.Router) {
			r.Use(authMiddleware)
			r.Mount("/wallet", walletHandler.Routes())
			r.Mount("/checkout", checkoutHandler.Routes())
			r.Mount("/notifications", notificationHandler.Routes())
		})
	})

	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info().Str("addr", server.Addr).Msg("HTTP server listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("HTTP server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Fatal().Err(err).Msg("Server forced to shutdown")
	}

	log.Info().Msg("Server exited properly")
}
