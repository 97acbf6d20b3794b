package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/syncslides/core/internal/config"
	"github.com/syncslides/core/internal/decks"
	"github.com/syncslides/core/internal/handlers"
	custommw "github.com/syncslides/core/internal/middleware"
	"github.com/syncslides/core/internal/observability"
	"github.com/syncslides/core/internal/services"
	"github.com/syncslides/core/internal/session"
	"github.com/syncslides/core/internal/storage"
)

const serviceVersion = "1.0.0"

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logger := observability.NewLogger("syncslides", observability.ParseLevel(cfg.LogLevel))

	// Telemetry
	ctx := context.Background()
	telemetry, err := observability.InitTelemetry(ctx,
		observability.NewTelemetryConfig("syncslides", serviceVersion, cfg.DeviceID))
	if err != nil {
		log.Fatalf("Failed to initialize telemetry: %v", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		telemetry.Shutdown(shutdownCtx)
	}()

	// Initialize the local replica
	var store storage.Store
	if cfg.UsePostgres() {
		logger.Info("Using PostgreSQL replica")
		db, err := storage.NewPostgresDB(cfg.DatabaseURL)
		if err != nil {
			log.Fatalf("Failed to initialize PostgreSQL replica: %v", err)
		}
		defer db.Close()
		store = storage.NewSQLStore(db)
	} else {
		logger.Info("Using SQLite replica")
		db, err := storage.NewSQLiteDB(cfg.DatabasePath)
		if err != nil {
			log.Fatalf("Failed to initialize SQLite replica: %v", err)
		}
		defer db.Close()
		store = storage.NewSQLStore(db)
	}

	// All writes from this process go through the ownership guard.
	owned := storage.NewOwned(store, cfg.DeviceID)

	metrics, err := observability.NewSessionMetrics()
	if err != nil {
		log.Fatalf("Failed to initialize metrics: %v", err)
	}

	deckRepo := decks.NewRepository(owned)

	sessionCfg := session.Config{
		Join: session.JoinConfig{
			InitialBackoff: cfg.Session.JoinInitialBackoff(),
			MaxBackoff:     cfg.Session.JoinMaxBackoff(),
			MaxAttempts:    cfg.Session.JoinMaxAttempts,
		},
		Quiescence:        cfg.Session.Quiescence(),
		InactivityTimeout: cfg.Session.InactivityTimeout(),
	}
	manager := session.NewManager(owned, deckRepo, cfg.DeviceID, logger, metrics, sessionCfg)
	defer manager.Close()

	// Background sweep for sessions this device presents but abandoned.
	janitorCtx, stopJanitor := context.WithCancel(ctx)
	defer stopJanitor()
	go manager.RunJanitor(janitorCtx, cfg.Session.JanitorInterval())

	hub := services.NewSessionHub(manager, logger)

	// Initialize handlers
	sessionHandler := handlers.NewSessionHandler(manager, logger)
	deckHandler := handlers.NewDeckHandler(deckRepo, cfg.DeviceID, logger)
	wsHandler := handlers.NewWebSocketHandler(hub, logger)
	healthHandler := handlers.NewHealthHandler(cfg.DeviceID)

	// Setup router
	r := chi.NewRouter()

	// Middleware
	r.Use(chimw.Logger)
	r.Use(chimw.Recoverer)
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(observability.TracingMiddleware())
	r.Use(custommw.APIKeyAuth(cfg.Security.APIKey, cfg.Security.APIKeyHash, cfg.Security.APIKeyHeader))

	// Routes
	r.Get("/health", healthHandler.Health)
	r.Get("/api/health", healthHandler.Health)

	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/sessions", func(r chi.Router) {
			r.Post("/", sessionHandler.Create)
			r.Get("/{sessionID}", sessionHandler.Get)
			r.Post("/{sessionID}/join", sessionHandler.Join)
			r.Post("/{sessionID}/advance", sessionHandler.Advance)
			r.Put("/{sessionID}/role", sessionHandler.SetRole)
			r.Post("/{sessionID}/end", sessionHandler.End)
			r.Get("/{sessionID}/observe", wsHandler.Observe)
		})
		r.Route("/decks", func(r chi.Router) {
			r.Post("/", deckHandler.Publish)
			r.Get("/{deckID}", deckHandler.Get)
			r.Get("/{deckID}/slides/{index}", deckHandler.GetSlide)
		})
	})

	// Create server
	srv := &http.Server{
		Addr:         cfg.ListenAddress,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	// Start server in goroutine
	go func() {
		logger.Infof("SyncSlides core starting on %s as device %s", cfg.ListenAddress, cfg.DeviceID)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server error: %v", err)
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Fatalf("Server forced to shutdown: %v", err)
	}

	logger.Info("Stopped")
}
