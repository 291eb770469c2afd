package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"

	"investcore/internal/api"
	"investcore/internal/auth"
	"investcore/internal/common/database"
	"investcore/internal/common/events"
	"investcore/internal/common/middleware"
	natsclient "investcore/internal/common/nats"
	"investcore/internal/profile"
	"investcore/internal/remote"
	"investcore/internal/reservation"
	"investcore/internal/store"
	"investcore/internal/syncer"
	"investcore/internal/wallet"
)

// Config holds service configuration
type Config struct {
	Port        int    `envconfig:"PORT" default:"8080"`
	Environment string `envconfig:"ENVIRONMENT" default:"development"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info"`
	LogFormat   string `envconfig:"LOG_FORMAT" default:"json"`

	AuthSecret string        `envconfig:"AUTH_JWT_SECRET" required:"true"`
	ProfileTTL time.Duration `envconfig:"PROFILE_CACHE_TTL" default:"5m"`

	Database database.Config
	NATS     natsclient.Config
	Remote   remote.Config
	Sync     syncer.Config
}

func main() {
	// Optional .env for local development
	_ = godotenv.Load()

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		fmt.Fprintf(os.Stderr, "failed to process config: %v\n", err)
		os.Exit(1)
	}

	logger := setupLogger(cfg.LogLevel, cfg.LogFormat)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		logger.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	// Storage is optional; without it the wallet and sync degrade to
	// "feature unavailable" instead of refusing to start.
	var db *database.DB
	var dataStore *store.Store
	if d, err := database.New(ctx, cfg.Database, logger); err != nil {
		logger.Error("database unavailable, running degraded", "error", err)
	} else {
		db = d
		defer db.Close()
		dataStore = store.New(db)
	}

	// Events are best-effort as well.
	var publisher events.EventPublisher
	natsClient, err := natsclient.New(ctx, cfg.NATS, logger)
	if err != nil {
		logger.Warn("nats unavailable, events disabled", "error", err)
	} else {
		defer natsClient.Close()
		if _, err := natsClient.EnsureStream(ctx, natsclient.WalletStreamConfig()); err != nil {
			logger.Warn("ensuring event stream failed", "error", err)
		}
		publisher = natsclient.NewPublisher(natsClient, logger)
	}

	session := auth.NewSessionStore(cfg.AuthSecret)
	remoteClient := remote.NewClient(cfg.Remote, session)

	var walletStore wallet.Store
	var syncStore syncer.Store
	var accountStore api.BankAccountStore
	if dataStore != nil {
		walletStore = dataStore
		syncStore = dataStore
		accountStore = dataStore
	}

	walletSvc := wallet.NewService(walletStore, publisher, database.IsNotFound, logger)
	syncSvc := syncer.NewService(cfg.Sync, syncStore, remoteClient, session, publisher, logger)
	reservationSvc := reservation.NewService(publisher, logger)
	reservationSvc.StartSweeper(ctx)
	profileSvc := profile.NewService(remoteClient, profile.NewCache(cfg.ProfileTTL, nil), logger)

	handler := api.NewHandler(walletSvc, syncSvc, reservationSvc, profileSvc, accountStore, session, publisher)

	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(middleware.CorrelationID)
	r.Use(middleware.Recoverer(logger))
	r.Use(middleware.Logger(logger))
	r.Use(middleware.UserExtractor)
	r.Use(chimw.Compress(5))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		if db != nil {
			if err := db.HealthCheck(r.Context()); err != nil {
				w.WriteHeader(http.StatusServiceUnavailable)
				w.Write([]byte(`{"status":"unhealthy"}`))
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"healthy"}`))
	})

	r.Get("/ready", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"ready"}`))
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Mount("/", handler.Routes())
	})

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("starting investcore service",
			"port", cfg.Port,
			"environment", cfg.Environment,
			"storage", dataStore != nil,
			"events", publisher != nil,
		)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			cancel()
		}
	}()

	<-ctx.Done()

	logger.Info("shutting down server")
	syncSvc.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", "error", err)
	}

	logger.Info("server stopped")
}

func setupLogger(level, format string) *slog.Logger {
	var logLevel slog.Level
	switch level {
	case "debug":
		logLevel = slog.LevelDebug
	case "info":
		logLevel = slog.LevelInfo
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level: logLevel,
	}

	var handler slog.Handler
	if format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	return slog.New(handler)
}
