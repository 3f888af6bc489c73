// Copyright (c) 2026 Yomira. All rights reserved.
// Author: tai.buivan.jp@gmail.com

// Command api is the entry point for the Mangashelf account API server.
//
// # Startup Sequence
//
//  1. Initialize structured logger.
//  2. Load configuration from environment variables.
//  3. Initialize Sentry error reporting (optional).
//  4. Open the account store selected by STORE_BACKEND
//     (PostgreSQL + migrations, MongoDB + indexes, or in-memory).
//  5. Connect to Redis for the login throttle.
//  6. Wire the auth service and HTTP handlers.
//  7. Start HTTP server with graceful shutdown.
//
// No business logic lives here. All wiring is explicit constructor injection.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/getsentry/sentry-go"

	"github.com/taibuivan/mangashelf/internal/api"
	"github.com/taibuivan/mangashelf/internal/platform/config"
	"github.com/taibuivan/mangashelf/internal/platform/constants"
	"github.com/taibuivan/mangashelf/internal/platform/migration"
	mongostore "github.com/taibuivan/mangashelf/internal/platform/mongo"
	pgstore "github.com/taibuivan/mangashelf/internal/platform/postgres"
	redisstore "github.com/taibuivan/mangashelf/internal/platform/redis"
	"github.com/taibuivan/mangashelf/internal/platform/sec"
	"github.com/taibuivan/mangashelf/internal/users/account"
	"github.com/taibuivan/mangashelf/internal/users/auth"
)

const sentryFlushTimeout = 2 * time.Second

func main() {
	// ── 1. Logger ──────────────────────────────────────────────────────────
	// Initialize first so that subsequent startup errors are structured JSON.
	log := newLogger(slog.LevelInfo)
	slog.SetDefault(log)

	log.Info("[Mangashelf] service_initializing")

	// ── 2. Configuration ──────────────────────────────────────────────────
	cfg, err := config.Load()
	must(log, err, "load configuration")

	if cfg.Debug {
		log = newLogger(slog.LevelDebug)
		slog.SetDefault(log)
		log.Debug("debug_logging_enabled")
	}

	log.Info("configuration_loaded",
		slog.String("environment", cfg.Environment),
		slog.String("port", cfg.ServerPort),
		slog.String("store_backend", cfg.StoreBackend),
	)

	// ── 3. Sentry ─────────────────────────────────────────────────────────
	if cfg.SentryDSN != "" {
		err := sentry.Init(sentry.ClientOptions{
			Dsn:         cfg.SentryDSN,
			Environment: cfg.Environment,
			Release:     constants.AppName + "@" + constants.AppVersion,
		})
		must(log, err, "initialize sentry")
		defer sentry.Flush(sentryFlushTimeout)
	}

	// Root context for startup. Use a 30s deadline so misconfiguration is
	// caught quickly rather than hanging indefinitely.
	startupCtx, startupCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer startupCancel()

	// ── 4. Account Store ──────────────────────────────────────────────────
	var (
		store  account.Store
		checks []api.DependencyCheck
	)

	switch cfg.StoreBackend {
	case config.StoreBackendPostgres:
		pool, err := pgstore.NewPool(startupCtx, cfg.DatabaseURL, log)
		must(log, err, "connect to postgres")
		defer func() {
			log.Info("closing postgres pool")
			pool.Close()
		}()

		must(log, migration.RunUp(cfg.DatabaseURL, cfg.MigrationPath, log), "run migrations")

		store = account.NewPostgresStore(pool)
		checks = append(checks, api.DependencyCheck{Name: "postgres", Check: func(ctx context.Context) error {
			return pgstore.Ping(ctx, pool)
		}})

	case config.StoreBackendMongo:
		client, err := mongostore.NewClient(startupCtx, cfg.MongoURI, log)
		must(log, err, "connect to mongo")
		defer func() {
			log.Info("closing mongo client")
			if cerr := mongostore.Disconnect(client); cerr != nil {
				log.Error("mongo disconnect error", slog.Any("error", cerr))
			}
		}()

		mongoStore := account.NewMongoStore(client.Database(cfg.MongoDatabase))
		must(log, mongoStore.EnsureIndexes(startupCtx), "ensure mongo indexes")

		store = mongoStore
		checks = append(checks, api.DependencyCheck{Name: "mongo", Check: func(ctx context.Context) error {
			return mongostore.Ping(ctx, client)
		}})

	default:
		log.Warn("memory_store_selected", slog.String("hint", "accounts are lost on restart"))
		store = account.NewMemoryStore()
	}

	// ── 5. Redis ──────────────────────────────────────────────────────────
	rdb, err := redisstore.NewClient(startupCtx, cfg.RedisURL, log)
	must(log, err, "connect to redis")
	defer func() {
		log.Info("closing redis client")
		if cerr := rdb.Close(); cerr != nil {
			log.Error("redis close error", slog.Any("error", cerr))
		}
	}()
	checks = append(checks, api.DependencyCheck{Name: "redis", Check: func(ctx context.Context) error {
		return redisstore.Ping(ctx, rdb)
	}})

	var throttle auth.LoginThrottle
	if cfg.LoginMaxAttempts > 0 {
		throttle = auth.NewRedisThrottle(rdb, cfg.LoginMaxAttempts, cfg.LoginWindow)
	}

	// ── 6. Auth Service ───────────────────────────────────────────────────
	jwtSvc, err := sec.NewTokenService(cfg.JWTPrivKeyPath, cfg.JWTPubKeyPath, constants.AuthIssuer)
	must(log, err, "initialize jwt service")

	authService := auth.NewService(store, jwtSvc, auth.Options{
		PasswordPolicy: account.PasswordPolicy{
			MinLength: cfg.PasswordMinLength,
			MaxLength: cfg.PasswordMaxLength,
			HashCost:  cfg.BcryptCost,
		},
		SessionPolicy: account.SessionPolicy{
			MaxSessions: cfg.SessionMaxPerAccount,
			TokenTTL:    cfg.SessionTokenTTL,
		},
		ResetTokenTTL: cfg.ResetTokenTTL,
		Throttle:      throttle,
		Logger:        log,
	})

	// ── 7. HTTP Server ────────────────────────────────────────────────────
	liveness, readiness := api.NewHealthHandlers(checks, log)

	handlers := api.Handlers{
		Liveness:  liveness,
		Readiness: readiness,
		Auth:      auth.NewHandler(authService),
	}

	// Cancelled on shutdown so middleware background workers stop.
	serverCtx, serverCancel := context.WithCancel(context.Background())
	defer serverCancel()

	server := api.NewServer(serverCtx, cfg, log, jwtSvc, handlers)

	// ── 8. Graceful Shutdown ──────────────────────────────────────────────
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGTERM, syscall.SIGINT)

	serverErr := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	// Block until OS signal or server error.
	select {
	case sig := <-quit:
		log.Info("shutdown signal received", slog.String("signal", sig.String()))
	case err := <-serverErr:
		log.Error("server startup error", slog.Any("error", err))
	}

	// Give in-flight requests enough time to complete.
	shutdownTimeout := constants.ShutdownTimeout
	log.Info("shutting down server", slog.Duration("timeout", shutdownTimeout))

	if err := server.Shutdown(shutdownTimeout); err != nil {
		log.Error("shutdown error", slog.Any("error", err))
	}

	log.Info("server stopped cleanly")
}

// newLogger builds the JSON logger tagged with the application name.
func newLogger(level slog.Level) *slog.Logger {
	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level})
	return slog.New(handler).With(slog.String(constants.FieldApp, constants.AppName))
}

// must logs a structured fatal error and terminates the process if err is non-nil.
//
// It is intentionally limited to startup wiring. After startup, all errors
// must be returned and handled explicitly (never panic).
func must(log *slog.Logger, err error, context string) {
	if err != nil {
		log.Error("startup failure",
			slog.String("context", context),
			slog.Any("error", err),
		)
		os.Exit(1)
	}
}
