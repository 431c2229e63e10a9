package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/kretoffer/encode-now-backend/internal/api"
	"github.com/kretoffer/encode-now-backend/internal/api/middleware"
	"github.com/kretoffer/encode-now-backend/internal/config"
	"github.com/kretoffer/encode-now-backend/internal/handlers"
	"github.com/kretoffer/encode-now-backend/internal/hub"
	"github.com/kretoffer/encode-now-backend/internal/relay"
	"github.com/kretoffer/encode-now-backend/internal/store"
)

func main() {
	// Load configuration
	cfg := config.Load()

	// Initialize logger
	var logger zerolog.Logger
	if cfg.IsDevelopment() {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}).
			With().
			Timestamp().
			Logger()
	} else {
		logger = zerolog.New(os.Stdout).
			With().
			Timestamp().
			Logger()
	}

	ctx := context.Background()

	// Durable store: PostgreSQL when configured, SQLite otherwise
	var db store.DataStore
	if cfg.DatabaseURL != "" {
		logger.Info().Msg("running database migrations...")
		if err := store.RunMigrations(cfg.DatabaseURL); err != nil {
			logger.Fatal().Err(err).Msg("migration failed")
		}
		logger.Info().Msg("migrations completed")

		pgStore, err := store.NewPostgresStore(ctx, cfg.DatabaseURL)
		if err != nil {
			logger.Fatal().Err(err).Msg("postgres connection failed")
		}
		db = pgStore
		logger.Info().Msg("connected to PostgreSQL")
	} else {
		sqliteStore, err := store.NewSQLiteStore(ctx, cfg.SQLitePath)
		if err != nil {
			logger.Fatal().Err(err).Str("path", cfg.SQLitePath).Msg("sqlite open failed")
		}
		db = sqliteStore
		logger.Info().Str("path", cfg.SQLitePath).Msg("opened SQLite database")
	}
	defer db.Close()

	// Live notifications: Redis pub/sub when configured, in-process otherwise
	var (
		redisStore *store.RedisStore
		liveHub    hub.Hub
		limiter    *middleware.RateLimiter
	)
	if cfg.RedisURL != "" {
		var err error
		redisStore, err = store.NewRedisStore(ctx, cfg.RedisURL)
		if err != nil {
			logger.Fatal().Err(err).Msg("redis connection failed")
		}
		defer redisStore.Close()
		logger.Info().Msg("connected to Redis")

		liveHub = hub.NewRedis(redisStore.Client(), cfg.PollTimeout, logger)
		limiter = middleware.NewRateLimiter(redisStore.Client(), logger, middleware.RateLimiterConfig{
			Whitelist: cfg.RateLimitWhitelist,
		})
	} else {
		logger.Warn().Msg("REDIS_URL not set: live polling is limited to this instance and rate limiting is off")
		liveHub = hub.NewLocal(cfg.PollTimeout, logger)
	}

	svc := relay.NewService(db, liveHub, logger, relay.Options{
		MaxHistoryLimit: cfg.MaxHistoryLimit,
	})
	h := handlers.NewHandler(svc, db, redisStore, logger)

	// Create router
	router := api.NewRouter(logger, h, api.RouterConfig{
		MaxBodyBytes: cfg.MaxBodyBytes,
		RateLimiter:  limiter,
	})

	// Create server; writes must outlive a full long-poll
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: cfg.PollTimeout + 15*time.Second,
		IdleTimeout:  90 * time.Second,
	}

	// Start server in goroutine
	go func() {
		logger.Info().
			Str("port", cfg.Port).
			Str("env", cfg.Env).
			Dur("poll_timeout", cfg.PollTimeout).
			Msg("starting relay server")

		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server failed to start")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down server...")

	// Suspended polls may hold connections for a full poll timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.PollTimeout+5*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("server forced to shutdown")
	}

	logger.Info().Msg("server stopped")
}
