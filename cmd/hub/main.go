package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/The-Swarm-Protocol/Swarm-sub000/internal/api"
	"github.com/The-Swarm-Protocol/Swarm-sub000/internal/config"
	"github.com/The-Swarm-Protocol/Swarm-sub000/internal/handlers"
	"github.com/The-Swarm-Protocol/Swarm-sub000/internal/hub"
	"github.com/The-Swarm-Protocol/Swarm-sub000/internal/ratelimit"
	"github.com/The-Swarm-Protocol/Swarm-sub000/internal/store"
	"github.com/The-Swarm-Protocol/Swarm-sub000/internal/token"
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

	// Initialize durable store: PostgreSQL in production, SQLite fallback
	// for development.
	var st store.Store
	if cfg.DatabaseURL != "" {
		pgStore, err := store.NewPostgresStore(ctx, cfg.DatabaseURL)
		if err != nil {
			logger.Fatal().Err(err).Msg("postgres connection failed")
		}
		st = pgStore
		logger.Info().Msg("connected to PostgreSQL")
	} else {
		sqliteStore, err := store.NewSQLiteStore(ctx, cfg.SQLitePath)
		if err != nil {
			logger.Fatal().Err(err).Msg("sqlite open failed")
		}
		st = sqliteStore
		logger.Info().Str("path", cfg.SQLitePath).Msg("using SQLite store")
	}
	defer st.Close()

	// Optional Redis history cache
	var history *store.RedisHistory
	if cfg.RedisURL != "" {
		var err error
		history, err = store.NewRedisHistory(ctx, cfg.RedisURL)
		if err != nil {
			logger.Fatal().Err(err).Msg("redis connection failed")
		}
		defer history.Close()
		logger.Info().Msg("connected to Redis")
	}

	// Token service
	tokens := token.NewService(cfg.JWTSecret, cfg.AccessTokenTTL, cfg.RefreshTokenTTL)

	// Relay engine
	engine := hub.New(logger, tokens, st, history, hub.Config{
		MaxConnectionsPerAgent: cfg.MaxConnectionsPerAgent,
		RateLimitMax:           cfg.RateLimitMax,
		RateLimitWindow:        cfg.RateLimitWindow,
	})

	// HTTP surface
	authLimiter := ratelimit.New(cfg.AuthRateLimitMax, time.Minute)
	h := handlers.NewHandler(logger, st, history, tokens, engine)
	router := api.NewRouter(logger, h, engine, tokens, authLimiter)

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		logger.Info().
			Str("port", cfg.Port).
			Str("env", cfg.Env).
			Msg("starting hub")

		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server failed to start")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down hub...")

	// Graceful shutdown with 30 second timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	engine.Shutdown(shutdownCtx)

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Fatal().Err(err).Msg("server forced to shutdown")
	}

	logger.Info().Msg("hub stopped")
}
