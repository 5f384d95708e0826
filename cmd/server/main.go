package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/tetherchat/tether/internal/api"
	"github.com/tetherchat/tether/internal/auth"
	"github.com/tetherchat/tether/internal/config"
	"github.com/tetherchat/tether/internal/handlers"
	"github.com/tetherchat/tether/internal/realtime"
	"github.com/tetherchat/tether/internal/store"
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

	// Initialize the data store: PostgreSQL in production, SQLite
	// otherwise.
	var (
		dataStore store.DataStore
		err       error
	)
	if cfg.DatabaseURL != "" {
		dataStore, err = store.NewPostgresStore(ctx, cfg.DatabaseURL)
		if err != nil {
			logger.Fatal().Err(err).Msg("postgres connection failed")
		}
		logger.Info().Msg("connected to PostgreSQL")
	} else {
		path := cfg.SQLitePath
		if path == "" {
			path = "tether.db"
		}
		dataStore, err = store.NewSQLiteStore(ctx, path)
		if err != nil {
			logger.Fatal().Err(err).Msg("sqlite open failed")
		}
		logger.Info().Str("path", path).Msg("using SQLite store")
	}
	defer dataStore.Close()

	// Authentication: key cache over the store, engine on top.
	keyCache := auth.NewKeyCache(dataStore, cfg.KeyCacheSize, cfg.KeyCacheTTL)
	engine := auth.NewEngine(keyCache, cfg.IsProduction(), logger)

	// Realtime over Redis; optional outside production.
	var (
		publisher  *realtime.Publisher
		subscriber *realtime.Subscriber
		presence   *realtime.PresenceTracker
	)
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			logger.Fatal().Err(err).Msg("invalid REDIS_URL")
		}
		client := redis.NewClient(opts)
		if err := client.Ping(ctx).Err(); err != nil {
			logger.Fatal().Err(err).Msg("redis connection failed")
		}
		defer client.Close()
		logger.Info().Msg("connected to Redis")

		broadcaster := realtime.NewRedisBroadcaster(client)
		publisher = realtime.NewPublisher(broadcaster, logger)
		subscriber = realtime.NewSubscriber(broadcaster, logger, nil)
		presence = realtime.NewPresenceTracker(client)
	} else {
		logger.Warn().Msg("REDIS_URL not set, realtime and presence disabled")
	}

	h := handlers.NewHandler(dataStore, publisher, subscriber, presence, keyCache, logger)

	// Create router
	router := api.NewRouter(logger, h, engine)

	// Create server
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second, // websocket upgrades share this server
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		logger.Info().
			Str("port", cfg.Port).
			Str("env", cfg.Env).
			Msg("starting Tether server")

		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server failed to start")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down server...")

	// Graceful shutdown with 30 second timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Fatal().Err(err).Msg("server forced to shutdown")
	}

	logger.Info().Msg("server stopped")
}
