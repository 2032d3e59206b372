package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/osobh/pingpong-sub001/internal/api"
	"github.com/osobh/pingpong-sub001/internal/bus"
	"github.com/osobh/pingpong-sub001/internal/config"
	"github.com/osobh/pingpong-sub001/internal/hub"
	"github.com/osobh/pingpong-sub001/internal/store"
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
			Str("server", cfg.ServerID).
			Logger()
	} else {
		logger = zerolog.New(os.Stdout).
			With().
			Timestamp().
			Str("server", cfg.ServerID).
			Logger()
	}

	ctx := context.Background()
	hubOpts := []hub.Option{hub.WithLogger(logger)}

	// Room registry and proposal audit: PostgreSQL, else SQLite, else none
	switch {
	case cfg.DatabaseURL != "":
		pgStore, err := store.NewPostgresStore(ctx, cfg.DatabaseURL)
		if err != nil {
			logger.Fatal().Err(err).Msg("postgres connection failed")
		}
		defer pgStore.Close()
		hubOpts = append(hubOpts, hub.WithDataStore(pgStore))
		logger.Info().Msg("connected to PostgreSQL")
	case cfg.SQLitePath != "":
		liteStore, err := store.NewSQLiteStore(ctx, cfg.SQLitePath)
		if err != nil {
			logger.Fatal().Err(err).Msg("sqlite open failed")
		}
		defer liteStore.Close()
		hubOpts = append(hubOpts, hub.WithDataStore(liteStore))
		logger.Info().Str("path", cfg.SQLitePath).Msg("opened SQLite")
	default:
		logger.Warn().Msg("no database configured, rooms are not persisted")
	}

	// Redis carries the bus and message history; without it the server
	// runs standalone on the in-process bus.
	var redisStore *store.RedisStore
	if cfg.RedisURL != "" {
		var err error
		redisStore, err = store.NewRedisStore(ctx, cfg.RedisURL)
		if err != nil {
			logger.Fatal().Err(err).Msg("redis connection failed")
		}
		defer redisStore.Close()
		logger.Info().Msg("connected to Redis")

		hubOpts = append(hubOpts,
			hub.WithBus(bus.NewRedis(redisStore.Client(),
				bus.WithChannelPrefix(cfg.ChannelPrefix),
				bus.WithLogger(logger))),
			hub.WithHistory(redisStore),
		)
	} else {
		hubOpts = append(hubOpts, hub.WithBus(bus.NewMemory(logger)))
	}

	h := hub.New(hub.Config{
		ServerID:      cfg.ServerID,
		DefaultRoomID: cfg.DefaultRoomID,
		DefaultTopic:  cfg.DefaultTopic,
		DefaultMode:   cfg.DefaultMode,
		DedupWindow:   cfg.DedupWindow,
	}, hubOpts...)

	hubCtx, stopHub := context.WithCancel(context.Background())
	go h.Run(hubCtx)

	startCtx, cancelStart := context.WithTimeout(ctx, 15*time.Second)
	if err := h.Start(startCtx); err != nil {
		logger.Fatal().Err(err).Msg("hub failed to start")
	}
	cancelStart()

	// Create router
	router := api.NewRouter(logger, h, api.RouterConfig{
		Redis:              redisStore,
		RateLimitWhitelist: cfg.RateLimitWhitelist,
	})

	// No write timeout: WebSocket connections are long-lived.
	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		logger.Info().
			Str("port", cfg.Port).
			Str("env", cfg.Env).
			Str("default_room", cfg.DefaultRoomID).
			Msg("starting pingpong server")

		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server failed to start")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down server...")

	// Rooms close their sockets first so Shutdown is not left waiting on
	// WebSocket handlers.
	stopHub()
	<-h.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("server forced to shutdown")
	}

	logger.Info().Msg("server stopped")
}
