package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"chatdesk/internal/api"
	"chatdesk/internal/auth"
	"chatdesk/internal/config"
	"chatdesk/internal/metrics"
	"chatdesk/internal/queue"
	"chatdesk/internal/responder"
	"chatdesk/internal/storage"
)

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Warn().Err(err).Msg("failed to read .env file")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}

	setupLogger(cfg.Log.Level)
	log.Info().
		Str("env", cfg.Env).
		Str("addr", cfg.HTTP.ListenAddr).
		Bool("auth_required", cfg.Auth.Required).
		Bool("responder", cfg.ResponderActive()).
		Msg("starting chatdesk")

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	store := storage.Select(ctx, cfg.DB, log.Logger)
	defer store.Close()

	adminHash, err := auth.HashPassword(cfg.Admin.Password)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to hash admin password")
	}
	if err := storage.Bootstrap(ctx, store, storage.UserInput{
		Username:     cfg.Admin.Username,
		PasswordHash: adminHash,
		Name:         cfg.Admin.Name,
		Role:         "admin",
	}); err != nil {
		log.Fatal().Err(err).Msg("failed to bootstrap storage")
	}

	secret := cfg.Auth.Secret
	if secret == "" {
		secret, err = auth.RandomSecret()
		if err != nil {
			log.Fatal().Err(err).Msg("failed to generate auth secret")
		}
		log.Warn().Msg("AUTH_SECRET not set, issued tokens will not survive a restart")
	}
	authService, err := auth.NewService(secret, cfg.Auth.TokenTTL)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize auth")
	}

	m := metrics.Global()
	errCh := make(chan error, 2)

	var replies api.ReplyEnqueuer
	if cfg.ResponderActive() {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := rdb.Ping(ctx).Err(); err != nil {
			log.Fatal().Err(err).Msg("failed to connect redis")
		}
		defer rdb.Close()

		jobQueue := queue.NewStreamQueue(rdb, cfg.Responder.Stream, cfg.Responder.Group, cfg.Responder.ConsumerName, cfg.Responder.Block)
		if err := jobQueue.EnsureGroup(ctx); err != nil {
			log.Fatal().Err(err).Msg("failed to create responder stream group")
		}

		r := responder.New(responder.Config{
			Store:           store,
			Queue:           jobQueue,
			Dedupe:          queue.NewMessageDeduplicator(rdb, cfg.Responder.DedupeTTL),
			ReplyCap:        queue.NewReplyCap(rdb, cfg.Responder.RepliesPerHour),
			MaxJobRetries:   cfg.Responder.MaxRetries,
			BusinessName:    cfg.Responder.BusinessName,
			FallbackMessage: cfg.Responder.FallbackMessage,
			Logger:          log.Logger,
			Metrics:         m,
		})
		go func() {
			if err := r.Start(ctx, cfg.Responder.Concurrency); err != nil && ctx.Err() == nil {
				errCh <- fmt.Errorf("responder failed: %w", err)
			}
		}()
		replies = r
		log.Info().Int("concurrency", cfg.Responder.Concurrency).Msg("responder started")
	} else {
		log.Info().Msg("responder disabled, messages will not be answered automatically")
	}

	server := api.New(api.Config{
		Store:              store,
		Replies:            replies,
		Auth:               authService,
		AuthRequired:       cfg.Auth.Required,
		HealthPath:         cfg.HTTP.HealthPath,
		MetricsPath:        cfg.HTTP.MetricsPath,
		AllowedOrigins:     cfg.HTTP.AllowedOrigins,
		RateLimitPerMinute: cfg.HTTP.RateLimitPerMinute,
		Env:                cfg.Env,
		Logger:             log.Logger,
		Metrics:            m,
	})
	httpServer := &http.Server{
		Addr:              cfg.HTTP.ListenAddr,
		Handler:           server.Router(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       cfg.HTTP.ReadTimeout,
		WriteTimeout:      cfg.HTTP.WriteTimeout,
	}
	go func() {
		log.Info().Str("addr", cfg.HTTP.ListenAddr).Msg("http server started")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		log.Info().Msg("shutdown signal received")
	case err := <-errCh:
		log.Error().Err(err).Msg("runtime error")
		cancel()
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("failed to stop http server")
	}

	log.Info().Msg("stopped")
}

func setupLogger(level string) {
	zerolog.TimeFieldFormat = time.RFC3339
	zerolog.SetGlobalLevel(parseLogLevel(level))
	log.Logger = zerolog.New(os.Stdout).With().Timestamp().Logger()
}

func parseLogLevel(level string) zerolog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return zerolog.DebugLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}
