package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"newsrag/internal/config"
	"newsrag/internal/logger"
	"newsrag/internal/qdrant"
)

func main() {
	_ = godotenv.Load()

	log := logger.New("retention")
	cfg, err := config.LoadRetention()
	if err != nil {
		log.Error("load config", slog.Any("err", err))
		os.Exit(1)
	}

	client := qdrant.New(qdrant.Config{
		URL:        cfg.QdrantURL,
		Collection: cfg.QdrantCollection,
	}, log)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	// Qdrant may still be coming up alongside this job; wait with backoff.
	delay := 2 * time.Second
	for attempt := 1; ; attempt++ {
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err := client.Health(pingCtx)
		cancel()
		if err == nil {
			break
		}
		if attempt >= 10 {
			log.Error("failed to connect to qdrant after retries", slog.Any("err", err))
			os.Exit(1)
		}
		log.Warn("qdrant unreachable, retrying",
			slog.Any("err", err),
			slog.Int("attempt", attempt),
			slog.Duration("retry_in", delay),
		)
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			log.Info("shutdown signal received during startup")
			return
		}
		delay *= 2
		if delay > 30*time.Second {
			delay = 30 * time.Second
		}
	}

	log.Info("retention job running",
		slog.Duration("interval", cfg.Interval),
		slog.Duration("max_age", cfg.MaxAge),
	)

	ticker := time.NewTicker(cfg.Interval)
	defer ticker.Stop()

	runOnce(ctx, log, client, cfg)

	for {
		select {
		case <-ctx.Done():
			log.Info("shutdown signal received")
			return
		case <-ticker.C:
			runOnce(ctx, log, client, cfg)
		}
	}
}

func runOnce(ctx context.Context, log *slog.Logger, client *qdrant.Client, cfg *config.Retention) {
	subCtx, cancel := context.WithTimeout(ctx, 2*time.Minute)
	defer cancel()

	if err := client.DeleteOlderThan(subCtx, cfg.MaxAge); err != nil {
		log.Warn("retention run failed (will retry on next interval)", slog.Any("err", err))
		return
	}
	log.Info("retention run completed", slog.Duration("max_age", cfg.MaxAge))
}
