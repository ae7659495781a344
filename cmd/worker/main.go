package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/memos-platform/memos/internal/audit"
	"github.com/memos-platform/memos/internal/condense"
	"github.com/memos-platform/memos/internal/config"
	"github.com/memos-platform/memos/internal/database"
	inats "github.com/memos-platform/memos/internal/nats"
	"github.com/memos-platform/memos/internal/worker"
)

func main() {
	// The worker reads its own configuration at startup. Jobs never carry
	// infrastructure settings; anything embedded in a payload is ignored.
	cfg, err := config.Load()
	if err != nil {
		slog.Error("loading config", "error", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		slog.Error("validating config", "error", err)
		os.Exit(1)
	}

	setupLogger(cfg.Log)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := database.NewPostgresPool(ctx, cfg.DB)
	if err != nil {
		slog.Error("connecting to postgres", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	natsClient, err := inats.NewClient(ctx, cfg.NATS)
	if err != nil {
		slog.Error("connecting to nats", "error", err)
		os.Exit(1)
	}
	defer natsClient.Close()

	auditRepo := audit.NewRepository(pool)
	summaryRepo := condense.NewPostgresRepository(pool, auditRepo)
	engine := condense.NewEngine(summaryRepo, summaryRepo, cfg.Memory.ExcerptRunes)

	runner := worker.NewRunner(engine, inats.NewConsumerManager(natsClient.JetStream()), cfg.DB.DSN())
	if err := runner.Start(ctx); err != nil {
		slog.Error("worker error", "error", err)
		os.Exit(1)
	}

	slog.Info("worker stopped")
}

func setupLogger(cfg config.LogConfig) {
	var handler slog.Handler

	opts := &slog.HandlerOptions{}
	switch cfg.Level {
	case "debug":
		opts.Level = slog.LevelDebug
	case "info":
		opts.Level = slog.LevelInfo
	case "warn":
		opts.Level = slog.LevelWarn
	case "error":
		opts.Level = slog.LevelError
	default:
		opts.Level = slog.LevelInfo
	}

	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	slog.SetDefault(slog.New(handler))
}
