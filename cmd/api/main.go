package main

import (
	"context"
	"log/slog"
	"os"
	"time"

	"github.com/memos-platform/memos/internal/api"
	"github.com/memos-platform/memos/internal/audit"
	"github.com/memos-platform/memos/internal/condense"
	"github.com/memos-platform/memos/internal/config"
	"github.com/memos-platform/memos/internal/database"
	"github.com/memos-platform/memos/internal/memory"
	"github.com/memos-platform/memos/internal/middleware"
	inats "github.com/memos-platform/memos/internal/nats"
	iredis "github.com/memos-platform/memos/internal/redis"
	"github.com/memos-platform/memos/internal/server"
)

func main() {
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

	ctx := context.Background()

	// PostgreSQL
	pool, err := database.NewPostgresPool(ctx, cfg.DB)
	if err != nil {
		slog.Error("connecting to postgres", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	if err := database.RunMigrations(cfg.DB.DSN(), "migrations"); err != nil {
		slog.Error("running migrations", "error", err)
		os.Exit(1)
	}

	// Redis
	redisClient, err := iredis.NewClient(ctx, cfg.Redis)
	if err != nil {
		slog.Error("connecting to redis", "error", err)
		os.Exit(1)
	}
	defer redisClient.Close()

	// NATS JetStream
	natsClient, err := inats.NewClient(ctx, cfg.NATS)
	if err != nil {
		slog.Error("connecting to nats", "error", err)
		os.Exit(1)
	}
	defer natsClient.Close()
	publisher := inats.NewPublisher(natsClient.JetStream())

	// Repositories
	auditRepo := audit.NewRepository(pool)
	eventRepo := memory.NewPostgresRepository(pool, auditRepo)
	summaryRepo := condense.NewPostgresRepository(pool, auditRepo)

	// Memory pipeline
	recency := memory.NewRecencyStore(redisClient, cfg.Memory.WindowSize,
		time.Duration(cfg.Memory.TTLSec)*time.Second)
	memorySvc := memory.NewService(eventRepo, recency, memory.NewHashEmbedder(),
		summaryRepo, publisher, natsClient, cfg.Memory)
	memoryHandler := memory.NewHandler(memorySvc)
	auditHandler := audit.NewHandler(auditRepo)

	devLimiter := middleware.NewRateLimiter(redisClient, "dev",
		cfg.Memory.RateLimitReqs, cfg.Memory.RateLimitWindow)

	router := api.NewRouter(pool, redisClient, natsClient, api.RouterConfig{
		CORSAllowedOrigins: cfg.CORS.AllowedOrigins,
		DevRateLimiter:     devLimiter.Middleware,
	}, api.HandlerSet{
		Ingest:     memoryHandler.Ingest,
		Query:      memoryHandler.Query,
		Pipeline:   memoryHandler.Pipeline,
		OpsStats:   memoryHandler.Stats,
		AuditList:  auditHandler.List,
		Procedural: memoryHandler.Procedural,
		DevReset:   memoryHandler.Reset,
	})

	srv := server.New(cfg.Server, router)
	if err := srv.Start(); err != nil {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}
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
