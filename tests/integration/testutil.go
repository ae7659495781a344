//go:build integration

package integration

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/memos-platform/memos/internal/api"
	"github.com/memos-platform/memos/internal/audit"
	"github.com/memos-platform/memos/internal/condense"
	"github.com/memos-platform/memos/internal/config"
	"github.com/memos-platform/memos/internal/memory"
	inats "github.com/memos-platform/memos/internal/nats"
	"github.com/memos-platform/memos/internal/worker"
)

type TestEnv struct {
	Pool        *pgxpool.Pool
	RedisClient *redis.Client
	NATSClient  *inats.Client
	Server      *httptest.Server
	MemorySvc   *memory.Service
	SummaryRepo *condense.PostgresRepository
	Runner      *worker.Runner
	DSN         string
}

var testEnv *TestEnv

func SetupTestEnv(t *testing.T) *TestEnv {
	t.Helper()
	if testEnv != nil {
		return testEnv
	}

	ctx := context.Background()

	// PostgreSQL with pgvector
	pgContainer, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "pgvector/pgvector:0.8.1-pg16",
			ExposedPorts: []string{"5432/tcp"},
			Env: map[string]string{
				"POSTGRES_USER":     "test",
				"POSTGRES_PASSWORD": "test",
				"POSTGRES_DB":       "memos_test",
			},
			WaitingFor: wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60 * time.Second),
		},
		Started: true,
	})
	if err != nil {
		t.Fatalf("starting postgres container: %v", err)
	}
	t.Cleanup(func() { pgContainer.Terminate(ctx) })

	pgHost, _ := pgContainer.Host(ctx)
	pgPort, _ := pgContainer.MappedPort(ctx, "5432")

	// Redis
	redisContainer, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "redis:7-alpine",
			ExposedPorts: []string{"6379/tcp"},
			WaitingFor:   wait.ForLog("Ready to accept connections").WithStartupTimeout(30 * time.Second),
		},
		Started: true,
	})
	if err != nil {
		t.Fatalf("starting redis container: %v", err)
	}
	t.Cleanup(func() { redisContainer.Terminate(ctx) })

	redisHost, _ := redisContainer.Host(ctx)
	redisPort, _ := redisContainer.MappedPort(ctx, "6379")

	// NATS with JetStream
	natsContainer, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "nats:2-alpine",
			ExposedPorts: []string{"4222/tcp"},
			Cmd:          []string{"--jetstream", "--store_dir", "/data"},
			WaitingFor:   wait.ForLog("Server is ready").WithStartupTimeout(30 * time.Second),
		},
		Started: true,
	})
	if err != nil {
		t.Fatalf("starting nats container: %v", err)
	}
	t.Cleanup(func() { natsContainer.Terminate(ctx) })

	natsHost, _ := natsContainer.Host(ctx)
	natsPort, _ := natsContainer.MappedPort(ctx, "4222")

	// Connect to PostgreSQL and migrate
	dsn := fmt.Sprintf("postgres://test:test@%s:%s/memos_test?sslmode=disable", pgHost, pgPort.Port())
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		t.Fatalf("connecting to postgres: %v", err)
	}
	t.Cleanup(func() { pool.Close() })

	m, err := migrate.New(fmt.Sprintf("file://%s", getMigrationsPath()), dsn)
	if err != nil {
		t.Fatalf("creating migrator: %v", err)
	}
	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		t.Fatalf("running migrations: %v", err)
	}

	// Connect to Redis
	redisClient := redis.NewClient(&redis.Options{
		Addr: fmt.Sprintf("%s:%s", redisHost, redisPort.Port()),
	})
	t.Cleanup(func() { redisClient.Close() })

	// Connect to NATS
	natsClient, err := inats.NewClient(ctx, config.NATSConfig{
		URL: fmt.Sprintf("nats://%s:%s", natsHost, natsPort.Port()),
	})
	if err != nil {
		t.Fatalf("connecting to nats: %v", err)
	}
	t.Cleanup(func() { natsClient.Close() })

	memCfg := config.MemoryConfig{
		WindowSize:    20,
		TTLSec:        3600,
		DefaultTopK:   6,
		ExcerptRunes:  600,
		FallbackRunes: 240,
	}

	auditRepo := audit.NewRepository(pool)
	eventRepo := memory.NewPostgresRepository(pool, auditRepo)
	summaryRepo := condense.NewPostgresRepository(pool, auditRepo)
	publisher := inats.NewPublisher(natsClient.JetStream())

	recency := memory.NewRecencyStore(redisClient, memCfg.WindowSize,
		time.Duration(memCfg.TTLSec)*time.Second)
	memorySvc := memory.NewService(eventRepo, recency, memory.NewHashEmbedder(),
		summaryRepo, publisher, natsClient, memCfg)
	memoryHandler := memory.NewHandler(memorySvc)
	auditHandler := audit.NewHandler(auditRepo)

	router := api.NewRouter(pool, redisClient, natsClient, api.RouterConfig{}, api.HandlerSet{
		Ingest:     memoryHandler.Ingest,
		Query:      memoryHandler.Query,
		Pipeline:   memoryHandler.Pipeline,
		OpsStats:   memoryHandler.Stats,
		AuditList:  auditHandler.List,
		Procedural: memoryHandler.Procedural,
		DevReset:   memoryHandler.Reset,
	})

	server := httptest.NewServer(router)
	t.Cleanup(func() { server.Close() })

	engine := condense.NewEngine(summaryRepo, summaryRepo, memCfg.ExcerptRunes)
	runner := worker.NewRunner(engine, inats.NewConsumerManager(natsClient.JetStream()), dsn)

	testEnv = &TestEnv{
		Pool:        pool,
		RedisClient: redisClient,
		NATSClient:  natsClient,
		Server:      server,
		MemorySvc:   memorySvc,
		SummaryRepo: summaryRepo,
		Runner:      runner,
		DSN:         dsn,
	}

	return testEnv
}

func getMigrationsPath() string {
	paths := []string{
		"../../migrations",
		"../../../migrations",
	}
	for _, p := range paths {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	log.Fatal("migrations directory not found")
	return ""
}

func DoRequest(t *testing.T, env *TestEnv, method, path string, body any) *http.Response {
	t.Helper()
	var bodyReader io.Reader
	if body != nil {
		b, _ := json.Marshal(body)
		bodyReader = bytes.NewReader(b)
	}

	req, err := http.NewRequest(method, env.Server.URL+path, bodyReader)
	if err != nil {
		t.Fatalf("creating request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("doing request: %v", err)
	}
	return resp
}

func ParseResponse(t *testing.T, resp *http.Response) map[string]any {
	t.Helper()
	defer resp.Body.Close()
	var result map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		t.Fatalf("parsing response: %v", err)
	}
	return result
}
