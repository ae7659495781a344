package config

import (
	"fmt"
	"strings"

	"github.com/knadh/koanf/parsers/dotenv"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

type Config struct {
	Server ServerConfig
	DB     DBConfig
	Redis  RedisConfig
	NATS   NATSConfig
	CORS   CORSConfig
	Memory MemoryConfig
	Log    LogConfig
}

type ServerConfig struct {
	Host string
	Port int
}

type DBConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Name     string
	SSLMode  string
	MaxConns int32
}

func (c DBConfig) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.Name, c.SSLMode)
}

type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
}

func (c RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

type NATSConfig struct {
	URL string
}

type CORSConfig struct {
	AllowedOrigins []string
}

// MemoryConfig tunes the memory pipeline: L1 window geometry, retrieval
// defaults, and condensation text thresholds.
type MemoryConfig struct {
	WindowSize      int
	TTLSec          int
	DefaultTopK     int
	ExcerptRunes    int
	FallbackRunes   int
	RateLimitReqs   int
	RateLimitWindow int
}

type LogConfig struct {
	Level  string
	Format string
}

func Load() (*Config, error) {
	k := koanf.New(".")

	// Load .env file if it exists (ignore error if missing)
	_ = k.Load(file.Provider(".env"), dotenv.Parser())

	// Load environment variables (override .env)
	err := k.Load(env.Provider("", ".", func(s string) string {
		return strings.ToLower(strings.ReplaceAll(s, "_", "."))
	}), nil)
	if err != nil {
		return nil, fmt.Errorf("loading env vars: %w", err)
	}

	cfg := &Config{
		Server: ServerConfig{
			Host: k.String("server.host"),
			Port: k.Int("server.port"),
		},
		DB: DBConfig{
			Host:     k.String("db.host"),
			Port:     k.Int("db.port"),
			User:     k.String("db.user"),
			Password: k.String("db.password"),
			Name:     k.String("db.name"),
			SSLMode:  k.String("db.sslmode"),
			MaxConns: int32(k.Int("db.max.conns")),
		},
		Redis: RedisConfig{
			Host:     k.String("redis.host"),
			Port:     k.Int("redis.port"),
			Password: k.String("redis.password"),
			DB:       k.Int("redis.db"),
		},
		NATS: NATSConfig{
			URL: k.String("nats.url"),
		},
		CORS: CORSConfig{
			AllowedOrigins: k.Strings("cors.allowed.origins"),
		},
		Memory: MemoryConfig{
			WindowSize:      k.Int("memory.window.size"),
			TTLSec:          k.Int("memory.ttl.sec"),
			DefaultTopK:     k.Int("memory.default.top.k"),
			ExcerptRunes:    k.Int("memory.excerpt.runes"),
			FallbackRunes:   k.Int("memory.fallback.runes"),
			RateLimitReqs:   k.Int("memory.ratelimit.reqs"),
			RateLimitWindow: k.Int("memory.ratelimit.window.sec"),
		},
		Log: LogConfig{
			Level:  k.String("log.level"),
			Format: k.String("log.format"),
		},
	}

	applyDefaults(cfg)
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "0.0.0.0"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8000
	}
	if cfg.DB.Host == "" {
		// 127.0.0.1 rather than localhost avoids IPv6 resolution surprises.
		cfg.DB.Host = "127.0.0.1"
	}
	if cfg.DB.Port == 0 {
		cfg.DB.Port = 5432
	}
	if cfg.DB.User == "" {
		cfg.DB.User = "memos"
	}
	if cfg.DB.Name == "" {
		cfg.DB.Name = "memos"
	}
	if cfg.DB.SSLMode == "" {
		cfg.DB.SSLMode = "disable"
	}
	if cfg.DB.MaxConns == 0 {
		cfg.DB.MaxConns = 25
	}
	if cfg.Redis.Host == "" {
		cfg.Redis.Host = "127.0.0.1"
	}
	if cfg.Redis.Port == 0 {
		cfg.Redis.Port = 6379
	}
	if cfg.NATS.URL == "" {
		cfg.NATS.URL = "nats://127.0.0.1:4222"
	}
	if len(cfg.CORS.AllowedOrigins) == 0 {
		cfg.CORS.AllowedOrigins = []string{
			"http://localhost:3000",
			"http://127.0.0.1:3000",
			"http://localhost:5173",
			"http://127.0.0.1:5173",
		}
	}
	if cfg.Memory.WindowSize == 0 {
		cfg.Memory.WindowSize = 20
	}
	if cfg.Memory.TTLSec == 0 {
		cfg.Memory.TTLSec = 3600
	}
	if cfg.Memory.DefaultTopK == 0 {
		cfg.Memory.DefaultTopK = 6
	}
	if cfg.Memory.ExcerptRunes == 0 {
		cfg.Memory.ExcerptRunes = 600
	}
	if cfg.Memory.FallbackRunes == 0 {
		cfg.Memory.FallbackRunes = 240
	}
	if cfg.Memory.RateLimitReqs == 0 {
		cfg.Memory.RateLimitReqs = 30
	}
	if cfg.Memory.RateLimitWindow == 0 {
		cfg.Memory.RateLimitWindow = 60
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "debug"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "text"
	}
}
