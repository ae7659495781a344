package config

import (
	"errors"
	"fmt"
	"strings"
)

// Validate checks Config for deployment-critical problems.
// It collects all errors into a single joined error.
func (c *Config) Validate() error {
	var errs []string

	if c.DB.Password == "" {
		errs = append(errs, "DB_PASSWORD is required")
	}

	if c.Server.Port < 1 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Sprintf("SERVER_PORT must be 1-65535, got %d", c.Server.Port))
	}
	if c.DB.Port < 1 || c.DB.Port > 65535 {
		errs = append(errs, fmt.Sprintf("DB_PORT must be 1-65535, got %d", c.DB.Port))
	}
	if c.Redis.Port < 1 || c.Redis.Port > 65535 {
		errs = append(errs, fmt.Sprintf("REDIS_PORT must be 1-65535, got %d", c.Redis.Port))
	}

	if !strings.HasPrefix(c.NATS.URL, "nats://") && !strings.HasPrefix(c.NATS.URL, "tls://") {
		errs = append(errs, "NATS_URL must start with nats:// or tls://")
	}

	if c.Memory.WindowSize < 1 {
		errs = append(errs, fmt.Sprintf("MEMORY_WINDOW_SIZE must be positive, got %d", c.Memory.WindowSize))
	}
	if c.Memory.TTLSec < 1 {
		errs = append(errs, fmt.Sprintf("MEMORY_TTL_SEC must be positive, got %d", c.Memory.TTLSec))
	}
	if c.Memory.DefaultTopK < 1 || c.Memory.DefaultTopK > 50 {
		errs = append(errs, fmt.Sprintf("MEMORY_DEFAULT_TOP_K must be 1-50, got %d", c.Memory.DefaultTopK))
	}

	if len(errs) > 0 {
		return errors.New("config validation failed:\n  " + strings.Join(errs, "\n  "))
	}
	return nil
}
