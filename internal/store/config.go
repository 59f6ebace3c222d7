// Package store provides the shared PostgreSQL connection pool, migration
// runner, and transactional helpers (WithTx, savepoints) used by the ingest
// front-end, materialization worker, and jobs.
package store

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds pool configuration, loaded from the environment per the
// recognized options table.
type Config struct {
	DatabaseURL string

	PoolMaxConns      int32
	ConnectTimeout    time.Duration
	IdleTimeout       time.Duration
	RequireSSL        bool
}

// LoadConfigFromEnv reads Config from environment variables, applying
// production-ready defaults for anything not set.
func LoadConfigFromEnv() (Config, error) {
	url := os.Getenv("DATABASE_URL")
	if url == "" {
		return Config{}, fmt.Errorf("DATABASE_URL is required")
	}

	poolMax, err := strconv.Atoi(getEnvOrDefault("PG_POOL_MAX", "10"))
	if err != nil {
		return Config{}, fmt.Errorf("invalid PG_POOL_MAX: %w", err)
	}

	connectMS, err := strconv.Atoi(getEnvOrDefault("PG_CONNECT_TIMEOUT_MS", "5000"))
	if err != nil {
		return Config{}, fmt.Errorf("invalid PG_CONNECT_TIMEOUT_MS: %w", err)
	}

	idleMS, err := strconv.Atoi(getEnvOrDefault("PG_IDLE_TIMEOUT_MS", "900000"))
	if err != nil {
		return Config{}, fmt.Errorf("invalid PG_IDLE_TIMEOUT_MS: %w", err)
	}

	requireSSL, err := strconv.ParseBool(getEnvOrDefault("PG_SSL", "false"))
	if err != nil {
		return Config{}, fmt.Errorf("invalid PG_SSL: %w", err)
	}

	cfg := Config{
		DatabaseURL:    url,
		PoolMaxConns:   int32(poolMax),
		ConnectTimeout: time.Duration(connectMS) * time.Millisecond,
		IdleTimeout:    time.Duration(idleMS) * time.Millisecond,
		RequireSSL:     requireSSL,
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks Config invariants.
func (c Config) Validate() error {
	if c.PoolMaxConns < 1 {
		return fmt.Errorf("PG_POOL_MAX must be at least 1")
	}
	return nil
}

func getEnvOrDefault(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}
