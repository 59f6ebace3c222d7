// Package storetest provides a shared testcontainers-backed Postgres
// fixture for integration tests across the store, ingest, materialize,
// rollup, jobs, and actions packages.
package storetest

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/codeready-toolchain/evalpipeline/internal/store"
)

// New starts a disposable Postgres container, runs migrations via
// store.Open, and registers cleanup on t.
func New(t *testing.T) *store.Store {
	t.Helper()
	ctx := context.Background()

	pgContainer, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("evalpipeline_test"),
		postgres.WithUsername("evalpipeline"),
		postgres.WithPassword("evalpipeline"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second)),
	)
	require.NoError(t, err)
	t.Cleanup(func() {
		if err := testcontainers.TerminateContainer(pgContainer); err != nil {
			t.Logf("failed to terminate container: %v", err)
		}
	})

	connStr, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	s, err := store.Open(ctx, store.Config{DatabaseURL: connStr, PoolMaxConns: 10})
	require.NoError(t, err)
	t.Cleanup(s.Close)

	return s
}
