//go:build integration

// Package dbtest starts a throwaway Postgres for store integration tests.
package dbtest

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"

	"github.com/NathanielGetachew/t2-e-commerce-mvp-sub000/internal/common/database"
)

// New runs a migrated Postgres container and returns a connected DB.
func New(t *testing.T) *database.DB {
	t.Helper()
	ctx := context.Background()

	ctr, err := postgres.Run(ctx, "postgres:16-alpine",
		postgres.WithDatabase("payments"),
		postgres.WithUsername("payments"),
		postgres.WithPassword("payments"),
		postgres.BasicWaitStrategies(),
	)
	testcontainers.CleanupContainer(t, ctr)
	require.NoError(t, err)

	url, err := ctr.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	logger := Logger()
	require.NoError(t, database.Migrate(url, logger))

	db, err := database.New(ctx, database.Config{
		URL:             url,
		MaxConns:        10,
		MinConns:        1,
		MaxConnLifetime: time.Hour,
		MaxConnIdleTime: time.Minute,
	}, logger)
	require.NoError(t, err)
	t.Cleanup(db.Close)

	return db
}

// Logger discards output.
func Logger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
