// Package dbtest provides a migrated postgres pool for repository tests.
package dbtest

import (
	"context"
	"os"
	"testing"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"election_engine/pkg/database"
)

const embeddedTestPort = 15433

// NewPool connects to TEST_DATABASE_URL, or to an embedded server when
// ELECTION_EMBEDDED_PG=1, applies migrations and empties every table. The
// test is skipped when neither is available.
func NewPool(t testing.TB) *pgxpool.Pool {
	t.Helper()
	logger := zaptest.NewLogger(t)
	ctx := context.Background()

	url := os.Getenv("TEST_DATABASE_URL")
	if url == "" {
		if os.Getenv("ELECTION_EMBEDDED_PG") != "1" {
			t.Skip("TEST_DATABASE_URL not set and ELECTION_EMBEDDED_PG != 1")
		}
		embedded, err := database.StartEmbedded(embeddedTestPort, t.TempDir(), logger)
		require.NoError(t, err)
		t.Cleanup(func() { _ = embedded.Stop() })
		url = embedded.URL()
	}

	pool, err := pgxpool.New(ctx, url)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	require.NoError(t, database.Migrate(ctx, pool, logger))

	_, err = pool.Exec(ctx, `TRUNCATE vote_log, vote_markers, breaches, audit_logs,
		eligible_voters, candidates, elections RESTART IDENTITY CASCADE`)
	require.NoError(t, err)

	return pool
}
