package repository

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/soochol/tsupgrade/internal/db"
	"github.com/soochol/tsupgrade/internal/tsupgrade"
)

// Runs against a real PostgreSQL when TSUPGRADE_TEST_DATABASE_URL is set.
func newTestPostgresLedger(t *testing.T) *PostgresRunLedger {
	t.Helper()
	url := os.Getenv("TSUPGRADE_TEST_DATABASE_URL")
	if url == "" {
		t.Skip("TSUPGRADE_TEST_DATABASE_URL not set")
	}
	ctx := context.Background()
	database, err := db.New(ctx, url)
	require.NoError(t, err)

	table := fmt.Sprintf("runs_test_%d", time.Now().UnixNano())
	t.Cleanup(func() {
		database.Pool.Exec(`DROP TABLE IF EXISTS "` + table + `"`)
		database.Close()
	})

	l := NewPostgresRunLedger(database, table)
	require.NoError(t, l.EnsureTable(ctx))
	require.NoError(t, l.EnsureTable(ctx), "EnsureTable must be idempotent")
	return l
}

func TestPostgresRunLedger_Lifecycle(t *testing.T) {
	l := newTestPostgresLedger(t)
	ctx := context.Background()

	require.NoError(t, l.Replace(ctx, newRecord("acme", "r1")))
	require.NoError(t, l.Merge(ctx, "acme", "r1", tsupgrade.Reached(tsupgrade.StatusCheckout)))
	require.NoError(t, l.Merge(ctx, "acme", "r1", tsupgrade.Failed()))

	got, err := l.Find(ctx, "r1", "acme")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, tsupgrade.StatusError, got[0].Status)
	assert.Equal(t, tsupgrade.StatusCheckout, got[0].LastStatus)
	assert.Equal(t, "widgets", got[0].Repo)

	require.NoError(t, l.Replace(ctx, newRecord("acme", "r1")))
	got, err = l.Find(ctx, "r1", "")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, tsupgrade.StatusAuth, got[0].Status)
	assert.Equal(t, tsupgrade.StatusAuth, got[0].LastStatus)

	none, err := l.Find(ctx, "missing", "")
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestPostgresRunLedger_MarkOrphanedRunsFailed(t *testing.T) {
	l := newTestPostgresLedger(t)
	ctx := context.Background()

	require.NoError(t, l.Replace(ctx, newRecord("acme", "r1")))
	require.NoError(t, l.Merge(ctx, "acme", "r1", tsupgrade.Reached(tsupgrade.StatusPush)))

	n, err := l.MarkOrphanedRunsFailed(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	got, err := l.Find(ctx, "r1", "acme")
	require.NoError(t, err)
	assert.Equal(t, tsupgrade.StatusError, got[0].Status)
	assert.Equal(t, tsupgrade.StatusPush, got[0].LastStatus)
}
