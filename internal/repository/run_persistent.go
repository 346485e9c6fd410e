package repository

import (
	"context"
	"time"

	"github.com/soochol/tsupgrade/internal/db"
	"github.com/soochol/tsupgrade/internal/tsupgrade"
)

var (
	_ RunLedger     = (*PostgresRunLedger)(nil)
	_ OrphanCleaner = (*PostgresRunLedger)(nil)
)

// PostgresRunLedger stores run records in a PostgreSQL table.
// Unlike the in-memory ledger, every write error is returned to the caller.
type PostgresRunLedger struct {
	table *db.RunTable
	now   func() time.Time
}

func NewPostgresRunLedger(database *db.DB, table string) *PostgresRunLedger {
	return &PostgresRunLedger{table: database.RunTable(table), now: time.Now}
}

func (l *PostgresRunLedger) EnsureTable(ctx context.Context) error {
	return l.table.Ensure(ctx)
}

func (l *PostgresRunLedger) Replace(ctx context.Context, record *tsupgrade.RunRecord) error {
	return l.table.Replace(ctx, record)
}

func (l *PostgresRunLedger) Merge(ctx context.Context, owner, runID string, patch tsupgrade.StatusPatch) error {
	return l.table.Merge(ctx, owner, runID, patch, l.now())
}

func (l *PostgresRunLedger) Find(ctx context.Context, runID, owner string) ([]*tsupgrade.RunRecord, error) {
	return l.table.Find(ctx, runID, owner)
}

func (l *PostgresRunLedger) MarkOrphanedRunsFailed(ctx context.Context) (int64, error) {
	return l.table.FailUnfinished(ctx)
}
