package repository

import (
	"context"
	"errors"

	"github.com/soochol/tsupgrade/internal/tsupgrade"
)

// ErrNotFound is returned when a run is not in the ledger.
var ErrNotFound = errors.New("run not found")

// RunLedger stores one record per (owner, run ID) describing how far a run
// has progressed.
type RunLedger interface {
	// EnsureTable prepares the backing storage. It is safe to call repeatedly.
	EnsureTable(ctx context.Context) error
	// Replace writes record over any existing record with the same key.
	Replace(ctx context.Context, record *tsupgrade.RunRecord) error
	// Merge updates only the status columns carried by patch, creating the
	// record when it does not exist.
	Merge(ctx context.Context, owner, runID string, patch tsupgrade.StatusPatch) error
	// Find returns the records with runID, newest first. An empty owner
	// matches every owner.
	Find(ctx context.Context, runID, owner string) ([]*tsupgrade.RunRecord, error)
}

// OrphanCleaner is implemented by ledgers that can fail every unfinished run,
// e.g. after a process restart.
type OrphanCleaner interface {
	MarkOrphanedRunsFailed(ctx context.Context) (int64, error)
}
