package repository

import (
	"context"
	"sort"
	"time"

	memstore "github.com/soochol/tsupgrade/internal/repository/memory"
	"github.com/soochol/tsupgrade/internal/tsupgrade"
)

var (
	_ RunLedger     = (*MemoryRunLedger)(nil)
	_ OrphanCleaner = (*MemoryRunLedger)(nil)
)

// MemoryRunLedger is a thread-safe in-memory RunLedger. Records live as long
// as the process.
type MemoryRunLedger struct {
	store *memstore.Store[*tsupgrade.RunRecord]
	now   func() time.Time
}

// NewMemoryRunLedger creates an empty in-memory ledger.
func NewMemoryRunLedger() *MemoryRunLedger {
	return &MemoryRunLedger{
		store: memstore.New(func(r *tsupgrade.RunRecord) string { return ledgerKey(r.Owner, r.RunID) }),
		now:   time.Now,
	}
}

func ledgerKey(owner, runID string) string {
	return owner + "\x00" + runID
}

func (l *MemoryRunLedger) EnsureTable(context.Context) error { return nil }

func (l *MemoryRunLedger) Replace(ctx context.Context, record *tsupgrade.RunRecord) error {
	return l.store.Set(ctx, record.Clone())
}

func (l *MemoryRunLedger) Merge(ctx context.Context, owner, runID string, patch tsupgrade.StatusPatch) error {
	now := l.now()
	l.store.Upsert(ctx, ledgerKey(owner, runID), func(cur *tsupgrade.RunRecord, exists bool) *tsupgrade.RunRecord {
		next := cur.Clone()
		if !exists {
			next = &tsupgrade.RunRecord{Owner: owner, RunID: runID, CreatedAt: now}
		}
		patch.Apply(next)
		next.UpdatedAt = now
		return next
	})
	return nil
}

func (l *MemoryRunLedger) Find(ctx context.Context, runID, owner string) ([]*tsupgrade.RunRecord, error) {
	matches, err := l.store.Filter(ctx, func(r *tsupgrade.RunRecord) bool {
		return r.RunID == runID && (owner == "" || r.Owner == owner)
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(matches, func(i, j int) bool {
		return matches[i].UpdatedAt.After(matches[j].UpdatedAt)
	})
	out := make([]*tsupgrade.RunRecord, len(matches))
	for i, r := range matches {
		out[i] = r.Clone()
	}
	return out, nil
}

func (l *MemoryRunLedger) MarkOrphanedRunsFailed(ctx context.Context) (int64, error) {
	now := l.now()
	n := l.store.Update(ctx, func(r *tsupgrade.RunRecord) (*tsupgrade.RunRecord, bool) {
		if r.Status.IsTerminal() {
			return r, false
		}
		next := r.Clone()
		tsupgrade.Failed().Apply(next)
		next.UpdatedAt = now
		return next, true
	})
	return int64(n), nil
}
