package services

import (
	"context"
	"fmt"
	"strings"

	"github.com/soochol/tsupgrade/internal/repository"
	"github.com/soochol/tsupgrade/internal/tsupgrade"
)

// StatusQuery reads run records from the ledger.
type StatusQuery struct {
	ledger repository.RunLedger
}

// NewStatusQuery creates a StatusQuery.
func NewStatusQuery(ledger repository.RunLedger) *StatusQuery {
	return &StatusQuery{ledger: ledger}
}

// Get returns the record for runID, or nil when no such run was recorded.
// owner narrows the lookup to one partition; empty matches any owner and the
// most recently updated record wins.
func (q *StatusQuery) Get(ctx context.Context, runID, owner string) (*tsupgrade.RunRecord, error) {
	runID = strings.TrimSpace(runID)
	if runID == "" {
		return nil, fmt.Errorf("%w: run id is required", tsupgrade.ErrInvalidParams)
	}
	records, err := q.ledger.Find(ctx, runID, strings.TrimSpace(owner))
	if err != nil {
		return nil, fmt.Errorf("query run %s: %w", runID, err)
	}
	if len(records) == 0 {
		return nil, nil
	}
	return records[0], nil
}
