package db

import (
	"context"
	"fmt"
	"time"

	"github.com/lib/pq"
	"github.com/soochol/tsupgrade/internal/tsupgrade"
)

// RunTable is the ledger table holding one row per (owner, run_id).
// Its name comes from configuration, so every statement is built around the
// quoted identifier.
type RunTable struct {
	db    *DB
	name  string
	ident string
}

// RunTable returns a handle on the named ledger table.
func (d *DB) RunTable(name string) *RunTable {
	return &RunTable{db: d, name: name, ident: pq.QuoteIdentifier(name)}
}

// Name returns the unquoted table name.
func (t *RunTable) Name() string { return t.name }

// Ensure creates the table and its run_id index when missing.
func (t *RunTable) Ensure(ctx context.Context) error {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	stmt := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %[1]s (
    owner       TEXT NOT NULL,
    run_id      TEXT NOT NULL,
    repo        TEXT NOT NULL DEFAULT '',
    branch      TEXT NOT NULL DEFAULT '',
    version     TEXT NOT NULL DEFAULT '',
    status      INTEGER NOT NULL DEFAULT 0,
    last_status INTEGER NOT NULL DEFAULT 0,
    created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at  TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    PRIMARY KEY (owner, run_id)
);

CREATE INDEX IF NOT EXISTS %[2]s ON %[1]s (run_id);
`, t.ident, pq.QuoteIdentifier(t.name+"_run_id_idx"))

	if _, err := t.db.Pool.ExecContext(ctx, stmt); err != nil {
		return fmt.Errorf("ensure table %s: %w", t.name, err)
	}
	return nil
}

// Replace writes r over any existing row with the same key.
func (t *RunTable) Replace(ctx context.Context, r *tsupgrade.RunRecord) error {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	_, err := t.db.Pool.ExecContext(ctx,
		`INSERT INTO `+t.ident+` (owner, run_id, repo, branch, version, status, last_status, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		 ON CONFLICT (owner, run_id) DO UPDATE SET
		   repo = EXCLUDED.repo,
		   branch = EXCLUDED.branch,
		   version = EXCLUDED.version,
		   status = EXCLUDED.status,
		   last_status = EXCLUDED.last_status,
		   created_at = EXCLUDED.created_at,
		   updated_at = EXCLUDED.updated_at`,
		r.Owner, r.RunID, r.Repo, r.Branch, r.Version,
		int(r.Status), int(r.LastStatus), r.CreatedAt, r.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("replace run: %w", err)
	}
	return nil
}

// Merge writes only the status columns carried by p.
func (t *RunTable) Merge(ctx context.Context, owner, runID string, p tsupgrade.StatusPatch, at time.Time) error {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	var err error
	if p.LastStatus != nil {
		_, err = t.db.Pool.ExecContext(ctx,
			`INSERT INTO `+t.ident+` (owner, run_id, status, last_status, updated_at)
			 VALUES ($1, $2, $3, $4, $5)
			 ON CONFLICT (owner, run_id) DO UPDATE SET
			   status = EXCLUDED.status,
			   last_status = EXCLUDED.last_status,
			   updated_at = EXCLUDED.updated_at`,
			owner, runID, int(p.Status), int(*p.LastStatus), at,
		)
	} else {
		_, err = t.db.Pool.ExecContext(ctx,
			`INSERT INTO `+t.ident+` (owner, run_id, status, updated_at)
			 VALUES ($1, $2, $3, $4)
			 ON CONFLICT (owner, run_id) DO UPDATE SET
			   status = EXCLUDED.status,
			   updated_at = EXCLUDED.updated_at`,
			owner, runID, int(p.Status), at,
		)
	}
	if err != nil {
		return fmt.Errorf("merge run status: %w", err)
	}
	return nil
}

// Find returns the rows for runID, newest first. An empty owner matches
// every partition.
func (t *RunTable) Find(ctx context.Context, runID, owner string) ([]*tsupgrade.RunRecord, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	query := `SELECT owner, run_id, repo, branch, version, status, last_status, created_at, updated_at
		 FROM ` + t.ident + ` WHERE run_id = $1`
	args := []any{runID}
	if owner != "" {
		query += ` AND owner = $2`
		args = append(args, owner)
	}
	query += ` ORDER BY updated_at DESC`

	rows, err := t.db.Pool.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("find run: %w", err)
	}
	defer rows.Close()

	var out []*tsupgrade.RunRecord
	for rows.Next() {
		r := &tsupgrade.RunRecord{}
		var status, lastStatus int
		if err := rows.Scan(&r.Owner, &r.RunID, &r.Repo, &r.Branch, &r.Version,
			&status, &lastStatus, &r.CreatedAt, &r.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		r.Status = tsupgrade.RunStatus(status)
		r.LastStatus = tsupgrade.RunStatus(lastStatus)
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("find run: %w", err)
	}
	return out, nil
}

// FailUnfinished marks every row that is not terminal as failed, leaving
// last_status untouched. It returns the number of rows changed.
func (t *RunTable) FailUnfinished(ctx context.Context) (int64, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	res, err := t.db.Pool.ExecContext(ctx,
		`UPDATE `+t.ident+` SET status = $1, updated_at = NOW()
		 WHERE status NOT IN ($1, $2)`,
		int(tsupgrade.StatusError), int(tsupgrade.StatusDone),
	)
	if err != nil {
		return 0, fmt.Errorf("fail unfinished runs: %w", err)
	}
	return res.RowsAffected()
}
