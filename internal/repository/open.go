package repository

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/soochol/tsupgrade/internal/db"
)

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// OpenRunLedger selects a ledger backend from url. An empty url or
// "memory://" keeps records in process; postgres:// and postgresql://
// connect to PostgreSQL. The returned Closer releases the connection.
func OpenRunLedger(ctx context.Context, url, table string) (RunLedger, io.Closer, error) {
	switch {
	case url == "" || strings.HasPrefix(url, "memory://"):
		return NewMemoryRunLedger(), nopCloser{}, nil
	case strings.HasPrefix(url, "postgres://"), strings.HasPrefix(url, "postgresql://"):
		database, err := db.New(ctx, url)
		if err != nil {
			return nil, nil, err
		}
		return NewPostgresRunLedger(database, table), database, nil
	default:
		return nil, nil, fmt.Errorf("unsupported ledger url %q", redact(url))
	}
}

// redact drops everything after the scheme so credentials never reach logs.
func redact(url string) string {
	if i := strings.Index(url, "://"); i >= 0 {
		return url[:i+3] + "..."
	}
	return "..."
}
