package workdir

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// Sweeper removes working directories left behind by processes that died
// before releasing them.
type Sweeper struct {
	root   string
	maxAge time.Duration
	cron   *cron.Cron
	now    func() time.Time
}

// NewSweeper creates a Sweeper for directories under root older than maxAge.
func NewSweeper(root string, maxAge time.Duration) *Sweeper {
	if root == "" {
		root = os.TempDir()
	}
	return &Sweeper{root: root, maxAge: maxAge, now: time.Now}
}

// parseSchedule tries 6-field (with seconds) then 5-field (standard) parsing.
// Descriptors such as "@hourly" and "@every 30m" are accepted by both.
func parseSchedule(expr string) (cron.Schedule, error) {
	parser6 := cron.NewParser(cron.Second | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	sched, err := parser6.Parse(expr)
	if err == nil {
		return sched, nil
	}
	parser5 := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	return parser5.Parse(expr)
}

// Start runs Sweep on schedule until Stop is called.
func (s *Sweeper) Start(schedule string) error {
	sched, err := parseSchedule(schedule)
	if err != nil {
		return fmt.Errorf("parse sweep schedule %q: %w", schedule, err)
	}
	s.cron = cron.New()
	s.cron.Schedule(sched, cron.FuncJob(func() {
		n, err := s.Sweep()
		if err != nil {
			slog.Warn("workdir sweep failed", "root", s.root, "err", err)
			return
		}
		if n > 0 {
			slog.Info("workdir sweep removed stale directories", "root", s.root, "count", n)
		}
	}))
	s.cron.Start()
	slog.Info("workdir sweeper started", "root", s.root, "schedule", schedule, "max_age", s.maxAge)
	return nil
}

// Stop halts the schedule. The returned context is done once a running
// sweep has finished.
func (s *Sweeper) Stop() context.Context {
	if s.cron == nil {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		return ctx
	}
	return s.cron.Stop()
}

// Sweep removes every prefixed directory whose modification time is older
// than maxAge and reports how many were removed.
func (s *Sweeper) Sweep() (int, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		return 0, fmt.Errorf("read workdir root: %w", err)
	}

	cutoff := s.now().Add(-s.maxAge)
	removed := 0
	for _, e := range entries {
		if !e.IsDir() || !strings.HasPrefix(e.Name(), DirPrefix) {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		if info.ModTime().After(cutoff) {
			continue
		}
		if err := os.RemoveAll(filepath.Join(s.root, e.Name())); err != nil {
			slog.Warn("remove stale workdir failed", "dir", e.Name(), "err", err)
			continue
		}
		removed++
	}
	return removed, nil
}
