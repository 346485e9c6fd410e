// Package workdir manages the scratch directories that hold working copies.
package workdir

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"
)

// DirPrefix marks directories created by a Manager.
const DirPrefix = "tsupgrade-"

// Manager creates one uniquely named directory per run under root.
type Manager struct {
	root string
}

// NewManager creates a Manager. An empty root uses the system temp dir.
func NewManager(root string) *Manager {
	if root == "" {
		root = os.TempDir()
	}
	return &Manager{root: root}
}

// Root returns the parent directory of every working copy.
func (m *Manager) Root() string { return m.root }

// Acquire creates a fresh directory. The returned release func removes it
// and is safe to call more than once.
func (m *Manager) Acquire(ctx context.Context) (string, func(), error) {
	if err := ctx.Err(); err != nil {
		return "", nil, err
	}
	if err := os.MkdirAll(m.root, 0o755); err != nil {
		return "", nil, fmt.Errorf("create workdir root: %w", err)
	}

	dir := filepath.Join(m.root, DirPrefix+uuid.NewString())
	if err := os.Mkdir(dir, 0o700); err != nil {
		return "", nil, fmt.Errorf("create workdir: %w", err)
	}

	var once sync.Once
	release := func() {
		once.Do(func() {
			if err := os.RemoveAll(dir); err != nil {
				slog.Warn("remove workdir failed", "dir", dir, "err", err)
			}
		})
	}
	return dir, release, nil
}
