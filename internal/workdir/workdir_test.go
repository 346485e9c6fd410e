package workdir

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestManager_AcquireRelease(t *testing.T) {
	root := t.TempDir()
	m := NewManager(root)

	dir, release, err := m.Acquire(context.Background())
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(filepath.Base(dir), DirPrefix))
	assert.Equal(t, root, filepath.Dir(dir))

	require.NoError(t, os.WriteFile(filepath.Join(dir, "index.ts"), []byte("let x = 1"), 0o644))

	release()
	release()
	_, err = os.Stat(dir)
	assert.True(t, os.IsNotExist(err))
}

func TestManager_UniqueDirs(t *testing.T) {
	m := NewManager(t.TempDir())
	a, releaseA, err := m.Acquire(context.Background())
	require.NoError(t, err)
	defer releaseA()
	b, releaseB, err := m.Acquire(context.Background())
	require.NoError(t, err)
	defer releaseB()
	assert.NotEqual(t, a, b)
}

func TestManager_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, _, err := NewManager(t.TempDir()).Acquire(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestSweeper_RemovesOnlyStalePrefixedDirs(t *testing.T) {
	root := t.TempDir()
	stale := filepath.Join(root, DirPrefix+"stale")
	fresh := filepath.Join(root, DirPrefix+"fresh")
	other := filepath.Join(root, "unrelated")
	for _, d := range []string{stale, fresh, other} {
		require.NoError(t, os.Mkdir(d, 0o755))
	}
	old := time.Now().Add(-48 * time.Hour)
	require.NoError(t, os.Chtimes(stale, old, old))
	require.NoError(t, os.Chtimes(other, old, old))

	s := NewSweeper(root, 6*time.Hour)
	n, err := s.Sweep()
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	_, err = os.Stat(stale)
	assert.True(t, os.IsNotExist(err))
	assert.DirExists(t, fresh)
	assert.DirExists(t, other)
}

func TestParseSchedule(t *testing.T) {
	for _, expr := range []string{"0 * * * *", "*/30 * * * * *", "@hourly", "@every 10m"} {
		_, err := parseSchedule(expr)
		assert.NoError(t, err, expr)
	}
	_, err := parseSchedule("every tuesday")
	assert.Error(t, err)
}

func TestSweeper_StartStop(t *testing.T) {
	s := NewSweeper(t.TempDir(), time.Hour)
	require.Error(t, s.Start("nonsense"))
	require.NoError(t, s.Start("@every 1h"))
	<-s.Stop().Done()
}
