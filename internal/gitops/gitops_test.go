package gitops

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/soochol/tsupgrade/internal/tsupgrade"
	"github.com/soochol/tsupgrade/internal/tsupgrade/ports"
)

// initRepo creates a repository with one commit holding files.
func initRepo(t *testing.T, files map[string]string, when time.Time) string {
	t.Helper()
	dir := t.TempDir()
	repo, err := git.PlainInit(dir, false)
	require.NoError(t, err)
	wt, err := repo.Worktree()
	require.NoError(t, err)

	for name, content := range files {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
		_, err := wt.Add(name)
		require.NoError(t, err)
	}
	_, err = wt.Commit("initial", &git.CommitOptions{
		Author: &object.Signature{Name: "dev", Email: "dev@example.com", When: when},
	})
	require.NoError(t, err)
	return dir
}

func TestClient_LogReturnsTreeHash(t *testing.T) {
	dir := initRepo(t, map[string]string{"index.ts": "var x = 1;\n"}, time.Now())
	c := New("")

	commits, err := c.Log(context.Background(), dir, "HEAD", 1)
	require.NoError(t, err)
	require.Len(t, commits, 1)
	assert.Len(t, commits[0].TreeHash, 40)
	assert.NotEqual(t, commits[0].Hash, commits[0].TreeHash)

	byBranch, err := c.Log(context.Background(), dir, "master", 1)
	require.NoError(t, err)
	assert.Equal(t, commits, byBranch)
}

func TestClient_SameTreeSameBranchName(t *testing.T) {
	files := map[string]string{"index.ts": "var x = 1;\n", "util.ts": "export {}\n"}
	a := initRepo(t, files, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	b := initRepo(t, files, time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC))
	c := New("")

	ca, err := c.Log(context.Background(), a, "HEAD", 1)
	require.NoError(t, err)
	cb, err := c.Log(context.Background(), b, "HEAD", 1)
	require.NoError(t, err)

	assert.NotEqual(t, ca[0].Hash, cb[0].Hash, "commit times differ")
	nameA, err := tsupgrade.WorkingBranch(ca[0].TreeHash)
	require.NoError(t, err)
	nameB, err := tsupgrade.WorkingBranch(cb[0].TreeHash)
	require.NoError(t, err)
	assert.Equal(t, nameA, nameB)
}

func TestClient_BranchStageCommit(t *testing.T) {
	dir := initRepo(t, map[string]string{
		"index.ts": "var x = 1;\n",
		"old.ts":   "var y = 2;\n",
	}, time.Now())
	c := New("")
	ctx := context.Background()

	require.NoError(t, c.CreateBranch(ctx, dir, "ts-upgrade-at-deadbeef"))
	require.NoError(t, c.Checkout(ctx, dir, "ts-upgrade-at-deadbeef"))

	repo, err := git.PlainOpen(dir)
	require.NoError(t, err)
	head, err := repo.Head()
	require.NoError(t, err)
	assert.Equal(t, "refs/heads/ts-upgrade-at-deadbeef", head.Name().String())

	// Modify, delete and add files the way a transformer would.
	require.NoError(t, os.WriteFile(filepath.Join(dir, "index.ts"), []byte("const x = 1;\n"), 0o644))
	require.NoError(t, os.Remove(filepath.Join(dir, "old.ts")))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "new.ts"), []byte("export const z = 3;\n"), 0o644))

	require.NoError(t, c.StageAll(ctx, dir))
	when := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, c.Commit(ctx, dir, ports.Signature{Name: tsupgrade.BotName, Email: tsupgrade.BotEmail, When: when}, tsupgrade.CommitMessage))

	wt, err := repo.Worktree()
	require.NoError(t, err)
	status, err := wt.Status()
	require.NoError(t, err)
	assert.True(t, status.IsClean(), "everything was staged: %s", status)

	commits, err := c.Log(ctx, dir, "ts-upgrade-at-deadbeef", 5)
	require.NoError(t, err)
	require.Len(t, commits, 2)

	commit, err := repo.CommitObject(head.Hash())
	require.NoError(t, err)
	assert.Equal(t, "initial", commit.Message)

	newHead, err := repo.Head()
	require.NoError(t, err)
	latest, err := repo.CommitObject(newHead.Hash())
	require.NoError(t, err)
	assert.Equal(t, tsupgrade.CommitMessage, latest.Message)
	assert.Equal(t, tsupgrade.BotName, latest.Author.Name)
	assert.Equal(t, tsupgrade.BotEmail, latest.Author.Email)

	_, err = latest.File("old.ts")
	assert.Error(t, err, "deleted file must not be in the new tree")
	_, err = latest.File("new.ts")
	assert.NoError(t, err)
}

func TestClient_CheckoutUnknownBranch(t *testing.T) {
	dir := initRepo(t, map[string]string{"a.ts": "1"}, time.Now())
	err := New("").Checkout(context.Background(), dir, "missing")
	assert.Error(t, err)
}

func TestClient_CancelledContext(t *testing.T) {
	dir := initRepo(t, map[string]string{"a.ts": "1"}, time.Now())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	c := New("")
	assert.ErrorIs(t, c.CreateBranch(ctx, dir, "x"), context.Canceled)
	assert.ErrorIs(t, c.Checkout(ctx, dir, "master"), context.Canceled)
	_, err := c.Log(ctx, dir, "HEAD", 1)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestNew_TokenAuth(t *testing.T) {
	assert.Nil(t, New("").auth)
	assert.NotNil(t, New("ghp_x").auth)
}
