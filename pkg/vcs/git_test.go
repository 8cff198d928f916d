package vcs

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newGitRepo(t *testing.T) (*GitStore, string) {
	t.Helper()
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git binary not available")
	}
	return NewGitStore(), t.TempDir()
}

func TestGitStore_InitRepo(t *testing.T) {
	g, dir := newGitRepo(t)
	ctx := context.Background()

	require.NoError(t, g.InitRepo(ctx, dir, "blink an LED"))

	assert.DirExists(t, filepath.Join(dir, ".git"))
	readme, err := os.ReadFile(filepath.Join(dir, "README.md"))
	require.NoError(t, err)
	assert.Contains(t, string(readme), "blink an LED")
	assert.FileExists(t, filepath.Join(dir, ".gitignore"))

	// Idempotent: a second init neither fails nor rewrites the README.
	require.NoError(t, os.WriteFile(filepath.Join(dir, "README.md"), []byte("# Edited\n"), 0o644))
	require.NoError(t, g.InitRepo(ctx, dir, "different goal"))
	readme, err = os.ReadFile(filepath.Join(dir, "README.md"))
	require.NoError(t, err)
	assert.Equal(t, "# Edited\n", string(readme))
}

func TestGitStore_CommitRecordsChange(t *testing.T) {
	g, dir := newGitRepo(t)
	ctx := context.Background()
	require.NoError(t, g.InitRepo(ctx, dir, "goal"))

	require.NoError(t, os.MkdirAll(filepath.Join(dir, "src"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "src", "main.py"), []byte("print('hi')\n"), 0o644))

	commit, err := g.Commit(ctx, dir, "task-1: blink", "Ada", "task-1")
	require.NoError(t, err)
	require.NotNil(t, commit)

	assert.Len(t, commit.Hash, 40)
	assert.Equal(t, commit.Hash[:8], commit.ShortHash)
	assert.Equal(t, "task-1: blink", commit.Message)
	assert.Equal(t, "Ada", commit.AgentName)
	assert.Equal(t, "task-1", commit.TaskID)
	assert.Contains(t, commit.Files, "src/main.py")
	assert.False(t, commit.Timestamp.IsZero())
}

func TestGitStore_CommitNothingStaged(t *testing.T) {
	g, dir := newGitRepo(t)
	ctx := context.Background()
	require.NoError(t, g.InitRepo(ctx, dir, "goal"))

	commit, err := g.Commit(ctx, dir, "task-1: nothing", "Ada", "task-1")
	require.NoError(t, err)
	assert.Nil(t, commit)
}

func TestGitStore_RootCommitHasEmptyDiffSummary(t *testing.T) {
	g, dir := newGitRepo(t)
	ctx := context.Background()

	// Commit directly into a fresh repo so the first commit is the root.
	_, err := g.run(ctx, dir, "init")
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.txt"), []byte("x"), 0o644))

	commit, err := g.Commit(ctx, dir, "first", "Ada", "task-1")
	require.NoError(t, err)
	require.NotNil(t, commit)
	assert.Empty(t, commit.Files)
}

func TestGitStore_Status(t *testing.T) {
	g, dir := newGitRepo(t)
	ctx := context.Background()
	require.NoError(t, g.InitRepo(ctx, dir, "goal"))

	require.NoError(t, os.WriteFile(filepath.Join(dir, "untracked.txt"), []byte("x"), 0o644))

	paths, err := g.Status(ctx, dir)
	require.NoError(t, err)
	assert.Contains(t, paths, "untracked.txt")
}

func TestGitStore_IgnoredPathsStayOut(t *testing.T) {
	g, dir := newGitRepo(t)
	ctx := context.Background()
	require.NoError(t, g.InitRepo(ctx, dir, "goal"))

	require.NoError(t, os.MkdirAll(filepath.Join(dir, ".elisa", "logs"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".elisa", "logs", "session.log"), []byte("x"), 0o644))

	commit, err := g.Commit(ctx, dir, "task-1: logs only", "Ada", "task-1")
	require.NoError(t, err)
	assert.Nil(t, commit, "log files are ignored, so nothing should be staged")
}
