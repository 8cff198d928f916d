package workspace

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	m, err := NewManager(t.TempDir())
	require.NoError(t, err)
	require.NoError(t, m.Provision())
	return m
}

func TestManager_ResolveInside(t *testing.T) {
	m := newTestManager(t)

	p, err := m.Resolve("src/main.py")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(m.Root(), "src", "main.py"), p)
}

func TestManager_ResolveRejectsEscape(t *testing.T) {
	m := newTestManager(t)

	for _, rel := range []string{
		"../outside.txt",
		"src/../../outside.txt",
		"/etc/passwd",
		"..",
	} {
		_, err := m.Resolve(rel)
		assert.ErrorIs(t, err, ErrPathEscape, "path %q", rel)
	}
}

func TestManager_ResolveRejectsSymlinkEscape(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("symlinks not reliable on windows")
	}
	m := newTestManager(t)
	outside := t.TempDir()
	require.NoError(t, os.Symlink(outside, filepath.Join(m.Root(), "sneaky")))

	_, err := m.Resolve("sneaky/secret.txt")
	assert.ErrorIs(t, err, ErrPathEscape)
}

func TestManager_ProvisionIdempotent(t *testing.T) {
	m := newTestManager(t)
	require.NoError(t, m.Provision())

	for _, dir := range []string{"comms", "context", "status", "logs"} {
		info, err := os.Stat(filepath.Join(m.Root(), ".elisa", dir))
		require.NoError(t, err)
		assert.True(t, info.IsDir())
	}
}

func TestManager_ResetPreservesLogsAndDesignFiles(t *testing.T) {
	m := newTestManager(t)

	require.NoError(t, os.MkdirAll(filepath.Join(m.Root(), "src"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(m.Root(), "src", "main.py"), []byte("print()"), 0o644))
	require.NoError(t, os.MkdirAll(filepath.Join(m.Root(), "tests"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(m.Root(), "tests", "test_main.py"), []byte("pass"), 0o644))
	require.NoError(t, os.WriteFile(m.CommsPath("t1_summary.md"), []byte("done"), 0o644))
	require.NoError(t, os.WriteFile(m.LogPath("abc"), []byte("log line"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(m.Root(), "workspace.json"), []byte("{}"), 0o644))

	removed, err := m.Reset()
	require.NoError(t, err)
	assert.Contains(t, removed, "src")
	assert.Contains(t, removed, "tests")

	assert.NoFileExists(t, filepath.Join(m.Root(), "src", "main.py"))
	assert.NoFileExists(t, m.CommsPath("t1_summary.md"))
	// Logs and design files survive a clean restart.
	assert.FileExists(t, m.LogPath("abc"))
	assert.FileExists(t, filepath.Join(m.Root(), "workspace.json"))

	// Metadata directories come back empty and writable.
	require.NoError(t, os.WriteFile(m.CommsPath("t2_summary.md"), []byte("x"), 0o644))
}

func TestManager_CleanStaleMetadata(t *testing.T) {
	m := newTestManager(t)
	require.NoError(t, os.WriteFile(m.CommsPath("stale.md"), []byte("old"), 0o644))
	require.NoError(t, os.WriteFile(m.ContextPath("nugget_context.md"), []byte("old"), 0o644))
	require.NoError(t, os.WriteFile(m.LogPath("keep"), []byte("log"), 0o644))

	require.NoError(t, m.CleanStaleMetadata())

	assert.NoFileExists(t, m.CommsPath("stale.md"))
	assert.NoFileExists(t, m.ContextPath("nugget_context.md"))
	assert.FileExists(t, m.LogPath("keep"))
}
