// Package workspace manages the jailed build directory: provisioning,
// clean-vs-continue resets, per-build metadata hygiene, and path validation.
package workspace

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

// ErrPathEscape is returned when a path argument resolves outside the
// workspace root.
var ErrPathEscape = errors.New("workspace: path escapes working directory")

const (
	metaDir    = ".elisa"
	commsDir   = "comms"
	contextDir = "context"
	statusDir  = "status"
	logsDir    = "logs"
)

// DesignFiles are preserved across builds regardless of restart mode.
var DesignFiles = []string{
	"workspace.json",
	"skills.json",
	"rules.json",
	"portals.json",
	"nugget.json",
}

// Manager owns one workspace root.
type Manager struct {
	root string
}

// NewManager resolves the root to an absolute path and returns a manager.
// The directory does not need to exist yet.
func NewManager(root string) (*Manager, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolving workspace root: %w", err)
	}
	return &Manager{root: abs}, nil
}

// Root returns the absolute workspace root.
func (m *Manager) Root() string { return m.root }

// Resolve validates that rel (absolute or workspace-relative) stays inside
// the root after lexical cleaning and symlink resolution of the existing
// prefix. Returns the absolute path or ErrPathEscape.
func (m *Manager) Resolve(rel string) (string, error) {
	p := rel
	if !filepath.IsAbs(p) {
		p = filepath.Join(m.root, p)
	}
	p = filepath.Clean(p)
	if !within(p, m.root) {
		return "", fmt.Errorf("%w: %s", ErrPathEscape, rel)
	}

	// Symlinks inside the tree could still point out. Resolve the longest
	// existing ancestor and re-check.
	real, err := resolveExisting(p)
	if err != nil {
		return "", fmt.Errorf("resolving %s: %w", rel, err)
	}
	rootReal, err := resolveExisting(m.root)
	if err != nil {
		return "", fmt.Errorf("resolving workspace root: %w", err)
	}
	if !within(real, rootReal) {
		return "", fmt.Errorf("%w: %s", ErrPathEscape, rel)
	}
	return p, nil
}

// Provision creates the workspace root, metadata directories, and the log
// directory. Idempotent.
func (m *Manager) Provision() error {
	for _, dir := range []string{
		m.root,
		filepath.Join(m.root, metaDir, commsDir),
		filepath.Join(m.root, metaDir, contextDir),
		filepath.Join(m.root, metaDir, statusDir),
		filepath.Join(m.root, metaDir, logsDir),
	} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("provisioning workspace: %w", err)
		}
	}
	return nil
}

// Reset applies the clean restart mode: removes src/, tests/, and the three
// metadata directories, preserving logs and design files. Returns the
// workspace-relative paths that were removed.
func (m *Manager) Reset() ([]string, error) {
	targets := []string{
		"src",
		"tests",
		filepath.Join(metaDir, commsDir),
		filepath.Join(metaDir, contextDir),
		filepath.Join(metaDir, statusDir),
	}
	var removed []string
	for _, rel := range targets {
		abs := filepath.Join(m.root, rel)
		if _, err := os.Stat(abs); os.IsNotExist(err) {
			continue
		}
		if err := os.RemoveAll(abs); err != nil {
			return removed, fmt.Errorf("removing %s: %w", rel, err)
		}
		removed = append(removed, rel)
	}
	// Metadata directories come back empty so the next build can write.
	if err := m.Provision(); err != nil {
		return removed, err
	}
	slog.Info("Workspace reset", "root", m.root, "removed", removed)
	return removed, nil
}

// CleanStaleMetadata empties comms/, context/, and status/ without touching
// logs, sources, or design files. Called before each build and before each
// dispatch so agents never see a previous task's scratch state.
func (m *Manager) CleanStaleMetadata() error {
	for _, sub := range []string{commsDir, contextDir, statusDir} {
		dir := filepath.Join(m.root, metaDir, sub)
		if err := os.RemoveAll(dir); err != nil {
			return fmt.Errorf("cleaning %s: %w", sub, err)
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("recreating %s: %w", sub, err)
		}
	}
	return nil
}

// MetaPath returns the absolute path of a file under .elisa/<sub>.
func (m *Manager) MetaPath(sub, name string) string {
	return filepath.Join(m.root, metaDir, sub, name)
}

// CommsPath returns the absolute path of a per-task summary file.
func (m *Manager) CommsPath(name string) string {
	return m.MetaPath(commsDir, name)
}

// ContextPath returns the absolute path of a rolling context file.
func (m *Manager) ContextPath(name string) string {
	return m.MetaPath(contextDir, name)
}

// LogPath returns the absolute path of the session log file.
func (m *Manager) LogPath(sessionID string) string {
	return m.MetaPath(logsDir, "session-"+sessionID+".log")
}

func within(p, root string) bool {
	if p == root {
		return true
	}
	return strings.HasPrefix(p, root+string(filepath.Separator))
}

// resolveExisting walks up until a component exists, evaluates its
// symlinks, and rejoins the non-existent suffix.
func resolveExisting(p string) (string, error) {
	var suffix []string
	cur := p
	for {
		real, err := filepath.EvalSymlinks(cur)
		if err == nil {
			for i := len(suffix) - 1; i >= 0; i-- {
				real = filepath.Join(real, suffix[i])
			}
			return real, nil
		}
		if !os.IsNotExist(err) {
			return "", err
		}
		parent := filepath.Dir(cur)
		if parent == cur {
			return p, nil
		}
		suffix = append(suffix, filepath.Base(cur))
		cur = parent
	}
}
