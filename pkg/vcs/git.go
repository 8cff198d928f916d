package vcs

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/elisa-build/elisa/pkg/models"
)

const ignoreFile = `.elisa/logs/
.elisa/status/
node_modules/
__pycache__/
*.pyc
.DS_Store
`

// GitStore drives a local git repository through the git CLI.
type GitStore struct{}

// NewGitStore returns the git-backed version store.
func NewGitStore() *GitStore {
	return &GitStore{}
}

// InitRepo initializes the repository, ignore file, and README. Safe to
// call on an already-initialized repository.
func (g *GitStore) InitRepo(ctx context.Context, path, goal string) error {
	if _, err := os.Stat(filepath.Join(path, ".git")); os.IsNotExist(err) {
		if _, err := g.run(ctx, path, "init"); err != nil {
			return fmt.Errorf("git init: %w", err)
		}
	}

	gitignore := filepath.Join(path, ".gitignore")
	if _, err := os.Stat(gitignore); os.IsNotExist(err) {
		if err := os.WriteFile(gitignore, []byte(ignoreFile), 0o644); err != nil {
			return fmt.Errorf("writing .gitignore: %w", err)
		}
	}

	readme := filepath.Join(path, "README.md")
	if _, err := os.Stat(readme); os.IsNotExist(err) {
		content := "# Project\n"
		if goal != "" {
			content = fmt.Sprintf("# Project\n\n%s\n", goal)
		}
		if err := os.WriteFile(readme, []byte(content), 0o644); err != nil {
			return fmt.Errorf("writing README: %w", err)
		}
	}

	if _, err := g.run(ctx, path, "add", "-A"); err != nil {
		return fmt.Errorf("git add: %w", err)
	}
	staged, err := g.hasStaged(ctx, path)
	if err != nil {
		return err
	}
	if !staged {
		return nil
	}
	if _, err := g.commitStaged(ctx, path, "Initial workspace"); err != nil {
		return fmt.Errorf("initial commit: %w", err)
	}
	return nil
}

// Commit stages all changes and commits them. Nothing staged means no
// commit and a nil record.
func (g *GitStore) Commit(ctx context.Context, path, message, agentName, taskID string) (*models.Commit, error) {
	if _, err := g.run(ctx, path, "add", "-A"); err != nil {
		return nil, fmt.Errorf("git add: %w", err)
	}
	staged, err := g.hasStaged(ctx, path)
	if err != nil {
		return nil, err
	}
	if !staged {
		return nil, nil
	}

	sha, err := g.commitStaged(ctx, path, message)
	if err != nil {
		return nil, fmt.Errorf("git commit: %w", err)
	}
	files, err := g.DiffSummary(ctx, path, sha)
	if err != nil {
		slog.Warn("Failed to read commit diff summary", "sha", sha, "error", err)
		files = nil
	}

	short := sha
	if len(short) > 8 {
		short = short[:8]
	}
	return &models.Commit{
		Hash:      sha,
		ShortHash: short,
		Message:   message,
		AgentName: agentName,
		TaskID:    taskID,
		Timestamp: time.Now(),
		Files:     files,
	}, nil
}

// DiffSummary lists paths touched by the commit. A root commit has no
// parent, so the summary is empty.
func (g *GitStore) DiffSummary(ctx context.Context, path, sha string) ([]string, error) {
	if _, err := g.run(ctx, path, "rev-parse", "--verify", sha+"^"); err != nil {
		return []string{}, nil
	}
	out, err := g.run(ctx, path, "diff", "--name-only", sha+"^", sha)
	if err != nil {
		return nil, fmt.Errorf("git diff: %w", err)
	}
	return splitLines(out), nil
}

// Status lists modified and untracked paths.
func (g *GitStore) Status(ctx context.Context, path string) ([]string, error) {
	out, err := g.run(ctx, path, "status", "--porcelain")
	if err != nil {
		return nil, fmt.Errorf("git status: %w", err)
	}
	var paths []string
	for _, line := range splitLines(out) {
		if len(line) > 3 {
			paths = append(paths, strings.TrimSpace(line[3:]))
		}
	}
	return paths, nil
}

func (g *GitStore) hasStaged(ctx context.Context, path string) (bool, error) {
	cmd := exec.CommandContext(ctx, "git", "diff", "--cached", "--quiet")
	cmd.Dir = path
	cmd.Env = g.env()
	err := cmd.Run()
	if err == nil {
		return false, nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) && exitErr.ExitCode() == 1 {
		return true, nil
	}
	// An empty repository has no HEAD to diff against; anything staged
	// shows up in status instead.
	out, statusErr := g.run(ctx, path, "status", "--porcelain")
	if statusErr != nil {
		return false, fmt.Errorf("git diff --cached: %w", err)
	}
	for _, line := range splitLines(out) {
		if len(line) > 0 && line[0] != ' ' && line[0] != '?' {
			return true, nil
		}
	}
	return false, nil
}

func (g *GitStore) commitStaged(ctx context.Context, path, message string) (string, error) {
	if _, err := g.run(ctx, path, "commit", "-m", message); err != nil {
		return "", err
	}
	sha, err := g.run(ctx, path, "rev-parse", "HEAD")
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(sha), nil
}

func (g *GitStore) run(ctx context.Context, dir string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = dir
	cmd.Env = g.env()
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("git %s: %w: %s", args[0], err, strings.TrimSpace(stderr.String()))
	}
	return stdout.String(), nil
}

// env pins author identity so commits succeed on machines without a global
// git config.
func (g *GitStore) env() []string {
	return append(os.Environ(),
		"GIT_AUTHOR_NAME=elisa",
		"GIT_AUTHOR_EMAIL=elisa@localhost",
		"GIT_COMMITTER_NAME=elisa",
		"GIT_COMMITTER_EMAIL=elisa@localhost",
	)
}

func splitLines(s string) []string {
	var lines []string
	for _, line := range strings.Split(s, "\n") {
		line = strings.TrimRight(line, "\r")
		if strings.TrimSpace(line) != "" {
			lines = append(lines, line)
		}
	}
	return lines
}
