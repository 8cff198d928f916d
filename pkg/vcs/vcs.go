// Package vcs abstracts the version history the executor records task
// results into. The production driver shells out to git.
package vcs

import (
	"context"

	"github.com/elisa-build/elisa/pkg/models"
)

// VersionStore is the commit surface consumed by the pipeline.
type VersionStore interface {
	// InitRepo prepares the repository at path. Idempotent: writes the
	// ignore file, seeds a README when absent, and creates the initial
	// commit only when something is staged.
	InitRepo(ctx context.Context, path, goal string) error

	// Commit stages everything and commits. Returns nil when nothing was
	// staged.
	Commit(ctx context.Context, path, message, agentName, taskID string) (*models.Commit, error)

	// DiffSummary lists the paths changed by a commit. The first commit
	// has no parent; its summary is empty.
	DiffSummary(ctx context.Context, path, sha string) ([]string, error)

	// Status lists currently modified or untracked paths.
	Status(ctx context.Context, path string) ([]string, error)
}
