// Package buildctx carries results between tasks: each completed task
// records a summary, and dependents receive a word-capped context block
// assembled from their predecessors.
package buildctx

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/elisa-build/elisa/pkg/models"
	"github.com/elisa-build/elisa/pkg/workspace"
)

// DefaultWordBudget caps the predecessor context injected into a prompt.
const DefaultWordBudget = 2000

// Manager is the per-session context store. Summaries live in memory for
// prompt assembly and are mirrored into the workspace metadata tree.
type Manager struct {
	ws         *workspace.Manager
	wordBudget int

	mu        sync.Mutex
	summaries map[string]string
	order     []string
}

// NewManager creates a context manager over the workspace.
func NewManager(ws *workspace.Manager) *Manager {
	return &Manager{
		ws:         ws,
		wordBudget: DefaultWordBudget,
		summaries:  make(map[string]string),
	}
}

// RecordResult stores a task's result summary, writes the per-task comms
// file, and refreshes the rolling context file atomically.
func (m *Manager) RecordResult(taskID, summary string) error {
	m.mu.Lock()
	if _, ok := m.summaries[taskID]; !ok {
		m.order = append(m.order, taskID)
	}
	m.summaries[taskID] = summary
	rolling := m.rollingLocked()
	m.mu.Unlock()

	comms := m.ws.CommsPath(taskID + "_summary.md")
	if err := os.WriteFile(comms, []byte(summary), 0o644); err != nil {
		return fmt.Errorf("writing task summary: %w", err)
	}
	return writeAtomic(m.ws.ContextPath("nugget_context.md"), rolling)
}

// ContextFor returns the prompt context block for a task: its
// predecessors' summaries in completion order, capped at the word budget.
// Empty when no predecessor has recorded a result.
func (m *Manager) ContextFor(task *models.Task) string {
	m.mu.Lock()
	defer m.mu.Unlock()

	deps := make(map[string]bool, len(task.DependsOn))
	for _, id := range task.DependsOn {
		deps[id] = true
	}

	var b strings.Builder
	for _, id := range m.order {
		if !deps[id] {
			continue
		}
		summary, ok := m.summaries[id]
		if !ok || strings.TrimSpace(summary) == "" {
			continue
		}
		fmt.Fprintf(&b, "### Result of %s\n%s\n\n", id, summary)
	}
	if b.Len() == 0 {
		return ""
	}
	return capWords("## Work Completed by Previous Tasks\n\n"+b.String(), m.wordBudget)
}

// Summary returns the recorded summary for a task, if any.
func (m *Manager) Summary(taskID string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.summaries[taskID]
	return s, ok
}

func (m *Manager) rollingLocked() string {
	var b strings.Builder
	b.WriteString("# Build Context\n\n")
	for _, id := range m.order {
		fmt.Fprintf(&b, "## %s\n%s\n\n", id, m.summaries[id])
	}
	return b.String()
}

// capWords truncates text to at most n words, appending a marker when it
// was cut.
func capWords(text string, n int) string {
	words := strings.Fields(text)
	if len(words) <= n {
		return text
	}
	return strings.Join(words[:n], " ") + "\n\n[Context truncated]"
}

// writeAtomic writes via a temp file in the same directory then renames,
// so readers never observe a partial file.
func writeAtomic(path, content string) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".ctx-*")
	if err != nil {
		return fmt.Errorf("creating temp context file: %w", err)
	}
	name := tmp.Name()
	if _, err := tmp.WriteString(content); err != nil {
		tmp.Close()
		os.Remove(name)
		return fmt.Errorf("writing context file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(name)
		return fmt.Errorf("closing context file: %w", err)
	}
	if err := os.Rename(name, path); err != nil {
		os.Remove(name)
		return fmt.Errorf("replacing context file: %w", err)
	}
	return nil
}
