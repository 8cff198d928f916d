package buildctx

import (
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/elisa-build/elisa/pkg/models"
	"github.com/elisa-build/elisa/pkg/workspace"
)

func newTestContext(t *testing.T) *Manager {
	t.Helper()
	ws, err := workspace.NewManager(t.TempDir())
	require.NoError(t, err)
	require.NoError(t, ws.Provision())
	return NewManager(ws)
}

func TestManager_RecordResultWritesFiles(t *testing.T) {
	m := newTestContext(t)

	require.NoError(t, m.RecordResult("task-1", "Built the sensor driver."))

	comms, err := os.ReadFile(m.ws.CommsPath("task-1_summary.md"))
	require.NoError(t, err)
	assert.Equal(t, "Built the sensor driver.", string(comms))

	rolling, err := os.ReadFile(m.ws.ContextPath("nugget_context.md"))
	require.NoError(t, err)
	assert.Contains(t, string(rolling), "# Build Context")
	assert.Contains(t, string(rolling), "## task-1")
	assert.Contains(t, string(rolling), "Built the sensor driver.")
}

func TestManager_ContextForDependenciesOnly(t *testing.T) {
	m := newTestContext(t)
	require.NoError(t, m.RecordResult("task-1", "Sensor wired."))
	require.NoError(t, m.RecordResult("task-2", "Dashboard served."))
	require.NoError(t, m.RecordResult("task-3", "Unrelated work."))

	task := &models.Task{ID: "task-4", DependsOn: []string{"task-1", "task-2"}}
	ctx := m.ContextFor(task)

	assert.Contains(t, ctx, "## Work Completed by Previous Tasks")
	assert.Contains(t, ctx, "### Result of task-1")
	assert.Contains(t, ctx, "Sensor wired.")
	assert.Contains(t, ctx, "### Result of task-2")
	assert.NotContains(t, ctx, "task-3")
	assert.NotContains(t, ctx, "Unrelated work.")

	// Completion order, not dependency declaration order.
	assert.Less(t, strings.Index(ctx, "task-1"), strings.Index(ctx, "task-2"))
}

func TestManager_ContextForNoPredecessors(t *testing.T) {
	m := newTestContext(t)
	require.NoError(t, m.RecordResult("task-1", "Done."))

	assert.Empty(t, m.ContextFor(&models.Task{ID: "task-2"}))
	assert.Empty(t, m.ContextFor(&models.Task{ID: "task-3", DependsOn: []string{"never-ran"}}))
}

func TestManager_ContextWordCap(t *testing.T) {
	m := newTestContext(t)
	m.wordBudget = 20

	long := strings.Repeat("word ", 100)
	require.NoError(t, m.RecordResult("task-1", long))

	ctx := m.ContextFor(&models.Task{ID: "task-2", DependsOn: []string{"task-1"}})
	assert.True(t, strings.HasSuffix(ctx, "[Context truncated]"))
	assert.LessOrEqual(t, len(strings.Fields(ctx)), 23)
}

func TestManager_Summary(t *testing.T) {
	m := newTestContext(t)
	require.NoError(t, m.RecordResult("task-1", "Done."))

	s, ok := m.Summary("task-1")
	assert.True(t, ok)
	assert.Equal(t, "Done.", s)

	_, ok = m.Summary("task-9")
	assert.False(t, ok)
}

func TestManager_RecordResultOverwrites(t *testing.T) {
	m := newTestContext(t)
	require.NoError(t, m.RecordResult("task-1", "First attempt."))
	require.NoError(t, m.RecordResult("task-1", "Second attempt."))

	ctx := m.ContextFor(&models.Task{ID: "task-2", DependsOn: []string{"task-1"}})
	assert.Contains(t, ctx, "Second attempt.")
	assert.NotContains(t, ctx, "First attempt.")
	// The task appears once even after a retry.
	assert.Equal(t, 1, strings.Count(ctx, "### Result of task-1"))
}
