package dag

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/elisa-build/elisa/pkg/models"
)

func task(id string, deps ...string) *models.Task {
	return &models.Task{ID: id, Name: id, Status: models.TaskPending, DependsOn: deps}
}

func TestNewScheduler_RejectsDuplicateIDs(t *testing.T) {
	_, err := NewScheduler([]*models.Task{task("a"), task("a")}, 1)
	assert.Error(t, err)
}

func TestNewScheduler_RejectsUnknownDependency(t *testing.T) {
	_, err := NewScheduler([]*models.Task{task("a", "ghost")}, 1)
	assert.ErrorIs(t, err, ErrUnknownDependency)
}

func TestNewScheduler_RejectsCycle(t *testing.T) {
	_, err := NewScheduler([]*models.Task{
		task("a", "b"), task("b", "c"), task("c", "a"),
	}, 1)
	assert.ErrorIs(t, err, ErrCycle)
}

func TestScheduler_ClaimReadyRespectsConcurrency(t *testing.T) {
	s, err := NewScheduler([]*models.Task{task("a"), task("b"), task("c"), task("d")}, 3)
	require.NoError(t, err)

	batch := s.ClaimReady()
	require.Len(t, batch, 3)
	for _, tk := range batch {
		assert.Equal(t, models.TaskInProgress, tk.Status)
	}

	// All slots busy: nothing more until something terminates.
	assert.Empty(t, s.ClaimReady())

	s.MarkDone("a")
	batch = s.ClaimReady()
	require.Len(t, batch, 1)
	assert.Equal(t, "d", batch[0].ID)
}

func TestScheduler_ClaimReadyHonorsDependencies(t *testing.T) {
	s, err := NewScheduler([]*models.Task{task("a"), task("b", "a"), task("c", "b")}, 3)
	require.NoError(t, err)

	batch := s.ClaimReady()
	require.Len(t, batch, 1)
	assert.Equal(t, "a", batch[0].ID)

	s.MarkDone("a")
	batch = s.ClaimReady()
	require.Len(t, batch, 1)
	assert.Equal(t, "b", batch[0].ID)
}

func TestScheduler_ClaimReadyInsertionOrder(t *testing.T) {
	s, err := NewScheduler([]*models.Task{task("z"), task("a"), task("m")}, 2)
	require.NoError(t, err)

	batch := s.ClaimReady()
	require.Len(t, batch, 2)
	assert.Equal(t, "z", batch[0].ID)
	assert.Equal(t, "a", batch[1].ID)
}

func TestScheduler_MarkFailedCascadesTransitively(t *testing.T) {
	// a <- b <- c, plus d independent. Failing a must fail b and c, not d.
	s, err := NewScheduler([]*models.Task{
		task("a"), task("b", "a"), task("c", "b"), task("d"),
	}, 4)
	require.NoError(t, err)

	s.ClaimReady()
	cascaded := s.MarkFailed("a", "boom")

	require.Len(t, cascaded, 2)
	ids := []string{cascaded[0].ID, cascaded[1].ID}
	assert.ElementsMatch(t, []string{"b", "c"}, ids)
	for _, tk := range cascaded {
		assert.Equal(t, models.TaskFailed, tk.Status)
		assert.Equal(t, models.FailureReasonPredecessor, tk.FailureReason)
	}

	s.MarkDone("d")
	assert.True(t, s.Finished())

	done, failed, total := s.Counts()
	assert.Equal(t, 1, done)
	assert.Equal(t, 3, failed)
	assert.Equal(t, 4, total)
}

func TestScheduler_MarkFailedLeavesInFlightDependents(t *testing.T) {
	// b already claimed when a fails: b stays in flight.
	s, err := NewScheduler([]*models.Task{task("a"), task("b")}, 2)
	require.NoError(t, err)

	s.ClaimReady()
	cascaded := s.MarkFailed("a", "boom")
	assert.Empty(t, cascaded)
	assert.Equal(t, models.TaskInProgress, s.Snapshot()[1].Status)
}

func TestScheduler_WaitWakesOnCompletion(t *testing.T) {
	s, err := NewScheduler([]*models.Task{task("a"), task("b", "a")}, 1)
	require.NoError(t, err)

	s.ClaimReady()
	go s.MarkDone("a")

	done := make(chan struct{})
	s.Wait(done) // must return once MarkDone signals

	batch := s.ClaimReady()
	require.Len(t, batch, 1)
	assert.Equal(t, "b", batch[0].ID)
}
