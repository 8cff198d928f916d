// Package dag schedules the task dependency graph: topological readiness
// with a bounded-concurrency claim loop and failure cascading.
package dag

import (
	"errors"
	"fmt"
	"sync"

	"github.com/elisa-build/elisa/pkg/models"
)

var (
	// ErrCycle indicates the dependency graph is not acyclic.
	ErrCycle = errors.New("dag: dependency cycle detected")
	// ErrUnknownDependency indicates a task depends on an id not in the graph.
	ErrUnknownDependency = errors.New("dag: unknown dependency")
)

// Scheduler yields ready tasks up to a concurrency cap and propagates
// completion. One scheduler per run; all methods are safe for concurrent
// use by the executor's workers.
type Scheduler struct {
	concurrency int

	mu      sync.Mutex
	order   []string
	tasks   map[string]*models.Task
	running int

	// wake has capacity 1; a claim-loop blocked on an empty ready set is
	// signalled whenever a task terminates.
	wake chan struct{}
}

// NewScheduler validates the graph and returns a scheduler. Tasks keep
// their insertion order for ready-set tie-breaking.
func NewScheduler(tasks []*models.Task, concurrency int) (*Scheduler, error) {
	if concurrency < 1 {
		concurrency = 1
	}
	s := &Scheduler{
		concurrency: concurrency,
		tasks:       make(map[string]*models.Task, len(tasks)),
		wake:        make(chan struct{}, 1),
	}
	for _, t := range tasks {
		if _, dup := s.tasks[t.ID]; dup {
			return nil, fmt.Errorf("dag: duplicate task id %s", t.ID)
		}
		s.tasks[t.ID] = t
		s.order = append(s.order, t.ID)
	}
	for _, t := range tasks {
		for _, dep := range t.DependsOn {
			if _, ok := s.tasks[dep]; !ok {
				return nil, fmt.Errorf("%w: task %s depends on %s", ErrUnknownDependency, t.ID, dep)
			}
		}
	}
	if err := s.checkAcyclic(); err != nil {
		return nil, err
	}
	return s, nil
}

// ClaimReady returns the next batch of ready tasks, marking each
// in_progress. The batch size is bounded by the free concurrency slots.
// An empty batch with Finished() false means the caller should Wait.
func (s *Scheduler) ClaimReady() []*models.Task {
	s.mu.Lock()
	defer s.mu.Unlock()

	var batch []*models.Task
	for _, id := range s.order {
		if s.running+len(batch) >= s.concurrency {
			break
		}
		t := s.tasks[id]
		if t.Status != models.TaskPending || !s.depsSatisfied(t) {
			continue
		}
		t.Status = models.TaskInProgress
		batch = append(batch, t)
	}
	s.running += len(batch)
	return batch
}

// MarkDone records a successful task and wakes the claim loop.
func (s *Scheduler) MarkDone(id string) {
	s.mu.Lock()
	if t, ok := s.tasks[id]; ok && t.Status == models.TaskInProgress {
		t.Status = models.TaskDone
		s.running--
	}
	s.mu.Unlock()
	s.signal()
}

// MarkFailed records a terminal failure and cascades it to every
// transitive dependent that can no longer run. Returns the cascaded tasks
// so the executor can emit task_failed for each.
func (s *Scheduler) MarkFailed(id, reason string) []*models.Task {
	s.mu.Lock()
	t, ok := s.tasks[id]
	if ok && t.Status == models.TaskInProgress {
		t.Status = models.TaskFailed
		t.FailureReason = reason
		s.running--
	}
	cascaded := s.cascade(id)
	s.mu.Unlock()
	s.signal()
	return cascaded
}

// Wait blocks until a task terminates or the done channel closes.
func (s *Scheduler) Wait(done <-chan struct{}) {
	select {
	case <-s.wake:
	case <-done:
	}
}

// Finished reports whether every task is terminal.
func (s *Scheduler) Finished() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range s.tasks {
		if !t.Status.Terminal() {
			return false
		}
	}
	return true
}

// Snapshot returns the tasks in insertion order.
func (s *Scheduler) Snapshot() []*models.Task {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*models.Task, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.tasks[id])
	}
	return out
}

// Counts returns done, failed, and total task counts.
func (s *Scheduler) Counts() (done, failed, total int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range s.tasks {
		switch t.Status {
		case models.TaskDone:
			done++
		case models.TaskFailed:
			failed++
		}
	}
	return done, failed, len(s.order)
}

func (s *Scheduler) depsSatisfied(t *models.Task) bool {
	for _, dep := range t.DependsOn {
		if s.tasks[dep].Status != models.TaskDone {
			return false
		}
	}
	return true
}

// cascade marks every pending transitive dependent of a failed task as
// failed with reason predecessor_failed. Dependents already in flight are
// left to finish on their own.
func (s *Scheduler) cascade(failedID string) []*models.Task {
	var out []*models.Task
	frontier := []string{failedID}
	seen := map[string]bool{failedID: true}
	for len(frontier) > 0 {
		next := frontier[:0:0]
		for _, fid := range frontier {
			for _, id := range s.order {
				t := s.tasks[id]
				if seen[id] || !dependsOn(t, fid) {
					continue
				}
				seen[id] = true
				if t.Status == models.TaskPending {
					t.Status = models.TaskFailed
					t.FailureReason = models.FailureReasonPredecessor
					out = append(out, t)
				}
				next = append(next, id)
			}
		}
		frontier = next
	}
	return out
}

func dependsOn(t *models.Task, id string) bool {
	for _, dep := range t.DependsOn {
		if dep == id {
			return true
		}
	}
	return false
}

func (s *Scheduler) signal() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *Scheduler) checkAcyclic() error {
	const (
		white = 0
		gray  = 1
		black = 2
	)
	color := make(map[string]int, len(s.tasks))
	var visit func(id string) error
	visit = func(id string) error {
		switch color[id] {
		case gray:
			return fmt.Errorf("%w: involving task %s", ErrCycle, id)
		case black:
			return nil
		}
		color[id] = gray
		for _, dep := range s.tasks[id].DependsOn {
			if err := visit(dep); err != nil {
				return err
			}
		}
		color[id] = black
		return nil
	}
	for _, id := range s.order {
		if err := visit(id); err != nil {
			return err
		}
	}
	return nil
}
