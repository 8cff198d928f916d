// Package session holds per-run state: lifecycle phase, the spec the run
// was created from, pending human interactions, and the event bus.
package session

import (
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/elisa-build/elisa/pkg/events"
	"github.com/elisa-build/elisa/pkg/spec"
	"github.com/elisa-build/elisa/pkg/tokens"
)

// State is the session lifecycle phase.
type State string

const (
	StateIdle      State = "idle"
	StatePlanning  State = "planning"
	StateExecuting State = "executing"
	StateTesting   State = "testing"
	StateDeploying State = "deploying"
	StateJudging   State = "judging"
	StateDone      State = "done"
	StateError     State = "error"
)

// Terminal reports whether the state ends the session.
func (s State) Terminal() bool {
	return s == StateDone || s == StateError
}

// RestartMode controls how an existing workspace is treated at session start.
type RestartMode string

const (
	RestartContinue RestartMode = "continue"
	RestartClean    RestartMode = "clean"
)

// GateAnswer resolves a pending human gate.
type GateAnswer struct {
	Approved bool
	Feedback string
}

var (
	// ErrGatePending is returned when a second gate is requested while one
	// is already awaiting an answer.
	ErrGatePending = errors.New("session: a gate is already pending")
)

// Session is one build run. All mutable fields are guarded by mu; the
// pipeline, API handlers, and the pruner access sessions concurrently.
type Session struct {
	ID        string
	CreatedAt time.Time

	Spec          *spec.ProjectSpec
	WorkspaceDir  string
	RestartMode   RestartMode
	UserWorkspace bool

	Bus    *events.Bus
	Tokens *tokens.Tracker

	mu         sync.Mutex
	state      State
	cancelled  bool
	cancel     func()
	finishedAt time.Time
	logCloser  io.Closer

	gate      chan GateAnswer
	questions map[string]chan map[string]string
}

// New creates a session in the idle state with a fresh id.
func New(ps *spec.ProjectSpec, workspaceDir string, mode RestartMode, userWorkspace bool, bus *events.Bus) *Session {
	return &Session{
		ID:            uuid.New().String(),
		CreatedAt:     time.Now(),
		Spec:          ps,
		WorkspaceDir:  workspaceDir,
		RestartMode:   mode,
		UserWorkspace: userWorkspace,
		Bus:           bus,
		Tokens:        tokens.NewTracker(),
		state:         StateIdle,
		questions:     make(map[string]chan map[string]string),
	}
}

// State returns the current lifecycle phase.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// SetState transitions the session. Terminal states are sticky; once done
// or error is reached further transitions are ignored.
func (s *Session) SetState(next State) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state.Terminal() {
		return
	}
	s.state = next
	if next.Terminal() {
		s.finishedAt = time.Now()
	}
}

// BindCancel stores the pipeline's cancel function. If the session was
// cancelled before the pipeline started, the function runs immediately.
func (s *Session) BindCancel(cancel func()) {
	s.mu.Lock()
	already := s.cancelled
	s.cancel = cancel
	s.mu.Unlock()
	if already && cancel != nil {
		cancel()
	}
}

// Cancel requests cooperative shutdown of the run. Idempotent.
func (s *Session) Cancel() {
	s.mu.Lock()
	if s.cancelled {
		s.mu.Unlock()
		return
	}
	s.cancelled = true
	cancel := s.cancel
	gate := s.gate
	s.gate = nil
	qs := s.questions
	s.questions = make(map[string]chan map[string]string)
	s.mu.Unlock()

	// Unblock anything waiting on a human before the context propagates.
	if gate != nil {
		close(gate)
	}
	for _, ch := range qs {
		close(ch)
	}
	if cancel != nil {
		cancel()
	}
}

// Cancelled reports whether Cancel has been called.
func (s *Session) Cancelled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cancelled
}

// FinishedAt returns when the session reached a terminal state, or zero.
func (s *Session) FinishedAt() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.finishedAt
}

// RequestGate registers a pending gate and returns the channel its answer
// will arrive on. At most one gate may be pending per session; the channel
// is closed without a value when the session is cancelled.
func (s *Session) RequestGate() (<-chan GateAnswer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancelled {
		ch := make(chan GateAnswer)
		close(ch)
		return ch, nil
	}
	if s.gate != nil {
		return nil, ErrGatePending
	}
	ch := make(chan GateAnswer, 1)
	s.gate = ch
	return ch, nil
}

// AnswerGate resolves the pending gate. Answering when no gate is pending
// is a silent no-op so late or duplicate clicks never fail the request.
func (s *Session) AnswerGate(ans GateAnswer) {
	s.mu.Lock()
	ch := s.gate
	s.gate = nil
	s.mu.Unlock()
	if ch != nil {
		ch <- ans
	}
}

// RequestQuestion registers a pending question set for a task and returns
// the channel its answers will arrive on. A second question for the same
// task while one is pending is an error in the dispatcher, not the client.
func (s *Session) RequestQuestion(taskID string) (<-chan map[string]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancelled {
		ch := make(chan map[string]string)
		close(ch)
		return ch, nil
	}
	if _, ok := s.questions[taskID]; ok {
		return nil, fmt.Errorf("session: question already pending for task %s", taskID)
	}
	ch := make(chan map[string]string, 1)
	s.questions[taskID] = ch
	return ch, nil
}

// AnswerQuestion resolves the pending question set for a task. Unknown task
// ids are silent no-ops.
func (s *Session) AnswerQuestion(taskID string, answers map[string]string) {
	s.mu.Lock()
	ch := s.questions[taskID]
	delete(s.questions, taskID)
	s.mu.Unlock()
	if ch != nil {
		ch <- answers
	}
}

// SetLogCloser attaches the session log file so Close can release it.
func (s *Session) SetLogCloser(c io.Closer) {
	s.mu.Lock()
	s.logCloser = c
	s.mu.Unlock()
}

// Close releases session resources: the event bus and the log file.
func (s *Session) Close() {
	if s.Bus != nil {
		s.Bus.Close()
	}
	s.mu.Lock()
	c := s.logCloser
	s.logCloser = nil
	s.mu.Unlock()
	if c != nil {
		_ = c.Close()
	}
}
