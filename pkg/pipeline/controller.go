// Package pipeline is the per-session state machine: plan, execute, test,
// deploy, judge, complete, with cancellation and teardown.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/elisa-build/elisa/pkg/buildctx"
	"github.com/elisa-build/elisa/pkg/config"
	"github.com/elisa-build/elisa/pkg/deploy"
	"github.com/elisa-build/elisa/pkg/dispatch"
	"github.com/elisa-build/elisa/pkg/events"
	"github.com/elisa-build/elisa/pkg/judge"
	"github.com/elisa-build/elisa/pkg/llm"
	"github.com/elisa-build/elisa/pkg/memory"
	"github.com/elisa-build/elisa/pkg/models"
	"github.com/elisa-build/elisa/pkg/planner"
	"github.com/elisa-build/elisa/pkg/session"
	"github.com/elisa-build/elisa/pkg/teach"
	"github.com/elisa-build/elisa/pkg/testrun"
	"github.com/elisa-build/elisa/pkg/tools"
	"github.com/elisa-build/elisa/pkg/vcs"
	"github.com/elisa-build/elisa/pkg/workspace"
)

// Scorer is the judge capability. Satisfied by *judge.Judge; tests inject
// fixed verdicts.
type Scorer interface {
	Score(in judge.Input) *models.JudgeResult
}

// Deps are the capabilities one pipeline run composes.
type Deps struct {
	Config    *config.Config
	Session   *session.Session
	Workspace *workspace.Manager
	Client    llm.Client
	Sandbox   *tools.Sandbox
	Store     vcs.VersionStore
	Runner    testrun.Runner
	Memory    *memory.Store
	Judge     Scorer
	Teacher   *teach.Engine
}

// Controller drives one run. Exactly one active Run per session.
type Controller struct {
	cfg     *config.Config
	sess    *session.Session
	bus     *events.Bus
	ws      *workspace.Manager
	client  llm.Client
	sandbox *tools.Sandbox
	store   vcs.VersionStore
	runner  testrun.Runner
	memory  *memory.Store
	judge   Scorer
	teacher *teach.Engine

	dispatcher *dispatch.Dispatcher
	ctxMgr     *buildctx.Manager
	deployMgr  *deploy.Manager

	// gateMu serializes human gates from concurrent workers; the session
	// allows only one pending gate.
	gateMu sync.Mutex

	mu            sync.Mutex
	plan          *planner.Plan
	commits       []models.Commit
	testReport    *models.TestReport
	judgeResult   *models.JudgeResult
	useFallback   bool
	webPreviewURL string
}

// NewController wires a controller from its dependencies.
func NewController(d Deps) *Controller {
	c := &Controller{
		cfg:        d.Config,
		sess:       d.Session,
		bus:        d.Session.Bus,
		ws:         d.Workspace,
		client:     d.Client,
		sandbox:    d.Sandbox,
		store:      d.Store,
		runner:     d.Runner,
		memory:     d.Memory,
		judge:      d.Judge,
		teacher:    d.Teacher,
		ctxMgr:     buildctx.NewManager(d.Workspace),
		deployMgr:  deploy.NewManager(),
		dispatcher: dispatch.NewDispatcher(d.Client, d.Sandbox, d.Session.Bus, d.Session.Tokens),
	}
	if c.sandbox != nil {
		c.sandbox.SetAskFunc(c.askUser)
	}
	return c
}

// Run executes the full pipeline. Intended to be launched as a goroutine;
// all failures surface as events, not errors.
func (c *Controller) Run(ctx context.Context) {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	c.sess.BindCancel(cancel)

	log := slog.With("session_id", c.sess.ID)
	log.Info("Pipeline starting", "goal", c.sess.Spec.Goal)

	err := c.runPhases(runCtx, log)
	if err == nil {
		return
	}

	if c.sess.Cancelled() || runCtx.Err() != nil {
		log.Info("Pipeline cancelled")
		c.finishWithError("Build cancelled")
		return
	}
	log.Error("Pipeline failed", "error", err)
	c.finishWithError(err.Error())
}

func (c *Controller) runPhases(ctx context.Context, log *slog.Logger) error {
	defer c.deployMgr.Teardown()

	if err := c.prepareWorkspace(ctx); err != nil {
		return err
	}
	if err := c.checkpoint(ctx); err != nil {
		return err
	}

	if err := c.planPhase(ctx, log); err != nil {
		return err
	}
	if err := c.checkpoint(ctx); err != nil {
		return err
	}

	if deploy.ShouldInitializePortals(c.sess.Spec) {
		if _, err := deploy.InitPortals(ctx, c.deployMgr, c.sess.Spec); err != nil {
			log.Warn("Portal initialization failed", "error", err)
		}
	}

	if err := c.executePhase(ctx, log); err != nil {
		return err
	}
	if err := c.checkpoint(ctx); err != nil {
		return err
	}

	if err := c.reviewPhase(ctx, log); err != nil {
		return err
	}
	if err := c.checkpoint(ctx); err != nil {
		return err
	}

	if err := c.testPhase(ctx, log); err != nil {
		return err
	}
	if err := c.checkpoint(ctx); err != nil {
		return err
	}

	if err := c.deployPhase(ctx, log); err != nil {
		return err
	}
	if err := c.checkpoint(ctx); err != nil {
		return err
	}

	if err := c.judgePhase(ctx, log); err != nil {
		return err
	}
	if err := c.checkpoint(ctx); err != nil {
		return err
	}

	c.completePhase(log)
	return nil
}

// checkpoint fails fast between phases when the session was cancelled.
func (c *Controller) checkpoint(ctx context.Context) error {
	if c.sess.Cancelled() {
		return context.Canceled
	}
	return ctx.Err()
}

func (c *Controller) prepareWorkspace(ctx context.Context) error {
	if err := c.ws.Provision(); err != nil {
		return err
	}
	if c.sess.RestartMode == session.RestartClean {
		if _, err := c.ws.Reset(); err != nil {
			return err
		}
	}
	if err := c.ws.CleanStaleMetadata(); err != nil {
		return err
	}
	c.bus.Publish(&events.WorkspaceCreatedPayload{
		Type: events.TypeWorkspaceCreated, Path: c.ws.Root(),
	})
	if c.store != nil {
		if err := c.store.InitRepo(ctx, c.ws.Root(), c.sess.Spec.Goal); err != nil {
			return fmt.Errorf("initializing version store: %w", err)
		}
	}
	return nil
}

// finishWithError is the single terminal error path: emit the event, mark
// the session done, record what we know to memory, and close the stream.
func (c *Controller) finishWithError(message string) {
	c.recordMemory()
	c.bus.Publish(&events.ErrorPayload{
		Type: events.TypeError, Message: message, Recoverable: false,
	})
	c.sess.SetState(session.StateDone)
	c.bus.Close()
}

// Cancel requests cooperative shutdown.
func (c *Controller) Cancel() {
	c.sess.Cancel()
}

// AnswerGate resolves a pending human gate.
func (c *Controller) AnswerGate(approved bool, feedback string) {
	c.sess.AnswerGate(session.GateAnswer{Approved: approved, Feedback: feedback})
}

// AnswerQuestion resolves pending agent questions for a task.
func (c *Controller) AnswerQuestion(taskID string, answers map[string]string) {
	c.sess.AnswerQuestion(taskID, answers)
}

// Commits returns the commits created so far, in order.
func (c *Controller) Commits() []models.Commit {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]models.Commit(nil), c.commits...)
}

// TestResults returns the last test report, or nil.
func (c *Controller) TestResults() *models.TestReport {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.testReport
}

// model returns the model id for the next dispatch, honoring the
// output-limit fallback switch.
func (c *Controller) model() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.useFallback {
		return c.cfg.FallbackModel
	}
	return c.cfg.OpenAIModel
}

func (c *Controller) switchToFallbackModel() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.useFallback {
		c.useFallback = true
		slog.Info("Switching to fallback model for the rest of the run",
			"session_id", c.sess.ID, "model", c.cfg.FallbackModel)
	}
}

// requestGate blocks on a human decision. Returns approved=false when the
// session is cancelled while waiting.
func (c *Controller) requestGate(ctx context.Context, taskID, question, detail string, retryCount int) (session.GateAnswer, error) {
	c.gateMu.Lock()
	defer c.gateMu.Unlock()

	ch, err := c.sess.RequestGate()
	if err != nil {
		return session.GateAnswer{}, err
	}
	c.bus.Publish(&events.HumanGatePayload{
		Type: events.TypeHumanGate, TaskID: taskID,
		Question: question, Context: detail, RetryCount: retryCount,
	})

	select {
	case ans, ok := <-ch:
		if !ok {
			return session.GateAnswer{}, context.Canceled
		}
		return ans, nil
	case <-ctx.Done():
		return session.GateAnswer{}, ctx.Err()
	}
}

// askUser implements the AskUser tool: suspend the dispatch, surface the
// questions, and resume with the operator's answers.
func (c *Controller) askUser(ctx context.Context, questions []string) (map[string]string, error) {
	taskID := taskIDFrom(ctx)
	ch, err := c.sess.RequestQuestion(taskID)
	if err != nil {
		return nil, err
	}
	c.bus.Publish(&events.AgentQuestionPayload{
		Type: events.TypeAgentQuestion, TaskID: taskID, Questions: questions,
	})

	select {
	case answers, ok := <-ch:
		if !ok {
			return nil, context.Canceled
		}
		return answers, nil
	case <-ctx.Done():
		c.sess.AnswerQuestion(taskID, nil)
		return nil, ctx.Err()
	}
}

type taskIDKey struct{}

func withTaskID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, taskIDKey{}, id)
}

func taskIDFrom(ctx context.Context) string {
	if id, ok := ctx.Value(taskIDKey{}).(string); ok {
		return id
	}
	return ""
}

// recordMemory persists the run outcome, best effort, even on partial
// failure.
func (c *Controller) recordMemory() {
	if c.memory == nil {
		return
	}
	c.mu.Lock()
	plan := c.plan
	report := c.testReport
	jr := c.judgeResult
	commits := append([]models.Commit(nil), c.commits...)
	c.mu.Unlock()

	rec := memory.Record{
		SessionID:    c.sess.ID,
		CreatedAt:    time.Now(),
		Goal:         c.sess.Spec.Goal,
		NuggetType:   c.sess.Spec.ProjectType,
		DeployTarget: string(c.sess.Spec.Deployment.Target),
		Keywords:     memory.Keywords(c.sess.Spec),
		SkillsUsed:   memory.SpecPatterns(c.sess.Spec),
	}
	for _, cm := range commits {
		rec.CommitHighlights = append(rec.CommitHighlights, cm.Message)
	}
	if plan != nil {
		for _, t := range plan.Tasks {
			rec.Outcome.TasksTotal++
			switch t.Status {
			case models.TaskDone:
				rec.Outcome.TasksDone++
			case models.TaskFailed:
				rec.Outcome.TasksFailed++
			}
		}
	}
	if report != nil {
		rec.Outcome.TestsPassed = report.Passed
		rec.Outcome.TestsFailed = report.Failed
		rec.Outcome.CoveragePct = report.CoveragePct
	}
	snap := c.sess.Tokens.Snapshot()
	rec.Outcome.TokensTotal = snap.TotalTokens
	rec.Outcome.CostUSD = snap.CostUSD
	if jr != nil {
		rec.Outcome.JudgeScore = jr.Score
		rec.Outcome.JudgeOverridden = jr.Overridden
	}
	rec.Outcome.Success = rec.Outcome.TasksTotal > 0 &&
		rec.Outcome.TasksDone == rec.Outcome.TasksTotal &&
		(jr == nil || jr.Passed)

	if err := c.memory.RecordRun(rec); err != nil {
		slog.Warn("Failed to record run to memory", "session_id", c.sess.ID, "error", err)
	}
}
