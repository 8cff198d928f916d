package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/elisa-build/elisa/pkg/dag"
	"github.com/elisa-build/elisa/pkg/dispatch"
	"github.com/elisa-build/elisa/pkg/events"
	"github.com/elisa-build/elisa/pkg/models"
	"github.com/elisa-build/elisa/pkg/prompt"
	"github.com/elisa-build/elisa/pkg/session"
)

// errRunAborted terminates the whole run after a rejected gate.
var errRunAborted = errors.New("Build stopped at human gate")

// executePhase drives the scheduler until every task is terminal.
func (c *Controller) executePhase(ctx context.Context, log *slog.Logger) error {
	c.sess.SetState(session.StateExecuting)

	c.mu.Lock()
	plan := c.plan
	c.mu.Unlock()
	if plan == nil || len(plan.Tasks) == 0 {
		return fmt.Errorf("executor started without a plan")
	}

	sched, err := dag.NewScheduler(plan.Tasks, c.cfg.TaskConcurrency)
	if err != nil {
		return err
	}

	phaseCtx, cancelPhase := context.WithCancel(ctx)
	defer cancelPhase()

	var wg sync.WaitGroup
	var abortOnce sync.Once
	var abortErr error
	abort := func(err error) {
		abortOnce.Do(func() {
			abortErr = err
			cancelPhase()
		})
	}

	for !sched.Finished() {
		if phaseCtx.Err() != nil {
			break
		}
		batch := sched.ClaimReady()
		if len(batch) == 0 {
			sched.Wait(phaseCtx.Done())
			continue
		}
		for _, task := range batch {
			wg.Add(1)
			go func(t *models.Task) {
				defer wg.Done()
				c.runTask(phaseCtx, log, sched, t, abort)
			}(task)
		}
	}
	wg.Wait()

	if abortErr != nil {
		return abortErr
	}
	return ctx.Err()
}

// runTask owns one task through its retry ladder.
func (c *Controller) runTask(ctx context.Context, log *slog.Logger, sched *dag.Scheduler, task *models.Task, abort func(error)) {
	agent := c.agentFor(task.AgentName)
	taskCtx := withTaskID(ctx, task.ID)

	compact := false
	var lastSummary string
	for attempt := 0; ; attempt++ {
		task.RetryCount = attempt
		c.bus.Publish(&events.TaskStartedPayload{
			Type: events.TypeTaskStarted, TaskID: task.ID,
			TaskName: task.Name, AgentName: task.AgentName, Attempt: attempt,
		})
		c.setAgentStatus(agent, models.AgentWorking, task.ID)

		if err := c.ws.CleanStaleMetadata(); err != nil {
			log.Warn("Stale metadata cleanup failed", "task_id", task.ID, "error", err)
		}

		res := c.dispatchAttempt(taskCtx, task, agent, attempt, compact)
		if ctx.Err() != nil {
			return
		}

		if res.Success {
			c.completeTask(taskCtx, log, sched, task, agent, res)
			return
		}

		lastSummary = res.Summary
		log.Warn("Task attempt failed", "task_id", task.ID, "attempt", attempt, "summary", firstN(lastSummary, 200))

		if dispatch.IsOutputLimitError(res.Summary) {
			c.switchToFallbackModel()
		}
		if dispatch.IsContextWindowError(res.Summary) {
			compact = true
		}
		if attempt < c.cfg.RetryLimit {
			continue
		}

		// Retries exhausted: the human decides between skip and abort.
		ans, err := c.requestGate(ctx, task.ID,
			fmt.Sprintf("Task %q failed after %d attempts. Continue without it?", task.Name, attempt+1),
			lastSummary, attempt)
		if err != nil {
			return
		}
		if !ans.Approved {
			c.failTask(sched, task, agent, lastSummary)
			abort(errRunAborted)
			return
		}
		c.failTask(sched, task, agent, lastSummary)
		return
	}
}

func (c *Controller) dispatchAttempt(ctx context.Context, task *models.Task, agent *models.Agent, attempt int, compact bool) *dispatch.Result {
	snapshot := prompt.TakeSnapshot(c.ws.Root())
	prompts := prompt.Assemble(prompt.Input{
		Task:     task,
		Agent:    agent,
		Snapshot: snapshot,
		Context:  c.ctxMgr.ContextFor(task),
		Attempt:  attempt,
		Workflow: c.sess.Spec.Workflow,
		Compact:  compact,
	})

	maxTokens := c.cfg.CompletionTokens(attempt)
	return c.dispatcher.Dispatch(ctx, task.ID, prompts.System, prompts.User, dispatch.Options{
		MaxTurns:            c.cfg.MaxTurns(attempt),
		MaxCompletionTokens: maxTokens,
		Timeout:             c.cfg.DispatchTimeout,
		Model:               c.model(),
		EnableStreaming:     true,
		EnableToolCalling:   true,
	})
}

func (c *Controller) completeTask(ctx context.Context, log *slog.Logger, sched *dag.Scheduler, task *models.Task, agent *models.Agent, res *dispatch.Result) {
	if err := c.ctxMgr.RecordResult(task.ID, res.Summary); err != nil {
		log.Warn("Failed to record task context", "task_id", task.ID, "error", err)
	}

	if c.store != nil {
		commit, err := c.store.Commit(ctx, c.ws.Root(),
			fmt.Sprintf("%s: %s", task.ID, task.Name), task.AgentName, task.ID)
		if err != nil {
			log.Warn("Commit failed", "task_id", task.ID, "error", err)
		} else if commit != nil {
			c.mu.Lock()
			c.commits = append(c.commits, *commit)
			c.mu.Unlock()
			c.bus.Publish(&events.CommitCreatedPayload{
				Type: events.TypeCommitCreated, Commit: *commit,
			})
			if len(commit.Files) > 0 {
				c.bus.Publish(&events.CodeGeneratedPayload{
					Type: events.TypeCodeGenerated, TaskID: task.ID, Files: commit.Files,
				})
			}
		}
	}

	c.bus.Publish(&events.TaskCompletedPayload{
		Type: events.TypeTaskCompleted, TaskID: task.ID, Summary: firstN(res.Summary, 500),
	})
	c.setAgentStatus(agent, models.AgentDone, task.ID)
	c.publishTeachingMoment(ctx, task, res.Summary)
	sched.MarkDone(task.ID)
}

func (c *Controller) failTask(sched *dag.Scheduler, task *models.Task, agent *models.Agent, reason string) {
	cascaded := sched.MarkFailed(task.ID, reason)
	c.bus.Publish(&events.TaskFailedPayload{
		Type: events.TypeTaskFailed, TaskID: task.ID,
		Reason: firstN(reason, 500), RetryCount: task.RetryCount,
	})
	c.setAgentStatus(agent, models.AgentError, task.ID)
	for _, dep := range cascaded {
		c.bus.Publish(&events.TaskFailedPayload{
			Type: events.TypeTaskFailed, TaskID: dep.ID,
			Reason: models.FailureReasonPredecessor,
		})
	}
}

func (c *Controller) publishTeachingMoment(ctx context.Context, task *models.Task, summary string) {
	if c.teacher == nil {
		return
	}
	momentCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	m := c.teacher.MomentFor(momentCtx, task, summary)
	if m == nil {
		return
	}
	c.bus.Publish(&events.TeachingMomentPayload{
		Type: events.TypeTeachingMoment, TaskID: task.ID,
		Concept: m.Concept, Explanation: m.Explanation,
	})
}

func (c *Controller) agentFor(name string) *models.Agent {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.plan != nil {
		for _, a := range c.plan.Agents {
			if a.Name == name {
				return a
			}
		}
	}
	return &models.Agent{Name: name, Role: models.RoleCustom, Status: models.AgentIdle}
}

func (c *Controller) setAgentStatus(agent *models.Agent, status models.AgentStatus, taskID string) {
	c.mu.Lock()
	agent.Status = status
	c.mu.Unlock()
	c.bus.Publish(&events.AgentStatusPayload{
		Type: events.TypeAgentStatus, AgentName: agent.Name, Status: status, TaskID: taskID,
	})
}

func firstN(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
