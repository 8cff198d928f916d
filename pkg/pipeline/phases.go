package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/elisa-build/elisa/pkg/deploy"
	"github.com/elisa-build/elisa/pkg/events"
	"github.com/elisa-build/elisa/pkg/judge"
	"github.com/elisa-build/elisa/pkg/models"
	"github.com/elisa-build/elisa/pkg/planner"
	"github.com/elisa-build/elisa/pkg/session"
	"github.com/elisa-build/elisa/pkg/testrun"
)

// errJudgeRejected terminates the run when the operator rejects the
// judge override gate.
var errJudgeRejected = errors.New("Build stopped: Judge review was rejected")

func (c *Controller) planPhase(ctx context.Context, log *slog.Logger) error {
	c.sess.SetState(session.StatePlanning)
	c.bus.Publish(&events.PlanningStartedPayload{
		Type: events.TypePlanningStarted, Goal: c.sess.Spec.Goal,
	})

	memoryContext := ""
	if c.memory != nil {
		mc, err := c.memory.PlannerContext(c.sess.Spec)
		if err != nil {
			log.Warn("Failed to load planner context from memory", "error", err)
		} else {
			memoryContext = mc
		}
	}

	p := planner.New(c.client, c.model())
	plan, err := p.Build(ctx, c.sess.Spec, memoryContext)
	if err != nil {
		return err
	}

	c.mu.Lock()
	c.plan = plan
	c.mu.Unlock()

	tasks := make([]models.Task, len(plan.Tasks))
	for i, t := range plan.Tasks {
		tasks[i] = *t
	}
	agents := make([]models.Agent, len(plan.Agents))
	for i, a := range plan.Agents {
		agents[i] = *a
	}
	c.bus.Publish(&events.PlanReadyPayload{
		Type: events.TypePlanReady, Tasks: tasks, Agents: agents,
		Explanation: plan.Explanation,
	})
	for _, a := range agents {
		c.bus.Publish(&events.AgentSpawnedPayload{Type: events.TypeAgentSpawned, Agent: a})
	}
	log.Info("Plan ready", "tasks", len(tasks), "agents", len(agents))
	return nil
}

// reviewTaskID is the synthetic task id the reviewer dispatch runs under.
const reviewTaskID = "__review__"

// reviewPhase runs one reviewer dispatch over the finished work. Only when
// the workflow opts in and the plan declares a reviewer agent. Review
// failures never fail the run.
func (c *Controller) reviewPhase(ctx context.Context, log *slog.Logger) error {
	if !c.sess.Spec.Workflow.ReviewEnabled {
		return nil
	}
	reviewer := c.reviewerAgent()
	if reviewer == nil {
		return nil
	}

	c.mu.Lock()
	var doneIDs []string
	if c.plan != nil {
		for _, t := range c.plan.Tasks {
			if t.Status == models.TaskDone {
				doneIDs = append(doneIDs, t.ID)
			}
		}
	}
	c.mu.Unlock()
	if len(doneIDs) == 0 {
		return nil
	}

	c.bus.Publish(&events.CodeReviewPayload{
		Type: events.TypeCodeReviewStarted, Reviewer: reviewer.Name,
	})
	c.setAgentStatus(reviewer, models.AgentWorking, reviewTaskID)

	task := &models.Task{
		ID:        reviewTaskID,
		Name:      "Review the implemented code",
		Description: "Read the code produced for this build, point out defects, " +
			"and fix anything that blocks correctness. Conclude with a short review summary.",
		AgentName: reviewer.Name,
		DependsOn: doneIDs,
	}
	res := c.dispatchAttempt(withTaskID(ctx, reviewTaskID), task, reviewer, 0, false)
	if ctx.Err() != nil {
		return ctx.Err()
	}

	summary := res.Summary
	if !res.Success {
		log.Warn("Review dispatch did not conclude", "summary", firstN(summary, 200))
	} else if err := c.ctxMgr.RecordResult(reviewTaskID, summary); err != nil {
		log.Warn("Failed to record review summary", "error", err)
	}
	status := models.AgentDone
	if !res.Success {
		status = models.AgentError
	}
	c.setAgentStatus(reviewer, status, reviewTaskID)
	c.bus.Publish(&events.CodeReviewPayload{
		Type: events.TypeCodeReviewComplete, Reviewer: reviewer.Name,
		Summary: firstN(summary, 500),
	})
	return nil
}

func (c *Controller) reviewerAgent() *models.Agent {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.plan == nil {
		return nil
	}
	for _, a := range c.plan.Agents {
		if a.Role == models.RoleReviewer {
			return a
		}
	}
	return nil
}

func (c *Controller) testPhase(ctx context.Context, log *slog.Logger) error {
	wf := c.sess.Spec.Workflow
	if !wf.TestingEnabled && len(wf.BehavioralTests) == 0 {
		return nil
	}
	c.sess.SetState(session.StateTesting)
	c.bus.Publish(&events.TestStartedPayload{Type: events.TypeTestStarted})

	report, err := c.runner.Run(ctx, c.ws.Root())
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		log.Warn("Test run failed", "error", err)
		report = &models.TestReport{}
	}
	if report == nil {
		report = &models.TestReport{}
	}

	c.mu.Lock()
	c.testReport = report
	c.mu.Unlock()

	for _, t := range report.Tests {
		c.bus.Publish(&events.TestResultPayload{Type: events.TypeTestResult, Result: t})
	}
	c.bus.Publish(&events.TestPhaseCompletePayload{
		Type: events.TypeTestPhaseComplete, Report: *report,
	})
	log.Info("Test phase complete", "passed", report.Passed, "failed", report.Failed)
	return nil
}

func (c *Controller) deployPhase(ctx context.Context, log *slog.Logger) error {
	ps := c.sess.Spec
	wantWeb := deploy.ShouldDeployWeb(ps)
	wantPortals := deploy.ShouldDeployPortals(ps)
	wantHardware := deploy.ShouldDeployHardware(ps)
	if !wantWeb && !wantPortals && !wantHardware {
		return nil
	}

	c.sess.SetState(session.StateDeploying)
	target := string(ps.Deployment.Target)
	c.bus.Publish(&events.DeployPayload{Type: events.TypeDeployStarted, Target: target})

	if wantWeb {
		server, err := deploy.StartWebServer(ctx, c.ws.Root())
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			log.Warn("Web preview failed to start", "error", err)
			c.bus.Publish(&events.DeployPayload{
				Type: events.TypeDeployProgress, Target: target,
				Message: "Web preview unavailable: " + err.Error(),
			})
		} else {
			c.deployMgr.Track(server)
			c.mu.Lock()
			c.webPreviewURL = server.URL
			c.mu.Unlock()
			c.bus.Publish(&events.DeployPayload{
				Type: events.TypeDeployProgress, Target: target,
				Message: "Web preview running", URL: server.URL,
			})
		}
	}

	if wantPortals && !deploy.ShouldInitializePortals(ps) {
		if _, err := deploy.InitPortals(ctx, c.deployMgr, ps); err != nil {
			log.Warn("Portal deploy failed", "error", err)
		}
	}

	if wantHardware {
		// Flashing needs a device-specific toolchain; surface intent so
		// the client can guide the user, and leave the firmware in src/.
		c.bus.Publish(&events.DeployPayload{
			Type: events.TypeDeployProgress, Target: target,
			Message: "Firmware built; connect the board and flash from the device panel",
		})
	}

	c.mu.Lock()
	url := c.webPreviewURL
	c.mu.Unlock()
	c.bus.Publish(&events.DeployPayload{
		Type: events.TypeDeployComplete, Target: target, URL: url,
	})
	return nil
}

func (c *Controller) judgePhase(ctx context.Context, log *slog.Logger) error {
	c.sess.SetState(session.StateJudging)
	c.bus.Publish(&events.JudgeStartedPayload{Type: events.TypeJudgeStarted})

	c.mu.Lock()
	var tasks []*models.Task
	if c.plan != nil {
		tasks = c.plan.Tasks
	}
	commits := append([]models.Commit(nil), c.commits...)
	report := c.testReport
	c.mu.Unlock()

	corpus := judge.NewCorpus()
	corpus.AddWorkspace(c.ws.Root())
	result := c.judge.Score(judge.Input{
		Spec:    c.sess.Spec,
		Tasks:   tasks,
		Commits: commits,
		Tests:   report,
		Corpus:  corpus,
	})

	c.mu.Lock()
	c.judgeResult = result
	c.mu.Unlock()
	c.bus.Publish(&events.JudgeResultPayload{Type: events.TypeJudgeResult, Result: *result})
	log.Info("Judge scored the build", "score", result.Score, "passed", result.Passed)

	if result.Passed {
		return nil
	}

	detail := fmt.Sprintf("Score %d of %d required.", result.Score, result.Threshold)
	for _, issue := range result.BlockingIssues {
		detail += "\n- " + issue
	}
	ans, err := c.requestGate(ctx, events.JudgeGateTaskID,
		"The build did not pass the acceptance review. Accept it anyway?", detail, 0)
	if err != nil {
		return err
	}
	if !ans.Approved {
		return errJudgeRejected
	}

	c.mu.Lock()
	c.judgeResult.Overridden = true
	c.judgeResult.Passed = true
	c.mu.Unlock()
	log.Info("Judge verdict overridden by operator")
	return nil
}

func (c *Controller) completePhase(log *slog.Logger) {
	// Free serial devices before the summary so the user can reconnect
	// immediately.
	c.deployMgr.CloseKind(deploy.KindSerial)

	c.recordMemory()

	var suggestions []string
	if c.memory != nil {
		patterns, err := c.memory.SuggestReusablePatterns(c.sess.Spec)
		if err != nil {
			log.Warn("Failed to load pattern suggestions", "error", err)
		}
		for _, p := range patterns {
			suggestions = append(suggestions, fmt.Sprintf("Reuse %q next time: %s", p.Name, firstN(p.Prompt, 160)))
		}
	}

	c.mu.Lock()
	jr := c.judgeResult
	report := c.testReport
	var done, total int
	if c.plan != nil {
		for _, t := range c.plan.Tasks {
			total++
			if t.Status == models.TaskDone {
				done++
			}
		}
	}
	c.mu.Unlock()

	summary := fmt.Sprintf("Completed %d/%d tasks.", done, total)
	if report != nil && report.Total > 0 {
		summary += " " + testrun.Summary(report)
	}
	if jr != nil {
		summary += fmt.Sprintf(" Judge score %d/100.", jr.Score)
	}

	c.bus.Publish(&events.SessionCompletePayload{
		Type:        events.TypeSessionComplete,
		Summary:     summary,
		Judge:       jr,
		Suggestions: suggestions,
		Tokens:      c.sess.Tokens.Snapshot(),
		CompletedAt: time.Now(),
	})
	c.sess.SetState(session.StateDone)
	c.bus.Close()
	log.Info("Session complete", "summary", summary)
}
