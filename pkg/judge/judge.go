// Package judge scores a finished build objectively: task completion,
// test health, and keyword traceability of requirements and behavioral
// tests against everything the build produced.
package judge

import (
	"fmt"
	"math"
	"strings"

	"github.com/elisa-build/elisa/pkg/models"
	"github.com/elisa-build/elisa/pkg/spec"
)

// Check names.
const (
	CheckTaskCompletion   = "task_completion"
	CheckTestHealth       = "test_health"
	CheckRequirements     = "requirement_traceability"
	CheckBehavioralTraces = "behavioral_traceability"
)

// Check weights.
const (
	maxTaskCompletion = 35
	maxTestHealth     = 25
	maxRequirements   = 25
	maxBehavioral     = 15
)

// Coverage pass thresholds.
const (
	requirementCoverageMin = 0.6
	behavioralCoverageMin  = 0.5
)

// Input is the build evidence the judge scores.
type Input struct {
	Spec    *spec.ProjectSpec
	Tasks   []*models.Task
	Commits []models.Commit
	Tests   *models.TestReport // nil when the test phase did not run
	Corpus  *Corpus
}

// Judge is the deterministic scorer.
type Judge struct {
	threshold int
}

// New creates a judge with the acceptance threshold.
func New(threshold int) *Judge {
	if threshold < 0 {
		threshold = 0
	}
	if threshold > 100 {
		threshold = 100
	}
	return &Judge{threshold: threshold}
}

// Score runs the four checks and derives blocking issues.
func (j *Judge) Score(in Input) *models.JudgeResult {
	corpus := in.Corpus
	if corpus == nil {
		corpus = NewCorpus()
	}
	corpus.AddTasks(in.Tasks)
	corpus.AddCommits(in.Commits)
	corpus.AddTests(in.Tests)

	checks := []models.JudgeCheck{
		j.taskCompletion(in.Tasks),
		j.testHealth(in.Spec, in.Tests),
		j.requirementTraceability(in.Spec, corpus),
		j.behavioralTraceability(in.Spec, corpus),
	}

	totalScore, totalMax := 0, 0
	for _, c := range checks {
		totalScore += c.Score
		totalMax += c.MaxScore
	}
	score := 0
	if totalMax > 0 {
		score = int(math.Round(100 * float64(totalScore) / float64(totalMax)))
	}

	// Only completion and behavioral gaps block; weak wording in
	// requirements should not stop a build that works.
	var blocking []string
	for _, c := range checks {
		if c.Passed {
			continue
		}
		if c.Name == CheckTaskCompletion || c.Name == CheckBehavioralTraces {
			blocking = append(blocking, c.Details)
		}
	}

	passed := score >= j.threshold && len(blocking) == 0
	return &models.JudgeResult{
		Score:          score,
		Threshold:      j.threshold,
		Passed:         passed,
		RawPassed:      passed,
		Checks:         checks,
		BlockingIssues: blocking,
	}
}

func (j *Judge) taskCompletion(tasks []*models.Task) models.JudgeCheck {
	done, failed := 0, 0
	for _, t := range tasks {
		switch t.Status {
		case models.TaskDone:
			done++
		case models.TaskFailed:
			failed++
		}
	}
	total := len(tasks)
	check := models.JudgeCheck{Name: CheckTaskCompletion, MaxScore: maxTaskCompletion}
	if total == 0 {
		check.Details = "No tasks were planned"
		return check
	}
	check.Score = int(math.Round(maxTaskCompletion * float64(done) / float64(total)))
	check.Passed = done == total && failed == 0
	if check.Passed {
		check.Details = fmt.Sprintf("All %d tasks completed", total)
	} else {
		check.Details = fmt.Sprintf("Completed %d/%d tasks, %d failed", done, total, failed)
	}
	return check
}

func (j *Judge) testHealth(ps *spec.ProjectSpec, report *models.TestReport) models.JudgeCheck {
	check := models.JudgeCheck{Name: CheckTestHealth, MaxScore: maxTestHealth}
	required := ps != nil && (ps.Workflow.TestingEnabled || len(ps.Workflow.BehavioralTests) > 0)
	if !required && (report == nil || report.Total == 0) {
		check.Score = maxTestHealth
		check.Passed = true
		check.Details = "No tests required"
		return check
	}
	if report == nil || report.Total == 0 {
		check.Details = "Tests were required but none ran"
		return check
	}
	check.Score = int(math.Round(maxTestHealth * float64(report.Passed) / float64(report.Total)))
	check.Passed = report.Failed == 0
	if check.Passed {
		check.Details = fmt.Sprintf("All %d tests passed", report.Total)
	} else {
		check.Details = fmt.Sprintf("%d of %d tests failed", report.Failed, report.Total)
	}
	return check
}

func (j *Judge) requirementTraceability(ps *spec.ProjectSpec, corpus *Corpus) models.JudgeCheck {
	check := models.JudgeCheck{Name: CheckRequirements, MaxScore: maxRequirements}
	var items []string
	if ps != nil {
		for _, r := range ps.Requirements {
			items = append(items, r.Description)
		}
	}
	if len(items) == 0 {
		check.Score = maxRequirements
		check.Passed = true
		check.Details = "No requirements declared"
		return check
	}
	avg := corpus.AverageCoverage(items)
	check.Score = int(math.Round(maxRequirements * avg))
	check.Passed = avg >= requirementCoverageMin
	check.Details = fmt.Sprintf("Requirement keyword coverage %.0f%%", avg*100)
	return check
}

func (j *Judge) behavioralTraceability(ps *spec.ProjectSpec, corpus *Corpus) models.JudgeCheck {
	check := models.JudgeCheck{Name: CheckBehavioralTraces, MaxScore: maxBehavioral}
	var items []string
	if ps != nil {
		for _, bt := range ps.Workflow.BehavioralTests {
			items = append(items, bt.When+" "+bt.Then)
		}
	}
	if len(items) == 0 {
		check.Score = maxBehavioral
		check.Passed = true
		check.Details = "No behavioral tests declared"
		return check
	}
	avg := corpus.AverageCoverage(items)
	check.Score = int(math.Round(maxBehavioral * avg))
	check.Passed = avg >= behavioralCoverageMin
	check.Details = fmt.Sprintf("Behavioral test keyword coverage %.0f%%", avg*100)
	return check
}

// tokenize lowercases, splits on non-alphanumerics, and drops stopwords
// and single characters.
func tokenize(text string) []string {
	var out []string
	var cur strings.Builder
	flush := func() {
		word := cur.String()
		cur.Reset()
		if len(word) < 2 || stopwords[word] {
			return
		}
		out = append(out, word)
	}
	for _, r := range strings.ToLower(text) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			cur.WriteRune(r)
		} else {
			flush()
		}
	}
	flush()
	return out
}
