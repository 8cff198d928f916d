package judge

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/elisa-build/elisa/pkg/models"
	"github.com/elisa-build/elisa/pkg/spec"
)

func parseSpec(t *testing.T, doc map[string]any) *spec.ProjectSpec {
	t.Helper()
	ps, err := spec.Parse(doc)
	require.NoError(t, err)
	return ps
}

func doneTask(id, name string) *models.Task {
	return &models.Task{ID: id, Name: name, Status: models.TaskDone}
}

func TestJudge_PerfectBuild(t *testing.T) {
	ps := parseSpec(t, map[string]any{"goal": "blink an led"})
	j := New(70)

	res := j.Score(Input{
		Spec:  ps,
		Tasks: []*models.Task{doneTask("t1", "Blink"), doneTask("t2", "Wire")},
	})

	assert.Equal(t, 100, res.Score)
	assert.True(t, res.Passed)
	assert.True(t, res.RawPassed)
	assert.Empty(t, res.BlockingIssues)
	require.Len(t, res.Checks, 4)
	assert.Equal(t, "All 2 tasks completed", res.Checks[0].Details)
	assert.Equal(t, "No tests required", res.Checks[1].Details)
}

func TestJudge_FailedTaskBlocks(t *testing.T) {
	ps := parseSpec(t, map[string]any{"goal": "blink an led"})
	j := New(50)

	failed := &models.Task{ID: "t2", Name: "Wire", Status: models.TaskFailed}
	res := j.Score(Input{
		Spec:  ps,
		Tasks: []*models.Task{doneTask("t1", "Blink"), failed},
	})

	assert.False(t, res.Passed)
	require.Len(t, res.BlockingIssues, 1)
	assert.Equal(t, "Completed 1/2 tasks, 1 failed", res.BlockingIssues[0])
	// Score drops but only the completion check failed.
	assert.Less(t, res.Score, 100)
}

func TestJudge_TestsRequiredButNoneRan(t *testing.T) {
	ps := parseSpec(t, map[string]any{
		"goal":     "blink an led",
		"workflow": map[string]any{"testing_enabled": true},
	})
	j := New(50)

	res := j.Score(Input{Spec: ps, Tasks: []*models.Task{doneTask("t1", "Blink")}})

	var health models.JudgeCheck
	for _, c := range res.Checks {
		if c.Name == CheckTestHealth {
			health = c
		}
	}
	assert.Equal(t, 0, health.Score)
	assert.False(t, health.Passed)
	assert.Equal(t, "Tests were required but none ran", health.Details)
	// Test health never blocks on its own.
	assert.Empty(t, res.BlockingIssues)
}

func TestJudge_TestFailuresLowerScore(t *testing.T) {
	ps := parseSpec(t, map[string]any{
		"goal":     "blink an led",
		"workflow": map[string]any{"testing_enabled": true},
	})
	j := New(50)

	report := &models.TestReport{Total: 4, Passed: 3, Failed: 1}
	res := j.Score(Input{Spec: ps, Tasks: []*models.Task{doneTask("t1", "Blink")}, Tests: report})

	for _, c := range res.Checks {
		if c.Name == CheckTestHealth {
			assert.False(t, c.Passed)
			assert.Equal(t, "1 of 4 tests failed", c.Details)
			assert.Equal(t, 19, c.Score) // 25 * 3/4, rounded
		}
	}
}

func TestJudge_RequirementTraceability(t *testing.T) {
	ps := parseSpec(t, map[string]any{
		"goal": "weather station",
		"requirements": []any{
			map[string]any{"type": "functional", "description": "display temperature readings"},
		},
	})
	j := New(50)

	// Without any matching evidence the requirement check scores zero but
	// never blocks.
	res := j.Score(Input{Spec: ps, Tasks: []*models.Task{doneTask("t1", "Something else entirely")}})
	assert.Empty(t, res.BlockingIssues)
	for _, c := range res.Checks {
		if c.Name == CheckRequirements {
			assert.False(t, c.Passed)
		}
	}

	// With a corpus that mentions the requirement words, coverage passes.
	corpus := NewCorpus()
	corpus.AddText("The dashboard will display temperature readings from the sensor")
	res = j.Score(Input{
		Spec:   ps,
		Tasks:  []*models.Task{doneTask("t1", "Build dashboard")},
		Corpus: corpus,
	})
	for _, c := range res.Checks {
		if c.Name == CheckRequirements {
			assert.True(t, c.Passed)
			assert.Equal(t, 25, c.Score)
		}
	}
}

func TestJudge_BehavioralGapBlocks(t *testing.T) {
	ps := parseSpec(t, map[string]any{
		"goal": "button demo",
		"workflow": map[string]any{
			"behavioral_tests": []any{
				map[string]any{"when": "the button is pressed", "then": "the buzzer sounds"},
			},
		},
	})
	j := New(10)

	res := j.Score(Input{Spec: ps, Tasks: []*models.Task{doneTask("t1", "Unrelated work")}})

	assert.False(t, res.Passed)
	found := false
	for _, issue := range res.BlockingIssues {
		if issue != "" {
			found = true
		}
	}
	assert.True(t, found, "behavioral coverage gap should block")
}

func TestJudge_ThresholdGate(t *testing.T) {
	ps := parseSpec(t, map[string]any{"goal": "g"})
	tasks := []*models.Task{
		doneTask("t1", "a"), doneTask("t2", "b"),
		{ID: "t3", Name: "c", Status: models.TaskFailed},
	}

	strict := New(95).Score(Input{Spec: ps, Tasks: tasks})
	lenient := New(10).Score(Input{Spec: ps, Tasks: tasks})

	assert.False(t, strict.Passed)
	// Even a lenient threshold cannot pass past a blocking issue.
	assert.False(t, lenient.Passed)
	assert.NotEmpty(t, lenient.BlockingIssues)
}

func TestNew_ClampsThreshold(t *testing.T) {
	assert.Equal(t, 0, New(-5).threshold)
	assert.Equal(t, 100, New(250).threshold)
	assert.Equal(t, 70, New(70).threshold)
}

func TestCorpus_Coverage(t *testing.T) {
	c := NewCorpus()
	c.AddText("Read the DHT22 sensor and publish temperature")

	assert.InDelta(t, 1.0, c.Coverage("publish temperature"), 0.001)
	assert.InDelta(t, 0.5, c.Coverage("temperature graph"), 0.001)
	assert.InDelta(t, 0.0, c.Coverage("unrelated words entirely"), 0.001)
	// Stopword-only items count as covered.
	assert.InDelta(t, 1.0, c.Coverage("the and for"), 0.001)
}

func TestCorpus_AddTasksAndCommits(t *testing.T) {
	c := NewCorpus()
	c.AddTasks([]*models.Task{{
		Name:               "Wire sensor",
		Description:        "Connect the DHT22",
		AcceptanceCriteria: []string{"readings appear every minute"},
	}})
	c.AddCommits([]models.Commit{{Message: "task-1: calibrate thermistor"}})

	assert.InDelta(t, 1.0, c.Coverage("calibrate thermistor"), 0.001)
	assert.InDelta(t, 1.0, c.Coverage("readings appear"), 0.001)
}
