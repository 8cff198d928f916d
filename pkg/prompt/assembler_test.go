package prompt

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/elisa-build/elisa/pkg/models"
	"github.com/elisa-build/elisa/pkg/spec"
)

func baseInput() Input {
	return Input{
		Task: &models.Task{
			ID:          "task-1",
			Name:        "Blink the LED",
			Description: "Make the onboard LED blink once per second.",
			AcceptanceCriteria: []string{
				"LED toggles every second",
				"Code lives in src/main.py",
			},
		},
		Agent: &models.Agent{
			Name:    "Ada",
			Role:    models.RoleBuilder,
			Persona: "You are methodical and terse.",
		},
		Snapshot: &Snapshot{
			SrcFiles:  []string{"src/main.py"},
			TestFiles: []string{"tests/test_main.py"},
			Digest:    "src/main.py:\n  def blink():\n",
		},
	}
}

func TestAssemble_FirstAttemptHasNoRetryHeader(t *testing.T) {
	p := Assemble(baseInput())
	assert.NotContains(t, p.User, "Retry Attempt")
	assert.Contains(t, p.User, "# Task: Blink the LED")
}

func TestAssemble_RetryHeaderAndEscalation(t *testing.T) {
	in := baseInput()
	in.Attempt = 1
	p := Assemble(in)
	assert.True(t, strings.HasPrefix(p.User, "## Retry Attempt 1\n"))
	assert.Contains(t, p.User, "Skip orientation and go straight to implementation")

	in.Attempt = 2
	p = Assemble(in)
	assert.Contains(t, p.User, "## Retry Attempt 2")
}

func TestAssemble_AcceptanceCriteriaBullets(t *testing.T) {
	p := Assemble(baseInput())
	assert.Contains(t, p.User, "## Acceptance Criteria")
	assert.Contains(t, p.User, "- LED toggles every second")
	assert.Contains(t, p.User, "- Code lives in src/main.py")

	in := baseInput()
	in.Task.AcceptanceCriteria = nil
	p = Assemble(in)
	assert.NotContains(t, p.User, "Acceptance Criteria")
}

func TestAssemble_ManifestPrecedesDigest(t *testing.T) {
	p := Assemble(baseInput())

	manifest := strings.Index(p.User, "## FILES ALREADY IN WORKSPACE")
	digest := strings.Index(p.User, "## Structural Digest")
	require.GreaterOrEqual(t, manifest, 0)
	require.GreaterOrEqual(t, digest, 0)
	assert.Less(t, manifest, digest)
	assert.Contains(t, p.User, "- src/main.py")
	assert.Contains(t, p.User, "- tests/test_main.py")
	assert.Contains(t, p.User, "def blink()")
}

func TestAssemble_CompactDropsManifestAndDigest(t *testing.T) {
	in := baseInput()
	in.Compact = true
	p := Assemble(in)
	assert.NotContains(t, p.User, "FILES ALREADY IN WORKSPACE")
	assert.NotContains(t, p.User, "Structural Digest")
	// Task statement and criteria survive compaction.
	assert.Contains(t, p.User, "# Task: Blink the LED")
	assert.Contains(t, p.User, "## Acceptance Criteria")
}

func TestAssemble_PredecessorContextIncluded(t *testing.T) {
	in := baseInput()
	in.Context = "## Work Completed by Previous Tasks\n\n### Result of task-0\nWiring done.\n"
	p := Assemble(in)
	assert.Contains(t, p.User, "Work Completed by Previous Tasks")
	assert.Contains(t, p.User, "Wiring done.")
}

func TestAssemble_BehavioralTestsOnlyForTester(t *testing.T) {
	wf := spec.Workflow{
		BehavioralTests: []spec.BehavioralTest{
			{When: "the button is pressed", Then: "the LED turns on"},
		},
	}

	in := baseInput()
	in.Workflow = wf
	p := Assemble(in)
	assert.NotContains(t, p.User, "Behavioral Tests to Verify")

	in.Agent.Role = models.RoleTester
	p = Assemble(in)
	assert.Contains(t, p.User, "## Behavioral Tests to Verify")
	assert.Contains(t, p.User, "- When the button is pressed, then the LED turns on")
}

func TestAssemble_SystemPromptByRole(t *testing.T) {
	in := baseInput()
	p := Assemble(in)
	assert.Contains(t, p.System, "You are Ada, a software builder agent.")
	assert.Contains(t, p.System, "methodical and terse")
	assert.Contains(t, p.System, "## Turn Efficiency")

	in.Agent.Role = models.RoleTester
	p = Assemble(in)
	assert.Contains(t, p.System, "a testing agent")
	assert.Contains(t, p.System, "Begin writing tests within your first 3 turns")

	in.Agent.Role = models.RoleCustom
	p = Assemble(in)
	assert.Contains(t, p.System, "You are Ada.")
}

func TestAssemble_NilSnapshot(t *testing.T) {
	in := baseInput()
	in.Snapshot = nil
	p := Assemble(in)
	assert.NotContains(t, p.User, "FILES ALREADY IN WORKSPACE")
	assert.NotContains(t, p.User, "Structural Digest")
}
