package spec

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/elisa-build/elisa/pkg/models"
)

func TestParse_MissingGoal(t *testing.T) {
	_, err := Parse(nil)
	assert.ErrorIs(t, err, ErrMissingGoal)

	_, err = Parse(map[string]any{"project": map[string]any{"goal": "   "}})
	assert.ErrorIs(t, err, ErrMissingGoal)
}

func TestParse_GoalFromProjectBlock(t *testing.T) {
	ps, err := Parse(map[string]any{
		"project": map[string]any{"goal": "a weather station", "type": "esp32"},
	})
	require.NoError(t, err)
	assert.Equal(t, "a weather station", ps.Goal)
	assert.Equal(t, "esp32", ps.ProjectType)
}

func TestParse_GoalAtTopLevel(t *testing.T) {
	ps, err := Parse(map[string]any{"goal": "a snake game"})
	require.NoError(t, err)
	assert.Equal(t, "a snake game", ps.Goal)
}

func TestParse_DefensiveCoercion(t *testing.T) {
	// Wrong shapes everywhere must not panic or fail; only the goal is
	// required.
	ps, err := Parse(map[string]any{
		"goal":         "survive malformed input",
		"requirements": "not a list",
		"agents":       []any{"not a map", map[string]any{"name": ""}},
		"portals":      42,
		"deployment":   []any{"nope"},
		"workflow":     map[string]any{"testing_enabled": "yes", "behavioral_tests": "oops"},
	})
	require.NoError(t, err)
	assert.Empty(t, ps.Requirements)
	assert.Empty(t, ps.Agents)
	assert.Empty(t, ps.Portals)
	assert.Equal(t, DeployPreview, ps.Deployment.Target)
	assert.True(t, ps.Workflow.TestingEnabled)
}

func TestParse_Agents(t *testing.T) {
	ps, err := Parse(map[string]any{
		"goal": "g",
		"agents": []any{
			map[string]any{"name": "Bolt", "role": "builder", "persona": "fast"},
			map[string]any{"name": "Quark", "role": "quantum-wizard"},
		},
	})
	require.NoError(t, err)
	require.Len(t, ps.Agents, 2)
	assert.Equal(t, models.RoleBuilder, ps.Agents[0].Role)
	// Unknown roles coerce to custom.
	assert.Equal(t, models.RoleCustom, ps.Agents[1].Role)

	a, ok := ps.AgentByName("Bolt")
	assert.True(t, ok)
	assert.Equal(t, "fast", a.Persona)
	_, ok = ps.AgentByName("missing")
	assert.False(t, ok)
}

func TestParse_PortalsAndDeployment(t *testing.T) {
	ps, err := Parse(map[string]any{
		"goal": "g",
		"portals": []any{
			map[string]any{"name": "board", "kind": "serial", "path": "/dev/ttyUSB0"},
			map[string]any{"name": "search", "kind": "mcp", "endpoint": "http://localhost:9000"},
		},
		"deployment": map[string]any{"target": "both", "auto_flash": true},
	})
	require.NoError(t, err)
	require.Len(t, ps.Portals, 2)
	assert.Equal(t, PortalSerial, ps.Portals[0].Kind)
	assert.Equal(t, "/dev/ttyUSB0", ps.Portals[0].Address)
	assert.Equal(t, PortalMCP, ps.Portals[1].Kind)
	assert.True(t, ps.HasPortalKind(PortalMCP))
	assert.False(t, ps.HasPortalKind(PortalCLI))

	assert.Equal(t, DeployBoth, ps.Deployment.Target)
	assert.True(t, ps.Deployment.AutoFlash)
}

func TestParse_BehavioralTests(t *testing.T) {
	ps, err := Parse(map[string]any{
		"goal": "g",
		"workflow": map[string]any{
			"behavioral_tests": []any{
				map[string]any{"when": "the button is pressed", "then": "the LED turns on"},
				map[string]any{"when": "", "then": ""},
			},
		},
	})
	require.NoError(t, err)
	require.Len(t, ps.Workflow.BehavioralTests, 1)
	assert.Equal(t, "the button is pressed", ps.Workflow.BehavioralTests[0].When)
}

func TestParseJSON(t *testing.T) {
	ps, err := ParseJSON([]byte(`{"goal":"from json","deployment":{"target":"web"}}`))
	require.NoError(t, err)
	assert.Equal(t, "from json", ps.Goal)
	assert.Equal(t, DeployWeb, ps.Deployment.Target)

	_, err = ParseJSON([]byte(`{invalid`))
	assert.Error(t, err)
}
