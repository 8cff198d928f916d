// Package spec parses the declarative project specification produced by the
// visual editor. The payload is an open document: unknown fields are ignored,
// every field is coerced through a typed accessor, and construction never
// fails for anything except a missing goal.
package spec

import (
	"encoding/json"
	"errors"
	"strings"

	"github.com/elisa-build/elisa/pkg/models"
)

// ErrMissingGoal is returned when the spec has no project goal.
var ErrMissingGoal = errors.New("spec: project goal is required")

// DeployTarget selects the deploy-phase branch.
type DeployTarget string

const (
	DeployPreview DeployTarget = "preview"
	DeployWeb     DeployTarget = "web"
	DeployESP32   DeployTarget = "esp32"
	DeployBoth    DeployTarget = "both"
)

// PortalKind identifies the transport of a declared portal.
type PortalKind string

const (
	PortalSerial PortalKind = "serial"
	PortalMCP    PortalKind = "mcp"
	PortalCLI    PortalKind = "cli"
)

// Requirement is one ordered requirement line from the editor.
type Requirement struct {
	Type        string `json:"type"`
	Description string `json:"description"`
}

// DeclaredAgent is an agent declaration lifted verbatim from the spec.
type DeclaredAgent struct {
	Name    string           `json:"name"`
	Role    models.AgentRole `json:"role"`
	Persona string           `json:"persona,omitempty"`
}

// Portal wires an external-world capability into the agent tool surface.
type Portal struct {
	Name string     `json:"name"`
	Kind PortalKind `json:"kind"`
	// Address is transport-specific: a device path for serial, an endpoint
	// for MCP, a command line for CLI portals.
	Address string `json:"address,omitempty"`
}

// BehavioralTest is a single {when, then} pair from the workflow block.
type BehavioralTest struct {
	When string `json:"when"`
	Then string `json:"then"`
}

// Workflow holds the workflow switches.
type Workflow struct {
	TestingEnabled  bool             `json:"testing_enabled"`
	ReviewEnabled   bool             `json:"review_enabled"`
	HumanGates      bool             `json:"human_gates"`
	BehavioralTests []BehavioralTest `json:"behavioral_tests,omitempty"`
}

// Deployment holds the deployment target block.
type Deployment struct {
	Target    DeployTarget `json:"target"`
	AutoFlash bool         `json:"auto_flash,omitempty"`
}

// ProjectSpec is the parsed, read-only specification for one build run.
type ProjectSpec struct {
	Goal         string          `json:"goal"`
	ProjectType  string          `json:"project_type,omitempty"`
	Requirements []Requirement   `json:"requirements,omitempty"`
	Agents       []DeclaredAgent `json:"agents,omitempty"`
	Portals      []Portal        `json:"portals,omitempty"`
	Deployment   Deployment      `json:"deployment"`
	Workflow     Workflow        `json:"workflow"`

	raw map[string]any
}

// Parse builds a ProjectSpec from an open JSON document. Unknown fields are
// preserved in the raw map but never cause a failure.
func Parse(raw map[string]any) (*ProjectSpec, error) {
	if raw == nil {
		return nil, ErrMissingGoal
	}
	s := &ProjectSpec{raw: raw}

	project := asMap(raw["project"])
	s.Goal = strings.TrimSpace(asString(firstOf(project["goal"], raw["goal"])))
	if s.Goal == "" {
		return nil, ErrMissingGoal
	}
	s.ProjectType = asString(firstOf(project["type"], raw["project_type"]))

	for _, item := range asSlice(raw["requirements"]) {
		m := asMap(item)
		desc := asString(m["description"])
		if desc == "" {
			continue
		}
		s.Requirements = append(s.Requirements, Requirement{
			Type:        asString(m["type"]),
			Description: desc,
		})
	}

	for _, item := range asSlice(raw["agents"]) {
		m := asMap(item)
		name := strings.TrimSpace(asString(m["name"]))
		if name == "" {
			continue
		}
		s.Agents = append(s.Agents, DeclaredAgent{
			Name:    name,
			Role:    models.ParseAgentRole(asString(m["role"])),
			Persona: asString(m["persona"]),
		})
	}

	for _, item := range asSlice(raw["portals"]) {
		m := asMap(item)
		name := strings.TrimSpace(asString(m["name"]))
		if name == "" {
			continue
		}
		s.Portals = append(s.Portals, Portal{
			Name:    name,
			Kind:    parsePortalKind(asString(m["kind"])),
			Address: asString(firstOf(m["address"], m["path"], m["endpoint"])),
		})
	}

	dep := asMap(raw["deployment"])
	s.Deployment = Deployment{
		Target:    parseDeployTarget(asString(dep["target"])),
		AutoFlash: asBool(dep["auto_flash"]),
	}

	wf := asMap(raw["workflow"])
	s.Workflow = Workflow{
		TestingEnabled: asBool(wf["testing_enabled"]),
		ReviewEnabled:  asBool(wf["review_enabled"]),
		HumanGates:     asBool(wf["human_gates"]),
	}
	for _, item := range asSlice(wf["behavioral_tests"]) {
		m := asMap(item)
		when, then := asString(m["when"]), asString(m["then"])
		if when == "" && then == "" {
			continue
		}
		s.Workflow.BehavioralTests = append(s.Workflow.BehavioralTests, BehavioralTest{When: when, Then: then})
	}

	return s, nil
}

// ParseJSON decodes and parses a raw JSON spec document.
func ParseJSON(data []byte) (*ProjectSpec, error) {
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, err
	}
	return Parse(raw)
}

// AgentByName returns the declared agent with the given name, if any.
func (s *ProjectSpec) AgentByName(name string) (DeclaredAgent, bool) {
	for _, a := range s.Agents {
		if a.Name == name {
			return a, true
		}
	}
	return DeclaredAgent{}, false
}

// HasPortalKind reports whether any declared portal is of the given kind.
func (s *ProjectSpec) HasPortalKind(kind PortalKind) bool {
	for _, p := range s.Portals {
		if p.Kind == kind {
			return true
		}
	}
	return false
}

// Raw returns the original open document. Read-only by convention.
func (s *ProjectSpec) Raw() map[string]any { return s.raw }

func parseDeployTarget(v string) DeployTarget {
	switch DeployTarget(v) {
	case DeployWeb, DeployESP32, DeployBoth:
		return DeployTarget(v)
	default:
		return DeployPreview
	}
}

func parsePortalKind(v string) PortalKind {
	switch PortalKind(v) {
	case PortalMCP, PortalCLI:
		return PortalKind(v)
	default:
		return PortalSerial
	}
}

// Coercion helpers. The editor payload is hand-assembled JSON, so every
// field read tolerates a wrong shape.

func firstOf(vals ...any) any {
	for _, v := range vals {
		if v != nil {
			return v
		}
	}
	return nil
}

func asMap(v any) map[string]any {
	m, _ := v.(map[string]any)
	return m
}

func asSlice(v any) []any {
	s, _ := v.([]any)
	return s
}

func asString(v any) string {
	s, _ := v.(string)
	return s
}

func asBool(v any) bool {
	switch b := v.(type) {
	case bool:
		return b
	case string:
		return b == "true" || b == "yes" || b == "1"
	default:
		return false
	}
}
