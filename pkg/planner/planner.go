// Package planner turns a project spec into an executable task graph,
// seeded with context from prior runs.
package planner

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/elisa-build/elisa/pkg/dag"
	"github.com/elisa-build/elisa/pkg/llm"
	"github.com/elisa-build/elisa/pkg/models"
	"github.com/elisa-build/elisa/pkg/spec"
)

// ErrPlanInvalid reports a malformed plan. The run fails before the
// executor starts.
var ErrPlanInvalid = errors.New("planner: plan invalid")

// Plan is the planner's output.
type Plan struct {
	Tasks       []*models.Task
	Agents      []*models.Agent
	Explanation string
}

// TaskByID returns the planned task with the given id.
func (p *Plan) TaskByID(id string) *models.Task {
	for _, t := range p.Tasks {
		if t.ID == id {
			return t
		}
	}
	return nil
}

// Planner asks the model for a task breakdown and validates it.
type Planner struct {
	client llm.Client
	model  string
}

// New creates a planner using the given model id.
func New(client llm.Client, model string) *Planner {
	return &Planner{client: client, model: model}
}

// plannerSystemPrompt constrains the response to the JSON plan shape.
const plannerSystemPrompt = `You are a build planner for a coding assistant.
Break the project goal into a small set of concrete tasks, each assigned to
one of the declared agents. Respond with a single JSON object:

{
  "tasks": [
    {
      "id": "task-1",
      "name": "short name",
      "description": "what to build and how to verify it",
      "agent_name": "one of the declared agent names",
      "depends_on": ["task ids that must finish first"],
      "acceptance_criteria": ["observable conditions for done"]
    }
  ],
  "explanation": "one paragraph, plain language, why this breakdown"
}

Rules: use only declared agent names; keep the graph acyclic; prefer 1-6
tasks; dependencies only where one task consumes another's output.`

// Build produces a validated plan. memoryContext may be empty.
func (p *Planner) Build(ctx context.Context, ps *spec.ProjectSpec, memoryContext string) (*Plan, error) {
	agents := liftAgents(ps)
	if len(agents) == 0 {
		return nil, fmt.Errorf("%w: no agents declared", ErrPlanInvalid)
	}

	raw, err := p.generate(ctx, ps, memoryContext)
	if err != nil {
		return nil, err
	}

	plan, err := decodePlan(raw)
	if err != nil {
		return nil, err
	}
	plan.Agents = agents
	if err := Validate(plan); err != nil {
		return nil, err
	}
	return plan, nil
}

func (p *Planner) generate(ctx context.Context, ps *spec.ProjectSpec, memoryContext string) (string, error) {
	stream, err := p.client.Generate(ctx, &llm.GenerateInput{
		Model:    p.model,
		JSONMode: true,
		Messages: []llm.Message{
			{Role: llm.RoleSystem, Content: plannerSystemPrompt},
			{Role: llm.RoleUser, Content: buildUserPrompt(ps, memoryContext)},
		},
	})
	if err != nil {
		return "", fmt.Errorf("planner: model call failed: %w", err)
	}

	var text strings.Builder
	for chunk := range stream {
		switch c := chunk.(type) {
		case *llm.TextChunk:
			text.WriteString(c.Content)
		case *llm.ErrorChunk:
			return "", fmt.Errorf("planner: model error: %s", c.Message)
		}
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return text.String(), nil
}

func buildUserPrompt(ps *spec.ProjectSpec, memoryContext string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# Goal\n%s\n", ps.Goal)
	if ps.ProjectType != "" {
		fmt.Fprintf(&b, "\nProject type: %s\n", ps.ProjectType)
	}
	if len(ps.Requirements) > 0 {
		b.WriteString("\n# Requirements\n")
		for _, r := range ps.Requirements {
			fmt.Fprintf(&b, "- [%s] %s\n", r.Type, r.Description)
		}
	}
	b.WriteString("\n# Declared Agents\n")
	for _, a := range ps.Agents {
		fmt.Fprintf(&b, "- %s (%s): %s\n", a.Name, a.Role, a.Persona)
	}
	if len(ps.Workflow.BehavioralTests) > 0 {
		b.WriteString("\n# Behavioral Tests\n")
		for _, bt := range ps.Workflow.BehavioralTests {
			fmt.Fprintf(&b, "- When %s, then %s\n", bt.When, bt.Then)
		}
	}
	if strings.TrimSpace(memoryContext) != "" {
		b.WriteString("\n# Lessons From Similar Past Builds\n")
		b.WriteString(memoryContext + "\n")
	}
	return b.String()
}

type planDoc struct {
	Tasks []struct {
		ID                 string     `json:"id"`
		Name               string     `json:"name"`
		Description        string     `json:"description"`
		AgentName          string     `json:"agent_name"`
		DependsOn          []string   `json:"depends_on"`
		AcceptanceCriteria stringList `json:"acceptance_criteria"`
	} `json:"tasks"`
	Explanation string `json:"explanation"`
}

// stringList tolerates models emitting a single string where the plan
// shape asks for an array.
type stringList []string

func (l *stringList) UnmarshalJSON(data []byte) error {
	var many []string
	if err := json.Unmarshal(data, &many); err == nil {
		*l = many
		return nil
	}
	var one string
	if err := json.Unmarshal(data, &one); err != nil {
		return err
	}
	if strings.TrimSpace(one) != "" {
		*l = []string{one}
	}
	return nil
}

func decodePlan(raw string) (*Plan, error) {
	raw = stripFence(raw)
	var doc planDoc
	if err := json.Unmarshal([]byte(raw), &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPlanInvalid, err)
	}
	plan := &Plan{Explanation: doc.Explanation}
	for i, t := range doc.Tasks {
		id := strings.TrimSpace(t.ID)
		if id == "" {
			id = fmt.Sprintf("task-%d", i+1)
		}
		plan.Tasks = append(plan.Tasks, &models.Task{
			ID:                 id,
			Name:               t.Name,
			Description:        t.Description,
			Status:             models.TaskPending,
			AgentName:          t.AgentName,
			DependsOn:          t.DependsOn,
			AcceptanceCriteria: t.AcceptanceCriteria,
		})
	}
	return plan, nil
}

// Validate checks the structural invariants: at least one task, every
// agent name declared, and an acyclic dependency graph.
func Validate(plan *Plan) error {
	if len(plan.Tasks) == 0 {
		return fmt.Errorf("%w: no tasks", ErrPlanInvalid)
	}
	agents := make(map[string]bool, len(plan.Agents))
	for _, a := range plan.Agents {
		agents[a.Name] = true
	}
	for _, t := range plan.Tasks {
		if strings.TrimSpace(t.Name) == "" {
			return fmt.Errorf("%w: task %s has no name", ErrPlanInvalid, t.ID)
		}
		if !agents[t.AgentName] {
			return fmt.Errorf("%w: task %s references undeclared agent %q", ErrPlanInvalid, t.ID, t.AgentName)
		}
	}
	if _, err := dag.NewScheduler(plan.Tasks, 1); err != nil {
		return fmt.Errorf("%w: %v", ErrPlanInvalid, err)
	}
	return nil
}

func liftAgents(ps *spec.ProjectSpec) []*models.Agent {
	out := make([]*models.Agent, 0, len(ps.Agents))
	for _, a := range ps.Agents {
		out = append(out, &models.Agent{
			Name:    a.Name,
			Role:    a.Role,
			Persona: a.Persona,
			Status:  models.AgentIdle,
		})
	}
	return out
}

// stripFence removes a markdown code fence around a JSON document, which
// some models emit even in JSON mode.
func stripFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
