// Package prompt assembles the system and user prompts for one agent
// dispatch. The assembler is a pure function of the task, agent, workspace
// snapshot, attempt number, and workflow switches.
package prompt

import (
	"fmt"
	"strings"

	"github.com/elisa-build/elisa/pkg/models"
	"github.com/elisa-build/elisa/pkg/spec"
)

// Input gathers everything one prompt assembly needs.
type Input struct {
	Task     *models.Task
	Agent    *models.Agent
	Snapshot *Snapshot
	Context  string // predecessor context block, may be empty
	Attempt  int    // 0 on the first try
	Workflow spec.Workflow

	// Compact drops the manifest and digest after a context-window
	// overflow.
	Compact bool
}

// Prompts is the assembled pair.
type Prompts struct {
	System string
	User   string
}

var roleIntro = map[models.AgentRole]string{
	models.RoleBuilder:  "You are %s, a software builder agent. %s\nYou implement features by writing code directly into the workspace with your tools.",
	models.RoleTester:   "You are %s, a testing agent. %s\nYou write and run tests that verify the implemented behavior, and you report what passes and what fails.",
	models.RoleReviewer: "You are %s, a code review agent. %s\nYou read the implemented code, point out defects, and fix the ones that block correctness.",
	models.RoleCustom:   "You are %s. %s\nYou complete your assigned task by working directly in the workspace with your tools.",
}

var roleEfficiency = map[models.AgentRole]string{
	models.RoleTester:   "- Prioritize testing over exploration. Begin writing tests within your first 3 turns.",
	models.RoleReviewer: "- Prioritize review over exploration. Begin reviewing code within your first 2 turns.",
}

// Assemble builds the prompt pair.
func Assemble(in Input) Prompts {
	return Prompts{
		System: systemPrompt(in),
		User:   userPrompt(in),
	}
}

func systemPrompt(in Input) string {
	role := in.Agent.Role
	intro, ok := roleIntro[role]
	if !ok {
		intro = roleIntro[models.RoleCustom]
	}

	var b strings.Builder
	fmt.Fprintf(&b, intro, in.Agent.Name, strings.TrimSpace(in.Agent.Persona))
	b.WriteString("\n\n## Turn Efficiency\n")
	b.WriteString("- You have a limited number of turns. Every tool call spends one.\n")
	b.WriteString("- Read the file manifest and structural digest in the task before exploring; they tell you what already exists.\n")
	if extra, ok := roleEfficiency[role]; ok {
		b.WriteString(extra + "\n")
	}
	b.WriteString("\n## Thinking Steps\n")
	b.WriteString("1. Check the file manifest and structural digest for existing work.\n")
	b.WriteString("2. Decide the smallest set of changes that satisfies the acceptance criteria.\n")
	b.WriteString("3. Make the changes, then verify them.\n")
	return b.String()
}

func userPrompt(in Input) string {
	var b strings.Builder

	if in.Attempt >= 1 {
		fmt.Fprintf(&b, "## Retry Attempt %d\n", in.Attempt)
		b.WriteString("The previous attempt did not complete this task. Skip orientation and go straight to implementation.\n\n")
	}

	fmt.Fprintf(&b, "# Task: %s\n\n%s\n", in.Task.Name, strings.TrimSpace(in.Task.Description))
	if len(in.Task.AcceptanceCriteria) > 0 {
		b.WriteString("\n## Acceptance Criteria\n")
		for _, ac := range in.Task.AcceptanceCriteria {
			b.WriteString("- " + ac + "\n")
		}
	}
	if in.Context != "" {
		b.WriteString("\n" + strings.TrimSpace(in.Context) + "\n")
	}

	if !in.Compact {
		writeManifest(&b, in.Snapshot)
		writeDigest(&b, in.Snapshot)
	}

	if in.Agent.Role == models.RoleTester && len(in.Workflow.BehavioralTests) > 0 {
		b.WriteString("\n## Behavioral Tests to Verify\n")
		for _, bt := range in.Workflow.BehavioralTests {
			fmt.Fprintf(&b, "- When %s, then %s\n", bt.When, bt.Then)
		}
	}

	return b.String()
}

// writeManifest lists existing files. It always precedes the digest so
// the agent reads names before signatures.
func writeManifest(b *strings.Builder, snap *Snapshot) {
	if snap == nil {
		return
	}
	files := append([]string{}, snap.SrcFiles...)
	files = append(files, snap.TestFiles...)
	if len(files) == 0 {
		return
	}
	b.WriteString("\n## FILES ALREADY IN WORKSPACE\n")
	for _, f := range files {
		b.WriteString("- " + f + "\n")
	}
}

func writeDigest(b *strings.Builder, snap *Snapshot) {
	if snap == nil || !snap.HasSources() || strings.TrimSpace(snap.Digest) == "" {
		return
	}
	b.WriteString("\n## Structural Digest\n```\n")
	b.WriteString(snap.Digest)
	b.WriteString("```\n")
}
