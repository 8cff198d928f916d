// Package teach turns completed tasks into short kid-friendly
// explanations of what was built and why it works.
package teach

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/elisa-build/elisa/pkg/llm"
	"github.com/elisa-build/elisa/pkg/models"
)

// Moment is one explanation attached to a finished task.
type Moment struct {
	Concept     string `json:"concept"`
	Explanation string `json:"explanation"`
}

// Engine asks the model for teaching moments. Failures are logged and
// swallowed; teaching never blocks the build.
type Engine struct {
	client llm.Client
	model  string
}

// NewEngine creates a teaching engine.
func NewEngine(client llm.Client, model string) *Engine {
	return &Engine{client: client, model: model}
}

const teachSystemPrompt = `You explain programming to a curious 10-year-old.
Given a finished build task, answer with a JSON object:
{"concept": "the one idea worth teaching", "explanation": "2-3 short sentences, no jargon"}`

// MomentFor produces a teaching moment for a completed task, or nil when
// the model is unavailable or answers badly.
func (e *Engine) MomentFor(ctx context.Context, task *models.Task, resultSummary string) *Moment {
	if e == nil || e.client == nil {
		return nil
	}
	user := fmt.Sprintf("Task: %s\n%s\n\nWhat happened:\n%s",
		task.Name, task.Description, truncate(resultSummary, 1500))

	stream, err := e.client.Generate(ctx, &llm.GenerateInput{
		Model:    e.model,
		JSONMode: true,
		Messages: []llm.Message{
			{Role: llm.RoleSystem, Content: teachSystemPrompt},
			{Role: llm.RoleUser, Content: user},
		},
	})
	if err != nil {
		slog.Debug("Teaching moment skipped", "task_id", task.ID, "error", err)
		return nil
	}

	var text strings.Builder
	for chunk := range stream {
		switch c := chunk.(type) {
		case *llm.TextChunk:
			text.WriteString(c.Content)
		case *llm.ErrorChunk:
			slog.Debug("Teaching moment skipped", "task_id", task.ID, "error", c.Message)
			return nil
		}
	}

	var m Moment
	if err := json.Unmarshal([]byte(strings.TrimSpace(text.String())), &m); err != nil {
		slog.Debug("Teaching moment unparseable", "task_id", task.ID, "error", err)
		return nil
	}
	if m.Concept == "" || m.Explanation == "" {
		return nil
	}
	return &m
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
