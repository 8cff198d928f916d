// Package dispatch runs one agent invocation: a turn-limited tool-calling
// loop against the language model, with streaming output, timeout,
// cancellation, and error classification.
package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/elisa-build/elisa/pkg/events"
	"github.com/elisa-build/elisa/pkg/llm"
	"github.com/elisa-build/elisa/pkg/tokens"
	"github.com/elisa-build/elisa/pkg/tools"
)

// toolOutputLimit caps a single tool output appended to the history.
const toolOutputLimit = 10_000

// outputDebounce coalesces streamed text before it reaches the bus.
const outputDebounce = 100 * time.Millisecond

// Options bound one dispatch.
type Options struct {
	MaxTurns            int
	MaxCompletionTokens int
	Timeout             time.Duration
	Model               string
	AllowedTools        []string
	EnableStreaming     bool
	EnableToolCalling   bool
}

// ToolCallRecord is one executed tool call, kept for the result.
type ToolCallRecord struct {
	CallID  string
	Name    string
	IsError bool
}

// Result is the outcome of one dispatch.
type Result struct {
	Success           bool
	Summary           string
	InputTokens       int
	OutputTokens      int
	CachedInputTokens int
	ReasoningTokens   int
	ToolCalls         []ToolCallRecord
	CostUSD           float64
}

// Dispatcher drives agent invocations for one session.
type Dispatcher struct {
	client  llm.Client
	sandbox tools.Executor
	bus     *events.Bus
	tracker *tokens.Tracker
}

// NewDispatcher wires a dispatcher to its session collaborators.
func NewDispatcher(client llm.Client, sandbox tools.Executor, bus *events.Bus, tracker *tokens.Tracker) *Dispatcher {
	return &Dispatcher{client: client, sandbox: sandbox, bus: bus, tracker: tracker}
}

// Dispatch runs the turn loop until the model concludes, the turn budget
// runs out, the timeout fires, or the context is cancelled. The returned
// error is nil in every one of those cases; failures are reported through
// Result.Success and the classified summary.
func (d *Dispatcher) Dispatch(ctx context.Context, taskID, systemPrompt, userPrompt string, opts Options) *Result {
	if opts.MaxTurns < 1 {
		opts.MaxTurns = 1
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 300 * time.Second
	}
	runCtx, cancel := context.WithTimeout(ctx, opts.Timeout)
	defer cancel()

	res := &Result{}
	messages := []llm.Message{
		{Role: llm.RoleSystem, Content: systemPrompt},
		{Role: llm.RoleUser, Content: userPrompt},
	}

	var toolDefs []llm.ToolDefinition
	if opts.EnableToolCalling && d.sandbox != nil {
		toolDefs = d.sandbox.ListTools(opts.AllowedTools)
	}

	lastText := ""
	for turn := 0; turn < opts.MaxTurns; turn++ {
		if err := runCtx.Err(); err != nil {
			return d.abort(ctx, res, opts, err)
		}

		turnOut, err := d.oneTurn(runCtx, taskID, messages, toolDefs, opts, res)
		if err != nil {
			return d.abort(ctx, res, opts, err)
		}
		if turnOut.errSummary != "" {
			res.Summary = turnOut.errSummary
			return res
		}
		if turnOut.text != "" {
			lastText = turnOut.text
		}

		if len(turnOut.calls) == 0 {
			res.Success = true
			res.Summary = turnOut.text
			d.publish(&events.AgentMessagePayload{
				Type: events.TypeAgentMessage, TaskID: taskID, Content: turnOut.text,
			})
			return res
		}

		messages = append(messages, llm.Message{
			Role: llm.RoleAssistant, Content: turnOut.text, ToolCalls: turnOut.calls,
		})
		toolMsgs, err := d.executeCalls(runCtx, taskID, turnOut.calls, res)
		if err != nil {
			return d.abort(ctx, res, opts, err)
		}
		messages = append(messages, toolMsgs...)
	}

	// Turn budget exhausted mid-conversation.
	res.Summary = lastText
	if res.Summary == "" {
		res.Summary = fmt.Sprintf("Reached the %d-turn limit without concluding", opts.MaxTurns)
	}
	return res
}

type turnResult struct {
	text       string
	calls      []llm.ToolCall
	errSummary string
}

func (d *Dispatcher) oneTurn(ctx context.Context, taskID string, messages []llm.Message, toolDefs []llm.ToolDefinition, opts Options, res *Result) (*turnResult, error) {
	stream, err := d.client.Generate(ctx, &llm.GenerateInput{
		TaskID:              taskID,
		Model:               opts.Model,
		Messages:            messages,
		Tools:               toolDefs,
		MaxCompletionTokens: opts.MaxCompletionTokens,
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return &turnResult{errSummary: classifyError(err.Error(), "")}, nil
	}

	out := &turnResult{}
	flusher := newDebouncer(outputDebounce, func(text string) {
		if opts.EnableStreaming {
			d.publish(&events.AgentOutputPayload{
				Type: events.TypeAgentOutput, TaskID: taskID, Content: text,
			})
		}
	})
	defer flusher.stop()

	for chunk := range stream {
		switch c := chunk.(type) {
		case *llm.TextChunk:
			out.text += c.Content
			flusher.add(c.Content)
		case *llm.ToolCallChunk:
			out.calls = append(out.calls, llm.ToolCall{
				ID: c.CallID, Name: c.Name, Arguments: c.Arguments,
			})
		case *llm.UsageChunk:
			res.InputTokens += c.InputTokens
			res.OutputTokens += c.OutputTokens
			res.CachedInputTokens += c.CachedInputTokens
			res.ReasoningTokens += c.ReasoningTokens
			usage := tokens.Usage{
				Model:             opts.Model,
				InputTokens:       c.InputTokens,
				OutputTokens:      c.OutputTokens,
				CachedInputTokens: c.CachedInputTokens,
				ReasoningTokens:   c.ReasoningTokens,
			}
			res.CostUSD += tokens.CostUSD(usage)
			if d.tracker != nil {
				d.tracker.Add(usage)
			}
		case *llm.ErrorChunk:
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return &turnResult{errSummary: classifyError(c.Message, c.Code)}, nil
		}
	}
	flusher.stop()
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// executeCalls fans every tool call of one turn out to the sandbox and
// appends one tool message per call, in the model's call order.
func (d *Dispatcher) executeCalls(ctx context.Context, taskID string, calls []llm.ToolCall, res *Result) ([]llm.Message, error) {
	for _, call := range calls {
		d.publish(&events.ToolUsePayload{
			Type: events.TypeToolUse, TaskID: taskID, Tool: call.Name,
			CallID: call.ID, Argument: firstArgument(call.Arguments),
		})
	}

	results, err := d.sandbox.ExecuteAll(ctx, calls)
	if err != nil {
		return nil, err
	}

	msgs := make([]llm.Message, 0, len(calls))
	for _, call := range calls {
		r := results[call.ID]
		if r == nil {
			r = &tools.Result{CallID: call.ID, Name: call.Name, Content: "Tool produced no result", IsError: true}
		}
		content := r.Content
		if len(content) > toolOutputLimit {
			content = content[:toolOutputLimit] + "\n[Output truncated]"
		}
		res.ToolCalls = append(res.ToolCalls, ToolCallRecord{
			CallID: call.ID, Name: call.Name, IsError: r.IsError,
		})
		d.publish(&events.ToolResultPayload{
			Type: events.TypeToolResult, TaskID: taskID, Tool: call.Name,
			CallID: call.ID, IsError: r.IsError,
		})
		msgs = append(msgs, llm.Message{
			Role:       llm.RoleTool,
			Content:    content,
			ToolCallID: call.ID,
			ToolName:   call.Name,
		})
	}
	return msgs, nil
}

// abort converts a context error into the dispatch failure contract:
// cancellation and timeout both end the dispatch, with distinct summaries.
func (d *Dispatcher) abort(parent context.Context, res *Result, opts Options, err error) *Result {
	res.Success = false
	switch {
	case parent.Err() != nil:
		res.Summary = "Agent was cancelled"
	case errors.Is(err, context.DeadlineExceeded):
		res.Summary = fmt.Sprintf("Agent timed out after %d seconds", int(opts.Timeout.Seconds()))
	default:
		res.Summary = err.Error()
	}
	return res
}

func (d *Dispatcher) publish(payload any) {
	if d.bus != nil {
		d.bus.Publish(payload)
	}
}

// firstArgument extracts a short display value from the arguments JSON
// for the tool_use event, preferring path-like keys.
func firstArgument(rawJSON string) string {
	var args map[string]any
	if err := json.Unmarshal([]byte(rawJSON), &args); err != nil {
		return ""
	}
	for _, key := range []string{"file_path", "path", "notebook_path", "pattern", "command"} {
		if v, ok := args[key].(string); ok {
			return v
		}
	}
	keys := make([]string, 0, len(args))
	for k := range args {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if v, ok := args[k].(string); ok {
			return v
		}
	}
	return ""
}
