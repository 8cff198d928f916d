// Package tools is the sandboxed tool surface agents call during a
// dispatch: file operations, search, and shell, all jailed to the session
// workspace.
package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/elisa-build/elisa/pkg/llm"
	"github.com/elisa-build/elisa/pkg/workspace"
)

// Executor abstracts tool execution for the dispatcher.
type Executor interface {
	// Execute runs a single tool call. Tool failures are reported in the
	// result, not the error; the error is reserved for executor faults.
	Execute(ctx context.Context, call llm.ToolCall) (*Result, error)

	// ExecuteAll runs every call of one assistant turn concurrently and
	// returns results keyed by call id.
	ExecuteAll(ctx context.Context, calls []llm.ToolCall) (map[string]*Result, error)

	// ListTools returns the definitions for the allowed tool names, or
	// all tools when allowed is nil.
	ListTools(allowed []string) []llm.ToolDefinition

	// Close releases resources.
	Close() error
}

// Result is the output of one tool execution.
type Result struct {
	CallID  string
	Name    string
	Content string
	IsError bool
}

// AskFunc suspends a dispatch to collect answers from the human operator.
// Keys of the returned map are the question strings.
type AskFunc func(ctx context.Context, questions []string) (map[string]string, error)

// Sandbox implements Executor over a jailed workspace directory.
type Sandbox struct {
	ws          *workspace.Manager
	bashTimeout time.Duration
	ask         AskFunc
}

// NewSandbox creates a sandbox rooted at the workspace.
func NewSandbox(ws *workspace.Manager, bashTimeout time.Duration) *Sandbox {
	if bashTimeout <= 0 {
		bashTimeout = 30 * time.Second
	}
	return &Sandbox{ws: ws, bashTimeout: bashTimeout}
}

// SetAskFunc wires the question mechanism. Without it the AskUser tool
// reports that questions are unavailable.
func (s *Sandbox) SetAskFunc(ask AskFunc) { s.ask = ask }

// Execute dispatches a tool call by name.
func (s *Sandbox) Execute(ctx context.Context, call llm.ToolCall) (*Result, error) {
	spec, ok := registry[call.Name]
	if !ok {
		return s.fail(call, fmt.Sprintf("Unknown tool: %s", call.Name)), nil
	}

	var args map[string]any
	if err := json.Unmarshal([]byte(call.Arguments), &args); err != nil {
		return s.fail(call, fmt.Sprintf("Invalid tool arguments: %v", err)), nil
	}

	content, err := spec.run(ctx, s, args)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, err
		}
		return s.fail(call, err.Error()), nil
	}
	return &Result{CallID: call.ID, Name: call.Name, Content: content}, nil
}

// ExecuteAll runs every call of one assistant turn concurrently and
// returns results keyed by call id. Individual tool failures land in
// their result; a non-nil error means the whole turn was aborted.
func (s *Sandbox) ExecuteAll(ctx context.Context, calls []llm.ToolCall) (map[string]*Result, error) {
	results := make(map[string]*Result, len(calls))
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	for _, call := range calls {
		g.Go(func() error {
			res, err := s.Execute(gctx, call)
			if err != nil {
				return err
			}
			mu.Lock()
			results[call.ID] = res
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// ListTools returns tool definitions in a stable order.
func (s *Sandbox) ListTools(allowed []string) []llm.ToolDefinition {
	names := toolOrder
	if allowed != nil {
		names = allowed
	}
	defs := make([]llm.ToolDefinition, 0, len(names))
	for _, name := range names {
		spec, ok := registry[name]
		if !ok {
			continue
		}
		defs = append(defs, llm.ToolDefinition{
			Name:             name,
			Description:      spec.description,
			ParametersSchema: spec.schema,
		})
	}
	return defs
}

// Close satisfies Executor. Shell children die with their context, so
// there is nothing to release.
func (s *Sandbox) Close() error { return nil }

func (s *Sandbox) fail(call llm.ToolCall, msg string) *Result {
	return &Result{CallID: call.ID, Name: call.Name, Content: msg, IsError: true}
}

// toolSpec pairs a tool's schema with its implementation.
type toolSpec struct {
	description string
	schema      string
	run         func(ctx context.Context, s *Sandbox, args map[string]any) (string, error)
}

// argString fetches a required string argument.
func argString(args map[string]any, key string) (string, error) {
	v, ok := args[key]
	if !ok {
		return "", fmt.Errorf("missing required parameter: %s", key)
	}
	str, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("parameter %s must be a string", key)
	}
	return str, nil
}

// optString fetches an optional string argument.
func optString(args map[string]any, key string) string {
	if v, ok := args[key].(string); ok {
		return v
	}
	return ""
}

// optInt fetches an optional integer argument (JSON numbers are float64).
func optInt(args map[string]any, key string) int {
	if v, ok := args[key].(float64); ok {
		return int(v)
	}
	return 0
}
