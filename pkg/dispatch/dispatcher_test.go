package dispatch

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/elisa-build/elisa/pkg/events"
	"github.com/elisa-build/elisa/pkg/llm"
	"github.com/elisa-build/elisa/pkg/tokens"
	"github.com/elisa-build/elisa/pkg/tools"
)

// fakeClient replays one scripted chunk slice per Generate call and
// records every input it was given.
type fakeClient struct {
	mu     sync.Mutex
	turns  [][]llm.Chunk
	inputs []*llm.GenerateInput
}

func (f *fakeClient) Generate(_ context.Context, in *llm.GenerateInput) (<-chan llm.Chunk, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.inputs = append(f.inputs, in)

	var turn []llm.Chunk
	if len(f.turns) > 0 {
		turn = f.turns[0]
		f.turns = f.turns[1:]
	}
	ch := make(chan llm.Chunk, len(turn))
	for _, c := range turn {
		ch <- c
	}
	close(ch)
	return ch, nil
}

func (f *fakeClient) Close() error { return nil }

func (f *fakeClient) input(i int) *llm.GenerateInput {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.inputs[i]
}

func (f *fakeClient) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.inputs)
}

// fakeExecutor returns canned results keyed by tool name.
type fakeExecutor struct {
	results map[string]*tools.Result
}

func (e *fakeExecutor) Execute(_ context.Context, call llm.ToolCall) (*tools.Result, error) {
	if r, ok := e.results[call.Name]; ok {
		out := *r
		out.CallID = call.ID
		return &out, nil
	}
	return &tools.Result{CallID: call.ID, Name: call.Name, Content: "ok"}, nil
}

func (e *fakeExecutor) ExecuteAll(ctx context.Context, calls []llm.ToolCall) (map[string]*tools.Result, error) {
	out := make(map[string]*tools.Result, len(calls))
	for _, call := range calls {
		r, err := e.Execute(ctx, call)
		if err != nil {
			return nil, err
		}
		out[call.ID] = r
	}
	return out, nil
}

func (e *fakeExecutor) ListTools(_ []string) []llm.ToolDefinition {
	return []llm.ToolDefinition{{Name: "Write", ParametersSchema: "{}"}}
}

func (e *fakeExecutor) Close() error { return nil }

// eventCapture records every frame type the bus delivers. drain closes
// the bus, which blocks until all queued frames have been delivered.
type eventCapture struct {
	mu     sync.Mutex
	frames []map[string]any
	drain  func()
}

func (c *eventCapture) sink() events.Sink {
	return events.SinkFunc(func(_ context.Context, frame []byte) error {
		var m map[string]any
		if err := json.Unmarshal(frame, &m); err != nil {
			return err
		}
		c.mu.Lock()
		c.frames = append(c.frames, m)
		c.mu.Unlock()
		return nil
	})
}

func (c *eventCapture) types() []string {
	c.drain()
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.frames))
	for i, f := range c.frames {
		out[i], _ = f["type"].(string)
	}
	return out
}

func newTestDispatcher(t *testing.T, client llm.Client, exec tools.Executor) (*Dispatcher, *eventCapture, *tokens.Tracker) {
	t.Helper()
	bus := events.NewBus("test-session", slog.Default())
	t.Cleanup(bus.Close)
	capture := &eventCapture{}
	capture.drain = bus.Close
	bus.Attach(capture.sink())
	tracker := tokens.NewTracker()
	return NewDispatcher(client, exec, bus, tracker), capture, tracker
}

func defaultOpts() Options {
	return Options{
		MaxTurns:          5,
		Model:             "gpt-5.2",
		Timeout:           10 * time.Second,
		EnableToolCalling: true,
	}
}

func TestDispatch_ConcludesWithoutToolCalls(t *testing.T) {
	client := &fakeClient{turns: [][]llm.Chunk{
		{&llm.TextChunk{Content: "Everything is "}, &llm.TextChunk{Content: "done."}},
	}}
	d, capture, _ := newTestDispatcher(t, client, &fakeExecutor{})

	res := d.Dispatch(context.Background(), "task-1", "sys", "user", defaultOpts())

	assert.True(t, res.Success)
	assert.Equal(t, "Everything is done.", res.Summary)
	assert.Equal(t, 1, client.callCount())
	assert.Contains(t, capture.types(), "agent_message")
}

func TestDispatch_ToolCallTurnThenConclusion(t *testing.T) {
	client := &fakeClient{turns: [][]llm.Chunk{
		{
			&llm.TextChunk{Content: "Writing the file."},
			&llm.ToolCallChunk{CallID: "c1", Name: "Write", Arguments: `{"file_path":"src/main.py","content":"x"}`},
		},
		{&llm.TextChunk{Content: "Implemented."}},
	}}
	exec := &fakeExecutor{results: map[string]*tools.Result{
		"Write": {Name: "Write", Content: "Wrote 1 bytes to src/main.py"},
	}}
	d, capture, _ := newTestDispatcher(t, client, exec)

	res := d.Dispatch(context.Background(), "task-1", "sys", "user", defaultOpts())

	require.True(t, res.Success)
	assert.Equal(t, "Implemented.", res.Summary)
	require.Len(t, res.ToolCalls, 1)
	assert.Equal(t, "Write", res.ToolCalls[0].Name)
	assert.False(t, res.ToolCalls[0].IsError)

	// The second turn's history carries the assistant call and the tool reply.
	second := client.input(1)
	last := second.Messages[len(second.Messages)-1]
	assert.Equal(t, llm.RoleTool, last.Role)
	assert.Equal(t, "c1", last.ToolCallID)
	assert.Equal(t, "Wrote 1 bytes to src/main.py", last.Content)

	types := capture.types()
	assert.Contains(t, types, "tool_use")
	assert.Contains(t, types, "tool_result")
}

func TestDispatch_TurnBudgetExhausted(t *testing.T) {
	callTurn := []llm.Chunk{
		&llm.ToolCallChunk{CallID: "c1", Name: "Write", Arguments: `{}`},
	}
	client := &fakeClient{turns: [][]llm.Chunk{callTurn, callTurn}}
	d, _, _ := newTestDispatcher(t, client, &fakeExecutor{})

	opts := defaultOpts()
	opts.MaxTurns = 2
	res := d.Dispatch(context.Background(), "task-1", "sys", "user", opts)

	assert.False(t, res.Success)
	assert.Equal(t, "Reached the 2-turn limit without concluding", res.Summary)
	assert.Equal(t, 2, client.callCount())
}

func TestDispatch_TurnBudgetKeepsLastText(t *testing.T) {
	client := &fakeClient{turns: [][]llm.Chunk{
		{
			&llm.TextChunk{Content: "Partial progress."},
			&llm.ToolCallChunk{CallID: "c1", Name: "Write", Arguments: `{}`},
		},
	}}
	d, _, _ := newTestDispatcher(t, client, &fakeExecutor{})

	opts := defaultOpts()
	opts.MaxTurns = 1
	res := d.Dispatch(context.Background(), "task-1", "sys", "user", opts)

	assert.False(t, res.Success)
	assert.Equal(t, "Partial progress.", res.Summary)
}

func TestDispatch_ClassifiesProviderErrors(t *testing.T) {
	client := &fakeClient{turns: [][]llm.Chunk{
		{&llm.ErrorChunk{Message: "This model's maximum context length is 128000 tokens", Code: "context_length_exceeded"}},
	}}
	d, _, _ := newTestDispatcher(t, client, &fakeExecutor{})

	res := d.Dispatch(context.Background(), "task-1", "sys", "user", defaultOpts())

	assert.False(t, res.Success)
	assert.True(t, IsContextWindowError(res.Summary))
	assert.Contains(t, res.Summary, "maximum context length")
}

func TestDispatch_Cancellation(t *testing.T) {
	client := &fakeClient{}
	d, _, _ := newTestDispatcher(t, client, &fakeExecutor{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	res := d.Dispatch(ctx, "task-1", "sys", "user", defaultOpts())

	assert.False(t, res.Success)
	assert.Equal(t, "Agent was cancelled", res.Summary)
}

func TestDispatch_Timeout(t *testing.T) {
	// Generate never yields until the context dies.
	client := &blockingClient{}
	d, _, _ := newTestDispatcher(t, client, &fakeExecutor{})

	opts := defaultOpts()
	opts.Timeout = 100 * time.Millisecond
	res := d.Dispatch(context.Background(), "task-1", "sys", "user", opts)

	assert.False(t, res.Success)
	assert.Equal(t, "Agent timed out after 0 seconds", res.Summary)
}

type blockingClient struct{}

func (b *blockingClient) Generate(ctx context.Context, _ *llm.GenerateInput) (<-chan llm.Chunk, error) {
	ch := make(chan llm.Chunk)
	go func() {
		<-ctx.Done()
		close(ch)
	}()
	return ch, nil
}

func (b *blockingClient) Close() error { return nil }

func TestDispatch_TruncatesLongToolOutput(t *testing.T) {
	client := &fakeClient{turns: [][]llm.Chunk{
		{&llm.ToolCallChunk{CallID: "c1", Name: "Read", Arguments: `{"file_path":"big.txt"}`}},
		{&llm.TextChunk{Content: "Read it."}},
	}}
	exec := &fakeExecutor{results: map[string]*tools.Result{
		"Read": {Name: "Read", Content: strings.Repeat("x", toolOutputLimit+5_000)},
	}}
	d, _, _ := newTestDispatcher(t, client, exec)

	res := d.Dispatch(context.Background(), "task-1", "sys", "user", defaultOpts())
	require.True(t, res.Success)

	second := client.input(1)
	last := second.Messages[len(second.Messages)-1]
	assert.Len(t, last.Content, toolOutputLimit+len("\n[Output truncated]"))
	assert.True(t, strings.HasSuffix(last.Content, "[Output truncated]"))
}

func TestDispatch_AccumulatesUsage(t *testing.T) {
	client := &fakeClient{turns: [][]llm.Chunk{
		{
			&llm.ToolCallChunk{CallID: "c1", Name: "Write", Arguments: `{}`},
			&llm.UsageChunk{InputTokens: 100, OutputTokens: 40, CachedInputTokens: 20},
		},
		{
			&llm.TextChunk{Content: "Done."},
			&llm.UsageChunk{InputTokens: 200, OutputTokens: 60, ReasoningTokens: 10},
		},
	}}
	d, _, tracker := newTestDispatcher(t, client, &fakeExecutor{})

	res := d.Dispatch(context.Background(), "task-1", "sys", "user", defaultOpts())

	require.True(t, res.Success)
	assert.Equal(t, 300, res.InputTokens)
	assert.Equal(t, 100, res.OutputTokens)
	assert.Equal(t, 20, res.CachedInputTokens)
	assert.Equal(t, 10, res.ReasoningTokens)
	assert.Greater(t, res.CostUSD, 0.0)

	snap := tracker.Snapshot()
	assert.Equal(t, 300, snap.InputTokens)
	assert.Equal(t, 100, snap.OutputTokens)
	assert.Equal(t, 400, snap.TotalTokens)
}

func TestFirstArgument(t *testing.T) {
	assert.Equal(t, "src/main.py", firstArgument(`{"content":"x","file_path":"src/main.py"}`))
	assert.Equal(t, "ls -la", firstArgument(`{"command":"ls -la","timeout":5}`))
	assert.Equal(t, "hello", firstArgument(`{"zeta":"hello"}`))
	assert.Equal(t, "", firstArgument(`not json`))
	assert.Equal(t, "", firstArgument(`{"count":3}`))
}
