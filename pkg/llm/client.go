// Package llm abstracts the language-model vendor behind a channel-based
// streaming interface. The production client speaks the OpenAI chat
// completions API.
package llm

import (
	"context"
)

// Client is the capability the dispatcher and planner call. Generate
// returns a stream of chunks; the channel is closed when the stream
// completes and errors arrive as ErrorChunk values.
type Client interface {
	Generate(ctx context.Context, input *GenerateInput) (<-chan Chunk, error)
	Close() error
}

// GenerateInput is one model call.
type GenerateInput struct {
	SessionID           string
	TaskID              string
	Model               string
	Messages            []Message
	Tools               []ToolDefinition // nil = no tools
	MaxCompletionTokens int
	JSONMode            bool
}

// Message is one entry of the conversation history.
type Message struct {
	Role       string // "system", "user", "assistant", "tool"
	Content    string
	ToolCalls  []ToolCall // assistant messages
	ToolCallID string     // tool result messages
	ToolName   string     // tool result messages
}

// ToolDefinition describes a tool exposed to the model.
type ToolDefinition struct {
	Name             string
	Description      string
	ParametersSchema string // JSON Schema
}

// ToolCall is the model's request to invoke a tool.
type ToolCall struct {
	ID        string
	Name      string
	Arguments string // JSON
}

// Chunk is the interface for all streaming chunk types.
type Chunk interface {
	chunkType() ChunkType
}

// ChunkType identifies the kind of streaming chunk.
type ChunkType string

const (
	ChunkTypeText     ChunkType = "text"
	ChunkTypeToolCall ChunkType = "tool_call"
	ChunkTypeUsage    ChunkType = "usage"
	ChunkTypeError    ChunkType = "error"
)

// TextChunk is a fragment of assistant text.
type TextChunk struct{ Content string }

// ToolCallChunk signals a complete tool call from the model.
type ToolCallChunk struct{ CallID, Name, Arguments string }

// UsageChunk reports token consumption for the call.
type UsageChunk struct {
	InputTokens       int
	OutputTokens      int
	CachedInputTokens int
	ReasoningTokens   int
}

// ErrorChunk signals a provider error. Code carries the vendor error code
// when available so the dispatcher can classify it.
type ErrorChunk struct {
	Message string
	Code    string
}

func (c *TextChunk) chunkType() ChunkType     { return ChunkTypeText }
func (c *ToolCallChunk) chunkType() ChunkType { return ChunkTypeToolCall }
func (c *UsageChunk) chunkType() ChunkType    { return ChunkTypeUsage }
func (c *ErrorChunk) chunkType() ChunkType    { return ChunkTypeError }

// Role constants for Message.Role.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)
