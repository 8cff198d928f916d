package llm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sort"

	openai "github.com/sashabaranov/go-openai"

	"github.com/elisa-build/elisa/pkg/config"
)

// OpenAIClient implements Client over the OpenAI chat completions API,
// with streaming and tool calling.
type OpenAIClient struct {
	api          *openai.Client
	defaultModel string
}

// NewOpenAIClient builds a client from configuration. Workshop proxy
// headers are attached to every request when configured.
func NewOpenAIClient(cfg *config.Config) (*OpenAIClient, error) {
	if cfg.OpenAIAPIKey == "" {
		return nil, errors.New("llm: OPENAI_API_KEY is not set")
	}
	clientCfg := openai.DefaultConfig(cfg.OpenAIAPIKey)
	if cfg.OpenAIBaseURL != "" {
		clientCfg.BaseURL = cfg.OpenAIBaseURL
	}
	if cfg.WorkshopCode != "" || cfg.StudentID != "" {
		clientCfg.HTTPClient = &http.Client{
			Transport: &headerTransport{
				base:         http.DefaultTransport,
				workshopCode: cfg.WorkshopCode,
				studentID:    cfg.StudentID,
			},
		}
	}
	return &OpenAIClient{
		api:          openai.NewClientWithConfig(clientCfg),
		defaultModel: cfg.OpenAIModel,
	}, nil
}

// Generate starts a streaming chat completion and converts the stream to
// chunks. The returned channel closes when the vendor stream ends.
func (c *OpenAIClient) Generate(ctx context.Context, input *GenerateInput) (<-chan Chunk, error) {
	req := openai.ChatCompletionRequest{
		Model:    input.Model,
		Messages: encodeMessages(input.Messages),
		Stream:   true,
		StreamOptions: &openai.StreamOptions{
			IncludeUsage: true,
		},
	}
	if req.Model == "" {
		req.Model = c.defaultModel
	}
	if input.MaxCompletionTokens > 0 {
		req.MaxCompletionTokens = input.MaxCompletionTokens
	}
	if len(input.Tools) > 0 {
		req.Tools = encodeTools(input.Tools)
	}
	if input.JSONMode {
		req.ResponseFormat = &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		}
	}

	stream, err := c.api.CreateChatCompletionStream(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("llm: starting completion: %w", err)
	}

	out := make(chan Chunk, 16)
	go func() {
		defer close(out)
		defer stream.Close()
		pump(ctx, stream, out)
	}()
	return out, nil
}

// Close releases nothing for the HTTP client; present to satisfy Client.
func (c *OpenAIClient) Close() error { return nil }

// pump drains the vendor stream. Tool call fragments arrive as deltas
// keyed by index and are assembled before emission.
func pump(ctx context.Context, stream *openai.ChatCompletionStream, out chan<- Chunk) {
	type partialCall struct {
		id   string
		name string
		args string
	}
	calls := make(map[int]*partialCall)

	emit := func(ch Chunk) bool {
		select {
		case out <- ch:
			return true
		case <-ctx.Done():
			return false
		}
	}

	for {
		resp, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			emit(&ErrorChunk{Message: err.Error(), Code: apiErrorCode(err)})
			return
		}

		if resp.Usage != nil {
			u := &UsageChunk{
				InputTokens:  resp.Usage.PromptTokens,
				OutputTokens: resp.Usage.CompletionTokens,
			}
			if d := resp.Usage.PromptTokensDetails; d != nil {
				u.CachedInputTokens = d.CachedTokens
			}
			if d := resp.Usage.CompletionTokensDetails; d != nil {
				u.ReasoningTokens = d.ReasoningTokens
			}
			if !emit(u) {
				return
			}
		}
		if len(resp.Choices) == 0 {
			continue
		}
		delta := resp.Choices[0].Delta
		if delta.Content != "" {
			if !emit(&TextChunk{Content: delta.Content}) {
				return
			}
		}
		for _, tc := range delta.ToolCalls {
			idx := 0
			if tc.Index != nil {
				idx = *tc.Index
			}
			pc := calls[idx]
			if pc == nil {
				pc = &partialCall{}
				calls[idx] = pc
			}
			if tc.ID != "" {
				pc.id = tc.ID
			}
			if tc.Function.Name != "" {
				pc.name = tc.Function.Name
			}
			pc.args += tc.Function.Arguments
		}
	}

	indexes := make([]int, 0, len(calls))
	for idx := range calls {
		indexes = append(indexes, idx)
	}
	sort.Ints(indexes)
	for _, idx := range indexes {
		pc := calls[idx]
		if pc.name == "" {
			slog.Warn("Discarding tool call delta without a name", "call_id", pc.id)
			continue
		}
		args := pc.args
		if args == "" {
			args = "{}"
		}
		if !emit(&ToolCallChunk{CallID: pc.id, Name: pc.name, Arguments: args}) {
			return
		}
	}
}

func encodeMessages(msgs []Message) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, 0, len(msgs))
	for _, m := range msgs {
		cm := openai.ChatCompletionMessage{
			Role:       m.Role,
			Content:    m.Content,
			ToolCallID: m.ToolCallID,
		}
		for _, tc := range m.ToolCalls {
			cm.ToolCalls = append(cm.ToolCalls, openai.ToolCall{
				ID:   tc.ID,
				Type: openai.ToolTypeFunction,
				Function: openai.FunctionCall{
					Name:      tc.Name,
					Arguments: tc.Arguments,
				},
			})
		}
		out = append(out, cm)
	}
	return out
}

func encodeTools(tools []ToolDefinition) []openai.Tool {
	out := make([]openai.Tool, 0, len(tools))
	for _, t := range tools {
		out = append(out, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  rawSchema(t.ParametersSchema),
			},
		})
	}
	return out
}

func apiErrorCode(err error) string {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		if code, ok := apiErr.Code.(string); ok {
			return code
		}
		return apiErr.Type
	}
	return ""
}

// headerTransport injects workshop proxy auth headers.
type headerTransport struct {
	base         http.RoundTripper
	workshopCode string
	studentID    string
}

func (t *headerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	clone := req.Clone(req.Context())
	if t.workshopCode != "" {
		clone.Header.Set("X-Workshop-Code", t.workshopCode)
	}
	if t.studentID != "" {
		clone.Header.Set("X-Student-Id", t.studentID)
	}
	return t.base.RoundTrip(clone)
}
