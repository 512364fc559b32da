// Package provider defines the language-model provider contract and a
// resilience wrapper (rate limiting, retry, circuit breaking) around it.
package provider

import (
	"context"
	"encoding/json"
)

// Provider is the minimal contract a model backend must implement.
//
// Implementations must be safe for concurrent use; multiple goroutines may
// call Generate simultaneously.
type Provider interface {
	// Name returns the provider name (e.g., "anthropic", "openai").
	Name() string

	// Generate sends the conversation and returns a complete response.
	Generate(ctx context.Context, messages []Message, tools []ToolDef) (*Response, error)
}

// StreamingProvider is implemented by providers with native streaming.
// Providers without it are adapted by synthesizing chunks from Generate.
type StreamingProvider interface {
	Provider

	// GenerateStream sends the conversation and streams response chunks.
	// The returned channel is closed after the final chunk.
	GenerateStream(ctx context.Context, messages []Message, tools []ToolDef) (<-chan Chunk, error)
}

// Message is a single turn in a conversation.
// Role values: "system", "user", "assistant", "tool".
type Message struct {
	Role string `json:"role"`

	// Content is the text content (may be empty for tool-only messages).
	Content string `json:"content,omitempty"`

	// ToolCalls contains tool execution requests from the assistant.
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`

	// ToolResults contains responses from executed tools.
	ToolResults []ToolResult `json:"tool_results,omitempty"`
}

// ToolCall is a model's request to execute a tool.
type ToolCall struct {
	ID    string          `json:"id"`
	Name  string          `json:"name"`
	Input json.RawMessage `json:"input"`
}

// ToolResult is the outcome of an executed tool call.
type ToolResult struct {
	ToolCallID string `json:"tool_call_id"`
	Content    string `json:"content"`
	IsError    bool   `json:"is_error,omitempty"`
}

// ToolDef is the externally visible description of a callable tool.
type ToolDef struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  json.RawMessage `json:"parameters"`
}

// Usage reports token consumption for a request.
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// Response is a complete (non-streamed) model response.
type Response struct {
	Content    string     `json:"content"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	Usage      Usage      `json:"usage"`
	StopReason string     `json:"stop_reason,omitempty"`
}

// Chunk is one element of a streamed response. Exactly one of Content,
// ToolCall, Usage, or Done/Err is meaningful per chunk.
type Chunk struct {
	// Content contains partial response text.
	Content string `json:"content,omitempty"`

	// ToolCall contains a complete tool execution request.
	ToolCall *ToolCall `json:"tool_call,omitempty"`

	// Usage carries final token counts, sent before Done.
	Usage *Usage `json:"usage,omitempty"`

	// Done is true on the final chunk of a successful stream.
	Done bool `json:"done,omitempty"`

	// StopReason accompanies Done.
	StopReason string `json:"stop_reason,omitempty"`

	// Err terminates the stream when non-nil.
	Err error `json:"-"`
}
