package openai

import (
	"encoding/json"
	"errors"
	"testing"

	openai "github.com/sashabaranov/go-openai"

	"github.com/loomhq/loom/internal/provider"
)

func TestNew(t *testing.T) {
	if _, err := New(Config{}); err == nil {
		t.Fatal("expected error for missing API key")
	}

	p, err := New(Config{APIKey: "test-key"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if p.Name() != "openai" {
		t.Errorf("Name = %q", p.Name())
	}
	if p.config.Model == "" {
		t.Error("default model not applied")
	}
}

func TestConvertMessages(t *testing.T) {
	messages := []provider.Message{
		{Role: "user", Content: "list the directory"},
		{Role: "assistant", ToolCalls: []provider.ToolCall{
			{ID: "tc1", Name: "list_dir", Input: json.RawMessage(`{"path":"."}`)},
		}},
		{Role: "user", ToolResults: []provider.ToolResult{
			{ToolCallID: "tc1", Content: "main.go\ngo.mod"},
		}},
	}

	result := convertMessages(messages, "You are a coding assistant.")

	// System prompt leads, tool result becomes its own message.
	if len(result) != 5 {
		t.Fatalf("got %d messages, want 5", len(result))
	}
	if result[0].Role != openai.ChatMessageRoleSystem {
		t.Errorf("first role = %q, want system", result[0].Role)
	}
	last := result[len(result)-1]
	if last.Role != openai.ChatMessageRoleTool || last.ToolCallID != "tc1" {
		t.Errorf("tool result message = %+v", last)
	}
	if len(result[2].ToolCalls) != 1 || result[2].ToolCalls[0].Function.Name != "list_dir" {
		t.Error("assistant tool call not converted")
	}
}

func TestConvertMessagesNoSystem(t *testing.T) {
	result := convertMessages([]provider.Message{{Role: "user", Content: "hi"}}, "")
	if len(result) != 1 {
		t.Fatalf("got %d messages, want 1", len(result))
	}
}

func TestConvertTools(t *testing.T) {
	tools := []provider.ToolDef{
		{
			Name:        "run_command",
			Description: "Run a shell command",
			Parameters:  json.RawMessage(`{"type":"object","properties":{"command":{"type":"string"}}}`),
		},
	}
	result := convertTools(tools)
	if len(result) != 1 {
		t.Fatalf("got %d tools, want 1", len(result))
	}
	if result[0].Type != openai.ToolTypeFunction {
		t.Errorf("type = %q", result[0].Type)
	}
	if result[0].Function.Name != "run_command" {
		t.Errorf("name = %q", result[0].Function.Name)
	}
}

func TestWrapErrorAPIError(t *testing.T) {
	p, err := New(Config{APIKey: "test-key", Model: "gpt-4o"})
	if err != nil {
		t.Fatal(err)
	}

	apiErr := &openai.APIError{
		HTTPStatusCode: 429,
		Message:        "Rate limit reached",
		Type:           "rate_limit_error",
	}
	wrapped := p.wrapError(apiErr)

	var perr *provider.Error
	if !errors.As(wrapped, &perr) {
		t.Fatalf("wrapError returned %T", wrapped)
	}
	if perr.Status != 429 {
		t.Errorf("Status = %d, want 429", perr.Status)
	}
	if perr.Reason != provider.ReasonRateLimit {
		t.Errorf("Reason = %s, want %s", perr.Reason, provider.ReasonRateLimit)
	}
	if !provider.IsRetryable(wrapped) {
		t.Error("rate limit should be retryable")
	}
}

func TestWrapErrorQuota(t *testing.T) {
	p, err := New(Config{APIKey: "test-key"})
	if err != nil {
		t.Fatal(err)
	}
	apiErr := &openai.APIError{
		HTTPStatusCode: 429,
		Message:        "You exceeded your current quota",
		Code:           "insufficient_quota",
	}
	wrapped := p.wrapError(apiErr)
	if !provider.ShouldFallback(wrapped) {
		t.Error("insufficient_quota should be fallback-eligible")
	}
	if provider.IsRetryable(wrapped) {
		t.Error("insufficient_quota should not be retried")
	}
}
