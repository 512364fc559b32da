// Package anthropic adapts Anthropic's Claude API to the provider interface.
package anthropic

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/packages/ssestream"

	"github.com/loomhq/loom/internal/provider"
)

// Config holds settings for the Anthropic provider.
type Config struct {
	// APIKey is the Anthropic API key (required). Format: sk-ant-api03-...
	APIKey string `yaml:"api_key"`

	// BaseURL overrides the default API base URL.
	BaseURL string `yaml:"base_url"`

	// Model is the model requested for every call.
	Model string `yaml:"model"`

	// MaxTokens caps the generated output. Default: 4096.
	MaxTokens int `yaml:"max_tokens"`

	// System is the system prompt sent with every request.
	System string `yaml:"system"`

	// Timeout bounds a single API call. Zero means no client-side bound.
	Timeout time.Duration `yaml:"timeout"`
}

// Provider calls Claude through the official SDK. Safe for concurrent use;
// each GenerateStream call owns an independent stream and goroutine.
type Provider struct {
	client anthropic.Client
	config Config
}

// New creates an Anthropic provider.
func New(config Config) (*Provider, error) {
	if config.APIKey == "" {
		return nil, errors.New("anthropic: API key is required")
	}
	if config.Model == "" {
		config.Model = "claude-sonnet-4-20250514"
	}
	if config.MaxTokens <= 0 {
		config.MaxTokens = 4096
	}

	options := []option.RequestOption{option.WithAPIKey(config.APIKey)}
	if strings.TrimSpace(config.BaseURL) != "" {
		options = append(options, option.WithBaseURL(config.BaseURL))
	}
	if config.Timeout > 0 {
		options = append(options, option.WithRequestTimeout(config.Timeout))
	}

	return &Provider{
		client: anthropic.NewClient(options...),
		config: config,
	}, nil
}

// Name returns "anthropic".
func (p *Provider) Name() string {
	return "anthropic"
}

// Generate sends a blocking completion request.
func (p *Provider) Generate(ctx context.Context, messages []provider.Message, tools []provider.ToolDef) (*provider.Response, error) {
	params, err := p.buildParams(messages, tools)
	if err != nil {
		return nil, err
	}

	msg, err := p.client.Messages.New(ctx, params)
	if err != nil {
		return nil, p.wrapError(err)
	}

	resp := &provider.Response{
		StopReason: string(msg.StopReason),
		Usage: provider.Usage{
			InputTokens:  int(msg.Usage.InputTokens),
			OutputTokens: int(msg.Usage.OutputTokens),
		},
	}
	for _, block := range msg.Content {
		switch b := block.AsAny().(type) {
		case anthropic.TextBlock:
			resp.Content += b.Text
		case anthropic.ToolUseBlock:
			resp.ToolCalls = append(resp.ToolCalls, provider.ToolCall{
				ID:    b.ID,
				Name:  b.Name,
				Input: json.RawMessage(b.JSON.Input.Raw()),
			})
		}
	}
	return resp, nil
}

// GenerateStream sends a streaming completion request. The returned channel
// is closed after the final chunk; a failing stream delivers its error in
// the last chunk's Err.
func (p *Provider) GenerateStream(ctx context.Context, messages []provider.Message, tools []provider.ToolDef) (<-chan provider.Chunk, error) {
	params, err := p.buildParams(messages, tools)
	if err != nil {
		return nil, err
	}

	stream := p.client.Messages.NewStreaming(ctx, params)

	out := make(chan provider.Chunk)
	go func() {
		defer close(out)
		p.processStream(ctx, stream, out)
	}()
	return out, nil
}

// maxEmptyStreamEvents bounds consecutive no-op events before the stream is
// treated as malformed.
const maxEmptyStreamEvents = 300

func (p *Provider) processStream(ctx context.Context, stream *ssestream.Stream[anthropic.MessageStreamEventUnion], out chan<- provider.Chunk) {
	emit := func(c provider.Chunk) bool {
		select {
		case out <- c:
			return true
		case <-ctx.Done():
			return false
		}
	}

	var currentToolCall *provider.ToolCall
	var currentToolInput strings.Builder
	var usage provider.Usage
	var stopReason string
	emptyEvents := 0

	for stream.Next() {
		event := stream.Current()
		processed := false

		switch event.Type {
		case "message_start":
			start := event.AsMessageStart()
			if start.Message.Usage.InputTokens > 0 {
				usage.InputTokens = int(start.Message.Usage.InputTokens)
			}
			processed = true

		case "content_block_start":
			block := event.AsContentBlockStart().ContentBlock
			if block.Type == "tool_use" {
				toolUse := block.AsToolUse()
				currentToolCall = &provider.ToolCall{
					ID:   toolUse.ID,
					Name: toolUse.Name,
				}
				currentToolInput.Reset()
				processed = true
			}

		case "content_block_delta":
			delta := event.AsContentBlockDelta().Delta
			switch delta.Type {
			case "text_delta":
				if delta.Text != "" {
					if !emit(provider.Chunk{Content: delta.Text}) {
						return
					}
					processed = true
				}
			case "input_json_delta":
				if delta.PartialJSON != "" {
					currentToolInput.WriteString(delta.PartialJSON)
					processed = true
				}
			}

		case "content_block_stop":
			if currentToolCall != nil {
				currentToolCall.Input = json.RawMessage(currentToolInput.String())
				if !emit(provider.Chunk{ToolCall: currentToolCall}) {
					return
				}
				currentToolCall = nil
				processed = true
			}

		case "message_delta":
			md := event.AsMessageDelta()
			if md.Usage.OutputTokens > 0 {
				usage.OutputTokens = int(md.Usage.OutputTokens)
			}
			if md.Delta.StopReason != "" {
				stopReason = string(md.Delta.StopReason)
			}
			processed = true

		case "message_stop":
			emit(provider.Chunk{Usage: &usage, Done: true, StopReason: stopReason})
			return

		case "error":
			emit(provider.Chunk{Err: p.wrapError(errors.New("anthropic stream error"))})
			return
		}

		if processed {
			emptyEvents = 0
		} else {
			emptyEvents++
			if emptyEvents >= maxEmptyStreamEvents {
				emit(provider.Chunk{Err: p.wrapError(
					fmt.Errorf("stream appears malformed: %d consecutive empty events", emptyEvents))})
				return
			}
		}
	}

	if err := stream.Err(); err != nil {
		emit(provider.Chunk{Err: p.wrapError(err)})
	}
}

func (p *Provider) buildParams(messages []provider.Message, tools []provider.ToolDef) (anthropic.MessageNewParams, error) {
	converted, err := convertMessages(messages)
	if err != nil {
		return anthropic.MessageNewParams{}, err
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(p.config.Model),
		Messages:  converted,
		MaxTokens: int64(p.config.MaxTokens),
	}
	if p.config.System != "" {
		params.System = []anthropic.TextBlockParam{{Type: "text", Text: p.config.System}}
	}
	if len(tools) > 0 {
		ctools, err := convertTools(tools)
		if err != nil {
			return anthropic.MessageNewParams{}, err
		}
		params.Tools = ctools
	}
	return params, nil
}

// convertMessages maps the unified message format onto Anthropic content
// blocks. System messages are skipped here; the system prompt travels in
// params.System.
func convertMessages(messages []provider.Message) ([]anthropic.MessageParam, error) {
	var result []anthropic.MessageParam

	for _, msg := range messages {
		if msg.Role == "system" {
			continue
		}

		var content []anthropic.ContentBlockParamUnion
		if msg.Content != "" {
			content = append(content, anthropic.NewTextBlock(msg.Content))
		}
		for _, tr := range msg.ToolResults {
			content = append(content, anthropic.NewToolResultBlock(tr.ToolCallID, tr.Content, tr.IsError))
		}
		for _, tc := range msg.ToolCalls {
			var input map[string]interface{}
			if err := json.Unmarshal(tc.Input, &input); err != nil {
				return nil, fmt.Errorf("anthropic: invalid tool call input for %s: %w", tc.Name, err)
			}
			content = append(content, anthropic.NewToolUseBlock(tc.ID, input, tc.Name))
		}

		if msg.Role == "assistant" {
			result = append(result, anthropic.NewAssistantMessage(content...))
		} else {
			result = append(result, anthropic.NewUserMessage(content...))
		}
	}
	return result, nil
}

func convertTools(tools []provider.ToolDef) ([]anthropic.ToolUnionParam, error) {
	var result []anthropic.ToolUnionParam

	for _, tool := range tools {
		var schema anthropic.ToolInputSchemaParam
		if err := json.Unmarshal(tool.Parameters, &schema); err != nil {
			return nil, fmt.Errorf("anthropic: invalid tool schema for %s: %w", tool.Name, err)
		}

		toolParam := anthropic.ToolUnionParamOfTool(schema, tool.Name)
		if toolParam.OfTool == nil {
			return nil, fmt.Errorf("anthropic: invalid tool schema for %s: missing tool definition", tool.Name)
		}
		toolParam.OfTool.Description = anthropic.String(tool.Description)
		result = append(result, toolParam)
	}
	return result, nil
}

type errorPayload struct {
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
	RequestID string `json:"request_id"`
}

// wrapError normalizes SDK errors, pulling the status, error type, and
// request ID out of the API error body when present.
func (p *Provider) wrapError(err error) error {
	if err == nil {
		return nil
	}
	var perr *provider.Error
	if errors.As(err, &perr) {
		return err
	}

	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		e := provider.NewError("anthropic", p.config.Model, err).WithStatus(apiErr.StatusCode)
		if apiErr.RequestID != "" {
			e = e.WithRequestID(apiErr.RequestID)
		}
		if raw := apiErr.RawJSON(); raw != "" {
			var payload errorPayload
			if json.Unmarshal([]byte(raw), &payload) == nil {
				if payload.Error.Message != "" {
					e.Message = payload.Error.Message
				}
				if payload.Error.Type != "" {
					e = e.WithCode(payload.Error.Type)
				}
				if payload.RequestID != "" {
					e = e.WithRequestID(payload.RequestID)
				}
			}
		}
		return e
	}

	return provider.NewError("anthropic", p.config.Model, err)
}
