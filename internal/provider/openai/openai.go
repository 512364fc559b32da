// Package openai adapts the OpenAI chat completions API to the provider
// interface. It also serves OpenAI-compatible endpoints through BaseURL.
package openai

import (
	"context"
	"encoding/json"
	"errors"
	"io"

	openai "github.com/sashabaranov/go-openai"

	"github.com/loomhq/loom/internal/provider"
)

// Config holds settings for the OpenAI provider.
type Config struct {
	// APIKey is the OpenAI API key (required).
	APIKey string `yaml:"api_key"`

	// BaseURL overrides the API base URL, for OpenAI-compatible servers.
	BaseURL string `yaml:"base_url"`

	// Model is the model requested for every call.
	Model string `yaml:"model"`

	// MaxTokens caps the generated output. Zero leaves the server default.
	MaxTokens int `yaml:"max_tokens"`

	// System is the system prompt sent with every request.
	System string `yaml:"system"`
}

// Provider calls the chat completions API. Safe for concurrent use.
type Provider struct {
	client *openai.Client
	config Config
}

// New creates an OpenAI provider.
func New(config Config) (*Provider, error) {
	if config.APIKey == "" {
		return nil, errors.New("openai: API key is required")
	}
	if config.Model == "" {
		config.Model = openai.GPT4o
	}

	clientConfig := openai.DefaultConfig(config.APIKey)
	if config.BaseURL != "" {
		clientConfig.BaseURL = config.BaseURL
	}

	return &Provider{
		client: openai.NewClientWithConfig(clientConfig),
		config: config,
	}, nil
}

// Name returns "openai".
func (p *Provider) Name() string {
	return "openai"
}

// Generate sends a blocking chat completion request.
func (p *Provider) Generate(ctx context.Context, messages []provider.Message, tools []provider.ToolDef) (*provider.Response, error) {
	req := p.buildRequest(messages, tools, false)

	resp, err := p.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return nil, p.wrapError(err)
	}
	if len(resp.Choices) == 0 {
		return nil, provider.NewError("openai", p.config.Model, errors.New("empty response: no choices"))
	}

	choice := resp.Choices[0]
	result := &provider.Response{
		Content:    choice.Message.Content,
		StopReason: string(choice.FinishReason),
		Usage: provider.Usage{
			InputTokens:  resp.Usage.PromptTokens,
			OutputTokens: resp.Usage.CompletionTokens,
		},
	}
	for _, tc := range choice.Message.ToolCalls {
		result.ToolCalls = append(result.ToolCalls, provider.ToolCall{
			ID:    tc.ID,
			Name:  tc.Function.Name,
			Input: json.RawMessage(tc.Function.Arguments),
		})
	}
	return result, nil
}

// GenerateStream sends a streaming chat completion request.
func (p *Provider) GenerateStream(ctx context.Context, messages []provider.Message, tools []provider.ToolDef) (<-chan provider.Chunk, error) {
	req := p.buildRequest(messages, tools, true)

	stream, err := p.client.CreateChatCompletionStream(ctx, req)
	if err != nil {
		return nil, p.wrapError(err)
	}

	out := make(chan provider.Chunk)
	go func() {
		defer close(out)
		p.processStream(ctx, stream, out)
	}()
	return out, nil
}

func (p *Provider) processStream(ctx context.Context, stream *openai.ChatCompletionStream, out chan<- provider.Chunk) {
	defer stream.Close()

	emit := func(c provider.Chunk) bool {
		select {
		case out <- c:
			return true
		case <-ctx.Done():
			return false
		}
	}

	// Tool calls stream incrementally; the index keys parallel calls.
	toolCalls := make(map[int]*provider.ToolCall)
	var order []int
	stopReason := ""

	flushToolCalls := func() bool {
		for _, idx := range order {
			tc := toolCalls[idx]
			if tc.ID != "" && tc.Name != "" {
				if !emit(provider.Chunk{ToolCall: tc}) {
					return false
				}
			}
		}
		toolCalls = make(map[int]*provider.ToolCall)
		order = order[:0]
		return true
	}

	for {
		resp, err := stream.Recv()
		if err != nil {
			if errors.Is(err, io.EOF) {
				if !flushToolCalls() {
					return
				}
				emit(provider.Chunk{Done: true, StopReason: stopReason})
				return
			}
			emit(provider.Chunk{Err: p.wrapError(err)})
			return
		}

		if len(resp.Choices) == 0 {
			continue
		}
		choice := resp.Choices[0]

		if choice.Delta.Content != "" {
			if !emit(provider.Chunk{Content: choice.Delta.Content}) {
				return
			}
		}

		for _, tc := range choice.Delta.ToolCalls {
			index := 0
			if tc.Index != nil {
				index = *tc.Index
			}
			if toolCalls[index] == nil {
				toolCalls[index] = &provider.ToolCall{}
				order = append(order, index)
			}
			if tc.ID != "" {
				toolCalls[index].ID = tc.ID
			}
			if tc.Function.Name != "" {
				toolCalls[index].Name = tc.Function.Name
			}
			if tc.Function.Arguments != "" {
				toolCalls[index].Input = append(toolCalls[index].Input, tc.Function.Arguments...)
			}
		}

		if choice.FinishReason != "" {
			stopReason = string(choice.FinishReason)
			if choice.FinishReason == openai.FinishReasonToolCalls {
				if !flushToolCalls() {
					return
				}
			}
		}
	}
}

func (p *Provider) buildRequest(messages []provider.Message, tools []provider.ToolDef, stream bool) openai.ChatCompletionRequest {
	req := openai.ChatCompletionRequest{
		Model:    p.config.Model,
		Messages: convertMessages(messages, p.config.System),
		Stream:   stream,
	}
	if p.config.MaxTokens > 0 {
		req.MaxTokens = p.config.MaxTokens
	}
	if len(tools) > 0 {
		req.Tools = convertTools(tools)
	}
	return req
}

// convertMessages maps the unified format onto chat messages. The system
// prompt becomes the leading message; each tool result becomes a separate
// message with role "tool".
func convertMessages(messages []provider.Message, system string) []openai.ChatCompletionMessage {
	result := make([]openai.ChatCompletionMessage, 0, len(messages)+1)

	if system != "" {
		result = append(result, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: system,
		})
	}

	for _, msg := range messages {
		oaiMsg := openai.ChatCompletionMessage{
			Role:    msg.Role,
			Content: msg.Content,
		}

		if len(msg.ToolCalls) > 0 {
			oaiMsg.ToolCalls = make([]openai.ToolCall, len(msg.ToolCalls))
			for i, tc := range msg.ToolCalls {
				oaiMsg.ToolCalls[i] = openai.ToolCall{
					ID:   tc.ID,
					Type: openai.ToolTypeFunction,
					Function: openai.FunctionCall{
						Name:      tc.Name,
						Arguments: string(tc.Input),
					},
				}
			}
		}
		result = append(result, oaiMsg)

		for _, tr := range msg.ToolResults {
			result = append(result, openai.ChatCompletionMessage{
				Role:       openai.ChatMessageRoleTool,
				Content:    tr.Content,
				ToolCallID: tr.ToolCallID,
			})
		}
	}
	return result
}

func convertTools(tools []provider.ToolDef) []openai.Tool {
	result := make([]openai.Tool, len(tools))
	for i, tool := range tools {
		var params interface{}
		if len(tool.Parameters) > 0 {
			if err := json.Unmarshal(tool.Parameters, &params); err != nil {
				params = map[string]interface{}{"type": "object"}
			}
		}
		result[i] = openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        tool.Name,
				Description: tool.Description,
				Parameters:  params,
			},
		}
	}
	return result
}

// wrapError normalizes SDK errors with status and code when the API reported
// a structured error body.
func (p *Provider) wrapError(err error) error {
	if err == nil {
		return nil
	}
	var perr *provider.Error
	if errors.As(err, &perr) {
		return err
	}

	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		e := provider.NewError("openai", p.config.Model, err).WithStatus(apiErr.HTTPStatusCode)
		if apiErr.Message != "" {
			e.Message = apiErr.Message
		}
		if code, ok := apiErr.Code.(string); ok && code != "" {
			e = e.WithCode(code)
		} else if apiErr.Type != "" {
			e = e.WithCode(apiErr.Type)
		}
		return e
	}

	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return provider.NewError("openai", p.config.Model, err).WithStatus(reqErr.HTTPStatusCode)
	}

	return provider.NewError("openai", p.config.Model, err)
}
