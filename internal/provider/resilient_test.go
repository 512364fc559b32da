package provider

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/loomhq/loom/internal/circuit"
	"github.com/loomhq/loom/internal/ratelimit"
	"github.com/loomhq/loom/internal/retry"
)

type fakeProvider struct {
	name    string
	calls   atomic.Int64
	respond func(call int64) (*Response, error)
}

func (f *fakeProvider) Name() string { return f.name }

func (f *fakeProvider) Generate(ctx context.Context, messages []Message, tools []ToolDef) (*Response, error) {
	n := f.calls.Add(1)
	return f.respond(n)
}

type fakeStreamer struct {
	fakeProvider
	stream func(call int64) (<-chan Chunk, error)
}

func (f *fakeStreamer) GenerateStream(ctx context.Context, messages []Message, tools []ToolDef) (<-chan Chunk, error) {
	n := f.calls.Add(1)
	return f.stream(n)
}

func testConfig() ResilientConfig {
	return ResilientConfig{
		RateLimit: ratelimit.Config{MaxRequests: 100, Window: time.Second, Enabled: true},
		Retry: retry.Config{
			MaxRetries: 3,
			BaseDelay:  time.Millisecond,
			MaxDelay:   5 * time.Millisecond,
			Multiplier: 2.0,
		},
		Breaker: circuit.Config{FailureThreshold: 3, ResetTimeout: time.Minute},
	}
}

func TestResilientGenerateSuccess(t *testing.T) {
	fp := &fakeProvider{name: "fake", respond: func(int64) (*Response, error) {
		return &Response{Content: "hello", StopReason: "end_turn"}, nil
	}}
	r := NewResilient(fp, testConfig())

	resp, err := r.Generate(context.Background(), []Message{{Role: "user", Content: "hi"}}, nil)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if resp.Content != "hello" {
		t.Errorf("Content = %q, want hello", resp.Content)
	}
	if got := r.GetStats().TotalRequests; got != 1 {
		t.Errorf("TotalRequests = %d, want 1", got)
	}
}

func TestResilientRetriesTransient(t *testing.T) {
	fp := &fakeProvider{name: "fake", respond: func(call int64) (*Response, error) {
		if call < 3 {
			return nil, errors.New("read tcp: ECONNRESET")
		}
		return &Response{Content: "ok"}, nil
	}}
	r := NewResilient(fp, testConfig())

	resp, err := r.Generate(context.Background(), nil, nil)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if resp.Content != "ok" {
		t.Errorf("Content = %q, want ok", resp.Content)
	}
	if got := fp.calls.Load(); got != 3 {
		t.Errorf("provider called %d times, want 3", got)
	}
	if got := r.GetStats().Retries; got != 2 {
		t.Errorf("Retries = %d, want 2", got)
	}
}

func TestResilientNoRetryOnFallbackError(t *testing.T) {
	fp := &fakeProvider{name: "fake", respond: func(int64) (*Response, error) {
		return nil, errors.New("insufficient_quota")
	}}
	r := NewResilient(fp, testConfig())

	_, err := r.Generate(context.Background(), nil, nil)
	if err == nil {
		t.Fatal("expected error")
	}
	if got := fp.calls.Load(); got != 1 {
		t.Errorf("provider called %d times, want 1", got)
	}
	if !ShouldFallback(err) {
		t.Error("error should be fallback-eligible")
	}
}

func TestResilientCircuitOpens(t *testing.T) {
	fp := &fakeProvider{name: "fake", respond: func(int64) (*Response, error) {
		return nil, errors.New("insufficient_quota")
	}}
	cfg := testConfig()
	cfg.Breaker.FailureThreshold = 2
	r := NewResilient(fp, cfg)

	for i := 0; i < 2; i++ {
		if _, err := r.Generate(context.Background(), nil, nil); err == nil {
			t.Fatal("expected error")
		}
	}
	before := fp.calls.Load()

	_, err := r.Generate(context.Background(), nil, nil)
	if err == nil {
		t.Fatal("expected circuit open error")
	}
	var oe *circuit.OpenError
	if !errors.As(err, &oe) {
		t.Fatalf("error = %v, want circuit.OpenError", err)
	}
	if fp.calls.Load() != before {
		t.Error("open circuit should not reach the provider")
	}
}

func TestResilientSynthesizedStream(t *testing.T) {
	fp := &fakeProvider{name: "fake", respond: func(int64) (*Response, error) {
		return &Response{
			Content:    "partial answer",
			ToolCalls:  []ToolCall{{ID: "tc1", Name: "read_file", Input: []byte(`{"path":"a.go"}`)}},
			Usage:      Usage{InputTokens: 10, OutputTokens: 5},
			StopReason: "tool_use",
		}, nil
	}}
	r := NewResilient(fp, testConfig())

	ch, err := r.GenerateStream(context.Background(), nil, nil)
	if err != nil {
		t.Fatalf("GenerateStream: %v", err)
	}

	var content string
	var toolCalls int
	var done bool
	var stop string
	for chunk := range ch {
		if chunk.Err != nil {
			t.Fatalf("chunk error: %v", chunk.Err)
		}
		content += chunk.Content
		if chunk.ToolCall != nil {
			toolCalls++
		}
		if chunk.Done {
			done = true
			stop = chunk.StopReason
			if chunk.Usage == nil || chunk.Usage.OutputTokens != 5 {
				t.Error("final chunk should carry usage")
			}
		}
	}
	if content != "partial answer" {
		t.Errorf("content = %q", content)
	}
	if toolCalls != 1 {
		t.Errorf("tool call chunks = %d, want 1", toolCalls)
	}
	if !done || stop != "tool_use" {
		t.Errorf("done = %v stop = %q, want true/tool_use", done, stop)
	}
}

func TestResilientStreamPassthrough(t *testing.T) {
	fs := &fakeStreamer{}
	fs.name = "fake"
	fs.stream = func(int64) (<-chan Chunk, error) {
		ch := make(chan Chunk, 3)
		ch <- Chunk{Content: "a"}
		ch <- Chunk{Content: "b"}
		ch <- Chunk{Done: true, StopReason: "end_turn"}
		close(ch)
		return ch, nil
	}
	r := NewResilient(fs, testConfig())

	ch, err := r.GenerateStream(context.Background(), nil, nil)
	if err != nil {
		t.Fatalf("GenerateStream: %v", err)
	}
	var content string
	for chunk := range ch {
		content += chunk.Content
	}
	if content != "ab" {
		t.Errorf("content = %q, want ab", content)
	}
}

func TestResilientStreamMidFailureCountsAgainstBreaker(t *testing.T) {
	fs := &fakeStreamer{}
	fs.name = "fake"
	fs.stream = func(int64) (<-chan Chunk, error) {
		ch := make(chan Chunk, 2)
		ch <- Chunk{Content: "a"}
		ch <- Chunk{Err: errors.New("stream error: connection reset")}
		close(ch)
		return ch, nil
	}
	cfg := testConfig()
	cfg.Breaker.FailureThreshold = 1
	r := NewResilient(fs, cfg)

	ch, err := r.GenerateStream(context.Background(), nil, nil)
	if err != nil {
		t.Fatalf("GenerateStream: %v", err)
	}
	var sawErr bool
	for chunk := range ch {
		if chunk.Err != nil {
			sawErr = true
		}
	}
	if !sawErr {
		t.Fatal("expected an error chunk")
	}

	if _, err := r.GenerateStream(context.Background(), nil, nil); err == nil {
		t.Error("breaker should be open after mid-stream failure")
	}
}

func TestResilientResetStats(t *testing.T) {
	fp := &fakeProvider{name: "fake", respond: func(int64) (*Response, error) {
		return &Response{Content: "hi"}, nil
	}}
	r := NewResilient(fp, testConfig())
	if _, err := r.Generate(context.Background(), nil, nil); err != nil {
		t.Fatal(err)
	}
	r.ResetStats()
	if got := r.GetStats(); got.TotalRequests != 0 || got.Retries != 0 {
		t.Errorf("stats not reset: %+v", got)
	}
}

func TestResilientName(t *testing.T) {
	fp := &fakeProvider{name: "anthropic", respond: nil}
	r := NewResilient(fp, testConfig())
	if r.Name() != "anthropic" {
		t.Errorf("Name = %q", r.Name())
	}
}
