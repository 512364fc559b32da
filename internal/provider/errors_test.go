package provider

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestClassifyRateLimit(t *testing.T) {
	cases := []string{
		"429 Too Many Requests",
		"rate limit exceeded, please slow down",
		"rate_limit_error: request throttled",
		"quota exceeded for this minute",
		"server overloaded",
	}
	for _, msg := range cases {
		reason := Classify(errors.New(msg))
		if reason != ReasonRateLimit {
			t.Errorf("Classify(%q) = %s, want %s", msg, reason, ReasonRateLimit)
		}
		if !IsRetryable(errors.New(msg)) {
			t.Errorf("IsRetryable(%q) = false, want true", msg)
		}
	}
}

func TestClassifyTransient(t *testing.T) {
	cases := []string{
		"read tcp: ECONNRESET",
		"dial tcp: i/o timeout",
		"context deadline exceeded",
		"502 Bad Gateway",
		"tls handshake failure",
		"stream error: unexpected end of JSON input",
	}
	for _, msg := range cases {
		reason := Classify(errors.New(msg))
		if reason != ReasonTransient {
			t.Errorf("Classify(%q) = %s, want %s", msg, reason, ReasonTransient)
		}
		if !IsRetryable(errors.New(msg)) {
			t.Errorf("IsRetryable(%q) = false, want true", msg)
		}
	}
}

func TestClassifyFallback(t *testing.T) {
	cases := []struct {
		msg  string
		want Reason
	}{
		{"insufficient_quota: you have run out of credits", ReasonQuota},
		{"billing hard limit reached", ReasonQuota},
		{"invalid api key provided", ReasonAuth},
		{"401 authentication failed", ReasonAuth},
		{"model not found: claude-1", ReasonModelUnavailable},
		{"403 Forbidden", ReasonAccessDenied},
		{"unsupported_country_region_territory", ReasonRegion},
	}
	for _, tc := range cases {
		err := errors.New(tc.msg)
		reason := Classify(err)
		if reason != tc.want {
			t.Errorf("Classify(%q) = %s, want %s", tc.msg, reason, tc.want)
		}
		if IsRetryable(err) {
			t.Errorf("IsRetryable(%q) = true, want false", tc.msg)
		}
		if !ShouldFallback(err) {
			t.Errorf("ShouldFallback(%q) = false, want true", tc.msg)
		}
		if FallbackReason(err) == "" {
			t.Errorf("FallbackReason(%q) = empty, want explanation", tc.msg)
		}
	}
}

func TestClassifyUnknown(t *testing.T) {
	err := errors.New("something odd happened")
	if reason := Classify(err); reason != ReasonUnknown {
		t.Errorf("Classify = %s, want %s", reason, ReasonUnknown)
	}
	if IsRetryable(err) {
		t.Error("unknown errors should not be retryable")
	}
	if ShouldFallback(err) {
		t.Error("unknown errors should not trigger fallback")
	}
	if FallbackReason(err) != "" {
		t.Error("unknown errors should have no fallback reason")
	}
}

func TestClassifyNil(t *testing.T) {
	if reason := Classify(nil); reason != ReasonUnknown {
		t.Errorf("Classify(nil) = %s, want %s", reason, ReasonUnknown)
	}
}

func TestClassifyWrapped(t *testing.T) {
	inner := errors.New("connection reset by peer")
	wrapped := fmt.Errorf("calling provider: %w", inner)
	if reason := Classify(wrapped); reason != ReasonTransient {
		t.Errorf("Classify(wrapped) = %s, want %s", reason, ReasonTransient)
	}
}

func TestClassifyNormalizedError(t *testing.T) {
	err := NewError("anthropic", "claude-sonnet-4", errors.New("boom")).WithStatus(429)
	if err.Reason != ReasonRateLimit {
		t.Fatalf("Reason = %s, want %s", err.Reason, ReasonRateLimit)
	}
	wrapped := fmt.Errorf("generate: %w", err)
	if reason := Classify(wrapped); reason != ReasonRateLimit {
		t.Errorf("Classify = %s, want %s", reason, ReasonRateLimit)
	}
}

func TestWithStatus(t *testing.T) {
	cases := []struct {
		status int
		want   Reason
	}{
		{429, ReasonRateLimit},
		{402, ReasonQuota},
		{401, ReasonAuth},
		{403, ReasonAccessDenied},
		{404, ReasonModelUnavailable},
		{500, ReasonServerError},
		{503, ReasonServerError},
	}
	for _, tc := range cases {
		err := NewError("openai", "gpt-4o", errors.New("boom")).WithStatus(tc.status)
		if err.Reason != tc.want {
			t.Errorf("WithStatus(%d) reason = %s, want %s", tc.status, err.Reason, tc.want)
		}
	}
}

func TestWithCode(t *testing.T) {
	err := NewError("openai", "gpt-4o", errors.New("boom")).WithCode("insufficient_quota")
	if err.Reason != ReasonQuota {
		t.Fatalf("Reason = %s, want %s", err.Reason, ReasonQuota)
	}
	if !ShouldFallback(err) {
		t.Error("quota errors should trigger fallback")
	}
}

func TestErrorString(t *testing.T) {
	err := NewError("anthropic", "claude-sonnet-4", errors.New("too slow")).
		WithStatus(504).
		WithRequestID("req_123")
	s := err.Error()
	for _, want := range []string{"anthropic", "claude-sonnet-4", "504", "too slow"} {
		if !strings.Contains(s, want) {
			t.Errorf("Error() = %q, missing %q", s, want)
		}
	}
	if err.RequestID != "req_123" {
		t.Errorf("RequestID = %q, want req_123", err.RequestID)
	}
}
