package provider

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// Reason categorizes why a provider request failed. The category drives two
// independent decisions: whether the wrapper retries the same provider, and
// whether the caller should fall back to a different provider entirely.
type Reason string

const (
	// ReasonRateLimit indicates throttling (HTTP 429); retryable.
	ReasonRateLimit Reason = "rate_limit"

	// ReasonTransient indicates a timeout or network-level failure; retryable.
	ReasonTransient Reason = "transient"

	// ReasonServerError indicates server-side trouble (HTTP 5xx); retryable.
	ReasonServerError Reason = "server_error"

	// ReasonQuota indicates exhausted quota or billing trouble; fallback-eligible.
	ReasonQuota Reason = "quota"

	// ReasonAuth indicates an invalid or expired credential; fallback-eligible.
	ReasonAuth Reason = "auth"

	// ReasonModelUnavailable indicates the model cannot be served; fallback-eligible.
	ReasonModelUnavailable Reason = "model_unavailable"

	// ReasonAccessDenied indicates a 400-class access error; fallback-eligible.
	ReasonAccessDenied Reason = "access_denied"

	// ReasonRegion indicates a regional restriction; fallback-eligible.
	ReasonRegion Reason = "region_restricted"

	// ReasonUnknown indicates an unclassified error.
	ReasonUnknown Reason = "unknown"
)

// IsRetryable reports whether the same provider is worth retrying.
func (r Reason) IsRetryable() bool {
	switch r {
	case ReasonRateLimit, ReasonTransient, ReasonServerError:
		return true
	default:
		return false
	}
}

// ShouldFallback reports whether the caller should switch providers.
func (r Reason) ShouldFallback() bool {
	switch r {
	case ReasonQuota, ReasonAuth, ReasonModelUnavailable, ReasonAccessDenied, ReasonRegion:
		return true
	default:
		return false
	}
}

// Error is the normalized provider error produced by per-provider adapters.
// Classification reads the structured fields when present and falls back to
// message matching, so heterogeneous SDK error shapes converge here.
type Error struct {
	// Reason categorizes the error for retry/fallback logic.
	Reason Reason

	// Provider is the provider name (e.g., "anthropic", "openai").
	Provider string

	// Model is the model that was requested.
	Model string

	// Status is the HTTP status code, if applicable.
	Status int

	// Code is the provider-specific error code.
	Code string

	// Message is the human-readable error message.
	Message string

	// RequestID is the provider's request ID for debugging.
	RequestID string

	// Cause is the underlying error.
	Cause error
}

// Error implements the error interface.
func (e *Error) Error() string {
	parts := []string{fmt.Sprintf("[%s]", e.Reason)}
	if e.Provider != "" {
		parts = append(parts, e.Provider)
	}
	if e.Model != "" {
		parts = append(parts, "model="+e.Model)
	}
	if e.Status != 0 {
		parts = append(parts, fmt.Sprintf("status=%d", e.Status))
	}
	if e.Code != "" {
		parts = append(parts, "code="+e.Code)
	}
	if e.Message != "" {
		parts = append(parts, e.Message)
	} else if e.Cause != nil {
		parts = append(parts, e.Cause.Error())
	}
	return strings.Join(parts, " ")
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.Cause
}

// NewError builds a normalized error, classifying from the cause.
func NewError(providerName, model string, cause error) *Error {
	e := &Error{
		Provider: providerName,
		Model:    model,
		Cause:    cause,
		Reason:   ReasonUnknown,
	}
	if cause != nil {
		e.Message = cause.Error()
		e.Reason = Classify(cause)
	}
	return e
}

// WithStatus records the HTTP status and reclassifies from it.
func (e *Error) WithStatus(status int) *Error {
	e.Status = status
	if reason := classifyStatus(status); reason != ReasonUnknown {
		e.Reason = reason
	}
	return e
}

// WithCode records the provider-specific error code and reclassifies from it.
func (e *Error) WithCode(code string) *Error {
	e.Code = code
	if reason := classifyCode(code); reason != ReasonUnknown {
		e.Reason = reason
	}
	return e
}

// WithRequestID records the provider's request ID.
func (e *Error) WithRequestID(id string) *Error {
	e.RequestID = id
	return e
}

// Indicator tables. Matching is case-insensitive substring on the error
// message, provider code, and every error in the unwrap chain.

// rateLimitIndicators mark throttling responses.
var rateLimitIndicators = []string{
	"rate limit",
	"rate_limit",
	"429",
	"quota exceeded",
	"throttled",
	"overloaded",
	"capacity",
	"too many requests",
}

// transientIndicators mark timeout/network-family failures. The set is
// extensible; stream-decoding failures from SDK internals land here too.
var transientIndicators = []string{
	"timeout",
	"timed out",
	"deadline exceeded",
	"econnreset",
	"econnrefused",
	"enotfound",
	"etimedout",
	"socket",
	"connection reset",
	"connection refused",
	"broken pipe",
	"eof",
	"502",
	"503",
	"504",
	"bad gateway",
	"service unavailable",
	"gateway timeout",
	"ssl",
	"tls",
	"certificate",
	"handshake",
	"stream error",
	"decode",
	"unexpected end of json",
}

// fallbackIndicators mark errors the current provider cannot recover from.
var fallbackIndicators = map[Reason][]string{
	ReasonQuota: {
		"insufficient_quota",
		"insufficient quota",
		"quota_exceeded",
		"billing",
		"payment",
		"credit balance",
		"402",
	},
	ReasonAuth: {
		"invalid api key",
		"invalid_api_key",
		"invalid x-api-key",
		"incorrect api key",
		"expired",
		"authentication",
		"unauthorized",
		"401",
	},
	ReasonModelUnavailable: {
		"model not found",
		"model_not_found",
		"does not exist",
		"model is not available",
		"deprecated model",
	},
	ReasonAccessDenied: {
		"permission",
		"access denied",
		"forbidden",
		"403",
	},
	ReasonRegion: {
		"region",
		"country",
		"not supported in your location",
		"unsupported_country_region_territory",
	},
}

// Classify determines the failure category for an arbitrary error. It reads
// a normalized *Error directly when present; otherwise it matches the error
// message and every message in the unwrap chain against the indicator tables.
func Classify(err error) Reason {
	if err == nil {
		return ReasonUnknown
	}

	var perr *Error
	if errors.As(err, &perr) && perr.Reason != ReasonUnknown {
		return perr.Reason
	}

	for e := err; e != nil; e = errors.Unwrap(e) {
		if reason := classifyMessage(e.Error()); reason != ReasonUnknown {
			return reason
		}
	}
	return ReasonUnknown
}

func classifyMessage(msg string) Reason {
	msg = strings.ToLower(msg)

	for _, ind := range rateLimitIndicators {
		if strings.Contains(msg, ind) {
			return ReasonRateLimit
		}
	}
	for reason, inds := range fallbackIndicators {
		for _, ind := range inds {
			if strings.Contains(msg, ind) {
				return reason
			}
		}
	}
	for _, ind := range transientIndicators {
		if strings.Contains(msg, ind) {
			return ReasonTransient
		}
	}
	if strings.Contains(msg, "500") || strings.Contains(msg, "internal server") || strings.Contains(msg, "server error") {
		return ReasonServerError
	}
	return ReasonUnknown
}

func classifyStatus(status int) Reason {
	switch {
	case status == http.StatusTooManyRequests:
		return ReasonRateLimit
	case status == http.StatusPaymentRequired:
		return ReasonQuota
	case status == http.StatusUnauthorized:
		return ReasonAuth
	case status == http.StatusForbidden:
		return ReasonAccessDenied
	case status == http.StatusNotFound:
		return ReasonModelUnavailable
	case status >= 500:
		return ReasonServerError
	default:
		return ReasonUnknown
	}
}

func classifyCode(code string) Reason {
	switch strings.ToLower(code) {
	case "rate_limit_error", "rate_limit_exceeded":
		return ReasonRateLimit
	case "insufficient_quota", "billing_error":
		return ReasonQuota
	case "authentication_error", "invalid_api_key":
		return ReasonAuth
	case "model_not_found", "model_not_available":
		return ReasonModelUnavailable
	case "permission_error", "access_denied":
		return ReasonAccessDenied
	case "unsupported_country_region_territory":
		return ReasonRegion
	case "server_error", "internal_error", "api_error":
		return ReasonServerError
	case "timeout_error":
		return ReasonTransient
	default:
		return ReasonUnknown
	}
}

// IsRetryable reports whether the same provider is worth retrying for err.
func IsRetryable(err error) bool {
	return Classify(err).IsRetryable()
}

// ShouldFallback reports whether err means the current provider cannot serve
// this request at all and the caller should switch to another provider. This
// is orthogonal to retryability.
func ShouldFallback(err error) bool {
	return Classify(err).ShouldFallback()
}

// FallbackReason returns a human-readable explanation for a fallback-eligible
// error, or "" when the error does not warrant switching providers.
func FallbackReason(err error) string {
	switch Classify(err) {
	case ReasonQuota:
		return "provider quota exhausted or billing issue"
	case ReasonAuth:
		return "provider credential invalid or expired"
	case ReasonModelUnavailable:
		return "requested model unavailable on this provider"
	case ReasonAccessDenied:
		return "provider denied access to this request"
	case ReasonRegion:
		return "provider unavailable in this region"
	default:
		return ""
	}
}
