// Package tools implements the tool registry and execution runtime: suite
// registration, argument coercion and validation, result caching, history
// and diff tracking, and observer notification around tool handlers.
package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// Handler executes a tool call. The result may be a string or any value
// serializable to JSON; the runtime normalizes it to a string.
type Handler func(ctx context.Context, args map[string]any) (any, error)

// Definition describes one callable tool. Immutable once registered.
type Definition struct {
	// Name uniquely identifies the tool across all suites.
	Name string

	// Description tells the model what the tool does.
	Description string

	// Parameters is the JSON Schema for the tool's arguments.
	Parameters json.RawMessage

	// Handler runs the tool.
	Handler Handler

	// Cacheable marks results safe to replay for identical arguments.
	// Well-known idempotent built-ins are cacheable without the flag.
	Cacheable bool

	// CacheTTL overrides the runtime's default result TTL when positive.
	CacheTTL time.Duration
}

// Suite is a named, atomically replaceable group of tools. Registering a
// suite under an existing id replaces every tool that id owned.
type Suite struct {
	ID          string
	Description string
	Tools       []Definition
}

// record maps a registered tool back to its owning suite.
type record struct {
	suiteID string
	def     Definition
}

// ConfigError is a fatal registration-time error: blank ids or a tool name
// colliding across suites. It is never produced during execution.
type ConfigError struct {
	Message string
}

func (e *ConfigError) Error() string {
	return "tool configuration error: " + e.Message
}

func configErrorf(format string, args ...any) *ConfigError {
	return &ConfigError{Message: fmt.Sprintf(format, args...)}
}

// Observer receives lifecycle callbacks during execution. Every field is
// optional; nil callbacks are skipped.
type Observer struct {
	OnToolStart    func(name string, args map[string]any)
	OnToolResult   func(name string, result string)
	OnToolError    func(name string, err error)
	OnCacheHit     func(name string)
	OnToolProgress func(current, total int, message string)
	OnToolWarning  func(warning Warning)
}

func (o *Observer) toolStart(name string, args map[string]any) {
	if o != nil && o.OnToolStart != nil {
		o.OnToolStart(name, args)
	}
}

func (o *Observer) toolResult(name, result string) {
	if o != nil && o.OnToolResult != nil {
		o.OnToolResult(name, result)
	}
}

func (o *Observer) toolError(name string, err error) {
	if o != nil && o.OnToolError != nil {
		o.OnToolError(name, err)
	}
}

func (o *Observer) cacheHit(name string) {
	if o != nil && o.OnCacheHit != nil {
		o.OnCacheHit(name)
	}
}

func (o *Observer) toolWarning(w Warning) {
	if o != nil && o.OnToolWarning != nil {
		o.OnToolWarning(w)
	}
}
