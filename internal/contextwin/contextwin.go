// Package contextwin bounds tool output so a single result cannot blow the
// model's context window. The runtime consumes the Truncator interface;
// Window is the default implementation.
package contextwin

import (
	"fmt"
	"strings"
)

// Result reports what truncation did to a piece of tool output.
type Result struct {
	// Content is the possibly-truncated output.
	Content string

	// WasTruncated is true when Content differs from the input.
	WasTruncated bool

	// OriginalLength is the input length in bytes.
	OriginalLength int

	// TruncatedLength is the output length in bytes.
	TruncatedLength int
}

// Truncator bounds tool output before it reaches caching and history.
type Truncator interface {
	TruncateToolOutput(content, toolName string) Result
}

// Config tunes the default truncator.
type Config struct {
	// DefaultBudget is the byte budget for tools without an override.
	DefaultBudget int `yaml:"default_budget"`

	// ToolBudgets overrides the budget per tool name.
	ToolBudgets map[string]int `yaml:"tool_budgets"`

	// HeadFraction is the share of the budget kept from the start of the
	// output; the remainder is kept from the end. Default 0.7.
	HeadFraction float64 `yaml:"head_fraction"`
}

// DefaultConfig returns the budgets used when no configuration is supplied.
func DefaultConfig() Config {
	return Config{
		DefaultBudget: 50_000,
		ToolBudgets: map[string]int{
			"read_file":   100_000,
			"run_command": 30_000,
			"search":      30_000,
		},
		HeadFraction: 0.7,
	}
}

// Window truncates oversized output keeping the head and tail, which for
// logs and file dumps preserves both the lead-in and the conclusion.
type Window struct {
	config Config
}

// New creates a truncator. Zero-value fields fall back to defaults.
func New(config Config) *Window {
	def := DefaultConfig()
	if config.DefaultBudget <= 0 {
		config.DefaultBudget = def.DefaultBudget
	}
	if config.HeadFraction <= 0 || config.HeadFraction >= 1 {
		config.HeadFraction = def.HeadFraction
	}
	return &Window{config: config}
}

// TruncateToolOutput bounds content to the tool's byte budget.
func (w *Window) TruncateToolOutput(content, toolName string) Result {
	budget := w.config.DefaultBudget
	if override, ok := w.config.ToolBudgets[toolName]; ok && override > 0 {
		budget = override
	}

	if len(content) <= budget {
		return Result{
			Content:         content,
			OriginalLength:  len(content),
			TruncatedLength: len(content),
		}
	}

	marker := fmt.Sprintf("\n... [output truncated: %d of %d bytes shown] ...\n", budget, len(content))
	usable := budget - len(marker)
	if usable < 0 {
		usable = 0
	}
	headLen := int(float64(usable) * w.config.HeadFraction)
	tailLen := usable - headLen

	head := cutAtLine(content[:headLen], false)
	tail := cutAtLine(content[len(content)-tailLen:], true)

	out := head + marker + tail
	return Result{
		Content:         out,
		WasTruncated:    true,
		OriginalLength:  len(content),
		TruncatedLength: len(out),
	}
}

// cutAtLine trims a partial line off the cut edge so truncation lands on a
// line boundary when one is near.
func cutAtLine(s string, fromStart bool) string {
	if fromStart {
		if idx := strings.IndexByte(s, '\n'); idx >= 0 && idx < len(s)/4 {
			return s[idx+1:]
		}
		return s
	}
	if idx := strings.LastIndexByte(s, '\n'); idx >= 0 && idx > len(s)*3/4 {
		return s[:idx]
	}
	return s
}
