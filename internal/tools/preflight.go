package tools

import (
	"fmt"
	"strings"
)

// Warning is a non-blocking preflight finding. Code is stable across calls
// and keys hint deduplication; Hint, when set, is a short nudge appended to
// the tool output.
type Warning struct {
	Code    string
	Message string
	Hint    string
}

// Warning codes.
const (
	WarnBroadSearch     = "broad_search"
	WarnAbsolutePath    = "absolute_path"
	WarnRepeatedFailure = "repeated_failure"
	WarnEditWithoutRead = "edit_without_read"
	WarnLargeCommand    = "large_command"
)

// validatePreconditions runs argument-sanity rules that need no history.
func validatePreconditions(name string, args map[string]any) []Warning {
	var warnings []Warning

	if pattern, ok := stringArg(args, "pattern", "query"); ok {
		trimmed := strings.TrimSpace(pattern)
		if trimmed == "" || trimmed == "*" || trimmed == ".*" || trimmed == ".+" {
			warnings = append(warnings, Warning{
				Code:    WarnBroadSearch,
				Message: fmt.Sprintf("search pattern %q matches nearly everything", pattern),
				Hint:    "narrow the search pattern to reduce noise",
			})
		}
	}

	if path, ok := stringArg(args, "path", "file_path"); ok {
		if strings.HasPrefix(path, "/etc/") || strings.HasPrefix(path, "/proc/") || strings.HasPrefix(path, "/sys/") {
			warnings = append(warnings, Warning{
				Code:    WarnAbsolutePath,
				Message: fmt.Sprintf("path %q is outside the workspace", path),
			})
		}
	}

	if command, ok := stringArg(args, "command"); ok && len(command) > 2000 {
		warnings = append(warnings, Warning{
			Code:    WarnLargeCommand,
			Message: fmt.Sprintf("command is %d bytes long", len(command)),
			Hint:    "split very long commands into smaller steps",
		})
	}

	return warnings
}

// validateFlowPatterns runs rules over the recent call history: repeated
// failures of the same call, and edits to files never read in this session.
func validateFlowPatterns(name string, args map[string]any, entries []HistoryEntry) []Warning {
	var warnings []Warning

	failures := 0
	for _, e := range entries {
		if e.ToolName == name && !e.Success && sameStringArg(e.Arguments, args, "path", "file_path", "command", "pattern", "query") {
			failures++
		}
	}
	if failures >= 2 {
		warnings = append(warnings, Warning{
			Code:    WarnRepeatedFailure,
			Message: fmt.Sprintf("%s has already failed %d times with these arguments", name, failures),
			Hint:    "the same call keeps failing; try a different approach",
		})
	}

	if isEditTool(name) {
		if path, ok := stringArg(args, "path", "file_path"); ok {
			read := false
			for _, e := range entries {
				if !isReadTool(e.ToolName) || !e.Success {
					continue
				}
				if p, ok := stringArg(e.Arguments, "path", "file_path"); ok && p == path {
					read = true
					break
				}
			}
			if !read {
				warnings = append(warnings, Warning{
					Code:    WarnEditWithoutRead,
					Message: fmt.Sprintf("editing %q without a prior read", path),
					Hint:    "read a file before editing it to avoid clobbering content",
				})
			}
		}
	}

	return warnings
}

func isEditTool(name string) bool {
	switch name {
	case "edit_file", "write_file", "replace_in_file":
		return true
	}
	return false
}

func isReadTool(name string) bool {
	switch name {
	case "read_file", "cat_file":
		return true
	}
	return false
}

func stringArg(args map[string]any, keys ...string) (string, bool) {
	for _, key := range keys {
		if v, ok := args[key]; ok {
			if s, ok := v.(string); ok && s != "" {
				return s, true
			}
		}
	}
	return "", false
}

func sameStringArg(a, b map[string]any, keys ...string) bool {
	for _, key := range keys {
		av, aok := stringArg(a, key)
		bv, bok := stringArg(b, key)
		if aok != bok {
			return false
		}
		if aok && av != bv {
			return false
		}
	}
	return true
}
