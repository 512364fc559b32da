package contextwin

import (
	"strings"
	"testing"
)

func TestNoTruncationUnderBudget(t *testing.T) {
	w := New(Config{DefaultBudget: 100})
	res := w.TruncateToolOutput("short output", "read_file")
	if res.WasTruncated {
		t.Error("output under budget should not be truncated")
	}
	if res.Content != "short output" {
		t.Errorf("Content = %q", res.Content)
	}
	if res.OriginalLength != res.TruncatedLength {
		t.Error("lengths should match")
	}
}

func TestTruncationKeepsHeadAndTail(t *testing.T) {
	var sb strings.Builder
	for i := 0; i < 1000; i++ {
		sb.WriteString("line with some padding content\n")
	}
	content := "FIRST LINE MARKER\n" + sb.String() + "LAST LINE MARKER"

	w := New(Config{DefaultBudget: 2000})
	res := w.TruncateToolOutput(content, "run_command")

	if !res.WasTruncated {
		t.Fatal("expected truncation")
	}
	if res.TruncatedLength > 2000 {
		t.Errorf("TruncatedLength = %d, exceeds budget", res.TruncatedLength)
	}
	if res.OriginalLength != len(content) {
		t.Errorf("OriginalLength = %d, want %d", res.OriginalLength, len(content))
	}
	if !strings.HasPrefix(res.Content, "FIRST LINE MARKER") {
		t.Error("head not preserved")
	}
	if !strings.HasSuffix(res.Content, "LAST LINE MARKER") {
		t.Error("tail not preserved")
	}
	if !strings.Contains(res.Content, "output truncated") {
		t.Error("truncation marker missing")
	}
}

func TestPerToolBudget(t *testing.T) {
	w := New(Config{
		DefaultBudget: 10_000,
		ToolBudgets:   map[string]int{"run_command": 100},
	})
	content := strings.Repeat("x", 500)

	if res := w.TruncateToolOutput(content, "run_command"); !res.WasTruncated {
		t.Error("per-tool budget should apply")
	}
	if res := w.TruncateToolOutput(content, "read_file"); res.WasTruncated {
		t.Error("default budget should apply to other tools")
	}
}

func TestZeroConfigDefaults(t *testing.T) {
	w := New(Config{})
	content := strings.Repeat("y", 60_000)
	res := w.TruncateToolOutput(content, "unknown_tool")
	if !res.WasTruncated {
		t.Error("default budget should bound unknown tools")
	}
}
