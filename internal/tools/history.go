package tools

import (
	"strings"
	"sync"
	"time"
)

// HistoryEntry records one completed tool call. Entries are appended in
// completion order, not call-start order.
type HistoryEntry struct {
	ToolName  string
	Arguments map[string]any
	Timestamp time.Time
	Success   bool
	HasOutput bool
	Error     string
}

// DiffSnapshot retains the output of a version-control diff/show command so
// later stages can reference the last diff without re-running it.
type DiffSnapshot struct {
	Command   string
	Output    string
	Timestamp time.Time
}

const (
	defaultHistorySize = 50
	maxDiffSnapshots   = 5
	maxDiffOutputBytes = 10_000
)

// history holds the bounded call history and diff snapshot buffers.
type history struct {
	mu        sync.Mutex
	entries   []HistoryEntry
	snapshots []DiffSnapshot
	limit     int
}

func newHistory(limit int) *history {
	if limit <= 0 {
		limit = defaultHistorySize
	}
	return &history{limit: limit}
}

func (h *history) append(e HistoryEntry) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.entries = append(h.entries, e)
	if len(h.entries) > h.limit {
		h.entries = h.entries[len(h.entries)-h.limit:]
	}
}

func (h *history) list() []HistoryEntry {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]HistoryEntry, len(h.entries))
	copy(out, h.entries)
	return out
}

func (h *history) clear() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.entries = nil
}

func (h *history) addSnapshot(command, output string) {
	if len(output) > maxDiffOutputBytes {
		output = output[:maxDiffOutputBytes]
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.snapshots = append(h.snapshots, DiffSnapshot{
		Command:   command,
		Output:    output,
		Timestamp: time.Now(),
	})
	if len(h.snapshots) > maxDiffSnapshots {
		h.snapshots = h.snapshots[len(h.snapshots)-maxDiffSnapshots:]
	}
}

func (h *history) listSnapshots() []DiffSnapshot {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]DiffSnapshot, len(h.snapshots))
	copy(out, h.snapshots)
	return out
}

func (h *history) clearSnapshots() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.snapshots = nil
}

// isDiffCommand reports whether a shell command is a version-control
// diff/show invocation whose output is worth snapshotting.
func isDiffCommand(command string) bool {
	fields := strings.Fields(strings.TrimSpace(command))
	for i := 0; i < len(fields)-1; i++ {
		if fields[i] == "git" || strings.HasSuffix(fields[i], "/git") {
			switch fields[i+1] {
			case "diff", "show":
				return true
			}
		}
	}
	return false
}
