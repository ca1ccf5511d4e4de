package workflow

import (
	"fmt"
	"strings"
	"sync"
)

// LogLevel classifies an execution log entry.
type LogLevel string

const (
	LogDetection LogLevel = "detection"
	LogCondition LogLevel = "condition"
	LogFunction  LogLevel = "function"
	LogTrigger   LogLevel = "trigger"
	LogSkip      LogLevel = "skip"
	LogError     LogLevel = "error"
)

// LogEntry is one (node_id, level, content, ts, metadata) record.
type LogEntry struct {
	NodeID   string
	Level    LogLevel
	Content  string
	Ts       float64
	Metadata map[string]interface{}
}

// LogCollector is a thread-safe per-frame accumulator of execution log
// entries, used both to compose alert_message and for test-mode
// inspection.
type LogCollector struct {
	mu      sync.Mutex
	entries []LogEntry
}

// NewLogCollector constructs an empty collector; one is created fresh per
// frame.
func NewLogCollector() *LogCollector {
	return &LogCollector{}
}

// Add appends an entry. Safe for concurrent callers (parallel layer
// execution).
func (c *LogCollector) Add(e LogEntry) {
	c.mu.Lock()
	c.entries = append(c.entries, e)
	c.mu.Unlock()
}

// Entries returns a snapshot copy of all recorded entries.
func (c *LogCollector) Entries() []LogEntry {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]LogEntry, len(c.entries))
	copy(out, c.entries)
	return out
}

// Compose renders the collected entries into alert_message using the
// requested format. The summary format requires an external summarizer
// (the OpenAI-backed one in openaisummary.go); Compose itself only
// implements detailed and simple, which are pure string formatting.
func (c *LogCollector) Compose(format MessageFormat) string {
	entries := c.Entries()
	switch format {
	case FormatSimple:
		return composeSimple(entries)
	default: // FormatDetailed and fallback
		return composeDetailed(entries)
	}
}

// composeDetailed shows the detection -> condition -> trigger chain, one
// line per entry.
func composeDetailed(entries []LogEntry) string {
	var b strings.Builder
	for _, e := range entries {
		fmt.Fprintf(&b, "[%s] %s: %s\n", e.Level, e.NodeID, e.Content)
	}
	return strings.TrimRight(b.String(), "\n")
}

// composeSimple collapses the chain to one line per trigger-level entry.
func composeSimple(entries []LogEntry) string {
	var parts []string
	for _, e := range entries {
		if e.Level == LogTrigger || e.Level == LogDetection {
			parts = append(parts, e.Content)
		}
	}
	if len(parts) == 0 {
		return "alert triggered"
	}
	return strings.Join(parts, "; ")
}
