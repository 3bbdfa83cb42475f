// Package accumulator tracks per-session agent activity in memory between
// hook events, and exposes the derived predicates that trigger extraction
// and tier promotion (spec.md §3 "SegmentContext (in-memory)").
package accumulator

import (
	"strconv"
	"time"
)

// ToolUseRecord is one recorded tool invocation within a session.
type ToolUseRecord struct {
	Tool      string
	Params    map[string]any
	Result    any
	Timestamp time.Time
}

// CommandRecord is a shell command observed via tool use, with its outcome.
type CommandRecord struct {
	Command  string
	ExitCode int
}

// SegmentContext is the in-memory accumulator for one agent session. It is
// never persisted directly; the extractor turns it into memories, and
// SessionEnd/PreCompact/Stop flush and reset it.
type SegmentContext struct {
	SessionID string

	ToolUses []ToolUseRecord
	Prompt   string

	FilesRead     []string // insertion-ordered, distinct
	FilesModified []string // insertion-ordered, distinct
	filesReadSet  map[string]bool
	filesModSet   map[string]bool

	Commands       []CommandRecord
	Errors         []string
	Searches       []string
	CompletedTasks []string

	LastAssistantMessage string
}

// New creates an empty accumulator for a session.
func New(sessionID string) *SegmentContext {
	return &SegmentContext{
		SessionID:    sessionID,
		filesReadSet: make(map[string]bool),
		filesModSet:  make(map[string]bool),
	}
}

// RecordToolUse appends a tool use record.
func (s *SegmentContext) RecordToolUse(tool string, params map[string]any, result any) {
	s.ToolUses = append(s.ToolUses, ToolUseRecord{Tool: tool, Params: params, Result: result, Timestamp: time.Now()})
}

// RecordFileRead records a file read, deduplicated and insertion-ordered.
func (s *SegmentContext) RecordFileRead(path string) {
	if s.filesReadSet[path] {
		return
	}
	s.filesReadSet[path] = true
	s.FilesRead = append(s.FilesRead, path)
}

// RecordFileModified records a file modification, deduplicated and
// insertion-ordered.
func (s *SegmentContext) RecordFileModified(path string) {
	if s.filesModSet[path] {
		return
	}
	s.filesModSet[path] = true
	s.FilesModified = append(s.FilesModified, path)
}

// RecordCommand records a shell command and its exit code.
func (s *SegmentContext) RecordCommand(cmd string, exitCode int) {
	s.Commands = append(s.Commands, CommandRecord{Command: cmd, ExitCode: exitCode})
}

// RecordError records an error message observed during tool use.
func (s *SegmentContext) RecordError(msg string) {
	s.Errors = append(s.Errors, msg)
}

// RecordSearch records a search query issued during the session.
func (s *SegmentContext) RecordSearch(query string) {
	s.Searches = append(s.Searches, query)
}

// RecordCompletedTask records a completed todo/task description.
func (s *SegmentContext) RecordCompletedTask(task string) {
	s.CompletedTasks = append(s.CompletedTasks, task)
}

// MeaningfulWork reports whether the accumulator holds content worth
// extracting: ≥3 tool calls, any file modified, any completed task, or any
// error (spec.md §3 "meaningful work").
func (s *SegmentContext) MeaningfulWork() bool {
	return len(s.ToolUses) >= 3 || len(s.FilesModified) > 0 || len(s.CompletedTasks) > 0 || len(s.Errors) > 0
}

// TodoCompletionTrigger reports whether mid-session extraction should run
// synchronously: ≥3 completed tasks AND ≥5 tool calls (spec.md §3).
func (s *SegmentContext) TodoCompletionTrigger() bool {
	return len(s.CompletedTasks) >= 3 && len(s.ToolUses) >= 5
}

// Clone returns a deep-enough copy suitable for handing to a background
// extraction task while the live accumulator is reset (spec.md §4.7
// "the accumulator is cloned and then reset").
func (s *SegmentContext) Clone() *SegmentContext {
	clone := &SegmentContext{
		SessionID:            s.SessionID,
		ToolUses:             append([]ToolUseRecord(nil), s.ToolUses...),
		Prompt:               s.Prompt,
		FilesRead:            append([]string(nil), s.FilesRead...),
		FilesModified:        append([]string(nil), s.FilesModified...),
		Commands:             append([]CommandRecord(nil), s.Commands...),
		Errors:               append([]string(nil), s.Errors...),
		Searches:             append([]string(nil), s.Searches...),
		CompletedTasks:       append([]string(nil), s.CompletedTasks...),
		LastAssistantMessage: s.LastAssistantMessage,
	}
	return clone
}

// Reset clears all accumulated state except the session id, ready to
// accumulate the next segment.
func (s *SegmentContext) Reset() {
	sessionID := s.SessionID
	*s = *New(sessionID)
}

// FallbackSummary computes a deterministic summary from the accumulator's
// own fields when the extractor fails (spec.md §4.7 "Extractor contract").
func (s *SegmentContext) FallbackSummary() string {
	summary := "Session activity"
	if s.Prompt != "" {
		summary += ": " + truncate(s.Prompt, 120)
	}
	if n := len(s.FilesModified); n > 0 {
		summary += "; modified " + pluralize(n, "file", "files")
	}
	if n := len(s.CompletedTasks); n > 0 {
		summary += "; completed " + pluralize(n, "task", "tasks")
	}
	if n := len(s.Errors); n > 0 {
		summary += "; hit " + pluralize(n, "error", "errors")
	}
	return summary
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

func pluralize(n int, singular, plural string) string {
	word := plural
	if n == 1 {
		word = singular
	}
	return strconv.Itoa(n) + " " + word
}
