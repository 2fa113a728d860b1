package models

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

type LogLevel string

const (
	DebugLevel   LogLevel = "DEBUG"
	InfoLevel    LogLevel = "INFO"
	WarningLevel LogLevel = "WARNING"
	SuccessLevel LogLevel = "SUCCESS"
	ErrorLevel   LogLevel = "ERROR"
)

// Severity orders levels for backpressure decisions. Unknown levels rank with INFO.
func (l LogLevel) Severity() int {
	switch l {
	case DebugLevel:
		return 0
	case InfoLevel:
		return 1
	case WarningLevel:
		return 2
	case SuccessLevel:
		return 3
	case ErrorLevel:
		return 4
	default:
		return 1
	}
}

// AtLeast reports whether l is as severe as other.
func (l LogLevel) AtLeast(other LogLevel) bool {
	return l.Severity() >= other.Severity()
}

// ParseLogLevel maps a case-insensitive level name to a LogLevel.
func ParseLogLevel(s string) (LogLevel, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "DEBUG":
		return DebugLevel, nil
	case "INFO":
		return InfoLevel, nil
	case "WARNING", "WARN":
		return WarningLevel, nil
	case "SUCCESS":
		return SuccessLevel, nil
	case "ERROR":
		return ErrorLevel, nil
	}
	return "", errors.Errorf("unknown log level %q", s)
}

// LogEntry is one structured event emitted by a node during a workflow run.
// Entries are shared by pointer across the pipeline and must not be modified
// after NewLogEntry returns.
type LogEntry struct {
	ID            string            `json:"id" db:"id"`                                   // Unique entry identifier, used to tolerate duplicate writes
	WorkflowID    string            `json:"workflow_id" db:"workflow_id"`                 // Owning workflow
	WorkflowRunID string            `json:"workflow_run_id" db:"workflow_run_id"`         // Owning run; ordering key
	NodeKey       string            `json:"node_key" db:"node_key"`                       // Producing node in the workflow graph
	Level         LogLevel          `json:"level" db:"level"`                             // Severity
	Message       string            `json:"message" db:"message"`                         // Human readable text
	ErrorCode     string            `json:"error_code,omitempty" db:"error_code"`         // Set for error-class entries
	ErrorMessage  string            `json:"error_message,omitempty" db:"error_message"`   // Set for error-class entries
	Meta          map[string]string `json:"meta,omitempty" db:"-"`                        // Flat structured context
	Timestamp     time.Time         `json:"timestamp" db:"logged_at"`                     // Set by the producer
	TraceID       string            `json:"trace_id,omitempty" db:"trace_id"`             // Cross-cutting correlation id
	Hierarchy     string            `json:"hierarchy,omitempty" db:"hierarchy"`           // Producer call path
	UserID        string            `json:"user_id,omitempty" db:"user_id"`               // Actor attribution
}

// EntryOption sets optional fields while an entry is being built.
type EntryOption func(*LogEntry)

func WithError(code, message string) EntryOption {
	return func(e *LogEntry) {
		e.ErrorCode = code
		e.ErrorMessage = message
	}
}

// WithMeta copies meta so later changes by the caller are not observed.
func WithMeta(meta map[string]string) EntryOption {
	return func(e *LogEntry) {
		if len(meta) == 0 {
			return
		}
		if e.Meta == nil {
			e.Meta = make(map[string]string, len(meta))
		}
		for k, v := range meta {
			e.Meta[k] = v
		}
	}
}

func WithTraceID(traceID string) EntryOption {
	return func(e *LogEntry) { e.TraceID = traceID }
}

func WithHierarchy(hierarchy string) EntryOption {
	return func(e *LogEntry) { e.Hierarchy = hierarchy }
}

func WithUserID(userID string) EntryOption {
	return func(e *LogEntry) { e.UserID = userID }
}

func WithTimestamp(ts time.Time) EntryOption {
	return func(e *LogEntry) { e.Timestamp = ts }
}

// WithID overrides the generated identifier, e.g. when re-ingesting entries.
func WithID(id string) EntryOption {
	return func(e *LogEntry) {
		if id != "" {
			e.ID = id
		}
	}
}

// NewLogEntry builds an immutable entry stamped with a fresh ID and the current time.
func NewLogEntry(workflowID, runID, nodeKey string, level LogLevel, message string, opts ...EntryOption) *LogEntry {
	e := &LogEntry{
		ID:            uuid.NewString(),
		WorkflowID:    workflowID,
		WorkflowRunID: runID,
		NodeKey:       nodeKey,
		Level:         level,
		Message:       message,
		Timestamp:     time.Now(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Batch is an ordered group of entries of a single run flushed together.
type Batch struct {
	RunID    string      `json:"run_id"`
	Entries  []*LogEntry `json:"entries"`
	Attempts int         `json:"attempts"` // failed persistence attempts so far
}

// WithoutLevel returns the entries whose level differs from level, preserving order.
func WithoutLevel(entries []*LogEntry, level LogLevel) []*LogEntry {
	kept := make([]*LogEntry, 0, len(entries))
	for _, e := range entries {
		if e.Level != level {
			kept = append(kept, e)
		}
	}
	return kept
}
