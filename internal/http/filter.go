package http

import (
	"strings"

	"github.com/TashaKaslana/Zenflow-sub001/pkg/models"
	"github.com/google/cel-go/cel"
	"github.com/pkg/errors"
)

// LogFilter is a compiled CEL predicate over log entries, e.g.
//
//	severity >= 2 && node_key == "fetch"
//	meta["attempt"] == "3" || message.contains("timeout")
//
// A nil *LogFilter matches everything.
type LogFilter struct {
	expr string
	prog cel.Program
}

var filterEnv *cel.Env

func init() {
	var err error
	filterEnv, err = cel.NewEnv(
		cel.Variable("id", cel.StringType),
		cel.Variable("workflow_id", cel.StringType),
		cel.Variable("run_id", cel.StringType),
		cel.Variable("node_key", cel.StringType),
		cel.Variable("level", cel.StringType),
		cel.Variable("severity", cel.IntType),
		cel.Variable("message", cel.StringType),
		cel.Variable("error_code", cel.StringType),
		cel.Variable("error_message", cel.StringType),
		cel.Variable("trace_id", cel.StringType),
		cel.Variable("hierarchy", cel.StringType),
		cel.Variable("user_id", cel.StringType),
		cel.Variable("meta", cel.MapType(cel.StringType, cel.StringType)),
		cel.Variable("ts_ms", cel.IntType),
	)
	if err != nil {
		panic("http: CEL environment initialization failed: " + err.Error())
	}
}

// CompileFilter compiles expr. An empty expression yields a nil filter.
func CompileFilter(expr string) (*LogFilter, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return nil, nil
	}
	ast, iss := filterEnv.Compile(expr)
	if iss != nil && iss.Err() != nil {
		return nil, errors.Wrap(iss.Err(), "compile filter")
	}
	if !ast.OutputType().IsExactType(cel.BoolType) {
		return nil, errors.Errorf("filter must evaluate to bool, got %s", ast.OutputType())
	}
	prog, err := filterEnv.Program(ast)
	if err != nil {
		return nil, errors.Wrap(err, "build filter program")
	}
	return &LogFilter{expr: expr, prog: prog}, nil
}

func (f *LogFilter) String() string {
	if f == nil {
		return ""
	}
	return f.expr
}

// Match reports whether e satisfies the filter. Evaluation errors count as
// no match.
func (f *LogFilter) Match(e *models.LogEntry) bool {
	if f == nil {
		return true
	}
	meta := e.Meta
	if meta == nil {
		meta = map[string]string{}
	}
	out, _, err := f.prog.Eval(map[string]any{
		"id":            e.ID,
		"workflow_id":   e.WorkflowID,
		"run_id":        e.WorkflowRunID,
		"node_key":      e.NodeKey,
		"level":         string(e.Level),
		"severity":      int64(e.Level.Severity()),
		"message":       e.Message,
		"error_code":    e.ErrorCode,
		"error_message": e.ErrorMessage,
		"trace_id":      e.TraceID,
		"hierarchy":     e.Hierarchy,
		"user_id":       e.UserID,
		"meta":          meta,
		"ts_ms":         e.Timestamp.UnixMilli(),
	})
	if err != nil {
		return false
	}
	b, ok := out.Value().(bool)
	return ok && b
}

// Apply returns the entries matching f, preserving order.
func (f *LogFilter) Apply(entries []*models.LogEntry) []*models.LogEntry {
	if f == nil {
		return entries
	}
	kept := make([]*models.LogEntry, 0, len(entries))
	for _, e := range entries {
		if f.Match(e) {
			kept = append(kept, e)
		}
	}
	return kept
}
