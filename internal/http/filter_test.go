package http

import (
	"testing"
	"time"

	"github.com/TashaKaslana/Zenflow-sub001/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/valyala/fastjson"
)

func TestCompileFilter(t *testing.T) {
	e := models.NewLogEntry("wf", "run-1", "fetch", models.WarningLevel, "request timeout",
		models.WithMeta(map[string]string{"attempt": "3"}),
		models.WithTimestamp(time.UnixMilli(5000)))

	tests := []struct {
		name  string
		expr  string
		match bool
	}{
		{"Empty", "", true},
		{"Severity", "severity >= 2", true},
		{"SeverityAbove", "severity > 2", false},
		{"Level", `level == "WARNING"`, true},
		{"Node", `node_key == "fetch" && run_id == "run-1"`, true},
		{"Meta", `meta["attempt"] == "3"`, true},
		{"MissingMetaKey", `meta["host"] == "a"`, false},
		{"MetaHas", `has(meta.attempt)`, true},
		{"Contains", `message.contains("timeout")`, true},
		{"Timestamp", `ts_ms == 5000`, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f, err := CompileFilter(tt.expr)
			require.NoError(t, err)
			assert.Equal(t, tt.match, f.Match(e))
		})
	}
}

func TestCompileFilterErrors(t *testing.T) {
	for _, expr := range []string{"message", "severity >=", `unknown == "x"`, "1 + 1"} {
		_, err := CompileFilter(expr)
		assert.Error(t, err, expr)
	}
}

func TestFilterApply(t *testing.T) {
	entries := []*models.LogEntry{
		models.NewLogEntry("wf", "run", "n", models.DebugLevel, "a"),
		models.NewLogEntry("wf", "run", "n", models.ErrorLevel, "b"),
		models.NewLogEntry("wf", "run", "n", models.InfoLevel, "c"),
		models.NewLogEntry("wf", "run", "n", models.ErrorLevel, "d"),
	}
	f, err := CompileFilter(`level == "ERROR"`)
	require.NoError(t, err)
	kept := f.Apply(entries)
	require.Len(t, kept, 2)
	assert.Equal(t, "b", kept[0].Message)
	assert.Equal(t, "d", kept[1].Message)

	var none *LogFilter
	assert.Len(t, none.Apply(entries), 4)
	assert.Equal(t, "", none.String())
}

func TestParseIngest(t *testing.T) {
	var p fastjson.Parser

	entries, problems, err := parseIngest(&p, []byte(`{
		"id": "fixed-id",
		"workflow_id": "wf",
		"workflow_run_id": "run-1",
		"node_key": "fetch",
		"level": "warn",
		"message": "slow",
		"trace_id": "t",
		"hierarchy": "a/b",
		"user_id": "u",
		"timestamp": "2026-01-02T03:04:05.123456789Z",
		"meta": {"n": 1, "s": "x", "b": true}
	}`))
	require.NoError(t, err)
	assert.Empty(t, problems)
	require.Len(t, entries, 1)
	e := entries[0]
	assert.Equal(t, "fixed-id", e.ID)
	assert.Equal(t, models.WarningLevel, e.Level)
	assert.Equal(t, "t", e.TraceID)
	assert.Equal(t, "a/b", e.Hierarchy)
	assert.Equal(t, "u", e.UserID)
	assert.Equal(t, 123456789, e.Timestamp.Nanosecond())
	assert.Equal(t, map[string]string{"n": "1", "s": "x", "b": "true"}, e.Meta)

	entries, problems, err = parseIngest(&p, []byte(`[{"run_id":"r","msg":"m","timestamp":1700000000000},{"run_id":"r","timestamp":true},7]`))
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "m", entries[0].Message)
	assert.Equal(t, models.InfoLevel, entries[0].Level)
	assert.Equal(t, int64(1700000000000), entries[0].Timestamp.UnixMilli())
	assert.NotEmpty(t, entries[0].ID)
	assert.Len(t, problems, 2)

	_, _, err = parseIngest(&p, []byte(`[`))
	assert.Error(t, err)
}
