package http

import (
	"fmt"
	"time"

	"github.com/TashaKaslana/Zenflow-sub001/pkg/models"
	"github.com/pkg/errors"
	"github.com/valyala/fastjson"
)

// IngestResult reports the outcome of a POST /logs request.
type IngestResult struct {
	Accepted int      `json:"accepted"`
	Rejected int      `json:"rejected"`
	Dropped  int      `json:"dropped"`
	Errors   []string `json:"errors,omitempty"`
}

// parseEntry builds a LogEntry from one JSON object. workflow_run_id (or
// run_id) is required; level defaults to INFO.
func parseEntry(v *fastjson.Value) (*models.LogEntry, error) {
	if v.Type() != fastjson.TypeObject {
		return nil, errors.Errorf("expected object, got %s", v.Type())
	}
	runID := string(v.GetStringBytes("workflow_run_id"))
	if runID == "" {
		runID = string(v.GetStringBytes("run_id"))
	}
	if runID == "" {
		return nil, errors.New("missing workflow_run_id")
	}
	msg := string(v.GetStringBytes("message"))
	if msg == "" {
		msg = string(v.GetStringBytes("msg"))
	}

	level := models.InfoLevel
	if raw := v.GetStringBytes("level"); len(raw) > 0 {
		parsed, err := models.ParseLogLevel(string(raw))
		if err != nil {
			return nil, err
		}
		level = parsed
	}

	opts := []models.EntryOption{
		models.WithID(string(v.GetStringBytes("id"))),
		models.WithTraceID(string(v.GetStringBytes("trace_id"))),
		models.WithHierarchy(string(v.GetStringBytes("hierarchy"))),
		models.WithUserID(string(v.GetStringBytes("user_id"))),
	}
	if code, emsg := v.GetStringBytes("error_code"), v.GetStringBytes("error_message"); len(code) > 0 || len(emsg) > 0 {
		opts = append(opts, models.WithError(string(code), string(emsg)))
	}
	if ts := v.Get("timestamp"); ts != nil {
		t, err := parseTimestamp(ts)
		if err != nil {
			return nil, err
		}
		opts = append(opts, models.WithTimestamp(t))
	}
	if metaVal := v.Get("meta"); metaVal != nil {
		obj, err := metaVal.Object()
		if err != nil {
			return nil, errors.Wrap(err, "meta")
		}
		meta := make(map[string]string, obj.Len())
		obj.Visit(func(key []byte, val *fastjson.Value) {
			if val.Type() == fastjson.TypeString {
				meta[string(key)] = string(val.GetStringBytes())
				return
			}
			meta[string(key)] = val.String()
		})
		opts = append(opts, models.WithMeta(meta))
	}

	return models.NewLogEntry(
		string(v.GetStringBytes("workflow_id")),
		runID,
		string(v.GetStringBytes("node_key")),
		level,
		msg,
		opts...,
	), nil
}

// parseTimestamp accepts RFC 3339 strings and Unix milliseconds.
func parseTimestamp(v *fastjson.Value) (time.Time, error) {
	switch v.Type() {
	case fastjson.TypeString:
		t, err := time.Parse(time.RFC3339Nano, string(v.GetStringBytes()))
		if err != nil {
			return time.Time{}, errors.Wrap(err, "timestamp")
		}
		return t, nil
	case fastjson.TypeNumber:
		ms, err := v.Int64()
		if err != nil {
			return time.Time{}, errors.Wrap(err, "timestamp")
		}
		return time.UnixMilli(ms), nil
	}
	return time.Time{}, errors.Errorf("timestamp: unsupported type %s", v.Type())
}

// parseIngest parses body as a single entry object or an array of them.
// Invalid items are reported by index and do not fail the whole request.
func parseIngest(p *fastjson.Parser, body []byte) ([]*models.LogEntry, []string, error) {
	v, err := p.ParseBytes(body)
	if err != nil {
		return nil, nil, errors.Wrap(err, "invalid JSON")
	}
	items := []*fastjson.Value{v}
	if v.Type() == fastjson.TypeArray {
		items, _ = v.Array()
	}
	entries := make([]*models.LogEntry, 0, len(items))
	var problems []string
	for i, item := range items {
		e, err := parseEntry(item)
		if err != nil {
			problems = append(problems, fmt.Sprintf("entry %d: %v", i, err))
			continue
		}
		entries = append(entries, e)
	}
	return entries, problems, nil
}
