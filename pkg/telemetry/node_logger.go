package telemetry

import (
	"fmt"

	"github.com/TashaKaslana/Zenflow-sub001/pkg/models"
)

// NodeLogger builds entries for one node of one run and dispatches them.
type NodeLogger struct {
	dispatcher Dispatcher
	workflowID string
	runID      string
	nodeKey    string
	opts       []models.EntryOption
}

func NewNodeLogger(d Dispatcher, workflowID, runID, nodeKey string) *NodeLogger {
	return &NodeLogger{dispatcher: d, workflowID: workflowID, runID: runID, nodeKey: nodeKey}
}

// With returns a copy that applies opts to every entry it builds.
func (l *NodeLogger) With(opts ...models.EntryOption) *NodeLogger {
	c := *l
	c.opts = append(append([]models.EntryOption{}, l.opts...), opts...)
	return &c
}

func (l *NodeLogger) Log(level models.LogLevel, message string, opts ...models.EntryOption) bool {
	all := l.opts
	if len(opts) > 0 {
		all = append(append([]models.EntryOption{}, l.opts...), opts...)
	}
	return l.dispatcher.Dispatch(models.NewLogEntry(l.workflowID, l.runID, l.nodeKey, level, message, all...))
}

func (l *NodeLogger) Debug(format string, args ...interface{}) bool {
	return l.Log(models.DebugLevel, fmt.Sprintf(format, args...))
}

func (l *NodeLogger) Info(format string, args ...interface{}) bool {
	return l.Log(models.InfoLevel, fmt.Sprintf(format, args...))
}

func (l *NodeLogger) Warning(format string, args ...interface{}) bool {
	return l.Log(models.WarningLevel, fmt.Sprintf(format, args...))
}

func (l *NodeLogger) Success(format string, args ...interface{}) bool {
	return l.Log(models.SuccessLevel, fmt.Sprintf(format, args...))
}

// Error logs an ERROR entry carrying code and the message of err.
func (l *NodeLogger) Error(code string, err error, format string, args ...interface{}) bool {
	errMsg := ""
	if err != nil {
		errMsg = err.Error()
	}
	return l.Log(models.ErrorLevel, fmt.Sprintf(format, args...), models.WithError(code, errMsg))
}
