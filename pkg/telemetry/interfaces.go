package telemetry

import (
	"context"

	"github.com/TashaKaslana/Zenflow-sub001/pkg/models"
)

// Logger defines the logging interface used by the pipeline. *logrus.Logger
// and *logrus.Entry both satisfy it.
type Logger interface {
	Infof(format string, args ...interface{})
	Warnf(format string, args ...interface{})
	Errorf(format string, args ...interface{})
}

type nopLogger struct{}

func (nopLogger) Infof(string, ...interface{})  {}
func (nopLogger) Warnf(string, ...interface{})  {}
func (nopLogger) Errorf(string, ...interface{}) {}

// LiveNotifier receives every routed entry for low-latency delivery to observers.
// It is called synchronously from a router worker and must not block.
type LiveNotifier interface {
	OnLog(entry *models.LogEntry) error
}

// Publisher republishes persisted entries to a stream partitioned by run.
type Publisher interface {
	Publish(ctx context.Context, runID string, entries []*models.LogEntry) error
}

// DeadLetter keeps batches that could not be persisted.
type DeadLetter interface {
	Store(batch *models.Batch) error
}

// EntrySink accepts routed entries. BufferManager implements it.
type EntrySink interface {
	Enqueue(entry *models.LogEntry) bool
}

// BatchAcceptor accepts flushed batches without blocking. Collector implements it.
type BatchAcceptor interface {
	Accept(runID string, entries []*models.LogEntry) bool
}

// Dispatcher is the producer-facing entry point. Router and Pipeline implement it.
type Dispatcher interface {
	Dispatch(entry *models.LogEntry) bool
}
