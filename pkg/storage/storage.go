package storage

import (
	"context"

	"github.com/TashaKaslana/Zenflow-sub001/pkg/models"
	"github.com/pkg/errors"
)

var ErrNotFound = errors.New("not found")

// Sink persists batches of log entries. Implementations must tolerate the same
// batch being saved more than once, since failed batches are retried as a whole.
type Sink interface {
	SaveBatch(ctx context.Context, runID string, entries []*models.LogEntry) error
}

// Reader reads persisted entries of a run in persisted order.
type Reader interface {
	// ListRunLogs returns the newest limit entries for runID, oldest first;
	// limit <= 0 means all of them.
	ListRunLogs(ctx context.Context, runID string, limit int) ([]*models.LogEntry, error)
}

// Store defines the storage operations of the durable log store.
type Store interface {
	Sink
	Reader
	Close() error
}

// TxStore is a Store whose writes can be grouped in a transaction. Begin
// returns a store bound to the transaction; Commit and Rollback apply only to
// such a store.
type TxStore interface {
	Store
	Begin() (TxStore, error)
	Commit() error
	Rollback() error
}
