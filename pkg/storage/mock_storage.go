package storage

import (
	"context"
	"sync"

	"github.com/TashaKaslana/Zenflow-sub001/pkg/models"
	"github.com/pkg/errors"
)

// MockSink implements Store in memory. It records every SaveBatch call and can
// be told to fail, which makes it the sink of choice in tests and examples.
type MockSink struct {
	mu       sync.Mutex
	batches  []models.Batch
	entries  map[string][]*models.LogEntry
	seen     map[string]struct{}
	calls    int
	failNext int
	failErr  error
	notify   chan struct{}
}

func NewMockSink() *MockSink {
	return &MockSink{
		entries: make(map[string][]*models.LogEntry),
		seen:    make(map[string]struct{}),
		notify:  make(chan struct{}, 1),
	}
}

// FailNext makes the next n SaveBatch calls return err.
func (m *MockSink) FailNext(n int, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err == nil {
		err = errors.New("mock sink failure")
	}
	m.failNext = n
	m.failErr = err
}

// SetFailing makes every SaveBatch call fail until cleared with a nil error.
func (m *MockSink) SetFailing(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err == nil {
		m.failNext = 0
		m.failErr = nil
		return
	}
	m.failNext = -1
	m.failErr = err
}

func (m *MockSink) SaveBatch(ctx context.Context, runID string, entries []*models.LogEntry) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if m.failNext != 0 {
		if m.failNext > 0 {
			m.failNext--
		}
		return m.failErr
	}
	copied := make([]*models.LogEntry, len(entries))
	copy(copied, entries)
	m.batches = append(m.batches, models.Batch{RunID: runID, Entries: copied})
	for _, e := range entries {
		// Duplicate deliveries are tolerated the way a primary key would.
		if _, ok := m.seen[e.ID]; ok {
			continue
		}
		m.seen[e.ID] = struct{}{}
		m.entries[runID] = append(m.entries[runID], e)
	}
	select {
	case m.notify <- struct{}{}:
	default:
	}
	return nil
}

func (m *MockSink) ListRunLogs(ctx context.Context, runID string, limit int) ([]*models.LogEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	entries, ok := m.entries[runID]
	if !ok {
		return nil, ErrNotFound
	}
	if limit > 0 && limit < len(entries) {
		entries = entries[len(entries)-limit:]
	}
	out := make([]*models.LogEntry, len(entries))
	copy(out, entries)
	return out, nil
}

func (m *MockSink) Close() error {
	return nil
}

// Batches returns the successfully saved batches in call order.
func (m *MockSink) Batches() []models.Batch {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]models.Batch, len(m.batches))
	copy(out, m.batches)
	return out
}

// Entries returns the distinct entries saved for runID in arrival order.
func (m *MockSink) Entries(runID string) []*models.LogEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*models.LogEntry, len(m.entries[runID]))
	copy(out, m.entries[runID])
	return out
}

// Calls counts every SaveBatch invocation, failed ones included.
func (m *MockSink) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// Saved signals (at most once per pending save) that a batch was stored.
func (m *MockSink) Saved() <-chan struct{} {
	return m.notify
}
