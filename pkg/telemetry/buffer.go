package telemetry

import (
	"sync"
	"time"

	"github.com/TashaKaslana/Zenflow-sub001/pkg/models"
)

// WorkflowBuffer batches the entries of one run before they reach the
// collector. Entries leave the buffer in the order they were appended.
type WorkflowBuffer struct {
	runID     string
	cfg       BufferConfig
	collector BatchAcceptor
	pools     *SharedPools
	createdAt time.Time

	mu          sync.Mutex
	pending     []*models.LogEntry
	ring        *entryRing
	closed      bool
	flushQueued bool

	// flushMu serializes drain-and-hand-off so ticks and triggered flushes
	// cannot interleave batches of the same run.
	flushMu sync.Mutex
	tick    *ScheduledTask
}

func NewWorkflowBuffer(runID string, cfg BufferConfig, collector BatchAcceptor, pools *SharedPools) *WorkflowBuffer {
	cfg = cfg.withDefaults()
	b := &WorkflowBuffer{
		runID:     runID,
		cfg:       cfg,
		collector: collector,
		pools:     pools,
		createdAt: time.Now(),
		ring:      newEntryRing(cfg.RingSize),
	}
	b.tick = pools.Scheduler.Every(cfg.MaxDelay, b.Flush)
	return b
}

func (b *WorkflowBuffer) RunID() string {
	return b.runID
}

// Append queues entry for the next flush and records it in the recent ring.
// Reaching BatchSize or appending an ERROR entry schedules an immediate flush.
// It returns false once the buffer is closed.
func (b *WorkflowBuffer) Append(entry *models.LogEntry) bool {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return false
	}
	b.pending = append(b.pending, entry)
	b.ring.push(entry)
	trigger := len(b.pending) >= b.cfg.BatchSize || entry.Level == models.ErrorLevel
	submit := trigger && !b.flushQueued
	if submit {
		b.flushQueued = true
	}
	b.mu.Unlock()

	if submit {
		b.pools.Batch.Submit(b.triggeredFlush)
	}
	return true
}

func (b *WorkflowBuffer) triggeredFlush() {
	b.mu.Lock()
	b.flushQueued = false
	b.mu.Unlock()
	b.Flush()
}

// Flush hands everything pending to the collector in chunks of at most BatchSize.
func (b *WorkflowBuffer) Flush() {
	b.flushMu.Lock()
	defer b.flushMu.Unlock()

	b.mu.Lock()
	drained := b.pending
	b.pending = nil
	b.mu.Unlock()

	for len(drained) > 0 {
		n := len(drained)
		if n > b.cfg.BatchSize {
			n = b.cfg.BatchSize
		}
		chunk := make([]*models.LogEntry, n)
		copy(chunk, drained[:n])
		b.collector.Accept(b.runID, chunk)
		drained = drained[n:]
	}
}

// Recent returns up to limit of the newest entries in append order.
func (b *WorkflowBuffer) Recent(limit int) []*models.LogEntry {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.ring.last(limit)
}

// CloseAndFlush cancels the tick and flushes what is left. Calls after the
// first are no-ops.
func (b *WorkflowBuffer) CloseAndFlush() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	b.mu.Unlock()

	b.tick.Cancel()
	b.Flush()
}

func (b *WorkflowBuffer) Closed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.closed
}

// Pending returns the number of entries waiting for the next flush.
func (b *WorkflowBuffer) Pending() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.pending)
}

func (b *WorkflowBuffer) Info() models.RunInfo {
	b.mu.Lock()
	defer b.mu.Unlock()
	status := models.ActiveRunStatus
	if b.closed {
		status = models.EndedRunStatus
	}
	return models.RunInfo{
		RunID:     b.runID,
		Status:    status,
		Pending:   len(b.pending),
		Recent:    b.ring.len(),
		CreatedAt: b.createdAt,
	}
}
