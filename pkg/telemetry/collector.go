package telemetry

import (
	"context"
	"sync"
	"time"

	"github.com/TashaKaslana/Zenflow-sub001/pkg/models"
	"github.com/TashaKaslana/Zenflow-sub001/pkg/storage"
	"github.com/pkg/errors"
)

// Collector persists the batches of every run. Each run hashes to one lane
// served by one worker, so batches of a run reach the sink and the publisher
// in the order they were accepted.
type Collector struct {
	cfg        CollectorConfig
	sink       storage.Sink
	breaker    *CircuitBreaker
	publisher  Publisher
	deadLetter DeadLetter
	metrics    Metrics
	logger     Logger

	lanes  []chan *models.Batch
	slots  *admission
	stopCh chan struct{}
	wg     sync.WaitGroup

	mu      sync.RWMutex
	started bool
	stopped bool
}

type CollectorOption func(*Collector)

// WithPublisher republishes every persisted batch.
func WithPublisher(p Publisher) CollectorOption {
	return func(c *Collector) { c.publisher = p }
}

// WithDeadLetter keeps batches that exhausted their retries instead of dropping them.
func WithDeadLetter(d DeadLetter) CollectorOption {
	return func(c *Collector) { c.deadLetter = d }
}

func NewCollector(cfg CollectorConfig, sink storage.Sink, breaker *CircuitBreaker, metrics Metrics, logger Logger, opts ...CollectorOption) *Collector {
	cfg = cfg.withDefaults()
	if metrics == nil {
		metrics = NoopMetrics{}
	}
	if logger == nil {
		logger = nopLogger{}
	}
	if breaker == nil {
		breaker = NewCircuitBreaker(BreakerConfig{})
	}
	c := &Collector{
		cfg:     cfg,
		sink:    sink,
		breaker: breaker,
		metrics: metrics,
		logger:  logger,
		lanes:   make([]chan *models.Batch, cfg.Workers),
		slots:   newAdmission(cfg.QueueCapacity),
		stopCh:  make(chan struct{}),
	}
	for i := range c.lanes {
		c.lanes[i] = make(chan *models.Batch, cfg.QueueCapacity)
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Accept queues a batch without blocking. When the queue is full the DEBUG
// entries are dropped and the rest offered once more. It reports whether any
// part of the batch was queued.
func (c *Collector) Accept(runID string, entries []*models.LogEntry) bool {
	if len(entries) == 0 {
		return true
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.stopped {
		c.spill(&models.Batch{RunID: runID, Entries: entries}, "collector stopped")
		return false
	}
	lane := c.lanes[laneIndex(runID, len(c.lanes))]
	if c.slots.acquire() {
		lane <- &models.Batch{RunID: runID, Entries: entries}
		return true
	}

	reduced := models.WithoutLevel(entries, models.DebugLevel)
	for i := 0; i < len(entries)-len(reduced); i++ {
		c.metrics.EntryDropped(StageCollector, models.DebugLevel)
	}
	if len(reduced) > 0 && c.slots.acquire() {
		lane <- &models.Batch{RunID: runID, Entries: reduced}
		return true
	}
	for _, e := range reduced {
		c.metrics.EntryDropped(StageCollector, e.Level)
	}
	c.logger.Warnf("Collector queue full, dropped batch of %d entries for run %s", len(entries), runID)
	return false
}

func (c *Collector) Start() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.started || c.stopped {
		return
	}
	c.started = true
	for _, lane := range c.lanes {
		c.wg.Add(1)
		go c.worker(lane)
	}
}

// Stop interrupts retry backoffs and waits for workers, then gives every
// queued batch one last attempt. Batches that still fail are spilled.
func (c *Collector) Stop() {
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return
	}
	c.stopped = true
	close(c.stopCh)
	c.mu.Unlock()

	c.wg.Wait()
	for _, lane := range c.lanes {
		c.drainLane(lane)
	}
}

func (c *Collector) drainLane(lane chan *models.Batch) {
	for {
		select {
		case b := <-lane:
			c.slots.release()
			c.finalAttempt(b)
		default:
			return
		}
	}
}

// QueueLen returns the number of batches waiting across all lanes.
func (c *Collector) QueueLen() int {
	return c.slots.len()
}

func (c *Collector) Breaker() *CircuitBreaker {
	return c.breaker
}

func (c *Collector) worker(lane chan *models.Batch) {
	defer c.wg.Done()
	for {
		select {
		case <-c.stopCh:
			return
		case b := <-lane:
			c.slots.release()
			c.process(b)
		}
	}
}

func (c *Collector) process(b *models.Batch) {
	for {
		err := c.persist(b)
		if err == nil {
			c.publish(b)
			return
		}
		b.Attempts++
		c.metrics.BatchFailed(b.RunID, len(b.Entries), err)
		if c.cfg.MaxRetries > 0 && b.Attempts >= c.cfg.MaxRetries {
			c.spill(b, "retries exhausted")
			return
		}
		wait := c.backoff(b.Attempts)
		if errors.Cause(err) != ErrCircuitOpen {
			c.logger.Warnf("Persisting %d entries of run %s failed (attempt %d), retrying in %s: %v",
				len(b.Entries), b.RunID, b.Attempts, wait, err)
		}
		timer := time.NewTimer(wait)
		select {
		case <-timer.C:
		case <-c.stopCh:
			timer.Stop()
			c.finalAttempt(b)
			return
		}
	}
}

func (c *Collector) finalAttempt(b *models.Batch) {
	if err := c.persist(b); err != nil {
		b.Attempts++
		c.metrics.BatchFailed(b.RunID, len(b.Entries), err)
		c.spill(b, err.Error())
		return
	}
	c.publish(b)
}

// backoff doubles RetryBackoff per failed attempt up to MaxRetryBackoff.
func (c *Collector) backoff(attempts int) time.Duration {
	wait := c.cfg.RetryBackoff
	for i := 1; i < attempts; i++ {
		wait *= 2
		if wait >= c.cfg.MaxRetryBackoff {
			return c.cfg.MaxRetryBackoff
		}
	}
	return wait
}

func (c *Collector) persist(b *models.Batch) error {
	ctx, cancel := context.WithTimeout(context.Background(), c.cfg.PersistTimeout)
	defer cancel()
	start := time.Now()
	err := c.breaker.Execute(func() error {
		return c.sink.SaveBatch(ctx, b.RunID, b.Entries)
	})
	if err == nil {
		c.metrics.BatchPersisted(b.RunID, len(b.Entries), time.Since(start))
	}
	return err
}

func (c *Collector) publish(b *models.Batch) {
	if c.publisher == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), c.cfg.PersistTimeout)
	defer cancel()
	if err := c.publisher.Publish(ctx, b.RunID, b.Entries); err != nil {
		c.metrics.PublishFailed(b.RunID, len(b.Entries), err)
		c.logger.Errorf("Failed to publish %d entries of run %s: %v", len(b.Entries), b.RunID, err)
		return
	}
	c.metrics.BatchPublished(b.RunID, len(b.Entries))
}

// spill hands b to the dead-letter spool, or drops it when there is none.
func (c *Collector) spill(b *models.Batch, reason string) {
	if c.deadLetter != nil {
		err := c.deadLetter.Store(b)
		if err == nil {
			c.metrics.BatchDeadLettered(b.RunID, len(b.Entries))
			c.logger.Warnf("Dead-lettered %d entries of run %s after %d attempts: %s",
				len(b.Entries), b.RunID, b.Attempts, reason)
			return
		}
		c.logger.Errorf("Dead-letter store failed for run %s: %v", b.RunID, err)
	}
	for _, e := range b.Entries {
		c.metrics.EntryDropped(StageRetry, e.Level)
	}
	c.logger.Errorf("Dropped %d entries of run %s: %s", len(b.Entries), b.RunID, reason)
}
