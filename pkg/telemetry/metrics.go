package telemetry

import (
	"sync"
	"time"

	"github.com/TashaKaslana/Zenflow-sub001/pkg/models"
)

// Stage names where an entry can be dropped.
type Stage string

const (
	StageRouter    Stage = "router"
	StageBuffer    Stage = "buffer"
	StageCollector Stage = "collector"
	StageRetry     Stage = "retry"
)

// Metrics observes pipeline events. Every drop is reported so loss is visible.
type Metrics interface {
	EntryRouted(level models.LogLevel)
	EntryDropped(stage Stage, level models.LogLevel)
	EntryEvicted(level models.LogLevel)
	BatchPersisted(runID string, size int, elapsed time.Duration)
	BatchFailed(runID string, size int, err error)
	BatchDeadLettered(runID string, size int)
	BatchPublished(runID string, size int)
	PublishFailed(runID string, size int, err error)
	CircuitStateChanged(from, to BreakerState)
	RunResurrected(runID string)
}

// NoopMetrics is used when no metrics collaborator is provided.
type NoopMetrics struct{}

func (NoopMetrics) EntryRouted(models.LogLevel)                        {}
func (NoopMetrics) EntryDropped(Stage, models.LogLevel)                {}
func (NoopMetrics) EntryEvicted(models.LogLevel)                       {}
func (NoopMetrics) BatchPersisted(string, int, time.Duration)          {}
func (NoopMetrics) BatchFailed(string, int, error)                     {}
func (NoopMetrics) BatchDeadLettered(string, int)                      {}
func (NoopMetrics) BatchPublished(string, int)                         {}
func (NoopMetrics) PublishFailed(string, int, error)                   {}
func (NoopMetrics) CircuitStateChanged(BreakerState, BreakerState)     {}
func (NoopMetrics) RunResurrected(string)                              {}

// Counters is an in-process Metrics implementation backing the /stats endpoint.
type Counters struct {
	mu                sync.Mutex
	routed            map[models.LogLevel]uint64
	dropped           map[Stage]map[models.LogLevel]uint64
	evicted           map[models.LogLevel]uint64
	batchesPersisted  uint64
	entriesPersisted  uint64
	persistTime       time.Duration
	batchesFailed     uint64
	batchesDeadLetter uint64
	entriesDeadLetter uint64
	batchesPublished  uint64
	publishFailures   uint64
	circuitOpened     uint64
	runsResurrected   uint64
}

// MetricsSnapshot is a point-in-time copy of Counters.
type MetricsSnapshot struct {
	Routed             map[models.LogLevel]uint64           `json:"routed"`
	Dropped            map[Stage]map[models.LogLevel]uint64 `json:"dropped"`
	Evicted            map[models.LogLevel]uint64           `json:"evicted"`
	BatchesPersisted   uint64                               `json:"batches_persisted"`
	EntriesPersisted   uint64                               `json:"entries_persisted"`
	AvgPersistMillis   float64                              `json:"avg_persist_ms"`
	BatchesFailed      uint64                               `json:"batches_failed"`
	BatchesDeadLetter  uint64                               `json:"batches_dead_lettered"`
	EntriesDeadLetter  uint64                               `json:"entries_dead_lettered"`
	BatchesPublished   uint64                               `json:"batches_published"`
	PublishFailures    uint64                               `json:"publish_failures"`
	CircuitOpened      uint64                               `json:"circuit_opened"`
	RunsResurrected    uint64                               `json:"runs_resurrected"`
}

func NewCounters() *Counters {
	return &Counters{
		routed:  make(map[models.LogLevel]uint64),
		dropped: make(map[Stage]map[models.LogLevel]uint64),
		evicted: make(map[models.LogLevel]uint64),
	}
}

func (c *Counters) EntryRouted(level models.LogLevel) {
	c.mu.Lock()
	c.routed[level]++
	c.mu.Unlock()
}

func (c *Counters) EntryDropped(stage Stage, level models.LogLevel) {
	c.mu.Lock()
	byLevel, ok := c.dropped[stage]
	if !ok {
		byLevel = make(map[models.LogLevel]uint64)
		c.dropped[stage] = byLevel
	}
	byLevel[level]++
	c.mu.Unlock()
}

func (c *Counters) EntryEvicted(level models.LogLevel) {
	c.mu.Lock()
	c.evicted[level]++
	c.mu.Unlock()
}

func (c *Counters) BatchPersisted(_ string, size int, elapsed time.Duration) {
	c.mu.Lock()
	c.batchesPersisted++
	c.entriesPersisted += uint64(size)
	c.persistTime += elapsed
	c.mu.Unlock()
}

func (c *Counters) BatchFailed(string, int, error) {
	c.mu.Lock()
	c.batchesFailed++
	c.mu.Unlock()
}

func (c *Counters) BatchDeadLettered(_ string, size int) {
	c.mu.Lock()
	c.batchesDeadLetter++
	c.entriesDeadLetter += uint64(size)
	c.mu.Unlock()
}

func (c *Counters) BatchPublished(string, int) {
	c.mu.Lock()
	c.batchesPublished++
	c.mu.Unlock()
}

func (c *Counters) PublishFailed(string, int, error) {
	c.mu.Lock()
	c.publishFailures++
	c.mu.Unlock()
}

func (c *Counters) CircuitStateChanged(_, to BreakerState) {
	if to != StateOpen {
		return
	}
	c.mu.Lock()
	c.circuitOpened++
	c.mu.Unlock()
}

func (c *Counters) RunResurrected(string) {
	c.mu.Lock()
	c.runsResurrected++
	c.mu.Unlock()
}

// Dropped returns the number of entries dropped at stage across all levels.
func (c *Counters) Dropped(stage Stage) uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	var n uint64
	for _, v := range c.dropped[stage] {
		n += v
	}
	return n
}

func (c *Counters) Snapshot() MetricsSnapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := MetricsSnapshot{
		Routed:            copyLevelCounts(c.routed),
		Dropped:           make(map[Stage]map[models.LogLevel]uint64, len(c.dropped)),
		Evicted:           copyLevelCounts(c.evicted),
		BatchesPersisted:  c.batchesPersisted,
		EntriesPersisted:  c.entriesPersisted,
		BatchesFailed:     c.batchesFailed,
		BatchesDeadLetter: c.batchesDeadLetter,
		EntriesDeadLetter: c.entriesDeadLetter,
		BatchesPublished:  c.batchesPublished,
		PublishFailures:   c.publishFailures,
		CircuitOpened:     c.circuitOpened,
		RunsResurrected:   c.runsResurrected,
	}
	for stage, byLevel := range c.dropped {
		s.Dropped[stage] = copyLevelCounts(byLevel)
	}
	if c.batchesPersisted > 0 {
		s.AvgPersistMillis = float64(c.persistTime.Milliseconds()) / float64(c.batchesPersisted)
	}
	return s
}

func copyLevelCounts(in map[models.LogLevel]uint64) map[models.LogLevel]uint64 {
	out := make(map[models.LogLevel]uint64, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
