package telemetry

import (
	"sort"
	"sync"

	"github.com/TashaKaslana/Zenflow-sub001/pkg/models"
)

const (
	endedRunMemory = 1024
	appendAttempts = 3
)

// BufferManager owns one WorkflowBuffer per active run.
type BufferManager struct {
	cfg       BufferConfig
	collector BatchAcceptor
	pools     *SharedPools
	metrics   Metrics
	logger    Logger

	mu      sync.Mutex
	buffers map[string]*WorkflowBuffer
	ended   *recentSet
	closed  bool
}

func NewBufferManager(cfg BufferConfig, collector BatchAcceptor, pools *SharedPools, metrics Metrics, logger Logger) *BufferManager {
	if metrics == nil {
		metrics = NoopMetrics{}
	}
	if logger == nil {
		logger = nopLogger{}
	}
	return &BufferManager{
		cfg:       cfg.withDefaults(),
		collector: collector,
		pools:     pools,
		metrics:   metrics,
		logger:    logger,
		buffers:   make(map[string]*WorkflowBuffer),
		ended:     newRecentSet(endedRunMemory),
	}
}

// StartRun creates the buffer for runID unless it already exists. Concurrent
// calls for the same run return the same buffer. It returns nil after CloseAll.
func (m *BufferManager) StartRun(runID string) *WorkflowBuffer {
	return m.getOrCreate(runID, true)
}

func (m *BufferManager) getOrCreate(runID string, explicit bool) *WorkflowBuffer {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}
	if b, ok := m.buffers[runID]; ok {
		return b
	}
	if m.ended.remove(runID) && !explicit {
		m.metrics.RunResurrected(runID)
		m.logger.Warnf("Late entry for ended run %s, recreating its buffer", runID)
	}
	b := NewWorkflowBuffer(runID, m.cfg, m.collector, m.pools)
	m.buffers[runID] = b
	return b
}

// EndRun removes the buffer of runID and flushes it synchronously. It reports
// whether a buffer existed.
func (m *BufferManager) EndRun(runID string) bool {
	m.mu.Lock()
	b, ok := m.buffers[runID]
	if ok {
		delete(m.buffers, runID)
		m.ended.add(runID)
	}
	m.mu.Unlock()
	if !ok {
		return false
	}
	b.CloseAndFlush()
	return true
}

// Enqueue appends entry to the buffer of its run, creating the buffer on first use.
func (m *BufferManager) Enqueue(entry *models.LogEntry) bool {
	if entry.WorkflowRunID == "" {
		m.metrics.EntryDropped(StageBuffer, entry.Level)
		m.logger.Warnf("Dropping entry %s without run id", entry.ID)
		return false
	}
	for i := 0; i < appendAttempts; i++ {
		b := m.getOrCreate(entry.WorkflowRunID, false)
		if b == nil {
			break
		}
		// A concurrent EndRun may close b between lookup and append.
		if b.Append(entry) {
			return true
		}
	}
	m.metrics.EntryDropped(StageBuffer, entry.Level)
	return false
}

// Recent returns the newest entries of runID, or an empty slice when the run
// has no buffer.
func (m *BufferManager) Recent(runID string, limit int) []*models.LogEntry {
	m.mu.Lock()
	b, ok := m.buffers[runID]
	m.mu.Unlock()
	if !ok {
		return []*models.LogEntry{}
	}
	return b.Recent(limit)
}

// Runs describes every active run ordered by run id.
func (m *BufferManager) Runs() []models.RunInfo {
	m.mu.Lock()
	buffers := make([]*WorkflowBuffer, 0, len(m.buffers))
	for _, b := range m.buffers {
		buffers = append(buffers, b)
	}
	m.mu.Unlock()

	infos := make([]models.RunInfo, 0, len(buffers))
	for _, b := range buffers {
		infos = append(infos, b.Info())
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].RunID < infos[j].RunID })
	return infos
}

func (m *BufferManager) ActiveRuns() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.buffers)
}

// CloseAll flushes and removes every buffer. Later entries are dropped.
func (m *BufferManager) CloseAll() {
	m.mu.Lock()
	m.closed = true
	buffers := m.buffers
	m.buffers = make(map[string]*WorkflowBuffer)
	m.mu.Unlock()

	for _, b := range buffers {
		b.CloseAndFlush()
	}
}

// recentSet remembers the last n keys added.
type recentSet struct {
	keys  map[string]int // key to its slot in order
	order []string
	next  int
}

func newRecentSet(n int) *recentSet {
	return &recentSet{keys: make(map[string]int, n), order: make([]string, n)}
}

func (s *recentSet) add(key string) {
	if _, ok := s.keys[key]; ok {
		return
	}
	if old := s.order[s.next]; old != "" {
		if slot, ok := s.keys[old]; ok && slot == s.next {
			delete(s.keys, old)
		}
	}
	s.order[s.next] = key
	s.keys[key] = s.next
	s.next = (s.next + 1) % len(s.order)
}

// remove reports whether key was present.
func (s *recentSet) remove(key string) bool {
	if _, ok := s.keys[key]; !ok {
		return false
	}
	delete(s.keys, key)
	return true
}
