package telemetry

import (
	"hash/fnv"
	"sync"

	"github.com/TashaKaslana/Zenflow-sub001/pkg/models"
)

// Router is the single ingestion point of the pipeline. Producers hand entries
// to Dispatch, which never blocks; router workers then notify live observers
// and forward each entry to the run buffers.
//
// Every run hashes to a single worker lane, so entries of a run reach their
// buffer in dispatch order. The queue capacity bounds all lanes together.
type Router struct {
	lanes   []chan *models.LogEntry
	slots   *admission
	buffers EntrySink
	live    LiveNotifier
	metrics Metrics
	logger  Logger

	mu      sync.RWMutex
	started bool
	stopped bool
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

func NewRouter(cfg RouterConfig, buffers EntrySink, live LiveNotifier, metrics Metrics, logger Logger) *Router {
	cfg = cfg.withDefaults()
	if metrics == nil {
		metrics = NoopMetrics{}
	}
	if logger == nil {
		logger = nopLogger{}
	}
	r := &Router{
		lanes:   make([]chan *models.LogEntry, cfg.Workers),
		slots:   newAdmission(cfg.QueueCapacity),
		buffers: buffers,
		live:    live,
		metrics: metrics,
		logger:  logger,
		stopCh:  make(chan struct{}),
	}
	for i := range r.lanes {
		r.lanes[i] = make(chan *models.LogEntry, cfg.QueueCapacity)
	}
	return r
}

// Dispatch queues entry and reports whether it was admitted. On a full queue a
// DEBUG entry is dropped; any other entry evicts the oldest queued entry.
func (r *Router) Dispatch(entry *models.LogEntry) bool {
	if entry == nil {
		return false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.stopped {
		r.metrics.EntryDropped(StageRouter, entry.Level)
		return false
	}
	lane := r.lanes[laneIndex(entry.WorkflowRunID, len(r.lanes))]
	if r.slots.acquire() {
		lane <- entry
		return true
	}
	if entry.Level == models.DebugLevel {
		r.metrics.EntryDropped(StageRouter, entry.Level)
		return false
	}
	// The evicted entry's slot passes to the new one.
	if old := r.evictFrom(lane); old != nil {
		r.metrics.EntryEvicted(old.Level)
		lane <- entry
		return true
	}
	// Workers emptied the queue in the meantime.
	if r.slots.acquire() {
		lane <- entry
		return true
	}
	r.metrics.EntryDropped(StageRouter, entry.Level)
	return false
}

// evictFrom removes the oldest entry of lane, or of the first non-empty lane
// when lane itself is empty.
func (r *Router) evictFrom(lane chan *models.LogEntry) *models.LogEntry {
	select {
	case old := <-lane:
		return old
	default:
	}
	for _, other := range r.lanes {
		select {
		case old := <-other:
			return old
		default:
		}
	}
	return nil
}

// Start launches the workers. Calls after the first are no-ops.
func (r *Router) Start() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.started || r.stopped {
		return
	}
	r.started = true
	for _, lane := range r.lanes {
		r.wg.Add(1)
		go r.worker(lane)
	}
}

// Stop rejects new entries, waits for the workers and routes whatever is
// still queued.
func (r *Router) Stop() {
	r.mu.Lock()
	if r.stopped {
		r.mu.Unlock()
		return
	}
	r.stopped = true
	close(r.stopCh)
	r.mu.Unlock()

	r.wg.Wait()
	for _, lane := range r.lanes {
		r.drain(lane)
	}
}

// Len returns the number of queued entries.
func (r *Router) Len() int {
	return r.slots.len()
}

func (r *Router) worker(lane chan *models.LogEntry) {
	defer r.wg.Done()
	for {
		select {
		case <-r.stopCh:
			return
		case e := <-lane:
			r.slots.release()
			r.route(e)
		}
	}
}

func (r *Router) drain(lane chan *models.LogEntry) {
	for {
		select {
		case e := <-lane:
			r.slots.release()
			r.route(e)
		default:
			return
		}
	}
}

func (r *Router) route(e *models.LogEntry) {
	r.notifyLive(e)
	r.buffers.Enqueue(e)
	r.metrics.EntryRouted(e.Level)
}

func (r *Router) notifyLive(e *models.LogEntry) {
	if r.live == nil {
		return
	}
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Errorf("Live notifier panicked for run %s: %v", e.WorkflowRunID, rec)
		}
	}()
	if err := r.live.OnLog(e); err != nil {
		r.logger.Warnf("Live notification failed for run %s: %v", e.WorkflowRunID, err)
	}
}

// laneIndex maps a run to one of n lanes.
func laneIndex(runID string, n int) int {
	if n <= 1 {
		return 0
	}
	h := fnv.New32a()
	_, _ = h.Write([]byte(runID))
	return int(h.Sum32() % uint32(n))
}
