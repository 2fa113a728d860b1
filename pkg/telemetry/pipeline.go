package telemetry

import (
	"sync"

	"github.com/TashaKaslana/Zenflow-sub001/pkg/models"
	"github.com/TashaKaslana/Zenflow-sub001/pkg/storage"
	"github.com/pkg/errors"
)

// Dependencies are the collaborators of a Pipeline. Only Sink is required.
type Dependencies struct {
	Sink       storage.Sink
	Live       LiveNotifier
	Publisher  Publisher
	DeadLetter DeadLetter
	Metrics    Metrics
	Logger     Logger
}

// Pipeline wires router, buffers, shared pools and collector into one
// component with an explicit lifecycle.
type Pipeline struct {
	cfg       Config
	metrics   Metrics
	logger    Logger
	pools     *SharedPools
	breaker   *CircuitBreaker
	collector *Collector
	buffers   *BufferManager
	router    *Router

	startOnce sync.Once
	stopOnce  sync.Once
}

// Stats is a point-in-time view of queue depths and component state.
type Stats struct {
	RouterQueue     int              `json:"router_queue"`
	CollectorQueue  int              `json:"collector_queue"`
	ActiveRuns      int              `json:"active_runs"`
	BreakerState    string           `json:"breaker_state"`
	BreakerFailures int              `json:"breaker_failures"`
	BatchWorkers    int              `json:"batch_workers"`
	CallerRuns      uint64           `json:"caller_runs"`
	ScheduledTasks  int              `json:"scheduled_tasks"`
	Metrics         *MetricsSnapshot `json:"metrics,omitempty"`
}

func NewPipeline(cfg Config, deps Dependencies) (*Pipeline, error) {
	if deps.Sink == nil {
		return nil, errors.New("pipeline requires a sink")
	}
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid pipeline config")
	}
	metrics := deps.Metrics
	if metrics == nil {
		metrics = NoopMetrics{}
	}
	logger := deps.Logger
	if logger == nil {
		logger = nopLogger{}
	}

	p := &Pipeline{cfg: cfg, metrics: metrics, logger: logger}
	p.pools = NewSharedPools(cfg.Pools, logger)
	p.breaker = NewCircuitBreaker(cfg.Breaker, WithStateChange(func(from, to BreakerState) {
		metrics.CircuitStateChanged(from, to)
		logger.Warnf("Circuit breaker %s -> %s", from, to)
	}))
	var opts []CollectorOption
	if deps.Publisher != nil {
		opts = append(opts, WithPublisher(deps.Publisher))
	}
	if deps.DeadLetter != nil {
		opts = append(opts, WithDeadLetter(deps.DeadLetter))
	}
	p.collector = NewCollector(cfg.Collector, deps.Sink, p.breaker, metrics, logger, opts...)
	p.buffers = NewBufferManager(cfg.Buffer, p.collector, p.pools, metrics, logger)
	p.router = NewRouter(cfg.Router, p.buffers, deps.Live, metrics, logger)
	return p, nil
}

// Start launches every stage, consumers first. Calls after the first are no-ops.
func (p *Pipeline) Start() {
	p.startOnce.Do(func() {
		p.collector.Start()
		p.pools.Start()
		p.router.Start()
		p.logger.Infof("Log pipeline started")
	})
}

// Stop drains the pipeline front to back: queued entries reach their buffers,
// every buffer is flushed, and the collector makes a last attempt at what it holds.
func (p *Pipeline) Stop() {
	p.stopOnce.Do(func() {
		p.router.Stop()
		p.buffers.CloseAll()
		p.pools.Stop()
		p.collector.Stop()
		p.logger.Infof("Log pipeline stopped")
	})
}

func (p *Pipeline) Dispatch(entry *models.LogEntry) bool {
	return p.router.Dispatch(entry)
}

func (p *Pipeline) StartRun(runID string) {
	p.buffers.StartRun(runID)
}

func (p *Pipeline) EndRun(runID string) bool {
	return p.buffers.EndRun(runID)
}

func (p *Pipeline) Recent(runID string, limit int) []*models.LogEntry {
	return p.buffers.Recent(runID, limit)
}

func (p *Pipeline) Runs() []models.RunInfo {
	return p.buffers.Runs()
}

// ForNode returns a producer helper bound to one node of a run.
func (p *Pipeline) ForNode(workflowID, runID, nodeKey string) *NodeLogger {
	return NewNodeLogger(p, workflowID, runID, nodeKey)
}

func (p *Pipeline) Breaker() *CircuitBreaker {
	return p.breaker
}

func (p *Pipeline) Stats() Stats {
	s := Stats{
		RouterQueue:     p.router.Len(),
		CollectorQueue:  p.collector.QueueLen(),
		ActiveRuns:      p.buffers.ActiveRuns(),
		BreakerState:    p.breaker.State().String(),
		BreakerFailures: p.breaker.FailureCount(),
		BatchWorkers:    p.pools.Batch.Workers(),
		CallerRuns:      p.pools.Batch.CallerRuns(),
		ScheduledTasks:  p.pools.Scheduler.Len(),
	}
	if c, ok := p.metrics.(*Counters); ok {
		snap := c.Snapshot()
		s.Metrics = &snap
	}
	return s
}
