package telemetry

import (
	"container/heap"
	"sync"
	"sync/atomic"
	"time"
)

// SharedPools holds the process-wide scheduler and batch worker pool shared by
// every WorkflowBuffer, so goroutine usage does not grow with the number of runs.
type SharedPools struct {
	Scheduler *Scheduler
	Batch     *BatchPool
}

func NewSharedPools(cfg PoolConfig, logger Logger) *SharedPools {
	cfg = cfg.withDefaults()
	if logger == nil {
		logger = nopLogger{}
	}
	return &SharedPools{
		Scheduler: NewScheduler(cfg.SchedulerWorkers, logger),
		Batch:     NewBatchPool(cfg, logger),
	}
}

func (p *SharedPools) Start() {
	p.Scheduler.Start()
	p.Batch.Start()
}

// Stop stops the scheduler first so no new ticks arrive, then lets the batch
// pool finish its backlog.
func (p *SharedPools) Stop() {
	p.Scheduler.Stop()
	p.Batch.Stop()
}

// ScheduledTask is a periodic job registered with a Scheduler.
type ScheduledTask struct {
	fn        func()
	interval  time.Duration
	next      time.Time
	index     int
	running   atomic.Bool
	cancelled atomic.Bool
	sched     *Scheduler
}

// Cancel stops future runs. A run already in progress completes.
func (t *ScheduledTask) Cancel() {
	if t.cancelled.CompareAndSwap(false, true) {
		t.sched.remove(t)
	}
}

type taskHeap []*ScheduledTask

func (h taskHeap) Len() int           { return len(h) }
func (h taskHeap) Less(i, j int) bool { return h[i].next.Before(h[j].next) }
func (h taskHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *taskHeap) Push(x interface{}) {
	t := x.(*ScheduledTask)
	t.index = len(*h)
	*h = append(*h, t)
}

func (h *taskHeap) Pop() interface{} {
	old := *h
	n := len(old)
	t := old[n-1]
	old[n-1] = nil
	t.index = -1
	*h = old[:n-1]
	return t
}

// Scheduler runs periodic tasks on a fixed set of workers. A single timing
// goroutine keeps tasks in a min-heap ordered by their next due time.
type Scheduler struct {
	mu      sync.Mutex
	tasks   taskHeap
	wake    chan struct{}
	jobs    chan *ScheduledTask
	workers int
	logger  Logger

	stopCh    chan struct{}
	wg        sync.WaitGroup
	startOnce sync.Once
	stopOnce  sync.Once
}

func NewScheduler(workers int, logger Logger) *Scheduler {
	if workers <= 0 {
		workers = 1
	}
	if logger == nil {
		logger = nopLogger{}
	}
	return &Scheduler{
		wake:    make(chan struct{}, 1),
		jobs:    make(chan *ScheduledTask, workers*4),
		workers: workers,
		logger:  logger,
		stopCh:  make(chan struct{}),
	}
}

func (s *Scheduler) Start() {
	s.startOnce.Do(func() {
		s.wg.Add(s.workers + 1)
		go s.loop()
		for i := 0; i < s.workers; i++ {
			go s.worker()
		}
	})
}

// Stop halts timing and workers. Runs in progress complete first.
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() {
		close(s.stopCh)
		s.wg.Wait()
	})
}

// Every runs fn every interval until the returned task is cancelled. A tick
// that arrives while the previous run is still executing is skipped.
func (s *Scheduler) Every(interval time.Duration, fn func()) *ScheduledTask {
	t := &ScheduledTask{fn: fn, interval: interval, sched: s, index: -1}
	s.mu.Lock()
	t.next = time.Now().Add(interval)
	heap.Push(&s.tasks, t)
	s.mu.Unlock()
	select {
	case s.wake <- struct{}{}:
	default:
	}
	return t
}

// Len returns the number of registered tasks.
func (s *Scheduler) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.tasks)
}

func (s *Scheduler) remove(t *ScheduledTask) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t.index >= 0 && t.index < len(s.tasks) && s.tasks[t.index] == t {
		heap.Remove(&s.tasks, t.index)
	}
}

func (s *Scheduler) loop() {
	defer s.wg.Done()
	timer := time.NewTimer(time.Hour)
	defer timer.Stop()
	for {
		wait := s.dispatchDue(time.Now())
		timer.Reset(wait)
		select {
		case <-s.stopCh:
			return
		case <-s.wake:
		case <-timer.C:
		}
	}
}

// dispatchDue hands every due task to the workers and returns how long to
// sleep until the next one.
func (s *Scheduler) dispatchDue(now time.Time) time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	for len(s.tasks) > 0 && !s.tasks[0].next.After(now) {
		t := s.tasks[0]
		t.next = now.Add(t.interval)
		heap.Fix(&s.tasks, 0)
		if !t.running.CompareAndSwap(false, true) {
			continue
		}
		select {
		case s.jobs <- t:
		default:
			// Workers are saturated; this tick is skipped.
			t.running.Store(false)
		}
	}
	if len(s.tasks) == 0 {
		return time.Hour
	}
	return s.tasks[0].next.Sub(now)
}

func (s *Scheduler) worker() {
	defer s.wg.Done()
	for {
		select {
		case <-s.stopCh:
			return
		case t := <-s.jobs:
			s.run(t)
		}
	}
}

func (s *Scheduler) run(t *ScheduledTask) {
	defer t.running.Store(false)
	if t.cancelled.Load() {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			s.logger.Errorf("Scheduled task panicked: %v", r)
		}
	}()
	t.fn()
}

// BatchPool runs submitted jobs on between CoreWorkers and MaxWorkers
// goroutines with a bounded backlog. When the backlog is full and no more
// workers may be added, Submit runs the job on the calling goroutine.
type BatchPool struct {
	core      int
	max       int
	keepAlive time.Duration
	backlog   chan func()
	logger    Logger

	mu         sync.Mutex
	started    bool
	stopped    bool
	workers    int
	stopCh     chan struct{}
	wg         sync.WaitGroup
	callerRuns atomic.Uint64
}

func NewBatchPool(cfg PoolConfig, logger Logger) *BatchPool {
	cfg = cfg.withDefaults()
	if logger == nil {
		logger = nopLogger{}
	}
	return &BatchPool{
		core:      cfg.CoreWorkers,
		max:       cfg.MaxWorkers,
		keepAlive: cfg.KeepAlive,
		backlog:   make(chan func(), cfg.QueueCapacity),
		logger:    logger,
		stopCh:    make(chan struct{}),
	}
}

func (p *BatchPool) Start() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started || p.stopped {
		return
	}
	p.started = true
	for i := 0; i < p.core; i++ {
		p.spawnLocked(nil, true)
	}
}

// Submit never blocks on a full backlog.
func (p *BatchPool) Submit(fn func()) {
	p.mu.Lock()
	stopped := p.stopped
	p.mu.Unlock()
	if stopped {
		p.runSafe(fn)
		return
	}
	select {
	case p.backlog <- fn:
		return
	default:
	}
	if p.trySpawn(fn) {
		return
	}
	p.callerRuns.Add(1)
	p.runSafe(fn)
}

// CallerRuns counts jobs that ran on the submitting goroutine.
func (p *BatchPool) CallerRuns() uint64 {
	return p.callerRuns.Load()
}

// Workers returns the current number of worker goroutines.
func (p *BatchPool) Workers() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.workers
}

// Stop waits for workers to drain the backlog, then runs anything left.
func (p *BatchPool) Stop() {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return
	}
	p.stopped = true
	close(p.stopCh)
	p.mu.Unlock()
	p.wg.Wait()
	p.drain()
}

func (p *BatchPool) trySpawn(first func()) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.started || p.stopped || p.workers >= p.max {
		return false
	}
	p.spawnLocked(first, false)
	return true
}

func (p *BatchPool) spawnLocked(first func(), core bool) {
	p.workers++
	p.wg.Add(1)
	go p.worker(first, core)
}

func (p *BatchPool) worker(first func(), core bool) {
	defer p.wg.Done()
	defer func() {
		p.mu.Lock()
		p.workers--
		p.mu.Unlock()
	}()
	if first != nil {
		p.runSafe(first)
	}
	var idle *time.Timer
	if !core {
		idle = time.NewTimer(p.keepAlive)
		defer idle.Stop()
	}
	for {
		var idleC <-chan time.Time
		if idle != nil {
			idle.Reset(p.keepAlive)
			idleC = idle.C
		}
		select {
		case fn := <-p.backlog:
			p.runSafe(fn)
		case <-idleC:
			return
		case <-p.stopCh:
			p.drain()
			return
		}
	}
}

func (p *BatchPool) drain() {
	for {
		select {
		case fn := <-p.backlog:
			p.runSafe(fn)
		default:
			return
		}
	}
}

func (p *BatchPool) runSafe(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Errorf("Batch job panicked: %v", r)
		}
	}()
	fn()
}
