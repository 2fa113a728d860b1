// Package live fans routed log entries out to connected observers.
package live

import (
	"io"
	"sync"
	"sync/atomic"

	"github.com/TashaKaslana/Zenflow-sub001/pkg/models"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// Wildcard subscribes to every run.
const Wildcard = "*"

const defaultBuffer = 256

// ErrHubClosed is returned by OnLog after Close.
var ErrHubClosed = errors.New("live: hub closed")

// Hub keeps per-run subscriptions. Delivery never blocks: a subscriber whose
// buffer is full loses the entry and its drop counter is incremented.
type Hub struct {
	buffer int
	logger *logrus.Entry

	mu     sync.RWMutex
	subs   map[string]map[*Subscription]struct{}
	closed bool

	delivered atomic.Uint64
	dropped   atomic.Uint64
}

// NewHub creates a hub whose subscriptions buffer up to buffer entries.
func NewHub(buffer int, logger *logrus.Entry) *Hub {
	if buffer <= 0 {
		buffer = defaultBuffer
	}
	if logger == nil {
		l := logrus.New()
		l.SetOutput(io.Discard)
		logger = logrus.NewEntry(l)
	}
	return &Hub{
		buffer: buffer,
		logger: logger,
		subs:   make(map[string]map[*Subscription]struct{}),
	}
}

// Subscription receives the entries of one run, or of all runs for Wildcard.
type Subscription struct {
	hub     *Hub
	runID   string
	ch      chan *models.LogEntry
	dropped atomic.Uint64
	once    sync.Once
}

// C returns the delivery channel. It is closed by Close or Hub.Close.
func (s *Subscription) C() <-chan *models.LogEntry {
	return s.ch
}

func (s *Subscription) RunID() string {
	return s.runID
}

// Dropped returns how many entries this subscriber lost to a full buffer.
func (s *Subscription) Dropped() uint64 {
	return s.dropped.Load()
}

// Close unsubscribes. It is safe to call more than once.
func (s *Subscription) Close() {
	s.hub.unsubscribe(s)
}

// Subscribe registers a subscription for runID. Subscribing to a closed hub
// returns a subscription whose channel is already closed.
func (h *Hub) Subscribe(runID string) *Subscription {
	sub := &Subscription{hub: h, runID: runID, ch: make(chan *models.LogEntry, h.buffer)}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		sub.once.Do(func() { close(sub.ch) })
		return sub
	}
	set, ok := h.subs[runID]
	if !ok {
		set = make(map[*Subscription]struct{})
		h.subs[runID] = set
	}
	set[sub] = struct{}{}
	return sub
}

func (h *Hub) unsubscribe(sub *Subscription) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if set, ok := h.subs[sub.runID]; ok {
		delete(set, sub)
		if len(set) == 0 {
			delete(h.subs, sub.runID)
		}
	}
	sub.once.Do(func() { close(sub.ch) })
}

// OnLog delivers entry to the subscribers of its run and to wildcard
// subscribers.
func (h *Hub) OnLog(entry *models.LogEntry) error {
	if entry == nil {
		return nil
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.closed {
		return ErrHubClosed
	}
	h.fanOut(h.subs[entry.WorkflowRunID], entry)
	if entry.WorkflowRunID != Wildcard {
		h.fanOut(h.subs[Wildcard], entry)
	}
	return nil
}

func (h *Hub) fanOut(set map[*Subscription]struct{}, entry *models.LogEntry) {
	for sub := range set {
		select {
		case sub.ch <- entry:
			h.delivered.Add(1)
		default:
			sub.dropped.Add(1)
			if h.dropped.Add(1)%1000 == 1 {
				h.logger.WithField("run_id", sub.runID).Warn("Live subscriber is too slow, dropping entries")
			}
		}
	}
}

// Subscribers returns the number of open subscriptions.
func (h *Hub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	n := 0
	for _, set := range h.subs {
		n += len(set)
	}
	return n
}

// Stats returns delivered and dropped totals.
func (h *Hub) Stats() (delivered, dropped uint64) {
	return h.delivered.Load(), h.dropped.Load()
}

// Close closes every subscription. Later OnLog calls return ErrHubClosed.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for runID, set := range h.subs {
		for sub := range set {
			sub.once.Do(func() { close(sub.ch) })
		}
		delete(h.subs, runID)
	}
}
