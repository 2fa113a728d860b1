package telemetry

import "github.com/TashaKaslana/Zenflow-sub001/pkg/models"

// entryRing keeps the most recent entries of a run. Not safe for concurrent
// use; WorkflowBuffer guards it.
type entryRing struct {
	items []*models.LogEntry
	head  int // index of the oldest entry
	size  int
}

func newEntryRing(capacity int) *entryRing {
	if capacity <= 0 {
		capacity = 1
	}
	return &entryRing{items: make([]*models.LogEntry, capacity)}
}

func (r *entryRing) push(e *models.LogEntry) {
	if r.size < len(r.items) {
		r.items[(r.head+r.size)%len(r.items)] = e
		r.size++
		return
	}
	r.items[r.head] = e
	r.head = (r.head + 1) % len(r.items)
}

// last returns up to n of the newest entries in append order.
func (r *entryRing) last(n int) []*models.LogEntry {
	if n <= 0 || r.size == 0 {
		return []*models.LogEntry{}
	}
	if n > r.size {
		n = r.size
	}
	out := make([]*models.LogEntry, n)
	start := r.head + r.size - n
	for i := 0; i < n; i++ {
		out[i] = r.items[(start+i)%len(r.items)]
	}
	return out
}

func (r *entryRing) len() int {
	return r.size
}
