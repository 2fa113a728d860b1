package telemetry

import "sync/atomic"

// admission bounds the number of items queued across all lanes of a stage.
// A slot is taken before an item is sent to a lane and given back when a
// worker receives it, so a lane channel sized at the full capacity never
// blocks a sender holding a slot.
type admission struct {
	queued atomic.Int64
	limit  int64
}

func newAdmission(limit int) *admission {
	if limit < 1 {
		limit = 1
	}
	return &admission{limit: int64(limit)}
}

func (a *admission) acquire() bool {
	for {
		n := a.queued.Load()
		if n >= a.limit {
			return false
		}
		if a.queued.CompareAndSwap(n, n+1) {
			return true
		}
	}
}

func (a *admission) release() {
	a.queued.Add(-1)
}

func (a *admission) len() int {
	return int(a.queued.Load())
}
