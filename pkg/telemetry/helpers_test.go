package telemetry_test

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/TashaKaslana/Zenflow-sub001/pkg/models"
	"github.com/TashaKaslana/Zenflow-sub001/pkg/telemetry"
	"github.com/stretchr/testify/require"
)

type logger struct{}

func (l logger) Infof(format string, args ...interface{}) {
	// no-op
}

func (l logger) Warnf(format string, args ...interface{}) {
	// no-op
}

func (l logger) Errorf(format string, args ...interface{}) {
	// no-op
}

// recordingCollector stands in for the collector and keeps every accepted batch.
type recordingCollector struct {
	mu      sync.Mutex
	batches []models.Batch
}

func (c *recordingCollector) Accept(runID string, entries []*models.LogEntry) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.batches = append(c.batches, models.Batch{RunID: runID, Entries: entries})
	return true
}

func (c *recordingCollector) Batches() []models.Batch {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]models.Batch, len(c.batches))
	copy(out, c.batches)
	return out
}

func (c *recordingCollector) Entries(runID string) []*models.LogEntry {
	var out []*models.LogEntry
	for _, b := range c.Batches() {
		if b.RunID == runID {
			out = append(out, b.Entries...)
		}
	}
	return out
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func entry(runID string, level models.LogLevel, i int) *models.LogEntry {
	return models.NewLogEntry("wf-1", runID, "node-a", level, fmt.Sprintf("message %d", i))
}

func messages(entries []*models.LogEntry) []string {
	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = e.Message
	}
	return out
}

func newPools(t *testing.T) *telemetry.SharedPools {
	t.Helper()
	pools := telemetry.NewSharedPools(telemetry.PoolConfig{SchedulerWorkers: 2, CoreWorkers: 2, MaxWorkers: 4}, logger{})
	pools.Start()
	t.Cleanup(pools.Stop)
	return pools
}

func requireEventually(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	require.Eventually(t, cond, 3*time.Second, 10*time.Millisecond, msg)
}
