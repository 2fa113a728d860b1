package telemetry_test

import (
	"sync"
	"testing"
	"time"

	"github.com/TashaKaslana/Zenflow-sub001/pkg/models"
	"github.com/TashaKaslana/Zenflow-sub001/pkg/telemetry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWorkflowBuffer(t *testing.T) {
	// A long delay keeps the tick out of tests that flush explicitly.
	quiet := telemetry.BufferConfig{BatchSize: 5, MaxDelay: time.Hour, RingSize: 4}

	t.Run("SizeTriggeredFlush", func(t *testing.T) {
		c := &recordingCollector{}
		b := telemetry.NewWorkflowBuffer("run-1", quiet, c, newPools(t))
		defer b.CloseAndFlush()

		for i := 0; i < 5; i++ {
			assert.True(t, b.Append(entry("run-1", models.InfoLevel, i)))
		}
		requireEventually(t, func() bool { return len(c.Batches()) == 1 }, "batch of 5 should flush")
		assert.Len(t, c.Batches()[0].Entries, 5)
		assert.Equal(t, 0, b.Pending())
	})

	t.Run("ErrorFlushesEverythingQueued", func(t *testing.T) {
		c := &recordingCollector{}
		b := telemetry.NewWorkflowBuffer("run-1", quiet, c, newPools(t))
		defer b.CloseAndFlush()

		b.Append(entry("run-1", models.InfoLevel, 0))
		b.Append(entry("run-1", models.WarningLevel, 1))
		b.Append(entry("run-1", models.ErrorLevel, 2))
		requireEventually(t, func() bool { return len(c.Batches()) == 1 }, "error should flush immediately")
		assert.Equal(t, []string{"message 0", "message 1", "message 2"}, messages(c.Batches()[0].Entries))
	})

	t.Run("TickFlushesLowTraffic", func(t *testing.T) {
		c := &recordingCollector{}
		cfg := telemetry.BufferConfig{BatchSize: 100, MaxDelay: 20 * time.Millisecond}
		b := telemetry.NewWorkflowBuffer("run-1", cfg, c, newPools(t))
		defer b.CloseAndFlush()

		b.Append(entry("run-1", models.InfoLevel, 0))
		requireEventually(t, func() bool { return len(c.Entries("run-1")) == 1 }, "tick should flush")
	})

	t.Run("FlushSplitsIntoBatchSize", func(t *testing.T) {
		c := &recordingCollector{}
		cfg := telemetry.BufferConfig{BatchSize: 5, MaxDelay: time.Hour}
		pools := telemetry.NewSharedPools(telemetry.PoolConfig{}, logger{})
		// Not started: triggered flushes wait in the backlog so entries pile up.
		b := telemetry.NewWorkflowBuffer("run-1", cfg, c, pools)
		for i := 0; i < 12; i++ {
			b.Append(entry("run-1", models.InfoLevel, i))
		}
		b.Flush()
		batches := c.Batches()
		require.Len(t, batches, 3)
		assert.Len(t, batches[0].Entries, 5)
		assert.Len(t, batches[1].Entries, 5)
		assert.Len(t, batches[2].Entries, 2)
		assert.Len(t, c.Entries("run-1"), 12)
		pools.Stop()
	})

	t.Run("RecentKeepsLastRingSize", func(t *testing.T) {
		c := &recordingCollector{}
		b := telemetry.NewWorkflowBuffer("run-1", quiet, c, newPools(t))
		defer b.CloseAndFlush()

		for i := 0; i < 7; i++ {
			b.Append(entry("run-1", models.InfoLevel, i))
		}
		assert.Equal(t, []string{"message 3", "message 4", "message 5", "message 6"}, messages(b.Recent(4)))
		assert.Equal(t, []string{"message 5", "message 6"}, messages(b.Recent(2)))
		assert.Len(t, b.Recent(100), 4)
		assert.Empty(t, b.Recent(0))
		assert.Empty(t, b.Recent(-1))
	})

	t.Run("CloseAndFlushIsIdempotent", func(t *testing.T) {
		c := &recordingCollector{}
		pools := newPools(t)
		b := telemetry.NewWorkflowBuffer("run-1", quiet, c, pools)
		b.Append(entry("run-1", models.InfoLevel, 0))
		b.Append(entry("run-1", models.InfoLevel, 1))

		b.CloseAndFlush()
		b.CloseAndFlush()
		assert.Len(t, c.Batches(), 1)
		assert.True(t, b.Closed())
		assert.False(t, b.Append(entry("run-1", models.InfoLevel, 2)))
		assert.Equal(t, 0, pools.Scheduler.Len())
		assert.Equal(t, models.EndedRunStatus, b.Info().Status)
	})

	t.Run("ConcurrentAppendKeepsEveryEntry", func(t *testing.T) {
		c := &recordingCollector{}
		cfg := telemetry.BufferConfig{BatchSize: 7, MaxDelay: 5 * time.Millisecond}
		b := telemetry.NewWorkflowBuffer("run-1", cfg, c, newPools(t))

		var wg sync.WaitGroup
		for p := 0; p < 8; p++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for i := 0; i < 100; i++ {
					b.Append(entry("run-1", models.InfoLevel, i))
				}
			}()
		}
		wg.Wait()
		b.CloseAndFlush()
		requireEventually(t, func() bool { return len(c.Entries("run-1")) == 800 }, "no entry may be lost")
		for _, batch := range c.Batches() {
			assert.LessOrEqual(t, len(batch.Entries), 7)
		}
	})

	t.Run("PreservesAppendOrder", func(t *testing.T) {
		c := &recordingCollector{}
		cfg := telemetry.BufferConfig{BatchSize: 3, MaxDelay: time.Millisecond}
		b := telemetry.NewWorkflowBuffer("run-1", cfg, c, newPools(t))

		var want []string
		for i := 0; i < 200; i++ {
			level := models.InfoLevel
			if i%17 == 0 {
				level = models.ErrorLevel
			}
			e := entry("run-1", level, i)
			want = append(want, e.Message)
			b.Append(e)
		}
		b.CloseAndFlush()
		requireEventually(t, func() bool { return len(c.Entries("run-1")) == 200 }, "all entries flushed")
		assert.Equal(t, want, messages(c.Entries("run-1")))
	})
}
