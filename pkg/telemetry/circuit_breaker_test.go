package telemetry_test

import (
	"testing"
	"time"

	"github.com/TashaKaslana/Zenflow-sub001/pkg/telemetry"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
)

func TestCircuitBreaker(t *testing.T) {
	errSink := errors.New("sink down")
	fail := func() error { return errSink }
	ok := func() error { return nil }

	newBreaker := func(clock *fakeClock, opts ...telemetry.BreakerOption) *telemetry.CircuitBreaker {
		opts = append(opts, telemetry.WithBreakerClock(clock.Now))
		return telemetry.NewCircuitBreaker(telemetry.BreakerConfig{FailureThreshold: 3, RecoveryTime: time.Second}, opts...)
	}

	t.Run("OpensAfterThreshold", func(t *testing.T) {
		cb := newBreaker(newFakeClock())
		for i := 0; i < 2; i++ {
			assert.Equal(t, errSink, cb.Execute(fail))
			assert.Equal(t, telemetry.StateClosed, cb.State())
		}
		assert.Equal(t, errSink, cb.Execute(fail))
		assert.Equal(t, telemetry.StateOpen, cb.State())
		assert.Equal(t, 3, cb.FailureCount())
	})

	t.Run("OpenRejectsWithoutCalling", func(t *testing.T) {
		cb := newBreaker(newFakeClock())
		for i := 0; i < 3; i++ {
			_ = cb.Execute(fail)
		}
		called := false
		err := cb.Execute(func() error {
			called = true
			return nil
		})
		assert.Equal(t, telemetry.ErrCircuitOpen, err)
		assert.False(t, called)
	})

	t.Run("ProbeAfterRecoveryCloses", func(t *testing.T) {
		clock := newFakeClock()
		cb := newBreaker(clock)
		for i := 0; i < 3; i++ {
			_ = cb.Execute(fail)
		}
		clock.Advance(time.Second)
		called := false
		err := cb.Execute(func() error {
			called = true
			assert.Equal(t, telemetry.StateHalfOpen, cb.State())
			return nil
		})
		assert.NoError(t, err)
		assert.True(t, called)
		assert.Equal(t, telemetry.StateClosed, cb.State())
		assert.Equal(t, 0, cb.FailureCount())
	})

	t.Run("FailedProbeReopens", func(t *testing.T) {
		clock := newFakeClock()
		cb := newBreaker(clock)
		for i := 0; i < 3; i++ {
			_ = cb.Execute(fail)
		}
		clock.Advance(time.Second)
		assert.Equal(t, errSink, cb.Execute(fail))
		assert.Equal(t, telemetry.StateOpen, cb.State())

		// The recovery window restarts from the failed probe.
		clock.Advance(500 * time.Millisecond)
		assert.Equal(t, telemetry.ErrCircuitOpen, cb.Execute(ok))
		clock.Advance(500 * time.Millisecond)
		assert.NoError(t, cb.Execute(ok))
		assert.Equal(t, telemetry.StateClosed, cb.State())
	})

	t.Run("SingleProbeInHalfOpen", func(t *testing.T) {
		clock := newFakeClock()
		cb := newBreaker(clock)
		for i := 0; i < 3; i++ {
			_ = cb.Execute(fail)
		}
		clock.Advance(time.Second)
		var inner error
		err := cb.Execute(func() error {
			inner = cb.Execute(ok)
			return nil
		})
		assert.NoError(t, err)
		assert.Equal(t, telemetry.ErrCircuitOpen, inner)
	})

	t.Run("SuccessResetsConsecutiveCount", func(t *testing.T) {
		cb := newBreaker(newFakeClock())
		_ = cb.Execute(fail)
		_ = cb.Execute(fail)
		assert.NoError(t, cb.Execute(ok))
		assert.Equal(t, 0, cb.FailureCount())
		_ = cb.Execute(fail)
		assert.Equal(t, telemetry.StateClosed, cb.State())
	})

	t.Run("ReportsTransitions", func(t *testing.T) {
		clock := newFakeClock()
		var transitions []string
		cb := newBreaker(clock, telemetry.WithStateChange(func(from, to telemetry.BreakerState) {
			transitions = append(transitions, from.String()+"->"+to.String())
		}))
		for i := 0; i < 3; i++ {
			_ = cb.Execute(fail)
		}
		clock.Advance(time.Second)
		_ = cb.Execute(ok)
		assert.Equal(t, []string{"CLOSED->OPEN", "OPEN->HALF_OPEN", "HALF_OPEN->CLOSED"}, transitions)
	})

	t.Run("PanicCountsAsFailure", func(t *testing.T) {
		cb := newBreaker(newFakeClock())
		assert.Panics(t, func() {
			_ = cb.Execute(func() error { panic("boom") })
		})
		assert.Equal(t, 1, cb.FailureCount())
	})
}
