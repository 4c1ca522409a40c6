package poller

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingRunner struct{ runs atomic.Int32 }

func (r *countingRunner) RunCycle(context.Context) CycleReport {
	r.runs.Add(1)
	return CycleReport{}
}

func TestSchedulerRejectsBadSchedule(t *testing.T) {
	_, err := NewScheduler(&countingRunner{}, "every minute please", 6, time.Second, nil)
	assert.Error(t, err)
}

func TestSchedulerFanout(t *testing.T) {
	r := &countingRunner{}
	s, err := NewScheduler(r, "@every 1h", 3, 10*time.Millisecond, nil)
	require.NoError(t, err)
	defer s.Stop()

	s.Fire()
	require.Eventually(t, func() bool { return r.runs.Load() == 3 }, time.Second, 5*time.Millisecond)
}

func TestSchedulerStopCancelsPending(t *testing.T) {
	r := &countingRunner{}
	s, err := NewScheduler(r, "@every 1h", 6, time.Hour, nil)
	require.NoError(t, err)
	s.Start()

	s.Fire()
	require.Eventually(t, func() bool { return r.runs.Load() == 1 }, time.Second, 5*time.Millisecond)

	done := make(chan struct{})
	go func() {
		s.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop did not cancel pending fan-out timers")
	}
	assert.EqualValues(t, 1, r.runs.Load())

	s.Fire()
	time.Sleep(20 * time.Millisecond)
	assert.EqualValues(t, 1, r.runs.Load(), "no runs after Stop")
}
