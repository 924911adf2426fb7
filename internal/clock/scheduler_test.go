package clock_test

import (
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/pim-sm/pimd/internal/clock"
	"github.com/stretchr/testify/require"
)

func TestTaskPriorityOrder(t *testing.T) {
	s := clock.NewWithClock(clockwork.NewFakeClock())
	var order []string
	s.Enqueue(clock.PriorityLow, func() bool { order = append(order, "low"); return false })
	s.Enqueue(clock.PriorityHigh, func() bool { order = append(order, "high"); return false })
	s.Enqueue(clock.PriorityNormal, func() bool { order = append(order, "normal"); return false })

	s.RunPendingTasks()
	require.Equal(t, []string{"high", "normal", "low"}, order)
}

func TestRepeatedTaskReschedules(t *testing.T) {
	s := clock.NewWithClock(clockwork.NewFakeClock())
	runs := 0
	s.Enqueue(clock.PriorityNormal, func() bool {
		runs++
		return runs < 3
	})
	// A rescheduled task joins the back of the same queue; RunPendingTasks
	// keeps running until the task stops rescheduling, so later calls find
	// nothing left and the count stays at 3.
	for i := 0; i < 3; i++ {
		s.RunPendingTasks()
	}
	require.Equal(t, 3, runs)
}

func TestTimerFiresAfterAdvance(t *testing.T) {
	fc := clockwork.NewFakeClock()
	s := clock.NewWithClock(fc)
	fired := make(chan struct{}, 1)
	timer := s.NewTimer(5*time.Second, func() { fired <- struct{}{} })
	require.True(t, timer.Scheduled())

	s.Step() // nothing due yet
	select {
	case <-fired:
		t.Fatal("timer fired early")
	default:
	}

	fc.Advance(5 * time.Second)
	require.True(t, s.Step())
	select {
	case <-fired:
	default:
		t.Fatal("timer did not fire")
	}
	require.False(t, timer.Scheduled())
}

func TestTimerCancel(t *testing.T) {
	fc := clockwork.NewFakeClock()
	s := clock.NewWithClock(fc)
	fired := false
	timer := s.NewTimer(time.Second, func() { fired = true })
	timer.Cancel()
	fc.Advance(time.Hour)
	s.Step()
	require.False(t, fired)
}

func TestTimerRemaining(t *testing.T) {
	fc := clockwork.NewFakeClock()
	s := clock.NewWithClock(fc)
	timer := s.NewTimer(10*time.Second, func() {})
	fc.Advance(4 * time.Second)
	rem := timer.Remaining()
	require.InDelta(t, 6*time.Second, rem, float64(time.Millisecond))
}
