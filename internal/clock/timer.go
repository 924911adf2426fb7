package clock

import (
	"container/heap"
	"time"
)

// Timer is a single-shot alarm owned by one piece of PIM state (a PimNbr's
// liveness timer, an MRE's KeepaliveTimer, ...). Every piece of state that
// installs a Timer must be able to Cancel it on destruction (spec §5).
type Timer struct {
	sched   *Scheduler
	fn      func()
	deadline time.Time
	armed   bool
	index   int // heap index, -1 if not in heap
}

// NewTimer arms fn to run once after d elapses on the scheduler's clock.
func (s *Scheduler) NewTimer(d time.Duration, fn func()) *Timer {
	t := &Timer{sched: s, fn: fn, index: -1}
	t.Reset(d)
	return t
}

// NewUnarmedTimer builds a Timer that is not yet running; call Reset to arm
// it. Useful for state that conditionally arms a timer later.
func (s *Scheduler) NewUnarmedTimer(fn func()) *Timer {
	return &Timer{sched: s, fn: fn, index: -1}
}

// Reset (re)arms the timer to fire d from now, cancelling any previous
// schedule. d <= 0 fires on the next scheduler step.
func (t *Timer) Reset(d time.Duration) {
	t.sched.mu.Lock()
	defer t.sched.mu.Unlock()
	if t.armed {
		t.sched.timerHeap.remove(t)
	}
	t.deadline = t.sched.clock.Now().Add(d)
	t.armed = true
	heap.Push(&t.sched.timerHeap, t)
	t.sched.notify()
}

// Cancel disarms the timer. No-op if already disarmed.
func (t *Timer) Cancel() {
	t.sched.mu.Lock()
	defer t.sched.mu.Unlock()
	if !t.armed {
		return
	}
	t.sched.timerHeap.remove(t)
	t.armed = false
}

// Scheduled reports whether the timer is currently armed.
func (t *Timer) Scheduled() bool {
	t.sched.mu.Lock()
	defer t.sched.mu.Unlock()
	return t.armed
}

// Remaining reports the time until the timer fires, with wall-clock
// precision. Zero or negative if disarmed or already expired.
func (t *Timer) Remaining() time.Duration {
	t.sched.mu.Lock()
	defer t.sched.mu.Unlock()
	if !t.armed {
		return 0
	}
	return t.deadline.Sub(t.sched.clock.Now())
}

// timerHeapT is a min-heap of armed timers ordered by deadline.
type timerHeapT []*Timer

func (h timerHeapT) Len() int            { return len(h) }
func (h timerHeapT) Less(i, j int) bool  { return h[i].deadline.Before(h[j].deadline) }
func (h timerHeapT) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}
func (h *timerHeapT) Push(x any) {
	t := x.(*Timer)
	t.index = len(*h)
	*h = append(*h, t)
}
func (h *timerHeapT) Pop() any {
	old := *h
	n := len(old)
	t := old[n-1]
	old[n-1] = nil
	t.index = -1
	*h = old[:n-1]
	return t
}
func (h *timerHeapT) remove(t *Timer) {
	if t.index < 0 || t.index >= len(*h) {
		return
	}
	heap.Remove(h, t.index)
}

// fireExpiredTimers pops and runs every timer whose deadline has passed.
// Reports whether it fired at least one.
func (s *Scheduler) fireExpiredTimers() bool {
	now := s.clock.Now()
	fired := false
	for {
		s.mu.Lock()
		if s.timerHeap.Len() == 0 || s.timerHeap[0].deadline.After(now) {
			s.mu.Unlock()
			break
		}
		t := heap.Pop(&s.timerHeap).(*Timer)
		t.armed = false
		s.mu.Unlock()
		t.fn()
		fired = true
	}
	return fired
}

// nextTimerDelay returns how long until the next timer is due, 0 if one is
// already due, or -1 if no timer is armed.
func (s *Scheduler) nextTimerDelay() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.timerHeap.Len() == 0 {
		return -1
	}
	d := s.timerHeap[0].deadline.Sub(s.clock.Now())
	if d < 0 {
		return 0
	}
	return d
}
