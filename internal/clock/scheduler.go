// Package clock implements the single-threaded cooperative scheduler that
// drives every PIM timer and deferred per-entry task (spec §4.1, §9). It
// replaces xorp's EventLoop/TimerList/TaskList trio with one goroutine, a
// clockwork.Clock for deterministic tests, and per-priority FIFO task
// queues.
package clock

import (
	"container/list"
	"sync"

	"github.com/jonboulle/clockwork"
)

// PriorityInfinity marks "nothing runnable at this priority band".
const PriorityInfinity = int(^uint(0) >> 1)

// Default priorities. Lower runs first. Tasks that must converge before any
// outgoing message is sent (RP/RPF recomputation) run ahead of tasks that
// merely clean up (delete-pending sweep).
const (
	PriorityHigh   = 0
	PriorityNormal = 10
	PriorityLow    = 20
)

// Func is a single unit of deferred work. Returning true reschedules it to
// run again in the next round for the same priority (a "repeated" task);
// returning false unschedules it (a "oneshot" task that has finished, or a
// repeated task that is done).
type Func func() bool

// Task is a handle to a scheduled Func. It is idempotent and safe to call
// from inside a running callback.
type Task struct {
	sched    *Scheduler
	priority int
	elem     *list.Element // position in its priority queue, nil if not queued
	fn       Func
}

// Unschedule removes the task from its queue if present. No-op if already
// unscheduled.
func (t *Task) Unschedule() {
	t.sched.mu.Lock()
	defer t.sched.mu.Unlock()
	t.sched.removeLocked(t)
}

// Scheduled reports whether the task is currently queued to run.
func (t *Task) Scheduled() bool {
	t.sched.mu.Lock()
	defer t.sched.mu.Unlock()
	return t.elem != nil
}

// Scheduler is the PIM engine's single cooperative run loop: a timer wheel
// (backed by clockwork.Clock so tests can fast-forward) plus prioritized
// round-robin task queues. There is no preemption; one callback runs to
// completion before the next is selected.
type Scheduler struct {
	clock clockwork.Clock

	mu        sync.Mutex
	queues    map[int]*list.List // priority -> FIFO of *Task
	priority  []int              // sorted distinct priorities seen so far
	timerHeap timerHeapT

	wake chan struct{}
	stop chan struct{}
	done chan struct{}
}

// New builds a Scheduler using the real wall clock.
func New() *Scheduler {
	return NewWithClock(clockwork.NewRealClock())
}

// NewWithClock builds a Scheduler using the given clock, typically a
// clockwork.FakeClock in tests.
func NewWithClock(c clockwork.Clock) *Scheduler {
	return &Scheduler{
		clock:  c,
		queues: make(map[int]*list.List),
		wake:   make(chan struct{}, 1),
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
}

// Clock exposes the underlying clock, e.g. for components that stamp
// events with Now() without going through a Timer.
func (s *Scheduler) Clock() clockwork.Clock { return s.clock }

func (s *Scheduler) notify() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// Enqueue schedules fn to run once at the given priority. Each call queues
// a new Task at the back of that priority's queue, even for the same fn.
func (s *Scheduler) Enqueue(priority int, fn Func) *Task {
	t := &Task{sched: s, priority: priority, fn: fn}
	s.mu.Lock()
	s.addLocked(t)
	s.mu.Unlock()
	s.notify()
	return t
}

func (s *Scheduler) addLocked(t *Task) {
	q, ok := s.queues[t.priority]
	if !ok {
		q = list.New()
		s.queues[t.priority] = q
		s.priority = insertSorted(s.priority, t.priority)
	}
	t.elem = q.PushBack(t)
}

func (s *Scheduler) removeLocked(t *Task) {
	if t.elem == nil {
		return
	}
	if q, ok := s.queues[t.priority]; ok {
		q.Remove(t.elem)
	}
	t.elem = nil
}

func insertSorted(xs []int, v int) []int {
	for _, x := range xs {
		if x == v {
			return xs
		}
	}
	xs = append(xs, v)
	for i := len(xs) - 1; i > 0 && xs[i] < xs[i-1]; i-- {
		xs[i], xs[i-1] = xs[i-1], xs[i]
	}
	return xs
}

// runnablePriority returns the lowest (most urgent) priority with a
// non-empty queue, or PriorityInfinity.
func (s *Scheduler) runnablePriority() int {
	for _, p := range s.priority {
		if q, ok := s.queues[p]; ok && q.Len() > 0 {
			return p
		}
	}
	return PriorityInfinity
}

// runOneTask pops and runs the single oldest task at the most urgent
// priority. Reports whether it ran one.
func (s *Scheduler) runOneTask() bool {
	s.mu.Lock()
	var chosen *Task
	for _, p := range s.priority {
		q, ok := s.queues[p]
		if !ok || q.Len() == 0 {
			continue
		}
		front := q.Front()
		chosen = front.Value.(*Task)
		q.Remove(front)
		chosen.elem = nil
		break
	}
	s.mu.Unlock()
	if chosen == nil {
		return false
	}
	again := chosen.fn()
	if again {
		s.mu.Lock()
		s.addLocked(chosen)
		s.mu.Unlock()
	}
	return true
}

// RunPendingTasks runs tasks until every queue is empty, including tasks
// that reschedule themselves by returning true, mirroring
// EventLoop::run_pending_tasks used by synchronous test helpers.
func (s *Scheduler) RunPendingTasks() {
	for s.runOneTask() {
	}
}

// Step runs one iteration of the scheduler: fire any expired timers, else
// run one ready task, else report idle. Returns true if it did work.
func (s *Scheduler) Step() bool {
	if s.fireExpiredTimers() {
		return true
	}
	return s.runOneTask()
}

// Run blocks, repeatedly calling Step, until Stop is called. It is meant to
// be run in its own goroutine; this is the only goroutine that mutates PIM
// state, preserving the single-threaded-cooperative model of §5.
func (s *Scheduler) Run() {
	defer close(s.done)
	for {
		select {
		case <-s.stop:
			return
		default:
		}
		if s.Step() {
			continue
		}
		wait := s.nextTimerDelay()
		if wait <= 0 {
			select {
			case <-s.stop:
				return
			case <-s.wake:
			}
			continue
		}
		timer := s.clock.NewTimer(wait)
		select {
		case <-s.stop:
			timer.Stop()
			return
		case <-s.wake:
			timer.Stop()
		case <-timer.Chan():
		}
	}
}

// Stop requests the run loop to exit and blocks until it has.
func (s *Scheduler) Stop() {
	close(s.stop)
	<-s.done
}
