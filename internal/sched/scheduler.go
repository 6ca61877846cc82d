// internal/sched/scheduler.go

// Package sched is a shared periodic scheduling service. Many
// fixed-rate tasks share one dispatch goroutine; tasks are kept in a
// red-black tree ordered by their next deadline.
package sched

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/emirpasic/gods/trees/redblacktree"

	"binclock/internal/clock"
)

var (
	ErrUnknownTask    = errors.New("sched: unknown task")
	ErrInvalidPeriod  = errors.New("sched: period must be positive")
	ErrAlreadyRunning = errors.New("sched: dispatch loop already running")
)

// Scheduler dispatches periodic tasks at a fixed rate and streams
// status events.
type Scheduler struct {
	mu     sync.Mutex         // protects the run queue and task table
	clock  clock.Clock        // time source for deadlines and wake-ups
	rbt    *redblacktree.Tree // red-black tree ordered by deadline and task ID
	tasks  map[TaskID]*Task   // map of all registered tasks by ID
	nextID TaskID             // last ID handed out

	wake     chan struct{}    // nudges the loop when the earliest deadline may have changed
	statusCh chan StatusEvent // buffered channel for status events
	fired    atomic.Int64     // total dispatches across all tasks
	running  atomic.Bool

	logger *slog.Logger
}

// New creates a Scheduler. The dispatch loop does not start until Run
// is called.
func New(clk clock.Clock, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		clock:    clk,
		rbt:      redblacktree.NewWith(cmp),
		tasks:    make(map[TaskID]*Task),
		wake:     make(chan struct{}, 1),
		statusCh: make(chan StatusEvent, 256), // buffered channel for status events
		logger:   logger,
	}
}

// Events exposes a read-only stream of status events. Events are
// dropped when nobody keeps up with the stream; the channel is never
// closed.
func (s *Scheduler) Events() <-chan StatusEvent { return s.statusCh }

// Fired returns the number of task dispatches so far.
func (s *Scheduler) Fired() int64 { return s.fired.Load() }

// Len returns the number of registered tasks.
func (s *Scheduler) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.tasks)
}

// Run dispatches tasks until ctx is done. Only one Run may be active
// at a time.
func (s *Scheduler) Run(ctx context.Context) error {
	if !s.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	defer s.running.Store(false)

	s.logger.Debug("scheduler started")
	s.loop(ctx)
	s.logger.Debug("scheduler stopped", "fired", s.fired.Load())
	return nil
}

// Schedule registers work to run every period, the first time after
// first has elapsed.
func (s *Scheduler) Schedule(period, first time.Duration, work func(deadline time.Time)) (TaskID, error) {
	if period <= 0 {
		return 0, fmt.Errorf("%w: %v", ErrInvalidPeriod, period)
	}
	if work == nil {
		return 0, errors.New("sched: nil work function")
	}

	s.mu.Lock()
	s.nextID++
	t := NewTask(period, s.clock.Now().Add(first), work)
	t.ID = s.nextID
	s.tasks[t.ID] = t
	s.rbt.Put(nodeKey{t.Deadline, t.ID}, t)
	ev := StatusEvent{Time: s.clock.Now(), Kind: StatusRegister, TaskID: t.ID, Deadline: t.Deadline}
	s.mu.Unlock() // NOTE: Unlock before emitting so a full channel never stalls callers

	s.emit(ev)
	s.nudge()
	return t.ID, nil
}

// Reschedule moves the next run of task id to first from now and
// returns that deadline. The period is unchanged and later runs follow
// from the new deadline.
func (s *Scheduler) Reschedule(id TaskID, first time.Duration) (time.Time, error) {
	s.mu.Lock()
	t, ok := s.tasks[id]
	if !ok {
		s.mu.Unlock()
		return time.Time{}, fmt.Errorf("%w: %d", ErrUnknownTask, id)
	}

	// Remove old tree entry, move the deadline, then reinsert the task.
	s.rbt.Remove(nodeKey{t.Deadline, t.ID})
	t.Deadline = s.clock.Now().Add(first)
	s.rbt.Put(nodeKey{t.Deadline, t.ID}, t)
	deadline := t.Deadline
	ev := StatusEvent{Time: s.clock.Now(), Kind: StatusReschedule, TaskID: id, Deadline: deadline, Runs: t.Runs}
	s.mu.Unlock()

	s.emit(ev)
	s.nudge()
	return deadline, nil
}

// Cancel deregisters task id. It reports false if the task was not
// registered. A run already dispatched completes, but no later run
// starts.
func (s *Scheduler) Cancel(id TaskID) bool {
	s.mu.Lock()
	t, ok := s.tasks[id]
	if !ok {
		s.mu.Unlock()
		return false
	}
	s.removeLocked(t)
	ev := StatusEvent{Time: s.clock.Now(), Kind: StatusCancel, TaskID: id, Runs: t.Runs}
	s.mu.Unlock()

	s.emit(ev)
	s.nudge()
	return true
}

func (s *Scheduler) removeLocked(t *Task) {
	s.rbt.Remove(nodeKey{t.Deadline, t.ID})
	delete(s.tasks, t.ID)
}

// loop runs the main dispatch loop, which sleeps until the earliest
// deadline and then runs that task.
func (s *Scheduler) loop(ctx context.Context) {
	for {
		// 1) check shutdown
		if ctx.Err() != nil {
			return
		}

		// 2) idle case: nothing registered, wait for a registration
		s.mu.Lock()
		node := s.rbt.Left()
		if node == nil {
			s.mu.Unlock()
			s.emit(StatusEvent{Time: s.clock.Now(), Kind: StatusIdle})
			select {
			case <-s.wake:
			case <-ctx.Done():
				return
			}
			continue
		}

		// 3) earliest task not due yet: sleep until it is, or until
		//    the queue changes
		key := node.Key.(nodeKey)
		if key.deadline.After(s.clock.Now()) {
			s.mu.Unlock()
			if !s.sleepUntil(ctx, key.deadline) {
				return
			}
			continue
		}

		// 4) dispatch: requeue at deadline+period before running, so
		//    a slow task does not shift its own schedule
		t := node.Value.(*Task)
		s.rbt.Remove(key)
		t.advance()
		s.rbt.Put(nodeKey{t.Deadline, t.ID}, t)
		t.Runs++
		ev := StatusEvent{Time: s.clock.Now(), Kind: StatusFire, TaskID: t.ID, Deadline: key.deadline, Runs: t.Runs}
		s.mu.Unlock()

		s.fired.Add(1)
		s.emit(ev)
		s.dispatch(t, key.deadline)
	}
}

// sleepUntil waits for deadline, a nudge, or shutdown. It reports
// false on shutdown.
func (s *Scheduler) sleepUntil(ctx context.Context, deadline time.Time) bool {
	due := make(chan struct{}, 1)
	tm := s.clock.AfterFuncAt(deadline, func() { due <- struct{}{} })
	select {
	case <-due:
		return true
	case <-s.wake:
		tm.Stop()
		return true
	case <-ctx.Done():
		tm.Stop()
		return false
	}
}

// dispatch runs one task. A panicking task is deregistered so it
// cannot take the shared loop down with it.
func (s *Scheduler) dispatch(t *Task, deadline time.Time) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("scheduled task panicked", "task", t.ID, "panic", r)
			s.mu.Lock()
			if _, ok := s.tasks[t.ID]; ok {
				s.removeLocked(t)
			}
			s.mu.Unlock()
			s.emit(StatusEvent{Time: s.clock.Now(), Kind: StatusPanic, TaskID: t.ID, Runs: t.Runs})
		}
	}()
	t.Run(deadline)
}

func (s *Scheduler) nudge() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *Scheduler) emit(ev StatusEvent) {
	select {
	case s.statusCh <- ev:
	default:
	}
}

// FormatEvent renders one event as a fixed-width trace line.
func FormatEvent(ev StatusEvent) string {
	// an auxiliary function to center the event kind in the output
	center := func(str string, width int) string {
		spaces := int(float64(width-len(str)) / 2)
		return strings.Repeat(" ", spaces) + str + strings.Repeat(" ", width-(spaces+len(str)))
	}

	deadline := "-"
	if !ev.Deadline.IsZero() {
		deadline = ev.Deadline.Format("15:04:05.000")
	}
	return fmt.Sprintf("%s = [%s] => Task: %04d, Runs: %06d, deadline=%s",
		ev.Time.Format("Jan 02 15:04:05.000"),
		center(ev.Kind.String(), 12),
		ev.TaskID,
		ev.Runs,
		deadline,
	)
}

// nodeKey is used as a key in the red-black tree.
type nodeKey struct {
	deadline time.Time
	id       TaskID
}

// cmp implements the Comparator for red-black tree ordering.
func cmp(a, b any) int {
	ka, kb := a.(nodeKey), b.(nodeKey)
	switch {
	case ka.deadline.Before(kb.deadline):
		return -1
	case ka.deadline.After(kb.deadline):
		return 1
	case ka.id < kb.id:
		return -1
	case ka.id > kb.id:
		return 1
	default:
		return 0
	}
}
