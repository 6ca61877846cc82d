package timer

import (
	"fmt"
	"time"

	"binclock/internal/sched"
)

// ServiceTimer delegates its period to a shared sched.Scheduler. The
// scheduled task stays registered across Stop and Start; Stop only
// disarms it and Start re-arms it and moves its next deadline to one
// delay from the resume instant. Changing the delay drops the task so
// the next Start registers it with the new period.
type ServiceTimer struct {
	core
	sched *sched.Scheduler

	id         sched.TaskID
	registered bool
	reg        uint64    // registration generation; stale tasks do nothing
	armedFrom  time.Time // dispatches for earlier deadlines were decided before the last resume
}

var _ Timer = (*ServiceTimer)(nil)

// NewServiceTimer returns an unconfigured ServiceTimer backed by s.
// The caller owns s and must keep its Run loop going.
func NewServiceTimer(s *sched.Scheduler, opts ...Option) *ServiceTimer {
	o := buildOptions(opts)
	return &ServiceTimer{
		core:  core{logger: o.logger.With("timer", "service")},
		sched: s,
	}
}

// NewServiceTimerWith returns a ServiceTimer already configured with
// action and delay.
func NewServiceTimerWith(s *sched.Scheduler, action func(), delay time.Duration, opts ...Option) (*ServiceTimer, error) {
	t := NewServiceTimer(s, opts...)
	if err := t.SetDelay(delay); err != nil {
		return nil, err
	}
	if _, err := t.SetAction(action); err != nil {
		return nil, err
	}
	return t, nil
}

func (t *ServiceTimer) SetDelay(d time.Duration) error {
	if err := validDelay(d); err != nil {
		return err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.checkConfigurableLocked(); err != nil {
		return err
	}
	if t.registered && d != t.delay {
		t.deregisterLocked()
	}
	t.delay = d
	return nil
}

func (t *ServiceTimer) Start() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.checkStartableLocked(); err != nil {
		return err
	}

	if t.registered {
		next, err := t.sched.Reschedule(t.id, t.delay)
		if err != nil {
			return fmt.Errorf("timer: resume: %w", err)
		}
		t.armedFrom = next
	} else {
		t.reg++
		id, err := t.sched.Schedule(t.delay, t.delay, t.tick(t.reg))
		if err != nil {
			return fmt.Errorf("timer: register: %w", err)
		}
		t.id = id
		t.registered = true
		t.armedFrom = time.Time{}
	}

	t.state = Running
	t.logger.Debug("timer started", "delay", t.delay, "task", t.id)
	return nil
}

func (t *ServiceTimer) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state != Running {
		return
	}
	t.state = Stopped
	t.logger.Debug("timer stopped", "task", t.id)
}

func (t *ServiceTimer) Cancel() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state == Canceled {
		return
	}
	t.state = Canceled
	if t.registered {
		t.deregisterLocked()
	}
	t.logger.Debug("timer canceled")
}

// deregisterLocked removes the scheduled task. Lock order is always
// timer then scheduler; the scheduler never calls back into a timer
// while holding its own lock.
func (t *ServiceTimer) deregisterLocked() {
	t.sched.Cancel(t.id)
	t.registered = false
	t.reg++
}

// tick is the scheduled task for registration reg. It consults the
// armed state before every run.
func (t *ServiceTimer) tick(reg uint64) func(time.Time) {
	return func(deadline time.Time) {
		t.mu.Lock()
		if t.state != Running || t.reg != reg || deadline.Before(t.armedFrom) {
			t.mu.Unlock()
			return
		}
		action := t.action
		t.mu.Unlock()

		if err := invoke(action); err != nil && t.fail(err) {
			t.mu.Lock()
			if t.registered {
				t.deregisterLocked()
			}
			t.mu.Unlock()
		}
	}
}
