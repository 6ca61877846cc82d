package timer

import (
	"time"

	"binclock/internal/clock"
)

// ThreadTimer runs its action on one dedicated goroutine. The
// goroutine is launched by the first Start and lives until Cancel.
// While stopped it blocks on a wake-up channel; while running it
// sleeps until the next deadline.
type ThreadTimer struct {
	core
	clock clock.Clock

	deadline time.Time     // next run, valid while running
	gen      uint64        // bumped by every Start and Stop
	launched bool          // loop goroutine started
	wake     chan struct{} // interrupts the loop's wait after a state change
	done     chan struct{} // closed once the loop goroutine is gone
}

var _ Timer = (*ThreadTimer)(nil)

// NewThreadTimer returns an unconfigured ThreadTimer.
func NewThreadTimer(opts ...Option) *ThreadTimer {
	o := buildOptions(opts)
	return &ThreadTimer{
		core:  core{logger: o.logger.With("timer", "thread")},
		clock: o.clock,
		wake:  make(chan struct{}, 1),
		done:  make(chan struct{}),
	}
}

// NewThreadTimerWith returns a ThreadTimer already configured with
// action and delay.
func NewThreadTimerWith(action func(), delay time.Duration, opts ...Option) (*ThreadTimer, error) {
	t := NewThreadTimer(opts...)
	if err := t.SetDelay(delay); err != nil {
		return nil, err
	}
	if _, err := t.SetAction(action); err != nil {
		return nil, err
	}
	return t, nil
}

func (t *ThreadTimer) SetDelay(d time.Duration) error {
	if err := validDelay(d); err != nil {
		return err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.checkConfigurableLocked(); err != nil {
		return err
	}
	t.delay = d
	return nil
}

func (t *ThreadTimer) Start() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.checkStartableLocked(); err != nil {
		return err
	}

	t.state = Running
	t.gen++
	t.deadline = t.clock.Now().Add(t.delay)
	if t.launched {
		t.signal()
	} else {
		t.launched = true
		go t.loop()
	}
	t.logger.Debug("timer started", "delay", t.delay, "deadline", t.deadline)
	return nil
}

func (t *ThreadTimer) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state != Running {
		return
	}
	t.state = Stopped
	t.gen++
	t.signal()
	t.logger.Debug("timer stopped")
}

func (t *ThreadTimer) Cancel() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state == Canceled {
		return
	}
	t.state = Canceled
	if t.launched {
		t.signal()
	} else {
		close(t.done)
	}
	t.logger.Debug("timer canceled")
}

// Done is closed once the timer's goroutine has exited after Cancel,
// or at Cancel if it was never started.
func (t *ThreadTimer) Done() <-chan struct{} { return t.done }

// signal wakes the loop without blocking. Must be called with t.mu
// held.
func (t *ThreadTimer) signal() {
	select {
	case t.wake <- struct{}{}:
	default:
	}
}

func (t *ThreadTimer) loop() {
	defer close(t.done)

	for {
		// 1) canceled: leave; stopped: block until the state changes
		t.mu.Lock()
		switch t.state {
		case Canceled:
			t.mu.Unlock()
			return
		case Running:
		default:
			t.mu.Unlock()
			<-t.wake
			continue
		}
		deadline, gen := t.deadline, t.gen
		t.mu.Unlock()

		// 2) sleep until the deadline; any state change interrupts
		if !t.sleepUntil(deadline) {
			continue
		}

		// 3) re-check under the lock, then commit to this run. The
		//    next deadline follows from this one, not from now.
		t.mu.Lock()
		if t.state != Running || t.gen != gen {
			t.mu.Unlock()
			continue
		}
		t.deadline = deadline.Add(t.delay)
		action := t.action
		t.mu.Unlock()

		if err := invoke(action); err != nil {
			t.fail(err)
			return
		}
	}
}

// sleepUntil waits for deadline. It reports false if a wake-up
// arrived first.
func (t *ThreadTimer) sleepUntil(deadline time.Time) bool {
	if !deadline.After(t.clock.Now()) {
		return true
	}
	due := make(chan struct{}, 1)
	tm := t.clock.AfterFuncAt(deadline, func() { due <- struct{}{} })
	select {
	case <-due:
		return true
	case <-t.wake:
		tm.Stop()
		return false
	}
}
