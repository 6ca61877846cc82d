// Package timer provides periodic callback sources with an explicit
// lifecycle: configure, start, stop and start again, and finally
// cancel.
//
// Two implementations share the Timer contract. ThreadTimer owns one
// goroutine that sleeps until each deadline. ServiceTimer hands the
// period to a shared sched.Scheduler. In both, deadlines advance by
// exactly one delay from the previous deadline, so a slow action does
// not push later ticks back, and the action never runs concurrently
// with itself.
package timer

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"binclock/internal/clock"
)

var (
	ErrInvalidState    = errors.New("timer: invalid state")
	ErrInvalidArgument = errors.New("timer: invalid argument")
	ErrActionPanic     = errors.New("timer: action panicked")
)

// Timer is a periodic callback source.
type Timer interface {
	// SetDelay sets the period. d must be positive. Fails while the
	// timer is running or after Cancel.
	SetDelay(d time.Duration) error

	// SetAction sets the work run every period and returns the
	// previous one, which may be nil. Fails while the timer is
	// running or after Cancel.
	SetAction(action func()) (func(), error)

	// Start schedules the first run one delay from now. Fails if no
	// delay or action is configured, if the timer is already running,
	// or after Cancel.
	Start() error

	// Stop halts future runs but keeps the timer resumable with Start.
	Stop()

	// Cancel releases the timer's execution resource for good. No run
	// starts after Cancel returns; a run already under way may
	// finish. Safe to call repeatedly.
	Cancel()

	IsRunning() bool
	State() State

	// Err reports why the timer canceled itself, or nil.
	Err() error
}

// State is the lifecycle state of a Timer.
type State int

const (
	Configured State = iota
	Running
	Stopped
	Canceled
)

func (s State) String() string {
	switch s {
	case Configured:
		return "Configured"
	case Running:
		return "Running"
	case Stopped:
		return "Stopped"
	case Canceled:
		return "Canceled"
	default:
		return "Unknown"
	}
}

// Option configures a timer at construction.
type Option func(*options)

type options struct {
	clock  clock.Clock
	logger *slog.Logger
}

// WithClock sets the time source of a ThreadTimer. ServiceTimer uses
// its scheduler's clock and ignores it.
func WithClock(c clock.Clock) Option {
	return func(o *options) { o.clock = c }
}

// WithLogger sets the logger for lifecycle and failure messages.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

func buildOptions(opts []Option) options {
	o := options{clock: clock.Real(), logger: slog.Default()}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// core is the configuration and state shared by both implementations.
// Its mutex guards every field, and is never held while the action
// runs.
type core struct {
	mu     sync.Mutex
	state  State
	delay  time.Duration
	action func()
	err    error
	logger *slog.Logger
}

func validDelay(d time.Duration) error {
	if d <= 0 {
		return fmt.Errorf("%w: delay %v is not positive", ErrInvalidArgument, d)
	}
	return nil
}

func (c *core) checkConfigurableLocked() error {
	switch c.state {
	case Running:
		return fmt.Errorf("%w: timer is running", ErrInvalidState)
	case Canceled:
		return fmt.Errorf("%w: timer was canceled", ErrInvalidState)
	}
	return nil
}

func (c *core) checkStartableLocked() error {
	switch {
	case c.state == Canceled:
		return fmt.Errorf("%w: timer was canceled", ErrInvalidState)
	case c.state == Running:
		return fmt.Errorf("%w: start called twice without stop", ErrInvalidState)
	case c.delay <= 0:
		return fmt.Errorf("%w: delay not set", ErrInvalidState)
	case c.action == nil:
		return fmt.Errorf("%w: no action configured", ErrInvalidState)
	}
	return nil
}

func (c *core) SetAction(action func()) (func(), error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.checkConfigurableLocked(); err != nil {
		return nil, err
	}
	prev := c.action
	c.action = action
	return prev, nil
}

func (c *core) IsRunning() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state == Running
}

func (c *core) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *core) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// fail moves the timer to Canceled after its action panicked. It
// reports false if the timer was already canceled.
func (c *core) fail(err error) bool {
	c.mu.Lock()
	if c.state == Canceled {
		c.mu.Unlock()
		return false
	}
	c.state = Canceled
	c.err = err
	c.mu.Unlock()

	c.logger.Error("timer action failed, timer canceled", "err", err)
	return true
}

// invoke runs action and turns a panic into an error.
func invoke(action func()) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrActionPanic, r)
		}
	}()
	action()
	return nil
}
