// Package counter implements a fixed-width binary counter that moves
// one unit per step, forward or backward, either when called or on
// every tick of a bound timer.
//
// Bit 0 is the least significant bit. All reads and writes of the bits
// and the direction happen under one lock per counter; observers are
// notified after that lock is released, so an observer may call back
// into the counter.
//
// Only Step and Destroy notify observers. Single-bit writes, SetValue,
// SetUint64, Clear and SetDirection are silent.
package counter

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"binclock/internal/notify"
	"binclock/internal/timer"
)

var (
	ErrInvalidConstruction = errors.New("counter: invalid construction")
	ErrOutOfRange          = errors.New("counter: out of range")
	ErrInvalidState        = errors.New("counter: invalid state")
	ErrInvalidArgument     = errors.New("counter: invalid argument")
)

// DefaultDelay is the tick period of an active counter.
const DefaultDelay = time.Second

// Option configures a Counter at construction.
type Option func(*options)

type options struct {
	delay  time.Duration
	logger *slog.Logger
}

// WithDelay sets the tick period applied to the bound timer.
func WithDelay(d time.Duration) Option {
	return func(o *options) { o.delay = d }
}

// WithLogger sets the logger for lifecycle messages.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// Counter is a fixed-width binary counter.
type Counter struct {
	width     int
	observers *notify.Hub
	logger    *slog.Logger

	mu      sync.Mutex // guards everything below
	bits    bitset
	dir     Direction
	timer   timer.Timer // nil for a passive counter
	started bool        // Start succeeded once
}

// New returns a passive counter of width bits, all clear. It only
// changes through explicit calls.
func New(width int, opts ...Option) (*Counter, error) {
	if width < 1 {
		return nil, fmt.Errorf("%w: width %d is less than 1", ErrInvalidConstruction, width)
	}
	o := buildOptions(opts)
	return &Counter{
		width:     width,
		observers: notify.NewHub(),
		logger:    o.logger,
		bits:      newBitset(width),
	}, nil
}

// NewWithTimer returns an active counter bound to t for its whole
// life. t gets the counter's delay and, as its action, Step. t must
// not be running.
func NewWithTimer(width int, t timer.Timer, opts ...Option) (*Counter, error) {
	if t == nil {
		return nil, fmt.Errorf("%w: nil timer", ErrInvalidConstruction)
	}
	c, err := New(width, opts...)
	if err != nil {
		return nil, err
	}
	if t.IsRunning() {
		return nil, fmt.Errorf("%w: timer is already running", ErrInvalidConstruction)
	}

	o := buildOptions(opts)
	if err := t.SetDelay(o.delay); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidConstruction, err)
	}
	if _, err := t.SetAction(c.Step); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidConstruction, err)
	}
	c.timer = t
	return c, nil
}

func buildOptions(opts []Option) options {
	o := options{delay: DefaultDelay, logger: slog.Default()}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// Size returns the width in bits.
func (c *Counter) Size() int { return c.width }

func (c *Counter) checkIndex(n int) error {
	if n < 0 || n >= c.width {
		return fmt.Errorf("%w: no such bit (%d), width is %d", ErrOutOfRange, n, c.width)
	}
	return nil
}

// Bit returns bit n.
func (c *Counter) Bit(n int) (bool, error) {
	if err := c.checkIndex(n); err != nil {
		return false, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.bits.get(n), nil
}

// SetBit sets bit n and returns its previous value.
func (c *Counter) SetBit(n int) (bool, error) {
	if err := c.checkIndex(n); err != nil {
		return false, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	prev := c.bits.get(n)
	c.bits.set(n)
	return prev, nil
}

// ClearBit clears bit n and returns its previous value.
func (c *Counter) ClearBit(n int) (bool, error) {
	if err := c.checkIndex(n); err != nil {
		return false, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	prev := c.bits.get(n)
	c.bits.clear(n)
	return prev, nil
}

// NextBit flips bit n and returns its previous value, which is the
// carry out of that position when counting forward.
func (c *Counter) NextBit(n int) (bool, error) {
	if err := c.checkIndex(n); err != nil {
		return false, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.bits.flip(n), nil
}

// Step moves the counter one unit in its current direction and then
// notifies observers once. Bit 0 always flips, so every step changes
// the value.
func (c *Counter) Step() {
	c.mu.Lock()
	c.stepLocked()
	c.mu.Unlock()

	c.observers.Notify()
}

// stepLocked ripples from bit 0 upward. Forward keeps going while the
// flipped bit was set (carry); backward while it was clear (borrow).
func (c *Counter) stepLocked() {
	ripple := c.dir == Forward
	prev := c.bits.flip(0)
	for i := 1; i < c.width && prev == ripple; i++ {
		prev = c.bits.flip(i)
	}
}

// SetValue replaces every bit; values[0] is bit 0. The length must
// equal Size.
func (c *Counter) SetValue(values []bool) error {
	if len(values) != c.width {
		return fmt.Errorf("%w: %d values for a %d-bit counter", ErrInvalidArgument, len(values), c.width)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	for i, v := range values {
		if v {
			c.bits.set(i)
		} else {
			c.bits.clear(i)
		}
	}
	return nil
}

// Value returns a copy of the bits; element 0 is bit 0.
func (c *Counter) Value() []bool {
	values := make([]bool, c.width)
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := range values {
		values[i] = c.bits.get(i)
	}
	return values
}

// SetUint64 loads v. Bits at position 64 and above become zero. Fails
// with ErrOutOfRange if v does not fit in the width.
func (c *Counter) SetUint64(v uint64) error {
	if c.width < 64 && v>>uint(c.width) != 0 {
		return fmt.Errorf("%w: value %d is beyond %d-bit capacity", ErrOutOfRange, v, c.width)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.bits.reset()
	c.bits[0] = v
	return nil
}

// Uint64 returns the value as an unsigned integer. Fails with
// ErrInvalidState if a bit at position 64 or above is set.
func (c *Counter) Uint64() (uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.bits.high() {
		return 0, fmt.Errorf("%w: bits are set beyond bit 63", ErrInvalidState)
	}
	return c.bits[0], nil
}

// Clear sets every bit to zero.
func (c *Counter) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.bits.reset()
}

// SetDirection changes the direction of later steps.
func (c *Counter) SetDirection(d Direction) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.dir = d
}

// Direction returns the current direction.
func (c *Counter) Direction() Direction {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.dir
}

// boundTimer returns the timer, or nil once passive. Timer methods are
// always called without c.mu held.
func (c *Counter) boundTimer() timer.Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.timer
}

// Start starts ticking. It works once per counter: after a Stop the
// counter cannot be started again.
func (c *Counter) Start() error {
	t := c.boundTimer()
	if t == nil {
		return fmt.Errorf("%w: counter is passive", ErrInvalidState)
	}
	if t.IsRunning() {
		return fmt.Errorf("%w: counter is already running", ErrInvalidState)
	}

	c.mu.Lock()
	if c.started {
		c.mu.Unlock()
		return fmt.Errorf("%w: counter was already started", ErrInvalidState)
	}
	c.started = true
	c.mu.Unlock()

	if err := t.Start(); err != nil {
		// never ticked, so it does not count as started
		c.mu.Lock()
		c.started = false
		c.mu.Unlock()
		return fmt.Errorf("%w: %w", ErrInvalidState, err)
	}
	c.logger.Debug("counter started", "width", c.width)
	return nil
}

// Stop halts ticking. The bound timer is kept.
func (c *Counter) Stop() error {
	t := c.boundTimer()
	if t == nil {
		return fmt.Errorf("%w: counter is passive", ErrInvalidState)
	}
	if !t.IsRunning() {
		return fmt.Errorf("%w: counter is not running", ErrInvalidState)
	}
	t.Stop()
	c.logger.Debug("counter stopped", "width", c.width)
	return nil
}

// Destroy cancels the bound timer for good and notifies observers
// once. The counter stays usable as a passive counter. Destroying a
// passive counter does nothing.
func (c *Counter) Destroy() {
	c.mu.Lock()
	t := c.timer
	c.timer = nil
	c.mu.Unlock()

	if t == nil {
		return
	}
	t.Cancel()
	c.logger.Debug("counter destroyed", "width", c.width)
	c.observers.Notify()
}

// IsTicking reports whether a bound timer exists and is running.
func (c *Counter) IsTicking() bool {
	t := c.boundTimer()
	return t != nil && t.IsRunning()
}

// Attach registers an observer for change notifications.
func (c *Counter) Attach(o notify.Observer) notify.Subscription {
	return c.observers.Attach(o)
}

// Detach removes a registration made by Attach.
func (c *Counter) Detach(s notify.Subscription) bool {
	return c.observers.Detach(s)
}

// String renders the bits most significant first, then " [ON]" or
// " [OFF]".
func (c *Counter) String() string {
	var sb strings.Builder
	sb.Grow(c.width + 6)

	c.mu.Lock()
	for i := c.width - 1; i >= 0; i-- {
		if c.bits.get(i) {
			sb.WriteByte('1')
		} else {
			sb.WriteByte('0')
		}
	}
	c.mu.Unlock()

	if c.IsTicking() {
		sb.WriteString(" [ON]")
	} else {
		sb.WriteString(" [OFF]")
	}
	return sb.String()
}
