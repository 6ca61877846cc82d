package timer

import (
	"context"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"binclock/internal/clock"
	"binclock/internal/sched"
	"binclock/internal/testutil"
)

var epoch = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

const wait = 5 * time.Second

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type implementation struct {
	name string
	make func(t *testing.T, fake *clock.FakeClock) Timer
}

func implementations() []implementation {
	return []implementation{
		{
			name: "thread",
			make: func(t *testing.T, fake *clock.FakeClock) Timer {
				tm := NewThreadTimer(WithClock(fake), WithLogger(quietLogger()))
				t.Cleanup(tm.Cancel)
				return tm
			},
		},
		{
			name: "service",
			make: func(t *testing.T, fake *clock.FakeClock) Timer {
				s := sched.New(fake, quietLogger())
				ctx, cancel := context.WithCancel(context.Background())
				done := make(chan struct{})
				go func() {
					defer close(done)
					_ = s.Run(ctx)
				}()
				tm := NewServiceTimer(s, WithLogger(quietLogger()))
				t.Cleanup(func() {
					tm.Cancel()
					cancel()
					<-done
				})
				return tm
			},
		},
	}
}

// forEach runs body once per Timer implementation, each with a fresh
// fake clock.
func forEach(t *testing.T, body func(t *testing.T, fake *clock.FakeClock, tm Timer)) {
	for _, impl := range implementations() {
		impl := impl
		t.Run(impl.name, func(t *testing.T) {
			fake := clock.Fake(epoch)
			body(t, fake, impl.make(t, fake))
		})
	}
}

// recorder returns an action that reports the fake time of every run.
func recorder(fake *clock.FakeClock) (func(), chan time.Time) {
	runs := make(chan time.Time, 64)
	return func() { runs <- fake.Now() }, runs
}

func TestStartRequiresConfiguration(t *testing.T) {
	forEach(t, func(t *testing.T, fake *clock.FakeClock, tm Timer) {
		assert.ErrorIs(t, tm.Start(), ErrInvalidState, "no delay, no action")
		require.NoError(t, tm.SetDelay(time.Second))
		assert.ErrorIs(t, tm.Start(), ErrInvalidState, "no action")
		assert.Equal(t, Configured, tm.State())
		assert.False(t, tm.IsRunning())

		action, _ := recorder(fake)
		_, err := tm.SetAction(action)
		require.NoError(t, err)
		require.NoError(t, tm.Start())
		assert.True(t, tm.IsRunning())
		assert.Equal(t, Running, tm.State())
	})
}

func TestSetDelayRejectsNonPositive(t *testing.T) {
	forEach(t, func(t *testing.T, fake *clock.FakeClock, tm Timer) {
		assert.ErrorIs(t, tm.SetDelay(0), ErrInvalidArgument)
		assert.ErrorIs(t, tm.SetDelay(-time.Second), ErrInvalidArgument)
	})
}

func TestConfigurationLockedWhileRunning(t *testing.T) {
	forEach(t, func(t *testing.T, fake *clock.FakeClock, tm Timer) {
		first, _ := recorder(fake)
		require.NoError(t, tm.SetDelay(time.Second))
		prev, err := tm.SetAction(first)
		require.NoError(t, err)
		assert.Nil(t, prev)

		require.NoError(t, tm.Start())
		assert.ErrorIs(t, tm.Start(), ErrInvalidState, "double start")
		assert.ErrorIs(t, tm.SetDelay(2*time.Second), ErrInvalidState)
		_, err = tm.SetAction(func() {})
		assert.ErrorIs(t, err, ErrInvalidState)

		tm.Stop()
		assert.Equal(t, Stopped, tm.State())
		require.NoError(t, tm.SetDelay(2*time.Second))
		prev, err = tm.SetAction(func() {})
		require.NoError(t, err)
		assert.NotNil(t, prev, "previous action returned")
	})
}

func TestRunsEveryDelayFromStart(t *testing.T) {
	forEach(t, func(t *testing.T, fake *clock.FakeClock, tm Timer) {
		action, runs := recorder(fake)
		require.NoError(t, tm.SetDelay(time.Second))
		_, err := tm.SetAction(action)
		require.NoError(t, err)

		fake.Advance(250 * time.Millisecond)
		start := fake.Now()
		require.NoError(t, tm.Start())

		for i := 1; i <= 3; i++ {
			fake.WaitForTimers(1)
			fake.Advance(time.Second)
			got := testutil.RequireReceive(t, runs, wait, "run %d", i)
			assert.True(t, got.Equal(start.Add(time.Duration(i)*time.Second)), "run %d at %v", i, got)
		}
	})
}

func TestDeadlinesIgnoreActionLatency(t *testing.T) {
	forEach(t, func(t *testing.T, fake *clock.FakeClock, tm Timer) {
		entered := make(chan time.Time, 8)
		release := make(chan struct{})
		require.NoError(t, tm.SetDelay(time.Second))
		_, err := tm.SetAction(func() {
			entered <- fake.Now()
			<-release
		})
		require.NoError(t, err)
		require.NoError(t, tm.Start())

		// First run at +1s takes 300ms of fake time.
		fake.WaitForTimers(1)
		fake.Advance(time.Second)
		first := testutil.RequireReceive(t, entered, wait, "first run")
		fake.Advance(300 * time.Millisecond)
		release <- struct{}{}

		// The next deadline is +2s, 700ms away, not +2.3s.
		fake.WaitForTimers(1)
		fake.Advance(699 * time.Millisecond)
		testutil.RequireNoReceive(t, entered, 50*time.Millisecond, "ran early")
		fake.Advance(time.Millisecond)
		second := testutil.RequireReceive(t, entered, wait, "second run")
		close(release)

		assert.Equal(t, time.Second, second.Sub(first))
	})
}

func TestStopAndResume(t *testing.T) {
	forEach(t, func(t *testing.T, fake *clock.FakeClock, tm Timer) {
		action, runs := recorder(fake)
		require.NoError(t, tm.SetDelay(time.Second))
		_, err := tm.SetAction(action)
		require.NoError(t, err)
		require.NoError(t, tm.Start())

		fake.WaitForTimers(1)
		fake.Advance(time.Second)
		testutil.RequireReceive(t, runs, wait, "first run")

		tm.Stop()
		assert.False(t, tm.IsRunning())
		tm.Stop() // no-op

		fake.Advance(5 * time.Second)
		testutil.RequireNoReceive(t, runs, 50*time.Millisecond, "ran while stopped")

		resumed := fake.Now()
		require.NoError(t, tm.Start())
		fake.WaitForTimers(1)
		fake.Advance(time.Second)
		got := testutil.RequireReceive(t, runs, wait, "run after resume")
		assert.True(t, got.Equal(resumed.Add(time.Second)), "resumed run at %v", got)
	})
}

func TestCancelIsFinal(t *testing.T) {
	forEach(t, func(t *testing.T, fake *clock.FakeClock, tm Timer) {
		action, runs := recorder(fake)
		require.NoError(t, tm.SetDelay(time.Second))
		_, err := tm.SetAction(action)
		require.NoError(t, err)
		require.NoError(t, tm.Start())
		fake.WaitForTimers(1)

		tm.Cancel()
		tm.Cancel()
		assert.Equal(t, Canceled, tm.State())
		assert.False(t, tm.IsRunning())

		fake.Advance(10 * time.Second)
		testutil.RequireNoReceive(t, runs, 50*time.Millisecond, "ran after cancel")

		assert.ErrorIs(t, tm.Start(), ErrInvalidState)
		assert.ErrorIs(t, tm.SetDelay(time.Second), ErrInvalidState)
		_, err = tm.SetAction(action)
		assert.ErrorIs(t, err, ErrInvalidState)
		assert.NoError(t, tm.Err())
	})
}

func TestCancelFromInsideAction(t *testing.T) {
	forEach(t, func(t *testing.T, fake *clock.FakeClock, tm Timer) {
		var calls atomic.Int32
		returned := make(chan struct{}, 4)
		require.NoError(t, tm.SetDelay(time.Second))
		_, err := tm.SetAction(func() {
			calls.Add(1)
			tm.Cancel()
			returned <- struct{}{}
		})
		require.NoError(t, err)
		require.NoError(t, tm.Start())

		fake.WaitForTimers(1)
		fake.Advance(time.Second)
		testutil.RequireReceive(t, returned, wait, "in-flight run completes")

		fake.Advance(10 * time.Second)
		testutil.RequireNoReceive(t, returned, 50*time.Millisecond)
		assert.EqualValues(t, 1, calls.Load())
		assert.Equal(t, Canceled, tm.State())
	})
}

func TestPanickingActionCancelsTimer(t *testing.T) {
	forEach(t, func(t *testing.T, fake *clock.FakeClock, tm Timer) {
		require.NoError(t, tm.SetDelay(time.Second))
		_, err := tm.SetAction(func() { panic("boom") })
		require.NoError(t, err)
		require.NoError(t, tm.Start())

		fake.WaitForTimers(1)
		fake.Advance(time.Second)

		require.Eventually(t, func() bool { return tm.State() == Canceled }, wait, time.Millisecond)
		assert.False(t, tm.IsRunning())
		assert.ErrorIs(t, tm.Err(), ErrActionPanic)
	})
}

func TestActionNeverOverlapsItself(t *testing.T) {
	forEach(t, func(t *testing.T, fake *clock.FakeClock, tm Timer) {
		var active, overlaps atomic.Int32
		runs := make(chan struct{}, 64)
		require.NoError(t, tm.SetDelay(time.Millisecond))
		_, err := tm.SetAction(func() {
			if active.Add(1) > 1 {
				overlaps.Add(1)
			}
			active.Add(-1)
			runs <- struct{}{}
		})
		require.NoError(t, err)
		require.NoError(t, tm.Start())

		// A large jump makes every overdue deadline fire back to back.
		fake.WaitForTimers(1)
		fake.Advance(20 * time.Millisecond)
		for i := 0; i < 20; i++ {
			testutil.RequireReceive(t, runs, wait, "run %d", i)
		}
		assert.Zero(t, overlaps.Load())
	})
}

func TestWithConstructors(t *testing.T) {
	fake := clock.Fake(epoch)
	action, runs := recorder(fake)

	th, err := NewThreadTimerWith(action, time.Second, WithClock(fake), WithLogger(quietLogger()))
	require.NoError(t, err)
	defer th.Cancel()
	require.NoError(t, th.Start())
	fake.WaitForTimers(1)
	fake.Advance(time.Second)
	testutil.RequireReceive(t, runs, wait)

	_, err = NewThreadTimerWith(action, 0)
	assert.ErrorIs(t, err, ErrInvalidArgument)

	s := sched.New(fake, quietLogger())
	_, err = NewServiceTimerWith(s, action, -time.Second)
	assert.ErrorIs(t, err, ErrInvalidArgument)
	sv, err := NewServiceTimerWith(s, action, time.Second)
	require.NoError(t, err)
	assert.Equal(t, Configured, sv.State())
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "Configured", Configured.String())
	assert.Equal(t, "Running", Running.String())
	assert.Equal(t, "Stopped", Stopped.String())
	assert.Equal(t, "Canceled", Canceled.String())
	assert.Equal(t, "Unknown", State(42).String())
}
