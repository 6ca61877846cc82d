package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"binclock/internal/clock"
	"binclock/internal/counter"
	"binclock/internal/sched"
	"binclock/internal/timer"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "binclock.yml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)

	cfg, err = Load(filepath.Join(t.TempDir(), "missing.yml"))
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoadOverrides(t *testing.T) {
	path := writeConfig(t, `
bits: 12
delay_ms: 250
timer: service
direction: backward
ticks: 40
start: 7
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, Config{
		Bits:      12,
		DelayMS:   250,
		Timer:     "service",
		Direction: "backward",
		Ticks:     40,
		Start:     7,
	}, cfg)
	assert.Equal(t, 250*time.Millisecond, cfg.Delay())

	dir, err := cfg.CounterDirection()
	require.NoError(t, err)
	assert.Equal(t, counter.Backward, dir)
}

func TestLoadClampsNonPositive(t *testing.T) {
	path := writeConfig(t, "bits: 0\ndelay_ms: -5\nticks: -1\ntimer: \"\"\n")
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 8, cfg.Bits)
	assert.Equal(t, 1000, cfg.DelayMS)
	assert.Equal(t, 0, cfg.Ticks)
	assert.Equal(t, "thread", cfg.Timer)
}

func TestLoadMalformed(t *testing.T) {
	path := writeConfig(t, "bits: [1, 2\n")
	_, err := Load(path)
	assert.Error(t, err)
}

func TestBadDirection(t *testing.T) {
	cfg := Default()
	cfg.Direction = "up"
	_, err := cfg.CounterDirection()
	assert.ErrorIs(t, err, counter.ErrInvalidArgument)
}

func TestDefaultRegistryBuildsBothTimers(t *testing.T) {
	r := DefaultRegistry()
	assert.Equal(t, []string{"service", "thread"}, r.Names())

	fake := clock.Fake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	deps := Deps{Clock: fake, Scheduler: sched.New(fake, nil)}

	tm, err := r.Build("thread", deps)
	require.NoError(t, err)
	assert.IsType(t, &timer.ThreadTimer{}, tm)

	tm, err = r.Build(" Service ", deps)
	require.NoError(t, err)
	assert.IsType(t, &timer.ServiceTimer{}, tm)
	assert.Equal(t, timer.Configured, tm.State())
}

func TestRegistryErrors(t *testing.T) {
	r := DefaultRegistry()

	_, err := r.Build("sundial", Deps{})
	assert.ErrorIs(t, err, ErrUnknownTimer)
	assert.Contains(t, err.Error(), "service, thread")

	_, err = r.Build("service", Deps{})
	assert.Error(t, err, "service timer without a scheduler")

	assert.Error(t, r.Register("thread", func(Deps) (timer.Timer, error) { return nil, nil }))
	assert.Error(t, r.Register("", func(Deps) (timer.Timer, error) { return nil, nil }))
	assert.Error(t, r.Register("nil", nil))
}

func TestRegisterCustomTimer(t *testing.T) {
	r := NewRegistry()
	built := false
	require.NoError(t, r.Register("Custom", func(d Deps) (timer.Timer, error) {
		built = true
		return timer.NewThreadTimer(), nil
	}))

	tm, err := r.Build("custom", Deps{})
	require.NoError(t, err)
	assert.True(t, built)
	tm.Cancel()
}
