package config

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"binclock/internal/clock"
	"binclock/internal/sched"
	"binclock/internal/timer"
)

var ErrUnknownTimer = errors.New("config: unknown timer")

// Deps carries what a timer factory may need. Factories ignore the
// fields they do not use.
type Deps struct {
	Clock     clock.Clock
	Scheduler *sched.Scheduler
	Logger    *slog.Logger
}

// Factory builds an unconfigured timer.
type Factory func(Deps) (timer.Timer, error)

// Registry maps the timer names used in configuration to factories.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

// DefaultRegistry knows "thread" (timer.ThreadTimer) and "service"
// (timer.ServiceTimer).
func DefaultRegistry() *Registry {
	r := NewRegistry()
	_ = r.Register("thread", func(d Deps) (timer.Timer, error) {
		return timer.NewThreadTimer(timerOptions(d)...), nil
	})
	_ = r.Register("service", func(d Deps) (timer.Timer, error) {
		if d.Scheduler == nil {
			return nil, errors.New("config: service timer needs a scheduler")
		}
		return timer.NewServiceTimer(d.Scheduler, timerOptions(d)...), nil
	})
	return r
}

func timerOptions(d Deps) []timer.Option {
	var opts []timer.Option
	if d.Clock != nil {
		opts = append(opts, timer.WithClock(d.Clock))
	}
	if d.Logger != nil {
		opts = append(opts, timer.WithLogger(d.Logger))
	}
	return opts
}

// Register adds a factory. Names are case-insensitive and may be
// registered once.
func (r *Registry) Register(name string, f Factory) error {
	key := strings.ToLower(strings.TrimSpace(name))
	if key == "" || f == nil {
		return errors.New("config: timer registration needs a name and a factory")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, dup := r.factories[key]; dup {
		return fmt.Errorf("config: timer %q already registered", key)
	}
	r.factories[key] = f
	return nil
}

// Build constructs the timer registered under name.
func (r *Registry) Build(name string, deps Deps) (timer.Timer, error) {
	key := strings.ToLower(strings.TrimSpace(name))
	r.mu.RLock()
	f, ok := r.factories[key]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q (known: %s)", ErrUnknownTimer, name, strings.Join(r.Names(), ", "))
	}
	return f(deps)
}

// Names returns the registered names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
