package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	yaml "github.com/goccy/go-yaml"

	"binclock/internal/counter"
)

// Config mirrors binclock.yml
type Config struct {
	Bits      int    `yaml:"bits"`      // 8 (by default)
	DelayMS   int    `yaml:"delay_ms"`  // 1000 (by default)
	Timer     string `yaml:"timer"`     // "thread" (by default), see Registry
	Direction string `yaml:"direction"` // "forward" (by default)
	Ticks     int    `yaml:"ticks"`     // 0 (by default) runs until interrupted
	Start     uint64 `yaml:"start"`     // initial counter value
}

// If the config file is not found, we use default values
func Default() Config {
	return Config{
		Bits:      8,
		DelayMS:   1000,
		Timer:     "thread",
		Direction: "forward",
	}
}

// Load reads YAML and overrides defaults; empty path = defaults only.
// A missing file also yields defaults, a malformed one is an error.
func Load(path string) (Config, error) {
	cfg := Default()

	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return cfg, nil
	}
	if err != nil {
		return cfg, fmt.Errorf("config: %w", err)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Default(), fmt.Errorf("config: %s: %w", path, err)
	}

	cfg.clamp()
	return cfg, nil
}

// sanity clamps
func (c *Config) clamp() {
	def := Default()
	if c.Bits <= 0 {
		c.Bits = def.Bits
	}
	if c.DelayMS <= 0 {
		c.DelayMS = def.DelayMS
	}
	if c.Ticks < 0 {
		c.Ticks = 0
	}
	if c.Timer == "" {
		c.Timer = def.Timer
	}
	if c.Direction == "" {
		c.Direction = def.Direction
	}
}

// Delay returns the tick period.
func (c Config) Delay() time.Duration {
	return time.Duration(c.DelayMS) * time.Millisecond
}

// CounterDirection parses the direction field.
func (c Config) CounterDirection() (counter.Direction, error) {
	return counter.ParseDirection(c.Direction)
}
