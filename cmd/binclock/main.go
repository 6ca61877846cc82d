// binclock drives a binary counter from a periodic timer and renders
// it on the terminal, one transition per tick.
//
// Settings come from an optional YAML file (--config) and are
// overridden by any flag given explicitly on the command line.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"

	"github.com/spf13/pflag"
	"golang.org/x/term"

	"binclock/internal/clock"
	"binclock/internal/config"
	"binclock/internal/counter"
	"binclock/internal/notify"
	"binclock/internal/sched"
)

const version = "0.1.0"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdout, os.Stderr); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// options holds what the command line asked for beyond Config.
type options struct {
	configPath   string
	csvPath      string
	trace        bool
	now          bool
	reverseAfter int
	debug        bool
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	var (
		opts    options
		flagCfg = config.Default()
	)

	flagSet := pflag.NewFlagSet("binclock", pflag.ContinueOnError)
	flagSet.SetOutput(stderr)
	flagSet.StringVarP(&opts.configPath, "config", "c", "", "YAML configuration file")
	flagSet.IntVarP(&flagCfg.Bits, "bits", "b", flagCfg.Bits, "counter width in bits")
	flagSet.IntVarP(&flagCfg.DelayMS, "delay", "d", flagCfg.DelayMS, "milliseconds between ticks")
	flagSet.StringVarP(&flagCfg.Timer, "timer", "t", flagCfg.Timer, "timer implementation (thread, service)")
	flagSet.StringVar(&flagCfg.Direction, "direction", flagCfg.Direction, "counting direction (forward, backward)")
	flagSet.IntVarP(&flagCfg.Ticks, "ticks", "n", flagCfg.Ticks, "stop after this many ticks (0 runs until interrupted)")
	flagSet.Uint64Var(&flagCfg.Start, "start", flagCfg.Start, "initial counter value")
	flagSet.BoolVar(&opts.now, "now", false, "start from the current unix time in seconds, truncated to the width")
	flagSet.IntVar(&opts.reverseAfter, "reverse-after", 0, "reverse the direction once after this many ticks")
	flagSet.StringVar(&opts.csvPath, "csv", "", "write one CSV row per transition to this file")
	flagSet.BoolVar(&opts.trace, "trace", false, "print scheduler events to stderr")
	flagSet.BoolVar(&opts.debug, "debug", false, "enable debug logging (also BINCLOCK_DEBUG)")
	flagSet.BoolP("help", "h", false, "show help")
	flagSet.Bool("version", false, "print the version and exit")

	if err := flagSet.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			printUsage(stderr, flagSet)
			return nil
		}
		return err
	}
	if help, _ := flagSet.GetBool("help"); help {
		printUsage(stderr, flagSet)
		return nil
	}
	if v, _ := flagSet.GetBool("version"); v {
		fmt.Fprintf(stdout, "binclock %s\n", version)
		return nil
	}
	if rest := flagSet.Args(); len(rest) > 0 {
		return fmt.Errorf("unexpected argument: %s", rest[0])
	}

	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return err
	}
	cfg = mergeFlags(cfg, flagCfg, flagSet)
	if cfg.Bits <= 0 || cfg.DelayMS <= 0 || cfg.Ticks < 0 || opts.reverseAfter < 0 {
		return errors.New("--bits and --delay must be positive, --ticks and --reverse-after non-negative")
	}
	dir, err := cfg.CounterDirection()
	if err != nil {
		return err
	}

	logger := newLogger(stderr, opts.debug || os.Getenv("BINCLOCK_DEBUG") != "")
	clk := clock.Real()

	// The scheduler outlives the signal context so the counter can be
	// torn down before dispatch stops.
	schedCtx, stopSched := context.WithCancel(context.Background())
	defer stopSched()
	scheduler := sched.New(clk, logger)
	schedDone := make(chan struct{})
	go func() {
		defer close(schedDone)
		if err := scheduler.Run(schedCtx); err != nil {
			logger.Error("scheduler", "error", err)
		}
	}()
	if opts.trace {
		go traceEvents(schedCtx, scheduler, stderr)
	}

	tm, err := config.DefaultRegistry().Build(cfg.Timer, config.Deps{
		Clock:     clk,
		Scheduler: scheduler,
		Logger:    logger,
	})
	if err != nil {
		return err
	}
	c, err := counter.NewWithTimer(cfg.Bits, tm,
		counter.WithDelay(cfg.Delay()),
		counter.WithLogger(logger))
	if err != nil {
		return err
	}

	start := cfg.Start
	if opts.now {
		start = truncate(uint64(clk.Now().Unix()), cfg.Bits)
	}
	if err := c.SetUint64(start); err != nil {
		c.Destroy()
		return fmt.Errorf("start value %d: %w", start, err)
	}
	c.SetDirection(dir)

	r := newRenderer(stdout, isTerminal(stdout), c)
	c.Attach(r)

	if opts.csvPath != "" {
		f, err := os.Create(opts.csvPath)
		if err != nil {
			return err
		}
		defer f.Close()
		rec, err := newRecorder(f, clk, c)
		if err != nil {
			return err
		}
		c.Attach(rec)
		defer func() {
			if err := rec.Close(); err != nil {
				logger.Error("csv log", "path", opts.csvPath, "error", err)
			}
		}()
	}

	runCtx, finish := context.WithCancel(ctx)
	defer finish()
	c.Attach(limiter(c, cfg.Ticks, opts.reverseAfter, finish))

	logger.Debug("binclock starting",
		"bits", cfg.Bits,
		"delay", cfg.Delay(),
		"timer", cfg.Timer,
		"direction", dir,
		"start", start)

	r.Changed()
	if err := c.Start(); err != nil {
		c.Destroy()
		return err
	}

	<-runCtx.Done()

	c.Destroy()
	if d, ok := tm.(interface{ Done() <-chan struct{} }); ok {
		<-d.Done()
	}
	stopSched()
	<-schedDone
	r.Finish()
	return nil
}

// mergeFlags lets explicitly set flags win over the file.
func mergeFlags(cfg, flags config.Config, fs *pflag.FlagSet) config.Config {
	if fs.Changed("bits") {
		cfg.Bits = flags.Bits
	}
	if fs.Changed("delay") {
		cfg.DelayMS = flags.DelayMS
	}
	if fs.Changed("timer") {
		cfg.Timer = flags.Timer
	}
	if fs.Changed("direction") {
		cfg.Direction = flags.Direction
	}
	if fs.Changed("ticks") {
		cfg.Ticks = flags.Ticks
	}
	if fs.Changed("start") {
		cfg.Start = flags.Start
	}
	return cfg
}

// truncate keeps the low width bits of v.
func truncate(v uint64, width int) uint64 {
	if width >= 64 {
		return v
	}
	return v & (1<<uint(width) - 1)
}

// limiter counts ticks. It reverses the counter once after
// reverseAfter ticks, and after ticks ticks it stops the counter and
// calls done; zero disables either. The Nth tick is the last one.
func limiter(c *counter.Counter, ticks, reverseAfter int, done func()) notify.Observer {
	var seen atomic.Int64
	return notify.ObserverFunc(func() {
		n := seen.Add(1)
		if reverseAfter > 0 && n == int64(reverseAfter) {
			c.SetDirection(c.Direction().Reverse())
		}
		if ticks <= 0 || n < int64(ticks) {
			return
		}
		if n == int64(ticks) {
			_ = c.Stop()
		}
		done()
	})
}

func traceEvents(ctx context.Context, s *sched.Scheduler, w io.Writer) {
	for {
		select {
		case ev := <-s.Events():
			if ev.Kind == sched.StatusIdle {
				continue
			}
			fmt.Fprintln(w, sched.FormatEvent(ev))
		case <-ctx.Done():
			return
		}
	}
}

func newLogger(w io.Writer, debug bool) *slog.Logger {
	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

func printUsage(w io.Writer, flagSet *pflag.FlagSet) {
	fmt.Fprintf(w, `binclock: a binary counter that ticks on a timer.

Each tick steps the counter once (forward adds one, backward subtracts
one, both wrap at the width) and prints the new bits, most significant
first, followed by [ON] while the timer runs.

Usage:
  binclock [flags]

Examples:
  # Eight bits, one tick per second, until Ctrl-C
  binclock

  # Count down sixteen ticks on the shared scheduler
  binclock --timer service --direction backward --ticks 16 --delay 250

  # Start from the wall clock and keep a transition log
  binclock --bits 16 --now --csv ticks.csv

Flags:
`)
	flagSet.SetOutput(w)
	flagSet.PrintDefaults()
}
