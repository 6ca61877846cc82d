package main

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"
	"time"

	"binclock/internal/clock"
	"binclock/internal/counter"
)

// renderer prints the counter on every change. On a terminal it
// rewrites the current line; otherwise it prints one line per change.
type renderer struct {
	mu      sync.Mutex
	w       io.Writer
	inPlace bool
	source  fmt.Stringer
	drawn   bool
}

func newRenderer(w io.Writer, inPlace bool, source fmt.Stringer) *renderer {
	return &renderer{w: w, inPlace: inPlace, source: source}
}

func (r *renderer) Changed() {
	r.mu.Lock()
	defer r.mu.Unlock()

	// render under the lock so the last line written is the latest state
	line := r.source.String()
	if r.inPlace {
		fmt.Fprintf(r.w, "\r%s", line)
	} else {
		fmt.Fprintln(r.w, line)
	}
	r.drawn = true
}

// Finish ends an in-place line.
func (r *renderer) Finish() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.inPlace && r.drawn {
		fmt.Fprintln(r.w)
	}
}

// recorder appends one CSV row per change.
type recorder struct {
	mu    sync.Mutex
	clock clock.Clock
	w     *csv.Writer
	c     *counter.Counter
	seq   int64
	err   error
}

var csvHeader = []string{"timestamp", "seq", "bits", "value", "ticking"}

func newRecorder(w io.Writer, clk clock.Clock, c *counter.Counter) (*recorder, error) {
	cw := csv.NewWriter(w)

	// write header
	if err := cw.Write(csvHeader); err != nil {
		return nil, err
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return nil, err
	}
	return &recorder{clock: clk, w: cw, c: c}, nil
}

func (r *recorder) Changed() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return
	}

	bits := formatBits(r.c.Value())
	value := ""
	if v, err := r.c.Uint64(); err == nil {
		value = strconv.FormatUint(v, 10)
	}
	ticking := strconv.FormatBool(r.c.IsTicking())

	r.seq++
	rec := []string{
		r.clock.Now().Format(time.RFC3339Nano),
		strconv.FormatInt(r.seq, 10),
		bits,
		value,
		ticking,
	}
	if err := r.w.Write(rec); err != nil {
		r.err = err
		return
	}
	r.w.Flush()
	r.err = r.w.Error()
}

// Close flushes and reports the first write error.
func (r *recorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.w.Flush()
	if r.err != nil {
		return r.err
	}
	return r.w.Error()
}

// formatBits renders values most significant first.
func formatBits(values []bool) string {
	var sb strings.Builder
	sb.Grow(len(values))
	for i := len(values) - 1; i >= 0; i-- {
		if values[i] {
			sb.WriteByte('1')
		} else {
			sb.WriteByte('0')
		}
	}
	return sb.String()
}
