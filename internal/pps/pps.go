// Package pps captures the GPS timing pulse. The edge handler only records
// a flag and a monotonic microsecond timestamp; the engine loop observes and
// clears the flag on its own schedule.
package pps

import (
	"context"
	"sync/atomic"
	"time"
)

// Capture is the deferred-work cell shared by the edge handler and the
// consumer. The zero value is ready to use.
type Capture struct {
	pending atomic.Bool
	micros  atomic.Uint64
	edges   atomic.Uint64
	taken   atomic.Uint64
}

// Signal records one edge. It never blocks.
func (c *Capture) Signal(micros uint64) {
	c.micros.Store(micros)
	c.edges.Add(1)
	c.pending.Store(true)
}

// Take reports whether an edge arrived since the last Take and clears the
// flag. Edges arriving between two Takes collapse into one.
func (c *Capture) Take() (micros uint64, ok bool) {
	if !c.pending.Swap(false) {
		return 0, false
	}
	c.taken.Add(1)
	return c.micros.Load(), true
}

// Stats returns the number of edges seen and the number observed by Take.
func (c *Capture) Stats() (edges, taken uint64) {
	return c.edges.Load(), c.taken.Load()
}

// Config selects the pulse input line.
type Config struct {
	Enable bool   `yaml:"enable"`
	Chip   string `yaml:"chip"` // e.g. "gpiochip0"; empty scans /dev
	Line   string `yaml:"line"` // line name, e.g. "GPIO18"

	// Synthetic emits one pulse per Period from a ticker when no pulse
	// line is wired.
	Synthetic bool          `yaml:"synthetic"`
	Period    time.Duration `yaml:"period"`
}

// RunSynthetic signals c once per period until ctx ends.
func RunSynthetic(ctx context.Context, c *Capture, period time.Duration, micros func() uint64) {
	if period <= 0 {
		period = time.Second
	}
	t := time.NewTicker(period)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			c.Signal(micros())
		}
	}
}
