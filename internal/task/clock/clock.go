// Package clock provides the tick counter that drives the scheduler.
//
// A tick is the only unit of time the scheduler understands. The host loop
// advances a Counter once per simulation step; everything else only reads it.
package clock

import (
	"math"
	"sync/atomic"
	"time"
)

// Tick is a non-negative, non-decreasing step counter.
type Tick = int64

// DefaultTicksPerSecond is the nominal server step rate.
const DefaultTicksPerSecond = 20

// Source exposes the current tick. Implementations must be monotonic non-decreasing.
type Source interface {
	CurrentTick() Tick
}

// Func adapts a plain function to Source.
type Func func() Tick

func (f Func) CurrentTick() Tick { return f() }

// Counter is a Source advanced by the host loop. Reads are safe from any goroutine.
type Counter struct {
	n atomic.Int64
}

// NewCounter returns a counter starting at start (negative values are clamped to 0).
func NewCounter(start Tick) *Counter {
	c := &Counter{}
	if start > 0 {
		c.n.Store(start)
	}
	return c
}

func (c *Counter) CurrentTick() Tick { return c.n.Load() }

// Advance moves the counter forward by one and returns the new value.
func (c *Counter) Advance() Tick { return c.n.Add(1) }

// Set moves the counter to t. Values lower than the current tick are ignored,
// so the counter never goes backwards. It reports whether the counter moved.
func (c *Counter) Set(t Tick) bool {
	for {
		cur := c.n.Load()
		if t <= cur {
			return false
		}
		if c.n.CompareAndSwap(cur, t) {
			return true
		}
	}
}

// TicksFor converts a wall duration to ticks at tps, rounding half away from zero.
// A non-positive tps falls back to DefaultTicksPerSecond.
func TicksFor(d time.Duration, tps int) int64 {
	if tps <= 0 {
		tps = DefaultTicksPerSecond
	}
	return int64(math.Round(d.Seconds() * float64(tps)))
}

// DurationOf is the nominal wall duration of n ticks at tps.
func DurationOf(n int64, tps int) time.Duration {
	if tps <= 0 {
		tps = DefaultTicksPerSecond
	}
	return time.Duration(n) * time.Second / time.Duration(tps)
}

// Interval is the nominal wall duration of a single tick at tps.
func Interval(tps int) time.Duration { return DurationOf(1, tps) }
