// Package stats provides the shared atomic counter type used across the
// engine's components so AudioManager can assemble stats snapshots
// uniformly instead of each component inventing its own counter shape.
package stats

import "sync/atomic"

// Counter is a monotonically-incrementing uint64 counter safe for
// concurrent use. The steady-state processing path only ever calls Add or
// Inc on it; Snapshot is for the (infrequent) stats-assembly path.
type Counter struct {
	v atomic.Uint64
}

// Inc increments the counter by one.
func (c *Counter) Inc() { c.v.Add(1) }

// Add adds delta to the counter.
func (c *Counter) Add(delta uint64) { c.v.Add(delta) }

// Snapshot reads the current value.
func (c *Counter) Snapshot() uint64 { return c.v.Load() }

// Gauge is a value that can go up or down (e.g. queue depth, active lane
// count), still updated only via atomics on the hot path.
type Gauge struct {
	v atomic.Int64
}

// Set stores a new value.
func (g *Gauge) Set(val int64) { g.v.Store(val) }

// Add adds delta (possibly negative) to the gauge.
func (g *Gauge) Add(delta int64) { g.v.Add(delta) }

// Snapshot reads the current value.
func (g *Gauge) Snapshot() int64 { return g.v.Load() }
