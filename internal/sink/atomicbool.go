package sink

import (
	"math"
	"sync/atomic"
)

// atomicBool is a tiny wrapper so InputLane.ready reads/writes don't
// need a mutex on the hot mixing path.
type atomicBool struct {
	v atomic.Bool
}

func (b *atomicBool) Store(val bool) { b.v.Store(val) }
func (b *atomicBool) Load() bool     { return b.v.Load() }

// atomicFloat64 gives InputLane.driftRatio the same lock-free
// read/write property, for the per-cycle drift rate the mixer sets
// and the hot pop path reads.
type atomicFloat64 struct {
	v atomic.Uint64
}

func (f *atomicFloat64) Store(val float64) { f.v.Store(math.Float64bits(val)) }
func (f *atomicFloat64) Load() float64     { return math.Float64frombits(f.v.Load()) }
