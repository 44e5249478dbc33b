package dsp

import "math/rand/v2"

// randFloat returns a uniform random float64 in [0,1). Dither noise
// generation only needs a fast, allocation-free source; math/rand/v2's
// package-level generator is safe for concurrent use and never
// allocates on this path.
func randFloat() float64 {
	return rand.Float64()
}
