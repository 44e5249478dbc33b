package dsp

import "math"

// EQBands is the fixed number of bands in the equalizer chain (spec.md §4.1).
const EQBands = 18

// eqCenterFrequenciesHz are the fixed center frequencies the 18-band
// Equalizer maps onto Biquad peaking filters, in ascending order.
var eqCenterFrequenciesHz = [EQBands]float64{
	25, 40, 63, 100, 160, 250, 400, 630, 1000,
	1600, 2500, 4000, 6300, 10000, 16000, 20000, 22000, 24000,
}

const eqDefaultQ = 1.41

// EQChain is one peaking Biquad per fixed center frequency, operated per
// channel (a separate EQChain per output channel).
type EQChain struct {
	filters    [EQBands]Biquad
	gains      [EQBands]float64 // linear multipliers, 1.0 = unity
	normalize  bool
	sampleRate float64
}

// NewEQChain builds a chain tuned for the given sample rate with all
// bands at unity gain.
func NewEQChain(sampleRate float64) *EQChain {
	eq := &EQChain{sampleRate: sampleRate}
	for i := range eq.gains {
		eq.gains[i] = 1.0
	}
	eq.retune()
	return eq
}

func (eq *EQChain) retune() {
	for i, fc := range eqCenterFrequenciesHz {
		gainDB := eq.bandGainDB(i)
		eq.filters[i].SetBiquad(Peak, fc, eq.sampleRate, eqDefaultQ, gainDB)
	}
}

// bandGainDB converts the linear gain for band i to dB, applying
// normalization against the max band gain when enabled (spec.md §4.1:
// "gains are expressed as linear multipliers, converted to
// dB = 10*(g-1); when EQ normalization is enabled, all gains are divided
// by the max band before conversion").
func (eq *EQChain) bandGainDB(i int) float64 {
	g := eq.gains[i]
	if eq.normalize {
		max := eq.maxGain()
		if max > 0 {
			g = g / max
		}
	}
	return 10 * (g - 1)
}

func (eq *EQChain) maxGain() float64 {
	max := eq.gains[0]
	for _, g := range eq.gains[1:] {
		if g > max {
			max = g
		}
	}
	return max
}

// SetSampleRate updates the effective sample rate (e.g. after an
// oversampling factor change) and re-tunes every band, flushing state.
func (eq *EQChain) SetSampleRate(sampleRate float64) {
	eq.sampleRate = sampleRate
	eq.retune()
	eq.Flush()
}

// SetGains installs new band gains (linear multipliers) and an
// optional normalization flag, retuning every Biquad and flushing state
// exactly once (spec.md §8 invariant 5: reconfiguration idempotence).
func (eq *EQChain) SetGains(gains [EQBands]float64, normalize bool) {
	eq.gains = gains
	eq.normalize = normalize
	eq.retune()
	eq.Flush()
}

// Flush zeroes every band's delay state.
func (eq *EQChain) Flush() {
	for i := range eq.filters {
		eq.filters[i].Flush()
	}
}

// Process runs samples through every active band in fixed frequency
// order, skipping bands whose gain is exactly 1.0 (spec.md §4.2 step 8),
// soft-clipping each sample after the full chain.
func (eq *EQChain) Process(samples []float64) {
	for i := range eq.filters {
		if eq.gains[i] == 1.0 {
			continue
		}
		eq.filters[i].ProcessBlock(samples)
	}
	for i, s := range samples {
		samples[i] = SoftClip(s)
	}
}

// ensure EQBands stays a compile-time constant matching the frequency table.
var _ = func() bool {
	if len(eqCenterFrequenciesHz) != EQBands {
		panic("eqCenterFrequenciesHz length mismatch")
	}
	return true
}()

// dbToLinear converts a dB value to a linear amplitude factor,
// 10^(dB/20). It is not the inverse of bandGainDB's dB = 10*(g-1)
// mapping, and nothing in the package calls it.
func dbToLinear(db float64) float64 {
	return math.Pow(10, db/20)
}
