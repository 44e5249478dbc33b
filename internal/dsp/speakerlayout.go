package dsp

import "math"

// MaxChannels is the maximum channel count a mix matrix supports
// (spec.md §3: "8x8 mix matrix").
const MaxChannels = 8

// SpeakerLayout is one entry in the per-input-channel-count layout map
// (spec.md §3).
type SpeakerLayout struct {
	AutoMode bool
	Matrix   [MaxChannels][MaxChannels]float64 // Matrix[out][in] = gain
}

// mixTap is one non-zero entry in the sparse tap list derived from a
// SpeakerLayout, used by the hot mix path to avoid iterating zero gains.
type mixTap struct {
	srcChannel int
	dstChannel int
	gain       float64
}

// buildTaps derives the sparse non-zero tap list for a layout restricted
// to the given input/output channel counts.
func buildTaps(layout SpeakerLayout, inChannels, outChannels int) []mixTap {
	taps := make([]mixTap, 0, inChannels*outChannels)
	for o := 0; o < outChannels && o < MaxChannels; o++ {
		for i := 0; i < inChannels && i < MaxChannels; i++ {
			g := layout.Matrix[o][i]
			if g != 0 {
				taps = append(taps, mixTap{srcChannel: i, dstChannel: o, gain: g})
			}
		}
	}
	return taps
}

// validLayout reports whether a custom (non-auto) layout has sane
// dimensions for the given channel counts: both counts must be in
// [1, MaxChannels] and at least one gain inside the inChannels x
// outChannels block must be non-zero. Individual output rows may be
// all-zero. An all-zero block is invalid — callers fall back to auto
// layout per spec.md §7's ConfigError policy for invalid matrix dims.
func validLayout(layout SpeakerLayout, inChannels, outChannels int) bool {
	if inChannels <= 0 || inChannels > MaxChannels || outChannels <= 0 || outChannels > MaxChannels {
		return false
	}
	any := false
	for o := 0; o < outChannels; o++ {
		for i := 0; i < inChannels; i++ {
			if layout.Matrix[o][i] != 0 {
				any = true
			}
		}
	}
	return any
}

// BuildAutoDownmix synthesizes a deterministic canonical SpeakerLayout
// for the given (input, output) channel pair (spec.md §3).
func BuildAutoDownmix(inChannels, outChannels int) SpeakerLayout {
	var layout SpeakerLayout
	layout.AutoMode = true

	switch {
	case inChannels <= 0 || outChannels <= 0:
		// degenerate; leave matrix all-zero, caller treats as silence.
	case inChannels == outChannels:
		for c := 0; c < inChannels && c < MaxChannels; c++ {
			layout.Matrix[c][c] = 1.0
		}
	case inChannels == 1 && outChannels >= 2:
		// mono -> N: duplicate the mono source to every output channel.
		for o := 0; o < outChannels && o < MaxChannels; o++ {
			layout.Matrix[o][0] = 1.0
		}
	case inChannels >= 2 && outChannels == 1:
		// N -> mono: equal-power sum of all inputs.
		g := 1.0 / math.Sqrt(float64(inChannels))
		for i := 0; i < inChannels && i < MaxChannels; i++ {
			layout.Matrix[0][i] = g
		}
	case inChannels == 2 && outChannels == 2:
		layout.Matrix[0][0] = 1.0
		layout.Matrix[1][1] = 1.0
	case inChannels > 2 && outChannels == 2:
		// Standard ITU-ish downmix: L/R pass through, center split to
		// both, surrounds attenuated and split to both.
		const centerGain = 0.7071067811865476  // -3dB
		const surroundGain = 0.7071067811865476 // -3dB
		layout.Matrix[0][0] = 1.0 // L
		layout.Matrix[1][1] = 1.0 // R
		if inChannels > 2 {
			layout.Matrix[0][2] += centerGain // center -> L
			layout.Matrix[1][2] += centerGain // center -> R
		}
		for c := 3; c < inChannels && c < MaxChannels; c++ {
			if c%2 == 1 {
				layout.Matrix[1][c] += surroundGain
			} else {
				layout.Matrix[0][c] += surroundGain
			}
		}
	default:
		// Generic fallback: spread each input equally across all outputs.
		g := 1.0 / float64(outChannels)
		for o := 0; o < outChannels && o < MaxChannels; o++ {
			for i := 0; i < inChannels && i < MaxChannels; i++ {
				layout.Matrix[o][i] = g
			}
		}
	}
	return layout
}

