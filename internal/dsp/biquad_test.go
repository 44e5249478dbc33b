package dsp

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBiquadUnityPeakGainIsIdentity(t *testing.T) {
	var b Biquad
	b.SetBiquad(Peak, 1000, 48000, 1.0, 0) // 0 dB peak gain
	in := []float64{0.1, -0.2, 0.3, 0.5, -0.5}
	out := make([]float64, len(in))
	copy(out, in)
	b.ProcessBlock(out)
	for i := range in {
		assert.InDelta(t, in[i], out[i], 1e-9, "a 0dB peak filter has b_i == a_i so the transfer function is exactly 1")
	}
}

func TestBiquadFlushResetsState(t *testing.T) {
	var b Biquad
	b.SetBiquad(LowPass, 500, 48000, 0.707, 0)
	for i := 0; i < 10; i++ {
		b.ProcessSample(1.0)
	}
	require.NotZero(t, b.z1)
	b.Flush()
	assert.Zero(t, b.z1)
	assert.Zero(t, b.z2)
}

func TestProcessBlockMatchesProcessSample(t *testing.T) {
	var a, b Biquad
	a.SetBiquad(Peak, 2000, 44100, 2.0, 6)
	b.SetBiquad(Peak, 2000, 44100, 2.0, 6)

	samples := make([]float64, 37) // not a multiple of 4, exercises the remainder loop
	for i := range samples {
		samples[i] = math.Sin(float64(i) * 0.3)
	}

	want := make([]float64, len(samples))
	copy(want, samples)
	for i := range want {
		want[i] = a.ProcessSample(want[i])
	}

	got := make([]float64, len(samples))
	copy(got, samples)
	b.ProcessBlock(got)

	for i := range want {
		assert.InDelta(t, want[i], got[i], 1e-12)
	}
}

func TestSoftClipBounded(t *testing.T) {
	assert.InDelta(t, 0, SoftClip(0), 1e-12)
	assert.LessOrEqual(t, math.Abs(SoftClip(5)), 1.0)
	assert.LessOrEqual(t, math.Abs(SoftClip(-5)), 1.0)
	assert.Greater(t, SoftClip(0.5), 0.0)
}

func TestEQChainSkipsUnityBands(t *testing.T) {
	eq := NewEQChain(48000)
	samples := []float64{0.1, 0.2, -0.1, 0.3}
	before := make([]float64, len(samples))
	copy(before, samples)
	eq.Process(samples)
	for i := range before {
		assert.InDelta(t, SoftClip(before[i]), samples[i], 1e-9)
	}
}

func TestEQChainNormalization(t *testing.T) {
	eq := NewEQChain(48000)
	var gains [EQBands]float64
	for i := range gains {
		gains[i] = 2.0
	}
	gains[0] = 4.0 // max band
	eq.SetGains(gains, true)
	// after normalization every band's effective gain is gains[i]/max; band 0 becomes unity.
	assert.InDelta(t, 0.0, eq.bandGainDB(0), 1e-9)
}
