package dsp

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func encodePCM16(samples []float64) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		v := int16(s * 32767)
		out[i*2] = byte(v)
		out[i*2+1] = byte(v >> 8)
	}
	return out
}

func TestAudioProcessorUnityPassthroughShape(t *testing.T) {
	cfg := Config{
		InputSampleRate:    48000,
		OutputSampleRate:   48000,
		InputChannels:      2,
		OutputChannels:     2,
		InputBitDepth:      16,
		OversamplingFactor: 1,
	}
	ap, err := NewAudioProcessor(cfg)
	require.NoError(t, err)

	params := ap.CurrentParams()
	params.DitherShapingFactor = 0 // keep output deterministic for the shape check
	ap.UpdateParams(params)

	samples := make([]float64, FrameSize*2)
	for i := 0; i < FrameSize; i++ {
		samples[i*2] = 0.2 * math.Sin(float64(i)*0.05)
		samples[i*2+1] = 0.2 * math.Sin(float64(i)*0.05)
	}
	input := encodePCM16(samples)
	output := make([]int32, FrameSize*2)

	n, err := ap.Process(input, output)
	require.NoError(t, err)
	assert.Equal(t, FrameSize, n, "spec.md invariant 2: chunk length is 1152 frames")
}

func TestAudioProcessorRejectsBadRates(t *testing.T) {
	_, err := NewAudioProcessor(Config{InputSampleRate: 0, OutputSampleRate: 48000, InputChannels: 2, OutputChannels: 2, InputBitDepth: 16})
	require.Error(t, err)
	var cfgErr *ConfigError
	require.ErrorAs(t, err, &cfgErr)
}

func TestAudioProcessorFormatConversionFrameRate(t *testing.T) {
	cfg := Config{
		InputSampleRate:    44100,
		OutputSampleRate:   48000,
		InputChannels:      2,
		OutputChannels:     2,
		InputBitDepth:      24,
		OversamplingFactor: 2,
	}
	ap, err := NewAudioProcessor(cfg)
	require.NoError(t, err)

	samples := make([]float64, FrameSize*2)
	for i := 0; i < FrameSize; i++ {
		samples[i*2] = 0.3 * math.Sin(float64(i)*0.1)
		samples[i*2+1] = 0.3 * math.Sin(float64(i)*0.1)
	}
	input := make([]byte, FrameSize*2*3)
	for i, s := range samples {
		v := int32(s * 8388607)
		input[i*3] = byte(v)
		input[i*3+1] = byte(v >> 8)
		input[i*3+2] = byte(v >> 16)
	}
	output := make([]int32, FrameSize*2)
	n, err := ap.Process(input, output)
	require.NoError(t, err)
	assert.LessOrEqual(t, n, FrameSize)
	assert.Greater(t, n, 0)
}

func TestReconfigurationIdempotence(t *testing.T) {
	cfg := Config{InputSampleRate: 48000, OutputSampleRate: 48000, InputChannels: 2, OutputChannels: 2, InputBitDepth: 16, OversamplingFactor: 1}
	ap, err := NewAudioProcessor(cfg)
	require.NoError(t, err)

	layout := BuildAutoDownmix(2, 2)
	p := ap.CurrentParams()
	p.SpeakerLayouts = map[int]SpeakerLayout{2: layout}
	ap.UpdateParams(p)
	taps1 := append([]mixTap(nil), ap.taps...)

	ap.UpdateParams(p)
	taps2 := append([]mixTap(nil), ap.taps...)

	assert.Equal(t, taps1, taps2, "spec.md §8 invariant 5: applying the same SpeakerLayout twice produces identical mix taps")
}

func TestVolumeUpdateConvergesWithinTolerance(t *testing.T) {
	cfg := Config{InputSampleRate: 48000, OutputSampleRate: 48000, InputChannels: 1, OutputChannels: 1, InputBitDepth: 16, OversamplingFactor: 1}
	ap, err := NewAudioProcessor(cfg)
	require.NoError(t, err)

	p := ap.CurrentParams()
	p.VolumeSmoothing = 0.5
	p.Volume = 0.0
	ap.UpdateParams(p)

	samples := make([]float64, FrameSize)
	for i := range samples {
		samples[i] = 1.0
	}
	input := encodePCM16(samples)
	output := make([]int32, FrameSize)
	for i := 0; i < 50; i++ {
		p.Volume = float64(i) * 0.02
		ap.UpdateParams(p)
		_, err := ap.Process(input, output)
		require.NoError(t, err)
	}
	assert.InDelta(t, 0.98, ap.currentVolume[0], 0.2)
}

// TestVolumeRampStaysInLockStepAcrossChannels guards against the one-pole
// smoother running to completion on one channel's full buffer before the
// next channel starts from wherever that left off (spec.md §4.2 step 2
// requires every channel to follow the same ramp).
func TestVolumeRampStaysInLockStepAcrossChannels(t *testing.T) {
	cfg := Config{InputSampleRate: 48000, OutputSampleRate: 48000, InputChannels: 2, OutputChannels: 2, InputBitDepth: 16, OversamplingFactor: 1}
	ap, err := NewAudioProcessor(cfg)
	require.NoError(t, err)

	p := ap.CurrentParams()
	p.VolumeSmoothing = 0.1
	p.Volume = 1.0
	ap.UpdateParams(p)

	samples := make([]float64, FrameSize*2)
	for i := range samples {
		samples[i] = 1.0
	}
	input := encodePCM16(samples)
	output := make([]int32, FrameSize*2)
	_, err = ap.Process(input, output)
	require.NoError(t, err)

	assert.InDelta(t, ap.currentVolume[0], ap.currentVolume[1], 1e-9, "both channels must advance the same volume ramp in lock-step")
}
