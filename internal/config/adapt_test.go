package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestToTimeshiftConfigDefaultsRingCapacityWhenUnset(t *testing.T) {
	tuning := DefaultSettings().TimeshiftTuning
	cfg := tuning.ToTimeshiftConfig(0)
	assert.Equal(t, 512, cfg.RingCapacity)
	assert.Equal(t, tuning.TargetBufferLevelMs, cfg.TargetBufferLevelMs)
}

func TestToSinkConfigCarriesSinkIdentityAndEnablesNormalization(t *testing.T) {
	m := DefaultSettings().MixerTuning
	sc := SinkConfig{ID: "sink-1", SampleRate: 44100, Channels: 6, BitDepth: 24}
	cfg := m.ToSinkConfig(sc)
	assert.Equal(t, "sink-1", cfg.SinkID)
	assert.Equal(t, 44100, cfg.SampleRate)
	assert.Equal(t, 6, cfg.Channels)
	assert.True(t, cfg.VolumeNormalization)
}

func TestToDSPParamsSeedsVolumeAndEQFromSourceConfig(t *testing.T) {
	p := DefaultSettings().ProcessorTuning
	sc := SourceConfig{InitialVolume: 0.42, InitialEQ: [18]float64{1: 2.5}}
	params := p.ToDSPParams(sc)
	assert.Equal(t, 0.42, params.Volume)
	assert.Equal(t, 2.5, params.EQGains[1])
}

func TestToDSPParamsConvertsSpeakerLayoutsMap(t *testing.T) {
	p := DefaultSettings().ProcessorTuning
	sc := SourceConfig{
		SpeakerLayoutsMap: map[int]SpeakerLayoutSetting{
			6: {AutoMode: true},
		},
	}
	params := p.ToDSPParams(sc)
	layout, ok := params.SpeakerLayouts[6]
	assert.True(t, ok)
	assert.True(t, layout.AutoMode)
}
