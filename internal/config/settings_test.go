package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadSettingsParsesSinksAndSources(t *testing.T) {
	yamlDoc := `
settings:
  mixer_tuning:
    mp3_bitrate_kbps: 256
    max_input_queue_chunks: 32
  diagnostics_tuning:
    timestamp_format: "%H:%M:%S"
sinks:
  - id: living-room
    output_ip: 192.168.1.50
    output_port: 4010
    sample_rate: 48000
    channels: 2
    bit_depth: 16
    protocol: scream
sources:
  - tag: mic-1
    initial_volume: 0.8
    target_output_channels: 2
    target_output_samplerate: 48000
`
	path := filepath.Join(t.TempDir(), "screamrouter.yaml")
	require.NoError(t, os.WriteFile(path, []byte(yamlDoc), 0o644))

	doc, err := LoadSettings(path)
	require.NoError(t, err)

	assert.Equal(t, 256, doc.Settings.MixerTuning.MP3BitrateKbps)
	assert.Equal(t, "%H:%M:%S", doc.Settings.DiagnosticsTuning.TimestampFormat)
	require.Len(t, doc.Sinks, 1)
	assert.Equal(t, "living-room", doc.Sinks[0].ID)
	assert.Equal(t, ProtocolScream, doc.Sinks[0].Protocol)
	require.Len(t, doc.Sources, 1)
	assert.Equal(t, "mic-1", doc.Sources[0].Tag)
	assert.Equal(t, 0.8, doc.Sources[0].InitialVolume)
}

func TestLoadSettingsErrorsOnMissingFile(t *testing.T) {
	_, err := LoadSettings(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	assert.Error(t, err)
}

func TestDefaultSettingsPopulatesEveryTuningSubsection(t *testing.T) {
	s := DefaultSettings()
	assert.NotZero(t, s.TimeshiftTuning.TargetBufferLevelMs)
	assert.NotZero(t, s.MixerTuning.MaxInputQueueChunks)
	assert.NotZero(t, s.SourceProcessorTuning.DiscontinuityThresholdMs)
	assert.NotZero(t, s.ProcessorTuning.DCFilterCutoffHz)
	assert.NotEmpty(t, s.DiagnosticsTuning.TimestampFormat)
}
