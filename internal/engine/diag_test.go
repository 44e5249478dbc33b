package engine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestFormatTimestampUsesConfiguredPattern(t *testing.T) {
	m := New(nil)
	m.settings.DiagnosticsTuning.TimestampFormat = "%Y-%m-%d"
	got := m.formatTimestamp(time.Date(2026, 7, 30, 12, 0, 0, 0, time.UTC))
	assert.Equal(t, "2026-07-30", got)
}

func TestFormatTimestampFallsBackOnEmptyPattern(t *testing.T) {
	m := New(nil)
	m.settings.DiagnosticsTuning.TimestampFormat = ""
	got := m.formatTimestamp(time.Date(2026, 7, 30, 12, 0, 0, 0, time.UTC))
	assert.Contains(t, got, "2026-07-30")
}

func TestGetAudioEngineStatsIncludesSnapshotTimestamp(t *testing.T) {
	m := New(nil)
	m.Initialize(16401, 1.0)
	t.Cleanup(m.Shutdown)
	stats := m.GetAudioEngineStats()
	assert.NotEmpty(t, stats.Global.SnapshotAt)
}
