package engine

import "time"

// GlobalStats summarizes engine-wide counters.
type GlobalStats struct {
	SinkCount        int
	SourceCount      int
	TimeshiftDropped uint64
	SnapshotAt       string // formatted per diagnostics_tuning.timestamp_format
}

// SourceStats summarizes one source instance.
type SourceStats struct {
	InstanceID        string
	SourceTag         string
	Reconfigurations  uint64
	Discontinuities   uint64
	ConnectedSinks    int
}

// SinkStats summarizes one sink.
type SinkStats struct {
	SinkID    string
	Cycles    uint64
	Underruns uint64
}

// EngineStats is the get_audio_engine_stats schema of spec.md §4.8.
type EngineStats struct {
	Global  GlobalStats
	Sources []SourceStats
	Sinks   []SinkStats
}

// GetAudioEngineStats assembles a snapshot across every component
// (spec.md §4.8). Each counter is read once, per spec.md §5's
// "statistics counters are atomic updates only; snapshots assemble by
// reading each counter once".
func (m *Manager) GetAudioEngineStats() EngineStats {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := EngineStats{
		Global: GlobalStats{
			SinkCount:   len(m.sinks),
			SourceCount: len(m.sources),
			SnapshotAt:  m.formatTimestamp(time.Now()),
		},
	}
	if m.ts != nil {
		out.Global.TimeshiftDropped = m.ts.DroppedPackets()
	}

	for id, se := range m.sources {
		out.Sources = append(out.Sources, SourceStats{
			InstanceID:       id,
			SourceTag:        se.sourceTag,
			Reconfigurations: se.proc.Reconfigurations(),
			Discontinuities:  se.proc.Discontinuities(),
			ConnectedSinks:   len(se.connected),
		})
	}
	for id, sk := range m.sinks {
		out.Sinks = append(out.Sinks, SinkStats{
			SinkID:    id,
			Cycles:    sk.mixer.Cycles(),
			Underruns: sk.mixer.Underruns(),
		})
	}
	return out
}
