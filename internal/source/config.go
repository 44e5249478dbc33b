package source

import "github.com/netham45/screamrouter-sub013/internal/dsp"

// Config holds the source_processor_tuning subsection of
// AudioEngineSettings (spec.md §6).
type Config struct {
	CommandLoopSleepMs       int
	DiscontinuityThresholdMs int
}

// DefaultConfig returns conservative source_processor_tuning defaults.
func DefaultConfig() Config {
	return Config{
		CommandLoopSleepMs:       5,
		DiscontinuityThresholdMs: 100,
	}
}

// ParameterUpdate is the update_parameters payload of spec.md §4.4.
// Each nil/unset field leaves the corresponding processor state
// unchanged.
type ParameterUpdate struct {
	Volume              *float64
	EQValues            *[18]float64
	EQNormalization     *bool
	VolumeNormalization *bool
	DelayMs             *int
	TimeshiftSec        *float64
	SpeakerLayoutsMap   map[int]dsp.SpeakerLayout
}

