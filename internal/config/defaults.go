package config

// DefaultSettings returns the documented tuning defaults for every
// subsection (spec.md §6), suitable as a starting point before a YAML
// override is applied.
func DefaultSettings() AudioEngineSettings {
	return AudioEngineSettings{
		TimeshiftTuning: TimeshiftTuning{
			CleanupIntervalMs:               1000,
			LatePacketThresholdMs:           200,
			TargetBufferLevelMs:             50,
			LoopMaxSleepMs:                  5,
			MaxCatchupLagMs:                 500,
			MaxClockPendingPackets:          64,
			RTPContinuitySlackSeconds:       0.05,
			RTPSessionResetThresholdSeconds: 2.0,
			PlaybackRatioMaxDeviationPPM:    2000,
			PlaybackRatioSlewPPMPerSec:      100,
			PlaybackRatioKp:                 0.5,
			PlaybackRatioKi:                 0.05,
			PlaybackRatioIntegralLimitPPM:   1000,
			PlaybackRatioSmoothing:          0.1,
			InboundRateSmoothing:            0.1,
			PlaybackRateAdjustmentEnabled:   true,
		},
		MixerTuning: MixerTuning{
			MP3BitrateKbps:          192,
			MP3VBREnabled:           false,
			MP3OutputQueueMaxSize:   32,
			UnderrunHoldTimeoutMs:   40,
			MaxInputQueueChunks:     16,
			MinInputQueueChunks:     1,
			MaxReadyChunksPerSource: 8,
			MaxQueuedChunks:         32,
		},
		SourceProcessorTuning: SourceProcessorTuning{
			CommandLoopSleepMs:       5,
			DiscontinuityThresholdMs: 100,
		},
		ProcessorTuning: ProcessorTuning{
			OversamplingFactor:           2,
			VolumeSmoothingFactor:        0.05,
			DCFilterCutoffHz:             20,
			NormalizationTargetRMS:       0.2,
			NormalizationAttackSmoothing: 0.3,
			NormalizationDecaySmoothing:  0.05,
			DitherNoiseShapingFactor:     0.5,
		},
		RTPReceiverTuning: RTPReceiverTuning{},
		SystemAudioTuning: SystemAudioTuning{},
		DiagnosticsTuning: DiagnosticsTuning{
			TimestampFormat: "%Y-%m-%d %H:%M:%S",
		},
	}
}
