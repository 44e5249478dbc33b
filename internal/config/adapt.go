package config

import (
	"github.com/netham45/screamrouter-sub013/internal/dsp"
	"github.com/netham45/screamrouter-sub013/internal/sink"
	"github.com/netham45/screamrouter-sub013/internal/source"
	"github.com/netham45/screamrouter-sub013/internal/timeshift"
)

// ToTimeshiftConfig adapts the timeshift_tuning subsection to
// timeshift.Config. ringCapacity isn't part of the external settings
// schema (spec.md §6 names no such field); callers size it from
// deployment-specific memory budgets.
func (t TimeshiftTuning) ToTimeshiftConfig(ringCapacity int) timeshift.Config {
	if ringCapacity <= 0 {
		ringCapacity = 512
	}
	return timeshift.Config{
		CleanupIntervalMs:             t.CleanupIntervalMs,
		LatePacketThresholdMs:         t.LatePacketThresholdMs,
		TargetBufferLevelMs:           t.TargetBufferLevelMs,
		LoopMaxSleepMs:                t.LoopMaxSleepMs,
		MaxCatchupLagMs:               t.MaxCatchupLagMs,
		MaxClockPendingPackets:        t.MaxClockPendingPackets,
		RTPContinuitySlackSeconds:     t.RTPContinuitySlackSeconds,
		RTPSessionResetThreshold:      t.RTPSessionResetThresholdSeconds,
		RingCapacity:                  ringCapacity,
		PlaybackRatioMaxDeviationPPM:  t.PlaybackRatioMaxDeviationPPM,
		PlaybackRatioSlewPPMPerSec:    t.PlaybackRatioSlewPPMPerSec,
		PlaybackRatioKp:               t.PlaybackRatioKp,
		PlaybackRatioKi:               t.PlaybackRatioKi,
		PlaybackRatioIntegralLimitPPM: t.PlaybackRatioIntegralLimitPPM,
		PlaybackRatioSmoothing:        t.PlaybackRatioSmoothing,
		InboundRateSmoothing:          t.InboundRateSmoothing,
		PlaybackRateAdjustmentEnabled: t.PlaybackRateAdjustmentEnabled,
	}
}

// ToSinkConfig adapts the mixer_tuning subsection plus a provisioned
// SinkConfig into sink.Config.
func (m MixerTuning) ToSinkConfig(sc SinkConfig) sink.Config {
	return sink.Config{
		SinkID:                  sc.ID,
		SampleRate:              sc.SampleRate,
		Channels:                sc.Channels,
		BitDepth:                sc.BitDepth,
		FrameSize:                dsp.FrameSize,
		MP3BitrateKbps:          m.MP3BitrateKbps,
		MP3VBREnabled:           m.MP3VBREnabled,
		MP3OutputQueueMaxSize:   m.MP3OutputQueueMaxSize,
		UnderrunHoldTimeoutMs:   m.UnderrunHoldTimeoutMs,
		MaxInputQueueChunks:     m.MaxInputQueueChunks,
		MinInputQueueChunks:     m.MinInputQueueChunks,
		MaxReadyChunksPerSource: m.MaxReadyChunksPerSource,
		MaxQueuedChunks:         m.MaxQueuedChunks,
		VolumeNormalization:     true,
	}
}

// ToSourceConfig adapts the source_processor_tuning subsection to
// source.Config.
func (s SourceProcessorTuning) ToSourceConfig() source.Config {
	return source.Config{
		CommandLoopSleepMs:       s.CommandLoopSleepMs,
		DiscontinuityThresholdMs: s.DiscontinuityThresholdMs,
	}
}

// ToDSPParams adapts the processor_tuning subsection plus a source's
// initial volume/EQ into dsp.Params.
func (p ProcessorTuning) ToDSPParams(sc SourceConfig) dsp.Params {
	params := dsp.DefaultParams()
	params.Volume = sc.InitialVolume
	params.EQGains = sc.InitialEQ
	params.DCFilterCutoffHz = p.DCFilterCutoffHz
	params.NormalizationTarget = p.NormalizationTargetRMS
	params.NormalizationAttack = p.NormalizationAttackSmoothing
	params.NormalizationDecay = p.NormalizationDecaySmoothing
	params.VolumeSmoothing = p.VolumeSmoothingFactor
	params.DitherShapingFactor = p.DitherNoiseShapingFactor
	if len(sc.SpeakerLayoutsMap) > 0 {
		params.SpeakerLayouts = make(map[int]dsp.SpeakerLayout, len(sc.SpeakerLayoutsMap))
		for ch, layout := range sc.SpeakerLayoutsMap {
			params.SpeakerLayouts[ch] = dsp.SpeakerLayout{AutoMode: layout.AutoMode, Matrix: layout.Matrix}
		}
	}
	return params
}
