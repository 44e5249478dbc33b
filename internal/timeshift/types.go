// Package timeshift implements the TimeshiftManager described in
// spec.md §4.3: a bounded per-source jitter/history ring that anchors
// stream clocks and dispatches time-ordered packets to subscribers.
package timeshift

import "time"

// TaggedAudioPacket is the raw PCM payload plus its ingress metadata
// (spec.md §3). It is immutable once created.
type TaggedAudioPacket struct {
	SourceTag      string
	Payload        []byte
	ArrivalMono    time.Time
	RTPTimestamp   uint32
	HasRTP         bool
	SampleRate     int
	BitDepth       int
	Channels       int
	ChannelLayout  uint16
	PlaybackRate   float64
	Sequence       uint32
}

// StreamAnchor is the per-source_tag clock mapping state (spec.md §3).
type StreamAnchor struct {
	RefMono        time.Time
	RefRTP         uint32
	PlaybackRate   float64
	SmoothedJitter float64
	LastSequence   uint32
	HasLast        bool
}

// Config carries the timeshift_tuning subsection of AudioEngineSettings
// (spec.md §6).
type Config struct {
	CleanupIntervalMs          int
	LatePacketThresholdMs      int
	TargetBufferLevelMs        int
	LoopMaxSleepMs             int
	MaxCatchupLagMs            int
	MaxClockPendingPackets     int
	RTPContinuitySlackSeconds  float64
	RTPSessionResetThreshold   float64
	RingCapacity               int

	PlaybackRatioMaxDeviationPPM float64
	PlaybackRatioSlewPPMPerSec   float64
	PlaybackRatioKp              float64
	PlaybackRatioKi              float64
	PlaybackRatioIntegralLimitPPM float64
	PlaybackRatioSmoothing        float64
	InboundRateSmoothing          float64
	PlaybackRateAdjustmentEnabled bool
}

// DefaultConfig returns the tuning defaults used when none is supplied.
func DefaultConfig() Config {
	return Config{
		CleanupIntervalMs:             1000,
		LatePacketThresholdMs:         200,
		TargetBufferLevelMs:           40,
		LoopMaxSleepMs:                5,
		MaxCatchupLagMs:               500,
		MaxClockPendingPackets:        512,
		RTPContinuitySlackSeconds:     0.05,
		RTPSessionResetThreshold:      2.0,
		RingCapacity:                  1024,
		PlaybackRatioMaxDeviationPPM:  2000,
		PlaybackRatioSlewPPMPerSec:    200,
		PlaybackRatioKp:               0.15,
		PlaybackRatioKi:               0.02,
		PlaybackRatioIntegralLimitPPM: 5000,
		PlaybackRatioSmoothing:        0.1,
		InboundRateSmoothing:          0.1,
		PlaybackRateAdjustmentEnabled: true,
	}
}
