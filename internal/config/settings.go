// Package config defines the external configuration surface of
// spec.md §4.8/§6: SinkConfig, SourceConfig, and the AudioEngineSettings
// tuning subsections, loadable from YAML.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Protocol selects a sink's wire format (spec.md §6).
type Protocol string

const (
	ProtocolScream Protocol = "scream"
	ProtocolRTP    Protocol = "rtp"
)

// SpeakerLayoutSetting mirrors dsp.SpeakerLayout with YAML tags for
// decode; ToDSPParams converts it to dsp.SpeakerLayout.
type SpeakerLayoutSetting struct {
	AutoMode bool        `yaml:"auto_mode"`
	Matrix   [8][8]float64 `yaml:"matrix"`
}

// SinkConfig is the control surface of spec.md §6.
type SinkConfig struct {
	ID              string   `yaml:"id"`
	OutputIP        string   `yaml:"output_ip"`
	OutputPort      int      `yaml:"output_port"`
	SampleRate      int      `yaml:"sample_rate"`
	Channels        int      `yaml:"channels"`
	BitDepth        int      `yaml:"bit_depth"`
	ChannelLayout   uint16   `yaml:"channel_layout"`
	Protocol        Protocol `yaml:"protocol"`
	EnableMP3       bool     `yaml:"enable_mp3"`
	TimeSyncEnabled bool     `yaml:"time_sync_enabled"`
	TimeSyncDelayMs int      `yaml:"time_sync_delay_ms"`
	SpeakerLayout   SpeakerLayoutSetting `yaml:"speaker_layout"`
}

// SourceConfig is the control surface of spec.md §6.
type SourceConfig struct {
	Tag                   string                      `yaml:"tag"`
	InitialVolume         float64                     `yaml:"initial_volume"`
	InitialDelayMs        int                         `yaml:"initial_delay_ms"`
	InitialTimeshiftSec   float64                     `yaml:"initial_timeshift_sec"`
	TargetOutputChannels  int                         `yaml:"target_output_channels"`
	TargetOutputSampleRate int                        `yaml:"target_output_samplerate"`
	InitialEQ             [18]float64                 `yaml:"initial_eq"`
	SpeakerLayoutsMap     map[int]SpeakerLayoutSetting `yaml:"speaker_layouts_map"`
}

// TimeshiftTuning is the timeshift_tuning subsection of spec.md §6.
type TimeshiftTuning struct {
	CleanupIntervalMs              int     `yaml:"cleanup_interval_ms"`
	LatePacketThresholdMs           int     `yaml:"late_packet_threshold_ms"`
	TargetBufferLevelMs             int     `yaml:"target_buffer_level_ms"`
	LoopMaxSleepMs                  int     `yaml:"loop_max_sleep_ms"`
	MaxCatchupLagMs                 int     `yaml:"max_catchup_lag_ms"`
	MaxClockPendingPackets          int     `yaml:"max_clock_pending_packets"`
	RTPContinuitySlackSeconds       float64 `yaml:"rtp_continuity_slack_seconds"`
	RTPSessionResetThresholdSeconds float64 `yaml:"rtp_session_reset_threshold_seconds"`
	PlaybackRatioMaxDeviationPPM    float64 `yaml:"playback_ratio_max_deviation_ppm"`
	PlaybackRatioSlewPPMPerSec      float64 `yaml:"playback_ratio_slew_ppm_per_sec"`
	PlaybackRatioKp                 float64 `yaml:"playback_ratio_kp"`
	PlaybackRatioKi                 float64 `yaml:"playback_ratio_ki"`
	PlaybackRatioIntegralLimitPPM   float64 `yaml:"playback_ratio_integral_limit_ppm"`
	PlaybackRatioSmoothing          float64 `yaml:"playback_ratio_smoothing"`
	InboundRateSmoothing            float64 `yaml:"inbound_rate_smoothing"`
	PlaybackRateAdjustmentEnabled   bool    `yaml:"playback_rate_adjustment_enabled"`
}

// MixerTuning is the mixer_tuning subsection of spec.md §6.
type MixerTuning struct {
	MP3BitrateKbps          int  `yaml:"mp3_bitrate_kbps"`
	MP3VBREnabled           bool `yaml:"mp3_vbr_enabled"`
	MP3OutputQueueMaxSize   int  `yaml:"mp3_output_queue_max_size"`
	UnderrunHoldTimeoutMs   int  `yaml:"underrun_hold_timeout_ms"`
	MaxInputQueueChunks     int  `yaml:"max_input_queue_chunks"`
	MinInputQueueChunks     int  `yaml:"min_input_queue_chunks"`
	MaxReadyChunksPerSource int  `yaml:"max_ready_chunks_per_source"`
	MaxQueuedChunks         int  `yaml:"max_queued_chunks"`
}

// SourceProcessorTuning is the source_processor_tuning subsection of
// spec.md §6.
type SourceProcessorTuning struct {
	CommandLoopSleepMs       int `yaml:"command_loop_sleep_ms"`
	DiscontinuityThresholdMs int `yaml:"discontinuity_threshold_ms"`
}

// ProcessorTuning is the processor_tuning subsection of spec.md §6.
type ProcessorTuning struct {
	OversamplingFactor         int     `yaml:"oversampling_factor"`
	VolumeSmoothingFactor      float64 `yaml:"volume_smoothing_factor"`
	DCFilterCutoffHz           float64 `yaml:"dc_filter_cutoff_hz"`
	NormalizationTargetRMS     float64 `yaml:"normalization_target_rms"`
	NormalizationAttackSmoothing float64 `yaml:"normalization_attack_smoothing"`
	NormalizationDecaySmoothing  float64 `yaml:"normalization_decay_smoothing"`
	DitherNoiseShapingFactor   float64 `yaml:"dither_noise_shaping_factor"`
}

// RTPReceiverTuning and SystemAudioTuning are named by spec.md §4.8 but
// left with no concrete fields by spec.md §6 beyond their subsection
// name; both are carried through set_audio_settings as opaque maps so
// a future receiver/system-audio component can grow into them without
// breaking the settings schema.
type RTPReceiverTuning map[string]any
type SystemAudioTuning map[string]any

// DiagnosticsTuning controls the formatting of the timestamp attached
// to stats-snapshot log lines, mirroring the teacher's
// timestamp_format channel setting in tq.go/xmit.go.
type DiagnosticsTuning struct {
	TimestampFormat string `yaml:"timestamp_format"`
}

// AudioEngineSettings is the get_audio_settings/set_audio_settings
// struct of spec.md §4.8.
type AudioEngineSettings struct {
	TimeshiftTuning       TimeshiftTuning       `yaml:"timeshift_tuning"`
	MixerTuning           MixerTuning           `yaml:"mixer_tuning"`
	SourceProcessorTuning SourceProcessorTuning `yaml:"source_processor_tuning"`
	ProcessorTuning       ProcessorTuning       `yaml:"processor_tuning"`
	RTPReceiverTuning     RTPReceiverTuning     `yaml:"rtp_receiver_tuning"`
	SystemAudioTuning     SystemAudioTuning     `yaml:"system_audio_tuning"`
	DiagnosticsTuning     DiagnosticsTuning     `yaml:"diagnostics_tuning"`
}

// Document is the top-level YAML document: engine settings plus the
// sinks/sources to provision at startup.
type Document struct {
	Settings AudioEngineSettings `yaml:"settings"`
	Sinks    []SinkConfig        `yaml:"sinks"`
	Sources  []SourceConfig      `yaml:"sources"`
}

// LoadSettings reads and parses a YAML settings file at path.
func LoadSettings(path string) (*Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	var doc Document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	return &doc, nil
}
