package sink

// Config holds the mixer_tuning subsection of AudioEngineSettings
// (spec.md §6) plus the fixed shape of one sink.
type Config struct {
	SinkID       string
	SampleRate   int
	Channels     int
	BitDepth     int
	FrameSize    int // samples per chunk, fixed at 1152 (spec.md §3)

	MP3BitrateKbps        int
	MP3VBREnabled         bool
	MP3OutputQueueMaxSize int

	UnderrunHoldTimeoutMs int // §4.5's "grace_period_timeout_ms"
	MaxInputQueueChunks   int
	MinInputQueueChunks   int
	MaxReadyChunksPerSource int
	MaxQueuedChunks       int

	VolumeNormalization bool
}

// DefaultConfig returns conservative mixer_tuning defaults.
func DefaultConfig() Config {
	return Config{
		FrameSize:               1152,
		MP3BitrateKbps:          192,
		MP3VBREnabled:           false,
		MP3OutputQueueMaxSize:   32,
		UnderrunHoldTimeoutMs:   40,
		MaxInputQueueChunks:     16,
		MinInputQueueChunks:     1,
		MaxReadyChunksPerSource: 8,
		MaxQueuedChunks:         32,
		VolumeNormalization:     true,
	}
}
