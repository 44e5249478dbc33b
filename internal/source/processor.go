// Package source implements the SourceInputProcessor of spec.md §4.4:
// one instance per (source_tag, instance_id), owning a dsp.AudioProcessor
// and fanning its output chunks out to every connected sink lane.
package source

import (
	"sync"
	"time"

	"github.com/charmbracelet/log"

	"github.com/netham45/screamrouter-sub013/internal/dsp"
	"github.com/netham45/screamrouter-sub013/internal/sink"
	"github.com/netham45/screamrouter-sub013/internal/stats"
	"github.com/netham45/screamrouter-sub013/internal/timeshift"
)

// bytesPerSample returns the byte width of one PCM sample at bitDepth.
func bytesPerSample(bitDepth int) int {
	switch bitDepth {
	case 16, 24, 32:
		return bitDepth / 8
	default:
		return 2
	}
}

// Processor is the SourceInputProcessor of spec.md §4.4.
type Processor struct {
	SourceTag  string
	InstanceID string

	cfg Config
	log *log.Logger

	mu       sync.Mutex
	ap       *dsp.AudioProcessor
	pending  []byte // partial-frame bytes held between IngestPacket calls
	delay    time.Duration
	timeshiftSec float64

	lastPacketEndRTP uint32
	haveLastPacket   bool
	outputSampleRate int

	lanes map[string]*sink.InputLane // keyed by sink_id

	reconfigurations stats.Counter
	discontinuities  stats.Counter
}

// New constructs a Processor for (sourceTag, instanceID). inputCfg
// carries both the stream's initial input format, which may later change
// in-place per-packet (format-change detection), and the fixed
// sink-side output rate/channels that every produced ProcessedAudioChunk
// must conform to (spec.md §3 invariant 2).
func New(sourceTag, instanceID string, inputCfg dsp.Config, cfg Config, logger *log.Logger) (*Processor, error) {
	if logger == nil {
		logger = log.Default()
	}
	ap, err := dsp.NewAudioProcessor(inputCfg)
	if err != nil {
		return nil, err
	}
	return &Processor{
		SourceTag:        sourceTag,
		InstanceID:       instanceID,
		cfg:              cfg,
		log:              logger.With("component", "source", "source_tag", sourceTag, "instance_id", instanceID),
		ap:               ap,
		outputSampleRate: inputCfg.OutputSampleRate,
		lanes:            make(map[string]*sink.InputLane),
	}, nil
}

// ConnectSink registers a lane this processor will fan its output
// chunks into.
func (p *Processor) ConnectSink(sinkID string, lane *sink.InputLane) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.lanes[sinkID] = lane
}

// DisconnectSink removes a previously connected lane.
func (p *Processor) DisconnectSink(sinkID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.lanes, sinkID)
}

// UpdateParameters applies an update_parameters call (spec.md §4.4);
// unset fields leave state unchanged.
func (p *Processor) UpdateParameters(u ParameterUpdate) {
	p.mu.Lock()
	defer p.mu.Unlock()

	params := p.ap.CurrentParams()
	if u.Volume != nil {
		params.Volume = *u.Volume
	}
	if u.EQValues != nil {
		params.EQGains = *u.EQValues
	}
	if u.EQNormalization != nil {
		params.EQNormalization = *u.EQNormalization
	}
	if u.VolumeNormalization != nil {
		params.VolumeNormalization = *u.VolumeNormalization
	}
	if u.SpeakerLayoutsMap != nil {
		// Build a fresh map: the current one belongs to the installed
		// Params snapshot and must not be mutated in place.
		merged := make(map[int]dsp.SpeakerLayout, len(params.SpeakerLayouts)+len(u.SpeakerLayoutsMap))
		for ch, layout := range params.SpeakerLayouts {
			merged[ch] = layout
		}
		for ch, layout := range u.SpeakerLayoutsMap {
			merged[ch] = layout
		}
		params.SpeakerLayouts = merged
	}
	p.ap.UpdateParams(params)

	if u.DelayMs != nil {
		p.delay = time.Duration(*u.DelayMs) * time.Millisecond
	}
	if u.TimeshiftSec != nil {
		p.timeshiftSec = *u.TimeshiftSec
	}
}

// ApplyInitialParams overwrites the processor's DSP parameters
// wholesale, used once at construction time to seed volume/EQ/layout
// state from a SourceConfig before any packet has arrived.
func (p *Processor) ApplyInitialParams(params dsp.Params) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ap.UpdateParams(params)
}

// SetPlaybackRate applies a playback-rate update received from the
// owning TimeshiftManager subscription's rate-update channel.
func (p *Processor) SetPlaybackRate(rate float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	params := p.ap.CurrentParams()
	params.PlaybackRate = rate
	p.ap.UpdateParams(params)
}

// Delay returns the currently configured delay, for propagation to the
// owning TimeshiftManager subscription.
func (p *Processor) Delay() (time.Duration, float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.delay, p.timeshiftSec
}

// Reconfigurations returns the count of in-place format reconfigurations.
func (p *Processor) Reconfigurations() uint64 { return p.reconfigurations.Snapshot() }

// Discontinuities returns the count of detected stream discontinuities.
func (p *Processor) Discontinuities() uint64 { return p.discontinuities.Snapshot() }

// IngestPacket is the synchronous ingest_packet contract of spec.md
// §4.4: it may append zero or more chunks, one per connected sink
// lane, as a side effect of pushing onto each lane.
func (p *Processor) IngestPacket(pkt timeshift.TaggedAudioPacket) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.detectFormatChangeLocked(pkt)
	p.detectDiscontinuityLocked(pkt)

	p.pending = append(p.pending, pkt.Payload...)

	cfg := p.ap.Config()
	frameBytes := dsp.FrameSize * cfg.InputChannels * bytesPerSample(cfg.InputBitDepth)
	if frameBytes <= 0 {
		p.pending = p.pending[:0]
		return
	}

	outChannels := cfg.OutputChannels
	output := make([]int32, dsp.FrameSize*outChannels)

	rtp := pkt.RTPTimestamp
	for len(p.pending) >= frameBytes {
		block := p.pending[:frameBytes]
		n, err := p.ap.Process(block, output)
		p.pending = p.pending[frameBytes:]
		if err != nil {
			p.log.Warn("process failed", "err", err)
			continue
		}
		p.emitLocked(output[:n*outChannels], rtp, cfg)
		rtp += uint32(n)
	}

	if len(p.pending) > 0 {
		// carry the remainder forward; copy to avoid aliasing pkt.Payload
		rem := make([]byte, len(p.pending))
		copy(rem, p.pending)
		p.pending = rem
	}
}

func (p *Processor) emitLocked(samples []int32, rtp uint32, cfg dsp.Config) {
	chunk := sink.ProcessedAudioChunk{
		Samples:            samples,
		OriginSourceTag:    p.SourceTag,
		OriginRTPTimestamp: rtp,
		DispatchDeadline:   time.Now().Add(p.delay),
		SampleRate:         cfg.OutputSampleRate,
		Channels:           cfg.OutputChannels,
		BitDepth:           32,
	}
	for _, lane := range p.lanes {
		lane.Push(chunk)
	}
}

// detectFormatChangeLocked reconfigures the AudioProcessor in-place
// when the packet's format no longer matches the processor's current
// input configuration (spec.md §4.4).
func (p *Processor) detectFormatChangeLocked(pkt timeshift.TaggedAudioPacket) {
	cfg := p.ap.Config()
	if pkt.SampleRate == cfg.InputSampleRate && pkt.Channels == cfg.InputChannels && pkt.BitDepth == cfg.InputBitDepth {
		return
	}
	if pkt.SampleRate == 0 && pkt.Channels == 0 && pkt.BitDepth == 0 {
		return
	}
	newCfg := cfg
	if pkt.SampleRate > 0 {
		newCfg.InputSampleRate = pkt.SampleRate
	}
	if pkt.Channels > 0 {
		newCfg.InputChannels = pkt.Channels
	}
	if pkt.BitDepth > 0 {
		newCfg.InputBitDepth = pkt.BitDepth
	}
	if err := p.ap.Reconfigure(newCfg); err != nil {
		p.log.Warn("reconfigure on format change failed", "err", err)
		return
	}
	p.reconfigurations.Inc()
	p.pending = p.pending[:0]
	p.haveLastPacket = false
	p.log.Info("input format changed", "sample_rate", newCfg.InputSampleRate, "channels", newCfg.InputChannels, "bit_depth", newCfg.InputBitDepth)
}

// detectDiscontinuityLocked flushes filter/resampler state when the
// gap between the previous packet's end and this packet's start
// exceeds discontinuity_threshold_ms (spec.md §4.4).
func (p *Processor) detectDiscontinuityLocked(pkt timeshift.TaggedAudioPacket) {
	if !pkt.HasRTP {
		return
	}
	cfg := p.ap.Config()
	sampleRate := cfg.InputSampleRate
	if sampleRate <= 0 {
		sampleRate = 48000
	}
	packetFrames := 0
	if frameBytes := cfg.InputChannels * bytesPerSample(cfg.InputBitDepth); frameBytes > 0 {
		packetFrames = len(pkt.Payload) / frameBytes
	}

	if !p.haveLastPacket {
		p.lastPacketEndRTP = pkt.RTPTimestamp + uint32(packetFrames)
		p.haveLastPacket = true
		return
	}

	gapSamples := int64(pkt.RTPTimestamp) - int64(p.lastPacketEndRTP)
	gapMs := float64(gapSamples) / float64(sampleRate) * 1000.0
	if gapMs < 0 {
		gapMs = -gapMs
	}
	if gapMs > float64(p.cfg.DiscontinuityThresholdMs) {
		p.ap.Flush()
		p.pending = p.pending[:0]
		p.discontinuities.Inc()
		p.log.Debug("discontinuity detected, flushed processor state", "gap_ms", gapMs)
	}
	p.lastPacketEndRTP = pkt.RTPTimestamp + uint32(packetFrames)
}
