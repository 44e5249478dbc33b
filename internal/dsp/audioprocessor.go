package dsp

import (
	"sync/atomic"
)

// FrameSize is the fixed processing unit used end-to-end downstream of
// the SourceInputProcessor (spec.md GLOSSARY "Chunk").
const FrameSize = 1152

// maxOversample bounds the scratch buffer sizing; spec.md doesn't name
// an upper bound but 8x is generous for any sane oversampling_factor
// tuning value.
const maxOversample = 8

// Config is the processor's input/output shape, changed only on
// reconfiguration (format change or explicit target change), never on
// the steady-state hot path.
type Config struct {
	InputSampleRate    int
	OutputSampleRate   int
	InputChannels      int
	OutputChannels     int
	InputBitDepth      int // 16, 24, or 32
	OversamplingFactor int
}

// Params is an immutable snapshot of the tunable, frequently-updated
// parameters (spec.md §4.4 update_parameters). A new Params is built and
// atomically swapped in; the processing goroutine never mutates one in
// place, so readers never observe a torn update (spec.md §5:
// "Configuration updates ... take effect no later than the next chunk
// boundary").
type Params struct {
	Volume               float64
	EQGains              [EQBands]float64
	EQNormalization      bool
	VolumeNormalization  bool
	PlaybackRate         float64
	DCFilterCutoffHz     float64
	DCFilterEnabled      bool
	DitherShapingFactor  float64
	NormalizationTarget  float64
	NormalizationAttack  float64
	NormalizationDecay   float64
	VolumeSmoothing      float64
	SpeakerLayouts       map[int]SpeakerLayout // keyed by input channel count
}

// DefaultParams returns a flat-EQ, unity-volume parameter set.
func DefaultParams() Params {
	p := Params{
		Volume:              1.0,
		PlaybackRate:        1.0,
		DCFilterCutoffHz:    20,
		DitherShapingFactor: 0.5,
		NormalizationTarget: 0.2,
		NormalizationAttack: 0.2,
		NormalizationDecay:  0.02,
		VolumeSmoothing:     0.01,
	}
	for i := range p.EQGains {
		p.EQGains[i] = 1.0
	}
	return p
}

// AudioProcessor implements the 10-stage pipeline of spec.md §4.2. All
// buffers are sized at construction/reconfiguration time; Process
// performs no heap allocation in steady state (spec.md §3 invariant 5).
type AudioProcessor struct {
	cfg    Config
	params atomic.Pointer[Params]

	currentVolume []float64 // per input channel; each channel runs its own copy of the same ramp over its whole block
	normGain      []float64 // per input channel

	dcFilters []Biquad // one per output channel
	eqChains  []*EQChain

	upsampler   *Resampler
	downsampler *Resampler

	activeLayout SpeakerLayout
	taps         []mixTap

	ditherError []float64 // per output channel, noise-shaping accumulator

	lastEQGains     [EQBands]float64
	lastEQNormalize bool
	eqInitialized   bool

	// scratch, pre-sized
	inFloat    []float64   // interleaved-decoded -> deinterleaved per channel below
	perInCh    [][]float64 // [inChannels][FrameSize]
	upsampled  [][]float64 // [inChannels][FrameSize*oversample]
	mixedOut   [][]float64 // [outChannels][FrameSize*oversample]
	downsample [][]float64 // [outChannels][FrameSize]

	reconfigurations uint64
}

// NewAudioProcessor constructs a processor for cfg, allocating every
// buffer it will ever need up front.
func NewAudioProcessor(cfg Config) (*AudioProcessor, error) {
	ap := &AudioProcessor{}
	if err := ap.Reconfigure(cfg); err != nil {
		return nil, err
	}
	initial := DefaultParams()
	ap.params.Store(&initial)
	return ap, nil
}

// Reconfigure rebuilds every stage's internal state for a new input/
// output shape: resamplers recreated, filters flushed, mix taps rebuilt
// (spec.md §4.4 "format change detection").
func (ap *AudioProcessor) Reconfigure(cfg Config) error {
	if cfg.InputSampleRate <= 0 || cfg.OutputSampleRate <= 0 {
		return &ConfigError{Reason: "sample rate must be positive"}
	}
	if cfg.InputChannels <= 0 || cfg.InputChannels > MaxChannels ||
		cfg.OutputChannels <= 0 || cfg.OutputChannels > MaxChannels {
		return &ConfigError{Reason: "channel count out of range"}
	}
	if cfg.OversamplingFactor <= 0 {
		cfg.OversamplingFactor = 1
	}
	if cfg.OversamplingFactor > maxOversample {
		cfg.OversamplingFactor = maxOversample
	}
	ap.cfg = cfg

	ap.dcFilters = make([]Biquad, cfg.OutputChannels)
	ap.eqChains = make([]*EQChain, cfg.OutputChannels)
	oversampledRate := float64(cfg.OutputSampleRate * cfg.OversamplingFactor)
	for c := range ap.eqChains {
		ap.eqChains[c] = NewEQChain(oversampledRate)
		ap.dcFilters[c].SetBiquad(HighPass, 20, oversampledRate, 0.707, 0)
	}

	ap.upsampler = NewResampler(cfg.InputChannels)
	ap.downsampler = NewResampler(cfg.OutputChannels)

	ap.ditherError = make([]float64, cfg.OutputChannels)
	ap.currentVolume = make([]float64, cfg.InputChannels)
	ap.normGain = make([]float64, cfg.InputChannels)

	maxFrames := FrameSize * cfg.OversamplingFactor
	ap.inFloat = make([]float64, FrameSize*cfg.InputChannels)
	ap.perInCh = make([][]float64, cfg.InputChannels)
	ap.upsampled = make([][]float64, cfg.InputChannels)
	for c := range ap.perInCh {
		ap.perInCh[c] = make([]float64, FrameSize)
		ap.upsampled[c] = make([]float64, maxFrames)
	}
	ap.mixedOut = make([][]float64, cfg.OutputChannels)
	ap.downsample = make([][]float64, cfg.OutputChannels)
	for c := range ap.mixedOut {
		ap.mixedOut[c] = make([]float64, maxFrames)
		ap.downsample[c] = make([]float64, FrameSize)
	}

	if p := ap.params.Load(); p != nil {
		ap.applySpeakerLayout(*p)
	} else {
		ap.activeLayout = BuildAutoDownmix(cfg.InputChannels, cfg.OutputChannels)
		ap.taps = buildTaps(ap.activeLayout, cfg.InputChannels, cfg.OutputChannels)
	}

	ap.flushAll()
	atomic.AddUint64(&ap.reconfigurations, 1)
	return nil
}

// Reconfigurations reports how many times Reconfigure has run, per
// spec.md §4.4's "reconfigurations counter".
func (ap *AudioProcessor) Reconfigurations() uint64 {
	return atomic.LoadUint64(&ap.reconfigurations)
}

// Flush resets all filter/resampler state without changing
// configuration, used on stream discontinuities (spec.md §4.4).
func (ap *AudioProcessor) Flush() {
	ap.flushAll()
}

// Config returns the processor's current input/output shape.
func (ap *AudioProcessor) Config() Config {
	return ap.cfg
}

func (ap *AudioProcessor) flushAll() {
	for i := range ap.dcFilters {
		ap.dcFilters[i].Flush()
	}
	for _, eq := range ap.eqChains {
		eq.Flush()
	}
	ap.upsampler.Reset()
	ap.downsampler.Reset()
	for i := range ap.ditherError {
		ap.ditherError[i] = 0
	}
}

// UpdateParams installs a new parameter snapshot (spec.md §4.4). Each
// unset field is expected to already carry the caller's merged-forward
// value — callers build the new Params from the previous one via
// CurrentParams() plus their deltas.
func (ap *AudioProcessor) UpdateParams(p Params) {
	old := ap.params.Load()
	ap.params.Store(&p)
	if old == nil || !layoutsEqual(old.SpeakerLayouts, p.SpeakerLayouts) {
		ap.applySpeakerLayout(p)
	}
}

// CurrentParams returns the active parameter snapshot for read-modify-
// write updates.
func (ap *AudioProcessor) CurrentParams() Params {
	if p := ap.params.Load(); p != nil {
		return *p
	}
	return DefaultParams()
}

func layoutsEqual(a, b map[int]SpeakerLayout) bool {
	if len(a) != len(b) {
		return false
	}
	for k, va := range a {
		vb, ok := b[k]
		if !ok || va != vb {
			return false
		}
	}
	return true
}

func (ap *AudioProcessor) applySpeakerLayout(p Params) {
	layout, ok := p.SpeakerLayouts[ap.cfg.InputChannels]
	switch {
	case !ok:
		layout = BuildAutoDownmix(ap.cfg.InputChannels, ap.cfg.OutputChannels)
	case layout.AutoMode:
		layout = BuildAutoDownmix(ap.cfg.InputChannels, ap.cfg.OutputChannels)
	case !validLayout(layout, ap.cfg.InputChannels, ap.cfg.OutputChannels):
		// Invalid custom matrix: fall back rather than tear down a live
		// sink for a malformed UI submission (spec.md §7).
		layout = BuildAutoDownmix(ap.cfg.InputChannels, ap.cfg.OutputChannels)
	}
	ap.activeLayout = layout
	ap.taps = buildTaps(layout, ap.cfg.InputChannels, ap.cfg.OutputChannels)
	for _, eq := range ap.eqChains {
		eq.Flush()
	}
	for i := range ap.dcFilters {
		ap.dcFilters[i].Flush()
	}
}

// Process runs one FrameSize block of interleaved input PCM (at
// cfg.InputBitDepth) through the full pipeline, writing interleaved
// int32 output at cfg.OutputSampleRate/OutputChannels into output.
// Returns the number of output frames written.
func (ap *AudioProcessor) Process(input []byte, output []int32) (int, error) {
	if ap.cfg.InputSampleRate <= 0 || ap.cfg.OutputSampleRate <= 0 {
		return 0, &ConfigError{Reason: "processor not configured"}
	}
	p := ap.CurrentParams()

	frames := decodePCM(input, ap.cfg.InputBitDepth, ap.cfg.InputChannels, ap.inFloat)
	if frames == 0 {
		return 0, nil
	}

	deinterleave(ap.inFloat, frames, ap.cfg.InputChannels, ap.perInCh)

	for c := 0; c < ap.cfg.InputChannels; c++ {
		ap.applyVolumeAndNormalization(ap.perInCh[c][:frames], c, &p)
		for i, s := range ap.perInCh[c][:frames] {
			ap.perInCh[c][i] = SoftClip(s)
		}
	}

	ratio := ap.resampleRatio(p.PlaybackRate)
	ap.upsampler.SetRatio(ratio)
	upFrames := 0
	for c := 0; c < ap.cfg.InputChannels; c++ {
		upFrames = ap.upsampler.Process(c, ap.perInCh[c][:frames], ap.upsampled[c])
	}

	for _, ch := range ap.mixedOut {
		for i := range ch {
			ch[i] = 0
		}
	}
	for c := 0; c < ap.cfg.OutputChannels; c++ {
		out := ap.mixedOut[c][:upFrames]
		for _, t := range ap.taps {
			if t.dstChannel != c {
				continue
			}
			src := ap.upsampled[t.srcChannel][:upFrames]
			for i, s := range src {
				out[i] += s * t.gain
			}
		}
	}

	if !ap.eqInitialized || ap.lastEQGains != p.EQGains || ap.lastEQNormalize != p.EQNormalization {
		for _, eq := range ap.eqChains {
			eq.SetGains(p.EQGains, p.EQNormalization)
		}
		ap.lastEQGains = p.EQGains
		ap.lastEQNormalize = p.EQNormalization
		ap.eqInitialized = true
	}

	for c := 0; c < ap.cfg.OutputChannels; c++ {
		out := ap.mixedOut[c][:upFrames]
		if p.DCFilterEnabled {
			ap.dcFilters[c].ProcessBlock(out)
		}
		ap.eqChains[c].Process(out)
	}

	downRatio := 1.0 / ratio
	ap.downsampler.SetRatio(downRatio)
	outFrames := 0
	for c := 0; c < ap.cfg.OutputChannels; c++ {
		outFrames = ap.downsampler.Process(c, ap.mixedOut[c][:upFrames], ap.downsample[c])
	}

	if outFrames > FrameSize {
		outFrames = FrameSize
	}

	for c := 0; c < ap.cfg.OutputChannels; c++ {
		ap.dither(ap.downsample[c][:outFrames], c, p.DitherShapingFactor)
	}

	interleaveToInt32(ap.downsample, outFrames, ap.cfg.OutputChannels, output)
	return outFrames, nil
}

func (ap *AudioProcessor) resampleRatio(playbackRate float64) float64 {
	if playbackRate <= 0 {
		playbackRate = 1
	}
	num := float64(ap.cfg.OutputSampleRate*ap.cfg.OversamplingFactor) / playbackRate
	return num / float64(ap.cfg.InputSampleRate)
}

// applyVolumeAndNormalization runs channel c's one-pole volume smoother
// and RMS-normalization gain over samples. Each input channel keeps its
// own currentVolume/normGain state (spec.md §4.2 step 2), so with every
// channel fed the same Params and the same sample count per Process
// call, all channels advance the ramp in lock-step instead of one
// channel's trajectory bleeding into the next.
func (ap *AudioProcessor) applyVolumeAndNormalization(samples []float64, c int, p *Params) {
	alpha := p.VolumeSmoothing
	if alpha <= 0 {
		alpha = 0.01
	}
	if p.VolumeNormalization && len(samples) > 0 {
		var sumSq float64
		for _, s := range samples {
			sumSq += s * s
		}
		rms := sumSqRootOverLen(sumSq, len(samples))
		target := 1.0
		if rms > 1e-9 {
			target = p.NormalizationTarget / rms
		}
		a := p.NormalizationDecay
		if target > ap.normGain[c] {
			a = p.NormalizationAttack
		}
		if a <= 0 {
			a = 0.05
		}
		ap.normGain[c] += (target - ap.normGain[c]) * a
	} else {
		ap.normGain[c] = 1.0
	}

	for i, s := range samples {
		ap.currentVolume[c] += (p.Volume - ap.currentVolume[c]) * alpha
		samples[i] = s * ap.currentVolume[c] * ap.normGain[c]
	}
}

func sumSqRootOverLen(sumSq float64, n int) float64 {
	if n == 0 {
		return 0
	}
	return sqrtDiv(sumSq, n)
}
