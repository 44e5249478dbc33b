package sink

import (
	"sync"
	"time"

	"github.com/charmbracelet/log"

	"github.com/netham45/screamrouter-sub013/internal/dsp"
	"github.com/netham45/screamrouter-sub013/internal/stats"
)

// Sender is the subset of INetworkSender (spec.md §4.6) the mixer
// drives; concrete ScreamSender/RTPSender implementations live in
// internal/network and are injected at sink construction so this
// package never imports network transport details.
type Sender interface {
	Send(chunk []int32, sampleCount int, rtpTimestamp uint32, marker bool) error
	Stop()
}

// Tee receives a copy of every mixed chunk for MP3/WebRTC fan-out
// (spec.md §4.5 step 5). Implementations must not block the mixer;
// a bounded queue with drop-oldest semantics is expected internally.
type Tee interface {
	Accept(chunk []int32, sampleCount int)
}

// Timing is reported to a Barrier after each cycle.
type Timing struct {
	SamplesProduced int
	Underrun        bool
	ActiveLanes     int
	BufferFillMs    float64
}

// Barrier is the subset of SinkSynchronizationCoordinator (spec.md
// §4.7) the mixer drives. A nil Barrier means synchronization is
// disabled for this sink and every cycle proceeds immediately with a
// rate adjustment of 1.0.
type Barrier interface {
	BeginDispatch() float64
	CompleteDispatch(timing Timing) float64
}

// Mixer is the SinkAudioMixer of spec.md §4.5: one per sink, draining
// its input lanes once per cycle, mixing, and handing the result to a
// Sender plus any registered Tees.
type Mixer struct {
	cfg     Config
	log     *log.Logger
	barrier Barrier
	sender  Sender

	mu    sync.RWMutex
	lanes map[laneKey]*InputLane
	tees  []Tee

	rtpCursor  uint32
	lastActive bool // whether the previous cycle produced non-silent output

	underruns   stats.Counter
	cyclesRun   stats.Counter
	lastCycleAt time.Time

	stopCh chan struct{}
	once   sync.Once
	wg     sync.WaitGroup
}

// laneKey identifies one connected (source instance, sink) input lane.
type laneKey struct {
	sourceTag  string
	instanceID string
}

// NewMixer constructs a Mixer. barrier may be nil (synchronization
// disabled for this sink, per spec.md §4.7's Disabled state).
func NewMixer(cfg Config, sender Sender, barrier Barrier, logger *log.Logger) *Mixer {
	if logger == nil {
		logger = log.Default()
	}
	if cfg.FrameSize <= 0 {
		cfg.FrameSize = dsp.FrameSize
	}
	return &Mixer{
		cfg:     cfg,
		log:     logger.With("component", "mixer", "sink_id", cfg.SinkID),
		barrier: barrier,
		sender:  sender,
		lanes:   make(map[laneKey]*InputLane),
		stopCh:  make(chan struct{}),
	}
}

// ConnectLane registers a new input lane for (sourceTag, instanceID)
// and returns it so the owning SourceInputProcessor can push chunks.
func (m *Mixer) ConnectLane(sourceTag, instanceID string) *InputLane {
	lane := NewInputLane(m.cfg.MaxInputQueueChunks, m.cfg.Channels)
	m.mu.Lock()
	m.lanes[laneKey{sourceTag, instanceID}] = lane
	m.mu.Unlock()
	return lane
}

// DisconnectLane removes a previously connected lane.
func (m *Mixer) DisconnectLane(sourceTag, instanceID string) {
	m.mu.Lock()
	delete(m.lanes, laneKey{sourceTag, instanceID})
	m.mu.Unlock()
}

// AddTee registers a fan-out listener.
func (m *Mixer) AddTee(t Tee) {
	m.mu.Lock()
	m.tees = append(m.tees, t)
	m.mu.Unlock()
}

// Start launches the per-sink cycle loop as its own goroutine (spec.md
// §5: "One SinkAudioMixer thread per sink"), returning immediately.
// The wait-group increment happens synchronously here, before the
// goroutine starts, so a Stop call made right after Start can never
// race with it.
func (m *Mixer) Start(cycleInterval time.Duration) {
	m.wg.Add(1)
	go m.run(cycleInterval)
}

// run drives the per-sink cycle loop until Stop is called.
func (m *Mixer) run(cycleInterval time.Duration) {
	defer m.wg.Done()
	if cycleInterval <= 0 {
		cycleInterval = time.Duration(float64(m.cfg.FrameSize) / float64(sampleRateOrDefault(m.cfg.SampleRate)) * float64(time.Second))
	}
	ticker := time.NewTicker(cycleInterval)
	defer ticker.Stop()
	for {
		select {
		case <-m.stopCh:
			return
		case <-ticker.C:
			m.RunOnce()
		}
	}
}

func sampleRateOrDefault(rate int) int {
	if rate <= 0 {
		return 48000
	}
	return rate
}

// Stop halts the mixer's cycle loop and the sender, joining before
// return (spec.md §5 shutdown discipline).
func (m *Mixer) Stop() {
	m.once.Do(func() { close(m.stopCh) })
	m.wg.Wait()
	if m.sender != nil {
		m.sender.Stop()
	}
}

// RunOnce executes exactly one mixer cycle (spec.md §4.5 steps 1-6).
// Exported so tests and the engine's deterministic test mode can drive
// cycles without a running ticker.
func (m *Mixer) RunOnce() {
	rateAdjustment := 1.0
	if m.barrier != nil {
		rateAdjustment = m.barrier.BeginDispatch()
	}

	m.mu.RLock()
	lanes := make([]*InputLane, 0, len(m.lanes))
	for _, l := range m.lanes {
		lanes = append(lanes, l)
	}
	tees := append([]Tee(nil), m.tees...)
	m.mu.RUnlock()

	// Every lane feeding this sink drifts against the same output
	// clock, so the sink-wide rate adjustment applies uniformly; each
	// lane still compensates independently of whatever rate its own
	// source's TimeshiftManager subscription is running at.
	for _, lane := range lanes {
		lane.SetDriftRate(rateAdjustment)
	}

	frameSize := m.cfg.FrameSize
	channels := m.cfg.Channels
	if channels <= 0 {
		channels = 2
	}
	samples := frameSize * channels

	acc := make([]int64, samples)
	activeLanes := 0
	graceWindow := time.Duration(m.cfg.UnderrunHoldTimeoutMs) * time.Millisecond

	deadline := time.Now().Add(graceWindow)
	for _, lane := range lanes {
		chunk, ok := lane.TryPop()
		if !ok && graceWindow > 0 {
			for time.Now().Before(deadline) {
				if chunk, ok = lane.TryPop(); ok {
					break
				}
				time.Sleep(time.Millisecond)
			}
		}
		if !ok {
			continue
		}
		activeLanes++
		n := len(chunk.Samples)
		if n > samples {
			n = samples
		}
		for i := 0; i < n; i++ {
			acc[i] += int64(chunk.Samples[i])
		}
	}

	underrun := activeLanes == 0
	out := make([]int32, samples)
	if activeLanes > 0 {
		divisor := int64(1)
		if m.cfg.VolumeNormalization && activeLanes > 1 {
			divisor = int64(activeLanes)
		}
		for i, v := range acc {
			mixed := float64(v) / float64(divisor)
			out[i] = clampMixedSample(mixed)
		}
	}

	if underrun {
		m.underruns.Inc()
	}
	m.cyclesRun.Inc()
	m.lastCycleAt = time.Now()

	marker := underrun != m.lastActive || !m.lastActive
	m.lastActive = !underrun

	if m.sender != nil && !underrun {
		_ = m.sender.Send(out, frameSize, m.rtpCursor, marker)
	}
	m.rtpCursor += uint32(frameSize)

	for _, t := range tees {
		t.Accept(out, frameSize)
	}

	if m.barrier != nil {
		nextRate := m.barrier.CompleteDispatch(Timing{
			SamplesProduced: frameSize,
			Underrun:        underrun,
			ActiveLanes:     activeLanes,
		})
		// CompleteDispatch's rate reflects this cycle's just-reported
		// timing, fresher than the one BeginDispatch handed out before
		// the pop — apply it now so the next cycle's pop starts from
		// the latest estimate instead of a cycle-stale one.
		for _, lane := range lanes {
			lane.SetDriftRate(nextRate)
		}
	}
}

// Underruns returns the count of cycles that produced silence for lack
// of any ready input lane.
func (m *Mixer) Underruns() uint64 { return m.underruns.Snapshot() }

// Cycles returns the total number of cycles run.
func (m *Mixer) Cycles() uint64 { return m.cyclesRun.Snapshot() }

const int32FullScale = 2147483647.0

// clampMixedSample converts an accumulated sum of full-scale int32
// samples back to int32, soft-clipping only when the sum has actually
// exceeded full scale so headroom is preserved on the common case
// (spec.md §4.5 step 3: "sum with headroom preserved via soft clip").
func clampMixedSample(v float64) int32 {
	normalized := v / int32FullScale
	if normalized > 1 || normalized < -1 {
		normalized = dsp.SoftClip(normalized)
	}
	return int32(normalized * int32FullScale)
}
