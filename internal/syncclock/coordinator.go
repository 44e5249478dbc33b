package syncclock

import (
	"sync"
	"time"

	"github.com/netham45/screamrouter-sub013/internal/sink"
)

// State is the coordinator's lifecycle state (spec.md §4.7).
type State int

const (
	// Disabled means the coordinator bypasses barrier coordination.
	Disabled State = iota
	// Enabled means the coordinator participates in barrier waits.
	Enabled
)

// Coordinator is the SinkSynchronizationCoordinator of spec.md §4.7,
// one per sink, referencing its rate group's shared Clock. It
// implements sink.Barrier so a Mixer can drive it directly.
type Coordinator struct {
	SinkID string
	clock  *Clock

	barrierTimeout time.Duration

	mu          sync.Mutex
	state       State
	localRTP    uint32
	sampleRate  int
}

// NewCoordinator constructs a Coordinator in the Disabled state;
// Enable registers it with clock.
func NewCoordinator(sinkID string, clock *Clock, barrierTimeout time.Duration) *Coordinator {
	return &Coordinator{
		SinkID:         sinkID,
		clock:          clock,
		barrierTimeout: barrierTimeout,
		sampleRate:     clock.SampleRate,
	}
}

// Enable transitions Disabled -> Enabled(registered) (spec.md §4.7).
func (co *Coordinator) Enable(initialRTP uint32) {
	co.mu.Lock()
	co.state = Enabled
	co.localRTP = initialRTP
	co.mu.Unlock()
	co.clock.RegisterSink(co.SinkID, initialRTP)
}

// Disable transitions Enabled -> Disabled(unregistered) (spec.md §4.7).
// Safe to call from destruction as well as an explicit disable() call.
func (co *Coordinator) Disable() {
	co.mu.Lock()
	wasEnabled := co.state == Enabled
	co.state = Disabled
	co.mu.Unlock()
	if wasEnabled {
		co.clock.UnregisterSink(co.SinkID)
	}
}

func (co *Coordinator) isEnabled() bool {
	co.mu.Lock()
	defer co.mu.Unlock()
	return co.state == Enabled
}

// BeginDispatch waits the barrier (if enabled) and returns the current
// rate adjustment for this sink (spec.md §4.7's begin_dispatch).
func (co *Coordinator) BeginDispatch() float64 {
	if !co.isEnabled() {
		return 1.0
	}
	co.clock.WaitForDispatchBarrier(co.SinkID, co.barrierTimeout)
	return co.clock.CalculateRateAdjustment(co.SinkID)
}

// CompleteDispatch advances the sink's local RTP cursor, reports
// timing, and returns the next rate adjustment for propagation to the
// mixer's resampling stage (spec.md §4.7's complete_dispatch).
func (co *Coordinator) CompleteDispatch(timing sink.Timing) float64 {
	if !co.isEnabled() {
		return 1.0
	}

	co.mu.Lock()
	co.localRTP += uint32(timing.SamplesProduced)
	co.mu.Unlock()

	co.clock.ReportSinkTiming(co.SinkID, timing.SamplesProduced, timing.Underrun, timing.SamplesProduced)
	return co.clock.CalculateRateAdjustment(co.SinkID)
}

// LocalRTP returns the coordinator's current local RTP cursor.
func (co *Coordinator) LocalRTP() uint32 {
	co.mu.Lock()
	defer co.mu.Unlock()
	return co.localRTP
}
