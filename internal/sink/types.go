// Package sink implements the SinkAudioMixer and its input lanes
// (spec.md §4.5, §3 SinkInputLane).
package sink

import (
	"time"

	"github.com/netham45/screamrouter-sub013/internal/stats"
)

// ProcessedAudioChunk is produced by a SourceInputProcessor and consumed
// by exactly one SinkAudioMixer input lane (spec.md §3).
type ProcessedAudioChunk struct {
	Samples            []int32
	OriginSourceTag    string
	OriginRTPTimestamp uint32
	DispatchDeadline   time.Time
	SampleRate         int
	Channels           int
	BitDepth           int
}

// InputLane is a bounded FIFO of ProcessedAudioChunk plus a readiness
// flag, one per connected (source_instance, sink) pair (spec.md §3).
//
// driftRatio holds this lane's sink-side drift-compensation rate
// (spec.md §4.7's SinkSynchronizationCoordinator.CalculateRateAdjustment),
// retuned by the owning Mixer every cycle and applied on pop. This is
// deliberately separate from the TimeshiftManager's per-source
// playback-rate PI controller: one source can fan its output into
// several sinks, and each sink's clock can drift against the source
// independently, so the correction has to live per lane rather than
// on the shared upstream AudioProcessor.
type InputLane struct {
	ch         chan ProcessedAudioChunk
	channels   int
	ready      atomicBool
	driftRatio atomicFloat64

	dropped  stats.Counter
	accepted stats.Counter
}

// NewInputLane allocates a lane with the given bounded capacity for a
// sink mixing the given channel count.
func NewInputLane(capacity, channels int) *InputLane {
	if capacity <= 0 {
		capacity = 1
	}
	if channels <= 0 {
		channels = 2
	}
	l := &InputLane{ch: make(chan ProcessedAudioChunk, capacity), channels: channels}
	l.driftRatio.Store(1.0)
	return l
}

// SetDriftRate retunes the lane's drift-compensation ratio. The mixer
// calls it twice per cycle: with the value from Barrier.BeginDispatch
// before popping, and with the value from Barrier.CompleteDispatch
// after the cycle; ratio <= 0 is treated as unity (no compensation).
func (l *InputLane) SetDriftRate(ratio float64) {
	if ratio <= 0 {
		ratio = 1.0
	}
	l.driftRatio.Store(ratio)
}

// Push enqueues a chunk, non-blocking; on a full lane the oldest chunk
// is dropped and counted (spec.md §5: "non-blocking; on full queue,
// oldest-drop with counter").
func (l *InputLane) Push(c ProcessedAudioChunk) {
	select {
	case l.ch <- c:
		l.accepted.Inc()
		l.ready.Store(true)
		return
	default:
	}
	select {
	case <-l.ch:
		l.dropped.Inc()
	default:
	}
	select {
	case l.ch <- c:
		l.accepted.Inc()
		l.ready.Store(true)
	default:
		l.dropped.Inc()
	}
}

// TryPop drains at most one chunk (spec.md §4.5 step 2: "Drain each
// input lane by at most one chunk").
func (l *InputLane) TryPop() (ProcessedAudioChunk, bool) {
	select {
	case c := <-l.ch:
		if len(l.ch) == 0 {
			l.ready.Store(false)
		}
		if ratio := l.driftRatio.Load(); ratio != 1.0 {
			c.Samples = applyDriftCompensation(c.Samples, l.channels, ratio)
		}
		return c, true
	default:
		return ProcessedAudioChunk{}, false
	}
}

// Ready reports whether the lane currently has at least one buffered
// chunk.
func (l *InputLane) Ready() bool { return l.ready.Load() }

// Dropped returns the oldest-drop counter.
func (l *InputLane) Dropped() uint64 { return l.dropped.Snapshot() }
