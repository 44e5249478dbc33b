// Package syncclock implements the GlobalSynchronizationClock and
// SinkSynchronizationCoordinator of spec.md §4.7: one clock per sample
// rate, with per-sink coordinators that barrier-synchronize dispatch
// across every sink sharing that rate group.
package syncclock

import (
	"sync"
	"time"

	"github.com/netham45/screamrouter-sub013/internal/stats"
)

// SinkTimingInfo mirrors spec.md §3's struct of the same name.
type SinkTimingInfo struct {
	SinkID               string
	TotalSamplesOutput   uint64
	LastReportedRTP      uint32
	LastReportTime       time.Time
	SmoothedErrorSamples float64
	RateAdjustment       float64
	Active               bool
	UnderrunCount        uint64
}

// Clock is the GlobalSynchronizationClock of spec.md §4.7, one
// instance per sample rate.
type Clock struct {
	SampleRate int

	mu                sync.Mutex
	referenceMono     time.Time
	referenceRTP      uint32
	sinks             map[string]*SinkTimingInfo
	barrierGeneration uint64
	readyCount        int
	release           chan struct{} // closed when the current generation's barrier releases

	enabled bool

	maxRateAdjustment float64
	kp                float64
	emaFactor         float64

	barrierTimeouts stats.Counter
}

// Config holds the clock-wide tuning used by calculate_rate_adjustment
// (spec.md §4.7).
type Config struct {
	MaxRateAdjustment float64 // e.g. 0.02 for ±2%
	Kp                float64
	EMAFactor         float64 // smoothing factor in [0,1]
}

// DefaultConfig returns conservative rate-adjustment tuning.
func DefaultConfig() Config {
	return Config{MaxRateAdjustment: 0.02, Kp: 0.3, EMAFactor: 0.2}
}

// NewClock constructs a Clock for sampleRate, anchored to now.
func NewClock(sampleRate int, cfg Config) *Clock {
	c := &Clock{
		SampleRate:        sampleRate,
		referenceMono:     time.Now(),
		sinks:             make(map[string]*SinkTimingInfo),
		release:           make(chan struct{}),
		enabled:           true,
		maxRateAdjustment: cfg.MaxRateAdjustment,
		kp:                cfg.Kp,
		emaFactor:         cfg.EMAFactor,
	}
	return c
}

// GetCurrentPlaybackTimestamp implements spec.md §4.7's
// get_current_playback_timestamp.
func (c *Clock) GetCurrentPlaybackTimestamp() uint32 {
	c.mu.Lock()
	defer c.mu.Unlock()
	elapsed := time.Since(c.referenceMono).Seconds()
	return c.referenceRTP + uint32(elapsed*float64(c.SampleRate))
}

// RegisterSink registers id with initialTS and wakes any barrier
// waiters so the new group size is observed.
func (c *Clock) RegisterSink(id string, initialTS uint32) {
	c.mu.Lock()
	c.sinks[id] = &SinkTimingInfo{
		SinkID:          id,
		LastReportedRTP: initialTS,
		RateAdjustment:  1.0,
		Active:          true,
	}
	c.releaseBarrierLocked()
	c.mu.Unlock()
}

// UnregisterSink removes id and wakes any barrier waiters.
func (c *Clock) UnregisterSink(id string) {
	c.mu.Lock()
	delete(c.sinks, id)
	c.releaseBarrierLocked()
	c.mu.Unlock()
}

// releaseBarrierLocked advances the barrier generation and wakes every
// current waiter; caller must hold c.mu.
func (c *Clock) releaseBarrierLocked() {
	c.readyCount = 0
	c.barrierGeneration++
	close(c.release)
	c.release = make(chan struct{})
}

// ReportSinkTiming updates totals and underrun counters for id
// (spec.md §4.7's report_sink_timing).
func (c *Clock) ReportSinkTiming(id string, samplesProduced int, underrun bool, actualSamples int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	info, ok := c.sinks[id]
	if !ok {
		return
	}
	info.TotalSamplesOutput += uint64(samplesProduced)
	info.LastReportTime = time.Now()
	if underrun {
		info.UnderrunCount++
	}

	expected := samplesProduced
	errSamples := float64(expected - actualSamples)
	info.SmoothedErrorSamples = c.emaFactor*errSamples + (1-c.emaFactor)*info.SmoothedErrorSamples
}

// CalculateRateAdjustment implements spec.md §4.7's
// calculate_rate_adjustment for id.
func (c *Clock) CalculateRateAdjustment(id string) float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	info, ok := c.sinks[id]
	if !ok {
		return 1.0
	}
	adj := 1 + (info.SmoothedErrorSamples/float64(c.SampleRate))*c.kp
	if adj > 1+c.maxRateAdjustment {
		adj = 1 + c.maxRateAdjustment
	} else if adj < 1-c.maxRateAdjustment {
		adj = 1 - c.maxRateAdjustment
	}
	info.RateAdjustment = adj
	return adj
}

// WaitForDispatchBarrier implements spec.md §4.7's reusable
// generation-counter barrier. If only one sink is active, it returns
// immediately. Otherwise it waits until every active sink has arrived
// at the current generation, or timeout elapses (counted, and never
// deadlocks: the calling sink decrements readyCount on timeout exit).
func (c *Clock) WaitForDispatchBarrier(id string, timeout time.Duration) {
	c.mu.Lock()
	if len(c.sinks) <= 1 {
		c.mu.Unlock()
		return
	}

	myGeneration := c.barrierGeneration
	myRelease := c.release
	c.readyCount++
	if c.readyCount >= len(c.sinks) {
		c.releaseBarrierLocked()
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()

	select {
	case <-myRelease:
		return
	case <-time.After(timeout):
		c.mu.Lock()
		if c.barrierGeneration == myGeneration {
			c.readyCount--
		}
		c.mu.Unlock()
		c.barrierTimeouts.Inc()
	}
}

// Enabled reports whether this clock's barrier is active (always true
// for a constructed Clock; disabling happens at the coordinator level
// per spec.md §4.7's state machine).
func (c *Clock) Enabled() bool { return c.enabled }

// BarrierTimeouts returns the count of timed-out barrier waits.
func (c *Clock) BarrierTimeouts() uint64 { return c.barrierTimeouts.Snapshot() }
