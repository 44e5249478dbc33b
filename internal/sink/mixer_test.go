package sink

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSender struct {
	sent       [][]int32
	lastMarker bool
}

func (f *fakeSender) Send(chunk []int32, sampleCount int, rtpTimestamp uint32, marker bool) error {
	cp := append([]int32(nil), chunk...)
	f.sent = append(f.sent, cp)
	f.lastMarker = marker
	return nil
}
func (f *fakeSender) Stop() {}

func TestMixerUnderrunWhenNoLanesReady(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Channels = 2
	cfg.UnderrunHoldTimeoutMs = 0
	sender := &fakeSender{}
	m := NewMixer(cfg, sender, nil, nil)
	m.ConnectLane("tagA", "inst-1")

	m.RunOnce()

	assert.Equal(t, uint64(1), m.Underruns())
	assert.Empty(t, sender.sent, "nothing should be sent on underrun")
}

func TestMixerSumsTwoLanesAndDividesWhenNormalized(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Channels = 2
	cfg.FrameSize = 4
	cfg.UnderrunHoldTimeoutMs = 0
	cfg.VolumeNormalization = true
	sender := &fakeSender{}
	m := NewMixer(cfg, sender, nil, nil)

	laneA := m.ConnectLane("tagA", "inst-1")
	laneB := m.ConnectLane("tagB", "inst-2")

	samplesA := make([]int32, 8)
	samplesB := make([]int32, 8)
	for i := range samplesA {
		samplesA[i] = 1000000
		samplesB[i] = 2000000
	}
	laneA.Push(ProcessedAudioChunk{Samples: samplesA})
	laneB.Push(ProcessedAudioChunk{Samples: samplesB})

	m.RunOnce()

	require.Len(t, sender.sent, 1)
	got := sender.sent[0]
	require.Len(t, got, 8)
	assert.Equal(t, int32(1500000), got[0])
	assert.Equal(t, uint64(0), m.Underruns())
}

func TestClampMixedSampleBoundedAtFullScale(t *testing.T) {
	huge := clampMixedSample(int32FullScale * 3)
	assert.LessOrEqual(t, huge, int32(int32FullScale))
	assert.GreaterOrEqual(t, huge, int32(-int32FullScale))
}

type fakeBarrier struct {
	beginRate    float64
	completeRate float64
	completed    bool
}

func (f *fakeBarrier) BeginDispatch() float64 { return f.beginRate }
func (f *fakeBarrier) CompleteDispatch(Timing) float64 {
	f.completed = true
	return f.completeRate
}

// TestMixerAppliesBarrierRateAdjustmentToLanes guards spec.md §4.7's
// drift-compensation path: a non-unity rate from the barrier must
// actually reach a connected lane instead of being silently discarded.
func TestMixerAppliesBarrierRateAdjustmentToLanes(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Channels = 1
	cfg.FrameSize = 8
	cfg.UnderrunHoldTimeoutMs = 0
	sender := &fakeSender{}
	barrier := &fakeBarrier{beginRate: 1.01, completeRate: 1.02}
	m := NewMixer(cfg, sender, barrier, nil)

	lane := m.ConnectLane("tagA", "inst-1")
	samples := make([]int32, 8)
	for i := range samples {
		samples[i] = int32(i * 1000)
	}
	lane.Push(ProcessedAudioChunk{Samples: samples})

	m.RunOnce()

	assert.True(t, barrier.completed, "CompleteDispatch must be invoked and its result consumed")
	assert.Equal(t, 1.02, lane.driftRatio.Load(), "lane must pick up CompleteDispatch's refreshed rate for the next cycle")
}

func TestApplyDriftCompensationPreservesLength(t *testing.T) {
	samples := []int32{0, 100, 200, 300, 400, 500, 600, 700}
	out := applyDriftCompensation(samples, 2, 1.05)
	assert.Len(t, out, len(samples))

	same := applyDriftCompensation(samples, 2, 1.0)
	assert.Equal(t, samples, same, "unity ratio must be a no-op")
}
