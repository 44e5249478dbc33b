package timeshift

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mkPacket(tag string, seq uint32, rtpTS uint32, arrival time.Time) TaggedAudioPacket {
	return TaggedAudioPacket{
		SourceTag:    tag,
		Payload:      []byte{1, 2, 3, 4},
		ArrivalMono:  arrival,
		RTPTimestamp: rtpTS,
		HasRTP:       true,
		SampleRate:   48000,
		BitDepth:     16,
		Channels:     2,
		PlaybackRate: 1.0,
		Sequence:     seq,
	}
}

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	cfg := DefaultConfig()
	cfg.LoopMaxSleepMs = 1
	cfg.RingCapacity = 64
	m := NewManager(cfg, nil)
	t.Cleanup(m.Stop)
	return m
}

func TestDispatchIsMonotonicInRTPTime(t *testing.T) {
	m := newTestManager(t)
	out, _ := m.RegisterProcessor("inst-1", "tagA", 0, 0)

	base := time.Now().Add(-time.Second)
	for i := 0; i < 20; i++ {
		pkt := mkPacket("tagA", uint32(i), uint32(i*960), base.Add(time.Duration(i)*20*time.Millisecond))
		m.AddPacket(pkt)
	}

	time.Sleep(50 * time.Millisecond)

	var lastRTP uint32
	first := true
	drained := 0
	for {
		select {
		case p := <-out:
			if !first {
				assert.GreaterOrEqual(t, p.RTPTimestamp, lastRTP, "spec.md §8 invariant 1: non-decreasing RTP time")
			}
			lastRTP = p.RTPTimestamp
			first = false
			drained++
		default:
			assert.Greater(t, drained, 0, "expected at least some packets to have been released")
			return
		}
	}
}

// TestDispatchReordersOutOfOrderArrivals guards spec.md §4.3/§8
// invariant 1 against the case that actually triggers it: two packets
// swap arrival order in flight, which a pure arrival-order FIFO would
// hand straight through.
func TestDispatchReordersOutOfOrderArrivals(t *testing.T) {
	m := newTestManager(t)
	out, _ := m.RegisterProcessor("inst-1", "tagA", 0, 0)

	base := time.Now().Add(-time.Second)
	rtpAt := func(i int) uint32 { return uint32(i * 960) }
	arrivalOrder := []int{0, 1, 3, 2, 4, 5, 6, 8, 7, 9}
	for _, i := range arrivalOrder {
		pkt := mkPacket("tagA", uint32(i), rtpAt(i), base.Add(time.Duration(i)*20*time.Millisecond))
		m.AddPacket(pkt)
	}

	time.Sleep(50 * time.Millisecond)

	var lastRTP uint32
	first := true
	drained := 0
	for {
		select {
		case p := <-out:
			if !first {
				assert.GreaterOrEqual(t, p.RTPTimestamp, lastRTP, "out-of-order arrival must still dispatch in RTP-timestamp order")
			}
			lastRTP = p.RTPTimestamp
			first = false
			drained++
		default:
			assert.Greater(t, drained, 0, "expected at least some packets to have been released")
			return
		}
	}
}

func TestUnregisterDropsSilently(t *testing.T) {
	m := newTestManager(t)
	out, rates := m.RegisterProcessor("inst-1", "tagA", 0, 0)
	m.UnregisterProcessor("inst-1", "tagA")

	_, stillOpen := <-out
	assert.False(t, stillOpen, "subscriber channel should be closed after unregister")
	_, stillOpen = <-rates
	assert.False(t, stillOpen)

	require.NotPanics(t, func() {
		m.AddPacket(mkPacket("tagA", 1, 0, time.Now()))
	})
}

func TestRingDropsOldestOnOverflow(t *testing.T) {
	cfg := DefaultConfig()
	cfg.RingCapacity = 4
	m := NewManager(cfg, nil)
	defer m.Stop()

	now := time.Now()
	for i := 0; i < 10; i++ {
		m.AddPacket(mkPacket("tagA", uint32(i), uint32(i*960), now))
	}
	assert.Greater(t, m.DroppedPackets(), uint64(0))
}

func TestReanchorOnLargeGap(t *testing.T) {
	m := newTestManager(t)
	ts := m.tagFor("tagA")

	p1 := mkPacket("tagA", 1, 1000, time.Now())
	ts.mu.Lock()
	release1 := m.updateAnchor(ts, p1)
	ts.mu.Unlock()
	assert.Equal(t, p1.ArrivalMono, release1)

	p2 := mkPacket("tagA", 2, 2000, p1.ArrivalMono.Add(5*time.Second))
	ts.mu.Lock()
	release2 := m.updateAnchor(ts, p2)
	anchorAfter := ts.anchor
	ts.mu.Unlock()

	assert.Equal(t, p2.ArrivalMono, release2, "gap beyond reset threshold should re-anchor to the new packet")
	assert.Equal(t, p2.RTPTimestamp, anchorAfter.RefRTP)
}

func TestRingAtHandlesEviction(t *testing.T) {
	r := newRing(2)
	s1 := r.push(ringEntry{pkt: mkPacket("t", 1, 0, time.Now())})
	s2 := r.push(ringEntry{pkt: mkPacket("t", 2, 0, time.Now())})
	s3 := r.push(ringEntry{pkt: mkPacket("t", 3, 0, time.Now())})

	_, ok := r.at(s1)
	assert.False(t, ok, "oldest entry should have been evicted")

	e2, ok := r.at(s2)
	require.True(t, ok)
	assert.Equal(t, uint32(2), e2.pkt.Sequence)

	e3, ok := r.at(s3)
	require.True(t, ok)
	assert.Equal(t, uint32(3), e3.pkt.Sequence)
}

func TestRingInsertOrderedSortsByRTPTimestamp(t *testing.T) {
	r := newRing(8)
	r.insertOrdered(ringEntry{pkt: mkPacket("t", 1, 1000, time.Now())}, -1)
	r.insertOrdered(ringEntry{pkt: mkPacket("t", 2, 3000, time.Now())}, -1)
	s3 := r.insertOrdered(ringEntry{pkt: mkPacket("t", 3, 2000, time.Now())}, -1)

	e, ok := r.at(s3 - 1)
	require.True(t, ok)
	assert.Equal(t, uint32(2000), e.pkt.RTPTimestamp, "the 2000 packet must sort before the already-buffered 3000 one")

	e, ok = r.at(s3)
	require.True(t, ok)
	assert.Equal(t, uint32(3000), e.pkt.RTPTimestamp)
}

func TestRingInsertOrderedRespectsDeliveredFloor(t *testing.T) {
	r := newRing(8)
	r.insertOrdered(ringEntry{pkt: mkPacket("t", 1, 1000, time.Now())}, -1)
	r.insertOrdered(ringEntry{pkt: mkPacket("t", 2, 2000, time.Now())}, -1)

	// minSeq pins position 0 (already delivered); a late arrival with an
	// earlier RTP timestamp than anything buffered must land after the
	// floor, not disturb what a subscriber already consumed.
	minSeq := r.oldestSeq() + 1
	r.insertOrdered(ringEntry{pkt: mkPacket("t", 3, 500, time.Now())}, minSeq)

	first, ok := r.at(r.oldestSeq())
	require.True(t, ok)
	assert.Equal(t, uint32(1000), first.pkt.RTPTimestamp, "entry before the delivered floor must not move")
}
