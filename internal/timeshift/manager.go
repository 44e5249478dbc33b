package timeshift

import (
	"sync"
	"time"

	"github.com/charmbracelet/log"

	"github.com/netham45/screamrouter-sub013/internal/stats"
)

// subscriberKey identifies one registered (source_tag, instance_id)
// subscription.
type subscriberKey struct {
	sourceTag  string
	instanceID string
}

// subscriber holds one registered processor's delivery state.
type subscriber struct {
	delay        time.Duration
	timeshift    time.Duration
	out          chan TaggedAudioPacket
	nextSeq      int64 // next ring sequence number to consider delivering
	rateUpdates  chan float64

	lateDrops    stats.Counter
	discards     stats.Counter
	reanchors    stats.Counter
}

// tagState holds the per-source_tag anchor and ring.
type tagState struct {
	mu          sync.Mutex
	ring        *ring
	anchor      StreamAnchor
	pendingErr  float64 // most recent packet's timestamp error, in seconds
	integral    float64
	inboundRate float64
}

// Manager is the TimeshiftManager of spec.md §4.3.
type Manager struct {
	cfg Config
	log *log.Logger

	mu   sync.RWMutex
	tags map[string]*tagState
	subs map[subscriberKey]*subscriber

	stopCh chan struct{}
	wakeCh chan struct{}
	once   sync.Once
	wg     sync.WaitGroup

	droppedPackets stats.Counter
}

// NewManager constructs a Manager and starts its dispatch goroutine.
func NewManager(cfg Config, logger *log.Logger) *Manager {
	if logger == nil {
		logger = log.Default()
	}
	m := &Manager{
		cfg:    cfg,
		log:    logger.With("component", "timeshift"),
		tags:   make(map[string]*tagState),
		subs:   make(map[subscriberKey]*subscriber),
		stopCh: make(chan struct{}),
		wakeCh: make(chan struct{}, 1),
	}
	m.wg.Add(1)
	go m.run()
	return m
}

// Stop halts the dispatch goroutine and waits for it to exit, matching
// spec.md §5's join-before-destroy shutdown discipline.
func (m *Manager) Stop() {
	m.once.Do(func() { close(m.stopCh) })
	m.wg.Wait()
}

func (m *Manager) wake() {
	select {
	case m.wakeCh <- struct{}{}:
	default:
	}
}

func (m *Manager) tagFor(sourceTag string) *tagState {
	m.mu.Lock()
	defer m.mu.Unlock()
	ts, ok := m.tags[sourceTag]
	if !ok {
		ts = &tagState{ring: newRing(m.cfg.RingCapacity)}
		m.tags[sourceTag] = ts
	}
	return ts
}

// AddPacket accepts a packet for dispatch. Never blocks; the per-tag
// ring drops the oldest entry on overflow, counted as a discard
// (spec.md §4.3). Packets are inserted in RTP-timestamp order so
// dispatch releases them in that order even when delivery reordered
// them in flight.
func (m *Manager) AddPacket(pkt TaggedAudioPacket) {
	ts := m.tagFor(pkt.SourceTag)
	minSeq := m.minUndeliveredSeq(pkt.SourceTag)

	ts.mu.Lock()
	releaseAt := m.updateAnchor(ts, pkt)
	before := ts.ring.discardCount
	ts.ring.insertOrdered(ringEntry{pkt: pkt, releaseAt: releaseAt}, minSeq)
	if ts.ring.discardCount != before {
		m.droppedPackets.Inc()
	}
	ts.mu.Unlock()

	m.wake()
}

// minUndeliveredSeq returns the lowest subscriber read cursor among
// all subscribers registered for sourceTag, or -1 if none are
// registered yet. This is the ring position below which entries have
// already been handed to a subscriber and must not be reordered.
func (m *Manager) minUndeliveredSeq(sourceTag string) int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	min := int64(-1)
	for k, s := range m.subs {
		if k.sourceTag != sourceTag {
			continue
		}
		if min == -1 || s.nextSeq < min {
			min = s.nextSeq
		}
	}
	return min
}

// updateAnchor applies spec.md §4.3's anchoring algorithm; caller must
// hold ts.mu. Returns the packet's anchor-mapped release time.
func (m *Manager) updateAnchor(ts *tagState, pkt TaggedAudioPacket) time.Time {
	resetThreshold := time.Duration(m.cfg.RTPSessionResetThreshold * float64(time.Second))

	needsAnchor := ts.anchor.RefMono.IsZero()
	if !needsAnchor {
		gap := pkt.ArrivalMono.Sub(ts.anchor.RefMono)
		if gap < 0 {
			gap = -gap
		}
		if gap > resetThreshold {
			needsAnchor = true
		}
	}

	sampleRate := pkt.SampleRate
	if sampleRate <= 0 {
		sampleRate = 48000
	}

	if needsAnchor {
		ts.anchor = StreamAnchor{
			RefMono:      pkt.ArrivalMono,
			RefRTP:       pkt.RTPTimestamp,
			PlaybackRate: 1.0,
			LastSequence: pkt.Sequence,
			HasLast:      true,
		}
		ts.pendingErr = 0
		ts.integral = 0
		return pkt.ArrivalMono
	}

	deltaRTP := int64(pkt.RTPTimestamp) - int64(ts.anchor.RefRTP)
	expected := ts.anchor.RefMono.Add(time.Duration(float64(deltaRTP) / float64(sampleRate) * float64(time.Second)))

	errSeconds := pkt.ArrivalMono.Sub(expected).Seconds()
	absErr := errSeconds
	if absErr < 0 {
		absErr = -absErr
	}

	alpha := 0.1
	ts.anchor.SmoothedJitter = alpha*absErr*1000 + (1-alpha)*ts.anchor.SmoothedJitter

	maxLag := float64(m.cfg.MaxCatchupLagMs) / 1000.0
	if absErr > maxLag {
		ts.anchor = StreamAnchor{
			RefMono:      pkt.ArrivalMono,
			RefRTP:       pkt.RTPTimestamp,
			PlaybackRate: ts.anchor.PlaybackRate,
			LastSequence: pkt.Sequence,
			HasLast:      true,
		}
		return pkt.ArrivalMono
	}

	ts.anchor.LastSequence = pkt.Sequence
	ts.pendingErr = errSeconds
	if m.cfg.PlaybackRateAdjustmentEnabled {
		ts.anchor.PlaybackRate = m.updatePlaybackRate(ts, errSeconds)
	}
	return expected
}

// updatePlaybackRate runs the playback-rate PI controller of spec.md
// §4.3: the packet's timestamp error (proportional term) plus its
// accumulated integral drives a multiplicative rate in
// [1-eps_max, 1+eps_max]. The slew limit caps each call's step at
// PlaybackRatioSlewPPMPerSec ppm; the step is not scaled by the time
// between packets, so the limit applies per update, not per second.
// Caller must hold ts.mu.
func (m *Manager) updatePlaybackRate(ts *tagState, errSeconds float64) float64 {
	maxDevPPM := m.cfg.PlaybackRatioMaxDeviationPPM
	if maxDevPPM <= 0 {
		maxDevPPM = 2000
	}
	maxDev := maxDevPPM / 1e6

	integralLimit := m.cfg.PlaybackRatioIntegralLimitPPM / 1e6
	ts.integral += errSeconds * m.cfg.PlaybackRatioKi
	if integralLimit > 0 {
		if ts.integral > integralLimit {
			ts.integral = integralLimit
		} else if ts.integral < -integralLimit {
			ts.integral = -integralLimit
		}
	}

	target := 1.0 + errSeconds*m.cfg.PlaybackRatioKp + ts.integral
	if target > 1+maxDev {
		target = 1 + maxDev
	} else if target < 1-maxDev {
		target = 1 - maxDev
	}

	smoothing := m.cfg.PlaybackRatioSmoothing
	if smoothing <= 0 {
		smoothing = 0.1
	}
	rate := ts.anchor.PlaybackRate + (target-ts.anchor.PlaybackRate)*smoothing

	slewPPM := m.cfg.PlaybackRatioSlewPPMPerSec
	if slewPPM > 0 {
		maxStep := slewPPM / 1e6
		delta := rate - ts.anchor.PlaybackRate
		if delta > maxStep {
			rate = ts.anchor.PlaybackRate + maxStep
		} else if delta < -maxStep {
			rate = ts.anchor.PlaybackRate - maxStep
		}
	}
	return rate
}

// RegisterProcessor registers a subscriber for (sourceTag, instanceID),
// returning a channel it can read released packets from and a channel
// carrying playback-rate updates (spec.md §4.3/§4.4).
func (m *Manager) RegisterProcessor(instanceID, sourceTag string, initialDelayMs int, initialTimeshiftSec float64) (<-chan TaggedAudioPacket, <-chan float64) {
	key := subscriberKey{sourceTag: sourceTag, instanceID: instanceID}
	ts := m.tagFor(sourceTag)

	sub := &subscriber{
		delay:       time.Duration(initialDelayMs) * time.Millisecond,
		timeshift:   time.Duration(initialTimeshiftSec * float64(time.Second)),
		out:         make(chan TaggedAudioPacket, m.cfg.MaxClockPendingPackets),
		rateUpdates: make(chan float64, 4),
	}

	ts.mu.Lock()
	sub.nextSeq = ts.ring.oldestSeq()
	ts.mu.Unlock()

	m.mu.Lock()
	m.subs[key] = sub
	m.mu.Unlock()

	m.log.Info("registered processor", "source_tag", sourceTag, "instance_id", instanceID)
	return sub.out, sub.rateUpdates
}

// UnregisterProcessor removes a subscriber; dispatch to it afterward is
// silently dropped (spec.md §4.3). Safe to call at any time.
func (m *Manager) UnregisterProcessor(instanceID, sourceTag string) {
	key := subscriberKey{sourceTag: sourceTag, instanceID: instanceID}
	m.mu.Lock()
	sub, ok := m.subs[key]
	delete(m.subs, key)
	m.mu.Unlock()
	if ok {
		close(sub.out)
		close(sub.rateUpdates)
	}
}

// UpdateDelay adjusts a live subscriber's delay/timeshift without
// unregistering it.
func (m *Manager) UpdateDelay(instanceID, sourceTag string, delayMs int, timeshiftSec float64) {
	key := subscriberKey{sourceTag: sourceTag, instanceID: instanceID}
	m.mu.RLock()
	sub, ok := m.subs[key]
	m.mu.RUnlock()
	if !ok {
		return
	}
	sub.delay = time.Duration(delayMs) * time.Millisecond
	sub.timeshift = time.Duration(timeshiftSec * float64(time.Second))
}

func (m *Manager) run() {
	defer m.wg.Done()
	sleep := time.Duration(m.cfg.LoopMaxSleepMs) * time.Millisecond
	if sleep <= 0 {
		sleep = time.Millisecond
	}
	timer := time.NewTimer(sleep)
	defer timer.Stop()

	for {
		select {
		case <-m.stopCh:
			return
		case <-m.wakeCh:
		case <-timer.C:
		}
		m.dispatchOnce()
		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer.Reset(sleep)
	}
}

func (m *Manager) dispatchOnce() {
	now := time.Now()

	m.mu.RLock()
	subsCopy := make([]*subscriber, 0, len(m.subs))
	keysCopy := make([]subscriberKey, 0, len(m.subs))
	for k, s := range m.subs {
		subsCopy = append(subsCopy, s)
		keysCopy = append(keysCopy, k)
	}
	m.mu.RUnlock()

	lateThreshold := time.Duration(m.cfg.LatePacketThresholdMs) * time.Millisecond

	for i, sub := range subsCopy {
		tag := keysCopy[i].sourceTag
		ts := m.tagFor(tag)
		playhead := now.Add(-sub.delay).Add(-sub.timeshift)

		ts.mu.Lock()
		if sub.nextSeq < ts.ring.oldestSeq() {
			sub.nextSeq = ts.ring.oldestSeq()
		}
		for sub.nextSeq <= ts.ring.latestSeq() {
			entry, ok := ts.ring.at(sub.nextSeq)
			if !ok {
				sub.nextSeq++
				continue
			}
			if entry.releaseAt.After(playhead) {
				break
			}
			sub.nextSeq++

			if entry.pkt.ArrivalMono.Sub(playhead) > lateThreshold {
				sub.lateDrops.Inc()
				continue
			}

			select {
			case sub.out <- entry.pkt:
			default:
				// subscriber's bounded queue is full: drop oldest by
				// draining one then retrying once.
				select {
				case <-sub.out:
					sub.discards.Inc()
				default:
				}
				select {
				case sub.out <- entry.pkt:
				default:
					sub.discards.Inc()
				}
			}
		}
		anchorRate := ts.anchor.PlaybackRate
		ts.mu.Unlock()

		select {
		case sub.rateUpdates <- anchorRate:
		default:
		}
	}
}

// DroppedPackets returns the total number of packets discarded for
// ring-overflow across all tags.
func (m *Manager) DroppedPackets() uint64 { return m.droppedPackets.Snapshot() }
