// Package engine implements the AudioManager of spec.md §4.8: the
// single lifecycle entry point that wires TimeshiftManager,
// SourceInputProcessor, SinkAudioMixer, GlobalSynchronizationClock,
// and the network senders into one running topology.
package engine

import (
	"fmt"
	"sync"
	"time"

	"github.com/charmbracelet/log"

	"github.com/netham45/screamrouter-sub013/internal/config"
	"github.com/netham45/screamrouter-sub013/internal/dsp"
	"github.com/netham45/screamrouter-sub013/internal/network"
	"github.com/netham45/screamrouter-sub013/internal/sink"
	"github.com/netham45/screamrouter-sub013/internal/source"
	"github.com/netham45/screamrouter-sub013/internal/syncclock"
	"github.com/netham45/screamrouter-sub013/internal/timeshift"
)

// barrierTimeout is the fixed generation-counter barrier wait used by
// every coordinator (spec.md §4.7 names the field but leaves its value
// to the deployment; 20ms is just under one 1152-frame chunk at 48kHz,
// which lasts 24ms, and longer than one chunk at 96kHz and above).
const barrierTimeout = 20 * time.Millisecond

// Manager is the AudioManager of spec.md §4.8.
type Manager struct {
	log *log.Logger

	mu          sync.Mutex
	initialized bool
	settings    config.AudioEngineSettings

	ts     *timeshift.Manager
	clocks map[int]*syncclock.Clock

	sinks        map[string]*sinkEntry
	sources      map[string]*sourceEntry
	nextInstance uint64
}

type sinkEntry struct {
	cfg         config.SinkConfig
	mixer       *sink.Mixer
	sender      network.Sender
	coordinator *syncclock.Coordinator
	stopCycles  chan struct{}
}

type sourceEntry struct {
	instanceID string
	sourceTag  string
	cfg        config.SourceConfig
	proc       *source.Processor
	connected  map[string]bool // sink IDs

	stopPump chan struct{}
	pumpDone chan struct{}
}

// New constructs a Manager with default settings; call Initialize
// before adding sinks/sources.
func New(logger *log.Logger) *Manager {
	if logger == nil {
		logger = log.Default()
	}
	return &Manager{
		log:      logger.With("component", "engine"),
		settings: config.DefaultSettings(),
		clocks:   make(map[int]*syncclock.Clock),
		sinks:    make(map[string]*sinkEntry),
		sources:  make(map[string]*sourceEntry),
	}
}

// Initialize starts the TimeshiftManager. Idempotent (spec.md §4.8).
func (m *Manager) Initialize(timeshiftPort int, timeshiftSeconds float64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.initialized {
		return true
	}
	cfg := m.settings.TimeshiftTuning.ToTimeshiftConfig(m.settings.MixerTuning.MaxQueuedChunks * 8)
	m.ts = timeshift.NewManager(cfg, m.log)
	m.initialized = true
	m.log.Info("engine initialized", "timeshift_port", timeshiftPort, "timeshift_seconds", timeshiftSeconds)
	return true
}

func (m *Manager) clockFor(sampleRate int) *syncclock.Clock {
	if c, ok := m.clocks[sampleRate]; ok {
		return c
	}
	c := syncclock.NewClock(sampleRate, syncclock.DefaultConfig())
	m.clocks[sampleRate] = c
	return c
}

// AddSink constructs and starts a sink's mixer/sender/coordinator.
func (m *Manager) AddSink(cfg config.SinkConfig) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.initialized {
		return fmt.Errorf("engine: AddSink called before Initialize")
	}
	if _, exists := m.sinks[cfg.ID]; exists {
		return fmt.Errorf("engine: sink %q already exists", cfg.ID)
	}
	if cfg.Channels <= 0 || cfg.Channels > dsp.MaxChannels {
		return fmt.Errorf("engine: %w: channels must be in [1,%d]", dsp.ErrConfig, dsp.MaxChannels)
	}

	var sender network.Sender
	var err error
	switch cfg.Protocol {
	case config.ProtocolRTP:
		pt := byte(network.PayloadTypePCM)
		if cfg.EnableMP3 {
			pt = network.PayloadTypeMP3
		}
		sender, err = network.NewRTPSender(cfg.OutputIP, cfg.OutputPort, pt, cfg.BitDepth, cfg.Channels)
	case config.ProtocolScream, "":
		sender, err = network.NewScreamSender(cfg.OutputIP, cfg.OutputPort, cfg.SampleRate, cfg.BitDepth, cfg.Channels, cfg.ChannelLayout)
	default:
		return fmt.Errorf("engine: %w: unknown protocol %q", dsp.ErrConfig, cfg.Protocol)
	}
	if err != nil {
		return fmt.Errorf("engine: add sink %q: %w", cfg.ID, err)
	}

	clock := m.clockFor(cfg.SampleRate)
	coordinator := syncclock.NewCoordinator(cfg.ID, clock, barrierTimeout)
	var barrier sink.Barrier
	if cfg.TimeSyncEnabled {
		coordinator.Enable(0)
		barrier = coordinator
	}

	mixerCfg := m.settings.MixerTuning.ToSinkConfig(cfg)
	mixer := sink.NewMixer(mixerCfg, sender, barrier, m.log)

	entry := &sinkEntry{cfg: cfg, mixer: mixer, sender: sender, coordinator: coordinator, stopCycles: make(chan struct{})}
	m.sinks[cfg.ID] = entry

	cycleSampleRate := cfg.SampleRate
	if cycleSampleRate <= 0 {
		cycleSampleRate = 48000
	}
	cycleInterval := time.Duration(float64(dsp.FrameSize) / float64(cycleSampleRate) * float64(time.Second))
	mixer.Start(cycleInterval)

	m.log.Info("sink added", "sink_id", cfg.ID, "protocol", cfg.Protocol, "sample_rate", cfg.SampleRate)
	return nil
}

// RemoveSink stops and removes a sink, disconnecting any remaining
// source lanes first.
func (m *Manager) RemoveSink(id string) error {
	m.mu.Lock()
	entry, ok := m.sinks[id]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("engine: sink %q not found", id)
	}
	delete(m.sinks, id)
	for _, se := range m.sources {
		if se.connected[id] {
			delete(se.connected, id)
			se.proc.DisconnectSink(id)
		}
	}
	m.mu.Unlock()

	entry.coordinator.Disable()
	entry.mixer.Stop()
	m.log.Info("sink removed", "sink_id", id)
	return nil
}

// ConfigureSource registers a new SourceInputProcessor instance and
// subscribes it to the TimeshiftManager, returning its instance_id.
func (m *Manager) ConfigureSource(cfg config.SourceConfig) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.initialized {
		return "", fmt.Errorf("engine: ConfigureSource called before Initialize")
	}
	m.nextInstance++
	instanceID := fmt.Sprintf("%s-%d", cfg.Tag, m.nextInstance)

	outRate := cfg.TargetOutputSampleRate
	outCh := cfg.TargetOutputChannels
	inputCfg := dsp.Config{
		InputSampleRate:    outRate, // reconfigured in-place once the first packet's real format is seen
		OutputSampleRate:   outRate,
		InputChannels:      outCh,
		OutputChannels:     outCh,
		InputBitDepth:      16,
		OversamplingFactor: m.settings.ProcessorTuning.OversamplingFactor,
	}
	if inputCfg.OversamplingFactor <= 0 {
		inputCfg.OversamplingFactor = 1
	}

	proc, err := source.New(cfg.Tag, instanceID, inputCfg, m.settings.SourceProcessorTuning.ToSourceConfig(), m.log)
	if err != nil {
		return "", fmt.Errorf("engine: configure source %q: %w", cfg.Tag, err)
	}
	proc.ApplyInitialParams(m.settings.ProcessorTuning.ToDSPParams(cfg))

	packets, rates := m.ts.RegisterProcessor(instanceID, cfg.Tag, cfg.InitialDelayMs, cfg.InitialTimeshiftSec)

	entry := &sourceEntry{
		instanceID: instanceID,
		sourceTag:  cfg.Tag,
		cfg:        cfg,
		proc:       proc,
		connected:  make(map[string]bool),
		stopPump:   make(chan struct{}),
		pumpDone:   make(chan struct{}),
	}
	m.sources[instanceID] = entry

	go pumpSource(entry, packets, rates)

	m.log.Info("source configured", "instance_id", instanceID, "tag", cfg.Tag)
	return instanceID, nil
}

// pumpSource is the SourceInputProcessor thread of spec.md §5: blocks
// on its input queue, feeds ingest_packet, and applies playback-rate
// updates from the TimeshiftManager.
func pumpSource(entry *sourceEntry, packets <-chan timeshift.TaggedAudioPacket, rates <-chan float64) {
	defer close(entry.pumpDone)
	for {
		select {
		case <-entry.stopPump:
			return
		case pkt, ok := <-packets:
			if !ok {
				return
			}
			entry.proc.IngestPacket(pkt)
		case rate, ok := <-rates:
			if !ok {
				continue
			}
			entry.proc.SetPlaybackRate(rate)
		}
	}
}

// RemoveSource unregisters a source instance and stops its pump
// goroutine, disconnecting it from every connected sink.
func (m *Manager) RemoveSource(instanceID string) error {
	m.mu.Lock()
	entry, ok := m.sources[instanceID]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("engine: source instance %q not found", instanceID)
	}
	delete(m.sources, instanceID)
	for sinkID := range entry.connected {
		if se, ok := m.sinks[sinkID]; ok {
			se.mixer.DisconnectLane(entry.sourceTag, instanceID)
		}
	}
	m.mu.Unlock()

	m.ts.UnregisterProcessor(instanceID, entry.sourceTag)
	close(entry.stopPump)
	<-entry.pumpDone
	return nil
}

// ConnectSourceSink wires a source instance's output into a sink's
// mixer as a new input lane.
func (m *Manager) ConnectSourceSink(instanceID, sinkID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	se, ok := m.sources[instanceID]
	if !ok {
		return fmt.Errorf("engine: source instance %q not found", instanceID)
	}
	sk, ok := m.sinks[sinkID]
	if !ok {
		return fmt.Errorf("engine: sink %q not found", sinkID)
	}
	if se.connected[sinkID] {
		return nil
	}
	lane := sk.mixer.ConnectLane(se.sourceTag, instanceID)
	se.proc.ConnectSink(sinkID, lane)
	se.connected[sinkID] = true
	return nil
}

// DisconnectSourceSink removes a previously connected lane.
func (m *Manager) DisconnectSourceSink(instanceID, sinkID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	se, ok := m.sources[instanceID]
	if !ok {
		return fmt.Errorf("engine: source instance %q not found", instanceID)
	}
	sk, ok := m.sinks[sinkID]
	if !ok {
		return fmt.Errorf("engine: sink %q not found", sinkID)
	}
	if !se.connected[sinkID] {
		return nil
	}
	sk.mixer.DisconnectLane(se.sourceTag, instanceID)
	se.proc.DisconnectSink(sinkID)
	delete(se.connected, sinkID)
	return nil
}

// UpdateSourceParameters applies update_parameters to a live source
// instance, also propagating delay/timeshift changes to its
// TimeshiftManager subscription.
func (m *Manager) UpdateSourceParameters(instanceID string, update source.ParameterUpdate) error {
	m.mu.Lock()
	se, ok := m.sources[instanceID]
	ts := m.ts
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("engine: source instance %q not found", instanceID)
	}
	se.proc.UpdateParameters(update)
	if update.DelayMs != nil || update.TimeshiftSec != nil {
		delay, timeshiftSec := se.proc.Delay()
		ts.UpdateDelay(instanceID, se.sourceTag, int(delay.Milliseconds()), timeshiftSec)
	}
	return nil
}

// GetAudioSettings returns the currently applied settings.
func (m *Manager) GetAudioSettings() config.AudioEngineSettings {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.settings
}

// SetAudioSettings replaces the engine's tuning settings. Already
// running components read their tuning at construction time, so this
// takes effect for subsequently added sinks/sources (spec.md §4.8);
// it never mutates state for currently streaming components.
func (m *Manager) SetAudioSettings(s config.AudioEngineSettings) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.settings = s
}

// Shutdown stops every running thread in reverse dependency order —
// senders, then mixers, then processors, then the TimeshiftManager —
// joining each before moving on (spec.md §4.8/§5).
func (m *Manager) Shutdown() {
	m.mu.Lock()
	sinks := make([]*sinkEntry, 0, len(m.sinks))
	for _, s := range m.sinks {
		sinks = append(sinks, s)
	}
	sources := make([]*sourceEntry, 0, len(m.sources))
	for _, s := range m.sources {
		sources = append(sources, s)
	}
	m.sinks = make(map[string]*sinkEntry)
	m.sources = make(map[string]*sourceEntry)
	ts := m.ts
	m.mu.Unlock()

	for _, se := range sinks {
		se.coordinator.Disable()
		se.sender.Stop()
		se.mixer.Stop() // joins the mixer cycle loop; its own sender Stop then finds the socket closed
	}
	for _, se := range sources {
		close(se.stopPump)
		<-se.pumpDone
	}
	if ts != nil {
		ts.Stop()
	}
	m.log.Info("engine shutdown complete")
}
