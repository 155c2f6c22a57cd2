package telemetry

import (
	"context"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"memwatch/internal/logging"
)

// TerminalExitEnv opts in to deliberate process termination when an
// accepted sample reaches terminal state. Meant for constrained or
// simulated environments with no OS-enforced kill, so harnesses can
// observe termination deterministically.
const TerminalExitEnv = "MEMWATCH_TERMINAL_EXIT"

// MonitorConfig wires a Monitor's collaborators.
type MonitorConfig struct {
	// Provider yields raw memory counters. Required.
	Provider Provider

	// Pressure delivers host pressure level changes. Optional; without it
	// the monitor runs on the periodic heartbeat alone and pressure stays
	// normal.
	Pressure PressureSource
}

// Monitor samples process memory use on a fixed heartbeat, classifies it,
// debounces changes and fans accepted updates out to subscribers. One
// background goroutine owns the sample pipeline, so sampling passes never
// overlap.
type Monitor struct {
	provider Provider
	source   PressureSource

	store    *sampleStore
	dispatch *dispatcher

	epoch        time.Time
	pressure     atomic.Int32
	terminalExit bool
	exitFunc     func(int)

	// Counters for Stats; atomics so ticks never contend with readers.
	ticksTotal       atomic.Int64
	samplesAccepted  atomic.Int64
	rejectedNoChange atomic.Int64
	rejectedDebounce atomic.Int64
	degradedSamples  atomic.Int64
	eventsPublished  atomic.Int64

	running bool
	runMu   sync.Mutex
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewMonitor builds a stopped Monitor around cfg.
func NewMonitor(cfg MonitorConfig) (*Monitor, error) {
	if cfg.Provider == nil {
		return nil, fmt.Errorf("monitor requires a provider")
	}
	return &Monitor{
		provider:     cfg.Provider,
		source:       cfg.Pressure,
		store:        &sampleStore{},
		dispatch:     newDispatcher(),
		epoch:        time.Now(),
		terminalExit: os.Getenv(TerminalExitEnv) == "1",
		exitFunc:     os.Exit,
	}, nil
}

// Start begins the heartbeat and the pressure listener. Returns an error if
// the monitor is already running.
func (m *Monitor) Start(ctx context.Context) error {
	m.runMu.Lock()
	defer m.runMu.Unlock()
	if m.running {
		return fmt.Errorf("monitor already running")
	}

	runCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel

	var levels <-chan Severity
	if m.source != nil {
		levels = m.source.Watch(runCtx)
	}

	m.dispatch.start()
	m.wg.Add(1)
	go m.run(runCtx, levels)

	m.running = true
	logging.Info(runCtx, logging.ComponentMonitor, logging.ActionStart, "memory monitor started", map[string]interface{}{
		"heartbeat_ms":    heartbeatInterval.Milliseconds(),
		"pressure_source": m.source != nil,
		"terminal_exit":   m.terminalExit,
	})
	return nil
}

// Stop cancels the heartbeat and the pressure listener and waits for the
// sampling goroutine to drain. Safe to call multiple times; extra calls are
// no-ops.
func (m *Monitor) Stop() {
	m.runMu.Lock()
	defer m.runMu.Unlock()
	if !m.running {
		return
	}
	m.running = false
	m.cancel()
	m.wg.Wait()
	m.dispatch.stop()
	logging.Info(context.Background(), logging.ComponentMonitor, logging.ActionStop, "memory monitor stopped")
}

// Current returns a snapshot copy of the stored sample.
func (m *Monitor) Current() MemorySample {
	return m.store.Current()
}

// State returns the classified severity of the stored sample.
func (m *Monitor) State() Severity {
	return m.store.Current().State
}

// Pressure returns the host pressure axis of the stored sample.
func (m *Monitor) Pressure() Severity {
	return m.store.Current().Pressure
}

// CanAllocate reports whether bytes more can be allocated right now. It
// takes a fresh Provider reading and compares against raw remaining bytes,
// deliberately bypassing the stored, debounced sample: the answer reflects
// the instant, not the last notification.
func (m *Monitor) CanAllocate(bytes uint64) bool {
	raw, err := m.provider.Provide(m.currentPressure())
	if err != nil {
		return false
	}
	return bytes < raw.Remaining
}

// Subscribe registers a footprint subscriber. The current sample is queued
// for one asynchronous replay delivery to fn ahead of any heartbeat-driven
// delivery.
func (m *Monitor) Subscribe(fn SubscriberFunc) *Subscription {
	return m.dispatch.subscribe(fn, m.store.Current())
}

// Events returns the ordered structured change stream: one ChangeEvent per
// accepted update whose change-set touched state or pressure.
func (m *Monitor) Events() <-chan ChangeEvent {
	return m.dispatch.Events()
}

// Stats returns monitor counters for diagnostics.
func (m *Monitor) Stats() map[string]interface{} {
	return map[string]interface{}{
		"ticks_total":        m.ticksTotal.Load(),
		"samples_accepted":   m.samplesAccepted.Load(),
		"rejected_no_change": m.rejectedNoChange.Load(),
		"rejected_debounce":  m.rejectedDebounce.Load(),
		"degraded_samples":   m.degradedSamples.Load(),
		"events_published":   m.eventsPublished.Load(),
		"subscribers":        m.dispatch.subscriberCount(),
	}
}

// run owns the sampling pipeline: periodic ticks plus immediate ticks on
// pressure edges, both serialized on this goroutine.
func (m *Monitor) run(ctx context.Context, levels <-chan Severity) {
	defer m.wg.Done()

	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.tick(ctx)
		case level, ok := <-levels:
			if !ok {
				levels = nil
				continue
			}
			m.pressure.Store(int32(level))
			m.tick(ctx)
		}
	}
}

// tick runs one sampling pass: probe, classify, debounce, dispatch.
func (m *Monitor) tick(ctx context.Context) {
	m.ticksTotal.Add(1)
	pressure := m.currentPressure()

	raw, err := m.provider.Provide(pressure)
	if err != nil {
		// Degraded pass: zero counters, heartbeat keeps running.
		m.degradedSamples.Add(1)
		logging.Warn(ctx, logging.ComponentMonitor, logging.ActionSample, "provider failed, using degraded sample", map[string]interface{}{
			"error": err.Error(),
		})
		raw = RawSample{}
	}

	candidate := MemorySample{
		Used:       raw.Used,
		Remaining:  raw.Remaining,
		Compressed: raw.Compressed,
		State:      Classify(raw.Used, raw.Used+raw.Remaining),
		Pressure:   pressure,
		Timestamp:  m.now(),
	}

	old, changes, accepted := m.store.Update(candidate)
	if !accepted {
		if changes.Empty() {
			m.rejectedNoChange.Add(1)
		} else {
			m.rejectedDebounce.Add(1)
		}
		return
	}
	m.samplesAccepted.Add(1)

	if changes.Has(ChangeState) || changes.Has(ChangePressure) {
		m.eventsPublished.Add(1)
		m.dispatch.publishChange(ChangeEvent{Old: old, New: candidate, Changes: changes})
	}
	if changes.Has(ChangeFootprint) {
		m.dispatch.publishFootprint(candidate)
	}

	if candidate.State == SeverityTerminal && m.terminalExit {
		logging.Fatal(ctx, logging.ComponentMonitor, logging.ActionSample, "terminal memory state reached, exiting", nil, map[string]interface{}{
			"used":  candidate.Used,
			"limit": candidate.Limit(),
		})
		m.exitFunc(1)
	}
}

func (m *Monitor) currentPressure() Severity {
	return Severity(m.pressure.Load())
}

// now is monotonic milliseconds since monitor construction. time.Since uses
// the runtime's monotonic reading, so accepted timestamps never go
// backwards.
func (m *Monitor) now() int64 {
	return time.Since(m.epoch).Milliseconds()
}
