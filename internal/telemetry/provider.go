package telemetry

import (
	"context"
	"sync"
)

// RawSample is what a Provider reads from the host: byte counts only,
// no classification.
type RawSample struct {
	Used       uint64
	Remaining  uint64
	Compressed uint64
}

// Provider is the capability that yields raw memory counters. The monitor
// never special-cases a particular implementation; production uses the
// OS-backed adapter in internal/probe, tests use StaticProvider.
//
// Provide may fail when host counters are unavailable. The monitor treats
// a failure as a degraded zero sample and keeps the heartbeat running.
type Provider interface {
	Provide(pressureHint Severity) (RawSample, error)
}

// PressureSource delivers host memory-pressure level changes. The returned
// channel is edge-triggered: a value arrives only when the level moved.
// The channel closes when ctx is cancelled.
type PressureSource interface {
	Watch(ctx context.Context) <-chan Severity
}

// StaticProvider is a Provider whose reading is set by hand. Test adapter.
type StaticProvider struct {
	mu  sync.Mutex
	raw RawSample
	err error
}

// NewStaticProvider returns a StaticProvider primed with raw.
func NewStaticProvider(raw RawSample) *StaticProvider {
	return &StaticProvider{raw: raw}
}

// Set replaces the reading returned by subsequent Provide calls.
func (p *StaticProvider) Set(raw RawSample) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.raw = raw
	p.err = nil
}

// Fail makes subsequent Provide calls return err.
func (p *StaticProvider) Fail(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.err = err
}

// Provide implements Provider.
func (p *StaticProvider) Provide(pressureHint Severity) (RawSample, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return RawSample{}, p.err
	}
	return p.raw, nil
}
