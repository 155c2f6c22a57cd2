package telemetry

import (
	"sync"
	"time"
)

const (
	// heartbeatInterval is the fixed sampling period and doubles as the
	// debounce window for accepted updates.
	heartbeatInterval = 500 * time.Millisecond

	// footprintDeltaBytes is how far used bytes must move between accepted
	// samples to count as a footprint change on its own.
	footprintDeltaBytes = 1_000_000
)

// sampleStore holds the single current sample under a mutex. Reads copy the
// value out while holding the lock; the only writer is Update's accept path.
type sampleStore struct {
	mu     sync.Mutex
	sample MemorySample
}

// Current returns a copy of the stored sample.
func (st *sampleStore) Current() MemorySample {
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.sample
}

// Update runs change detection and the debounce policy against the stored
// sample. On acceptance it swaps the candidate in and returns the replaced
// sample; the computed change-set is returned either way.
//
// A candidate is rejected outright when nothing changed, and also when a
// real change arrives within heartbeatInterval of the last accepted sample.
// In the latter case the whole update is dropped, not just its
// notification: the store keeps the older sample and the next candidate is
// compared against it. Rapid flips inside one window are lost by design.
func (st *sampleStore) Update(candidate MemorySample) (old MemorySample, changes ChangeSet, accepted bool) {
	st.mu.Lock()
	defer st.mu.Unlock()

	if candidate.State != st.sample.State {
		changes |= ChangeState | ChangeFootprint
	}
	if candidate.Pressure != st.sample.Pressure {
		changes |= ChangePressure | ChangeFootprint
	}
	if usedDelta(candidate.Used, st.sample.Used) > footprintDeltaBytes {
		changes |= ChangeFootprint
	}

	if changes.Empty() {
		return MemorySample{}, changes, false
	}
	// Real change, but too soon after the last accepted sample: the whole
	// update is suppressed. The computed change-set is still returned so
	// callers can count debounce rejections.
	if candidate.Timestamp-st.sample.Timestamp < heartbeatInterval.Milliseconds() {
		return MemorySample{}, changes, false
	}

	old = st.sample
	st.sample = candidate
	return old, changes, true
}

func usedDelta(a, b uint64) uint64 {
	if a > b {
		return a - b
	}
	return b - a
}
