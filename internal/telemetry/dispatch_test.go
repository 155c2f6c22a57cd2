package telemetry

import (
	"sync"
	"testing"
	"time"
)

// sampleCollector records deliveries in arrival order.
type sampleCollector struct {
	mu      sync.Mutex
	samples []MemorySample
}

func (c *sampleCollector) fn(s MemorySample) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.samples = append(c.samples, s)
}

func (c *sampleCollector) snapshot() []MemorySample {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]MemorySample, len(c.samples))
	copy(out, c.samples)
	return out
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before timeout")
}

func TestDispatcher_SubscribeReplaysCurrentSample(t *testing.T) {
	d := newDispatcher()
	d.start()
	defer d.stop()

	current := MemorySample{Used: 42, Remaining: 958, State: SeverityNormal, Pressure: SeverityNormal, Timestamp: 7}
	col := &sampleCollector{}
	d.subscribe(col.fn, current)

	waitFor(t, time.Second, func() bool { return len(col.snapshot()) == 1 })
	if got := col.snapshot()[0]; got != current {
		t.Errorf("replay delivered %+v, want %+v", got, current)
	}

	// Replay must precede heartbeat-driven deliveries.
	next := current
	next.Used = 99
	d.publishFootprint(next)

	waitFor(t, time.Second, func() bool { return len(col.snapshot()) == 2 })
	got := col.snapshot()
	if got[0] != current || got[1] != next {
		t.Errorf("deliveries out of order: %+v", got)
	}
}

func TestDispatcher_FootprintFanOutSequential(t *testing.T) {
	d := newDispatcher()
	d.start()
	defer d.stop()

	first := &sampleCollector{}
	second := &sampleCollector{}
	d.subscribe(first.fn, MemorySample{})
	d.subscribe(second.fn, MemorySample{})

	sample := MemorySample{Used: 5_000_000, Remaining: 5_000_000}
	d.publishFootprint(sample)

	waitFor(t, time.Second, func() bool {
		return len(first.snapshot()) == 2 && len(second.snapshot()) == 2
	})
	if first.snapshot()[1] != sample || second.snapshot()[1] != sample {
		t.Error("both subscribers should receive the broadcast sample after their replay")
	}
}

func TestDispatcher_PanickingSubscriberIsIsolated(t *testing.T) {
	d := newDispatcher()
	d.start()
	defer d.stop()

	d.subscribe(func(MemorySample) { panic("subscriber bug") }, MemorySample{})
	col := &sampleCollector{}
	d.subscribe(col.fn, MemorySample{})

	sample := MemorySample{Used: 2_000_000}
	d.publishFootprint(sample)

	// The panicking subscriber must not stop the later one in the pass.
	waitFor(t, time.Second, func() bool { return len(col.snapshot()) == 2 })
	if col.snapshot()[1] != sample {
		t.Error("healthy subscriber should still receive the broadcast")
	}
}

func TestDispatcher_CancelStopsDeliveries(t *testing.T) {
	d := newDispatcher()
	d.start()
	defer d.stop()

	col := &sampleCollector{}
	sub := d.subscribe(col.fn, MemorySample{})
	waitFor(t, time.Second, func() bool { return len(col.snapshot()) == 1 })

	sub.Cancel()
	sub.Cancel() // safe to repeat

	if d.subscriberCount() != 0 {
		t.Fatalf("expected no subscribers after cancel, got %d", d.subscriberCount())
	}

	d.publishFootprint(MemorySample{Used: 9_000_000})
	time.Sleep(50 * time.Millisecond)
	if len(col.snapshot()) != 1 {
		t.Error("cancelled subscriber must not receive further deliveries")
	}
}

func TestDispatcher_ChangeEventsStrictlyOrdered(t *testing.T) {
	d := newDispatcher()
	d.start()
	defer d.stop()

	for i := 0; i < 10; i++ {
		d.publishChange(ChangeEvent{
			New:     MemorySample{Timestamp: int64(i)},
			Changes: ChangeState | ChangeFootprint,
		})
	}

	for i := 0; i < 10; i++ {
		select {
		case ev := <-d.Events():
			if ev.New.Timestamp != int64(i) {
				t.Fatalf("event %d delivered out of order: got timestamp %d", i, ev.New.Timestamp)
			}
		case <-time.After(time.Second):
			t.Fatalf("timed out waiting for event %d", i)
		}
	}
}

func TestDispatcher_StopIdempotent(t *testing.T) {
	d := newDispatcher()
	d.start()
	d.stop()
	d.stop()
	d.start()
	d.stop()
}
