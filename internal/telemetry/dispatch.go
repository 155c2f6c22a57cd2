package telemetry

import (
	"context"
	"fmt"
	"sync"

	"github.com/eapache/queue"
	"github.com/google/uuid"

	"memwatch/internal/logging"
)

// SubscriberFunc receives the new sample on footprint changes.
type SubscriberFunc func(MemorySample)

// Subscription is the handle returned by Subscribe. Cancel is safe to call
// more than once.
type Subscription struct {
	id string
	d  *dispatcher
}

// ID returns the subscription's unique identifier.
func (s *Subscription) ID() string {
	return s.id
}

// Cancel removes the subscriber. Deliveries already queued may still arrive.
func (s *Subscription) Cancel() {
	s.d.unsubscribe(s.id)
}

// footprintJob is one sequential delivery pass: a sample and the snapshot
// of subscribers it goes to.
type footprintJob struct {
	sample  MemorySample
	targets []subscriberRef
}

type subscriberRef struct {
	id string
	fn SubscriberFunc
}

// dispatcher fans accepted updates out to the two notification surfaces.
//
// Structured change events go through a FIFO queue drained by one goroutine
// into the events channel, so deliveries are strictly ordered and the
// sampler never waits on a consumer. Footprint callbacks go through a
// second, independent queue drained by its own goroutine, one pass at a
// time, subscribers invoked sequentially; a slow subscriber delays only the
// rest of its pass.
type dispatcher struct {
	subsMu sync.RWMutex
	subs   map[string]SubscriberFunc
	order  []string

	changeMu   sync.Mutex
	changeQ    *queue.Queue
	changeWake chan struct{}

	jobMu   sync.Mutex
	jobQ    *queue.Queue
	jobWake chan struct{}

	events chan ChangeEvent
	done   chan struct{}
	wg     sync.WaitGroup

	running bool
	runMu   sync.Mutex
}

func newDispatcher() *dispatcher {
	return &dispatcher{
		subs:       make(map[string]SubscriberFunc),
		changeQ:    queue.New(),
		changeWake: make(chan struct{}, 1),
		jobQ:       queue.New(),
		jobWake:    make(chan struct{}, 1),
		events:     make(chan ChangeEvent, 16),
	}
}

func (d *dispatcher) start() {
	d.runMu.Lock()
	defer d.runMu.Unlock()
	if d.running {
		return
	}
	d.running = true
	d.done = make(chan struct{})
	d.wg.Add(2)
	go d.changeLoop(d.done)
	go d.footprintLoop(d.done)
}

func (d *dispatcher) stop() {
	d.runMu.Lock()
	defer d.runMu.Unlock()
	if !d.running {
		return
	}
	d.running = false
	close(d.done)
	d.wg.Wait()
}

// Events exposes the structured change stream. The channel is never closed
// while the owning monitor can still be restarted; consumers select on it
// alongside their own shutdown signal.
func (d *dispatcher) Events() <-chan ChangeEvent {
	return d.events
}

// subscribe registers fn and queues one replay pass carrying current, so
// the new subscriber sees the stored sample ahead of any heartbeat-driven
// delivery.
func (d *dispatcher) subscribe(fn SubscriberFunc, current MemorySample) *Subscription {
	id := uuid.New().String()

	d.subsMu.Lock()
	d.subs[id] = fn
	d.order = append(d.order, id)
	d.subsMu.Unlock()

	d.enqueueJob(footprintJob{
		sample:  current,
		targets: []subscriberRef{{id: id, fn: fn}},
	})
	return &Subscription{id: id, d: d}
}

func (d *dispatcher) unsubscribe(id string) {
	d.subsMu.Lock()
	defer d.subsMu.Unlock()
	if _, ok := d.subs[id]; !ok {
		return
	}
	delete(d.subs, id)
	for i, existing := range d.order {
		if existing == id {
			d.order = append(d.order[:i], d.order[i+1:]...)
			break
		}
	}
}

func (d *dispatcher) subscriberCount() int {
	d.subsMu.RLock()
	defer d.subsMu.RUnlock()
	return len(d.subs)
}

// publishChange queues a structured change event. Never blocks the caller.
func (d *dispatcher) publishChange(ev ChangeEvent) {
	d.changeMu.Lock()
	d.changeQ.Add(ev)
	d.changeMu.Unlock()
	wake(d.changeWake)
}

// publishFootprint queues one delivery pass to the current subscriber set.
// The target snapshot is taken now so subscribers added later do not join
// a pass already in flight.
func (d *dispatcher) publishFootprint(sample MemorySample) {
	d.subsMu.RLock()
	targets := make([]subscriberRef, 0, len(d.order))
	for _, id := range d.order {
		if fn, ok := d.subs[id]; ok {
			targets = append(targets, subscriberRef{id: id, fn: fn})
		}
	}
	d.subsMu.RUnlock()

	if len(targets) == 0 {
		return
	}
	d.enqueueJob(footprintJob{sample: sample, targets: targets})
}

func (d *dispatcher) enqueueJob(job footprintJob) {
	d.jobMu.Lock()
	d.jobQ.Add(job)
	d.jobMu.Unlock()
	wake(d.jobWake)
}

func (d *dispatcher) changeLoop(done <-chan struct{}) {
	defer d.wg.Done()
	for {
		select {
		case <-done:
			return
		case <-d.changeWake:
			for {
				d.changeMu.Lock()
				if d.changeQ.Length() == 0 {
					d.changeMu.Unlock()
					break
				}
				ev := d.changeQ.Remove().(ChangeEvent)
				d.changeMu.Unlock()

				select {
				case d.events <- ev:
				case <-done:
					return
				}
			}
		}
	}
}

func (d *dispatcher) footprintLoop(done <-chan struct{}) {
	defer d.wg.Done()
	for {
		select {
		case <-done:
			return
		case <-d.jobWake:
			for {
				d.jobMu.Lock()
				if d.jobQ.Length() == 0 {
					d.jobMu.Unlock()
					break
				}
				job := d.jobQ.Remove().(footprintJob)
				d.jobMu.Unlock()

				for _, target := range job.targets {
					d.invoke(target, job.sample)
				}
			}
		}
	}
}

// invoke isolates one subscriber callback: a panicking subscriber loses its
// delivery but cannot take down the loop or starve the sampler.
func (d *dispatcher) invoke(target subscriberRef, sample MemorySample) {
	defer func() {
		if r := recover(); r != nil {
			logging.Error(context.Background(), logging.ComponentDispatch, logging.ActionDeliver,
				"footprint subscriber panicked", fmt.Errorf("panic: %v", r), map[string]interface{}{
					"subscription_id": target.id,
				})
		}
	}()
	target.fn(sample)
}

func wake(ch chan struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}
