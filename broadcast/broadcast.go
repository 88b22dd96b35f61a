// Package broadcast implements fan-out of finalized frames to N named
// sinks, each governed by its own bounded queue and overflow policy.
package broadcast

import (
	"context"
	"sync"

	"github.com/easternanemone/daq-core/backpressure"
	"github.com/easternanemone/daq-core/framepool"
	"github.com/easternanemone/daq-core/internal/daqerr"
	"github.com/easternanemone/daq-core/metrics"
)

// Sink is one named destination in a FrameBroadcast, with its own
// bounded queue and overflow policy.
type Sink struct {
	Name   string
	Policy backpressure.Policy
	queue  *backpressure.Queue[*framepool.Frame]
}

// Queue exposes the sink's underlying queue so a consumer can Pop.
func (s *Sink) Queue() *backpressure.Queue[*framepool.Frame] { return s.queue }

// Delivered and Dropped report the sink's cumulative counters.
func (s *Sink) Delivered() uint64 { d, _ := s.queue.Stats(); return d }
func (s *Sink) Dropped() uint64   { _, d := s.queue.Stats(); return d }

// Broadcast fans out finalized frames to N named sinks. Subscribe and
// Unsubscribe are O(1); adding a subscriber during live streaming is
// supported.
type Broadcast struct {
	mu       sync.RWMutex
	sinks    map[string]*Sink
	observer metrics.Observer
}

// New creates an empty broadcast. observer may be nil, in which case
// metrics.NoOpObserver is used.
func New(observer metrics.Observer) *Broadcast {
	if observer == nil {
		observer = metrics.NoOpObserver{}
	}
	return &Broadcast{sinks: make(map[string]*Sink), observer: observer}
}

// Subscribe adds a named sink with the given bounded queue capacity
// and overflow policy. Subscribing twice under the same name replaces
// the prior sink.
func (b *Broadcast) Subscribe(name string, capacity int, policy backpressure.Policy) *Sink {
	b.mu.Lock()
	defer b.mu.Unlock()
	sink := &Sink{
		Name:   name,
		Policy: policy,
		queue:  backpressure.NewQueue[*framepool.Frame](capacity, policy),
	}
	b.sinks[name] = sink
	return sink
}

// Unsubscribe removes a sink by name. It is a no-op if the name is
// not currently subscribed.
func (b *Broadcast) Unsubscribe(name string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if sink, ok := b.sinks[name]; ok {
		sink.queue.Close()
		delete(b.sinks, name)
	}
}

// Sinks returns a snapshot slice of the currently subscribed sinks.
func (b *Broadcast) Sinks() []*Sink {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]*Sink, 0, len(b.sinks))
	for _, s := range b.sinks {
		out = append(out, s)
	}
	return out
}

// Publish tries each sink's queue per its policy. A slow sink governed
// by Block will make Publish wait on ctx; slow sinks never block fast
// ones except under that explicit configuration — each sink is pushed
// to independently and concurrently.
func (b *Broadcast) Publish(ctx context.Context, frame *framepool.Frame) error {
	b.observer.ObserveFramePublish()

	sinks := b.Sinks()
	if len(sinks) == 0 {
		return nil
	}

	var wg sync.WaitGroup
	errs := make([]error, len(sinks))
	for i, sink := range sinks {
		wg.Add(1)
		go func(i int, sink *Sink) {
			defer wg.Done()
			dropped, err := sink.queue.PushReportingDrop(ctx, frame)
			if err != nil {
				errs[i] = err
				return
			}
			if dropped {
				b.observer.ObserveFrameDropped()
			} else {
				b.observer.ObserveFrameDelivered(0)
			}
		}(i, sink)
	}
	wg.Wait()

	for _, err := range errs {
		if err != nil {
			return daqerr.Wrap("Publish", err)
		}
	}
	return nil
}
