// Package document implements the ordered document broadcast every run
// publishes to: Start, Descriptor, Event and Stop records, fanned out
// to per-subscriber bounded queues with lag surfaced rather than
// hidden, in the same spirit as package broadcast's frame fan-out.
package document

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/easternanemone/daq-core/backpressure"
	"github.com/easternanemone/daq-core/internal/daqerr"
	"github.com/easternanemone/daq-core/metrics"
)

// Kind is the closed set of document record types within a run.
type Kind string

const (
	KindStart      Kind = "start"
	KindDescriptor Kind = "descriptor"
	KindEvent      Kind = "event"
	KindStop       Kind = "stop"
	KindLag        Kind = "lag" // synthetic, inserted for a subscriber that dropped records
)

// Status is the terminal outcome carried by a Stop document.
type Status string

const (
	StatusSuccess Status = "success"
	StatusFail    Status = "fail"
	StatusAbort   Status = "abort"
)

// Document is a single run-scoped record. Only the fields relevant to
// Kind are populated; the rest are zero.
type Document struct {
	Kind     Kind
	Seq      uint64
	RunID    uuid.UUID
	Metadata map[string]string // Start
	Fields   []string          // Descriptor
	DeviceID string            // Event
	Values   map[string]any    // Event
	Status   Status            // Stop
	Reason   string            // Stop
	LagCount uint64            // Lag
}

// NewStart builds a Start document for runID. Seq is assigned by Stream.Publish.
func NewStart(runID uuid.UUID, metadata map[string]string) Document {
	return Document{Kind: KindStart, RunID: runID, Metadata: metadata}
}

// NewDescriptor builds a Descriptor document naming the fields Event
// records in this run will carry.
func NewDescriptor(runID uuid.UUID, fields []string) Document {
	return Document{Kind: KindDescriptor, RunID: runID, Fields: fields}
}

// NewEvent builds an Event document for a single completed step.
func NewEvent(runID uuid.UUID, deviceID string, values map[string]any) Document {
	return Document{Kind: KindEvent, RunID: runID, DeviceID: deviceID, Values: values}
}

// NewStop builds the terminal Stop document for a run.
func NewStop(runID uuid.UUID, status Status, reason string) Document {
	return Document{Kind: KindStop, RunID: runID, Status: status, Reason: reason}
}

// Subscriber is one named destination for a Stream's documents.
type Subscriber struct {
	Name       string
	queue      *backpressure.Queue[Document]
	pendingLag atomic.Uint64
}

// Pop blocks for the next document, honoring ctx cancellation.
func (s *Subscriber) Pop(ctx context.Context) (Document, bool) {
	return s.queue.Pop(ctx)
}

// Delivered and Dropped expose this subscriber's queue counters.
func (s *Subscriber) Delivered() uint64 { d, _ := s.queue.Stats(); return d }
func (s *Subscriber) Dropped() uint64   { _, d := s.queue.Stats(); return d }

// Stream is the ordered broadcast of documents for a single run.
// Sequence numbers are assigned centrally by Publish, in call order,
// so callers must publish serially to get the total-order guarantee
// spec.md promises.
type Stream struct {
	mu       sync.RWMutex
	subs     map[string]*Subscriber
	seq      atomic.Uint64
	observer metrics.Observer
}

// New creates an empty document stream.
func New(observer metrics.Observer) *Stream {
	if observer == nil {
		observer = metrics.NoOpObserver{}
	}
	return &Stream{subs: make(map[string]*Subscriber), observer: observer}
}

// Subscribe registers a new named subscriber with its own bounded
// queue. Re-subscribing under a name that was previously removed
// starts from the current tail; there is no backfill.
func (s *Stream) Subscribe(name string, capacity int, policy backpressure.Policy) *Subscriber {
	sub := &Subscriber{Name: name, queue: backpressure.NewQueue[Document](capacity, policy)}
	s.mu.Lock()
	s.subs[name] = sub
	s.mu.Unlock()
	return sub
}

// Unsubscribe removes and closes a subscriber's queue. O(1).
func (s *Stream) Unsubscribe(name string) {
	s.mu.Lock()
	sub, ok := s.subs[name]
	delete(s.subs, name)
	s.mu.Unlock()
	if ok {
		sub.queue.Close()
	}
}

// Subscribers returns a snapshot of the current subscriber list.
func (s *Stream) Subscribers() []*Subscriber {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Subscriber, 0, len(s.subs))
	for _, sub := range s.subs {
		out = append(out, sub)
	}
	return out
}

// Publish assigns the next sequence number to doc and fans it out to
// every subscriber concurrently, so one slow Block-policy subscriber
// does not delay delivery to the others. A subscriber whose queue
// drops this (or an earlier) document first receives a synthetic
// KindLag record carrying the accumulated drop count.
func (s *Stream) Publish(ctx context.Context, doc Document) error {
	doc.Seq = s.seq.Add(1) - 1
	s.observeKind(doc.Kind)

	subs := s.Subscribers()
	var wg sync.WaitGroup
	errs := make([]error, len(subs))
	for i, sub := range subs {
		wg.Add(1)
		go func(i int, sub *Subscriber) {
			defer wg.Done()
			if pending := sub.pendingLag.Swap(0); pending > 0 {
				lag := Document{Kind: KindLag, RunID: doc.RunID, LagCount: pending}
				sub.queue.PushReportingDrop(ctx, lag)
				s.observer.ObserveLag()
			}
			dropped, err := sub.queue.PushReportingDrop(ctx, doc)
			if dropped {
				sub.pendingLag.Add(1)
				s.observer.ObserveDocumentDropped()
			}
			errs[i] = err
		}(i, sub)
	}
	wg.Wait()

	for _, err := range errs {
		if err != nil {
			return daqerr.Wrap("Publish", err)
		}
	}
	return nil
}

func (s *Stream) observeKind(kind Kind) {
	if kind == KindEvent {
		s.observer.ObserveDocument()
	}
}
