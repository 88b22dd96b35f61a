package document

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/easternanemone/daq-core/backpressure"
)

func TestPublishOrderingStartThroughStop(t *testing.T) {
	s := New(nil)
	sub := s.Subscribe("sink", 16, backpressure.Block)
	runID := uuid.New()

	ctx := context.Background()
	s.Publish(ctx, NewStart(runID, map[string]string{"experiment": "scan"}))
	s.Publish(ctx, NewDescriptor(runID, []string{"position"}))
	s.Publish(ctx, NewEvent(runID, "x", map[string]any{"position": 10.0}))
	s.Publish(ctx, NewStop(runID, StatusSuccess, ""))

	var docs []Document
	for i := 0; i < 4; i++ {
		d, ok := sub.Pop(ctx)
		if !ok {
			t.Fatalf("expected document %d", i)
		}
		docs = append(docs, d)
	}

	if docs[0].Kind != KindStart || docs[len(docs)-1].Kind != KindStop {
		t.Fatalf("expected Start first and Stop last, got %v", docs)
	}
	for i := 1; i < len(docs); i++ {
		if docs[i].Seq <= docs[i-1].Seq {
			t.Errorf("expected strictly increasing sequence numbers, got %d then %d", docs[i-1].Seq, docs[i].Seq)
		}
	}
}

func TestLaggedSubscriberGetsSyntheticRecord(t *testing.T) {
	s := New(nil)
	sub := s.Subscribe("slow", 1, backpressure.DropOldest)
	runID := uuid.New()
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		s.Publish(ctx, NewEvent(runID, "pm", map[string]any{"i": i}))
	}

	var sawLag bool
	for {
		d, ok := sub.queue.TryPop()
		if !ok {
			break
		}
		if d.Kind == KindLag {
			sawLag = true
			if d.LagCount == 0 {
				t.Error("expected non-zero lag count")
			}
		}
	}
	if !sawLag {
		t.Error("expected a synthetic lag record after an overflowing publish sequence")
	}
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	s := New(nil)
	sub := s.Subscribe("sink", 4, backpressure.Block)
	s.Unsubscribe("sink")

	ctx := context.Background()
	s.Publish(ctx, NewStart(uuid.New(), nil))

	readCtx, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	if _, ok := sub.Pop(readCtx); ok {
		t.Error("expected no delivery after unsubscribe")
	}
}

func TestResubscribeStartsAtTailNoBackfill(t *testing.T) {
	s := New(nil)
	ctx := context.Background()
	s.Publish(ctx, NewStart(uuid.New(), nil))

	sub := s.Subscribe("late", 4, backpressure.Block)
	readCtx, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	if _, ok := sub.Pop(readCtx); ok {
		t.Error("expected a freshly subscribed reader to see no backfilled documents")
	}
}
