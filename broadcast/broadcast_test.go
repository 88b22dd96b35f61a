package broadcast

import (
	"context"
	"testing"
	"time"

	"github.com/easternanemone/daq-core/backpressure"
	"github.com/easternanemone/daq-core/framepool"
)

func TestSubscribeUnsubscribe(t *testing.T) {
	b := New(nil)
	sink := b.Subscribe("display", 100, backpressure.DropOldest)
	if sink.Name != "display" {
		t.Errorf("expected sink name display, got %s", sink.Name)
	}
	if len(b.Sinks()) != 1 {
		t.Fatalf("expected 1 sink, got %d", len(b.Sinks()))
	}
	b.Unsubscribe("display")
	if len(b.Sinks()) != 0 {
		t.Fatalf("expected 0 sinks after unsubscribe, got %d", len(b.Sinks()))
	}
}

func TestPublishDeliversToAllSinks(t *testing.T) {
	b := New(nil)
	a := b.Subscribe("a", 16, backpressure.Block)
	bSink := b.Subscribe("b", 16, backpressure.Block)

	frame := &framepool.Frame{Number: 1}
	if err := b.Publish(context.Background(), frame); err != nil {
		t.Fatalf("publish: %v", err)
	}

	gotA, ok := a.Queue().TryPop()
	if !ok || gotA.Number != 1 {
		t.Fatalf("expected sink a to receive frame 1, got %+v ok=%v", gotA, ok)
	}
	gotB, ok := bSink.Queue().TryPop()
	if !ok || gotB.Number != 1 {
		t.Fatalf("expected sink b to receive frame 1, got %+v ok=%v", gotB, ok)
	}
}

func TestFastSinkUnaffectedBySlowSink(t *testing.T) {
	b := New(nil)
	fast := b.Subscribe("fast", 1024, backpressure.Block)
	slow := b.Subscribe("slow", 4, backpressure.DropOldest)

	const total = 10_000
	type fastResult struct {
		count int
		last  uint64
	}
	fastDone := make(chan fastResult, 1)
	go func() {
		var res fastResult
		for res.count < total {
			f, ok := fast.Queue().Pop(context.Background())
			if !ok {
				break
			}
			res.last = f.Number
			res.count++
		}
		fastDone <- res
	}()

	for i := 0; i < total; i++ {
		if err := b.Publish(context.Background(), &framepool.Frame{Number: uint64(i)}); err != nil {
			t.Fatalf("publish %d: %v", i, err)
		}
	}

	var res fastResult
	select {
	case res = <-fastDone:
	case <-time.After(5 * time.Second):
		t.Fatal("fast sink consumer did not finish")
	}
	count, lastFast := res.count, res.last
	if count != total {
		t.Errorf("expected fast sink to receive exactly %d frames, got %d", total, count)
	}
	if lastFast != total-1 {
		t.Errorf("expected fast sink's last frame to be %d, got %d", total-1, lastFast)
	}

	var prev int64 = -1
	slowCount := 0
	for {
		f, ok := slow.Queue().TryPop()
		if !ok {
			break
		}
		if int64(f.Number) <= prev {
			t.Fatalf("expected monotonically increasing subsequence on slow sink, got %d after %d", f.Number, prev)
		}
		prev = int64(f.Number)
		slowCount++
	}
	if prev != total-1 {
		t.Errorf("expected slow sink's final frame number to equal last published (%d), got %d", total-1, prev)
	}
	if slowCount == 0 {
		t.Error("expected slow sink to receive at least some frames")
	}
}

func TestAddSubscriberDuringLiveStreaming(t *testing.T) {
	b := New(nil)
	b.Subscribe("existing", 16, backpressure.Block)

	if err := b.Publish(context.Background(), &framepool.Frame{Number: 1}); err != nil {
		t.Fatalf("publish: %v", err)
	}

	late := b.Subscribe("late", 16, backpressure.Block)
	if err := b.Publish(context.Background(), &framepool.Frame{Number: 2}); err != nil {
		t.Fatalf("publish: %v", err)
	}

	f, ok := late.Queue().TryPop()
	if !ok || f.Number != 2 {
		t.Fatalf("expected late subscriber to receive frame 2, got %+v ok=%v", f, ok)
	}
}

func TestSinkCountersTrackDeliveredAndDropped(t *testing.T) {
	b := New(nil)
	sink := b.Subscribe("tight", 1, backpressure.DropNewest)

	b.Publish(context.Background(), &framepool.Frame{Number: 1})
	b.Publish(context.Background(), &framepool.Frame{Number: 2})

	time.Sleep(10 * time.Millisecond)
	if sink.Dropped() != 1 {
		t.Errorf("expected 1 dropped, got %d", sink.Dropped())
	}

	f, ok := sink.Queue().TryPop()
	if !ok || f.Number != 1 {
		t.Fatalf("expected sink to hold frame 1, got %+v ok=%v", f, ok)
	}
	if sink.Delivered() != 1 {
		t.Errorf("expected 1 delivered, got %d", sink.Delivered())
	}
}
