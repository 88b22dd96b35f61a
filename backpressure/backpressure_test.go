package backpressure

import (
	"context"
	"testing"
	"time"
)

func TestDropOldestKeepsInOrderSubsequence(t *testing.T) {
	q := NewQueue[int](4, DropOldest)
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		if err := q.Push(ctx, i); err != nil {
			t.Fatalf("push %d: %v", i, err)
		}
	}

	var got []int
	for {
		v, ok := q.TryPop()
		if !ok {
			break
		}
		got = append(got, v)
	}

	if len(got) == 0 {
		t.Fatal("expected some items to survive DropOldest")
	}
	for i := 1; i < len(got); i++ {
		if got[i] <= got[i-1] {
			t.Fatalf("expected strictly increasing in-order subsequence, got %v", got)
		}
	}
	if got[len(got)-1] != 9 {
		t.Errorf("expected last item to be the most recently published (9), got %d", got[len(got)-1])
	}
}

func TestDropNewestIgnoresOverflow(t *testing.T) {
	q := NewQueue[int](2, DropNewest)
	ctx := context.Background()

	q.Push(ctx, 1)
	q.Push(ctx, 2)
	q.Push(ctx, 3) // should be dropped

	_, dropped := q.Stats()
	if dropped != 1 {
		t.Errorf("expected 1 dropped, got %d", dropped)
	}

	var got []int
	for {
		v, ok := q.TryPop()
		if !ok {
			break
		}
		got = append(got, v)
	}
	if len(got) != 2 || got[0] != 1 || got[1] != 2 {
		t.Errorf("expected [1 2], got %v", got)
	}
}

func TestLatestOnlyKeepsOneItem(t *testing.T) {
	q := NewQueue[int](100, LatestOnly)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		q.Push(ctx, i)
	}

	if q.Len() != 1 {
		t.Fatalf("expected LatestOnly to keep exactly 1 item, got %d", q.Len())
	}
	v, ok := q.TryPop()
	if !ok || v != 4 {
		t.Errorf("expected last pushed value 4, got %v (ok=%v)", v, ok)
	}
}

func TestBlockWaitsForSpace(t *testing.T) {
	q := NewQueue[int](1, Block)
	ctx := context.Background()

	if err := q.Push(ctx, 1); err != nil {
		t.Fatalf("push 1: %v", err)
	}

	done := make(chan error, 1)
	go func() {
		done <- q.Push(ctx, 2)
	}()

	select {
	case <-done:
		t.Fatal("expected second Push under Block to wait for space")
	case <-time.After(50 * time.Millisecond):
	}

	v, ok := q.TryPop()
	if !ok || v != 1 {
		t.Fatalf("expected to pop 1, got %v (ok=%v)", v, ok)
	}

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("expected blocked push to succeed, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("expected blocked push to complete after space freed")
	}
}

func TestBlockPushCancelledByContext(t *testing.T) {
	q := NewQueue[int](1, Block)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	q.Push(context.Background(), 1)
	err := q.Push(ctx, 2)
	if err == nil {
		t.Error("expected push to fail when context is cancelled while blocked")
	}
}

func TestCloseWakesBlockedCallers(t *testing.T) {
	q := NewQueue[int](1, Block)
	ctx := context.Background()

	popDone := make(chan bool, 1)
	go func() {
		_, ok := q.Pop(ctx)
		popDone <- ok
	}()

	time.Sleep(20 * time.Millisecond)
	q.Close()

	select {
	case ok := <-popDone:
		if ok {
			t.Error("expected Pop on closed empty queue to return ok=false")
		}
	case <-time.After(time.Second):
		t.Fatal("expected Close to wake blocked Pop")
	}
}

func TestParsePolicy(t *testing.T) {
	cases := map[string]Policy{
		"block":       Block,
		"drop_oldest": DropOldest,
		"drop_newest": DropNewest,
		"latest_only": LatestOnly,
	}
	for name, want := range cases {
		got, err := ParsePolicy(name)
		if err != nil {
			t.Fatalf("ParsePolicy(%q): %v", name, err)
		}
		if got != want {
			t.Errorf("ParsePolicy(%q) = %v, want %v", name, got, want)
		}
	}
	if _, err := ParsePolicy("bogus"); err == nil {
		t.Error("expected error for unknown policy")
	}
}
