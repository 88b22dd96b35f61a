package resilience

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestBreakerOpensAfterConsecutiveFailures(t *testing.T) {
	b := NewBreaker("test", BreakerConfig{MaxFailures: 2, Timeout: 50 * time.Millisecond, HalfOpenMax: 1})

	failing := errors.New("boom")
	for i := 0; i < 2; i++ {
		if err := b.Execute(func() error { return failing }); !errors.Is(err, failing) {
			t.Fatalf("attempt %d: expected underlying error, got %v", i, err)
		}
	}

	if b.State() != StateOpen {
		t.Fatalf("expected breaker open after consecutive failures, got %s", b.State())
	}

	if err := b.Execute(func() error { return nil }); !errors.Is(err, ErrCircuitOpen) {
		t.Errorf("expected ErrCircuitOpen while breaker is open, got %v", err)
	}
}

func TestBreakerHalfOpensAfterTimeout(t *testing.T) {
	b := NewBreaker("test2", BreakerConfig{MaxFailures: 1, Timeout: 20 * time.Millisecond, HalfOpenMax: 1})

	b.Execute(func() error { return errors.New("boom") })
	if b.State() != StateOpen {
		t.Fatal("expected breaker open")
	}

	time.Sleep(30 * time.Millisecond)
	if err := b.Execute(func() error { return nil }); err != nil {
		t.Fatalf("expected half-open trial to succeed, got %v", err)
	}
	if b.State() != StateClosed {
		t.Errorf("expected breaker closed after successful half-open trial, got %s", b.State())
	}
}

func TestRetrySucceedsEventually(t *testing.T) {
	attempts := 0
	err := Retry(context.Background(), RetryConfig{MaxAttempts: 5, InitialDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond}, func() error {
		attempts++
		if attempts < 3 {
			return errors.New("transient")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("expected eventual success, got %v", err)
	}
	if attempts != 3 {
		t.Errorf("expected 3 attempts, got %d", attempts)
	}
}

func TestRetryExhaustsAttempts(t *testing.T) {
	attempts := 0
	err := Retry(context.Background(), RetryConfig{MaxAttempts: 3, InitialDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond}, func() error {
		attempts++
		return errors.New("permanent")
	})
	if err == nil {
		t.Fatal("expected error after exhausting attempts")
	}
	if attempts != 3 {
		t.Errorf("expected exactly 3 attempts, got %d", attempts)
	}
}
