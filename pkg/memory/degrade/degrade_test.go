package degrade

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestCallSucceedsFirstAttempt(t *testing.T) {
	c := NewController(Config{CallTimeout: 100 * time.Millisecond}, nil)
	calls := 0
	err := c.Call(context.Background(), StoreSemantic, func(context.Context) error {
		calls++
		return nil
	})
	if err != nil {
		t.Fatalf("Call returned error: %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected 1 attempt, got %d", calls)
	}
}

func TestCallRetriesOnceOnFailure(t *testing.T) {
	c := NewController(Config{CallTimeout: 100 * time.Millisecond}, nil)
	calls := 0
	err := c.Call(context.Background(), StoreSemantic, func(context.Context) error {
		calls++
		if calls == 1 {
			return errors.New("transient")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Call returned error after retry: %v", err)
	}
	if calls != 2 {
		t.Fatalf("expected 2 attempts, got %d", calls)
	}
}

func TestCallStopsAtTwoAttempts(t *testing.T) {
	c := NewController(Config{CallTimeout: 100 * time.Millisecond, MinRequests: 100}, nil)
	calls := 0
	boom := errors.New("boom")
	err := c.Call(context.Background(), StoreAssociative, func(context.Context) error {
		calls++
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected underlying error, got %v", err)
	}
	if calls != 2 {
		t.Fatalf("expected 2 attempts, got %d", calls)
	}
}

func TestCallRespectsTimeout(t *testing.T) {
	c := NewController(Config{CallTimeout: 20 * time.Millisecond, MinRequests: 100}, nil)
	start := time.Now()
	err := c.Call(context.Background(), StoreSemantic, func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	if err == nil {
		t.Fatalf("expected timeout error")
	}
	// One full timeout plus a half-timeout retry, with scheduling slack.
	if elapsed := time.Since(start); elapsed > 200*time.Millisecond {
		t.Fatalf("call took too long: %v", elapsed)
	}
}

func TestCallSkipsRetryWhenParentContextDone(t *testing.T) {
	c := NewController(Config{CallTimeout: 50 * time.Millisecond, MinRequests: 100}, nil)
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	err := c.Call(ctx, StoreSemantic, func(context.Context) error {
		calls++
		cancel()
		return errors.New("failed while parent cancelled")
	})
	if err == nil {
		t.Fatalf("expected error")
	}
	if calls != 1 {
		t.Fatalf("expected no retry after parent cancellation, got %d attempts", calls)
	}
}

func TestBreakerOpensAfterRepeatedFailures(t *testing.T) {
	c := NewController(Config{
		CallTimeout:      10 * time.Millisecond,
		MinRequests:      2,
		FailureThreshold: 0.5,
	}, nil)
	boom := errors.New("down")
	for i := 0; i < 5; i++ {
		_ = c.Call(context.Background(), StoreSemantic, func(context.Context) error {
			return boom
		})
	}
	if c.Healthy(StoreSemantic) {
		t.Fatalf("expected semantic breaker to be open")
	}
	if !c.Healthy(StoreAssociative) {
		t.Fatalf("associative breaker should be unaffected")
	}

	err := c.Call(context.Background(), StoreSemantic, func(context.Context) error {
		t.Fatalf("call should not reach the store while open")
		return nil
	})
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
}
