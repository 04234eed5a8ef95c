package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sony/gobreaker/v2"
)

func retryOnlyPolicy() Policy {
	return Policy{
		Retry: RetryPolicy{
			Attempts:  3,
			BaseDelay: time.Millisecond,
			MaxDelay:  2 * time.Millisecond,
			Factor:    2,
		},
		Breaker: BreakerPolicy{Disabled: true},
	}
}

func TestRunRetriesUntilSuccess(t *testing.T) {
	exec := NewExecutor(retryOnlyPolicy())

	attempts := 0
	errTransient := errors.New("transient")
	err := exec.Run(context.Background(), "op", func(context.Context) error {
		attempts++
		if attempts < 3 {
			return errTransient
		}
		return nil
	}, func(err error) Outcome {
		return Outcome{Retry: errors.Is(err, errTransient), Count: true}
	})
	if err != nil {
		t.Fatalf("expected success after retries, got %v", err)
	}
	if attempts != 3 {
		t.Fatalf("expected 3 attempts, got %d", attempts)
	}
}

func TestRunGivesUpWhenAttemptsExhausted(t *testing.T) {
	exec := NewExecutor(retryOnlyPolicy())

	attempts := 0
	errTransient := errors.New("transient")
	err := exec.Run(context.Background(), "op", func(context.Context) error {
		attempts++
		return errTransient
	}, func(error) Outcome {
		return Outcome{Retry: true, Count: true}
	})
	if !errors.Is(err, errTransient) {
		t.Fatalf("expected the last error, got %v", err)
	}
	if attempts != 3 {
		t.Fatalf("expected 3 attempts, got %d", attempts)
	}
}

func TestRunDoesNotRetryPermanentFailure(t *testing.T) {
	exec := NewExecutor(retryOnlyPolicy())

	attempts := 0
	errPermanent := errors.New("permanent")
	err := exec.Run(context.Background(), "op", func(context.Context) error {
		attempts++
		return errPermanent
	}, func(error) Outcome {
		return Outcome{Retry: false, Count: false}
	})
	if !errors.Is(err, errPermanent) {
		t.Fatalf("expected permanent error, got %v", err)
	}
	if attempts != 1 {
		t.Fatalf("expected single attempt, got %d", attempts)
	}
}

func TestRunStopsRetryingOnContextCancel(t *testing.T) {
	exec := NewExecutor(Policy{
		Retry: RetryPolicy{
			Attempts:  5,
			BaseDelay: 50 * time.Millisecond,
			MaxDelay:  50 * time.Millisecond,
			Factor:    1,
		},
		Breaker: BreakerPolicy{Disabled: true},
	})

	ctx, cancel := context.WithCancel(context.Background())
	attempts := 0
	errTransient := errors.New("transient")
	err := exec.Run(ctx, "op", func(context.Context) error {
		attempts++
		cancel()
		return errTransient
	}, func(error) Outcome {
		return Outcome{Retry: true, Count: true}
	})
	if !errors.Is(err, errTransient) {
		t.Fatalf("expected the last call error, got %v", err)
	}
	if attempts != 1 {
		t.Fatalf("expected retries to stop after cancel, got %d attempts", attempts)
	}
}

func TestBreakerOpensAfterRepeatedFailures(t *testing.T) {
	exec := NewExecutor(Policy{
		Retry: RetryPolicy{
			Attempts:  1,
			BaseDelay: time.Millisecond,
			MaxDelay:  time.Millisecond,
			Factor:    1,
		},
		Breaker: BreakerPolicy{
			MinSamples: 2,
			TripRatio:  0.5,
			Cooldown:   time.Minute,
			ProbeCalls: 1,
		},
	})

	errDown := errors.New("down")
	counted := func(error) Outcome {
		return Outcome{Retry: false, Count: true}
	}
	for i := 0; i < 2; i++ {
		_ = exec.Run(context.Background(), "op", func(context.Context) error {
			return errDown
		}, counted)
	}

	err := exec.Run(context.Background(), "op", func(context.Context) error {
		return nil
	}, counted)
	if !errors.Is(err, gobreaker.ErrOpenState) {
		t.Fatalf("expected open circuit, got %v", err)
	}
	if !IsCircuitOpen(err) {
		t.Fatalf("IsCircuitOpen should report open circuit for %v", err)
	}
}

func TestUncountedFailuresDoNotTripBreaker(t *testing.T) {
	exec := NewExecutor(Policy{
		Retry: RetryPolicy{
			Attempts:  1,
			BaseDelay: time.Millisecond,
			MaxDelay:  time.Millisecond,
			Factor:    1,
		},
		Breaker: BreakerPolicy{
			MinSamples: 2,
			TripRatio:  0.5,
			Cooldown:   time.Minute,
			ProbeCalls: 1,
		},
	})

	errBadInput := errors.New("bad input")
	uncounted := func(error) Outcome {
		return Outcome{Retry: false, Count: false}
	}
	for i := 0; i < 5; i++ {
		_ = exec.Run(context.Background(), "op", func(context.Context) error {
			return errBadInput
		}, uncounted)
	}

	err := exec.Run(context.Background(), "op", func(context.Context) error {
		return nil
	}, uncounted)
	if err != nil {
		t.Fatalf("breaker should stay closed for uncounted failures, got %v", err)
	}
}

func TestDelayForCapsAtMax(t *testing.T) {
	p := RetryPolicy{BaseDelay: 10 * time.Millisecond, MaxDelay: 35 * time.Millisecond, Factor: 2}

	want := []time.Duration{
		10 * time.Millisecond,
		20 * time.Millisecond,
		35 * time.Millisecond,
		35 * time.Millisecond,
	}
	for i, expected := range want {
		if got := p.delayFor(i + 1); got != expected {
			t.Errorf("delayFor(%d) = %v, want %v", i+1, got, expected)
		}
	}
}
