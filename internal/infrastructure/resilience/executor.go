// Package resilience runs outbound calls under retry and circuit-breaker
// policies. Callers classify their own errors; the executor only decides
// whether to try again and whether the breaker should care.
package resilience

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/sony/gobreaker/v2"
)

// Outcome is a caller's verdict on a failure. Retry asks for another
// attempt; Count makes the failure visible to the circuit breaker.
type Outcome struct {
	Retry bool
	Count bool
}

type ClassifyFunc func(err error) Outcome

// permanentCounted is the verdict applied when no classifier is given.
func permanentCounted(error) Outcome {
	return Outcome{Retry: false, Count: true}
}

type Executor struct {
	policy Policy

	mu       sync.Mutex
	breakers map[string]*gobreaker.CircuitBreaker[struct{}]
}

func NewExecutor(policy Policy) *Executor {
	return &Executor{
		policy:   policy.sanitized(),
		breakers: make(map[string]*gobreaker.CircuitBreaker[struct{}]),
	}
}

// Run executes fn under the retry schedule, wrapped in the circuit breaker
// named after the operation. Each operation name gets its own breaker.
func (e *Executor) Run(ctx context.Context, operation string, fn func(context.Context) error, classify ClassifyFunc) error {
	if fn == nil {
		return errors.New("resilience: nil call")
	}
	if operation == "" {
		operation = "unnamed"
	}
	if classify == nil {
		classify = permanentCounted
	}

	if e.policy.Breaker.Disabled {
		return e.attempt(ctx, operation, fn, classify)
	}

	_, err := e.breakerFor(operation, classify).Execute(func() (struct{}, error) {
		return struct{}{}, e.attempt(ctx, operation, fn, classify)
	})
	return err
}

func (e *Executor) attempt(ctx context.Context, operation string, fn func(context.Context) error, classify ClassifyFunc) error {
	retry := e.policy.Retry

	for n := 1; ; n++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		err := fn(ctx)
		if err == nil {
			return nil
		}
		if n >= retry.Attempts || !classify(err).Retry {
			return err
		}

		delay := retry.delayFor(n)
		slog.Warn("call_retry",
			slog.String("operation", operation),
			slog.Int("attempt", n),
			slog.Duration("delay", delay),
			slog.String("error", err.Error()),
		)
		if !sleepCtx(ctx, delay) {
			return err
		}
	}
}

// sleepCtx waits the given duration; it reports false if the context ended
// first.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

func (e *Executor) breakerFor(operation string, classify ClassifyFunc) *gobreaker.CircuitBreaker[struct{}] {
	e.mu.Lock()
	defer e.mu.Unlock()

	if b, ok := e.breakers[operation]; ok {
		return b
	}

	bp := e.policy.Breaker
	b := gobreaker.NewCircuitBreaker[struct{}](gobreaker.Settings{
		Name:        operation,
		MaxRequests: bp.ProbeCalls,
		Timeout:     bp.Cooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.Requests >= bp.MinSamples &&
				float64(counts.TotalFailures)/float64(counts.Requests) >= bp.TripRatio
		},
		IsSuccessful: func(err error) bool {
			return err == nil || !classify(err).Count
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			slog.Warn("breaker_state_change",
				slog.String("operation", name),
				slog.String("from", from.String()),
				slog.String("to", to.String()),
			)
		},
	})
	e.breakers[operation] = b
	return b
}

// IsCircuitOpen reports whether the error means the breaker refused the call
// without running it.
func IsCircuitOpen(err error) bool {
	return errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests)
}
