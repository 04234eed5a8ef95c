package resilience

import "time"

// Policy bounds how hard the executor pushes a flaky dependency: a capped
// exponential retry schedule, and a breaker that sheds load once the failure
// ratio over a sample window gets too high.
type Policy struct {
	Retry   RetryPolicy
	Breaker BreakerPolicy
}

type RetryPolicy struct {
	Attempts  int
	BaseDelay time.Duration
	MaxDelay  time.Duration
	Factor    float64
}

type BreakerPolicy struct {
	Disabled   bool
	MinSamples uint32
	TripRatio  float64
	Cooldown   time.Duration
	ProbeCalls uint32
}

// DefaultPolicy is tuned for the NATS publish path: a failed publish is
// cheap to repeat, so retries are short, and the breaker cools down well
// below the client's reconnect window.
func DefaultPolicy() Policy {
	return Policy{
		Retry: RetryPolicy{
			Attempts:  3,
			BaseDelay: 50 * time.Millisecond,
			MaxDelay:  time.Second,
			Factor:    2.0,
		},
		Breaker: BreakerPolicy{
			MinSamples: 5,
			TripRatio:  0.6,
			Cooldown:   20 * time.Second,
			ProbeCalls: 2,
		},
	}
}

func (p Policy) sanitized() Policy {
	def := DefaultPolicy()

	if p.Retry.Attempts <= 0 {
		p.Retry.Attempts = def.Retry.Attempts
	}
	if p.Retry.BaseDelay <= 0 {
		p.Retry.BaseDelay = def.Retry.BaseDelay
	}
	if p.Retry.MaxDelay < p.Retry.BaseDelay {
		p.Retry.MaxDelay = p.Retry.BaseDelay
	}
	if p.Retry.Factor < 1 {
		p.Retry.Factor = def.Retry.Factor
	}

	if p.Breaker.MinSamples == 0 {
		p.Breaker.MinSamples = def.Breaker.MinSamples
	}
	if p.Breaker.TripRatio <= 0 || p.Breaker.TripRatio > 1 {
		p.Breaker.TripRatio = def.Breaker.TripRatio
	}
	if p.Breaker.Cooldown <= 0 {
		p.Breaker.Cooldown = def.Breaker.Cooldown
	}
	if p.Breaker.ProbeCalls == 0 {
		p.Breaker.ProbeCalls = def.Breaker.ProbeCalls
	}

	return p
}

// delayFor returns the backoff before the given retry (attempt is 1-based).
func (p RetryPolicy) delayFor(attempt int) time.Duration {
	d := p.BaseDelay
	for i := 1; i < attempt; i++ {
		d = time.Duration(float64(d) * p.Factor)
		if d >= p.MaxDelay {
			return p.MaxDelay
		}
	}
	if d > p.MaxDelay {
		return p.MaxDelay
	}
	return d
}
