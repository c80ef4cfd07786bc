package client

import (
	"math"
	"math/rand"
	"time"
)

// BackoffStrategy returns the wait before retry number attempt (0-based).
type BackoffStrategy interface {
	Next(attempt int) time.Duration
}

// ExponentialBackoff grows Base by Factor per attempt up to Max, then
// spreads the result by +/- Jitter (a fraction in [0, 1]).
type ExponentialBackoff struct {
	Base   time.Duration
	Max    time.Duration
	Factor float64
	Jitter float64
}

// DefaultBackoff waits 100ms, 200ms, 400ms... capped at 5s with 20% jitter.
func DefaultBackoff() *ExponentialBackoff {
	return &ExponentialBackoff{Base: 100 * time.Millisecond, Max: 5 * time.Second, Factor: 2, Jitter: 0.2}
}

func (b *ExponentialBackoff) Next(attempt int) time.Duration {
	attempt = max(attempt, 0)
	d := math.Min(float64(b.Base)*math.Pow(b.Factor, float64(attempt)), float64(b.Max))
	if b.Jitter > 0 {
		d *= 1 + b.Jitter*(2*rand.Float64()-1)
	}
	return time.Duration(math.Max(d, 0))
}
