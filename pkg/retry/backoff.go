package retry

import (
	"math"
	"math/rand"
	"time"
)

// BackoffStrategy returns the pause before the attempt that follows attempt (1-based)
type BackoffStrategy interface {
	NextBackoff(attempt int) time.Duration
}

// ConstantBackoff always waits Interval
type ConstantBackoff struct {
	Interval time.Duration
}

// NextBackoff returns the constant backoff interval
func (b *ConstantBackoff) NextBackoff(int) time.Duration {
	return b.Interval
}

// ExponentialBackoff grows by Multiplier per attempt up to MaxInterval.
// JitterFactor spreads each pause by up to that fraction in either direction.
type ExponentialBackoff struct {
	InitialInterval time.Duration
	MaxInterval     time.Duration
	Multiplier      float64
	JitterFactor    float64
}

// NextBackoff calculates the pause for attempt
func (b *ExponentialBackoff) NextBackoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	backoff := float64(b.InitialInterval) * math.Pow(b.Multiplier, float64(attempt-1))
	if b.MaxInterval > 0 && backoff > float64(b.MaxInterval) {
		backoff = float64(b.MaxInterval)
	}

	if b.JitterFactor > 0 {
		backoff += (rand.Float64()*2 - 1) * b.JitterFactor * backoff
	}
	if b.MaxInterval > 0 && backoff > float64(b.MaxInterval) {
		backoff = float64(b.MaxInterval)
	}
	return time.Duration(backoff)
}

// NewDefaultExponentialBackoff suits background redelivery of events
func NewDefaultExponentialBackoff() *ExponentialBackoff {
	return &ExponentialBackoff{
		InitialInterval: 500 * time.Millisecond,
		MaxInterval:     60 * time.Second,
		Multiplier:      1.5,
		JitterFactor:    0.2,
	}
}

// NewHTTPBackoff is tuned for short-lived outbound HTTP calls.
func NewHTTPBackoff() *ExponentialBackoff {
	return &ExponentialBackoff{
		InitialInterval: 200 * time.Millisecond,
		MaxInterval:     2 * time.Second,
		Multiplier:      2,
		JitterFactor:    0.1,
	}
}
