package retry

import (
	"context"
	"math"
	"math/rand"
	"time"
)

// Backoff produces exponentially growing delays between reconnection
// attempts, with jitter to avoid synchronized reconnect storms.
type Backoff struct {
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
	Jitter       bool

	attempt int
}

// DefaultBackoff returns the backoff used for channel reconnects.
func DefaultBackoff() Backoff {
	return Backoff{
		InitialDelay: 250 * time.Millisecond,
		MaxDelay:     30 * time.Second,
		Multiplier:   2.0,
		Jitter:       true,
	}
}

// Next returns the delay to wait before the upcoming attempt and advances the
// attempt counter.
func (b *Backoff) Next() time.Duration {
	delay := float64(b.InitialDelay) * math.Pow(b.Multiplier, float64(b.attempt))
	if delay > float64(b.MaxDelay) {
		delay = float64(b.MaxDelay)
	}
	b.attempt++

	d := time.Duration(delay)
	if b.Jitter && d > 0 {
		quarter := d / 4
		d = d - quarter + time.Duration(rand.Int63n(int64(2*quarter)+1))
	}
	return d
}

// Reset rewinds the counter after a successful attempt.
func (b *Backoff) Reset() {
	b.attempt = 0
}

// Attempt returns how many delays have been handed out since the last reset.
func (b *Backoff) Attempt() int {
	return b.attempt
}

// Wait sleeps for the next delay, honoring context cancellation.
func (b *Backoff) Wait(ctx context.Context) error {
	timer := time.NewTimer(b.Next())
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
