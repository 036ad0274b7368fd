package dispatch

import (
	"math/rand"
	"time"
)

// Backoff computes retry delays: base * 2^(attempt-1) plus jitter,
// capped at Max. Delays are non-decreasing in attempt number even
// with jitter applied, because the jitter is non-negative and bounded
// by the next doubling.
type Backoff struct {
	Base   time.Duration
	Max    time.Duration
	Jitter float64 // fraction of the delay, 0-1
}

func DefaultBackoff() Backoff {
	return Backoff{Base: 30 * time.Second, Max: time.Hour, Jitter: 0.1}
}

// Delay returns the wait before the given attempt number (1-based:
// attempt 1 failed, Delay(1) is the wait before attempt 2).
func (b Backoff) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	base := b.Base
	if base <= 0 {
		base = 30 * time.Second
	}
	max := b.Max
	if max <= 0 {
		max = time.Hour
	}

	d := base
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= max {
			d = max
			break
		}
	}
	if d > max {
		d = max
	}
	if b.Jitter > 0 && d < max {
		j := time.Duration(rand.Float64() * b.Jitter * float64(d))
		d += j
		if d > max {
			d = max
		}
	}
	return d
}
