package dispatch

import (
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/lennylmiller/pfm-backend-simulator-sub001/internal/metrics"
)

// BreakerState is a provider circuit's position.
type BreakerState string

const (
	BreakerClosed   BreakerState = "closed"
	BreakerOpen     BreakerState = "open"
	BreakerHalfOpen BreakerState = "half_open"
)

// Breaker holds one failure-state machine per external provider.
// Legal transitions only: closed->open when failures inside the
// rolling window reach the threshold, open->half_open after the
// cooldown, half_open->closed on a trial success, half_open->open on
// a trial failure. While open, Allow fails fast without touching the
// provider, and that rejection is not counted as a new failure.
type Breaker struct {
	mu        sync.Mutex
	providers map[string]*providerCircuit

	threshold int
	window    time.Duration
	cooldown  time.Duration
	// now is injectable for deterministic tests
	now func() time.Time
}

type providerCircuit struct {
	state         BreakerState
	failures      []time.Time
	openedAt      time.Time
	trialInFlight bool
}

func NewBreaker(threshold int, window, cooldown time.Duration) *Breaker {
	if threshold <= 0 {
		threshold = 5
	}
	if window <= 0 {
		window = 2 * time.Minute
	}
	if cooldown <= 0 {
		cooldown = time.Minute
	}
	return &Breaker{
		providers: map[string]*providerCircuit{},
		threshold: threshold,
		window:    window,
		cooldown:  cooldown,
		now:       time.Now,
	}
}

// WithClock overrides the clock; tests advance time instead of
// sleeping.
func (b *Breaker) WithClock(now func() time.Time) *Breaker {
	b.now = now
	return b
}

func (b *Breaker) circuit(provider string) *providerCircuit {
	c, ok := b.providers[provider]
	if !ok {
		c = &providerCircuit{state: BreakerClosed}
		b.providers[provider] = c
	}
	return c
}

// Allow reports whether a call to the provider may proceed. In
// half_open exactly one trial attempt is admitted at a time.
func (b *Breaker) Allow(provider string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	c := b.circuit(provider)
	switch c.state {
	case BreakerClosed:
		return true
	case BreakerOpen:
		if b.now().Sub(c.openedAt) < b.cooldown {
			return false
		}
		c.state = BreakerHalfOpen
		c.trialInFlight = true
		metrics.BreakerState.WithLabelValues(provider).Set(1)
		log.Info().Str("provider", provider).Msg("circuit half-open, admitting trial")
		return true
	case BreakerHalfOpen:
		if c.trialInFlight {
			return false
		}
		c.trialInFlight = true
		return true
	}
	return false
}

// RecordSuccess feeds a successful attempt outcome into the circuit.
// In half_open it closes the circuit; in closed it clears the rolling
// failure count.
func (b *Breaker) RecordSuccess(provider string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	c := b.circuit(provider)
	switch c.state {
	case BreakerHalfOpen:
		c.state = BreakerClosed
		c.failures = nil
		c.trialInFlight = false
		metrics.BreakerState.WithLabelValues(provider).Set(0)
		log.Info().Str("provider", provider).Msg("circuit closed after trial success")
	case BreakerClosed:
		c.failures = nil
	}
}

// RecordFailure feeds a failed attempt outcome into the circuit.
func (b *Breaker) RecordFailure(provider string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	c := b.circuit(provider)
	now := b.now()
	switch c.state {
	case BreakerClosed:
		c.failures = append(c.failures, now)
		c.failures = pruneBefore(c.failures, now.Add(-b.window))
		if len(c.failures) >= b.threshold {
			c.state = BreakerOpen
			c.openedAt = now
			c.failures = nil
			metrics.BreakerState.WithLabelValues(provider).Set(2)
			log.Warn().Str("provider", provider).Int("threshold", b.threshold).Msg("circuit opened")
		}
	case BreakerHalfOpen:
		// trial failed; cooldown timer restarts
		c.state = BreakerOpen
		c.openedAt = now
		c.trialInFlight = false
		metrics.BreakerState.WithLabelValues(provider).Set(2)
		log.Warn().Str("provider", provider).Msg("circuit reopened after trial failure")
	case BreakerOpen:
		// fast rejections while open are not new failures; nothing to do
	}
}

// ReleaseTrial returns an admitted half-open trial without recording an
// outcome, for callers that could not attempt the send after all.
// Without it a failed pre-send step would wedge the circuit in
// half_open with the trial slot permanently taken.
func (b *Breaker) ReleaseTrial(provider string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	c := b.circuit(provider)
	if c.state == BreakerHalfOpen {
		c.trialInFlight = false
	}
}

// StateOf returns the provider's current state without advancing it.
func (b *Breaker) StateOf(provider string) BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.circuit(provider).state
}

// FailureCount returns the rolling failure count, for tests and stats.
func (b *Breaker) FailureCount(provider string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.circuit(provider).failures)
}

func pruneBefore(ts []time.Time, cutoff time.Time) []time.Time {
	idx := 0
	for idx < len(ts) && ts[idx].Before(cutoff) {
		idx++
	}
	return ts[idx:]
}
