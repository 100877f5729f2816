package paygate

import (
	"sync"
	"time"

	x402 "github.com/Must-be-Ash/x402-firecrawl"
)

// Breaker defaults
const (
	DefaultMaxFailures = 3
	DefaultCooldown    = 60 * time.Second
)

// BreakerStatus is a point-in-time view of the breaker
type BreakerStatus struct {
	ConsecutiveFailures int           `json:"consecutiveFailures"`
	LastFailure         time.Time     `json:"lastFailure,omitempty"`
	Open                bool          `json:"open"`
	CooldownRemaining   time.Duration `json:"cooldownRemaining"`
	MaxFailures         int           `json:"maxFailures"`
	Cooldown            time.Duration `json:"cooldown"`
}

// Breaker counts consecutive failed calls and rejects new ones while open.
// The circuit is open when failures >= MaxFailures and the last failure is
// younger than Cooldown. Once the cooldown has elapsed calls are let through
// again; the counter only returns to zero on success or Reset.
type Breaker struct {
	mu          sync.Mutex
	failures    int
	lastFailure time.Time

	maxFailures int
	cooldown    time.Duration
}

// BreakerOption configures a Breaker
type BreakerOption func(*Breaker)

// WithMaxFailures sets the failure threshold
func WithMaxFailures(n int) BreakerOption {
	return func(b *Breaker) {
		if n > 0 {
			b.maxFailures = n
		}
	}
}

// WithCooldown sets how long the circuit stays open
func WithCooldown(d time.Duration) BreakerOption {
	return func(b *Breaker) {
		if d > 0 {
			b.cooldown = d
		}
	}
}

// NewBreaker creates a closed breaker
func NewBreaker(opts ...BreakerOption) *Breaker {
	b := &Breaker{
		maxFailures: DefaultMaxFailures,
		cooldown:    DefaultCooldown,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Allow returns a circuit_open error when calls must be rejected at now
func (b *Breaker) Allow(now time.Time) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	remaining := b.remainingLocked(now)
	if remaining <= 0 {
		return nil
	}
	return &x402.PaymentError{
		Code:       x402.ErrCodeCircuitOpen,
		Message:    "payment circuit is open",
		RetryAfter: remaining,
		Details: map[string]interface{}{
			"consecutiveFailures": b.failures,
			"retryAfterSeconds":   int(remaining.Round(time.Second) / time.Second),
		},
	}
}

// RecordSuccess closes the circuit
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	b.failures = 0
	b.lastFailure = time.Time{}
	b.mu.Unlock()
}

// RecordFailure counts one failed call at now
func (b *Breaker) RecordFailure(now time.Time) {
	b.mu.Lock()
	b.failures++
	b.lastFailure = now
	b.mu.Unlock()
}

// Reset clears the breaker state
func (b *Breaker) Reset() {
	b.RecordSuccess()
}

// Status returns the breaker state as seen at now
func (b *Breaker) Status(now time.Time) BreakerStatus {
	b.mu.Lock()
	defer b.mu.Unlock()

	remaining := b.remainingLocked(now)
	if remaining < 0 {
		remaining = 0
	}
	return BreakerStatus{
		ConsecutiveFailures: b.failures,
		LastFailure:         b.lastFailure,
		Open:                remaining > 0,
		CooldownRemaining:   remaining,
		MaxFailures:         b.maxFailures,
		Cooldown:            b.cooldown,
	}
}

func (b *Breaker) remainingLocked(now time.Time) time.Duration {
	if b.failures < b.maxFailures {
		return 0
	}
	return b.cooldown - now.Sub(b.lastFailure)
}
