package paygate

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	x402 "github.com/Must-be-Ash/x402-firecrawl"
)

func TestBreakerOpensAfterThreshold(t *testing.T) {
	b := NewBreaker()
	now := time.Unix(1700000000, 0)

	require.NoError(t, b.Allow(now))
	b.RecordFailure(now)
	b.RecordFailure(now)
	require.NoError(t, b.Allow(now), "two failures keep the circuit closed")

	b.RecordFailure(now)
	err := b.Allow(now.Add(10 * time.Second))
	require.Error(t, err)
	assert.True(t, x402.HasCode(err, x402.ErrCodeCircuitOpen))

	var pe *x402.PaymentError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, 50*time.Second, pe.RetryAfter)
	assert.True(t, x402.IsRetryable(err))
}

func TestBreakerCooldown(t *testing.T) {
	b := NewBreaker()
	now := time.Unix(1700000000, 0)
	for i := 0; i < 3; i++ {
		b.RecordFailure(now)
	}

	assert.Error(t, b.Allow(now.Add(59*time.Second)))
	assert.NoError(t, b.Allow(now.Add(60*time.Second)))

	// still at the threshold: one more failure reopens immediately
	later := now.Add(61 * time.Second)
	b.RecordFailure(later)
	assert.Error(t, b.Allow(later))
}

func TestBreakerSuccessResets(t *testing.T) {
	b := NewBreaker()
	now := time.Unix(1700000000, 0)
	for i := 0; i < 3; i++ {
		b.RecordFailure(now)
	}
	b.RecordSuccess()

	status := b.Status(now)
	assert.Equal(t, 0, status.ConsecutiveFailures)
	assert.False(t, status.Open)
	assert.True(t, status.LastFailure.IsZero())
	assert.NoError(t, b.Allow(now))
}

func TestBreakerStatus(t *testing.T) {
	b := NewBreaker(WithMaxFailures(2), WithCooldown(30*time.Second))
	now := time.Unix(1700000000, 0)
	b.RecordFailure(now)
	b.RecordFailure(now)

	status := b.Status(now.Add(5 * time.Second))
	assert.Equal(t, 2, status.ConsecutiveFailures)
	assert.True(t, status.Open)
	assert.Equal(t, 25*time.Second, status.CooldownRemaining)
	assert.Equal(t, 2, status.MaxFailures)
	assert.Equal(t, 30*time.Second, status.Cooldown)

	status = b.Status(now.Add(time.Minute))
	assert.False(t, status.Open)
	assert.Zero(t, status.CooldownRemaining)

	b.Reset()
	assert.Equal(t, 0, b.Status(now).ConsecutiveFailures)
}

func TestBreakerConcurrentFailures(t *testing.T) {
	b := NewBreaker()
	now := time.Now()

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			b.RecordFailure(now)
			_ = b.Allow(now)
		}()
	}
	wg.Wait()

	assert.Equal(t, 100, b.Status(now).ConsecutiveFailures)
}
