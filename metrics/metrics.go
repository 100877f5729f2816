// Package metrics records engine counters and latencies.
package metrics

import "time"

// Event names
const (
	StrategyAttempt = "strategy_attempt"
	StrategyFailure = "strategy_failure"
	PaymentSuccess  = "payment_success"
	CircuitOpen     = "circuit_open"
	CacheHit        = "cache_hit"
	CacheMiss       = "cache_miss"
)

type Recorder interface {
	IncCounter(name string, labels map[string]string)
	ObserveLatency(name string, duration time.Duration, labels map[string]string)
}

// OrNoop returns r, or a NoopRecorder when r is nil
func OrNoop(r Recorder) Recorder {
	if r == nil {
		return NoopRecorder{}
	}
	return r
}
