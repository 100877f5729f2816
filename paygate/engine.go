// Package paygate executes payment-gated upstream requests. It negotiates the
// x402 challenge, pays with one of two strategies and isolates upstream
// failures with a circuit breaker.
package paygate

import (
	"context"
	"errors"
	"math/big"
	"net"
	"net/http"
	"time"

	"github.com/google/uuid"

	x402 "github.com/Must-be-Ash/x402-firecrawl"
	"github.com/Must-be-Ash/x402-firecrawl/logger"
	"github.com/Must-be-Ash/x402-firecrawl/mechanisms/evm"
	evmclient "github.com/Must-be-Ash/x402-firecrawl/mechanisms/evm/exact/client"
	"github.com/Must-be-Ash/x402-firecrawl/metrics"
)

// DefaultRequestTimeout bounds each upstream network call
const DefaultRequestTimeout = 30 * time.Second

// Engine runs payment strategies in order behind a shared breaker.
// An Engine is safe for concurrent use.
type Engine struct {
	breaker    *Breaker
	strategies []Strategy
	log        logger.Logger
	metrics    metrics.Recorder
	now        func() time.Time
}

type engineConfig struct {
	transport      http.RoundTripper
	breaker        *Breaker
	log            logger.Logger
	metrics        metrics.Recorder
	ceiling        *big.Int
	requestTimeout time.Duration
	now            func() time.Time
	selector       x402.PaymentRequirementsSelector
	kinds          []StrategyKind
	strategies     []Strategy
}

// Option configures an Engine
type Option func(*engineConfig)

// WithTransport sets the transport used for upstream calls
func WithTransport(transport http.RoundTripper) Option {
	return func(c *engineConfig) { c.transport = transport }
}

// WithBreaker shares an existing breaker
func WithBreaker(b *Breaker) Option {
	return func(c *engineConfig) { c.breaker = b }
}

// WithLogger sets the logger
func WithLogger(log logger.Logger) Option {
	return func(c *engineConfig) { c.log = log }
}

// WithMetrics sets the metrics recorder
func WithMetrics(r metrics.Recorder) Option {
	return func(c *engineConfig) { c.metrics = r }
}

// WithSpendCeiling refuses any single payment above ceiling (atomic units)
func WithSpendCeiling(ceiling *big.Int) Option {
	return func(c *engineConfig) {
		if ceiling != nil {
			c.ceiling = new(big.Int).Set(ceiling)
		}
	}
}

// WithRequestTimeout bounds each upstream network call
func WithRequestTimeout(d time.Duration) Option {
	return func(c *engineConfig) {
		if d > 0 {
			c.requestTimeout = d
		}
	}
}

// WithClock overrides the time source used by the breaker
func WithClock(now func() time.Time) Option {
	return func(c *engineConfig) {
		if now != nil {
			c.now = now
		}
	}
}

// WithSelector picks among several offered requirements
func WithSelector(selector x402.PaymentRequirementsSelector) Option {
	return func(c *engineConfig) { c.selector = selector }
}

// WithStrategyOrder restricts or reorders the built-in strategies
func WithStrategyOrder(kinds ...StrategyKind) Option {
	return func(c *engineConfig) { c.kinds = kinds }
}

// WithStrategies replaces the built-in strategies
func WithStrategies(strategies ...Strategy) Option {
	return func(c *engineConfig) { c.strategies = strategies }
}

// New creates an Engine paying with builder
func New(builder *evm.Builder, opts ...Option) (*Engine, error) {
	cfg := engineConfig{
		transport:      http.DefaultTransport,
		requestTimeout: DefaultRequestTimeout,
		now:            time.Now,
		selector:       x402.DefaultPaymentSelector,
		kinds:          []StrategyKind{StrategyDelegated, StrategyManual},
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.breaker == nil {
		cfg.breaker = NewBreaker()
	}
	log := logger.OrNoop(cfg.log)

	strategies := cfg.strategies
	if len(strategies) == 0 {
		if builder == nil || builder.Signer() == nil {
			return nil, x402.NewPaymentError(x402.ErrCodeConfiguration, "a signer is required", nil)
		}
		for _, kind := range cfg.kinds {
			switch kind {
			case StrategyDelegated:
				clientOpts := []x402.ClientOption{x402.WithPaymentSelector(cfg.selector)}
				if cfg.ceiling != nil {
					clientOpts = append(clientOpts, x402.WithMaxValue(cfg.ceiling))
				}
				payer := evmclient.NewEvmClient(builder, clientOpts...)
				strategies = append(strategies, NewDelegatedStrategy(cfg.transport, payer, cfg.requestTimeout))
			case StrategyManual:
				negotiator := NewNegotiator(&http.Client{Transport: cfg.transport}, cfg.selector, cfg.requestTimeout, log)
				strategies = append(strategies, NewManualStrategy(negotiator, builder, cfg.ceiling))
			default:
				return nil, x402.NewPaymentError(x402.ErrCodeConfiguration, "unknown payment strategy", map[string]interface{}{
					"strategy": string(kind),
				})
			}
		}
	}
	if len(strategies) == 0 {
		return nil, x402.NewPaymentError(x402.ErrCodeConfiguration, "no payment strategies configured", nil)
	}

	return &Engine{
		breaker:    cfg.breaker,
		strategies: strategies,
		log:        log,
		metrics:    metrics.OrNoop(cfg.metrics),
		now:        cfg.now,
	}, nil
}

// Breaker returns the engine's circuit breaker
func (e *Engine) Breaker() *Breaker {
	return e.breaker
}

// Fetch performs one paid request. Strategies run in order until one
// succeeds; when every strategy fails the breaker counts exactly one failure
// and the causes are returned as a *x402.StrategyError.
func (e *Engine) Fetch(ctx context.Context, req *Request) (*Result, error) {
	if req == nil || req.URL == "" {
		return nil, x402.NewPaymentError(x402.ErrCodeConfiguration, "request URL is required", nil)
	}

	log := logger.With(e.log, map[string]any{
		"attemptId": uuid.NewString(),
		"url":       req.URL,
	})

	failures := &x402.StrategyError{}
	for _, strategy := range e.strategies {
		kind := string(strategy.Kind())

		if err := e.breaker.Allow(e.now()); err != nil {
			e.metrics.IncCounter(metrics.CircuitOpen, map[string]string{"strategy": kind, "code": x402.ErrCodeCircuitOpen})
			log.Warn("circuit open, request refused", map[string]any{"strategy": kind})
			return nil, err
		}

		e.metrics.IncCounter(metrics.StrategyAttempt, map[string]string{"strategy": kind})
		start := time.Now()
		out, err := strategy.Execute(ctx, req)
		e.metrics.ObserveLatency("strategy", time.Since(start), map[string]string{"strategy": kind})

		if err == nil {
			result, nerr := Normalize(out, log)
			if nerr == nil {
				e.breaker.RecordSuccess()
				if result.Paid {
					e.metrics.IncCounter(metrics.PaymentSuccess, map[string]string{"strategy": kind})
				}
				log.Info("upstream request succeeded", map[string]any{
					"strategy": kind,
					"paid":     result.Paid,
					"articles": len(result.Articles),
				})
				return result, nil
			}
			if out.StatusCode >= 200 && out.StatusCode < 300 {
				// the upstream accepted the request; retrying could pay twice
				log.Error("upstream returned an unreadable success body", map[string]any{
					"strategy": kind,
					"error":    nerr,
				})
				return nil, nerr
			}
			err = nerr
		}

		err = classify(ctx, err)
		code := x402.CodeOf(err)
		if isCallerTimeout(err) || x402.IsFatal(err) {
			log.Warn("payment aborted", map[string]any{
				"strategy": kind,
				"code":     code,
				"error":    err,
			})
			return nil, err
		}

		e.metrics.IncCounter(metrics.StrategyFailure, map[string]string{"strategy": kind, "code": code})
		log.Warn("payment strategy failed", map[string]any{
			"strategy": kind,
			"code":     code,
			"error":    err,
		})

		switch strategy.Kind() {
		case StrategyDelegated:
			failures.Delegated = err
		default:
			failures.Manual = err
		}
	}

	e.breaker.RecordFailure(e.now())
	status := e.breaker.Status(e.now())
	log.Error("all payment strategies failed", map[string]any{
		"consecutiveFailures": status.ConsecutiveFailures,
		"circuitOpen":         status.Open,
	})
	return nil, failures
}

// classify turns any strategy error into a *x402.PaymentError
func classify(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		message := "caller deadline exceeded"
		if errors.Is(ctxErr, context.Canceled) {
			message = "caller cancelled the request"
		}
		return &x402.PaymentError{
			Code:    x402.ErrCodeTimeout,
			Message: message,
			Details: map[string]interface{}{"callerDeadline": true},
			Err:     err,
		}
	}

	var pe *x402.PaymentError
	if errors.As(err, &pe) {
		return pe
	}

	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return x402.WrapPaymentError(x402.ErrCodeTimeout, "upstream call timed out", err)
	}
	return x402.WrapPaymentError(x402.ErrCodeNetwork, "upstream call failed", err)
}

func isCallerTimeout(err error) bool {
	var pe *x402.PaymentError
	if !errors.As(err, &pe) || pe.Code != x402.ErrCodeTimeout {
		return false
	}
	caller, _ := pe.Details["callerDeadline"].(bool)
	return caller
}
