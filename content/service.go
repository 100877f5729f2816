package content

import (
	"context"
	"net/url"
	"time"

	x402 "github.com/Must-be-Ash/x402-firecrawl"
	"github.com/Must-be-Ash/x402-firecrawl/cache"
	"github.com/Must-be-Ash/x402-firecrawl/logger"
	"github.com/Must-be-Ash/x402-firecrawl/metrics"
	"github.com/Must-be-Ash/x402-firecrawl/paygate"
	"github.com/Must-be-Ash/x402-firecrawl/types"
)

// CachedResult is what the cache keeps per composite key
type CachedResult struct {
	Items       []Item               `json:"items"`
	StoredAt    time.Time            `json:"storedAt"`
	Strategy    paygate.StrategyKind `json:"strategy,omitempty"`
	Transaction string               `json:"transaction,omitempty"`
}

// Cache is the storage behind the service. Get reports a miss with ok=false.
type Cache interface {
	Get(ctx context.Context, key string) (*CachedResult, bool, error)
	Put(ctx context.Context, key string, result *CachedResult) error
}

// inFlightCache is implemented by caches that can coalesce concurrent misses
type inFlightCache interface {
	CheckAndMark(key string) (cache.Status, *CachedResult, chan struct{})
	WaitForResult(ctx context.Context, key string, done chan struct{}) (*CachedResult, bool, error)
	Complete(key string, value *CachedResult, done chan struct{})
	Fail(key string, done chan struct{})
}

// Fetcher performs the paid upstream call. *paygate.Engine implements it.
type Fetcher interface {
	Fetch(ctx context.Context, req *paygate.Request) (*paygate.Result, error)
}

// Answer is the response to a content query
type Answer struct {
	Query      Query                 `json:"query"`
	Key        string                `json:"key"`
	Items      []Item                `json:"items"`
	FromCache  bool                  `json:"fromCache"`
	Paid       bool                  `json:"paid"`
	Strategy   paygate.StrategyKind  `json:"strategy,omitempty"`
	Settlement *types.SettleResponse `json:"settlement,omitempty"`
	FetchedAt  time.Time             `json:"fetchedAt"`
}

// Service answers queries from the cache and pays the upstream on a miss
type Service struct {
	fetcher  Fetcher
	cache    Cache
	endpoint string
	log      logger.Logger
	metrics  metrics.Recorder
	now      func() time.Time
}

// ServiceOption configures a Service
type ServiceOption func(*Service)

// WithCache sets the result cache
func WithCache(c Cache) ServiceOption {
	return func(s *Service) {
		if c != nil {
			s.cache = c
		}
	}
}

// WithLogger sets the logger
func WithLogger(log logger.Logger) ServiceOption {
	return func(s *Service) { s.log = logger.OrNoop(log) }
}

// WithMetrics sets the metrics recorder
func WithMetrics(r metrics.Recorder) ServiceOption {
	return func(s *Service) { s.metrics = metrics.OrNoop(r) }
}

// WithClock overrides the time source
func WithClock(now func() time.Time) ServiceOption {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// NewService creates a service querying endpoint through fetcher.
// Without WithCache results are kept in memory.
func NewService(fetcher Fetcher, endpoint string, opts ...ServiceOption) (*Service, error) {
	if fetcher == nil {
		return nil, x402.NewPaymentError(x402.ErrCodeConfiguration, "a fetcher is required", nil)
	}
	u, err := url.Parse(endpoint)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, x402.NewPaymentError(x402.ErrCodeConfiguration, "upstream endpoint must be an absolute URL", map[string]interface{}{
			"endpoint": endpoint,
		})
	}

	s := &Service{
		fetcher:  fetcher,
		cache:    cache.NewMemory[*CachedResult](),
		endpoint: endpoint,
		log:      logger.NoopLogger{},
		metrics:  metrics.NoopRecorder{},
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Get answers q. Cache failures are logged and treated as misses.
func (s *Service) Get(ctx context.Context, q Query) (*Answer, error) {
	q = q.Normalize()
	if err := q.Validate(); err != nil {
		return nil, err
	}
	key := q.Key()

	if fc, ok := s.cache.(inFlightCache); ok {
		return s.getCoalesced(ctx, fc, q, key)
	}

	if cached, ok := s.lookup(ctx, key); ok {
		return s.hit(q, key, cached), nil
	}

	answer, fresh, err := s.fetch(ctx, q, key)
	if err != nil {
		return nil, err
	}
	if err := s.cache.Put(ctx, key, fresh); err != nil {
		s.log.Warn("cache write failed", map[string]any{"key": key, "error": err})
	}
	return answer, nil
}

func (s *Service) getCoalesced(ctx context.Context, fc inFlightCache, q Query, key string) (*Answer, error) {
	for {
		status, cached, done := fc.CheckAndMark(key)
		switch status {
		case cache.StatusCached:
			return s.hit(q, key, cached), nil

		case cache.StatusInFlight:
			cached, ok, err := fc.WaitForResult(ctx, key, done)
			if err != nil {
				return nil, &x402.PaymentError{
					Code:    x402.ErrCodeTimeout,
					Message: "caller context ended while waiting for an identical request",
					Details: map[string]interface{}{"callerDeadline": true},
					Err:     err,
				}
			}
			if ok {
				return s.hit(q, key, cached), nil
			}
			// the producer failed; try again ourselves

		default:
			answer, fresh, err := s.fetch(ctx, q, key)
			if err != nil {
				fc.Fail(key, done)
				return nil, err
			}
			fc.Complete(key, fresh, done)
			return answer, nil
		}
	}
}

func (s *Service) lookup(ctx context.Context, key string) (*CachedResult, bool) {
	cached, ok, err := s.cache.Get(ctx, key)
	if err != nil {
		s.log.Warn("cache read failed, treating as miss", map[string]any{"key": key, "error": err})
		return nil, false
	}
	if !ok || cached == nil {
		return nil, false
	}
	return cached, true
}

func (s *Service) hit(q Query, key string, cached *CachedResult) *Answer {
	s.metrics.IncCounter(metrics.CacheHit, nil)
	s.log.Debug("content cache hit", map[string]any{"key": key, "items": len(cached.Items)})

	items := cached.Items
	if len(items) > q.Limit {
		items = items[:q.Limit]
	}
	return &Answer{
		Query:     q,
		Key:       key,
		Items:     items,
		FromCache: true,
		Strategy:  cached.Strategy,
		FetchedAt: cached.StoredAt,
	}
}

// fetch pays for q. The cached copy keeps every item; the answer is
// trimmed to the query limit.
func (s *Service) fetch(ctx context.Context, q Query, key string) (*Answer, *CachedResult, error) {
	s.metrics.IncCounter(metrics.CacheMiss, nil)

	body, err := q.Body()
	if err != nil {
		return nil, nil, x402.WrapPaymentError(x402.ErrCodeInvalidRequest, "failed to encode content query", err)
	}

	result, err := s.fetcher.Fetch(ctx, paygate.NewJSONRequest(s.endpoint, body))
	if err != nil {
		return nil, nil, err
	}

	fetchedAt := s.now().UTC()
	all := FromArticles(result.Articles, fetchedAt)
	items := all
	if len(items) > q.Limit {
		items = items[:q.Limit]
	}

	s.log.Info("content fetched", map[string]any{
		"key":      key,
		"items":    len(items),
		"paid":     result.Paid,
		"strategy": string(result.Strategy),
	})

	fresh := &CachedResult{
		Items:    all,
		StoredAt: fetchedAt,
		Strategy: result.Strategy,
	}
	if result.Settlement != nil {
		fresh.Transaction = result.Settlement.Transaction
	}

	return &Answer{
		Query:      q,
		Key:        key,
		Items:      items,
		Paid:       result.Paid,
		Strategy:   result.Strategy,
		Settlement: result.Settlement,
		FetchedAt:  fetchedAt,
	}, fresh, nil
}
