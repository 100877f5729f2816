package cli

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/Must-be-Ash/x402-firecrawl/cache"
	"github.com/Must-be-Ash/x402-firecrawl/content"
	"github.com/Must-be-Ash/x402-firecrawl/internal/config"
	"github.com/Must-be-Ash/x402-firecrawl/logger"
	"github.com/Must-be-Ash/x402-firecrawl/mechanisms/evm"
	"github.com/Must-be-Ash/x402-firecrawl/metrics"
	"github.com/Must-be-Ash/x402-firecrawl/paygate"
	evmsigner "github.com/Must-be-Ash/x402-firecrawl/signers/evm"
)

// app holds everything a command needs, built from one Config
type app struct {
	cfg     *config.Config
	log     *logger.ZapLogger
	metrics *metrics.PrometheusRecorder
	engine  *paygate.Engine
	service *content.Service
	redis   *redis.Client
}

func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	log, err := logger.NewZapLogger(cfg.Log.Level)
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}
	log.Info("configuration loaded", cfg.Redacted())

	signer, err := evmsigner.NewClientSignerFromPrivateKey(cfg.Payment.PrivateKey)
	if err != nil {
		return nil, err
	}

	policy := evm.ValidityPolicy{
		SkewTolerance: cfg.Payment.SkewTolerance,
		MaxWindow:     cfg.Payment.MaxWindow,
	}
	if err := policy.Validate(); err != nil {
		return nil, err
	}
	builderOpts := []evm.BuilderOption{evm.WithValidityPolicy(policy)}
	if cfg.Payment.RPCURL != "" {
		resolver, err := evm.DialRPCChainResolver(ctx, cfg.Payment.RPCURL)
		if err != nil {
			return nil, err
		}
		builderOpts = append(builderOpts, evm.WithChainResolver(resolver))
	}
	builder := evm.NewBuilder(evmsigner.WithTimeout(signer, cfg.Payment.SignTimeout), builderOpts...)

	ceiling, err := cfg.SpendCeilingAtomic()
	if err != nil {
		return nil, err
	}

	kinds := make([]paygate.StrategyKind, 0, len(cfg.Payment.Strategies))
	for _, s := range cfg.Payment.Strategies {
		kinds = append(kinds, paygate.StrategyKind(s))
	}

	recorder := metrics.NewPrometheusRecorder()
	breaker := paygate.NewBreaker(
		paygate.WithMaxFailures(cfg.Breaker.MaxFailures),
		paygate.WithCooldown(cfg.Breaker.Cooldown),
	)
	engine, err := paygate.New(builder,
		paygate.WithBreaker(breaker),
		paygate.WithLogger(log),
		paygate.WithMetrics(recorder),
		paygate.WithSpendCeiling(ceiling),
		paygate.WithRequestTimeout(cfg.Upstream.RequestTimeout),
		paygate.WithStrategyOrder(kinds...),
	)
	if err != nil {
		return nil, err
	}

	a := &app{cfg: cfg, log: log, metrics: recorder, engine: engine}

	var store content.Cache
	switch cfg.Cache.Backend {
	case "redis":
		client, err := cache.DialRedis(ctx, cfg.Cache.RedisAddr, cfg.Cache.RedisPassword, cfg.Cache.RedisDB)
		if err != nil {
			return nil, err
		}
		a.redis = client
		store = cache.NewRedis[*content.CachedResult](client, "paygate:", cfg.Cache.TTL)
	default:
		store = cache.NewMemory[*content.CachedResult](cache.WithTTL(cfg.Cache.TTL))
	}

	a.service, err = content.NewService(engine, cfg.Upstream.Endpoint,
		content.WithCache(store),
		content.WithLogger(log),
		content.WithMetrics(recorder),
	)
	if err != nil {
		a.Close()
		return nil, err
	}

	log.Info("payer ready", map[string]any{
		"address":    signer.Address(),
		"strategies": cfg.Payment.Strategies,
		"cache":      cfg.Cache.Backend,
	})
	return a, nil
}

// Close releases the Redis connection and flushes the logger
func (a *app) Close() {
	if a.redis != nil {
		_ = a.redis.Close()
	}
	_ = a.log.Sync()
}
