// Package config loads paygate settings from defaults, an optional YAML file,
// a .env file and PAYGATE_* environment variables, in increasing priority.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"math/big"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"

	x402 "github.com/Must-be-Ash/x402-firecrawl"
)

// EnvPrefix prefixes every environment variable
const EnvPrefix = "PAYGATE"

// PrivateKeyEnv is the only place the signing key is read from
const PrivateKeyEnv = "PAYGATE_PRIVATE_KEY"

// Config is the complete runtime configuration
type Config struct {
	Upstream UpstreamConfig `mapstructure:"upstream"`
	Payment  PaymentConfig  `mapstructure:"payment"`
	Breaker  BreakerConfig  `mapstructure:"breaker"`
	Cache    CacheConfig    `mapstructure:"cache"`
	Server   ServerConfig   `mapstructure:"server"`
	Log      LogConfig      `mapstructure:"log"`
}

type UpstreamConfig struct {
	Endpoint       string        `mapstructure:"endpoint" validate:"required,url"`
	RequestTimeout time.Duration `mapstructure:"request_timeout" validate:"gt=0"`
}

type PaymentConfig struct {
	// PrivateKey is populated from PAYGATE_PRIVATE_KEY only
	PrivateKey    string        `mapstructure:"-" validate:"required"`
	RPCURL        string        `mapstructure:"rpc_url" validate:"omitempty,url"`
	SpendCeiling  string        `mapstructure:"spend_ceiling"`
	AssetDecimals int           `mapstructure:"asset_decimals" validate:"gte=0,lte=36"`
	SkewTolerance time.Duration `mapstructure:"skew_tolerance" validate:"gte=300s,lte=600s"`
	MaxWindow     time.Duration `mapstructure:"max_window" validate:"gte=1s"`
	SignTimeout   time.Duration `mapstructure:"sign_timeout" validate:"gt=0"`
	Strategies    []string      `mapstructure:"strategies" validate:"min=1,dive,oneof=delegated manual"`
}

type BreakerConfig struct {
	MaxFailures int           `mapstructure:"max_failures" validate:"gte=1"`
	Cooldown    time.Duration `mapstructure:"cooldown" validate:"gt=0"`
}

type CacheConfig struct {
	Backend       string        `mapstructure:"backend" validate:"oneof=memory redis"`
	TTL           time.Duration `mapstructure:"ttl" validate:"gt=0"`
	RedisAddr     string        `mapstructure:"redis_addr" validate:"required_if=Backend redis"`
	RedisPassword string        `mapstructure:"redis_password"`
	RedisDB       int           `mapstructure:"redis_db" validate:"gte=0"`
}

type ServerConfig struct {
	Addr string `mapstructure:"addr" validate:"required"`
}

type LogConfig struct {
	Level string `mapstructure:"level" validate:"oneof=debug info warn error"`
}

var validate = validator.New()

func setDefaults(v *viper.Viper) {
	v.SetDefault("upstream.endpoint", "")
	v.SetDefault("upstream.request_timeout", "30s")

	v.SetDefault("payment.rpc_url", "")
	v.SetDefault("payment.spend_ceiling", "0.10")
	v.SetDefault("payment.asset_decimals", 6)
	v.SetDefault("payment.skew_tolerance", "300s")
	v.SetDefault("payment.max_window", "600s")
	v.SetDefault("payment.sign_timeout", "10s")
	v.SetDefault("payment.strategies", []string{"delegated", "manual"})

	v.SetDefault("breaker.max_failures", 3)
	v.SetDefault("breaker.cooldown", "60s")

	v.SetDefault("cache.backend", "memory")
	v.SetDefault("cache.ttl", "15m")
	v.SetDefault("cache.redis_addr", "")
	v.SetDefault("cache.redis_password", "")
	v.SetDefault("cache.redis_db", 0)

	v.SetDefault("server.addr", ":8402")
	v.SetDefault("log.level", "info")
}

// Load reads the configuration. configFile may be empty. envFiles default
// to ./.env when present; variables already set in the process win.
func Load(configFile string, envFiles ...string) (*Config, error) {
	if err := loadEnvFiles(envFiles); err != nil {
		return nil, err
	}

	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, x402.WrapPaymentError(x402.ErrCodeConfiguration, fmt.Sprintf("failed to read config file %s", configFile), err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, x402.WrapPaymentError(x402.ErrCodeConfiguration, "failed to decode configuration", err)
	}
	cfg.Payment.Strategies = splitList(strings.Join(cfg.Payment.Strategies, ","))
	cfg.Payment.PrivateKey = strings.TrimSpace(os.Getenv(PrivateKeyEnv))

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks field constraints and the spend ceiling
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return x402.WrapPaymentError(x402.ErrCodeConfiguration, "invalid configuration", redact(err))
	}
	if _, err := c.SpendCeilingAtomic(); err != nil {
		return err
	}
	return nil
}

// SpendCeilingAtomic converts the decimal spend ceiling into the asset's
// smallest unit. An empty ceiling means unlimited and returns nil.
func (c *Config) SpendCeilingAtomic() (*big.Int, error) {
	raw := strings.TrimSpace(c.Payment.SpendCeiling)
	if raw == "" {
		return nil, nil
	}

	amount, err := decimal.NewFromString(raw)
	if err != nil {
		return nil, x402.WrapPaymentError(x402.ErrCodeConfiguration, "spend ceiling is not a decimal amount", err)
	}
	if amount.IsNegative() {
		return nil, x402.NewPaymentError(x402.ErrCodeConfiguration, "spend ceiling must not be negative", map[string]interface{}{
			"spendCeiling": raw,
		})
	}

	atomic := amount.Shift(int32(c.Payment.AssetDecimals))
	if !atomic.Equal(atomic.Truncate(0)) {
		return nil, x402.NewPaymentError(x402.ErrCodeConfiguration, "spend ceiling has more precision than the asset", map[string]interface{}{
			"spendCeiling":  raw,
			"assetDecimals": c.Payment.AssetDecimals,
		})
	}
	return atomic.BigInt(), nil
}

// Redacted returns the configuration with secrets masked, for logging
func (c *Config) Redacted() map[string]any {
	return map[string]any{
		"upstream.endpoint":        c.Upstream.Endpoint,
		"upstream.request_timeout": c.Upstream.RequestTimeout.String(),
		"payment.private_key":      mask(c.Payment.PrivateKey),
		"payment.rpc_url":          c.Payment.RPCURL,
		"payment.spend_ceiling":    c.Payment.SpendCeiling,
		"payment.strategies":       c.Payment.Strategies,
		"breaker.max_failures":     c.Breaker.MaxFailures,
		"breaker.cooldown":         c.Breaker.Cooldown.String(),
		"cache.backend":            c.Cache.Backend,
		"cache.ttl":                c.Cache.TTL.String(),
		"cache.redis_password":     mask(c.Cache.RedisPassword),
		"server.addr":              c.Server.Addr,
		"log.level":                c.Log.Level,
	}
}

func loadEnvFiles(files []string) error {
	if len(files) == 0 {
		if _, err := os.Stat(".env"); err != nil {
			return nil
		}
		files = []string{".env"}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return x402.WrapPaymentError(x402.ErrCodeConfiguration, fmt.Sprintf("failed to load %s", f), err)
		}
	}
	return nil
}

// redact drops the offending value from validation errors so the private
// key never reaches a log line
func redact(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	fields := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		fields = append(fields, fmt.Sprintf("%s failed %q", fe.Namespace(), fe.Tag()))
	}
	return errors.New(strings.Join(fields, "; "))
}

func mask(secret string) string {
	if secret == "" {
		return ""
	}
	return "***"
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
