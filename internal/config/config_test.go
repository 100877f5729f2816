package config

import (
	"math/big"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	x402 "github.com/Must-be-Ash/x402-firecrawl"
)

const testKey = "0xac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80"

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadDefaults(t *testing.T) {
	t.Setenv(PrivateKeyEnv, testKey)
	t.Setenv("PAYGATE_UPSTREAM_ENDPOINT", "https://api.example.com/v1/news")

	cfg, err := Load("", writeFile(t, "empty.env", ""))
	require.NoError(t, err)

	assert.Equal(t, 30*time.Second, cfg.Upstream.RequestTimeout)
	assert.Equal(t, 300*time.Second, cfg.Payment.SkewTolerance)
	assert.Equal(t, 600*time.Second, cfg.Payment.MaxWindow)
	assert.Equal(t, []string{"delegated", "manual"}, cfg.Payment.Strategies)
	assert.Equal(t, 3, cfg.Breaker.MaxFailures)
	assert.Equal(t, time.Minute, cfg.Breaker.Cooldown)
	assert.Equal(t, "memory", cfg.Cache.Backend)
	assert.Equal(t, ":8402", cfg.Server.Addr)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, testKey, cfg.Payment.PrivateKey)

	ceiling, err := cfg.SpendCeilingAtomic()
	require.NoError(t, err)
	assert.Equal(t, big.NewInt(100000), ceiling)
}

func TestLoadFileAndEnvPrecedence(t *testing.T) {
	file := writeFile(t, "paygate.yaml", `
upstream:
  endpoint: https://file.example.com/v1/news
  request_timeout: 5s
payment:
  spend_ceiling: "0.01"
  strategies: [manual]
breaker:
  max_failures: 5
cache:
  backend: redis
  redis_addr: localhost:6379
log:
  level: debug
`)
	t.Setenv(PrivateKeyEnv, testKey)
	t.Setenv("PAYGATE_BREAKER_COOLDOWN", "2m")
	t.Setenv("PAYGATE_UPSTREAM_ENDPOINT", "https://env.example.com/v1/news")

	cfg, err := Load(file, writeFile(t, "empty.env", ""))
	require.NoError(t, err)

	assert.Equal(t, "https://env.example.com/v1/news", cfg.Upstream.Endpoint)
	assert.Equal(t, 5*time.Second, cfg.Upstream.RequestTimeout)
	assert.Equal(t, []string{"manual"}, cfg.Payment.Strategies)
	assert.Equal(t, 5, cfg.Breaker.MaxFailures)
	assert.Equal(t, 2*time.Minute, cfg.Breaker.Cooldown)
	assert.Equal(t, "redis", cfg.Cache.Backend)
	assert.Equal(t, "debug", cfg.Log.Level)

	ceiling, err := cfg.SpendCeilingAtomic()
	require.NoError(t, err)
	assert.Equal(t, big.NewInt(10000), ceiling)
}

func TestLoadDotEnv(t *testing.T) {
	t.Setenv(PrivateKeyEnv, "")
	os.Unsetenv(PrivateKeyEnv)
	t.Setenv("PAYGATE_UPSTREAM_ENDPOINT", "")
	os.Unsetenv("PAYGATE_UPSTREAM_ENDPOINT")
	t.Setenv("PAYGATE_PAYMENT_STRATEGIES", "")
	os.Unsetenv("PAYGATE_PAYMENT_STRATEGIES")

	env := writeFile(t, "test.env", "PAYGATE_PRIVATE_KEY="+testKey+"\nPAYGATE_UPSTREAM_ENDPOINT=https://dotenv.example.com/news\nPAYGATE_PAYMENT_STRATEGIES=manual, delegated\n")
	t.Cleanup(func() {
		os.Unsetenv(PrivateKeyEnv)
		os.Unsetenv("PAYGATE_UPSTREAM_ENDPOINT")
		os.Unsetenv("PAYGATE_PAYMENT_STRATEGIES")
	})

	cfg, err := Load("", env)
	require.NoError(t, err)
	assert.Equal(t, testKey, cfg.Payment.PrivateKey)
	assert.Equal(t, "https://dotenv.example.com/news", cfg.Upstream.Endpoint)
	assert.Equal(t, []string{"manual", "delegated"}, cfg.Payment.Strategies)
}

func TestPrivateKeyIgnoredInFile(t *testing.T) {
	file := writeFile(t, "paygate.yaml", `
upstream:
  endpoint: https://file.example.com/v1/news
payment:
  private_key: "`+testKey+`"
`)
	t.Setenv(PrivateKeyEnv, "")

	_, err := Load(file, writeFile(t, "empty.env", ""))
	require.Error(t, err)
	assert.True(t, x402.HasCode(err, x402.ErrCodeConfiguration))
	assert.NotContains(t, err.Error(), testKey[2:])
}

func TestLoadValidation(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{"missing endpoint", map[string]string{"PAYGATE_UPSTREAM_ENDPOINT": ""}},
		{"skew too small", map[string]string{"PAYGATE_PAYMENT_SKEW_TOLERANCE": "60s"}},
		{"skew too large", map[string]string{"PAYGATE_PAYMENT_SKEW_TOLERANCE": "15m"}},
		{"unknown strategy", map[string]string{"PAYGATE_PAYMENT_STRATEGIES": "carrier"}},
		{"redis without address", map[string]string{"PAYGATE_CACHE_BACKEND": "redis"}},
		{"bad log level", map[string]string{"PAYGATE_LOG_LEVEL": "loud"}},
		{"negative ceiling", map[string]string{"PAYGATE_PAYMENT_SPEND_CEILING": "-1"}},
		{"ceiling too precise", map[string]string{"PAYGATE_PAYMENT_SPEND_CEILING": "0.0000001"}},
		{"ceiling not a number", map[string]string{"PAYGATE_PAYMENT_SPEND_CEILING": "ten"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(PrivateKeyEnv, testKey)
			t.Setenv("PAYGATE_UPSTREAM_ENDPOINT", "https://api.example.com/v1/news")
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := Load("", writeFile(t, "empty.env", ""))
			assert.True(t, x402.HasCode(err, x402.ErrCodeConfiguration), "got %v", err)
		})
	}
}

func TestLoadMissingConfigFile(t *testing.T) {
	t.Setenv(PrivateKeyEnv, testKey)
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"), writeFile(t, "empty.env", ""))
	assert.True(t, x402.HasCode(err, x402.ErrCodeConfiguration))
}

func TestSpendCeilingUnlimited(t *testing.T) {
	cfg := &Config{Payment: PaymentConfig{SpendCeiling: "", AssetDecimals: 6}}
	ceiling, err := cfg.SpendCeilingAtomic()
	require.NoError(t, err)
	assert.Nil(t, ceiling)
}

func TestRedacted(t *testing.T) {
	cfg := &Config{Payment: PaymentConfig{PrivateKey: testKey}, Cache: CacheConfig{RedisPassword: "hunter2"}}
	fields := cfg.Redacted()
	assert.Equal(t, "***", fields["payment.private_key"])
	assert.Equal(t, "***", fields["cache.redis_password"])
	assert.NotContains(t, fields, "payment.PrivateKey")
}
