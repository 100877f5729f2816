package paygate

import (
	"context"
	"errors"
	"math/big"
	"net/http"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	x402 "github.com/Must-be-Ash/x402-firecrawl"
	"github.com/Must-be-Ash/x402-firecrawl/logger"
	"github.com/Must-be-Ash/x402-firecrawl/mechanisms/evm"
	evmsigner "github.com/Must-be-Ash/x402-firecrawl/signers/evm"
	"github.com/Must-be-Ash/x402-firecrawl/test/mocks/upstream"
	"github.com/Must-be-Ash/x402-firecrawl/types"
)

const testPrivateKey = "0xac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80"

func newTestBuilder(t *testing.T) *evm.Builder {
	t.Helper()
	signer, err := evmsigner.NewClientSignerFromPrivateKey(testPrivateKey)
	require.NoError(t, err)
	return evm.NewBuilder(signer)
}

func newTestEngine(t *testing.T, opts ...Option) *Engine {
	t.Helper()
	engine, err := New(newTestBuilder(t), opts...)
	require.NoError(t, err)
	return engine
}

func newsRequest(url string) *Request {
	return NewJSONRequest(url, []byte(`{"query":"harbor","location":"US","date":"2024-05-01","limit":10}`))
}

// countingTransport counts requests that reach the network
type countingTransport struct {
	next  http.RoundTripper
	calls atomic.Int64
}

func (c *countingTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	c.calls.Add(1)
	return c.next.RoundTrip(req)
}

// testClock is a settable time source
type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func TestEngineFallsBackToManual(t *testing.T) {
	server := upstream.New()
	defer server.Close()

	engine := newTestEngine(t)
	result, err := engine.Fetch(context.Background(), newsRequest(server.Endpoint()))
	require.NoError(t, err)

	assert.Equal(t, StrategyManual, result.Strategy)
	assert.True(t, result.Paid)
	assert.Len(t, result.Articles, 2)
	require.NotNil(t, result.Settlement)
	assert.True(t, result.Settlement.Success)

	assert.Equal(t, 4, server.Requests())
	assert.Equal(t, 2, server.PaidRequests())
	require.NotNil(t, server.LastPayment())
	assert.Equal(t, "10000", server.LastPayment().Payload.Authorization.Value)
	assert.Equal(t, 0, engine.Breaker().Status(time.Now()).ConsecutiveFailures)
}

func TestEngineDelegatedSucceedsOnLenientUpstream(t *testing.T) {
	server := upstream.New(upstream.WithMode(upstream.AcceptLenient))
	defer server.Close()

	engine := newTestEngine(t)
	result, err := engine.Fetch(context.Background(), newsRequest(server.Endpoint()))
	require.NoError(t, err)

	assert.Equal(t, StrategyDelegated, result.Strategy)
	assert.True(t, result.Paid)
	assert.Equal(t, 2, server.Requests())
	assert.Equal(t, 1, server.PaidRequests())
}

func TestEngineManualOnly(t *testing.T) {
	server := upstream.New()
	defer server.Close()

	engine := newTestEngine(t, WithStrategyOrder(StrategyManual))
	result, err := engine.Fetch(context.Background(), newsRequest(server.Endpoint()))
	require.NoError(t, err)

	assert.Equal(t, StrategyManual, result.Strategy)
	assert.Equal(t, 2, server.Requests())
	assert.JSONEq(t, `{"query":"harbor","location":"US","date":"2024-05-01","limit":10}`, string(server.LastRequestBody()))
}

func TestEngineNotChallenged(t *testing.T) {
	server := upstream.New(upstream.WithMode(upstream.NoChallenge))
	defer server.Close()

	engine := newTestEngine(t)
	result, err := engine.Fetch(context.Background(), newsRequest(server.Endpoint()))
	require.NoError(t, err)

	assert.False(t, result.Paid)
	assert.Nil(t, result.Settlement)
	assert.Equal(t, 1, server.Requests())
	assert.Equal(t, 0, server.PaidRequests())
}

func TestEngineEmptyRejection(t *testing.T) {
	server := upstream.New(upstream.WithMode(upstream.RejectEmpty))
	defer server.Close()

	engine := newTestEngine(t)
	_, err := engine.Fetch(context.Background(), newsRequest(server.Endpoint()))
	require.Error(t, err)

	var strategyErr *x402.StrategyError
	require.ErrorAs(t, err, &strategyErr)
	assert.True(t, x402.HasCode(strategyErr.Delegated, x402.ErrCodePaymentRejected))
	assert.True(t, x402.HasCode(strategyErr.Manual, x402.ErrCodePaymentRejected))

	var pe *x402.PaymentError
	require.ErrorAs(t, strategyErr.Last(), &pe)
	assert.Equal(t, EmptyRejectionNote, pe.Details["note"])
	assert.Equal(t, 1, engine.Breaker().Status(time.Now()).ConsecutiveFailures)
}

func TestEngineDelegatedRejectionCarriesRequirement(t *testing.T) {
	server := upstream.New(upstream.WithMode(upstream.RejectEmpty))
	defer server.Close()

	engine := newTestEngine(t, WithStrategyOrder(StrategyDelegated))
	_, err := engine.Fetch(context.Background(), newsRequest(server.Endpoint()))

	var pe *x402.PaymentError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, x402.ErrCodePaymentRejected, pe.Code)
	assert.Equal(t, "base", pe.Details["network"])
	assert.Equal(t, "10000", pe.Details["maxAmountRequired"])
}

func TestEngineDelegatedPaidRetryBoundedByMaxTimeout(t *testing.T) {
	server := upstream.New(
		upstream.WithMode(upstream.HangPaid),
		upstream.WithRequirements(func(r *types.PaymentRequirements) { r.MaxTimeoutSeconds = 1 }),
	)
	defer server.Close()

	engine := newTestEngine(t, WithStrategyOrder(StrategyDelegated), WithRequestTimeout(30*time.Second))
	start := time.Now()
	_, err := engine.Fetch(context.Background(), newsRequest(server.Endpoint()))

	assert.Less(t, time.Since(start), 10*time.Second)
	var strategyErr *x402.StrategyError
	require.ErrorAs(t, err, &strategyErr)
	assert.True(t, x402.HasCode(strategyErr.Delegated, x402.ErrCodeTimeout), "got %v", strategyErr.Delegated)
	assert.Equal(t, 1, server.PaidRequests())
	assert.Equal(t, 1, engine.Breaker().Status(time.Now()).ConsecutiveFailures)
}

func TestEngineInsufficientFunds(t *testing.T) {
	server := upstream.New(upstream.WithMode(upstream.RejectInsufficientFunds))
	defer server.Close()

	engine := newTestEngine(t, WithStrategyOrder(StrategyManual))
	_, err := engine.Fetch(context.Background(), newsRequest(server.Endpoint()))

	var pe *x402.PaymentError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, x402.ErrCodePaymentRejected, pe.Code)
	assert.Equal(t, "insufficient_funds", pe.Details["reason"])
	assert.Contains(t, err.Error(), `upstream rejected the payment: {`)
	assert.Contains(t, err.Error(), `"error":"insufficient_funds"`)
}

func TestEngineRejectionPayloadInCombinedError(t *testing.T) {
	server := upstream.New(upstream.WithMode(upstream.RejectInsufficientFunds))
	defer server.Close()

	engine := newTestEngine(t)
	_, err := engine.Fetch(context.Background(), newsRequest(server.Endpoint()))

	var se *x402.StrategyError
	require.ErrorAs(t, err, &se)
	assert.Contains(t, se.Delegated.Error(), `"error":"insufficient_funds"`)
	assert.Contains(t, se.Manual.Error(), `"error":"insufficient_funds"`)
}

func TestEngineCircuitOpensAfterNetworkErrors(t *testing.T) {
	dead := upstream.New()
	deadURL := dead.Endpoint()
	dead.Close()

	live := upstream.New(upstream.WithMode(upstream.AcceptLenient))
	defer live.Close()

	clock := &testClock{now: time.Unix(1700000000, 0)}
	transport := &countingTransport{next: http.DefaultTransport}
	engine := newTestEngine(t, WithTransport(transport), WithClock(clock.Now))

	for i := 0; i < 3; i++ {
		_, err := engine.Fetch(context.Background(), newsRequest(deadURL))
		var strategyErr *x402.StrategyError
		require.ErrorAs(t, err, &strategyErr)
		assert.True(t, x402.HasCode(strategyErr.Delegated, x402.ErrCodeNetwork), "got %v", strategyErr.Delegated)
		assert.True(t, x402.HasCode(strategyErr.Manual, x402.ErrCodeNetwork), "got %v", strategyErr.Manual)
	}
	assert.Equal(t, 3, engine.Breaker().Status(clock.Now()).ConsecutiveFailures)
	calls := transport.calls.Load()
	assert.Equal(t, int64(6), calls)

	start := time.Now()
	_, err := engine.Fetch(context.Background(), newsRequest(live.Endpoint()))
	elapsed := time.Since(start)

	assert.True(t, x402.HasCode(err, x402.ErrCodeCircuitOpen), "got %v", err)
	assert.Less(t, elapsed, 5*time.Millisecond)
	assert.Equal(t, calls, transport.calls.Load(), "an open circuit must not touch the network")
	assert.Equal(t, 0, live.Requests())

	clock.Advance(61 * time.Second)
	result, err := engine.Fetch(context.Background(), newsRequest(live.Endpoint()))
	require.NoError(t, err)
	assert.True(t, result.Paid)
	assert.Equal(t, 0, engine.Breaker().Status(clock.Now()).ConsecutiveFailures)
}

func TestEngineServerErrorCountsOnce(t *testing.T) {
	server := upstream.New(upstream.WithMode(upstream.ServerError))
	defer server.Close()

	engine := newTestEngine(t)
	_, err := engine.Fetch(context.Background(), newsRequest(server.Endpoint()))

	var strategyErr *x402.StrategyError
	require.ErrorAs(t, err, &strategyErr)
	assert.True(t, x402.HasCode(strategyErr.Manual, x402.ErrCodeUpstream))
	assert.Equal(t, 2, server.Requests())
	assert.Equal(t, 1, engine.Breaker().Status(time.Now()).ConsecutiveFailures)
}

func TestEngineSpendCeilingIsNotCounted(t *testing.T) {
	server := upstream.New(upstream.WithMode(upstream.AcceptLenient))
	defer server.Close()

	engine := newTestEngine(t, WithSpendCeiling(big.NewInt(9999)))
	_, err := engine.Fetch(context.Background(), newsRequest(server.Endpoint()))

	assert.True(t, x402.HasCode(err, x402.ErrCodeSpendCeilingExceeded), "got %v", err)
	var strategyErr *x402.StrategyError
	assert.False(t, errors.As(err, &strategyErr))
	assert.Equal(t, 0, server.PaidRequests())
	assert.Equal(t, 1, server.Requests())
	assert.Equal(t, 0, engine.Breaker().Status(time.Now()).ConsecutiveFailures)
}

func TestEngineManualRespectsSpendCeiling(t *testing.T) {
	server := upstream.New()
	defer server.Close()

	engine := newTestEngine(t, WithStrategyOrder(StrategyManual), WithSpendCeiling(big.NewInt(9999)))
	_, err := engine.Fetch(context.Background(), newsRequest(server.Endpoint()))

	assert.True(t, x402.HasCode(err, x402.ErrCodeSpendCeilingExceeded))
	assert.Equal(t, 0, server.PaidRequests())
}

func TestEngineCallerDeadlineIsNotCounted(t *testing.T) {
	server := upstream.New(upstream.WithMode(upstream.Hang))
	defer server.Close()

	engine := newTestEngine(t)
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := engine.Fetch(ctx, newsRequest(server.Endpoint()))

	var pe *x402.PaymentError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, x402.ErrCodeTimeout, pe.Code)
	assert.Equal(t, true, pe.Details["callerDeadline"])
	assert.Equal(t, 0, engine.Breaker().Status(time.Now()).ConsecutiveFailures)
}

func TestEngineRequestTimeoutIsCounted(t *testing.T) {
	server := upstream.New(upstream.WithMode(upstream.Hang))
	defer server.Close()

	engine := newTestEngine(t, WithRequestTimeout(50*time.Millisecond))
	_, err := engine.Fetch(context.Background(), newsRequest(server.Endpoint()))

	var strategyErr *x402.StrategyError
	require.ErrorAs(t, err, &strategyErr)
	assert.True(t, x402.HasCode(strategyErr.Delegated, x402.ErrCodeTimeout), "got %v", strategyErr.Delegated)
	assert.True(t, x402.HasCode(strategyErr.Manual, x402.ErrCodeTimeout), "got %v", strategyErr.Manual)
	assert.True(t, x402.IsRetryable(strategyErr.Manual))
	assert.Equal(t, 1, engine.Breaker().Status(time.Now()).ConsecutiveFailures)
}

func TestEngineMalformedSuccessBodyDoesNotPayTwice(t *testing.T) {
	server := upstream.New(upstream.WithMode(upstream.AcceptLenient), upstream.WithArticles("not a list"))
	defer server.Close()

	engine := newTestEngine(t)
	_, err := engine.Fetch(context.Background(), newsRequest(server.Endpoint()))

	assert.True(t, x402.HasCode(err, x402.ErrCodeProtocolViolation), "got %v", err)
	assert.Equal(t, 1, server.PaidRequests())
	assert.Equal(t, 0, engine.Breaker().Status(time.Now()).ConsecutiveFailures)
}

func TestEngineIgnoresMalformedSettlementHeader(t *testing.T) {
	server := upstream.New(upstream.WithSettlementHeader("%%%"))
	defer server.Close()

	core, logs := observer.New(zapcore.DebugLevel)
	engine := newTestEngine(t, WithLogger(logger.NewZapLoggerFrom(zap.New(core))))

	result, err := engine.Fetch(context.Background(), newsRequest(server.Endpoint()))
	require.NoError(t, err)
	assert.Nil(t, result.Settlement)
	assert.Equal(t, 1, logs.FilterMessage("ignoring malformed payment confirmation header").Len())

	entries := logs.FilterMessage("upstream request succeeded").All()
	require.Len(t, entries, 1)
	assert.NotEmpty(t, entries[0].ContextMap()["attemptId"])
}

func TestEngineSignerOutageIsCounted(t *testing.T) {
	server := upstream.New()
	defer server.Close()

	outage := errors.New("remote signer unreachable")
	var signs atomic.Int64
	signer, err := evmsigner.NewCallbackSigner("0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266",
		func(context.Context, evm.TypedDataDomain, map[string][]evm.TypedDataField, string, map[string]interface{}) ([]byte, error) {
			signs.Add(1)
			return nil, outage
		})
	require.NoError(t, err)

	engine, err := New(evm.NewBuilder(signer))
	require.NoError(t, err)
	_, err = engine.Fetch(context.Background(), newsRequest(server.Endpoint()))

	var strategyErr *x402.StrategyError
	require.ErrorAs(t, err, &strategyErr)
	assert.ErrorIs(t, err, outage)
	assert.True(t, x402.HasCode(strategyErr.Manual, x402.ErrCodeNetwork), "got %v", strategyErr.Manual)
	assert.Equal(t, int64(2), signs.Load(), "both strategies try to sign")
	assert.Equal(t, 0, server.PaidRequests())
	assert.Equal(t, 1, engine.Breaker().Status(time.Now()).ConsecutiveFailures)
}

func TestNewRequiresSigner(t *testing.T) {
	_, err := New(nil)
	assert.True(t, x402.HasCode(err, x402.ErrCodeConfiguration))

	_, err = New(evm.NewBuilder(nil))
	assert.True(t, x402.HasCode(err, x402.ErrCodeConfiguration))

	_, err = New(newTestBuilder(t), WithStrategyOrder("carrier-pigeon"))
	assert.True(t, x402.HasCode(err, x402.ErrCodeConfiguration))
}

func TestFetchRequiresURL(t *testing.T) {
	engine := newTestEngine(t)
	_, err := engine.Fetch(context.Background(), &Request{})
	assert.True(t, x402.HasCode(err, x402.ErrCodeConfiguration))
}
