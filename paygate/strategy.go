package paygate

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	x402 "github.com/Must-be-Ash/x402-firecrawl"
	x402http "github.com/Must-be-Ash/x402-firecrawl/http"
	"github.com/Must-be-Ash/x402-firecrawl/mechanisms/evm"
	"github.com/Must-be-Ash/x402-firecrawl/types"
)

// StrategyKind names a payment strategy
type StrategyKind string

const (
	// StrategyDelegated lets the payment-wrapping transport handle the 402
	StrategyDelegated StrategyKind = "delegated"
	// StrategyManual negotiates, signs and encodes explicitly
	StrategyManual StrategyKind = "manual"
)

// Strategy performs one complete attempt at a paid request
type Strategy interface {
	Kind() StrategyKind
	Execute(ctx context.Context, req *Request) (*Outcome, error)
}

// ============================================================================
// Delegated
// ============================================================================

// delegatedStrategy sends the request through an http.Client whose transport
// pays challenges using the scheme registry client
type delegatedStrategy struct {
	transport http.RoundTripper
	payer     *x402http.HTTPClient
	timeout   time.Duration
}

// NewDelegatedStrategy creates the delegated strategy. timeout bounds each
// network call; the paid retry is further bounded by the requirement's
// maxTimeoutSeconds.
func NewDelegatedStrategy(transport http.RoundTripper, payer *x402.X402Client, timeout time.Duration) Strategy {
	if transport == nil {
		transport = http.DefaultTransport
	}
	return &delegatedStrategy{
		transport: transport,
		payer:     x402http.NewClient(payer, nil),
		timeout:   timeout,
	}
}

func (d *delegatedStrategy) Kind() StrategyKind { return StrategyDelegated }

func (d *delegatedStrategy) Execute(ctx context.Context, req *Request) (*Outcome, error) {
	watch := &paymentWatcher{next: d.transport, timeout: d.timeout}
	client := x402http.WrapClient(&http.Client{Transport: watch}, d.payer)

	httpReq, err := req.build(ctx, "")
	if err != nil {
		return nil, err
	}

	resp, err := client.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return nil, fmt.Errorf("failed to read upstream response: %w", err)
	}

	out := &Outcome{
		Strategy:     StrategyDelegated,
		StatusCode:   resp.StatusCode,
		Header:       resp.Header,
		Body:         body,
		Requirements: watch.accepted(),
	}
	paid := watch.paid.Load()
	switch {
	case !paid && resp.StatusCode == http.StatusPaymentRequired:
		out.State = StateChallenged
	case !paid:
		out.State = StateNotChallenged
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		out.State = StateAuthorized
	default:
		out.State = StateRejected
	}
	return out, nil
}

// paymentWatcher notes whether a request carrying a payment left the process
// and bounds every call it forwards. A paid call is bounded by the accepted
// requirement's maxTimeoutSeconds as well.
type paymentWatcher struct {
	next    http.RoundTripper
	timeout time.Duration
	paid    atomic.Bool

	mu           sync.Mutex
	requirements *types.PaymentRequirements
}

func (w *paymentWatcher) RoundTrip(req *http.Request) (*http.Response, error) {
	timeout := w.timeout
	if header := req.Header.Get(x402http.PaymentHeader); header != "" {
		w.paid.Store(true)
		if accepted, ok := decodeAccepted(header); ok {
			w.mu.Lock()
			w.requirements = &accepted
			w.mu.Unlock()
			timeout = paidTimeout(w.timeout, accepted.MaxTimeoutSeconds)
		}
	}
	if timeout <= 0 {
		return w.next.RoundTrip(req)
	}

	ctx, cancel := context.WithTimeout(req.Context(), timeout)
	resp, err := w.next.RoundTrip(req.WithContext(ctx))
	if err != nil {
		cancel()
		return nil, err
	}
	resp.Body = &cancelOnClose{ReadCloser: resp.Body, cancel: cancel}
	return resp, nil
}

func (w *paymentWatcher) accepted() *types.PaymentRequirements {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.requirements
}

// decodeAccepted reads the requirement echoed in a delegated payment header
func decodeAccepted(header string) (types.PaymentRequirements, bool) {
	data, err := base64.StdEncoding.DecodeString(header)
	if err != nil {
		return types.PaymentRequirements{}, false
	}
	var payload types.PaymentPayloadV2
	if err := json.Unmarshal(data, &payload); err != nil || payload.Accepted.Scheme == "" {
		return types.PaymentRequirements{}, false
	}
	return payload.Accepted, true
}

// cancelOnClose keeps a per-call context alive until the body is closed
type cancelOnClose struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (c *cancelOnClose) Close() error {
	err := c.ReadCloser.Close()
	c.cancel()
	return err
}

// ============================================================================
// Manual
// ============================================================================

// manualStrategy runs negotiator, builder and codec explicitly and attaches
// the strict v1 payment header
type manualStrategy struct {
	negotiator *Negotiator
	builder    *evm.Builder
	ceiling    *big.Int
}

// NewManualStrategy creates the manual strategy
func NewManualStrategy(negotiator *Negotiator, builder *evm.Builder, ceiling *big.Int) Strategy {
	return &manualStrategy{
		negotiator: negotiator,
		builder:    builder,
		ceiling:    ceiling,
	}
}

func (m *manualStrategy) Kind() StrategyKind { return StrategyManual }

func (m *manualStrategy) Execute(ctx context.Context, req *Request) (*Outcome, error) {
	neg, err := m.negotiator.Challenge(ctx, req)
	if err != nil {
		return nil, err
	}
	if neg.State == StateNotChallenged {
		out := neg.First()
		out.Strategy = StrategyManual
		return out, nil
	}

	if err := x402.CheckSpendCeiling(neg.Selected.MaxAmountRequired, m.ceiling); err != nil {
		return nil, err
	}

	payment, err := m.builder.BuildPayment(ctx, neg.Selected)
	if err != nil {
		return nil, err
	}

	header, err := x402http.EncodePaymentHeader(payment)
	if err != nil {
		return nil, err
	}

	out, err := m.negotiator.Settle(ctx, req, neg, header)
	if err != nil {
		return nil, err
	}
	out.Strategy = StrategyManual
	return out, nil
}
