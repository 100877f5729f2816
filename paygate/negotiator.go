package paygate

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	x402 "github.com/Must-be-Ash/x402-firecrawl"
	x402http "github.com/Must-be-Ash/x402-firecrawl/http"
	"github.com/Must-be-Ash/x402-firecrawl/logger"
	"github.com/Must-be-Ash/x402-firecrawl/types"
)

// maxResponseBody bounds how much of any upstream response is read
const maxResponseBody = 4 << 20

// ChallengeState tracks one request through the 402 handshake
type ChallengeState int

const (
	StateAwaitingChallenge ChallengeState = iota
	StateChallenged
	StateAuthorized
	StateRejected
	// StateNotChallenged means the first response was not a 402 and no
	// payment logic ran
	StateNotChallenged
)

func (s ChallengeState) String() string {
	switch s {
	case StateAwaitingChallenge:
		return "awaiting_challenge"
	case StateChallenged:
		return "challenged"
	case StateAuthorized:
		return "authorized"
	case StateRejected:
		return "rejected"
	case StateNotChallenged:
		return "not_challenged"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Request is a replayable upstream call
type Request struct {
	Method string
	URL    string
	Header http.Header
	Body   []byte
}

// NewJSONRequest creates a POST request carrying body as JSON
func NewJSONRequest(url string, body []byte) *Request {
	h := http.Header{}
	h.Set("Content-Type", "application/json")
	h.Set("Accept", "application/json")
	return &Request{
		Method: http.MethodPost,
		URL:    url,
		Header: h,
		Body:   body,
	}
}

func (r *Request) build(ctx context.Context, paymentHeader string) (*http.Request, error) {
	method := r.Method
	if method == "" {
		method = http.MethodPost
	}
	req, err := http.NewRequestWithContext(ctx, method, r.URL, bytes.NewReader(r.Body))
	if err != nil {
		return nil, x402.WrapPaymentError(x402.ErrCodeConfiguration, "invalid upstream request", err)
	}
	for k, values := range r.Header {
		for _, v := range values {
			req.Header.Add(k, v)
		}
	}
	if paymentHeader != "" {
		req.Header.Set(x402http.PaymentHeader, paymentHeader)
	}
	return req, nil
}

// Outcome is what a strategy observed from the upstream
type Outcome struct {
	Strategy     StrategyKind
	State        ChallengeState
	StatusCode   int
	Header       http.Header
	Body         []byte
	Requirements *types.PaymentRequirements
}

// Paid reports whether the final request carried a signed payment
func (o *Outcome) Paid() bool {
	return o.State == StateAuthorized || o.State == StateRejected
}

// Negotiation is the state of one manual handshake
type Negotiation struct {
	State    ChallengeState
	Required *types.PaymentRequired
	Selected types.PaymentRequirements

	first *Outcome
}

// Negotiator drives the challenge/response handshake step by step
type Negotiator struct {
	client   *http.Client
	selector x402.PaymentRequirementsSelector
	timeout  time.Duration
	log      logger.Logger
}

// NewNegotiator creates a negotiator. timeout bounds each network call.
func NewNegotiator(client *http.Client, selector x402.PaymentRequirementsSelector, timeout time.Duration, log logger.Logger) *Negotiator {
	if client == nil {
		client = http.DefaultClient
	}
	if selector == nil {
		selector = x402.DefaultPaymentSelector
	}
	return &Negotiator{
		client:   client,
		selector: selector,
		timeout:  timeout,
		log:      logger.OrNoop(log),
	}
}

// Challenge issues req without payment and, on a 402, selects the
// requirement to pay
func (n *Negotiator) Challenge(ctx context.Context, req *Request) (*Negotiation, error) {
	first, err := n.send(ctx, req, "", n.timeout)
	if err != nil {
		return nil, err
	}

	if first.StatusCode != http.StatusPaymentRequired {
		first.State = StateNotChallenged
		return &Negotiation{State: StateNotChallenged, first: first}, nil
	}

	required, err := x402http.ParsePaymentRequired(first.Body)
	if err != nil {
		if first.Header.Get(x402http.PaymentRequiredHeader) != "" {
			n.log.Warn("unsupported header-only payment challenge", map[string]any{
				"bodyLength": len(first.Body),
			})
		}
		return nil, err
	}

	selected, err := n.selectRequirement(required)
	if err != nil {
		return nil, err
	}

	n.log.Debug("payment challenge received", map[string]any{
		"network":           selected.Network,
		"maxAmountRequired": selected.MaxAmountRequired,
		"offers":            len(required.Accepts),
	})

	return &Negotiation{
		State:    StateChallenged,
		Required: required,
		Selected: selected,
		first:    first,
	}, nil
}

// Settle reissues req once with paymentHeader attached
func (n *Negotiator) Settle(ctx context.Context, req *Request, neg *Negotiation, paymentHeader string) (*Outcome, error) {
	if neg == nil || neg.State != StateChallenged {
		return nil, x402.NewPaymentError(x402.ErrCodeProtocolViolation, "payment can only follow a challenge", nil)
	}

	out, err := n.send(ctx, req, paymentHeader, paidTimeout(n.timeout, neg.Selected.MaxTimeoutSeconds))
	if err != nil {
		return nil, err
	}

	selected := neg.Selected
	out.Requirements = &selected
	if out.StatusCode >= 200 && out.StatusCode < 300 {
		out.State = StateAuthorized
	} else {
		out.State = StateRejected
	}
	neg.State = out.State
	return out, nil
}

// First returns the response to the unpaid request
func (neg *Negotiation) First() *Outcome {
	return neg.first
}

func (n *Negotiator) selectRequirement(required *types.PaymentRequired) (types.PaymentRequirements, error) {
	var supported []types.PaymentRequirements
	for _, r := range required.Accepts {
		if r.Scheme == types.SchemeExact {
			supported = append(supported, r)
		}
	}
	if len(supported) == 0 {
		return types.PaymentRequirements{}, x402.NewPaymentError(x402.ErrCodeUnsupportedScheme, "no supported payment schemes available", map[string]interface{}{
			"offers": len(required.Accepts),
		})
	}

	selected := n.selector(required.X402Version, supported)
	if err := x402.ValidatePaymentRequirements(selected); err != nil {
		return types.PaymentRequirements{}, err
	}
	return selected, nil
}

func (n *Negotiator) send(ctx context.Context, req *Request, paymentHeader string, timeout time.Duration) (*Outcome, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	httpReq, err := req.build(ctx, paymentHeader)
	if err != nil {
		return nil, err
	}

	resp, err := n.client.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return nil, fmt.Errorf("failed to read upstream response: %w", err)
	}

	return &Outcome{
		State:      StateAwaitingChallenge,
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Body:       body,
	}, nil
}

// paidTimeout bounds the paid retry by the requirement's own timeout
func paidTimeout(requestTimeout time.Duration, maxTimeoutSeconds int) time.Duration {
	if maxTimeoutSeconds <= 0 {
		return requestTimeout
	}
	limit := time.Duration(maxTimeoutSeconds) * time.Second
	if requestTimeout <= 0 || limit < requestTimeout {
		return limit
	}
	return requestTimeout
}
