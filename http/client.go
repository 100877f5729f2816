package http

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	x402 "github.com/Must-be-Ash/x402-firecrawl"
	"github.com/Must-be-Ash/x402-firecrawl/logger"
	"github.com/Must-be-Ash/x402-firecrawl/types"
)

// Header names used by the v1 protocol
const (
	PaymentHeader         = "X-PAYMENT"
	PaymentResponseHeader = "X-PAYMENT-RESPONSE"
	PaymentRequiredHeader = "PAYMENT-REQUIRED"
)

// maxChallengeBody bounds how much of a 402 body is read
const maxChallengeBody = 1 << 20

// ============================================================================
// x402HTTPClient - HTTP-aware payment client
// ============================================================================

// x402HTTPClient wraps X402Client with HTTP-specific payment handling
type x402HTTPClient struct {
	client *x402.X402Client
	log    logger.Logger
}

// Newx402HTTPClient creates a new HTTP-aware x402 client
func Newx402HTTPClient(client *x402.X402Client, log logger.Logger) *x402HTTPClient {
	return &x402HTTPClient{
		client: client,
		log:    logger.OrNoop(log),
	}
}

// GetPaymentRequiredResponse extracts payment requirements from a 402 response body.
// Header-only challenges are logged and rejected.
func (c *x402HTTPClient) GetPaymentRequiredResponse(headers http.Header, body []byte) (*types.PaymentRequired, error) {
	required, err := ParsePaymentRequired(body)
	if err != nil {
		if headers.Get(PaymentRequiredHeader) != "" {
			c.log.Warn("unsupported header-only payment challenge", map[string]any{
				"bodyLength": len(body),
			})
		}
		return nil, err
	}
	return required, nil
}

// ============================================================================
// HTTP Client Wrapper
// ============================================================================

// WrapHTTPClientWithPayment returns a copy of client whose transport pays
// 402 challenges automatically. The original client is not modified.
func WrapHTTPClientWithPayment(client *http.Client, x402Client *x402HTTPClient) *http.Client {
	if client == nil {
		client = http.DefaultClient
	}

	originalTransport := client.Transport
	if originalTransport == nil {
		originalTransport = http.DefaultTransport
	}

	wrapped := *client
	wrapped.Transport = &PaymentRoundTripper{
		Transport:  originalTransport,
		x402Client: x402Client,
	}
	return &wrapped
}

// PaymentRoundTripper implements http.RoundTripper with x402 payment handling.
// A request is paid at most once: a 402 answer to a request that already
// carries a payment header is returned to the caller unchanged.
type PaymentRoundTripper struct {
	Transport  http.RoundTripper
	x402Client *x402HTTPClient
}

// RoundTrip implements http.RoundTripper
func (t *PaymentRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	req, err := replayable(req)
	if err != nil {
		return nil, err
	}

	resp, err := t.Transport.RoundTrip(req)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode != http.StatusPaymentRequired || req.Header.Get(PaymentHeader) != "" {
		return resp, nil
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxChallengeBody))
	resp.Body.Close()
	if err != nil {
		return nil, x402.WrapPaymentError(x402.ErrCodeNetwork, "failed to read 402 response body", err)
	}

	paymentRequired, err := t.x402Client.GetPaymentRequiredResponse(resp.Header, body)
	if err != nil {
		return nil, err
	}

	ctx := req.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	payload, err := t.x402Client.client.CreatePaymentForRequired(ctx, *paymentRequired)
	if err != nil {
		return nil, err
	}

	header, err := encodePaymentSignatureHeader(payload)
	if err != nil {
		return nil, err
	}

	paymentReq := req.Clone(ctx)
	if req.GetBody != nil {
		paymentReq.Body, err = req.GetBody()
		if err != nil {
			return nil, fmt.Errorf("failed to replay request body: %w", err)
		}
	}
	paymentReq.Header.Set(PaymentHeader, header)

	return t.Transport.RoundTrip(paymentReq)
}

// replayable returns req, or a copy with a buffered body when req's body
// cannot be re-read for the paid retry
func replayable(req *http.Request) (*http.Request, error) {
	if req.Body == nil || req.Body == http.NoBody || req.GetBody != nil {
		return req, nil
	}
	data, err := io.ReadAll(req.Body)
	req.Body.Close()
	if err != nil {
		return nil, fmt.Errorf("failed to buffer request body: %w", err)
	}
	clone := req.Clone(req.Context())
	clone.Body = io.NopCloser(bytes.NewReader(data))
	clone.GetBody = func() (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader(data)), nil
	}
	return clone, nil
}

// ============================================================================
// Header Encoding/Decoding Functions
// ============================================================================

// EncodePaymentHeader encodes a signed payment as base64 JSON for X-PAYMENT
func EncodePaymentHeader(payload types.PaymentPayload) (string, error) {
	return encodeHeader(payload)
}

// encodePaymentSignatureHeader encodes the envelope produced by the x402
// client, accepted field included
func encodePaymentSignatureHeader(payload types.PaymentPayloadV2) (string, error) {
	return encodeHeader(payload)
}

func encodeHeader(v interface{}) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", x402.WrapPaymentError(x402.ErrCodeDecode, "failed to marshal payment header", err)
	}
	return base64.StdEncoding.EncodeToString(data), nil
}

// DecodePaymentResponseHeader decodes the optional payment confirmation.
// A missing header yields nil; a malformed one is logged and ignored.
func DecodePaymentResponseHeader(headers http.Header, log logger.Logger) *types.SettleResponse {
	header := headers.Get(PaymentResponseHeader)
	if header == "" {
		return nil
	}

	response, err := decodePaymentResponseHeader(header)
	if err != nil {
		logger.OrNoop(log).Warn("ignoring malformed payment confirmation header", map[string]any{
			"error":        err,
			"headerLength": len(header),
		})
		return nil
	}
	return response
}

// decodePaymentResponseHeader decodes a base64 payment response header
func decodePaymentResponseHeader(header string) (*types.SettleResponse, error) {
	data, err := base64.StdEncoding.DecodeString(header)
	if err != nil {
		return nil, fmt.Errorf("invalid base64 encoding: %w", err)
	}

	var response types.SettleResponse
	if err := json.Unmarshal(data, &response); err != nil {
		return nil, fmt.Errorf("invalid settle response JSON: %w", err)
	}

	return &response, nil
}
