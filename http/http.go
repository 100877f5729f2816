// Package http provides HTTP-specific implementations of x402 components:
// the payment header codec, 402 challenge validation and a payment-wrapping
// http.RoundTripper.
package http

import (
	"net/http"

	x402 "github.com/Must-be-Ash/x402-firecrawl"
	"github.com/Must-be-Ash/x402-firecrawl/logger"
)

// HTTPClient is an alias for x402HTTPClient
type HTTPClient = x402HTTPClient

// NewClient creates a new HTTP-aware x402 client
func NewClient(client *x402.X402Client, log logger.Logger) *x402HTTPClient {
	return Newx402HTTPClient(client, log)
}

// WrapClient wraps a standard HTTP client with x402 payment handling
func WrapClient(client *http.Client, x402Client *x402HTTPClient) *http.Client {
	return WrapHTTPClientWithPayment(client, x402Client)
}
