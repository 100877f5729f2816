package client

import (
	"context"

	x402 "github.com/Must-be-Ash/x402-firecrawl"
	"github.com/Must-be-Ash/x402-firecrawl/mechanisms/evm"
)

// ExactEvmScheme implements the SchemeNetworkClient interface for EVM exact payments
type ExactEvmScheme struct {
	builder *evm.Builder
}

// NewExactEvmSchemeFromBuilder creates an ExactEvmScheme sharing an existing builder
func NewExactEvmSchemeFromBuilder(builder *evm.Builder) *ExactEvmScheme {
	return &ExactEvmScheme{builder: builder}
}

// Scheme returns the scheme identifier
func (c *ExactEvmScheme) Scheme() string {
	return evm.SchemeExact
}

// CreatePaymentPayload signs an EIP-3009 authorization for the requirement.
// The x402 client wraps the result with version, network and accepted fields.
func (c *ExactEvmScheme) CreatePaymentPayload(ctx context.Context, requirements x402.PaymentRequirements) (x402.ExactEvmPayload, error) {
	return c.builder.BuildPayload(ctx, requirements)
}

// NewEvmClient creates an x402 client with the exact scheme registered for
// every network the resolver can handle.
func NewEvmClient(builder *evm.Builder, opts ...x402.ClientOption) *x402.X402Client {
	opts = append(opts, x402.WithScheme("*", NewExactEvmSchemeFromBuilder(builder)))
	return x402.Newx402Client(opts...)
}
