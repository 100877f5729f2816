package x402

import (
	"context"
	"fmt"
	"math/big"
	"sync"
)

// X402Client manages payment mechanisms and creates payment payloads
// This is used by applications that need to make payments (have wallets/signers)
type X402Client struct {
	mu sync.RWMutex

	// Nested map: version -> network -> scheme -> client implementation
	schemes map[int]map[Network]map[string]SchemeNetworkClient

	// Function to select payment requirements when multiple options exist
	requirementsSelector PaymentRequirementsSelector

	// Upper bound on any single payment, in the asset's smallest unit
	maxValue *big.Int
}

// ClientOption configures the client
type ClientOption func(*X402Client)

// WithPaymentSelector sets a custom payment requirements selector
func WithPaymentSelector(selector PaymentRequirementsSelector) ClientOption {
	return func(c *X402Client) {
		if selector != nil {
			c.requirementsSelector = selector
		}
	}
}

// WithScheme registers a payment mechanism at creation time
func WithScheme(network Network, client SchemeNetworkClient) ClientOption {
	return func(c *X402Client) {
		c.registerScheme(ProtocolVersion, network, client)
	}
}

// WithMaxValue sets the per-payment spend ceiling
func WithMaxValue(maxValue *big.Int) ClientOption {
	return func(c *X402Client) {
		if maxValue != nil {
			c.maxValue = new(big.Int).Set(maxValue)
		}
	}
}

// Newx402Client creates a new x402 client
func Newx402Client(opts ...ClientOption) *X402Client {
	c := &X402Client{
		schemes:              make(map[int]map[Network]map[string]SchemeNetworkClient),
		requirementsSelector: DefaultPaymentSelector,
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// DefaultPaymentSelector chooses the first offered payment option.
// Callers guarantee requirements is non-empty.
func DefaultPaymentSelector(version int, requirements []PaymentRequirements) PaymentRequirements {
	return requirements[0]
}

// RegisterScheme registers a payment mechanism for the wire protocol version
func (c *X402Client) RegisterScheme(network Network, client SchemeNetworkClient) *X402Client {
	return c.registerScheme(ProtocolVersion, network, client)
}

func (c *X402Client) registerScheme(version int, network Network, client SchemeNetworkClient) *X402Client {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.schemes[version] == nil {
		c.schemes[version] = make(map[Network]map[string]SchemeNetworkClient)
	}
	if c.schemes[version][network] == nil {
		c.schemes[version][network] = make(map[string]SchemeNetworkClient)
	}

	c.schemes[version][network][client.Scheme()] = client

	return c
}

// MaxValue returns a copy of the spend ceiling, or nil when unlimited
func (c *X402Client) MaxValue() *big.Int {
	if c.maxValue == nil {
		return nil
	}
	return new(big.Int).Set(c.maxValue)
}

// SelectPaymentRequirements chooses which payment requirements to use
// This filters requirements to only those the client can fulfill
func (c *X402Client) SelectPaymentRequirements(version int, requirements []PaymentRequirements) (PaymentRequirements, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if len(requirements) == 0 {
		return PaymentRequirements{}, NewPaymentError(ErrCodeProtocolViolation, "challenge offered no payment requirements", nil)
	}

	versionSchemes, exists := c.schemes[version]
	if !exists {
		return PaymentRequirements{}, NewPaymentError(ErrCodeUnsupportedScheme, fmt.Sprintf("no schemes registered for x402 version %d", version), nil)
	}

	var supported []PaymentRequirements
	for _, req := range requirements {
		schemeMap := findSchemesByNetwork(versionSchemes, Network(req.Network))
		if schemeMap != nil {
			if _, hasScheme := schemeMap[req.Scheme]; hasScheme {
				supported = append(supported, req)
			}
		}
	}

	if len(supported) == 0 {
		return PaymentRequirements{}, &PaymentError{
			Code:    ErrCodeUnsupportedScheme,
			Message: "no supported payment schemes available",
			Details: map[string]interface{}{
				"version":      version,
				"requirements": requirements,
			},
		}
	}

	return c.requirementsSelector(version, supported), nil
}

// CreatePaymentPayload creates a signed payment payload for the selected requirement.
// The selected requirement is echoed back in the accepted field.
func (c *X402Client) CreatePaymentPayload(ctx context.Context, version int, requirements PaymentRequirements) (PaymentPayloadV2, error) {
	if err := ValidatePaymentRequirements(requirements); err != nil {
		return PaymentPayloadV2{}, err
	}
	if err := CheckSpendCeiling(requirements.MaxAmountRequired, c.maxValue); err != nil {
		return PaymentPayloadV2{}, err
	}

	c.mu.RLock()
	versionSchemes, exists := c.schemes[version]
	var client SchemeNetworkClient
	var found bool
	if exists {
		client, found = findByNetworkAndScheme(versionSchemes, requirements.Scheme, Network(requirements.Network))
	}
	c.mu.RUnlock()

	if !found {
		return PaymentPayloadV2{}, &PaymentError{
			Code:    ErrCodeUnsupportedScheme,
			Message: fmt.Sprintf("no client registered for scheme %s on network %s for version %d", requirements.Scheme, requirements.Network, version),
		}
	}

	payload, err := client.CreatePaymentPayload(ctx, requirements)
	if err != nil {
		return PaymentPayloadV2{}, fmt.Errorf("failed to create payment payload: %w", err)
	}

	full := PaymentPayloadV2{
		X402Version: version,
		Scheme:      requirements.Scheme,
		Network:     requirements.Network,
		Payload:     payload,
		Accepted:    requirements,
	}

	if err := ValidatePaymentPayload(full.Strip()); err != nil {
		return PaymentPayloadV2{}, fmt.Errorf("invalid payment payload created: %w", err)
	}

	return full, nil
}

// CanPay checks if the client can pay with any of the given requirements
func (c *X402Client) CanPay(version int, requirements []PaymentRequirements) bool {
	_, err := c.SelectPaymentRequirements(version, requirements)
	return err == nil
}

// CreatePaymentForRequired selects a requirement from a 402 challenge and pays it
func (c *X402Client) CreatePaymentForRequired(ctx context.Context, required PaymentRequired) (PaymentPayloadV2, error) {
	selected, err := c.SelectPaymentRequirements(required.X402Version, required.Accepts)
	if err != nil {
		return PaymentPayloadV2{}, err
	}

	return c.CreatePaymentPayload(ctx, required.X402Version, selected)
}
