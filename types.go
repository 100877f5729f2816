package x402

import (
	"fmt"
	"strings"

	"github.com/Must-be-Ash/x402-firecrawl/types"
)

// ProtocolVersion is the x402 version this client speaks
const ProtocolVersion = types.ProtocolVersion

// Network represents a blockchain network identifier.
// Either a CAIP-2 id (e.g., "eip155:8453") or a v1 name (e.g., "base").
type Network string

// Parse splits the network into namespace and reference components
func (n Network) Parse() (namespace, reference string, err error) {
	parts := strings.Split(string(n), ":")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("invalid network format: %s", n)
	}
	return parts[0], parts[1], nil
}

// Match checks if this network matches a pattern (supports wildcards)
// e.g., "eip155:1" matches "eip155:*" and "*" matches any network
func (n Network) Match(pattern Network) bool {
	if n == pattern || pattern == "*" || n == "*" {
		return true
	}

	nStr := string(n)
	patternStr := string(pattern)

	if strings.HasSuffix(patternStr, ":*") {
		prefix := strings.TrimSuffix(patternStr, "*")
		return strings.HasPrefix(nStr, prefix)
	}

	if strings.HasSuffix(nStr, ":*") {
		prefix := strings.TrimSuffix(nStr, "*")
		return strings.HasPrefix(patternStr, prefix)
	}

	return false
}

// Wire types re-exported for callers that only import the root package
type (
	PaymentRequirements = types.PaymentRequirements
	PaymentRequired     = types.PaymentRequired
	PaymentPayload      = types.PaymentPayload
	PaymentPayloadV2    = types.PaymentPayloadV2
	ExactEvmPayload     = types.ExactEvmPayload
	Authorization       = types.Authorization
	SettleResponse      = types.SettleResponse
)
