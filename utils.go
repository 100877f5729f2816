package x402

import (
	"fmt"
	"math/big"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

// ValidatePaymentRequirements checks that a requirement carries every field
// needed to build an authorization
func ValidatePaymentRequirements(r PaymentRequirements) error {
	if err := validate.Struct(r); err != nil {
		return WrapPaymentError(ErrCodeProtocolViolation, "invalid payment requirements", err)
	}
	if amount, ok := new(big.Int).SetString(r.MaxAmountRequired, 10); !ok || amount.Sign() < 0 {
		return NewPaymentError(ErrCodeProtocolViolation, "maxAmountRequired is not a non-negative base-10 integer", map[string]interface{}{
			"maxAmountRequired": r.MaxAmountRequired,
		})
	}
	return nil
}

// ValidatePaymentPayload performs basic validation on a signed payment
func ValidatePaymentPayload(p PaymentPayload) error {
	if p.X402Version != ProtocolVersion {
		return fmt.Errorf("unsupported x402 version: %d", p.X402Version)
	}
	if p.Scheme == "" {
		return fmt.Errorf("payment scheme is required")
	}
	if p.Network == "" {
		return fmt.Errorf("payment network is required")
	}
	if p.Payload.Signature == "" {
		return fmt.Errorf("payment signature is required")
	}
	return nil
}

// CheckSpendCeiling refuses amounts above the ceiling. A nil ceiling allows everything.
func CheckSpendCeiling(amount string, ceiling *big.Int) error {
	if ceiling == nil {
		return nil
	}
	value, ok := new(big.Int).SetString(amount, 10)
	if !ok {
		return NewPaymentError(ErrCodeProtocolViolation, "invalid payment amount", map[string]interface{}{
			"amount": amount,
		})
	}
	if value.Cmp(ceiling) > 0 {
		return NewPaymentError(ErrCodeSpendCeilingExceeded, "requested amount exceeds spend ceiling", map[string]interface{}{
			"amount":  value.String(),
			"ceiling": ceiling.String(),
		})
	}
	return nil
}

// findByNetworkAndScheme finds a scheme implementation for a given network/scheme combination
// This supports pattern matching for networks (e.g., "eip155:*")
func findByNetworkAndScheme[T any](networkMap map[Network]map[string]T, scheme string, network Network) (T, bool) {
	var zero T

	// Try exact match first
	if schemeMap, exists := networkMap[network]; exists {
		if impl, exists := schemeMap[scheme]; exists {
			return impl, true
		}
	}

	for registeredNetwork, schemeMap := range networkMap {
		if network.Match(registeredNetwork) {
			if impl, exists := schemeMap[scheme]; exists {
				return impl, true
			}
		}
	}

	return zero, false
}

// findSchemesByNetwork finds all schemes for a given network
func findSchemesByNetwork[T any](networkMap map[Network]map[string]T, network Network) map[string]T {
	if schemeMap, exists := networkMap[network]; exists {
		return schemeMap
	}

	for registeredNetwork, schemeMap := range networkMap {
		if network.Match(registeredNetwork) {
			return schemeMap
		}
	}

	return nil
}
