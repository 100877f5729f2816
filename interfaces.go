package x402

import (
	"context"
)

// SchemeNetworkClient is implemented by client-side payment mechanisms.
// It turns one selected requirement into a signed scheme payload.
type SchemeNetworkClient interface {
	Scheme() string
	CreatePaymentPayload(ctx context.Context, requirements PaymentRequirements) (ExactEvmPayload, error)
}

// PaymentRequirementsSelector chooses which payment option to use
type PaymentRequirementsSelector func(version int, requirements []PaymentRequirements) PaymentRequirements
