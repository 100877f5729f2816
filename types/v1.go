package types

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// ProtocolVersion is the x402 protocol version spoken on the wire.
const ProtocolVersion = 1

// SchemeExact is the only payment scheme the engine can satisfy.
const SchemeExact = "exact"

// PaymentRequirementsExtra carries the EIP-712 domain metadata of the asset
type PaymentRequirementsExtra struct {
	Name    string `json:"name,omitempty"`
	Version string `json:"version,omitempty"`
}

// PaymentRequirements is one payment option offered by a 402 challenge.
// Values are immutable once received.
type PaymentRequirements struct {
	Scheme            string                    `json:"scheme" validate:"required"`
	Network           string                    `json:"network" validate:"required"`
	MaxAmountRequired string                    `json:"maxAmountRequired" validate:"required,numeric"`
	Resource          string                    `json:"resource"`
	Description       string                    `json:"description,omitempty"`
	MimeType          string                    `json:"mimeType,omitempty"`
	PayTo             string                    `json:"payTo" validate:"required,eth_addr"`
	MaxTimeoutSeconds int                       `json:"maxTimeoutSeconds" validate:"gte=0"`
	Asset             string                    `json:"asset" validate:"required,eth_addr"`
	OutputSchema      json.RawMessage           `json:"outputSchema,omitempty"`
	Extra             *PaymentRequirementsExtra `json:"extra,omitempty"`
}

// PaymentRequired is the body of a 402 challenge response
type PaymentRequired struct {
	X402Version int                   `json:"x402Version"`
	Error       string                `json:"error,omitempty"`
	Accepts     []PaymentRequirements `json:"accepts"`
}

// Authorization is an EIP-3009 TransferWithAuthorization message.
// All numeric values are decimal strings, the nonce is 0x-prefixed hex.
type Authorization struct {
	From        string `json:"from"`
	To          string `json:"to"`
	Value       string `json:"value"`
	ValidAfter  string `json:"validAfter"`
	ValidBefore string `json:"validBefore"`
	Nonce       string `json:"nonce"`
}

// ExactEvmPayload is the scheme-specific part of a signed payment
type ExactEvmPayload struct {
	Signature     string        `json:"signature"`
	Authorization Authorization `json:"authorization"`
}

// PaymentPayload is the signed payment carried in the X-PAYMENT header.
// The field set is fixed; upstreams reject anything else.
type PaymentPayload struct {
	X402Version int             `json:"x402Version"`
	Scheme      string          `json:"scheme"`
	Network     string          `json:"network"`
	Payload     ExactEvmPayload `json:"payload"`
}

// SettleResponse is the optional payment confirmation returned by the upstream
type SettleResponse struct {
	Success     bool   `json:"success"`
	ErrorReason string `json:"errorReason,omitempty"`
	Payer       string `json:"payer,omitempty"`
	Transaction string `json:"transaction"`
	Network     string `json:"network"`
}

// Unmarshal helpers

// ToPaymentRequired unmarshals a 402 body. Shape checks belong to the caller.
func ToPaymentRequired(data []byte) (*PaymentRequired, error) {
	var required PaymentRequired
	if err := json.Unmarshal(data, &required); err != nil {
		return nil, err
	}
	return &required, nil
}

// ToPaymentPayload unmarshals a signed payment, rejecting unknown fields
func ToPaymentPayload(data []byte) (*PaymentPayload, error) {
	var payload PaymentPayload
	if err := decodeStrict(data, &payload); err != nil {
		return nil, err
	}
	return &payload, nil
}

// DetectVersion reads x402Version without decoding the rest of the document
func DetectVersion(data []byte) (int, error) {
	var envelope struct {
		X402Version *int `json:"x402Version"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		return 0, err
	}
	if envelope.X402Version == nil {
		return 0, fmt.Errorf("missing x402Version")
	}
	return *envelope.X402Version, nil
}

func decodeStrict(data []byte, v interface{}) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return err
	}
	if dec.More() {
		return fmt.Errorf("unexpected trailing data")
	}
	return nil
}
