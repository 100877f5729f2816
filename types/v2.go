package types

// PaymentPayloadV2 is the envelope produced by newer protocol clients.
// It repeats the selected requirement under "accepted", which strict v1
// upstreams reject as an unknown field.
type PaymentPayloadV2 struct {
	X402Version int                 `json:"x402Version"`
	Scheme      string              `json:"scheme"`
	Network     string              `json:"network"`
	Payload     ExactEvmPayload     `json:"payload"`
	Accepted    PaymentRequirements `json:"accepted"`
}

// Strip returns the v1 payload without the echoed requirement
func (p PaymentPayloadV2) Strip() PaymentPayload {
	return PaymentPayload{
		X402Version: p.X402Version,
		Scheme:      p.Scheme,
		Network:     p.Network,
		Payload:     p.Payload,
	}
}
