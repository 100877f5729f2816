package http

import (
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	x402 "github.com/Must-be-Ash/x402-firecrawl"
	"github.com/Must-be-Ash/x402-firecrawl/types"
)

const validChallenge = `{"x402Version":1,"error":"X-PAYMENT header is required","accepts":[{"scheme":"exact","network":"base","maxAmountRequired":"10000","resource":"https://api.example.com/news","description":"News search","mimeType":"application/json","payTo":"0x209693Bc6afc0C5328bA36FaF03C514EF312287C","maxTimeoutSeconds":120,"asset":"0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913","extra":{"name":"USD Coin","version":"2","decimals":6}}]}`

func TestParsePaymentRequired(t *testing.T) {
	t.Run("valid", func(t *testing.T) {
		required, err := ParsePaymentRequired([]byte(validChallenge))
		require.NoError(t, err)
		require.Len(t, required.Accepts, 1)
		assert.Equal(t, "base", required.Accepts[0].Network)
		assert.Equal(t, 120, required.Accepts[0].MaxTimeoutSeconds)
		assert.Equal(t, "2", required.Accepts[0].Extra.Version)
	})

	tests := []struct {
		name string
		body string
	}{
		{"empty body", ``},
		{"empty object", `{}`},
		{"not json", `<html>Payment Required</html>`},
		{"v2 version", `{"x402Version":2,"accepts":[{"scheme":"exact","network":"eip155:8453","amount":"10000","payTo":"0x209693Bc6afc0C5328bA36FaF03C514EF312287C","asset":"0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913"}]}`},
		{"no accepts", `{"x402Version":1,"accepts":[]}`},
		{"indexed object", `{"x402Version":1,"accepts":{"0":{"scheme":"exact"}}}`},
		{"unknown top-level field", `{"x402Version":1,"resource":{"url":"x"},"accepts":[{"scheme":"exact","network":"base","maxAmountRequired":"1","payTo":"0x209693Bc6afc0C5328bA36FaF03C514EF312287C","asset":"0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913"}]}`},
		{"decimal amount", `{"x402Version":1,"accepts":[{"scheme":"exact","network":"base","maxAmountRequired":"0.01","payTo":"0x209693Bc6afc0C5328bA36FaF03C514EF312287C","asset":"0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913"}]}`},
		{"bad address", `{"x402Version":1,"accepts":[{"scheme":"exact","network":"base","maxAmountRequired":"1","payTo":"alice","asset":"0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913"}]}`},
		{"missing asset", `{"x402Version":1,"accepts":[{"scheme":"exact","network":"base","maxAmountRequired":"1","payTo":"0x209693Bc6afc0C5328bA36FaF03C514EF312287C"}]}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParsePaymentRequired([]byte(tt.body))
			assert.True(t, x402.HasCode(err, x402.ErrCodeProtocolViolation), "got %v", err)
		})
	}
}

func samplePayment() types.PaymentPayload {
	return types.PaymentPayload{
		X402Version: 1,
		Scheme:      "exact",
		Network:     "base",
		Payload: types.ExactEvmPayload{
			Signature: "0x" + "ab",
			Authorization: types.Authorization{
				From:        "0x857b06519E91e3A54538791bDbb0E22373e36b66",
				To:          "0x209693Bc6afc0C5328bA36FaF03C514EF312287C",
				Value:       "10000",
				ValidAfter:  "1699999700",
				ValidBefore: "1700000120",
				Nonce:       "0x" + "11",
			},
		},
	}
}

func TestPaymentHeaderRoundTrip(t *testing.T) {
	payment := samplePayment()

	header, err := EncodePaymentHeader(payment)
	require.NoError(t, err)

	decoded, err := DecodePaymentHeader(header)
	require.NoError(t, err)
	assert.Equal(t, payment, *decoded)
}

func TestEncodePaymentHeaderFieldSet(t *testing.T) {
	header, err := EncodePaymentHeader(samplePayment())
	require.NoError(t, err)
	raw, err := base64.StdEncoding.DecodeString(header)
	require.NoError(t, err)

	assert.JSONEq(t, `{
		"x402Version": 1,
		"scheme": "exact",
		"network": "base",
		"payload": {
			"signature": "0xab",
			"authorization": {
				"from": "0x857b06519E91e3A54538791bDbb0E22373e36b66",
				"to": "0x209693Bc6afc0C5328bA36FaF03C514EF312287C",
				"value": "10000",
				"validAfter": "1699999700",
				"validBefore": "1700000120",
				"nonce": "0x11"
			}
		}
	}`, string(raw))
}

func TestDecodePaymentHeaderErrors(t *testing.T) {
	echoed, err := encodePaymentSignatureHeader(types.PaymentPayloadV2{
		X402Version: 1,
		Scheme:      "exact",
		Network:     "base",
		Accepted:    types.PaymentRequirements{Scheme: "exact"},
	})
	require.NoError(t, err)

	tests := []struct {
		name   string
		header string
	}{
		{"empty", ""},
		{"not base64", "***"},
		{"bad padding", "YWJj==="},
		{"not json", base64.StdEncoding.EncodeToString([]byte("hello"))},
		{"unknown field", echoed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodePaymentHeader(tt.header)
			assert.True(t, x402.HasCode(err, x402.ErrCodeDecode), "got %v", err)
		})
	}
}
