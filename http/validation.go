package http

import (
	"encoding/base64"
	"fmt"
	"regexp"
	"strings"

	"github.com/xeipuuv/gojsonschema"

	x402 "github.com/Must-be-Ash/x402-firecrawl"
	"github.com/Must-be-Ash/x402-firecrawl/types"
)

// Base64 regex pattern - requires at least one character
var base64Regex = regexp.MustCompile(`^[A-Za-z0-9+/]+={0,2}$`)

// challengeSchema is the only 402 body shape the engine accepts.
// Requirement objects are closed; extra stays open for asset metadata.
const challengeSchema = `{
  "type": "object",
  "required": ["x402Version", "accepts"],
  "additionalProperties": false,
  "properties": {
    "x402Version": {"type": "integer", "minimum": 1},
    "error": {"type": "string"},
    "accepts": {
      "type": "array",
      "minItems": 1,
      "items": {"$ref": "#/definitions/requirement"}
    }
  },
  "definitions": {
    "address": {"type": "string", "pattern": "^0x[0-9a-fA-F]{40}$"},
    "requirement": {
      "type": "object",
      "required": ["scheme", "network", "maxAmountRequired", "payTo", "asset"],
      "additionalProperties": false,
      "properties": {
        "scheme": {"type": "string", "minLength": 1},
        "network": {"type": "string", "minLength": 1},
        "maxAmountRequired": {"type": "string", "pattern": "^[0-9]+$"},
        "resource": {"type": "string"},
        "description": {"type": "string"},
        "mimeType": {"type": "string"},
        "payTo": {"$ref": "#/definitions/address"},
        "maxTimeoutSeconds": {"type": "integer", "minimum": 0},
        "asset": {"$ref": "#/definitions/address"},
        "outputSchema": {},
        "extra": {
          "type": ["object", "null"],
          "properties": {
            "name": {"type": "string"},
            "version": {"type": "string"}
          }
        }
      }
    }
  }
}`

var compiledChallengeSchema = func() *gojsonschema.Schema {
	schema, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(challengeSchema))
	if err != nil {
		panic(fmt.Sprintf("invalid challenge schema: %v", err))
	}
	return schema
}()

// ParsePaymentRequired validates a 402 body against the challenge schema and
// decodes it. Any other shape, including header-only challenges and newer
// protocol versions, is a protocol violation.
func ParsePaymentRequired(body []byte) (*types.PaymentRequired, error) {
	if len(strings.TrimSpace(string(body))) == 0 {
		return nil, x402.NewPaymentError(x402.ErrCodeProtocolViolation, "402 response has an empty body", nil)
	}

	version, err := types.DetectVersion(body)
	if err != nil {
		return nil, x402.WrapPaymentError(x402.ErrCodeProtocolViolation, "402 body is not a payment challenge", err)
	}
	if version != types.ProtocolVersion {
		return nil, x402.NewPaymentError(x402.ErrCodeProtocolViolation, "unsupported x402 version", map[string]interface{}{
			"x402Version": version,
		})
	}

	result, err := compiledChallengeSchema.Validate(gojsonschema.NewBytesLoader(body))
	if err != nil {
		return nil, x402.WrapPaymentError(x402.ErrCodeProtocolViolation, "402 body could not be validated", err)
	}
	if !result.Valid() {
		var problems []string
		for _, desc := range result.Errors() {
			problems = append(problems, fmt.Sprintf("%s: %s", desc.Context().String(), desc.Description()))
		}
		return nil, x402.NewPaymentError(x402.ErrCodeProtocolViolation, "402 body does not match the challenge schema", map[string]interface{}{
			"errors": problems,
		})
	}

	required, err := types.ToPaymentRequired(body)
	if err != nil {
		return nil, x402.WrapPaymentError(x402.ErrCodeProtocolViolation, "failed to decode challenge", err)
	}
	return required, nil
}

// DecodePaymentHeader validates and decodes an X-PAYMENT header value.
// Unknown fields are rejected.
func DecodePaymentHeader(header string) (*types.PaymentPayload, error) {
	if header == "" {
		return nil, x402.NewPaymentError(x402.ErrCodeDecode, "payment header is empty", nil)
	}

	if !base64Regex.MatchString(header) {
		return nil, x402.NewPaymentError(x402.ErrCodeDecode, "invalid payment header format: not valid base64", nil)
	}

	decoded, err := base64.StdEncoding.DecodeString(header)
	if err != nil {
		return nil, x402.WrapPaymentError(x402.ErrCodeDecode, "invalid payment header format: base64 decoding failed", err)
	}

	payload, err := types.ToPaymentPayload(decoded)
	if err != nil {
		return nil, x402.WrapPaymentError(x402.ErrCodeDecode, "invalid payment header format: not a signed payment", err)
	}

	return payload, nil
}
