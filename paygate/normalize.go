package paygate

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/xeipuuv/gojsonschema"

	x402 "github.com/Must-be-Ash/x402-firecrawl"
	x402http "github.com/Must-be-Ash/x402-firecrawl/http"
	"github.com/Must-be-Ash/x402-firecrawl/logger"
	"github.com/Must-be-Ash/x402-firecrawl/types"
)

// EmptyRejectionNote is attached when a paid request is answered with an
// empty 402 body
const EmptyRejectionNote = "upstream returned an empty rejection payload"

// articlesSchema is the accepted shape of a successful upstream body
const articlesSchema = `{
  "type": "object",
  "required": ["articles"],
  "properties": {
    "articles": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["title", "url"],
        "properties": {
          "title": {"type": "string"},
          "description": {"type": ["string", "null"]},
          "source": {"type": ["string", "object", "null"]},
          "url": {"type": "string", "minLength": 1},
          "publishedAt": {"type": ["string", "null"]}
        }
      }
    }
  }
}`

var compiledArticlesSchema = func() *gojsonschema.Schema {
	schema, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(articlesSchema))
	if err != nil {
		panic(fmt.Sprintf("invalid articles schema: %v", err))
	}
	return schema
}()

// Article is one upstream content record
type Article struct {
	Title       string        `json:"title"`
	Description string        `json:"description"`
	Source      ArticleSource `json:"source"`
	URL         string        `json:"url"`
	PublishedAt string        `json:"publishedAt"`
}

// ArticleSource accepts either a plain name or a {"name": ...} object
type ArticleSource string

func (s *ArticleSource) UnmarshalJSON(data []byte) error {
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		*s = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var name string
		if err := json.Unmarshal(data, &name); err != nil {
			return err
		}
		*s = ArticleSource(name)
		return nil
	}
	var obj struct {
		Name string `json:"name"`
	}
	if err := json.Unmarshal(data, &obj); err != nil {
		return err
	}
	*s = ArticleSource(obj.Name)
	return nil
}

// Result is the normalised answer to a successful call
type Result struct {
	Articles   []Article             `json:"articles"`
	Settlement *types.SettleResponse `json:"settlement,omitempty"`
	Strategy   StrategyKind          `json:"strategy"`
	Paid       bool                  `json:"paid"`
	StatusCode int                   `json:"statusCode"`
}

// Normalize maps an outcome to a Result or a typed error. A non-success
// status never produces a Result.
func Normalize(out *Outcome, log logger.Logger) (*Result, error) {
	if out == nil {
		return nil, x402.NewPaymentError(x402.ErrCodeUpstream, "no upstream response", nil)
	}

	switch {
	case out.StatusCode >= 200 && out.StatusCode < 300:
		articles, err := DecodeArticles(out.Body)
		if err != nil {
			return nil, err
		}
		result := &Result{
			Articles:   articles,
			Strategy:   out.Strategy,
			Paid:       out.Paid(),
			StatusCode: out.StatusCode,
		}
		if out.Paid() {
			result.Settlement = x402http.DecodePaymentResponseHeader(out.Header, log)
		}
		return result, nil

	case out.StatusCode == http.StatusPaymentRequired && out.Paid():
		return nil, rejection(out)

	case out.StatusCode == http.StatusPaymentRequired:
		return nil, &x402.PaymentError{
			Code:    x402.ErrCodePaymentRequired,
			Message: "upstream requires payment",
			Details: map[string]interface{}{
				"status":  out.StatusCode,
				"payload": rawPayload(out.Body),
			},
		}

	default:
		return nil, &x402.PaymentError{
			Code:    x402.ErrCodeUpstream,
			Message: fmt.Sprintf("upstream returned status %d", out.StatusCode),
			Details: map[string]interface{}{
				"status":  out.StatusCode,
				"paid":    out.Paid(),
				"payload": rawPayload(out.Body),
			},
		}
	}
}

// DecodeArticles validates and decodes a successful upstream body.
// An empty articles array is a valid empty result.
func DecodeArticles(body []byte) ([]Article, error) {
	if len(bytes.TrimSpace(body)) == 0 {
		return nil, x402.NewPaymentError(x402.ErrCodeProtocolViolation, "upstream returned an empty body", nil)
	}

	result, err := compiledArticlesSchema.Validate(gojsonschema.NewBytesLoader(body))
	if err != nil {
		return nil, x402.WrapPaymentError(x402.ErrCodeProtocolViolation, "upstream body is not JSON", err)
	}
	if !result.Valid() {
		var problems []string
		for _, desc := range result.Errors() {
			problems = append(problems, fmt.Sprintf("%s: %s", desc.Context().String(), desc.Description()))
		}
		return nil, x402.NewPaymentError(x402.ErrCodeProtocolViolation, "upstream body does not match the content schema", map[string]interface{}{
			"errors": problems,
		})
	}

	var decoded struct {
		Articles []Article `json:"articles"`
	}
	if err := json.Unmarshal(body, &decoded); err != nil {
		return nil, x402.WrapPaymentError(x402.ErrCodeProtocolViolation, "failed to decode upstream body", err)
	}
	if decoded.Articles == nil {
		decoded.Articles = []Article{}
	}
	return decoded.Articles, nil
}

func rejection(out *Outcome) *x402.PaymentError {
	details := map[string]interface{}{
		"status":  out.StatusCode,
		"payload": rawPayload(out.Body),
	}
	if out.Requirements != nil {
		details["network"] = out.Requirements.Network
		details["maxAmountRequired"] = out.Requirements.MaxAmountRequired
	}

	message := "upstream rejected the payment: "
	trimmed := bytes.TrimSpace(out.Body)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("{}")) {
		details["note"] = EmptyRejectionNote
		message += EmptyRejectionNote
		if len(trimmed) > 0 {
			message += " " + string(trimmed)
		}
	} else {
		if required, err := types.ToPaymentRequired(trimmed); err == nil && required.Error != "" {
			details["reason"] = required.Error
		}
		message += truncate(string(trimmed), maxMessagePayload)
	}

	return &x402.PaymentError{
		Code:    x402.ErrCodePaymentRejected,
		Message: message,
		Details: details,
	}
}

// maxMessagePayload bounds how much of a rejection body is copied into the
// error message; Details["payload"] always keeps all of it
const maxMessagePayload = 1024

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

// rawPayload keeps the upstream body verbatim, as JSON when it is JSON
func rawPayload(body []byte) interface{} {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return ""
	}
	if json.Valid(trimmed) {
		return json.RawMessage(trimmed)
	}
	return string(trimmed)
}
