package content

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"

	x402 "github.com/Must-be-Ash/x402-firecrawl"
)

// Query limits
const (
	DefaultLimit = 10
	MaxLimit     = 100
)

var validate = validator.New()

// Query is a content question. Location is supplied by the caller.
type Query struct {
	Query    string `json:"query" validate:"required,max=512"`
	Location string `json:"location" validate:"omitempty,max=64"`
	Date     string `json:"date" validate:"omitempty,datetime=2006-01-02"`
	Limit    int    `json:"limit" validate:"gte=1,lte=100"`
}

// Normalize trims the text fields and applies the default limit
func (q Query) Normalize() Query {
	q.Query = strings.Join(strings.Fields(q.Query), " ")
	q.Location = strings.ToUpper(strings.TrimSpace(q.Location))
	q.Date = strings.TrimSpace(q.Date)
	if q.Limit == 0 {
		q.Limit = DefaultLimit
	}
	return q
}

// Validate checks the query after normalisation
func (q Query) Validate() error {
	if err := validate.Struct(q); err != nil {
		return x402.WrapPaymentError(x402.ErrCodeInvalidRequest, "invalid content query", err)
	}
	return nil
}

// Key is the composite cache key content:v1:<location>:<date>:<limit>:<hash>.
// The upstream honours limit, so answers for different limits are stored apart.
func (q Query) Key() string {
	sum := sha256.Sum256([]byte(strings.ToLower(q.Query)))
	location := q.Location
	if location == "" {
		location = "any"
	}
	date := q.Date
	if date == "" {
		date = "any"
	}
	return "content:v1:" + location + ":" + date + ":" + strconv.Itoa(q.Limit) + ":" + hex.EncodeToString(sum[:])[:16]
}

// Body is the upstream request body
func (q Query) Body() ([]byte, error) {
	return json.Marshal(q)
}
