package operator

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/Must-be-Ash/x402-firecrawl/content"
	"github.com/Must-be-Ash/x402-firecrawl/paygate"
)

const (
	// DefaultAddr is where the operator server listens unless configured otherwise
	DefaultAddr = "http://localhost:8402"

	headerContentType   = "Content-Type"
	mimeApplicationJSON = "application/json"
)

// Client talks to a running operator server
type Client struct {
	URL        string
	HTTPClient *http.Client
}

// NewClient creates a client for the server at baseURL
func NewClient(baseURL string, timeout time.Duration) *Client {
	if baseURL == "" {
		baseURL = DefaultAddr
	}
	if !strings.Contains(baseURL, "://") {
		baseURL = "http://" + baseURL
	}
	return &Client{
		URL:        strings.TrimRight(baseURL, "/"),
		HTTPClient: &http.Client{Timeout: timeout},
	}
}

// BreakerStatus fetches the breaker state
func (c *Client) BreakerStatus(ctx context.Context) (*paygate.BreakerStatus, error) {
	var status paygate.BreakerStatus
	if err := c.do(ctx, http.MethodGet, "/v1/breaker", nil, &status); err != nil {
		return nil, err
	}
	return &status, nil
}

// ResetBreaker closes the breaker and returns the new state
func (c *Client) ResetBreaker(ctx context.Context) (*paygate.BreakerStatus, error) {
	var status paygate.BreakerStatus
	if err := c.do(ctx, http.MethodPost, "/v1/breaker/reset", nil, &status); err != nil {
		return nil, err
	}
	return &status, nil
}

// Content runs a content query through the server
func (c *Client) Content(ctx context.Context, q content.Query) (*content.Answer, error) {
	var answer content.Answer
	if err := c.do(ctx, http.MethodPost, "/v1/content", q, &answer); err != nil {
		return nil, err
	}
	return &answer, nil
}

func (c *Client) do(ctx context.Context, method, path string, in, out interface{}) error {
	var body io.Reader
	if in != nil {
		jsonBody, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to marshal request body: %w", err)
		}
		body = bytes.NewReader(jsonBody)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.URL+path, body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if in != nil {
		req.Header.Set(headerContentType, mimeApplicationJSON)
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to reach operator at %s: %w", c.URL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var failure struct {
			Error errorBody `json:"error"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&failure); err == nil && failure.Error.Code != "" {
			return fmt.Errorf("%s %s: %s: %s", method, path, failure.Error.Code, failure.Error.Message)
		}
		return fmt.Errorf("%s %s: %s", method, path, resp.Status)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
