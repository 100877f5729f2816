// Package upstream provides a fake payment-gated content API for tests.
// It issues v1 challenges, verifies EIP-3009 signatures and serves articles.
package upstream

import (
	"encoding/base64"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"time"

	"github.com/Must-be-Ash/x402-firecrawl/mechanisms/evm"
	"github.com/Must-be-Ash/x402-firecrawl/types"
)

// Mode selects how paid requests are answered
type Mode int

const (
	// AcceptStrict accepts only exact v1 payloads with a valid signature
	AcceptStrict Mode = iota
	// AcceptLenient also accepts payloads carrying extra fields
	AcceptLenient
	// RejectEmpty answers every paid request with 402 {}
	RejectEmpty
	// RejectInsufficientFunds answers every paid request with a 402 error
	RejectInsufficientFunds
	// NoChallenge serves content without asking for payment
	NoChallenge
	// ServerError answers every request with 500
	ServerError
	// Hang never answers until the client gives up
	Hang
	// HangPaid challenges normally but never answers a paid request
	HangPaid
)

// PayTo is the recipient the fake upstream asks to be paid
const PayTo = "0x209693Bc6afc0C5328bA36FaF03C514EF312287C"

// DefaultArticles is the body served on success
var DefaultArticles = []map[string]interface{}{
	{
		"title":       "Harbor reopens after storm",
		"description": "The port resumed operations on Tuesday.",
		"source":      "Coastal Times",
		"url":         "https://news.example.com/harbor",
		"publishedAt": "2024-05-01T08:00:00Z",
	},
	{
		"title":       "City council approves budget",
		"description": "The vote passed 7-2.",
		"source":      "Metro Daily",
		"url":         "https://news.example.com/budget",
		"publishedAt": "2024-05-01T09:30:00Z",
	},
}

// DefaultRequirements returns the single payment option the fake offers
func DefaultRequirements(resource string) types.PaymentRequirements {
	return types.PaymentRequirements{
		Scheme:            evm.SchemeExact,
		Network:           "base",
		MaxAmountRequired: "10000",
		Resource:          resource,
		Description:       "News search",
		MimeType:          "application/json",
		PayTo:             PayTo,
		MaxTimeoutSeconds: 120,
		Asset:             "0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913",
		Extra:             &types.PaymentRequirementsExtra{Name: "USD Coin", Version: "2"},
	}
}

// Server is a fake upstream backed by httptest.Server
type Server struct {
	*httptest.Server

	mu              sync.Mutex
	mode            Mode
	requirements    types.PaymentRequirements
	challengeBody   []byte
	articles        interface{}
	settlement      string
	requests        int
	paidRequests    int
	lastPayment     *types.PaymentPayload
	lastRequestBody []byte
	usedNonces      map[string]bool
	now             func() time.Time
}

// Option configures a Server
type Option func(*Server)

// WithMode sets the answer mode
func WithMode(mode Mode) Option {
	return func(s *Server) { s.mode = mode }
}

// WithChallengeBody replaces the generated 402 body
func WithChallengeBody(body string) Option {
	return func(s *Server) { s.challengeBody = []byte(body) }
}

// WithArticles replaces the JSON value served under "articles"
func WithArticles(articles interface{}) Option {
	return func(s *Server) { s.articles = articles }
}

// WithSettlementHeader sets the raw X-PAYMENT-RESPONSE value
func WithSettlementHeader(value string) Option {
	return func(s *Server) { s.settlement = value }
}

// WithRequirements overrides the offered requirement; Resource is kept
func WithRequirements(mutate func(*types.PaymentRequirements)) Option {
	return func(s *Server) { mutate(&s.requirements) }
}

// New starts a fake upstream. Callers must Close it.
func New(opts ...Option) *Server {
	s := &Server{
		articles:   DefaultArticles,
		usedNonces: make(map[string]bool),
		now:        time.Now,
	}
	s.Server = httptest.NewServer(http.HandlerFunc(s.handle))
	s.requirements = DefaultRequirements(s.URL + "/v1/news")

	settle, _ := json.Marshal(types.SettleResponse{
		Success:     true,
		Transaction: "0x6c3ad8bde1a6f2f0b6bbde1f3d0bd1c3e4b3e7fdfbfdbdc95b2c4f6c9b62d7a1",
		Network:     "base",
		Payer:       "",
	})
	s.settlement = base64.StdEncoding.EncodeToString(settle)

	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Endpoint is the paid resource URL
func (s *Server) Endpoint() string {
	return s.URL + "/v1/news"
}

// Requests returns the total number of requests served
func (s *Server) Requests() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.requests
}

// PaidRequests returns the number of requests that carried X-PAYMENT
func (s *Server) PaidRequests() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.paidRequests
}

// LastPayment returns the most recent accepted payment
func (s *Server) LastPayment() *types.PaymentPayload {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastPayment
}

// LastRequestBody returns the body of the most recent request
func (s *Server) LastRequestBody() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastRequestBody
}

// SetMode switches the answer mode
func (s *Server) SetMode(mode Mode) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.mode = mode
}

// Requirements returns the offered requirement
func (s *Server) Requirements() types.PaymentRequirements {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.requirements
}

func (s *Server) handle(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)

	s.mu.Lock()
	s.requests++
	s.lastRequestBody = body
	mode := s.mode
	header := r.Header.Get("X-PAYMENT")
	if header != "" {
		s.paidRequests++
	}
	s.mu.Unlock()

	switch mode {
	case ServerError:
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "upstream exploded"})
		return
	case NoChallenge:
		s.serveArticles(w)
		return
	case Hang:
		<-r.Context().Done()
		return
	}

	if header == "" {
		s.writeChallenge(w, ReasonPaymentRequired)
		return
	}

	switch mode {
	case HangPaid:
		<-r.Context().Done()
		return
	case RejectEmpty:
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusPaymentRequired)
		_, _ = w.Write([]byte(`{}`))
		return
	case RejectInsufficientFunds:
		s.writeChallenge(w, ReasonInsufficientBalance)
		return
	}

	payment, ok := s.decode(header, mode)
	if !ok {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid payment payload"})
		return
	}

	if reason := s.verify(payment); reason != "" {
		s.writeChallenge(w, reason)
		return
	}

	s.mu.Lock()
	s.lastPayment = payment
	settlement := s.settlement
	s.mu.Unlock()

	if settlement != "" {
		w.Header().Set("X-PAYMENT-RESPONSE", settlement)
	}
	s.serveArticles(w)
}

func (s *Server) decode(header string, mode Mode) (*types.PaymentPayload, bool) {
	data, err := base64.StdEncoding.DecodeString(header)
	if err != nil {
		return nil, false
	}
	if mode == AcceptLenient {
		var v2 types.PaymentPayloadV2
		if err := json.Unmarshal(data, &v2); err != nil {
			return nil, false
		}
		payload := v2.Strip()
		return &payload, true
	}
	payload, err := types.ToPaymentPayload(data)
	if err != nil {
		return nil, false
	}
	return payload, true
}

func (s *Server) verify(payment *types.PaymentPayload) string {
	s.mu.Lock()
	defer s.mu.Unlock()

	req := s.requirements
	auth := payment.Payload.Authorization

	if payment.X402Version != types.ProtocolVersion || payment.Scheme != req.Scheme {
		return ReasonInvalidScheme
	}
	if payment.Network != req.Network {
		return ReasonNetworkMismatch
	}
	if auth.Value != req.MaxAmountRequired {
		return ReasonInvalidValue
	}
	if !evm.SameAddress(auth.To, req.PayTo) {
		return ReasonRecipientMismatch
	}
	now := s.now().Unix()
	validAfter, err1 := strconv.ParseInt(auth.ValidAfter, 10, 64)
	validBefore, err2 := strconv.ParseInt(auth.ValidBefore, 10, 64)
	if err1 != nil || err2 != nil || now > validBefore {
		return ReasonValidBeforeExpired
	}
	if validAfter >= now {
		return ReasonValidAfterInFuture
	}
	if s.usedNonces[auth.Nonce] {
		return ReasonNonceAlreadyUsed
	}

	sig, err := evm.HexToBytes(payment.Payload.Signature)
	if err != nil {
		return ReasonInvalidSignature
	}
	chainID, ok := evm.NetworkConfigs[req.Network]
	if !ok {
		return ReasonNetworkMismatch
	}
	domain := evm.TypedDataDomain{
		Name:              req.Extra.Name,
		Version:           req.Extra.Version,
		ChainID:           chainID.ChainID,
		VerifyingContract: req.Asset,
	}
	valid, err := evm.VerifyAuthorizationSignature(auth, domain, sig)
	if err != nil || !valid {
		return ReasonInvalidSignature
	}

	s.usedNonces[auth.Nonce] = true
	return ""
}

func (s *Server) writeChallenge(w http.ResponseWriter, reason string) {
	s.mu.Lock()
	body := s.challengeBody
	req := s.requirements
	s.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusPaymentRequired)
	if body != nil {
		_, _ = w.Write(body)
		return
	}
	_ = json.NewEncoder(w).Encode(types.PaymentRequired{
		X402Version: types.ProtocolVersion,
		Error:       reason,
		Accepts:     []types.PaymentRequirements{req},
	})
}

func (s *Server) serveArticles(w http.ResponseWriter) {
	s.mu.Lock()
	articles := s.articles
	s.mu.Unlock()
	writeJSON(w, http.StatusOK, map[string]interface{}{"articles": articles})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
