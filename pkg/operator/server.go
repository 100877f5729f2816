// Package operator exposes the engine to operators over HTTP: breaker
// inspection and reset, content queries and Prometheus metrics.
package operator

import (
	"context"
	"errors"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	x402 "github.com/Must-be-Ash/x402-firecrawl"
	"github.com/Must-be-Ash/x402-firecrawl/content"
	"github.com/Must-be-Ash/x402-firecrawl/logger"
	"github.com/Must-be-Ash/x402-firecrawl/paygate"
)

// Querier answers content queries. *content.Service implements it.
type Querier interface {
	Get(ctx context.Context, q content.Query) (*content.Answer, error)
}

// Server is the operator HTTP server
type Server struct {
	querier Querier
	breaker *paygate.Breaker
	metrics http.Handler
	log     logger.Logger
	now     func() time.Time
	router  *gin.Engine
}

// Option configures a Server
type Option func(*Server)

// WithLogger sets the request logger
func WithLogger(log logger.Logger) Option {
	return func(s *Server) { s.log = logger.OrNoop(log) }
}

// WithMetricsHandler serves h on GET /metrics
func WithMetricsHandler(h http.Handler) Option {
	return func(s *Server) { s.metrics = h }
}

// WithClock overrides the time source used for breaker status
func WithClock(now func() time.Time) Option {
	return func(s *Server) {
		if now != nil {
			s.now = now
		}
	}
}

// NewServer creates the operator server
func NewServer(querier Querier, breaker *paygate.Breaker, opts ...Option) *Server {
	s := &Server{
		querier: querier,
		breaker: breaker,
		log:     logger.NoopLogger{},
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}

	router := gin.New()
	router.Use(gin.Recovery(), s.requestLog())
	s.router = router

	router.GET("/healthz", s.handleHealth)
	if s.metrics != nil {
		router.GET("/metrics", gin.WrapH(s.metrics))
	}

	api := router.Group("/v1")
	{
		api.GET("/breaker", s.handleBreakerStatus)
		api.POST("/breaker/reset", s.handleBreakerReset)
		api.POST("/content", s.handleContent)
	}

	return s
}

// Handler returns the router
func (s *Server) Handler() http.Handler {
	return s.router
}

// Run serves on addr until ctx is cancelled, then shuts down gracefully
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info("operator server listening", map[string]any{"addr": addr})
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

func (s *Server) requestLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		requestID := c.GetHeader("X-Request-ID")
		if requestID == "" {
			requestID = uuid.NewString()
		}
		c.Header("X-Request-ID", requestID)
		c.Next()

		s.log.Debug("operator request", map[string]any{
			"requestId": requestID,
			"method":    c.Request.Method,
			"path":      c.FullPath(),
			"status":    c.Writer.Status(),
			"duration":  time.Since(start).String(),
		})
	}
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) handleBreakerStatus(c *gin.Context) {
	c.JSON(http.StatusOK, s.breaker.Status(s.now()))
}

func (s *Server) handleBreakerReset(c *gin.Context) {
	before := s.breaker.Status(s.now())
	s.breaker.Reset()
	s.log.Info("circuit breaker reset by operator", map[string]any{
		"consecutiveFailures": before.ConsecutiveFailures,
		"wasOpen":             before.Open,
	})
	c.JSON(http.StatusOK, s.breaker.Status(s.now()))
}

func (s *Server) handleContent(c *gin.Context) {
	var q content.Query
	if err := c.ShouldBindJSON(&q); err != nil {
		s.writeError(c, x402.WrapPaymentError(x402.ErrCodeInvalidRequest, "request body must be a JSON content query", err))
		return
	}

	answer, err := s.querier.Get(c.Request.Context(), q)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, answer)
}

// errorBody is the JSON shape of every error response
type errorBody struct {
	Code      string                 `json:"code"`
	Message   string                 `json:"message"`
	Details   map[string]interface{} `json:"details,omitempty"`
	Delegated string                 `json:"delegated,omitempty"`
	Manual    string                 `json:"manual,omitempty"`
}

func (s *Server) writeError(c *gin.Context, err error) {
	body := errorBody{Code: x402.ErrCodeUpstream, Message: err.Error()}

	cause := err
	var se *x402.StrategyError
	if errors.As(err, &se) {
		cause = se.Last()
		if se.Delegated != nil {
			body.Delegated = se.Delegated.Error()
		}
		if se.Manual != nil {
			body.Manual = se.Manual.Error()
		}
	}

	var pe *x402.PaymentError
	if errors.As(cause, &pe) {
		body.Code = pe.Code
		body.Message = pe.Message
		body.Details = pe.Details
		if pe.Code == x402.ErrCodeCircuitOpen && pe.RetryAfter > 0 {
			c.Header("Retry-After", strconv.Itoa(int(math.Ceil(pe.RetryAfter.Seconds()))))
		}
	}

	status := StatusFor(body.Code)
	if status >= http.StatusInternalServerError {
		s.log.Warn("content query failed", map[string]any{"code": body.Code, "error": err})
	}
	c.JSON(status, gin.H{"error": body})
}

// StatusFor maps an error code to the HTTP status returned to operators
func StatusFor(code string) int {
	switch code {
	case x402.ErrCodeInvalidRequest:
		return http.StatusBadRequest
	case x402.ErrCodePaymentRequired, x402.ErrCodePaymentRejected:
		return http.StatusPaymentRequired
	case x402.ErrCodeSpendCeilingExceeded:
		return http.StatusForbidden
	case x402.ErrCodeUnsupportedScheme, x402.ErrCodeUnsupportedNetwork:
		return http.StatusUnprocessableEntity
	case x402.ErrCodeCircuitOpen:
		return http.StatusServiceUnavailable
	case x402.ErrCodeTimeout:
		return http.StatusGatewayTimeout
	case x402.ErrCodeConfiguration:
		return http.StatusInternalServerError
	default:
		return http.StatusBadGateway
	}
}
