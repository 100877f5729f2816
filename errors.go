package x402

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// PaymentError represents a payment-specific error
type PaymentError struct {
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`

	// RetryAfter is set on circuit_open errors
	RetryAfter time.Duration `json:"retryAfter,omitempty"`

	// Err is the underlying cause, if any
	Err error `json:"-"`
}

func (e *PaymentError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *PaymentError) Unwrap() error {
	return e.Err
}

// Is matches another *PaymentError by code, so sentinel comparisons work
// with errors.Is(err, &PaymentError{Code: ErrCodeTimeout}).
func (e *PaymentError) Is(target error) bool {
	var pe *PaymentError
	if !errors.As(target, &pe) {
		return false
	}
	return pe.Code == e.Code
}

// Error codes
const (
	ErrCodeConfiguration        = "configuration_error"
	ErrCodeProtocolViolation    = "protocol_violation"
	ErrCodePaymentRequired      = "payment_required"
	ErrCodePaymentRejected      = "payment_rejected"
	ErrCodeUpstream             = "upstream_error"
	ErrCodeNetwork              = "network_error"
	ErrCodeTimeout              = "timeout"
	ErrCodeCircuitOpen          = "circuit_open"
	ErrCodeSpendCeilingExceeded = "spend_ceiling_exceeded"
	ErrCodeDecode               = "decode_error"
	ErrCodeUnsupportedScheme    = "unsupported_scheme"
	ErrCodeUnsupportedNetwork   = "unsupported_network"
	ErrCodeInvalidRequest       = "invalid_request"
)

// NewPaymentError creates a new payment error
func NewPaymentError(code, message string, details map[string]interface{}) *PaymentError {
	return &PaymentError{
		Code:    code,
		Message: message,
		Details: details,
	}
}

// WrapPaymentError creates a payment error with an underlying cause
func WrapPaymentError(code, message string, err error) *PaymentError {
	return &PaymentError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// CodeOf returns the code of the first PaymentError in err's chain, or "".
func CodeOf(err error) string {
	var pe *PaymentError
	if errors.As(err, &pe) {
		return pe.Code
	}
	return ""
}

// HasCode reports whether err carries a PaymentError with the given code
func HasCode(err error, code string) bool {
	return CodeOf(err) == code
}

// IsRetryable reports whether a caller may try the same request again later.
// Only transient transport conditions and an open circuit qualify.
func IsRetryable(err error) bool {
	switch CodeOf(err) {
	case ErrCodeCircuitOpen, ErrCodeTimeout, ErrCodeNetwork:
		return true
	}
	return false
}

// IsFatal reports whether an error must abort the call without trying
// another strategy. Fatal failures never consume a circuit breaker credit.
func IsFatal(err error) bool {
	switch CodeOf(err) {
	case ErrCodeConfiguration, ErrCodeSpendCeilingExceeded, ErrCodeCircuitOpen, ErrCodeInvalidRequest:
		return true
	}
	return false
}

// StrategyError is returned when every payment strategy failed for one call.
// Both causes stay reachable through errors.Is and errors.As.
type StrategyError struct {
	Delegated error
	Manual    error
}

func (e *StrategyError) Error() string {
	var parts []string
	if e.Delegated != nil {
		parts = append(parts, "delegated: "+e.Delegated.Error())
	}
	if e.Manual != nil {
		parts = append(parts, "manual: "+e.Manual.Error())
	}
	return "all payment strategies failed (" + strings.Join(parts, "; ") + ")"
}

func (e *StrategyError) Unwrap() []error {
	var errs []error
	if e.Delegated != nil {
		errs = append(errs, e.Delegated)
	}
	if e.Manual != nil {
		errs = append(errs, e.Manual)
	}
	return errs
}

// Last returns the cause of the final strategy that ran
func (e *StrategyError) Last() error {
	if e.Manual != nil {
		return e.Manual
	}
	return e.Delegated
}
