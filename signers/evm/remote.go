package evm

import (
	"context"
	"fmt"
	"time"

	x402 "github.com/Must-be-Ash/x402-firecrawl"
	x402evm "github.com/Must-be-Ash/x402-firecrawl/mechanisms/evm"
)

// SignTypedDataFunc is the callback used by signers that delegate to a wallet
// service or hardware device.
type SignTypedDataFunc func(
	ctx context.Context,
	domain x402evm.TypedDataDomain,
	types map[string][]x402evm.TypedDataField,
	primaryType string,
	message map[string]interface{},
) ([]byte, error)

// CallbackSigner implements x402evm.ClientEvmSigner using a signing callback.
type CallbackSigner struct {
	address string
	sign    SignTypedDataFunc
}

// NewCallbackSigner creates a signer for address backed by sign
func NewCallbackSigner(address string, sign SignTypedDataFunc) (*CallbackSigner, error) {
	if !x402evm.IsValidAddress(address) {
		return nil, x402.NewPaymentError(x402.ErrCodeConfiguration, "signer address is invalid", map[string]interface{}{
			"address": address,
		})
	}
	if sign == nil {
		return nil, x402.NewPaymentError(x402.ErrCodeConfiguration, "sign callback is required", nil)
	}
	return &CallbackSigner{
		address: x402evm.NormalizeAddress(address),
		sign:    sign,
	}, nil
}

// Address implements x402evm.ClientEvmSigner
func (s *CallbackSigner) Address() string {
	return s.address
}

// SignTypedData implements x402evm.ClientEvmSigner
func (s *CallbackSigner) SignTypedData(
	ctx context.Context,
	domain x402evm.TypedDataDomain,
	types map[string][]x402evm.TypedDataField,
	primaryType string,
	message map[string]interface{},
) ([]byte, error) {
	return s.sign(ctx, domain, types, primaryType, message)
}

// TimeoutSigner bounds every signing call of the wrapped signer
type TimeoutSigner struct {
	inner   x402evm.ClientEvmSigner
	timeout time.Duration
}

// WithTimeout wraps signer so that no signing call outlives timeout.
// A non-positive timeout returns signer unchanged.
func WithTimeout(signer x402evm.ClientEvmSigner, timeout time.Duration) x402evm.ClientEvmSigner {
	if timeout <= 0 {
		return signer
	}
	return &TimeoutSigner{inner: signer, timeout: timeout}
}

// Address implements x402evm.ClientEvmSigner
func (s *TimeoutSigner) Address() string {
	return s.inner.Address()
}

// SignTypedData implements x402evm.ClientEvmSigner.
// Signers that ignore their context are abandoned once the timeout fires.
func (s *TimeoutSigner) SignTypedData(
	ctx context.Context,
	domain x402evm.TypedDataDomain,
	types map[string][]x402evm.TypedDataField,
	primaryType string,
	message map[string]interface{},
) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	type result struct {
		sig []byte
		err error
	}
	done := make(chan result, 1)
	go func() {
		sig, err := s.inner.SignTypedData(ctx, domain, types, primaryType, message)
		done <- result{sig: sig, err: err}
	}()

	select {
	case r := <-done:
		return r.sig, r.err
	case <-ctx.Done():
		return nil, fmt.Errorf("signing did not complete within %s: %w", s.timeout, ctx.Err())
	}
}
