package evm

import (
	"context"
	"errors"
	"math/big"
	"strconv"
	"time"

	x402 "github.com/Must-be-Ash/x402-firecrawl"
	"github.com/Must-be-Ash/x402-firecrawl/types"
)

// Validity window bounds
const (
	DefaultSkewTolerance = 300 * time.Second
	MaxSkewTolerance     = 600 * time.Second
	DefaultMaxWindow     = 600 * time.Second
)

// ValidityPolicy controls the authorization time window.
// validAfter is backdated by SkewTolerance to absorb clock drift between
// this host and the chain; validBefore is capped by MaxWindow.
type ValidityPolicy struct {
	SkewTolerance time.Duration
	MaxWindow     time.Duration
}

// DefaultValidityPolicy returns the policy used when none is configured
func DefaultValidityPolicy() ValidityPolicy {
	return ValidityPolicy{
		SkewTolerance: DefaultSkewTolerance,
		MaxWindow:     DefaultMaxWindow,
	}
}

// Validate checks the policy bounds
func (p ValidityPolicy) Validate() error {
	if p.SkewTolerance < DefaultSkewTolerance || p.SkewTolerance > MaxSkewTolerance {
		return x402.NewPaymentError(x402.ErrCodeConfiguration, "skew tolerance must be between 300s and 600s", map[string]interface{}{
			"skewTolerance": p.SkewTolerance.String(),
		})
	}
	if p.MaxWindow < time.Second {
		return x402.NewPaymentError(x402.ErrCodeConfiguration, "max validity window must be at least 1s", map[string]interface{}{
			"maxWindow": p.MaxWindow.String(),
		})
	}
	return nil
}

// Window returns how long an authorization stays valid after now
func (p ValidityPolicy) Window(maxTimeoutSeconds int) time.Duration {
	if maxTimeoutSeconds <= 0 {
		return p.MaxWindow
	}
	window := time.Duration(maxTimeoutSeconds) * time.Second
	if window > p.MaxWindow {
		return p.MaxWindow
	}
	return window
}

// BuildAuthorization creates an unsigned EIP-3009 authorization paying the
// requirement's exact amount to its payTo address.
func BuildAuthorization(requirements types.PaymentRequirements, payer string, now time.Time, policy ValidityPolicy) (types.Authorization, error) {
	if !IsValidAddress(payer) {
		return types.Authorization{}, x402.NewPaymentError(x402.ErrCodeConfiguration, "invalid payer address", map[string]interface{}{
			"payer": payer,
		})
	}
	if !IsValidAddress(requirements.PayTo) {
		return types.Authorization{}, x402.NewPaymentError(x402.ErrCodeProtocolViolation, "invalid payTo address", map[string]interface{}{
			"payTo": requirements.PayTo,
		})
	}
	value, ok := new(big.Int).SetString(requirements.MaxAmountRequired, 10)
	if !ok || value.Sign() < 0 {
		return types.Authorization{}, x402.NewPaymentError(x402.ErrCodeProtocolViolation, "invalid maxAmountRequired", map[string]interface{}{
			"maxAmountRequired": requirements.MaxAmountRequired,
		})
	}

	nonce, err := CreateNonce()
	if err != nil {
		return types.Authorization{}, err
	}

	unix := now.Unix()
	validAfter := unix - int64(policy.SkewTolerance/time.Second)
	validBefore := unix + int64(policy.Window(requirements.MaxTimeoutSeconds)/time.Second)

	return types.Authorization{
		From:        NormalizeAddress(payer),
		To:          NormalizeAddress(requirements.PayTo),
		Value:       value.String(),
		ValidAfter:  strconv.FormatInt(validAfter, 10),
		ValidBefore: strconv.FormatInt(validBefore, 10),
		Nonce:       nonce,
	}, nil
}

// SignAuthorization produces the 65-byte EIP-712 signature of authorization
// under domain. The recovery byte is normalised to 27/28.
func SignAuthorization(ctx context.Context, signer ClientEvmSigner, authorization types.Authorization, domain TypedDataDomain) ([]byte, error) {
	if signer == nil {
		return nil, x402.NewPaymentError(x402.ErrCodeConfiguration, "no signer configured", nil)
	}

	message, err := AuthorizationMessage(authorization)
	if err != nil {
		return nil, x402.WrapPaymentError(x402.ErrCodeProtocolViolation, "invalid authorization", err)
	}

	signature, err := signer.SignTypedData(ctx, domain, TransferWithAuthorizationTypes(), PrimaryTypeTransferWithAuthorization, message)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			return nil, x402.WrapPaymentError(x402.ErrCodeTimeout, "signing did not complete", err)
		}
		return nil, x402.WrapPaymentError(x402.ErrCodeNetwork, "signer failed", err)
	}
	if len(signature) != SignatureLength {
		return nil, x402.NewPaymentError(x402.ErrCodeConfiguration, "signer returned a malformed signature", map[string]interface{}{
			"length": len(signature),
		})
	}
	if signature[64] < 27 {
		signature[64] += 27
	}
	return signature, nil
}

// Builder turns a selected requirement into a signed payment
type Builder struct {
	signer   ClientEvmSigner
	resolver ChainResolver
	policy   ValidityPolicy
	now      func() time.Time
}

// BuilderOption configures a Builder
type BuilderOption func(*Builder)

// WithChainResolver sets how chain ids are resolved
func WithChainResolver(resolver ChainResolver) BuilderOption {
	return func(b *Builder) {
		if resolver != nil {
			b.resolver = resolver
		}
	}
}

// WithValidityPolicy sets the time window policy
func WithValidityPolicy(policy ValidityPolicy) BuilderOption {
	return func(b *Builder) {
		b.policy = policy
	}
}

// WithClock overrides the time source
func WithClock(now func() time.Time) BuilderOption {
	return func(b *Builder) {
		if now != nil {
			b.now = now
		}
	}
}

// NewBuilder creates a Builder for signer
func NewBuilder(signer ClientEvmSigner, opts ...BuilderOption) *Builder {
	b := &Builder{
		signer:   signer,
		resolver: NetworkTableResolver{},
		policy:   DefaultValidityPolicy(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Signer returns the signer the builder signs with
func (b *Builder) Signer() ClientEvmSigner {
	return b.signer
}

// BuildPayload builds and signs the scheme payload for requirements
func (b *Builder) BuildPayload(ctx context.Context, requirements types.PaymentRequirements) (types.ExactEvmPayload, error) {
	if b.signer == nil {
		return types.ExactEvmPayload{}, x402.NewPaymentError(x402.ErrCodeConfiguration, "no signer configured", nil)
	}
	if err := b.policy.Validate(); err != nil {
		return types.ExactEvmPayload{}, err
	}
	if requirements.Scheme != SchemeExact {
		return types.ExactEvmPayload{}, x402.NewPaymentError(x402.ErrCodeUnsupportedScheme, "unsupported scheme", map[string]interface{}{
			"scheme": requirements.Scheme,
		})
	}

	domain, err := ResolveDomain(ctx, b.resolver, requirements)
	if err != nil {
		return types.ExactEvmPayload{}, err
	}

	authorization, err := BuildAuthorization(requirements, b.signer.Address(), b.now(), b.policy)
	if err != nil {
		return types.ExactEvmPayload{}, err
	}

	signature, err := SignAuthorization(ctx, b.signer, authorization, domain)
	if err != nil {
		return types.ExactEvmPayload{}, err
	}

	return types.ExactEvmPayload{
		Signature:     BytesToHex(signature),
		Authorization: authorization,
	}, nil
}

// BuildPayment builds the complete signed payment for the X-PAYMENT header
func (b *Builder) BuildPayment(ctx context.Context, requirements types.PaymentRequirements) (types.PaymentPayload, error) {
	payload, err := b.BuildPayload(ctx, requirements)
	if err != nil {
		return types.PaymentPayload{}, err
	}
	return types.PaymentPayload{
		X402Version: types.ProtocolVersion,
		Scheme:      requirements.Scheme,
		Network:     requirements.Network,
		Payload:     payload,
	}, nil
}
