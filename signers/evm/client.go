package evm

import (
	"context"
	"crypto/ecdsa"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	x402 "github.com/Must-be-Ash/x402-firecrawl"
	x402evm "github.com/Must-be-Ash/x402-firecrawl/mechanisms/evm"
)

// ClientSigner implements x402evm.ClientEvmSigner using an ECDSA private key.
// This provides client-side EIP-712 signing for creating payment payloads.
type ClientSigner struct {
	privateKey *ecdsa.PrivateKey
	address    common.Address
}

// NewClientSignerFromPrivateKey creates a client signer from a hex-encoded private key.
//
// Args:
//
//	privateKeyHex: Hex-encoded private key (with or without "0x" prefix)
//
// Returns:
//
//	ClientEvmSigner implementation ready for use with evm.NewBuilder()
//	A configuration_error if the key is missing or invalid
//
// Example:
//
//	signer, err := evm.NewClientSignerFromPrivateKey(os.Getenv("PAYGATE_PRIVATE_KEY"))
//	if err != nil {
//	    log.Fatal(err)
//	}
//	builder := x402evm.NewBuilder(signer)
func NewClientSignerFromPrivateKey(privateKeyHex string) (*ClientSigner, error) {
	privateKeyHex = strings.TrimPrefix(strings.TrimSpace(privateKeyHex), "0x")
	if privateKeyHex == "" {
		return nil, x402.NewPaymentError(x402.ErrCodeConfiguration, "private key is required", nil)
	}

	privateKey, err := crypto.HexToECDSA(privateKeyHex)
	if err != nil {
		// The key itself is never echoed back.
		return nil, x402.NewPaymentError(x402.ErrCodeConfiguration, "invalid private key", nil)
	}

	return NewClientSigner(privateKey), nil
}

// NewClientSigner wraps an already parsed key
func NewClientSigner(privateKey *ecdsa.PrivateKey) *ClientSigner {
	return &ClientSigner{
		privateKey: privateKey,
		address:    crypto.PubkeyToAddress(privateKey.PublicKey),
	}
}

// Address returns the Ethereum address of the signer.
func (s *ClientSigner) Address() string {
	return s.address.Hex()
}

// SignTypedData signs EIP-712 typed data.
//
// Returns a 65-byte signature (r, s, v) with v in {27, 28}.
func (s *ClientSigner) SignTypedData(
	ctx context.Context,
	domain x402evm.TypedDataDomain,
	types map[string][]x402evm.TypedDataField,
	primaryType string,
	message map[string]interface{},
) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	digest, err := x402evm.HashTypedData(domain, types, primaryType, message)
	if err != nil {
		return nil, err
	}

	signature, err := crypto.Sign(digest, s.privateKey)
	if err != nil {
		return nil, err
	}

	// Adjust v value for Ethereum (recovery ID 0/1 → 27/28)
	signature[64] += 27

	return signature, nil
}
