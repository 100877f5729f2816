package evm

import (
	"context"
	"math/big"
)

// ClientEvmSigner is the signing capability the engine consumes.
// Implementations must be safe for concurrent use.
type ClientEvmSigner interface {
	// Address returns the payer address (checksummed hex)
	Address() string

	// SignTypedData signs EIP-712 typed data and returns a 65-byte (r, s, v) signature
	SignTypedData(
		ctx context.Context,
		domain TypedDataDomain,
		types map[string][]TypedDataField,
		primaryType string,
		message map[string]interface{},
	) ([]byte, error)
}

// TypedDataDomain represents an EIP-712 domain separator
type TypedDataDomain struct {
	Name              string   `json:"name"`
	Version           string   `json:"version"`
	ChainID           *big.Int `json:"chainId"`
	VerifyingContract string   `json:"verifyingContract"`
}

// TypedDataField represents a field in EIP-712 typed data
type TypedDataField struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

// AssetInfo describes a token contract and its EIP-712 domain metadata
type AssetInfo struct {
	Address  string
	Name     string
	Version  string
	Decimals int
}

// NetworkConfig holds the chain id and default asset of a network
type NetworkConfig struct {
	ChainID      *big.Int
	DefaultAsset AssetInfo
}
