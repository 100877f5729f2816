package evm

import (
	"math/big"
)

const (
	// Scheme identifier
	SchemeExact = "exact"

	// Default token decimals for USDC
	DefaultDecimals = 6

	// EIP-712 primary type for EIP-3009
	PrimaryTypeTransferWithAuthorization = "TransferWithAuthorization"

	// NonceLength is the EIP-3009 nonce size in bytes
	NonceLength = 32

	// SignatureLength is the size of an (r, s, v) ECDSA signature
	SignatureLength = 65
)

var (
	// Network chain IDs
	ChainIDBase        = big.NewInt(8453)
	ChainIDBaseSepolia = big.NewInt(84532)

	usdcBase = AssetInfo{
		Address:  "0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913",
		Name:     "USD Coin",
		Version:  "2",
		Decimals: DefaultDecimals,
	}
	usdcBaseSepolia = AssetInfo{
		Address:  "0x036CbD53842c5426634e7929541eC2318f3dCF7e",
		Name:     "USDC",
		Version:  "2",
		Decimals: DefaultDecimals,
	}

	// NetworkConfigs maps network identifiers, both v1 names and CAIP-2 ids,
	// to chain configuration.
	NetworkConfigs = map[string]NetworkConfig{
		"base":         {ChainID: ChainIDBase, DefaultAsset: usdcBase},
		"eip155:8453":  {ChainID: ChainIDBase, DefaultAsset: usdcBase},
		"base-sepolia": {ChainID: ChainIDBaseSepolia, DefaultAsset: usdcBaseSepolia},
		"eip155:84532": {ChainID: ChainIDBaseSepolia, DefaultAsset: usdcBaseSepolia},
	}

	// NetworkChainIDs maps v1 network names without a known default asset
	NetworkChainIDs = map[string]*big.Int{
		"ethereum":         big.NewInt(1),
		"sepolia":          big.NewInt(11155111),
		"avalanche-fuji":   big.NewInt(43113),
		"avalanche":        big.NewInt(43114),
		"iotex":            big.NewInt(4689),
		"sei":              big.NewInt(1329),
		"sei-testnet":      big.NewInt(1328),
		"polygon":          big.NewInt(137),
		"polygon-amoy":     big.NewInt(80002),
		"abstract":         big.NewInt(2741),
		"abstract-testnet": big.NewInt(11124),
	}
)

// EIP712DomainTypes is the field list of the EIP712Domain type
var EIP712DomainTypes = []TypedDataField{
	{Name: "name", Type: "string"},
	{Name: "version", Type: "string"},
	{Name: "chainId", Type: "uint256"},
	{Name: "verifyingContract", Type: "address"},
}

// TransferWithAuthorizationTypes returns the EIP-712 types for EIP-3009
func TransferWithAuthorizationTypes() map[string][]TypedDataField {
	return map[string][]TypedDataField{
		"EIP712Domain": EIP712DomainTypes,
		PrimaryTypeTransferWithAuthorization: {
			{Name: "from", Type: "address"},
			{Name: "to", Type: "address"},
			{Name: "value", Type: "uint256"},
			{Name: "validAfter", Type: "uint256"},
			{Name: "validBefore", Type: "uint256"},
			{Name: "nonce", Type: "bytes32"},
		},
	}
}
