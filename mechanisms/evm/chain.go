package evm

import (
	"context"
	"math/big"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/ethclient"

	x402 "github.com/Must-be-Ash/x402-firecrawl"
	"github.com/Must-be-Ash/x402-firecrawl/types"
)

// ChainResolver maps a requirement's network to the EIP-712 chain id
type ChainResolver interface {
	ChainID(ctx context.Context, network string) (*big.Int, error)
}

// NetworkTableResolver resolves chain ids from the built-in network table
// and from CAIP-2 identifiers of the form eip155:<id>.
type NetworkTableResolver struct{}

// ChainID implements ChainResolver
func (NetworkTableResolver) ChainID(_ context.Context, network string) (*big.Int, error) {
	if id, ok := lookupChainID(network); ok {
		return id, nil
	}
	return nil, x402.NewPaymentError(x402.ErrCodeUnsupportedNetwork, "unsupported network", map[string]interface{}{
		"network": network,
	})
}

func lookupChainID(network string) (*big.Int, bool) {
	if config, ok := NetworkConfigs[network]; ok {
		return new(big.Int).Set(config.ChainID), true
	}
	if id, ok := NetworkChainIDs[network]; ok {
		return new(big.Int).Set(id), true
	}
	namespace, reference, err := x402.Network(network).Parse()
	if err != nil || namespace != "eip155" {
		return nil, false
	}
	id, ok := new(big.Int).SetString(reference, 10)
	if !ok || id.Sign() <= 0 {
		return nil, false
	}
	return id, true
}

// ChainIDReader is satisfied by *ethclient.Client
type ChainIDReader interface {
	ChainID(ctx context.Context) (*big.Int, error)
}

// RPCChainResolver asks an RPC node for its chain id and caches the answer.
// A network the table knows must agree with the node.
type RPCChainResolver struct {
	reader ChainIDReader

	mu     sync.Mutex
	cached *big.Int
}

// NewRPCChainResolver creates a resolver backed by reader
func NewRPCChainResolver(reader ChainIDReader) *RPCChainResolver {
	return &RPCChainResolver{reader: reader}
}

// DialRPCChainResolver connects to rpcURL and returns a resolver for it
func DialRPCChainResolver(ctx context.Context, rpcURL string) (*RPCChainResolver, error) {
	client, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, x402.WrapPaymentError(x402.ErrCodeConfiguration, "failed to dial rpc", err)
	}
	return NewRPCChainResolver(client), nil
}

// ChainID implements ChainResolver
func (r *RPCChainResolver) ChainID(ctx context.Context, network string) (*big.Int, error) {
	id, err := r.remoteChainID(ctx)
	if err != nil {
		return nil, err
	}

	if expected, ok := lookupChainID(network); ok && expected.Cmp(id) != 0 {
		return nil, x402.NewPaymentError(x402.ErrCodeConfiguration, "rpc chain id does not match requirement network", map[string]interface{}{
			"network":  network,
			"expected": expected.String(),
			"rpc":      id.String(),
		})
	}
	return id, nil
}

func (r *RPCChainResolver) remoteChainID(ctx context.Context) (*big.Int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.cached != nil {
		return new(big.Int).Set(r.cached), nil
	}
	id, err := r.reader.ChainID(ctx)
	if err != nil {
		return nil, x402.WrapPaymentError(x402.ErrCodeNetwork, "failed to read chain id", err)
	}
	r.cached = new(big.Int).Set(id)
	return id, nil
}

// GetAssetInfo returns the default asset of a network when address matches it
func GetAssetInfo(network string, address string) (*AssetInfo, bool) {
	config, ok := NetworkConfigs[network]
	if !ok || !SameAddress(config.DefaultAsset.Address, address) {
		return nil, false
	}
	asset := config.DefaultAsset
	return &asset, true
}

// ResolveDomain builds the EIP-712 domain for a requirement.
// Token name and version come from extra; they fall back to the network's
// default asset only when the requirement names that same asset.
func ResolveDomain(ctx context.Context, resolver ChainResolver, requirements types.PaymentRequirements) (TypedDataDomain, error) {
	if !IsValidAddress(requirements.Asset) {
		return TypedDataDomain{}, x402.NewPaymentError(x402.ErrCodeProtocolViolation, "invalid asset address", map[string]interface{}{
			"asset": requirements.Asset,
		})
	}

	chainID, err := resolver.ChainID(ctx, requirements.Network)
	if err != nil {
		return TypedDataDomain{}, err
	}

	var name, version string
	if requirements.Extra != nil {
		name = strings.TrimSpace(requirements.Extra.Name)
		version = strings.TrimSpace(requirements.Extra.Version)
	}
	if name == "" || version == "" {
		asset, ok := GetAssetInfo(requirements.Network, requirements.Asset)
		if !ok {
			return TypedDataDomain{}, x402.NewPaymentError(x402.ErrCodeProtocolViolation, "requirement lacks token domain name or version", map[string]interface{}{
				"network": requirements.Network,
				"asset":   requirements.Asset,
			})
		}
		if name == "" {
			name = asset.Name
		}
		if version == "" {
			version = asset.Version
		}
	}

	return TypedDataDomain{
		Name:              name,
		Version:           version,
		ChainID:           chainID,
		VerifyingContract: NormalizeAddress(requirements.Asset),
	}, nil
}
