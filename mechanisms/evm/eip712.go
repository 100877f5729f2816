package evm

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"

	"github.com/Must-be-Ash/x402-firecrawl/types"
)

// HashTypedData returns the EIP-712 digest of the typed data
//
// This function creates the EIP-712 hash that should be signed or verified.
// The hash is computed as: keccak256("\x19\x01" + domainSeparator + structHash)
//
// Args:
//
//	domain: The EIP-712 domain separator parameters
//	types: The type definitions for the structured data
//	primaryType: The name of the primary type being hashed
//	message: The message data to hash
//
// Returns:
//
//	32-byte hash suitable for signing or verification
//	error if hashing fails
func HashTypedData(
	domain TypedDataDomain,
	types map[string][]TypedDataField,
	primaryType string,
	message map[string]interface{},
) ([]byte, error) {
	if domain.ChainID == nil {
		return nil, fmt.Errorf("domain chain id is required")
	}

	typedData := apitypes.TypedData{
		Types:       make(apitypes.Types),
		PrimaryType: primaryType,
		Domain: apitypes.TypedDataDomain{
			Name:              domain.Name,
			Version:           domain.Version,
			ChainId:           (*math.HexOrDecimal256)(domain.ChainID),
			VerifyingContract: domain.VerifyingContract,
		},
		Message: message,
	}

	for typeName, fields := range types {
		typedFields := make([]apitypes.Type, len(fields))
		for i, field := range fields {
			typedFields[i] = apitypes.Type{
				Name: field.Name,
				Type: field.Type,
			}
		}
		typedData.Types[typeName] = typedFields
	}

	if _, exists := typedData.Types["EIP712Domain"]; !exists {
		domainFields := make([]apitypes.Type, len(EIP712DomainTypes))
		for i, field := range EIP712DomainTypes {
			domainFields[i] = apitypes.Type{Name: field.Name, Type: field.Type}
		}
		typedData.Types["EIP712Domain"] = domainFields
	}

	dataHash, err := typedData.HashStruct(typedData.PrimaryType, typedData.Message)
	if err != nil {
		return nil, fmt.Errorf("failed to hash struct: %w", err)
	}

	domainSeparator, err := typedData.HashStruct("EIP712Domain", typedData.Domain.Map())
	if err != nil {
		return nil, fmt.Errorf("failed to hash domain: %w", err)
	}

	// 0x19 0x01 <domainSeparator> <dataHash>
	rawData := []byte{0x19, 0x01}
	rawData = append(rawData, domainSeparator...)
	rawData = append(rawData, dataHash...)

	return crypto.Keccak256(rawData), nil
}

// AuthorizationMessage converts an authorization into the EIP-712 message map
// expected by HashTypedData and ClientEvmSigner.SignTypedData.
func AuthorizationMessage(authorization types.Authorization) (map[string]interface{}, error) {
	value, ok := new(big.Int).SetString(authorization.Value, 10)
	if !ok {
		return nil, fmt.Errorf("invalid authorization value: %s", authorization.Value)
	}
	validAfter, ok := new(big.Int).SetString(authorization.ValidAfter, 10)
	if !ok {
		return nil, fmt.Errorf("invalid validAfter: %s", authorization.ValidAfter)
	}
	validBefore, ok := new(big.Int).SetString(authorization.ValidBefore, 10)
	if !ok {
		return nil, fmt.Errorf("invalid validBefore: %s", authorization.ValidBefore)
	}
	nonceBytes, err := HexToBytes(authorization.Nonce)
	if err != nil {
		return nil, fmt.Errorf("invalid nonce: %w", err)
	}
	if len(nonceBytes) != NonceLength {
		return nil, fmt.Errorf("invalid nonce length: %d", len(nonceBytes))
	}
	if !IsValidAddress(authorization.From) || !IsValidAddress(authorization.To) {
		return nil, fmt.Errorf("invalid authorization address")
	}

	return map[string]interface{}{
		"from":        common.HexToAddress(authorization.From).Hex(),
		"to":          common.HexToAddress(authorization.To).Hex(),
		"value":       value,
		"validAfter":  validAfter,
		"validBefore": validBefore,
		"nonce":       nonceBytes,
	}, nil
}

// HashEIP3009Authorization hashes a TransferWithAuthorization message for EIP-3009
func HashEIP3009Authorization(authorization types.Authorization, domain TypedDataDomain) ([]byte, error) {
	message, err := AuthorizationMessage(authorization)
	if err != nil {
		return nil, err
	}
	return HashTypedData(domain, TransferWithAuthorizationTypes(), PrimaryTypeTransferWithAuthorization, message)
}

// RecoverAuthorizationSigner returns the address that produced signature over
// the authorization. Accepts v in either {0,1} or {27,28}.
func RecoverAuthorizationSigner(authorization types.Authorization, domain TypedDataDomain, signature []byte) (string, error) {
	if len(signature) != SignatureLength {
		return "", fmt.Errorf("invalid signature length: %d", len(signature))
	}

	digest, err := HashEIP3009Authorization(authorization, domain)
	if err != nil {
		return "", err
	}

	sig := make([]byte, SignatureLength)
	copy(sig, signature)
	if sig[64] >= 27 {
		sig[64] -= 27
	}

	pub, err := crypto.SigToPub(digest, sig)
	if err != nil {
		return "", fmt.Errorf("failed to recover signer: %w", err)
	}
	return crypto.PubkeyToAddress(*pub).Hex(), nil
}

// VerifyAuthorizationSignature checks that signature over the authorization
// was produced by authorization.From
func VerifyAuthorizationSignature(authorization types.Authorization, domain TypedDataDomain, signature []byte) (bool, error) {
	recovered, err := RecoverAuthorizationSigner(authorization, domain, signature)
	if err != nil {
		return false, err
	}
	return SameAddress(recovered, authorization.From), nil
}
