package odp

import (
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"sort"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"

	"github.com/fluxa-protocol/x402-gateway/pkg/x402v2"
)

const domainName = "x402-odp-deferred"
const domainVersion = "1"

var sessionApprovalTypes = []apitypes.Type{
	{Name: "payer", Type: "address"},
	{Name: "payee", Type: "address"},
	{Name: "asset", Type: "address"},
	{Name: "maxSpend", Type: "uint256"},
	{Name: "expiry", Type: "uint256"},
	{Name: "sessionId", Type: "bytes32"},
	{Name: "startNonce", Type: "uint256"},
	{Name: "authorizedProcessorsHash", Type: "bytes32"},
}

var receiptTypes = []apitypes.Type{
	{Name: "sessionId", Type: "bytes32"},
	{Name: "nonce", Type: "uint256"},
	{Name: "amount", Type: "uint256"},
	{Name: "deadline", Type: "uint256"},
	{Name: "requestHash", Type: "bytes32"},
}

var domainTypes = []apitypes.Type{
	{Name: "name", Type: "string"},
	{Name: "version", Type: "string"},
	{Name: "chainId", Type: "uint256"},
	{Name: "verifyingContract", Type: "address"},
}

func domain(chainID *big.Int, verifyingContract string) apitypes.TypedDataDomain {
	return apitypes.TypedDataDomain{
		Name:              domainName,
		Version:           domainVersion,
		ChainId:           (*math.HexOrDecimal256)(chainID),
		VerifyingContract: verifyingContract,
	}
}

// sessionApprovalTypedData builds the EIP-712 typed-data document for a
// SessionApproval, ready for hashing or verification.
func sessionApprovalTypedData(a SessionApproval, chainID *big.Int, verifyingContract string) (apitypes.TypedData, error) {
	maxSpend, err := bigFromDecimal(a.MaxSpend)
	if err != nil {
		return apitypes.TypedData{}, fmt.Errorf("maxSpend: %w", err)
	}
	expiry, err := bigFromDecimal(a.Expiry)
	if err != nil {
		return apitypes.TypedData{}, fmt.Errorf("expiry: %w", err)
	}
	startNonce, err := bigFromDecimal(a.StartNonce)
	if err != nil {
		return apitypes.TypedData{}, fmt.Errorf("startNonce: %w", err)
	}

	message := map[string]interface{}{
		"payer":                    a.Payer,
		"payee":                    a.Payee,
		"asset":                    a.Asset,
		"maxSpend":                 maxSpend.String(),
		"expiry":                   expiry.String(),
		"sessionId":                a.SessionID,
		"startNonce":               startNonce.String(),
		"authorizedProcessorsHash": a.AuthorizedProcessorsHash,
	}

	return apitypes.TypedData{
		Types: apitypes.Types{
			"EIP712Domain":    domainTypes,
			"SessionApproval": sessionApprovalTypes,
		},
		PrimaryType: "SessionApproval",
		Domain: domain(chainID, verifyingContract),
		Message: message,
	}, nil
}

// receiptTypedData builds the EIP-712 typed-data document for a Receipt.
func receiptTypedData(r Receipt, chainID *big.Int, verifyingContract string) (apitypes.TypedData, error) {
	nonce, err := bigFromDecimal(r.Nonce)
	if err != nil {
		return apitypes.TypedData{}, fmt.Errorf("nonce: %w", err)
	}
	amount, err := bigFromDecimal(r.Amount)
	if err != nil {
		return apitypes.TypedData{}, fmt.Errorf("amount: %w", err)
	}
	deadline, err := bigFromDecimal(r.Deadline)
	if err != nil {
		return apitypes.TypedData{}, fmt.Errorf("deadline: %w", err)
	}
	requestHash := r.RequestHash
	if requestHash == "" {
		requestHash = ZeroHash32
	}

	message := map[string]interface{}{
		"sessionId":   r.SessionID,
		"nonce":       nonce.String(),
		"amount":      amount.String(),
		"deadline":    deadline.String(),
		"requestHash": requestHash,
	}

	return apitypes.TypedData{
		Types: apitypes.Types{
			"EIP712Domain": domainTypes,
			"Receipt":      receiptTypes,
		},
		PrimaryType: "Receipt",
		Domain: domain(chainID, verifyingContract),
		Message: message,
	}, nil
}

// digestAndRecover hashes td per EIP-712 and recovers the signer address from
// a 65-byte [R || S || V] signature.
func digestAndRecover(td apitypes.TypedData, signature []byte) (common.Address, error) {
	if len(signature) != 65 {
		return common.Address{}, fmt.Errorf("invalid signature length: %d", len(signature))
	}

	digest, err := eip712Digest(td)
	if err != nil {
		return common.Address{}, err
	}

	sig := make([]byte, 65)
	copy(sig, signature)
	if sig[64] >= 27 {
		sig[64] -= 27
	}

	pub, err := crypto.SigToPub(digest, sig)
	if err != nil {
		return common.Address{}, fmt.Errorf("recover public key: %w", err)
	}
	return crypto.PubkeyToAddress(*pub), nil
}

// eip712Digest hashes td the same way digestAndRecover does, shared so signing
// and verification can never drift apart.
func eip712Digest(td apitypes.TypedData) ([]byte, error) {
	structHash, err := td.HashStruct(td.PrimaryType, td.Message)
	if err != nil {
		return nil, fmt.Errorf("hash struct: %w", err)
	}
	domainHash, err := td.HashStruct("EIP712Domain", td.Domain.Map())
	if err != nil {
		return nil, fmt.Errorf("hash domain: %w", err)
	}

	raw := []byte{0x19, 0x01}
	raw = append(raw, domainHash...)
	raw = append(raw, structHash...)
	return crypto.Keccak256(raw), nil
}

// signTypedData signs td with key, returning a 65-byte [R || S || V] signature
// with V in the legacy 27/28 form that digestAndRecover expects.
func signTypedData(td apitypes.TypedData, key *ecdsa.PrivateKey) ([]byte, error) {
	digest, err := eip712Digest(td)
	if err != nil {
		return nil, err
	}
	sig, err := crypto.Sign(digest, key)
	if err != nil {
		return nil, fmt.Errorf("sign eip-712 digest: %w", err)
	}
	sig[64] += 27
	return sig, nil
}

// authorizedProcessorsHash implements keccak256(abi.encodePacked(sortedLowercaseAddresses)),
// returning the zero hash for an empty list.
func authorizedProcessorsHash(addresses []string) string {
	if len(addresses) == 0 {
		return ZeroHash32
	}

	lower := make([]string, len(addresses))
	for i, a := range addresses {
		lower[i] = strings.ToLower(a)
	}
	sort.Strings(lower)

	var packed []byte
	for _, a := range lower {
		packed = append(packed, common.HexToAddress(a).Bytes()...)
	}
	return "0x" + common.Bytes2Hex(crypto.Keccak256(packed))
}

// syntheticSettlementHash implements the synthetic settlement-mode
// transaction hash: keccak256(abi.encodePacked(sessionId, startNonce, endNonce, total)).
func syntheticSettlementHash(sessionID string, startNonce, endNonce, total *big.Int) string {
	var packed []byte
	packed = append(packed, common.HexToHash(sessionID).Bytes()...)
	packed = append(packed, common.LeftPadBytes(startNonce.Bytes(), 32)...)
	packed = append(packed, common.LeftPadBytes(endNonce.Bytes(), 32)...)
	packed = append(packed, common.LeftPadBytes(total.Bytes(), 32)...)
	return "0x" + common.Bytes2Hex(crypto.Keccak256(packed))
}

// bigFromDecimal parses the wire decimal-string form shared by amounts,
// nonces and timestamps: digits only, no sign, no leading zeros beyond "0".
func bigFromDecimal(s string) (*big.Int, error) {
	return x402v2.ParseAmount(s)
}
