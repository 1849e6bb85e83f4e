// Package auth implements AuthStore: the EIP-712 sign-in protocol, JWT
// issuance/validation, and the SQLite-backed user and trader-list store.
package auth

import (
	"encoding/hex"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	ethmath "github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
)

// nonceAgeMin/nonceAgeMax bound how far issuedAt may drift from wall clock
// at verification time. A small negative window tolerates clock skew
// between the signing client and this server; the larger positive window
// is how long a nonce stays redeemable.
const (
	nonceAgeMin = -60 * time.Second
	nonceAgeMax = 300 * time.Second
)

var eip712Types = apitypes.Types{
	"EIP712Domain": {
		{Name: "name", Type: "string"},
		{Name: "version", Type: "string"},
		{Name: "chainId", Type: "uint256"},
		{Name: "verifyingContract", Type: "address"},
	},
	"SignIn": {
		{Name: "wallet", Type: "address"},
		{Name: "nonce", Type: "string"},
		{Name: "issuedAt", Type: "string"},
	},
}

func signInDomain() apitypes.TypedDataDomain {
	return apitypes.TypedDataDomain{
		Name:              "PolyDearboard",
		Version:           "1",
		ChainId:           (*ethmath.HexOrDecimal256)(big.NewInt(137)),
		VerifyingContract: common.Address{}.Hex(),
	}
}

// recoverSignInSigner recovers the address that produced signatureHex over
// the EIP-712 SignIn{wallet, nonce, issuedAt} struct, and checks issuedAt
// falls within the accepted freshness window. It does not check the
// recovered address against the claimed one or against the stored nonce —
// callers (Verify) own that comparison so the mismatch can be reported as a
// distinct error from a bad signature.
func recoverSignInSigner(wallet, nonce, issuedAt, signatureHex string) (common.Address, error) {
	issued, err := time.Parse(time.RFC3339, issuedAt)
	if err != nil {
		return common.Address{}, fmt.Errorf("parse issuedAt: %w", err)
	}
	age := time.Since(issued)
	if age < nonceAgeMin || age > nonceAgeMax {
		return common.Address{}, fmt.Errorf("issuedAt outside accepted window: age=%s", age)
	}

	typedData := apitypes.TypedData{
		Types:       eip712Types,
		PrimaryType: "SignIn",
		Domain:      signInDomain(),
		Message: apitypes.TypedDataMessage{
			"wallet":   common.HexToAddress(wallet).Hex(),
			"nonce":    nonce,
			"issuedAt": issuedAt,
		},
	}

	hash, _, err := apitypes.TypedDataAndHash(typedData)
	if err != nil {
		return common.Address{}, fmt.Errorf("typed data hash: %w", err)
	}

	sigBytes, err := decodeSignature(signatureHex)
	if err != nil {
		return common.Address{}, err
	}

	pubKey, err := crypto.SigToPub(hash, sigBytes)
	if err != nil {
		return common.Address{}, fmt.Errorf("recover signer: %w", err)
	}

	return crypto.PubkeyToAddress(*pubKey), nil
}

// decodeSignature parses a 65-byte r||s||v signature, normalizing a
// 27/28-style recovery id (the convention wallets produce) down to 0/1 (the
// convention go-ethereum's recovery functions expect).
func decodeSignature(signatureHex string) ([]byte, error) {
	trimmed := strings.TrimPrefix(signatureHex, "0x")
	sig, err := hex.DecodeString(trimmed)
	if err != nil {
		return nil, fmt.Errorf("decode signature hex: %w", err)
	}
	if len(sig) != 65 {
		return nil, fmt.Errorf("signature must be 65 bytes, got %d", len(sig))
	}

	out := make([]byte, 65)
	copy(out, sig)
	if out[64] >= 27 {
		out[64] -= 27
	}
	return out, nil
}
