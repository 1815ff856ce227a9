// Package eth holds the Ethereum pieces the service needs: EIP-191 personal
// message hashing, signature recovery and a local private-key wallet.
package eth

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
)

// SignatureLength is the size of an [R || S || V] secp256k1 signature
const SignatureLength = crypto.SignatureLength

var ErrMalformedSignature = errors.New("malformed signature")

// IsAddress reports whether s is a 0x-prefixed 20-byte hex address
func IsAddress(s string) bool {
	return strings.HasPrefix(s, "0x") && common.IsHexAddress(s)
}

// TextHash returns the EIP-191 personal_sign digest of message
func TextHash(message string) []byte {
	return accounts.TextHash([]byte(message))
}

// SignText signs message the way wallets answer personal_sign, with V in {27, 28}
func SignText(key *ecdsa.PrivateKey, message string) (string, error) {
	sig, err := crypto.Sign(TextHash(message), key)
	if err != nil {
		return "", err
	}
	sig[crypto.RecoveryIDOffset] += 27
	return hexutil.Encode(sig), nil
}

// RecoverAddress returns the address that produced sig over message
func RecoverAddress(message string, sig []byte) (common.Address, error) {
	if len(sig) != SignatureLength {
		return common.Address{}, ErrMalformedSignature
	}
	normalized := make([]byte, SignatureLength)
	copy(normalized, sig)
	if normalized[crypto.RecoveryIDOffset] >= 27 {
		normalized[crypto.RecoveryIDOffset] -= 27
	}

	pub, err := crypto.SigToPub(TextHash(message), normalized)
	if err != nil {
		return common.Address{}, fmt.Errorf("%w: %v", ErrMalformedSignature, err)
	}
	return crypto.PubkeyToAddress(*pub), nil
}

// VerifySignatureAgainstAddress checks that sig over message was made by expected
func VerifySignatureAgainstAddress(message string, sig []byte, expected common.Address) (bool, error) {
	recovered, err := RecoverAddress(message, sig)
	if err != nil {
		return false, err
	}
	return recovered == expected, nil
}

// KeyWallet is a wallet backed by an in-memory secp256k1 private key
type KeyWallet struct {
	key     *ecdsa.PrivateKey
	address common.Address
}

// NewKeyWallet creates a wallet for key
func NewKeyWallet(key *ecdsa.PrivateKey) *KeyWallet {
	return &KeyWallet{
		key:     key,
		address: crypto.PubkeyToAddress(key.PublicKey),
	}
}

// NewKeyWalletFromHex parses a hex private key, with or without 0x prefix
func NewKeyWalletFromHex(hexKey string) (*KeyWallet, error) {
	key, err := crypto.HexToECDSA(strings.TrimPrefix(hexKey, "0x"))
	if err != nil {
		return nil, fmt.Errorf("failed to parse private key: %w", err)
	}
	return NewKeyWallet(key), nil
}

// GenerateKeyWallet creates a wallet with a fresh random key
func GenerateKeyWallet() (*KeyWallet, error) {
	key, err := crypto.GenerateKey()
	if err != nil {
		return nil, err
	}
	return NewKeyWallet(key), nil
}

// Address returns the EIP-55 checksummed address
func (w *KeyWallet) Address() string {
	return w.address.Hex()
}

// SignMessage signs message with personal_sign semantics. Signing is
// deterministic (RFC 6979), so the same message always yields the same signature.
func (w *KeyWallet) SignMessage(ctx context.Context, message string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return SignText(w.key, message)
}
