// Package keyderiv turns secret material into deterministic key material.
//
// The identity of a user is a pure function of their wallet signature over
// the per-wallet challenge and the versioned constants below. Changing any
// constant changes every derived identity, so new constants get a new version
// suffix and the old ones stay untouched.
package keyderiv

import (
	"crypto/ed25519"
	"crypto/sha256"
	"fmt"
	"io"
	"strings"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"golang.org/x/crypto/curve25519"
	"golang.org/x/crypto/hkdf"

	"github.com/layer-3/sigkey/core"
)

const (
	// SeedLength is the size of each seed region in the expanded stream
	SeedLength = 32

	// StorageKeyLength is the size of the symmetric key used by the cache
	StorageKeyLength = 32

	IdentitySalt = "sigkey/identity/salt/v1"
	IdentityInfo = "sigkey/identity/keys/v1"

	storageSaltPrefix = "sigkey_storage_"
	storageInfo       = "key_storage_encryption"
)

// DeriveKeys expands secret with HKDF-SHA256 into two seed regions and builds
// an X25519 encryption keypair from the first and an Ed25519 signing keypair
// from the second.
func DeriveKeys(secret, salt, info []byte) (*core.Identity, error) {
	if len(secret) == 0 {
		return nil, fmt.Errorf("%w: empty secret material", core.ErrDerivationFailure)
	}

	stream, err := expand(secret, salt, info, 2*SeedLength)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", core.ErrDerivationFailure, err)
	}
	defer zeroBytes(stream)

	encryption, err := encryptionKeyPair(stream[:SeedLength])
	if err != nil {
		return nil, fmt.Errorf("%w: %v", core.ErrDerivationFailure, err)
	}

	return &core.Identity{
		EncryptionKeyPair: encryption,
		SigningKeyPair:    signingKeyPair(stream[SeedLength:]),
	}, nil
}

// DeriveIdentity derives the user identity from a hex wallet signature over
// the challenge. Both the 65-byte [R || S || V] form and the 64-byte EIP-2098
// compact form are accepted and map to the same identity.
func DeriveIdentity(signatureHex string) (*core.Identity, error) {
	sig, err := canonicalSignature(signatureHex)
	if err != nil {
		return nil, err
	}
	return DeriveKeys(sig, []byte(IdentitySalt), []byte(IdentityInfo))
}

// DeriveStorageKey derives the symmetric key protecting the local key cache
func DeriveStorageKey(sessionPassword, walletAddress string) (*[StorageKeyLength]byte, error) {
	address := core.NormalizeAddress(walletAddress)
	salt := storageSaltPrefix + address
	secret := sessionPassword + address + salt

	out, err := expand([]byte(secret), []byte(salt), []byte(storageInfo), StorageKeyLength)
	if err != nil {
		return nil, err
	}
	defer zeroBytes(out)

	var key [StorageKeyLength]byte
	copy(key[:], out)
	return &key, nil
}

func expand(secret, salt, info []byte, n int) ([]byte, error) {
	reader := hkdf.New(sha256.New, secret, salt, info)
	out := make([]byte, n)
	if _, err := io.ReadFull(reader, out); err != nil {
		return nil, err
	}
	return out, nil
}

func encryptionKeyPair(seed []byte) (core.KeyPair, error) {
	private := make([]byte, SeedLength)
	copy(private, seed)

	public, err := curve25519.X25519(private, curve25519.Basepoint)
	if err != nil {
		return core.KeyPair{}, err
	}
	return core.KeyPair{PublicKey: public, PrivateKey: private}, nil
}

func signingKeyPair(seed []byte) core.KeyPair {
	private := ed25519.NewKeyFromSeed(seed)
	public := private.Public().(ed25519.PublicKey)
	return core.KeyPair{PublicKey: []byte(public), PrivateKey: []byte(private)}
}

func canonicalSignature(signatureHex string) ([]byte, error) {
	s := strings.TrimSpace(signatureHex)
	if !strings.HasPrefix(s, "0x") && !strings.HasPrefix(s, "0X") {
		s = "0x" + s
	}
	raw, err := hexutil.Decode(strings.ToLower(s))
	if err != nil {
		return nil, fmt.Errorf("%w: signature is not hex: %v", core.ErrDerivationFailure, err)
	}

	switch len(raw) {
	case 65:
		if raw[64] < 27 {
			raw[64] += 27
		}
		if raw[64] != 27 && raw[64] != 28 {
			return nil, fmt.Errorf("%w: unexpected recovery id %d", core.ErrDerivationFailure, raw[64])
		}
		return raw, nil
	case 64:
		// EIP-2098: the top bit of s carries the y parity.
		sig := make([]byte, 65)
		copy(sig, raw)
		sig[64] = 27 + (sig[32] >> 7)
		sig[32] &= 0x7f
		return sig, nil
	default:
		return nil, fmt.Errorf("%w: signature must be 64 or 65 bytes, got %d", core.ErrDerivationFailure, len(raw))
	}
}

func zeroBytes(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
