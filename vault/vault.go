// Package vault seals small payloads with XSalsa20-Poly1305.
package vault

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"io"

	"golang.org/x/crypto/nacl/secretbox"

	"github.com/layer-3/sigkey/core"
)

const (
	KeySize   = 32
	NonceSize = 24
)

// Sealed is a ciphertext (with its Poly1305 tag) and the nonce it was sealed under
type Sealed struct {
	Ciphertext []byte
	Nonce      [NonceSize]byte
}

// Seal encrypts plaintext under key with a fresh random nonce
func Seal(plaintext []byte, key *[KeySize]byte) (*Sealed, error) {
	return seal(rand.Reader, plaintext, key)
}

func seal(random io.Reader, plaintext []byte, key *[KeySize]byte) (*Sealed, error) {
	sealed := &Sealed{}
	if _, err := io.ReadFull(random, sealed.Nonce[:]); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}
	sealed.Ciphertext = secretbox.Seal(nil, plaintext, &sealed.Nonce, key)
	return sealed, nil
}

// Open verifies and decrypts sealed. Any tampering or a wrong key yields
// core.ErrDecryption and no plaintext.
func Open(sealed *Sealed, key *[KeySize]byte) ([]byte, error) {
	if sealed == nil || len(sealed.Ciphertext) < secretbox.Overhead {
		return nil, core.ErrDecryption
	}
	plaintext, ok := secretbox.Open(nil, sealed.Ciphertext, &sealed.Nonce, key)
	if !ok {
		return nil, core.ErrDecryption
	}
	return plaintext, nil
}

// EncryptString seals plaintext and returns base64 ciphertext and nonce
func EncryptString(plaintext []byte, key *[KeySize]byte) (ciphertext, nonce string, err error) {
	sealed, err := Seal(plaintext, key)
	if err != nil {
		return "", "", err
	}
	return base64.StdEncoding.EncodeToString(sealed.Ciphertext),
		base64.StdEncoding.EncodeToString(sealed.Nonce[:]), nil
}

// DecryptString reverses EncryptString
func DecryptString(ciphertext, nonce string, key *[KeySize]byte) ([]byte, error) {
	box, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil {
		return nil, fmt.Errorf("%w: ciphertext: %v", core.ErrDecryption, err)
	}
	rawNonce, err := base64.StdEncoding.DecodeString(nonce)
	if err != nil {
		return nil, fmt.Errorf("%w: nonce: %v", core.ErrDecryption, err)
	}
	if len(rawNonce) != NonceSize {
		return nil, fmt.Errorf("%w: nonce must be %d bytes", core.ErrDecryption, NonceSize)
	}

	sealed := &Sealed{Ciphertext: box}
	copy(sealed.Nonce[:], rawNonce)
	return Open(sealed, key)
}
