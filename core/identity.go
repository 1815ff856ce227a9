package core

import (
	"strings"
	"time"
)

// Challenge is the permanent per-wallet value signed to seed key derivation.
// It is created once and never rotated.
type Challenge struct {
	WalletAddress string    `json:"walletAddress"`
	Value         string    `json:"challenge"`
	CreatedAt     time.Time `json:"createdAt"`
}

// KeyPair holds raw public and private key bytes
type KeyPair struct {
	PublicKey  []byte `json:"publicKey"`
	PrivateKey []byte `json:"privateKey"`
}

// Identity is the pair of keypairs derived from a wallet signature
type Identity struct {
	EncryptionKeyPair KeyPair `json:"encryptionKeyPair"`
	SigningKeyPair    KeyPair `json:"signingKeyPair"`
}

// CacheRecord is the plaintext that gets encrypted into the cache slot.
// Timestamps are epoch milliseconds.
type CacheRecord struct {
	Keys          Identity `json:"keys"`
	WalletAddress string   `json:"walletAddress"`
	Timestamp     int64    `json:"timestamp"`
	ExpiresAt     int64    `json:"expiresAt"`
}

// EncryptedCacheRecord is the at-rest shape of the cache slot
type EncryptedCacheRecord struct {
	EncryptedData string `json:"encryptedData"`
	Nonce         string `json:"nonce"`
	WalletAddress string `json:"walletAddress"`
	ExpiresAt     int64  `json:"expiresAt"`
}

// KeyInfo describes the lifetime left on a cached identity
type KeyInfo struct {
	ExpiresAt time.Time
	Remaining time.Duration
}

// NormalizeAddress returns the canonical lowercase form of a wallet address
func NormalizeAddress(address string) string {
	return strings.ToLower(strings.TrimSpace(address))
}
