package ports

import (
	"context"
	"time"

	"github.com/layer-3/sigkey/core"
)

// Store interface for token invalidation
type Store interface {
	InvalidateToken(ctx context.Context, tokenID string, expiry time.Duration) error
	IsTokenInvalidated(ctx context.Context, tokenID string) (bool, error)
}

// ChallengeRepository persists one key-derivation challenge per wallet.
// Addresses passed in are already normalised to lowercase.
type ChallengeRepository interface {
	// Get returns core.ErrNotFound when the wallet has no challenge yet
	Get(ctx context.Context, address string) (*core.Challenge, error)
	// CreateIfAbsent stores the challenge unless one exists and returns the stored one.
	// created reports whether this call performed the write.
	CreateIfAbsent(ctx context.Context, challenge *core.Challenge) (stored *core.Challenge, created bool, err error)
}

// KeyValueStore is the byte-oriented storage behind the local key cache
type KeyValueStore interface {
	// Get returns core.ErrNotFound when the key is absent
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
}
