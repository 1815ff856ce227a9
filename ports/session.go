package ports

import (
	"context"

	"github.com/layer-3/sigkey/core"
)

// SessionOracle answers whether the caller currently holds a trusted session
type SessionOracle interface {
	// GetSession returns nil without error when there is no valid session
	GetSession(ctx context.Context) (*core.SessionInfo, error)
	SignOut(ctx context.Context) error
}

// SessionEstablisher creates a trusted session for a wallet
type SessionEstablisher interface {
	EstablishSession(ctx context.Context, wallet Wallet) (*core.SessionInfo, error)
}

// Wallet signs messages on behalf of a single address
type Wallet interface {
	Address() string
	// SignMessage returns a 0x-prefixed hex EIP-191 signature.
	// It blocks until the user signs or rejects.
	SignMessage(ctx context.Context, message string) (string, error)
}

// ChallengeSource hands out the per-wallet key-derivation challenge
type ChallengeSource interface {
	GetOrCreateChallenge(ctx context.Context, walletAddress string) (string, error)
}
