package store

import (
	"context"
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/layer-3/sigkey/core"
	"github.com/layer-3/sigkey/ports"
)

// MemoryStore is an in-memory implementation of the Store interface
type MemoryStore struct {
	invalidatedTokens map[string]time.Time
	clock             clock.Clock
	mu                sync.RWMutex
}

// NewMemoryStore creates a new in-memory store
func NewMemoryStore(clk clock.Clock) ports.Store {
	if clk == nil {
		clk = clock.New()
	}
	return &MemoryStore{
		invalidatedTokens: make(map[string]time.Time),
		clock:             clk,
	}
}

// InvalidateToken marks a token as invalidated
func (s *MemoryStore) InvalidateToken(ctx context.Context, tokenID string, expiry time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock.Now()
	s.invalidatedTokens[tokenID] = now.Add(expiry)

	// Drop entries whose invalidation window has passed
	for id, until := range s.invalidatedTokens {
		if now.After(until) {
			delete(s.invalidatedTokens, id)
		}
	}

	return nil
}

// IsTokenInvalidated checks if a token is invalidated
func (s *MemoryStore) IsTokenInvalidated(ctx context.Context, tokenID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	expiryTime, exists := s.invalidatedTokens[tokenID]
	if !exists {
		return false, nil
	}

	// Check if the token invalidation has expired
	if s.clock.Now().After(expiryTime) {
		return false, nil
	}

	return true, nil
}

// MemoryChallengeRepository keeps challenges in a map. Intended for tests and
// single-instance development servers.
type MemoryChallengeRepository struct {
	challenges map[string]core.Challenge
	mu         sync.RWMutex
}

// NewMemoryChallengeRepository creates an empty repository
func NewMemoryChallengeRepository() *MemoryChallengeRepository {
	return &MemoryChallengeRepository{
		challenges: make(map[string]core.Challenge),
	}
}

// Get returns the challenge stored for address
func (r *MemoryChallengeRepository) Get(ctx context.Context, address string) (*core.Challenge, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	c, ok := r.challenges[address]
	if !ok {
		return nil, core.ErrNotFound
	}
	return &c, nil
}

// CreateIfAbsent stores challenge unless the wallet already has one
func (r *MemoryChallengeRepository) CreateIfAbsent(ctx context.Context, challenge *core.Challenge) (*core.Challenge, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.challenges[challenge.WalletAddress]; ok {
		return &existing, false, nil
	}
	r.challenges[challenge.WalletAddress] = *challenge
	stored := *challenge
	return &stored, true, nil
}
