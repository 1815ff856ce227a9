package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/layer-3/sigkey/core"
	"github.com/layer-3/sigkey/ports"
)

// RedisStore is a Redis implementation of the Store interface
type RedisStore struct {
	client *redis.Client
	prefix string
}

// NewRedisStore creates a new Redis store
func NewRedisStore(client *redis.Client) ports.Store {
	return &RedisStore{
		client: client,
		prefix: "sigkey:invalidated:",
	}
}

// InvalidateToken marks a token as invalidated in Redis
func (s *RedisStore) InvalidateToken(ctx context.Context, tokenID string, expiry time.Duration) error {
	key := s.prefix + tokenID

	// Set key with expiration
	if err := s.client.Set(ctx, key, "1", expiry).Err(); err != nil {
		return fmt.Errorf("failed to invalidate token: %w", err)
	}

	return nil
}

// IsTokenInvalidated checks if a token is invalidated in Redis
func (s *RedisStore) IsTokenInvalidated(ctx context.Context, tokenID string) (bool, error) {
	key := s.prefix + tokenID

	// Check if key exists
	val, err := s.client.Exists(ctx, key).Result()
	if err != nil {
		return false, fmt.Errorf("failed to check token invalidation: %w", err)
	}

	return val > 0, nil
}

// RedisChallengeRepository stores challenges as JSON values without expiry
type RedisChallengeRepository struct {
	client *redis.Client
	prefix string
}

// NewRedisChallengeRepository creates a challenge repository on client
func NewRedisChallengeRepository(client *redis.Client) *RedisChallengeRepository {
	return &RedisChallengeRepository{
		client: client,
		prefix: "sigkey:challenge:",
	}
}

// Get returns the challenge stored for address
func (r *RedisChallengeRepository) Get(ctx context.Context, address string) (*core.Challenge, error) {
	raw, err := r.client.Get(ctx, r.prefix+address).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, core.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get challenge: %w", err)
	}

	var c core.Challenge
	if err := json.Unmarshal(raw, &c); err != nil {
		return nil, fmt.Errorf("failed to decode challenge: %w", err)
	}
	return &c, nil
}

// CreateIfAbsent relies on SETNX so that racing writers converge on one value
func (r *RedisChallengeRepository) CreateIfAbsent(ctx context.Context, challenge *core.Challenge) (*core.Challenge, bool, error) {
	payload, err := json.Marshal(challenge)
	if err != nil {
		return nil, false, fmt.Errorf("failed to encode challenge: %w", err)
	}

	created, err := r.client.SetNX(ctx, r.prefix+challenge.WalletAddress, payload, 0).Result()
	if err != nil {
		return nil, false, fmt.Errorf("failed to store challenge: %w", err)
	}
	if created {
		stored := *challenge
		return &stored, true, nil
	}

	existing, err := r.Get(ctx, challenge.WalletAddress)
	if err != nil {
		return nil, false, err
	}
	return existing, false, nil
}

// RedisKeyValueStore implements ports.KeyValueStore on Redis strings
type RedisKeyValueStore struct {
	client *redis.Client
	prefix string
}

// NewRedisKeyValueStore creates a KV store whose keys live under prefix
func NewRedisKeyValueStore(client *redis.Client, prefix string) *RedisKeyValueStore {
	return &RedisKeyValueStore{client: client, prefix: prefix}
}

// Get returns the value stored at key
func (s *RedisKeyValueStore) Get(ctx context.Context, key string) ([]byte, error) {
	value, err := s.client.Get(ctx, s.prefix+key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, core.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get %s: %w", key, err)
	}
	return value, nil
}

// Set overwrites the value at key
func (s *RedisKeyValueStore) Set(ctx context.Context, key string, value []byte) error {
	if err := s.client.Set(ctx, s.prefix+key, value, 0).Err(); err != nil {
		return fmt.Errorf("failed to set %s: %w", key, err)
	}
	return nil
}

// Delete removes key
func (s *RedisKeyValueStore) Delete(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, s.prefix+key).Err(); err != nil {
		return fmt.Errorf("failed to delete %s: %w", key, err)
	}
	return nil
}
