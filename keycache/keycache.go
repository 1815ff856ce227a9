// Package keycache keeps a derived identity encrypted in a single local slot
// so the wallet is not asked to sign again on every start.
//
// The cache is an optimisation. Any doubt about a stored record (wrong
// wallet, expired, unreadable, failing authentication) wipes the slot and
// reports a miss, which sends the caller back to the full
// challenge, sign and derive path.
package keycache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/layer-3/sigkey/core"
	"github.com/layer-3/sigkey/internal/metrics"
	"github.com/layer-3/sigkey/keyderiv"
	"github.com/layer-3/sigkey/ports"
	"github.com/layer-3/sigkey/vault"
)

const (
	// SlotKey is the key of the single cache slot in the backing store
	SlotKey = "sigkey_encrypted_keys"

	// DefaultExpiry is how long cached keys stay valid when no expiry is given
	DefaultExpiry = 24 * time.Hour
)

// Cache manages the encrypted identity slot
type Cache struct {
	store   ports.KeyValueStore
	clock   clock.Clock
	logger  *slog.Logger
	metrics *metrics.Metrics
	slot    string
}

// Option configures a Cache
type Option func(*Cache)

// WithClock replaces the wall clock
func WithClock(clk clock.Clock) Option {
	return func(c *Cache) { c.clock = clk }
}

// WithLogger sets the logger
func WithLogger(logger *slog.Logger) Option {
	return func(c *Cache) { c.logger = logger }
}

// WithMetrics sets the collectors lookups are recorded on
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Cache) { c.metrics = m }
}

// WithSlotKey overrides the slot key, for stores shared between profiles
func WithSlotKey(key string) Option {
	return func(c *Cache) { c.slot = key }
}

// New creates a cache over store
func New(store ports.KeyValueStore, opts ...Option) *Cache {
	c := &Cache{
		store: store,
		slot:  SlotKey,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.clock == nil {
		c.clock = clock.New()
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	if c.metrics == nil {
		c.metrics = metrics.Nop()
	}
	return c
}

// StoreKeys encrypts keys under a key derived from sessionPassword and the
// wallet address and overwrites the slot. A non-positive expiry means
// DefaultExpiry.
func (c *Cache) StoreKeys(ctx context.Context, keys *core.Identity, walletAddress, sessionPassword string, expiry time.Duration) error {
	if keys == nil {
		return errors.New("no keys to store")
	}
	if expiry <= 0 {
		expiry = DefaultExpiry
	}

	address := core.NormalizeAddress(walletAddress)
	now := c.clock.Now()
	expiresAt := now.Add(expiry).UnixMilli()

	plaintext, err := json.Marshal(core.CacheRecord{
		Keys:          *keys,
		WalletAddress: address,
		Timestamp:     now.UnixMilli(),
		ExpiresAt:     expiresAt,
	})
	if err != nil {
		return fmt.Errorf("failed to encode keys: %w", err)
	}
	defer zeroBytes(plaintext)

	storageKey, err := keyderiv.DeriveStorageKey(sessionPassword, address)
	if err != nil {
		return fmt.Errorf("failed to derive storage key: %w", err)
	}
	defer zeroBytes(storageKey[:])

	ciphertext, nonce, err := vault.EncryptString(plaintext, storageKey)
	if err != nil {
		return fmt.Errorf("failed to encrypt keys: %w", err)
	}

	raw, err := json.Marshal(core.EncryptedCacheRecord{
		EncryptedData: ciphertext,
		Nonce:         nonce,
		WalletAddress: address,
		ExpiresAt:     expiresAt,
	})
	if err != nil {
		return fmt.Errorf("failed to encode cache record: %w", err)
	}

	if err := c.store.Set(ctx, c.slot, raw); err != nil {
		return fmt.Errorf("failed to store keys: %w", err)
	}

	c.logger.Debug("keys cached",
		slog.String("address", address),
		slog.Duration("expiry", expiry),
	)
	return nil
}

// RetrieveKeys returns the cached identity for walletAddress. Every failure
// is reported as a miss; failures other than an empty slot also clear it.
func (c *Cache) RetrieveKeys(ctx context.Context, walletAddress, sessionPassword string) (*core.Identity, bool) {
	keys, err := c.lookup(ctx, walletAddress, sessionPassword)
	if err != nil {
		c.metrics.CacheLookups.WithLabelValues(outcome(err)).Inc()
		if !errors.Is(err, core.ErrNotFound) {
			c.logger.Info("clearing stored keys",
				slog.String("address", core.NormalizeAddress(walletAddress)),
				slog.String("reason", err.Error()),
			)
			c.clear(ctx)
		}
		return nil, false
	}

	c.metrics.CacheLookups.WithLabelValues(metrics.OutcomeHit).Inc()
	return keys, true
}

// HasValidKeys reports whether the slot holds an unexpired record for
// walletAddress. It does not decrypt.
func (c *Cache) HasValidKeys(ctx context.Context, walletAddress string) bool {
	record, err := c.load(ctx)
	if err != nil {
		return false
	}
	return c.check(record, core.NormalizeAddress(walletAddress)) == nil
}

// KeyInfo reports when the record cached for walletAddress expires
func (c *Cache) KeyInfo(ctx context.Context, walletAddress string) (*core.KeyInfo, bool) {
	record, err := c.load(ctx)
	if err != nil || record.WalletAddress != core.NormalizeAddress(walletAddress) {
		return nil, false
	}

	expiresAt := time.UnixMilli(record.ExpiresAt)
	remaining := expiresAt.Sub(c.clock.Now())
	if remaining < 0 {
		remaining = 0
	}
	return &core.KeyInfo{ExpiresAt: expiresAt, Remaining: remaining}, true
}

// ExtendKeyExpiration re-stores the cached identity so it expires additional
// from now. It returns false when nothing valid could be retrieved.
func (c *Cache) ExtendKeyExpiration(ctx context.Context, walletAddress, sessionPassword string, additional time.Duration) bool {
	keys, ok := c.RetrieveKeys(ctx, walletAddress, sessionPassword)
	if !ok {
		return false
	}
	if err := c.StoreKeys(ctx, keys, walletAddress, sessionPassword, additional); err != nil {
		c.logger.Warn("failed to extend key expiration", slog.Any("error", err))
		return false
	}
	return true
}

// ClearStoredKeys removes the slot unconditionally
func (c *Cache) ClearStoredKeys(ctx context.Context) error {
	if err := c.store.Delete(ctx, c.slot); err != nil {
		return fmt.Errorf("failed to clear stored keys: %w", err)
	}
	return nil
}

func (c *Cache) clear(ctx context.Context) {
	if err := c.ClearStoredKeys(ctx); err != nil {
		c.logger.Warn("failed to clear stored keys", slog.Any("error", err))
	}
}

func (c *Cache) lookup(ctx context.Context, walletAddress, sessionPassword string) (*core.Identity, error) {
	address := core.NormalizeAddress(walletAddress)

	record, err := c.load(ctx)
	if err != nil {
		return nil, err
	}
	if err := c.check(record, address); err != nil {
		return nil, err
	}

	storageKey, err := keyderiv.DeriveStorageKey(sessionPassword, address)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", core.ErrDecryption, err)
	}
	defer zeroBytes(storageKey[:])

	plaintext, err := vault.DecryptString(record.EncryptedData, record.Nonce, storageKey)
	if err != nil {
		return nil, err
	}
	defer zeroBytes(plaintext)

	var inner core.CacheRecord
	if err := json.Unmarshal(plaintext, &inner); err != nil {
		return nil, fmt.Errorf("%w: %v", core.ErrStorageCorruption, err)
	}

	// The authenticated inner record wins over the plaintext envelope.
	if inner.WalletAddress != address {
		return nil, core.ErrWalletMismatch
	}
	if c.expired(inner.ExpiresAt) {
		return nil, core.ErrExpired
	}
	return &inner.Keys, nil
}

func (c *Cache) load(ctx context.Context) (*core.EncryptedCacheRecord, error) {
	raw, err := c.store.Get(ctx, c.slot)
	if err != nil {
		if errors.Is(err, core.ErrNotFound) {
			return nil, core.ErrNotFound
		}
		return nil, fmt.Errorf("%w: %v", core.ErrStorageCorruption, err)
	}

	var record core.EncryptedCacheRecord
	if err := json.Unmarshal(raw, &record); err != nil {
		return nil, fmt.Errorf("%w: %v", core.ErrStorageCorruption, err)
	}
	if record.WalletAddress == "" || record.EncryptedData == "" || record.Nonce == "" {
		return nil, fmt.Errorf("%w: incomplete record", core.ErrStorageCorruption)
	}
	return &record, nil
}

func (c *Cache) check(record *core.EncryptedCacheRecord, address string) error {
	if record.WalletAddress != address {
		return core.ErrWalletMismatch
	}
	if c.expired(record.ExpiresAt) {
		return core.ErrExpired
	}
	return nil
}

// A record is valid strictly before its expiry instant.
func (c *Cache) expired(expiresAt int64) bool {
	return c.clock.Now().UnixMilli() >= expiresAt
}

func outcome(err error) string {
	switch {
	case errors.Is(err, core.ErrNotFound):
		return metrics.OutcomeMiss
	case errors.Is(err, core.ErrExpired):
		return metrics.OutcomeExpired
	case errors.Is(err, core.ErrWalletMismatch):
		return metrics.OutcomeWalletMismatch
	default:
		return metrics.OutcomeCorrupt
	}
}

func zeroBytes(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
