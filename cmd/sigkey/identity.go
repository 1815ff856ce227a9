package main

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/layer-3/sigkey/adapters/session"
	"github.com/layer-3/sigkey/adapters/store"
	"github.com/layer-3/sigkey/internal/config"
	"github.com/layer-3/sigkey/internal/eth"
	"github.com/layer-3/sigkey/internal/metrics"
	"github.com/layer-3/sigkey/keycache"
	"github.com/layer-3/sigkey/orchestrator"
	"github.com/layer-3/sigkey/ports"
)

type identityOutput struct {
	Address             string     `json:"address"`
	EncryptionPublicKey string     `json:"encryptionPublicKey"`
	SigningPublicKey    string     `json:"signingPublicKey"`
	CacheExpiresAt      *time.Time `json:"cacheExpiresAt,omitempty"`
}

// runIdentity authenticates a local key wallet through the orchestrator and
// prints the public half of its identity
func runIdentity(ctx context.Context, privateKey string, out io.Writer) error {
	cfg := config.Load()
	logger := cfg.Logger()
	m := metrics.Nop()

	wallet, err := eth.NewKeyWalletFromHex(privateKey)
	if err != nil {
		return err
	}

	cache, closeCache, err := openCache(cfg, logger, m)
	if err != nil {
		return err
	}
	defer closeCache()

	b, err := openBackend(ctx, cfg)
	if err != nil {
		return err
	}
	defer b.Close(logger)

	if cfg.StoreDriver == config.StoreMemory {
		logger.Warn("challenges are not persisted with the memory driver, the identity will differ between runs")
	}

	auth, challenges, err := services(b, cfg, logger, m)
	if err != nil {
		return err
	}
	client := session.NewClient(auth, logger)

	orch := orchestrator.New(challenges, cache, client, client,
		orchestrator.WithCacheExpiry(cfg.CacheExpiry),
		orchestrator.WithLogger(logger),
		orchestrator.WithMetrics(m),
	)
	orch.Connect(wallet)

	keys, err := orch.Authenticate(ctx)
	if err != nil {
		return fmt.Errorf("failed to authenticate: %w", err)
	}

	result := identityOutput{
		Address:             wallet.Address(),
		EncryptionPublicKey: hex.EncodeToString(keys.EncryptionKeyPair.PublicKey),
		SigningPublicKey:    hex.EncodeToString(keys.SigningKeyPair.PublicKey),
	}
	if info, ok := cache.KeyInfo(ctx, wallet.Address()); ok {
		result.CacheExpiresAt = &info.ExpiresAt
	}

	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(result)
}

// runClearCache removes the encrypted key cache
func runClearCache(ctx context.Context) error {
	cfg := config.Load()
	logger := cfg.Logger()

	cache, closeCache, err := openCache(cfg, logger, metrics.Nop())
	if err != nil {
		return err
	}
	defer closeCache()
	if err := cache.ClearStoredKeys(ctx); err != nil {
		return err
	}

	logger.Info("key cache cleared", slog.String("driver", cfg.CacheDriver))
	return nil
}

// openCache opens the key cache on the backend named by CACHE_DRIVER. The
// returned close function releases that backend.
func openCache(cfg *config.Config, logger *slog.Logger, m *metrics.Metrics) (*keycache.Cache, func(), error) {
	var kv ports.KeyValueStore
	closeFn := func() {}

	switch cfg.CacheDriver {
	case config.CacheFile:
		fileStore, err := store.NewFileKeyValueStore(cfg.CacheDir)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open key cache: %w", err)
		}
		kv = fileStore
	case config.CacheRedis:
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to parse Redis URL: %w", err)
		}
		client := redis.NewClient(opts)
		kv = store.NewRedisKeyValueStore(client, "sigkey:cache:")
		closeFn = func() {
			if err := client.Close(); err != nil {
				logger.Error("failed to close Redis client", slog.Any("error", err))
			}
		}
	default:
		return nil, nil, fmt.Errorf("unknown cache driver %q", cfg.CacheDriver)
	}

	return keycache.New(kv, keycache.WithLogger(logger), keycache.WithMetrics(m)), closeFn, nil
}
