package main

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"fmt"
	"log/slog"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-redisstream/pkg/redisstream"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/redis/go-redis/v9"

	"github.com/layer-3/sigkey/adapters/events"
	"github.com/layer-3/sigkey/adapters/store"
	"github.com/layer-3/sigkey/adapters/tokenizer"
	"github.com/layer-3/sigkey/internal/config"
	"github.com/layer-3/sigkey/internal/database"
	"github.com/layer-3/sigkey/internal/metrics"
	"github.com/layer-3/sigkey/ports"
	"github.com/layer-3/sigkey/service"
)

// backend is the storage and messaging selected by STORE_DRIVER
type backend struct {
	challenges ports.ChallengeRepository
	tokens     ports.Store
	publisher  message.Publisher
	closers    []func() error
}

func (b *backend) Close(logger *slog.Logger) {
	for i := len(b.closers) - 1; i >= 0; i-- {
		if err := b.closers[i](); err != nil {
			logger.Error("failed to close resource", slog.Any("error", err))
		}
	}
}

// openBackend wires the repositories. Redis carries challenges, token
// invalidations and events; postgres carries challenges only and keeps the
// rest in process, like the memory driver.
func openBackend(ctx context.Context, cfg *config.Config) (*backend, error) {
	b := &backend{}
	wmLogger := watermill.NewStdLogger(false, false)

	inProcess := func() {
		pubSub := gochannel.NewGoChannel(gochannel.Config{}, wmLogger)
		b.tokens = store.NewMemoryStore(nil)
		b.publisher = pubSub
		b.closers = append(b.closers, pubSub.Close)
	}

	switch cfg.StoreDriver {
	case config.StoreMemory:
		b.challenges = store.NewMemoryChallengeRepository()
		inProcess()

	case config.StoreRedis:
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
		}
		client := redis.NewClient(opts)
		b.closers = append(b.closers, client.Close)

		if err := client.Ping(ctx).Err(); err != nil {
			b.Close(slog.Default())
			return nil, fmt.Errorf("failed to reach Redis: %w", err)
		}

		publisher, err := redisstream.NewPublisher(redisstream.PublisherConfig{Client: client}, wmLogger)
		if err != nil {
			b.Close(slog.Default())
			return nil, fmt.Errorf("failed to create Redis publisher: %w", err)
		}
		b.closers = append(b.closers, publisher.Close)

		b.challenges = store.NewRedisChallengeRepository(client)
		b.tokens = store.NewRedisStore(client)
		b.publisher = publisher

	case config.StorePostgres:
		db, err := database.Connect(ctx, database.Config{
			ConnectionString:   cfg.DBConnectionString,
			MaxOpenConnections: cfg.DBMaxOpenConnections,
			MaxIdleConnections: cfg.DBMaxIdleConnections,
			ConnMaxLifetime:    cfg.DBConnMaxLifetime,
		})
		if err != nil {
			return nil, err
		}
		b.closers = append(b.closers, db.Close)
		b.challenges = store.NewPostgresChallengeRepository(db)
		inProcess()

	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.StoreDriver)
	}

	return b, nil
}

// services builds the session and challenge services on top of a backend.
// Session tokens are signed with a key generated at startup, so sessions do
// not outlive the process.
func services(b *backend, cfg *config.Config, logger *slog.Logger, m *metrics.Metrics) (*service.AuthService, *service.ChallengeService, error) {
	signKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to generate token signing key: %w", err)
	}

	eventPub := events.NewWatermillPublisher(b.publisher)
	auth := service.NewAuthService(
		tokenizer.NewJWTTokenizer(signKey, nil),
		b.tokens,
		eventPub,
		service.WithLogger(logger),
		service.WithAccessTTL(cfg.AccessTokenTTL),
		service.WithRefreshTTL(cfg.RefreshTokenTTL),
	)
	challenges := service.NewChallengeService(b.challenges, eventPub, logger, m)
	return auth, challenges, nil
}
