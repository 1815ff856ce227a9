package service

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/benbjohnson/clock"

	"github.com/layer-3/sigkey/core"
	"github.com/layer-3/sigkey/internal/eth"
	"github.com/layer-3/sigkey/internal/metrics"
	"github.com/layer-3/sigkey/ports"
)

// ChallengeBytes is the amount of randomness in a key-derivation challenge
const ChallengeBytes = 64

// ChallengeService hands out the per-wallet key-derivation challenge.
// A challenge is created once per wallet and returned unchanged forever after,
// because the derived identity depends on it.
type ChallengeService struct {
	repo     ports.ChallengeRepository
	eventPub ports.EventPublisher
	clock    clock.Clock
	logger   *slog.Logger
	metrics  *metrics.Metrics
	random   io.Reader
}

// NewChallengeService creates a challenge service. eventPub may be nil.
func NewChallengeService(
	repo ports.ChallengeRepository,
	eventPub ports.EventPublisher,
	logger *slog.Logger,
	m *metrics.Metrics,
) *ChallengeService {
	if logger == nil {
		logger = slog.Default()
	}
	if m == nil {
		m = metrics.Nop()
	}
	return &ChallengeService{
		repo:     repo,
		eventPub: eventPub,
		clock:    clock.New(),
		logger:   logger,
		metrics:  m,
		random:   rand.Reader,
	}
}

// GetOrCreateChallenge returns the challenge for walletAddress, creating it on first use
func (s *ChallengeService) GetOrCreateChallenge(ctx context.Context, walletAddress string) (string, error) {
	if !eth.IsAddress(walletAddress) {
		return "", core.ErrInvalidAddress
	}
	address := core.NormalizeAddress(walletAddress)

	existing, err := s.repo.Get(ctx, address)
	switch {
	case err == nil:
		s.metrics.ChallengesIssued.WithLabelValues("existing").Inc()
		return existing.Value, nil
	case !errors.Is(err, core.ErrNotFound):
		s.logger.Error("failed to read challenge",
			slog.String("address", address),
			slog.Any("error", err),
		)
		return "", fmt.Errorf("%w: %v", core.ErrStorageUnavailable, err)
	}

	value, err := s.newValue()
	if err != nil {
		return "", fmt.Errorf("failed to generate challenge: %w", err)
	}

	stored, created, err := s.repo.CreateIfAbsent(ctx, &core.Challenge{
		WalletAddress: address,
		Value:         value,
		CreatedAt:     s.clock.Now().UTC(),
	})
	if err != nil {
		s.logger.Error("failed to store challenge",
			slog.String("address", address),
			slog.Any("error", err),
		)
		return "", fmt.Errorf("%w: %v", core.ErrStorageUnavailable, err)
	}

	if !created {
		// Another request created it between our read and write
		s.metrics.ChallengesIssued.WithLabelValues("existing").Inc()
		return stored.Value, nil
	}

	s.metrics.ChallengesIssued.WithLabelValues("created").Inc()
	s.logger.Info("challenge created", slog.String("address", address))

	if s.eventPub != nil {
		if err := s.eventPub.PublishChallengeCreated(ctx, address); err != nil {
			s.logger.Warn("failed to publish challenge event",
				slog.String("address", address),
				slog.Any("error", err),
			)
		}
	}

	return stored.Value, nil
}

func (s *ChallengeService) newValue() (string, error) {
	buf := make([]byte, ChallengeBytes)
	if _, err := io.ReadFull(s.random, buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
