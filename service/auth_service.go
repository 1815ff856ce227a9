package service

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"

	"github.com/layer-3/sigkey/core"
	"github.com/layer-3/sigkey/internal/eth"
	"github.com/layer-3/sigkey/ports"
)

// AuthService handles wallet login sessions
type AuthService struct {
	tokenizer ports.Tokenizer
	store     ports.Store
	eventPub  ports.EventPublisher
	clock     clock.Clock
	logger    *slog.Logger

	challengeTTL time.Duration
	accessTTL    time.Duration
	refreshTTL   time.Duration
}

// AuthOption configures an AuthService
type AuthOption func(*AuthService)

// WithClock replaces the wall clock
func WithClock(clk clock.Clock) AuthOption {
	return func(s *AuthService) { s.clock = clk }
}

// WithLogger sets the logger
func WithLogger(logger *slog.Logger) AuthOption {
	return func(s *AuthService) { s.logger = logger }
}

// WithAccessTTL sets the lifetime of access tokens
func WithAccessTTL(ttl time.Duration) AuthOption {
	return func(s *AuthService) { s.accessTTL = ttl }
}

// WithRefreshTTL sets the lifetime of refresh tokens
func WithRefreshTTL(ttl time.Duration) AuthOption {
	return func(s *AuthService) { s.refreshTTL = ttl }
}

// NewAuthService creates a new authentication service
func NewAuthService(
	tokenizer ports.Tokenizer,
	store ports.Store,
	eventPub ports.EventPublisher,
	opts ...AuthOption,
) *AuthService {
	s := &AuthService{
		tokenizer:    tokenizer,
		store:        store,
		eventPub:     eventPub,
		challengeTTL: 5 * time.Minute,
		accessTTL:    5 * time.Minute,
		refreshTTL:   5 * 24 * time.Hour, // 5 days
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.clock == nil {
		s.clock = clock.New()
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	return s
}

// CreateChallenge generates a login challenge for address. It returns the
// challenge token and the message the wallet has to sign.
func (s *AuthService) CreateChallenge(address string) (string, string, error) {
	if !eth.IsAddress(address) {
		return "", "", core.ErrInvalidAddress
	}

	// Generate random nonce
	nonceBytes := make([]byte, 32)
	if _, err := rand.Read(nonceBytes); err != nil {
		return "", "", fmt.Errorf("failed to generate nonce: %w", err)
	}

	now := s.clock.Now()
	challenge := &core.LoginChallenge{
		ID:        uuid.New().String(),
		Address:   address,
		Nonce:     hex.EncodeToString(nonceBytes),
		IssuedAt:  now,
		ExpiresAt: now.Add(s.challengeTTL),
	}

	token, err := s.tokenizer.ChallengeToToken(challenge)
	if err != nil {
		return "", "", fmt.Errorf("failed to create token: %w", err)
	}

	return token, challenge.Message(), nil
}

// Login authenticates a user using their signed challenge
func (s *AuthService) Login(ctx context.Context, challengeToken, signature, address string) (string, string, error) {
	challenge, err := s.tokenizer.TokenToChallenge(challengeToken)
	if err != nil {
		return "", "", fmt.Errorf("invalid challenge token: %w", err)
	}

	if err := s.tokenizer.VerifySignature(challenge, signature, address); err != nil {
		return "", "", fmt.Errorf("signature verification failed: %w", err)
	}

	accessToken, refreshToken, err := s.issue(core.NormalizeAddress(address))
	if err != nil {
		return "", "", err
	}

	s.logger.Info("session created", slog.String("address", core.NormalizeAddress(address)))
	return accessToken, refreshToken, nil
}

// Refresh rotates the refresh token and issues new access and refresh tokens
func (s *AuthService) Refresh(ctx context.Context, refreshTokenStr string) (string, string, error) {
	session, err := s.tokenizer.RefreshTokenToSession(refreshTokenStr)
	if err != nil {
		return "", "", fmt.Errorf("invalid refresh token: %w", err)
	}

	now := s.clock.Now()
	if now.After(session.RefreshExpiry) {
		return "", "", core.ErrTokenExpired
	}

	invalidated, err := s.store.IsTokenInvalidated(ctx, session.RefreshID)
	if err != nil {
		return "", "", fmt.Errorf("failed to check token invalidation: %w", err)
	}
	if invalidated {
		return "", "", core.ErrTokenInvalidated
	}

	// The invalidation record only has to outlive the token itself
	if err := s.store.InvalidateToken(ctx, session.RefreshID, session.RefreshExpiry.Sub(now)); err != nil {
		return "", "", fmt.Errorf("failed to invalidate old token: %w", err)
	}

	return s.issue(session.Address)
}

// Logout invalidates a refresh token
func (s *AuthService) Logout(ctx context.Context, refreshTokenStr string) error {
	session, err := s.tokenizer.RefreshTokenToSession(refreshTokenStr)
	if err != nil {
		return fmt.Errorf("invalid refresh token: %w", err)
	}

	// Expired tokens are invalidated too, for an hour, to absorb clock skew
	remainingTime := time.Hour
	if now := s.clock.Now(); now.Before(session.RefreshExpiry) {
		remainingTime = session.RefreshExpiry.Sub(now)
	}

	if err := s.store.InvalidateToken(ctx, session.RefreshID, remainingTime); err != nil {
		return fmt.Errorf("failed to invalidate token: %w", err)
	}

	// The token is already invalidated, a lost event only delays other instances
	if err := s.eventPub.PublishLogout(ctx, session.Address, session.RefreshID); err != nil {
		s.logger.Warn("failed to publish logout event",
			slog.String("address", session.Address),
			slog.Any("error", err),
		)
	}

	return nil
}

// ValidateAccessToken returns the session behind a valid access token
func (s *AuthService) ValidateAccessToken(ctx context.Context, accessToken string) (*core.Session, error) {
	session, err := s.tokenizer.AccessTokenToSession(accessToken)
	if err != nil {
		return nil, fmt.Errorf("invalid access token: %w", err)
	}

	if s.clock.Now().After(session.AccessExpiry) {
		return nil, core.ErrTokenExpired
	}

	// Access tokens die with the refresh token they were issued alongside
	if session.RefreshID != "" {
		invalidated, err := s.store.IsTokenInvalidated(ctx, session.RefreshID)
		if err != nil {
			return nil, fmt.Errorf("failed to check token invalidation: %w", err)
		}
		if invalidated {
			return nil, core.ErrTokenInvalidated
		}
	}

	return session, nil
}

func (s *AuthService) issue(address string) (string, string, error) {
	now := s.clock.Now()
	session := &core.Session{
		ID:            uuid.New().String(),
		Address:       address,
		IssuedAt:      now,
		RefreshExpiry: now.Add(s.refreshTTL),
		AccessExpiry:  now.Add(s.accessTTL),
		RefreshID:     uuid.New().String(),
	}

	accessToken, err := s.tokenizer.SessionToAccessToken(session)
	if err != nil {
		return "", "", fmt.Errorf("failed to create access token: %w", err)
	}

	refreshToken, err := s.tokenizer.SessionToRefreshToken(session)
	if err != nil {
		return "", "", fmt.Errorf("failed to create refresh token: %w", err)
	}

	return accessToken, refreshToken, nil
}

// AccessTTL returns the lifetime of issued access tokens
func (s *AuthService) AccessTTL() time.Duration {
	return s.accessTTL
}
