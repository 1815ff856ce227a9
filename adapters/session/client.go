// Package session connects the identity orchestrator to the wallet-login
// session service running in the same process.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/layer-3/sigkey/core"
	"github.com/layer-3/sigkey/ports"
	"github.com/layer-3/sigkey/service"
)

// Client holds the tokens of one signed-in wallet and answers session queries
// against an AuthService
type Client struct {
	auth   *service.AuthService
	logger *slog.Logger

	mu           sync.Mutex
	accessToken  string
	refreshToken string
}

var (
	_ ports.SessionOracle      = (*Client)(nil)
	_ ports.SessionEstablisher = (*Client)(nil)
)

// NewClient creates a client without a session
func NewClient(auth *service.AuthService, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{auth: auth, logger: logger}
}

// GetSession returns the current session, refreshing the access token when
// it has expired. It returns nil when there is no usable session.
func (c *Client) GetSession(ctx context.Context) (*core.SessionInfo, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.accessToken == "" {
		return nil, nil
	}

	session, err := c.auth.ValidateAccessToken(ctx, c.accessToken)
	switch {
	case err == nil:
		return info(session), nil
	case errors.Is(err, core.ErrTokenInvalidated):
		c.reset()
		return nil, nil
	case !errors.Is(err, core.ErrTokenExpired) && !errors.Is(err, core.ErrInvalidToken):
		return nil, err
	}

	access, refresh, err := c.auth.Refresh(ctx, c.refreshToken)
	if err != nil {
		c.logger.Debug("session refresh failed", slog.Any("error", err))
		c.reset()
		return nil, nil
	}
	c.accessToken, c.refreshToken = access, refresh

	session, err = c.auth.ValidateAccessToken(ctx, access)
	if err != nil {
		return nil, err
	}
	return info(session), nil
}

// SignOut logs the session out and forgets its tokens
func (c *Client) SignOut(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.refreshToken == "" {
		return nil
	}
	defer c.reset()

	if err := c.auth.Logout(ctx, c.refreshToken); err != nil {
		return fmt.Errorf("failed to sign out: %w", err)
	}
	return nil
}

// EstablishSession signs a login challenge with wallet and keeps the resulting tokens
func (c *Client) EstablishSession(ctx context.Context, wallet ports.Wallet) (*core.SessionInfo, error) {
	challengeToken, message, err := c.auth.CreateChallenge(wallet.Address())
	if err != nil {
		return nil, fmt.Errorf("failed to create login challenge: %w", err)
	}

	signature, err := wallet.SignMessage(ctx, message)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", core.ErrSignatureRejected, err)
	}

	access, refresh, err := c.auth.Login(ctx, challengeToken, signature, wallet.Address())
	if err != nil {
		return nil, fmt.Errorf("failed to log in: %w", err)
	}

	session, err := c.auth.ValidateAccessToken(ctx, access)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.accessToken, c.refreshToken = access, refresh
	c.mu.Unlock()

	return info(session), nil
}

func (c *Client) reset() {
	c.accessToken = ""
	c.refreshToken = ""
}

func info(session *core.Session) *core.SessionInfo {
	return &core.SessionInfo{
		ID:        session.ID,
		Address:   session.Address,
		ExpiresAt: session.AccessExpiry,
	}
}
