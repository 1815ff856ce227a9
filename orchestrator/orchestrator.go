// Package orchestrator decides, for a connected wallet, whether the identity
// can come from the local cache or needs a fresh challenge signature.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/layer-3/sigkey/core"
	"github.com/layer-3/sigkey/internal/metrics"
	"github.com/layer-3/sigkey/keycache"
	"github.com/layer-3/sigkey/keyderiv"
	"github.com/layer-3/sigkey/ports"
)

// State is the authentication state of the orchestrator
type State int

const (
	Disconnected State = iota
	WalletConnected
	AwaitingSignature
	Authenticated
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case WalletConnected:
		return "wallet_connected"
	case AwaitingSignature:
		return "awaiting_signature"
	case Authenticated:
		return "authenticated"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// PasswordFunc returns the password the cached keys of address are sealed with
type PasswordFunc func(address string, session *core.SessionInfo) string

// AddressPassword seals the cache with the lowercase wallet address
func AddressPassword(address string, _ *core.SessionInfo) string {
	return core.NormalizeAddress(address)
}

// Orchestrator drives a single wallet through challenge, signature, key
// derivation and caching
type Orchestrator struct {
	challenges  ports.ChallengeSource
	cache       *keycache.Cache
	oracle      ports.SessionOracle
	establisher ports.SessionEstablisher

	password PasswordFunc
	expiry   time.Duration
	logger   *slog.Logger
	metrics  *metrics.Metrics

	inflight singleflight.Group

	mu       sync.Mutex
	state    State
	wallet   ports.Wallet
	identity *core.Identity
}

// Option configures an Orchestrator
type Option func(*Orchestrator)

// WithPasswordFunc overrides the cache password
func WithPasswordFunc(fn PasswordFunc) Option {
	return func(o *Orchestrator) { o.password = fn }
}

// WithCacheExpiry sets how long derived keys stay cached
func WithCacheExpiry(expiry time.Duration) Option {
	return func(o *Orchestrator) { o.expiry = expiry }
}

// WithLogger sets the logger
func WithLogger(logger *slog.Logger) Option {
	return func(o *Orchestrator) { o.logger = logger }
}

// WithMetrics sets the collectors signature prompts are counted on
func WithMetrics(m *metrics.Metrics) Option {
	return func(o *Orchestrator) { o.metrics = m }
}

// New creates a disconnected orchestrator
func New(
	challenges ports.ChallengeSource,
	cache *keycache.Cache,
	oracle ports.SessionOracle,
	establisher ports.SessionEstablisher,
	opts ...Option,
) *Orchestrator {
	o := &Orchestrator{
		challenges:  challenges,
		cache:       cache,
		oracle:      oracle,
		establisher: establisher,
		password:    AddressPassword,
		expiry:      keycache.DefaultExpiry,
		state:       Disconnected,
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}
	if o.metrics == nil {
		o.metrics = metrics.Nop()
	}
	return o
}

// State returns the current state
func (o *Orchestrator) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

// Identity returns the identity of the authenticated wallet, or nil
func (o *Orchestrator) Identity() *core.Identity {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.identity
}

// Connect makes wallet the current wallet. Connecting a different wallet
// drops the identity of the previous one.
func (o *Orchestrator) Connect(wallet ports.Wallet) State {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.wallet != nil && o.state == Authenticated && sameWallet(o.wallet, wallet) {
		return o.state
	}
	o.wallet = wallet
	o.identity = nil
	o.state = WalletConnected
	return o.state
}

// Disconnect forgets the wallet and clears the local key cache. Server-side
// sessions are left alone.
func (o *Orchestrator) Disconnect(ctx context.Context) State {
	o.mu.Lock()
	defer o.mu.Unlock()

	o.clearCache(ctx)
	o.wallet = nil
	o.identity = nil
	o.state = Disconnected
	return o.state
}

// SignOut ends the session, clears the local key cache and disconnects
func (o *Orchestrator) SignOut(ctx context.Context) (State, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	err := o.oracle.SignOut(ctx)
	o.clearCache(ctx)
	o.wallet = nil
	o.identity = nil
	o.state = Disconnected
	if err != nil {
		return o.state, fmt.Errorf("failed to sign out: %w", err)
	}
	return o.state, nil
}

// Authenticate produces the identity of the connected wallet. Concurrent
// calls for one wallet share a single attempt, so the wallet is prompted at
// most once.
func (o *Orchestrator) Authenticate(ctx context.Context) (*core.Identity, error) {
	o.mu.Lock()
	wallet := o.wallet
	o.mu.Unlock()

	if wallet == nil {
		return nil, core.ErrWalletNotConnected
	}

	v, err, _ := o.inflight.Do(core.NormalizeAddress(wallet.Address()), func() (any, error) {
		return o.authenticate(ctx, wallet)
	})
	if err != nil {
		return nil, err
	}
	return v.(*core.Identity), nil
}

func (o *Orchestrator) authenticate(ctx context.Context, wallet ports.Wallet) (*core.Identity, error) {
	address := core.NormalizeAddress(wallet.Address())
	session := o.session(ctx)

	var (
		keys *core.Identity
		err  error
	)
	if session != nil {
		keys, err = o.withSession(ctx, wallet, session)
	} else {
		keys, err = o.withoutSession(ctx, wallet)
	}

	if err != nil {
		o.logger.Info("authentication failed",
			slog.String("address", address),
			slog.Any("error", err),
		)
		o.mu.Lock()
		o.clearCache(ctx)
		if o.state != Disconnected && sameWallet(o.wallet, wallet) {
			o.state = WalletConnected
		}
		o.mu.Unlock()
		return nil, err
	}

	return o.finish(ctx, wallet, keys)
}

// withSession serves the identity from the cache when it can and otherwise
// re-derives it without touching the existing session.
func (o *Orchestrator) withSession(ctx context.Context, wallet ports.Wallet, session *core.SessionInfo) (*core.Identity, error) {
	address := core.NormalizeAddress(wallet.Address())
	password := o.password(address, session)

	if o.cache.HasValidKeys(ctx, address) {
		if keys, ok := o.cache.RetrieveKeys(ctx, address, password); ok {
			o.logger.Debug("identity restored from cache", slog.String("address", address))
			return keys, nil
		}
	}

	keys, err := o.derive(ctx, wallet)
	if err != nil {
		return nil, err
	}
	o.storeKeys(ctx, keys, address, password)
	return keys, nil
}

// withoutSession runs the full flow: derive, establish a session, then cache.
func (o *Orchestrator) withoutSession(ctx context.Context, wallet ports.Wallet) (*core.Identity, error) {
	address := core.NormalizeAddress(wallet.Address())

	if err := o.cache.ClearStoredKeys(ctx); err != nil {
		o.logger.Warn("failed to clear stored keys", slog.Any("error", err))
	}

	keys, err := o.derive(ctx, wallet)
	if err != nil {
		return nil, err
	}

	session, err := o.establisher.EstablishSession(ctx, wallet)
	if err != nil {
		if errors.Is(err, core.ErrSignatureRejected) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to establish session: %w", err)
	}

	o.storeKeys(ctx, keys, address, o.password(address, session))
	return keys, nil
}

func (o *Orchestrator) derive(ctx context.Context, wallet ports.Wallet) (*core.Identity, error) {
	address := core.NormalizeAddress(wallet.Address())

	challenge, err := o.challenges.GetOrCreateChallenge(ctx, address)
	if err != nil {
		if errors.Is(err, core.ErrStorageUnavailable) || errors.Is(err, core.ErrInvalidAddress) {
			return nil, fmt.Errorf("failed to get challenge: %w", err)
		}
		return nil, fmt.Errorf("failed to get challenge: %w: %v", core.ErrStorageUnavailable, err)
	}

	o.setState(wallet, AwaitingSignature)
	o.metrics.SignaturePrompts.Inc()

	signature, err := wallet.SignMessage(ctx, challenge)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", core.ErrSignatureRejected, err)
	}

	return keyderiv.DeriveIdentity(signature)
}

// storeKeys caches keys. The identity is valid whether or not this succeeds.
func (o *Orchestrator) storeKeys(ctx context.Context, keys *core.Identity, address, password string) {
	if err := o.cache.StoreKeys(ctx, keys, address, password, o.expiry); err != nil {
		o.logger.Warn("failed to cache keys",
			slog.String("address", address),
			slog.Any("error", err),
		)
	}
}

// session asks the oracle for the current session. Errors count as no session.
func (o *Orchestrator) session(ctx context.Context) *core.SessionInfo {
	session, err := o.oracle.GetSession(ctx)
	if err != nil {
		o.logger.Warn("session lookup failed", slog.Any("error", err))
		return nil
	}
	return session
}

func (o *Orchestrator) finish(ctx context.Context, wallet ports.Wallet, keys *core.Identity) (*core.Identity, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	// The wallet was disconnected or replaced while we waited on it
	if o.state == Disconnected || !sameWallet(o.wallet, wallet) {
		o.clearCache(ctx)
		return nil, core.ErrWalletNotConnected
	}
	o.identity = keys
	o.state = Authenticated
	return keys, nil
}

func (o *Orchestrator) setState(wallet ports.Wallet, state State) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.state != Disconnected && sameWallet(o.wallet, wallet) {
		o.state = state
	}
}

// clearCache must be called with mu held
func (o *Orchestrator) clearCache(ctx context.Context) {
	if err := o.cache.ClearStoredKeys(ctx); err != nil {
		o.logger.Warn("failed to clear stored keys", slog.Any("error", err))
	}
}

func sameWallet(a, b ports.Wallet) bool {
	if a == nil || b == nil {
		return false
	}
	return core.NormalizeAddress(a.Address()) == core.NormalizeAddress(b.Address())
}
