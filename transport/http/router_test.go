package http

import (
	"bytes"
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/layer-3/sigkey/adapters/store"
	"github.com/layer-3/sigkey/adapters/tokenizer"
	"github.com/layer-3/sigkey/core"
	"github.com/layer-3/sigkey/internal/eth"
	"github.com/layer-3/sigkey/internal/metrics"
	"github.com/layer-3/sigkey/ports"
	"github.com/layer-3/sigkey/service"
)

type nopPublisher struct{}

func (nopPublisher) PublishLogout(context.Context, string, string) error    { return nil }
func (nopPublisher) PublishChallengeCreated(context.Context, string) error { return nil }

type downRepository struct{}

func (downRepository) Get(context.Context, string) (*core.Challenge, error) {
	return nil, errors.New("dial tcp: connection refused")
}

func (downRepository) CreateIfAbsent(context.Context, *core.Challenge) (*core.Challenge, bool, error) {
	return nil, false, errors.New("dial tcp: connection refused")
}

func newRouter(t *testing.T, repo ports.ChallengeRepository) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	signKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	reg := prometheus.NewRegistry()
	m := metrics.New(reg, "sigkey")

	auth := service.NewAuthService(tokenizer.NewJWTTokenizer(signKey, nil), store.NewMemoryStore(nil), nopPublisher{}, service.WithLogger(logger))
	challenges := service.NewChallengeService(repo, nopPublisher{}, logger, m)
	return SetupRouter(auth, challenges, reg, logger)
}

func do(t *testing.T, router *gin.Engine, method, path, body string, header map[string]string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	for k, v := range header {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	var out map[string]any
	if strings.HasPrefix(rec.Header().Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	}
	return rec, out
}

func TestCryptoChallenge(t *testing.T) {
	router := newRouter(t, store.NewMemoryChallengeRepository())
	body := `{"walletAddress":"0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266"}`

	rec, first := do(t, router, http.MethodPost, "/crypto/challenge", body, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Regexp(t, `^[0-9a-f]{128}$`, first["challenge"])

	rec, second := do(t, router, http.MethodPost, "/crypto/challenge", body, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, first["challenge"], second["challenge"])
}

func TestCryptoChallengeBadRequest(t *testing.T) {
	router := newRouter(t, store.NewMemoryChallengeRepository())

	for _, body := range []string{
		``,
		`{}`,
		`{"walletAddress":""}`,
		`{"walletAddress":"0x1234"}`,
	} {
		rec, _ := do(t, router, http.MethodPost, "/crypto/challenge", body, nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code, body)
	}
}

func TestCryptoChallengeStorageFailure(t *testing.T) {
	router := newRouter(t, downRepository{})

	rec, out := do(t, router, http.MethodPost, "/crypto/challenge", `{"walletAddress":"0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266"}`, nil)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "Failed to get challenge", out["error"])
}

func TestLoginFlow(t *testing.T) {
	router := newRouter(t, store.NewMemoryChallengeRepository())
	wallet, err := eth.GenerateKeyWallet()
	require.NoError(t, err)

	rec, challenge := do(t, router, http.MethodPost, "/auth/challenge", `{"address":"`+wallet.Address()+`"}`, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	sig, err := wallet.SignMessage(context.Background(), challenge["message"].(string))
	require.NoError(t, err)

	login, err := json.Marshal(map[string]string{
		"challenge_token": challenge["token"].(string),
		"signature":       sig,
		"address":         wallet.Address(),
	})
	require.NoError(t, err)
	rec, tokens := do(t, router, http.MethodPost, "/auth/login", string(login), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(300), tokens["expires_in"])

	bearer := map[string]string{"Authorization": "Bearer " + tokens["access_token"].(string)}
	rec, me := do(t, router, http.MethodGet, "/api/me", "", bearer)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, strings.ToLower(wallet.Address()), me["address"])

	logout := `{"refresh_token":"` + tokens["refresh_token"].(string) + `"}`
	rec, _ = do(t, router, http.MethodPost, "/auth/logout", logout, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec, _ = do(t, router, http.MethodGet, "/api/authorize", "", bearer)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestLoginWithForgedSignature(t *testing.T) {
	router := newRouter(t, store.NewMemoryChallengeRepository())
	wallet, err := eth.GenerateKeyWallet()
	require.NoError(t, err)
	attacker, err := eth.GenerateKeyWallet()
	require.NoError(t, err)

	_, challenge := do(t, router, http.MethodPost, "/auth/challenge", `{"address":"`+wallet.Address()+`"}`, nil)
	sig, err := attacker.SignMessage(context.Background(), challenge["message"].(string))
	require.NoError(t, err)

	login, err := json.Marshal(map[string]string{
		"challenge_token": challenge["token"].(string),
		"signature":       sig,
		"address":         wallet.Address(),
	})
	require.NoError(t, err)
	rec, _ := do(t, router, http.MethodPost, "/auth/login", string(login), nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestProtectedRoutesNeedToken(t *testing.T) {
	router := newRouter(t, store.NewMemoryChallengeRepository())

	rec, _ := do(t, router, http.MethodGet, "/api/me", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec, _ = do(t, router, http.MethodGet, "/api/me", "", map[string]string{"Authorization": "Bearer nope"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	router := newRouter(t, store.NewMemoryChallengeRepository())
	do(t, router, http.MethodPost, "/crypto/challenge", `{"walletAddress":"0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266"}`, nil)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, bytes.Contains(rec.Body.Bytes(), []byte(`sigkey_challenges_total{result="created"} 1`)))
}
