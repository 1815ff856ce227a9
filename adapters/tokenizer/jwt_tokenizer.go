package tokenizer

import (
	"crypto/ecdsa"
	"fmt"
	"strings"

	"github.com/benbjohnson/clock"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/golang-jwt/jwt/v5"

	"github.com/layer-3/sigkey/core"
	"github.com/layer-3/sigkey/internal/eth"
	"github.com/layer-3/sigkey/ports"
)

const (
	AudienceChallenge = "sigkey:challenge"
	AudienceAccess    = "sigkey:access"
	AudienceRefresh   = "sigkey:refresh"
)

// ChallengeClaims carry the login nonce; the signed message is rebuilt from them
type ChallengeClaims struct {
	jwt.RegisteredClaims
	Nonce string `json:"nonce"`
}

// AccessClaims link an access token to the refresh token it was issued with
type AccessClaims struct {
	jwt.RegisteredClaims
	RefreshID string `json:"rid"`
}

// RefreshClaims use the JWT ID as the refresh token ID
type RefreshClaims struct {
	jwt.RegisteredClaims
}

// JWTTokenizer implements the Tokenizer interface using ES256 JWTs
type JWTTokenizer struct {
	signKey *ecdsa.PrivateKey
	clock   clock.Clock
}

// NewJWTTokenizer creates a new JWT tokenizer. A nil clock means the wall clock.
func NewJWTTokenizer(signKey *ecdsa.PrivateKey, clk clock.Clock) ports.Tokenizer {
	if clk == nil {
		clk = clock.New()
	}
	return &JWTTokenizer{signKey: signKey, clock: clk}
}

// ChallengeToToken converts a LoginChallenge to a JWT token
func (j *JWTTokenizer) ChallengeToToken(challenge *core.LoginChallenge) (string, error) {
	claims := ChallengeClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   challenge.Address,
			ID:        challenge.ID,
			ExpiresAt: jwt.NewNumericDate(challenge.ExpiresAt),
			IssuedAt:  jwt.NewNumericDate(challenge.IssuedAt),
			Audience:  jwt.ClaimStrings{AudienceChallenge},
		},
		Nonce: challenge.Nonce,
	}
	return j.sign(claims)
}

// TokenToChallenge converts a JWT token to a LoginChallenge
func (j *JWTTokenizer) TokenToChallenge(tokenStr string) (*core.LoginChallenge, error) {
	claims := &ChallengeClaims{}
	if err := j.parse(tokenStr, claims, AudienceChallenge); err != nil {
		return nil, err
	}

	return &core.LoginChallenge{
		ID:        claims.ID,
		Address:   claims.Subject,
		Nonce:     claims.Nonce,
		IssuedAt:  claims.IssuedAt.Time,
		ExpiresAt: claims.ExpiresAt.Time,
	}, nil
}

// SessionToAccessToken converts a Session to an access JWT token
func (j *JWTTokenizer) SessionToAccessToken(session *core.Session) (string, error) {
	claims := AccessClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   session.Address,
			ID:        session.ID,
			ExpiresAt: jwt.NewNumericDate(session.AccessExpiry),
			IssuedAt:  jwt.NewNumericDate(session.IssuedAt),
			Audience:  jwt.ClaimStrings{AudienceAccess},
		},
		RefreshID: session.RefreshID,
	}
	return j.sign(claims)
}

// SessionToRefreshToken converts a Session to a refresh JWT token
func (j *JWTTokenizer) SessionToRefreshToken(session *core.Session) (string, error) {
	claims := RefreshClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   session.Address,
			ID:        session.RefreshID, // the refresh token is identified by the session's RefreshID
			ExpiresAt: jwt.NewNumericDate(session.RefreshExpiry),
			IssuedAt:  jwt.NewNumericDate(session.IssuedAt),
			Audience:  jwt.ClaimStrings{AudienceRefresh},
		},
	}
	return j.sign(claims)
}

// AccessTokenToSession parses an access token and returns the associated session
func (j *JWTTokenizer) AccessTokenToSession(tokenStr string) (*core.Session, error) {
	claims := &AccessClaims{}
	if err := j.parse(tokenStr, claims, AudienceAccess); err != nil {
		return nil, err
	}

	return &core.Session{
		ID:           claims.ID,
		Address:      claims.Subject,
		IssuedAt:     claims.IssuedAt.Time,
		AccessExpiry: claims.ExpiresAt.Time,
		RefreshID:    claims.RefreshID,
	}, nil
}

// RefreshTokenToSession parses a refresh token and returns the associated session.
// Only the refresh half of the session is populated.
func (j *JWTTokenizer) RefreshTokenToSession(tokenStr string) (*core.Session, error) {
	claims := &RefreshClaims{}
	if err := j.parse(tokenStr, claims, AudienceRefresh); err != nil {
		return nil, err
	}

	return &core.Session{
		Address:       claims.Subject,
		IssuedAt:      claims.IssuedAt.Time,
		RefreshExpiry: claims.ExpiresAt.Time,
		RefreshID:     claims.ID,
	}, nil
}

// VerifySignature checks that signatureStr is a personal_sign signature of the
// challenge message made by addressStr
func (j *JWTTokenizer) VerifySignature(challenge *core.LoginChallenge, signatureStr string, addressStr string) error {
	if !strings.EqualFold(challenge.Address, addressStr) {
		return fmt.Errorf("address mismatch: %w", core.ErrInvalidChallenge)
	}
	if !eth.IsAddress(addressStr) {
		return core.ErrInvalidAddress
	}

	decodedSig, err := hexutil.Decode(signatureStr)
	if err != nil {
		return fmt.Errorf("failed to decode signature: %w", core.ErrInvalidSignature)
	}
	if len(decodedSig) != eth.SignatureLength {
		return fmt.Errorf("signature must be %d bytes: %w", eth.SignatureLength, core.ErrInvalidSignature)
	}

	verified, err := eth.VerifySignatureAgainstAddress(challenge.Message(), decodedSig, common.HexToAddress(addressStr))
	if err != nil {
		return fmt.Errorf("%w: %v", core.ErrInvalidSignature, err)
	}
	if !verified {
		return core.ErrInvalidSignature
	}

	return nil
}

func (j *JWTTokenizer) sign(claims jwt.Claims) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodES256, claims)

	signedToken, err := token.SignedString(j.signKey)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signedToken, nil
}

func (j *JWTTokenizer) parse(tokenStr string, claims jwt.Claims, audience string) error {
	token, err := jwt.ParseWithClaims(tokenStr, claims, func(token *jwt.Token) (interface{}, error) {
		// Validate the signing method
		if _, ok := token.Method.(*jwt.SigningMethodECDSA); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return &j.signKey.PublicKey, nil
	}, jwt.WithAudience(audience), jwt.WithTimeFunc(j.clock.Now))
	if err != nil {
		return fmt.Errorf("%w: %v", core.ErrInvalidToken, err)
	}

	if !token.Valid {
		return core.ErrInvalidToken
	}
	return nil
}
