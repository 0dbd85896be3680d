package auth

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"iris-platform/internal/config"
	"iris-platform/internal/identity"
	"iris-platform/pkg/logger"
	"iris-platform/pkg/metrics"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// ErrInvalidToken is the only verification failure callers ever see. Bad
// signature, malformed input, wrong type and expiry are indistinguishable.
var ErrInvalidToken = errors.New("invalid token")

type Manager struct {
	secret     []byte
	accessTTL  time.Duration
	refreshTTL time.Duration
	parser     *jwt.Parser
	log        *slog.Logger
}

func NewManager(cfg config.AuthConfig, log *slog.Logger) (*Manager, error) {
	if cfg.JWTSecret == "" {
		return nil, errors.New("JWT_SECRET is required")
	}
	if cfg.AccessTokenTTL <= 0 || cfg.RefreshTokenTTL <= 0 {
		return nil, errors.New("token TTLs must be positive")
	}

	return &Manager{
		secret:     []byte(cfg.JWTSecret),
		accessTTL:  cfg.AccessTokenTTL,
		refreshTTL: cfg.RefreshTokenTTL,
		// Expiry is checked by hand so that exp == now is still valid.
		parser: jwt.NewParser(
			jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
			jwt.WithStrictDecoding(),
			jwt.WithoutClaimsValidation(),
		),
		log: logger.OrDefault(log).With("component", "token_service"),
	}, nil
}

type TokenPair struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
	// ExpiresIn is the access token TTL in seconds.
	ExpiresIn int64 `json:"expiresIn"`
}

func (m *Manager) AccessTTL() time.Duration  { return m.accessTTL }
func (m *Manager) RefreshTTL() time.Duration { return m.refreshTTL }

/* ===================== ISSUE TOKENS ===================== */

// Issue signs claims with a fresh jti, iat = now and exp = now + ttl. Any
// jti/iat/exp already present on claims is overwritten.
func (m *Manager) Issue(now time.Time, claims Claims, ttl time.Duration) (string, error) {
	claims.ID = uuid.NewString()
	claims.IssuedAt = jwt.NewNumericDate(now)
	claims.ExpiresAt = jwt.NewNumericDate(now.Add(ttl))

	t := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	s, err := t.SignedString(m.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	metrics.TokenIssued(string(claims.Type))
	return s, nil
}

// IssuePair issues an access and a refresh token from the same base claims.
func (m *Manager) IssuePair(now time.Time, ident identity.Identity) (TokenPair, error) {
	base := BaseClaims(ident)

	access := base
	access.Type = TokenTypeAccess
	at, err := m.Issue(now, access, m.accessTTL)
	if err != nil {
		return TokenPair{}, err
	}

	refresh := base
	refresh.Type = TokenTypeRefresh
	rt, err := m.Issue(now, refresh, m.refreshTTL)
	if err != nil {
		return TokenPair{}, err
	}

	return TokenPair{
		AccessToken:  at,
		RefreshToken: rt,
		ExpiresIn:    int64(m.accessTTL / time.Second),
	}, nil
}

// BaseClaims derives the identity part of a claim set.
func BaseClaims(ident identity.Identity) Claims {
	return Claims{
		RegisteredClaims: jwt.RegisteredClaims{Subject: ident.ID},
		Email:            ident.Email,
		Name:             ident.Name(),
		Role:             ident.Role(),
		PermissionLevel:  string(ident.PermissionLevel),
	}
}

/* ===================== VERIFY TOKEN ===================== */

// Verify checks structure, signature, claim shape and expiry. It returns
// ErrInvalidToken for every failure.
func (m *Manager) Verify(token string, now time.Time) (Claims, error) {
	claims, err := m.verify(token, now)
	if err != nil {
		m.log.Debug("token rejected", "reason", err.Error())
		metrics.TokenVerified("invalid")
		return Claims{}, ErrInvalidToken
	}
	metrics.TokenVerified("valid")
	return claims, nil
}

// VerifyType is Verify plus a check of the type discriminator.
func (m *Manager) VerifyType(token string, expected TokenType, now time.Time) (Claims, error) {
	claims, err := m.Verify(token, now)
	if err != nil {
		return Claims{}, err
	}
	if claims.Type != expected {
		m.log.Debug("token rejected", "reason", "type mismatch", "type", string(claims.Type))
		return Claims{}, ErrInvalidToken
	}
	return claims, nil
}

func (m *Manager) verify(token string, now time.Time) (Claims, error) {
	parts := strings.Split(token, ".")
	if len(parts) != 3 {
		return Claims{}, fmt.Errorf("expected 3 segments, got %d", len(parts))
	}
	for _, p := range parts {
		if p == "" {
			return Claims{}, errors.New("empty segment")
		}
	}

	var claims Claims
	// The HMAC compare inside jwt uses hmac.Equal (constant time).
	_, err := m.parser.ParseWithClaims(token, &claims, func(*jwt.Token) (any, error) {
		return m.secret, nil
	})
	if err != nil {
		return Claims{}, err
	}

	if claims.Subject == "" {
		return Claims{}, errors.New("sub missing")
	}
	if !claims.Type.Valid() {
		return Claims{}, fmt.Errorf("unknown type %q", claims.Type)
	}
	if claims.ExpiresAt == nil || claims.IssuedAt == nil {
		return Claims{}, errors.New("iat/exp missing")
	}
	if claims.ExpiresAt.Unix() < now.Unix() {
		return Claims{}, errors.New("expired")
	}
	return claims, nil
}

// Hash returns the hex SHA-256 digest of token. It is used to reference a
// token (for revocation) without storing it.
func Hash(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}
