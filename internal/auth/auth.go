// Package auth provides API-key to JWT exchange for the HTTP surface.
//
// The deployment is single-tenant: one service API key, configured via
// the environment, is exchanged at POST /auth/token for a short-lived
// bearer token. Tokens are signed with an ephemeral Ed25519 key pair
// generated at startup, so a restart invalidates all outstanding
// tokens. With no API key configured the manager is disabled and the
// server runs open.
package auth

import (
	"crypto/ed25519"
	"crypto/rand"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const issuer = "enso"

// Claims extends jwt.RegisteredClaims; nothing beyond the registered
// set is needed for a single-tenant token.
type Claims struct {
	jwt.RegisteredClaims
}

// Manager exchanges the configured API key for signed bearer tokens
// and validates them on incoming requests.
type Manager struct {
	privateKey ed25519.PrivateKey
	publicKey  ed25519.PublicKey
	keyHash    string
	expiration time.Duration
}

// New creates a Manager for the given service API key. An empty key
// returns a disabled manager.
func New(apiKey string, expiration time.Duration) (*Manager, error) {
	if apiKey == "" {
		return &Manager{}, nil
	}

	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("auth: generate key pair: %w", err)
	}

	keyHash, err := HashKey(apiKey)
	if err != nil {
		return nil, err
	}

	return &Manager{
		privateKey: priv,
		publicKey:  pub,
		keyHash:    keyHash,
		expiration: expiration,
	}, nil
}

// Enabled reports whether authentication is configured.
func (m *Manager) Enabled() bool { return m.keyHash != "" }

// ExchangeKey verifies the presented API key and issues a signed JWT.
// Verification cost is paid on the failure path too, so response
// timing does not reveal near-miss keys.
func (m *Manager) ExchangeKey(apiKey string) (string, time.Time, error) {
	if !m.Enabled() {
		return "", time.Time{}, fmt.Errorf("auth: not configured")
	}

	ok, err := VerifyKey(apiKey, m.keyHash)
	if err != nil {
		return "", time.Time{}, err
	}
	if !ok {
		return "", time.Time{}, fmt.Errorf("auth: invalid API key")
	}

	now := time.Now().UTC()
	exp := now.Add(m.expiration)

	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "service",
			Issuer:    issuer,
			Audience:  jwt.ClaimStrings{issuer},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
			ID:        uuid.New().String(),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodEdDSA, claims)
	signed, err := token.SignedString(m.privateKey)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("auth: sign token: %w", err)
	}
	return signed, exp, nil
}

// ValidateToken parses and validates a JWT, returning the claims.
func (m *Manager) ValidateToken(tokenStr string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(
		tokenStr,
		&Claims{},
		func(token *jwt.Token) (any, error) {
			if _, ok := token.Method.(*jwt.SigningMethodEd25519); !ok {
				return nil, fmt.Errorf("auth: unexpected signing method: %v", token.Header["alg"])
			}
			return m.publicKey, nil
		},
		jwt.WithAudience(issuer),
	)
	if err != nil {
		return nil, fmt.Errorf("auth: validate token: %w", err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("auth: invalid token claims")
	}

	if claims.Issuer != issuer {
		return nil, fmt.Errorf("auth: invalid issuer: %s", claims.Issuer)
	}

	return claims, nil
}
