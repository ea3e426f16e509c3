// Package token issues and verifies the signed claim sets used for access
// and refresh credentials. Signing keys live in an append-only [KeyRing] so
// key rotation never invalidates outstanding tokens.
package token

import (
	"crypto/ed25519"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/gopress-cms/auth/id"
)

// Type distinguishes access tokens from refresh tokens. A token presented
// for the wrong use is rejected outright.
type Type string

const (
	// TypeAccess marks short-lived request credentials.
	TypeAccess Type = "access"
	// TypeRefresh marks rotation credentials.
	TypeRefresh Type = "refresh"
)

var (
	// ErrExpired reports a structurally valid token past its expiry.
	ErrExpired = errors.New("token expired")
	// ErrMalformed reports a token that fails structural decoding.
	ErrMalformed = errors.New("token malformed")
	// ErrInvalidSignature reports a signature that does not verify against
	// any ring key.
	ErrInvalidSignature = errors.New("token signature invalid")
	// ErrWrongType reports a token presented for the wrong use.
	ErrWrongType = errors.New("token type mismatch")
)

// Claims is the signed payload carried inside every token. Immutable once
// issued.
type Claims struct {
	Roles     []string `json:"roles,omitempty"`
	TokenType Type     `json:"typ"`
	jwt.RegisteredClaims
}

// UserID returns the subject as a typed user ID.
func (c *Claims) UserID() (id.UserID, error) {
	return id.ParseUser(c.Subject)
}

// TokenID returns the jti as a typed refresh-token record ID. Only
// meaningful for refresh tokens.
func (c *Claims) TokenID() (id.TokenID, error) {
	return id.ParseToken(c.ID)
}

// Pair is the access/refresh token bundle handed to the HTTP layer.
type Pair struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int64  `json:"expires_in"`
	TokenType    string `json:"token_type"`
}

// Config tunes the token manager.
type Config struct {
	AccessTTL  time.Duration
	RefreshTTL time.Duration
	Issuer     string
	Audience   string
	Leeway     time.Duration

	// Now overrides the clock for deterministic tests.
	Now func() time.Time
}

// Manager signs and verifies token pairs against a [KeyRing].
type Manager struct {
	ring *KeyRing
	cfg  Config
	now  func() time.Time
}

// NewManager validates the configuration and returns a ready manager.
func NewManager(ring *KeyRing, cfg Config) (*Manager, error) {
	if ring == nil {
		return nil, errors.New("nil key ring")
	}
	if cfg.AccessTTL <= 0 || cfg.RefreshTTL <= 0 {
		return nil, errors.New("invalid TTL configuration")
	}
	if cfg.RefreshTTL <= cfg.AccessTTL {
		return nil, errors.New("refresh TTL must exceed access TTL")
	}
	if cfg.Leeway < 0 || cfg.Leeway > 2*time.Minute {
		return nil, errors.New("invalid leeway configuration")
	}

	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Manager{ring: ring, cfg: cfg, now: now}, nil
}

// AccessTTL returns the configured access-token lifetime.
func (m *Manager) AccessTTL() time.Duration { return m.cfg.AccessTTL }

// RefreshTTL returns the configured refresh-token lifetime.
func (m *Manager) RefreshTTL() time.Duration { return m.cfg.RefreshTTL }

// Issue mints an access/refresh pair for the subject. refreshID becomes the
// jti of the refresh token so the server-side record resolves directly from
// the presented credential.
func (m *Manager) Issue(userID id.UserID, roles []string, refreshID id.TokenID) (Pair, error) {
	access, err := m.IssueAccess(userID, roles)
	if err != nil {
		return Pair{}, err
	}

	refresh, err := m.sign(userID, roles, TypeRefresh, refreshID.String(), m.cfg.RefreshTTL)
	if err != nil {
		return Pair{}, err
	}

	return Pair{
		AccessToken:  access,
		RefreshToken: refresh,
		ExpiresIn:    int64(m.cfg.AccessTTL / time.Second),
		TokenType:    "Bearer",
	}, nil
}

// IssueAccess mints a standalone access token.
func (m *Manager) IssueAccess(userID id.UserID, roles []string) (string, error) {
	jti, err := uuid.NewV7()
	if err != nil {
		return "", err
	}
	return m.sign(userID, roles, TypeAccess, jti.String(), m.cfg.AccessTTL)
}

func (m *Manager) sign(userID id.UserID, roles []string, typ Type, jti string, ttl time.Duration) (string, error) {
	key := m.ring.Active()
	now := m.now()

	claims := Claims{
		Roles:     roles,
		TokenType: typ,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID.String(),
			ID:        jti,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			Issuer:    m.cfg.Issuer,
		},
	}
	if m.cfg.Audience != "" {
		claims.Audience = jwt.ClaimStrings{m.cfg.Audience}
	}

	tok := jwt.NewWithClaims(methodFor(key.Method), claims)
	tok.Header["kid"] = key.ID

	signKey, err := signKeyFor(key)
	if err != nil {
		return "", err
	}
	return tok.SignedString(signKey)
}

// Verify decodes a token, checks its signature against the ring key named in
// the header, validates expiry, and checks the token type. An unverified
// payload is never partially trusted: claims are returned only when every
// check passed, except that [ErrExpired] carries the claims alongside so the
// refresh flow can mark the stored record.
func (m *Manager) Verify(tokenStr string, expected Type) (*Claims, error) {
	options := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodEdDSA.Alg(), jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(m.now),
	}
	if m.cfg.Leeway > 0 {
		options = append(options, jwt.WithLeeway(m.cfg.Leeway))
	}
	if m.cfg.Issuer != "" {
		options = append(options, jwt.WithIssuer(m.cfg.Issuer))
	}
	if m.cfg.Audience != "" {
		options = append(options, jwt.WithAudience(m.cfg.Audience))
	}

	parser := jwt.NewParser(options...)
	tok, err := parser.ParseWithClaims(tokenStr, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		kid, _ := t.Header["kid"].(string)
		if kid == "" {
			return nil, errors.New("missing kid")
		}
		key, ok := m.ring.Lookup(kid)
		if !ok {
			return nil, errors.New("unknown kid")
		}
		if t.Method.Alg() != methodFor(key.Method).Alg() {
			return nil, fmt.Errorf("unexpected signing algorithm %s for kid %s", t.Method.Alg(), kid)
		}
		return verifyKeyFor(key)
	})
	if err != nil {
		switch {
		case errors.Is(err, jwt.ErrTokenExpired):
			// Signature checked out; surface the claims so callers can act
			// on the identity of the expired credential.
			if claims, ok := expiredClaims(tok); ok && claims.TokenType == expected {
				return claims, ErrExpired
			}
			return nil, ErrExpired
		case errors.Is(err, jwt.ErrTokenSignatureInvalid):
			return nil, ErrInvalidSignature
		default:
			return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
	}

	claims, ok := tok.Claims.(*Claims)
	if !ok || !tok.Valid {
		return nil, ErrMalformed
	}
	if claims.TokenType != expected {
		return nil, ErrWrongType
	}
	return claims, nil
}

func expiredClaims(tok *jwt.Token) (*Claims, bool) {
	if tok == nil {
		return nil, false
	}
	claims, ok := tok.Claims.(*Claims)
	return claims, ok && claims != nil
}

func methodFor(m SigningMethod) jwt.SigningMethod {
	if m == MethodHS256 {
		return jwt.SigningMethodHS256
	}
	return jwt.SigningMethodEdDSA
}

func signKeyFor(k Key) (interface{}, error) {
	if k.Method == MethodHS256 {
		return k.Private, nil
	}
	return parseEdPrivateKey(k.Private)
}

func verifyKeyFor(k Key) (interface{}, error) {
	if k.Method == MethodHS256 {
		return k.Private, nil
	}
	return parseEdPublicKey(k.Public)
}

func parseEdPrivateKey(key []byte) (ed25519.PrivateKey, error) {
	if len(key) == ed25519.PrivateKeySize {
		return ed25519.PrivateKey(key), nil
	}
	parsed, err := jwt.ParseEdPrivateKeyFromPEM(key)
	if err != nil {
		return nil, errors.New("invalid ed25519 private key")
	}
	edKey, ok := parsed.(ed25519.PrivateKey)
	if !ok {
		return nil, errors.New("invalid ed25519 private key type")
	}
	return edKey, nil
}

func parseEdPublicKey(key []byte) (ed25519.PublicKey, error) {
	if len(key) == ed25519.PublicKeySize {
		return ed25519.PublicKey(key), nil
	}
	parsed, err := jwt.ParseEdPublicKeyFromPEM(key)
	if err != nil {
		return nil, errors.New("invalid ed25519 public key")
	}
	edKey, ok := parsed.(ed25519.PublicKey)
	if !ok {
		return nil, errors.New("invalid ed25519 public key type")
	}
	return edKey, nil
}
