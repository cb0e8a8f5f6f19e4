// Package auth is the Auth component (C7): HS256 bearer token issue/verify
// plus the three request gates spec §4.6 assigns to it — the admin surface,
// a per-service jwt_check flag, and the localhost-only token-mint endpoint.
package auth

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/nanoedge/nanoedgert/internal/apperr"
	"github.com/nanoedge/nanoedgert/internal/domain"
	"github.com/nanoedge/nanoedgert/internal/store"
)

// accessTokenTTL is the lifetime minted by MintAccessToken (spec §6.2):
// exp = now + 86400s.
const accessTokenTTL = 24 * time.Hour

// Manager issues and verifies HS256 bearer tokens, with the signing secret
// read from (and lazily seeded into) the Config table's jwt_secret row —
// unlike the port-range/timeout defaults, a secret has no safe hardcoded
// default, so it is generated on first use instead of at store bootstrap.
type Manager struct {
	store *store.Store

	mu sync.Mutex
}

func New(st *store.Store) *Manager {
	return &Manager{store: st}
}

func (m *Manager) secret(ctx context.Context) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	cfg, err := m.store.GetConfig(ctx, domain.ConfigKeyJWTSecret)
	if err == nil && cfg.Value != "" {
		return []byte(cfg.Value), nil
	}
	if err != nil && !errors.Is(err, apperr.NotFound) {
		return nil, err
	}

	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return nil, err
	}
	encoded := base64.RawURLEncoding.EncodeToString(raw)
	if err := m.store.SetConfig(ctx, domain.ConfigKeyJWTSecret, encoded); err != nil {
		return nil, err
	}
	return []byte(encoded), nil
}

// Issue signs payload as an HS256 compact JWS (spec §4.6). payload must
// already contain "sub" and "exp" (Unix seconds); every other key passes
// through as an additional claim untouched.
func (m *Manager) Issue(ctx context.Context, payload map[string]any) (string, error) {
	if _, ok := payload["sub"]; !ok {
		return "", apperr.Wrap(apperr.InvalidInput, "payload missing required claim \"sub\"")
	}
	if _, ok := payload["exp"]; !ok {
		return "", apperr.Wrap(apperr.InvalidInput, "payload missing required claim \"exp\"")
	}
	secret, err := m.secret(ctx)
	if err != nil {
		return "", err
	}
	claims := jwt.MapClaims{}
	for k, v := range payload {
		claims[k] = v
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
}

// Verify parses token, checks its HMAC-SHA-256 signature against the
// configured secret, and confirms exp has not passed. It reports
// apperr.Unauthorized on any failure.
func (m *Manager) Verify(ctx context.Context, tokenString string) (jwt.MapClaims, error) {
	secret, err := m.secret(ctx)
	if err != nil {
		return nil, err
	}
	token, err := jwt.Parse(tokenString, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, apperr.Wrapf(apperr.Unauthorized, "unexpected signing method %v", t.Header["alg"])
		}
		return secret, nil
	})
	if err != nil || !token.Valid {
		return nil, apperr.Wrap(apperr.Unauthorized, "invalid or expired token")
	}
	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return nil, apperr.Wrap(apperr.Unauthorized, "invalid claims")
	}
	return claims, nil
}

// MintedToken is the response body shape for POST /jwt/create (spec §6.2).
type MintedToken struct {
	Token     string         `json:"token"`
	Payload   map[string]any `json:"payload"`
	ExpiresIn int64          `json:"expires_in"`
	ExpiresAt time.Time      `json:"expires_at"`
}

// MintAccessToken issues a full-scope access token for the localhost
// operator, per spec §6.2's exact response shape.
func (m *Manager) MintAccessToken(ctx context.Context) (MintedToken, error) {
	now := time.Now().UTC()
	expiresAt := now.Add(accessTokenTTL)
	payload := map[string]any{
		"sub":   "admin",
		"iat":   now.Unix(),
		"exp":   expiresAt.Unix(),
		"type":  "access",
		"scope": "full",
	}
	token, err := m.Issue(ctx, payload)
	if err != nil {
		return MintedToken{}, err
	}
	return MintedToken{
		Token:     token,
		Payload:   payload,
		ExpiresIn: int64(accessTokenTTL.Seconds()),
		ExpiresAt: expiresAt,
	}, nil
}

// BearerToken extracts the token from an "Authorization: Bearer <token>"
// header, or "" if the header is absent or malformed.
func BearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if !strings.HasPrefix(header, prefix) {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(header, prefix))
}

// RequireBearer verifies the request's bearer token and reports
// apperr.Unauthorized if it is missing or fails Verify. Callers (the admin
// surface gate and the per-service jwt_check gate) share this one check.
func (m *Manager) RequireBearer(r *http.Request) (jwt.MapClaims, error) {
	token := BearerToken(r)
	if token == "" {
		return nil, apperr.Wrap(apperr.Unauthorized, "missing bearer token")
	}
	return m.Verify(r.Context(), token)
}

// IsLocalhost reports whether r was received from 127.0.0.1, ::1, or
// localhost — the gate on the token-minting endpoint (spec §4.6).
func IsLocalhost(r *http.Request) bool {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	switch host {
	case "127.0.0.1", "::1", "localhost":
		return true
	}
	return net.ParseIP(host).IsLoopback()
}
