package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/nanoedge/nanoedgert/internal/store"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	st, err := store.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	return New(st)
}

func TestIssueVerifyRoundTrip(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	exp := time.Now().Add(time.Hour).Unix()
	token, err := m.Issue(ctx, map[string]any{"sub": "alice", "exp": exp, "scope": "full"})
	require.NoError(t, err)
	require.NotEmpty(t, token)

	claims, err := m.Verify(ctx, token)
	require.NoError(t, err)
	require.Equal(t, "alice", claims["sub"])
	require.Equal(t, "full", claims["scope"])
}

func TestIssueRejectsMissingRequiredClaims(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	_, err := m.Issue(ctx, map[string]any{"exp": time.Now().Add(time.Hour).Unix()})
	require.Error(t, err)

	_, err = m.Issue(ctx, map[string]any{"sub": "alice"})
	require.Error(t, err)
}

func TestVerifyRejectsExpiredToken(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	token, err := m.Issue(ctx, map[string]any{"sub": "alice", "exp": time.Now().Add(-time.Hour).Unix()})
	require.NoError(t, err)

	_, err = m.Verify(ctx, token)
	require.Error(t, err)
}

func TestVerifyRejectsTamperedToken(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	token, err := m.Issue(ctx, map[string]any{"sub": "alice", "exp": time.Now().Add(time.Hour).Unix()})
	require.NoError(t, err)

	_, err = m.Verify(ctx, token+"tampered")
	require.Error(t, err)
}

func TestVerifyRejectsTokenSignedWithDifferentSecret(t *testing.T) {
	m1 := newTestManager(t)
	m2 := newTestManager(t)
	ctx := context.Background()

	token, err := m1.Issue(ctx, map[string]any{"sub": "alice", "exp": time.Now().Add(time.Hour).Unix()})
	require.NoError(t, err)

	_, err = m2.Verify(ctx, token)
	require.Error(t, err)
}

func TestSecretIsStableAcrossCalls(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	tokenA, err := m.Issue(ctx, map[string]any{"sub": "a", "exp": time.Now().Add(time.Hour).Unix()})
	require.NoError(t, err)
	tokenB, err := m.Issue(ctx, map[string]any{"sub": "b", "exp": time.Now().Add(time.Hour).Unix()})
	require.NoError(t, err)

	_, err = m.Verify(ctx, tokenA)
	require.NoError(t, err)
	_, err = m.Verify(ctx, tokenB)
	require.NoError(t, err)
}

func TestMintAccessTokenShape(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	minted, err := m.MintAccessToken(ctx)
	require.NoError(t, err)
	require.NotEmpty(t, minted.Token)
	require.Equal(t, "admin", minted.Payload["sub"])
	require.Equal(t, "access", minted.Payload["type"])
	require.Equal(t, "full", minted.Payload["scope"])
	require.Equal(t, int64(86400), minted.ExpiresIn)

	claims, err := m.Verify(ctx, minted.Token)
	require.NoError(t, err)
	require.Equal(t, "admin", claims["sub"])
}

func TestRequireBearerRejectsMissingHeader(t *testing.T) {
	m := newTestManager(t)
	r := httptest.NewRequest(http.MethodGet, "/admin-api/v2/services", nil)

	_, err := m.RequireBearer(r)
	require.Error(t, err)
}

func TestRequireBearerAcceptsValidHeader(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	minted, err := m.MintAccessToken(ctx)
	require.NoError(t, err)

	r := httptest.NewRequest(http.MethodGet, "/admin-api/v2/services", nil)
	r.Header.Set("Authorization", "Bearer "+minted.Token)

	claims, err := m.RequireBearer(r)
	require.NoError(t, err)
	require.Equal(t, "admin", claims["sub"])
}

func TestIsLocalhost(t *testing.T) {
	loopback := httptest.NewRequest(http.MethodPost, "/jwt/create", nil)
	loopback.RemoteAddr = "127.0.0.1:54321"
	require.True(t, IsLocalhost(loopback))

	loopbackV6 := httptest.NewRequest(http.MethodPost, "/jwt/create", nil)
	loopbackV6.RemoteAddr = "[::1]:54321"
	require.True(t, IsLocalhost(loopbackV6))

	remote := httptest.NewRequest(http.MethodPost, "/jwt/create", nil)
	remote.RemoteAddr = "203.0.113.7:54321"
	require.False(t, IsLocalhost(remote))
}
