package identity_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/hanzong05/farm2go-sub002/identity"
	clienterrors "github.com/hanzong05/farm2go-sub002/internal/errors"
)

// fakeAuthBackend is a minimal GoTrue-style token/logout endpoint.
type fakeAuthBackend struct {
	mu sync.Mutex

	tokenStatus  int
	lastGrant    string
	logoutCalls  int
	logoutBearer string
	accessToken  string
	refreshToken string
}

func newFakeAuthBackend(t *testing.T) (*fakeAuthBackend, *httptest.Server) {
	t.Helper()

	backend := &fakeAuthBackend{
		tokenStatus:  http.StatusOK,
		refreshToken: "refresh-1",
	}
	backend.accessToken = signedTestToken(t, jwtlib.MapClaims{
		"sub":   "user-1",
		"email": "maria.santos@example.com",
		"exp":   time.Now().Add(time.Hour).Unix(),
	})

	mux := http.NewServeMux()
	mux.HandleFunc("/auth/v1/token", func(w http.ResponseWriter, r *http.Request) {
		_ = r.ParseForm()

		backend.mu.Lock()
		backend.lastGrant = r.Form.Get("grant_type")
		status := backend.tokenStatus
		access := backend.accessToken
		refresh := backend.refreshToken
		backend.mu.Unlock()

		if status != http.StatusOK {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(status)
			_, _ = w.Write([]byte(`{"error":"invalid_grant"}`))
			return
		}

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"access_token":  access,
			"refresh_token": refresh,
			"token_type":    "bearer",
			"expires_in":    3600,
		})
	})
	mux.HandleFunc("/auth/v1/logout", func(w http.ResponseWriter, r *http.Request) {
		backend.mu.Lock()
		backend.logoutCalls++
		backend.logoutBearer = r.Header.Get("Authorization")
		backend.mu.Unlock()
		w.WriteHeader(http.StatusNoContent)
	})

	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return backend, server
}


func (b *fakeAuthBackend) setStatus(status int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.tokenStatus = status
}

func (b *fakeAuthBackend) grant() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.lastGrant
}

func (b *fakeAuthBackend) logouts() (int, string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.logoutCalls, b.logoutBearer
}

func newTestProvider(t *testing.T, server *httptest.Server) *identity.HTTPProvider {
	t.Helper()

	provider, err := identity.NewHTTPProvider(server.URL, "anon-key", zerolog.Nop(),
		identity.WithHTTPClient(server.Client()))
	require.NoError(t, err)
	return provider
}

func TestNewHTTPProvider_RequiresBaseURLAndKey(t *testing.T) {
	_, err := identity.NewHTTPProvider("", "anon-key", zerolog.Nop())
	require.Error(t, err)

	_, err = identity.NewHTTPProvider("https://example.supabase.co", "", zerolog.Nop())
	require.Error(t, err)
}

func TestSignInWithPassword(t *testing.T) {
	backend, server := newFakeAuthBackend(t)
	provider := newTestProvider(t, server)

	var events []identity.AuthChange
	unsubscribe := provider.OnAuthStateChange(func(change identity.AuthChange) {
		events = append(events, change)
	})
	defer unsubscribe()

	session, err := provider.SignInWithPassword(context.Background(), "maria.santos@example.com", "hunter2")
	require.NoError(t, err)

	require.Equal(t, "password", backend.grant())
	require.Equal(t, "user-1", session.Identity.ID)
	require.Equal(t, "maria.santos@example.com", session.Identity.Email)
	require.Equal(t, "refresh-1", session.Tokens.RefreshToken)
	require.False(t, session.Tokens.ExpiresAt.IsZero())

	require.Len(t, events, 1)
	require.Equal(t, identity.EventSignedIn, events[0].Event)

	current, err := provider.GetSession(context.Background())
	require.NoError(t, err)
	require.Equal(t, session, current)
}

func TestSignInWithPassword_BadCredentials(t *testing.T) {
	backend, server := newFakeAuthBackend(t)
	provider := newTestProvider(t, server)

	backend.setStatus(http.StatusBadRequest)

	_, err := provider.SignInWithPassword(context.Background(), "maria.santos@example.com", "wrong")
	require.ErrorIs(t, err, clienterrors.ErrInvalidCredentials)

	current, getErr := provider.GetSession(context.Background())
	require.NoError(t, getErr)
	require.Nil(t, current)
}

func TestRefreshSession(t *testing.T) {
	backend, server := newFakeAuthBackend(t)
	provider := newTestProvider(t, server)

	_, err := provider.SignInWithPassword(context.Background(), "maria.santos@example.com", "hunter2")
	require.NoError(t, err)

	backend.mu.Lock()
	backend.refreshToken = "refresh-2"
	backend.mu.Unlock()

	var events []identity.AuthChange
	unsubscribe := provider.OnAuthStateChange(func(change identity.AuthChange) {
		events = append(events, change)
	})
	defer unsubscribe()

	session, err := provider.RefreshSession(context.Background())
	require.NoError(t, err)

	require.Equal(t, "refresh_token", backend.grant())
	require.Equal(t, "refresh-2", session.Tokens.RefreshToken)
	require.Len(t, events, 1)
	require.Equal(t, identity.EventTokenRefreshed, events[0].Event)
}

func TestRefreshSession_WithoutSession(t *testing.T) {
	_, server := newFakeAuthBackend(t)
	provider := newTestProvider(t, server)

	_, err := provider.RefreshSession(context.Background())
	require.ErrorIs(t, err, clienterrors.ErrNoSession)
}

func TestRefreshSession_BackendFailure(t *testing.T) {
	backend, server := newFakeAuthBackend(t)
	provider := newTestProvider(t, server)

	_, err := provider.SignInWithPassword(context.Background(), "maria.santos@example.com", "hunter2")
	require.NoError(t, err)

	backend.setStatus(http.StatusInternalServerError)

	_, err = provider.RefreshSession(context.Background())
	require.ErrorIs(t, err, clienterrors.ErrRefreshFailed)
}

func TestSignOut(t *testing.T) {
	backend, server := newFakeAuthBackend(t)
	provider := newTestProvider(t, server)

	_, err := provider.SignInWithPassword(context.Background(), "maria.santos@example.com", "hunter2")
	require.NoError(t, err)

	var events []identity.AuthChange
	unsubscribe := provider.OnAuthStateChange(func(change identity.AuthChange) {
		events = append(events, change)
	})
	defer unsubscribe()

	require.NoError(t, provider.SignOut(context.Background()))

	logoutCalls, bearer := backend.logouts()
	require.Equal(t, 1, logoutCalls)
	require.Contains(t, bearer, "Bearer ")
	require.Len(t, events, 1)
	require.Equal(t, identity.EventSignedOut, events[0].Event)
	require.Nil(t, events[0].Session)

	current, err := provider.GetSession(context.Background())
	require.NoError(t, err)
	require.Nil(t, current)
}

func TestSignOut_WithoutSessionSkipsRemoteCall(t *testing.T) {
	backend, server := newFakeAuthBackend(t)
	provider := newTestProvider(t, server)

	require.NoError(t, provider.SignOut(context.Background()))
	logoutCalls, _ := backend.logouts()
	require.Equal(t, 0, logoutCalls)
}

func TestAdoptSession(t *testing.T) {
	_, server := newFakeAuthBackend(t)
	provider := newTestProvider(t, server)

	var events []identity.AuthChange
	unsubscribe := provider.OnAuthStateChange(func(change identity.AuthChange) {
		events = append(events, change)
	})
	defer unsubscribe()

	adopted := &identity.Session{
		Identity: identity.Identity{ID: "user-1"},
		Tokens:   identity.Tokens{AccessToken: "from-callback"},
	}
	provider.AdoptSession(adopted)

	require.Len(t, events, 1)
	require.Equal(t, identity.EventSignedIn, events[0].Event)

	current, err := provider.GetSession(context.Background())
	require.NoError(t, err)
	require.Equal(t, adopted, current)
}
