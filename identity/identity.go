// Package identity defines the identity-provider contract the session layer
// consumes: current-session lookup, password sign-in, token refresh, sign-out,
// and an auth-state event stream.
package identity

import (
	"context"
	"time"
)

// Identity is the authenticated principal as reported by the provider.
type Identity struct {
	ID        string            `json:"id"`
	Email     string            `json:"email"`
	Phone     string            `json:"phone,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// Tokens holds the access/refresh token pair for the current login.
type Tokens struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	TokenType    string    `json:"token_type"`
	ExpiresAt    time.Time `json:"expires_at"`
}

// Session couples an Identity with its Tokens.
type Session struct {
	Identity Identity `json:"identity"`
	Tokens   Tokens   `json:"tokens"`
}

// Expired reports whether the provider-reported token expiry has passed.
func (s *Session) Expired(now time.Time) bool {
	if s == nil {
		return true
	}
	return !s.Tokens.ExpiresAt.IsZero() && now.After(s.Tokens.ExpiresAt)
}

// AuthEvent identifies an auth-state transition emitted by the provider.
type AuthEvent string

const (
	EventSignedIn       AuthEvent = "SIGNED_IN"
	EventSignedOut      AuthEvent = "SIGNED_OUT"
	EventTokenRefreshed AuthEvent = "TOKEN_REFRESHED"
)

// AuthChange is one auth-state notification. Session is nil for EventSignedOut.
type AuthChange struct {
	Event   AuthEvent
	Session *Session
}

// Provider is the identity-provider surface consumed by the session layer.
type Provider interface {
	// GetSession returns the current session, or (nil, nil) when none exists.
	GetSession(ctx context.Context) (*Session, error)

	// SignInWithPassword performs an interactive credential login.
	SignInWithPassword(ctx context.Context, email, password string) (*Session, error)

	// RefreshSession exchanges the refresh token for new tokens.
	RefreshSession(ctx context.Context) (*Session, error)

	// SignOut invalidates the current session at the provider.
	SignOut(ctx context.Context) error

	// OnAuthStateChange registers a listener for auth transitions and returns
	// an unsubscribe function.
	OnAuthStateChange(listener func(AuthChange)) func()
}
