// Package session owns the canonical session lifecycle: establishment,
// persistence, proactive refresh, activity-based expiry, staged OAuth
// handshakes, and the broadcast state every other component consumes.
package session

import (
	"time"

	"github.com/hanzong05/farm2go-sub002/identity"
	"github.com/hanzong05/farm2go-sub002/profiles"
)

// Persisted blob keys. Each item is serialized under its own key so it can be
// invalidated independently on clear.
const (
	keyTokens       = "farm2go.session.tokens"
	keyIdentity     = "farm2go.session.identity"
	keyProfile      = "farm2go.session.profile"
	keyLastActivity = "farm2go.session.last_activity"
	keySessionStart = "farm2go.session.start"
	keyStagedAuth   = "farm2go.auth.staging"
)

// State is the broadcast session snapshot, read-only to consumers.
// Invariant: IsAuthenticated is true iff both User and Profile are non-nil.
type State struct {
	IsAuthenticated bool
	User            *identity.Identity
	Profile         *profiles.Profile
	RawSession      *identity.Tokens
	IsLoading       bool
	Error           string
}

// record is the internal session record, owned exclusively by the Store.
type record struct {
	User             identity.Identity
	Profile          *profiles.Profile
	Tokens           identity.Tokens
	LastActivity     time.Time
	SessionStartTime time.Time
}

// state derives the broadcast snapshot from the record.
func (r *record) state() State {
	if r == nil {
		return State{}
	}
	user := r.User
	tokens := r.Tokens
	return State{
		IsAuthenticated: r.Profile != nil,
		User:            &user,
		Profile:         r.Profile,
		RawSession:      &tokens,
	}
}

// RefreshResult is the structured outcome of a token refresh. Refresh never
// returns a Go error to the caller; failures are reported here.
type RefreshResult struct {
	Success bool
	Error   string
}
