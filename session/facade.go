package session

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/hanzong05/farm2go-sub002/identity"
	"github.com/hanzong05/farm2go-sub002/internal/config"
	clienterrors "github.com/hanzong05/farm2go-sub002/internal/errors"
)

const defaultWatchdogTimeout = 15 * time.Second

// LoginResult is the structured outcome of an interactive login. Login never
// returns a Go error to UI code.
type LoginResult struct {
	Success bool
	Error   string
}

// Facade adapts the Store for UI consumption: structured login/logout
// results, an activity-ping hook, and a startup watchdog that guarantees
// initialization can never leave the UI loading forever.
type Facade struct {
	store    *Store
	provider identity.Provider
	backend  config.BackendConfig
	log      zerolog.Logger
	watchdog time.Duration
}

// FacadeOption modifies a Facade instance.
type FacadeOption func(*Facade)

// WithWatchdogTimeout overrides the startup watchdog window.
func WithWatchdogTimeout(d time.Duration) FacadeOption {
	return func(f *Facade) {
		f.watchdog = d
	}
}

// NewFacade creates the UI-facing session facade.
func NewFacade(store *Store, provider identity.Provider, backend config.BackendConfig, log zerolog.Logger, options ...FacadeOption) (*Facade, error) {
	if store == nil {
		return nil, errors.New("[NewFacade] store is required")
	}
	if provider == nil {
		return nil, errors.New("[NewFacade] provider is required")
	}
	if backend == nil {
		return nil, errors.New("[NewFacade] backend config is required")
	}

	f := &Facade{
		store:    store,
		provider: provider,
		backend:  backend,
		log:      log,
		watchdog: defaultWatchdogTimeout,
	}

	for _, opt := range options {
		opt(f)
	}

	return f, nil
}

// Initialize restores any existing session. When the backend configuration is
// still a placeholder it degrades to unauthenticated without any network
// attempt. If initialization does not resolve within the watchdog window the
// state is force-resolved to unauthenticated with an advisory error.
func (f *Facade) Initialize(ctx context.Context) {
	if !f.backend.IsConfigured() {
		f.log.Warn().Msg("backend not configured, starting unauthenticated")
		f.store.ForceUnauthenticated(clienterrors.ErrNotConfigured.Error())
		return
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- f.store.Initialize(ctx)
	}()

	select {
	case err := <-done:
		if err != nil {
			f.log.Warn().Err(err).Msg("session initialization degraded to unauthenticated")
		}
	case <-time.After(f.watchdog):
		f.log.Error().Dur("watchdog", f.watchdog).Msg("session initialization timed out")
		// The forced resolution wins: cancel the stuck attempt and bump the
		// store epoch so a late completion cannot re-install the session.
		cancel()
		f.store.ForceUnauthenticated("initialization timed out")
	}
}

// Login performs an interactive credential login and establishes the session.
func (f *Facade) Login(ctx context.Context, email, password string) LoginResult {
	remote, err := f.provider.SignInWithPassword(ctx, email, password)
	if err != nil {
		if clienterrors.Is(err, clienterrors.ErrInvalidCredentials) {
			return LoginResult{Success: false, Error: clienterrors.ErrInvalidCredentials.Error()}
		}
		return LoginResult{Success: false, Error: err.Error()}
	}
	if remote == nil {
		return LoginResult{Success: false, Error: "no session returned"}
	}

	if err := f.store.CreateSession(ctx, remote.Identity, remote.Tokens); err != nil {
		return LoginResult{Success: false, Error: err.Error()}
	}

	return LoginResult{Success: true}
}

// Logout tears the session down. Local state is reset even when the remote
// sign-out call fails.
func (f *Facade) Logout(ctx context.Context) {
	if err := f.store.ClearSession(ctx); err != nil {
		f.log.Warn().Err(err).Msg("remote sign-out failed during logout")
	}
}

// Refresh requests new tokens and reports a structured result.
func (f *Facade) Refresh(ctx context.Context) RefreshResult {
	return f.store.RefreshSession(ctx)
}

// ActivityPing stamps user activity on the live session. Wire this to user
// interaction events.
func (f *Facade) ActivityPing() {
	f.store.UpdateLastActivity()
}

// Subscribe mirrors Store.Subscribe for UI consumers.
func (f *Facade) Subscribe(listener func(State)) func() {
	return f.store.Subscribe(listener)
}
