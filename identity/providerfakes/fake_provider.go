package providerfakes

import (
	"context"
	"sync"

	"github.com/hanzong05/farm2go-sub002/identity"
	"github.com/hanzong05/farm2go-sub002/internal/emitter"
)

// FakeProvider is an in-memory identity.Provider for tests. Behavior is
// scripted through the exported error/session fields.
type FakeProvider struct {
	mu sync.Mutex

	Session *identity.Session

	GetSessionErr error
	SignInErr     error
	RefreshErr    error
	SignOutErr    error

	// Refreshed, when set, is what RefreshSession hands back instead of
	// Session.
	Refreshed *identity.Session

	// GetSessionHook, when set, runs at the start of GetSession. Lets tests
	// block or stall session fetches.
	GetSessionHook func()

	GetSessionCalls int
	SignInCalls     int
	RefreshCalls    int
	SignOutCalls    int

	events *emitter.Emitter[identity.AuthChange]
}

// NewFakeProvider creates an empty fake provider.
func NewFakeProvider() *FakeProvider {
	return &FakeProvider{events: emitter.New[identity.AuthChange]()}
}

var _ identity.Provider = (*FakeProvider)(nil)

func (f *FakeProvider) GetSession(context.Context) (*identity.Session, error) {
	f.mu.Lock()
	hook := f.GetSessionHook
	f.GetSessionCalls++
	f.mu.Unlock()

	if hook != nil {
		hook()
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.GetSessionErr != nil {
		return nil, f.GetSessionErr
	}
	return f.Session, nil
}

func (f *FakeProvider) SignInWithPassword(_ context.Context, _, _ string) (*identity.Session, error) {
	f.mu.Lock()
	f.SignInCalls++
	if f.SignInErr != nil {
		err := f.SignInErr
		f.mu.Unlock()
		return nil, err
	}
	session := f.Session
	f.mu.Unlock()

	f.events.Emit(identity.AuthChange{Event: identity.EventSignedIn, Session: session})
	return session, nil
}

func (f *FakeProvider) RefreshSession(context.Context) (*identity.Session, error) {
	f.mu.Lock()
	f.RefreshCalls++
	if f.RefreshErr != nil {
		err := f.RefreshErr
		f.mu.Unlock()
		return nil, err
	}
	session := f.Refreshed
	if session == nil {
		session = f.Session
	}
	f.Session = session
	f.mu.Unlock()

	f.events.Emit(identity.AuthChange{Event: identity.EventTokenRefreshed, Session: session})
	return session, nil
}

func (f *FakeProvider) SignOut(context.Context) error {
	f.mu.Lock()
	f.SignOutCalls++
	err := f.SignOutErr
	f.Session = nil
	f.mu.Unlock()

	f.events.Emit(identity.AuthChange{Event: identity.EventSignedOut})
	return err
}

func (f *FakeProvider) OnAuthStateChange(listener func(identity.AuthChange)) func() {
	return f.events.Subscribe(listener)
}

// EmitAuthEvent injects a provider-originated auth event, as interactive
// logins or token refreshes in another tab would.
func (f *FakeProvider) EmitAuthEvent(event identity.AuthEvent, session *identity.Session) {
	f.events.Emit(identity.AuthChange{Event: event, Session: session})
}
