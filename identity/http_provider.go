package identity

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"golang.org/x/oauth2"

	"github.com/hanzong05/farm2go-sub002/internal/emitter"
	clienterrors "github.com/hanzong05/farm2go-sub002/internal/errors"
)

// HTTPProvider implements Provider against a GoTrue-style auth backend using
// the standard oauth2 grant flows (password and refresh_token). The provider
// keeps the current session in memory; durable persistence is the session
// store's job, not the provider's.
type HTTPProvider struct {
	conf   *oauth2.Config
	client *http.Client
	log    zerolog.Logger

	mu      sync.Mutex
	current *Session

	events  *emitter.Emitter[AuthChange]
	nowTime func() time.Time
}

// HTTPProviderOption modifies an HTTPProvider instance.
type HTTPProviderOption func(*HTTPProvider)

// WithHTTPClient sets the underlying HTTP client (primarily for testing).
func WithHTTPClient(client *http.Client) HTTPProviderOption {
	return func(p *HTTPProvider) {
		p.client = client
	}
}

// WithProviderNowTime sets the now time function (primarily for testing).
func WithProviderNowTime(nowFunc func() time.Time) HTTPProviderOption {
	return func(p *HTTPProvider) {
		p.nowTime = nowFunc
	}
}

// NewHTTPProvider creates a provider for the auth backend at baseURL,
// authenticating requests with the public apiKey.
func NewHTTPProvider(baseURL, apiKey string, log zerolog.Logger, options ...HTTPProviderOption) (*HTTPProvider, error) {
	if baseURL == "" {
		return nil, errors.New("[NewHTTPProvider] baseURL is required")
	}
	if apiKey == "" {
		return nil, errors.New("[NewHTTPProvider] apiKey is required")
	}

	p := &HTTPProvider{
		conf: &oauth2.Config{
			ClientID: apiKey,
			Endpoint: oauth2.Endpoint{
				TokenURL:  baseURL + "/auth/v1/token",
				AuthStyle: oauth2.AuthStyleInParams,
			},
		},
		client:  &http.Client{Timeout: 30 * time.Second},
		log:     log,
		events:  emitter.New[AuthChange](),
		nowTime: time.Now,
	}

	for _, opt := range options {
		opt(p)
	}

	return p, nil
}

var _ Provider = (*HTTPProvider)(nil)

// GetSession returns the in-memory current session, or (nil, nil).
func (p *HTTPProvider) GetSession(_ context.Context) (*Session, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.current, nil
}

// SignInWithPassword performs the password grant and emits SIGNED_IN.
func (p *HTTPProvider) SignInWithPassword(ctx context.Context, email, password string) (*Session, error) {
	token, err := p.conf.PasswordCredentialsToken(p.oauthContext(ctx), email, password)
	if err != nil {
		if retrieveFailed(err) {
			return nil, clienterrors.ErrInvalidCredentials
		}
		return nil, errors.Wrap(err, "[SignInWithPassword] token request")
	}

	session, err := p.sessionFromToken(token)
	if err != nil {
		return nil, err
	}

	p.setCurrent(session)
	p.events.Emit(AuthChange{Event: EventSignedIn, Session: session})
	return session, nil
}

// RefreshSession performs the refresh_token grant and emits TOKEN_REFRESHED.
func (p *HTTPProvider) RefreshSession(ctx context.Context) (*Session, error) {
	p.mu.Lock()
	current := p.current
	p.mu.Unlock()

	if current == nil || current.Tokens.RefreshToken == "" {
		return nil, clienterrors.ErrNoSession
	}

	source := p.conf.TokenSource(p.oauthContext(ctx), &oauth2.Token{
		RefreshToken: current.Tokens.RefreshToken,
		// Force the source to hit the token endpoint rather than reuse
		// the (possibly stale) access token.
		Expiry: p.nowTime().Add(-time.Minute),
	})

	token, err := source.Token()
	if err != nil {
		return nil, clienterrors.Wrapf(clienterrors.ErrRefreshFailed, "%v", err)
	}

	session, err := p.sessionFromToken(token)
	if err != nil {
		return nil, err
	}

	p.setCurrent(session)
	p.events.Emit(AuthChange{Event: EventTokenRefreshed, Session: session})
	return session, nil
}

// SignOut revokes the session at the provider and emits SIGNED_OUT. The local
// current-session slot is cleared even when the remote call fails.
func (p *HTTPProvider) SignOut(ctx context.Context) error {
	p.mu.Lock()
	current := p.current
	p.current = nil
	p.mu.Unlock()

	defer p.events.Emit(AuthChange{Event: EventSignedOut})

	if current == nil {
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.logoutURL(), nil)
	if err != nil {
		return errors.Wrap(err, "[SignOut] build request")
	}
	req.Header.Set("Authorization", "Bearer "+current.Tokens.AccessToken)
	req.Header.Set("apikey", p.conf.ClientID)

	resp, err := p.client.Do(req)
	if err != nil {
		return errors.Wrap(err, "[SignOut] logout request")
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return errors.Errorf("[SignOut] logout returned status %d", resp.StatusCode)
	}
	return nil
}

// OnAuthStateChange registers a listener for auth transitions.
func (p *HTTPProvider) OnAuthStateChange(listener func(AuthChange)) func() {
	return p.events.Subscribe(listener)
}

// AdoptSession installs a session obtained out-of-band (the OAuth callback
// exchange) as the provider's current session and emits SIGNED_IN.
func (p *HTTPProvider) AdoptSession(session *Session) {
	p.setCurrent(session)
	p.events.Emit(AuthChange{Event: EventSignedIn, Session: session})
}

func (p *HTTPProvider) setCurrent(session *Session) {
	p.mu.Lock()
	p.current = session
	p.mu.Unlock()
}

func (p *HTTPProvider) sessionFromToken(token *oauth2.Token) (*Session, error) {
	claims, err := ParseTokenClaims(token.AccessToken)
	if err != nil {
		return nil, err
	}

	expiry := token.Expiry
	if expiry.IsZero() {
		expiry = claims.ExpiresAt
	}

	return &Session{
		Identity: Identity{
			ID:    claims.Subject,
			Email: claims.Email,
		},
		Tokens: Tokens{
			AccessToken:  token.AccessToken,
			RefreshToken: token.RefreshToken,
			TokenType:    token.TokenType,
			ExpiresAt:    expiry,
		},
	}, nil
}

func (p *HTTPProvider) oauthContext(ctx context.Context) context.Context {
	return context.WithValue(ctx, oauth2.HTTPClient, p.client)
}

func (p *HTTPProvider) logoutURL() string {
	// TokenURL is <base>/auth/v1/token; logout lives beside it.
	base := p.conf.Endpoint.TokenURL
	return base[:len(base)-len("/token")] + "/logout"
}

func retrieveFailed(err error) bool {
	var retrieveErr *oauth2.RetrieveError
	if errors.As(err, &retrieveErr) {
		return retrieveErr.Response != nil && retrieveErr.Response.StatusCode == http.StatusBadRequest
	}
	return false
}
