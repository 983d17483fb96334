package identity

import (
	"context"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/pkg/errors"
	"golang.org/x/oauth2"
)

// CallbackExchanger finishes a deep-link OAuth callback: it exchanges the
// authorization code (with the PKCE verifier staged before the redirect),
// verifies the returned ID token, and produces a Session for the store.
type CallbackExchanger struct {
	oidcProvider *oidc.Provider
	oauth2Config *oauth2.Config
	verifier     *oidc.IDTokenVerifier
}

// NewCallbackExchanger discovers the OIDC issuer and prepares the exchange
// configuration.
func NewCallbackExchanger(ctx context.Context, issuerURL, clientID, redirectURL string) (*CallbackExchanger, error) {
	if issuerURL == "" {
		return nil, errors.New("[NewCallbackExchanger] issuerURL is required")
	}
	if clientID == "" {
		return nil, errors.New("[NewCallbackExchanger] clientID is required")
	}

	provider, err := oidc.NewProvider(ctx, issuerURL)
	if err != nil {
		return nil, errors.Wrap(err, "[NewCallbackExchanger] discover issuer")
	}

	conf := &oauth2.Config{
		ClientID:    clientID,
		RedirectURL: redirectURL,
		Endpoint:    provider.Endpoint(),
		Scopes:      []string{oidc.ScopeOpenID, "email", "profile"},
	}

	return &CallbackExchanger{
		oidcProvider: provider,
		oauth2Config: conf,
		verifier:     provider.Verifier(&oidc.Config{ClientID: clientID}),
	}, nil
}

// AuthCodeURL builds the authorization URL for the external redirect using
// the staged state and PKCE challenge.
func (e *CallbackExchanger) AuthCodeURL(state, codeChallenge, nonce string) string {
	return e.oauth2Config.AuthCodeURL(state,
		oauth2.SetAuthURLParam("code_challenge", codeChallenge),
		oauth2.SetAuthURLParam("code_challenge_method", "S256"),
		oidc.Nonce(nonce),
	)
}

// Exchange swaps the authorization code for tokens and verifies the ID token
// signature, claims, and nonce.
func (e *CallbackExchanger) Exchange(ctx context.Context, code, codeVerifier, nonce string) (*Session, error) {
	oauth2Token, err := e.oauth2Config.Exchange(ctx, code,
		oauth2.SetAuthURLParam("code_verifier", codeVerifier),
	)
	if err != nil {
		return nil, errors.Wrap(err, "[Exchange] token exchange")
	}

	rawIDToken, ok := oauth2Token.Extra("id_token").(string)
	if !ok {
		return nil, errors.New("[Exchange] no ID token in response")
	}

	idToken, err := e.verifier.Verify(ctx, rawIDToken)
	if err != nil {
		return nil, errors.Wrap(err, "[Exchange] ID token verification")
	}

	var claims struct {
		Nonce string `json:"nonce"`
		Sub   string `json:"sub"`
		Email string `json:"email"`
	}
	if err := idToken.Claims(&claims); err != nil {
		return nil, errors.Wrap(err, "[Exchange] extract claims")
	}

	// Nonce mismatch means a replayed or cross-wired callback.
	if claims.Nonce != nonce {
		return nil, errors.New("[Exchange] invalid nonce")
	}

	return &Session{
		Identity: Identity{
			ID:    claims.Sub,
			Email: claims.Email,
		},
		Tokens: Tokens{
			AccessToken:  oauth2Token.AccessToken,
			RefreshToken: oauth2Token.RefreshToken,
			TokenType:    oauth2Token.TokenType,
			ExpiresAt:    oauth2Token.Expiry,
		},
	}, nil
}
