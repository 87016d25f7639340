package identity

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"golang.org/x/oauth2"

	"github.com/gdg-hunt/cryptic-hunt/internal/config"
)

// tokenIssuer performs the OAuth round trips with the provider
type tokenIssuer interface {
	AuthCodeURL(state string, params map[string]string) string
	Exchange(ctx context.Context, code string) (*Session, error)
	Refresh(ctx context.Context, s *Session) (*Session, error)
}

// oidcIssuer implements tokenIssuer with OIDC discovery and ID token verification
type oidcIssuer struct {
	verifier *oidc.IDTokenVerifier
	oauth    oauth2.Config
}

func newOIDCIssuer(ctx context.Context, cfg config.IdentityConfig) (*oidcIssuer, error) {
	provider, err := oidc.NewProvider(ctx, cfg.IssuerURL)
	if err != nil {
		return nil, fmt.Errorf("failed to init OIDC provider: %w", err)
	}

	return &oidcIssuer{
		verifier: provider.Verifier(&oidc.Config{ClientID: cfg.ClientID}),
		oauth: oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURL,
			Endpoint:     provider.Endpoint(),
			Scopes:       []string{oidc.ScopeOpenID, "profile", "email"},
		},
	}, nil
}

func (i *oidcIssuer) AuthCodeURL(state string, params map[string]string) string {
	opts := make([]oauth2.AuthCodeOption, 0, len(params))
	for k, v := range params {
		opts = append(opts, oauth2.SetAuthURLParam(k, v))
	}
	return i.oauth.AuthCodeURL(state, opts...)
}

func (i *oidcIssuer) Exchange(ctx context.Context, code string) (*Session, error) {
	token, err := i.oauth.Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("failed to exchange token: %w", err)
	}

	rawIDToken, ok := token.Extra("id_token").(string)
	if !ok {
		return nil, errors.New("token response has no id_token")
	}

	s := &Session{
		AccessToken:  token.AccessToken,
		RefreshToken: token.RefreshToken,
		ExpiresAt:    token.Expiry,
	}
	if err := i.applyIDToken(ctx, s, rawIDToken); err != nil {
		return nil, err
	}
	return s, nil
}

func (i *oidcIssuer) Refresh(ctx context.Context, s *Session) (*Session, error) {
	if s.RefreshToken == "" {
		return nil, ErrNoRefreshToken
	}

	// an already-expired token forces the source to use the refresh token
	src := i.oauth.TokenSource(ctx, &oauth2.Token{
		RefreshToken: s.RefreshToken,
		Expiry:       time.Now().Add(-time.Minute),
	})
	token, err := src.Token()
	if err != nil {
		return nil, fmt.Errorf("failed to refresh token: %w", err)
	}

	next := *s
	next.AccessToken = token.AccessToken
	next.ExpiresAt = token.Expiry
	if token.RefreshToken != "" {
		next.RefreshToken = token.RefreshToken
	}
	if rawIDToken, ok := token.Extra("id_token").(string); ok {
		if err := i.applyIDToken(ctx, &next, rawIDToken); err != nil {
			return nil, err
		}
	}
	return &next, nil
}

func (i *oidcIssuer) applyIDToken(ctx context.Context, s *Session, raw string) error {
	idToken, err := i.verifier.Verify(ctx, raw)
	if err != nil {
		return fmt.Errorf("id token verification failed: %w", err)
	}

	var claims struct {
		Email string `json:"email"`
		Name  string `json:"name"`
	}
	if err := idToken.Claims(&claims); err != nil {
		return fmt.Errorf("failed to decode id token claims: %w", err)
	}

	s.UserID = idToken.Subject
	s.Email = claims.Email
	s.Name = claims.Name
	s.IDToken = raw
	return nil
}
