// Package identity observes sign-in sessions issued by an external OIDC
// identity provider. Sessions live in Redis keyed by an opaque browser id;
// every change is published on a per-browser channel so all open tabs and all
// server replicas see the same lifecycle.
package identity

import (
	"context"
	"errors"
	"time"
)

// Common errors
var (
	ErrUnsupportedProvider = errors.New("unsupported identity provider")
	ErrStateNotFound       = errors.New("oauth state not found or already used")
	ErrNoRefreshToken      = errors.New("session has no refresh token")
)

// Event names an auth state change
type Event string

const (
	EventInitialSession Event = "INITIAL_SESSION"
	EventSignedIn       Event = "SIGNED_IN"
	EventSignedOut      Event = "SIGNED_OUT"
	EventTokenRefreshed Event = "TOKEN_REFRESHED"
)

// Session is the token bundle for one signed-in participant
type Session struct {
	UserID       string    `json:"user_id"`
	Email        string    `json:"email,omitempty"`
	Name         string    `json:"name,omitempty"`
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token,omitempty"`
	IDToken      string    `json:"id_token,omitempty"`
	ExpiresAt    time.Time `json:"expires_at"`
}

// Expired reports whether the access token is past its expiry
func (s *Session) Expired(now time.Time) bool {
	return !s.ExpiresAt.IsZero() && now.After(s.ExpiresAt)
}

// Subscription is a live auth-state listener
type Subscription interface {
	// Unsubscribe stops delivery. When it returns no further callback runs.
	// It must not be called from inside the callback.
	Unsubscribe()
}

// Provider is the identity provider as seen by one browser
type Provider interface {
	GetSession(ctx context.Context) (*Session, error)
	OnAuthStateChange(ctx context.Context, cb func(Event, *Session)) (Subscription, error)
	SignInWithOAuth(ctx context.Context, provider, redirectTo string, queryParams map[string]string) (string, error)
	SignOut(ctx context.Context) error
}
