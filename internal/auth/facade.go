// Package auth reconciles the identity provider's session lifecycle with the
// participant's cached profile. The Facade is the only type the rest of the
// application consumes.
package auth

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/gdg-hunt/cryptic-hunt/internal/identity"
	"github.com/gdg-hunt/cryptic-hunt/internal/models"
	"github.com/gdg-hunt/cryptic-hunt/internal/storage"
)

// ErrOutsideProvider is the panic value of FromContext when no facade was installed
var ErrOutsideProvider = errors.New("auth facade used outside its provider")

// State is the facade's read model
type State struct {
	Session *identity.Session
	Profile *models.Profile
	Loading bool
}

// UserID returns the signed-in participant id, empty when signed out
func (s State) UserID() string {
	if s.Session == nil {
		return ""
	}
	return s.Session.UserID
}

// Facade composes a SessionStore and a ProfileCache for one connection
type Facade struct {
	provider identity.Provider
	sessions *SessionStore
	profiles *ProfileCache

	mu       sync.Mutex
	ctx      context.Context
	watchers []func()
}

// NewFacade wires a session store and a profile cache together. provider may
// be nil when identity is not configured.
func NewFacade(provider identity.Provider, source ProfileSource) *Facade {
	f := &Facade{
		provider: provider,
		ctx:      context.Background(),
	}
	f.profiles = NewProfileCache(source, f.notify)
	f.sessions = NewSessionStore(provider, f.sessionChanged)
	return f
}

// Watch registers fn to run after every state change. Watchers run outside
// any lock and must not block.
func (f *Facade) Watch(fn func()) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.watchers = append(f.watchers, fn)
}

// Mount starts observing the session. ctx bounds every background fetch.
func (f *Facade) Mount(ctx context.Context) error {
	f.mu.Lock()
	f.ctx = ctx
	f.mu.Unlock()

	return f.sessions.Mount(ctx)
}

// Unmount stops the subscription and discards late results
func (f *Facade) Unmount() {
	f.sessions.Unmount()
	f.profiles.Close()
}

// State returns a consistent snapshot of session, profile and loading. A
// profile that does not belong to the current session is never reported, which
// covers the gap between a session switch and the profile cache rekeying.
func (f *Facade) State() State {
	session := f.sessions.Session()
	profile := f.profiles.Profile()
	if profile != nil && (session == nil || profile.ID != session.UserID) {
		profile = nil
	}
	return State{
		Session: session,
		Profile: profile,
		Loading: f.sessions.Loading() || f.profiles.Loading(),
	}
}

// Configured reports whether an identity provider is wired
func (f *Facade) Configured() bool {
	return f.provider != nil
}

// RefreshProfile pulls the authoritative profile from the store
func (f *Facade) RefreshProfile(ctx context.Context) error {
	return f.profiles.Refresh(f.WithCaller(ctx))
}

// SignOut signs out at the provider, then clears the cached profile
// optimistically without re-fetching.
func (f *Facade) SignOut(ctx context.Context) error {
	if f.provider == nil {
		return nil
	}

	err := f.provider.SignOut(ctx)
	if err != nil {
		slog.Error("failed to sign out", "error", err)
	}
	f.profiles.Clear()
	return err
}

// WithCaller attaches the signed-in participant to ctx for remote calls
func (f *Facade) WithCaller(ctx context.Context) context.Context {
	session := f.sessions.Session()
	if session == nil {
		return ctx
	}
	return storage.WithCaller(ctx, storage.Caller{UserID: session.UserID})
}

func (f *Facade) sessionChanged() {
	f.mu.Lock()
	ctx := f.ctx
	f.mu.Unlock()

	userID := ""
	if session := f.sessions.Session(); session != nil {
		userID = session.UserID
	}
	f.profiles.SetUser(f.WithCaller(ctx), userID)
	f.notify()
}

func (f *Facade) notify() {
	f.mu.Lock()
	watchers := make([]func(), len(f.watchers))
	copy(watchers, f.watchers)
	f.mu.Unlock()

	for _, fn := range watchers {
		fn()
	}
}

type facadeKey struct{}

// NewContext installs f as the connection's facade
func NewContext(ctx context.Context, f *Facade) context.Context {
	return context.WithValue(ctx, facadeKey{}, f)
}

// FromContext returns the facade installed by NewContext.
// Calling it on a context without one is a composition bug and panics with ErrOutsideProvider.
func FromContext(ctx context.Context) *Facade {
	f, ok := ctx.Value(facadeKey{}).(*Facade)
	if !ok || f == nil {
		panic(ErrOutsideProvider)
	}
	return f
}
