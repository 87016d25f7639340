package auth

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/gdg-hunt/cryptic-hunt/internal/identity"
)

// SessionStore mirrors the identity provider's session for one connection
type SessionStore struct {
	provider identity.Provider
	onChange func()

	mu      sync.Mutex
	session *identity.Session
	loading bool
	alive   bool
	gen     uint64
	sub     identity.Subscription
}

// NewSessionStore creates a store. A nil provider means identity is not
// configured: the store settles on no session without any network access.
// onChange runs after every committed change, outside the store's lock.
func NewSessionStore(provider identity.Provider, onChange func()) *SessionStore {
	return &SessionStore{
		provider: provider,
		onChange: onChange,
		loading:  true,
	}
}

// Mount subscribes to auth events and starts the initial session lookup
func (s *SessionStore) Mount(ctx context.Context) error {
	s.mu.Lock()
	s.alive = true
	s.loading = true
	s.mu.Unlock()

	if s.provider == nil {
		s.apply(nil)
		return nil
	}

	sub, err := s.provider.OnAuthStateChange(ctx, func(ev identity.Event, session *identity.Session) {
		slog.Debug("auth state changed", "event", ev, "signed_in", session != nil)
		s.apply(session)
	})
	if err != nil {
		s.apply(nil)
		return fmt.Errorf("failed to subscribe to auth state: %w", err)
	}

	s.mu.Lock()
	if !s.alive {
		s.mu.Unlock()
		sub.Unsubscribe()
		return nil
	}
	s.sub = sub
	gen := s.gen
	s.mu.Unlock()

	go s.fetchInitial(ctx, gen)
	return nil
}

// fetchInitial commits the provider's current session unless an event got there first
func (s *SessionStore) fetchInitial(ctx context.Context, gen uint64) {
	session, err := s.provider.GetSession(ctx)
	if err != nil {
		slog.Error("failed to get session", "error", err)
		session = nil
	}

	s.mu.Lock()
	if !s.alive || s.gen != gen {
		s.mu.Unlock()
		return
	}
	s.commitLocked(session)
	s.mu.Unlock()

	s.notify()
}

func (s *SessionStore) apply(session *identity.Session) {
	s.mu.Lock()
	if !s.alive {
		s.mu.Unlock()
		return
	}
	s.commitLocked(session)
	s.mu.Unlock()

	s.notify()
}

func (s *SessionStore) commitLocked(session *identity.Session) {
	s.session = session
	s.loading = false
	s.gen++
}

// Unmount releases the subscription. Results arriving afterwards are discarded.
func (s *SessionStore) Unmount() {
	s.mu.Lock()
	s.alive = false
	sub := s.sub
	s.sub = nil
	s.mu.Unlock()

	if sub != nil {
		sub.Unsubscribe()
	}
}

// Session returns the current session, nil when signed out
func (s *SessionStore) Session() *identity.Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.session
}

// Loading reports whether the initial lookup is still pending
func (s *SessionStore) Loading() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loading
}

// Present reports whether a session exists
func (s *SessionStore) Present() bool {
	return s.Session() != nil
}

func (s *SessionStore) notify() {
	if s.onChange != nil {
		s.onChange()
	}
}
