package identity

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/gdg-hunt/cryptic-hunt/internal/config"
)

const (
	keyPrefix     = "hunt:"
	stateTTL      = 10 * time.Minute
	scanBatchSize = 100
)

func sessionKey(sid string) string { return keyPrefix + "session:" + sid }
func stateKey(state string) string { return keyPrefix + "oauth_state:" + state }
func channel(sid string) string    { return keyPrefix + "auth:" + sid }

// oauthState is what a pending sign-in remembers between redirect and callback
type oauthState struct {
	SID        string `json:"sid"`
	RedirectTo string `json:"redirect_to"`
	Provider   string `json:"provider"`
}

// authMessage is the pub/sub payload for one auth event
type authMessage struct {
	Event   Event    `json:"event"`
	Session *Session `json:"session"`
}

// DueSession is a stored session whose token expires within the sweep window
type DueSession struct {
	SID         string
	ExpiresAt   time.Time
	Refreshable bool
}

// ProfileProvisioner creates a participant's profile on first sign-in
type ProfileProvisioner interface {
	EnsureProfile(ctx context.Context, id, displayName string) error
}

// Service stores browser sessions in Redis and talks to the OIDC provider
type Service struct {
	rdb          *redis.Client
	issuer       tokenIssuer
	profiles     ProfileProvisioner
	providerName string
	sessionTTL   time.Duration
	now          func() time.Time
}

// NewService discovers the OIDC provider and returns a ready service
func NewService(ctx context.Context, cfg config.IdentityConfig, rdb *redis.Client, profiles ProfileProvisioner) (*Service, error) {
	issuer, err := newOIDCIssuer(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return newService(rdb, issuer, profiles, cfg.Provider, cfg.SessionTTL), nil
}

func newService(rdb *redis.Client, issuer tokenIssuer, profiles ProfileProvisioner, providerName string, sessionTTL time.Duration) *Service {
	return &Service{
		rdb:          rdb,
		issuer:       issuer,
		profiles:     profiles,
		providerName: providerName,
		sessionTTL:   sessionTTL,
		now:          time.Now,
	}
}

// ForBrowser returns the Provider bound to one browser id
func (s *Service) ForBrowser(sid string) Provider {
	return &browser{svc: s, sid: sid}
}

// NewBrowserID returns a fresh opaque browser id
func NewBrowserID() string {
	return uuid.NewString()
}

// CompleteSignIn finishes an OAuth callback arriving from browser sid. It
// consumes the state token, makes sure the participant has a profile, stores
// the new session and announces SIGNED_IN. A state issued to a different
// browser is rejected.
func (s *Service) CompleteSignIn(ctx context.Context, sid, state, code string) (redirectTo string, err error) {
	raw, err := s.rdb.GetDel(ctx, stateKey(state)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", ErrStateNotFound
		}
		return "", fmt.Errorf("failed to load oauth state: %w", err)
	}

	var pending oauthState
	if err := json.Unmarshal(raw, &pending); err != nil {
		return "", fmt.Errorf("failed to decode oauth state: %w", err)
	}
	if pending.SID != sid {
		slog.Warn("oauth callback from a different browser", "provider", pending.Provider)
		return "", ErrStateNotFound
	}

	session, err := s.issuer.Exchange(ctx, code)
	if err != nil {
		return "", err
	}

	if err := s.profiles.EnsureProfile(ctx, session.UserID, session.Name); err != nil {
		return "", err
	}

	if err := s.save(ctx, sid, session, s.sessionTTL); err != nil {
		return "", err
	}
	s.publish(ctx, sid, EventSignedIn, session)

	slog.Info("participant signed in", "user_id", session.UserID, "provider", pending.Provider)
	return pending.RedirectTo, nil
}

// Due lists sessions whose tokens expire before now+window
func (s *Service) Due(ctx context.Context, window time.Duration) ([]DueSession, error) {
	deadline := s.now().Add(window)
	pattern := sessionKey("*")
	prefixLen := len(sessionKey(""))

	var due []DueSession
	var cursor uint64
	for {
		keys, next, err := s.rdb.Scan(ctx, cursor, pattern, scanBatchSize).Result()
		if err != nil {
			return nil, fmt.Errorf("failed to scan sessions: %w", err)
		}

		for _, key := range keys {
			sid := key[prefixLen:]
			session, err := s.load(ctx, sid)
			if err != nil {
				slog.Warn("skipping unreadable session", "sid", sid, "error", err)
				continue
			}
			if session == nil || session.ExpiresAt.IsZero() || session.ExpiresAt.After(deadline) {
				continue
			}
			due = append(due, DueSession{
				SID:         sid,
				ExpiresAt:   session.ExpiresAt,
				Refreshable: session.RefreshToken != "",
			})
		}

		cursor = next
		if cursor == 0 {
			break
		}
	}

	return due, nil
}

// Refresh renews a stored session and announces TOKEN_REFRESHED
func (s *Service) Refresh(ctx context.Context, sid string) (*Session, error) {
	current, err := s.load(ctx, sid)
	if err != nil {
		return nil, err
	}
	if current == nil {
		return nil, nil
	}

	next, err := s.issuer.Refresh(ctx, current)
	if err != nil {
		return nil, err
	}

	if err := s.save(ctx, sid, next, redis.KeepTTL); err != nil {
		return nil, err
	}
	s.publish(ctx, sid, EventTokenRefreshed, next)
	return next, nil
}

// Expire deletes a stored session and announces SIGNED_OUT
func (s *Service) Expire(ctx context.Context, sid string) error {
	if err := s.rdb.Del(ctx, sessionKey(sid)).Err(); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	s.publish(ctx, sid, EventSignedOut, nil)
	return nil
}

func (s *Service) load(ctx context.Context, sid string) (*Session, error) {
	raw, err := s.rdb.Get(ctx, sessionKey(sid)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to load session: %w", err)
	}

	var session Session
	if err := json.Unmarshal(raw, &session); err != nil {
		return nil, fmt.Errorf("failed to decode session: %w", err)
	}
	return &session, nil
}

func (s *Service) save(ctx context.Context, sid string, session *Session, ttl time.Duration) error {
	raw, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("failed to encode session: %w", err)
	}
	if err := s.rdb.Set(ctx, sessionKey(sid), raw, ttl).Err(); err != nil {
		return fmt.Errorf("failed to store session: %w", err)
	}
	return nil
}

// publish is best effort: listeners that miss an event still see the stored
// state on their next GetSession
func (s *Service) publish(ctx context.Context, sid string, ev Event, session *Session) {
	raw, err := json.Marshal(authMessage{Event: ev, Session: session})
	if err != nil {
		slog.Error("failed to encode auth event", "error", err)
		return
	}
	if err := s.rdb.Publish(ctx, channel(sid), raw).Err(); err != nil {
		slog.Error("failed to publish auth event", "event", ev, "error", err)
	}
}

// browser is the Provider for one browser id
type browser struct {
	svc *Service
	sid string
}

// GetSession returns the stored session. An expired session is refreshed when
// possible and reported absent otherwise.
func (b *browser) GetSession(ctx context.Context) (*Session, error) {
	session, err := b.svc.load(ctx, b.sid)
	if err != nil || session == nil {
		return nil, err
	}
	if !session.Expired(b.svc.now()) {
		return session, nil
	}

	refreshed, err := b.svc.Refresh(ctx, b.sid)
	if err != nil {
		slog.Debug("expired session could not be refreshed", "error", err)
		return nil, nil
	}
	return refreshed, nil
}

// OnAuthStateChange subscribes to this browser's auth channel. Events are
// delivered in publish order from a single goroutine.
func (b *browser) OnAuthStateChange(ctx context.Context, cb func(Event, *Session)) (Subscription, error) {
	ps := b.svc.rdb.Subscribe(ctx, channel(b.sid))
	if _, err := ps.Receive(ctx); err != nil {
		ps.Close()
		return nil, fmt.Errorf("failed to subscribe to auth events: %w", err)
	}

	sub := &subscription{ps: ps, done: make(chan struct{})}
	go sub.deliver(cb)
	return sub, nil
}

// SignInWithOAuth records a pending sign-in and returns the provider URL to redirect to
func (b *browser) SignInWithOAuth(ctx context.Context, provider, redirectTo string, queryParams map[string]string) (string, error) {
	if provider != b.svc.providerName {
		return "", fmt.Errorf("%w: %s", ErrUnsupportedProvider, provider)
	}

	state := uuid.NewString()
	raw, err := json.Marshal(oauthState{SID: b.sid, RedirectTo: redirectTo, Provider: provider})
	if err != nil {
		return "", fmt.Errorf("failed to encode oauth state: %w", err)
	}
	if err := b.svc.rdb.Set(ctx, stateKey(state), raw, stateTTL).Err(); err != nil {
		return "", fmt.Errorf("failed to store oauth state: %w", err)
	}

	return b.svc.issuer.AuthCodeURL(state, queryParams), nil
}

// SignOut deletes the session and announces SIGNED_OUT
func (b *browser) SignOut(ctx context.Context) error {
	return b.svc.Expire(ctx, b.sid)
}

type subscription struct {
	ps   *redis.PubSub
	once sync.Once
	done chan struct{}
}

func (s *subscription) deliver(cb func(Event, *Session)) {
	defer close(s.done)
	for msg := range s.ps.Channel() {
		var m authMessage
		if err := json.Unmarshal([]byte(msg.Payload), &m); err != nil {
			slog.Warn("dropping malformed auth event", "error", err)
			continue
		}
		cb(m.Event, m.Session)
	}
}

func (s *subscription) Unsubscribe() {
	s.once.Do(func() {
		if err := s.ps.Close(); err != nil {
			slog.Debug("auth subscription close", "error", err)
		}
		<-s.done
	})
}
