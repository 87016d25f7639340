package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gdg-hunt/cryptic-hunt/internal/config"
	"github.com/gdg-hunt/cryptic-hunt/internal/identity"
	"github.com/gdg-hunt/cryptic-hunt/internal/models"
	"github.com/gdg-hunt/cryptic-hunt/internal/services"
)

const testSID = "3f1c9a52-6a53-4c5e-9d7e-2f0c1b7a9e10"

type fakeIdentity struct {
	mu          sync.Mutex
	sessions    map[string]*identity.Session
	listeners   map[string]map[int]func(identity.Event, *identity.Session)
	nextID      int
	authURL     string
	signInErr   error
	redirect    string
	completeErr error
	params      map[string]string
	redirectTo  string
}

func newFakeIdentity() *fakeIdentity {
	return &fakeIdentity{
		sessions:  make(map[string]*identity.Session),
		listeners: make(map[string]map[int]func(identity.Event, *identity.Session)),
		authURL:   "https://accounts.example.com/auth?state=abc",
		redirect:  "http://hunt.test/hunt",
	}
}

func (f *fakeIdentity) ForBrowser(sid string) identity.Provider {
	return &fakeBrowser{f: f, sid: sid}
}

func (f *fakeIdentity) CompleteSignIn(ctx context.Context, sid, state, code string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.completeErr != nil {
		return "", f.completeErr
	}
	f.sessions[sid] = &identity.Session{UserID: "user-" + code, AccessToken: "token"}
	return f.redirect, nil
}

func (f *fakeIdentity) signIn(sid, userID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sessions[sid] = &identity.Session{UserID: userID, AccessToken: "token-" + userID}
}

func (f *fakeIdentity) emit(sid string, ev identity.Event, s *identity.Session) {
	f.mu.Lock()
	cbs := make([]func(identity.Event, *identity.Session), 0, len(f.listeners[sid]))
	for _, cb := range f.listeners[sid] {
		cbs = append(cbs, cb)
	}
	f.mu.Unlock()

	for _, cb := range cbs {
		cb(ev, s)
	}
}

type fakeBrowser struct {
	f   *fakeIdentity
	sid string
}

func (b *fakeBrowser) GetSession(ctx context.Context) (*identity.Session, error) {
	b.f.mu.Lock()
	defer b.f.mu.Unlock()
	return b.f.sessions[b.sid], nil
}

func (b *fakeBrowser) OnAuthStateChange(ctx context.Context, cb func(identity.Event, *identity.Session)) (identity.Subscription, error) {
	b.f.mu.Lock()
	defer b.f.mu.Unlock()
	b.f.nextID++
	id := b.f.nextID
	if b.f.listeners[b.sid] == nil {
		b.f.listeners[b.sid] = make(map[int]func(identity.Event, *identity.Session))
	}
	b.f.listeners[b.sid][id] = cb
	return fakeSubscription{f: b.f, sid: b.sid, id: id}, nil
}

func (b *fakeBrowser) SignInWithOAuth(ctx context.Context, provider, redirectTo string, params map[string]string) (string, error) {
	b.f.mu.Lock()
	defer b.f.mu.Unlock()
	if b.f.signInErr != nil {
		return "", b.f.signInErr
	}
	b.f.params = params
	b.f.redirectTo = redirectTo
	return b.f.authURL, nil
}

func (b *fakeBrowser) SignOut(ctx context.Context) error {
	b.f.mu.Lock()
	delete(b.f.sessions, b.sid)
	b.f.mu.Unlock()

	b.f.emit(b.sid, identity.EventSignedOut, nil)
	return nil
}

type fakeSubscription struct {
	f   *fakeIdentity
	sid string
	id  int
}

func (s fakeSubscription) Unsubscribe() {
	s.f.mu.Lock()
	defer s.f.mu.Unlock()
	delete(s.f.listeners[s.sid], s.id)
}

type fakeStore struct {
	mu       sync.Mutex
	profiles map[string]*models.Profile
	levels   map[int]*models.Level
	entries  []models.LeaderboardEntry
	boardErr error
	limits   []int
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		profiles: make(map[string]*models.Profile),
		levels:   make(map[int]*models.Level),
	}
}

func (s *fakeStore) GetProfile(ctx context.Context, id string) (*models.Profile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.profiles[id], nil
}

func (s *fakeStore) GetLevel(ctx context.Context, levelNumber int) (*models.Level, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.levels[levelNumber], nil
}

func (s *fakeStore) Leaderboard(ctx context.Context, limit int) ([]models.LeaderboardEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.limits = append(s.limits, limit)
	return s.entries, s.boardErr
}

func (s *fakeStore) VerifyAnswer(ctx context.Context, levelNumber int, attempt string) ([]models.VerificationResult, error) {
	return []models.VerificationResult{{IsCorrect: false}}, nil
}

type downPinger struct{}

func (downPinger) Ping(ctx context.Context) error {
	return errors.New("connection refused")
}

func testConfig() *config.Config {
	return &config.Config{
		Server:  config.ServerConfig{Port: 8080, PublicURL: "http://hunt.test"},
		Backend: config.BackendConfig{URL: "postgres://hunt@db/hunt", APIKey: "secret"},
		Identity: config.IdentityConfig{
			Provider:    "google",
			IssuerURL:   "https://accounts.example.com",
			ClientID:    "client",
			RedirectURL: "http://hunt.test/auth/callback",
			SessionTTL:  time.Hour,
		},
		Hunt: config.HuntConfig{
			AdvanceDelay:        10 * time.Millisecond,
			LeaderboardInterval: time.Hour,
			LeaderboardLimit:    100,
		},
	}
}

func newTestServer(t *testing.T) (*Server, *fakeIdentity, *fakeStore) {
	t.Helper()
	ids := newFakeIdentity()
	store := newFakeStore()
	srv, err := NewServer(testConfig(), Deps{
		Identity: ids,
		Store:    store,
		Registry: services.NewRegistry(),
	})
	require.NoError(t, err)
	return srv, ids, store
}

func request(method, target string) *http.Request {
	req := httptest.NewRequest(method, target, nil)
	req.AddCookie(&http.Cookie{Name: browserCookie, Value: testSID})
	return req
}

func serve(srv *Server, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)
	return rec
}

func TestDegradedServesConfigPage(t *testing.T) {
	cfg := testConfig()
	cfg.Backend.URL = ""
	cfg.Identity.ClientID = ""

	srv, err := NewServer(cfg, Deps{})
	require.NoError(t, err)
	require.True(t, srv.Degraded())

	for _, path := range []string{"/", "/hunt", "/leaderboard", "/signin", "/api/v1/leaderboard"} {
		rec := serve(srv, httptest.NewRequest(http.MethodGet, path, nil))
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code, path)
		assert.Contains(t, rec.Body.String(), "HUNT_BACKEND_URL", path)
		assert.Contains(t, rec.Body.String(), "OIDC_CLIENT_ID", path)
		assert.NotContains(t, rec.Body.String(), "HUNT_BACKEND_KEY", path)
		assert.Contains(t, rec.Body.String(), "http://hunt.test/auth/callback", path)
	}

	rec := serve(srv, httptest.NewRequest(http.MethodPost, "/auth/signin", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	rec = serve(srv, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = serve(srv, httptest.NewRequest(http.MethodGet, "/ready", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	rec = serve(srv, httptest.NewRequest(http.MethodGet, "/static/app.js", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestMissingDepsDegrade(t *testing.T) {
	srv, err := NewServer(testConfig(), Deps{Identity: newFakeIdentity()})
	require.NoError(t, err)
	assert.True(t, srv.Degraded())
}

func TestUnknownPathRedirectsToHunt(t *testing.T) {
	srv, _, _ := newTestServer(t)

	rec := serve(srv, request(http.MethodGet, "/somewhere/else"))
	assert.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, "/hunt", rec.Header().Get("Location"))
}

func TestProtectedPagesRequireSession(t *testing.T) {
	srv, ids, _ := newTestServer(t)

	for _, path := range []string{"/hunt", "/leaderboard"} {
		rec := serve(srv, request(http.MethodGet, path))
		assert.Equal(t, http.StatusFound, rec.Code, path)
		assert.Equal(t, "/signin", rec.Header().Get("Location"), path)
	}

	ids.signIn(testSID, "ada")
	rec := serve(srv, request(http.MethodGet, "/hunt"))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `data-socket="/ws/hunt"`)

	rec = serve(srv, request(http.MethodGet, "/leaderboard"))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `data-socket="/ws/leaderboard"`)
}

func TestBrowserCookieIssued(t *testing.T) {
	srv, _, _ := newTestServer(t)

	rec := serve(srv, httptest.NewRequest(http.MethodGet, "/signin", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var sid *http.Cookie
	for _, c := range rec.Result().Cookies() {
		if c.Name == browserCookie {
			sid = c
		}
	}
	require.NotNil(t, sid)
	assert.True(t, sid.HttpOnly)
	assert.NotEmpty(t, sid.Value)

	// a valid cookie is kept as is
	rec = serve(srv, request(http.MethodGet, "/signin"))
	assert.Empty(t, rec.Result().Cookies())
}

func TestSignInPage(t *testing.T) {
	srv, ids, _ := newTestServer(t)

	rec := serve(srv, request(http.MethodGet, "/signin"))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "sign in with google")

	ids.signIn(testSID, "ada")
	rec = serve(srv, request(http.MethodGet, "/signin"))
	assert.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, "/hunt", rec.Header().Get("Location"))
}

func TestStartSignIn(t *testing.T) {
	srv, ids, _ := newTestServer(t)

	rec := serve(srv, request(http.MethodPost, "/auth/signin"))
	assert.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, ids.authURL, rec.Header().Get("Location"))
	assert.Equal(t, "http://hunt.test/hunt", ids.redirectTo)
	assert.Equal(t, map[string]string{"access_type": "offline", "prompt": "consent"}, ids.params)
}

func TestStartSignInFailureShowsMessage(t *testing.T) {
	srv, ids, _ := newTestServer(t)
	ids.signInErr = errors.New("provider unreachable")

	rec := serve(srv, request(http.MethodPost, "/auth/signin"))
	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.Contains(t, rec.Body.String(), "provider unreachable")
}

func TestCallback(t *testing.T) {
	srv, ids, _ := newTestServer(t)

	rec := serve(srv, request(http.MethodGet, "/auth/callback?state=s1&code=ada"))
	assert.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, "http://hunt.test/hunt", rec.Header().Get("Location"))

	session, err := ids.ForBrowser(testSID).GetSession(context.Background())
	require.NoError(t, err)
	require.NotNil(t, session)
	assert.Equal(t, "user-ada", session.UserID)
}

func TestCallbackFailures(t *testing.T) {
	srv, ids, _ := newTestServer(t)

	rec := serve(srv, request(http.MethodGet, "/auth/callback?error=access_denied&error_description=user+cancelled"))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "user cancelled")

	ids.completeErr = identity.ErrStateNotFound
	rec = serve(srv, request(http.MethodGet, "/auth/callback?state=replayed&code=x"))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), signInFailed)
}

func TestSignOutEndpoint(t *testing.T) {
	srv, ids, _ := newTestServer(t)
	ids.signIn(testSID, "ada")

	rec := serve(srv, request(http.MethodPost, "/auth/signout"))
	assert.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, "/signin", rec.Header().Get("Location"))

	rec = serve(srv, request(http.MethodGet, "/hunt"))
	assert.Equal(t, "/signin", rec.Header().Get("Location"))
}

func TestLeaderboardAPI(t *testing.T) {
	srv, ids, store := newTestServer(t)

	rec := serve(srv, request(http.MethodGet, "/api/v1/leaderboard"))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	var resp apiResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.False(t, resp.Success)
	assert.Equal(t, "not_authenticated", resp.Error.Code)

	ids.signIn(testSID, "ada")
	name := "ada"
	store.entries = []models.LeaderboardEntry{{ID: "ada", DisplayName: &name, CurrentLevel: 4}}

	rec = serve(srv, request(http.MethodGet, "/api/v1/leaderboard?limit=10"))
	assert.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Success bool                       `json:"success"`
		Data    models.LeaderboardSnapshot `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.True(t, body.Success)
	require.Len(t, body.Data.Entries, 1)
	assert.Equal(t, 4, body.Data.Entries[0].CurrentLevel)
	assert.Equal(t, []int{10}, store.limits)

	store.boardErr = errors.New("relation does not exist")
	rec = serve(srv, request(http.MethodGet, "/api/v1/leaderboard"))
	assert.Equal(t, http.StatusBadGateway, rec.Code)
}

func TestReady(t *testing.T) {
	srv, _, _ := newTestServer(t)

	rec := serve(srv, request(http.MethodGet, "/ready"))
	assert.Equal(t, http.StatusOK, rec.Code)

	srv.deps.Registry.Register(services.NewPingChecker("postgres", downPinger{}))
	rec = serve(srv, request(http.MethodGet, "/ready"))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "connection refused")
}

func TestReadyListsFailuresInNameOrder(t *testing.T) {
	srv, _, _ := newTestServer(t)
	srv.deps.Registry.Register(services.NewPingChecker("redis", downPinger{}))
	srv.deps.Registry.Register(services.NewPingChecker("backend", downPinger{}))

	for i := 0; i < 5; i++ {
		rec := serve(srv, request(http.MethodGet, "/ready"))
		require.Equal(t, http.StatusServiceUnavailable, rec.Code)

		var body struct {
			Data struct {
				Status string            `json:"status"`
				Checks map[string]string `json:"checks"`
				Failed []string          `json:"failed"`
			} `json:"data"`
		}
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		assert.Equal(t, "not_ready", body.Data.Status)
		assert.Equal(t, []string{"backend", "redis"}, body.Data.Failed)
		assert.Equal(t, "connection refused", body.Data.Checks["backend"])
	}
}

func dial(t *testing.T, ts *httptest.Server, path string) *websocket.Conn {
	t.Helper()
	u, err := url.Parse(ts.URL)
	require.NoError(t, err)
	u.Scheme = "ws"
	u.Path = path

	header := http.Header{}
	header.Set("Cookie", browserCookie+"="+testSID)
	conn, _, err := websocket.DefaultDialer.Dial(u.String(), header)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

// readUntil reads server messages until one satisfies match
func readUntil(t *testing.T, conn *websocket.Conn, match func(liveMessage) bool) liveMessage {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for {
		require.NoError(t, conn.SetReadDeadline(deadline))
		var msg liveMessage
		require.NoError(t, conn.ReadJSON(&msg))
		if match(msg) {
			return msg
		}
	}
}

func rendered(fragment string) func(liveMessage) bool {
	return func(msg liveMessage) bool {
		return msg.Type == "render" && strings.Contains(msg.HTML, fragment)
	}
}

func TestBoardSocketRendersEmptyState(t *testing.T) {
	srv, ids, _ := newTestServer(t)
	ids.signIn(testSID, "ada")
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	conn := dial(t, ts, "/ws/leaderboard")
	readUntil(t, conn, rendered("nobody yet. be the first."))
}

func TestBoardSocketShowsRanking(t *testing.T) {
	srv, ids, store := newTestServer(t)
	ids.signIn(testSID, "ada")
	name := "grace"
	store.entries = []models.LeaderboardEntry{{ID: "g", DisplayName: &name, CurrentLevel: 7}}
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	conn := dial(t, ts, "/ws/leaderboard")
	msg := readUntil(t, conn, rendered("grace"))
	assert.NotContains(t, msg.HTML, "nobody yet")
}

func TestHuntSocketRendersLevel(t *testing.T) {
	srv, ids, store := newTestServer(t)
	ids.signIn(testSID, "ada")
	title := "the gate"
	store.profiles["ada"] = &models.Profile{ID: "ada", CurrentLevel: 1}
	store.levels[1] = &models.Level{ID: 1, LevelNumber: 1, Title: &title}
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	conn := dial(t, ts, "/ws/hunt")
	msg := readUntil(t, conn, rendered("the gate"))
	assert.Contains(t, msg.HTML, "level 1")
}

func TestSocketSignOutRedirects(t *testing.T) {
	srv, ids, store := newTestServer(t)
	ids.signIn(testSID, "ada")
	store.profiles["ada"] = &models.Profile{ID: "ada", CurrentLevel: 1}
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	conn := dial(t, ts, "/ws/hunt")
	readUntil(t, conn, func(msg liveMessage) bool { return msg.Type == "render" })

	require.NoError(t, conn.WriteJSON(clientMessage{Type: "signout"}))
	msg := readUntil(t, conn, func(msg liveMessage) bool { return msg.Type == "redirect" })
	assert.Equal(t, "/signin", msg.Location)
}

func TestSocketRequiresSession(t *testing.T) {
	srv, _, _ := newTestServer(t)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	u, err := url.Parse(ts.URL)
	require.NoError(t, err)
	u.Scheme = "ws"
	u.Path = "/ws/hunt"

	_, resp, err := websocket.DefaultDialer.Dial(u.String(), nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusFound, resp.StatusCode)
}
