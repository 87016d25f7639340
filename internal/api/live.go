package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/gorilla/websocket"

	"github.com/gdg-hunt/cryptic-hunt/internal/auth"
	"github.com/gdg-hunt/cryptic-hunt/internal/hunt"
	"github.com/gdg-hunt/cryptic-hunt/internal/leaderboard"
	"github.com/gdg-hunt/cryptic-hunt/internal/models"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

// liveMessage is sent from server to browser
type liveMessage struct {
	Type     string `json:"type"`
	HTML     string `json:"html,omitempty"`
	Location string `json:"location,omitempty"`
}

// clientMessage is sent from browser to server
type clientMessage struct {
	Type string `json:"type"`
	Data string `json:"data,omitempty"`
}

// liveSession is the server side of one live view
type liveSession interface {
	// render returns the message for the current state. ok is false while
	// there is nothing worth sending yet.
	render() (msg liveMessage, ok bool)
	handle(ctx context.Context, msg clientMessage)
	close()
}

type openFunc func(ctx context.Context, changed func()) (liveSession, error)

func (s *Server) upgrader() *websocket.Upgrader {
	return &websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			if origin == "" {
				return true
			}
			u, err := url.Parse(origin)
			if err != nil {
				return false
			}
			public, _ := url.Parse(s.config.Server.PublicURL)
			return u.Host == r.Host || (public != nil && u.Host == public.Host)
		},
	}
}

// serveLive upgrades the request and pumps renders until either side goes away
func (s *Server) serveLive(w http.ResponseWriter, r *http.Request, view string, open openFunc) {
	conn, err := s.upgrader().Upgrade(w, r, nil)
	if err != nil {
		slog.Error("failed to upgrade to websocket", "error", err)
		return
	}
	defer conn.Close()

	// the connection, not the upgrade request, bounds everything below
	ctx, cancel := context.WithCancel(context.WithoutCancel(r.Context()))
	defer cancel()

	lc := &liveConn{conn: conn, dirty: make(chan struct{}, 1)}

	session, err := open(ctx, lc.markDirty)
	if err != nil {
		slog.Error("failed to open live view", "view", view, "error", err)
		return
	}
	defer session.close()

	slog.Info("live view connected", "view", view, "request_id", requestID(r))

	lc.markDirty()
	go func() {
		defer cancel()
		lc.readLoop(ctx, session)
	}()
	lc.writeLoop(ctx, session)

	slog.Info("live view disconnected", "view", view, "request_id", requestID(r))
}

// liveConn coalesces state changes into renders. A render only ever reads the
// latest state, so one pending signal is enough.
type liveConn struct {
	conn  *websocket.Conn
	dirty chan struct{}
}

func (c *liveConn) markDirty() {
	select {
	case c.dirty <- struct{}{}:
	default:
	}
}

func (c *liveConn) writeLoop(ctx context.Context, session liveSession) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			c.conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		case <-c.dirty:
			msg, ok := session.render()
			if !ok {
				continue
			}
			if err := c.send(msg); err != nil {
				return
			}
			if msg.Type == "redirect" {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *liveConn) readLoop(ctx context.Context, session liveSession) {
	c.conn.SetReadLimit(8192)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				slog.Debug("websocket read error", "error", err)
			}
			return
		}
		c.conn.SetReadDeadline(time.Now().Add(pongWait))

		var msg clientMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			slog.Debug("invalid message format", "error", err)
			continue
		}
		session.handle(ctx, msg)
	}
}

func (c *liveConn) send(msg liveMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		slog.Error("failed to marshal live message", "error", err)
		return err
	}
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		slog.Debug("failed to send live message", "error", err)
		return err
	}
	return nil
}

// Hunt view

func (s *Server) handleHuntSocket(w http.ResponseWriter, r *http.Request) {
	s.serveLive(w, r, "hunt", s.openHunt)
}

type huntSession struct {
	views  *renderer
	client *hunt.Client
}

func (s *Server) openHunt(ctx context.Context, changed func()) (liveSession, error) {
	provider := s.deps.Identity.ForBrowser(BrowserFromContext(ctx))
	ctx = auth.NewContext(ctx, auth.NewFacade(provider, s.deps.Store))

	client := hunt.NewClient(ctx, s.deps.Store, s.config.Hunt.AdvanceDelay, changed)
	if err := client.Start(ctx); err != nil {
		client.Close()
		return nil, err
	}
	return &huntSession{views: s.views, client: client}, nil
}

func (h *huntSession) render() (liveMessage, bool) {
	view := h.client.View()
	if !view.SignedIn {
		if view.AuthLoading {
			return liveMessage{}, false
		}
		return liveMessage{Type: "redirect", Location: "/signin"}, true
	}

	html, err := h.views.partial("hunt", newHuntData(view))
	if err != nil {
		slog.Error("failed to render hunt view", "error", err)
		return liveMessage{}, false
	}
	return liveMessage{Type: "render", HTML: html}, true
}

func (h *huntSession) handle(ctx context.Context, msg clientMessage) {
	switch msg.Type {
	case "answer":
		h.client.SetAnswer(msg.Data)
	case "submit":
		h.client.SetAnswer(msg.Data)
		go func() {
			if err := h.client.Submit(); err != nil && !errors.Is(err, hunt.ErrBusy) {
				slog.Error("failed to submit answer", "error", err)
			}
		}()
	case "signout":
		go h.client.SignOut()
	}
}

func (h *huntSession) close() {
	h.client.Close()
}

// Leaderboard view

func (s *Server) handleBoardSocket(w http.ResponseWriter, r *http.Request) {
	s.serveLive(w, r, "leaderboard", s.openBoard)
}

type boardSession struct {
	views  *renderer
	facade *auth.Facade
	loader *leaderboard.Loader
}

// callerSource attaches the viewer's current token to every ranking fetch
type callerSource struct {
	facade *auth.Facade
	source leaderboard.Source
}

func (c callerSource) Leaderboard(ctx context.Context, limit int) ([]models.LeaderboardEntry, error) {
	return c.source.Leaderboard(c.facade.WithCaller(ctx), limit)
}

func (s *Server) openBoard(ctx context.Context, changed func()) (liveSession, error) {
	provider := s.deps.Identity.ForBrowser(BrowserFromContext(ctx))
	facade := auth.NewFacade(provider, s.deps.Store)
	facade.Watch(changed)
	if err := facade.Mount(ctx); err != nil {
		facade.Unmount()
		return nil, err
	}

	loader := leaderboard.NewLoader(
		callerSource{facade: facade, source: s.deps.Store},
		s.config.Hunt.LeaderboardLimit,
		s.config.Hunt.LeaderboardInterval,
		s.deps.Changes,
		changed,
	)
	loader.Start(ctx)

	return &boardSession{views: s.views, facade: facade, loader: loader}, nil
}

func (b *boardSession) render() (liveMessage, bool) {
	state := b.facade.State()
	if state.Session == nil {
		if state.Loading {
			return liveMessage{}, false
		}
		return liveMessage{Type: "redirect", Location: "/signin"}, true
	}

	html, err := b.views.partial("board", newBoardData(state.Profile.Name(), b.loader.Snapshot()))
	if err != nil {
		slog.Error("failed to render leaderboard view", "error", err)
		return liveMessage{}, false
	}
	return liveMessage{Type: "render", HTML: html}, true
}

func (b *boardSession) handle(ctx context.Context, msg clientMessage) {
	switch msg.Type {
	case "refresh":
		b.loader.Refresh(ctx)
	case "signout":
		go b.facade.SignOut(ctx)
	}
}

func (b *boardSession) close() {
	b.loader.Close()
	b.facade.Unmount()
}
