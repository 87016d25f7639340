package api

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gdg-hunt/cryptic-hunt/internal/identity"
)

const signInFailed = "sign-in failed. try again."

func (s *Server) handleConfigPage(w http.ResponseWriter, r *http.Request) {
	s.views.page(w, http.StatusServiceUnavailable, "config", pageData{
		Title:       "configuration",
		Missing:     s.config.MissingSettings(),
		RedirectURL: s.config.Identity.RedirectURL,
	})
}

func (s *Server) handleSignInPage(w http.ResponseWriter, r *http.Request) {
	if s.session(r) != nil {
		http.Redirect(w, r, "/hunt", http.StatusFound)
		return
	}
	s.renderSignIn(w, http.StatusOK, "")
}

// handleSignIn starts the OAuth flow and sends the browser to the provider
func (s *Server) handleSignIn(w http.ResponseWriter, r *http.Request) {
	provider := s.deps.Identity.ForBrowser(BrowserFromContext(r.Context()))

	target, err := provider.SignInWithOAuth(r.Context(),
		s.config.Identity.Provider,
		s.config.Server.PublicURL+"/hunt",
		map[string]string{
			"access_type": "offline",
			"prompt":      "consent",
		},
	)
	if err != nil {
		slog.Error("failed to start sign-in", "error", err, "request_id", requestID(r))
		s.renderSignIn(w, http.StatusBadGateway, err.Error())
		return
	}

	http.Redirect(w, r, target, http.StatusFound)
}

// handleCallback completes the OAuth flow for this browser
func (s *Server) handleCallback(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if reason := q.Get("error"); reason != "" {
		msg := q.Get("error_description")
		if msg == "" {
			msg = reason
		}
		slog.Warn("identity provider rejected sign-in", "error", reason, "request_id", requestID(r))
		s.renderSignIn(w, http.StatusBadRequest, msg)
		return
	}

	target, err := s.deps.Identity.CompleteSignIn(r.Context(),
		BrowserFromContext(r.Context()),
		q.Get("state"),
		q.Get("code"),
	)
	if err != nil {
		if errors.Is(err, identity.ErrStateNotFound) {
			slog.Warn("sign-in callback with unknown state", "request_id", requestID(r))
		} else {
			slog.Error("failed to complete sign-in", "error", err, "request_id", requestID(r))
		}
		s.renderSignIn(w, http.StatusBadRequest, signInFailed)
		return
	}
	if target == "" {
		target = "/hunt"
	}

	http.Redirect(w, r, target, http.StatusFound)
}

func (s *Server) handleSignOut(w http.ResponseWriter, r *http.Request) {
	provider := s.deps.Identity.ForBrowser(BrowserFromContext(r.Context()))
	if err := provider.SignOut(r.Context()); err != nil {
		slog.Error("failed to sign out", "error", err, "request_id", requestID(r))
	}
	http.Redirect(w, r, "/signin", http.StatusFound)
}

func (s *Server) handleHuntPage(w http.ResponseWriter, r *http.Request) {
	s.views.page(w, http.StatusOK, "live", pageData{Title: "hunt", Socket: "/ws/hunt"})
}

func (s *Server) handleBoardPage(w http.ResponseWriter, r *http.Request) {
	s.views.page(w, http.StatusOK, "live", pageData{Title: "leaderboard", Socket: "/ws/leaderboard"})
}

func (s *Server) renderSignIn(w http.ResponseWriter, status int, msg string) {
	s.views.page(w, status, "signin", pageData{
		Title:    "sign in",
		Provider: s.config.Identity.Provider,
		Error:    msg,
	})
}
