package api

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/gdg-hunt/cryptic-hunt/internal/identity"
)

const browserCookie = "hunt_sid"

// browserMiddleware assigns every browser an opaque id cookie. Sessions are
// stored against this id, never against anything the browser can choose.
func (s *Server) browserMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sid := ""
		if c, err := r.Cookie(browserCookie); err == nil {
			if _, err := uuid.Parse(c.Value); err == nil {
				sid = c.Value
			}
		}

		if sid == "" {
			sid = identity.NewBrowserID()
			http.SetCookie(w, &http.Cookie{
				Name:     browserCookie,
				Value:    sid,
				Path:     "/",
				MaxAge:   int(s.config.Identity.SessionTTL.Seconds()),
				HttpOnly: true,
				Secure:   strings.HasPrefix(s.config.Server.PublicURL, "https://"),
				SameSite: http.SameSiteLaxMode,
			})
		}

		next.ServeHTTP(w, r.WithContext(ContextWithBrowser(r.Context(), sid)))
	})
}

// requireSession sends signed-out browsers to the sign-in page
func (s *Server) requireSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		session := s.session(r)
		if session == nil {
			http.Redirect(w, r, "/signin", http.StatusFound)
			return
		}

		next.ServeHTTP(w, r.WithContext(ContextWithSession(r.Context(), session)))
	})
}

// requireSessionAPI rejects signed-out API calls with a JSON error
func (s *Server) requireSessionAPI(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		session := s.session(r)
		if session == nil {
			respondError(w, http.StatusUnauthorized, "not_authenticated", "sign in required")
			return
		}

		next.ServeHTTP(w, r.WithContext(ContextWithSession(r.Context(), session)))
	})
}

// session looks up the browser's current session. Lookup failures count as signed out.
func (s *Server) session(r *http.Request) *identity.Session {
	sid := BrowserFromContext(r.Context())
	session, err := s.deps.Identity.ForBrowser(sid).GetSession(r.Context())
	if err != nil {
		slog.Error("failed to look up session",
			"error", err,
			"request_id", requestID(r),
		)
		return nil
	}
	return session
}
