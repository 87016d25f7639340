package api

import (
	"context"

	"github.com/gdg-hunt/cryptic-hunt/internal/identity"
)

type contextKey string

const (
	browserContextKey contextKey = "browser_id"
	sessionContextKey contextKey = "session"
)

// BrowserFromContext extracts the browser id from context
func BrowserFromContext(ctx context.Context) string {
	sid, _ := ctx.Value(browserContextKey).(string)
	return sid
}

// ContextWithBrowser adds the browser id to context
func ContextWithBrowser(ctx context.Context, sid string) context.Context {
	return context.WithValue(ctx, browserContextKey, sid)
}

// SessionFromContext extracts the session resolved by requireSession
func SessionFromContext(ctx context.Context) *identity.Session {
	session, ok := ctx.Value(sessionContextKey).(*identity.Session)
	if !ok {
		return nil
	}
	return session
}

// ContextWithSession adds the session to context
func ContextWithSession(ctx context.Context, session *identity.Session) context.Context {
	return context.WithValue(ctx, sessionContextKey, session)
}
