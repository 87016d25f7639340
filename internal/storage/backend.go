package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/gdg-hunt/cryptic-hunt/internal/config"
)

// ErrMultipleRows is returned by MaybeSingle when more than one row matches
var ErrMultipleRows = errors.New("query returned more than one row")

// Backend executes queries against the remote store.
// Select and Call return a JSON array of row objects.
type Backend interface {
	Select(ctx context.Context, q Query) ([]byte, error)
	Call(ctx context.Context, fn string, args map[string]any) ([]byte, error)
	Ping(ctx context.Context) error
	Close() error
}

// SelectInto runs q and decodes every row into T
func SelectInto[T any](ctx context.Context, b Backend, q Query) ([]T, error) {
	raw, err := b.Select(ctx, q)
	if err != nil {
		return nil, err
	}
	var rows []T
	if err := json.Unmarshal(raw, &rows); err != nil {
		return nil, fmt.Errorf("failed to decode %s rows: %w", q.Table, err)
	}
	return rows, nil
}

// MaybeSingle runs q expecting zero or one row. Zero rows yields nil without error.
func MaybeSingle[T any](ctx context.Context, b Backend, q Query) (*T, error) {
	rows, err := SelectInto[T](ctx, b, q.WithLimit(2))
	if err != nil {
		return nil, err
	}
	switch len(rows) {
	case 0:
		return nil, nil
	case 1:
		return &rows[0], nil
	default:
		return nil, fmt.Errorf("%s: %w", q.Table, ErrMultipleRows)
	}
}

type callerKey struct{}

// Caller identifies the participant on whose behalf a procedure is called
type Caller struct {
	UserID string
}

// WithCaller attaches the calling participant to ctx
func WithCaller(ctx context.Context, c Caller) context.Context {
	return context.WithValue(ctx, callerKey{}, c)
}

// CallerFromContext returns the participant attached by WithCaller
func CallerFromContext(ctx context.Context) (Caller, bool) {
	c, ok := ctx.Value(callerKey{}).(Caller)
	return c, ok && c.UserID != ""
}

// Open creates the backend named by the configured URL scheme
func Open(ctx context.Context, cfg config.BackendConfig) (Backend, error) {
	u, err := url.Parse(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse backend url: %w", err)
	}

	switch strings.ToLower(u.Scheme) {
	case "postgres", "postgresql":
		return NewPostgresBackend(ctx, PostgresConfig{
			DSN:      cfg.URL,
			Password: cfg.APIKey,
			MaxConns: int32(cfg.MaxConns),
		})
	case "http", "https":
		return NewRESTBackend(cfg.URL, cfg.APIKey), nil
	default:
		return nil, fmt.Errorf("unsupported backend scheme %q", u.Scheme)
	}
}
