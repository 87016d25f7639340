package cleanup

import (
	"context"
	"log/slog"
	"time"

	"github.com/gdg-hunt/cryptic-hunt/internal/identity"
)

// SessionManager is the part of the identity service the sweeper drives
type SessionManager interface {
	Due(ctx context.Context, window time.Duration) ([]identity.DueSession, error)
	Refresh(ctx context.Context, sid string) (*identity.Session, error)
	Expire(ctx context.Context, sid string) error
}

// Cleaner periodically renews sessions about to expire and removes dead ones
type Cleaner struct {
	sessions SessionManager
	interval time.Duration
	window   time.Duration
	now      func() time.Time
}

// NewCleaner creates a new sweeper. Sessions expiring within window are refreshed.
func NewCleaner(sessions SessionManager, interval, window time.Duration) *Cleaner {
	if interval <= 0 {
		interval = time.Minute
	}
	if window <= 0 {
		window = 5 * time.Minute
	}

	return &Cleaner{
		sessions: sessions,
		interval: interval,
		window:   window,
		now:      time.Now,
	}
}

// Start begins the sweeper in a goroutine
func (c *Cleaner) Start(ctx context.Context) {
	go c.run(ctx)
}

// run is the main loop for the sweeper
func (c *Cleaner) run(ctx context.Context) {
	slog.Info("session sweeper started", "interval", c.interval, "window", c.window)

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	// Run immediately on start
	c.cleanup(ctx)

	for {
		select {
		case <-ctx.Done():
			slog.Info("session sweeper stopped")
			return
		case <-ticker.C:
			c.cleanup(ctx)
		}
	}
}

// cleanup refreshes sessions inside the window. A session already past expiry
// that cannot be refreshed is expired, which signs out every connected tab.
func (c *Cleaner) cleanup(ctx context.Context) {
	slog.Debug("running session sweep")

	due, err := c.sessions.Due(ctx, c.window)
	if err != nil {
		slog.Error("failed to list sessions due for refresh", "error", err)
		return
	}

	if len(due) == 0 {
		slog.Debug("no sessions due")
		return
	}

	slog.Info("found sessions due", "count", len(due))

	now := c.now()
	for _, s := range due {
		if s.Refreshable {
			_, err := c.sessions.Refresh(ctx, s.SID)
			if err == nil {
				slog.Debug("session refreshed", "sid", s.SID)
				continue
			}
			slog.Warn("failed to refresh session",
				"error", err,
				"sid", s.SID,
				"expires_at", s.ExpiresAt,
			)
		}

		if s.ExpiresAt.After(now) {
			// still valid; the next sweep retries
			continue
		}

		if err := c.sessions.Expire(ctx, s.SID); err != nil {
			slog.Error("failed to expire session",
				"error", err,
				"sid", s.SID,
			)
			continue
		}

		slog.Info("expired session removed", "sid", s.SID, "expired_at", s.ExpiresAt)
	}
}
