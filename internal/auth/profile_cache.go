package auth

import (
	"context"
	"log/slog"
	"sync"

	"github.com/gdg-hunt/cryptic-hunt/internal/models"
)

// ProfileSource fetches a profile row by participant id. A missing row is nil without error.
type ProfileSource interface {
	GetProfile(ctx context.Context, id string) (*models.Profile, error)
}

// ProfileCache is a read-through cache of the signed-in participant's profile.
// Every fetch carries the generation it was issued under; only the latest
// generation may commit.
type ProfileCache struct {
	source   ProfileSource
	onChange func()

	mu      sync.Mutex
	userID  string
	keyed   bool
	profile *models.Profile
	loading bool
	gen     uint64
	alive   bool
}

// NewProfileCache creates a live cache
func NewProfileCache(source ProfileSource, onChange func()) *ProfileCache {
	return &ProfileCache{
		source:   source,
		onChange: onChange,
		alive:    true,
	}
}

// SetUser rekeys the cache. Repeating the current identifier does nothing; a
// new one supersedes any fetch in flight. An empty identifier clears the
// profile without I/O.
func (c *ProfileCache) SetUser(ctx context.Context, userID string) {
	c.mu.Lock()
	if !c.alive || (c.keyed && c.userID == userID) {
		c.mu.Unlock()
		return
	}

	c.keyed = true
	c.userID = userID
	c.profile = nil
	c.gen++
	gen := c.gen

	if userID == "" || c.source == nil {
		c.loading = false
		c.mu.Unlock()
		c.notify()
		return
	}

	c.loading = true
	c.mu.Unlock()
	c.notify()

	go func() {
		profile, err := c.source.GetProfile(ctx, userID)
		if err != nil {
			slog.Error("failed to load profile", "user_id", userID, "error", err)
			profile = nil
		}
		c.commit(gen, profile)
	}()
}

// Refresh re-fetches the profile for the current identifier. On error the
// previous profile is kept and the error returned.
func (c *ProfileCache) Refresh(ctx context.Context) error {
	c.mu.Lock()
	if !c.alive {
		c.mu.Unlock()
		return nil
	}
	userID := c.userID
	c.gen++
	gen := c.gen

	if userID == "" || c.source == nil {
		c.profile = nil
		c.loading = false
		c.mu.Unlock()
		c.notify()
		return nil
	}
	c.mu.Unlock()

	profile, err := c.source.GetProfile(ctx, userID)
	if err != nil {
		slog.Error("failed to refresh profile", "user_id", userID, "error", err)

		c.mu.Lock()
		settled := c.alive && c.gen == gen && c.loading
		if settled {
			c.loading = false
		}
		c.mu.Unlock()
		if settled {
			c.notify()
		}
		return err
	}

	c.commit(gen, profile)
	return nil
}

// Clear drops the cached profile locally and supersedes any fetch in flight
func (c *ProfileCache) Clear() {
	c.mu.Lock()
	if !c.alive {
		c.mu.Unlock()
		return
	}
	c.gen++
	c.profile = nil
	c.loading = false
	c.mu.Unlock()

	c.notify()
}

// Close marks the cache dead; late results are discarded
func (c *ProfileCache) Close() {
	c.mu.Lock()
	c.alive = false
	c.mu.Unlock()
}

// Profile returns the cached profile
func (c *ProfileCache) Profile() *models.Profile {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.profile
}

// Loading reports whether a keyed fetch is in flight
func (c *ProfileCache) Loading() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.loading
}

func (c *ProfileCache) commit(gen uint64, profile *models.Profile) {
	c.mu.Lock()
	if !c.alive || c.gen != gen {
		c.mu.Unlock()
		return
	}
	c.profile = profile
	c.loading = false
	c.mu.Unlock()

	c.notify()
}

func (c *ProfileCache) notify() {
	if c.onChange != nil {
		c.onChange()
	}
}
