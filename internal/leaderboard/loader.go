// Package leaderboard keeps a ranked snapshot of participants fresh for one
// viewer: on start, on a fixed interval, on demand and, optionally, whenever
// the store reports a profile change.
package leaderboard

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/gdg-hunt/cryptic-hunt/internal/models"
)

// ErrorMessage is shown when the ranking cannot be fetched
const ErrorMessage = "leaderboard offline. try again shortly."

// Defaults for the top-N window and refresh interval
const (
	DefaultLimit    = 100
	DefaultInterval = 60 * time.Second
)

// Source returns the top entries already ranked by level desc, then earliest update
type Source interface {
	Leaderboard(ctx context.Context, limit int) ([]models.LeaderboardEntry, error)
}

// Trigger signals that the ranking may have changed
type Trigger interface {
	Subscribe() (<-chan struct{}, func())
}

// Loader fetches the leaderboard and replaces its snapshot wholesale on every load
type Loader struct {
	source   Source
	limit    int
	interval time.Duration
	trigger  Trigger
	onChange func()

	mu      sync.Mutex
	entries []models.LeaderboardEntry
	loading bool
	errMsg  string
	gen     uint64
	alive   bool
	stop    context.CancelFunc
	done    chan struct{}
}

// NewLoader creates a loader. trigger may be nil.
func NewLoader(source Source, limit int, interval time.Duration, trigger Trigger, onChange func()) *Loader {
	if limit <= 0 {
		limit = DefaultLimit
	}
	if interval <= 0 {
		interval = DefaultInterval
	}

	return &Loader{
		source:   source,
		limit:    limit,
		interval: interval,
		trigger:  trigger,
		onChange: onChange,
		loading:  true,
		alive:    true,
	}
}

// Start begins loading in a goroutine until ctx is done or Close is called
func (l *Loader) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)

	l.mu.Lock()
	l.stop = cancel
	l.done = make(chan struct{})
	done := l.done
	l.mu.Unlock()

	go l.run(ctx, done)
}

func (l *Loader) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	var changes <-chan struct{}
	if l.trigger != nil {
		ch, release := l.trigger.Subscribe()
		defer release()
		changes = ch
	}

	ticker := time.NewTicker(l.interval)
	defer ticker.Stop()

	l.load(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.load(ctx)
		case <-changes:
			slog.Debug("profiles changed, reloading leaderboard")
			l.load(ctx)
		}
	}
}

// Refresh starts a manual reload. It is ignored while a load is running and
// reports whether a load was started.
func (l *Loader) Refresh(ctx context.Context) bool {
	l.mu.Lock()
	busy := l.loading || !l.alive
	l.mu.Unlock()
	if busy {
		return false
	}

	go l.load(ctx)
	return true
}

// load fetches the ranking. Only the most recently issued load commits.
func (l *Loader) load(ctx context.Context) {
	l.mu.Lock()
	if !l.alive {
		l.mu.Unlock()
		return
	}
	l.gen++
	gen := l.gen
	l.loading = true
	l.mu.Unlock()
	l.notify()

	entries, err := l.source.Leaderboard(ctx, l.limit)

	l.mu.Lock()
	if !l.alive || l.gen != gen {
		l.mu.Unlock()
		return
	}
	if err != nil {
		slog.Error("failed to load leaderboard", "error", err)
		l.entries = nil
		l.errMsg = ErrorMessage
	} else {
		l.entries = entries
		l.errMsg = ""
	}
	l.loading = false
	l.mu.Unlock()

	l.notify()
}

// Snapshot returns the current ranking state
func (l *Loader) Snapshot() models.LeaderboardSnapshot {
	l.mu.Lock()
	defer l.mu.Unlock()
	return models.LeaderboardSnapshot{
		Entries: l.entries,
		Loading: l.loading,
		Error:   l.errMsg,
	}
}

// Close stops the loader and discards loads still in flight
func (l *Loader) Close() {
	l.mu.Lock()
	l.alive = false
	stop := l.stop
	done := l.done
	l.mu.Unlock()

	if stop != nil {
		stop()
		<-done
	}
}

func (l *Loader) notify() {
	if l.onChange != nil {
		l.onChange()
	}
}
