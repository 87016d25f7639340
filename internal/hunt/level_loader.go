package hunt

import (
	"context"
	"log/slog"
	"sync"

	"github.com/gdg-hunt/cryptic-hunt/internal/models"
)

// LevelErrorMessage is shown when a level cannot be fetched
const LevelErrorMessage = "unable to load level right now."

// LevelSource fetches a level by number. A missing level is nil without error.
type LevelSource interface {
	GetLevel(ctx context.Context, levelNumber int) (*models.Level, error)
}

// LevelState is a snapshot of the loader
type LevelState struct {
	Active  *int
	Level   *models.Level
	Loading bool
	Error   string
}

// LevelLoader fetches the puzzle for the effective level number
type LevelLoader struct {
	source       LevelSource
	profileLevel func() *int
	onEnter      func()
	onChange     func()

	mu      sync.Mutex
	active  *int
	level   *models.Level
	loading bool
	errMsg  string
	gen     uint64
	alive   bool
}

// NewLevelLoader creates a loader. profileLevel supplies the default level
// number; onEnter fires each time a level is entered, before its fetch.
func NewLevelLoader(source LevelSource, profileLevel func() *int, onEnter, onChange func()) *LevelLoader {
	return &LevelLoader{
		source:       source,
		profileLevel: profileLevel,
		onEnter:      onEnter,
		onChange:     onChange,
		loading:      true,
		alive:        true,
	}
}

// Load fetches the level for override, or for the profile's level when
// override is nil. It blocks until the fetch settles. A load superseded by a
// newer one never commits.
func (l *LevelLoader) Load(ctx context.Context, override *int) {
	target := override
	if target == nil && l.profileLevel != nil {
		target = l.profileLevel()
	}

	l.mu.Lock()
	if !l.alive {
		l.mu.Unlock()
		return
	}
	l.gen++
	gen := l.gen

	if target == nil {
		l.active = nil
		l.level = nil
		l.loading = false
		l.mu.Unlock()
		l.notify()
		return
	}

	n := *target
	l.active = &n
	l.loading = true
	l.mu.Unlock()

	if l.onEnter != nil {
		l.onEnter()
	}
	l.notify()

	level, err := l.source.GetLevel(ctx, n)

	l.mu.Lock()
	if !l.alive || l.gen != gen {
		l.mu.Unlock()
		return
	}
	if err != nil {
		slog.Error("failed to load level", "level", n, "error", err)
		l.level = nil
		l.errMsg = LevelErrorMessage
	} else {
		l.level = level
		l.errMsg = ""
	}
	l.loading = false
	l.mu.Unlock()

	l.notify()
}

// Active returns the effective level number of the latest load
func (l *LevelLoader) Active() *int {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.active == nil {
		return nil
	}
	n := *l.active
	return &n
}

// Snapshot returns the loader state
func (l *LevelLoader) Snapshot() LevelState {
	l.mu.Lock()
	defer l.mu.Unlock()
	return LevelState{
		Active:  l.active,
		Level:   l.level,
		Loading: l.loading,
		Error:   l.errMsg,
	}
}

// Close discards any fetch still in flight
func (l *LevelLoader) Close() {
	l.mu.Lock()
	l.alive = false
	l.mu.Unlock()
}

func (l *LevelLoader) notify() {
	if l.onChange != nil {
		l.onChange()
	}
}
