package leaderboard

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gdg-hunt/cryptic-hunt/internal/models"
)

const (
	waitFor = time.Second
	tick    = 5 * time.Millisecond
)

type fakeSource struct {
	mu      sync.Mutex
	entries []models.LeaderboardEntry
	err     error
	gate    chan struct{}
	calls   int
	limits  []int
}

func (s *fakeSource) Leaderboard(ctx context.Context, limit int) ([]models.LeaderboardEntry, error) {
	s.mu.Lock()
	s.calls++
	s.limits = append(s.limits, limit)
	gate := s.gate
	s.mu.Unlock()

	if gate != nil {
		<-gate
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.entries, s.err
}

func (s *fakeSource) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func (s *fakeSource) set(entries []models.LeaderboardEntry, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = entries
	s.err = err
}

type fakeTrigger struct {
	ch       chan struct{}
	released bool
}

func (t *fakeTrigger) Subscribe() (<-chan struct{}, func()) {
	return t.ch, func() { t.released = true }
}

func entry(id string, level int, at time.Time) models.LeaderboardEntry {
	return models.LeaderboardEntry{ID: id, CurrentLevel: level, UpdatedAt: &at}
}

func ids(entries []models.LeaderboardEntry) []string {
	out := make([]string, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.ID)
	}
	return out
}

func settled(l *Loader) func() bool {
	return func() bool { return !l.Snapshot().Loading }
}

func TestLoaderKeepsSourceOrder(t *testing.T) {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	// already ranked by the store: level desc, earlier solver first
	src := &fakeSource{entries: []models.LeaderboardEntry{
		entry("early-five", 5, base),
		entry("late-five", 5, base.Add(time.Minute)),
		entry("three", 3, base),
		entry("two", 2, base),
	}}

	l := NewLoader(src, 0, time.Hour, nil, nil)
	assert.True(t, l.Snapshot().Loading)

	l.Start(context.Background())
	defer l.Close()

	require.Eventually(t, settled(l), waitFor, tick)
	snap := l.Snapshot()
	assert.Equal(t, []string{"early-five", "late-five", "three", "two"}, ids(snap.Entries))
	assert.Empty(t, snap.Error)
	assert.Equal(t, []int{DefaultLimit}, src.limits)
}

func TestLoaderEmptyResultIsNotAnError(t *testing.T) {
	src := &fakeSource{}
	l := NewLoader(src, 100, time.Hour, nil, nil)
	l.Start(context.Background())
	defer l.Close()

	require.Eventually(t, settled(l), waitFor, tick)
	snap := l.Snapshot()
	assert.True(t, snap.Empty())
	assert.Empty(t, snap.Error)
}

func TestLoaderErrorReplacesEntries(t *testing.T) {
	src := &fakeSource{entries: []models.LeaderboardEntry{entry("a", 1, time.Now())}}
	l := NewLoader(src, 100, time.Hour, nil, nil)
	l.Start(context.Background())
	defer l.Close()
	require.Eventually(t, settled(l), waitFor, tick)

	src.set(nil, errors.New("relation does not exist"))
	require.True(t, l.Refresh(context.Background()))
	require.Eventually(t, func() bool { return l.Snapshot().Error != "" }, waitFor, tick)

	snap := l.Snapshot()
	assert.Equal(t, ErrorMessage, snap.Error)
	assert.Empty(t, snap.Entries)
	assert.False(t, snap.Empty())
}

func TestLoaderRefreshIgnoredWhileLoading(t *testing.T) {
	gate := make(chan struct{})
	src := &fakeSource{gate: gate}
	l := NewLoader(src, 100, time.Hour, nil, nil)
	l.Start(context.Background())
	defer l.Close()

	require.Eventually(t, func() bool { return src.callCount() == 1 }, waitFor, tick)
	assert.False(t, l.Refresh(context.Background()))

	close(gate)
	require.Eventually(t, settled(l), waitFor, tick)
	assert.Equal(t, 1, src.callCount())

	assert.True(t, l.Refresh(context.Background()))
	require.Eventually(t, func() bool { return src.callCount() == 2 }, waitFor, tick)
}

func TestLoaderReloadsOnInterval(t *testing.T) {
	src := &fakeSource{}
	l := NewLoader(src, 100, 20*time.Millisecond, nil, nil)
	l.Start(context.Background())
	defer l.Close()

	require.Eventually(t, func() bool { return src.callCount() >= 3 }, waitFor, tick)
}

func TestLoaderReloadsOnTrigger(t *testing.T) {
	src := &fakeSource{}
	trigger := &fakeTrigger{ch: make(chan struct{}, 1)}
	l := NewLoader(src, 100, time.Hour, trigger, nil)
	l.Start(context.Background())

	require.Eventually(t, func() bool { return src.callCount() == 1 }, waitFor, tick)

	src.set([]models.LeaderboardEntry{entry("new", 1, time.Now())}, nil)
	trigger.ch <- struct{}{}
	require.Eventually(t, func() bool { return len(l.Snapshot().Entries) == 1 }, waitFor, tick)

	l.Close()
	assert.True(t, trigger.released)
}

func TestLoaderCloseDiscardsLateResult(t *testing.T) {
	gate := make(chan struct{})
	src := &fakeSource{gate: gate, entries: []models.LeaderboardEntry{entry("late", 1, time.Now())}}
	l := NewLoader(src, 100, time.Hour, nil, nil)

	go l.load(context.Background())
	require.Eventually(t, func() bool { return src.callCount() == 1 }, waitFor, tick)

	l.Close()
	close(gate)

	assert.Never(t, func() bool { return len(l.Snapshot().Entries) > 0 }, 50*time.Millisecond, tick)
	assert.False(t, l.Refresh(context.Background()))
}
