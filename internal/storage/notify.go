package storage

import (
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"time"

	"github.com/lib/pq"
)

// ProfilesChannel is the NOTIFY channel raised by the profiles trigger
const ProfilesChannel = "hunt_profiles_changed"

// broadcaster fans a coalesced signal out to subscribers
type broadcaster struct {
	mu   sync.Mutex
	next int
	subs map[int]chan struct{}
}

func newBroadcaster() *broadcaster {
	return &broadcaster{subs: make(map[int]chan struct{})}
}

func (b *broadcaster) subscribe() (<-chan struct{}, func()) {
	ch := make(chan struct{}, 1)

	b.mu.Lock()
	id := b.next
	b.next++
	b.subs[id] = ch
	b.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
		})
	}
}

// broadcast never blocks: a subscriber with a pending signal keeps just one
func (b *broadcaster) broadcast() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, ch := range b.subs {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}

// ChangeFeed listens for profile changes via PostgreSQL LISTEN/NOTIFY
type ChangeFeed struct {
	listener *pq.Listener
	hub      *broadcaster
	done     chan struct{}
	wg       sync.WaitGroup
}

// NewChangeFeed connects a listener to ProfilesChannel. password overrides the
// DSN password when set.
func NewChangeFeed(dsn, password string) (*ChangeFeed, error) {
	if password != "" {
		u, err := url.Parse(dsn)
		if err != nil {
			return nil, fmt.Errorf("failed to parse DSN: %w", err)
		}
		u.User = url.UserPassword(u.User.Username(), password)
		dsn = u.String()
	}

	listener := pq.NewListener(dsn, 10*time.Second, time.Minute, func(ev pq.ListenerEventType, err error) {
		if err != nil {
			slog.Warn("change feed listener event", "event", ev, "error", err)
		}
	})

	if err := listener.Listen(ProfilesChannel); err != nil {
		listener.Close()
		return nil, fmt.Errorf("failed to listen on %s: %w", ProfilesChannel, err)
	}

	f := &ChangeFeed{
		listener: listener,
		hub:      newBroadcaster(),
		done:     make(chan struct{}),
	}

	f.wg.Add(1)
	go f.run()

	slog.Info("change feed started", "channel", ProfilesChannel)
	return f, nil
}

// Subscribe returns a signal channel and its release function
func (f *ChangeFeed) Subscribe() (<-chan struct{}, func()) {
	return f.hub.subscribe()
}

func (f *ChangeFeed) run() {
	defer f.wg.Done()

	ticker := time.NewTicker(90 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-f.done:
			return
		case _, ok := <-f.listener.Notify:
			if !ok {
				return
			}
			// a nil notification follows a reconnect; rows may have changed meanwhile
			f.hub.broadcast()
		case <-ticker.C:
			if err := f.listener.Ping(); err != nil {
				slog.Warn("change feed ping failed", "error", err)
			}
		}
	}
}

// Close stops the listener
func (f *ChangeFeed) Close() error {
	close(f.done)
	err := f.listener.Close()
	f.wg.Wait()
	return err
}
