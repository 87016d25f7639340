// Package hunt runs the puzzle flow for one connected participant: load the
// level for their progress, verify answers and advance on success.
package hunt

import (
	"context"
	"sync"
	"time"

	"github.com/gdg-hunt/cryptic-hunt/internal/auth"
	"github.com/gdg-hunt/cryptic-hunt/internal/models"
)

// Store is the remote data the hunt reads
type Store interface {
	LevelSource
	Oracle
}

// Client composes the auth facade, a level loader and a verification
// workflow for one connection
type Client struct {
	facade   *auth.Facade
	loader   *LevelLoader
	workflow *Workflow
	onChange func()

	mu        sync.Mutex
	ctx       context.Context
	started   bool
	closed    bool
	watched   bool
	lastLevel *int
}

// NewClient builds a client around the facade installed in ctx.
// It panics if ctx carries no facade.
func NewClient(ctx context.Context, store Store, advanceDelay time.Duration, onChange func()) *Client {
	c := &Client{
		facade:   auth.FromContext(ctx),
		onChange: onChange,
		ctx:      ctx,
	}
	c.loader = NewLevelLoader(store, c.profileLevel, c.enterLevel, c.notify)
	c.workflow = NewWorkflow(store, c.facade, c.loader, advanceDelay, c.notify)
	c.facade.Watch(c.authChanged)
	return c
}

// Start mounts the facade and performs the first level load
func (c *Client) Start(ctx context.Context) error {
	c.mu.Lock()
	c.ctx = ctx
	c.started = true
	c.mu.Unlock()

	if err := c.facade.Mount(ctx); err != nil {
		return err
	}
	c.authChanged()
	return nil
}

// Close tears down in order: pending advance, level fetches, auth subscription
func (c *Client) Close() {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()

	c.workflow.Close()
	c.loader.Close()
	c.facade.Unmount()
}

// SetAnswer records the answer field
func (c *Client) SetAnswer(answer string) {
	c.workflow.SetAnswer(answer)
}

// Submit verifies the current answer on behalf of the signed-in participant
func (c *Client) Submit() error {
	return c.workflow.Submit(c.facade.WithCaller(c.context()))
}

// SignOut signs the participant out everywhere this browser is connected
func (c *Client) SignOut() error {
	return c.facade.SignOut(c.context())
}

// Auth returns the facade state
func (c *Client) Auth() auth.State {
	return c.facade.State()
}

// View returns everything the hunt page renders
func (c *Client) View() models.HuntView {
	state := c.facade.State()
	level := c.loader.Snapshot()
	flow := c.workflow.Snapshot()

	return models.HuntView{
		SignedIn:     state.Session != nil,
		AuthLoading:  state.Loading,
		DisplayName:  state.Profile.Name(),
		LevelNumber:  state.Profile.Level(),
		Level:        level.Level,
		LevelLoading: level.Loading,
		LevelError:   level.Error,
		Answer:       flow.Answer,
		Epoch:        flow.Epoch,
		Status:       flow.Status,
		Message:      flow.Message,
		SubmitLocked: flow.SubmitLocked,
	}
}

// authChanged reloads the level whenever the profile's current level changes
func (c *Client) authChanged() {
	level := c.profileLevel()

	c.mu.Lock()
	if !c.started || c.closed || (c.watched && sameLevel(level, c.lastLevel)) {
		c.mu.Unlock()
		c.notify()
		return
	}
	c.watched = true
	c.lastLevel = level
	ctx := c.ctx
	c.mu.Unlock()

	go c.loader.Load(c.facade.WithCaller(ctx), nil)
	c.notify()
}

func (c *Client) profileLevel() *int {
	return c.facade.State().Profile.Level()
}

func (c *Client) enterLevel() {
	c.workflow.EnterLevel()
}

func (c *Client) context() context.Context {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ctx
}

func (c *Client) notify() {
	if c.onChange != nil {
		c.onChange()
	}
}

func sameLevel(a, b *int) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}
