package storage

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBroadcasterCoalesces(t *testing.T) {
	hub := newBroadcaster()
	ch, release := hub.subscribe()
	defer release()

	hub.broadcast()
	hub.broadcast()
	hub.broadcast()

	assert.Len(t, ch, 1)
	<-ch
	assert.Len(t, ch, 0)
}

func TestBroadcasterRelease(t *testing.T) {
	hub := newBroadcaster()
	ch, release := hub.subscribe()
	release()
	release()

	hub.broadcast()
	assert.Len(t, ch, 0)
}
