package events

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHub_EmitReachesAllSubscribers(t *testing.T) {
	h := NewHub()
	a, cancelA := h.Subscribe()
	defer cancelA()
	b, cancelB := h.Subscribe()
	defer cancelB()

	h.Emit(UserRegistered{Username: "magnus"})

	assert.Equal(t, UserRegistered{Username: "magnus"}, <-a)
	assert.Equal(t, UserRegistered{Username: "magnus"}, <-b)
}

func TestHub_UnsubscribeClosesChannel(t *testing.T) {
	h := NewHub()
	ch, cancel := h.Subscribe()
	require.Equal(t, 1, h.Subscribers())

	cancel()
	cancel()

	_, ok := <-ch
	assert.False(t, ok)
	assert.Equal(t, 0, h.Subscribers())

	// Emitting with no subscribers is a no-op.
	h.Emit(GamesRecorded{Count: 1})
}

func TestHub_EmitDropsForFullSubscriber(t *testing.T) {
	h := NewHub()
	ch, cancel := h.Subscribe()
	defer cancel()

	for i := 0; i < subscriberBuffer+5; i++ {
		h.Emit(GamesRecorded{Count: i})
	}

	assert.Len(t, ch, subscriberBuffer)
	assert.Equal(t, GamesRecorded{Count: 0}, <-ch)
}
