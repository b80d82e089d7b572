package bus

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thinksuit/thinksuit/internal/id"
	"github.com/thinksuit/thinksuit/internal/journal"
)

func TestBus_ForwardsInOrder(t *testing.T) {
	root := t.TempDir()
	j := journal.New(root)
	b := New(j)

	sessionID := id.New()
	ch, unsubscribe := b.Subscribe(sessionID)
	defer unsubscribe()

	require.NoError(t, j.Append(sessionID, journal.Entry{Event: journal.EventSessionInput}))
	require.NoError(t, j.Append(sessionID, journal.Entry{Event: journal.EventSessionResponse}))

	select {
	case e := <-ch:
		assert.Equal(t, journal.EventSessionInput, e.Event)
	case <-time.After(time.Second):
		t.Fatal("timeout")
	}
	select {
	case e := <-ch:
		assert.Equal(t, journal.EventSessionResponse, e.Event)
	case <-time.After(time.Second):
		t.Fatal("timeout")
	}
}

func TestBus_UnsubscribeStopsDelivery(t *testing.T) {
	root := t.TempDir()
	j := journal.New(root)
	b := New(j)

	sessionID := "S2"
	ch, unsubscribe := b.Subscribe(sessionID)
	unsubscribe()
	unsubscribe() // idempotent

	_, ok := <-ch
	assert.False(t, ok)
}
