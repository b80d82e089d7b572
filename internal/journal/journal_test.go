package journal

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thinksuit/thinksuit/internal/id"
)

func TestAppend_ReadAll_Monotonic(t *testing.T) {
	j := New(t.TempDir())
	sessionID := id.New()

	require.NoError(t, j.Append(sessionID, Entry{Event: EventSessionInput, Data: map[string]any{"input": "hi"}}))
	require.NoError(t, j.Append(sessionID, Entry{Event: EventSessionResponse, Data: map[string]any{"response": "hello"}}))

	first, err := j.ReadAll(sessionID)
	require.NoError(t, err)
	second, err := j.ReadAll(sessionID)
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Len(t, first, 2)
}

func TestDeriveStatus(t *testing.T) {
	assert.Equal(t, StatusInitialized, DeriveStatus(nil))
	assert.Equal(t, StatusBusy, DeriveStatus([]Entry{{Event: EventSessionInput}}))
	assert.Equal(t, StatusReady, DeriveStatus([]Entry{{Event: EventSessionInput}, {Event: EventSessionResponse}}))
	assert.Equal(t, StatusError, DeriveStatus([]Entry{{Event: EventSessionInput}, {Event: EventSessionError}}))
}

func TestBuildThread_OnlyInputAndResponse(t *testing.T) {
	entries := []Entry{
		{Event: EventSessionInput, Data: map[string]any{"input": "hi"}},
		{Event: EventPlanSelected, Data: map[string]any{"strategy": "direct"}},
		{Event: EventSessionResponse, Data: map[string]any{"response": "hello"}},
	}
	th := BuildThread(entries)
	require.Len(t, th.Messages, 2)
	assert.Equal(t, "hi", th.Messages[0].Content)
	assert.Equal(t, "hello", th.Messages[1].Content)
}

func TestSubscribe_ObservesAppendedOrder(t *testing.T) {
	j := New(t.TempDir())
	sessionID := id.New()

	ch, unsubscribe := j.Subscribe(sessionID)
	defer unsubscribe()

	require.NoError(t, j.Append(sessionID, Entry{Event: EventSessionInput}))
	require.NoError(t, j.Append(sessionID, Entry{Event: EventSessionResponse}))

	select {
	case e := <-ch:
		assert.Equal(t, EventSessionInput, e.Event)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for first entry")
	}
	select {
	case e := <-ch:
		assert.Equal(t, EventSessionResponse, e.Event)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for second entry")
	}
}

func TestReadFrom(t *testing.T) {
	j := New(t.TempDir())
	sessionID := id.New()
	require.NoError(t, j.Append(sessionID, Entry{Event: EventSessionInput}))
	require.NoError(t, j.Append(sessionID, Entry{Event: EventSessionResponse}))

	got, err := j.ReadFrom(sessionID, 1)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, EventSessionResponse, got[0].Event)
}
