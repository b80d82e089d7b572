package approval

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRequest_ResolveApprove(t *testing.T) {
	r := New(time.Minute)
	id, wait := r.Request("roll_dice", map[string]any{"notation": "d20"})

	ok := r.Resolve(id, true)
	assert.True(t, ok)

	select {
	case d := <-wait:
		assert.True(t, d.Approved)
		assert.False(t, d.Expired)
	case <-time.After(time.Second):
		t.Fatal("timed out")
	}
}

func TestResolve_ExactlyOnce(t *testing.T) {
	r := New(time.Minute)
	id, _ := r.Request("roll_dice", nil)

	first := r.Resolve(id, true)
	second := r.Resolve(id, true)
	assert.True(t, first)
	assert.False(t, second)
}

func TestResolve_UnknownID(t *testing.T) {
	r := New(time.Minute)
	assert.False(t, r.Resolve("nonexistent", true))
}

func TestExpiry_DeniesAfterTimeout(t *testing.T) {
	r := New(20 * time.Millisecond)
	_, wait := r.Request("roll_dice", nil)

	select {
	case d := <-wait:
		assert.False(t, d.Approved)
		assert.True(t, d.Expired)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for expiry")
	}
}

func TestInfo_ReflectsPendingState(t *testing.T) {
	r := New(time.Minute)
	id, _ := r.Request("roll_dice", map[string]any{"notation": "d20"})

	info, ok := r.Info(id)
	require.True(t, ok)
	assert.Equal(t, StatePending, info.State)
	assert.Equal(t, "roll_dice", info.Tool)

	r.Resolve(id, true)
	_, ok = r.Info(id)
	assert.False(t, ok)
}
