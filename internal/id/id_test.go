package id

import (
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewAt_Sortable(t *testing.T) {
	t1 := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	t2 := time.Date(2026, 1, 2, 3, 4, 6, 0, time.UTC)
	a := NewAt(t1)
	b := NewAt(t2)

	ids := []string{b, a}
	sort.Strings(ids)
	assert.Equal(t, []string{a, b}, ids)
}

func TestPartition(t *testing.T) {
	idStr := NewAt(time.Date(2026, 7, 31, 14, 5, 6, 0, time.UTC))
	year, month, day, hour, err := Partition(idStr)
	require.NoError(t, err)
	assert.Equal(t, "2026", year)
	assert.Equal(t, "07", month)
	assert.Equal(t, "31", day)
	assert.Equal(t, "14", hour)
}

func TestPartition_Malformed(t *testing.T) {
	_, _, _, _, err := Partition("not-an-id")
	assert.Error(t, err)
}

func TestStreamPath_CreatesDirs(t *testing.T) {
	root := t.TempDir()
	idStr := NewAt(time.Date(2026, 7, 31, 14, 5, 6, 0, time.UTC))
	p, err := StreamPath(root, idStr)
	require.NoError(t, err)
	assert.Contains(t, p, "sessions/streams/2026/07/31/14")
	assert.Contains(t, p, idStr+".jsonl")
}
