package sync

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSnapshotRemoteAppliesFilter(t *testing.T) {
	tr := newFakeTransport()
	now := time.Now()
	tr.putFile("a.txt", "hello", now)
	tr.putFile("debug.log", "noise", now)
	require.NoError(t, tr.Mkdir("sub"))
	tr.putFile("sub/b.txt", "world", now)

	filter := NewIgnoreList([]string{"*.log"}, nil, 0, false)
	state, err := snapshotRemote(tr, filter)
	require.NoError(t, err)

	assert.Contains(t, state, "a.txt")
	assert.Contains(t, state, "sub")
	assert.Contains(t, state, "sub/b.txt")
	assert.NotContains(t, state, "debug.log")
}

func TestDiffRemote(t *testing.T) {
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	prev := map[string]*FileMetadata{
		"kept.txt":    {Path: "kept.txt", Size: 5, ModTime: base},
		"edited.txt":  {Path: "edited.txt", Size: 5, ModTime: base},
		"removed.txt": {Path: "removed.txt", Size: 5, ModTime: base},
	}
	curr := map[string]*FileMetadata{
		"kept.txt":   {Path: "kept.txt", Size: 5, ModTime: base},
		"edited.txt": {Path: "edited.txt", Size: 9, ModTime: base.Add(time.Minute)},
		"added.txt":  {Path: "added.txt", Size: 3, ModTime: base.Add(time.Minute)},
	}

	events := diffRemote(prev, curr, time.Now())

	byPath := map[string]Event{}
	for _, ev := range events {
		assert.Equal(t, OriginRemote, ev.Origin)
		byPath[ev.Path] = ev
	}
	require.Len(t, byPath, 3)
	assert.Equal(t, KindCreate, byPath["added.txt"].Kind)
	assert.Equal(t, KindUpdate, byPath["edited.txt"].Kind)
	assert.Equal(t, KindDelete, byPath["removed.txt"].Kind)
	assert.NotContains(t, byPath, "kept.txt")
}

func TestDiffRemoteMtimeWithinTolerance(t *testing.T) {
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	prev := map[string]*FileMetadata{
		"a.txt": {Path: "a.txt", Size: 5, ModTime: base},
	}
	curr := map[string]*FileMetadata{
		"a.txt": {Path: "a.txt", Size: 5, ModTime: base.Add(500 * time.Millisecond)},
	}

	assert.Empty(t, diffRemote(prev, curr, time.Now()))
}
