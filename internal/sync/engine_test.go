package sync

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestActionFor(t *testing.T) {
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	file := &FileMetadata{Path: "a.txt", Size: 5, ModTime: base}

	t.Run("local wins with remote present", func(t *testing.T) {
		a := actionFor("a.txt", ConflictOutcome{Resolution: ResolutionLocal, Conflict: true}, file, file)
		require.NotNil(t, a)
		assert.Equal(t, OriginLocal, a.Origin)
		assert.Equal(t, KindUpdate, a.Kind)
		assert.True(t, a.Conflict)
	})

	t.Run("local deleted", func(t *testing.T) {
		a := actionFor("a.txt", ConflictOutcome{Resolution: ResolutionLocal}, nil, file)
		require.NotNil(t, a)
		assert.Equal(t, KindDelete, a.Kind)
	})

	t.Run("remote wins new file", func(t *testing.T) {
		a := actionFor("a.txt", ConflictOutcome{Resolution: ResolutionRemote}, nil, file)
		require.NotNil(t, a)
		assert.Equal(t, OriginRemote, a.Origin)
		assert.Equal(t, KindCreate, a.Kind)
	})

	t.Run("no-op resolution", func(t *testing.T) {
		assert.Nil(t, actionFor("a.txt", ConflictOutcome{Resolution: ResolutionNone}, file, file))
	})
}

func TestEngineDispatchDeliversDebouncedActions(t *testing.T) {
	e := &Engine{
		queue:   NewChangeQueue(),
		actions: make(chan PendingAction, 16),
		closed:  make(chan struct{}),
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go e.dispatchLoop(ctx)

	e.enqueueAction(PendingAction{Path: "a.txt", Kind: KindCreate, Origin: OriginLocal})

	assert.Eventually(t, func() bool {
		return e.queue.Len() == 1
	}, 2*time.Second, 5*time.Millisecond)
	got := e.queue.Pending("a.txt")
	require.NotNil(t, got)
	assert.Equal(t, KindCreate, got.Kind)
}

func TestEngineDebounceFlushDoesNotBlockOnDispatch(t *testing.T) {
	// no dispatch loop is draining here, standing in for a long transfer
	// holding the transport; flushes must still return immediately
	e := &Engine{
		queue:   NewChangeQueue(),
		actions: make(chan PendingAction, 256),
		closed:  make(chan struct{}),
	}
	d := NewDebouncer(5*time.Millisecond, e.enqueueAction)
	defer d.Close()

	for i := 0; i < 10; i++ {
		d.Observe(Event{Path: fmt.Sprintf("f%d.txt", i), Kind: KindCreate, Origin: OriginLocal})
	}
	require.Eventually(t, func() bool {
		return len(e.actions) == 10
	}, 2*time.Second, 5*time.Millisecond)

	done := make(chan struct{})
	go func() {
		d.Observe(Event{Path: "late.txt", Kind: KindCreate, Origin: OriginLocal})
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(500 * time.Millisecond):
		t.Fatal("observe blocked behind the dispatch channel")
	}
}

func TestEngineDispatchShutdownFallsBackToQueue(t *testing.T) {
	e := &Engine{
		queue:   NewChangeQueue(),
		actions: make(chan PendingAction), // nobody draining
		closed:  make(chan struct{}),
	}
	close(e.closed)

	// a flush racing shutdown lands in the queue instead of deadlocking
	e.enqueueAction(PendingAction{Path: "a.txt", Kind: KindUpdate, Origin: OriginLocal})
	assert.Equal(t, 1, e.queue.Len())
}

func TestEngineIsEcho(t *testing.T) {
	journal := NewSyncJournal(filepath.Join(t.TempDir(), "journal.db"))
	require.NoError(t, journal.Open())
	defer journal.Close()

	e := &Engine{journal: journal}
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, journal.Set(&JournalEntry{
		Path: "pushed.txt", LocalHash: "h1", LocalSize: 5, LocalModTime: base,
		RemoteSize: 5, RemoteModTime: base,
	}))

	t.Run("own push suppressed", func(t *testing.T) {
		ev := Event{Path: "pushed.txt", Kind: KindUpdate, Origin: OriginRemote}
		echo, err := e.isEcho(ev, &FileMetadata{Path: "pushed.txt", Size: 5, ModTime: base})
		require.NoError(t, err)
		assert.True(t, echo)
	})

	t.Run("genuine remote edit passes", func(t *testing.T) {
		ev := Event{Path: "pushed.txt", Kind: KindUpdate, Origin: OriginRemote}
		echo, err := e.isEcho(ev, &FileMetadata{Path: "pushed.txt", Size: 9, ModTime: base.Add(time.Minute)})
		require.NoError(t, err)
		assert.False(t, echo)
	})

	t.Run("own delete suppressed", func(t *testing.T) {
		// the engine deletes the journal row together with the remote file,
		// so a poll-observed deletion with no row is our own
		ev := Event{Path: "never-journaled.txt", Kind: KindDelete, Origin: OriginRemote}
		echo, err := e.isEcho(ev, nil)
		require.NoError(t, err)
		assert.True(t, echo)
	})

	t.Run("genuine remote delete passes", func(t *testing.T) {
		ev := Event{Path: "pushed.txt", Kind: KindDelete, Origin: OriginRemote}
		echo, err := e.isEcho(ev, nil)
		require.NoError(t, err)
		assert.False(t, echo)
	})
}
