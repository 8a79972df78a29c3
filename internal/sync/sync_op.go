package sync

import (
	"time"
)

// Origin identifies which side observed a change.
type Origin string

const (
	OriginLocal  Origin = "local"
	OriginRemote Origin = "remote"
)

// ActionKind is the type of pending sync action for a path.
type ActionKind string

const (
	KindCreate     ActionKind = "create"
	KindUpdate     ActionKind = "update"
	KindDelete     ActionKind = "delete"
	KindRenameFrom ActionKind = "rename_from"
	KindRenameTo   ActionKind = "rename_to"
)

// PendingAction is one unit of work in the change queue. At most one live
// PendingAction exists per path; newer observations coalesce into it.
type PendingAction struct {
	Path       string
	Kind       ActionKind
	Origin     Origin
	EnqueuedAt time.Time

	// Conflict marks an action produced by conflict resolution; the
	// executor preserves the losing copy when configured to.
	Conflict bool
}

// Event is a single raw change notification flowing from a watcher or the
// remote poller into the debouncer.
type Event struct {
	Path   string
	Kind   ActionKind
	Origin Origin
	At     time.Time
}

// effectiveKind folds the rename kinds into their transfer equivalents for
// coalescing purposes: a rename source behaves like a delete, a rename
// destination like a create.
func effectiveKind(k ActionKind) ActionKind {
	switch k {
	case KindRenameFrom:
		return KindDelete
	case KindRenameTo:
		return KindCreate
	default:
		return k
	}
}

// coalesceKinds merges a newly observed kind into a previously pending one
// for the same path. The second return is false when the pair cancels out
// entirely (a create followed by a delete leaves nothing to sync).
func coalesceKinds(prev, next ActionKind) (ActionKind, bool) {
	prev = effectiveKind(prev)
	next = effectiveKind(next)

	switch {
	case prev == KindCreate && next == KindDelete:
		// Never existed as far as the other side knows.
		return "", false
	case next == KindDelete:
		// The final observed state is "absent".
		return KindDelete, true
	case prev == KindDelete && next == KindCreate:
		// Deleted then recreated within the window: the other side may
		// still hold the old content.
		return KindUpdate, true
	case prev == KindCreate:
		// Still unknown to the other side, whatever happened since.
		return KindCreate, true
	default:
		return KindUpdate, true
	}
}
