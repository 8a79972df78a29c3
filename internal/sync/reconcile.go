package sync

import (
	"sort"
	"time"
)

// ReconcileResult is the plan produced by a full three-way comparison of
// local state, remote state, and the journal of last-synced state.
type ReconcileResult struct {
	// Actions are transfers and deletes to perform, in path order.
	Actions []PendingAction
	// Cleanups are journal rows whose path vanished on both sides.
	Cleanups []string
	// Converged are paths identical on both sides but absent or stale in
	// the journal; their rows need refreshing without any transfer.
	Converged []string
}

// Reconcile computes the work needed to make local and remote converge.
// Used at startup, after reconnect, and on demand; steady-state changes
// flow through the watcher and poll loop instead.
func Reconcile(local, remote map[string]*FileMetadata, journal map[string]*JournalEntry) ReconcileResult {
	var res ReconcileResult

	paths := make(map[string]struct{}, len(local)+len(remote)+len(journal))
	for p := range local {
		paths[p] = struct{}{}
	}
	for p := range remote {
		paths[p] = struct{}{}
	}
	for p := range journal {
		paths[p] = struct{}{}
	}

	now := time.Now()
	for _, path := range sortedKeys(paths) {
		lm := local[path]
		rm := remote[path]
		last := journal[path]

		if lm == nil && rm == nil {
			if last != nil {
				res.Cleanups = append(res.Cleanups, path)
			}
			continue
		}

		out := ResolveConflict(lm, rm, last)
		switch out.Resolution {
		case ResolutionNone:
			if lm != nil && rm != nil && staleJournal(lm, rm, last) {
				res.Converged = append(res.Converged, path)
			}
		case ResolutionLocal:
			kind := KindUpdate
			if lm == nil {
				kind = KindDelete
			} else if rm == nil {
				kind = KindCreate
			}
			res.Actions = append(res.Actions, PendingAction{
				Path:       path,
				Kind:       kind,
				Origin:     OriginLocal,
				EnqueuedAt: now,
				Conflict:   out.Conflict,
			})
		case ResolutionRemote:
			kind := KindUpdate
			if rm == nil {
				kind = KindDelete
			} else if lm == nil {
				kind = KindCreate
			}
			res.Actions = append(res.Actions, PendingAction{
				Path:       path,
				Kind:       kind,
				Origin:     OriginRemote,
				EnqueuedAt: now,
				Conflict:   out.Conflict,
			})
		}
	}

	return res
}

// staleJournal reports whether the journal row for a converged path is
// missing or no longer matches either side's current snapshot.
func staleJournal(lm, rm *FileMetadata, last *JournalEntry) bool {
	if last == nil {
		return true
	}
	if lm.IsDir || rm.IsDir {
		return last.IsDir != (lm.IsDir && rm.IsDir)
	}
	if lm.Hash != "" && last.LocalHash != lm.Hash {
		return true
	}
	if lm.Size != last.LocalSize || !sameTime(lm.ModTime, last.LocalModTime) {
		return true
	}
	return rm.Size != last.RemoteSize || !sameTime(rm.ModTime, last.RemoteModTime)
}

func sortedKeys(set map[string]struct{}) []string {
	keys := make([]string, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
