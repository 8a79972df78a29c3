package sync

import (
	"fmt"
	"time"
)

// Resolution is the outcome of comparing independently-changed copies.
type Resolution string

const (
	// ResolutionNone means the copies converged; nothing to transfer.
	ResolutionNone Resolution = "none"
	// ResolutionLocal means the local copy wins and overwrites remote.
	ResolutionLocal Resolution = "local"
	// ResolutionRemote means the remote copy wins and overwrites local.
	ResolutionRemote Resolution = "remote"
)

// ConflictOutcome is the resolver's decision for one path.
type ConflictOutcome struct {
	Resolution Resolution
	// Conflict is true when both sides changed with differing content, so
	// one side's edit is being overwritten. Reported, never silent.
	Conflict bool
}

// ResolveConflict decides what to do for a path given both sides' current
// snapshots and the last known-synced state. Policy, in order:
//
//  1. only one side changed since last sync: apply that side
//  2. both changed, content hashes equal: converged, no-op
//  3. both changed, content differs: last writer wins by mtime; ties go to
//     local, a deterministic default rather than silent ambiguity
func ResolveConflict(local, remote *FileMetadata, last *JournalEntry) ConflictOutcome {
	localChanged := localChangedSince(local, last)
	remoteChanged := remoteChangedSince(remote, last)

	switch {
	case !localChanged && !remoteChanged:
		return ConflictOutcome{Resolution: ResolutionNone}
	case localChanged && !remoteChanged:
		return ConflictOutcome{Resolution: ResolutionLocal}
	case !localChanged && remoteChanged:
		return ConflictOutcome{Resolution: ResolutionRemote}
	}

	// both changed
	if convergent(local, remote) {
		return ConflictOutcome{Resolution: ResolutionNone}
	}

	// a deletion on one side always loses to an edit on the other
	if local == nil {
		return ConflictOutcome{Resolution: ResolutionRemote, Conflict: true}
	}
	if remote == nil {
		return ConflictOutcome{Resolution: ResolutionLocal, Conflict: true}
	}

	if remote.ModTime.After(local.ModTime) && !sameTime(remote.ModTime, local.ModTime) {
		return ConflictOutcome{Resolution: ResolutionRemote, Conflict: true}
	}
	return ConflictOutcome{Resolution: ResolutionLocal, Conflict: true}
}

// localChangedSince reports whether the local snapshot differs from the
// journaled last-synced local state. Hashes are authoritative when present.
func localChangedSince(local *FileMetadata, last *JournalEntry) bool {
	if last == nil {
		return local != nil
	}
	if local == nil {
		return true // deleted since last sync
	}
	if local.IsDir || last.IsDir {
		return local.IsDir != last.IsDir
	}
	if local.Hash != "" && last.LocalHash != "" {
		return local.Hash != last.LocalHash
	}
	return local.Size != last.LocalSize || !sameTime(local.ModTime, last.LocalModTime)
}

// remoteChangedSince reports whether the remote snapshot differs from the
// journaled last-synced remote state. Only size and mtime are available.
func remoteChangedSince(remote *FileMetadata, last *JournalEntry) bool {
	if last == nil {
		return remote != nil
	}
	if remote == nil {
		return true
	}
	if remote.IsDir || last.IsDir {
		return remote.IsDir != last.IsDir
	}
	return remote.Size != last.RemoteSize || !sameTime(remote.ModTime, last.RemoteModTime)
}

// convergent reports whether two snapshots plausibly hold identical content.
func convergent(local, remote *FileMetadata) bool {
	if local == nil || remote == nil {
		return false
	}
	if local.IsDir && remote.IsDir {
		return true
	}
	if local.Hash != "" && remote.Hash != "" {
		return local.Hash == remote.Hash
	}
	return local.Size == remote.Size && sameTime(local.ModTime, remote.ModTime)
}

const conflictTimeFormat = "20060102T150405"

// conflictBackupPath names the preserved losing copy of a conflicted file.
func conflictBackupPath(path string, t time.Time) string {
	return fmt.Sprintf("%s.conflict-%s", path, t.Format(conflictTimeFormat))
}
