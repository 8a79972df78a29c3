package sync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	gosync "sync"
	"time"

	"github.com/goodCoderXD/cync/internal/transport"
	"github.com/goodCoderXD/cync/internal/utils"
)

const retryBaseDelay = 250 * time.Millisecond

// connGate is the executor's view of the reconnect supervisor.
type connGate interface {
	AwaitConnected(ctx context.Context) error
	ReportLost()
}

// Executor drains the change queue and applies each pending action to the
// side opposite its origin. Retries transient remote errors, hands
// connection losses to the supervisor, and keeps the journal current.
type Executor struct {
	rootDir string
	tr      transport.Transport
	txMu    *gosync.Mutex

	journal  *SyncJournal
	scanner  *LocalScanner
	watcher  *FileWatcher
	gate     connGate
	reporter *Reporter

	retryBudget       int
	preserveConflicts bool

	// createdDirs caches remote directories already created this session,
	// saving a round trip per file in the common case.
	createdDirs map[string]struct{}
}

type ExecutorOpts struct {
	RootDir           string
	Transport         transport.Transport
	TransportMu       *gosync.Mutex
	Journal           *SyncJournal
	Scanner           *LocalScanner
	Watcher           *FileWatcher
	Gate              connGate
	Reporter          *Reporter
	RetryBudget       int
	PreserveConflicts bool
}

func NewExecutor(opts ExecutorOpts) *Executor {
	return &Executor{
		rootDir:           opts.RootDir,
		tr:                opts.Transport,
		txMu:              opts.TransportMu,
		journal:           opts.Journal,
		scanner:           opts.Scanner,
		watcher:           opts.Watcher,
		gate:              opts.Gate,
		reporter:          opts.Reporter,
		retryBudget:       opts.RetryBudget,
		preserveConflicts: opts.PreserveConflicts,
		createdDirs:       make(map[string]struct{}),
	}
}

// Run drains the queue until it closes or the context is cancelled.
func (e *Executor) Run(ctx context.Context, queue *ChangeQueue) error {
	for {
		action, err := queue.Dequeue(ctx)
		if err != nil {
			if errors.Is(err, ErrQueueClosed) {
				return nil
			}
			return err
		}

		if err := e.gate.AwaitConnected(ctx); err != nil {
			queue.Requeue(action)
			return err
		}

		e.process(ctx, queue, action)
	}
}

// process applies one action with retries. Connection losses requeue the
// action and park the executor on the gate; other errors consume the retry
// budget and are reported when it runs out.
func (e *Executor) process(ctx context.Context, queue *ChangeQueue, action *PendingAction) {
	var lastErr error
	for attempt := 1; attempt <= e.retryBudget; attempt++ {
		backup, err := e.apply(action)
		if err == nil {
			queue.Complete(action.Path)
			if action.Conflict {
				// conflicts are reported even when no backup copy is kept
				e.report(SyncReport{
					Kind:   ReportConflict,
					Path:   action.Path,
					Origin: action.Origin,
					Winner: winnerOf(action.Origin),
					Backup: backup,
				})
			}
			e.report(SyncReport{
				Kind:     ReportSynced,
				Path:     action.Path,
				Origin:   action.Origin,
				Action:   action.Kind,
				Attempts: attempt,
			})
			return
		}

		if transport.IsConnectionLost(err) {
			slog.Warn("transfer interrupted", "path", action.Path, "error", err)
			queue.Requeue(action)
			e.gate.ReportLost()
			return
		}

		lastErr = err
		slog.Debug("transfer attempt failed",
			"path", action.Path, "attempt", attempt, "budget", e.retryBudget, "error", err)

		select {
		case <-ctx.Done():
			queue.Requeue(action)
			return
		case <-time.After(retryBaseDelay << (attempt - 1)):
		}
	}

	// budget exhausted: drop the action rather than wedge the queue
	queue.Complete(action.Path)
	slog.Error("transfer failed", "path", action.Path, "kind", action.Kind, "error", lastErr)
	e.report(SyncReport{
		Kind:     ReportError,
		Path:     action.Path,
		Origin:   action.Origin,
		Action:   action.Kind,
		Err:      lastErr,
		Attempts: e.retryBudget,
	})
}

// apply performs one action. The first return is the path of a preserved
// conflict copy, when one was made.
func (e *Executor) apply(action *PendingAction) (string, error) {
	switch action.Origin {
	case OriginLocal:
		switch effectiveKind(action.Kind) {
		case KindDelete:
			return "", e.deleteRemote(action.Path)
		default:
			return e.push(action)
		}
	case OriginRemote:
		switch effectiveKind(action.Kind) {
		case KindDelete:
			return "", e.deleteLocal(action.Path)
		default:
			return e.pull(action)
		}
	}
	return "", fmt.Errorf("unknown origin %q", action.Origin)
}

func winnerOf(origin Origin) Resolution {
	if origin == OriginLocal {
		return ResolutionLocal
	}
	return ResolutionRemote
}

// push uploads a local file or directory to the remote side.
func (e *Executor) push(action *PendingAction) (string, error) {
	relPath := action.Path
	localPath := filepath.Join(e.rootDir, filepath.FromSlash(relPath))

	local, err := e.scanner.StatPath(relPath)
	if err != nil {
		return "", fmt.Errorf("stat %s: %w", relPath, err)
	}
	if local == nil {
		// vanished between enqueue and transfer; nothing to push
		slog.Debug("skipping push, local path gone", "path", relPath)
		return "", e.journal.Delete(relPath)
	}

	e.txMu.Lock()
	defer e.txMu.Unlock()

	if local.IsDir {
		if err := e.tr.Mkdir(relPath); err != nil {
			return "", err
		}
		e.createdDirs[relPath] = struct{}{}
		return "", e.journal.Set(&JournalEntry{Path: relPath, IsDir: true})
	}

	if err := e.ensureRemoteParent(relPath); err != nil {
		return "", err
	}

	var backup string
	if action.Conflict && e.preserveConflicts {
		backup, err = e.backupRemote(relPath)
		if err != nil {
			slog.Warn("conflict backup failed", "path", relPath, "error", err)
		}
	}

	if err := e.tr.Put(localPath, relPath); err != nil {
		return "", err
	}
	if strings.HasSuffix(relPath, ".sh") {
		if err := e.tr.Chmod(relPath, 0o755); err != nil {
			slog.Warn("chmod failed", "path", relPath, "error", err)
		}
	}

	remote, err := e.tr.Stat(relPath)
	if err != nil {
		return "", err
	}
	return backup, e.journal.Set(&JournalEntry{
		Path:          relPath,
		LocalHash:     local.Hash,
		LocalSize:     local.Size,
		LocalModTime:  local.ModTime,
		RemoteSize:    remote.Size,
		RemoteModTime: remote.ModTime,
	})
}

// pull downloads a remote file or directory to the local side.
func (e *Executor) pull(action *PendingAction) (string, error) {
	relPath := action.Path
	localPath := filepath.Join(e.rootDir, filepath.FromSlash(relPath))

	e.txMu.Lock()
	defer e.txMu.Unlock()

	remote, err := e.tr.Stat(relPath)
	if err != nil {
		if errors.Is(err, transport.ErrNotExist) {
			slog.Debug("skipping pull, remote path gone", "path", relPath)
			return "", e.journal.Delete(relPath)
		}
		return "", err
	}

	if remote.IsDir {
		e.watcher.IgnoreOnce(localPath)
		if err := os.MkdirAll(localPath, 0o755); err != nil {
			return "", err
		}
		return "", e.journal.Set(&JournalEntry{Path: relPath, IsDir: true})
	}

	if err := utils.EnsureParent(localPath); err != nil {
		return "", err
	}

	var backup string
	if action.Conflict && e.preserveConflicts {
		backup, err = e.backupLocal(localPath)
		if err != nil {
			slog.Warn("conflict backup failed", "path", relPath, "error", err)
		}
	}

	e.watcher.IgnoreOnce(localPath)
	if err := e.tr.Get(relPath, localPath); err != nil {
		return "", err
	}

	local, err := e.scanner.StatPath(relPath)
	if err != nil || local == nil {
		return "", fmt.Errorf("stat after pull %s: %w", relPath, err)
	}
	return backup, e.journal.Set(&JournalEntry{
		Path:          relPath,
		LocalHash:     local.Hash,
		LocalSize:     local.Size,
		LocalModTime:  local.ModTime,
		RemoteSize:    remote.Size,
		RemoteModTime: remote.ModTime,
	})
}

// deleteRemote removes the remote counterpart of a path deleted locally.
// Directories are emptied bottom-up using journaled children only, so
// remote-only files the engine never synced are left in place.
func (e *Executor) deleteRemote(relPath string) error {
	e.txMu.Lock()
	defer e.txMu.Unlock()

	entry, err := e.journal.Get(relPath)
	if err != nil {
		return err
	}

	if entry != nil && entry.IsDir {
		children, err := e.journaledChildren(relPath)
		if err != nil {
			return err
		}
		for _, child := range children {
			if err := e.tr.Delete(child); err != nil && !errors.Is(err, transport.ErrNotExist) {
				return err
			}
			if err := e.journal.Delete(child); err != nil {
				return err
			}
		}
	}

	if err := e.tr.Delete(relPath); err != nil && !errors.Is(err, transport.ErrNotExist) {
		// a directory that still holds files the engine never synced is
		// not ours to remove; anything else is a real failure
		if entry != nil && entry.IsDir {
			if leftovers, lerr := e.tr.List(relPath); lerr == nil && len(leftovers) > 0 {
				slog.Warn("remote delete skipped, directory not empty", "path", relPath)
				return e.journal.Delete(relPath)
			}
		}
		return err
	}
	delete(e.createdDirs, relPath)
	return e.journal.Delete(relPath)
}

// deleteLocal removes the local counterpart of a path deleted remotely.
func (e *Executor) deleteLocal(relPath string) error {
	localPath := filepath.Join(e.rootDir, filepath.FromSlash(relPath))

	info, err := os.Lstat(localPath)
	if errors.Is(err, os.ErrNotExist) {
		return e.journal.Delete(relPath)
	}
	if err != nil {
		return err
	}

	e.watcher.IgnoreOnce(localPath)
	if info.IsDir() {
		children, jerr := e.journaledChildren(relPath)
		if jerr != nil {
			return jerr
		}
		for _, child := range children {
			childAbs := filepath.Join(e.rootDir, filepath.FromSlash(child))
			e.watcher.IgnoreOnce(childAbs)
			if rerr := os.Remove(childAbs); rerr != nil && !errors.Is(rerr, os.ErrNotExist) {
				return rerr
			}
			if jerr := e.journal.Delete(child); jerr != nil {
				return jerr
			}
		}
		if rerr := os.Remove(localPath); rerr != nil && !errors.Is(rerr, os.ErrNotExist) {
			// only stand down if the directory genuinely still holds
			// files the engine never synced
			if left, derr := os.ReadDir(localPath); derr == nil && len(left) > 0 {
				slog.Warn("local delete skipped, directory not empty", "path", relPath)
			} else {
				return rerr
			}
		}
	} else {
		if rerr := os.Remove(localPath); rerr != nil && !errors.Is(rerr, os.ErrNotExist) {
			return rerr
		}
	}
	return e.journal.Delete(relPath)
}

// journaledChildren returns every journaled path strictly under dir,
// deepest first so files precede their parent directories.
func (e *Executor) journaledChildren(dir string) ([]string, error) {
	state, err := e.journal.GetState()
	if err != nil {
		return nil, err
	}
	prefix := dir + "/"
	var children []string
	for p := range state {
		if strings.HasPrefix(p, prefix) {
			children = append(children, p)
		}
	}
	sort.Slice(children, func(i, j int) bool {
		return strings.Count(children[i], "/") > strings.Count(children[j], "/")
	})
	return children, nil
}

// ensureRemoteParent creates the remote parent directory chain once per
// session. Caller holds txMu.
func (e *Executor) ensureRemoteParent(relPath string) error {
	parent := pathDir(relPath)
	if parent == "." {
		return nil
	}
	if _, ok := e.createdDirs[parent]; ok {
		return nil
	}
	if err := e.tr.Mkdir(parent); err != nil {
		return err
	}
	e.createdDirs[parent] = struct{}{}
	return nil
}

// backupLocal preserves the local copy about to be overwritten by a
// conflicting remote change. The backup name matches the built-in ignore
// rules so it is never synced back.
func (e *Executor) backupLocal(localPath string) (string, error) {
	if _, err := os.Lstat(localPath); errors.Is(err, os.ErrNotExist) {
		return "", nil
	}
	backup := conflictBackupPath(localPath, time.Now())
	e.watcher.IgnoreOnce(backup)
	if err := utils.CopyFile(localPath, backup); err != nil {
		return "", err
	}
	return backup, nil
}

// backupRemote preserves the remote copy about to be overwritten by a
// conflicting local change, by downloading it next to the local file.
// Caller holds txMu.
func (e *Executor) backupRemote(relPath string) (string, error) {
	localPath := filepath.Join(e.rootDir, filepath.FromSlash(relPath))
	backup := conflictBackupPath(localPath, time.Now())
	e.watcher.IgnoreOnce(backup)
	if err := e.tr.Get(relPath, backup); err != nil {
		if errors.Is(err, transport.ErrNotExist) {
			return "", nil
		}
		return "", err
	}
	return backup, nil
}

func (e *Executor) report(rep SyncReport) {
	if e.reporter != nil {
		e.reporter.Publish(rep)
	}
}

// pathDir is path.Dir for the slash-separated relative paths used
// throughout the engine.
func pathDir(p string) string {
	idx := strings.LastIndex(p, "/")
	if idx < 0 {
		return "."
	}
	return p[:idx]
}
