package sync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	gosync "sync"
	"time"

	"github.com/gofrs/flock"
	"golang.org/x/sync/errgroup"

	"github.com/goodCoderXD/cync/internal/config"
	"github.com/goodCoderXD/cync/internal/transport"
	"github.com/goodCoderXD/cync/internal/utils"
)

// engineDirName holds the journal, lock file, and other engine state inside
// the synced tree. Always ignored.
const engineDirName = ".cync"

var ErrAlreadyRunning = errors.New("another instance is already syncing this directory")

// Engine wires the watcher, debouncer, change queue, transfer executor,
// remote poll loop, and reconnect supervisor into one mirroring pipeline.
type Engine struct {
	cfg    *config.Config
	target *transport.Target

	tr   transport.Transport
	txMu gosync.Mutex

	filter     *IgnoreList
	scanner    *LocalScanner
	journal    *SyncJournal
	watcher    *FileWatcher
	debouncer  *Debouncer
	queue      *ChangeQueue
	executor   *Executor
	supervisor *Supervisor
	reporter   *Reporter

	lock *flock.Flock

	// actions carries debounced work to the dispatch loop, keeping
	// transport round trips out of the debouncer's timer callbacks.
	actions chan PendingAction
	closed  chan struct{}

	// lastRemote is the poll loop's previous snapshot, also refreshed by
	// reconciliation passes.
	remoteMu   gosync.Mutex
	lastRemote map[string]*FileMetadata
}

func NewEngine(cfg *config.Config) (*Engine, error) {
	target, err := transport.ParseTarget(cfg.Remote)
	if err != nil {
		return nil, err
	}

	filter := NewIgnoreList(cfg.Ignore, cfg.ExtensionList(), cfg.MaxFileSize, cfg.FollowSymlinks)
	stateDir := filepath.Join(cfg.LocalDir, engineDirName)

	e := &Engine{
		cfg:        cfg,
		target:     target,
		tr:         transport.NewSFTP(target),
		filter:     filter,
		scanner:    NewLocalScanner(cfg.LocalDir, filter),
		journal:    NewSyncJournal(filepath.Join(stateDir, "journal.db")),
		watcher:    NewFileWatcher(cfg.LocalDir),
		queue:      NewChangeQueue(),
		reporter:   NewReporter(),
		lock:       flock.New(filepath.Join(stateDir, "cync.lock")),
		actions:    make(chan PendingAction, 256),
		closed:     make(chan struct{}),
		lastRemote: make(map[string]*FileMetadata),
	}

	e.debouncer = NewDebouncer(cfg.DebounceWindow, e.enqueueAction)
	e.supervisor = NewSupervisor(e.tr, cfg.ReconnectBudget, &e.txMu, e.reporter)
	e.supervisor.SetOnReconnected(e.reconcilePass)
	e.executor = NewExecutor(ExecutorOpts{
		RootDir:           cfg.LocalDir,
		Transport:         e.tr,
		TransportMu:       &e.txMu,
		Journal:           e.journal,
		Scanner:           e.scanner,
		Watcher:           e.watcher,
		Gate:              e.supervisor,
		Reporter:          e.reporter,
		RetryBudget:       cfg.RetryBudget,
		PreserveConflicts: cfg.PreserveConflicts,
	})
	return e, nil
}

// Reports returns a subscription to the engine's sync reports.
func (e *Engine) Reports() <-chan SyncReport {
	return e.reporter.Subscribe()
}

// Run connects, reconciles, and mirrors until the context is cancelled.
// A connection lost for good suspends transfers but keeps the engine up.
func (e *Engine) Run(ctx context.Context) error {
	stateDir := filepath.Join(e.cfg.LocalDir, engineDirName)
	if err := utils.EnsureDir(stateDir); err != nil {
		return fmt.Errorf("create state dir: %w", err)
	}

	locked, err := e.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !locked {
		return ErrAlreadyRunning
	}
	defer e.lock.Unlock()

	if err := e.journal.Open(); err != nil {
		return fmt.Errorf("open journal: %w", err)
	}
	defer e.journal.Close()

	slog.Info("connecting", "remote", e.target.String())
	if err := e.tr.Connect(ctx); err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	defer e.tr.Close()

	if err := e.ensureRemoteRoot(); err != nil {
		return err
	}

	slog.Info("reconciling", "local", e.cfg.LocalDir)
	if err := e.reconcilePass(ctx); err != nil {
		return fmt.Errorf("initial reconcile: %w", err)
	}

	if err := e.watcher.Start(ctx); err != nil {
		return fmt.Errorf("start watcher: %w", err)
	}
	defer e.watcher.Stop()
	defer e.debouncer.Close()
	defer e.supervisor.Close()
	defer e.reporter.Close()
	// runs before the deferred debouncer flush, so leftover actions skip
	// the stopped dispatch loop
	defer close(e.closed)

	e.reporter.Publish(SyncReport{Kind: ReportConnState, State: StateConnected})
	slog.Info("sync engine running",
		"debounce", e.cfg.DebounceWindow, "poll", e.cfg.PollInterval)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return e.pumpLocalEvents(gctx) })
	g.Go(func() error { return e.dispatchLoop(gctx) })
	g.Go(func() error { return e.pollLoop(gctx) })
	g.Go(func() error { return e.executor.Run(gctx, e.queue) })
	g.Go(func() error { return e.supervisor.Run(gctx) })

	err = g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// ensureRemoteRoot verifies the remote directory exists, creating it when
// configured to.
func (e *Engine) ensureRemoteRoot() error {
	e.txMu.Lock()
	defer e.txMu.Unlock()

	_, err := e.tr.Stat(".")
	if err == nil {
		return nil
	}
	if !errors.Is(err, transport.ErrNotExist) {
		return err
	}
	if !e.cfg.CreateMissing {
		return fmt.Errorf("remote directory %s does not exist (use --create-if-missing)", e.target.Dir)
	}
	slog.Info("creating remote directory", "dir", e.target.Dir)
	return e.tr.Mkdir(".")
}

// pumpLocalEvents feeds filtered watcher events into the debouncer.
func (e *Engine) pumpLocalEvents(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-e.watcher.Events():
			if !ok {
				return nil
			}
			if !e.includeEvent(ev) {
				continue
			}
			e.debouncer.Observe(ev)
		}
	}
}

// includeEvent applies the path filter to a watcher event. Deletes cannot
// be stat'd, so they pass on the path rules alone.
func (e *Engine) includeEvent(ev Event) bool {
	localPath := filepath.Join(e.cfg.LocalDir, filepath.FromSlash(ev.Path))
	info, err := os.Lstat(localPath)
	if err != nil {
		info = nil
	}
	return e.filter.Included(ev.Path, info)
}

// enqueueAction hands a debounced action to the dispatch loop. Called from
// debounce timer callbacks, so it must never wait on the transport. During
// shutdown the action goes straight to the queue; the contested check needs
// a live transport anyway.
func (e *Engine) enqueueAction(action PendingAction) {
	select {
	case e.actions <- action:
	case <-e.closed:
		e.queue.Enqueue(&action)
	}
}

// dispatchLoop drains debounced actions into the change queue, running the
// contested-path resolution where blocking on the transport is safe.
func (e *Engine) dispatchLoop(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case action := <-e.actions:
			e.submit(action)
		}
	}
}

// submit moves a debounced action onto the change queue. When the path
// already has a pending action from the other side, both sides changed
// inside one window; a fresh three-way resolution decides the winner.
func (e *Engine) submit(action PendingAction) {
	if pending := e.queue.Pending(action.Path); pending != nil && pending.Origin != action.Origin {
		e.resolveContested(action.Path)
		return
	}
	e.queue.Enqueue(&action)
}

// resolveContested replaces a path's pending work with the outcome of a
// full conflict resolution against live state on both sides.
func (e *Engine) resolveContested(relPath string) {
	local, err := e.scanner.StatPath(relPath)
	if err != nil {
		slog.Warn("conflict resolution stat failed", "path", relPath, "error", err)
		return
	}

	e.txMu.Lock()
	var remote *FileMetadata
	rinfo, rerr := e.tr.Stat(relPath)
	e.txMu.Unlock()
	if rerr == nil {
		remote = &FileMetadata{
			Path:    relPath,
			Size:    rinfo.Size,
			ModTime: rinfo.ModTime,
			IsDir:   rinfo.IsDir,
		}
	} else if !errors.Is(rerr, transport.ErrNotExist) {
		slog.Warn("conflict resolution remote stat failed", "path", relPath, "error", rerr)
		return
	}

	last, err := e.journal.Get(relPath)
	if err != nil {
		slog.Warn("conflict resolution journal read failed", "path", relPath, "error", err)
		return
	}

	e.queue.Complete(relPath)
	out := ResolveConflict(local, remote, last)
	action := actionFor(relPath, out, local, remote)
	if action == nil {
		return
	}
	slog.Info("conflict resolved", "path", relPath, "winner", out.Resolution)
	e.queue.Enqueue(action)
}

// actionFor turns a resolution into the pending action that applies it.
func actionFor(relPath string, out ConflictOutcome, local, remote *FileMetadata) *PendingAction {
	switch out.Resolution {
	case ResolutionLocal:
		kind := KindUpdate
		if local == nil {
			kind = KindDelete
		} else if remote == nil {
			kind = KindCreate
		}
		return &PendingAction{Path: relPath, Kind: kind, Origin: OriginLocal, EnqueuedAt: time.Now(), Conflict: out.Conflict}
	case ResolutionRemote:
		kind := KindUpdate
		if remote == nil {
			kind = KindDelete
		} else if local == nil {
			kind = KindCreate
		}
		return &PendingAction{Path: relPath, Kind: kind, Origin: OriginRemote, EnqueuedAt: time.Now(), Conflict: out.Conflict}
	}
	return nil
}

// pollLoop periodically re-lists the remote tree and feeds changes into the
// pipeline. Changes the engine itself just pushed are recognized via the
// journal and dropped instead of echoed back.
func (e *Engine) pollLoop(ctx context.Context) error {
	ticker := time.NewTicker(e.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}

		if e.supervisor.State() != StateConnected {
			continue
		}

		e.txMu.Lock()
		curr, err := snapshotRemote(e.tr, e.filter)
		e.txMu.Unlock()
		if err != nil {
			if transport.IsConnectionLost(err) {
				e.supervisor.ReportLost()
			} else {
				slog.Warn("remote poll failed", "error", err)
			}
			continue
		}

		e.remoteMu.Lock()
		prev := e.lastRemote
		e.lastRemote = curr
		e.remoteMu.Unlock()

		for _, ev := range diffRemote(prev, curr, time.Now()) {
			echo, err := e.isEcho(ev, curr[ev.Path])
			if err != nil {
				slog.Warn("echo check failed", "path", ev.Path, "error", err)
				continue
			}
			if echo {
				continue
			}
			e.debouncer.Observe(ev)
		}
	}
}

// isEcho reports whether a remote-side event merely reflects a change this
// engine made. Pushed files match the journal's remote fields; deletions
// the engine performed have no journal row left.
func (e *Engine) isEcho(ev Event, meta *FileMetadata) (bool, error) {
	entry, err := e.journal.Get(ev.Path)
	if err != nil {
		return false, err
	}
	if effectiveKind(ev.Kind) == KindDelete {
		return entry == nil, nil
	}
	if entry == nil || meta == nil {
		return false, nil
	}
	if meta.IsDir {
		return entry.IsDir, nil
	}
	return entry.RemoteSize == meta.Size && sameTime(entry.RemoteModTime, meta.ModTime), nil
}

// reconcilePass runs a full three-way comparison and enqueues the resulting
// work. Used at startup and after every reconnect.
func (e *Engine) reconcilePass(ctx context.Context) error {
	local, err := e.scanner.Scan()
	if err != nil {
		return fmt.Errorf("scan local: %w", err)
	}

	e.txMu.Lock()
	remote, err := snapshotRemote(e.tr, e.filter)
	e.txMu.Unlock()
	if err != nil {
		return fmt.Errorf("snapshot remote: %w", err)
	}

	journal, err := e.journal.GetState()
	if err != nil {
		return fmt.Errorf("read journal: %w", err)
	}

	res := Reconcile(local, remote, journal)

	for _, path := range res.Cleanups {
		if err := e.journal.Delete(path); err != nil {
			return err
		}
	}
	for _, path := range res.Converged {
		lm, rm := local[path], remote[path]
		entry := &JournalEntry{Path: path, IsDir: lm.IsDir && rm.IsDir}
		if !entry.IsDir {
			entry.LocalHash = lm.Hash
			entry.LocalSize = lm.Size
			entry.LocalModTime = lm.ModTime
			entry.RemoteSize = rm.Size
			entry.RemoteModTime = rm.ModTime
		}
		if err := e.journal.Set(entry); err != nil {
			return err
		}
	}
	for i := range res.Actions {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		e.queue.Enqueue(&res.Actions[i])
	}

	e.remoteMu.Lock()
	e.lastRemote = remote
	e.remoteMu.Unlock()

	slog.Info("reconcile complete",
		"actions", len(res.Actions), "converged", len(res.Converged), "cleaned", len(res.Cleanups))
	return nil
}

// Queue exposes the change queue for status inspection.
func (e *Engine) Queue() *ChangeQueue {
	return e.queue
}
