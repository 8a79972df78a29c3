package sync

import (
	"context"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/rjeczalik/notify"
)

const (
	defaultIgnoreTimeout   = time.Second
	defaultCleanupInterval = 15 * time.Second
	eventBufferSize        = 128
)

// FileWatcher turns raw OS notifications for a directory tree into the
// engine's Event stream. Paths the engine itself just wrote can be
// suppressed once via IgnoreOnce so the executor's own writes do not echo
// back as new changes.
type FileWatcher struct {
	watchDir  string
	rawEvents chan notify.EventInfo
	events    chan Event

	ignore   map[string]time.Time
	ignoreMu sync.Mutex

	cleanupInterval time.Duration
	done            chan struct{}
	wg              sync.WaitGroup
}

func NewFileWatcher(watchDir string) *FileWatcher {
	return &FileWatcher{
		watchDir:        watchDir,
		ignore:          make(map[string]time.Time),
		cleanupInterval: defaultCleanupInterval,
		done:            make(chan struct{}),
	}
}

func (fw *FileWatcher) Start(ctx context.Context) error {
	slog.Info("file watcher start", "dir", fw.watchDir)

	fw.rawEvents = make(chan notify.EventInfo, eventBufferSize)
	fw.events = make(chan Event, eventBufferSize)

	recursivePath := fw.watchDir + "/..."
	if err := notify.Watch(recursivePath, fw.rawEvents, notify.All); err != nil {
		return err
	}

	fw.wg.Add(1)
	go fw.translateEvents(ctx)

	fw.wg.Add(1)
	go fw.cleanupExpiredEntries(ctx)

	return nil
}

func (fw *FileWatcher) Stop() {
	slog.Info("file watcher stopping")

	close(fw.done)
	if fw.rawEvents != nil {
		notify.Stop(fw.rawEvents)
	}
	fw.wg.Wait()

	slog.Info("file watcher stopped")
}

func (fw *FileWatcher) Events() <-chan Event {
	return fw.events
}

// IgnoreOnce suppresses the next event for an absolute path, within the
// default timeout.
func (fw *FileWatcher) IgnoreOnce(path string) {
	fw.IgnoreOnceWithTimeout(path, defaultIgnoreTimeout)
}

// IgnoreOnceWithTimeout suppresses the next event for an absolute path,
// within a custom timeout.
func (fw *FileWatcher) IgnoreOnceWithTimeout(path string, timeout time.Duration) {
	fw.ignoreMu.Lock()
	defer fw.ignoreMu.Unlock()
	fw.ignore[path] = time.Now().Add(timeout)
}

func (fw *FileWatcher) isTemporarilyIgnored(path string) bool {
	fw.ignoreMu.Lock()
	defer fw.ignoreMu.Unlock()

	expiry, exists := fw.ignore[path]
	if !exists {
		return false
	}

	delete(fw.ignore, path)
	return !time.Now().After(expiry)
}

func (fw *FileWatcher) translateEvents(ctx context.Context) {
	defer func() {
		fw.wg.Done()
		close(fw.events)
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case <-fw.done:
			return
		case raw, ok := <-fw.rawEvents:
			if !ok {
				return
			}

			path := raw.Path()
			if fw.isTemporarilyIgnored(path) {
				slog.Debug("file watcher suppressed", "path", path)
				continue
			}

			relPath, err := RelPath(fw.watchDir, path)
			if err != nil || relPath == "." {
				continue
			}

			ev := Event{
				Path:   relPath,
				Kind:   eventKind(raw),
				Origin: OriginLocal,
				At:     time.Now(),
			}

			select {
			case fw.events <- ev:
			default:
				slog.Warn("file watcher dropped", "reason", "channel full", "path", path)
			}
		}
	}
}

// eventKind maps a raw notification to the engine's action kinds. Renames
// surface on the old path; whether the path still exists tells the source
// half from the destination half.
func eventKind(raw notify.EventInfo) ActionKind {
	switch raw.Event() {
	case notify.Create:
		return KindCreate
	case notify.Write:
		return KindUpdate
	case notify.Remove:
		return KindDelete
	case notify.Rename:
		if _, err := os.Lstat(raw.Path()); err == nil {
			return KindRenameTo
		}
		return KindRenameFrom
	default:
		return KindUpdate
	}
}

func (fw *FileWatcher) cleanupExpiredEntries(ctx context.Context) {
	defer fw.wg.Done()

	ticker := time.NewTicker(fw.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-fw.done:
			return
		case <-ticker.C:
			fw.ignoreMu.Lock()
			now := time.Now()
			for path, expiry := range fw.ignore {
				if now.After(expiry) {
					delete(fw.ignore, path)
				}
			}
			fw.ignoreMu.Unlock()
		}
	}
}
