package sync

import (
	"log/slog"
	"sync"
	"time"
)

// Debouncer coalesces bursts of change events for the same path into a
// single pending action. An event (re)arms a per-path timer; once the quiet
// window elapses with no further events for that path, one coalesced action
// is flushed downstream. Editors that write via temp-file-then-rename fire
// several raw notifications per logical edit; without this the executor
// would issue wasteful or order-inverted transfers.
type Debouncer struct {
	window time.Duration
	flush  func(PendingAction)

	mu      sync.Mutex
	pending map[string]*PendingAction
	timers  map[string]*time.Timer
	closed  bool
}

func NewDebouncer(window time.Duration, flush func(PendingAction)) *Debouncer {
	return &Debouncer{
		window:  window,
		flush:   flush,
		pending: make(map[string]*PendingAction),
		timers:  make(map[string]*time.Timer),
	}
}

// Observe records one raw event. Coalescing rules: a delete always wins over
// a prior create/update within the window; a create followed by a delete
// cancels entirely.
func (d *Debouncer) Observe(ev Event) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return
	}

	prev, exists := d.pending[ev.Path]
	if exists && prev.Origin != ev.Origin {
		// Independent changes from both sides; flush the earlier one now so
		// the engine sees both and can run conflict resolution.
		d.flushLocked(ev.Path)
		exists = false
	}

	kind := effectiveKind(ev.Kind)
	if exists {
		merged, ok := coalesceKinds(prev.Kind, ev.Kind)
		if !ok {
			// net no-op: drop the pending action entirely
			d.dropLocked(ev.Path)
			slog.Debug("debounce cancel", "path", ev.Path)
			return
		}
		kind = merged
	}

	d.pending[ev.Path] = &PendingAction{
		Path:       ev.Path,
		Kind:       kind,
		Origin:     ev.Origin,
		EnqueuedAt: ev.At,
	}

	if timer, ok := d.timers[ev.Path]; ok {
		timer.Stop()
	}
	path := ev.Path
	d.timers[path] = time.AfterFunc(d.window, func() {
		d.mu.Lock()
		defer d.mu.Unlock()
		d.flushLocked(path)
	})
}

// PendingCount returns the number of paths waiting out their quiet window.
func (d *Debouncer) PendingCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.pending)
}

// Close stops all timers and flushes whatever is still pending so no
// observed change is lost on shutdown.
func (d *Debouncer) Close() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return
	}
	for path, timer := range d.timers {
		timer.Stop()
		d.flushLocked(path)
	}
	d.closed = true
}

func (d *Debouncer) flushLocked(path string) {
	action, ok := d.pending[path]
	if !ok {
		return
	}
	d.dropLocked(path)
	slog.Debug("debounce flush", "path", path, "kind", action.Kind, "origin", action.Origin)
	d.flush(*action)
}

func (d *Debouncer) dropLocked(path string) {
	if timer, ok := d.timers[path]; ok {
		timer.Stop()
		delete(d.timers, path)
	}
	delete(d.pending, path)
}
