package sync

import (
	"context"
	"errors"
	"log/slog"
	"sync"
)

var ErrQueueClosed = errors.New("change queue closed")

// ChangeQueue is the ordered, deduplicated work queue between the debouncer
// and the transfer executor. Invariants:
//
//   - at most one queued action per path; newer actions coalesce into it
//   - insertion order is preserved across distinct paths (FIFO fairness)
//   - a path with an in-flight action is not re-dequeued until Complete,
//     so actions for one path are applied strictly in enqueue order
type ChangeQueue struct {
	mu       sync.Mutex
	order    []string
	queued   map[string]*PendingAction
	inflight map[string]struct{}
	closed   bool

	signal chan struct{}
	done   chan struct{}
}

func NewChangeQueue() *ChangeQueue {
	return &ChangeQueue{
		queued:   make(map[string]*PendingAction),
		inflight: make(map[string]struct{}),
		signal:   make(chan struct{}, 1),
		done:     make(chan struct{}),
	}
}

// Enqueue adds an action, coalescing with any queued action for the same
// path. A create/delete pair that nets out to nothing removes the entry.
func (q *ChangeQueue) Enqueue(action *PendingAction) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}

	if prev, ok := q.queued[action.Path]; ok {
		merged, keep := coalesceKinds(prev.Kind, action.Kind)
		if !keep {
			q.removeLocked(action.Path)
			slog.Debug("queue cancel", "path", action.Path)
			return
		}
		next := *action
		next.Kind = merged
		next.Conflict = prev.Conflict || action.Conflict
		q.queued[action.Path] = &next
		q.notify()
		return
	}

	q.queued[action.Path] = action
	q.order = append(q.order, action.Path)
	q.notify()
}

// Requeue puts an interrupted action back at the head of the queue and
// clears its in-flight mark, preserving per-path ordering.
func (q *ChangeQueue) Requeue(action *PendingAction) {
	q.mu.Lock()
	defer q.mu.Unlock()

	delete(q.inflight, action.Path)
	if newer, ok := q.queued[action.Path]; ok {
		// a newer action arrived while this one was in flight; merge so the
		// interrupted work is not lost
		if merged, keep := coalesceKinds(action.Kind, newer.Kind); keep {
			newer.Kind = merged
			newer.Conflict = newer.Conflict || action.Conflict
		} else {
			q.removeLocked(action.Path)
		}
	} else {
		q.queued[action.Path] = action
		q.order = append([]string{action.Path}, q.order...)
	}
	q.notify()
}

// Dequeue blocks until an action for a path with no in-flight action is
// available, marks that path in flight, and returns the action.
func (q *ChangeQueue) Dequeue(ctx context.Context) (*PendingAction, error) {
	for {
		q.mu.Lock()
		i := 0
		for i < len(q.order) {
			path := q.order[i]
			action, ok := q.queued[path]
			if !ok {
				// stale entry
				q.order = append(q.order[:i], q.order[i+1:]...)
				continue
			}
			if _, busy := q.inflight[path]; busy {
				i++
				continue
			}
			q.order = append(q.order[:i], q.order[i+1:]...)
			delete(q.queued, path)
			q.inflight[path] = struct{}{}
			q.mu.Unlock()
			return action, nil
		}
		closed := q.closed
		q.mu.Unlock()

		if closed {
			return nil, ErrQueueClosed
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-q.done:
			return nil, ErrQueueClosed
		case <-q.signal:
		}
	}
}

// Complete clears the in-flight mark for a path, making any queued-next
// action for it eligible again.
func (q *ChangeQueue) Complete(path string) {
	q.mu.Lock()
	defer q.mu.Unlock()

	delete(q.inflight, path)
	if _, ok := q.queued[path]; ok {
		q.notify()
	}
}

// Pending returns a copy of the queued (not in-flight) action for a path.
func (q *ChangeQueue) Pending(path string) *PendingAction {
	q.mu.Lock()
	defer q.mu.Unlock()

	action, ok := q.queued[path]
	if !ok {
		return nil
	}
	cp := *action
	return &cp
}

// Len returns the number of queued actions.
func (q *ChangeQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.queued)
}

// InFlight returns the number of actions currently being executed.
func (q *ChangeQueue) InFlight() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.inflight)
}

// Close wakes all blocked Dequeue calls. Queued actions are discarded.
func (q *ChangeQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}
	q.closed = true
	close(q.done)
}

func (q *ChangeQueue) removeLocked(path string) {
	delete(q.queued, path)
	for i, p := range q.order {
		if p == path {
			q.order = append(q.order[:i], q.order[i+1:]...)
			break
		}
	}
}

func (q *ChangeQueue) notify() {
	select {
	case q.signal <- struct{}{}:
	default:
	}
}
