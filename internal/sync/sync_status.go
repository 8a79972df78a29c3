package sync

import (
	"log/slog"
	"sync"
	"time"
)

// ReportKind classifies a sync report entry.
type ReportKind string

const (
	ReportSynced    ReportKind = "synced"
	ReportConflict  ReportKind = "conflict"
	ReportError     ReportKind = "error"
	ReportConnState ReportKind = "connection"
)

// SyncReport is one observable engine event, surfaced to subscribers.
type SyncReport struct {
	Kind     ReportKind
	Path     string
	Origin   Origin
	Action   ActionKind
	Winner   Resolution
	Backup   string
	State    ConnectionState
	Err      error
	At       time.Time
	Attempts int
}

// Reporter fans out sync reports to subscribers. Slow subscribers drop
// reports rather than stall the engine.
type Reporter struct {
	mu   sync.Mutex
	subs []chan SyncReport
}

func NewReporter() *Reporter {
	return &Reporter{}
}

// Subscribe returns a buffered channel of reports. The channel is closed
// when the reporter shuts down.
func (r *Reporter) Subscribe() <-chan SyncReport {
	r.mu.Lock()
	defer r.mu.Unlock()

	ch := make(chan SyncReport, 64)
	r.subs = append(r.subs, ch)
	return ch
}

// Publish delivers a report to all subscribers, dropping on full buffers.
func (r *Reporter) Publish(rep SyncReport) {
	if rep.At.IsZero() {
		rep.At = time.Now()
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	for _, ch := range r.subs {
		select {
		case ch <- rep:
		default:
			slog.Debug("report dropped, subscriber not keeping up", "kind", rep.Kind, "path", rep.Path)
		}
	}
}

// Close closes all subscriber channels.
func (r *Reporter) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, ch := range r.subs {
		close(ch)
	}
	r.subs = nil
}
