package sync

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/goodCoderXD/cync/internal/transport"
)

// ConnectionState is the supervisor's view of the transport link.
type ConnectionState string

const (
	StateConnected    ConnectionState = "connected"
	StateReconnecting ConnectionState = "reconnecting"
	StateFailed       ConnectionState = "failed"
)

const (
	reconnectBaseDelay = 1 * time.Second
	reconnectMaxDelay  = 8 * time.Second

	defaultLivenessInterval = 15 * time.Second
)

// errReconnectExhausted marks a reconnect loop that ran out of budget.
var errReconnectExhausted = errors.New("reconnect budget exhausted")

// Supervisor owns the transport's lifecycle. Transfer workers report lost
// connections to it and block on AwaitConnected until the link is back.
// Only the supervisor dials; workers never reconnect on their own.
//
// Losing the connection is never fatal: once the reconnect budget runs out
// the supervisor moves to Failed and stays there, transfers stay suspended,
// and the rest of the engine keeps observing changes.
type Supervisor struct {
	tr     transport.Transport
	txMu   *sync.Mutex
	budget int

	// onReconnected runs after a successful reconnect and before waiters
	// are released, so a reconciliation pass completes first.
	onReconnected func(ctx context.Context) error

	reporter *Reporter

	livenessInterval time.Duration

	mu      sync.Mutex
	state   ConnectionState
	readyCh chan struct{} // closed while connected
	lostCh  chan struct{} // signals the run loop
	closed  bool
}

func NewSupervisor(tr transport.Transport, budget int, txMu *sync.Mutex, reporter *Reporter) *Supervisor {
	ready := make(chan struct{})
	close(ready)
	return &Supervisor{
		tr:               tr,
		txMu:             txMu,
		budget:           budget,
		reporter:         reporter,
		livenessInterval: defaultLivenessInterval,
		state:            StateConnected,
		readyCh:          ready,
		lostCh:           make(chan struct{}, 1),
	}
}

// SetOnReconnected installs the post-reconnect hook. Must be called before Run.
func (s *Supervisor) SetOnReconnected(fn func(ctx context.Context) error) {
	s.onReconnected = fn
}

// State returns the current connection state.
func (s *Supervisor) State() ConnectionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// AwaitConnected blocks until the link is up or the context is done.
// In the Failed state it parks the caller for good: transfers are
// suspended, and only shutdown releases them.
func (s *Supervisor) AwaitConnected(ctx context.Context) error {
	for {
		s.mu.Lock()
		state := s.state
		ready := s.readyCh
		s.mu.Unlock()

		switch state {
		case StateConnected:
			return nil
		case StateFailed:
			<-ctx.Done()
			return ctx.Err()
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ready:
		}
	}
}

// ReportLost is called by workers when a transfer fails with a
// connection-class error. Idempotent while a reconnect is in progress,
// ignored once the supervisor has given up.
func (s *Supervisor) ReportLost() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateConnected || s.closed {
		return
	}
	s.state = StateReconnecting
	s.readyCh = make(chan struct{})

	select {
	case s.lostCh <- struct{}{}:
	default:
	}
}

// Run drives the liveness and reconnect loops until the context is
// cancelled. Exhausting the budget moves to Failed but never returns an
// error: the process keeps running with transfers suspended.
func (s *Supervisor) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.livenessInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.checkAlive()
			continue
		case <-s.lostCh:
		}

		s.publishState(StateReconnecting)
		slog.Warn("connection lost, reconnecting")

		if err := s.reconnect(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			s.setState(StateFailed)
			s.publishState(StateFailed)
			slog.Error("giving up on reconnection, transfers suspended", "error", err)
		}
	}
}

// checkAlive probes the session between transfers. Skipped while a
// transfer holds the transport; that transfer will surface the loss
// itself.
func (s *Supervisor) checkAlive() {
	if s.State() != StateConnected {
		return
	}
	if s.txMu != nil && !s.txMu.TryLock() {
		return
	}
	alive := s.tr.IsAlive()
	if s.txMu != nil {
		s.txMu.Unlock()
	}
	if !alive {
		slog.Warn("liveness probe failed")
		s.ReportLost()
	}
}

// reconnect dials with exponential backoff until it succeeds or the budget
// runs out. On success it runs the reconcile hook, then releases waiters.
func (s *Supervisor) reconnect(ctx context.Context) error {
	delay := reconnectBaseDelay
	for attempt := 1; attempt <= s.budget; attempt++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}

		slog.Info("reconnect attempt", "attempt", attempt, "budget", s.budget)
		err := s.dial(ctx)
		if err == nil {
			if s.onReconnected != nil {
				if herr := s.onReconnected(ctx); herr != nil {
					slog.Warn("post-reconnect reconciliation failed", "error", herr)
					if transport.IsConnectionLost(herr) {
						delay = nextDelay(delay)
						continue
					}
				}
			}
			s.setState(StateConnected)
			s.releaseWaiters()
			s.publishState(StateConnected)
			slog.Info("reconnected", "attempts", attempt)
			return nil
		}

		if transport.IsAuthFailure(err) {
			slog.Error("reconnect aborted, authentication rejected", "error", err)
			return err
		}
		slog.Debug("reconnect attempt failed", "attempt", attempt, "error", err)
		delay = nextDelay(delay)
	}
	return errReconnectExhausted
}

// dial opens the session while holding the transport lock so a concurrent
// poll cannot race the handshake.
func (s *Supervisor) dial(ctx context.Context) error {
	if s.txMu != nil {
		s.txMu.Lock()
		defer s.txMu.Unlock()
	}
	return s.tr.Connect(ctx)
}

func nextDelay(d time.Duration) time.Duration {
	d *= 2
	if d > reconnectMaxDelay {
		d = reconnectMaxDelay
	}
	return d
}

func (s *Supervisor) setState(state ConnectionState) {
	s.mu.Lock()
	s.state = state
	s.mu.Unlock()
}

func (s *Supervisor) releaseWaiters() {
	s.mu.Lock()
	select {
	case <-s.readyCh:
	default:
		close(s.readyCh)
	}
	s.mu.Unlock()
}

func (s *Supervisor) publishState(state ConnectionState) {
	if s.reporter != nil {
		s.reporter.Publish(SyncReport{Kind: ReportConnState, State: state})
	}
}

// Close marks the supervisor shut down.
func (s *Supervisor) Close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
}
