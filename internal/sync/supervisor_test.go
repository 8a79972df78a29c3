package sync

import (
	"context"
	"io"
	gosync "sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/goodCoderXD/cync/internal/transport"
)

func TestSupervisorStartsConnected(t *testing.T) {
	s := NewSupervisor(newFakeTransport(), 3, nil, nil)
	defer s.Close()

	assert.Equal(t, StateConnected, s.State())
	assert.NoError(t, s.AwaitConnected(context.Background()))
}

func TestSupervisorReportLostIsIdempotent(t *testing.T) {
	s := NewSupervisor(newFakeTransport(), 3, nil, nil)
	defer s.Close()

	s.ReportLost()
	s.ReportLost()
	s.ReportLost()
	assert.Equal(t, StateReconnecting, s.State())
	assert.Len(t, s.lostCh, 1)
}

func TestSupervisorReconnects(t *testing.T) {
	tr := newFakeTransport()
	s := NewSupervisor(tr, 5, nil, nil)
	defer s.Close()

	var hookRan atomic.Bool
	s.SetOnReconnected(func(ctx context.Context) error {
		hookRan.Store(true)
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Run(ctx)

	s.ReportLost()
	require.Equal(t, StateReconnecting, s.State())

	// a waiter parked on the gate must see the reconcile hook already done
	err := s.AwaitConnected(ctx)
	require.NoError(t, err)
	assert.Equal(t, StateConnected, s.State())
	assert.True(t, hookRan.Load())
}

func TestSupervisorBudgetExhaustedSuspendsWithoutExiting(t *testing.T) {
	tr := newFakeTransport()
	tr.connectErrs = []error{connLost("connect", "")}
	reporter := NewReporter()
	reports := reporter.Subscribe()
	s := NewSupervisor(tr, 1, nil, reporter)
	defer s.Close()

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- s.Run(ctx) }()

	s.ReportLost()

	require.Eventually(t, func() bool {
		return s.State() == StateFailed
	}, 10*time.Second, 20*time.Millisecond, "supervisor did not give up")

	// the run loop stays up with transfers suspended
	select {
	case err := <-errCh:
		t.Fatalf("run loop exited after giving up: %v", err)
	case <-time.After(100 * time.Millisecond):
	}

	// workers park for good instead of erroring out
	waitCtx, waitCancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer waitCancel()
	assert.ErrorIs(t, s.AwaitConnected(waitCtx), context.DeadlineExceeded)

	var sawFailed bool
	for !sawFailed {
		select {
		case rep := <-reports:
			if rep.Kind == ReportConnState && rep.State == StateFailed {
				sawFailed = true
			}
		case <-time.After(2 * time.Second):
			t.Fatal("failed state never reported")
		}
	}

	cancel()
	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("run loop did not honor cancellation")
	}
}

func TestSupervisorAuthFailureSuspendsWithoutExiting(t *testing.T) {
	tr := newFakeTransport()
	tr.connectErrs = []error{
		&transport.Error{Kind: transport.AuthFailure, Op: "connect", Err: io.ErrUnexpectedEOF},
	}
	s := NewSupervisor(tr, 5, nil, nil)
	defer s.Close()

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- s.Run(ctx) }()

	s.ReportLost()

	require.Eventually(t, func() bool {
		return s.State() == StateFailed
	}, 10*time.Second, 20*time.Millisecond, "supervisor did not give up")

	select {
	case err := <-errCh:
		t.Fatalf("run loop exited after rejected credentials: %v", err)
	case <-time.After(100 * time.Millisecond):
	}

	cancel()
	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("run loop did not honor cancellation")
	}
}

func TestSupervisorLivenessProbeTriggersReconnect(t *testing.T) {
	tr := newFakeTransport()
	s := NewSupervisor(tr, 5, nil, nil)
	s.livenessInterval = 20 * time.Millisecond
	defer s.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Run(ctx)

	tr.setDead(true)

	// the probe notices the dead session and the run loop redials
	require.Eventually(t, func() bool {
		return tr.connCount() >= 1
	}, 5*time.Second, 20*time.Millisecond, "probe never triggered a reconnect")

	require.Eventually(t, func() bool {
		return s.State() == StateConnected && tr.IsAlive()
	}, 10*time.Second, 20*time.Millisecond)
}

func TestSupervisorLivenessProbeSkippedDuringTransfer(t *testing.T) {
	tr := newFakeTransport()
	var txMu gosync.Mutex
	s := NewSupervisor(tr, 5, &txMu, nil)
	defer s.Close()

	tr.setDead(true)
	txMu.Lock()
	defer txMu.Unlock()

	// a transfer holds the transport, so the probe stands aside
	s.checkAlive()
	assert.Equal(t, StateConnected, s.State())
}

func TestSupervisorAwaitHonorsContext(t *testing.T) {
	s := NewSupervisor(newFakeTransport(), 3, nil, nil)
	defer s.Close()

	s.ReportLost()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, s.AwaitConnected(ctx), context.DeadlineExceeded)
}

func TestNextDelayCapped(t *testing.T) {
	d := reconnectBaseDelay
	for i := 0; i < 10; i++ {
		d = nextDelay(d)
		assert.LessOrEqual(t, d, reconnectMaxDelay)
	}
	assert.Equal(t, reconnectMaxDelay, d)
}
