package escrow

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
)

func TestTimerSweepRefundsExpired(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	id1 := env.lock(t, "1000", 120)
	id2 := env.lock(t, "2000", 150)

	timer := NewTimer(env.svc, env.store, env.heights, env.svc.logger)

	// Nothing expired yet
	timer.sweepExpired(ctx)
	if _, err := env.svc.Get(ctx, id1); err != nil {
		t.Fatalf("escrow should still be pending: %v", err)
	}

	// First escrow crosses its expiry height
	env.heights.Set(120)
	timer.sweepExpired(ctx)

	if _, err := env.svc.Get(ctx, id1); !errors.Is(err, ErrEscrowNotFound) {
		t.Errorf("expired escrow should be swept, got %v", err)
	}
	if _, err := env.svc.Get(ctx, id2); err != nil {
		t.Errorf("unexpired escrow must survive the sweep: %v", err)
	}

	if got := env.balance(t, testCaller, "untrn"); got != "9998000" {
		t.Errorf("caller should have the first ceiling back, got %s", got)
	}
}

func TestTimerSweepSkipsSettled(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	id := env.lock(t, "1000", 120)
	if err := env.svc.Release(ctx, testProvider, id, "500"); err != nil {
		t.Fatalf("Release failed: %v", err)
	}

	// The sweep must tolerate records settled between list and refund.
	env.heights.Set(200)
	timer := NewTimer(env.svc, env.store, env.heights, env.svc.logger)
	timer.sweepExpired(ctx)
}

func TestTimerStartStop(t *testing.T) {
	env := newTestEnv(t)

	timer := NewTimer(env.svc, env.store, env.heights, env.svc.logger)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		timer.Start(ctx)
		close(done)
	}()

	cancel()
	<-done
	if timer.Running() {
		t.Error("timer should report stopped after context cancellation")
	}
}

// warnCountHandler counts warn-level records and discards everything.
type warnCountHandler struct {
	slog.Handler
	mu    sync.Mutex
	warns int
}

func newWarnCountHandler() *warnCountHandler {
	return &warnCountHandler{
		Handler: slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelDebug}),
	}
}

func (h *warnCountHandler) Handle(ctx context.Context, r slog.Record) error {
	if r.Level == slog.LevelWarn {
		h.mu.Lock()
		h.warns++
		h.mu.Unlock()
	}
	return h.Handler.Handle(ctx, r)
}

func (h *warnCountHandler) count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.warns
}

func TestTimerSweepPausesWhileFrozen(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	id := env.lock(t, "1000", 120)
	if err := env.svc.SetFrozen(ctx, testOwner, true); err != nil {
		t.Fatalf("SetFrozen failed: %v", err)
	}

	handler := newWarnCountHandler()
	timer := NewTimer(env.svc, env.store, env.heights, slog.New(handler))

	// Refunds are blocked; repeated sweeps must neither refund nor warn.
	env.heights.Set(200)
	timer.sweepExpired(ctx)
	timer.sweepExpired(ctx)

	if _, err := env.svc.Get(ctx, id); err != nil {
		t.Fatalf("escrow must stay pending while frozen: %v", err)
	}
	if got := env.balance(t, PoolAddress, "untrn"); got != "1000" {
		t.Errorf("pool must keep custody while frozen, got %s", got)
	}
	if n := handler.count(); n != 0 {
		t.Errorf("frozen sweep should not warn, got %d warnings", n)
	}

	// Lifting the freeze resumes the sweep.
	if err := env.svc.SetFrozen(ctx, testOwner, false); err != nil {
		t.Fatalf("SetFrozen failed: %v", err)
	}
	timer.sweepExpired(ctx)

	if _, err := env.svc.Get(ctx, id); !errors.Is(err, ErrEscrowNotFound) {
		t.Errorf("escrow should be swept after unfreeze, got %v", err)
	}
	if got := env.balance(t, PoolAddress, "untrn"); got != "0" {
		t.Errorf("pool should be drained after unfreeze, got %s", got)
	}
}
