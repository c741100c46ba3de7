package escrow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/toolpay/toolpay/internal/metrics"
)

// Timer periodically sweeps expired escrows and refunds their callers.
// Refunds stay available to any caller through the API; the sweeper just
// guarantees abandoned escrows do not strand funds in the pool.
type Timer struct {
	service  *Service
	store    Store
	heights  HeightSource
	interval time.Duration
	logger   *slog.Logger
	stop     chan struct{}
	running  atomic.Bool
}

// NewTimer creates a new expiry refund timer.
func NewTimer(service *Service, store Store, heights HeightSource, logger *slog.Logger) *Timer {
	return &Timer{
		service:  service,
		store:    store,
		heights:  heights,
		interval: 30 * time.Second,
		logger:   logger,
		stop:     make(chan struct{}),
	}
}

// Running reports whether the timer loop is actively running.
func (t *Timer) Running() bool {
	return t.running.Load()
}

// Start begins the sweep loop. Call in a goroutine.
func (t *Timer) Start(ctx context.Context) {
	t.running.Store(true)
	defer t.running.Store(false)

	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.stop:
			return
		case <-ticker.C:
			t.safeSweepExpired(ctx)
		}
	}
}

// Stop signals the timer to stop.
func (t *Timer) Stop() {
	select {
	case t.stop <- struct{}{}:
	default:
	}
}

func (t *Timer) safeSweepExpired(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			t.logger.Error("panic in escrow expiry timer", "panic", fmt.Sprint(r))
		}
	}()
	t.sweepExpired(ctx)
}

func (t *Timer) sweepExpired(ctx context.Context) {
	cfg, err := t.store.Config(ctx)
	if err != nil {
		t.logger.Warn("failed to load config for expiry sweep", "error", err)
		return
	}
	if cfg.Frozen && cfg.FreezeBlocksSettlement {
		// Refunds are blocked while frozen; expired records stay pending
		// and the sweep picks them up once the freeze lifts.
		return
	}

	height, err := t.heights.Height(ctx)
	if err != nil {
		t.logger.Warn("failed to read block height for expiry sweep", "error", err)
		return
	}

	expired, err := t.store.ListExpired(ctx, height, 100)
	if err != nil {
		t.logger.Warn("failed to list expired escrows", "error", err)
		return
	}

	for _, e := range expired {
		if err := t.service.RefundExpired(ctx, e.ID); err != nil {
			// ErrEscrowNotFound means someone settled it between the list
			// and the refund; ErrFrozen means the owner froze the platform
			// mid-sweep. Neither is worth a warning per record.
			if errors.Is(err, ErrEscrowNotFound) || errors.Is(err, ErrFrozen) {
				continue
			}
			t.logger.Warn("failed to refund expired escrow",
				"escrowId", e.ID,
				"error", err,
			)
			continue
		}
		metrics.ExpiredRefundsSwept.Inc()
		t.logger.Info("swept expired escrow",
			"escrowId", e.ID,
			"caller", e.Caller,
			"denom", e.Denom,
			"amount", e.MaxFee,
			"height", height,
		)
	}
}
