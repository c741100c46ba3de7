//go:build integration

package escrow

import (
	"context"
	"errors"
	"testing"

	"github.com/toolpay/toolpay/internal/testutil"
)

func setupPostgresStore(t *testing.T) (*PostgresStore, func()) {
	t.Helper()

	db, cleanup := testutil.PGTest(t)
	store := NewPostgresStore(db)

	if err := store.EnsureConfig(context.Background(), Config{
		Owner:                  testOwner,
		FeePercent:             10,
		MaxTTL:                 50,
		FreezeBlocksSettlement: true,
	}); err != nil {
		cleanup()
		t.Fatalf("EnsureConfig failed: %v", err)
	}

	return store, cleanup
}

func testEscrow(expires uint64) *Escrow {
	return &Escrow{
		Caller:     testCaller,
		Provider:   testProvider,
		ToolID:     "summarize",
		MaxFee:     "1000000",
		Denom:      "untrn",
		AuthToken:  "tok",
		Expires:    expires,
		LockHeight: 100,
	}
}

func TestPostgresCreateAndGet(t *testing.T) {
	store, cleanup := setupPostgresStore(t)
	defer cleanup()
	ctx := context.Background()

	id1, err := store.Create(ctx, testEscrow(150))
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	id2, err := store.Create(ctx, testEscrow(160))
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if id2 <= id1 {
		t.Errorf("IDs must strictly increase: %d then %d", id1, id2)
	}

	e, err := store.Get(ctx, id1)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if e.MaxFee != "1000000" || e.Expires != 150 || e.LockHeight != 100 {
		t.Errorf("unexpected escrow: %+v", e)
	}

	if _, err := store.Get(ctx, 999999); !errors.Is(err, ErrEscrowNotFound) {
		t.Errorf("expected ErrEscrowNotFound, got %v", err)
	}
}

func TestPostgresSettleAtomicity(t *testing.T) {
	store, cleanup := setupPostgresStore(t)
	defer cleanup()
	ctx := context.Background()

	id, err := store.Create(ctx, testEscrow(150))
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	e, err := store.Settle(ctx, id, "untrn", "60000")
	if err != nil {
		t.Fatalf("Settle failed: %v", err)
	}
	if e.ID != id {
		t.Errorf("Settle should return the removed record, got %+v", e)
	}

	// Record deleted, fee accrued
	if _, err := store.Get(ctx, id); !errors.Is(err, ErrEscrowNotFound) {
		t.Errorf("settled escrow should be deleted, got %v", err)
	}
	fees, err := store.FeeBalances(ctx)
	if err != nil {
		t.Fatalf("FeeBalances failed: %v", err)
	}
	if fees["untrn"] != "60000" {
		t.Errorf("expected fee 60000, got %s", fees["untrn"])
	}

	// Second settle observes the deleted record
	if _, err := store.Settle(ctx, id, "untrn", "60000"); !errors.Is(err, ErrEscrowNotFound) {
		t.Errorf("expected ErrEscrowNotFound on double settle, got %v", err)
	}
	fees, _ = store.FeeBalances(ctx)
	if fees["untrn"] != "60000" {
		t.Errorf("double settle must not double-accrue, got %s", fees["untrn"])
	}
}

func TestPostgresSettleZeroFee(t *testing.T) {
	store, cleanup := setupPostgresStore(t)
	defer cleanup()
	ctx := context.Background()

	id, err := store.Create(ctx, testEscrow(150))
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if _, err := store.Settle(ctx, id, "untrn", "0"); err != nil {
		t.Fatalf("Settle with zero fee failed: %v", err)
	}

	fees, _ := store.FeeBalances(ctx)
	if len(fees) != 0 {
		t.Errorf("zero fee must not accrue, got %v", fees)
	}
}

func TestPostgresListExpired(t *testing.T) {
	store, cleanup := setupPostgresStore(t)
	defer cleanup()
	ctx := context.Background()

	id1, _ := store.Create(ctx, testEscrow(120))
	store.Create(ctx, testEscrow(150))

	expired, err := store.ListExpired(ctx, 120, 100)
	if err != nil {
		t.Fatalf("ListExpired failed: %v", err)
	}
	if len(expired) != 1 || expired[0].ID != id1 {
		t.Errorf("expected only the first escrow at height 120, got %+v", expired)
	}

	expired, _ = store.ListExpired(ctx, 200, 100)
	if len(expired) != 2 {
		t.Errorf("expected both escrows at height 200, got %d", len(expired))
	}
}

func TestPostgresPendingByDenom(t *testing.T) {
	store, cleanup := setupPostgresStore(t)
	defer cleanup()
	ctx := context.Background()

	store.Create(ctx, testEscrow(150))
	store.Create(ctx, testEscrow(150))
	other := testEscrow(150)
	other.Denom = "uusdc"
	other.MaxFee = "500"
	store.Create(ctx, other)

	pending, err := store.PendingByDenom(ctx)
	if err != nil {
		t.Fatalf("PendingByDenom failed: %v", err)
	}
	if pending["untrn"] != "2000000" || pending["uusdc"] != "500" {
		t.Errorf("unexpected pending totals: %v", pending)
	}
}

func TestPostgresDrainFees(t *testing.T) {
	store, cleanup := setupPostgresStore(t)
	defer cleanup()
	ctx := context.Background()

	id, _ := store.Create(ctx, testEscrow(150))
	store.Settle(ctx, id, "untrn", "60000")

	amount, err := store.DrainFees(ctx, "untrn")
	if err != nil {
		t.Fatalf("DrainFees failed: %v", err)
	}
	if amount != "60000" {
		t.Errorf("expected drained 60000, got %s", amount)
	}

	// Drained accumulator reports zero
	amount, err = store.DrainFees(ctx, "untrn")
	if err != nil {
		t.Fatalf("second DrainFees failed: %v", err)
	}
	if amount != "0" {
		t.Errorf("expected 0 after drain, got %s", amount)
	}
}

func TestPostgresFrozenFlagSurvivesEnsure(t *testing.T) {
	store, cleanup := setupPostgresStore(t)
	defer cleanup()
	ctx := context.Background()

	if err := store.SetFrozen(ctx, true); err != nil {
		t.Fatalf("SetFrozen failed: %v", err)
	}

	// A restart re-runs EnsureConfig; the persisted freeze must win.
	if err := store.EnsureConfig(ctx, Config{Owner: testOwner, FeePercent: 10, MaxTTL: 50}); err != nil {
		t.Fatalf("EnsureConfig failed: %v", err)
	}

	cfg, err := store.Config(ctx)
	if err != nil {
		t.Fatalf("Config failed: %v", err)
	}
	if !cfg.Frozen {
		t.Error("frozen flag must survive EnsureConfig")
	}
}
