// Package escrow custodies pay-per-call funds for metered tool usage.
//
// Flow:
//  1. Caller locks a ceiling fee against a registered tool → funds moved: caller → escrow pool
//  2. Provider performs the work off-platform (correlated via the auth token)
//  3. Provider releases with the actual usage fee → pool pays provider, protocol fee pool, caller refund
//  4. Nobody releases before the expiry height passes → anyone refunds the caller in full
//
// An escrow is pending exactly while its record exists; Release and
// RefundExpired both delete the record, so the second of two racing
// settlements observes ErrEscrowNotFound and never double-settles.
package escrow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strconv"
	"strings"

	"github.com/toolpay/toolpay/internal/metrics"
	"github.com/toolpay/toolpay/internal/syncutil"
	"github.com/toolpay/toolpay/internal/traces"
)

var (
	ErrEscrowNotFound    = errors.New("escrow not found")
	ErrToolNotFound      = errors.New("tool not found")
	ErrToolPaused        = errors.New("tool is paused")
	ErrDenomMismatch     = errors.New("attached funds denom does not match tool denom")
	ErrFundsMismatch     = errors.New("attached funds must equal the ceiling fee exactly")
	ErrZeroFee           = errors.New("ceiling fee must be positive")
	ErrExpiryInPast      = errors.New("expiry height is not in the future")
	ErrExpiryTooFar      = errors.New("expiry height exceeds the maximum allowed window")
	ErrFrozen            = errors.New("contract is frozen")
	ErrUnauthorized      = errors.New("not authorized for this escrow operation")
	ErrFeeExceedsCeiling = errors.New("usage fee exceeds the ceiling fee")
	ErrNotExpired        = errors.New("escrow has not expired yet")
	ErrNothingToClaim    = errors.New("no collected fees to claim")
	ErrPartialClaim      = errors.New("some fee denoms could not be claimed")
	ErrClaimFailed       = errors.New("fee claim failed")
	ErrInvalidAmount     = errors.New("invalid amount")
	ErrAmountTooLarge    = errors.New("amount exceeds representable range")
)

// PoolAddress is the custody account holding all pending escrow funds and
// collected-but-unclaimed protocol fees.
const PoolAddress = "escrow_pool"

// Escrow represents funds held in custody pending settlement.
// Existence in the store is the authoritative "pending" state; there is
// deliberately no status field.
type Escrow struct {
	ID         uint64 `json:"id"`
	Caller     string `json:"caller"`
	Provider   string `json:"provider"`
	ToolID     string `json:"toolId"`
	MaxFee     string `json:"maxFee"` // ceiling, base units, decimal string
	Denom      string `json:"denom"`
	AuthToken  string `json:"authToken"` // opaque, consumed by the provider's verification flow
	Expires    uint64 `json:"expires"`   // absolute block height
	LockHeight uint64 `json:"lockHeight"`
}

// Config is the singleton contract configuration.
type Config struct {
	Owner      string `json:"owner"`
	FeePercent uint64 `json:"feePercent"` // 0–100
	Frozen     bool   `json:"frozen"`
	MaxTTL     uint64 `json:"maxTtl"` // maximum blocks between lock and expiry

	// FreezeBlocksSettlement extends the freeze circuit breaker to Release
	// and RefundExpired, matching the historical behavior. Lock is always
	// blocked while frozen.
	FreezeBlocksSettlement bool `json:"freezeBlocksSettlement"`
}

// Coin is a denominated amount attached to a Lock request.
type Coin struct {
	Denom  string `json:"denom" binding:"required"`
	Amount string `json:"amount" binding:"required"`
}

// ToolInfo is the directory's view of a tool, consulted at lock time and
// re-consulted at release time for provider authorization.
type ToolInfo struct {
	ToolID      string
	Provider    string
	Price       string
	Denom       string
	Active      bool
	Description string
}

// Directory is the external pricing/availability catalog. The core only
// ever reads from it.
type Directory interface {
	Tool(ctx context.Context, toolID string) (*ToolInfo, error)
}

// Bank moves funds between accounts. The escrow pool account custodies
// all pending obligations; settlement pays out of it.
type Bank interface {
	Transfer(ctx context.Context, from, to, denom, amount, reference string) error
	Balance(ctx context.Context, addr, denom string) (string, error)
}

// Store persists the four escrow storage regions: the escrow map, the
// identifier counter, the config singleton, and the per-denom fee
// accumulator. Every method commits atomically; Settle in particular
// deletes the record and accrues the protocol fee in one commit.
type Store interface {
	Config(ctx context.Context) (*Config, error)
	SetFrozen(ctx context.Context, frozen bool) error

	// Create allocates the next identifier, assigns it to e, and persists
	// the record. Identifiers are never reused.
	Create(ctx context.Context, e *Escrow) (uint64, error)
	Get(ctx context.Context, id uint64) (*Escrow, error)

	// Settle removes the escrow and adds feeAmount (may be "0") to the
	// collected-fees accumulator for feeDenom, atomically. Returns the
	// removed record, or ErrEscrowNotFound if it was already settled.
	Settle(ctx context.Context, id uint64, feeDenom, feeAmount string) (*Escrow, error)

	ListExpired(ctx context.Context, height uint64, limit int) ([]*Escrow, error)
	PendingByDenom(ctx context.Context) (map[string]string, error)

	FeeBalances(ctx context.Context) (map[string]string, error)
	// DrainFees zeroes the accumulator for denom and returns the drained
	// amount ("0" if nothing was accrued).
	DrainFees(ctx context.Context, denom string) (string, error)
}

// HeightSource reports the current block height. Each operation consults
// it exactly once; the observed height is the operation's commit height.
type HeightSource interface {
	Height(ctx context.Context) (uint64, error)
}

// EventSink receives settlement events for off-platform correlation.
// Every event carries the escrow identifier and denom.
type EventSink interface {
	EscrowLocked(id uint64, toolID, caller, denom, maxFee string)
	EscrowReleased(id uint64, denom, providerAmount, protocolFee, callerRefund string)
	EscrowRefunded(id uint64, denom, amount string)
	FeesClaimed(owner, denom, amount string)
}

// LockRequest contains the parameters for opening an escrow.
type LockRequest struct {
	Caller    string `json:"-"`
	ToolID    string `json:"toolId" binding:"required"`
	MaxFee    string `json:"maxFee" binding:"required"`
	AuthToken string `json:"authToken"`
	Expires   uint64 `json:"expires" binding:"required"`
	Funds     Coin   `json:"funds" binding:"required"`
}

// LockResult is the observable output of a successful Lock.
type LockResult struct {
	EscrowID uint64 `json:"escrowId"`
	Denom    string `json:"denom"`
}

// FeesResult is the response shape for the collected-fees query.
type FeesResult struct {
	Owner      string            `json:"owner"`
	FeePercent uint64            `json:"feePercent"`
	Balances   map[string]string `json:"balances"`
}

// Service implements the escrow custody state machine.
type Service struct {
	store     Store
	bank      Bank
	directory Directory
	heights   HeightSource
	events    EventSink
	logger    *slog.Logger
	locks     syncutil.ShardedMutex // per-escrow ID locks to serialize conflicting settlements
}

// NewService creates the escrow service.
func NewService(store Store, bank Bank, directory Directory, heights HeightSource, logger *slog.Logger) *Service {
	return &Service{
		store:     store,
		bank:      bank,
		directory: directory,
		heights:   heights,
		logger:    logger,
	}
}

// WithEvents adds a settlement event sink.
func (s *Service) WithEvents(sink EventSink) *Service {
	s.events = sink
	return s
}

// lockEscrow acquires the settlement lock for the given escrow ID.
// This serializes racing settlements (e.g. Release + expiry refund) so the
// loser deterministically observes the deleted record.
func (s *Service) lockEscrow(id uint64) func() {
	return s.locks.Lock(strconv.FormatUint(id, 10))
}

// Lock validates a request against the directory, takes custody of the
// attached funds, and opens a new pending escrow.
func (s *Service) Lock(ctx context.Context, req LockRequest) (*LockResult, error) {
	ctx, span := traces.StartSpan(ctx, "escrow.Lock", traces.ToolID(req.ToolID))
	defer span.End()

	cfg, err := s.store.Config(ctx)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if cfg.Frozen {
		return nil, ErrFrozen
	}

	maxFee, err := ParseAmount(req.MaxFee)
	if err != nil {
		return nil, err
	}
	if maxFee.Sign() == 0 {
		return nil, ErrZeroFee
	}

	tool, err := s.directory.Tool(ctx, req.ToolID)
	if err != nil {
		return nil, err
	}
	if !tool.Active {
		return nil, ErrToolPaused
	}

	if req.Funds.Denom != tool.Denom {
		return nil, ErrDenomMismatch
	}
	attached, err := ParseAmount(req.Funds.Amount)
	if err != nil {
		return nil, err
	}
	if attached.Cmp(maxFee) != 0 {
		return nil, ErrFundsMismatch
	}

	height, err := s.heights.Height(ctx)
	if err != nil {
		return nil, fmt.Errorf("read block height: %w", err)
	}
	if req.Expires <= height {
		return nil, ErrExpiryInPast
	}
	if req.Expires > height+cfg.MaxTTL {
		return nil, ErrExpiryTooFar
	}

	caller := strings.ToLower(req.Caller)

	// Take custody first; the record only exists once funds are held.
	lockRef := fmt.Sprintf("lock:%s:%s", caller, req.ToolID)
	if err := s.bank.Transfer(ctx, caller, PoolAddress, tool.Denom, req.MaxFee, lockRef); err != nil {
		return nil, fmt.Errorf("take custody of funds: %w", err)
	}

	e := &Escrow{
		Caller:     caller,
		Provider:   strings.ToLower(tool.Provider),
		ToolID:     req.ToolID,
		MaxFee:     req.MaxFee,
		Denom:      tool.Denom,
		AuthToken:  req.AuthToken,
		Expires:    req.Expires,
		LockHeight: height,
	}
	id, err := s.store.Create(ctx, e)
	if err != nil {
		// The record never existed, so the custodied funds go back.
		if rtErr := s.bank.Transfer(ctx, PoolAddress, caller, tool.Denom, req.MaxFee, lockRef); rtErr != nil {
			s.logger.Error("CRITICAL: escrow record not created and custody return failed",
				"caller", caller,
				"toolId", req.ToolID,
				"denom", tool.Denom,
				"amount", req.MaxFee,
				"createError", err,
				"error", rtErr,
			)
			return nil, fmt.Errorf("custody return after failed record write (requires manual resolution): %w", rtErr)
		}
		return nil, fmt.Errorf("create escrow record: %w", err)
	}

	span.SetAttributes(traces.EscrowID(id), traces.Denom(tool.Denom))
	metrics.EscrowLocksTotal.WithLabelValues(tool.Denom).Inc()
	if s.events != nil {
		s.events.EscrowLocked(id, req.ToolID, caller, tool.Denom, req.MaxFee)
	}
	s.logger.Info("escrow locked",
		"escrowId", id,
		"toolId", req.ToolID,
		"caller", caller,
		"denom", tool.Denom,
		"maxFee", req.MaxFee,
		"expires", req.Expires,
	)

	return &LockResult{EscrowID: id, Denom: tool.Denom}, nil
}

// Release settles an escrow in the provider's favor. The sender must be
// the tool's currently registered provider, re-validated against the
// directory so provider rotation does not strand in-flight escrows.
// Release is permitted after expiry as long as no refund has landed.
func (s *Service) Release(ctx context.Context, sender string, id uint64, usageFee string) error {
	ctx, span := traces.StartSpan(ctx, "escrow.Release", traces.EscrowID(id))
	defer span.End()

	unlock := s.lockEscrow(id)
	defer unlock()

	cfg, err := s.store.Config(ctx)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if cfg.Frozen && cfg.FreezeBlocksSettlement {
		return ErrFrozen
	}

	e, err := s.store.Get(ctx, id)
	if err != nil {
		return err
	}

	tool, err := s.directory.Tool(ctx, e.ToolID)
	if err != nil {
		return err
	}
	if !strings.EqualFold(sender, tool.Provider) {
		return ErrUnauthorized
	}

	usage, err := ParseAmount(usageFee)
	if err != nil {
		return err
	}
	maxFee, err := ParseAmount(e.MaxFee)
	if err != nil {
		return err
	}
	if usage.Cmp(maxFee) > 0 {
		return ErrFeeExceedsCeiling
	}

	providerAmount, protocolFee, callerRefund := SplitFee(usage, maxFee, cfg.FeePercent)

	// Delete-and-accrue first: once Settle commits, no second settlement
	// can observe the record, so the payouts below can never double-pay.
	if _, err := s.store.Settle(ctx, id, e.Denom, protocolFee.String()); err != nil {
		return err
	}

	ref := fmt.Sprintf("escrow:%d", id)
	provider := strings.ToLower(tool.Provider)
	if providerAmount.Sign() > 0 {
		if err := s.bank.Transfer(ctx, PoolAddress, provider, e.Denom, providerAmount.String(), ref); err != nil {
			// CRITICAL: the escrow is settled but the provider payout did not
			// land; the funds remain in the pool for manual resolution.
			s.logger.Error("CRITICAL: escrow settled but provider payout failed",
				"escrowId", id, "provider", provider, "amount", providerAmount.String(), "error", err)
			return fmt.Errorf("provider payout after settlement (requires manual resolution): %w", err)
		}
	}
	if callerRefund.Sign() > 0 {
		if err := s.bank.Transfer(ctx, PoolAddress, e.Caller, e.Denom, callerRefund.String(), ref); err != nil {
			s.logger.Error("CRITICAL: escrow settled but caller refund failed",
				"escrowId", id, "caller", e.Caller, "amount", callerRefund.String(), "error", err)
			return fmt.Errorf("caller refund after settlement (requires manual resolution): %w", err)
		}
	}

	span.SetAttributes(traces.Denom(e.Denom), traces.Amount(usage.String()))
	metrics.EscrowSettlementsTotal.WithLabelValues("released", e.Denom).Inc()
	if protocolFee.Sign() > 0 {
		metrics.FeesCollectedTotal.WithLabelValues(e.Denom).Add(amountAsFloat(protocolFee))
	}
	if s.events != nil {
		s.events.EscrowReleased(id, e.Denom, providerAmount.String(), protocolFee.String(), callerRefund.String())
	}
	s.logger.Info("escrow released",
		"escrowId", id,
		"denom", e.Denom,
		"usageFee", usage.String(),
		"providerAmount", providerAmount.String(),
		"protocolFee", protocolFee.String(),
		"callerRefund", callerRefund.String(),
	)

	return nil
}

// RefundExpired returns the full ceiling fee to the original caller once
// the expiry height has been reached. Any sender may trigger it.
func (s *Service) RefundExpired(ctx context.Context, id uint64) error {
	ctx, span := traces.StartSpan(ctx, "escrow.RefundExpired", traces.EscrowID(id))
	defer span.End()

	unlock := s.lockEscrow(id)
	defer unlock()

	cfg, err := s.store.Config(ctx)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if cfg.Frozen && cfg.FreezeBlocksSettlement {
		return ErrFrozen
	}

	e, err := s.store.Get(ctx, id)
	if err != nil {
		return err
	}

	height, err := s.heights.Height(ctx)
	if err != nil {
		return fmt.Errorf("read block height: %w", err)
	}
	if height < e.Expires {
		return ErrNotExpired
	}

	if _, err := s.store.Settle(ctx, id, e.Denom, "0"); err != nil {
		return err
	}

	ref := fmt.Sprintf("escrow:%d", id)
	if err := s.bank.Transfer(ctx, PoolAddress, e.Caller, e.Denom, e.MaxFee, ref); err != nil {
		s.logger.Error("CRITICAL: escrow settled but expiry refund failed",
			"escrowId", id, "caller", e.Caller, "amount", e.MaxFee, "error", err)
		return fmt.Errorf("expiry refund after settlement (requires manual resolution): %w", err)
	}

	span.SetAttributes(traces.Denom(e.Denom))
	metrics.EscrowSettlementsTotal.WithLabelValues("refunded", e.Denom).Inc()
	if s.events != nil {
		s.events.EscrowRefunded(id, e.Denom, e.MaxFee)
	}
	s.logger.Info("escrow refunded after expiry",
		"escrowId", id, "caller", e.Caller, "denom", e.Denom, "amount", e.MaxFee, "height", height)

	return nil
}

// ClaimFees pays accumulated protocol fees to the owner. With a denom it
// claims that denom only; without, every denom with a nonzero balance.
func (s *Service) ClaimFees(ctx context.Context, sender, denom string) error {
	ctx, span := traces.StartSpan(ctx, "escrow.ClaimFees")
	defer span.End()

	cfg, err := s.store.Config(ctx)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if !strings.EqualFold(sender, cfg.Owner) {
		return ErrUnauthorized
	}

	if denom != "" {
		return s.claimDenom(ctx, cfg.Owner, denom)
	}

	balances, err := s.store.FeeBalances(ctx)
	if err != nil {
		return err
	}
	claimed := false
	var failed []string
	for d, amt := range balances {
		a, err := ParseAmount(amt)
		if err != nil {
			s.logger.Error("skipping fee accumulator with malformed balance",
				"denom", d, "balance", amt, "error", err)
			failed = append(failed, d)
			continue
		}
		if a.Sign() == 0 {
			continue
		}
		if err := s.claimDenom(ctx, cfg.Owner, d); err != nil {
			// claimDenom already logged the payout failure. Keep going so
			// one bad denom does not block the others.
			failed = append(failed, d)
			continue
		}
		claimed = true
	}
	if len(failed) > 0 {
		if claimed {
			return fmt.Errorf("%w: %s", ErrPartialClaim, strings.Join(failed, ", "))
		}
		return fmt.Errorf("claim fees for denoms %s: %w", strings.Join(failed, ", "), ErrClaimFailed)
	}
	if !claimed {
		return ErrNothingToClaim
	}
	return nil
}

func (s *Service) claimDenom(ctx context.Context, owner, denom string) error {
	amount, err := s.store.DrainFees(ctx, denom)
	if err != nil {
		return err
	}
	a, err := ParseAmount(amount)
	if err != nil || a.Sign() == 0 {
		return ErrNothingToClaim
	}

	ownerAddr := strings.ToLower(owner)
	if err := s.bank.Transfer(ctx, PoolAddress, ownerAddr, denom, amount, "fees:"+denom); err != nil {
		s.logger.Error("CRITICAL: fee accumulator drained but owner payout failed",
			"denom", denom, "amount", amount, "error", err)
		return fmt.Errorf("fee payout after drain (requires manual resolution): %w", err)
	}

	if s.events != nil {
		s.events.FeesClaimed(ownerAddr, denom, amount)
	}
	s.logger.Info("protocol fees claimed", "owner", ownerAddr, "denom", denom, "amount", amount)
	return nil
}

// SetFrozen toggles the owner-only circuit breaker.
func (s *Service) SetFrozen(ctx context.Context, sender string, frozen bool) error {
	cfg, err := s.store.Config(ctx)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if !strings.EqualFold(sender, cfg.Owner) {
		return ErrUnauthorized
	}
	if err := s.store.SetFrozen(ctx, frozen); err != nil {
		return err
	}
	s.logger.Warn("contract freeze state changed", "frozen", frozen, "owner", cfg.Owner)
	return nil
}

// Get returns a pending escrow by ID.
func (s *Service) Get(ctx context.Context, id uint64) (*Escrow, error) {
	return s.store.Get(ctx, id)
}

// CollectedFees returns the owner, fee percentage, and per-denom
// accumulated fee balances.
func (s *Service) CollectedFees(ctx context.Context) (*FeesResult, error) {
	cfg, err := s.store.Config(ctx)
	if err != nil {
		return nil, err
	}
	balances, err := s.store.FeeBalances(ctx)
	if err != nil {
		return nil, err
	}
	if balances == nil {
		balances = map[string]string{}
	}
	return &FeesResult{Owner: cfg.Owner, FeePercent: cfg.FeePercent, Balances: balances}, nil
}

// CustodyMismatch describes a denom whose pool balance does not equal the
// sum of pending obligations plus unclaimed fees.
type CustodyMismatch struct {
	Denom    string
	Expected string // pending ceilings + unclaimed fees
	Actual   string // pool account balance
}

// VerifyCustody checks, per denom, that the pool account holds exactly the
// sum of all pending ceiling fees plus collected-but-unclaimed fees.
func (s *Service) VerifyCustody(ctx context.Context) ([]CustodyMismatch, error) {
	pending, err := s.store.PendingByDenom(ctx)
	if err != nil {
		return nil, err
	}
	fees, err := s.store.FeeBalances(ctx)
	if err != nil {
		return nil, err
	}

	expected := make(map[string]*big.Int)
	for denom, amt := range pending {
		a, err := ParseAmount(amt)
		if err != nil {
			return nil, fmt.Errorf("pending total for %s: %w", denom, err)
		}
		expected[denom] = a
	}
	for denom, amt := range fees {
		a, err := ParseAmount(amt)
		if err != nil {
			return nil, fmt.Errorf("fee balance for %s: %w", denom, err)
		}
		if cur, ok := expected[denom]; ok {
			cur.Add(cur, a)
		} else {
			expected[denom] = a
		}
	}

	var mismatches []CustodyMismatch
	for denom, want := range expected {
		got, err := s.bank.Balance(ctx, PoolAddress, denom)
		if err != nil {
			return nil, err
		}
		actual, err := ParseAmount(got)
		if err != nil {
			return nil, fmt.Errorf("pool balance for %s: %w", denom, err)
		}
		if actual.Cmp(want) != 0 {
			mismatches = append(mismatches, CustodyMismatch{
				Denom:    denom,
				Expected: want.String(),
				Actual:   actual.String(),
			})
		}
	}
	return mismatches, nil
}

// SplitFee computes the three-way settlement split. The parts always sum
// to the ceiling exactly: protocol fee is floor(usage × pct / 100), the
// provider gets the rest of the usage fee, and the caller is refunded the
// unused ceiling.
func SplitFee(usage, ceiling *big.Int, feePercent uint64) (providerAmount, protocolFee, callerRefund *big.Int) {
	protocolFee = new(big.Int).Mul(usage, new(big.Int).SetUint64(feePercent))
	protocolFee.Quo(protocolFee, big.NewInt(100))
	providerAmount = new(big.Int).Sub(usage, protocolFee)
	callerRefund = new(big.Int).Sub(ceiling, usage)
	return providerAmount, protocolFee, callerRefund
}

// amountAsFloat converts a base-unit amount for metrics only; precision
// loss is acceptable there.
func amountAsFloat(a *big.Int) float64 {
	f, _ := new(big.Float).SetInt(a).Float64()
	return f
}
