package escrow

import (
	"context"
	"math/big"
	"sort"
	"sync"
)

// MemoryStore is an in-memory escrow store for demo/development mode.
type MemoryStore struct {
	mu      sync.RWMutex
	escrows map[uint64]*Escrow
	nextID  uint64
	cfg     Config
	fees    map[string]*big.Int
}

// NewMemoryStore creates a new in-memory escrow store seeded with the
// given configuration. The identifier counter starts at 1.
func NewMemoryStore(cfg Config) *MemoryStore {
	return &MemoryStore{
		escrows: make(map[uint64]*Escrow),
		nextID:  1,
		cfg:     cfg,
		fees:    make(map[string]*big.Int),
	}
}

func (m *MemoryStore) Config(ctx context.Context) (*Config, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	cp := m.cfg
	return &cp, nil
}

func (m *MemoryStore) SetFrozen(ctx context.Context, frozen bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.cfg.Frozen = frozen
	return nil
}

func (m *MemoryStore) Create(ctx context.Context, e *Escrow) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	id := m.nextID
	m.nextID++

	cp := *e
	cp.ID = id
	m.escrows[id] = &cp
	e.ID = id
	return id, nil
}

func (m *MemoryStore) Get(ctx context.Context, id uint64) (*Escrow, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	e, ok := m.escrows[id]
	if !ok {
		return nil, ErrEscrowNotFound
	}
	cp := *e
	return &cp, nil
}

func (m *MemoryStore) Settle(ctx context.Context, id uint64, feeDenom, feeAmount string) (*Escrow, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.escrows[id]
	if !ok {
		return nil, ErrEscrowNotFound
	}

	fee, err := ParseAmount(feeAmount)
	if err != nil {
		return nil, err
	}
	if fee.Sign() > 0 {
		cur, ok := m.fees[feeDenom]
		if !ok {
			cur = big.NewInt(0)
			m.fees[feeDenom] = cur
		}
		cur.Add(cur, fee)
	}

	delete(m.escrows, id)
	cp := *e
	return &cp, nil
}

func (m *MemoryStore) ListExpired(ctx context.Context, height uint64, limit int) ([]*Escrow, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []*Escrow
	for _, e := range m.escrows {
		if e.Expires <= height {
			cp := *e
			result = append(result, &cp)
		}
	}
	// Deterministic order for the sweeper and for tests.
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	if len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (m *MemoryStore) PendingByDenom(ctx context.Context) (map[string]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	totals := make(map[string]*big.Int)
	for _, e := range m.escrows {
		amt, err := ParseAmount(e.MaxFee)
		if err != nil {
			return nil, err
		}
		if cur, ok := totals[e.Denom]; ok {
			cur.Add(cur, amt)
		} else {
			totals[e.Denom] = amt
		}
	}

	result := make(map[string]string, len(totals))
	for denom, amt := range totals {
		result[denom] = amt.String()
	}
	return result, nil
}

func (m *MemoryStore) FeeBalances(ctx context.Context) (map[string]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make(map[string]string, len(m.fees))
	for denom, amt := range m.fees {
		if amt.Sign() > 0 {
			result[denom] = amt.String()
		}
	}
	return result, nil
}

func (m *MemoryStore) DrainFees(ctx context.Context, denom string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	amt, ok := m.fees[denom]
	if !ok || amt.Sign() == 0 {
		return "0", nil
	}
	delete(m.fees, denom)
	return amt.String(), nil
}

// Compile-time assertion that MemoryStore implements Store.
var _ Store = (*MemoryStore)(nil)
