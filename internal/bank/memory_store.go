package bank

import (
	"context"
	"math/big"
	"sort"
	"sync"
	"time"

	"github.com/toolpay/toolpay/internal/idgen"
	"github.com/toolpay/toolpay/internal/pagination"
)

// MemoryStore is an in-memory bank store for demo/development mode.
type MemoryStore struct {
	balances map[string]map[string]*big.Int // address -> denom -> amount
	entries  []*Entry
	mu       sync.RWMutex
}

// NewMemoryStore creates a new in-memory bank store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		balances: make(map[string]map[string]*big.Int),
		entries:  make([]*Entry, 0),
	}
}

func (m *MemoryStore) Balance(ctx context.Context, address, denom string) (*Balance, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	denoms, ok := m.balances[address]
	if !ok {
		return nil, ErrAccountNotFound
	}
	amount, ok := denoms[denom]
	if !ok {
		return nil, ErrAccountNotFound
	}

	return &Balance{
		Address:   address,
		Denom:     denom,
		Available: amount.String(),
		UpdatedAt: time.Now(),
	}, nil
}

func (m *MemoryStore) Balances(ctx context.Context, address string) ([]*Balance, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	balances := make([]*Balance, 0)
	for denom, amount := range m.balances[address] {
		if amount.Sign() == 0 {
			continue
		}
		balances = append(balances, &Balance{
			Address:   address,
			Denom:     denom,
			Available: amount.String(),
			UpdatedAt: time.Now(),
		})
	}
	sort.Slice(balances, func(i, j int) bool {
		return balances[i].Denom < balances[j].Denom
	})
	return balances, nil
}

func (m *MemoryStore) Deposit(ctx context.Context, address, denom, amount, reference string) error {
	add, err := parseAmount(amount)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.credit(address, denom, add)
	m.record(address, "deposit", denom, amount, reference)
	return nil
}

func (m *MemoryStore) Transfer(ctx context.Context, from, to, denom, amount, reference string) error {
	value, err := parseAmount(amount)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	held := m.balances[from][denom]
	if held == nil || held.Cmp(value) < 0 {
		return ErrInsufficientFunds
	}

	held.Sub(held, value)
	m.credit(to, denom, value)

	m.record(from, "transfer_out", denom, amount, reference)
	m.record(to, "transfer_in", denom, amount, reference)
	return nil
}

func (m *MemoryStore) History(ctx context.Context, address string, limit int, before *pagination.Cursor) ([]*Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	matched := make([]*Entry, 0)
	for _, e := range m.entries {
		if e.Address == address {
			cp := *e
			matched = append(matched, &cp)
		}
	}
	sort.Slice(matched, func(i, j int) bool {
		if !matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].CreatedAt.After(matched[j].CreatedAt)
		}
		return matched[i].ID > matched[j].ID
	})

	entries := make([]*Entry, 0, limit)
	for _, e := range matched {
		if before != nil && !olderThan(e, before) {
			continue
		}
		entries = append(entries, e)
		if len(entries) == limit {
			break
		}
	}
	return entries, nil
}

// olderThan reports whether e sorts strictly after the cursor position
// in (createdAt desc, id desc) order.
func olderThan(e *Entry, c *pagination.Cursor) bool {
	if !e.CreatedAt.Equal(c.CreatedAt) {
		return e.CreatedAt.Before(c.CreatedAt)
	}
	return e.ID < c.ID
}

// credit adds value to an account balance. Caller holds the lock.
func (m *MemoryStore) credit(address, denom string, value *big.Int) {
	denoms, ok := m.balances[address]
	if !ok {
		denoms = make(map[string]*big.Int)
		m.balances[address] = denoms
	}
	held, ok := denoms[denom]
	if !ok {
		held = new(big.Int)
		denoms[denom] = held
	}
	held.Add(held, value)
}

// record appends a history entry. Caller holds the lock.
func (m *MemoryStore) record(address, entryType, denom, amount, reference string) {
	m.entries = append(m.entries, &Entry{
		ID:        idgen.WithPrefix("entry"),
		Address:   address,
		Type:      entryType,
		Denom:     denom,
		Amount:    amount,
		Reference: reference,
		CreatedAt: time.Now(),
	})
}

// Verify interface compliance
var _ Store = (*MemoryStore)(nil)
