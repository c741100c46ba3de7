// Package bank tracks account balances held by the platform.
//
// Flow:
//  1. Caller deposits funds into their platform account
//  2. Locking an escrow moves funds into the escrow pool account
//  3. Settlement pays the provider and refunds the caller from the pool
//
// Amounts are unsigned integers in base units, encoded as decimal
// strings. Each account holds one balance per denomination.
package bank

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/toolpay/toolpay/internal/pagination"
)

var (
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrAccountNotFound   = errors.New("account not found")
	ErrInvalidAmount     = errors.New("invalid amount")
	ErrSameAccount       = errors.New("transfer to same account")
	ErrInvalidCursor     = errors.New("invalid history cursor")
)

// Balance is an account's holding in one denomination.
type Balance struct {
	Address   string    `json:"address"`
	Denom     string    `json:"denom"`
	Available string    `json:"available"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Entry records a single balance movement.
type Entry struct {
	ID        string    `json:"id"`
	Address   string    `json:"address"`
	Type      string    `json:"type"` // deposit, transfer_in, transfer_out
	Denom     string    `json:"denom"`
	Amount    string    `json:"amount"`
	Reference string    `json:"reference,omitempty"` // escrow lock/settle reference
	CreatedAt time.Time `json:"createdAt"`
}

// Store persists balances and their movement history.
type Store interface {
	Balance(ctx context.Context, address, denom string) (*Balance, error)
	Balances(ctx context.Context, address string) ([]*Balance, error)
	// Deposit credits an account unconditionally.
	Deposit(ctx context.Context, address, denom, amount, reference string) error
	// Transfer atomically debits from and credits to. Fails with
	// ErrInsufficientFunds when the source holds less than amount.
	Transfer(ctx context.Context, from, to, denom, amount, reference string) error
	// History returns movements newest first, strictly older than the
	// cursor position when one is given.
	History(ctx context.Context, address string, limit int, before *pagination.Cursor) ([]*Entry, error)
}

// Service manages account balances.
type Service struct {
	store Store
}

// NewService creates a bank service.
func NewService(store Store) *Service {
	return &Service{store: store}
}

// Balance returns an account's balance in one denomination. Accounts
// that never held the denomination report a zero balance.
func (s *Service) Balance(ctx context.Context, address, denom string) (string, error) {
	bal, err := s.store.Balance(ctx, strings.ToLower(address), denom)
	if err != nil {
		if errors.Is(err, ErrAccountNotFound) {
			return "0", nil
		}
		return "", err
	}
	return bal.Available, nil
}

// Balances returns all non-zero balances held by an account.
func (s *Service) Balances(ctx context.Context, address string) ([]*Balance, error) {
	return s.store.Balances(ctx, strings.ToLower(address))
}

// Deposit credits an account.
func (s *Service) Deposit(ctx context.Context, address, denom, amount, reference string) error {
	if _, err := parseAmount(amount); err != nil {
		return err
	}
	return s.store.Deposit(ctx, strings.ToLower(address), denom, amount, reference)
}

// Transfer moves funds between accounts.
func (s *Service) Transfer(ctx context.Context, from, to, denom, amount, reference string) error {
	if _, err := parseAmount(amount); err != nil {
		return err
	}

	from = strings.ToLower(from)
	to = strings.ToLower(to)
	if from == to {
		return ErrSameAccount
	}

	return s.store.Transfer(ctx, from, to, denom, amount, reference)
}

// History returns the most recent balance movements for an account,
// newest first. An opaque cursor resumes where a previous page stopped;
// the returned cursor is empty on the last page.
func (s *Service) History(ctx context.Context, address string, limit int, cursor string) ([]*Entry, string, error) {
	if limit <= 0 {
		limit = 50
	}
	before, err := pagination.Decode(cursor)
	if err != nil {
		return nil, "", fmt.Errorf("%w: %v", ErrInvalidCursor, err)
	}

	entries, err := s.store.History(ctx, strings.ToLower(address), limit+1, before)
	if err != nil {
		return nil, "", err
	}

	entries, next, _ := pagination.ComputePage(entries, limit, func(e *Entry) (time.Time, string) {
		return e.CreatedAt, e.ID
	})
	return entries, next, nil
}

// parseAmount parses a positive decimal-string base-unit amount.
func parseAmount(s string) (*big.Int, error) {
	if s == "" {
		return nil, ErrInvalidAmount
	}
	v, ok := new(big.Int).SetString(s, 10)
	if !ok || v.Sign() <= 0 {
		return nil, fmt.Errorf("%w: %q", ErrInvalidAmount, s)
	}
	return v, nil
}
