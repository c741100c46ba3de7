// Package toolpay is the Go SDK for the toolpay platform API.
// It covers the full escrow lifecycle: discover tools, lock funds,
// settle or refund, and query balances and protocol fees.
package toolpay

import (
	"fmt"
	"time"
)

// Coin is a denominated amount in base units, expressed as a decimal string.
type Coin struct {
	Denom  string `json:"denom"`
	Amount string `json:"amount"`
}

// Tool is a metered tool listing from the registry.
type Tool struct {
	ToolID      string    `json:"toolId"`
	Provider    string    `json:"provider"`
	Price       string    `json:"price"`
	Denom       string    `json:"denom"`
	Description string    `json:"description,omitempty"`
	Endpoint    string    `json:"endpoint,omitempty"`
	Active      bool      `json:"active"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// Escrow is a pending escrow. Settled and refunded escrows no longer exist
// on the platform, so a successful fetch always means the escrow is open.
type Escrow struct {
	ID         uint64 `json:"id"`
	Caller     string `json:"caller"`
	Provider   string `json:"provider"`
	ToolID     string `json:"toolId"`
	MaxFee     string `json:"maxFee"`
	Denom      string `json:"denom"`
	AuthToken  string `json:"authToken"`
	Expires    uint64 `json:"expires"`
	LockHeight uint64 `json:"lockHeight"`
}

// LockResult identifies a freshly created escrow.
type LockResult struct {
	EscrowID uint64 `json:"escrowId"`
	Denom    string `json:"denom"`
}

// Balance is an account's available funds in one denom.
type Balance struct {
	Address   string    `json:"address"`
	Denom     string    `json:"denom"`
	Available string    `json:"available"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Fees reports the protocol's accrued fees per denom.
type Fees struct {
	Owner      string            `json:"owner"`
	FeePercent uint64            `json:"feePercent"`
	Balances   map[string]string `json:"balances"`
}

// Error is a structured error response from the platform.
type Error struct {
	StatusCode int    `json:"-"`
	Code       string `json:"error"`
	Message    string `json:"message"`
}

func (e *Error) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("toolpay: %s (%d): %s", e.Code, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("toolpay: %s (%d)", e.Code, e.StatusCode)
}

// IsNotFound reports whether the error is a 404 from the platform.
func IsNotFound(err error) bool {
	apiErr, ok := err.(*Error)
	return ok && apiErr.StatusCode == 404
}
