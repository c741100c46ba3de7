package escrow

import (
	"math/big"
)

// MaxAmountDigits bounds amounts to what NUMERIC(78,0) can store, which
// also covers the full uint256 range.
const MaxAmountDigits = 78

// ParseAmount parses a decimal-string-encoded unsigned integer amount in
// base units. Signs, decimal points, and grouping are rejected.
func ParseAmount(s string) (*big.Int, error) {
	if s == "" {
		return nil, ErrInvalidAmount
	}
	if len(s) > MaxAmountDigits {
		return nil, ErrAmountTooLarge
	}
	for _, c := range s {
		if c < '0' || c > '9' {
			return nil, ErrInvalidAmount
		}
	}
	a, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, ErrInvalidAmount
	}
	return a, nil
}
