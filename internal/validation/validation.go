// Package validation provides input validation for the toolpay API.
package validation

import (
	"net/http"
	"regexp"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gin-gonic/gin"
)

// MaxRequestSize is the maximum request body size (1MB).
const MaxRequestSize = 1 << 20

// denomRegex matches token denominations like "untrn" or "uusdc".
var denomRegex = regexp.MustCompile(`^[a-z][a-z0-9/]{2,63}$`)

// amountRegex matches decimal-string-encoded unsigned integers.
var amountRegex = regexp.MustCompile(`^[0-9]{1,78}$`)

// RequestSizeMiddleware limits request body size.
func RequestSizeMiddleware(maxSize int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxSize)
		c.Next()
	}
}

// IsValidAddress checks if a string is a valid account address.
func IsValidAddress(addr string) bool {
	return common.IsHexAddress(addr)
}

// IsValidDenom checks if a string is a well-formed denomination.
func IsValidDenom(denom string) bool {
	return denomRegex.MatchString(denom)
}

// IsValidAmount checks if a string is a decimal-encoded unsigned integer.
func IsValidAmount(amount string) bool {
	return amountRegex.MatchString(amount)
}

// SanitizeAddress normalizes an account address.
func SanitizeAddress(addr string) string {
	return strings.ToLower(strings.TrimSpace(addr))
}

// ValidationError represents a validation error.
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationErrors is a collection of validation errors.
type ValidationErrors []ValidationError

// Error implements the error interface.
func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return "validation failed"
	}
	return e[0].Field + ": " + e[0].Message
}

// Validate runs the given validators and collects their errors.
func Validate(validators ...func() *ValidationError) ValidationErrors {
	var errs ValidationErrors
	for _, v := range validators {
		if err := v(); err != nil {
			errs = append(errs, *err)
		}
	}
	return errs
}

// Required checks that a field is non-empty.
func Required(field, value string) func() *ValidationError {
	return func() *ValidationError {
		if strings.TrimSpace(value) == "" {
			return &ValidationError{Field: field, Message: "is required"}
		}
		return nil
	}
}

// ValidAddress checks that a field is a valid account address.
func ValidAddress(field, value string) func() *ValidationError {
	return func() *ValidationError {
		if value == "" {
			return nil // use Required for required fields
		}
		if !IsValidAddress(value) {
			return &ValidationError{Field: field, Message: "must be a valid account address (0x...)"}
		}
		return nil
	}
}

// ValidDenom checks that a field is a well-formed denomination.
func ValidDenom(field, value string) func() *ValidationError {
	return func() *ValidationError {
		if value == "" {
			return nil
		}
		if !IsValidDenom(value) {
			return &ValidationError{Field: field, Message: "must be a lowercase token denomination"}
		}
		return nil
	}
}

// ValidAmount checks that a field is an unsigned base-unit amount.
func ValidAmount(field, value string) func() *ValidationError {
	return func() *ValidationError {
		if value == "" {
			return nil
		}
		if !IsValidAmount(value) {
			return &ValidationError{Field: field, Message: "must be an unsigned integer amount in base units"}
		}
		return nil
	}
}
