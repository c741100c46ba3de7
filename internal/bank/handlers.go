package bank

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/toolpay/toolpay/internal/validation"
)

// Handler provides HTTP endpoints for account balance operations
type Handler struct {
	bank   *Service
	logger *slog.Logger
}

// NewHandler creates a new bank handler
func NewHandler(bank *Service, logger *slog.Logger) *Handler {
	return &Handler{bank: bank, logger: logger}
}

// RegisterRoutes sets up account routes
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/accounts/:address/balances", h.GetBalances)
	r.GET("/accounts/:address/history", h.GetHistory)
	r.POST("/accounts/:address/deposit", h.Deposit)
}

// GetBalances handles GET /accounts/:address/balances
func (h *Handler) GetBalances(c *gin.Context) {
	address := c.Param("address")
	if !validation.IsValidAddress(address) {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_address",
			"message": "Address must be a valid account address",
		})
		return
	}

	balances, err := h.bank.Balances(c.Request.Context(), address)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "balance_error",
			"message": "Failed to retrieve balances",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"address":  address,
		"balances": balances,
	})
}

// GetHistory handles GET /accounts/:address/history
func (h *Handler) GetHistory(c *gin.Context) {
	address := c.Param("address")
	limit := 50
	if l := c.Query("limit"); l != "" {
		if parsed, err := strconv.Atoi(l); err == nil && parsed > 0 && parsed <= 500 {
			limit = parsed
		}
	}

	entries, next, err := h.bank.History(c.Request.Context(), address, limit, c.Query("cursor"))
	if err != nil {
		if errors.Is(err, ErrInvalidCursor) {
			c.JSON(http.StatusBadRequest, gin.H{
				"error":   "invalid_cursor",
				"message": "Cursor is malformed; restart pagination from the first page",
			})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "history_error",
			"message": "Failed to retrieve account history",
		})
		return
	}

	resp := gin.H{
		"entries": entries,
		"hasMore": next != "",
	}
	if next != "" {
		resp["nextCursor"] = next
	}
	c.JSON(http.StatusOK, resp)
}

// DepositRequest for crediting an account
type DepositRequest struct {
	Denom     string `json:"denom" binding:"required"`
	Amount    string `json:"amount" binding:"required"`
	Reference string `json:"reference"`
}

// Deposit handles POST /accounts/:address/deposit
func (h *Handler) Deposit(c *gin.Context) {
	address := c.Param("address")

	var req DepositRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": err.Error(),
		})
		return
	}

	if errs := validation.Validate(
		validation.ValidAddress("address", address),
		validation.ValidDenom("denom", req.Denom),
		validation.ValidAmount("amount", req.Amount),
	); len(errs) > 0 {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "validation_failed",
			"details": errs,
		})
		return
	}

	if err := h.bank.Deposit(c.Request.Context(), address, req.Denom, req.Amount, req.Reference); err != nil {
		if errors.Is(err, ErrInvalidAmount) {
			c.JSON(http.StatusBadRequest, gin.H{
				"error":   "invalid_amount",
				"message": "Amount must be a positive integer in base units",
			})
			return
		}
		h.logger.Error("deposit failed", "address", address, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "deposit_error",
			"message": "Failed to credit account",
		})
		return
	}

	h.logger.Info("account credited",
		"address", address,
		"denom", req.Denom,
		"amount", req.Amount,
	)

	c.JSON(http.StatusOK, gin.H{
		"status": "credited",
	})
}
