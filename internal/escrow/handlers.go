package escrow

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/toolpay/toolpay/internal/auth"
	"github.com/toolpay/toolpay/internal/bank"
)

func isInsufficientFunds(err error) bool {
	return errors.Is(err, bank.ErrInsufficientFunds)
}

// Handler provides HTTP endpoints for escrow operations.
type Handler struct {
	service *Service
}

// NewHandler creates a new escrow handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// RegisterRoutes sets up public (read-only) escrow routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/escrows/:id", h.GetEscrow)
	r.GET("/fees", h.GetCollectedFees)
}

// RegisterProtectedRoutes sets up protected (auth-required) escrow routes.
func (h *Handler) RegisterProtectedRoutes(r *gin.RouterGroup) {
	r.POST("/escrows", h.LockFunds)
	r.POST("/escrows/:id/release", h.Release)
	r.POST("/escrows/:id/refund", h.RefundExpired)
	r.POST("/fees/claim", h.ClaimFees)
}

// RegisterAdminRoutes sets up admin escrow routes.
func (h *Handler) RegisterAdminRoutes(r *gin.RouterGroup) {
	r.POST("/admin/freeze", h.SetFrozen)
	r.GET("/admin/custody", h.VerifyCustody)
}

// LockFunds handles POST /v1/escrows
func (h *Handler) LockFunds(c *gin.Context) {
	var req LockRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Invalid request body",
		})
		return
	}

	req.Caller = auth.GetAuthenticatedAddress(c)

	result, err := h.service.Lock(c.Request.Context(), req)
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"escrow": result})
}

// ReleaseRequest is the payload for settling in the provider's favor.
type ReleaseRequest struct {
	UsageFee string `json:"usageFee" binding:"required"`
}

// Release handles POST /v1/escrows/:id/release
func (h *Handler) Release(c *gin.Context) {
	id, ok := parseEscrowID(c)
	if !ok {
		return
	}

	var req ReleaseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Invalid request body",
		})
		return
	}

	sender := auth.GetAuthenticatedAddress(c)
	if err := h.service.Release(c.Request.Context(), sender, id, req.UsageFee); err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "released"})
}

// RefundExpired handles POST /v1/escrows/:id/refund
func (h *Handler) RefundExpired(c *gin.Context) {
	id, ok := parseEscrowID(c)
	if !ok {
		return
	}

	if err := h.service.RefundExpired(c.Request.Context(), id); err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "refunded"})
}

// GetEscrow handles GET /v1/escrows/:id
func (h *Handler) GetEscrow(c *gin.Context) {
	id, ok := parseEscrowID(c)
	if !ok {
		return
	}

	escrow, err := h.service.Get(c.Request.Context(), id)
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"escrow": escrow})
}

// GetCollectedFees handles GET /v1/fees
func (h *Handler) GetCollectedFees(c *gin.Context) {
	fees, err := h.service.CollectedFees(c.Request.Context())
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"fees": fees})
}

// ClaimFeesRequest is the payload for a fee claim. Denom is optional;
// without it every denomination with a balance is claimed.
type ClaimFeesRequest struct {
	Denom string `json:"denom"`
}

// ClaimFees handles POST /v1/fees/claim
func (h *Handler) ClaimFees(c *gin.Context) {
	var req ClaimFeesRequest
	if err := c.ShouldBindJSON(&req); err != nil && err.Error() != "EOF" {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Invalid request body",
		})
		return
	}

	sender := auth.GetAuthenticatedAddress(c)
	if err := h.service.ClaimFees(c.Request.Context(), sender, req.Denom); err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "claimed"})
}

// SetFrozenRequest is the payload for the freeze toggle.
type SetFrozenRequest struct {
	Frozen *bool `json:"frozen" binding:"required"`
}

// SetFrozen handles POST /v1/admin/freeze
func (h *Handler) SetFrozen(c *gin.Context) {
	var req SetFrozenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Body must include a boolean 'frozen' field",
		})
		return
	}

	sender := auth.GetAuthenticatedAddress(c)
	if err := h.service.SetFrozen(c.Request.Context(), sender, *req.Frozen); err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"frozen": *req.Frozen})
}

// VerifyCustody handles GET /v1/admin/custody
func (h *Handler) VerifyCustody(c *gin.Context) {
	mismatches, err := h.service.VerifyCustody(c.Request.Context())
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"consistent": len(mismatches) == 0,
		"mismatches": mismatches,
	})
}

func parseEscrowID(c *gin.Context) (uint64, bool) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_id",
			"message": "Escrow ID must be an unsigned integer",
		})
		return 0, false
	}
	return id, true
}

func (h *Handler) respondError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, ErrEscrowNotFound), errors.Is(err, ErrToolNotFound):
		c.JSON(http.StatusNotFound, gin.H{
			"error":   "not_found",
			"message": err.Error(),
		})
	case errors.Is(err, ErrUnauthorized):
		c.JSON(http.StatusForbidden, gin.H{
			"error":   "unauthorized",
			"message": err.Error(),
		})
	case errors.Is(err, ErrFrozen):
		c.JSON(http.StatusLocked, gin.H{
			"error":   "frozen",
			"message": err.Error(),
		})
	case errors.Is(err, ErrToolPaused),
		errors.Is(err, ErrNotExpired),
		errors.Is(err, ErrNothingToClaim):
		c.JSON(http.StatusConflict, gin.H{
			"error":   "state_conflict",
			"message": err.Error(),
		})
	case errors.Is(err, ErrDenomMismatch),
		errors.Is(err, ErrFundsMismatch),
		errors.Is(err, ErrZeroFee),
		errors.Is(err, ErrExpiryInPast),
		errors.Is(err, ErrExpiryTooFar),
		errors.Is(err, ErrFeeExceedsCeiling),
		errors.Is(err, ErrInvalidAmount),
		errors.Is(err, ErrAmountTooLarge):
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "validation_failed",
			"message": err.Error(),
		})
	case errors.Is(err, ErrPartialClaim):
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "partial_claim",
			"message": err.Error(),
		})
	case isInsufficientFunds(err):
		c.JSON(http.StatusPaymentRequired, gin.H{
			"error":   "insufficient_funds",
			"message": "Account balance does not cover the ceiling fee",
		})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "Escrow operation failed",
		})
	}
}
