package registry

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/toolpay/toolpay/internal/auth"
)

// Handler provides HTTP endpoints for the tool directory
type Handler struct {
	registry *Service
	logger   *slog.Logger
}

// NewHandler creates a new registry handler
func NewHandler(registry *Service, logger *slog.Logger) *Handler {
	return &Handler{registry: registry, logger: logger}
}

// RegisterRoutes sets up public registry routes
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/tools", h.ListTools)
	r.GET("/tools/:id", h.GetTool)
}

// RegisterAuthedRoutes sets up provider-gated registry routes
func (h *Handler) RegisterAuthedRoutes(r *gin.RouterGroup) {
	r.POST("/tools", h.RegisterTool)
	r.POST("/tools/:id/price", h.UpdatePrice)
	r.POST("/tools/:id/denom", h.UpdateDenom)
	r.POST("/tools/:id/endpoint", h.UpdateEndpoint)
	r.POST("/tools/:id/pause", h.PauseTool)
	r.POST("/tools/:id/resume", h.ResumeTool)
}

// RegisterToolRequest is the payload for tool registration
type RegisterToolRequest struct {
	ToolID      string `json:"toolId" binding:"required"`
	Price       string `json:"price" binding:"required"`
	Denom       string `json:"denom"`
	Description string `json:"description"`
	Endpoint    string `json:"endpoint"`
}

// RegisterTool handles POST /tools
func (h *Handler) RegisterTool(c *gin.Context) {
	var req RegisterToolRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": err.Error(),
		})
		return
	}

	provider := auth.GetAuthenticatedAddress(c)
	tool, err := h.registry.RegisterTool(c.Request.Context(), provider, &Tool{
		ToolID:      req.ToolID,
		Price:       req.Price,
		Denom:       req.Denom,
		Description: req.Description,
		Endpoint:    req.Endpoint,
	})
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"tool": tool})
}

// GetTool handles GET /tools/:id
func (h *Handler) GetTool(c *gin.Context) {
	tool, err := h.registry.GetTool(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"tool": tool})
}

// ListTools handles GET /tools
func (h *Handler) ListTools(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))

	tools, err := h.registry.ListTools(c.Request.Context(), limit, offset)
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"tools": tools,
		"count": len(tools),
	})
}

// UpdatePriceRequest is the payload for a price change
type UpdatePriceRequest struct {
	Price string `json:"price" binding:"required"`
}

// UpdatePrice handles POST /tools/:id/price
func (h *Handler) UpdatePrice(c *gin.Context) {
	var req UpdatePriceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": err.Error()})
		return
	}

	tool, err := h.registry.UpdatePrice(c.Request.Context(), auth.GetAuthenticatedAddress(c), c.Param("id"), req.Price)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"tool": tool})
}

// UpdateDenomRequest is the payload for a denomination change
type UpdateDenomRequest struct {
	Denom string `json:"denom" binding:"required"`
}

// UpdateDenom handles POST /tools/:id/denom
func (h *Handler) UpdateDenom(c *gin.Context) {
	var req UpdateDenomRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": err.Error()})
		return
	}

	tool, err := h.registry.UpdateDenom(c.Request.Context(), auth.GetAuthenticatedAddress(c), c.Param("id"), req.Denom)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"tool": tool})
}

// UpdateEndpointRequest is the payload for an endpoint change
type UpdateEndpointRequest struct {
	Endpoint string `json:"endpoint" binding:"required"`
}

// UpdateEndpoint handles POST /tools/:id/endpoint
func (h *Handler) UpdateEndpoint(c *gin.Context) {
	var req UpdateEndpointRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": err.Error()})
		return
	}

	tool, err := h.registry.UpdateEndpoint(c.Request.Context(), auth.GetAuthenticatedAddress(c), c.Param("id"), req.Endpoint)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"tool": tool})
}

// PauseTool handles POST /tools/:id/pause
func (h *Handler) PauseTool(c *gin.Context) {
	tool, err := h.registry.PauseTool(c.Request.Context(), auth.GetAuthenticatedAddress(c), c.Param("id"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"tool": tool})
}

// ResumeTool handles POST /tools/:id/resume
func (h *Handler) ResumeTool(c *gin.Context) {
	tool, err := h.registry.ResumeTool(c.Request.Context(), auth.GetAuthenticatedAddress(c), c.Param("id"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"tool": tool})
}

func (h *Handler) respondError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, ErrToolNotFound):
		c.JSON(http.StatusNotFound, gin.H{
			"error":   "tool_not_found",
			"message": "No tool registered under this ID",
		})
	case errors.Is(err, ErrToolExists):
		c.JSON(http.StatusConflict, gin.H{
			"error":   "tool_exists",
			"message": "A tool with this ID is already registered",
		})
	case errors.Is(err, ErrNotProvider):
		c.JSON(http.StatusForbidden, gin.H{
			"error":   "not_provider",
			"message": "Only the registering provider may modify a tool",
		})
	case errors.Is(err, ErrInvalidToolID), errors.Is(err, ErrInvalidInput):
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "validation_failed",
			"message": err.Error(),
		})
	default:
		h.logger.Error("registry request failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "Registry operation failed",
		})
	}
}
