// Package registry implements the tool directory.
//
// Providers register metered tools with a price ceiling hint, a payment
// denomination and an endpoint. The escrow layer consults the registry
// before locking funds; callers discover tools through it.
package registry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"regexp"
	"strings"
	"time"

	"github.com/toolpay/toolpay/internal/security"
)

var (
	ErrToolNotFound  = errors.New("registry: tool not found")
	ErrToolExists    = errors.New("registry: tool already registered")
	ErrNotProvider   = errors.New("registry: caller is not the tool provider")
	ErrInvalidToolID = errors.New("registry: invalid tool id")
	ErrInvalidInput  = errors.New("registry: invalid input")
)

// Field limits enforced on registration and update.
const (
	MaxToolIDLength      = 16
	MaxDescriptionLength = 256
	MaxEndpointLength    = 512
)

// DefaultDenom is assumed when a tool registers without one.
const DefaultDenom = "untrn"

var toolIDRegex = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]*$`)

// Tool is a registered metered service.
type Tool struct {
	ToolID      string    `json:"toolId"`
	Provider    string    `json:"provider"`
	Price       string    `json:"price"` // suggested max fee per call, base units
	Denom       string    `json:"denom"`
	Description string    `json:"description,omitempty"`
	Endpoint    string    `json:"endpoint,omitempty"`
	Active      bool      `json:"active"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// Store defines the persistence interface for the registry.
type Store interface {
	Create(ctx context.Context, tool *Tool) error
	Get(ctx context.Context, toolID string) (*Tool, error)
	Update(ctx context.Context, tool *Tool) error
	List(ctx context.Context, limit, offset int) ([]*Tool, error)
}

// Service manages the tool directory.
type Service struct {
	store  Store
	logger *slog.Logger
}

// NewService creates a registry service.
func NewService(store Store, logger *slog.Logger) *Service {
	return &Service{store: store, logger: logger}
}

// RegisterTool adds a tool owned by provider.
func (s *Service) RegisterTool(ctx context.Context, provider string, tool *Tool) (*Tool, error) {
	if err := validateToolID(tool.ToolID); err != nil {
		return nil, err
	}
	if err := validatePrice(tool.Price); err != nil {
		return nil, err
	}
	if len(tool.Description) > MaxDescriptionLength {
		return nil, fmt.Errorf("%w: description exceeds %d characters", ErrInvalidInput, MaxDescriptionLength)
	}
	if tool.Endpoint != "" {
		if err := validateEndpoint(tool.Endpoint); err != nil {
			return nil, err
		}
	}
	if tool.Denom == "" {
		tool.Denom = DefaultDenom
	}

	now := time.Now()
	tool.Provider = strings.ToLower(provider)
	tool.Active = true
	tool.CreatedAt = now
	tool.UpdatedAt = now

	if err := s.store.Create(ctx, tool); err != nil {
		return nil, err
	}

	s.logger.Info("tool registered",
		"toolId", tool.ToolID,
		"provider", tool.Provider,
		"price", tool.Price,
		"denom", tool.Denom,
	)
	return tool, nil
}

// GetTool returns a tool by ID.
func (s *Service) GetTool(ctx context.Context, toolID string) (*Tool, error) {
	return s.store.Get(ctx, toolID)
}

// ListTools returns registered tools.
func (s *Service) ListTools(ctx context.Context, limit, offset int) ([]*Tool, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}
	return s.store.List(ctx, limit, offset)
}

// UpdatePrice changes a tool's suggested price. Provider only.
func (s *Service) UpdatePrice(ctx context.Context, caller, toolID, price string) (*Tool, error) {
	if err := validatePrice(price); err != nil {
		return nil, err
	}
	return s.mutate(ctx, caller, toolID, func(t *Tool) {
		t.Price = price
	})
}

// UpdateDenom changes a tool's payment denomination. Provider only.
// Open escrows keep the denomination they were locked with.
func (s *Service) UpdateDenom(ctx context.Context, caller, toolID, denom string) (*Tool, error) {
	if denom == "" {
		return nil, fmt.Errorf("%w: denom is required", ErrInvalidInput)
	}
	return s.mutate(ctx, caller, toolID, func(t *Tool) {
		t.Denom = denom
	})
}

// UpdateEndpoint changes a tool's endpoint. Provider only.
func (s *Service) UpdateEndpoint(ctx context.Context, caller, toolID, endpoint string) (*Tool, error) {
	if err := validateEndpoint(endpoint); err != nil {
		return nil, err
	}
	return s.mutate(ctx, caller, toolID, func(t *Tool) {
		t.Endpoint = endpoint
	})
}

// PauseTool stops new escrows against a tool. Provider only.
func (s *Service) PauseTool(ctx context.Context, caller, toolID string) (*Tool, error) {
	return s.mutate(ctx, caller, toolID, func(t *Tool) {
		t.Active = false
	})
}

// ResumeTool re-activates a paused tool. Provider only.
func (s *Service) ResumeTool(ctx context.Context, caller, toolID string) (*Tool, error) {
	return s.mutate(ctx, caller, toolID, func(t *Tool) {
		t.Active = true
	})
}

func (s *Service) mutate(ctx context.Context, caller, toolID string, apply func(*Tool)) (*Tool, error) {
	tool, err := s.store.Get(ctx, toolID)
	if err != nil {
		return nil, err
	}
	if tool.Provider != strings.ToLower(caller) {
		return nil, ErrNotProvider
	}

	apply(tool)
	tool.UpdatedAt = time.Now()

	if err := s.store.Update(ctx, tool); err != nil {
		return nil, err
	}
	return tool, nil
}

func validateToolID(id string) error {
	if id == "" || len(id) > MaxToolIDLength {
		return fmt.Errorf("%w: must be 1-%d characters", ErrInvalidToolID, MaxToolIDLength)
	}
	if !toolIDRegex.MatchString(id) {
		return fmt.Errorf("%w: only lowercase letters, digits, '-' and '_'", ErrInvalidToolID)
	}
	return nil
}

func validatePrice(price string) error {
	v, ok := new(big.Int).SetString(price, 10)
	if !ok || v.Sign() <= 0 {
		return fmt.Errorf("%w: price must be a positive integer in base units", ErrInvalidInput)
	}
	return nil
}

func validateEndpoint(endpoint string) error {
	if len(endpoint) > MaxEndpointLength {
		return fmt.Errorf("%w: endpoint exceeds %d characters", ErrInvalidInput, MaxEndpointLength)
	}
	if !strings.HasPrefix(endpoint, "https://") {
		return fmt.Errorf("%w: endpoint must use https", ErrInvalidInput)
	}
	if err := security.ValidateEndpointURL(endpoint); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	return nil
}
