package mcpserver

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
)

// Handlers holds the handler functions for each MCP tool.
type Handlers struct {
	client *ToolpayClient
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(client *ToolpayClient) *Handlers {
	return &Handlers{client: client}
}

const defaultTTLBlocks = 50

// HandleListTools lists the platform's registered tools.
func (h *Handlers) HandleListTools(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	limit := req.GetInt("limit", 20)

	raw, err := h.client.ListTools(ctx, limit)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to list tools: %v", err)), nil
	}

	text, err := formatToolList(raw)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to parse tools: %v", err)), nil
	}

	return mcp.NewToolResultText(text), nil
}

// HandleCallTool locks funds and calls the tool endpoint in one step.
func (h *Handlers) HandleCallTool(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	toolID := req.GetString("tool_id", "")
	if toolID == "" {
		return mcp.NewToolResultError("tool_id is required"), nil
	}
	maxFee := req.GetString("max_fee", "")
	ttl := req.GetInt("ttl_blocks", defaultTTLBlocks)

	params := make(map[string]any)
	if raw := req.GetArguments()["params"]; raw != nil {
		if m, ok := raw.(map[string]any); ok {
			params = m
		}
	}

	tool, err := h.lookupTool(ctx, toolID)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if maxFee == "" {
		maxFee = tool.Price
	}

	escrowID, err := h.lock(ctx, toolID, maxFee, tool.Denom, ttl)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to lock funds: %v", err)), nil
	}

	if tool.Endpoint == "" {
		return mcp.NewToolResultText(fmt.Sprintf(
			"Funds locked but the tool has no endpoint to call.\n"+
				"Escrow ID: %s\n"+
				"Ceiling: %s %s\n\n"+
				"Hand the escrow ID to the provider. If they never settle, "+
				"use refund_expired after expiry.",
			escrowID, maxFee, tool.Denom)), nil
	}

	result, err := h.client.CallEndpoint(ctx, tool.Endpoint, params, escrowID, "")
	if err != nil {
		// Endpoint failed. The ceiling stays locked until the provider
		// settles or the escrow expires.
		return mcp.NewToolResultText(fmt.Sprintf(
			"Tool call failed. Your funds stay in escrow until expiry.\n\n"+
				"Error: %v\n"+
				"Escrow ID: %s\n"+
				"Amount held: %s %s\n\n"+
				"Use refund_expired with this escrow_id once the escrow expires.",
			err, escrowID, maxFee, tool.Denom)), nil
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Tool: %s (provider %s)\n", tool.ToolID, tool.Provider)
	fmt.Fprintf(&sb, "Escrow ID: %s\n", escrowID)
	fmt.Fprintf(&sb, "Ceiling locked: %s %s\n", maxFee, tool.Denom)
	sb.WriteString("The provider settles for actual usage; the remainder returns to you.\n")
	fmt.Fprintf(&sb, "\nResult:\n%s", formatJSON(result))

	return mcp.NewToolResultText(sb.String()), nil
}

// HandleLockFunds opens an escrow without calling the endpoint.
func (h *Handlers) HandleLockFunds(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	toolID := req.GetString("tool_id", "")
	if toolID == "" {
		return mcp.NewToolResultError("tool_id is required"), nil
	}
	maxFee := req.GetString("max_fee", "")
	ttl := req.GetInt("ttl_blocks", defaultTTLBlocks)

	tool, err := h.lookupTool(ctx, toolID)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if maxFee == "" {
		maxFee = tool.Price
	}

	escrowID, err := h.lock(ctx, toolID, maxFee, tool.Denom, ttl)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to lock funds: %v", err)), nil
	}

	return mcp.NewToolResultText(fmt.Sprintf(
		"Escrow created for tool %s\n"+
			"Escrow ID: %s\n"+
			"Ceiling: %s %s\n"+
			"Expires in: %d blocks\n\n"+
			"Hand the escrow ID to the provider. They settle for metered usage; "+
			"use refund_expired after expiry if they never do.",
		toolID, escrowID, maxFee, tool.Denom, ttl)), nil
}

// HandleGetEscrow fetches a pending escrow.
func (h *Handlers) HandleGetEscrow(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	escrowID := req.GetString("escrow_id", "")
	if escrowID == "" {
		return mcp.NewToolResultError("escrow_id is required"), nil
	}

	raw, err := h.client.GetEscrow(ctx, escrowID)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to get escrow: %v", err)), nil
	}

	text, err := formatEscrow(raw)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to parse escrow: %v", err)), nil
	}

	return mcp.NewToolResultText(text), nil
}

// HandleReleaseEscrow settles an escrow for the metered usage fee.
func (h *Handlers) HandleReleaseEscrow(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	escrowID := req.GetString("escrow_id", "")
	if escrowID == "" {
		return mcp.NewToolResultError("escrow_id is required"), nil
	}
	usageFee := req.GetString("usage_fee", "")
	if usageFee == "" {
		return mcp.NewToolResultError("usage_fee is required"), nil
	}

	_, err := h.client.ReleaseEscrow(ctx, escrowID, usageFee)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Release failed: %v", err)), nil
	}

	return mcp.NewToolResultText(fmt.Sprintf(
		"Escrow %s settled.\n"+
			"Usage fee: %s base units\n"+
			"You receive the usage fee minus the protocol cut; "+
			"the unused remainder went back to the caller.",
		escrowID, usageFee)), nil
}

// HandleRefundExpired refunds an expired escrow.
func (h *Handlers) HandleRefundExpired(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	escrowID := req.GetString("escrow_id", "")
	if escrowID == "" {
		return mcp.NewToolResultError("escrow_id is required"), nil
	}

	_, err := h.client.RefundExpired(ctx, escrowID)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Refund failed: %v", err)), nil
	}

	return mcp.NewToolResultText(fmt.Sprintf(
		"Escrow %s refunded in full to the caller. No fee was charged.",
		escrowID)), nil
}

// HandleCheckBalance returns the caller's balances.
func (h *Handlers) HandleCheckBalance(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	raw, err := h.client.GetBalances(ctx)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to check balance: %v", err)), nil
	}

	text, err := formatBalances(raw)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to parse balances: %v", err)), nil
	}

	return mcp.NewToolResultText(text), nil
}

// HandleGetCollectedFees returns the protocol's accrued fees.
func (h *Handlers) HandleGetCollectedFees(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	raw, err := h.client.GetCollectedFees(ctx)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to get fees: %v", err)), nil
	}

	return mcp.NewToolResultText(formatJSON(raw)), nil
}

// --- Composite steps ---

type toolInfo struct {
	ToolID   string `json:"toolId"`
	Provider string `json:"provider"`
	Price    string `json:"price"`
	Denom    string `json:"denom"`
	Endpoint string `json:"endpoint"`
	Active   bool   `json:"active"`
}

func (h *Handlers) lookupTool(ctx context.Context, toolID string) (*toolInfo, error) {
	raw, err := h.client.GetTool(ctx, toolID)
	if err != nil {
		return nil, fmt.Errorf("tool lookup failed: %v", err)
	}
	var resp struct {
		Tool toolInfo `json:"tool"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil || resp.Tool.ToolID == "" {
		return nil, fmt.Errorf("unexpected tool response: %s", string(raw))
	}
	if !resp.Tool.Active {
		return nil, fmt.Errorf("tool %s is paused and not accepting calls", toolID)
	}
	return &resp.Tool, nil
}

func (h *Handlers) lock(ctx context.Context, toolID, maxFee, denom string, ttl int) (string, error) {
	height, err := h.client.GetHeight(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to read block height: %v", err)
	}

	raw, err := h.client.LockFunds(ctx, toolID, maxFee, denom, height+uint64(ttl))
	if err != nil {
		return "", err
	}
	return extractEscrowID(raw)
}

func extractEscrowID(raw json.RawMessage) (string, error) {
	var resp struct {
		Escrow struct {
			EscrowID json.Number `json:"escrowId"`
		} `json:"escrow"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil || resp.Escrow.EscrowID == "" {
		return "", fmt.Errorf("no escrow ID in response: %s", string(raw))
	}
	return resp.Escrow.EscrowID.String(), nil
}

// --- Formatting helpers ---

func formatToolList(raw json.RawMessage) (string, error) {
	var resp struct {
		Tools []toolInfo `json:"tools"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return "", fmt.Errorf("unexpected tools response format")
	}
	if len(resp.Tools) == 0 {
		return "No tools registered.", nil
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Found %d tool(s):\n\n", len(resp.Tools))
	for i, t := range resp.Tools {
		fmt.Fprintf(&sb, "%d. %s\n", i+1, t.ToolID)
		fmt.Fprintf(&sb, "   Price ceiling: %s %s\n", t.Price, t.Denom)
		fmt.Fprintf(&sb, "   Provider: %s\n", t.Provider)
		if !t.Active {
			sb.WriteString("   Status: paused\n")
		}
		if i < len(resp.Tools)-1 {
			sb.WriteString("\n")
		}
	}
	return sb.String(), nil
}

func formatEscrow(raw json.RawMessage) (string, error) {
	var resp struct {
		Escrow struct {
			ID         json.Number `json:"id"`
			Caller     string      `json:"caller"`
			Provider   string      `json:"provider"`
			ToolID     string      `json:"toolId"`
			MaxFee     string      `json:"maxFee"`
			Denom      string      `json:"denom"`
			Expires    uint64      `json:"expires"`
			LockHeight uint64      `json:"lockHeight"`
		} `json:"escrow"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return "", err
	}
	e := resp.Escrow

	var sb strings.Builder
	sb.WriteString("Escrow:\n")
	fmt.Fprintf(&sb, "  ID: %s\n", e.ID.String())
	fmt.Fprintf(&sb, "  Tool: %s\n", e.ToolID)
	fmt.Fprintf(&sb, "  Caller: %s\n", e.Caller)
	fmt.Fprintf(&sb, "  Provider: %s\n", e.Provider)
	fmt.Fprintf(&sb, "  Locked: %s %s\n", e.MaxFee, e.Denom)
	fmt.Fprintf(&sb, "  Locked at height: %d\n", e.LockHeight)
	fmt.Fprintf(&sb, "  Expires at height: %d\n", e.Expires)
	return sb.String(), nil
}

func formatBalances(raw json.RawMessage) (string, error) {
	var resp struct {
		Address  string `json:"address"`
		Balances []struct {
			Denom     string `json:"denom"`
			Available string `json:"available"`
		} `json:"balances"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return "", err
	}

	if len(resp.Balances) == 0 {
		return "No balances. Deposit funds before locking an escrow.", nil
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Balances for %s:\n", resp.Address)
	for _, b := range resp.Balances {
		fmt.Fprintf(&sb, "  %s: %s\n", b.Denom, b.Available)
	}
	return sb.String(), nil
}

func formatJSON(raw json.RawMessage) string {
	var pretty bytes.Buffer
	if err := json.Indent(&pretty, raw, "", "  "); err != nil {
		return string(raw)
	}
	return pretty.String()
}
