package mcpserver

import (
	"github.com/mark3labs/mcp-go/server"
)

// NewMCPServer creates a configured MCP server with all toolpay tools registered.
func NewMCPServer(cfg Config) *server.MCPServer {
	s := server.NewMCPServer("toolpay", "1.0.0")
	client := NewToolpayClient(cfg)
	h := NewHandlers(client)

	s.AddTool(ToolListTools, h.HandleListTools)
	s.AddTool(ToolCallTool, h.HandleCallTool)
	s.AddTool(ToolLockFunds, h.HandleLockFunds)
	s.AddTool(ToolGetEscrow, h.HandleGetEscrow)
	s.AddTool(ToolReleaseEscrow, h.HandleReleaseEscrow)
	s.AddTool(ToolRefundExpired, h.HandleRefundExpired)
	s.AddTool(ToolCheckBalance, h.HandleCheckBalance)
	s.AddTool(ToolGetCollectedFees, h.HandleGetCollectedFees)

	return s
}
