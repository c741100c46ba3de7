package mcpserver

import "github.com/mark3labs/mcp-go/mcp"

// Tool definitions for the toolpay MCP server.
// Descriptions are what the LLM reads to decide which tool to use.

var ToolListTools = mcp.NewTool("list_tools",
	mcp.WithDescription(
		"Browse metered tools registered on the toolpay platform. "+
			"Returns each tool's price ceiling per call, denom, and provider. "+
			"Use this to find tools before locking funds for a call."),
	mcp.WithNumber("limit",
		mcp.Description("Maximum number of tools to return (default 20)")),
)

var ToolCallTool = mcp.NewTool("call_tool",
	mcp.WithDescription(
		"Lock funds and call a metered tool in one step. "+
			"Escrows the tool's price ceiling, calls the tool endpoint with the escrow ID, "+
			"and reports the result. The provider settles the escrow for the actual usage; "+
			"anything unused comes back to you. If the provider never settles, the escrow "+
			"expires and refund_expired returns the full amount."),
	mcp.WithString("tool_id",
		mcp.Required(),
		mcp.Description("The tool to call, as listed by list_tools (e.g. 'summarize')")),
	mcp.WithString("max_fee",
		mcp.Description("Escrow ceiling in base units. Defaults to the tool's listed price.")),
	mcp.WithNumber("ttl_blocks",
		mcp.Description("Blocks until the escrow expires and becomes refundable (default 50)")),
	mcp.WithObject("params",
		mcp.Description("Parameters to pass to the tool endpoint (varies by tool)")),
)

var ToolLockFunds = mcp.NewTool("lock_funds",
	mcp.WithDescription(
		"Open an escrow for a tool call without calling the endpoint. "+
			"Locks the fee ceiling from your balance until the provider settles "+
			"or the escrow expires. Returns the escrow ID to hand to the provider."),
	mcp.WithString("tool_id",
		mcp.Required(),
		mcp.Description("The tool to escrow funds for")),
	mcp.WithString("max_fee",
		mcp.Description("Escrow ceiling in base units. Defaults to the tool's listed price.")),
	mcp.WithNumber("ttl_blocks",
		mcp.Description("Blocks until the escrow expires and becomes refundable (default 50)")),
)

var ToolGetEscrow = mcp.NewTool("get_escrow",
	mcp.WithDescription(
		"Look up a pending escrow by ID. Shows the locked amount, denom, caller, "+
			"provider, and expiry height. Settled or refunded escrows no longer exist."),
	mcp.WithString("escrow_id",
		mcp.Required(),
		mcp.Description("The escrow ID from a previous lock_funds or call_tool result")),
)

var ToolReleaseEscrow = mcp.NewTool("release_escrow",
	mcp.WithDescription(
		"Settle an escrow for the metered usage fee. Only the tool's provider may do this. "+
			"The provider receives the usage fee minus the protocol cut, and the caller "+
			"gets back the unused remainder."),
	mcp.WithString("escrow_id",
		mcp.Required(),
		mcp.Description("The escrow to settle")),
	mcp.WithString("usage_fee",
		mcp.Required(),
		mcp.Description("Actual metered usage in base units. Must not exceed the escrow ceiling. '0' refunds the caller in full.")),
)

var ToolRefundExpired = mcp.NewTool("refund_expired",
	mcp.WithDescription(
		"Refund an escrow whose expiry height has passed. The full locked amount "+
			"returns to the caller and no fee is charged. Anyone may trigger this."),
	mcp.WithString("escrow_id",
		mcp.Required(),
		mcp.Description("The expired escrow to refund")),
)

var ToolCheckBalance = mcp.NewTool("check_balance",
	mcp.WithDescription(
		"Check your account's balances on the toolpay platform, per denom."),
)

var ToolGetCollectedFees = mcp.NewTool("get_collected_fees",
	mcp.WithDescription(
		"Show the protocol fees accrued so far, per denom, plus the owner address "+
			"and fee percentage."),
)
