package mcpserver

import "github.com/mark3labs/mcp-go/mcp"

// Tool definitions for the Sentinel MCP server.
// Descriptions are what the LLM reads to decide which tool to use.

var ToolRequestAuthorization = mcp.NewTool("request_authorization",
	mcp.WithDescription(
		"Submit a sensitive action (payment, data export, infrastructure change) to the "+
			"Sentinel authorization gateway and wait for the decision. Low-risk actions are "+
			"approved immediately; risky ones trigger a phone call to the human approver and "+
			"this tool blocks until they decide or the request times out. "+
			"Always use this before performing a consequential action."),
	mcp.WithString("action_type",
		mcp.Required(),
		mcp.Description("Action type in UPPER_SNAKE_CASE (e.g. 'PAY_INVOICE', 'EXPORT_CSV', 'DELETE_USER')")),
	mcp.WithObject("payload",
		mcp.Description("Action parameters (e.g. {\"amount\": 12000, \"vendor\": \"Acme Corp\"})")),
	mcp.WithString("reasoning",
		mcp.Description("Why you want to perform this action; shown to the human approver")),
	mcp.WithBoolean("wait",
		mcp.Description("Wait for a terminal decision (default true). If false, returns the initial status immediately.")),
)

var ToolCheckAuthorization = mcp.NewTool("check_authorization",
	mcp.WithDescription(
		"Check the current authorization case without submitting anything. "+
			"Returns the case state (IDLE, ANALYZING, BLOCKED_AWAITING_AUTH, QNA_MODE, APPROVED, DECLINED), "+
			"the risk score, and the rationale. Use this to poll a pending request."),
)

var ToolListDecisions = mcp.NewTool("list_decisions",
	mcp.WithDescription(
		"List recent terminal authorization decisions from the audit trail, newest first. "+
			"Shows what was approved or declined, by whom (policy, human keypress, human voice, timeout), and why."),
	mcp.WithNumber("limit",
		mcp.Description("Maximum number of decisions to return (default 20)")),
)
