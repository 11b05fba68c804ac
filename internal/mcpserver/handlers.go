package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
)

// Handlers holds the handler functions for each MCP tool.
type Handlers struct {
	client *SentinelClient
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(client *SentinelClient) *Handlers {
	return &Handlers{client: client}
}

// HandleRequestAuthorization submits an action and, by default, blocks until
// the gateway reaches a terminal decision.
func (h *Handlers) HandleRequestAuthorization(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	actionType := req.GetString("action_type", "")
	if actionType == "" {
		return mcp.NewToolResultError("action_type is required"), nil
	}
	reasoning := req.GetString("reasoning", "")
	wait := req.GetBool("wait", true)

	payload := make(map[string]any)
	if raw := req.GetArguments()["payload"]; raw != nil {
		if m, ok := raw.(map[string]any); ok {
			payload = m
		}
	}

	result, err := h.client.SubmitAction(ctx, actionType, payload, reasoning)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Submission failed: %v", err)), nil
	}

	switch result.Status {
	case "EXECUTED":
		return mcp.NewToolResultText(fmt.Sprintf(
			"EXECUTED: approved automatically (risk score %d).\n%s\nYou may proceed with %s.",
			result.Score, result.Rationale, actionType)), nil
	case "DECLINED":
		return mcp.NewToolResultText(fmt.Sprintf(
			"DECLINED by policy (risk score %d).\n%s\nDo not perform %s.",
			result.Score, result.Rationale, actionType)), nil
	case "ERROR_CHANNEL":
		return mcp.NewToolResultText(fmt.Sprintf(
			"DECLINED: the approver could not be reached (risk score %d). "+
				"Do not perform %s; retry later.", result.Score, actionType)), nil
	}

	if !wait {
		return mcp.NewToolResultText(fmt.Sprintf(
			"Case %s is %s (risk score %d). A human approver is being contacted by phone. "+
				"Use check_authorization to poll for the decision.",
			result.CaseID, result.Status, result.Score)), nil
	}

	snap, err := h.client.WaitForResolution(ctx, result.CaseID)
	if err != nil {
		return mcp.NewToolResultText(fmt.Sprintf(
			"No decision yet for case %s: %v\nTreat the action as NOT authorized.",
			result.CaseID, err)), nil
	}

	verb := "Do not perform"
	if snap.State == "APPROVED" {
		verb = "You may proceed with"
	}
	return mcp.NewToolResultText(fmt.Sprintf(
		"%s by human approver.\nReason: %s\n%s %s.",
		snap.State, snap.Reason, verb, actionType)), nil
}

// HandleCheckAuthorization reports the current case state.
func (h *Handlers) HandleCheckAuthorization(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	snap, err := h.client.GetCase(ctx)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to fetch case: %v", err)), nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "State: %s\n", snap.State)
	if snap.CaseID != "" {
		fmt.Fprintf(&b, "Case: %s\n", snap.CaseID)
	}
	if snap.Request != nil {
		fmt.Fprintf(&b, "Action: %s (agent %s)\n", snap.Request.ActionType, snap.Request.AgentID)
	}
	if snap.Assessment != nil {
		fmt.Fprintf(&b, "Risk score: %d\nRationale: %s\n", snap.Assessment.Score, snap.Assessment.Rationale)
	}
	if snap.Reason != "" {
		fmt.Fprintf(&b, "Resolution reason: %s\n", snap.Reason)
	}
	return mcp.NewToolResultText(b.String()), nil
}

// HandleListDecisions formats the recent audit trail.
func (h *Handlers) HandleListDecisions(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	limit := int(req.GetFloat("limit", 20))

	raw, err := h.client.ListDecisions(ctx, limit)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to list decisions: %v", err)), nil
	}

	var resp struct {
		Decisions []struct {
			CaseID     string `json:"caseId"`
			ActionType string `json:"actionType"`
			RiskScore  int    `json:"riskScore"`
			Outcome    string `json:"outcome"`
			Resolver   string `json:"resolver"`
			Rationale  string `json:"rationale"`
		} `json:"decisions"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to parse decisions: %v", err)), nil
	}

	if len(resp.Decisions) == 0 {
		return mcp.NewToolResultText("No decisions recorded yet."), nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Recent decisions (%d):\n\n", len(resp.Decisions))
	for _, d := range resp.Decisions {
		fmt.Fprintf(&b, "- %s: %s (score %d, resolved by %s)\n  %s\n",
			d.ActionType, d.Outcome, d.RiskScore, d.Resolver, d.Rationale)
	}
	return mcp.NewToolResultText(b.String()), nil
}
