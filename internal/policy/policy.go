// Package policy implements the risk policy engine that decides whether an
// agent action is auto-approved, auto-denied, or escalated to a human.
//
// The engine layers hard rules (a data-driven, ordered rule table) over an
// externally supplied risk score. Hard rules always win: a deny rule cannot
// be out-voted by a low external score, and floors only ever raise the score.
package policy

import (
	"fmt"
	"strings"
)

// Well-known action types. The set is open: unknown types are scored by the
// external model alone unless a rule matches them.
const (
	ActionPayInvoice    = "PAY_INVOICE"
	ActionDeleteUser    = "DELETE_USER"
	ActionExportCSV     = "EXPORT_CSV"
	ActionShareRecord   = "SHARE_RECORD"
	ActionQuerySSN      = "QUERY_SSN"
	ActionDropTable     = "DROP_TABLE"
	ActionRestartServer = "RESTART_SERVER"
)

// Decision is the policy outcome for a submitted action.
type Decision string

const (
	AutoApprove Decision = "AUTO_APPROVE"
	AutoDeny    Decision = "AUTO_DENY"
	Escalate    Decision = "ESCALATE"
)

// ActionRequest is an action submitted by an agent for authorization.
// Immutable once submitted.
type ActionRequest struct {
	AgentID    string         `json:"agentId"`
	ActionType string         `json:"actionType"`
	Payload    map[string]any `json:"payload"`
	Reasoning  string         `json:"reasoning"`
}

// RiskAssessment is the engine's verdict on one ActionRequest.
// Produced once per request; never mutated.
type RiskAssessment struct {
	Score     int      `json:"score"` // 0-100
	Rationale string   `json:"rationale"`
	Decision  Decision `json:"decision"`
}

// Payload accessors. Action payloads are free-form JSON, so numbers arrive as
// float64 and anything might be missing; absent or mistyped fields read as
// zero values.

// Number returns a numeric payload field, or 0 if absent.
func (r *ActionRequest) Number(key string) float64 {
	switch v := r.Payload[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	case int64:
		return float64(v)
	default:
		return 0
	}
}

// Bool returns a boolean payload field, or false if absent.
func (r *ActionRequest) Bool(key string) bool {
	v, _ := r.Payload[key].(bool)
	return v
}

// String returns a string payload field, or "" if absent.
func (r *ActionRequest) String(key string) string {
	v, _ := r.Payload[key].(string)
	return v
}

// Summary renders a short human-readable description of the request,
// suitable for speaking over a phone line.
func (r *ActionRequest) Summary() string {
	var b strings.Builder
	b.WriteString(strings.ReplaceAll(strings.ToLower(r.ActionType), "_", " "))
	if amount := r.Number("amount"); amount > 0 {
		fmt.Fprintf(&b, " of %.0f dollars", amount)
	}
	if vendor := r.String("vendor"); vendor != "" {
		fmt.Fprintf(&b, " to vendor %s", vendor)
	}
	if n := r.Number("recordCount"); n > 0 {
		fmt.Fprintf(&b, " covering %.0f records", n)
	}
	if env := r.String("environment"); env != "" {
		fmt.Fprintf(&b, " in %s", env)
	}
	return b.String()
}
