package voice

import (
	"encoding/base64"
	"encoding/json"
)

// CallSummary is the opaque state attached to an outbound call. The provider
// echoes it back base64-encoded on webhook events, so an answered-call
// handler can speak the briefing without consulting shared state.
type CallSummary struct {
	CaseID    string `json:"caseId"`
	Action    string `json:"action"`
	Summary   string `json:"summary"`
	RiskScore int    `json:"riskScore"`
	Rationale string `json:"rationale"`
}

// EncodeState serializes a summary for the provider's client_state field.
func EncodeState(s CallSummary) string {
	raw, _ := json.Marshal(s)
	return base64.StdEncoding.EncodeToString(raw)
}

// DecodeState parses an echoed client_state. Returns ok=false on any decode
// problem; callers fall back to a generic briefing.
func DecodeState(encoded string) (CallSummary, bool) {
	var s CallSummary
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return s, false
	}
	if err := json.Unmarshal(raw, &s); err != nil {
		return s, false
	}
	return s, s.CaseID != ""
}
