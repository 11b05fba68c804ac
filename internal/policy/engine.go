package policy

import (
	"fmt"
	"strings"
)

// DefaultEscalateThreshold is the score above which an action requires a
// human in the loop.
const DefaultEscalateThreshold = 50

// Engine evaluates hard rules over an external risk score and renders the
// final decision. Safe for concurrent use; the rule table is read-only after
// construction.
type Engine struct {
	rules     []Rule
	threshold int
}

// NewEngine creates an engine with the given rule table. A nil rules slice
// uses DefaultRules; a threshold outside (0,100) uses the default.
func NewEngine(rules []Rule, threshold int) *Engine {
	if rules == nil {
		rules = DefaultRules()
	}
	if threshold <= 0 || threshold >= 100 {
		threshold = DefaultEscalateThreshold
	}
	return &Engine{rules: rules, threshold: threshold}
}

// Threshold returns the escalation threshold in effect.
func (e *Engine) Threshold() int { return e.threshold }

// Assess combines the hard rules with the external model's score and
// rationale. extScore is clamped to [0,100]. The returned assessment is
// final: score strictly above the threshold escalates, a deny rule denies,
// anything else is auto-approved.
func (e *Engine) Assess(req *ActionRequest, extScore int, extRationale string) *RiskAssessment {
	if extScore < 0 {
		extScore = 0
	}
	if extScore > 100 {
		extScore = 100
	}

	floor := 0
	var reasons []string
	for _, rule := range e.rules {
		if !rule.Match(req) {
			continue
		}
		if rule.Deny {
			return &RiskAssessment{
				Score:     100,
				Rationale: fmt.Sprintf("policy %s: %s", rule.Name, rule.Reason),
				Decision:  AutoDeny,
			}
		}
		if rule.Floor > floor {
			floor = rule.Floor
		}
		reasons = append(reasons, rule.Reason)
	}

	score := extScore
	if floor > score {
		score = floor
	}

	rationale := extRationale
	if len(reasons) > 0 {
		if rationale != "" {
			rationale = strings.Join(reasons, "; ") + ". " + rationale
		} else {
			rationale = strings.Join(reasons, "; ")
		}
	}
	if rationale == "" {
		rationale = "no policy rules matched"
	}

	decision := AutoApprove
	if score > e.threshold {
		decision = Escalate
	}

	return &RiskAssessment{Score: score, Rationale: rationale, Decision: decision}
}
