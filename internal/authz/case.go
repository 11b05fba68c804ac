// Package authz holds the single-case authorization state machine. At most
// one authorization case is live at a time; everything that mutates it goes
// through the Machine, which owns the lock, the legal-transition table, and
// the fail-closed timeout.
package authz

import (
	"errors"
	"time"

	"github.com/sentinelgate/sentinel/internal/policy"
)

// State is the lifecycle state of an authorization case.
type State string

const (
	StateIdle      State = "IDLE"
	StateAnalyzing State = "ANALYZING"
	StateBlocked   State = "BLOCKED_AWAITING_AUTH"
	StateQnA       State = "QNA_MODE"
	StateApproved  State = "APPROVED"
	StateDeclined  State = "DECLINED"
)

// Terminal reports whether the state is final.
func (s State) Terminal() bool {
	return s == StateApproved || s == StateDeclined
}

// Outcome values for terminal resolutions.
const (
	OutcomeApproved = "APPROVED"
	OutcomeDeclined = "DECLINED"
)

// Submission statuses returned to the caller of Submit. An auto-approved
// action reports EXECUTED: authorization is complete and the agent may act.
const (
	StatusExecuted     = "EXECUTED"
	StatusDeclined     = string(StateDeclined)
	StatusBlocked      = string(StateBlocked)
	StatusChannelError = "ERROR_CHANNEL"
)

var (
	// ErrCaseInFlight is returned when a submission arrives while a
	// non-terminal case exists.
	ErrCaseInFlight = errors.New("an authorization case is already in flight")

	// ErrNoActiveCase is returned by mutations when no case exists.
	ErrNoActiveCase = errors.New("no active authorization case")

	// ErrInvalidTransition is returned when an event is not legal in the
	// case's current state. Callers log and drop; they never crash on it.
	ErrInvalidTransition = errors.New("event not legal in current case state")

	// ErrAlreadyResolved is returned when a resolution arrives for a case
	// that already reached a terminal state. Duplicate webhook deliveries
	// surface as this; it is safe to ignore.
	ErrAlreadyResolved = errors.New("case already resolved")
)

// Case is an immutable snapshot of the current authorization case, safe to
// hand to handlers, the dashboard feed, and the voice dialog.
type Case struct {
	ID         string                 `json:"caseId,omitempty"`
	State      State                  `json:"state"`
	Request    *policy.ActionRequest  `json:"request,omitempty"`
	Assessment *policy.RiskAssessment `json:"assessment,omitempty"`
	CallID     string                 `json:"-"`
	LastDigit  string                 `json:"lastDigit,omitempty"`
	Question   string                 `json:"lastQuestion,omitempty"`
	Answer     string                 `json:"lastAnswer,omitempty"`
	Reason     string                 `json:"reason,omitempty"`
	CreatedAt  time.Time              `json:"createdAt,omitzero"`
	ResolvedAt *time.Time             `json:"resolvedAt,omitempty"`
}

// SubmitResult is what an agent gets back from a submission.
type SubmitResult struct {
	CaseID    string `json:"caseId"`
	Status    string `json:"status"`
	Score     int    `json:"score"`
	Rationale string `json:"rationale"`
}
