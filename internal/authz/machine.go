package authz

import (
	"context"
	"sync"
	"time"

	"github.com/sentinelgate/sentinel/internal/audit"
	"github.com/sentinelgate/sentinel/internal/idgen"
	"github.com/sentinelgate/sentinel/internal/logging"
	"github.com/sentinelgate/sentinel/internal/metrics"
	"github.com/sentinelgate/sentinel/internal/policy"
)

// ScoreService produces an external risk score for a request. It never
// returns an error; a degraded service substitutes a conservative default.
type ScoreService interface {
	Score(ctx context.Context, req *policy.ActionRequest) (int, string)
}

// Escalator starts and tears down the out-of-band review channel for a
// blocked case.
type Escalator interface {
	StartEscalation(ctx context.Context, c Case) error
	EndCall(ctx context.Context, callID string)
}

// Emitter publishes case lifecycle events to observers (the dashboard feed).
type Emitter interface {
	CaseUpdated(c Case)
	CaseResolved(c Case)
}

// Machine is the single-case authorization state machine. All mutations are
// serialized through its lock; observers only ever see snapshots.
type Machine struct {
	engine    *policy.Engine
	scorer    ScoreService
	audit     audit.Store
	emitter   Emitter
	escalator Escalator

	pendingTimeout time.Duration

	mu    sync.Mutex
	cur   *Case
	timer *time.Timer
}

// NewMachine creates the state machine. The escalator is wired afterwards
// with SetEscalator because the dialog controller needs the machine first.
func NewMachine(engine *policy.Engine, scorer ScoreService, store audit.Store, emitter Emitter, pendingTimeout time.Duration) *Machine {
	if pendingTimeout <= 0 {
		pendingTimeout = 3 * time.Minute
	}
	return &Machine{
		engine:         engine,
		scorer:         scorer,
		audit:          store,
		emitter:        emitter,
		pendingTimeout: pendingTimeout,
	}
}

// SetEscalator wires the voice dialog controller. Must be called before the
// first Submit.
func (m *Machine) SetEscalator(e Escalator) { m.escalator = e }

func (m *Machine) lock()   { m.mu.Lock() }
func (m *Machine) unlock() { m.mu.Unlock() }

// Submit runs the full submission flow: reserve the single case slot, score,
// apply policy, and either resolve immediately or escalate to the approver.
// Returns ErrCaseInFlight if a non-terminal case exists.
func (m *Machine) Submit(ctx context.Context, req *policy.ActionRequest) (*SubmitResult, error) {
	m.lock()
	if m.cur != nil && !m.cur.State.Terminal() {
		m.unlock()
		return nil, ErrCaseInFlight
	}

	c := &Case{
		ID:        idgen.WithPrefix("case_"),
		State:     StateAnalyzing,
		Request:   req,
		CreatedAt: time.Now().UTC(),
	}
	m.cur = c
	snap := *c
	m.unlock()

	ctx = logging.WithCaseID(ctx, c.ID)
	logging.L(ctx).Info("case opened",
		"agent_id", req.AgentID, "action_type", req.ActionType)
	m.emitter.CaseUpdated(snap)

	// Blocking network call, bounded by the scorer's own timeout. The slot
	// is reserved, so nothing else can touch the case while we wait.
	extScore, extRationale := m.scorer.Score(ctx, req)
	assessment := m.engine.Assess(req, extScore, extRationale)
	metrics.SubmissionsTotal.WithLabelValues(string(assessment.Decision)).Inc()

	m.lock()
	m.cur.Assessment = assessment

	switch assessment.Decision {
	case policy.AutoApprove:
		m.resolveLocked(ctx, OutcomeApproved, audit.ResolverAutoPolicy, "within policy")
		m.unlock()
		return &SubmitResult{CaseID: c.ID, Status: StatusExecuted, Score: assessment.Score, Rationale: assessment.Rationale}, nil

	case policy.AutoDeny:
		m.resolveLocked(ctx, OutcomeDeclined, audit.ResolverAutoPolicy, assessment.Rationale)
		m.unlock()
		return &SubmitResult{CaseID: c.ID, Status: StatusDeclined, Score: assessment.Score, Rationale: assessment.Rationale}, nil
	}

	// Escalate: block the case and ring the approver.
	m.cur.State = StateBlocked
	snap = *m.cur
	m.startWatchdogLocked(ctx, c.ID)
	m.unlock()

	logging.L(ctx).Info("case blocked awaiting authorization",
		"score", assessment.Score, "rationale", assessment.Rationale)
	m.emitter.CaseUpdated(snap)

	if err := m.escalator.StartEscalation(ctx, snap); err != nil {
		logging.L(ctx).Error("escalation channel failed", "error", err)
		m.lock()
		status := StatusChannelError
		if m.cur != nil && m.cur.ID == c.ID {
			if m.cur.State.Terminal() {
				// Webhook already resolved the case before the placement
				// error surfaced; keep that resolution.
				status = StatusDeclined
				if m.cur.State == StateApproved {
					status = StatusExecuted
				}
			} else {
				m.resolveLocked(ctx, OutcomeDeclined, audit.ResolverChannelError, "could not reach approver")
			}
		}
		m.unlock()
		return &SubmitResult{CaseID: c.ID, Status: status, Score: assessment.Score, Rationale: assessment.Rationale}, nil
	}

	return &SubmitResult{CaseID: c.ID, Status: StatusBlocked, Score: assessment.Score, Rationale: assessment.Rationale}, nil
}

// Snapshot returns a copy of the current case. With no case it returns an
// idle placeholder so pollers always get a well-formed state.
func (m *Machine) Snapshot() Case {
	m.lock()
	defer m.unlock()

	if m.cur == nil {
		return Case{State: StateIdle}
	}
	return *m.cur
}

// BindCall associates the provider call with the case so later webhook
// events can be matched against it.
func (m *Machine) BindCall(caseID, callID string) error {
	m.lock()
	defer m.unlock()

	if m.cur == nil || m.cur.ID != caseID {
		return ErrNoActiveCase
	}
	m.cur.CallID = callID
	return nil
}

// RecordDigit notes a DTMF keypress. Legal while blocked or in Q&A.
func (m *Machine) RecordDigit(ctx context.Context, digit string) error {
	return m.update(ctx, func(c *Case) error {
		if c.State != StateBlocked && c.State != StateQnA {
			return ErrInvalidTransition
		}
		c.LastDigit = digit
		return nil
	})
}

// EnterQnA moves a blocked case into the question-and-answer sub-dialog.
func (m *Machine) EnterQnA(ctx context.Context) error {
	return m.update(ctx, func(c *Case) error {
		if c.State != StateBlocked {
			return ErrInvalidTransition
		}
		c.State = StateQnA
		return nil
	})
}

// RecordQuestion notes the approver's spoken question. Q&A mode only.
func (m *Machine) RecordQuestion(ctx context.Context, q string) error {
	return m.update(ctx, func(c *Case) error {
		if c.State != StateQnA {
			return ErrInvalidTransition
		}
		c.Question = q
		c.Answer = ""
		return nil
	})
}

// RecordAnswer notes the answer spoken back to the approver. Q&A mode only.
func (m *Machine) RecordAnswer(ctx context.Context, a string) error {
	return m.update(ctx, func(c *Case) error {
		if c.State != StateQnA {
			return ErrInvalidTransition
		}
		c.Answer = a
		return nil
	})
}

// Resolve moves the case to a terminal state. Safe to call more than once;
// replays return ErrAlreadyResolved and change nothing.
func (m *Machine) Resolve(ctx context.Context, outcome, resolver, reason string) error {
	m.lock()
	defer m.unlock()

	if m.cur == nil {
		return ErrNoActiveCase
	}
	if m.cur.State.Terminal() {
		return ErrAlreadyResolved
	}
	m.resolveLocked(ctx, outcome, resolver, reason)
	return nil
}

// update applies fn to the current case under the lock and emits an update
// snapshot on success.
func (m *Machine) update(ctx context.Context, fn func(c *Case) error) error {
	m.lock()
	if m.cur == nil {
		m.unlock()
		return ErrNoActiveCase
	}
	if m.cur.State.Terminal() {
		m.unlock()
		return ErrAlreadyResolved
	}
	if err := fn(m.cur); err != nil {
		state := m.cur.State
		m.unlock()
		logging.L(ctx).Warn("dropped illegal case event", "state", state)
		return err
	}
	snap := *m.cur
	m.unlock()

	m.emitter.CaseUpdated(snap)
	return nil
}

// resolveLocked finalizes the case. Caller holds the lock.
func (m *Machine) resolveLocked(ctx context.Context, outcome, resolver, reason string) {
	c := m.cur
	now := time.Now().UTC()

	if outcome == OutcomeApproved {
		c.State = StateApproved
	} else {
		c.State = StateDeclined
	}
	c.Reason = reason
	c.ResolvedAt = &now

	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}

	metrics.ResolutionsTotal.WithLabelValues(outcome, resolver).Inc()
	metrics.ObserveCaseDuration(c.CreatedAt, now)
	logging.L(ctx).Info("case resolved",
		"case_id", c.ID, "outcome", outcome, "resolver", resolver, "reason", reason)

	snap := *c
	m.emitter.CaseResolved(snap)

	score := 0
	rationale := ""
	if c.Assessment != nil {
		score = c.Assessment.Score
		rationale = c.Assessment.Rationale
	}
	record := &audit.Decision{
		ID:         idgen.WithPrefix("dec_"),
		CaseID:     c.ID,
		AgentID:    c.Request.AgentID,
		ActionType: c.Request.ActionType,
		Payload:    c.Request.Payload,
		RiskScore:  score,
		Outcome:    outcome,
		Resolver:   resolver,
		Rationale:  rationale,
		CreatedAt:  c.CreatedAt,
		ResolvedAt: now,
	}
	// Audit write happens off the lock path; a slow store must not stall
	// webhook handling.
	go func() {
		wctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := m.audit.Record(wctx, record); err != nil {
			logging.L(wctx).Error("audit record failed", "case_id", record.CaseID, "error", err)
		}
	}()
}

// startWatchdogLocked arms the fail-closed timer for a blocked case. If the
// approver never resolves it, the case declines itself and the call, if any,
// is torn down. Caller holds the lock.
func (m *Machine) startWatchdogLocked(ctx context.Context, caseID string) {
	if m.timer != nil {
		m.timer.Stop()
	}
	m.timer = time.AfterFunc(m.pendingTimeout, func() {
		m.lock()
		if m.cur == nil || m.cur.ID != caseID || m.cur.State.Terminal() {
			m.unlock()
			return
		}
		callID := m.cur.CallID
		logging.L(ctx).Warn("authorization timed out, failing closed",
			"case_id", caseID, "timeout", m.pendingTimeout)
		m.resolveLocked(ctx, OutcomeDeclined, audit.ResolverTimeout, "no decision before timeout")
		m.unlock()

		if callID != "" && m.escalator != nil {
			hctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			m.escalator.EndCall(hctx, callID)
		}
	})
}
