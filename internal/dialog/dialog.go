// Package dialog drives the out-of-band voice conversation with the human
// approver: the initial briefing, the DTMF menu, and the spoken Q&A
// sub-dialog. It translates webhook events into state machine transitions
// and voice channel commands.
package dialog

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sentinelgate/sentinel/internal/audit"
	"github.com/sentinelgate/sentinel/internal/authz"
	"github.com/sentinelgate/sentinel/internal/logging"
	"github.com/sentinelgate/sentinel/internal/scorer"
	"github.com/sentinelgate/sentinel/internal/voice"
)

// maxMenuRetries is how many unrecognized keypresses we tolerate before
// giving up on the call. The case stays pending; the timeout decides it.
const maxMenuRetries = 3

const gatherTimeout = 30 * time.Second

// CaseMachine is the slice of the state machine the dialog drives.
type CaseMachine interface {
	Snapshot() authz.Case
	BindCall(caseID, callID string) error
	RecordDigit(ctx context.Context, digit string) error
	EnterQnA(ctx context.Context) error
	RecordQuestion(ctx context.Context, q string) error
	RecordAnswer(ctx context.Context, a string) error
	Resolve(ctx context.Context, outcome, resolver, reason string) error
}

// Explainer answers the approver's follow-up questions about the case.
type Explainer interface {
	Explain(ctx context.Context, question string, cc scorer.CaseContext) string
}

// Config holds the numbers the controller dials between.
type Config struct {
	ApproverNumber string
	FromNumber     string
}

// Controller runs voice review dialogs.
type Controller struct {
	cfg       Config
	channel   voice.Channel
	machine   CaseMachine
	explainer Explainer
	intents   Classifier

	mu      sync.Mutex
	retries map[string]int // per call: unrecognized keypress count
}

// New creates a dialog controller. A nil classifier uses the keyword matcher.
func New(cfg Config, channel voice.Channel, machine CaseMachine, explainer Explainer, intents Classifier) *Controller {
	if intents == nil {
		intents = KeywordClassifier{}
	}
	return &Controller{
		cfg:       cfg,
		channel:   channel,
		machine:   machine,
		explainer: explainer,
		intents:   intents,
		retries:   make(map[string]int),
	}
}

// StartEscalation places the approval call for a blocked case. Implements
// authz.Escalator.
func (d *Controller) StartEscalation(ctx context.Context, c authz.Case) error {
	summary := voice.CallSummary{
		CaseID:  c.ID,
		Action:  c.Request.ActionType,
		Summary: c.Request.Summary(),
	}
	if c.Assessment != nil {
		summary.RiskScore = c.Assessment.Score
		summary.Rationale = c.Assessment.Rationale
	}

	callID, err := d.channel.PlaceCall(ctx, d.cfg.ApproverNumber, d.cfg.FromNumber, voice.EncodeState(summary))
	if err != nil {
		return fmt.Errorf("place approval call: %w", err)
	}
	if err := d.machine.BindCall(c.ID, callID); err != nil {
		// Case vanished between escalation and placement; drop the call.
		d.hangup(ctx, callID)
		return err
	}

	logging.L(ctx).Info("approval call placed", "case_id", c.ID, "call_id", callID)
	return nil
}

// EndCall tears down a call without touching case state. Implements
// authz.Escalator; used by the pending timeout.
func (d *Controller) EndCall(ctx context.Context, callID string) {
	d.hangup(ctx, callID)
	d.forget(callID)
}

// HandleEvent dispatches one parsed webhook event. Unknown event types and
// events for stale calls are acknowledged and dropped.
func (d *Controller) HandleEvent(ctx context.Context, ev *voice.Event) {
	log := logging.L(ctx)

	switch ev.Type {
	case voice.EventCallAnswered:
		d.onAnswered(ctx, ev)
	case voice.EventDTMF:
		d.onDigit(ctx, ev)
	case voice.EventGatherEnded, voice.EventSpeechResult:
		switch {
		case ev.Transcript != "":
			d.onSpeech(ctx, ev)
		case ev.Digit != "":
			d.onDigit(ctx, ev)
		default:
			d.onNoInput(ctx, ev)
		}
	case voice.EventCallHangup:
		// The approver hanging up is not a decision. The case stays pending
		// until resolved or timed out.
		log.Info("call ended without a decision", "call_id", ev.CallID)
		d.forget(ev.CallID)
	default:
		log.Debug("ignoring voice event", "event_type", ev.Type)
	}
}

// onAnswered briefs the approver and presents the DTMF menu.
func (d *Controller) onAnswered(ctx context.Context, ev *voice.Event) {
	if !d.current(ev.CallID) {
		logging.L(ctx).Warn("answered event for stale call", "call_id", ev.CallID)
		return
	}

	briefing := "This is Sentinel, your agent authorization line. An action is awaiting your approval."
	if s, ok := voice.DecodeState(ev.ClientState); ok {
		briefing = fmt.Sprintf(
			"This is Sentinel. Your agent wants to perform the following action: %s. The risk score is %d out of 100. %s",
			s.Summary, s.RiskScore, s.Rationale)
	}

	prompt := briefing + " Press 1 to approve. Press 2 to ask questions before deciding."
	if err := d.channel.GatherSpeak(ctx, ev.CallID, prompt, voice.GatherDTMF, gatherTimeout); err != nil {
		logging.L(ctx).Error("menu gather failed", "call_id", ev.CallID, "error", err)
	}
}

// onDigit handles a menu keypress.
func (d *Controller) onDigit(ctx context.Context, ev *voice.Event) {
	log := logging.L(ctx)
	if !d.current(ev.CallID) {
		log.Warn("digit for stale or finished call", "call_id", ev.CallID, "digit", ev.Digit)
		return
	}

	switch ev.Digit {
	case "1":
		if err := d.machine.RecordDigit(ctx, ev.Digit); err != nil {
			d.dropEvent(ctx, "dtmf", err)
			return
		}
		if err := d.machine.Resolve(ctx, authz.OutcomeApproved, audit.ResolverHumanDTMF, "approved by keypress"); err != nil {
			d.dropEvent(ctx, "dtmf", err)
			return
		}
		d.speak(ctx, ev.CallID, "Approved. The action will proceed. Goodbye.")
		d.hangup(ctx, ev.CallID)
		d.forget(ev.CallID)

	case "2":
		if err := d.machine.RecordDigit(ctx, ev.Digit); err != nil {
			d.dropEvent(ctx, "dtmf", err)
			return
		}
		if err := d.machine.EnterQnA(ctx); err != nil {
			d.dropEvent(ctx, "dtmf", err)
			return
		}
		d.gatherSpeech(ctx, ev.CallID,
			"What would you like to know? You can also say approve or decline at any time.")

	default:
		n := d.bumpRetries(ev.CallID)
		if n >= maxMenuRetries {
			log.Warn("too many unrecognized keypresses, ending call", "call_id", ev.CallID)
			d.speak(ctx, ev.CallID, "I did not understand. The action remains on hold. Goodbye.")
			d.hangup(ctx, ev.CallID)
			d.forget(ev.CallID)
			return
		}
		if err := d.channel.GatherSpeak(ctx, ev.CallID,
			"Sorry, I did not catch that. Press 1 to approve, or press 2 to ask questions.",
			voice.GatherDTMF, gatherTimeout); err != nil {
			log.Error("menu re-gather failed", "call_id", ev.CallID, "error", err)
		}
	}
}

// onSpeech handles a spoken utterance in the Q&A sub-dialog.
func (d *Controller) onSpeech(ctx context.Context, ev *voice.Event) {
	log := logging.L(ctx)
	if !d.current(ev.CallID) {
		log.Warn("speech for stale or finished call", "call_id", ev.CallID)
		return
	}

	snap := d.machine.Snapshot()
	if snap.State != authz.StateQnA {
		log.Warn("dropped speech outside Q&A mode", "state", snap.State)
		return
	}

	switch d.intents.Classify(ev.Transcript) {
	case IntentDecline:
		if err := d.machine.Resolve(ctx, authz.OutcomeDeclined, audit.ResolverHumanVoice, "declined by voice"); err != nil {
			d.dropEvent(ctx, "speech", err)
			return
		}
		d.speak(ctx, ev.CallID, "Declined. The action will not proceed. Goodbye.")
		d.hangup(ctx, ev.CallID)
		d.forget(ev.CallID)

	case IntentApprove:
		if err := d.machine.Resolve(ctx, authz.OutcomeApproved, audit.ResolverHumanVoice, "approved by voice"); err != nil {
			d.dropEvent(ctx, "speech", err)
			return
		}
		d.speak(ctx, ev.CallID, "Approved. The action will proceed. Goodbye.")
		d.hangup(ctx, ev.CallID)
		d.forget(ev.CallID)

	case IntentDone:
		// Ending the call is not a decision; the case stays pending until
		// resolved another way or the timeout declines it.
		d.speak(ctx, ev.CallID, "Understood. The action remains on hold. Goodbye.")
		d.hangup(ctx, ev.CallID)
		d.forget(ev.CallID)

	default: // a question
		if err := d.machine.RecordQuestion(ctx, ev.Transcript); err != nil {
			d.dropEvent(ctx, "speech", err)
			return
		}
		answer := d.explainer.Explain(ctx, ev.Transcript, scorer.CaseContext{
			Request:   snap.Request,
			Score:     assessmentScore(snap),
			Rationale: assessmentRationale(snap),
		})
		if err := d.machine.RecordAnswer(ctx, answer); err != nil {
			d.dropEvent(ctx, "speech", err)
			return
		}
		d.gatherSpeech(ctx, ev.CallID, answer+" Anything else? You can also say approve or decline.")
	}
}

// onNoInput handles a gather that expired with nothing captured. The approver
// is never left without a next prompt: Q&A re-arms the speech gather, the
// menu re-presents itself on the same bounded retry budget as a bad keypress.
func (d *Controller) onNoInput(ctx context.Context, ev *voice.Event) {
	if !d.current(ev.CallID) {
		return
	}

	if d.machine.Snapshot().State == authz.StateQnA {
		d.gatherSpeech(ctx, ev.CallID,
			"I did not hear anything. You can ask a question, or say approve or decline.")
		return
	}
	d.onDigit(ctx, ev)
}

func assessmentScore(c authz.Case) int {
	if c.Assessment == nil {
		return 0
	}
	return c.Assessment.Score
}

func assessmentRationale(c authz.Case) string {
	if c.Assessment == nil {
		return ""
	}
	return c.Assessment.Rationale
}

// current reports whether callID belongs to the live, unresolved case.
// Everything else (old calls, duplicate deliveries after resolution) is
// stale and must not produce side effects.
func (d *Controller) current(callID string) bool {
	snap := d.machine.Snapshot()
	return snap.CallID == callID && !snap.State.Terminal()
}

func (d *Controller) dropEvent(ctx context.Context, kind string, err error) {
	if errors.Is(err, authz.ErrAlreadyResolved) || errors.Is(err, authz.ErrInvalidTransition) {
		logging.L(ctx).Warn("dropped voice event", "kind", kind, "reason", err)
		return
	}
	logging.L(ctx).Error("voice event failed", "kind", kind, "error", err)
}

func (d *Controller) speak(ctx context.Context, callID, text string) {
	if err := d.channel.Speak(ctx, callID, text); err != nil {
		logging.L(ctx).Error("speak failed", "call_id", callID, "error", err)
	}
}

func (d *Controller) gatherSpeech(ctx context.Context, callID, prompt string) {
	if err := d.channel.GatherSpeak(ctx, callID, prompt, voice.GatherSpeech, gatherTimeout); err != nil {
		logging.L(ctx).Error("speech gather failed", "call_id", callID, "error", err)
	}
}

func (d *Controller) hangup(ctx context.Context, callID string) {
	if err := d.channel.Hangup(ctx, callID); err != nil {
		logging.L(ctx).Error("hangup failed", "call_id", callID, "error", err)
	}
}

func (d *Controller) bumpRetries(callID string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.retries[callID]++
	return d.retries[callID]
}

func (d *Controller) forget(callID string) {
	d.mu.Lock()
	delete(d.retries, callID)
	d.mu.Unlock()
}
