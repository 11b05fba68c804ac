package dialog

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/sentinelgate/sentinel/internal/audit"
	"github.com/sentinelgate/sentinel/internal/authz"
	"github.com/sentinelgate/sentinel/internal/policy"
	"github.com/sentinelgate/sentinel/internal/scorer"
	"github.com/sentinelgate/sentinel/internal/voice"
)

// command is one recorded voice channel call.
type command struct {
	kind   string // place, speak, gather, hangup
	callID string
	text   string
	mode   voice.GatherMode
}

// fakeChannel records every command instead of talking to a provider.
type fakeChannel struct {
	mu       sync.Mutex
	commands []command
	placeErr error
}

func (f *fakeChannel) PlaceCall(_ context.Context, to, from, clientState string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.placeErr != nil {
		return "", f.placeErr
	}
	f.commands = append(f.commands, command{kind: "place", text: clientState})
	return "call_test", nil
}

func (f *fakeChannel) Speak(_ context.Context, callID, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.commands = append(f.commands, command{kind: "speak", callID: callID, text: text})
	return nil
}

func (f *fakeChannel) GatherSpeak(_ context.Context, callID, prompt string, mode voice.GatherMode, _ time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.commands = append(f.commands, command{kind: "gather", callID: callID, text: prompt, mode: mode})
	return nil
}

func (f *fakeChannel) Hangup(_ context.Context, callID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.commands = append(f.commands, command{kind: "hangup", callID: callID})
	return nil
}

func (f *fakeChannel) count(kind string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.commands {
		if c.kind == kind {
			n++
		}
	}
	return n
}

func (f *fakeChannel) last(kind string) (command, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := len(f.commands) - 1; i >= 0; i-- {
		if f.commands[i].kind == kind {
			return f.commands[i], true
		}
	}
	return command{}, false
}

// fakeScorer is the score service for the machine.
type fakeScorer struct{ score int }

func (f *fakeScorer) Score(_ context.Context, _ *policy.ActionRequest) (int, string) {
	return f.score, "model rationale"
}

// fakeExplainer answers every question the same way.
type fakeExplainer struct {
	mu        sync.Mutex
	questions []string
}

func (f *fakeExplainer) Explain(_ context.Context, question string, _ scorer.CaseContext) string {
	f.mu.Lock()
	f.questions = append(f.questions, question)
	f.mu.Unlock()
	return "The vendor has no payment history with us."
}

type nopEmitter struct{}

func (nopEmitter) CaseUpdated(authz.Case)  {}
func (nopEmitter) CaseResolved(authz.Case) {}

// setup wires a real machine to the controller and escalates one risky
// payment, leaving the case blocked with a live call.
func setup(t *testing.T) (*authz.Machine, *Controller, *fakeChannel, *fakeExplainer) {
	t.Helper()

	channel := &fakeChannel{}
	explainer := &fakeExplainer{}
	machine := authz.NewMachine(policy.NewEngine(nil, 50), &fakeScorer{score: 10},
		audit.NewMemoryStore(0), nopEmitter{}, time.Minute)
	ctrl := New(Config{ApproverNumber: "+15550001111", FromNumber: "+15550002222"},
		channel, machine, explainer, nil)
	machine.SetEscalator(ctrl)

	res, err := machine.Submit(context.Background(), &policy.ActionRequest{
		AgentID:    "agent-1",
		ActionType: policy.ActionPayInvoice,
		Payload:    map[string]any{"amount": 10000.0, "vendor": "Unknown Corp"},
		Reasoning:  "invoice past due",
	})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if res.Status != authz.StatusBlocked {
		t.Fatalf("status = %s, want blocked", res.Status)
	}
	return machine, ctrl, channel, explainer
}

func answeredEvent(channel *fakeChannel) *voice.Event {
	place, _ := channel.last("place")
	return &voice.Event{Type: voice.EventCallAnswered, CallID: "call_test", ClientState: place.text}
}

func TestAnswered_BriefsAndPresentsMenu(t *testing.T) {
	_, ctrl, channel, _ := setup(t)

	ctrl.HandleEvent(context.Background(), answeredEvent(channel))

	g, ok := channel.last("gather")
	if !ok {
		t.Fatal("no gather issued")
	}
	if g.mode != voice.GatherDTMF {
		t.Errorf("mode = %s, want dtmf", g.mode)
	}
	for _, want := range []string{"pay invoice", "Unknown Corp", "Press 1", "Press 2"} {
		if !strings.Contains(g.text, want) {
			t.Errorf("prompt missing %q: %q", want, g.text)
		}
	}
}

func TestAnswered_GarbledStateFallsBackToGenericBriefing(t *testing.T) {
	_, ctrl, channel, _ := setup(t)

	ctrl.HandleEvent(context.Background(), &voice.Event{
		Type: voice.EventCallAnswered, CallID: "call_test", ClientState: "not-base64!!",
	})

	g, ok := channel.last("gather")
	if !ok {
		t.Fatal("no gather issued")
	}
	if !strings.Contains(g.text, "awaiting your approval") {
		t.Errorf("expected generic briefing, got %q", g.text)
	}
}

func TestDigitOne_Approves(t *testing.T) {
	machine, ctrl, channel, _ := setup(t)

	ctrl.HandleEvent(context.Background(), answeredEvent(channel))
	ctrl.HandleEvent(context.Background(), &voice.Event{
		Type: voice.EventDTMF, CallID: "call_test", Digit: "1",
	})

	if snap := machine.Snapshot(); snap.State != authz.StateApproved {
		t.Errorf("state = %s, want approved", snap.State)
	}
	if n := channel.count("speak"); n != 1 {
		t.Errorf("speaks = %d, want 1", n)
	}
	if n := channel.count("hangup"); n != 1 {
		t.Errorf("hangups = %d, want 1", n)
	}

	// Duplicate delivery of the same digit: no state change, no extra
	// commands to the provider.
	ctrl.HandleEvent(context.Background(), &voice.Event{
		Type: voice.EventDTMF, CallID: "call_test", Digit: "1",
	})
	if n := channel.count("hangup"); n != 1 {
		t.Errorf("hangups after replay = %d, want 1", n)
	}
}

func TestDigitTwo_EntersQnA(t *testing.T) {
	machine, ctrl, channel, _ := setup(t)

	ctrl.HandleEvent(context.Background(), answeredEvent(channel))
	ctrl.HandleEvent(context.Background(), &voice.Event{
		Type: voice.EventDTMF, CallID: "call_test", Digit: "2",
	})

	if snap := machine.Snapshot(); snap.State != authz.StateQnA {
		t.Errorf("state = %s, want QnA", snap.State)
	}
	g, ok := channel.last("gather")
	if !ok || g.mode != voice.GatherSpeech {
		t.Errorf("expected speech gather, got %+v", g)
	}
}

func TestUnrecognizedDigits_BoundedRetriesThenHangup(t *testing.T) {
	machine, ctrl, channel, _ := setup(t)
	ctrl.HandleEvent(context.Background(), answeredEvent(channel))

	for i := 0; i < maxMenuRetries; i++ {
		ctrl.HandleEvent(context.Background(), &voice.Event{
			Type: voice.EventDTMF, CallID: "call_test", Digit: "9",
		})
	}

	if n := channel.count("hangup"); n != 1 {
		t.Errorf("hangups = %d, want 1 after retry budget", n)
	}
	// Giving up on the call is not a decision.
	if snap := machine.Snapshot(); snap.State != authz.StateBlocked {
		t.Errorf("state = %s, want still blocked", snap.State)
	}
}

func TestSpeech_DeclinePhrase(t *testing.T) {
	machine, ctrl, channel, _ := setup(t)
	ctrl.HandleEvent(context.Background(), answeredEvent(channel))
	ctrl.HandleEvent(context.Background(), &voice.Event{
		Type: voice.EventDTMF, CallID: "call_test", Digit: "2",
	})

	ctrl.HandleEvent(context.Background(), &voice.Event{
		Type: voice.EventGatherEnded, CallID: "call_test", Transcript: "please decline this",
	})

	snap := machine.Snapshot()
	if snap.State != authz.StateDeclined {
		t.Errorf("state = %s, want declined", snap.State)
	}
	if n := channel.count("hangup"); n != 1 {
		t.Errorf("hangups = %d, want 1", n)
	}
}

func TestSpeech_ApprovePhrase(t *testing.T) {
	machine, ctrl, channel, _ := setup(t)
	ctrl.HandleEvent(context.Background(), answeredEvent(channel))
	ctrl.HandleEvent(context.Background(), &voice.Event{
		Type: voice.EventDTMF, CallID: "call_test", Digit: "2",
	})

	ctrl.HandleEvent(context.Background(), &voice.Event{
		Type: voice.EventGatherEnded, CallID: "call_test", Transcript: "go ahead and approve it",
	})

	if snap := machine.Snapshot(); snap.State != authz.StateApproved {
		t.Errorf("state = %s, want approved", snap.State)
	}
}

func TestSpeech_QuestionGetsAnswered(t *testing.T) {
	machine, ctrl, channel, explainer := setup(t)
	ctrl.HandleEvent(context.Background(), answeredEvent(channel))
	ctrl.HandleEvent(context.Background(), &voice.Event{
		Type: voice.EventDTMF, CallID: "call_test", Digit: "2",
	})

	ctrl.HandleEvent(context.Background(), &voice.Event{
		Type: voice.EventGatherEnded, CallID: "call_test", Transcript: "what do we know about this vendor",
	})

	explainer.mu.Lock()
	asked := len(explainer.questions)
	explainer.mu.Unlock()
	if asked != 1 {
		t.Fatalf("explainer calls = %d, want 1", asked)
	}

	snap := machine.Snapshot()
	if snap.State != authz.StateQnA {
		t.Errorf("state = %s, want still QnA", snap.State)
	}
	if snap.Question == "" || snap.Answer == "" {
		t.Errorf("Q&A not recorded: %+v", snap)
	}

	g, ok := channel.last("gather")
	if !ok || g.mode != voice.GatherSpeech {
		t.Fatalf("expected re-gather, got %+v", g)
	}
	if !strings.Contains(g.text, "payment history") {
		t.Errorf("answer not spoken back: %q", g.text)
	}
}

func TestSpeech_GoodbyeDoesNotResolve(t *testing.T) {
	machine, ctrl, channel, _ := setup(t)
	ctrl.HandleEvent(context.Background(), answeredEvent(channel))
	ctrl.HandleEvent(context.Background(), &voice.Event{
		Type: voice.EventDTMF, CallID: "call_test", Digit: "2",
	})

	ctrl.HandleEvent(context.Background(), &voice.Event{
		Type: voice.EventGatherEnded, CallID: "call_test", Transcript: "okay goodbye",
	})

	if n := channel.count("hangup"); n != 1 {
		t.Errorf("hangups = %d, want 1", n)
	}
	// Hanging up is not approval or denial; the timeout will decide.
	if snap := machine.Snapshot(); snap.State != authz.StateQnA {
		t.Errorf("state = %s, want still QnA", snap.State)
	}
}

func TestEmptyGather_ReArmsQnAPrompt(t *testing.T) {
	machine, ctrl, channel, explainer := setup(t)
	ctrl.HandleEvent(context.Background(), answeredEvent(channel))
	ctrl.HandleEvent(context.Background(), &voice.Event{
		Type: voice.EventDTMF, CallID: "call_test", Digit: "2",
	})

	// The gather timed out with nothing captured.
	ctrl.HandleEvent(context.Background(), &voice.Event{
		Type: voice.EventGatherEnded, CallID: "call_test",
	})

	g, ok := channel.last("gather")
	if !ok || g.mode != voice.GatherSpeech {
		t.Fatalf("expected speech re-gather, got %+v", g)
	}
	if !strings.Contains(g.text, "did not hear") {
		t.Errorf("prompt = %q", g.text)
	}
	if snap := machine.Snapshot(); snap.State != authz.StateQnA {
		t.Errorf("state = %s, want still QnA", snap.State)
	}
	explainer.mu.Lock()
	asked := len(explainer.questions)
	explainer.mu.Unlock()
	if asked != 0 {
		t.Errorf("silence must not reach the explainer, got %d calls", asked)
	}
}

func TestEmptyGather_MenuCountsAgainstRetryBudget(t *testing.T) {
	machine, ctrl, channel, _ := setup(t)
	ctrl.HandleEvent(context.Background(), answeredEvent(channel))

	for i := 0; i < maxMenuRetries; i++ {
		ctrl.HandleEvent(context.Background(), &voice.Event{
			Type: voice.EventGatherEnded, CallID: "call_test",
		})
	}

	if n := channel.count("hangup"); n != 1 {
		t.Errorf("hangups = %d, want 1 after silent retries", n)
	}
	if snap := machine.Snapshot(); snap.State != authz.StateBlocked {
		t.Errorf("state = %s, want still blocked", snap.State)
	}
}

func TestSpeech_IgnoredOutsideQnA(t *testing.T) {
	machine, ctrl, channel, _ := setup(t)
	ctrl.HandleEvent(context.Background(), answeredEvent(channel))

	// Still in the DTMF menu; speech must not resolve anything.
	ctrl.HandleEvent(context.Background(), &voice.Event{
		Type: voice.EventGatherEnded, CallID: "call_test", Transcript: "approve",
	})

	if snap := machine.Snapshot(); snap.State != authz.StateBlocked {
		t.Errorf("state = %s, want still blocked", snap.State)
	}
}

func TestEventsForStaleCallAreDropped(t *testing.T) {
	machine, ctrl, channel, _ := setup(t)
	ctrl.HandleEvent(context.Background(), answeredEvent(channel))

	ctrl.HandleEvent(context.Background(), &voice.Event{
		Type: voice.EventDTMF, CallID: "call_other", Digit: "1",
	})

	if snap := machine.Snapshot(); snap.State != authz.StateBlocked {
		t.Errorf("state = %s, digit from unknown call must not resolve", snap.State)
	}
}

func TestHangupEventLeavesCasePending(t *testing.T) {
	machine, ctrl, channel, _ := setup(t)
	ctrl.HandleEvent(context.Background(), answeredEvent(channel))

	ctrl.HandleEvent(context.Background(), &voice.Event{
		Type: voice.EventCallHangup, CallID: "call_test",
	})

	if snap := machine.Snapshot(); snap.State != authz.StateBlocked {
		t.Errorf("state = %s, hangup must not resolve the case", snap.State)
	}
}
