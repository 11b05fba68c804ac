// Package voice abstracts the outbound telephony provider used for
// out-of-band authorization calls, and parses the provider's webhook events.
package voice

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// GatherMode selects what input the provider collects after speaking.
type GatherMode string

const (
	GatherDTMF   GatherMode = "dtmf"
	GatherSpeech GatherMode = "speech"
)

// Channel is the outbound voice provider. All commands are best-effort
// network calls against the provider's REST API.
type Channel interface {
	// PlaceCall dials `to` from `from`, attaching opaque clientState that the
	// provider echoes back in webhook events. Returns the provider call ID.
	PlaceCall(ctx context.Context, to, from, clientState string) (string, error)

	// Speak plays text on an active call.
	Speak(ctx context.Context, callID, text string) error

	// GatherSpeak plays a prompt and collects input in the given mode.
	GatherSpeak(ctx context.Context, callID, prompt string, mode GatherMode, timeout time.Duration) error

	// Hangup ends the call.
	Hangup(ctx context.Context, callID string) error
}

// Event types delivered by the provider webhook.
const (
	EventCallAnswered = "call.answered"
	EventDTMF         = "call.dtmf.received"
	EventGatherEnded  = "call.gather.ended"
	EventSpeechResult = "call.speech.gathered"
	EventCallHangup   = "call.hangup"
)

// Event is one parsed webhook event.
type Event struct {
	Type        string
	CallID      string
	Digit       string
	Transcript  string
	ClientState string
}

// envelope mirrors the provider's webhook body: {"data": {"event_type": ...,
// "payload": {...}}}.
type envelope struct {
	Data struct {
		EventType string `json:"event_type"`
		Payload   struct {
			CallControlID string `json:"call_control_id"`
			Digit         string `json:"digit"`
			Digits        string `json:"digits"`
			Transcript    string `json:"transcript"`
			Speech        string `json:"speech"`
			ClientState   string `json:"client_state"`
		} `json:"payload"`
	} `json:"data"`
}

// ParseEvent decodes a webhook body. Unknown event types parse fine; callers
// decide whether they care.
func ParseEvent(body []byte) (*Event, error) {
	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("decode webhook envelope: %w", err)
	}
	if env.Data.EventType == "" {
		return nil, fmt.Errorf("webhook missing event_type")
	}

	ev := &Event{
		Type:        env.Data.EventType,
		CallID:      env.Data.Payload.CallControlID,
		Digit:       env.Data.Payload.Digit,
		ClientState: env.Data.Payload.ClientState,
	}
	// Speech transcript arrives under different keys depending on the gather
	// command used; take whichever is set.
	switch {
	case env.Data.Payload.Transcript != "":
		ev.Transcript = env.Data.Payload.Transcript
	case env.Data.Payload.Speech != "":
		ev.Transcript = env.Data.Payload.Speech
	}
	if ev.Digit == "" && len(env.Data.Payload.Digits) == 1 {
		ev.Digit = env.Data.Payload.Digits
	}
	return ev, nil
}
