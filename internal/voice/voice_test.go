package voice

import (
	"testing"
)

func TestParseEvent(t *testing.T) {
	body := []byte(`{
		"data": {
			"event_type": "call.dtmf.received",
			"payload": {
				"call_control_id": "call_abc",
				"digit": "1",
				"client_state": "c3RhdGU="
			}
		}
	}`)

	ev, err := ParseEvent(body)
	if err != nil {
		t.Fatalf("ParseEvent: %v", err)
	}
	if ev.Type != EventDTMF || ev.CallID != "call_abc" || ev.Digit != "1" {
		t.Errorf("event = %+v", ev)
	}
}

func TestParseEvent_SpeechVariants(t *testing.T) {
	for _, key := range []string{"transcript", "speech"} {
		body := []byte(`{"data":{"event_type":"call.gather.ended","payload":{"call_control_id":"c1","` + key + `":"what is this"}}}`)
		ev, err := ParseEvent(body)
		if err != nil {
			t.Fatalf("ParseEvent(%s): %v", key, err)
		}
		if ev.Transcript != "what is this" {
			t.Errorf("transcript via %s = %q", key, ev.Transcript)
		}
	}
}

func TestParseEvent_DigitsFallback(t *testing.T) {
	body := []byte(`{"data":{"event_type":"call.gather.ended","payload":{"call_control_id":"c1","digits":"2"}}}`)
	ev, err := ParseEvent(body)
	if err != nil {
		t.Fatalf("ParseEvent: %v", err)
	}
	if ev.Digit != "2" {
		t.Errorf("digit = %q, want 2", ev.Digit)
	}
}

func TestParseEvent_Rejects(t *testing.T) {
	if _, err := ParseEvent([]byte(`not json`)); err == nil {
		t.Error("expected error for invalid JSON")
	}
	if _, err := ParseEvent([]byte(`{"data":{"payload":{}}}`)); err == nil {
		t.Error("expected error for missing event_type")
	}
}

func TestParseEvent_UnknownTypePasses(t *testing.T) {
	ev, err := ParseEvent([]byte(`{"data":{"event_type":"call.recording.saved","payload":{"call_control_id":"c1"}}}`))
	if err != nil {
		t.Fatalf("ParseEvent: %v", err)
	}
	if ev.Type != "call.recording.saved" {
		t.Errorf("type = %q", ev.Type)
	}
}

func TestStateRoundTrip(t *testing.T) {
	in := CallSummary{
		CaseID:    "case_1",
		Action:    "PAY_INVOICE",
		Summary:   "pay invoice of 10000 dollars",
		RiskScore: 95,
		Rationale: "unrecognized vendor",
	}

	out, ok := DecodeState(EncodeState(in))
	if !ok {
		t.Fatal("decode failed")
	}
	if out != in {
		t.Errorf("got %+v, want %+v", out, in)
	}
}

func TestDecodeState_Garbage(t *testing.T) {
	if _, ok := DecodeState("!!!not base64!!!"); ok {
		t.Error("expected failure on invalid base64")
	}
	// Valid base64, wrong shape: no case ID means unusable.
	if _, ok := DecodeState("e30="); ok { // "{}"
		t.Error("expected failure on empty summary")
	}
}
