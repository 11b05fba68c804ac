package voice

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sentinelgate/sentinel/internal/metrics"
)

// TelnyxConfig configures the Telnyx-compatible call control client.
type TelnyxConfig struct {
	BaseURL      string // e.g. https://api.telnyx.com/v2
	APIKey       string
	ConnectionID string
	Timeout      time.Duration
}

// TelnyxChannel implements Channel against the Telnyx v2 Call Control API.
type TelnyxChannel struct {
	cfg  TelnyxConfig
	http *http.Client
}

// NewTelnyx creates a Telnyx call control client.
func NewTelnyx(cfg TelnyxConfig) *TelnyxChannel {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &TelnyxChannel{cfg: cfg, http: &http.Client{Timeout: cfg.Timeout}}
}

// Spoken prompts use the provider's default TTS voice.
const (
	speakVoice    = "male"
	speakLanguage = "en-US"
)

// PlaceCall dials the approver.
func (t *TelnyxChannel) PlaceCall(ctx context.Context, to, from, clientState string) (string, error) {
	body := map[string]any{
		"to":            to,
		"from":          from,
		"connection_id": t.cfg.ConnectionID,
		"client_state":  clientState,
	}

	var out struct {
		Data struct {
			CallControlID string `json:"call_control_id"`
		} `json:"data"`
	}
	if err := t.post(ctx, "place_call", "/calls", body, &out); err != nil {
		return "", err
	}
	if out.Data.CallControlID == "" {
		metrics.VoiceCommandsTotal.WithLabelValues("place_call", "error").Inc()
		return "", fmt.Errorf("provider returned no call id")
	}
	return out.Data.CallControlID, nil
}

// Speak plays text on the call.
func (t *TelnyxChannel) Speak(ctx context.Context, callID, text string) error {
	body := map[string]any{
		"payload":  text,
		"voice":    speakVoice,
		"language": speakLanguage,
	}
	return t.post(ctx, "speak", "/calls/"+callID+"/actions/speak", body, nil)
}

// GatherSpeak plays a prompt and collects DTMF digits or a speech utterance.
func (t *TelnyxChannel) GatherSpeak(ctx context.Context, callID, prompt string, mode GatherMode, timeout time.Duration) error {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	body := map[string]any{
		"payload":        prompt,
		"voice":          speakVoice,
		"language":       speakLanguage,
		"timeout_millis": timeout.Milliseconds(),
		"valid_digits":   "12",
		"maximum_digits": 1,
		"minimum_digits": 1,
	}
	if mode == GatherSpeech {
		// Speech capture: accept any digit as an interrupt but expect a
		// transcript back.
		body["input_mode"] = "speech"
		delete(body, "valid_digits")
	}
	return t.post(ctx, "gather", "/calls/"+callID+"/actions/gather_using_speak", body, nil)
}

// Hangup ends the call.
func (t *TelnyxChannel) Hangup(ctx context.Context, callID string) error {
	return t.post(ctx, "hangup", "/calls/"+callID+"/actions/hangup", map[string]any{}, nil)
}

// post issues one provider command and decodes the response into out if
// non-nil.
func (t *TelnyxChannel) post(ctx context.Context, kind, path string, body any, out any) error {
	raw, err := json.Marshal(body)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.cfg.BaseURL+path, bytes.NewReader(raw))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+t.cfg.APIKey)

	resp, err := t.http.Do(req)
	if err != nil {
		metrics.VoiceCommandsTotal.WithLabelValues(kind, "error").Inc()
		return fmt.Errorf("voice %s: %w", kind, err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		metrics.VoiceCommandsTotal.WithLabelValues(kind, "error").Inc()
		return fmt.Errorf("voice %s: provider returned %d: %s", kind, resp.StatusCode, respBody)
	}

	metrics.VoiceCommandsTotal.WithLabelValues(kind, "ok").Inc()
	if out != nil {
		if err := json.Unmarshal(respBody, out); err != nil {
			return fmt.Errorf("voice %s: decode response: %w", kind, err)
		}
	}
	return nil
}
