package scorer

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sentinelgate/sentinel/internal/policy"
)

func chatResponseWith(content string) map[string]any {
	return map[string]any{
		"choices": []map[string]any{
			{"message": map[string]any{"content": content}},
		},
	}
}

func testRequest() *policy.ActionRequest {
	return &policy.ActionRequest{
		AgentID:    "agent-1",
		ActionType: "PAY_INVOICE",
		Payload:    map[string]any{"amount": 10000.0, "vendor": "Unknown Corp"},
		Reasoning:  "invoice past due",
	}
}

func newClient(url string, timeout time.Duration) *Client {
	return New(Config{BaseURL: url, APIKey: "k", Model: "test-model", Timeout: timeout})
}

func TestScore_ParsesVerdict(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("path = %q", r.URL.Path)
		}
		if auth := r.Header.Get("Authorization"); auth != "Bearer k" {
			t.Errorf("auth = %q", auth)
		}
		_ = json.NewEncoder(w).Encode(chatResponseWith(`{"risk_score": 72, "analysis": "large payment to new vendor"}`))
	}))
	t.Cleanup(srv.Close)

	score, rationale := newClient(srv.URL, time.Second).Score(context.Background(), testRequest())
	if score != 72 {
		t.Errorf("score = %d, want 72", score)
	}
	if rationale != "large payment to new vendor" {
		t.Errorf("rationale = %q", rationale)
	}
}

func TestScore_TimeoutFallsBackConservatively(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
		_ = json.NewEncoder(w).Encode(chatResponseWith(`{"risk_score": 1, "analysis": "fine"}`))
	}))
	t.Cleanup(srv.Close)

	score, rationale := newClient(srv.URL, 20*time.Millisecond).Score(context.Background(), testRequest())
	if score != FallbackScore {
		t.Errorf("score = %d, want fallback %d", score, FallbackScore)
	}
	if rationale != FallbackRationale {
		t.Errorf("rationale = %q", rationale)
	}
}

func TestScore_GarbageContentFallsBack(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(chatResponseWith(`the risk is high I guess`))
	}))
	t.Cleanup(srv.Close)

	score, _ := newClient(srv.URL, time.Second).Score(context.Background(), testRequest())
	if score != FallbackScore {
		t.Errorf("score = %d, want fallback", score)
	}
}

func TestScore_OutOfRangeVerdictFallsBack(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(chatResponseWith(`{"risk_score": 900, "analysis": "x"}`))
	}))
	t.Cleanup(srv.Close)

	score, _ := newClient(srv.URL, time.Second).Score(context.Background(), testRequest())
	if score != FallbackScore {
		t.Errorf("score = %d, want fallback", score)
	}
}

func TestScore_ServerErrorRetriesThenFallsBack(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	t.Cleanup(srv.Close)

	score, _ := newClient(srv.URL, time.Second).Score(context.Background(), testRequest())
	if score != FallbackScore {
		t.Errorf("score = %d, want fallback", score)
	}
	if calls.Load() < 2 {
		t.Errorf("calls = %d, want a retry on 500", calls.Load())
	}
}

func TestScore_UnauthorizedDoesNotRetry(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "nope", http.StatusUnauthorized)
	}))
	t.Cleanup(srv.Close)

	score, _ := newClient(srv.URL, time.Second).Score(context.Background(), testRequest())
	if score != FallbackScore {
		t.Errorf("score = %d, want fallback", score)
	}
	if calls.Load() != 1 {
		t.Errorf("calls = %d, 401 must not be retried", calls.Load())
	}
}

func TestExplain(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Messages []struct {
				Role    string `json:"role"`
				Content string `json:"content"`
			} `json:"messages"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		if len(body.Messages) != 2 || !strings.Contains(body.Messages[1].Content, "what vendor") {
			t.Errorf("messages = %+v", body.Messages)
		}
		_ = json.NewEncoder(w).Encode(chatResponseWith("It is a new vendor with no history. You can approve, decline, or ask again."))
	}))
	t.Cleanup(srv.Close)

	answer := newClient(srv.URL, time.Second).Explain(context.Background(), "what vendor is this?", CaseContext{
		Request:   testRequest(),
		Score:     95,
		Rationale: "unrecognized vendor",
	})
	if !strings.Contains(answer, "new vendor") {
		t.Errorf("answer = %q", answer)
	}
}

func TestExplain_FailureUsesSafeAnswer(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "down", http.StatusServiceUnavailable)
	}))
	t.Cleanup(srv.Close)

	answer := newClient(srv.URL, time.Second).Explain(context.Background(), "why?", CaseContext{Request: testRequest()})
	if answer != FallbackAnswer {
		t.Errorf("answer = %q, want fallback", answer)
	}
}
