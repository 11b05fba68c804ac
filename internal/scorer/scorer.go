// Package scorer calls an external LLM to score action risk and to answer
// follow-up questions during a voice review. The scorer is advisory and
// unreliable by assumption: every failure path degrades to a conservative
// default instead of returning an error, so the authorization workflow never
// stalls on the model.
package scorer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sentinelgate/sentinel/internal/circuitbreaker"
	"github.com/sentinelgate/sentinel/internal/logging"
	"github.com/sentinelgate/sentinel/internal/metrics"
	"github.com/sentinelgate/sentinel/internal/policy"
	"github.com/sentinelgate/sentinel/internal/retry"
)

const (
	// FallbackScore is the conservative default used when the model is
	// unreachable or returns garbage. High enough to force escalation.
	FallbackScore = 95

	// FallbackRationale explains a degraded assessment to the approver.
	FallbackRationale = "risk model unavailable, defaulting to high risk"

	// FallbackAnswer is spoken when a follow-up question cannot be answered.
	FallbackAnswer = "I could not retrieve additional details right now. You can approve, decline, or ask again."

	breakerKey = "scorer"
)

// Config configures the scorer client.
type Config struct {
	BaseURL string
	APIKey  string
	Model   string
	Timeout time.Duration
}

// Client is an HTTP client for an OpenAI-compatible chat completions API.
type Client struct {
	cfg     Config
	http    *http.Client
	breaker *circuitbreaker.Breaker
}

// New creates a scorer client. A zero Timeout defaults to 10s.
func New(cfg Config) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &Client{
		cfg:     cfg,
		http:    &http.Client{Timeout: cfg.Timeout},
		breaker: circuitbreaker.New(3, 30*time.Second),
	}
}

// chat completions wire types (request and the slice of the response we read)

type chatRequest struct {
	Model          string        `json:"model"`
	Messages       []chatMessage `json:"messages"`
	ResponseFormat *respFormat   `json:"response_format,omitempty"`
	Temperature    float64       `json:"temperature"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type respFormat struct {
	Type string `json:"type"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

type verdict struct {
	RiskScore int    `json:"risk_score"`
	Analysis  string `json:"analysis"`
}

const scoreSystemPrompt = `You are a security risk analyst for an autonomous agent platform.
Given an action an AI agent wants to perform, respond with JSON only:
{"risk_score": <0-100>, "analysis": "<one or two sentences for a human approver>"}
Score financial, destructive, and data-exposure actions conservatively.`

// Score asks the model to rate the request. It never fails: on any transport,
// circuit, or parse problem it returns the conservative fallback.
func (c *Client) Score(ctx context.Context, req *policy.ActionRequest) (int, string) {
	payload, _ := json.Marshal(req.Payload)
	user := fmt.Sprintf("Agent %s wants to perform %s.\nPayload: %s\nAgent's stated reasoning: %s",
		req.AgentID, req.ActionType, payload, req.Reasoning)

	content, err := c.complete(ctx, scoreSystemPrompt, user, true)
	if err != nil {
		c.degrade(ctx, "score", err)
		return FallbackScore, FallbackRationale
	}

	var v verdict
	if err := json.Unmarshal([]byte(content), &v); err != nil {
		c.degrade(ctx, "score", fmt.Errorf("parse verdict: %w", err))
		return FallbackScore, FallbackRationale
	}
	if v.RiskScore < 0 || v.RiskScore > 100 {
		c.degrade(ctx, "score", fmt.Errorf("verdict score %d out of range", v.RiskScore))
		return FallbackScore, FallbackRationale
	}
	return v.RiskScore, v.Analysis
}

const explainSystemPrompt = `You are briefing a human approver over the phone about an action an AI agent
wants to perform. Answer their question in one or two short spoken sentences,
then remind them they can approve, decline, or ask another question.`

// CaseContext is what the approver is reviewing, passed to Explain so the
// model answers about the right action.
type CaseContext struct {
	Request   *policy.ActionRequest
	Score     int
	Rationale string
}

// Explain answers an approver's spoken question about the case under review.
// Degrades to a safe canned answer on failure.
func (c *Client) Explain(ctx context.Context, question string, cc CaseContext) string {
	payload, _ := json.Marshal(cc.Request.Payload)
	user := fmt.Sprintf("Action under review: %s\nPayload: %s\nAgent's reasoning: %s\nRisk score: %d (%s)\nApprover asked: %q",
		cc.Request.ActionType, payload, cc.Request.Reasoning, cc.Score, cc.Rationale, question)

	content, err := c.complete(ctx, explainSystemPrompt, user, false)
	if err != nil {
		c.degrade(ctx, "explain", err)
		return FallbackAnswer
	}
	return content
}

// complete runs one chat completion with retry behind the circuit breaker.
func (c *Client) complete(ctx context.Context, system, user string, jsonMode bool) (string, error) {
	if !c.breaker.Allow(breakerKey) {
		return "", fmt.Errorf("scorer circuit open")
	}

	body := chatRequest{
		Model: c.cfg.Model,
		Messages: []chatMessage{
			{Role: "system", Content: system},
			{Role: "user", Content: user},
		},
		Temperature: 0.1,
	}
	if jsonMode {
		body.ResponseFormat = &respFormat{Type: "json_object"}
	}
	raw, err := json.Marshal(body)
	if err != nil {
		return "", err
	}

	var content string
	err = retry.Do(ctx, 2, 500*time.Millisecond, func() error {
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
			c.cfg.BaseURL+"/chat/completions", bytes.NewReader(raw))
		if err != nil {
			return retry.Permanent(err)
		}
		httpReq.Header.Set("Content-Type", "application/json")
		httpReq.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)

		resp, err := c.http.Do(httpReq)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		if err != nil {
			return err
		}
		if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusBadRequest {
			return retry.Permanent(fmt.Errorf("scorer returned %d: %s", resp.StatusCode, respBody))
		}
		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("scorer returned %d", resp.StatusCode)
		}

		var cr chatResponse
		if err := json.Unmarshal(respBody, &cr); err != nil {
			return retry.Permanent(fmt.Errorf("decode response: %w", err))
		}
		if len(cr.Choices) == 0 {
			return retry.Permanent(fmt.Errorf("empty choices"))
		}
		content = cr.Choices[0].Message.Content
		return nil
	})
	if err != nil {
		c.breaker.RecordFailure(breakerKey)
		return "", err
	}
	c.breaker.RecordSuccess(breakerKey)
	return content, nil
}

func (c *Client) degrade(ctx context.Context, op string, err error) {
	metrics.ScorerFailuresTotal.Inc()
	logging.L(ctx).Warn("scorer degraded to fallback", "op", op, "error", err)
}
