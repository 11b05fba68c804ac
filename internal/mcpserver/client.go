package mcpserver

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

// Config holds the configuration for connecting to the Sentinel gateway.
type Config struct {
	APIURL  string // Base URL, e.g. "http://localhost:8080"
	AgentID string // Identity presented on submissions, e.g. "finance-agent-1"
}

// SentinelClient is a pure HTTP client for the Sentinel gateway API.
type SentinelClient struct {
	cfg        Config
	httpClient *http.Client
}

// NewSentinelClient creates a new client for the Sentinel gateway.
func NewSentinelClient(cfg Config) *SentinelClient {
	return &SentinelClient{
		cfg: cfg,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// apiError represents an error response from the gateway.
type apiError struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// CaseSnapshot is the gateway's view of the current case.
type CaseSnapshot struct {
	CaseID     string `json:"caseId"`
	State      string `json:"state"`
	Reason     string `json:"reason"`
	Assessment *struct {
		Score     int    `json:"score"`
		Rationale string `json:"rationale"`
	} `json:"assessment"`
	Request *struct {
		AgentID    string         `json:"agentId"`
		ActionType string         `json:"actionType"`
		Payload    map[string]any `json:"payload"`
	} `json:"request"`
}

// SubmitResult is the response to an action submission.
type SubmitResult struct {
	CaseID    string `json:"caseId"`
	Status    string `json:"status"`
	Score     int    `json:"score"`
	Rationale string `json:"rationale"`
}

// doRequest makes an HTTP request to the gateway and returns the response body.
func (c *SentinelClient) doRequest(ctx context.Context, method, path string, query url.Values, body any) (json.RawMessage, error) {
	u, err := url.Parse(c.cfg.APIURL + path)
	if err != nil {
		return nil, fmt.Errorf("invalid URL: %w", err)
	}
	if query != nil {
		u.RawQuery = query.Encode()
	}

	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal request body: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, u.String(), reqBody)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode >= 400 {
		var apiErr apiError
		if json.Unmarshal(respBody, &apiErr) == nil && apiErr.Message != "" {
			return nil, fmt.Errorf("API error (%d): %s", resp.StatusCode, apiErr.Message)
		}
		return nil, fmt.Errorf("API error (%d): %s", resp.StatusCode, string(respBody))
	}

	return json.RawMessage(respBody), nil
}

// SubmitAction submits an action for authorization.
func (c *SentinelClient) SubmitAction(ctx context.Context, actionType string, payload map[string]any, reasoning string) (*SubmitResult, error) {
	raw, err := c.doRequest(ctx, http.MethodPost, "/v1/actions", nil, map[string]any{
		"agentId":    c.cfg.AgentID,
		"actionType": actionType,
		"payload":    payload,
		"reasoning":  reasoning,
	})
	if err != nil {
		return nil, err
	}

	var result SubmitResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, fmt.Errorf("parse submit result: %w", err)
	}
	return &result, nil
}

// GetCase fetches the current case snapshot.
func (c *SentinelClient) GetCase(ctx context.Context) (*CaseSnapshot, error) {
	raw, err := c.doRequest(ctx, http.MethodGet, "/v1/case", nil, nil)
	if err != nil {
		return nil, err
	}

	var snap CaseSnapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		return nil, fmt.Errorf("parse case snapshot: %w", err)
	}
	return &snap, nil
}

// ListDecisions fetches recent audit decisions.
func (c *SentinelClient) ListDecisions(ctx context.Context, limit int) (json.RawMessage, error) {
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", fmt.Sprintf("%d", limit))
	}
	return c.doRequest(ctx, http.MethodGet, "/v1/decisions", q, nil)
}

// Polling parameters for WaitForResolution: start at pollBase, double up to
// pollCap, give up after waitCeiling.
const (
	pollBase    = 1 * time.Second
	pollCap     = 5 * time.Second
	waitCeiling = 3 * time.Minute
)

// WaitForResolution polls the case until it reaches a terminal state for the
// given caseID, or the ceiling elapses.
func (c *SentinelClient) WaitForResolution(ctx context.Context, caseID string) (*CaseSnapshot, error) {
	ctx, cancel := context.WithTimeout(ctx, waitCeiling)
	defer cancel()

	delay := pollBase
	for {
		snap, err := c.GetCase(ctx)
		if err == nil && snap.CaseID == caseID {
			switch snap.State {
			case "APPROVED", "DECLINED":
				return snap, nil
			}
		}
		if err == nil && snap.CaseID != caseID && snap.CaseID != "" {
			// A newer case replaced ours; ours must have resolved already.
			return nil, fmt.Errorf("case %s is no longer current", caseID)
		}

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("timed out waiting for a decision on case %s", caseID)
		case <-time.After(delay):
		}
		if delay < pollCap {
			delay *= 2
			if delay > pollCap {
				delay = pollCap
			}
		}
	}
}
