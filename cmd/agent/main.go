// Command agent is a demo agent that submits a risky action to the gateway
// and polls until a human decides. Useful for exercising the full voice
// approval loop end to end.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/sentinelgate/sentinel/internal/logging"
)

const (
	pollBase    = 1 * time.Second
	pollCap     = 5 * time.Second
	waitCeiling = 3 * time.Minute
)

func main() {
	logger := logging.New("info", "text")

	apiURL := os.Getenv("SENTINEL_API_URL")
	if apiURL == "" {
		apiURL = "http://localhost:8080"
	}

	submission := map[string]any{
		"agentId":    "demo-finance-agent",
		"actionType": "PAY_INVOICE",
		"payload": map[string]any{
			"amount":  10000,
			"vendor":  "Unknown Corp",
			"invoice": "INV-2024-0042",
		},
		"reasoning": "Invoice INV-2024-0042 is past due and the vendor threatened late fees.",
	}

	body, _ := json.Marshal(submission)
	resp, err := http.Post(apiURL+"/v1/actions", "application/json", bytes.NewReader(body))
	if err != nil {
		logger.Error("submission failed", "error", err)
		os.Exit(1)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusConflict {
		logger.Error("another case is in flight; try again after it resolves")
		os.Exit(1)
	}
	if resp.StatusCode != http.StatusOK {
		logger.Error("submission rejected", "status", resp.StatusCode)
		os.Exit(1)
	}

	var result struct {
		CaseID    string `json:"caseId"`
		Status    string `json:"status"`
		Score     int    `json:"score"`
		Rationale string `json:"rationale"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		logger.Error("bad submission response", "error", err)
		os.Exit(1)
	}

	logger.Info("action submitted",
		"case_id", result.CaseID,
		"status", result.Status,
		"score", result.Score,
		"rationale", result.Rationale,
	)

	switch result.Status {
	case "EXECUTED":
		fmt.Println("Approved automatically. Executing action.")
		return
	case "DECLINED", "ERROR_CHANNEL":
		fmt.Println("Declined. Action will not run.")
		os.Exit(1)
	}

	logger.Info("blocked awaiting human authorization, polling")

	ctx, cancel := context.WithTimeout(context.Background(), waitCeiling)
	defer cancel()

	delay := pollBase
	for {
		select {
		case <-ctx.Done():
			fmt.Println("No decision before timeout. Treating as declined.")
			os.Exit(1)
		case <-time.After(delay):
		}
		if delay < pollCap {
			delay *= 2
			if delay > pollCap {
				delay = pollCap
			}
		}

		state, reason, err := fetchCaseState(ctx, apiURL, result.CaseID)
		if err != nil {
			logger.Warn("poll failed", "error", err)
			continue
		}

		logger.Info("case state", "state", state)
		switch state {
		case "APPROVED":
			fmt.Println("Approved by human. Executing action.")
			return
		case "DECLINED":
			fmt.Printf("Declined: %s\n", reason)
			os.Exit(1)
		}
	}
}

func fetchCaseState(ctx context.Context, apiURL, caseID string) (state, reason string, err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, apiURL+"/v1/case", nil)
	if err != nil {
		return "", "", err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", "", err
	}
	defer resp.Body.Close()

	var snap struct {
		CaseID string `json:"caseId"`
		State  string `json:"state"`
		Reason string `json:"reason"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&snap); err != nil {
		return "", "", err
	}
	if snap.CaseID != caseID {
		return "", "", fmt.Errorf("case %s is no longer current", caseID)
	}
	return snap.State, snap.Reason, nil
}
