package server

import (
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/sentinelgate/sentinel/internal/audit"
	"github.com/sentinelgate/sentinel/internal/authz"
	"github.com/sentinelgate/sentinel/internal/logging"
	"github.com/sentinelgate/sentinel/internal/metrics"
	"github.com/sentinelgate/sentinel/internal/policy"
	"github.com/sentinelgate/sentinel/internal/traces"
	"github.com/sentinelgate/sentinel/internal/validation"
	"github.com/sentinelgate/sentinel/internal/voice"
)

// submitActionRequest is the body of POST /v1/actions.
type submitActionRequest struct {
	AgentID    string         `json:"agentId"`
	ActionType string         `json:"actionType"`
	Payload    map[string]any `json:"payload"`
	Reasoning  string         `json:"reasoning"`
}

// submitActionHandler gates one agent action behind the authorization
// workflow. Returns 409 while another case is still in flight.
func (s *Server) submitActionHandler(c *gin.Context) {
	var req submitActionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Invalid JSON body",
		})
		return
	}

	req.AgentID = validation.SanitizeString(req.AgentID, 128)
	req.Reasoning = validation.SanitizeString(req.Reasoning, validation.MaxReasoningLength)

	if errs := validation.Validate(
		validation.Required("agentId", req.AgentID),
		validation.Required("actionType", req.ActionType),
		validation.ValidActionType("actionType", req.ActionType),
		validation.MaxFields("payload", req.Payload, validation.MaxPayloadFields),
	); len(errs) > 0 {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "validation_failed",
			"message": errs.Error(),
			"details": errs,
		})
		return
	}

	ctx, span := traces.StartSpan(c.Request.Context(), "authz.submit",
		traces.AgentID(req.AgentID), traces.ActionType(req.ActionType))
	defer span.End()

	result, err := s.machine.Submit(ctx, &policy.ActionRequest{
		AgentID:    req.AgentID,
		ActionType: req.ActionType,
		Payload:    req.Payload,
		Reasoning:  req.Reasoning,
	})
	if err != nil {
		if errors.Is(err, authz.ErrCaseInFlight) {
			c.JSON(http.StatusConflict, gin.H{
				"error":   "case_in_flight",
				"message": "An authorization case is already in progress; retry after it resolves",
			})
			return
		}
		logging.L(ctx).Error("submission failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "Failed to process submission",
		})
		return
	}

	span.SetAttributes(traces.CaseID(result.CaseID), traces.RiskScore(result.Score))
	c.JSON(http.StatusOK, result)
}

// caseStatusHandler returns an atomic snapshot of the current case. Agents
// poll this while blocked.
func (s *Server) caseStatusHandler(c *gin.Context) {
	c.JSON(http.StatusOK, s.machine.Snapshot())
}

// voiceWebhookHandler ingests telephony provider events. Always answers 200
// for parseable envelopes: the provider retries on errors, and replays must
// stay harmless.
func (s *Server) voiceWebhookHandler(c *gin.Context) {
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, validation.MaxRequestSize))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Could not read body",
		})
		return
	}

	ev, err := voice.ParseEvent(body)
	if err != nil {
		metrics.WebhookEventsTotal.WithLabelValues("unparseable", "rejected").Inc()
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_webhook",
			"message": "Unrecognized webhook envelope",
		})
		return
	}

	ctx, span := traces.StartSpan(c.Request.Context(), "voice.webhook",
		traces.EventType(ev.Type))
	defer span.End()

	s.controller.HandleEvent(ctx, ev)
	metrics.WebhookEventsTotal.WithLabelValues(ev.Type, "handled").Inc()

	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// listDecisionsHandler returns the audit trail, newest first.
func (s *Server) listDecisionsHandler(c *gin.Context) {
	limit := 50
	if raw := c.Query("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 && n <= 500 {
			limit = n
		}
	}

	decisions, err := s.auditStore.List(c.Request.Context(), limit)
	if err != nil {
		logging.L(c.Request.Context()).Error("list decisions failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "Failed to load decisions",
		})
		return
	}
	if decisions == nil {
		decisions = []*audit.Decision{}
	}

	c.JSON(http.StatusOK, gin.H{
		"decisions": decisions,
		"count":     len(decisions),
	})
}
