// Package audit records terminal authorization decisions. The live case is
// in-memory only; the audit log is the durable trail of what was decided,
// by whom, and why.
package audit

import (
	"context"
	"sync"
	"time"
)

// Resolver identifies who or what resolved a case.
const (
	ResolverAutoPolicy   = "auto_policy"
	ResolverHumanDTMF    = "human_dtmf"
	ResolverHumanVoice   = "human_voice"
	ResolverTimeout      = "timeout"
	ResolverChannelError = "channel_error"
)

// Decision is one terminal authorization outcome.
type Decision struct {
	ID         string         `json:"id"`
	CaseID     string         `json:"caseId"`
	AgentID    string         `json:"agentId"`
	ActionType string         `json:"actionType"`
	Payload    map[string]any `json:"payload"`
	RiskScore  int            `json:"riskScore"`
	Outcome    string         `json:"outcome"` // APPROVED or DECLINED
	Resolver   string         `json:"resolver"`
	Rationale  string         `json:"rationale"`
	CreatedAt  time.Time      `json:"createdAt"`
	ResolvedAt time.Time      `json:"resolvedAt"`
}

// Store persists decisions.
type Store interface {
	Record(ctx context.Context, d *Decision) error
	List(ctx context.Context, limit int) ([]*Decision, error)
	Ping(ctx context.Context) error
}

// MemoryStore keeps the most recent decisions in memory, newest first.
type MemoryStore struct {
	mu        sync.RWMutex
	decisions []*Decision
	max       int
}

// NewMemoryStore creates an in-memory store holding at most max decisions.
// max <= 0 means 1000.
func NewMemoryStore(max int) *MemoryStore {
	if max <= 0 {
		max = 1000
	}
	return &MemoryStore{max: max}
}

// Record stores a decision.
func (m *MemoryStore) Record(_ context.Context, d *Decision) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp := *d
	m.decisions = append([]*Decision{&cp}, m.decisions...)
	if len(m.decisions) > m.max {
		m.decisions = m.decisions[:m.max]
	}
	return nil
}

// List returns up to limit decisions, newest first.
func (m *MemoryStore) List(_ context.Context, limit int) ([]*Decision, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if limit <= 0 || limit > len(m.decisions) {
		limit = len(m.decisions)
	}
	out := make([]*Decision, limit)
	for i := 0; i < limit; i++ {
		cp := *m.decisions[i]
		out[i] = &cp
	}
	return out, nil
}

// Ping always succeeds for the memory store.
func (m *MemoryStore) Ping(_ context.Context) error { return nil }
