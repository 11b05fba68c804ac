package audit

import (
	"context"
	"fmt"
	"testing"
	"time"
)

func decision(i int) *Decision {
	return &Decision{
		ID:         fmt.Sprintf("dec_%d", i),
		CaseID:     fmt.Sprintf("case_%d", i),
		AgentID:    "agent-1",
		ActionType: "PAY_INVOICE",
		Payload:    map[string]any{"amount": float64(i)},
		RiskScore:  90,
		Outcome:    "DECLINED",
		Resolver:   ResolverHumanVoice,
		Rationale:  "test",
		CreatedAt:  time.Now().UTC(),
		ResolvedAt: time.Now().UTC(),
	}
}

func TestMemoryStore_NewestFirst(t *testing.T) {
	s := NewMemoryStore(0)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if err := s.Record(ctx, decision(i)); err != nil {
			t.Fatalf("Record: %v", err)
		}
	}

	got, err := s.List(ctx, 10)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("len = %d, want 3", len(got))
	}
	if got[0].ID != "dec_2" || got[2].ID != "dec_0" {
		t.Errorf("order = %s, %s, %s", got[0].ID, got[1].ID, got[2].ID)
	}
}

func TestMemoryStore_Limit(t *testing.T) {
	s := NewMemoryStore(0)
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		_ = s.Record(ctx, decision(i))
	}

	got, err := s.List(ctx, 2)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(got) != 2 {
		t.Errorf("len = %d, want 2", len(got))
	}
}

func TestMemoryStore_CapsRetention(t *testing.T) {
	s := NewMemoryStore(3)
	ctx := context.Background()
	for i := 0; i < 10; i++ {
		_ = s.Record(ctx, decision(i))
	}

	got, _ := s.List(ctx, 100)
	if len(got) != 3 {
		t.Fatalf("len = %d, want cap 3", len(got))
	}
	if got[0].ID != "dec_9" {
		t.Errorf("newest = %s, want dec_9", got[0].ID)
	}
}

func TestMemoryStore_CopiesOnRead(t *testing.T) {
	s := NewMemoryStore(0)
	ctx := context.Background()
	_ = s.Record(ctx, decision(1))

	got, _ := s.List(ctx, 1)
	got[0].Outcome = "TAMPERED"

	again, _ := s.List(ctx, 1)
	if again[0].Outcome != "DECLINED" {
		t.Error("List must return copies, not shared pointers")
	}
}
