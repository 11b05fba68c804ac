package circuitbreaker

import (
	"testing"
	"time"
)

func TestBreaker_OpensAfterThreshold(t *testing.T) {
	b := New(3, time.Minute)

	for i := 0; i < 2; i++ {
		b.RecordFailure("svc")
		if !b.Allow("svc") {
			t.Fatalf("circuit opened after %d failures, threshold is 3", i+1)
		}
	}

	b.RecordFailure("svc")
	if b.Allow("svc") {
		t.Error("circuit should be open after threshold failures")
	}
	if b.State("svc") != StateOpen {
		t.Errorf("state = %s", b.State("svc"))
	}
}

func TestBreaker_HalfOpenProbe(t *testing.T) {
	b := New(1, 20*time.Millisecond)

	b.RecordFailure("svc")
	if b.Allow("svc") {
		t.Fatal("circuit should be open")
	}

	time.Sleep(30 * time.Millisecond)

	// One probe allowed, second rejected while probing.
	if !b.Allow("svc") {
		t.Fatal("probe should be allowed after open duration")
	}
	if b.Allow("svc") {
		t.Error("only one probe at a time")
	}

	b.RecordSuccess("svc")
	if b.State("svc") != StateClosed {
		t.Errorf("state after successful probe = %s", b.State("svc"))
	}
	if !b.Allow("svc") {
		t.Error("closed circuit should allow requests")
	}
}

func TestBreaker_FailedProbeReopens(t *testing.T) {
	b := New(1, 20*time.Millisecond)

	b.RecordFailure("svc")
	time.Sleep(30 * time.Millisecond)
	if !b.Allow("svc") {
		t.Fatal("probe should be allowed")
	}

	b.RecordFailure("svc")
	if b.State("svc") != StateOpen {
		t.Errorf("state = %s, want open after failed probe", b.State("svc"))
	}
}

func TestBreaker_KeysIsolated(t *testing.T) {
	b := New(1, time.Minute)

	b.RecordFailure("a")
	if b.Allow("a") {
		t.Error("a should be open")
	}
	if !b.Allow("b") {
		t.Error("b should be unaffected")
	}
}
