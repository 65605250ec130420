package control

import (
	"testing"
	"time"
)

func TestCircuitBreaker_StateTransitions(t *testing.T) {
	c := NewCircuitBreaker(2, 100*time.Millisecond)
	now := time.Now()

	if c.State() != CircuitClosed {
		t.Fatalf("expected closed, got %s", c.State())
	}

	c.RecordFailure(now)
	if c.State() != CircuitClosed {
		t.Fatalf("expected closed after first failure, got %s", c.State())
	}

	c.RecordFailure(now)
	if c.State() != CircuitOpen {
		t.Fatalf("expected open after threshold failures, got %s", c.State())
	}

	if c.Allow(now.Add(10 * time.Millisecond)) {
		t.Fatal("expected deny while cooldown not elapsed")
	}
	if !c.Allow(now.Add(120 * time.Millisecond)) {
		t.Fatal("expected allow after cooldown")
	}
	if c.State() != CircuitHalfOpen {
		t.Fatalf("expected half_open, got %s", c.State())
	}

	c.RecordSuccess()
	if c.State() != CircuitClosed {
		t.Fatalf("expected closed after probe success, got %s", c.State())
	}
}

func TestCircuitBreaker_FailedProbeReopens(t *testing.T) {
	c := NewCircuitBreaker(3, time.Second)
	now := time.Unix(0, 0)
	for i := 0; i < 3; i++ {
		c.RecordFailure(now)
	}
	later := now.Add(2 * time.Second)
	if !c.Allow(later) {
		t.Fatal("expected probe after cooldown")
	}
	c.RecordFailure(later)
	if c.State() != CircuitOpen {
		t.Fatalf("expected reopen, got %s", c.State())
	}
	if c.Allow(later.Add(500 * time.Millisecond)) {
		t.Fatal("expected new cooldown after failed probe")
	}
}

func TestNewCircuitBreaker_Defaults(t *testing.T) {
	c := NewCircuitBreaker(0, 0)
	if c.Threshold != 5 || c.Cooldown != 30*time.Second {
		t.Fatalf("unexpected defaults: %d %s", c.Threshold, c.Cooldown)
	}
}
