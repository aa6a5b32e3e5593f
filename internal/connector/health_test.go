package connector

import (
	"errors"
	"testing"
	"time"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) Now() time.Time          { return c.t }
func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
}

func TestHealthOpensAfterThreshold(t *testing.T) {
	clock := newFakeClock()
	h := NewHealth(HealthOptions{Threshold: 3, Cooldown: 10 * time.Second, Now: clock.Now})
	boom := errors.New("boom")

	if h.RecordFailure("a", time.Millisecond, boom) || h.RecordFailure("a", time.Millisecond, boom) {
		t.Fatal("circuit must stay closed below the threshold")
	}
	if !h.Allow("a") {
		t.Fatal("two failures should not block the exchange")
	}
	if !h.RecordFailure("a", time.Millisecond, boom) {
		t.Fatal("third failure should open the circuit")
	}
	if h.Allow("a") {
		t.Fatal("open circuit must block fetches")
	}

	snap := h.Snapshot()["a"]
	if !snap.CircuitOpen || snap.ConsecutiveFailures != 3 || snap.LastError != "boom" {
		t.Fatalf("unexpected snapshot %+v", snap)
	}
	if got := h.OpenCircuits(); len(got) != 1 || got[0] != "a" {
		t.Fatalf("open circuits = %v", got)
	}
}

func TestHealthClosesAfterCooldown(t *testing.T) {
	clock := newFakeClock()
	h := NewHealth(HealthOptions{Threshold: 3, Cooldown: 10 * time.Second, Now: clock.Now})
	for i := 0; i < 3; i++ {
		h.RecordFailure("a", 0, errors.New("down"))
	}

	clock.Advance(9 * time.Second)
	if h.Allow("a") {
		t.Fatal("circuit closed before cooldown elapsed")
	}

	clock.Advance(time.Second)
	if !h.Allow("a") {
		t.Fatal("circuit should close once cooldown elapsed")
	}
	if h.TotalFailures() != 0 {
		t.Fatalf("failure counter should reset speculatively, got %d", h.TotalFailures())
	}

	// a single failure after the speculative reset does not re-open
	if h.RecordFailure("a", 0, errors.New("down")) {
		t.Fatal("one failure after reset must not re-open the circuit")
	}
}

func TestHealthSuccessResets(t *testing.T) {
	h := NewHealth(HealthOptions{Threshold: 3})
	h.RecordFailure("a", 0, errors.New("x"))
	h.RecordFailure("a", 0, errors.New("x"))
	h.RecordSuccess("a", 20*time.Millisecond)

	snap := h.Snapshot()["a"]
	if snap.ConsecutiveFailures != 0 || snap.CircuitOpen {
		t.Fatalf("success should reset state, got %+v", snap)
	}
	if snap.LastLatencyMS != 20 {
		t.Fatalf("latency = %v, want 20ms", snap.LastLatencyMS)
	}
}

func TestCooldownIsClamped(t *testing.T) {
	cases := map[time.Duration]time.Duration{
		0:                minCooldown,
		time.Second:      minCooldown,
		12 * time.Second: 12 * time.Second,
		time.Minute:      maxCooldown,
	}
	for in, want := range cases {
		if got := NewHealth(HealthOptions{Cooldown: in}).Cooldown(); got != want {
			t.Errorf("cooldown(%v) = %v, want %v", in, got, want)
		}
	}
}
