package ratelimit

import (
	"testing"
	"time"
)

// fakeClock lets tests advance time deterministically.
type fakeClock struct {
	t time.Time
}

func (c *fakeClock) now() time.Time { return c.t }

func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestLimiter(max int, window time.Duration) (*Limiter, *fakeClock) {
	clock := &fakeClock{t: time.Unix(1_700_000_000, 0)}
	l := New(max, window)
	l.now = clock.now
	return l, clock
}

func TestAllowUpToMax(t *testing.T) {
	l, _ := newTestLimiter(30, time.Minute)

	for i := 0; i < 30; i++ {
		if !l.Allow("agent_1") {
			t.Fatalf("call %d unexpectedly denied", i+1)
		}
	}
	if l.Allow("agent_1") {
		t.Fatal("31st call within window should be denied")
	}
}

func TestDenialDoesNotExtendWindow(t *testing.T) {
	l, clock := newTestLimiter(3, time.Minute)

	for i := 0; i < 3; i++ {
		l.Allow("agent_1")
	}

	// Hammer while denied: these must not record timestamps.
	for i := 0; i < 10; i++ {
		clock.advance(time.Second)
		if l.Allow("agent_1") {
			t.Fatal("expected denial inside window")
		}
	}

	// Once the original three timestamps age out, allowance returns.
	clock.advance(time.Minute)
	if !l.Allow("agent_1") {
		t.Fatal("expected allowance after window elapsed")
	}
}

func TestWindowSlides(t *testing.T) {
	l, clock := newTestLimiter(2, time.Minute)

	l.Allow("agent_1")
	clock.advance(30 * time.Second)
	l.Allow("agent_1")

	if l.Allow("agent_1") {
		t.Fatal("expected denial with two hits in window")
	}

	// First hit falls out at +60s, second remains until +90s.
	clock.advance(31 * time.Second)
	if !l.Allow("agent_1") {
		t.Fatal("expected allowance after first hit aged out")
	}
}

func TestKeysAreIndependent(t *testing.T) {
	l, _ := newTestLimiter(1, time.Minute)

	if !l.Allow("agent_1") {
		t.Fatal("first agent denied")
	}
	if !l.Allow("agent_2") {
		t.Fatal("second agent should have its own window")
	}
	if l.Allow("agent_1") {
		t.Fatal("first agent should now be denied")
	}
}

func TestIdleKeysSwept(t *testing.T) {
	l, clock := newTestLimiter(2, time.Minute)

	l.Allow("agent_1")
	l.Allow("agent_2")

	// Both keys age fully out of the window; the next call sweeps them.
	clock.advance(3 * time.Minute)
	l.Allow("agent_3")

	l.mu.Lock()
	_, stale1 := l.hits["agent_1"]
	_, stale2 := l.hits["agent_2"]
	keys := len(l.hits)
	l.mu.Unlock()

	if stale1 || stale2 {
		t.Fatal("fully aged keys should have been swept")
	}
	if keys != 1 {
		t.Fatalf("expected only the live key, have %d", keys)
	}
}

func TestSweepKeepsLiveKeys(t *testing.T) {
	l, clock := newTestLimiter(2, time.Minute)

	l.Allow("agent_1")
	clock.advance(50 * time.Second)
	l.Allow("agent_2")

	// The sweep at +61s ages agent_1 out but agent_2's hit at +50s is
	// still inside the window and must survive it.
	clock.advance(11 * time.Second)
	if !l.Allow("agent_2") {
		t.Fatal("live key unexpectedly limited")
	}
	if l.Allow("agent_2") {
		t.Fatal("surviving hit should still count toward the max")
	}

	l.mu.Lock()
	_, stale := l.hits["agent_1"]
	l.mu.Unlock()
	if stale {
		t.Fatal("aged key should have been swept")
	}
}
