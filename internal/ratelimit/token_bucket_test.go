package ratelimit

import (
	"testing"
	"time"

	"github.com/benbjohnson/clock"
)

func TestLimiterBurstThenDeny(t *testing.T) {
	mock := clock.NewMock()
	l := newLimiter(1, 2, mock)

	if !l.Allow() || !l.Allow() {
		t.Fatal("burst capacity should permit the first two requests")
	}
	if l.Allow() {
		t.Fatal("third immediate request should be denied")
	}
}

func TestLimiterRefills(t *testing.T) {
	mock := clock.NewMock()
	l := newLimiter(2, 2, mock)
	l.Allow()
	l.Allow()
	if l.Allow() {
		t.Fatal("bucket should be empty")
	}

	mock.Add(500 * time.Millisecond) // 2/s refill -> one token back
	if !l.Allow() {
		t.Fatal("expected a refilled token after 500ms")
	}
	if l.Allow() {
		t.Fatal("only one token should have refilled")
	}
}

func TestLimiterCapsAtBurst(t *testing.T) {
	mock := clock.NewMock()
	l := newLimiter(10, 3, mock)
	mock.Add(time.Hour)

	for i := 0; i < 3; i++ {
		if !l.Allow() {
			t.Fatalf("request %d should pass within burst", i+1)
		}
	}
	if l.Allow() {
		t.Fatal("tokens should cap at burst regardless of idle time")
	}
}

func TestLimiterDefaultBurst(t *testing.T) {
	l := newLimiter(5, 0, clock.NewMock())
	if l.burst != 5 {
		t.Fatalf("burst = %v, want rate", l.burst)
	}
}

func TestStoreIsolatesKeys(t *testing.T) {
	s := NewStoreWithClock(1, 1, clock.NewMock())

	if !s.Allow("10.0.0.1") {
		t.Fatal("first request for a key should pass")
	}
	if s.Allow("10.0.0.1") {
		t.Fatal("second request for the same key should be denied")
	}
	if !s.Allow("10.0.0.2") {
		t.Fatal("a different key should have its own bucket")
	}
}

func TestStorePrune(t *testing.T) {
	mock := clock.NewMock()
	s := NewStoreWithClock(1, 1, mock)

	s.Allow("old-client")
	mock.Add(10 * time.Minute)
	s.Allow("fresh-client")

	removed := s.Prune(5 * time.Minute)
	if removed != 1 {
		t.Fatalf("removed = %d, want 1", removed)
	}
	if s.Len() != 1 {
		t.Fatalf("len = %d, want 1", s.Len())
	}

	// The pruned key starts over with a full bucket.
	if !s.Allow("old-client") {
		t.Fatal("pruned key should get a fresh bucket")
	}
}
