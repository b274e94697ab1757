package ratelimit

import (
	"testing"
	"time"
)

func TestWindow_AllowsUpToLimit(t *testing.T) {
	w := New(3, time.Minute)
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		if !w.Allow(now) {
			t.Fatalf("hit %d should be allowed", i)
		}
	}
	if w.Allow(now) {
		t.Fatal("4th hit within window should be rejected")
	}
}

func TestWindow_EvictsExpiredHits(t *testing.T) {
	w := New(1, time.Minute)
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	if !w.Allow(start) {
		t.Fatal("first hit should be allowed")
	}
	if w.Allow(start.Add(30 * time.Second)) {
		t.Fatal("second hit within window should be rejected")
	}
	if !w.Allow(start.Add(61 * time.Second)) {
		t.Fatal("hit after window expiry should be allowed")
	}
}
