package platform

import (
	"testing"
	"time"
)

func TestHoldDetector_sample(t *testing.T) {
	h := newHoldDetector("B")
	now := time.Now()

	// Idle polls produce nothing
	if trig := h.sample(false, now); trig != nil {
		t.Errorf("Expected no trigger while idle, got %v", trig)
	}

	// Polls while held produce nothing either
	for i := 0; i < 3; i++ {
		if trig := h.sample(true, now); trig != nil {
			t.Errorf("Expected no trigger while held, got %v", trig)
		}
	}

	// The release edge fires, carrying the held poll count
	trig := h.sample(false, now)
	if trig == nil {
		t.Fatal("Expected a trigger on release, got nil")
	}
	if trig.ID != "B" || trig.Value != 3 {
		t.Errorf("Expected trigger B/3, got %s/%d", trig.ID, trig.Value)
	}
	if !trig.Timestamp.Equal(now) {
		t.Errorf("Expected trigger timestamp %v, got %v", now, trig.Timestamp)
	}

	// The release consumed the hold
	if trig := h.sample(false, now); trig != nil {
		t.Errorf("Expected no trigger after release, got %v", trig)
	}

	// A tap is a one-poll hold
	h.sample(true, now)
	trig = h.sample(false, now)
	if trig == nil {
		t.Fatal("Expected a tap trigger, got nil")
	}
	if trig.Value != 1 {
		t.Errorf("Expected tap value 1, got %d", trig.Value)
	}
}
