package client

import (
	"testing"
	"time"
)

func TestBackoffSchedule(t *testing.T) {
	b := DefaultBackoff()

	want := []time.Duration{
		time.Second,
		2 * time.Second,
		4 * time.Second,
		8 * time.Second,
		16 * time.Second,
	}
	for attempt, delay := range want {
		if got := b.Delay(attempt); got != delay {
			t.Errorf("Delay(%d) = %s, want %s", attempt, got, delay)
		}
		if b.Exhausted(attempt) {
			t.Errorf("Exhausted(%d) = true before the budget is spent", attempt)
		}
	}

	if !b.Exhausted(5) {
		t.Error("Exhausted(5) = false, want true after five attempts")
	}
}
