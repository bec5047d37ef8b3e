package ratelimit

import (
	"testing"
	"time"
)

// fakeClock lets tests advance time without sleeping.
type fakeClock struct {
	current time.Time
}

func (c *fakeClock) now() time.Time {
	return c.current
}

func (c *fakeClock) advance(d time.Duration) {
	c.current = c.current.Add(d)
}

func newTestLimiter(max int, window time.Duration) (*Limiter, *fakeClock) {
	clock := &fakeClock{current: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
	limiter := NewLimiter(max, window)
	limiter.now = clock.now
	return limiter, clock
}

func TestLimiter_Boundary(t *testing.T) {
	limiter, clock := newTestLimiter(5, 60*time.Second)

	for i := 0; i < 5; i++ {
		if !limiter.Consume() {
			t.Fatalf("Expected consume %d to succeed", i+1)
		}
	}

	if limiter.Consume() {
		t.Error("Expected 6th consume to fail at capacity")
	}
	if limiter.Check() {
		t.Error("Expected check to report no capacity")
	}

	clock.advance(61 * time.Second)

	if !limiter.Check() {
		t.Error("Expected check to pass after the window elapsed")
	}
	if !limiter.Consume() {
		t.Error("Expected consume to succeed after the window elapsed")
	}
}

func TestLimiter_CheckDoesNotConsume(t *testing.T) {
	limiter, _ := newTestLimiter(2, 60*time.Second)

	for i := 0; i < 10; i++ {
		if !limiter.Check() {
			t.Fatalf("Check %d should not consume capacity", i+1)
		}
	}

	if !limiter.Consume() || !limiter.Consume() {
		t.Error("Expected both consumes to succeed after repeated checks")
	}
}

func TestLimiter_Status(t *testing.T) {
	limiter, clock := newTestLimiter(2, 60*time.Second)

	status := limiter.Status()
	if status.Current != 0 || status.Remaining != 2 || status.NextSlotIn != 0 {
		t.Errorf("Unexpected idle status: %+v", status)
	}

	limiter.Consume()
	clock.advance(10 * time.Second)
	limiter.Consume()

	status = limiter.Status()
	if status.Current != 2 || status.Remaining != 0 {
		t.Errorf("Unexpected full status: %+v", status)
	}
	// First event frees up 50s from now; reported wait rounds up.
	if status.NextSlotIn < 50 || status.NextSlotIn > 51 {
		t.Errorf("Expected next slot in ~50s, got %d", status.NextSlotIn)
	}

	clock.advance(51 * time.Second)
	status = limiter.Status()
	if status.Remaining != 1 {
		t.Errorf("Expected one slot free after oldest event expired, got %+v", status)
	}
}

func TestLimiter_PartialWindowSlide(t *testing.T) {
	limiter, clock := newTestLimiter(3, 60*time.Second)

	limiter.Consume()
	clock.advance(30 * time.Second)
	limiter.Consume()
	limiter.Consume()

	if limiter.Consume() {
		t.Error("Expected consume to fail at capacity")
	}

	// Only the first event has left the window.
	clock.advance(31 * time.Second)
	if !limiter.Consume() {
		t.Error("Expected one freed slot after partial slide")
	}
	if limiter.Consume() {
		t.Error("Expected no second freed slot")
	}
}
