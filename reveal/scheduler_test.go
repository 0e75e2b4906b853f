package reveal

import (
	"sync"
	"testing"
	"time"
)

type capture struct {
	mu   sync.Mutex
	last string
}

func (c *capture) publish(text string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.last = text
}

func (c *capture) get() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.last
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) bool {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(time.Millisecond)
	}
	return cond()
}

func TestRevealConservation(t *testing.T) {
	var c capture
	s := NewScheduler(Config{Interval: time.Millisecond, Frame: 2 * time.Millisecond}, c.publish)
	defer s.Reset()

	for _, f := range []string{"Hel", "lo, ", "world"} {
		s.Enqueue(f)
	}

	if !waitFor(t, 2*time.Second, func() bool { return c.get() == "Hello, world" }) {
		t.Fatalf("expected full text released in order, got %q", c.get())
	}
}

func TestRevealCharByCharConservation(t *testing.T) {
	var c capture
	s := NewScheduler(Config{Interval: time.Millisecond, Frame: 2 * time.Millisecond, CharByChar: true}, c.publish)
	defer s.Reset()

	s.Enqueue("Hel")
	s.Enqueue("lo")

	if !waitFor(t, 2*time.Second, func() bool { return c.get() == "Hello" }) {
		t.Fatalf("expected per-rune release to preserve order, got %q", c.get())
	}
}

func TestRevealReducedMotionImmediate(t *testing.T) {
	var c capture
	s := NewScheduler(Config{ReducedMotion: true}, c.publish)

	s.Enqueue("all ")
	s.Enqueue("at once")

	if got := c.get(); got != "all at once" {
		t.Errorf("reduced motion should publish synchronously, got %q", got)
	}
}

func TestRevealFinishFlushesRemainder(t *testing.T) {
	var c capture
	// Long interval so nothing is released by the pump before Finish.
	s := NewScheduler(Config{Interval: time.Hour, Frame: time.Hour}, c.publish)

	s.Enqueue("queued ")
	s.Enqueue("text")
	s.Finish()

	if got := c.get(); got != "queued text" {
		t.Errorf("finish should release the full queue, got %q", got)
	}
}

func TestRevealResetDiscardsEverything(t *testing.T) {
	var c capture
	s := NewScheduler(Config{Interval: time.Hour, Frame: time.Hour}, c.publish)

	s.Enqueue("partial")
	s.Reset()

	if s.Visible() != "" {
		t.Errorf("reset should clear the display buffer, got %q", s.Visible())
	}
	// A fragment enqueued after reset starts from scratch.
	s.Enqueue("fresh")
	s.Finish()
	if got := c.get(); got != "fresh" {
		t.Errorf("post-reset reveal should not retain discarded text, got %q", got)
	}
}
