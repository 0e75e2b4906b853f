// Package reveal decouples the arrival cadence of streamed text from its
// display cadence. Fragments queue up as they arrive and are released to a
// display buffer on a fixed interval; the buffer itself is published at
// most once per display frame. Under a reduced-motion preference the whole
// queue is released immediately.
//
// Information Hiding:
// - Queue, display buffer, and pump goroutine are private; consumers see
//   only the publish callback and the visible text

package reveal

import (
	"strings"
	"sync"
	"time"
)

// Defaults for the release and flush cadences.
const (
	DefaultInterval = 20 * time.Millisecond
	DefaultFrame    = 16 * time.Millisecond
)

// Config controls the pump cadence.
type Config struct {
	// Interval is the pacing between fragment releases.
	Interval time.Duration
	// Frame bounds how often the merged display buffer is published.
	Frame time.Duration
	// ReducedMotion releases everything immediately on enqueue.
	ReducedMotion bool
	// CharByChar splits multi-character fragments into per-rune releases.
	CharByChar bool
}

func (c Config) withDefaults() Config {
	if c.Interval <= 0 {
		c.Interval = DefaultInterval
	}
	if c.Frame <= 0 {
		c.Frame = DefaultFrame
	}
	return c
}

// Scheduler meters the release of buffered text. The publish callback
// receives the full visible text and runs on the pump goroutine (or the
// caller's goroutine under reduced motion).
type Scheduler struct {
	mu      sync.Mutex
	cfg     Config
	publish func(string)
	queue   []string
	visible strings.Builder
	dirty   bool
	running bool
	stop    chan struct{}
}

// NewScheduler creates a text reveal scheduler. publish must be non-nil.
func NewScheduler(cfg Config, publish func(string)) *Scheduler {
	return &Scheduler{cfg: cfg.withDefaults(), publish: publish}
}

// Enqueue buffers one arriving fragment. Every queued character is released
// exactly once, in order, unless the cycle is reset first.
func (s *Scheduler) Enqueue(fragment string) {
	if fragment == "" {
		return
	}
	s.mu.Lock()
	if s.cfg.ReducedMotion {
		s.visible.WriteString(fragment)
		text := s.visible.String()
		s.mu.Unlock()
		s.publish(text)
		return
	}
	if s.cfg.CharByChar {
		for _, r := range fragment {
			s.queue = append(s.queue, string(r))
		}
	} else {
		s.queue = append(s.queue, fragment)
	}
	if !s.running {
		s.running = true
		s.stop = make(chan struct{})
		go s.pump(s.stop)
	}
	s.mu.Unlock()
}

// Finish releases everything still queued and stops the pump. Called on the
// terminal lifecycle event so the settled turn shows its full text.
func (s *Scheduler) Finish() {
	s.mu.Lock()
	for _, f := range s.queue {
		s.visible.WriteString(f)
	}
	s.queue = nil
	text := s.visible.String()
	s.stopLocked()
	s.mu.Unlock()
	s.publish(text)
}

// Reset discards the queue and the display buffer together and stops the
// pump. Partial reveal is never retained.
func (s *Scheduler) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queue = nil
	s.visible.Reset()
	s.dirty = false
	s.stopLocked()
}

// Visible returns the currently revealed text.
func (s *Scheduler) Visible() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.visible.String()
}

func (s *Scheduler) stopLocked() {
	if s.running {
		close(s.stop)
		s.running = false
	}
}

func (s *Scheduler) pump(stop chan struct{}) {
	release := time.NewTicker(s.cfg.Interval)
	frame := time.NewTicker(s.cfg.Frame)
	defer release.Stop()
	defer frame.Stop()

	for {
		select {
		case <-stop:
			return
		case <-release.C:
			s.mu.Lock()
			if len(s.queue) > 0 {
				s.visible.WriteString(s.queue[0])
				s.queue = s.queue[1:]
				s.dirty = true
			}
			s.mu.Unlock()
		case <-frame.C:
			s.mu.Lock()
			if !s.dirty {
				s.mu.Unlock()
				continue
			}
			s.dirty = false
			text := s.visible.String()
			s.mu.Unlock()
			s.publish(text)
		}
	}
}
