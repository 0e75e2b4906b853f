package cycle

import (
	"sync"
	"time"
)

// DefaultDebounce approximates one display frame: bursts of accumulator
// mutations inside this window collapse into a single projection.
const DefaultDebounce = 16 * time.Millisecond

// Recompute coalesces mutation notifications into at most one pending
// projection. The run callback reads the accumulator and publishes the new
// step list; it executes on the scheduler's timer goroutine.
type Recompute struct {
	mu       sync.Mutex
	debounce time.Duration
	run      func()
	timer    *time.Timer
	pending  bool
	stopped  bool
}

// NewRecompute creates a scheduler with the given debounce window. A zero
// or negative debounce falls back to the default frame window.
func NewRecompute(debounce time.Duration, run func()) *Recompute {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	return &Recompute{debounce: debounce, run: run}
}

// Notify schedules a projection. A mutation that arrives while one is
// already pending schedules nothing further.
func (r *Recompute) Notify() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.stopped || r.pending {
		return
	}
	r.pending = true
	r.timer = time.AfterFunc(r.debounce, r.fire)
}

func (r *Recompute) fire() {
	r.mu.Lock()
	if r.stopped {
		r.mu.Unlock()
		return
	}
	r.pending = false
	r.mu.Unlock()
	r.run()
}

// Stop cancels any pending projection. Used on cycle reset, stream error,
// and teardown so no orphaned callback mutates state afterwards.
func (r *Recompute) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stopped = true
	r.pending = false
	if r.timer != nil {
		r.timer.Stop()
	}
}
