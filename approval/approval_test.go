package approval

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

type scriptedBackend struct {
	mu         sync.Mutex
	runs       []RunRequest
	runStates  []RunState
	runErr     error
	states     []RunState
	stateErrs  []error
	stateCalls atomic.Int64
}

var _ Backend = (*scriptedBackend)(nil)

func (s *scriptedBackend) Run(_ context.Context, req RunRequest) (RunState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runs = append(s.runs, req)
	if s.runErr != nil {
		return RunState{}, s.runErr
	}
	if len(s.runStates) == 0 {
		return RunState{Status: StatusCompleted, ThreadID: "t1"}, nil
	}
	next := s.runStates[0]
	s.runStates = s.runStates[1:]
	return next, nil
}

func (s *scriptedBackend) ThreadState(_ context.Context, threadID string) (RunState, error) {
	s.stateCalls.Add(1)
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.stateErrs) > 0 {
		err := s.stateErrs[0]
		s.stateErrs = s.stateErrs[1:]
		if err != nil {
			return RunState{}, err
		}
	}
	if len(s.states) == 0 {
		return RunState{Status: StatusInterrupted, ThreadID: threadID, Interrupts: []map[string]any{{"q": "ok?"}}}, nil
	}
	next := s.states[0]
	s.states = s.states[1:]
	return next, nil
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal("condition not reached in time")
}

func TestStartCompletedRunSettles(t *testing.T) {
	backend := &scriptedBackend{}
	var completed atomic.Int64
	c := NewCoordinator(backend, Listener{
		OnCompleted: func(string) { completed.Add(1) },
	}, time.Millisecond)

	if err := c.Start(context.Background(), "do the thing", nil); err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitFor(t, func() bool { return completed.Load() == 1 })
	waitFor(t, func() bool { return !c.Active() })

	if n := backend.stateCalls.Load(); n != 0 {
		t.Errorf("completed run polled thread state %d times", n)
	}
}

func TestStartRejectsConcurrentRun(t *testing.T) {
	backend := &scriptedBackend{
		runStates: []RunState{{Status: StatusInterrupted, ThreadID: "t1", Interrupts: []map[string]any{{"q": "?"}}}},
	}
	interrupted := make(chan struct{}, 1)
	c := NewCoordinator(backend, Listener{
		OnInterrupts: func(string, []map[string]any) {
			select {
			case interrupted <- struct{}{}:
			default:
			}
		},
	}, time.Hour)

	if err := c.Start(context.Background(), "first", nil); err != nil {
		t.Fatalf("Start: %v", err)
	}
	<-interrupted
	if err := c.Start(context.Background(), "second", nil); !errors.Is(err, ErrRunActive) {
		t.Fatalf("concurrent Start err = %v, want ErrRunActive", err)
	}
}

func TestResolveAcceptCompletesAndStopsPolling(t *testing.T) {
	backend := &scriptedBackend{
		runStates: []RunState{
			{Status: StatusInterrupted, ThreadID: "t1", Interrupts: []map[string]any{{"action": "delete"}}},
			{Status: StatusCompleted, ThreadID: "t1"},
		},
	}
	var completed atomic.Int64
	interrupted := make(chan struct{}, 1)
	c := NewCoordinator(backend, Listener{
		OnInterrupts: func(string, []map[string]any) {
			select {
			case interrupted <- struct{}{}:
			default:
			}
		},
		OnCompleted: func(string) { completed.Add(1) },
	}, time.Hour)

	if err := c.Start(context.Background(), "risky", nil); err != nil {
		t.Fatalf("Start: %v", err)
	}
	<-interrupted
	if err := c.Resolve(context.Background(), Decision{Type: DecisionAccept}); err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	waitFor(t, func() bool { return completed.Load() == 1 && !c.Active() })

	before := backend.stateCalls.Load()
	time.Sleep(20 * time.Millisecond)
	if after := backend.stateCalls.Load(); after != before {
		t.Errorf("thread state polled after completion: %d -> %d", before, after)
	}

	backend.mu.Lock()
	resume := backend.runs[1]
	backend.mu.Unlock()
	if resume.ThreadID != "t1" || resume.Resume == nil || resume.Resume.Type != DecisionAccept {
		t.Errorf("resume request = %+v", resume)
	}
}

func TestPollFailureIsSwallowed(t *testing.T) {
	backend := &scriptedBackend{
		runStates: []RunState{{Status: StatusInterrupted, ThreadID: "t1", Interrupts: []map[string]any{{"q": "?"}}}},
		stateErrs: []error{errors.New("backend hiccup"), errors.New("again")},
		states: []RunState{
			{Status: StatusCompleted, ThreadID: "t1"},
		},
	}
	var failed atomic.Int64
	var completed atomic.Int64
	c := NewCoordinator(backend, Listener{
		OnError:     func(error) { failed.Add(1) },
		OnCompleted: func(string) { completed.Add(1) },
	}, time.Millisecond)

	if err := c.Start(context.Background(), "go", nil); err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitFor(t, func() bool { return completed.Load() == 1 })

	if failed.Load() != 0 {
		t.Errorf("poll failures surfaced as errors %d times", failed.Load())
	}
}

func TestPollDetectsExternalSettlement(t *testing.T) {
	backend := &scriptedBackend{
		runStates: []RunState{{Status: StatusInterrupted, ThreadID: "t1", Interrupts: []map[string]any{{"q": "?"}}}},
		states: []RunState{
			{Status: StatusInterrupted, ThreadID: "t1"},
		},
	}
	var completed atomic.Int64
	c := NewCoordinator(backend, Listener{
		OnCompleted: func(string) { completed.Add(1) },
	}, time.Millisecond)

	if err := c.Start(context.Background(), "go", nil); err != nil {
		t.Fatalf("Start: %v", err)
	}
	// Interrupted status with zero open interrupts still closes the surface.
	waitFor(t, func() bool { return completed.Load() == 1 && !c.Active() })
}

// stalePollBackend gates its first ThreadState read so a poll can be caught
// in flight while a decision resumes the run; the gated read reports
// completed, every later read reports an open interrupt.
type stalePollBackend struct {
	first   atomic.Bool
	entered chan struct{}
	gate    chan struct{}
}

var _ Backend = (*stalePollBackend)(nil)

func (b *stalePollBackend) Run(_ context.Context, req RunRequest) (RunState, error) {
	q := "first?"
	if req.Resume != nil {
		q = "second?"
	}
	return RunState{Status: StatusInterrupted, ThreadID: "t1", Interrupts: []map[string]any{{"q": q}}}, nil
}

func (b *stalePollBackend) ThreadState(_ context.Context, threadID string) (RunState, error) {
	if b.first.CompareAndSwap(false, true) {
		b.entered <- struct{}{}
		<-b.gate
		return RunState{Status: StatusCompleted, ThreadID: threadID}, nil
	}
	return RunState{Status: StatusInterrupted, ThreadID: threadID, Interrupts: []map[string]any{{"q": "second?"}}}, nil
}

func TestStalePollCannotSettleResumedRun(t *testing.T) {
	backend := &stalePollBackend{
		entered: make(chan struct{}, 1),
		gate:    make(chan struct{}),
	}
	var completed atomic.Int64
	var interrupts atomic.Int64
	c := NewCoordinator(backend, Listener{
		OnInterrupts: func(string, []map[string]any) { interrupts.Add(1) },
		OnCompleted:  func(string) { completed.Add(1) },
	}, time.Millisecond)

	if err := c.Start(context.Background(), "risky", nil); err != nil {
		t.Fatalf("Start: %v", err)
	}
	<-backend.entered // a poll read is now blocked inside the backend

	// Resuming halts polling and opens a fresh interrupt set.
	if err := c.Resolve(context.Background(), Decision{Type: DecisionAccept}); err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	waitFor(t, func() bool { return interrupts.Load() >= 2 })

	// Release the stale read; its "completed" answer belongs to the round
	// the resume already superseded.
	close(backend.gate)
	time.Sleep(20 * time.Millisecond)

	if completed.Load() != 0 {
		t.Error("stale poll settled the resumed run")
	}
	if !c.Active() {
		t.Error("run slot released while an interrupt is still open")
	}
	if err := c.Resolve(context.Background(), Decision{Type: DecisionIgnore}); err != nil {
		t.Errorf("Resolve after stale poll: %v", err)
	}
}

func TestRunFailureReleasesSlot(t *testing.T) {
	backend := &scriptedBackend{runErr: errors.New("backend down")}
	var failed atomic.Int64
	c := NewCoordinator(backend, Listener{
		OnError: func(error) { failed.Add(1) },
	}, time.Millisecond)

	if err := c.Start(context.Background(), "go", nil); err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitFor(t, func() bool { return failed.Load() == 1 && !c.Active() })

	backend.mu.Lock()
	backend.runErr = nil
	backend.mu.Unlock()
	if err := c.Start(context.Background(), "retry", nil); err != nil {
		t.Fatalf("Start after failure: %v", err)
	}
}
