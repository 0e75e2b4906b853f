// Package approval coordinates agent runs that can pause for human
// decisions. A run either completes or interrupts; interrupted runs are
// polled for new interrupt payloads until the user resolves them or the
// thread settles.
//
// Information Hiding:
// - Polling cadence and goroutine lifecycle hidden inside Coordinator
// - Transport to the run backend hidden behind the Backend interface

package approval

import (
	"context"
	"errors"
	"sync"
	"time"
)

// DecisionType enumerates how a user resolves an interrupt.
type DecisionType string

const (
	DecisionAccept  DecisionType = "accept"
	DecisionIgnore  DecisionType = "ignore"
	DecisionRespond DecisionType = "respond"
	DecisionEdit    DecisionType = "edit"
)

// Decision is the user's resolution of one interrupt. Text carries the
// free-form reply for respond decisions; Action and Args carry the edited
// call for edit decisions.
type Decision struct {
	Type   DecisionType   `json:"type"`
	Text   string         `json:"text,omitempty"`
	Action string         `json:"action,omitempty"`
	Args   map[string]any `json:"args,omitempty"`
}

// Run terminal statuses.
const (
	StatusCompleted   = "completed"
	StatusInterrupted = "interrupted"
)

// RunRequest starts or resumes an agent run.
type RunRequest struct {
	Query      string         `json:"query,omitempty"`
	Attachment map[string]any `json:"attachment,omitempty"`
	ThreadID   string         `json:"thread_id,omitempty"`
	Resume     *Decision      `json:"resume,omitempty"`
}

// RunState is the backend's view of a run or thread.
type RunState struct {
	Status     string           `json:"status"`
	ThreadID   string           `json:"thread_id"`
	Interrupts []map[string]any `json:"interrupts,omitempty"`
}

// Backend is the run collaborator.
type Backend interface {
	// Run starts or resumes a run and blocks until it completes or interrupts.
	Run(ctx context.Context, req RunRequest) (RunState, error)
	// ThreadState reports the thread's current status and open interrupts.
	ThreadState(ctx context.Context, threadID string) (RunState, error)
}

// ErrRunActive is returned when a run is started while another is in flight.
var ErrRunActive = errors.New("approval: a run is already active")

// DefaultPollInterval is the cadence for re-checking an interrupted thread.
const DefaultPollInterval = 2500 * time.Millisecond

// Listener receives coordinator callbacks. Nil fields are skipped. Callbacks
// fire from the coordinator's goroutines; implementations must be safe to
// call off the UI thread.
type Listener struct {
	// OnInterrupts delivers the current open interrupts for the thread.
	OnInterrupts func(threadID string, interrupts []map[string]any)
	// OnCompleted fires when the run reaches a terminal completed state.
	OnCompleted func(threadID string)
	// OnError fires when starting or resuming a run fails outright.
	OnError func(err error)
}

func (l Listener) interrupts(threadID string, ints []map[string]any) {
	if l.OnInterrupts != nil {
		l.OnInterrupts(threadID, ints)
	}
}

func (l Listener) completed(threadID string) {
	if l.OnCompleted != nil {
		l.OnCompleted(threadID)
	}
}

func (l Listener) errored(err error) {
	if l.OnError != nil {
		l.OnError(err)
	}
}

// Coordinator drives the run lifecycle: start, surface interrupts, poll for
// changes, resume with decisions, and settle. At most one run is active at a
// time.
type Coordinator struct {
	backend  Backend
	listener Listener
	interval time.Duration

	mu       sync.Mutex
	active   bool
	threadID string
	stopPoll chan struct{}
}

// NewCoordinator creates a coordinator over the given backend. An interval
// of zero or less uses DefaultPollInterval.
func NewCoordinator(backend Backend, listener Listener, interval time.Duration) *Coordinator {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	return &Coordinator{backend: backend, listener: listener, interval: interval}
}

// Start launches a new run. It returns ErrRunActive if another run has not
// settled yet. The run executes asynchronously; outcomes arrive through the
// listener.
func (c *Coordinator) Start(ctx context.Context, query string, attachment map[string]any) error {
	c.mu.Lock()
	if c.active {
		c.mu.Unlock()
		return ErrRunActive
	}
	c.active = true
	c.mu.Unlock()

	go c.execute(ctx, RunRequest{Query: query, Attachment: attachment})
	return nil
}

// Resolve resumes the active interrupted run with the user's decision. The
// thread may complete or interrupt again; either outcome arrives through the
// listener.
func (c *Coordinator) Resolve(ctx context.Context, decision Decision) error {
	c.mu.Lock()
	if !c.active || c.threadID == "" {
		c.mu.Unlock()
		return errors.New("approval: no interrupted run to resolve")
	}
	threadID := c.threadID
	c.haltPollingLocked()
	c.mu.Unlock()

	go c.execute(ctx, RunRequest{ThreadID: threadID, Resume: &decision})
	return nil
}

// Active reports whether a run is currently in flight or interrupted.
func (c *Coordinator) Active() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active
}

// execute performs one run or resume round trip and routes the outcome.
func (c *Coordinator) execute(ctx context.Context, req RunRequest) {
	state, err := c.backend.Run(ctx, req)
	if err != nil {
		c.settle()
		c.listener.errored(err)
		return
	}
	switch state.Status {
	case StatusInterrupted:
		c.mu.Lock()
		c.threadID = state.ThreadID
		stop := make(chan struct{})
		c.stopPoll = stop
		c.mu.Unlock()
		c.listener.interrupts(state.ThreadID, state.Interrupts)
		go c.poll(ctx, state.ThreadID, stop)
	default:
		c.settle()
		c.listener.completed(state.ThreadID)
	}
}

// poll re-reads the thread state on a fixed cadence while interrupts remain
// open. Poll failures are transient and ignored; the next tick retries. A
// read that was in flight when a resume halted polling is stale: the resume
// round trip owns the outcome from then on, so the stale result is dropped.
func (c *Coordinator) poll(ctx context.Context, threadID string, stop chan struct{}) {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		state, err := c.backend.ThreadState(ctx, threadID)
		if err != nil {
			continue
		}
		if state.Status != StatusInterrupted || len(state.Interrupts) == 0 {
			if !c.settleFromPoll(stop) {
				return
			}
			c.listener.completed(threadID)
			return
		}
		if c.superseded(stop) {
			return
		}
		c.listener.interrupts(threadID, state.Interrupts)
	}
}

// settle releases the single-run slot and stops any poller.
func (c *Coordinator) settle() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.haltPollingLocked()
	c.active = false
	c.threadID = ""
}

// settleFromPoll settles only if this poller is still the current one. It
// reports false when a resume superseded the poller while its last read was
// in flight, in which case nothing is released.
func (c *Coordinator) settleFromPoll(stop chan struct{}) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stopPoll != stop {
		return false
	}
	c.haltPollingLocked()
	c.active = false
	c.threadID = ""
	return true
}

// superseded reports whether this poller has been replaced or halted.
func (c *Coordinator) superseded(stop chan struct{}) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stopPoll != stop
}

func (c *Coordinator) haltPollingLocked() {
	if c.stopPoll != nil {
		close(c.stopPoll)
		c.stopPoll = nil
	}
}
