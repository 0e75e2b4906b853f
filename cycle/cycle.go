// Package cycle owns the ephemeral state of one user-turn/assistant-turn
// exchange: the append-only event buffer, the merged metadata snapshot, the
// active agent tag, and the lifecycle latches the persistence writer relies
// on. A fresh Cycle is created per send; no event ever crosses cycles.
//
// Information Hiding:
// - Buffer and snapshot mutation guarded by one mutex, exposed only as copies
// - Agent-tag switching rules live here, not in the classifier

package cycle

import (
	"maps"
	"sync"

	"github.com/richinex/skein/timeline"
)

// Snapshot is a point-in-time copy of a cycle for the projector and, at
// cycle end, for the persistence writer. The copies are safe to retain.
type Snapshot struct {
	UserText  string
	Events    []timeline.Event
	Metadata  map[string]any
	AgentTag  string
	Streaming bool
	Aborted   bool
}

// Cycle accumulates the state of one in-flight exchange.
type Cycle struct {
	mu          sync.Mutex
	userText    string
	events      []timeline.Event
	metadata    map[string]any
	agentTag    string
	tagExplicit bool
	streaming   bool
	aborted     bool
	persisted   bool
}

// New creates a cycle for the given raw user input.
func New(userText string) *Cycle {
	return &Cycle{
		userText: userText,
		metadata: make(map[string]any),
		agentTag: timeline.AgentGeneral,
	}
}

// Begin marks assistant output as streaming.
func (c *Cycle) Begin() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.streaming = true
}

// End marks the terminal lifecycle event. The event buffer stays intact for
// projection and persistence.
func (c *Cycle) End() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.streaming = false
}

// Abort marks the cycle as errored; the persistence writer skips aborted
// cycles entirely.
func (c *Cycle) Abort() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.streaming = false
	c.aborted = true
}

// Append adds classified events in arrival order.
func (c *Cycle) Append(events ...timeline.Event) {
	if len(events) == 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, events...)
}

// MergeMetadata shallow-merges a snapshot over the accumulated one. The
// presence of analysis-specific fields switches the agent tag to the
// specialized one, but only when no explicit tag has been set yet; an
// explicit "agent" field always wins and latches.
func (c *Cycle) MergeMetadata(patch map[string]any) {
	if len(patch) == 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	maps.Copy(c.metadata, patch)

	if tag, ok := patch["agent"].(string); ok && tag != "" {
		c.agentTag = tag
		c.tagExplicit = true
		return
	}
	if c.tagExplicit {
		return
	}
	if _, ok := patch["analysis_depth"]; ok {
		c.agentTag = timeline.AgentAnalysis
	} else if _, ok := patch["analysis"]; ok {
		c.agentTag = timeline.AgentAnalysis
	}
}

// Snapshot returns a consistent copy of the cycle state.
func (c *Cycle) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	events := make([]timeline.Event, len(c.events))
	copy(events, c.events)
	metadata := make(map[string]any, len(c.metadata))
	maps.Copy(metadata, c.metadata)
	return Snapshot{
		UserText:  c.userText,
		Events:    events,
		Metadata:  metadata,
		AgentTag:  c.agentTag,
		Streaming: c.streaming,
		Aborted:   c.aborted,
	}
}

// Project runs the timeline projection over the current state.
func (c *Cycle) Project() []timeline.Step {
	s := c.Snapshot()
	return timeline.Project(s.Events, s.Metadata, s.AgentTag, s.Streaming)
}

// MarkPersisted latches the cycle against duplicate persistence. Returns
// false if the cycle was already persisted.
func (c *Cycle) MarkPersisted() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.persisted {
		return false
	}
	c.persisted = true
	return true
}

// Reset clears the accumulated state after persistence has been attempted.
func (c *Cycle) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = nil
	c.metadata = make(map[string]any)
	c.agentTag = timeline.AgentGeneral
	c.tagExplicit = false
	c.streaming = false
}
