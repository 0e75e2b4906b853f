// Package timeline derives the displayable work steps (reasoning, tool
// activity, memory lookups, follow-ups) for one response cycle from its
// append-only event record.
//
// Information Hiding:
// - Event-to-step mapping rules encapsulated in Project
// - Status inference heuristic hidden behind InferStatus
// - Events are never mutated; projection is a pure read

package timeline

import "encoding/json"

// Event kind vocabulary. Events are appended by the chunk classifier in
// arrival order and never reordered or removed within a cycle.
const (
	EventReasoning = "reasoning"
	EventTool      = "tool"
	EventSource    = "source"
	EventFollowUps = "followups"
	EventInterrupt = "interrupt"
	EventAnswer    = "answer"
	EventGeneric   = "generic"
)

// Event is one normalized record derived from the inbound chunk stream.
// Data keys used by the projector: "title", "text", "state", "call_id",
// "input", "output", "items".
type Event struct {
	Kind string         `json:"kind"`
	Data map[string]any `json:"data,omitempty"`
}

// Title returns the event's derived human-readable title, or "" if unset.
func (e Event) Title() string {
	return stringField(e.Data, "title")
}

// MarshalEvents encodes events as a JSON array for the durable turn payload.
func MarshalEvents(events []Event) ([]byte, error) {
	if len(events) == 0 {
		return []byte("[]"), nil
	}
	return json.Marshal(events)
}

// UnmarshalEvents decodes a durable turn payload back into events.
func UnmarshalEvents(data []byte) ([]Event, error) {
	if len(data) == 0 {
		return []Event{}, nil
	}
	var events []Event
	if err := json.Unmarshal(data, &events); err != nil {
		return nil, err
	}
	if events == nil {
		events = []Event{}
	}
	return events, nil
}

func stringField(data map[string]any, key string) string {
	if data == nil {
		return ""
	}
	if s, ok := data[key].(string); ok {
		return s
	}
	return ""
}
