package timeline

import (
	"reflect"
	"testing"
)

func reasoningEvent(text string) Event {
	return Event{Kind: EventReasoning, Data: map[string]any{"text": text}}
}

func toolEvent(callID, title, state string) Event {
	data := map[string]any{"call_id": callID}
	if title != "" {
		data["title"] = title
	}
	if state != "" {
		data["state"] = state
	}
	return Event{Kind: EventTool, Data: data}
}

func TestProjectIdempotent(t *testing.T) {
	events := []Event{
		reasoningEvent("considering "),
		reasoningEvent("options"),
		toolEvent("c1", "Web search", "in progress"),
		toolEvent("c1", "Web search", "done"),
	}
	metadata := map[string]any{"memory_context": "user prefers metric units"}

	first := Project(events, metadata, AgentGeneral, true)
	second := Project(events, metadata, AgentGeneral, true)

	if !reflect.DeepEqual(first, second) {
		t.Errorf("projection not idempotent:\nfirst:  %+v\nsecond: %+v", first, second)
	}
}

func TestProjectSeedsStepBeforeFirstEvent(t *testing.T) {
	steps := Project(nil, nil, AgentAnalysis, true)
	if len(steps) != 1 {
		t.Fatalf("expected 1 seeded step, got %d", len(steps))
	}
	if steps[0].Title != "Preparing analysis" {
		t.Errorf("expected seeded analysis step, got %q", steps[0].Title)
	}
	if steps[0].Status != StatusInProgress {
		t.Errorf("expected seeded step in progress, got %q", steps[0].Status)
	}
}

func TestProjectEmptyWhenSettledAndNoEvents(t *testing.T) {
	steps := Project(nil, nil, AgentGeneral, false)
	if len(steps) != 0 {
		t.Errorf("expected empty projection for settled turn, got %d steps", len(steps))
	}
}

func TestProjectCoalescesConsecutiveReasoning(t *testing.T) {
	events := []Event{
		reasoningEvent("first "),
		reasoningEvent("second"),
	}
	steps := Project(events, nil, AgentGeneral, true)

	var reasoning *Step
	for i := range steps {
		if steps[i].Title == "Reasoning" {
			reasoning = &steps[i]
		}
	}
	if reasoning == nil {
		t.Fatalf("no reasoning step in %+v", steps)
	}
	if reasoning.Details == nil || reasoning.Details.Text != "first second" {
		t.Errorf("expected coalesced text 'first second', got %+v", reasoning.Details)
	}
	count := 0
	for _, s := range steps {
		if s.Title == "Reasoning" {
			count++
		}
	}
	if count != 1 {
		t.Errorf("expected exactly one reasoning step, got %d", count)
	}
}

func TestProjectToolUpdatesInPlaceByCallID(t *testing.T) {
	events := []Event{
		toolEvent("c1", "Web search", "in progress"),
		reasoningEvent("reading results"),
		toolEvent("c1", "", "completed"),
	}
	steps := Project(events, nil, AgentGeneral, true)

	var tools []Step
	for _, s := range steps {
		if s.ID == "tool-c1" {
			tools = append(tools, s)
		}
	}
	if len(tools) != 1 {
		t.Fatalf("expected one tool step for call c1, got %d", len(tools))
	}
	if tools[0].Status != StatusCompleted {
		t.Errorf("expected tool step completed after update, got %q", tools[0].Status)
	}
	if tools[0].Title != "Web search" {
		t.Errorf("expected title preserved across update, got %q", tools[0].Title)
	}
}

func TestProjectMonotonicStatus(t *testing.T) {
	events := []Event{
		toolEvent("c1", "Web search", "done"),
	}
	before := Project(events, nil, AgentGeneral, true)

	events = append(events, reasoningEvent("now summarizing"))
	after := Project(events, nil, AgentGeneral, true)

	statuses := map[string]StepStatus{}
	for _, s := range before {
		statuses[s.ID] = s.Status
	}
	for _, s := range after {
		prev, ok := statuses[s.ID]
		if !ok || !prev.Terminal() {
			continue
		}
		if s.Status != prev {
			t.Errorf("step %s regressed from %q to %q", s.ID, prev, s.Status)
		}
	}
}

func TestProjectFailedStateFromProtocolText(t *testing.T) {
	events := []Event{toolEvent("c1", "Deploy", "tool failed: timeout")}
	steps := Project(events, nil, AgentGeneral, true)
	for _, s := range steps {
		if s.ID == "tool-c1" && s.Status != StatusFailed {
			t.Errorf("expected failed status, got %q", s.Status)
		}
	}
}

func TestProjectFiltersAnswerStep(t *testing.T) {
	events := []Event{
		reasoningEvent("thinking"),
		{Kind: EventAnswer},
	}
	for _, streaming := range []bool{true, false} {
		steps := Project(events, nil, AgentGeneral, streaming)
		for _, s := range steps {
			if s.Title == AnswerTitle {
				t.Errorf("answer step leaked into display (streaming=%v)", streaming)
			}
		}
	}
}

func TestProjectMetadataStepNeverOverwritesEventStep(t *testing.T) {
	events := []Event{
		{Kind: EventGeneric, Data: map[string]any{"title": "Memory recall", "text": "from event"}},
	}
	metadata := map[string]any{"memory_context": "from metadata"}
	steps := Project(events, metadata, AgentGeneral, true)

	count := 0
	for _, s := range steps {
		if s.Title == "Memory recall" {
			count++
			if s.Details == nil || s.Details.Text != "from event" {
				t.Errorf("metadata displaced event-driven step: %+v", s.Details)
			}
		}
	}
	if count != 1 {
		t.Errorf("expected one memory step, got %d", count)
	}
}

func TestProjectMetadataMemoryStep(t *testing.T) {
	metadata := map[string]any{"memory_context": "prior conversation about sync"}
	steps := Project(nil, metadata, AgentGeneral, false)
	found := false
	for _, s := range steps {
		if s.Title == "Memory recall" {
			found = true
			if s.Status != StatusCompleted {
				t.Errorf("expected synthetic memory step completed, got %q", s.Status)
			}
		}
	}
	if !found {
		t.Error("expected a memory recall step from metadata")
	}
}

func TestProjectUnknownKindPassesThrough(t *testing.T) {
	events := []Event{{Kind: "chart_spec", Data: map[string]any{"title": "Chart spec"}}}
	steps := Project(events, nil, AgentGeneral, true)
	found := false
	for _, s := range steps {
		if s.Title == "Chart spec" {
			found = true
		}
	}
	if !found {
		t.Errorf("unknown event kind dropped: %+v", steps)
	}
}

func TestInferStatus(t *testing.T) {
	tests := []struct {
		state string
		want  StepStatus
	}{
		{"completed", StatusCompleted},
		{"tool call failed", StatusFailed},
		{"internal error", StatusFailed},
		{"in progress", StatusInProgress},
		{"", StatusCompleted},
	}
	for _, tt := range tests {
		if got := InferStatus(tt.state); got != tt.want {
			t.Errorf("InferStatus(%q) = %q, want %q", tt.state, got, tt.want)
		}
	}
}

func TestHumanizeTitle(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"web_search", "Web search"},
		{"chart-spec", "Chart spec"},
		{"", "Working"},
	}
	for _, tt := range tests {
		if got := HumanizeTitle(tt.in); got != tt.want {
			t.Errorf("HumanizeTitle(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
