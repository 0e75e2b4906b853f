package timeline

import (
	"fmt"
	"strings"
)

// Agent tags bias the projection with a seeded canonical step so the display
// has at least one step as soon as streaming begins.
const (
	AgentGeneral  = "general"
	AgentAnalysis = "analysis"
)

// AnswerTitle marks the synthetic completion step. It is kept in the event
// record but filtered from every projected list.
const AnswerTitle = "Answer"

// buildStep augments a Step with projection-internal bookkeeping.
type buildStep struct {
	step     Step
	explicit bool // status taken from protocol state text
	seeded   bool
}

// Project folds the event record of one cycle into an ordered step list.
//
// The function is pure and idempotent: identical inputs yield identical
// output, and projecting after one more event only appends new steps or
// advances trailing ones. A step that has reached completed or failed is
// never returned at an earlier status for the same cycle.
func Project(events []Event, metadata map[string]any, agentTag string, streaming bool) []Step {
	metaSteps := metadataSteps(metadata)
	if !streaming && len(events) == 0 && len(metaSteps) == 0 {
		return []Step{}
	}

	var steps []*buildStep
	for i, title := range seedTitles(agentTag) {
		steps = append(steps, &buildStep{
			step:   Step{ID: fmt.Sprintf("seed-%d", i), Title: title},
			seeded: true,
		})
	}

	byCall := make(map[string]*buildStep)
	next := 0
	for _, ev := range events {
		if ev.Kind == EventTool {
			callID := stringField(ev.Data, "call_id")
			if callID != "" {
				if bs, ok := byCall[callID]; ok {
					updateToolStep(bs, ev)
					continue
				}
			}
			bs := newEventStep(ev, fmt.Sprintf("step-%d", next))
			next++
			if callID != "" {
				bs.step.ID = "tool-" + callID
				byCall[callID] = bs
			}
			steps = append(steps, bs)
			continue
		}

		title := eventTitle(ev)
		if last := lastStep(steps); last != nil && !last.seeded && last.step.Title == title {
			extendText(last, stringField(ev.Data, "text"))
			if state := stringField(ev.Data, "state"); state != "" {
				advanceStatus(last, InferStatus(state))
			}
			continue
		}
		bs := newEventStep(ev, fmt.Sprintf("step-%d", next))
		next++
		steps = append(steps, bs)
	}

	// Metadata-derived steps go last so they can never displace an
	// event-driven step carrying the same title.
	for _, ms := range metaSteps {
		if !containsTitle(steps, ms.Title) {
			steps = append(steps, &buildStep{step: ms, explicit: true})
		}
	}

	resolveStatuses(steps, len(events), streaming)

	out := make([]Step, 0, len(steps))
	for _, bs := range steps {
		if bs.step.Title == AnswerTitle {
			continue
		}
		out = append(out, bs.step)
	}
	return out
}

func seedTitles(agentTag string) []string {
	switch agentTag {
	case AgentAnalysis:
		return []string{"Preparing analysis"}
	default:
		return []string{"Thinking"}
	}
}

func eventTitle(ev Event) string {
	if t := ev.Title(); t != "" {
		return t
	}
	switch ev.Kind {
	case EventReasoning:
		return "Reasoning"
	case EventSource:
		return "Consulting sources"
	case EventFollowUps:
		return "Suggested follow-ups"
	case EventInterrupt:
		return "Awaiting approval"
	case EventAnswer:
		return AnswerTitle
	default:
		return HumanizeTitle(ev.Kind)
	}
}

func newEventStep(ev Event, id string) *buildStep {
	bs := &buildStep{step: Step{ID: id, Title: eventTitle(ev)}}
	if text := stringField(ev.Data, "text"); text != "" {
		bs.step.Details = &StepDetails{Text: text}
	}
	if in := stringField(ev.Data, "input"); in != "" {
		ensureDetails(bs).Input = in
	}
	if out := stringField(ev.Data, "output"); out != "" {
		ensureDetails(bs).Output = out
	}
	if state := stringField(ev.Data, "state"); state != "" {
		bs.step.Status = InferStatus(state)
		bs.explicit = true
	}
	return bs
}

// updateToolStep folds a follow-up event for a known call id into the step
// created by the call's first event. Terminal statuses are never demoted.
func updateToolStep(bs *buildStep, ev Event) {
	if title := ev.Title(); title != "" {
		bs.step.Title = title
	}
	if in := stringField(ev.Data, "input"); in != "" {
		ensureDetails(bs).Input = in
	}
	if out := stringField(ev.Data, "output"); out != "" {
		ensureDetails(bs).Output = out
	}
	if text := stringField(ev.Data, "text"); text != "" {
		extendText(bs, text)
	}
	if state := stringField(ev.Data, "state"); state != "" {
		advanceStatus(bs, InferStatus(state))
	}
}

func advanceStatus(bs *buildStep, status StepStatus) {
	if bs.step.Status.Terminal() && !status.Terminal() {
		return
	}
	bs.step.Status = status
	bs.explicit = true
}

func extendText(bs *buildStep, text string) {
	if text == "" {
		return
	}
	d := ensureDetails(bs)
	d.Text += text
}

func ensureDetails(bs *buildStep) *StepDetails {
	if bs.step.Details == nil {
		bs.step.Details = &StepDetails{}
	}
	return bs.step.Details
}

func lastStep(steps []*buildStep) *buildStep {
	if len(steps) == 0 {
		return nil
	}
	return steps[len(steps)-1]
}

func containsTitle(steps []*buildStep, title string) bool {
	for _, bs := range steps {
		if bs.step.Title == title {
			return true
		}
	}
	return false
}

// resolveStatuses fills in defaults for steps with no protocol-provided
// state: seeded steps complete once real events arrive, and only the
// trailing step of a still-streaming cycle is shown in progress.
func resolveStatuses(steps []*buildStep, eventCount int, streaming bool) {
	for i, bs := range steps {
		if bs.explicit {
			continue
		}
		switch {
		case bs.seeded:
			if eventCount > 0 || !streaming {
				bs.step.Status = StatusCompleted
			} else {
				bs.step.Status = StatusInProgress
			}
		case i == len(steps)-1 && streaming:
			bs.step.Status = StatusInProgress
		default:
			bs.step.Status = StatusCompleted
		}
	}
}

// metadataSteps turns out-of-band snapshot entries into synthetic steps.
// A memory-context snippet surfaces as an already-completed recall step.
func metadataSteps(metadata map[string]any) []Step {
	if metadata == nil {
		return nil
	}
	var steps []Step
	if snippet, ok := metadata["memory_context"].(string); ok && strings.TrimSpace(snippet) != "" {
		steps = append(steps, Step{
			ID:      "meta-memory",
			Title:   "Memory recall",
			Status:  StatusCompleted,
			Details: &StepDetails{Text: snippet},
		})
	}
	return steps
}
