package stream

import (
	"encoding/json"
	"strings"

	"github.com/richinex/skein/timeline"
)

// Signal is a lifecycle transition extracted from the chunk stream.
type Signal int

const (
	// SignalNone means the chunk carried no lifecycle transition.
	SignalNone Signal = iota
	// SignalBegin marks the start of assistant output for the cycle.
	SignalBegin
	// SignalEnd marks the terminal lifecycle event of the cycle.
	SignalEnd
	// SignalError marks an unrecoverable stream fault; the cycle aborts.
	SignalError
)

// Classification is the normalized outcome for exactly one raw chunk. At
// most one of the content fields is populated per chunk.
type Classification struct {
	Signal    Signal
	TextDelta string
	Events    []timeline.Event
	Metadata  map[string]any
	ErrText   string
}

// Classify maps a raw chunk onto its canonical form. Pure: it holds no
// state and never fails — malformed payloads and unknown kinds degrade to
// an empty classification rather than breaking the subscription.
func Classify(c RawChunk) Classification {
	switch c.Kind {
	case KindStart, KindTextStart:
		return Classification{Signal: SignalBegin}
	case KindTextDelta:
		return Classification{TextDelta: textField(c.Payload, "text")}
	case KindTextEnd, KindFinish:
		return Classification{Signal: SignalEnd}
	case KindError:
		return Classification{Signal: SignalError, ErrText: textField(c.Payload, "message")}
	case KindReasoning, KindReasoningDelta:
		return Classification{Events: []timeline.Event{{
			Kind: timeline.EventReasoning,
			Data: map[string]any{"text": textField(c.Payload, "text")},
		}}}
	case KindMessageMetadata:
		return Classification{Metadata: decodeObject(c.Payload)}
	}

	switch {
	case strings.HasPrefix(c.Kind, toolPrefix):
		return Classification{Events: []timeline.Event{toolEvent(c)}}
	case strings.HasPrefix(c.Kind, sourcePrefix):
		return Classification{Events: []timeline.Event{sourceEvent(c)}}
	case strings.HasPrefix(c.Kind, dataPrefix):
		return classifyData(c)
	}

	// Unknown top-level kinds are future protocol: ignore, never crash.
	return Classification{}
}

func classifyData(c RawChunk) Classification {
	obj := decodeObject(c.Payload)
	switch c.Kind {
	case DataToolResult:
		return Classification{Events: []timeline.Event{toolEvent(c)}}
	case DataReasoning:
		return Classification{Events: []timeline.Event{{
			Kind: timeline.EventReasoning,
			Data: map[string]any{"text": textField(c.Payload, "text")},
		}}}
	case DataFollowUps:
		data := map[string]any{}
		if items, ok := obj["items"]; ok {
			data["items"] = items
		}
		data["state"] = "completed"
		return Classification{Events: []timeline.Event{{Kind: timeline.EventFollowUps, Data: data}}}
	case DataInterrupt:
		data := map[string]any{"state": "in progress"}
		for k, v := range obj {
			data[k] = v
		}
		return Classification{Events: []timeline.Event{{Kind: timeline.EventInterrupt, Data: data}}}
	case DataAnswer:
		return Classification{Events: []timeline.Event{{Kind: timeline.EventAnswer}}}
	}

	// Unknown sub-kinds pass through as a generically titled step so the
	// timeline degrades gracefully to protocol additions.
	subKind := strings.TrimPrefix(c.Kind, dataPrefix)
	data := map[string]any{"title": timeline.HumanizeTitle(subKind)}
	if text := textField(c.Payload, "text"); text != "" {
		data["text"] = text
	}
	return Classification{Events: []timeline.Event{{Kind: timeline.EventGeneric, Data: data}}}
}

func toolEvent(c RawChunk) timeline.Event {
	obj := decodeObject(c.Payload)
	data := map[string]any{}
	if name, ok := obj["tool"].(string); ok && name != "" {
		data["title"] = timeline.HumanizeTitle(name)
	}
	for _, key := range []string{"call_id", "state", "input", "output", "text"} {
		if v, ok := obj[key]; ok {
			data[key] = v
		}
	}
	return timeline.Event{Kind: timeline.EventTool, Data: data}
}

func sourceEvent(c RawChunk) timeline.Event {
	obj := decodeObject(c.Payload)
	data := map[string]any{"title": "Consulting sources"}
	if url, ok := obj["url"].(string); ok && url != "" {
		data["text"] = url
	}
	if state, ok := obj["state"]; ok {
		data["state"] = state
	}
	return timeline.Event{Kind: timeline.EventSource, Data: data}
}

func textField(payload json.RawMessage, key string) string {
	obj := decodeObject(payload)
	if s, ok := obj[key].(string); ok {
		return s
	}
	return ""
}

func decodeObject(payload json.RawMessage) map[string]any {
	if len(payload) == 0 {
		return map[string]any{}
	}
	var obj map[string]any
	if err := json.Unmarshal(payload, &obj); err != nil || obj == nil {
		return map[string]any{}
	}
	return obj
}
