// Package stream defines the inbound chunk protocol and classifies raw
// chunks into the canonical forms the rest of the client consumes: text
// deltas, timeline events, metadata patches, and lifecycle signals.
//
// Information Hiding:
// - Wire payload decoding is validated here and nowhere else
// - Unknown chunk kinds degrade gracefully instead of crashing the reader

package stream

import "encoding/json"

// Chunk kind vocabulary of the inbound protocol. Producers may namespace
// structured payloads with a "data-" prefix; anything else unknown is
// tolerated and ignored.
const (
	KindStart           = "start"
	KindTextStart       = "text-start"
	KindTextDelta       = "text-delta"
	KindTextEnd         = "text-end"
	KindReasoning       = "reasoning"
	KindReasoningDelta  = "reasoning-delta"
	KindMessageMetadata = "message-metadata"
	KindFinish          = "finish"
	KindError           = "error"

	dataPrefix   = "data-"
	toolPrefix   = "tool-"
	sourcePrefix = "source-"
)

// Structured-data sub-kinds carried under the "data-" namespace.
const (
	DataToolResult = "data-tool-result"
	DataFollowUps  = "data-followups"
	DataReasoning  = "data-reasoning"
	DataInterrupt  = "data-interrupt"
	DataAnswer     = "data-answer"
)

// RawChunk is one unit of the inbound streaming protocol: a kind tag with a
// kind-specific payload left opaque until classification.
type RawChunk struct {
	Kind    string          `json:"kind"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// TextChunk builds a text-delta chunk. Used by producers (the development
// backend) and by tests.
func TextChunk(text string) RawChunk {
	payload, _ := json.Marshal(map[string]string{"text": text})
	return RawChunk{Kind: KindTextDelta, Payload: payload}
}

// DataChunk builds a structured-data chunk for the given sub-kind.
func DataChunk(kind string, payload map[string]any) RawChunk {
	raw, _ := json.Marshal(payload)
	return RawChunk{Kind: kind, Payload: raw}
}

// ErrorChunk builds an error chunk with a message payload.
func ErrorChunk(message string) RawChunk {
	payload, _ := json.Marshal(map[string]string{"message": message})
	return RawChunk{Kind: KindError, Payload: payload}
}
