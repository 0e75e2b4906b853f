package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/richinex/skein/llm"
	"github.com/richinex/skein/stream"
	"github.com/richinex/skein/timeline"
)

type chatRequest struct {
	SessionID     string            `json:"session_id,omitempty"`
	AgentCategory string            `json:"agent_category,omitempty"`
	Messages      []llm.ChatMessage `json:"messages"`
}

// handleChat streams one response cycle as server-sent events carrying the
// chunk protocol. The lifecycle is always bracketed: a start chunk first,
// and a finish (or error) chunk before the stream closes.
func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if len(req.Messages) == 0 {
		http.Error(w, "messages are required", http.StatusBadRequest)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	emit := func(chunk stream.RawChunk) {
		data, err := json.Marshal(chunk)
		if err != nil {
			return
		}
		fmt.Fprintf(w, "data: %s\n\n", data)
		flusher.Flush()
	}

	emit(stream.RawChunk{Kind: stream.KindStart})
	emit(stream.DataChunk(stream.KindMessageMetadata, s.chatMetadata(req)))
	emit(stream.DataChunk(stream.KindReasoning, map[string]any{
		"title": "Reasoning",
		"text":  "Reviewing the conversation before answering.",
	}))

	ctx := r.Context()
	deltas := make(chan string)
	done := make(chan error, 1)
	go func() {
		defer close(deltas)
		_, err := s.provider.StreamChat(ctx, req.Messages, deltas)
		done <- err
	}()

	emit(stream.RawChunk{Kind: stream.KindTextStart})
	var answer strings.Builder
	for delta := range deltas {
		answer.WriteString(delta)
		emit(stream.TextChunk(delta))
	}
	if err := <-done; err != nil {
		s.log.Error("provider stream failed", "provider", s.provider.Name(), "error", err)
		emit(stream.ErrorChunk("answer generation failed"))
		return
	}
	emit(stream.RawChunk{Kind: stream.KindTextEnd})

	emit(stream.DataChunk(stream.DataAnswer, map[string]any{
		"title": timeline.AnswerTitle,
		"text":  answer.String(),
	}))
	emit(stream.RawChunk{Kind: stream.KindFinish})
}

func (s *Server) chatMetadata(req chatRequest) map[string]any {
	metadata := map[string]any{
		"provider": s.provider.Name(),
		"model":    s.provider.Model(),
	}
	if req.AgentCategory != "" {
		metadata["agent"] = req.AgentCategory
	}
	if req.SessionID != "" {
		metadata["session_id"] = req.SessionID
	}
	return metadata
}
