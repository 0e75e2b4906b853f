package server

import (
	"encoding/json"
	"net/http"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/richinex/skein/approval"
)

// runTable tracks in-flight run threads and their open interrupts.
type runTable struct {
	mu      sync.Mutex
	threads map[string]*runThread
}

type runThread struct {
	status     string
	interrupts []map[string]any
}

func newRunTable() *runTable {
	return &runTable{threads: make(map[string]*runThread)}
}

func (t *runTable) create(interrupts []map[string]any) string {
	t.mu.Lock()
	defer t.mu.Unlock()
	id := uuid.NewString()
	t.threads[id] = &runThread{status: approval.StatusInterrupted, interrupts: interrupts}
	return id
}

func (t *runTable) get(id string) (approval.RunState, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	thread, ok := t.threads[id]
	if !ok {
		return approval.RunState{}, false
	}
	return approval.RunState{
		Status:     thread.status,
		ThreadID:   id,
		Interrupts: append([]map[string]any(nil), thread.interrupts...),
	}, true
}

// resolve applies one decision to the thread's first open interrupt and
// reports the resulting state.
func (t *runTable) resolve(id string) (approval.RunState, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	thread, ok := t.threads[id]
	if !ok {
		return approval.RunState{}, false
	}
	if len(thread.interrupts) > 0 {
		thread.interrupts = thread.interrupts[1:]
	}
	if len(thread.interrupts) == 0 {
		thread.status = approval.StatusCompleted
	}
	return approval.RunState{
		Status:     thread.status,
		ThreadID:   id,
		Interrupts: append([]map[string]any(nil), thread.interrupts...),
	}, true
}

// riskyActions extracts the operations in the query that need human
// approval before the run may proceed.
func riskyActions(query string) []map[string]any {
	lowered := strings.ToLower(query)
	var interrupts []map[string]any
	for _, verb := range []string{"delete", "drop", "remove", "wipe", "overwrite"} {
		if strings.Contains(lowered, verb) {
			interrupts = append(interrupts, map[string]any{
				"action":   verb,
				"question": "This run wants to " + verb + " data. Proceed?",
			})
		}
	}
	return interrupts
}

func (s *Server) handleRun(w http.ResponseWriter, r *http.Request) {
	var req approval.RunRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	// Resuming an interrupted thread with a decision.
	if req.Resume != nil {
		if req.ThreadID == "" {
			http.Error(w, "thread_id is required to resume", http.StatusBadRequest)
			return
		}
		state, ok := s.runs.resolve(req.ThreadID)
		if !ok {
			http.Error(w, "unknown thread", http.StatusNotFound)
			return
		}
		s.log.Info("run resumed", "thread", req.ThreadID,
			"decision", req.Resume.Type, "status", state.Status)
		writeJSON(w, http.StatusOK, state)
		return
	}

	if strings.TrimSpace(req.Query) == "" {
		http.Error(w, "query is required", http.StatusBadRequest)
		return
	}

	if interrupts := riskyActions(req.Query); len(interrupts) > 0 {
		threadID := s.runs.create(interrupts)
		s.log.Info("run interrupted", "thread", threadID, "interrupts", len(interrupts))
		writeJSON(w, http.StatusOK, approval.RunState{
			Status:     approval.StatusInterrupted,
			ThreadID:   threadID,
			Interrupts: interrupts,
		})
		return
	}

	threadID := uuid.NewString()
	s.log.Info("run completed", "thread", threadID)
	writeJSON(w, http.StatusOK, approval.RunState{
		Status:   approval.StatusCompleted,
		ThreadID: threadID,
	})
}

func (s *Server) handleThreadState(w http.ResponseWriter, r *http.Request) {
	threadID := r.PathValue("id")
	state, ok := s.runs.get(threadID)
	if !ok {
		http.Error(w, "unknown thread", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, state)
}
