// Package server implements the development backend: session storage over
// SQLite, the streaming chat endpoint, and a minimal agent-run surface with
// interrupt support. It exists so the client stack can be exercised
// end-to-end without a production deployment.
//
// Information Hiding:
// - Route layout and JSON wire shapes encapsulated here
// - SSE framing of the chunk stream hidden in the chat handler
// - Thread bookkeeping for runs hidden in the run table

package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/richinex/skein/llm"
	"github.com/richinex/skein/storage"
	"github.com/richinex/skein/timeline"
)

// Server is the development backend.
type Server struct {
	store    storage.SessionStore
	provider llm.Provider
	log      *slog.Logger
	runs     *runTable
}

// New creates a server over the given store and provider. A nil logger
// falls back to slog.Default.
func New(store storage.SessionStore, provider llm.Provider, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	return &Server{
		store:    store,
		provider: provider,
		log:      log,
		runs:     newRunTable(),
	}
}

// Handler returns the backend's HTTP handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/sessions", s.handleCreateSession)
	mux.HandleFunc("GET /v1/sessions", s.handleListSessions)
	mux.HandleFunc("POST /v1/sessions/{id}/messages", s.handlePostTurn)
	mux.HandleFunc("GET /v1/sessions/{id}/messages", s.handleListTurns)
	mux.HandleFunc("POST /v1/sessions/{id}/rename", s.handleRename)
	mux.HandleFunc("DELETE /v1/sessions/{id}", s.handleDeleteSession)
	mux.HandleFunc("POST /v1/chat", s.handleChat)
	mux.HandleFunc("POST /v1/run", s.handleRun)
	mux.HandleFunc("GET /v1/threads/{id}/state", s.handleThreadState)
	return mux
}

// Serve runs the backend at addr until ctx is canceled, then shuts down
// gracefully.
func (s *Server) Serve(ctx context.Context, addr string) error {
	httpServer := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		s.log.Info("backend listening", "addr", addr)
		if err := httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

type createSessionRequest struct {
	AgentCategory string `json:"agent_category"`
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	rec, err := s.store.CreateSession(r.Context(), req.AgentCategory)
	if err != nil {
		s.log.Error("create session failed", "error", err)
		http.Error(w, "create session failed", http.StatusInternalServerError)
		return
	}

	s.log.Info("session created", "session", rec.ID, "agent", rec.AgentCategory)
	writeJSON(w, http.StatusCreated, map[string]string{"id": rec.ID})
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	sessions, err := s.store.ListSessions(r.Context())
	if err != nil {
		s.log.Error("list sessions failed", "error", err)
		http.Error(w, "list sessions failed", http.StatusInternalServerError)
		return
	}

	summaries := make([]map[string]string, 0, len(sessions))
	for _, rec := range sessions {
		summaries = append(summaries, map[string]string{
			"id":             rec.ID,
			"agent_category": rec.AgentCategory,
			"title":          rec.Title,
			"updated_at":     rec.UpdatedAt,
		})
	}
	writeJSON(w, http.StatusOK, summaries)
}

type turnRequest struct {
	Role          string          `json:"role"`
	AgentCategory string          `json:"agent_category"`
	Content       string          `json:"content"`
	Timeline      json.RawMessage `json:"timeline,omitempty"`
	Metadata      map[string]any  `json:"metadata,omitempty"`
}

func (s *Server) handlePostTurn(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("id")

	var req turnRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Role == "" {
		http.Error(w, "role is required", http.StatusBadRequest)
		return
	}

	turn := storage.TurnRecord{
		Role:          req.Role,
		AgentCategory: req.AgentCategory,
		Content:       req.Content,
		Metadata:      req.Metadata,
	}
	if len(req.Timeline) > 0 {
		events, err := decodeTimeline(req.Timeline)
		if err != nil {
			http.Error(w, "invalid timeline payload", http.StatusBadRequest)
			return
		}
		turn.Timeline = events
	}

	stored, err := s.store.AppendTurn(r.Context(), sessionID, turn)
	if err != nil {
		s.log.Error("append turn failed", "session", sessionID, "error", err)
		http.Error(w, "append turn failed", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]any{"index": stored.Index})
}

func (s *Server) handleListTurns(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("id")
	limit := queryInt(r, "limit", 0)
	offset := queryInt(r, "offset", 0)

	exists, err := s.store.Exists(r.Context(), sessionID)
	if err != nil {
		s.log.Error("session lookup failed", "session", sessionID, "error", err)
		http.Error(w, "session lookup failed", http.StatusInternalServerError)
		return
	}
	if !exists {
		http.Error(w, "unknown session", http.StatusNotFound)
		return
	}

	turns, err := s.store.ListTurns(r.Context(), sessionID, limit, offset)
	if err != nil {
		s.log.Error("list turns failed", "session", sessionID, "error", err)
		http.Error(w, "list turns failed", http.StatusInternalServerError)
		return
	}

	payload := make([]map[string]any, 0, len(turns))
	for _, turn := range turns {
		payload = append(payload, map[string]any{
			"role":           turn.Role,
			"agent_category": turn.AgentCategory,
			"content":        turn.Content,
			"timeline":       turn.Timeline,
			"metadata":       turn.Metadata,
		})
	}
	writeJSON(w, http.StatusOK, payload)
}

type renameRequest struct {
	Title string `json:"title"`
}

func (s *Server) handleRename(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("id")

	var req renameRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	if err := s.store.RenameSession(r.Context(), sessionID, req.Title); err != nil {
		s.log.Warn("rename failed", "session", sessionID, "error", err)
		http.Error(w, "rename failed", http.StatusNotFound)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"id": sessionID, "title": req.Title})
}

func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("id")

	exists, err := s.store.Exists(r.Context(), sessionID)
	if err != nil {
		s.log.Error("session lookup failed", "session", sessionID, "error", err)
		http.Error(w, "session lookup failed", http.StatusInternalServerError)
		return
	}
	if !exists {
		http.Error(w, "unknown session", http.StatusNotFound)
		return
	}

	if err := s.store.DeleteSession(r.Context(), sessionID); err != nil {
		s.log.Error("delete session failed", "session", sessionID, "error", err)
		http.Error(w, "delete session failed", http.StatusInternalServerError)
		return
	}

	s.log.Info("session deleted", "session", sessionID)
	w.WriteHeader(http.StatusNoContent)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func queryInt(r *http.Request, key string, fallback int) int {
	value := r.URL.Query().Get(key)
	if value == "" {
		return fallback
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return n
}

func decodeTimeline(raw json.RawMessage) ([]timeline.Event, error) {
	return timeline.UnmarshalEvents(raw)
}
