// Package client talks to the skein backend over HTTP: session CRUD,
// agent runs, and the streaming chat endpoint.
//
// Information Hiding:
// - URL layout and JSON wire shapes encapsulated here
// - SSE framing of the chunk stream hidden behind OpenStream

package client

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/richinex/skein/approval"
	"github.com/richinex/skein/llm"
	"github.com/richinex/skein/session"
	"github.com/richinex/skein/stream"
)

// Client is an HTTP client for the skein backend. It implements both the
// session backend and the run backend collaborator interfaces.
type Client struct {
	baseURL string
	http    *http.Client
}

var (
	_ session.Backend  = (*Client)(nil)
	_ approval.Backend = (*Client)(nil)
)

// New creates a client for the backend at baseURL.
func New(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 60 * time.Second},
	}
}

// NewWithHTTPClient creates a client with a caller-supplied http.Client.
// The chat stream ignores the client timeout; everything else honors it.
func NewWithHTTPClient(baseURL string, httpClient *http.Client) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    httpClient,
	}
}

type createSessionRequest struct {
	AgentCategory string `json:"agent_category"`
}

type createSessionResponse struct {
	ID string `json:"id"`
}

// Create allocates a new session on the backend.
func (c *Client) Create(ctx context.Context, agentCategory string) (string, error) {
	var resp createSessionResponse
	err := c.postJSON(ctx, "/v1/sessions", createSessionRequest{AgentCategory: agentCategory}, &resp)
	if err != nil {
		return "", fmt.Errorf("create session failed: %w", err)
	}
	return resp.ID, nil
}

// PostTurn appends one turn to a session.
func (c *Client) PostTurn(ctx context.Context, sessionID string, turn session.Turn) error {
	path := "/v1/sessions/" + url.PathEscape(sessionID) + "/messages"
	if err := c.postJSON(ctx, path, turn, nil); err != nil {
		return fmt.Errorf("post turn failed: %w", err)
	}
	return nil
}

type renameRequest struct {
	Title string `json:"title"`
}

// Rename sets the session's display title.
func (c *Client) Rename(ctx context.Context, sessionID, title string) error {
	path := "/v1/sessions/" + url.PathEscape(sessionID) + "/rename"
	if err := c.postJSON(ctx, path, renameRequest{Title: title}, nil); err != nil {
		return fmt.Errorf("rename session failed: %w", err)
	}
	return nil
}

// ListTurns pages through a session's stored turns.
func (c *Client) ListTurns(ctx context.Context, sessionID string, limit, offset int) ([]session.Turn, error) {
	path := fmt.Sprintf("/v1/sessions/%s/messages?limit=%d&offset=%d",
		url.PathEscape(sessionID), limit, offset)
	var turns []session.Turn
	if err := c.getJSON(ctx, path, &turns); err != nil {
		return nil, fmt.Errorf("list turns failed: %w", err)
	}
	return turns, nil
}

// SessionSummary is one entry in the session list.
type SessionSummary struct {
	ID            string `json:"id"`
	AgentCategory string `json:"agent_category"`
	Title         string `json:"title"`
	UpdatedAt     string `json:"updated_at"`
}

// ListSessions returns all sessions, most recently active first.
func (c *Client) ListSessions(ctx context.Context) ([]SessionSummary, error) {
	var sessions []SessionSummary
	if err := c.getJSON(ctx, "/v1/sessions", &sessions); err != nil {
		return nil, fmt.Errorf("list sessions failed: %w", err)
	}
	return sessions, nil
}

// DeleteSession removes a session and all of its stored turns.
func (c *Client) DeleteSession(ctx context.Context, sessionID string) error {
	path := "/v1/sessions/" + url.PathEscape(sessionID)
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	if err := c.do(req, nil); err != nil {
		return fmt.Errorf("delete session failed: %w", err)
	}
	return nil
}

// Run starts or resumes an agent run and blocks until it completes or
// interrupts.
func (c *Client) Run(ctx context.Context, req approval.RunRequest) (approval.RunState, error) {
	var state approval.RunState
	if err := c.postJSON(ctx, "/v1/run", req, &state); err != nil {
		return approval.RunState{}, fmt.Errorf("run failed: %w", err)
	}
	return state, nil
}

// ThreadState reports a run thread's current status and open interrupts.
func (c *Client) ThreadState(ctx context.Context, threadID string) (approval.RunState, error) {
	path := "/v1/threads/" + url.PathEscape(threadID) + "/state"
	var state approval.RunState
	if err := c.getJSON(ctx, path, &state); err != nil {
		return approval.RunState{}, fmt.Errorf("thread state failed: %w", err)
	}
	return state, nil
}

// ChatRequest starts one streaming response cycle.
type ChatRequest struct {
	SessionID     string            `json:"session_id,omitempty"`
	AgentCategory string            `json:"agent_category,omitempty"`
	Messages      []llm.ChatMessage `json:"messages"`
}

// OpenStream posts a chat request and returns the backend's chunk stream.
// The channel closes when the stream ends; a transport fault mid-stream is
// surfaced as a final error chunk so the consumer sees a uniform protocol.
func (c *Client) OpenStream(ctx context.Context, req ChatRequest) (<-chan stream.RawChunk, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to encode chat request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/chat", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build chat request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")

	// No timeout here; the stream lives as long as the response cycle.
	resp, err := (&http.Client{Transport: c.transport()}).Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("chat request failed: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		return nil, fmt.Errorf("chat request failed: %s", readErrorBody(resp))
	}

	chunks := make(chan stream.RawChunk)
	go c.readStream(ctx, resp.Body, chunks)
	return chunks, nil
}

// readStream decodes SSE frames into chunks until the body ends.
func (c *Client) readStream(ctx context.Context, body io.ReadCloser, chunks chan<- stream.RawChunk) {
	defer close(chunks)
	defer body.Close()

	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		payload := strings.TrimPrefix(line, "data: ")

		var chunk stream.RawChunk
		if err := json.Unmarshal([]byte(payload), &chunk); err != nil {
			// A malformed frame is skipped; the stream continues.
			continue
		}
		select {
		case chunks <- chunk:
		case <-ctx.Done():
			return
		}
	}
	if err := scanner.Err(); err != nil {
		select {
		case chunks <- stream.ErrorChunk(fmt.Sprintf("stream transport failed: %v", err)):
		case <-ctx.Done():
		}
	}
}

func (c *Client) transport() http.RoundTripper {
	if c.http != nil && c.http.Transport != nil {
		return c.http.Transport
	}
	return http.DefaultTransport
}

func (c *Client) postJSON(ctx context.Context, path string, payload, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	return c.do(req, out)
}

func (c *Client) getJSON(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	return c.do(req, out)
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("backend returned %s", readErrorBody(resp))
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// readErrorBody summarizes an error response for wrapping. Bodies are
// truncated so huge error pages never flood logs.
func readErrorBody(resp *http.Response) string {
	data, err := io.ReadAll(io.LimitReader(resp.Body, 512))
	if err != nil || len(bytes.TrimSpace(data)) == 0 {
		return resp.Status
	}
	return fmt.Sprintf("%s: %s", resp.Status, bytes.TrimSpace(data))
}
