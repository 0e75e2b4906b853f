package session

import (
	"context"
	"log/slog"
	"strings"

	"github.com/richinex/skein/cycle"
	"github.com/richinex/skein/timeline"
)

// Writer persists completed response cycles. Every backend failure is
// logged and swallowed: persistence must never break the conversation.
type Writer struct {
	backend Backend
	log     *slog.Logger
}

// NewWriter creates a writer over the given backend. A nil logger falls
// back to slog.Default.
func NewWriter(backend Backend, log *slog.Logger) *Writer {
	if log == nil {
		log = slog.Default()
	}
	return &Writer{backend: backend, log: log}
}

// Finalize persists one finished cycle: the user turn, a one-time rename for
// sessions created here, and the assistant turn when there is any answer
// text. Each cycle is written at most once; aborted cycles are skipped
// entirely. The cycle is reset afterwards regardless of backend outcome.
func (w *Writer) Finalize(ctx context.Context, id *Identity, c *cycle.Cycle, agentCategory, answer string) {
	snap := c.Snapshot()
	if snap.Aborted {
		return
	}
	if !c.MarkPersisted() {
		return
	}
	defer c.Reset()

	if id.PersistedID == "" {
		created, err := w.backend.Create(ctx, agentCategory)
		if err != nil {
			w.log.Warn("session create failed", "error", err)
			return
		}
		id.bind(created)
	}

	userText := strings.TrimSpace(snap.UserText)
	if err := w.backend.PostTurn(ctx, id.PersistedID, Turn{
		Role:          "user",
		AgentCategory: agentCategory,
		Content:       userText,
	}); err != nil {
		w.log.Warn("user turn write failed", "session", id.PersistedID, "error", err)
	}

	if id.claimRename() {
		title := DeriveTitle(userText)
		if err := w.backend.Rename(ctx, id.PersistedID, title); err != nil {
			w.log.Warn("session rename failed", "session", id.PersistedID, "error", err)
		}
	}

	content := strings.TrimSpace(answer)
	if content == "" {
		content = strings.TrimSpace(answerEvent(snap.Events))
	}
	if content == "" {
		return
	}
	if err := w.backend.PostTurn(ctx, id.PersistedID, Turn{
		Role:          "assistant",
		AgentCategory: agentCategory,
		Content:       content,
		Timeline:      snap.Events,
		Metadata:      snap.Metadata,
	}); err != nil {
		w.log.Warn("assistant turn write failed", "session", id.PersistedID, "error", err)
	}
}

// answerEvent returns the text of the last final-answer event, if any.
func answerEvent(events []timeline.Event) string {
	for i := len(events) - 1; i >= 0; i-- {
		if events[i].Kind != timeline.EventAnswer {
			continue
		}
		if text, ok := events[i].Data["text"].(string); ok && text != "" {
			return text
		}
	}
	return ""
}
