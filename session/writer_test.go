package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/richinex/skein/cycle"
	"github.com/richinex/skein/timeline"
)

type fakeBackend struct {
	created    int
	turns      []Turn
	renames    []string
	createErr  error
	turnErr    error
	renameErr  error
	nextID     string
	turnTarget []string
}

var _ Backend = (*fakeBackend)(nil)

func (f *fakeBackend) Create(_ context.Context, _ string) (string, error) {
	if f.createErr != nil {
		return "", f.createErr
	}
	f.created++
	if f.nextID == "" {
		return fmt.Sprintf("session-%d", f.created), nil
	}
	return f.nextID, nil
}

func (f *fakeBackend) PostTurn(_ context.Context, sessionID string, turn Turn) error {
	if f.turnErr != nil {
		return f.turnErr
	}
	f.turns = append(f.turns, turn)
	f.turnTarget = append(f.turnTarget, sessionID)
	return nil
}

func (f *fakeBackend) Rename(_ context.Context, _, title string) error {
	if f.renameErr != nil {
		return f.renameErr
	}
	f.renames = append(f.renames, title)
	return nil
}

func (f *fakeBackend) ListTurns(_ context.Context, _ string, _, _ int) ([]Turn, error) {
	return f.turns, nil
}

func finishedCycle(userText, answer string) *cycle.Cycle {
	c := cycle.New(userText)
	c.Begin()
	if answer != "" {
		c.Append(timeline.Event{Kind: timeline.EventAnswer, Data: map[string]any{"text": answer}})
	}
	c.End()
	return c
}

func TestFinalizeWritesBothTurnsOnce(t *testing.T) {
	backend := &fakeBackend{}
	w := NewWriter(backend, nil)
	id := NewIdentity()
	c := finishedCycle("  hello there  ", "hi!")

	w.Finalize(context.Background(), id, c, "general", "hi!")
	w.Finalize(context.Background(), id, c, "general", "hi!")

	if backend.created != 1 {
		t.Fatalf("created = %d, want 1", backend.created)
	}
	if len(backend.turns) != 2 {
		t.Fatalf("turns = %d, want 2", len(backend.turns))
	}
	if backend.turns[0].Role != "user" || backend.turns[0].Content != "hello there" {
		t.Errorf("user turn = %+v", backend.turns[0])
	}
	if backend.turns[1].Role != "assistant" || backend.turns[1].Content != "hi!" {
		t.Errorf("assistant turn = %+v", backend.turns[1])
	}
	if id.PersistedID == "" {
		t.Error("identity not bound to persisted session")
	}
}

func TestFinalizeRenamesOnlyFirstCycle(t *testing.T) {
	backend := &fakeBackend{}
	w := NewWriter(backend, nil)
	id := NewIdentity()

	w.Finalize(context.Background(), id, finishedCycle("first question", "a"), "general", "a")
	w.Finalize(context.Background(), id, finishedCycle("second question", "b"), "general", "b")

	if backend.created != 1 {
		t.Fatalf("created = %d, want 1", backend.created)
	}
	if len(backend.renames) != 1 {
		t.Fatalf("renames = %v, want exactly one", backend.renames)
	}
	if backend.renames[0] != "first question" {
		t.Errorf("title = %q, want %q", backend.renames[0], "first question")
	}
}

func TestFinalizeRenameFailureStillLatches(t *testing.T) {
	backend := &fakeBackend{renameErr: errors.New("rename refused")}
	w := NewWriter(backend, nil)
	id := NewIdentity()

	w.Finalize(context.Background(), id, finishedCycle("first", "a"), "general", "a")
	backend.renameErr = nil
	w.Finalize(context.Background(), id, finishedCycle("second", "b"), "general", "b")

	if len(backend.renames) != 0 {
		t.Fatalf("renames = %v, want none after failed first attempt", backend.renames)
	}
	if len(backend.turns) != 4 {
		t.Errorf("turns = %d, want 4", len(backend.turns))
	}
}

func TestFinalizeResumedSessionNeverRenamed(t *testing.T) {
	backend := &fakeBackend{}
	w := NewWriter(backend, nil)
	id := Resume("session-9")

	w.Finalize(context.Background(), id, finishedCycle("continuing here", "ok"), "general", "ok")

	if backend.created != 0 {
		t.Errorf("created = %d, want 0 for resumed session", backend.created)
	}
	if len(backend.renames) != 0 {
		t.Errorf("renames = %v, want none", backend.renames)
	}
	if len(backend.turnTarget) == 0 || backend.turnTarget[0] != "session-9" {
		t.Errorf("turn targets = %v, want session-9", backend.turnTarget)
	}
}

func TestFinalizeSkipsAbortedCycle(t *testing.T) {
	backend := &fakeBackend{}
	w := NewWriter(backend, nil)
	id := NewIdentity()
	c := cycle.New("doomed")
	c.Begin()
	c.Abort()

	w.Finalize(context.Background(), id, c, "general", "")

	if backend.created != 0 || len(backend.turns) != 0 {
		t.Errorf("aborted cycle persisted: created=%d turns=%d", backend.created, len(backend.turns))
	}
}

func TestFinalizeOmitsEmptyAssistantTurn(t *testing.T) {
	backend := &fakeBackend{}
	w := NewWriter(backend, nil)
	id := NewIdentity()

	w.Finalize(context.Background(), id, finishedCycle("question", ""), "general", "   ")

	if len(backend.turns) != 1 {
		t.Fatalf("turns = %d, want only the user turn", len(backend.turns))
	}
	if backend.turns[0].Role != "user" {
		t.Errorf("role = %q, want user", backend.turns[0].Role)
	}
}

func TestFinalizeFallsBackToAnswerEvent(t *testing.T) {
	backend := &fakeBackend{}
	w := NewWriter(backend, nil)
	id := NewIdentity()

	w.Finalize(context.Background(), id, finishedCycle("q", "from the event"), "general", "")

	if len(backend.turns) != 2 {
		t.Fatalf("turns = %d, want 2", len(backend.turns))
	}
	if backend.turns[1].Content != "from the event" {
		t.Errorf("assistant content = %q", backend.turns[1].Content)
	}
}

func TestFinalizeBackendFailureIsNonFatal(t *testing.T) {
	backend := &fakeBackend{turnErr: errors.New("store down")}
	w := NewWriter(backend, nil)
	id := NewIdentity()
	c := finishedCycle("question", "answer")

	w.Finalize(context.Background(), id, c, "general", "answer")

	snap := c.Snapshot()
	if len(snap.Events) != 0 {
		t.Errorf("cycle not reset after failed persistence: %d events remain", len(snap.Events))
	}
}

func TestDeriveTitle(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"short passes through", "fix the login bug", "fix the login bug"},
		{"whitespace collapses", "  fix\n\tthe   login bug ", "fix the login bug"},
		{"empty falls back", "   ", untitledSession},
		{
			"long input truncated",
			"   please   fix   the sync issue across all twelve connected accounts now",
			"please fix the sync issue across all ...",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := DeriveTitle(tt.in)
			if got != tt.want {
				t.Errorf("DeriveTitle(%q) = %q, want %q", tt.in, got, tt.want)
			}
			if n := len([]rune(got)); n > 40 {
				t.Errorf("title %q is %d runes, want <= 40", got, n)
			}
		})
	}
}

func TestDeriveTitleExactBoundary(t *testing.T) {
	exact := strings.Repeat("a", 40)
	if got := DeriveTitle(exact); got != exact {
		t.Errorf("40-rune title modified: %q", got)
	}
	over := strings.Repeat("b", 41)
	want := strings.Repeat("b", 37) + "..."
	if got := DeriveTitle(over); got != want {
		t.Errorf("41-rune title = %q, want %q", got, want)
	}
}
