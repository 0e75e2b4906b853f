// Package tui is the terminal chat surface. It owns the single UI loop:
// every scheduler and stream goroutine publishes into one inbound channel,
// and all state mutation happens inside Update.
//
// Information Hiding:
// - Streaming, projection, reveal, and persistence plumbing hidden behind
//   bubbletea messages
// - Interrupt decisions delegated to approval.ParseDecision

package tui

import (
	"context"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/richinex/skein/approval"
	"github.com/richinex/skein/client"
	"github.com/richinex/skein/config"
	"github.com/richinex/skein/cycle"
	"github.com/richinex/skein/llm"
	"github.com/richinex/skein/reveal"
	"github.com/richinex/skein/session"
	"github.com/richinex/skein/stream"
	"github.com/richinex/skein/timeline"
)

// Messages delivered to Update. Everything that crosses a goroutine
// boundary arrives as one of these.
type (
	chunkMsg        stream.RawChunk
	streamClosedMsg struct{}
	streamFailedMsg struct{ err error }
	revealMsg       string
	projectMsg      []timeline.Step
	finalizedMsg    struct{ user string }

	interruptsMsg struct {
		threadID   string
		interrupts []map[string]any
	}
	runCompletedMsg struct{ threadID string }
	runFailedMsg    struct{ err error }
)

// Model is the bubbletea model for the chat surface.
type Model struct {
	backend     *client.Client
	writer      *session.Writer
	identity    *session.Identity
	coordinator *approval.Coordinator
	cfg         config.ClientConfig

	cur       *cycle.Cycle
	recompute *cycle.Recompute
	revealer  *reveal.Scheduler

	inbound chan tea.Msg

	chunks     <-chan stream.RawChunk
	prior      []session.Turn
	history    []llm.ChatMessage
	steps      []timeline.Step
	visible    string
	interrupts []map[string]any
	threadID   string

	input      textinput.Model
	transcript viewport.Model
	spinner    spinner.Model
	theme      theme

	agentCategory string
	streaming     bool
	status        string
	errText       string
	width         int
	height        int
}

// New wires the chat surface over the given backend.
func New(backend *client.Client, cfg config.ClientConfig) *Model {
	input := textinput.New()
	input.Prompt = "❯ "
	input.CharLimit = 4000
	input.Placeholder = "Ask anything. /run <task> starts an approval-gated run."
	input.Focus()

	sp := spinner.New()
	sp.Spinner = spinner.Points
	sp.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("#05ffa1"))

	transcript := viewport.New(0, 0)
	transcript.MouseWheelEnabled = true

	m := &Model{
		backend:       backend,
		writer:        session.NewWriter(backend, nil),
		identity:      session.NewIdentity(),
		cfg:           cfg,
		inbound:       make(chan tea.Msg, 256),
		input:         input,
		transcript:    transcript,
		spinner:       sp,
		theme:         newTheme(),
		agentCategory: timeline.AgentGeneral,
		status:        "ready",
	}

	m.revealer = reveal.NewScheduler(cfg.RevealConfig(), func(text string) {
		m.publish(revealMsg(text))
	})
	m.coordinator = approval.NewCoordinator(backend, approval.Listener{
		OnInterrupts: func(threadID string, interrupts []map[string]any) {
			m.publish(interruptsMsg{threadID: threadID, interrupts: interrupts})
		},
		OnCompleted: func(threadID string) {
			m.publish(runCompletedMsg{threadID: threadID})
		},
		OnError: func(err error) {
			m.publish(runFailedMsg{err: err})
		},
	}, cfg.PollInterval)

	return m
}

// Resume points the surface at an existing session. Prior turns seed both
// the rendered transcript and the history sent with the next request.
// Resumed sessions keep their title; no rename happens on later cycles.
func (m *Model) Resume(sessionID string, turns []session.Turn) {
	m.identity = session.Resume(sessionID)
	m.prior = turns
	m.history = m.history[:0]
	for _, t := range turns {
		m.history = append(m.history, llm.ChatMessage{Role: t.Role, Content: t.Content})
	}
	m.status = fmt.Sprintf("resumed session %s", sessionID)
}

// publish hands a message to the UI loop without blocking the caller. A
// full inbound queue drops the message; the next publish repaints anyway.
func (m *Model) publish(msg tea.Msg) {
	select {
	case m.inbound <- msg:
	default:
	}
}

func waitInbound(ch <-chan tea.Msg) tea.Cmd {
	return func() tea.Msg {
		return <-ch
	}
}

// waitChunk reads one chunk from the stream; a closed channel ends the
// read loop.
func waitChunk(chunks <-chan stream.RawChunk) tea.Cmd {
	return func() tea.Msg {
		chunk, ok := <-chunks
		if !ok {
			return streamClosedMsg{}
		}
		return chunkMsg(chunk)
	}
}

type streamOpenedMsg struct {
	chunks <-chan stream.RawChunk
}

// openStreamCmd opens the chat stream for the cycle just begun. The user
// message is already the last history entry.
func (m *Model) openStreamCmd() tea.Cmd {
	backend := m.backend
	req := client.ChatRequest{
		SessionID:     m.identity.PersistedID,
		AgentCategory: m.agentCategory,
		Messages:      append([]llm.ChatMessage(nil), m.history...),
	}
	return func() tea.Msg {
		chunks, err := backend.OpenStream(context.Background(), req)
		if err != nil {
			return streamFailedMsg{err: err}
		}
		return streamOpenedMsg{chunks: chunks}
	}
}

func (m *Model) finalizeCmd() tea.Cmd {
	writer := m.writer
	identity := m.identity
	cur := m.cur
	category := m.agentCategory
	answer := m.revealer.Visible()
	user := cur.Snapshot().UserText
	return func() tea.Msg {
		writer.Finalize(context.Background(), identity, cur, category, answer)
		return finalizedMsg{user: user}
	}
}

// Init implements tea.Model.
func (m *Model) Init() tea.Cmd {
	return tea.Batch(
		m.spinner.Tick,
		textinput.Blink,
		waitInbound(m.inbound),
	)
}

// Update implements tea.Model.
func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.transcript.Width = msg.Width
		m.transcript.Height = max(msg.Height-6, 3)
		return m, nil

	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyCtrlC, tea.KeyEsc:
			m.revealer.Reset()
			m.recomputeStop()
			return m, tea.Quit
		case tea.KeyEnter:
			return m.submit()
		}

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case streamOpenedMsg:
		m.status = "streaming"
		m.chunks = msg.chunks
		return m, waitChunk(m.chunks)

	case streamFailedMsg:
		m.cur.Abort()
		m.streaming = false
		m.errText = msg.err.Error()
		m.status = "error"
		return m, nil

	case chunkMsg:
		cmds := m.applyChunk(stream.RawChunk(msg))
		return m, tea.Batch(cmds...)

	case streamClosedMsg:
		// The terminal chunk normally lands first; an abrupt close without
		// one ends the cycle the same way.
		if m.streaming {
			return m, m.endCycle()
		}
		return m, nil

	case revealMsg:
		// A reveal published before an abort may still be queued; the
		// discarded partial text must not repaint.
		if m.cur != nil && m.cur.Snapshot().Aborted {
			return m, waitInbound(m.inbound)
		}
		m.visible = string(msg)
		m.refreshTranscript()
		return m, waitInbound(m.inbound)

	case projectMsg:
		m.steps = []timeline.Step(msg)
		m.refreshTranscript()
		return m, waitInbound(m.inbound)

	case finalizedMsg:
		if msg.user != "" {
			m.prior = append(m.prior, session.Turn{Role: "user", Content: msg.user})
		}
		if m.visible != "" {
			m.history = append(m.history, llm.AssistantMessage(m.visible))
			m.prior = append(m.prior, session.Turn{Role: "assistant", Content: m.visible})
		}
		m.status = "ready"
		return m, nil

	case interruptsMsg:
		m.threadID = msg.threadID
		m.interrupts = msg.interrupts
		m.status = "waiting for approval"
		return m, waitInbound(m.inbound)

	case runCompletedMsg:
		m.interrupts = nil
		m.threadID = ""
		m.status = "run completed"
		return m, waitInbound(m.inbound)

	case runFailedMsg:
		m.interrupts = nil
		m.threadID = ""
		m.errText = msg.err.Error()
		m.status = "run failed"
		return m, waitInbound(m.inbound)
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

// submit handles Enter: an interrupt decision when one is pending, a /run
// command, or a plain chat message.
func (m *Model) submit() (tea.Model, tea.Cmd) {
	text := strings.TrimSpace(m.input.Value())
	if text == "" {
		return m, nil
	}
	m.input.Reset()

	if len(m.interrupts) > 0 {
		decision, err := approval.ParseDecision(text)
		if err != nil {
			m.errText = err.Error()
			return m, nil
		}
		m.interrupts = nil
		m.status = "resuming run"
		if err := m.coordinator.Resolve(context.Background(), decision); err != nil {
			m.errText = err.Error()
		}
		return m, nil
	}

	if task, ok := strings.CutPrefix(text, "/run "); ok {
		if err := m.coordinator.Start(context.Background(), strings.TrimSpace(task), nil); err != nil {
			m.errText = err.Error()
			return m, nil
		}
		m.status = "running"
		m.errText = ""
		return m, nil
	}

	if m.streaming {
		m.errText = "a response is already streaming"
		return m, nil
	}

	m.beginCycle(text)
	return m, m.openStreamCmd()
}

// beginCycle resets per-cycle state for a fresh send.
func (m *Model) beginCycle(userText string) {
	m.recomputeStop()
	cur := cycle.New(userText)
	m.cur = cur
	// The closure runs on the timer goroutine; it must project the cycle it
	// was armed for, never whatever m.cur points at by then.
	m.recompute = cycle.NewRecompute(m.cfg.FrameInterval, func() {
		m.publish(projectMsg(cur.Project()))
	})
	m.revealer.Reset()
	m.visible = ""
	m.steps = nil
	m.errText = ""
	m.streaming = true
	m.status = "sending"
	m.history = append(m.history, llm.UserMessage(userText))
}

func (m *Model) recomputeStop() {
	if m.recompute != nil {
		m.recompute.Stop()
	}
}

// applyChunk routes one classified chunk into the accumulator and the
// schedulers, returning the commands that keep both loops armed.
func (m *Model) applyChunk(chunk stream.RawChunk) []tea.Cmd {
	cls := stream.Classify(chunk)
	cmds := []tea.Cmd{nil}

	switch cls.Signal {
	case stream.SignalBegin:
		m.cur.Begin()
		m.recompute.Notify()
	case stream.SignalEnd:
		cmds = append(cmds, m.endCycle())
	case stream.SignalError:
		// Partial text is discarded, never flushed; the timeline stays as
		// accumulated for inspection but no further recompute is scheduled.
		m.cur.Abort()
		m.streaming = false
		m.errText = cls.ErrText
		m.status = "error"
		m.revealer.Reset()
		m.visible = ""
		m.recompute.Stop()
		m.refreshTranscript()
	}

	if cls.TextDelta != "" {
		m.revealer.Enqueue(cls.TextDelta)
	}
	if len(cls.Events) > 0 {
		m.cur.Append(cls.Events...)
		m.recompute.Notify()
	}
	if len(cls.Metadata) > 0 {
		m.cur.MergeMetadata(cls.Metadata)
		if tag := m.cur.Snapshot().AgentTag; tag != "" {
			m.agentCategory = tag
		}
		m.recompute.Notify()
	}

	// Keep draining unless the stream reached a terminal state.
	if m.streaming {
		cmds[0] = waitChunk(m.chunks)
	}
	return cmds
}

// endCycle settles the current cycle: stop streaming, flush the reveal
// queue, project the final timeline, and persist.
func (m *Model) endCycle() tea.Cmd {
	if !m.streaming {
		return nil
	}
	m.streaming = false
	m.cur.End()
	m.revealer.Finish()
	m.steps = m.cur.Project()
	m.refreshTranscript()
	m.status = "saving"
	return m.finalizeCmd()
}
