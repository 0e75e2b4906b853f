// Command execution for CLI commands.
//
// Information Hiding:
// - Backend, provider, and chat surface wiring hidden
// - Output formatting hidden

package cli

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/richinex/skein/approval"
	"github.com/richinex/skein/client"
	"github.com/richinex/skein/config"
	"github.com/richinex/skein/llm"
	"github.com/richinex/skein/server"
	"github.com/richinex/skein/storage"
	"github.com/richinex/skein/tui"
)

// Options holds CLI execution options.
type Options struct {
	Provider   string
	BackendURL string
	Addr       string
	DBPath     string
	Verbose    bool
}

// Chat starts the interactive chat surface against the backend. A non-empty
// sessionID resumes that session with its stored turns.
func Chat(ctx context.Context, sessionID string, opts Options) error {
	cfg, err := clientSettings(opts)
	if err != nil {
		return err
	}

	backend := client.New(cfg.Client.BackendURL)
	m := tui.New(backend, cfg.Client)

	if sessionID != "" {
		turns, err := backend.ListTurns(ctx, sessionID, 0, 0)
		if err != nil {
			return fmt.Errorf("failed to load session %s: %w", sessionID, err)
		}
		m.Resume(sessionID, turns)
	}

	program := tea.NewProgram(m, tea.WithAltScreen(), tea.WithContext(ctx))
	if _, err := program.Run(); err != nil {
		return fmt.Errorf("chat surface failed: %w", err)
	}
	return nil
}

// Serve runs the development backend: session storage plus the streaming
// chat and approval-run endpoints.
func Serve(ctx context.Context, opts Options) error {
	provider, err := createProvider(opts.Provider)
	if err != nil {
		return err
	}

	cfg, err := config.New(opts.Provider)
	if err != nil {
		return err
	}
	addr := cfg.Server.Addr
	if opts.Addr != "" {
		addr = opts.Addr
	}
	dbPath := cfg.Server.DBPath
	if opts.DBPath != "" {
		dbPath = opts.DBPath
	}

	store, err := storage.OpenSqlite(dbPath)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer store.Close()

	log := newLogger(opts.Verbose)
	log.Info("backend listening",
		"addr", addr,
		"provider", provider.Name(),
		"model", provider.Model(),
		"db", dbPath)

	return server.New(store, provider, log).Serve(ctx, addr)
}

// Sessions lists stored sessions, most recently active first.
func Sessions(ctx context.Context, opts Options) error {
	cfg, err := clientSettings(opts)
	if err != nil {
		return err
	}

	backend := client.New(cfg.Client.BackendURL)
	sessions, err := backend.ListSessions(ctx)
	if err != nil {
		return err
	}

	if len(sessions) == 0 {
		fmt.Println("No sessions yet.")
		return nil
	}
	for _, s := range sessions {
		title := s.Title
		if title == "" {
			title = "(untitled)"
		}
		fmt.Printf("%-36s  %-10s  %-19s  %s\n", s.ID, s.AgentCategory, s.UpdatedAt, title)
	}
	return nil
}

// DeleteSession removes a stored session and all of its turns.
func DeleteSession(ctx context.Context, sessionID string, opts Options) error {
	cfg, err := clientSettings(opts)
	if err != nil {
		return err
	}

	backend := client.New(cfg.Client.BackendURL)
	if err := backend.DeleteSession(ctx, sessionID); err != nil {
		return err
	}
	fmt.Printf("Deleted session %s\n", sessionID)
	return nil
}

// Run executes an approval-gated task from the terminal, prompting for a
// decision on each interrupt until the run settles.
func Run(ctx context.Context, task string, opts Options) error {
	cfg, err := clientSettings(opts)
	if err != nil {
		return err
	}

	backend := client.New(cfg.Client.BackendURL)
	state, err := backend.Run(ctx, approval.RunRequest{Query: task})
	if err != nil {
		return fmt.Errorf("run failed: %w", err)
	}

	scanner := bufio.NewScanner(os.Stdin)
	for state.Status == approval.StatusInterrupted && len(state.Interrupts) > 0 {
		printInterrupts(state.Interrupts)

		decision, err := readDecision(scanner)
		if err != nil {
			return err
		}

		state, err = backend.Run(ctx, approval.RunRequest{
			ThreadID: state.ThreadID,
			Resume:   &decision,
		})
		if err != nil {
			return fmt.Errorf("resume failed: %w", err)
		}
	}

	fmt.Printf("Run %s (thread %s)\n", state.Status, state.ThreadID)
	return nil
}

func printInterrupts(interrupts []map[string]any) {
	fmt.Println("Run paused for approval:")
	for _, interrupt := range interrupts {
		if q, ok := interrupt["question"].(string); ok && q != "" {
			fmt.Printf("  %s\n", q)
		} else if action, ok := interrupt["action"].(string); ok {
			fmt.Printf("  action: %s\n", action)
		}
	}
	fmt.Println("Reply with: accept | ignore | respond <text> | edit <action> <json>")
}

// readDecision prompts until the user types a well-formed decision or
// stdin closes.
func readDecision(scanner *bufio.Scanner) (approval.Decision, error) {
	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			if err := scanner.Err(); err != nil {
				return approval.Decision{}, err
			}
			return approval.Decision{}, fmt.Errorf("input closed before a decision was made")
		}

		input := strings.TrimSpace(scanner.Text())
		if input == "" {
			continue
		}
		decision, err := approval.ParseDecision(input)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			continue
		}
		return decision, nil
	}
}

// clientSettings loads settings for client-side commands. The provider only
// matters on the backend, so any supported name serves as a fallback here.
func clientSettings(opts Options) (config.Settings, error) {
	provider := opts.Provider
	if provider == "" {
		provider = "anthropic"
	}
	cfg, err := config.New(provider)
	if err != nil {
		return config.Settings{}, err
	}
	if opts.BackendURL != "" {
		cfg.Client.BackendURL = opts.BackendURL
	}
	return cfg, nil
}

func createProvider(providerName string) (llm.Provider, error) {
	if providerName == "" {
		return nil, fmt.Errorf("--provider is required for this command")
	}

	providerType, err := llm.ParseProviderType(providerName)
	if err != nil {
		return nil, err
	}

	settings, err := config.New(providerName)
	if err != nil {
		return nil, err
	}

	apiKey, err := config.APIKeyFor(providerName)
	if err != nil {
		return nil, err
	}

	return providerType.
		Model(settings.LLM.Model).
		MaxTokens(settings.LLM.MaxTokens).
		Temperature(float32(settings.LLM.Temperature)).
		APIKey(apiKey)
}

func newLogger(verbose bool) *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}
