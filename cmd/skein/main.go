// Package main provides the skein CLI entry point.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/richinex/skein/cli"
)

var (
	// Global flags
	provider   string
	backendURL string
	verbose    bool
)

func main() {
	// Load .env file if present (ignore "file not found" errors)
	if err := godotenv.Load(); err != nil {
		if !os.IsNotExist(err) {
			fmt.Fprintf(os.Stderr, "Warning: failed to load .env file: %v\n", err)
		}
	}

	rootCmd := &cobra.Command{
		Use:   "skein",
		Short: "Conversational streaming client with session persistence",
		Long: `A terminal chat client that streams answers from a backend, renders a
live timeline of agent steps, and persists finished exchanges as sessions.

Commands:
- chat: interactive chat surface (resume a session with --session)
- serve: run the development backend (storage + streaming chat)
- sessions: list stored sessions
- run: execute an approval-gated task from the terminal`,
	}

	// Global flags
	rootCmd.PersistentFlags().StringVarP(&provider, "provider", "p", "", "LLM provider (openai, anthropic, deepseek, gemini)")
	rootCmd.PersistentFlags().StringVar(&backendURL, "backend", "", "Backend base URL (default http://localhost:8787)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Show verbose output")

	// Add commands
	rootCmd.AddCommand(chatCmd())
	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(sessionsCmd())
	rootCmd.AddCommand(runCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func chatCmd() *cobra.Command {
	var sessionID string

	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Start the interactive chat surface",
		Long: `Start the interactive chat surface.

Answers stream in with a metered text reveal while a live timeline tracks
the agent's steps. Finished exchanges are persisted automatically; type
/run <task> to start an approval-gated run without leaving the chat.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := cli.Options{
				Provider:   provider,
				BackendURL: backendURL,
				Verbose:    verbose,
			}
			return cli.Chat(signalContext(), sessionID, opts)
		},
	}

	cmd.Flags().StringVar(&sessionID, "session", "", "Session ID to resume")

	return cmd
}

func serveCmd() *cobra.Command {
	var addr string
	var dbPath string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the development backend",
		Long: `Run the development backend: SQLite-backed session storage plus the
streaming chat and approval-run endpoints the chat surface talks to.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := cli.Options{
				Provider:   provider,
				BackendURL: backendURL,
				Addr:       addr,
				DBPath:     dbPath,
				Verbose:    verbose,
			}
			return cli.Serve(signalContext(), opts)
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "Listen address (default :8787)")
	cmd.Flags().StringVar(&dbPath, "db", "", "Database path (default skein.db)")

	return cmd
}

func sessionsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "List stored sessions",
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := cli.Options{
				Provider:   provider,
				BackendURL: backendURL,
				Verbose:    verbose,
			}
			return cli.Sessions(context.Background(), opts)
		},
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "delete [id]",
		Short: "Delete a stored session and its turns",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := cli.Options{
				Provider:   provider,
				BackendURL: backendURL,
				Verbose:    verbose,
			}
			return cli.DeleteSession(context.Background(), args[0], opts)
		},
	})

	return cmd
}

func runCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run [task]",
		Short: "Execute an approval-gated task",
		Long: `Execute a task through the backend's approval-gated run endpoint.

When the run pauses on an interrupt, reply with accept, ignore,
respond <text>, or edit <action> <json> to resume it.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := cli.Options{
				Provider:   provider,
				BackendURL: backendURL,
				Verbose:    verbose,
			}
			return cli.Run(signalContext(), args[0], opts)
		},
	}
}

// signalContext cancels on SIGINT or SIGTERM so long-running commands shut
// down cleanly.
func signalContext() context.Context {
	ctx, cancel := context.WithCancel(context.Background())
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-ch
		cancel()
	}()
	return ctx
}
