// Package cli provides the command-line interface for chatty.
package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/zhouzirui/chatty/backend/internal/app"
	"github.com/zhouzirui/chatty/backend/internal/config"
)

var (
	// Version is set at build time.
	Version = "0.1.0"

	// Global flags
	verbose bool

	// Global application, opened before every subcommand
	application *app.App

	// appOptions are passed to app.New; tests inject fakes here.
	appOptions []app.Option
)

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "chatty",
	Short: "Chat with an AI model from the terminal",
	Long: `Chatty sends prompts and optional file attachments to the configured AI
model and keeps the conversation history in the same store the HTTP server uses.

Each reply comes with a sentiment label for your message and a few follow-up
suggestions.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if cmd.Name() == "help" || cmd.Name() == "version" {
			return nil
		}

		_ = godotenv.Load()

		cfg, err := config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}

		level := slog.LevelWarn
		if verbose {
			level = slog.LevelDebug
		}
		logger := slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level}))

		application, err = app.New(cmd.Context(), cfg, logger, appOptions...)
		if err != nil {
			return fmt.Errorf("initialize: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if application == nil {
			return
		}
		if err := application.Close(context.Background()); err != nil {
			fmt.Fprintf(cmd.ErrOrStderr(), "Warning: failed to close storage: %v\n", err)
		}
		application = nil
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return rootCmd.ExecuteContext(context.Background())
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")

	rootCmd.AddCommand(askCmd)
	rootCmd.AddCommand(conversationsCmd)
	rootCmd.AddCommand(moderateCmd)
}

// run executes the root command with args, writing to out; used by tests.
func run(ctx context.Context, out io.Writer, args ...string) error {
	rootCmd.SetOut(out)
	rootCmd.SetErr(out)
	rootCmd.SetArgs(args)
	defer rootCmd.SetArgs(os.Args[1:])
	return rootCmd.ExecuteContext(ctx)
}
