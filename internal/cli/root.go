package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Philanthropists/mail2pdf/internal/config"
	"github.com/Philanthropists/mail2pdf/internal/logger"
	"github.com/Philanthropists/mail2pdf/internal/sync"
)

var (
	appVersion = "dev"
	gitCommit  = "none"
)

// SetVersionInfo sets the version information injected via ldflags.
func SetVersionInfo(version, commit string) {
	if version != "" {
		appVersion = version
	}
	if commit != "" {
		gitCommit = commit
	}
}

func Version() string {
	return fmt.Sprintf("mail2pdf %s (commit %s)", appVersion, gitCommit)
}

// RunFunc executes one processing pass.
type RunFunc func(ctx context.Context, cfg *config.Config, log logger.Logger) error

func NewRootCommand(run RunFunc) *cobra.Command {
	root := &cobra.Command{
		Use:   "mail2pdf",
		Short: "Convert mailbox messages to PDF and deliver them",
		Long: `mail2pdf polls a mailbox for unprocessed messages, renders each one to a
PDF with wkhtmltopdf, sends the PDF by email or copies it to a folder and
marks the source message as processed.

Configuration is read from the environment, optionally seeded from a .env file.`,
		SilenceUsage: true,
	}

	root.AddCommand(newRunCommand(run), newVersionCommand(), newGmailAuthCommand())
	return root
}

func newRunCommand(run RunFunc) *cobra.Command {
	var envFile string

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Process the mailbox once",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(envFile)
			if err != nil {
				return err
			}

			log, err := logger.New(cfg.LogLevel, cfg.LogFormat)
			if err != nil {
				return fmt.Errorf("creating logger: %w", err)
			}
			defer log.Sync()

			log.Infow("Starting mail processing run",
				"version", appVersion,
				"commit", gitCommit)

			return run(cmd.Context(), cfg, log)
		},
	}

	cmd.Flags().StringVar(&envFile, "env-file", "", "path of the env file to load (default .env when present)")
	return cmd
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), Version())
		},
	}
}

// Execute runs the root command against the real pipeline.
func Execute(ctx context.Context) error {
	return NewRootCommand(sync.Run).ExecuteContext(ctx)
}
