// Package cli implements techbotctl, the operator command line.
package cli

import (
	"context"
	"fmt"
	"io"
	"os/signal"
	"syscall"

	"techentry-bot/internal/app"
	"techentry-bot/internal/config"
	"techentry-bot/pkg/logger"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:           "techbotctl",
	Short:         "Operate the tech-entry WhatsApp bot",
	Long:          "Issue ops tokens, run outbound sweeps and inspect the event table from the command line.",
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		return cmd.Help()
	},
}

// Execute runs the root command.
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	err := rootCmd.ExecuteContext(ctx)
	if err != nil {
		fmt.Fprintln(rootCmd.ErrOrStderr(), color.RedString("error: %v", err))
	}
	return err
}

func init() {
	rootCmd.AddCommand(tokenCmd)
	rootCmd.AddCommand(sweepCmd)
	rootCmd.AddCommand(summaryCmd)
	rootCmd.AddCommand(auditCmd)
}

// buildApp loads configuration and wires the services. Logs go to stderr.
func buildApp(ctx context.Context, cmd *cobra.Command) (*app.App, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	log := logger.NewWithWriter(cfg.App.Env, cmd.ErrOrStderr())
	return app.Build(logger.With(ctx, log), cfg, log)
}

func printField(w io.Writer, label string, value any) {
	fmt.Fprintf(w, "%s %v\n", color.New(color.Bold).Sprintf("%-16s", label+":"), value)
}
