package cli

import (
	"errors"
	"fmt"
	"io"
	"os"

	"techentry-bot/internal/app"
	"techentry-bot/internal/outbound"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var (
	sweepCmd = &cobra.Command{
		Use:   "sweep",
		Short: "Run outbound sweeps against the configured store",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	sweepDispatchCmd = &cobra.Command{
		Use:   "dispatch",
		Short: "Send opening prompts to eligible events",
		RunE:  runSweepDispatch,
	}

	sweepFollowupCmd = &cobra.Command{
		Use:   "followup",
		Short: "Send stale and scheduled follow-ups",
		RunE:  runSweepFollowup,
	}
)

func init() {
	sweepDispatchCmd.Flags().Int("limit", 0, "Maximum records to send to (default DEFAULT_SEND_LIMIT)")
	sweepCmd.AddCommand(sweepDispatchCmd)
	sweepCmd.AddCommand(sweepFollowupCmd)
}

func runSweepDispatch(cmd *cobra.Command, args []string) error {
	limit, _ := cmd.Flags().GetInt("limit")
	a, err := buildApp(cmd.Context(), cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	res, err := a.Scheduler.DispatchInitial(cmd.Context(), limit)
	if err != nil {
		return sweepError(err)
	}
	auditSweep(cmd, a, "dispatch", res)
	printResult(cmd.OutOrStdout(), "dispatch", res)
	return nil
}

func runSweepFollowup(cmd *cobra.Command, args []string) error {
	a, err := buildApp(cmd.Context(), cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	res, err := a.Scheduler.FollowupSweep(cmd.Context())
	if err != nil {
		return sweepError(err)
	}
	auditSweep(cmd, a, "followup", res)
	printResult(cmd.OutOrStdout(), "followup", res)
	return nil
}

// auditSweep records CLI sweeps under the local user name.
func auditSweep(cmd *cobra.Command, a *app.App, sweep string, res outbound.Result) {
	actor := os.Getenv("USER")
	if actor == "" {
		actor = "techbotctl"
	}
	if err := a.Audit.LogSweep(cmd.Context(), actor, "cli", "", sweep, res); err != nil {
		fmt.Fprintln(cmd.ErrOrStderr(), color.YellowString("audit append failed: %v", err))
	}
}

func sweepError(err error) error {
	switch {
	case errors.Is(err, outbound.ErrWindowClosed):
		return fmt.Errorf("sending window is closed: %w", err)
	case errors.Is(err, outbound.ErrSweepInProgress):
		return fmt.Errorf("another sweep is running: %w", err)
	}
	return err
}

func printResult(w io.Writer, name string, res outbound.Result) {
	fmt.Fprintln(w, color.CyanString("%s sweep", name))
	printField(w, "records sent", res.Records)
	printField(w, "messages", res.Messages)
	failed := fmt.Sprint(res.Failed)
	if res.Failed > 0 {
		failed = color.RedString("%d", res.Failed)
	}
	printField(w, "failed", failed)
	escalated := fmt.Sprint(res.Escalated)
	if res.Escalated > 0 {
		escalated = color.YellowString("%d", res.Escalated)
	}
	printField(w, "escalated", escalated)
	if res.Errors > 0 {
		printField(w, "record errors", color.RedString("%d (see logs)", res.Errors))
	}
}
