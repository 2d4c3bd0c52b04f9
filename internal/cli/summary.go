package cli

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"techentry-bot/internal/reporting"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var summaryCmd = &cobra.Command{
	Use:   "summary",
	Short: "Show event and message counters",
	RunE:  runSummary,
}

func init() {
	summaryCmd.Flags().Duration("since", 0, "Only count messages newer than this (e.g. 24h)")
	summaryCmd.Flags().Bool("json", false, "Output machine-readable JSON")
}

func runSummary(cmd *cobra.Command, args []string) error {
	since, _ := cmd.Flags().GetDuration("since")
	asJSON, _ := cmd.Flags().GetBool("json")

	a, err := buildApp(cmd.Context(), cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	var req reporting.SummaryRequest
	if since > 0 {
		req.Range.From = time.Now().Add(-since)
	}
	out, err := a.Reporting.Summary(cmd.Context(), req)
	if err != nil {
		return err
	}

	w := cmd.OutOrStdout()
	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(out)
	}

	fmt.Fprintln(w, color.CyanString("events"))
	printField(w, "total", out.Events.Total)
	printField(w, "awaiting reply", out.Events.AwaitingReply)
	printField(w, "with entry time", out.Events.WithEntryTime)
	printField(w, "confirmation", fmt.Sprintf("%.0f%%", out.Events.ConfirmationRate*100))
	for _, k := range sortedKeys(out.Events.ByStatus) {
		printField(w, "  "+k, out.Events.ByStatus[k])
	}

	fmt.Fprintln(w, color.CyanString("messages"))
	printField(w, "inbound", out.Messages.Inbound)
	printField(w, "outbound", out.Messages.Outbound)
	printField(w, "unattributed", out.Messages.Unattributed)
	failures := fmt.Sprint(out.Messages.DeliveryFailures)
	if out.Messages.DeliveryFailures > 0 {
		failures = color.RedString("%d", out.Messages.DeliveryFailures)
	}
	printField(w, "delivery failed", failures)
	return nil
}

func sortedKeys(m map[string]int) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
