package cli

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "List recent operator actions",
	RunE:  runAudit,
}

func init() {
	auditCmd.Flags().Int("limit", 20, "Number of events to show (0 for all)")
}

func runAudit(cmd *cobra.Command, args []string) error {
	limit, _ := cmd.Flags().GetInt("limit")

	a, err := buildApp(cmd.Context(), cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	evs, err := a.Audit.Recent(cmd.Context(), limit)
	if err != nil {
		return err
	}
	w := cmd.OutOrStdout()
	if len(evs) == 0 {
		fmt.Fprintln(w, color.YellowString("no operator actions recorded"))
		return nil
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "TIME\tTYPE\tACTOR\tROLE\tSUBJECT\tDETAIL")
	for _, e := range evs {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
			e.CreatedAt.In(a.Location).Format(time.DateTime), e.Type, e.ActorID, e.ActorRole, e.Subject, e.Metadata)
	}
	return tw.Flush()
}
