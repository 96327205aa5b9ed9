package commands

import (
	"errors"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/workitems/backlog/pkg/stores"
)

var errHistoryDisabled = errors.New("history is disabled; enable store in backlog.cue or drop --no-store")

func newHistoryCommand() *cobra.Command {
	var (
		limit      int
		workItemID string
	)

	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recent builds, checks and action runs",
		Long: `List the snapshots recorded by build and check and the action runs
recorded by run and next, most recent first.`,
		Example: `  # Recent history
  backlog history

  # Runs of one work item
  backlog history --work-item WI-PLAN2026010501-03

  # Drop records older than 30 days
  backlog history prune --older-than 720h`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) (err error) {
			ws, err := openWorkspace(cmd, "history", workspaceOptions{})
			if err != nil {
				return err
			}
			defer func() { ws.Close(err) }()

			if ws.Store == nil {
				return errHistoryDisabled
			}

			var snapshots []*stores.Snapshot
			if workItemID == "" {
				snapshots, err = ws.Store.ListSnapshots(ws.Ctx, limit, 0)
				if err != nil {
					return err
				}
			}

			var filter *string
			if workItemID != "" {
				filter = &workItemID
			}
			runs, err := ws.Store.ListActionRuns(ws.Ctx, filter, limit, 0)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if jsonOutput {
				if snapshots == nil {
					snapshots = []*stores.Snapshot{}
				}
				if runs == nil {
					runs = []*stores.ActionRun{}
				}
				return printJSON(out, map[string]interface{}{
					"snapshots":  snapshots,
					"actionRuns": runs,
				})
			}

			if workItemID == "" {
				fmt.Fprintln(out, headingStyle.Render("Snapshots"))
				printSnapshots(cmd, snapshots)
				fmt.Fprintln(out)
			}
			fmt.Fprintln(out, headingStyle.Render("Action runs"))
			printRuns(cmd, runs)
			return nil
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "show at most n records of each kind")
	cmd.Flags().StringVarP(&workItemID, "work-item", "w", "", "only show runs for this work item")

	cmd.AddCommand(newHistoryPruneCommand())

	return cmd
}

func newHistoryPruneCommand() *cobra.Command {
	var olderThan time.Duration

	cmd := &cobra.Command{
		Use:   "prune",
		Short: "Delete history older than a duration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) (err error) {
			ws, err := openWorkspace(cmd, "history.prune", workspaceOptions{})
			if err != nil {
				return err
			}
			defer func() { ws.Close(err) }()

			if ws.Store == nil {
				return errHistoryDisabled
			}
			if olderThan <= 0 {
				return withExitCode(exitInvalid, fmt.Errorf("--older-than must be positive"))
			}

			removed, err := ws.Store.Prune(ws.Ctx, time.Now().Add(-olderThan))
			if err != nil {
				return err
			}
			ws.Logger.WithField("removed", removed).Info("History pruned")

			if jsonOutput {
				return printJSON(cmd.OutOrStdout(), map[string]interface{}{"removed": removed})
			}
			fmt.Fprintf(cmd.OutOrStdout(), "removed %d record(s)\n", removed)
			return nil
		},
	}

	cmd.Flags().DurationVar(&olderThan, "older-than", 30*24*time.Hour, "remove records older than this")

	return cmd
}

func printSnapshots(cmd *cobra.Command, snapshots []*stores.Snapshot) {
	if len(snapshots) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), mutedStyle.Render("  none"))
		return
	}

	tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "TIME\tCOMMAND\tITEMS\tDRIFTED\tHASH")
	for _, s := range snapshots {
		fmt.Fprintf(tw, "%s\t%s\t%d\t%t\t%s\n",
			s.CreatedAt.Local().Format(time.RFC3339), s.Command, s.ItemCount, s.Drifted, shortHash(s.DocumentHash))
	}
	_ = tw.Flush()
}

func printRuns(cmd *cobra.Command, runs []*stores.ActionRun) {
	if len(runs) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), mutedStyle.Render("  none"))
		return
	}

	tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "TIME\tTOKEN\tWORK ITEM\tRESULT\tDURATION")
	for _, r := range runs {
		result := "ok"
		switch {
		case r.Error != nil:
			result = "error"
		case !r.OK:
			result = fmt.Sprintf("exit %d", r.ExitCode)
		}
		item := r.WorkItemID
		if item == "" {
			item = "-"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
			r.StartedAt.Local().Format(time.RFC3339), r.Token, item, result, r.Duration().Round(time.Millisecond))
	}
	_ = tw.Flush()
}

func shortHash(h string) string {
	if len(h) > 12 {
		return h[:12]
	}
	return h
}
