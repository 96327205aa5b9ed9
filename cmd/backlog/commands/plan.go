package commands

import (
	"github.com/spf13/cobra"

	"github.com/workitems/backlog/pkg/engine"
	"github.com/workitems/backlog/pkg/telemetry"
)

func newPlanCommand() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "plan",
		Short: "Show the prioritized action queue",
		Long: `Normalize the backlog, inspect the repository and print the ordered queue
of recommended actions.

Every open item yields progress and close actions, plus start while it is
still todo. A dirty working tree adds a ci.verify action.`,
		Example: `  # Show the queue
  backlog plan

  # First five actions as JSON
  backlog plan --json --limit 5`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) (err error) {
			ws, err := openWorkspace(cmd, "plan", workspaceOptions{})
			if err != nil {
				return err
			}
			defer func() { ws.Close(err) }()

			actions, err := planActions(ws)
			if err != nil {
				return err
			}
			if limit > 0 && len(actions) > limit {
				actions = actions[:limit]
			}

			if jsonOutput {
				return printJSON(cmd.OutOrStdout(), actions)
			}
			printActions(cmd.OutOrStdout(), actions)
			return nil
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 0, "show at most n actions (0 for all)")

	return cmd
}

// planActions normalizes the backlog and derives the action queue. An
// invalid backlog is still planned; its violations are logged.
func planActions(ws *workspace) ([]engine.Action, error) {
	doc, err := ws.Normalize()
	if err != nil {
		return nil, err
	}
	return planDocument(ws, doc, ws.RepoState()), nil
}

func planDocument(ws *workspace, doc *engine.Document, repo engine.RepoState) []engine.Action {
	phase := telemetry.StartPhase(ws.Ctx, "plan", ws.BacklogName())

	violations := engine.Validate(doc)
	if len(violations) > 0 {
		phase.Logger.WithField("violations", len(violations)).Warn("planning an invalid backlog; run validate for details")
	}

	actions := engine.NewPlanner().Plan(doc, repo)
	if actions == nil {
		actions = []engine.Action{}
	}
	ws.Telemetry.Metrics.SetActionsPlanned(float64(len(actions)))
	telemetry.Annotate(phase.Span, telemetry.DocumentStats{
		WorkItems:  len(doc.WorkItems),
		Violations: len(violations),
		Actions:    len(actions),
	})
	phase.End(nil)
	return actions
}
