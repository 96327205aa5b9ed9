package commands

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/workitems/backlog/pkg/engine"
)

func newNextCommand() *cobra.Command {
	var (
		execute    bool
		workItemID string
		timeout    time.Duration
	)

	cmd := &cobra.Command{
		Use:   "next",
		Short: "Show or execute the top-ranked action",
		Long: `Pick the first action of the plan that has a registered command and show
what would run. With --execute the action is run like 'backlog run'.`,
		Example: `  # What would run next
  backlog next

  # Run it
  backlog next --execute

  # Next action for one item
  backlog next --work-item WI-PLAN2026010501-03 --execute`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) (err error) {
			ws, err := openWorkspace(cmd, "next", workspaceOptions{})
			if err != nil {
				return err
			}
			defer func() { ws.Close(err) }()

			actions, err := planActions(ws)
			if err != nil {
				return err
			}

			exec := ws.Executor(timeout)
			action, ok := nextAction(actions, workItemID, exec.Supports)
			out := cmd.OutOrStdout()
			if !ok {
				if jsonOutput {
					return printJSON(out, map[string]interface{}{"action": nil})
				}
				fmt.Fprintln(out, mutedStyle.Render("Nothing to do."))
				return nil
			}

			if execute {
				return executeAction(cmd, ws, action.ActionToken, action.Params["workItemId"], timeout)
			}

			argv, err := exec.Registry.Command(action.ActionToken, action.Params)
			if err != nil {
				return withExitCode(exitInvalid, err)
			}
			if jsonOutput {
				return printJSON(out, map[string]interface{}{
					"action":  action,
					"command": argv,
					"dryRun":  true,
				})
			}
			fmt.Fprintf(out, "%s %s (%s)\n", headingStyle.Render("next:"), action.Title, action.Reason)
			fmt.Fprintf(out, "  would run: %s\n", strings.Join(argv, " "))
			fmt.Fprintln(out, mutedStyle.Render("  pass --execute to run it"))
			return nil
		},
	}

	cmd.Flags().BoolVarP(&execute, "execute", "x", false, "run the action instead of printing it")
	cmd.Flags().StringVarP(&workItemID, "work-item", "w", "", "only consider actions for this work item")
	cmd.Flags().DurationVar(&timeout, "timeout", defaultActionTimeout, "maximum run time (0 for none)")

	return cmd
}

// nextAction returns the first action, optionally restricted to one work
// item, whose token has a registered command.
func nextAction(actions []engine.Action, workItemID string, supported func(string) bool) (engine.Action, bool) {
	for _, a := range actions {
		if workItemID != "" && a.RelatedWorkItem != workItemID {
			continue
		}
		if supported(a.ActionToken) {
			return a, true
		}
	}
	return engine.Action{}, false
}
