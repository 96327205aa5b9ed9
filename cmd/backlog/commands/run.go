package commands

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/workitems/backlog/pkg/engine"
)

const defaultActionTimeout = 30 * time.Minute

func newRunCommand() *cobra.Command {
	var (
		workItemID string
		timeout    time.Duration
	)

	cmd := &cobra.Command{
		Use:   "run <token>",
		Short: "Execute an action token",
		Long: `Execute the command registered for an action token in the repository root
and record the result in the history store.

Workflow tokens (workflow.start, workflow.progress, workflow.close,
workflow.full) require --work-item. The exit status of the command is
propagated.`,
		Example: `  # Start work on an item
  backlog run workflow.start --work-item WI-PLAN2026010501-03

  # Run repository verification
  backlog run ci.verify`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) (err error) {
			ws, err := openWorkspace(cmd, "run", workspaceOptions{})
			if err != nil {
				return err
			}
			defer func() { ws.Close(err) }()

			return executeAction(cmd, ws, args[0], workItemID, timeout)
		},
	}

	cmd.Flags().StringVarP(&workItemID, "work-item", "w", "", "work item id passed to the action")
	cmd.Flags().DurationVar(&timeout, "timeout", defaultActionTimeout, "maximum run time (0 for none)")

	return cmd
}

// runOutput is the JSON form of an action run.
type runOutput struct {
	Token      string               `json:"token"`
	WorkItemID string               `json:"workItemId,omitempty"`
	Result     *engine.ActionResult `json:"result,omitempty"`
	Error      string               `json:"error,omitempty"`
}

func executeAction(cmd *cobra.Command, ws *workspace, token, workItemID string, timeout time.Duration) error {
	params := map[string]string{}
	if workItemID != "" {
		params["workItemId"] = workItemID
	}

	ws.Logger.WithActionToken(token).WithWorkItemID(workItemID).Info("Running action")
	result, runErr := ws.Executor(timeout).Execute(ws.Ctx, token, params)

	if code := errorCode(runErr); code == engine.ErrCodeUnsupportedAction || code == engine.ErrCodeInvalidParams {
		return withExitCode(exitInvalid, runErr)
	}
	ws.RecordRun(token, workItemID, result, runErr)

	out := cmd.OutOrStdout()
	if jsonOutput {
		o := runOutput{Token: token, WorkItemID: workItemID, Result: result}
		if runErr != nil {
			o.Error = runErr.Error()
		}
		if err := printJSON(out, o); err != nil {
			return err
		}
	} else if result != nil {
		if result.Stdout != "" {
			fmt.Fprint(out, ensureNewline(result.Stdout))
		}
		if result.Stderr != "" {
			fmt.Fprint(cmd.ErrOrStderr(), ensureNewline(result.Stderr))
		}
	}

	switch {
	case runErr != nil:
		if !jsonOutput {
			fmt.Fprintln(cmd.ErrOrStderr(), errorStyle.Render(runErr.Error()))
		}
		return reported(exitFailure, runErr)
	case !result.OK:
		code := result.ExitCode
		if code <= 0 {
			code = exitFailure
		}
		if !jsonOutput {
			fmt.Fprintln(cmd.ErrOrStderr(), errorStyle.Render(fmt.Sprintf("%s exited with status %d", token, result.ExitCode)))
		}
		return reported(code, fmt.Errorf("action %s exited with status %d", token, result.ExitCode))
	}

	if !jsonOutput {
		fmt.Fprintf(out, "%s %s in %s\n", okStyle.Render("done"), token, result.EndedAt.Sub(result.StartedAt).Round(time.Millisecond))
	}
	return nil
}

func errorCode(err error) string {
	var ee *engine.EngineError
	if errors.As(err, &ee) {
		return ee.Code
	}
	return ""
}

func ensureNewline(s string) string {
	if strings.HasSuffix(s, "\n") {
		return s
	}
	return s + "\n"
}
