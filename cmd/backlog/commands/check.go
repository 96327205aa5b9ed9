package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/workitems/backlog/pkg/engine"
	"github.com/workitems/backlog/pkg/telemetry"
)

func newCheckCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "check",
		Short: "Verify the backlog is valid and canonical",
		Long: `Normalize and validate the backlog, then compare its canonical rendering
with the bytes on disk. The document is never written.

Exit status is 2 for validation failures and 3 when the file is missing or
not canonical.`,
		Example: `  # Gate CI on a canonical backlog
  backlog check

  # Machine-readable result
  backlog check --json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) (err error) {
			ws, err := openWorkspace(cmd, "check", workspaceOptions{})
			if err != nil {
				return err
			}
			defer func() { ws.Close(err) }()

			outcome, err := runCheck(ws)
			if err != nil {
				return err
			}
			return reportCheck(cmd, ws, outcome)
		},
	}

	return cmd
}

// checkOutcome is the result of one check pass.
type checkOutcome struct {
	Document   *engine.Document
	Violations []engine.Violation
	Missing    bool
	Drifted    bool
}

// Err returns the error the outcome ends the command with, if any.
func (o *checkOutcome) Err(path string) error {
	switch {
	case len(o.Violations) > 0:
		return &engine.ValidationError{Violations: o.Violations}
	case o.Missing || o.Drifted:
		return &engine.DriftError{Path: path, Missing: o.Missing}
	default:
		return nil
	}
}

// runCheck validates and compares without writing. The returned error is
// reserved for failures to read the document.
func runCheck(ws *workspace) (outcome *checkOutcome, err error) {
	phase := telemetry.StartPhase(ws.Ctx, "check", ws.BacklogName())
	defer func() {
		if outcome != nil {
			telemetry.Annotate(phase.Span, telemetry.DocumentStats{
				WorkItems:  len(outcome.Document.WorkItems),
				Violations: len(outcome.Violations),
				Drifted:    outcome.Missing || outcome.Drifted,
			})
		}
		phase.End(err)
	}()

	doc, err := ws.Normalize()
	if err != nil {
		return nil, err
	}

	outcome = &checkOutcome{Document: doc, Violations: engine.Validate(doc)}
	ws.ReportMetrics(doc, outcome.Violations)
	if len(outcome.Violations) > 0 {
		return outcome, nil
	}

	onDisk, exists, err := ws.Source.ReadCanonical(ws.Ctx)
	if err != nil {
		return nil, err
	}
	outcome.Missing = !exists
	outcome.Drifted = exists && engine.Drifted(onDisk, doc)

	switch {
	case outcome.Missing:
		ws.Telemetry.Metrics.RecordDriftCheck("missing")
	case outcome.Drifted:
		ws.Telemetry.Metrics.RecordDriftCheck("drifted")
	default:
		ws.Telemetry.Metrics.RecordDriftCheck("clean")
	}
	if outcome.Missing || outcome.Drifted {
		_ = ws.Telemetry.Events.PublishDriftDetected(ws.BacklogName(), outcome.Missing)
	}

	ws.RecordSnapshot("check", engine.Render(doc), doc, 0, outcome.Missing || outcome.Drifted)
	return outcome, nil
}

func reportCheck(cmd *cobra.Command, ws *workspace, outcome *checkOutcome) error {
	err := outcome.Err(ws.BacklogName())
	if engine.IsValidation(err) {
		return ws.reportViolations(cmd, err)
	}

	out := cmd.OutOrStdout()
	if jsonOutput {
		if perr := printJSON(out, map[string]interface{}{
			"ok":        err == nil,
			"path":      ws.BacklogName(),
			"missing":   outcome.Missing,
			"drifted":   outcome.Drifted,
			"workItems": len(outcome.Document.WorkItems),
		}); perr != nil {
			return perr
		}
	} else if err != nil {
		fmt.Fprintln(cmd.ErrOrStderr(), errorStyle.Render(err.Error()))
	} else {
		fmt.Fprintf(out, "%s %s is canonical (%d work items)\n", okStyle.Render("ok"), ws.BacklogName(), len(outcome.Document.WorkItems))
	}

	if err != nil {
		_ = ws.Telemetry.Events.PublishCheckFailed(ws.BacklogName(), err.Error())
		return reported(exitDrift, err)
	}
	return nil
}
