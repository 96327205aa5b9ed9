package commands

import (
	"bytes"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/workitems/backlog/pkg/engine"
	"github.com/workitems/backlog/pkg/telemetry"
)

func newBuildCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "build",
		Short: "Normalize and write the canonical backlog",
		Long: `Load the backlog document, normalize it, validate the result and write the
canonical rendering back in place.

Nothing is written when validation fails; every violation is printed and the
command exits with status 2. The file is only replaced when its bytes change.`,
		Example: `  # Rebuild the backlog configured in backlog.cue
  backlog build

  # Build a specific document
  backlog build --backlog docs/plans/backlog.json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) (err error) {
			ws, err := openWorkspace(cmd, "build", workspaceOptions{})
			if err != nil {
				return err
			}
			defer func() { ws.Close(err) }()

			return runBuild(cmd, ws)
		},
	}

	return cmd
}

func runBuild(cmd *cobra.Command, ws *workspace) (err error) {
	phase := telemetry.StartPhase(ws.Ctx, "build", ws.BacklogName())
	defer func() { phase.End(err) }()

	doc, err := ws.Normalize()
	if err != nil {
		return err
	}

	violations := engine.Validate(doc)
	ws.ReportMetrics(doc, violations)
	telemetry.Annotate(phase.Span, telemetry.DocumentStats{WorkItems: len(doc.WorkItems), Violations: len(violations)})
	if len(violations) > 0 {
		return ws.reportViolations(cmd, &engine.ValidationError{Violations: violations})
	}

	rendered := engine.Render(doc)
	changed, err := persistIfChanged(ws, rendered)
	if err != nil {
		return err
	}

	ws.RecordSnapshot("build", rendered, doc, 0, changed)
	_ = ws.Telemetry.Events.PublishBuildCompleted(ws.BacklogName(), len(doc.WorkItems), changed)

	ws.Logger.WithFields(map[string]interface{}{
		"path":       ws.BacklogName(),
		"work_items": len(doc.WorkItems),
		"changed":    changed,
	}).Info("Backlog built")

	out := cmd.OutOrStdout()
	if jsonOutput {
		return printJSON(out, map[string]interface{}{
			"ok":        true,
			"path":      ws.BacklogName(),
			"workItems": len(doc.WorkItems),
			"changed":   changed,
			"summary":   doc.Summary,
		})
	}

	state := "unchanged"
	if changed {
		state = "written"
	}
	fmt.Fprintf(out, "%s %s (%d work items, %s)\n", okStyle.Render("built"), ws.BacklogName(), len(doc.WorkItems), state)
	return nil
}

// persistIfChanged writes rendered unless the file already holds those bytes.
// With history enabled the compare-and-write runs under the store's write lock
// so concurrent builds serialize.
func persistIfChanged(ws *workspace, rendered []byte) (bool, error) {
	if ws.Store != nil {
		tx, err := ws.Store.BeginTx(ws.Ctx)
		if err != nil {
			return false, fmt.Errorf("failed to acquire build lock: %w", err)
		}
		defer func() { _ = tx.Rollback() }()
	}

	onDisk, exists, err := ws.Source.ReadCanonical(ws.Ctx)
	if err != nil {
		return false, err
	}
	if exists && bytes.Equal(onDisk, rendered) {
		return false, nil
	}

	if err := ws.Source.Persist(ws.Ctx, rendered); err != nil {
		return false, err
	}
	return true, nil
}
