package commands

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/workitems/backlog/pkg/config"
	"github.com/workitems/backlog/pkg/engine"
	"github.com/workitems/backlog/pkg/telemetry"
)

func newValidateCommand() *cobra.Command {
	var schema bool

	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate the backlog document as it is on disk",
		Long: `Validate the persisted backlog without normalizing it first, so legacy
fields and kind/shape mismatches that build would repair are reported.

With --schema the document is also checked against the #Backlog CUE schema.`,
		Example: `  # Report violations in the stored document
  backlog validate

  # Include CUE schema errors
  backlog validate --schema`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) (err error) {
			ws, err := openWorkspace(cmd, "validate", workspaceOptions{})
			if err != nil {
				return err
			}
			defer func() { ws.Close(err) }()

			return runValidate(cmd, ws, schema)
		},
	}

	cmd.Flags().BoolVar(&schema, "schema", false, "also check against the CUE backlog schema")

	return cmd
}

func runValidate(cmd *cobra.Command, ws *workspace, schema bool) (err error) {
	phase := telemetry.StartPhase(ws.Ctx, "validate", ws.BacklogName())
	defer func() { phase.End(err) }()

	raw, err := ws.Source.Load(ws.Ctx)
	if err != nil {
		return err
	}

	data, err := json.Marshal(raw)
	if err != nil {
		return fmt.Errorf("failed to re-encode backlog: %w", err)
	}

	var doc engine.Document
	var violations []engine.Violation
	if err := json.Unmarshal(data, &doc); err != nil {
		violations = append(violations, engine.Violation{
			Category: engine.CategoryShape,
			Index:    -1,
			Message:  fmt.Sprintf("document does not match the canonical shape: %v", err),
		})
	}
	violations = append(violations, engine.Validate(&doc)...)

	var schemaErrors []config.ValidationError
	if schema {
		schemaErrors, err = config.NewCUEParser().GetSchemaRegistry().
			CheckJSON(ws.Ctx, config.SchemaBacklog, ws.BacklogName(), data)
		if err != nil {
			return fmt.Errorf("failed to check schema: %w", err)
		}
	}

	ok := len(violations) == 0 && len(schemaErrors) == 0
	telemetry.Annotate(phase.Span, telemetry.DocumentStats{
		WorkItems:  len(doc.WorkItems),
		Violations: len(violations) + len(schemaErrors),
	})
	if !ok {
		categories := make(map[string]int)
		for _, v := range violations {
			categories[string(v.Category)]++
		}
		if len(schemaErrors) > 0 {
			categories["schema"] = len(schemaErrors)
		}
		_ = ws.Telemetry.Events.PublishValidationFailed(len(violations)+len(schemaErrors), categories)
	}
	for _, v := range violations {
		ws.Telemetry.Metrics.RecordViolation(string(v.Category))
	}

	out := cmd.OutOrStdout()
	if jsonOutput {
		if err := printJSON(out, map[string]interface{}{
			"ok":           ok,
			"path":         ws.BacklogName(),
			"violations":   nonNilViolations(violations),
			"schemaErrors": schemaErrors,
		}); err != nil {
			return err
		}
	} else {
		if len(violations) > 0 {
			printViolations(cmd.ErrOrStderr(), violations)
		}
		if len(schemaErrors) > 0 {
			fmt.Fprintln(cmd.ErrOrStderr(), errorStyle.Render(fmt.Sprintf("%d schema error(s):", len(schemaErrors))))
			for _, se := range schemaErrors {
				fmt.Fprintf(cmd.ErrOrStderr(), "  - %s\n", se.String())
			}
		}
		if ok {
			fmt.Fprintf(out, "%s %s is valid\n", okStyle.Render("ok"), ws.BacklogName())
		}
	}

	if !ok {
		return reported(exitInvalid, fmt.Errorf("backlog %s is invalid", ws.BacklogName()))
	}
	return nil
}

func nonNilViolations(v []engine.Violation) []engine.Violation {
	if v == nil {
		return []engine.Violation{}
	}
	return v
}
