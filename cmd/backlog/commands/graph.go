package commands

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/workitems/backlog/pkg/engine"
)

func newGraphCommand() *cobra.Command {
	var format string

	cmd := &cobra.Command{
		Use:   "graph",
		Short: "Show the work item dependency graph",
		Long: `Build the dependency graph of the backlog and print it as Graphviz DOT or
JSON. Dependency cycles are reported on stderr.`,
		Example: `  # Render with graphviz
  backlog graph | dot -Tsvg > backlog.svg

  # Levels and cycles as JSON
  backlog graph --format json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) (err error) {
			ws, err := openWorkspace(cmd, "graph", workspaceOptions{})
			if err != nil {
				return err
			}
			defer func() { ws.Close(err) }()

			doc, err := ws.Normalize()
			if err != nil {
				return err
			}
			graph := engine.BuildDependencyGraph(doc.WorkItems)

			for _, cycle := range graph.Cycles {
				fmt.Fprintln(cmd.ErrOrStderr(), warnStyle.Render("cycle: "+strings.Join(cycle, " -> ")))
			}

			if jsonOutput {
				format = "json"
			}
			switch format {
			case "dot":
				fmt.Fprint(cmd.OutOrStdout(), graph.ToDOT())
				return nil
			case "json":
				return printJSON(cmd.OutOrStdout(), graph)
			default:
				return withExitCode(exitInvalid, fmt.Errorf("unknown format %q (want dot or json)", format))
			}
		},
	}

	cmd.Flags().StringVarP(&format, "format", "f", "dot", "output format: dot or json")

	return cmd
}
