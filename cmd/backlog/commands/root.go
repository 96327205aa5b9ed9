package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var (
	// Global flags
	rootDir     string
	configPath  string
	backlogPath string
	verbose     bool
	jsonOutput  bool
	noStore     bool

	buildVersion string
)

// Execute runs the root command
func Execute(ctx context.Context, version, commit, buildDate string) error {
	rootCmd := newRootCommand(version, commit, buildDate)
	return rootCmd.ExecuteContext(ctx)
}

func newRootCommand(version, commit, buildDate string) *cobra.Command {
	buildVersion = version

	rootCmd := &cobra.Command{
		Use:   "backlog",
		Short: "backlog - canonical work-item backlog engine",
		Long: `backlog keeps a repository's work-item backlog in one canonical JSON
document and derives what to do next from it.

Features:
  - Normalization of legacy and hand-edited backlog documents
  - Validation of ids, plan ownership and dependencies
  - Deterministic rendering and drift detection for CI
  - A prioritized action queue backed by repository state
  - Advisory Rego policies and a local history of builds and runs`,
		Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildDate),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVarP(&rootDir, "root", "C", ".", "repository root")
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "backlog.cue", "workspace config file, relative to the root")
	rootCmd.PersistentFlags().StringVarP(&backlogPath, "backlog", "b", "", "backlog document path (overrides the config)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose output")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "output in JSON format")
	rootCmd.PersistentFlags().BoolVar(&noStore, "no-store", false, "do not record history")

	rootCmd.AddCommand(newInitCommand())
	rootCmd.AddCommand(newBuildCommand())
	rootCmd.AddCommand(newCheckCommand())
	rootCmd.AddCommand(newValidateCommand())
	rootCmd.AddCommand(newPlanCommand())
	rootCmd.AddCommand(newStatusCommand())
	rootCmd.AddCommand(newRunCommand())
	rootCmd.AddCommand(newNextCommand())
	rootCmd.AddCommand(newWatchCommand())
	rootCmd.AddCommand(newHistoryCommand())
	rootCmd.AddCommand(newGraphCommand())

	return rootCmd
}
