package commands

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/spf13/cobra"

	"github.com/workitems/backlog/pkg/engine"
	"github.com/workitems/backlog/pkg/source"
)

var workspaceNameInvalid = regexp.MustCompile(`[^a-zA-Z0-9_.-]+`)

const starterConfig = `// Workspace configuration for the backlog CLI.
workspace: {
	name: %q

	backlog: path: %q

	defaults: {
		owner:    "unassigned"
		priority: "P2"
	}

	// actions: "ci.verify": "make verify"

	store: {
		enabled: true
		path:    ".backlog/history.db"
	}

	policy: {
		enabled: true
		// paths: ["policies"]
	}
}
`

func newInitCommand() *cobra.Command {
	var (
		name  string
		force bool
	)

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create a starter backlog.cue and an empty backlog",
		Long: `Write a starter workspace configuration and an empty canonical backlog
document. Existing files are left alone unless --force is given.`,
		Example: `  # Initialize the current repository
  backlog init

  # Use a different workspace name and backlog location
  backlog init --name payments --backlog plans/backlog.json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) (err error) {
			ws, err := openWorkspace(cmd, "init", workspaceOptions{})
			if err != nil {
				return err
			}
			defer func() { ws.Close(err) }()

			if name == "" {
				name = workspaceName(ws.Root)
			}

			out := cmd.OutOrStdout()

			cfgFile := resolvePath(ws.Root, configPath)
			content := fmt.Sprintf(starterConfig, name, ws.Config.Backlog.Path)
			wrote, err := writeStarter(cfgFile, []byte(content), force)
			if err != nil {
				return err
			}
			reportInit(out, ws.Root, cfgFile, wrote)

			empty := engine.NewNormalizer(ws.Defaults).Normalize(engine.RawDocument{})
			wrote, err = writeStarter(ws.Source.Path, engine.Render(empty), force)
			if err != nil {
				return err
			}
			reportInit(out, ws.Root, ws.Source.Path, wrote)

			if ws.Store != nil {
				ws.Logger.Debug("history store ready")
			}
			ws.Logger.WithField("name", name).Info("Workspace initialized")
			return nil
		},
	}

	cmd.Flags().StringVar(&name, "name", "", "workspace name (defaults to the root directory name)")
	cmd.Flags().BoolVarP(&force, "force", "f", false, "overwrite existing files")

	return cmd
}

func writeStarter(path string, data []byte, force bool) (bool, error) {
	if !force {
		if _, err := os.Stat(path); err == nil {
			return false, nil
		} else if !errors.Is(err, fs.ErrNotExist) {
			return false, fmt.Errorf("failed to stat %s: %w", path, err)
		}
	}
	if err := source.Persist(path, data); err != nil {
		return false, err
	}
	return true, nil
}

func reportInit(out io.Writer, root, path string, wrote bool) {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		rel = path
	}
	if wrote {
		fmt.Fprintf(out, "%s %s\n", okStyle.Render("created"), rel)
	} else {
		fmt.Fprintf(out, "%s %s\n", mutedStyle.Render("exists"), rel)
	}
}

// workspaceName derives a config-safe name from the root directory.
func workspaceName(root string) string {
	name := strings.Trim(workspaceNameInvalid.ReplaceAllString(filepath.Base(root), "-"), "-")
	if name == "" {
		return "backlog"
	}
	return name
}
