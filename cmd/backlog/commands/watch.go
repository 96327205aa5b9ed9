package commands

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"

	"github.com/workitems/backlog/pkg/engine"
	"github.com/workitems/backlog/pkg/policy"
)

const defaultWatchDebounce = 300 * time.Millisecond

func newWatchCommand() *cobra.Command {
	var (
		metricsAddr string
		debounce    time.Duration
	)

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Re-check the backlog whenever it changes",
		Long: `Watch the backlog document and re-run check and policy evaluation each
time it is written. Custom policy files are reloaded when they change.

With --metrics-addr Prometheus metrics are served on that address until the
command is interrupted.`,
		Example: `  # Watch with default settings
  backlog watch

  # Expose metrics for scraping
  backlog watch --metrics-addr 127.0.0.1:9090`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) (err error) {
			ws, err := openWorkspace(cmd, "watch", workspaceOptions{metricsAddr: metricsAddr})
			if err != nil {
				return err
			}
			defer func() { ws.Close(err) }()

			return runWatch(cmd, ws, debounce)
		},
	}

	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address")
	cmd.Flags().DurationVar(&debounce, "debounce", defaultWatchDebounce, "wait this long after the last change before checking")

	return cmd
}

func runWatch(cmd *cobra.Command, ws *workspace, debounce time.Duration) error {
	ctx := ws.Ctx

	if ws.Config.Metrics.Enabled {
		if err := ws.Telemetry.Metrics.StartMetricsServer(ctx, ws.Logger); err != nil {
			return fmt.Errorf("failed to start metrics server: %w", err)
		}
		ws.Logger.WithField("address", ws.Config.Metrics.ListenAddress).Info("Serving metrics")
	}

	// A pending pass is requested by file events and policy reloads.
	requests := make(chan struct{}, 1)
	request := func() {
		select {
		case requests <- struct{}{}:
		default:
		}
	}

	eng, err := ws.PolicyEngine()
	if err != nil {
		return err
	}
	if paths := ws.PolicyPaths(); eng != nil && len(paths) > 0 {
		loader := policy.NewLoader(*ws.Logger.NewComponentLogger("policy-loader").Zerolog())
		reload := func(policies []policy.Policy) error {
			if err := eng.ReplaceCustom(ctx, policies); err != nil {
				return err
			}
			request()
			return nil
		}
		if err := loader.Watch(ctx, paths, reload); err != nil {
			return err
		}
		defer func() { _ = loader.StopWatching() }()
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer func() { _ = watcher.Close() }()

	dir := filepath.Dir(ws.Source.Path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create %s: %w", dir, err)
	}
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("failed to watch %s: %w", dir, err)
	}

	ws.Logger.WithField("path", ws.BacklogName()).Info("Watching backlog")
	watchPass(cmd, ws, eng)

	timer := time.NewTimer(debounce)
	if !timer.Stop() {
		<-timer.C
	}

	for {
		select {
		case <-ctx.Done():
			ws.Logger.Info("Stopped watching")
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != ws.Source.Path {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename|fsnotify.Remove) == 0 {
				continue
			}
			ws.Logger.WithField("op", event.Op.String()).Debug("backlog changed")
			timer.Reset(debounce)

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			ws.Logger.WithError(err).Warn("watcher error")

		case <-requests:
			timer.Reset(debounce)

		case <-timer.C:
			watchPass(cmd, ws, eng)
		}
	}
}

// watchPass runs one check and policy evaluation and prints a one-line result.
func watchPass(cmd *cobra.Command, ws *workspace, eng *policy.Engine) {
	out := cmd.OutOrStdout()
	stamp := mutedStyle.Render(time.Now().Format("15:04:05"))

	outcome, err := runCheck(ws)
	if err != nil {
		ws.Logger.WithError(err).Error("check failed")
		fmt.Fprintf(out, "%s %s %v\n", stamp, errorStyle.Render("error"), err)
		return
	}

	switch err := outcome.Err(ws.BacklogName()); {
	case engine.IsValidation(err):
		fmt.Fprintf(out, "%s %s\n", stamp, errorStyle.Render(fmt.Sprintf("%d violation(s)", len(outcome.Violations))))
		for _, v := range outcome.Violations {
			fmt.Fprintf(out, "  - %s\n", v.String())
		}
	case err != nil:
		fmt.Fprintf(out, "%s %s\n", stamp, warnStyle.Render(err.Error()))
	default:
		fmt.Fprintf(out, "%s %s %d work items\n", stamp, okStyle.Render("ok"), len(outcome.Document.WorkItems))
	}

	if result := ws.EvaluatePolicies(eng, outcome.Document); result != nil {
		printWarnings(out, result.Warnings)
	}
}
