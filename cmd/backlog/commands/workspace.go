package commands

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/workitems/backlog/pkg/config"
	"github.com/workitems/backlog/pkg/engine"
	"github.com/workitems/backlog/pkg/executor"
	"github.com/workitems/backlog/pkg/policy"
	"github.com/workitems/backlog/pkg/repostate"
	"github.com/workitems/backlog/pkg/source"
	"github.com/workitems/backlog/pkg/stores"
	"github.com/workitems/backlog/pkg/telemetry"
)

// workspace bundles everything a command needs: resolved config, telemetry,
// the backlog source and, when enabled, the history store.
type workspace struct {
	Root      string
	Config    *config.WorkspaceConfig
	Defaults  engine.Defaults
	Source    *source.FileSource
	Telemetry *telemetry.Telemetry
	Logger    *telemetry.Logger

	// Store is nil when history is disabled.
	Store stores.Store

	// Ctx carries the telemetry instance and the command logger.
	Ctx context.Context

	op *telemetry.InstrumentedContext
}

type workspaceOptions struct {
	// metricsAddr enables the metrics registry and overrides its listen address.
	metricsAddr string
}

// openWorkspace resolves the global flags into a workspace for the named command.
// Callers must call Close with the command's final error.
func openWorkspace(cmd *cobra.Command, name string, opts workspaceOptions) (*workspace, error) {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	root, err := filepath.Abs(rootDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve root %s: %w", rootDir, err)
	}

	cfg, err := config.NewCUEParser().Load(ctx, resolvePath(root, configPath))
	if err != nil {
		return nil, withExitCode(exitInvalid, fmt.Errorf("failed to load config: %w", err))
	}
	if backlogPath != "" {
		cfg.Backlog.Path = backlogPath
	}
	if verbose {
		cfg.Logging.Level = "debug"
	}
	if opts.metricsAddr != "" {
		cfg.Metrics.Enabled = true
		cfg.Metrics.ListenAddress = opts.metricsAddr
	}

	tel, err := telemetry.NewTelemetry(cfg.TelemetryConfig(buildVersion))
	if err != nil {
		return nil, fmt.Errorf("failed to initialize telemetry: %w", err)
	}

	op := telemetry.StartCommand(tel.WithContext(ctx), name)
	ws := &workspace{
		Root:      root,
		Config:    cfg,
		Defaults:  cfg.EngineDefaults(),
		Source:    source.NewFileSource(resolvePath(root, cfg.Backlog.Path)),
		Telemetry: tel,
		Logger:    op.Logger,
		Ctx:       op.Ctx,
		op:        op,
	}

	if cfg.Store.Enabled && !noStore {
		store, err := stores.Open(ws.Ctx, resolvePath(root, cfg.Store.Path))
		if err != nil {
			// History is best effort; commands still work without it.
			ws.Logger.WithError(err).Warn("history store unavailable")
		} else {
			ws.Store = store
			tel.Events.Subscribe(stores.EventSink(ws.Ctx, store, *ws.Logger.Zerolog()), nil)
		}
	}

	ws.Logger.WithFields(map[string]interface{}{
		"root":    root,
		"backlog": ws.Source.Path,
	}).Debug("workspace opened")

	return ws, nil
}

// Close ends the command span, flushes telemetry and closes the store.
func (ws *workspace) Close(err error) {
	ws.op.End(err)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if shutdownErr := ws.Telemetry.Shutdown(shutdownCtx); shutdownErr != nil {
		ws.Logger.WithError(shutdownErr).Warn("telemetry shutdown failed")
	}

	if ws.Store != nil {
		if closeErr := ws.Store.Close(); closeErr != nil {
			ws.Logger.WithError(closeErr).Warn("failed to close history store")
		}
	}
}

// BacklogName is the backlog path relative to the root, for messages.
func (ws *workspace) BacklogName() string {
	if rel, err := filepath.Rel(ws.Root, ws.Source.Path); err == nil {
		return rel
	}
	return ws.Source.Path
}

// Normalize loads the raw document and normalizes it. A missing document
// normalizes to an empty backlog.
func (ws *workspace) Normalize() (*engine.Document, error) {
	raw, err := ws.Source.Load(ws.Ctx)
	if err != nil {
		if !engine.IsNotFound(err) {
			return nil, err
		}
		ws.Logger.WithField("path", ws.BacklogName()).Debug("backlog not found, starting empty")
		raw = engine.RawDocument{}
	}
	return engine.NewNormalizer(ws.Defaults).Normalize(raw), nil
}

// Executor builds the action executor with the configured command overrides.
func (ws *workspace) Executor(timeout time.Duration) *executor.Executor {
	exec := executor.New(ws.Root, executor.NewRegistry(ws.Config.Actions))
	exec.Timeout = timeout
	return exec
}

// Inspector returns the repository inspector for the root.
func (ws *workspace) Inspector() engine.RepoInspector {
	return repostate.NewGitInspector(ws.Root)
}

// RepoState inspects the repository. Outside a git repository the state is
// reported clean with a warning.
func (ws *workspace) RepoState() engine.RepoState {
	state, err := ws.Inspector().Inspect(ws.Ctx)
	if err != nil {
		ws.Logger.WithError(err).Warn("failed to inspect repository, assuming clean")
		return engine.RepoState{ChangedFiles: []engine.ChangedFile{}}
	}
	return state
}

// PolicyEngine builds the policy engine with custom policies and disabled
// rules applied. It returns nil when policies are disabled.
func (ws *workspace) PolicyEngine() (*policy.Engine, error) {
	if !ws.Config.Policy.Enabled {
		return nil, nil
	}

	eng, err := policy.NewEngine(*ws.Logger.NewComponentLogger("policy").Zerolog())
	if err != nil {
		return nil, fmt.Errorf("failed to create policy engine: %w", err)
	}
	for _, name := range ws.Config.Policy.Disabled {
		eng.DisablePolicy(name)
	}
	if paths := ws.PolicyPaths(); len(paths) > 0 {
		if err := eng.LoadPolicies(ws.Ctx, paths); err != nil {
			return nil, fmt.Errorf("failed to load policies: %w", err)
		}
	}
	return eng, nil
}

// PolicyPaths returns the configured policy paths resolved against the root.
func (ws *workspace) PolicyPaths() []string {
	paths := make([]string, 0, len(ws.Config.Policy.Paths))
	for _, p := range ws.Config.Policy.Paths {
		paths = append(paths, resolvePath(ws.Root, p))
	}
	return paths
}

// EvaluatePolicies runs every enabled policy and publishes its warnings.
// Policy failures are logged and never fail the command.
func (ws *workspace) EvaluatePolicies(eng *policy.Engine, doc *engine.Document) *policy.Result {
	if eng == nil {
		return nil
	}

	result, err := eng.Evaluate(ws.Ctx, doc, ws.Defaults)
	if err != nil {
		ws.Logger.WithError(err).Warn("policy evaluation failed")
		return nil
	}

	for _, w := range result.Warnings {
		ws.Telemetry.Metrics.RecordPolicyWarning(w.Policy)
		_ = ws.Telemetry.Events.PublishPolicyWarning(w.WorkItemID, w.Policy, w.Message)
	}
	for _, msg := range result.Errors {
		ws.Logger.WithField("error", msg).Warn("policy failed to evaluate")
	}
	return result
}

// RecordSnapshot stores a snapshot when history is enabled.
func (ws *workspace) RecordSnapshot(command string, rendered []byte, doc *engine.Document, violations int, drifted bool) {
	if ws.Store == nil {
		return
	}

	snapshot := &stores.Snapshot{
		Command:        command,
		DocumentPath:   ws.BacklogName(),
		DocumentHash:   stores.HashDocument(rendered),
		ItemCount:      len(doc.WorkItems),
		ViolationCount: violations,
		Drifted:        drifted,
	}
	if err := ws.Store.RecordSnapshot(ws.Ctx, snapshot); err != nil {
		ws.Logger.WithError(err).Warn("failed to record snapshot")
	}
}

// RecordRun stores an action run when history is enabled.
func (ws *workspace) RecordRun(token, workItemID string, result *engine.ActionResult, runErr error) {
	if ws.Store == nil {
		return
	}
	if err := ws.Store.RecordActionRun(ws.Ctx, stores.NewActionRun(token, workItemID, result, runErr)); err != nil {
		ws.Logger.WithError(err).Warn("failed to record action run")
	}
}

// ReportMetrics updates the work item and violation gauges.
func (ws *workspace) ReportMetrics(doc *engine.Document, violations []engine.Violation) {
	counts := make(map[[2]string]int)
	for _, item := range doc.WorkItems {
		counts[[2]string{string(item.Kind), string(item.Status)}]++
	}
	for key, n := range counts {
		ws.Telemetry.Metrics.SetWorkItemCount(key[0], key[1], float64(n))
	}
	for _, v := range violations {
		ws.Telemetry.Metrics.RecordViolation(string(v.Category))
	}
}

// reportViolations publishes a validation failure and returns the error that
// ends the command.
func (ws *workspace) reportViolations(cmd *cobra.Command, err error) error {
	var verr *engine.ValidationError
	if !errors.As(err, &verr) {
		return err
	}

	categories := make(map[string]int)
	for _, v := range verr.Violations {
		categories[string(v.Category)]++
	}
	_ = ws.Telemetry.Events.PublishValidationFailed(len(verr.Violations), categories)

	if jsonOutput {
		if perr := printJSON(cmd.OutOrStdout(), map[string]interface{}{
			"ok":         false,
			"violations": verr.Violations,
		}); perr != nil {
			return perr
		}
	} else {
		printViolations(cmd.ErrOrStderr(), verr.Violations)
	}
	return reported(exitInvalid, err)
}

func resolvePath(root, path string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(root, path)
}
