package commands

import (
	"bytes"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/workitems/backlog/pkg/engine"
	"github.com/workitems/backlog/pkg/policy"
	"github.com/workitems/backlog/pkg/repostate"
	"github.com/workitems/backlog/pkg/source"
	"github.com/workitems/backlog/pkg/stores"
)

// statusReport is the full backlog overview.
type statusReport struct {
	GeneratedAt    string                       `json:"generatedAt"`
	Sources        map[string]string            `json:"sources"`
	Model          map[string]interface{}       `json:"model"`
	Repo           repoReport                   `json:"repo"`
	Summary        statusSummary                `json:"summary"`
	Plans          []engine.PlanProgress        `json:"plans"`
	FocusWorkItems []engine.WorkItem            `json:"focusWorkItems"`
	WorkItems      []engine.WorkItem            `json:"workItems"`
	PendingTasks   []engine.Action              `json:"pendingTasks"`
	RepoTasks      []engine.Action              `json:"repoTasks"`
	AffectedItems  []repostate.AffectedItem     `json:"affectedItems"`
	PolicyWarnings []policy.Warning             `json:"policyWarnings"`
	LatestRuns     map[string]*stores.ActionRun `json:"latestRuns"`
	Violations     []engine.Violation           `json:"violations"`
}

type repoReport struct {
	Root string `json:"root"`
	engine.RepoState
}

type statusSummary struct {
	WorkItemCount    int `json:"workItemCount"`
	PlanCount        int `json:"planCount"`
	TodoCount        int `json:"todoCount"`
	InProgressCount  int `json:"inProgressCount"`
	BlockedCount     int `json:"blockedCount"`
	DoneCount        int `json:"doneCount"`
	TodoTaskCount    int `json:"todoTaskCount"`
	PendingTaskCount int `json:"pendingTaskCount"`
	RepoTaskCount    int `json:"repoTaskCount"`
	DirtyFileCount   int `json:"dirtyFileCount"`
	WarningCount     int `json:"warningCount"`
}

func newStatusCommand() *cobra.Command {
	var outFile string

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show a backlog overview",
		Long: `Show an overview of the backlog: summary counts, per-plan progress, the
action queue, repository state, items whose trigger paths have uncommitted
changes, policy warnings and the latest recorded run per item.`,
		Example: `  # Human-readable overview
  backlog status

  # Write the JSON overview to a file
  backlog status --out artifacts/overview.json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) (err error) {
			ws, err := openWorkspace(cmd, "status", workspaceOptions{})
			if err != nil {
				return err
			}
			defer func() { ws.Close(err) }()

			report, err := buildStatus(ws)
			if err != nil {
				return err
			}

			if outFile != "" {
				var buf bytes.Buffer
				if err := printJSON(&buf, report); err != nil {
					return err
				}
				path := resolvePath(ws.Root, outFile)
				if err := source.Persist(path, buf.Bytes()); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), path)
				return nil
			}

			if jsonOutput {
				return printJSON(cmd.OutOrStdout(), report)
			}
			printStatus(cmd.OutOrStdout(), report)
			return nil
		},
	}

	cmd.Flags().StringVarP(&outFile, "out", "o", "", "write the JSON overview to a file")

	return cmd
}

func buildStatus(ws *workspace) (*statusReport, error) {
	doc, err := ws.Normalize()
	if err != nil {
		return nil, err
	}

	repo := ws.RepoState()
	actions := planDocument(ws, doc, repo)

	report := &statusReport{
		GeneratedAt:    time.Now().UTC().Format(time.RFC3339),
		Sources:        doc.Sources,
		Model:          doc.Model,
		Repo:           repoReport{Root: ws.Root, RepoState: repo},
		Plans:          engine.RollupPlans(doc.WorkItems),
		FocusWorkItems: []engine.WorkItem{},
		WorkItems:      doc.WorkItems,
		PendingTasks:   []engine.Action{},
		RepoTasks:      []engine.Action{},
		AffectedItems:  repostate.AffectedItems(repo, doc.WorkItems),
		PolicyWarnings: []policy.Warning{},
		LatestRuns:     map[string]*stores.ActionRun{},
		Violations:     nonNilViolations(engine.Validate(doc)),
	}

	for _, item := range doc.WorkItems {
		if item.Status != engine.StatusDone {
			report.FocusWorkItems = append(report.FocusWorkItems, item)
		}
	}
	for _, a := range actions {
		if a.Kind == engine.ActionKindRepo {
			report.RepoTasks = append(report.RepoTasks, a)
		} else {
			report.PendingTasks = append(report.PendingTasks, a)
		}
	}

	eng, err := ws.PolicyEngine()
	if err != nil {
		ws.Logger.WithError(err).Warn("policies unavailable")
	} else if result := ws.EvaluatePolicies(eng, doc); result != nil {
		report.PolicyWarnings = result.Warnings
	}

	if ws.Store != nil {
		runs, err := ws.Store.LatestRunsByWorkItem(ws.Ctx)
		if err != nil {
			ws.Logger.WithError(err).Warn("failed to read latest runs")
		} else {
			report.LatestRuns = runs
		}
	}

	s := doc.Summary
	report.Summary = statusSummary{
		WorkItemCount:    s.WorkItemCount,
		PlanCount:        s.PlanCount,
		TodoCount:        s.StatusCount[engine.StatusTodo],
		InProgressCount:  s.StatusCount[engine.StatusInProgress],
		BlockedCount:     s.StatusCount[engine.StatusBlocked],
		DoneCount:        s.StatusCount[engine.StatusDone],
		TodoTaskCount:    len(actions),
		PendingTaskCount: len(report.PendingTasks),
		RepoTaskCount:    len(report.RepoTasks),
		DirtyFileCount:   len(repo.ChangedFiles),
		WarningCount:     len(report.PolicyWarnings),
	}
	return report, nil
}

func printStatus(w io.Writer, r *statusReport) {
	s := r.Summary
	fmt.Fprintln(w, headingStyle.Render("Backlog"))
	fmt.Fprintf(w, "  %d work items in %d plans: %d todo, %d in progress, %d blocked, %d done\n",
		s.WorkItemCount, s.PlanCount, s.TodoCount, s.InProgressCount, s.BlockedCount, s.DoneCount)

	branch := r.Repo.Branch
	if branch == "" {
		branch = "-"
	}
	state := okStyle.Render("clean")
	if r.Repo.IsDirty {
		state = warnStyle.Render(fmt.Sprintf("%d changed file(s)", s.DirtyFileCount))
	}
	fmt.Fprintf(w, "  branch %s, %s\n", branch, state)

	if len(r.Plans) > 0 {
		heading(w, "Plans")
		printRollups(w, r.Plans)
	}

	heading(w, "Next actions")
	printActions(w, append(append([]engine.Action{}, r.RepoTasks...), r.PendingTasks...))

	if len(r.AffectedItems) > 0 {
		heading(w, "Affected work items")
		for _, a := range r.AffectedItems {
			fmt.Fprintf(w, "  %s: %s\n", a.WorkItemID, joinOrDash(a.Files))
		}
	}

	if len(r.LatestRuns) > 0 {
		heading(w, "Latest runs")
		for _, item := range r.WorkItems {
			run, ok := r.LatestRuns[item.WorkItemID]
			if !ok {
				continue
			}
			result := okStyle.Render("ok")
			if !run.OK {
				result = errorStyle.Render(fmt.Sprintf("exit %d", run.ExitCode))
			}
			fmt.Fprintf(w, "  %s %s %s %s\n", item.WorkItemID, run.Token, result, mutedStyle.Render(run.StartedAt.Format(time.RFC3339)))
		}
	}

	if len(r.Violations) > 0 {
		fmt.Fprintln(w)
		printViolations(w, r.Violations)
	}
	if len(r.PolicyWarnings) > 0 {
		fmt.Fprintln(w)
		printWarnings(w, r.PolicyWarnings)
	}
}
