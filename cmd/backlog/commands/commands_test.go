package commands

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/workitems/backlog/pkg/engine"
)

const legacyBacklog = `{"workItems":[{
	"id":"legacy-1",
	"workItemId":"WI-PLAN2026022701-01",
	"planId":"PLAN-20260227-01",
	"kind":"task",
	"status":"todo",
	"priority":"P1",
	"title":"Wire the parser"
}]}`

const invalidBacklog = `{"workItems":[{
	"workItemId":"WI-1",
	"planId":"PLAN-20260227-01",
	"kind":"task",
	"status":"todo"
}]}`

func runCLI(t *testing.T, args ...string) (string, string, error) {
	t.Helper()

	cmd := newRootCommand("test", "none", "unknown")
	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetArgs(args)

	err := cmd.ExecuteContext(context.Background())
	return stdout.String(), stderr.String(), err
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("failed to create dir: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write %s: %v", path, err)
	}
}

func backlogFile(root string) string {
	return filepath.Join(root, "docs", "plans", "backlog.json")
}

func TestInit_ThenCheck(t *testing.T) {
	root := t.TempDir()

	stdout, _, err := runCLI(t, "-C", root, "init", "--name", "demo")
	if err != nil {
		t.Fatalf("init failed: %v", err)
	}
	if !strings.Contains(stdout, "backlog.cue") {
		t.Errorf("Expected init to report backlog.cue, got %q", stdout)
	}

	cfg, err := os.ReadFile(filepath.Join(root, "backlog.cue"))
	if err != nil {
		t.Fatalf("failed to read config: %v", err)
	}
	if !strings.Contains(string(cfg), `name: "demo"`) {
		t.Errorf("Expected workspace name in config, got:\n%s", cfg)
	}
	if _, err := os.Stat(backlogFile(root)); err != nil {
		t.Fatalf("Expected empty backlog to be written: %v", err)
	}

	if _, _, err := runCLI(t, "-C", root, "check"); err != nil {
		t.Errorf("Expected fresh workspace to pass check, got %v", err)
	}

	stdout, _, err = runCLI(t, "-C", root, "init")
	if err != nil {
		t.Fatalf("second init failed: %v", err)
	}
	if !strings.Contains(stdout, "exists") {
		t.Errorf("Expected existing files to be left alone, got %q", stdout)
	}
}

func TestBuild_ThenCheck(t *testing.T) {
	root := t.TempDir()
	path := backlogFile(root)
	writeFile(t, path, legacyBacklog)

	_, _, err := runCLI(t, "-C", root, "--no-store", "check")
	if ExitCode(err) != exitDrift {
		t.Fatalf("Expected drift exit code %d before build, got %d (%v)", exitDrift, ExitCode(err), err)
	}
	data, _ := os.ReadFile(path)
	if string(data) != legacyBacklog {
		t.Error("check must never write the document")
	}

	stdout, _, err := runCLI(t, "-C", root, "--no-store", "build")
	if err != nil {
		t.Fatalf("build failed: %v", err)
	}
	if !strings.Contains(stdout, "written") {
		t.Errorf("Expected build to write the document, got %q", stdout)
	}

	data, err = os.ReadFile(path)
	if err != nil {
		t.Fatalf("failed to read backlog: %v", err)
	}
	if strings.Contains(string(data), "legacy-1") {
		t.Error("Expected legacy id to be stripped")
	}
	if !bytes.HasSuffix(data, []byte("\n")) {
		t.Error("Expected rendered document to end with a newline")
	}

	if _, _, err := runCLI(t, "-C", root, "--no-store", "check"); err != nil {
		t.Errorf("Expected check to pass after build, got %v", err)
	}

	stdout, _, err = runCLI(t, "-C", root, "--no-store", "build")
	if err != nil {
		t.Fatalf("second build failed: %v", err)
	}
	if !strings.Contains(stdout, "unchanged") {
		t.Errorf("Expected second build to be a no-op, got %q", stdout)
	}
}

func TestBuild_ValidationFailureWritesNothing(t *testing.T) {
	root := t.TempDir()
	path := backlogFile(root)
	writeFile(t, path, invalidBacklog)

	stdout, _, err := runCLI(t, "-C", root, "--no-store", "--json", "build")
	if ExitCode(err) != exitInvalid {
		t.Fatalf("Expected exit code %d, got %d (%v)", exitInvalid, ExitCode(err), err)
	}
	if !IsReported(err) {
		t.Error("Expected violations to be reported by the command")
	}

	var result struct {
		OK         bool               `json:"ok"`
		Violations []engine.Violation `json:"violations"`
	}
	if err := json.Unmarshal([]byte(stdout), &result); err != nil {
		t.Fatalf("failed to decode output %q: %v", stdout, err)
	}
	if result.OK || len(result.Violations) == 0 {
		t.Errorf("Expected violations, got %+v", result)
	}
	if result.Violations[0].Category != engine.CategoryIDPattern {
		t.Errorf("Expected id-pattern violation, got %s", result.Violations[0].Category)
	}

	data, _ := os.ReadFile(path)
	if string(data) != invalidBacklog {
		t.Error("Expected invalid backlog to be left untouched")
	}
}

func TestValidate_ReportsOnDiskProblems(t *testing.T) {
	root := t.TempDir()
	writeFile(t, backlogFile(root), legacyBacklog)

	stdout, _, err := runCLI(t, "-C", root, "--no-store", "--json", "validate")
	if ExitCode(err) != exitInvalid {
		t.Fatalf("Expected exit code %d, got %d (%v)", exitInvalid, ExitCode(err), err)
	}

	var result struct {
		Violations []engine.Violation `json:"violations"`
	}
	if err := json.Unmarshal([]byte(stdout), &result); err != nil {
		t.Fatalf("failed to decode output: %v", err)
	}

	seen := map[engine.Category]bool{}
	for _, v := range result.Violations {
		seen[v.Category] = true
	}
	for _, c := range []engine.Category{engine.CategoryLegacyField, engine.CategoryShape} {
		if !seen[c] {
			t.Errorf("Expected a %s violation, got %v", c, result.Violations)
		}
	}

	if _, _, err := runCLI(t, "-C", root, "--no-store", "build"); err != nil {
		t.Fatalf("build failed: %v", err)
	}
	if _, _, err := runCLI(t, "-C", root, "--no-store", "validate", "--schema"); err != nil {
		t.Errorf("Expected built backlog to validate against the schema, got %v", err)
	}
}

func TestPlanAndNext(t *testing.T) {
	root := t.TempDir()
	writeFile(t, backlogFile(root), legacyBacklog)

	stdout, _, err := runCLI(t, "-C", root, "--no-store", "--json", "plan")
	if err != nil {
		t.Fatalf("plan failed: %v", err)
	}

	var actions []engine.Action
	if err := json.Unmarshal([]byte(stdout), &actions); err != nil {
		t.Fatalf("failed to decode plan: %v", err)
	}
	if len(actions) != 3 {
		t.Fatalf("Expected start, progress and close actions, got %d", len(actions))
	}
	for _, a := range actions {
		if a.RelatedWorkItem != "WI-PLAN2026022701-01" {
			t.Errorf("Unexpected related item %s", a.RelatedWorkItem)
		}
	}

	stdout, _, err = runCLI(t, "-C", root, "--no-store", "next")
	if err != nil {
		t.Fatalf("next failed: %v", err)
	}
	want := "scripts/workflow/run.sh WI-PLAN2026022701-01 " + strings.TrimPrefix(actions[0].ActionToken, "workflow.")
	if !strings.Contains(stdout, want) {
		t.Errorf("Expected dry run to show %q, got %q", want, stdout)
	}

	stdout, _, err = runCLI(t, "-C", root, "--no-store", "next", "--work-item", "WI-PLAN2026022701-99")
	if err != nil {
		t.Fatalf("next failed: %v", err)
	}
	if !strings.Contains(stdout, "Nothing to do") {
		t.Errorf("Expected nothing to do for an unknown item, got %q", stdout)
	}
}

func TestRun_RecordsHistoryAndPropagatesExitCode(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "backlog.cue"), `
workspace: {
	name: "demo"
	actions: {
		"ci.verify": "sh -c 'echo verified; exit 4'"
		"docs.lint": "sh -c 'echo linted'"
	}
}
`)

	stdout, _, err := runCLI(t, "-C", root, "run", "ci.verify")
	if ExitCode(err) != 4 {
		t.Fatalf("Expected exit code 4, got %d (%v)", ExitCode(err), err)
	}
	if !strings.Contains(stdout, "verified") {
		t.Errorf("Expected action output, got %q", stdout)
	}

	if _, _, err := runCLI(t, "-C", root, "run", "docs.lint"); err != nil {
		t.Fatalf("Expected docs.lint to succeed, got %v", err)
	}

	_, _, err = runCLI(t, "-C", root, "run", "nope.token")
	if ExitCode(err) != exitInvalid {
		t.Errorf("Expected unsupported token to exit %d, got %d", exitInvalid, ExitCode(err))
	}

	_, _, err = runCLI(t, "-C", root, "run", "workflow.start")
	if ExitCode(err) != exitInvalid {
		t.Errorf("Expected missing work item to exit %d, got %d", exitInvalid, ExitCode(err))
	}

	stdout, _, err = runCLI(t, "-C", root, "--json", "history")
	if err != nil {
		t.Fatalf("history failed: %v", err)
	}

	var history struct {
		ActionRuns []struct {
			Token    string `json:"token"`
			OK       bool   `json:"ok"`
			ExitCode int    `json:"exit_code"`
		} `json:"actionRuns"`
	}
	if err := json.Unmarshal([]byte(stdout), &history); err != nil {
		t.Fatalf("failed to decode history: %v", err)
	}
	if len(history.ActionRuns) != 2 {
		t.Fatalf("Expected 2 recorded runs, got %d", len(history.ActionRuns))
	}

	byToken := map[string]int{}
	for _, r := range history.ActionRuns {
		byToken[r.Token] = r.ExitCode
	}
	if byToken["ci.verify"] != 4 || byToken["docs.lint"] != 0 {
		t.Errorf("Unexpected recorded exit codes %v", byToken)
	}
}

func TestStatus_JSON(t *testing.T) {
	root := t.TempDir()
	writeFile(t, backlogFile(root), legacyBacklog)

	stdout, _, err := runCLI(t, "-C", root, "--no-store", "--json", "status")
	if err != nil {
		t.Fatalf("status failed: %v", err)
	}

	var report statusReport
	if err := json.Unmarshal([]byte(stdout), &report); err != nil {
		t.Fatalf("failed to decode status: %v", err)
	}
	if report.Summary.WorkItemCount != 1 || report.Summary.TodoCount != 1 {
		t.Errorf("Unexpected summary %+v", report.Summary)
	}
	if report.Summary.PendingTaskCount != 3 {
		t.Errorf("Expected 3 pending tasks, got %d", report.Summary.PendingTaskCount)
	}
	if len(report.Plans) != 1 || report.Plans[0].PlanID != "PLAN-20260227-01" {
		t.Errorf("Unexpected plan rollups %+v", report.Plans)
	}

	// An open P1 task without acceptance commands draws an advisory warning.
	found := false
	for _, w := range report.PolicyWarnings {
		if w.Policy == "missing-acceptance" {
			found = true
		}
	}
	if !found {
		t.Errorf("Expected missing-acceptance warning, got %+v", report.PolicyWarnings)
	}

	out := filepath.Join(root, "artifacts", "overview.json")
	if _, _, err := runCLI(t, "-C", root, "--no-store", "status", "--out", out); err != nil {
		t.Fatalf("status --out failed: %v", err)
	}
	if _, err := os.Stat(out); err != nil {
		t.Errorf("Expected overview file to be written: %v", err)
	}
}

func TestGraph(t *testing.T) {
	root := t.TempDir()
	writeFile(t, backlogFile(root), legacyBacklog)

	stdout, _, err := runCLI(t, "-C", root, "--no-store", "graph")
	if err != nil {
		t.Fatalf("graph failed: %v", err)
	}
	if !strings.HasPrefix(stdout, "digraph") {
		t.Errorf("Expected DOT output, got %q", stdout)
	}

	_, _, err = runCLI(t, "-C", root, "--no-store", "graph", "--format", "svg")
	if ExitCode(err) != exitInvalid {
		t.Errorf("Expected unknown format to exit %d, got %d", exitInvalid, ExitCode(err))
	}
}

func TestHistory_DisabledStore(t *testing.T) {
	root := t.TempDir()

	_, _, err := runCLI(t, "-C", root, "--no-store", "history")
	if !errors.Is(err, errHistoryDisabled) {
		t.Errorf("Expected history disabled error, got %v", err)
	}
}

func TestExitCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"nil", nil, exitOK},
		{"plain", errors.New("boom"), exitFailure},
		{"validation", &engine.ValidationError{}, exitInvalid},
		{"drift", &engine.DriftError{Path: "b.json"}, exitDrift},
		{"explicit", withExitCode(7, errors.New("action failed")), 7},
		{"reported", reported(exitDrift, &engine.DriftError{Path: "b.json", Missing: true}), exitDrift},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ExitCode(tt.err); got != tt.want {
				t.Errorf("Expected exit code %d, got %d", tt.want, got)
			}
		})
	}
}

func TestWorkspaceName(t *testing.T) {
	tests := map[string]string{
		"/tmp/payments":    "payments",
		"/tmp/my project!": "my-project",
		"/":                "backlog",
	}
	for root, want := range tests {
		if got := workspaceName(root); got != want {
			t.Errorf("workspaceName(%q): expected %q, got %q", root, want, got)
		}
	}
}

func TestNextAction(t *testing.T) {
	actions := []engine.Action{
		{ID: "a", RelatedWorkItem: "WI-1", ActionToken: "custom.unknown"},
		{ID: "b", RelatedWorkItem: "WI-1", ActionToken: engine.TokenWorkflowClose},
		{ID: "c", RelatedWorkItem: "WI-2", ActionToken: engine.TokenWorkflowStart},
	}
	supported := func(token string) bool { return token != "custom.unknown" }

	if a, ok := nextAction(actions, "", supported); !ok || a.ID != "b" {
		t.Errorf("Expected first supported action b, got %+v", a)
	}
	if a, ok := nextAction(actions, "WI-2", supported); !ok || a.ID != "c" {
		t.Errorf("Expected action c for WI-2, got %+v", a)
	}
	if _, ok := nextAction(actions, "WI-3", supported); ok {
		t.Error("Expected no action for WI-3")
	}
}
