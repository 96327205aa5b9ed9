package repostate

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/workitems/backlog/pkg/engine"
)

func TestParsePorcelain(t *testing.T) {
	out := []byte("## feature/parser...origin/feature/parser [ahead 2, behind 1]\n" +
		" M pkg/engine/normalizer.go\n" +
		"?? docs/plans/new.md\n" +
		"R  old/name.go -> new/name.go\n" +
		"A  \"with space.txt\"\n")

	state := ParsePorcelain(out)

	if state.Branch != "feature/parser" {
		t.Errorf("Expected branch feature/parser, got %q", state.Branch)
	}
	if state.Ahead != 2 || state.Behind != 1 {
		t.Errorf("Expected ahead 2 behind 1, got %d/%d", state.Ahead, state.Behind)
	}
	if !state.IsDirty {
		t.Error("Expected dirty tree")
	}

	want := []engine.ChangedFile{
		{Status: "M", Path: "pkg/engine/normalizer.go"},
		{Status: "??", Path: "docs/plans/new.md"},
		{Status: "R", Path: "new/name.go"},
		{Status: "A", Path: "with space.txt"},
	}
	if len(state.ChangedFiles) != len(want) {
		t.Fatalf("Expected %d changed files, got %d", len(want), len(state.ChangedFiles))
	}
	for i, w := range want {
		if state.ChangedFiles[i] != w {
			t.Errorf("Expected %+v at %d, got %+v", w, i, state.ChangedFiles[i])
		}
	}
}

func TestParsePorcelain_BranchLines(t *testing.T) {
	tests := []struct {
		line   string
		branch string
		ahead  int
		behind int
	}{
		{"## main", "main", 0, 0},
		{"## main...origin/main", "main", 0, 0},
		{"## main...origin/main [behind 4]", "main", 0, 4},
		{"## main...origin/main [ahead 3]", "main", 3, 0},
		{"## main...origin/main [gone]", "main", 0, 0},
		{"## No commits yet on trunk", "trunk", 0, 0},
		{"## HEAD (no branch)", "HEAD", 0, 0},
	}

	for _, tt := range tests {
		t.Run(tt.line, func(t *testing.T) {
			state := ParsePorcelain([]byte(tt.line + "\n"))
			if state.Branch != tt.branch || state.Ahead != tt.ahead || state.Behind != tt.behind {
				t.Errorf("Expected %s %d/%d, got %s %d/%d", tt.branch, tt.ahead, tt.behind, state.Branch, state.Ahead, state.Behind)
			}
			if state.IsDirty {
				t.Error("Expected clean tree")
			}
			if state.ChangedFiles == nil {
				t.Error("Expected empty, non-nil changed files")
			}
		})
	}
}

func TestAffectedItems(t *testing.T) {
	state := engine.RepoState{
		IsDirty: true,
		ChangedFiles: []engine.ChangedFile{
			{Status: "M", Path: "pkg/engine/normalizer.go"},
			{Status: "M", Path: "pkg/engine/render.go"},
			{Status: "M", Path: "README.md"},
		},
	}

	items := []engine.WorkItem{
		{
			WorkItemID: "WI-PLAN2026022701-02",
			Status:     engine.StatusInProgress,
			Workflow:   &engine.Workflow{TriggerPaths: []string{"pkg/engine/**"}},
		},
		{
			WorkItemID: "WI-PLAN2026022701-01",
			Status:     engine.StatusTodo,
			Workflow:   &engine.Workflow{TriggerPaths: []string{"*.md", "[bad"}},
		},
		{
			WorkItemID: "WI-PLAN2026022701-03",
			Status:     engine.StatusDone,
			Workflow:   &engine.Workflow{TriggerPaths: []string{"**"}},
		},
		{
			WorkItemID: "WI-PLAN2026022701-04",
			Status:     engine.StatusTodo,
		},
	}

	got := AffectedItems(state, items)
	if len(got) != 2 {
		t.Fatalf("Expected 2 affected items, got %+v", got)
	}
	if got[0].WorkItemID != "WI-PLAN2026022701-01" || len(got[0].Files) != 1 || got[0].Files[0] != "README.md" {
		t.Errorf("Expected README.md under -01, got %+v", got[0])
	}
	if got[1].WorkItemID != "WI-PLAN2026022701-02" || len(got[1].Files) != 2 {
		t.Errorf("Expected two engine files under -02, got %+v", got[1])
	}

	if len(AffectedItems(engine.RepoState{}, items)) != 0 {
		t.Error("Expected no affected items for a clean tree")
	}
}

func TestGitInspector_Inspect(t *testing.T) {
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not available")
	}

	dir := t.TempDir()
	ctx := context.Background()
	for _, args := range [][]string{
		{"init", "-q", "-b", "main"},
		{"config", "user.email", "dev@example.com"},
		{"config", "user.name", "dev"},
	} {
		cmd := exec.Command("git", args...)
		cmd.Dir = dir
		if out, err := cmd.CombinedOutput(); err != nil {
			t.Skipf("git %v failed: %v: %s", args, err, out)
		}
	}

	if err := os.WriteFile(filepath.Join(dir, "a.txt"), []byte("a"), 0o644); err != nil {
		t.Fatalf("failed to write file: %v", err)
	}

	state, err := NewGitInspector(dir).Inspect(ctx)
	if err != nil {
		t.Fatalf("failed to inspect: %v", err)
	}
	if state.Branch != "main" {
		t.Errorf("Expected branch main, got %q", state.Branch)
	}
	if !state.IsDirty || len(state.ChangedFiles) != 1 || state.ChangedFiles[0].Status != "??" {
		t.Errorf("Expected one untracked file, got %+v", state.ChangedFiles)
	}
	if state.Head != "" {
		t.Errorf("Expected no HEAD before the first commit, got %q", state.Head)
	}
}

func TestGitInspector_NotARepository(t *testing.T) {
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not available")
	}

	_, err := (&GitInspector{Root: t.TempDir()}).Inspect(context.Background())
	if !engine.IsTransient(err) {
		t.Errorf("Expected transient error outside a repository, got %v", err)
	}
}
