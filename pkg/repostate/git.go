// Package repostate summarizes the git working tree for the planner.
package repostate

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/workitems/backlog/pkg/engine"
)

// GitInspector implements engine.RepoInspector with the git CLI.
type GitInspector struct {
	// Root is the repository working directory.
	Root string

	// Git is the git binary; empty means "git" from PATH.
	Git string
}

// NewGitInspector returns an inspector for the repository at root.
func NewGitInspector(root string) *GitInspector {
	return &GitInspector{Root: root}
}

var _ engine.RepoInspector = (*GitInspector)(nil)

// Inspect runs `git status --porcelain=v1 --branch` and resolves HEAD.
func (g *GitInspector) Inspect(ctx context.Context) (engine.RepoState, error) {
	out, err := g.run(ctx, "status", "--porcelain=v1", "--branch")
	if err != nil {
		return engine.RepoState{ChangedFiles: []engine.ChangedFile{}}, err
	}

	state := ParsePorcelain(out)

	// An unborn branch has no HEAD commit yet.
	if head, err := g.run(ctx, "rev-parse", "--short", "HEAD"); err == nil {
		state.Head = strings.TrimSpace(string(head))
	}

	return state, nil
}

func (g *GitInspector) run(ctx context.Context, args ...string) ([]byte, error) {
	bin := g.Git
	if bin == "" {
		bin = "git"
	}

	cmd := exec.CommandContext(ctx, bin, args...)
	cmd.Dir = g.Root
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	out, err := cmd.Output()
	if err != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			msg = err.Error()
		}
		return nil, engine.NewTransientError(fmt.Sprintf("git %s failed: %s", args[0], msg), err).
			WithResource(g.Root).
			WithOperation("inspect")
	}
	return out, nil
}

var trackingPattern = regexp.MustCompile(`\[(?:ahead (\d+))?(?:, )?(?:behind (\d+))?\]`)

// ParsePorcelain parses the output of `git status --porcelain=v1 --branch`.
func ParsePorcelain(out []byte) engine.RepoState {
	state := engine.RepoState{ChangedFiles: []engine.ChangedFile{}}

	scanner := bufio.NewScanner(bytes.NewReader(out))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}

		if strings.HasPrefix(line, "## ") {
			parseBranchLine(strings.TrimPrefix(line, "## "), &state)
			continue
		}

		if len(line) < 4 {
			continue
		}
		path := line[3:]
		if idx := strings.Index(path, " -> "); idx >= 0 {
			path = path[idx+len(" -> "):]
		}
		state.ChangedFiles = append(state.ChangedFiles, engine.ChangedFile{
			Status: strings.TrimSpace(line[:2]),
			Path:   unquote(path),
		})
	}

	state.IsDirty = len(state.ChangedFiles) > 0
	return state
}

func parseBranchLine(rest string, state *engine.RepoState) {
	switch {
	case strings.HasPrefix(rest, "No commits yet on "):
		state.Branch = strings.TrimPrefix(rest, "No commits yet on ")
		return
	case strings.HasPrefix(rest, "Initial commit on "):
		state.Branch = strings.TrimPrefix(rest, "Initial commit on ")
		return
	case strings.HasPrefix(rest, "HEAD (no branch)"):
		state.Branch = "HEAD"
		return
	}

	branch := rest
	if idx := strings.Index(branch, " ["); idx >= 0 {
		branch = branch[:idx]
	}
	if idx := strings.Index(branch, "..."); idx >= 0 {
		branch = branch[:idx]
	}
	state.Branch = strings.TrimSpace(branch)

	if m := trackingPattern.FindStringSubmatch(rest); m != nil {
		state.Ahead, _ = strconv.Atoi(m[1])
		state.Behind, _ = strconv.Atoi(m[2])
	}
}

// unquote undoes git's C-style quoting of paths with special characters.
func unquote(path string) string {
	if len(path) >= 2 && strings.HasPrefix(path, `"`) && strings.HasSuffix(path, `"`) {
		if s, err := strconv.Unquote(path); err == nil {
			return s
		}
	}
	return path
}

// AffectedItem lists the changed files that fall under a work item's trigger paths.
type AffectedItem struct {
	WorkItemID string   `json:"workItemId"`
	Files      []string `json:"files"`
}

// AffectedItems matches changed files against the triggerPaths globs of
// every open item that has a workflow. Invalid patterns are ignored.
func AffectedItems(state engine.RepoState, items []engine.WorkItem) []AffectedItem {
	out := []AffectedItem{}
	if len(state.ChangedFiles) == 0 {
		return out
	}

	for _, item := range items {
		if item.Status == engine.StatusDone || item.Workflow == nil || len(item.Workflow.TriggerPaths) == 0 {
			continue
		}

		var files []string
		for _, change := range state.ChangedFiles {
			if matchesAny(item.Workflow.TriggerPaths, change.Path) {
				files = append(files, change.Path)
			}
		}
		if len(files) > 0 {
			sort.Strings(files)
			out = append(out, AffectedItem{WorkItemID: item.WorkItemID, Files: files})
		}
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].WorkItemID < out[j].WorkItemID
	})
	return out
}

func matchesAny(patterns []string, path string) bool {
	for _, pattern := range patterns {
		matched, err := doublestar.Match(pattern, path)
		if err == nil && matched {
			return true
		}
	}
	return false
}
