package engine

import (
	"fmt"
	"sort"
	"strconv"
)

// LowestPriorityRank is the rank of an absent or unparseable priority.
const LowestPriorityRank = 99

// Repository-level action defaults.
const (
	RepoActionID       = "repo-verify"
	RepoActionPriority = "P1"
	repoRelatedNone    = "-"
)

// DefaultPlanner implements the Planner interface.
// It derives the action queue from item status and the working tree state.
type DefaultPlanner struct{}

// NewPlanner creates a new default planner implementation.
func NewPlanner() *DefaultPlanner {
	return &DefaultPlanner{}
}

// Plan returns the ordered action queue for doc. Done items yield nothing;
// every other item yields progress and close actions, plus a start action
// while it is still todo. A dirty working tree adds one repository-level
// verification action.
func (p *DefaultPlanner) Plan(doc *Document, repo RepoState) []Action {
	var actions []Action
	if doc != nil {
		for i := range doc.WorkItems {
			actions = append(actions, itemActions(&doc.WorkItems[i])...)
		}
	}

	if repo.IsDirty {
		actions = append(actions, Action{
			ID:              RepoActionID,
			Title:           "Verify working tree changes",
			Kind:            ActionKindRepo,
			Priority:        RepoActionPriority,
			PriorityRank:    PriorityRank(RepoActionPriority),
			RelatedWorkItem: repoRelatedNone,
			RelatedPlan:     repoRelatedNone,
			ActionToken:     TokenCIVerify,
			Params:          map[string]string{},
			Reason:          fmt.Sprintf("working tree has %d uncommitted change(s)", len(repo.ChangedFiles)),
		})
	}

	SortActions(actions)
	return actions
}

func itemActions(item *WorkItem) []Action {
	if item.Status == StatusDone {
		return nil
	}

	kind := ActionKindCap
	if item.Kind.TracksExecution() {
		kind = ActionKindWorkflow
	}
	priority := item.Priority
	if priority == "" {
		priority = fmt.Sprintf("P%d", LowestPriorityRank)
	}
	rank := PriorityRank(priority)

	mk := func(suffix, verb, token, reason string) Action {
		return Action{
			ID:              item.WorkItemID + "-" + suffix,
			Title:           fmt.Sprintf("%s %s: %s", verb, item.WorkItemID, item.Title),
			Kind:            kind,
			Priority:        priority,
			PriorityRank:    rank,
			RelatedWorkItem: item.WorkItemID,
			RelatedPlan:     item.PlanID,
			ActionToken:     token,
			Params:          map[string]string{"workItemId": item.WorkItemID},
			Reason:          reason,
		}
	}

	var out []Action
	if item.Status == StatusTodo {
		out = append(out, mk("start", "Start", TokenWorkflowStart, "item is todo"))
	}
	out = append(out,
		mk("progress", "Progress", TokenWorkflowProgress, fmt.Sprintf("item is %s", item.Status)),
		mk("close", "Attempt close", TokenWorkflowClose, "close checks decide whether the item can be retired"),
	)
	return out
}

// PriorityRank parses a P<digit> priority. Anything else ranks LowestPriorityRank.
func PriorityRank(priority string) int {
	if len(priority) < 2 || priority[0] != 'P' {
		return LowestPriorityRank
	}
	n, err := strconv.Atoi(priority[1:])
	if err != nil || n < 0 {
		return LowestPriorityRank
	}
	return n
}

// SortActions orders actions by rank, related work item and id.
func SortActions(actions []Action) {
	sort.SliceStable(actions, func(i, j int) bool {
		a, b := actions[i], actions[j]
		if a.PriorityRank != b.PriorityRank {
			return a.PriorityRank < b.PriorityRank
		}
		if a.RelatedWorkItem != b.RelatedWorkItem {
			return a.RelatedWorkItem < b.RelatedWorkItem
		}
		return a.ID < b.ID
	})
}
