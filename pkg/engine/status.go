package engine

import "fmt"

// Kind is the closed set of work item kinds.
type Kind string

const (
	// KindInitiative is a multi-plan strategic item.
	KindInitiative Kind = "initiative"

	// KindCapability is a deliverable ability of the system.
	KindCapability Kind = "capability"

	// KindTask is a concrete unit of implementation work.
	KindTask Kind = "task"

	// KindDebt is a tracked piece of technical debt.
	KindDebt Kind = "debt"
)

// AllKinds lists the valid kinds in canonical order.
var AllKinds = []Kind{KindInitiative, KindCapability, KindTask, KindDebt}

// TracksExecution returns true for kinds that carry workflow and tracking blocks.
func (k Kind) TracksExecution() bool {
	return k == KindTask || k == KindDebt
}

// Validate checks if the kind is valid.
func (k Kind) Validate() error {
	switch k {
	case KindInitiative, KindCapability, KindTask, KindDebt:
		return nil
	default:
		return fmt.Errorf("invalid kind: %q", string(k))
	}
}

// Status is the lifecycle state of a work item.
type Status string

const (
	// StatusTodo indicates work has not started.
	StatusTodo Status = "todo"

	// StatusInProgress indicates work is underway.
	StatusInProgress Status = "in_progress"

	// StatusBlocked indicates work cannot proceed.
	StatusBlocked Status = "blocked"

	// StatusDone indicates the item is retired.
	StatusDone Status = "done"
)

// AllStatuses lists the valid statuses in lifecycle order.
var AllStatuses = []Status{StatusTodo, StatusInProgress, StatusBlocked, StatusDone}

// IsTerminal returns true if the status is the final lifecycle state.
func (s Status) IsTerminal() bool {
	return s == StatusDone
}

// Validate checks if the status is valid.
func (s Status) Validate() error {
	switch s {
	case StatusTodo, StatusInProgress, StatusBlocked, StatusDone:
		return nil
	default:
		return fmt.Errorf("invalid status: %q", string(s))
	}
}

// ActionKind classifies a planned action.
type ActionKind string

const (
	// ActionKindWorkflow is an action on a task or debt item with a branch workflow.
	ActionKindWorkflow ActionKind = "workflow"

	// ActionKindRepo is a repository-level action not tied to any item.
	ActionKindRepo ActionKind = "repo"

	// ActionKindCap is an action on a planning-level item (initiative or capability).
	ActionKindCap ActionKind = "cap"
)

// Validate checks if the action kind is valid.
func (k ActionKind) Validate() error {
	switch k {
	case ActionKindWorkflow, ActionKindRepo, ActionKindCap:
		return nil
	default:
		return fmt.Errorf("invalid action kind: %q", string(k))
	}
}

// Action tokens understood by the action executor.
const (
	TokenWorkflowStart    = "workflow.start"
	TokenWorkflowProgress = "workflow.progress"
	TokenWorkflowClose    = "workflow.close"
	TokenWorkflowFull     = "workflow.full"
	TokenCIVerify         = "ci.verify"
)

// Category tags a validation violation.
type Category string

const (
	CategoryIDPattern   Category = "id-pattern"
	CategoryPlanID      Category = "plan-id"
	CategoryOwnership   Category = "ownership"
	CategoryDuplicate   Category = "duplicate"
	CategoryKind        Category = "kind"
	CategoryStatus      Category = "status"
	CategoryTitle       Category = "title"
	CategoryOwner       Category = "owner"
	CategoryDependsOn   Category = "depends-on"
	CategoryLegacyField Category = "legacy-field"
	CategoryShape       Category = "shape"
)
