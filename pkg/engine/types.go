package engine

import (
	"encoding/json"
	"time"
)

// CurrentVersion is the canonical schema version written by the Normalizer.
const CurrentVersion = 2

// RawDocument is an unvalidated backlog document as decoded from JSON or YAML.
// Any field may be missing or carry the wrong type.
type RawDocument map[string]interface{}

// Document is the canonical backlog aggregate.
type Document struct {
	// Version is the schema version; always CurrentVersion after normalization.
	Version int `json:"version"`

	// Model is informational metadata regenerated on every normalization pass.
	Model map[string]interface{} `json:"model"`

	// Sources are paths of the documents this backlog is synchronized from.
	Sources map[string]string `json:"sources"`

	// Summary is derived from WorkItems and never hand-edited.
	Summary Summary `json:"summary"`

	// WorkItems are sorted by (PlanID, WorkItemID).
	WorkItems []WorkItem `json:"workItems"`
}

// WorkItem is one unit of trackable work.
type WorkItem struct {
	WorkItemID string                 `json:"workItemId"`
	PlanID     string                 `json:"planId"`
	Kind       Kind                   `json:"kind"`
	Title      string                 `json:"title"`
	Status     Status                 `json:"status"`
	Priority   string                 `json:"priority"`
	Owner      string                 `json:"owner"`
	LastUpdate string                 `json:"lastUpdate"`
	Detail     map[string]interface{} `json:"detail"`
	Links      Links                  `json:"links"`
	Acceptance Acceptance             `json:"acceptance"`

	// Workflow and Tracking are set only for kinds where TracksExecution is true.
	Workflow *Workflow `json:"workflow,omitempty"`
	Tracking *Tracking `json:"tracking,omitempty"`

	// LegacyID and LegacyAliases belong to the previous schema. The Normalizer
	// always clears them; they are kept here so documents decoded straight from
	// disk can be reported by the Validator.
	LegacyID      string      `json:"id,omitempty"`
	LegacyAliases interface{} `json:"aliases,omitempty"`
}

// Links holds references to other work items.
type Links struct {
	DependsOnWorkItems []string `json:"dependsOnWorkItems"`
}

// Acceptance describes how completion of an item is verified.
type Acceptance struct {
	Cmds        []string `json:"cmds"`
	EvidenceDir string   `json:"evidenceDir"`
}

// Workflow describes the branch workflow of a task or debt item.
type Workflow struct {
	BranchPrefix string   `json:"branchPrefix"`
	TriggerPaths []string `json:"triggerPaths"`
	RequiredDocs []string `json:"requiredDocs"`
	CloseChecks  string   `json:"closeChecks"`
}

// Tracking locates the event log of a task or debt item.
type Tracking struct {
	EventsFile string `json:"eventsFile"`
}

// Summary holds aggregate counts over the work items of a document.
type Summary struct {
	WorkItemCount int            `json:"workItemCount"`
	PlanCount     int            `json:"planCount"`
	StatusCount   map[Status]int `json:"statusCount"`
	KindCount     map[Kind]int   `json:"kindCount"`
}

// PlanProgress is the per-plan rollup shown by status reports.
type PlanProgress struct {
	PlanID     string  `json:"planId"`
	Total      int     `json:"total"`
	Todo       int     `json:"todo"`
	InProgress int     `json:"in_progress"`
	Blocked    int     `json:"blocked"`
	Done       int     `json:"done"`
	Completion float64 `json:"completion"`
}

// Action is a recommended next operation for a work item or the repository.
type Action struct {
	ID              string            `json:"id"`
	Title           string            `json:"title"`
	Kind            ActionKind        `json:"kind"`
	Priority        string            `json:"priority"`
	PriorityRank    int               `json:"priorityRank"`
	RelatedWorkItem string            `json:"relatedWorkItem"`
	RelatedPlan     string            `json:"relatedPlan"`
	ActionToken     string            `json:"actionToken"`
	Params          map[string]string `json:"params"`
	Reason          string            `json:"reason"`
}

// RepoState summarizes the working tree. Only IsDirty is consumed by the
// planner; the remaining fields are context for status reports.
type RepoState struct {
	Branch       string        `json:"branch"`
	Head         string        `json:"head"`
	Ahead        int           `json:"ahead"`
	Behind       int           `json:"behind"`
	IsDirty      bool          `json:"isDirty"`
	ChangedFiles []ChangedFile `json:"changedFiles"`
}

// ChangedFile is one entry of the working tree status.
type ChangedFile struct {
	Status string `json:"status"`
	Path   string `json:"path"`
}

// ActionResult is what an action executor reports back.
type ActionResult struct {
	OK        bool      `json:"ok"`
	ExitCode  int       `json:"exitCode"`
	Stdout    string    `json:"stdout"`
	Stderr    string    `json:"stderr"`
	Command   []string  `json:"command"`
	StartedAt time.Time `json:"startedAt"`
	EndedAt   time.Time `json:"endedAt"`
}

// Raw converts the document back into its untyped form so it can be fed to
// the Normalizer again.
func (d *Document) Raw() RawDocument {
	data, err := json.Marshal(d)
	if err != nil {
		return RawDocument{}
	}
	var raw RawDocument
	if err := json.Unmarshal(data, &raw); err != nil {
		return RawDocument{}
	}
	return raw
}

// IDs returns the set of work item ids present in the document.
func (d *Document) IDs() map[string]bool {
	ids := make(map[string]bool, len(d.WorkItems))
	for i := range d.WorkItems {
		ids[d.WorkItems[i].WorkItemID] = true
	}
	return ids
}

// Find returns the first work item with the given id.
func (d *Document) Find(workItemID string) (*WorkItem, bool) {
	for i := range d.WorkItems {
		if d.WorkItems[i].WorkItemID == workItemID {
			return &d.WorkItems[i], true
		}
	}
	return nil, false
}
