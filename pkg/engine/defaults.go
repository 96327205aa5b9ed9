package engine

// Model metadata written into every normalized document.
const (
	ModelEntity        = "work_item"
	ModelIDPattern     = "WI-PLANYYYYMMDDNN-NN"
	ModelPlanIDPattern = "PLAN-YYYYMMDD-NN"
	ModelOwnership     = "every work item belongs to exactly one plan; workItemId embeds planId without separators"
)

// Defaults holds the fixed values the Normalizer falls back to.
type Defaults struct {
	// Owner is the sentinel owner for items without one.
	Owner string

	// Priority is used when the priority is absent or not a P<digit> token.
	Priority string

	// Title is used when an item has neither a title nor an id.
	Title string

	// LastUpdate is used when lastUpdate is absent.
	LastUpdate string

	// CloseChecks is the default close-check policy of task and debt items.
	CloseChecks string

	// BranchPrefix is the default branch prefix of task and debt items.
	BranchPrefix string

	// EventsFilePattern is a fmt pattern receiving the work item id.
	EventsFilePattern string

	// Sources are the default source paths; values present in the raw
	// document take precedence.
	Sources map[string]string
}

// NewDefaults returns the standard defaults.
func NewDefaults() Defaults {
	return Defaults{
		Owner:             "unassigned",
		Priority:          "P2",
		Title:             "untitled",
		LastUpdate:        "-",
		CloseChecks:       "required-docs,dependencies,adr",
		BranchPrefix:      "-",
		EventsFilePattern: "artifacts/workflow/%s/events.jsonl",
		Sources: map[string]string{
			"backlogFile":   "docs/plans/backlog.json",
			"planDirectory": "docs/plans/active",
			"techDebtFile":  "docs/architecture/tech-debt.md",
			"adrIndexFile":  "docs/adr/index.md",
		},
	}
}

// withFallbacks fills empty fields from NewDefaults so a partially populated
// Defaults never yields an incomplete document.
func (d Defaults) withFallbacks() Defaults {
	std := NewDefaults()
	if d.Owner == "" {
		d.Owner = std.Owner
	}
	if d.Priority == "" {
		d.Priority = std.Priority
	}
	if d.Title == "" {
		d.Title = std.Title
	}
	if d.LastUpdate == "" {
		d.LastUpdate = std.LastUpdate
	}
	if d.CloseChecks == "" {
		d.CloseChecks = std.CloseChecks
	}
	if d.BranchPrefix == "" {
		d.BranchPrefix = std.BranchPrefix
	}
	if d.EventsFilePattern == "" {
		d.EventsFilePattern = std.EventsFilePattern
	}
	if d.Sources == nil {
		d.Sources = std.Sources
	}
	return d
}
