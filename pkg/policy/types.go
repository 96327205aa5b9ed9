package policy

import (
	"time"
)

// Severity represents the severity level of a policy warning.
type Severity string

const (
	// SeverityInfo is for informational messages.
	SeverityInfo Severity = "info"

	// SeverityWarning is for findings that should be reviewed.
	SeverityWarning Severity = "warning"
)

// Policy represents a policy rule with its Rego code.
type Policy struct {
	// Name is the unique name of the policy.
	Name string `json:"name"`

	// Description provides a human-readable description.
	Description string `json:"description"`

	// Rego contains the Rego policy code. Its deny set is evaluated.
	Rego string `json:"rego"`

	// Severity is the default severity for warnings.
	Severity Severity `json:"severity"`

	// Enabled indicates if the policy is active.
	Enabled bool `json:"enabled"`

	// Builtin marks policies shipped with the engine.
	Builtin bool `json:"builtin,omitempty"`

	// Tags are labels for organizing policies.
	Tags []string `json:"tags,omitempty"`

	// Metadata contains additional policy metadata.
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

// Warning is one advisory finding. Warnings never block build or check.
type Warning struct {
	// Policy is the name of the policy that produced the warning.
	Policy string `json:"policy"`

	// WorkItemID is the item the warning is about.
	WorkItemID string `json:"workItemId"`

	// Message is a human-readable description.
	Message string `json:"message"`

	// Severity is the warning severity level.
	Severity Severity `json:"severity"`

	// Details contains additional data reported by the rule.
	Details map[string]interface{} `json:"details,omitempty"`
}

// Result is the outcome of evaluating every enabled policy over a document.
type Result struct {
	// Warnings are sorted by work item, policy and message.
	Warnings []Warning `json:"warnings"`

	// EvaluatedPolicies lists the names of policies that ran, sorted.
	EvaluatedPolicies []string `json:"evaluatedPolicies"`

	// Errors lists policies that failed to evaluate.
	Errors []string `json:"errors,omitempty"`

	// EvaluatedAt is when the evaluation started.
	EvaluatedAt time.Time `json:"evaluatedAt"`

	// Duration is how long the evaluation took.
	Duration time.Duration `json:"duration"`
}

// CountByPolicy returns the number of warnings per policy name.
func (r *Result) CountByPolicy() map[string]int {
	counts := make(map[string]int)
	for i := range r.Warnings {
		counts[r.Warnings[i].Policy]++
	}
	return counts
}

// Input is the document handed to every rule as `input`.
type Input struct {
	// WorkItem is the item under evaluation in its canonical JSON shape.
	WorkItem map[string]interface{} `json:"workItem"`

	// KnownIDs holds every work item id of the document.
	KnownIDs map[string]bool `json:"knownIds"`

	// Defaults exposes the sentinel values rules compare against.
	Defaults InputDefaults `json:"defaults"`
}

// InputDefaults are the normalizer fallbacks visible to rules.
type InputDefaults struct {
	Owner    string `json:"owner"`
	Priority string `json:"priority"`
}
