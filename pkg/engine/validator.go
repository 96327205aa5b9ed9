package engine

import (
	"fmt"
	"regexp"
	"strings"
)

var (
	workItemIDPattern = regexp.MustCompile(`^WI-(PLAN\d{10})-\d{2}$`)
	planIDPattern     = regexp.MustCompile(`^PLAN-\d{8}-\d{2}$`)
)

// Violation is one broken invariant.
type Violation struct {
	Category   Category `json:"category"`
	WorkItemID string   `json:"workItemId"`
	Index      int      `json:"index"`
	Message    string   `json:"message"`
}

// String formats the violation for terminal output.
func (v Violation) String() string {
	return fmt.Sprintf("[%s] %s", v.Category, v.Message)
}

// ValidWorkItemID reports whether id matches the WI-PLAN<10 digits>-<2 digits> pattern.
func ValidWorkItemID(id string) bool {
	return workItemIDPattern.MatchString(id)
}

// ValidPlanID reports whether id matches the PLAN-<8 digits>-<2 digits> pattern.
func ValidPlanID(id string) bool {
	return planIDPattern.MatchString(id)
}

// Validate checks every item of doc and returns every violation found.
// An empty result means the document is valid.
func Validate(doc *Document) []Violation {
	var out []Violation
	ids := doc.IDs()
	seen := make(map[string]bool, len(doc.WorkItems))

	for i := range doc.WorkItems {
		item := &doc.WorkItems[i]
		label := item.WorkItemID
		if label == "" {
			label = fmt.Sprintf("workItems[%d]", i)
		}
		add := func(c Category, format string, args ...interface{}) {
			out = append(out, Violation{
				Category:   c,
				WorkItemID: item.WorkItemID,
				Index:      i,
				Message:    label + ": " + fmt.Sprintf(format, args...),
			})
		}

		idMatch := workItemIDPattern.FindStringSubmatch(item.WorkItemID)
		if idMatch == nil {
			add(CategoryIDPattern, "workItemId %q does not match %s", item.WorkItemID, ModelIDPattern)
		}
		planOK := planIDPattern.MatchString(item.PlanID)
		if !planOK {
			add(CategoryPlanID, "planId %q does not match %s", item.PlanID, ModelPlanIDPattern)
		}
		if idMatch != nil && planOK && idMatch[1] != strings.ReplaceAll(item.PlanID, "-", "") {
			add(CategoryOwnership, "workItemId prefix %s does not belong to plan %s", idMatch[1], item.PlanID)
		}

		if item.WorkItemID != "" {
			if seen[item.WorkItemID] {
				add(CategoryDuplicate, "duplicate workItemId")
			}
			seen[item.WorkItemID] = true
		}

		kindErr := item.Kind.Validate()
		if kindErr != nil {
			add(CategoryKind, "%v", kindErr)
		}
		if err := item.Status.Validate(); err != nil {
			add(CategoryStatus, "%v", err)
		}
		if strings.TrimSpace(item.Title) == "" {
			add(CategoryTitle, "title is empty")
		}
		if strings.TrimSpace(item.Owner) == "" {
			add(CategoryOwner, "owner is empty")
		}

		for _, dep := range item.Links.DependsOnWorkItems {
			if !ids[dep] {
				add(CategoryDependsOn, "dependency %q does not resolve to a work item", dep)
			}
		}

		if item.LegacyID != "" {
			add(CategoryLegacyField, "legacy field %q is present", "id")
		}
		if item.LegacyAliases != nil {
			add(CategoryLegacyField, "legacy field %q is present", "aliases")
		}

		if kindErr == nil {
			want := item.Kind.TracksExecution()
			if (item.Workflow != nil) != want || (item.Tracking != nil) != want {
				if want {
					add(CategoryShape, "kind %s requires workflow and tracking blocks", item.Kind)
				} else {
					add(CategoryShape, "kind %s must not carry workflow or tracking blocks", item.Kind)
				}
			}
		}
	}
	return out
}

// Check validates doc and returns a *ValidationError carrying every violation,
// or nil when the document is valid.
func Check(doc *Document) error {
	if v := Validate(doc); len(v) > 0 {
		return &ValidationError{Violations: v}
	}
	return nil
}
