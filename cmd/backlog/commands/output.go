package commands

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/charmbracelet/lipgloss"

	"github.com/workitems/backlog/pkg/engine"
	"github.com/workitems/backlog/pkg/policy"
)

var (
	headingStyle = lipgloss.NewStyle().Bold(true)
	okStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("#4CAF50")).Bold(true)
	errorStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#FF6B6B")).Bold(true)
	warnStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	mutedStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#888888"))
)

func printJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("failed to encode output: %w", err)
	}
	return nil
}

func printViolations(w io.Writer, violations []engine.Violation) {
	fmt.Fprintln(w, errorStyle.Render(fmt.Sprintf("%d violation(s):", len(violations))))
	for _, v := range violations {
		fmt.Fprintf(w, "  - %s\n", v.String())
	}
}

func printWarnings(w io.Writer, warnings []policy.Warning) {
	if len(warnings) == 0 {
		return
	}
	fmt.Fprintln(w, warnStyle.Render(fmt.Sprintf("%d policy warning(s):", len(warnings))))
	for _, warning := range warnings {
		fmt.Fprintf(w, "  - %s [%s] %s\n", warning.WorkItemID, warning.Policy, warning.Message)
	}
}

func printActions(w io.Writer, actions []engine.Action) {
	if len(actions) == 0 {
		fmt.Fprintln(w, mutedStyle.Render("No actions."))
		return
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "RANK\tPRIORITY\tWORK ITEM\tTOKEN\tTITLE")
	for _, a := range actions {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\n", a.PriorityRank, a.Priority, a.RelatedWorkItem, a.ActionToken, a.Title)
	}
	_ = tw.Flush()
}

func printRollups(w io.Writer, rollups []engine.PlanProgress) {
	if len(rollups) == 0 {
		return
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "PLAN\tTOTAL\tTODO\tIN PROGRESS\tBLOCKED\tDONE\tCOMPLETE")
	for _, p := range rollups {
		fmt.Fprintf(tw, "%s\t%d\t%d\t%d\t%d\t%d\t%.1f%%\n",
			p.PlanID, p.Total, p.Todo, p.InProgress, p.Blocked, p.Done, p.Completion)
	}
	_ = tw.Flush()
}

func heading(w io.Writer, title string) {
	fmt.Fprintln(w)
	fmt.Fprintln(w, headingStyle.Render(title))
}

func joinOrDash(values []string) string {
	if len(values) == 0 {
		return "-"
	}
	return strings.Join(values, ", ")
}
