package engine

import (
	"fmt"
	"math"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"
)

var priorityPattern = regexp.MustCompile(`^P\d$`)

// Normalizer migrates raw backlog documents into the canonical schema.
// It is stateless apart from its defaults and safe for concurrent use.
type Normalizer struct {
	defaults Defaults
}

// NewNormalizer creates a Normalizer. Empty fields of d fall back to NewDefaults.
func NewNormalizer(d Defaults) *Normalizer {
	return &Normalizer{defaults: d.withFallbacks()}
}

// Normalize normalizes raw with the standard defaults.
func Normalize(raw RawDocument) *Document {
	return NewNormalizer(NewDefaults()).Normalize(raw)
}

// Normalize returns the canonical form of raw. It never fails: malformed
// fields are coerced or defaulted and invariant violations are left for the
// Validator to report.
func (n *Normalizer) Normalize(raw RawDocument) *Document {
	doc := &Document{
		Version: CurrentVersion,
		Model:   n.model(raw["model"]),
		Sources: n.sources(raw["sources"]),
	}

	records := toSlice(raw["workItems"])
	doc.WorkItems = make([]WorkItem, 0, len(records))
	for _, rec := range records {
		doc.WorkItems = append(doc.WorkItems, n.normalizeItem(toMap(rec)))
	}

	sort.SliceStable(doc.WorkItems, func(i, j int) bool {
		a, b := doc.WorkItems[i], doc.WorkItems[j]
		if a.PlanID != b.PlanID {
			return a.PlanID < b.PlanID
		}
		return a.WorkItemID < b.WorkItemID
	})

	doc.Summary = Summarize(doc.WorkItems)
	return doc
}

func (n *Normalizer) normalizeItem(rec map[string]interface{}) WorkItem {
	id := toString(rec["workItemId"])
	if id == "" {
		id = toString(rec["id"])
	}

	planID := toString(rec["planId"])
	if planID == "" {
		planID = derivePlanID(id)
	}

	kind := Kind(toToken(rec["kind"]))

	title := toString(rec["title"])
	if title == "" {
		title = id
	}
	if title == "" {
		title = n.defaults.Title
	}

	item := WorkItem{
		WorkItemID: id,
		PlanID:     planID,
		Kind:       kind,
		Title:      title,
		Status:     Status(toToken(rec["status"])),
		Priority:   n.priority(rec["priority"]),
		Owner:      orDefault(toString(rec["owner"]), n.defaults.Owner),
		LastUpdate: orDefault(toString(rec["lastUpdate"]), n.defaults.LastUpdate),
		Detail:     sanitizeMap(toMap(rec["detail"])),
	}

	links := toMap(rec["links"])
	item.Links = Links{DependsOnWorkItems: toStringSlice(links["dependsOnWorkItems"])}

	acceptance := toMap(rec["acceptance"])
	workflow := toMap(rec["workflow"])
	cmds := toStringSlice(acceptance["cmds"])
	if len(cmds) == 0 {
		cmds = toStringSlice(workflow["acceptanceCmds"])
	}
	item.Acceptance = Acceptance{
		Cmds:        cmds,
		EvidenceDir: toString(acceptance["evidenceDir"]),
	}

	if kind.TracksExecution() {
		item.Workflow = &Workflow{
			BranchPrefix: orDefault(toString(workflow["branchPrefix"]), n.defaults.BranchPrefix),
			TriggerPaths: toStringSlice(workflow["triggerPaths"]),
			RequiredDocs: toStringSlice(workflow["requiredDocs"]),
			CloseChecks:  orDefault(toString(workflow["closeChecks"]), n.defaults.CloseChecks),
		}
		tracking := toMap(rec["tracking"])
		events := toString(tracking["eventsFile"])
		if events == "" {
			events = fmt.Sprintf(n.defaults.EventsFilePattern, id)
		}
		item.Tracking = &Tracking{EventsFile: events}
	}

	return item
}

func (n *Normalizer) priority(v interface{}) string {
	p := strings.ToUpper(toString(v))
	if priorityPattern.MatchString(p) {
		return p
	}
	return n.defaults.Priority
}

func (n *Normalizer) model(v interface{}) map[string]interface{} {
	model := sanitizeMap(toMap(v))
	model["entity"] = ModelEntity
	kinds := make([]interface{}, 0, len(AllKinds))
	for _, k := range AllKinds {
		kinds = append(kinds, string(k))
	}
	model["kinds"] = kinds
	model["idPattern"] = ModelIDPattern
	model["planIdPattern"] = ModelPlanIDPattern
	model["ownership"] = ModelOwnership
	return model
}

func (n *Normalizer) sources(v interface{}) map[string]string {
	sources := make(map[string]string, len(n.defaults.Sources))
	for k, path := range n.defaults.Sources {
		sources[k] = path
	}
	for k, path := range toMap(v) {
		if s := toString(path); s != "" {
			sources[k] = s
		}
	}
	return sources
}

// derivePlanID recovers the owning plan id from a well-formed work item id.
func derivePlanID(workItemID string) string {
	m := workItemIDPattern.FindStringSubmatch(workItemID)
	if m == nil {
		return ""
	}
	digits := strings.TrimPrefix(m[1], "PLAN")
	return "PLAN-" + digits[:8] + "-" + digits[8:]
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}

// toString coerces a scalar to its trimmed string form. Non-scalars yield "".
func toString(v interface{}) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(t)
	case bool:
		return strconv.FormatBool(t)
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	case uint64:
		return strconv.FormatUint(t, 10)
	case float64:
		return formatFloat(t)
	case float32:
		return formatFloat(float64(t))
	case time.Time:
		return formatTime(t)
	case fmt.Stringer:
		return strings.TrimSpace(t.String())
	default:
		return ""
	}
}

func formatFloat(f float64) string {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return strconv.FormatFloat(f, 'g', -1, 64)
	}
	return strconv.FormatFloat(f, 'f', -1, 64)
}

// formatTime renders YAML timestamps; bare dates stay dates.
func formatTime(t time.Time) string {
	if t.Hour() == 0 && t.Minute() == 0 && t.Second() == 0 && t.Nanosecond() == 0 && t.Location() == time.UTC {
		return t.Format("2006-01-02")
	}
	return t.Format(time.RFC3339)
}

// toToken lower-cases an enum value and folds spaces and dashes into underscores.
func toToken(v interface{}) string {
	s := strings.ToLower(toString(v))
	return strings.NewReplacer(" ", "_", "-", "_").Replace(s)
}

// toStringSlice coerces a sequence to trimmed, non-empty strings, keeping order
// and duplicates. A lone scalar becomes a one-element sequence.
func toStringSlice(v interface{}) []string {
	out := []string{}
	switch t := v.(type) {
	case []interface{}:
		for _, e := range t {
			if s := toString(e); s != "" {
				out = append(out, s)
			}
		}
	case []string:
		for _, e := range t {
			if s := strings.TrimSpace(e); s != "" {
				out = append(out, s)
			}
		}
	default:
		if s := toString(t); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func toSlice(v interface{}) []interface{} {
	switch t := v.(type) {
	case []interface{}:
		return t
	case []map[string]interface{}:
		out := make([]interface{}, len(t))
		for i, m := range t {
			out[i] = m
		}
		return out
	default:
		return nil
	}
}

// toMap returns v as a string-keyed map, or nil if it is not a mapping.
func toMap(v interface{}) map[string]interface{} {
	switch t := v.(type) {
	case map[string]interface{}:
		return t
	case RawDocument:
		return t
	case map[interface{}]interface{}:
		m := make(map[string]interface{}, len(t))
		for k, val := range t {
			m[fmt.Sprint(k)] = val
		}
		return m
	default:
		return nil
	}
}

// sanitizeMap deep-copies m into JSON-compatible values. It never returns nil.
func sanitizeMap(m map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(m))
	for k, v := range m {
		out[k] = sanitize(v)
	}
	return out
}

func sanitize(v interface{}) interface{} {
	switch t := v.(type) {
	case nil, string, bool:
		return t
	case float64:
		if math.IsNaN(t) || math.IsInf(t, 0) {
			return formatFloat(t)
		}
		return t
	case float32:
		return sanitize(float64(t))
	case int:
		return float64(t)
	case int64:
		return float64(t)
	case uint64:
		return float64(t)
	case []interface{}:
		out := make([]interface{}, len(t))
		for i, e := range t {
			out[i] = sanitize(e)
		}
		return out
	case []string:
		out := make([]interface{}, len(t))
		for i, e := range t {
			out[i] = e
		}
		return out
	case time.Time:
		return formatTime(t)
	default:
		if m := toMap(t); m != nil {
			return sanitizeMap(m)
		}
		return fmt.Sprint(t)
	}
}
