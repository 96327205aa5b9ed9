package engine

import (
	"math"
	"sort"
)

// UnknownPlan groups items without a plan id in plan rollups.
const UnknownPlan = "unknown"

// Summarize counts items. Out-of-enum kinds and statuses count toward
// WorkItemCount only.
func Summarize(items []WorkItem) Summary {
	s := Summary{
		WorkItemCount: len(items),
		StatusCount:   make(map[Status]int, len(AllStatuses)),
		KindCount:     make(map[Kind]int, len(AllKinds)),
	}
	for _, st := range AllStatuses {
		s.StatusCount[st] = 0
	}
	for _, k := range AllKinds {
		s.KindCount[k] = 0
	}

	plans := make(map[string]bool)
	for i := range items {
		item := &items[i]
		if item.PlanID != "" {
			plans[item.PlanID] = true
		}
		if _, ok := s.StatusCount[item.Status]; ok {
			s.StatusCount[item.Status]++
		}
		if _, ok := s.KindCount[item.Kind]; ok {
			s.KindCount[item.Kind]++
		}
	}
	s.PlanCount = len(plans)
	return s
}

// RollupPlans returns per-plan progress sorted by plan id. Completion is the
// percentage of done items rounded to one decimal.
func RollupPlans(items []WorkItem) []PlanProgress {
	byPlan := make(map[string]*PlanProgress)
	for i := range items {
		item := &items[i]
		id := item.PlanID
		if id == "" {
			id = UnknownPlan
		}
		p, ok := byPlan[id]
		if !ok {
			p = &PlanProgress{PlanID: id}
			byPlan[id] = p
		}
		p.Total++
		switch item.Status {
		case StatusTodo:
			p.Todo++
		case StatusInProgress:
			p.InProgress++
		case StatusBlocked:
			p.Blocked++
		case StatusDone:
			p.Done++
		}
	}

	out := make([]PlanProgress, 0, len(byPlan))
	for _, p := range byPlan {
		if p.Total > 0 {
			p.Completion = math.Round(float64(p.Done)/float64(p.Total)*1000) / 10
		}
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PlanID < out[j].PlanID })
	return out
}
