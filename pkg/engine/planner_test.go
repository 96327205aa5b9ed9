package engine

import (
	"fmt"
	"math/rand"
	"testing"
)

func planFixture(t *testing.T) *Document {
	t.Helper()
	return Normalize(decodeRaw(t, `{"workItems":[
		{"workItemId":"WI-PLAN2026022701-01","kind":"task","status":"todo","priority":"P1","title":"First"},
		{"workItemId":"WI-PLAN2026022701-02","kind":"task","status":"in_progress","priority":"P2"},
		{"workItemId":"WI-PLAN2026022701-03","kind":"debt","status":"done","priority":"P0"},
		{"workItemId":"WI-PLAN2026022701-04","kind":"capability","status":"blocked","priority":"P2"},
		{"workItemId":"WI-PLAN2026022701-05","kind":"initiative","status":"todo"}
	]}`))
}

func TestPlan_TaskScenario(t *testing.T) {
	doc := planFixture(t)

	actions := NewPlanner().Plan(doc, RepoState{})

	start := -1
	firstP2 := len(actions)
	for i, a := range actions {
		if a.ActionToken == TokenWorkflowStart && a.RelatedWorkItem == "WI-PLAN2026022701-01" {
			start = i
		}
		if a.PriorityRank == 2 && i < firstP2 {
			firstP2 = i
		}
	}
	if start < 0 {
		t.Fatalf("Expected a start action for the P1 item, got %v", actions)
	}
	if start > firstP2 {
		t.Errorf("Expected start action at %d ahead of the first P2 action at %d", start, firstP2)
	}
	a := actions[start]
	if a.PriorityRank != 1 {
		t.Errorf("Expected rank 1, got %d", a.PriorityRank)
	}
	if a.Kind != ActionKindWorkflow {
		t.Errorf("Expected workflow kind, got %s", a.Kind)
	}
	if a.Params["workItemId"] != "WI-PLAN2026022701-01" {
		t.Errorf("Expected workItemId param, got %v", a.Params)
	}
	if a.ID != "WI-PLAN2026022701-01-start" {
		t.Errorf("Unexpected action id %s", a.ID)
	}
}

func TestPlan_DerivationRules(t *testing.T) {
	doc := planFixture(t)

	actions := NewPlanner().Plan(doc, RepoState{})

	byItem := make(map[string][]string)
	for _, a := range actions {
		byItem[a.RelatedWorkItem] = append(byItem[a.RelatedWorkItem], a.ActionToken)
	}

	if _, ok := byItem["WI-PLAN2026022701-03"]; ok {
		t.Error("Expected no actions for a done item")
	}
	if got := len(byItem["WI-PLAN2026022701-01"]); got != 3 {
		t.Errorf("Expected start, progress and close for a todo item, got %d", got)
	}
	if got := len(byItem["WI-PLAN2026022701-02"]); got != 2 {
		t.Errorf("Expected progress and close for an in-progress item, got %d", got)
	}
	if got := len(byItem["WI-PLAN2026022701-04"]); got != 2 {
		t.Errorf("Expected progress and close for a blocked item, got %d", got)
	}
	if len(actions) != 10 {
		t.Errorf("Expected 10 actions, got %d", len(actions))
	}

	for _, a := range actions {
		if a.RelatedWorkItem == "WI-PLAN2026022701-04" && a.Kind != ActionKindCap {
			t.Errorf("Expected cap kind for a capability, got %s", a.Kind)
		}
		if a.RelatedWorkItem == "WI-PLAN2026022701-05" && a.PriorityRank != 2 {
			t.Errorf("Expected default priority rank 2, got %d", a.PriorityRank)
		}
	}
}

func TestPlan_DirtyRepoEmptyBacklog(t *testing.T) {
	doc := Normalize(RawDocument{})

	actions := NewPlanner().Plan(doc, RepoState{IsDirty: true})

	if len(actions) != 1 {
		t.Fatalf("Expected exactly 1 action, got %d", len(actions))
	}
	a := actions[0]
	if a.Kind != ActionKindRepo || a.ActionToken != TokenCIVerify {
		t.Errorf("Expected repo verification action, got %+v", a)
	}
	if a.PriorityRank != 1 || a.ID != RepoActionID {
		t.Errorf("Unexpected repo action %+v", a)
	}
}

func TestPlan_CleanRepoNoRepoAction(t *testing.T) {
	actions := NewPlanner().Plan(Normalize(RawDocument{}), RepoState{IsDirty: false, Branch: "main"})

	if len(actions) != 0 {
		t.Errorf("Expected no actions, got %v", actions)
	}
}

func TestPlan_OrderingProperty(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	statuses := []string{"todo", "in_progress", "blocked", "done", "bogus"}
	priorities := []string{"P0", "P1", "P2", "P5", "", "high"}

	items := make([]interface{}, 0, 40)
	for i := 0; i < 40; i++ {
		items = append(items, map[string]interface{}{
			"workItemId": fmt.Sprintf("WI-PLAN20260227%02d-%02d", rng.Intn(5), rng.Intn(30)),
			"kind":       "task",
			"status":     statuses[rng.Intn(len(statuses))],
			"priority":   priorities[rng.Intn(len(priorities))],
		})
	}
	doc := Normalize(RawDocument{"workItems": items})

	actions := NewPlanner().Plan(doc, RepoState{IsDirty: true})

	for i := 1; i < len(actions); i++ {
		a, b := actions[i-1], actions[i]
		if a.PriorityRank > b.PriorityRank {
			t.Fatalf("Rank order broken at %d: %d > %d", i, a.PriorityRank, b.PriorityRank)
		}
		if a.PriorityRank == b.PriorityRank && a.RelatedWorkItem > b.RelatedWorkItem {
			t.Fatalf("Related item order broken at %d: %s > %s", i, a.RelatedWorkItem, b.RelatedWorkItem)
		}
		if a.PriorityRank == b.PriorityRank && a.RelatedWorkItem == b.RelatedWorkItem && a.ID > b.ID {
			t.Fatalf("Id order broken at %d: %s > %s", i, a.ID, b.ID)
		}
	}

	again := NewPlanner().Plan(doc, RepoState{IsDirty: true})
	if len(again) != len(actions) {
		t.Fatalf("Expected reproducible output")
	}
	for i := range actions {
		if actions[i].ID != again[i].ID {
			t.Fatalf("Expected identical order at %d: %s vs %s", i, actions[i].ID, again[i].ID)
		}
	}
}

func TestPriorityRank(t *testing.T) {
	tests := []struct {
		priority string
		want     int
	}{
		{"P0", 0},
		{"P1", 1},
		{"P9", 9},
		{"P12", 12},
		{"", LowestPriorityRank},
		{"P", LowestPriorityRank},
		{"high", LowestPriorityRank},
		{"Px", LowestPriorityRank},
		{"P-1", LowestPriorityRank},
	}

	for _, tt := range tests {
		if got := PriorityRank(tt.priority); got != tt.want {
			t.Errorf("PriorityRank(%q) = %d, want %d", tt.priority, got, tt.want)
		}
	}
}

func TestPlan_NilDocument(t *testing.T) {
	if actions := NewPlanner().Plan(nil, RepoState{}); len(actions) != 0 {
		t.Errorf("Expected no actions for nil document, got %v", actions)
	}
}
