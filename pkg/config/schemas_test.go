package config

import (
	"context"
	"strings"
	"testing"
)

func TestSchemaRegistry_RegisterAndGet(t *testing.T) {
	sr := NewSchemaRegistry()

	customSchema := `
#CustomType: {
	field1: string
	field2: int
}
`

	if err := sr.RegisterDefinition("custom", customSchema, "#CustomType"); err != nil {
		t.Fatalf("failed to register schema: %v", err)
	}

	schema, ok := sr.GetSchema("custom")
	if !ok {
		t.Fatal("expected to find custom schema")
	}
	if schema.Err() != nil {
		t.Errorf("schema has errors: %v", schema.Err())
	}

	if err := sr.RegisterDefinition("broken", customSchema, "#Missing"); err == nil {
		t.Error("expected missing definition to fail")
	}
	if err := sr.RegisterSchema("bad", "field: {"); err == nil {
		t.Error("expected syntax error")
	}
}

func TestSchemaRegistry_BuiltInSchemas(t *testing.T) {
	sr := NewSchemaRegistry()

	names := sr.ListSchemas()
	if len(names) != 2 || names[0] != SchemaBacklog || names[1] != SchemaWorkspace {
		t.Fatalf("expected [backlog workspace], got %v", names)
	}

	for _, name := range names {
		schema, _ := sr.GetSchema(name)
		if schema.Err() != nil {
			t.Errorf("built-in schema %s has errors: %v", name, schema.Err())
		}
	}
}

func TestSchemaRegistry_ValidateAgainstSchema(t *testing.T) {
	sr := NewSchemaRegistry()
	ctx := context.Background()

	if err := sr.RegisterSchema("pair", `{a: string, b: int}`); err != nil {
		t.Fatalf("failed to register schema: %v", err)
	}

	if err := sr.ValidateAgainstSchema(ctx, "pair", map[string]interface{}{"a": "x", "b": 1}); err != nil {
		t.Errorf("expected valid data, got %v", err)
	}
	if err := sr.ValidateAgainstSchema(ctx, "pair", map[string]interface{}{"a": 1, "b": 1}); err == nil {
		t.Error("expected type mismatch")
	}
	if err := sr.ValidateAgainstSchema(ctx, "nope", nil); err == nil {
		t.Error("expected unknown schema error")
	}
}

const canonicalBacklog = `{
  "version": 2,
  "model": {"entity": "work_item"},
  "sources": {"backlogFile": "docs/plans/backlog.json"},
  "summary": {
    "workItemCount": 2,
    "planCount": 1,
    "statusCount": {"blocked": 0, "done": 0, "in_progress": 0, "todo": 2},
    "kindCount": {"capability": 1, "debt": 0, "initiative": 0, "task": 1}
  },
  "workItems": [
    {
      "workItemId": "WI-PLAN2026022701-01",
      "planId": "PLAN-20260227-01",
      "kind": "capability",
      "title": "Parser",
      "status": "todo",
      "priority": "P2",
      "owner": "unassigned",
      "lastUpdate": "-",
      "detail": {},
      "links": {"dependsOnWorkItems": []},
      "acceptance": {"cmds": [], "evidenceDir": ""}
    },
    {
      "workItemId": "WI-PLAN2026022701-02",
      "planId": "PLAN-20260227-01",
      "kind": "task",
      "title": "Wire the parser",
      "status": "todo",
      "priority": "P1",
      "owner": "unassigned",
      "lastUpdate": "-",
      "detail": {"notes": "x"},
      "links": {"dependsOnWorkItems": ["WI-PLAN2026022701-01"]},
      "acceptance": {"cmds": ["go test ./..."], "evidenceDir": ""},
      "workflow": {"branchPrefix": "-", "triggerPaths": [], "requiredDocs": [], "closeChecks": "required-docs,dependencies,adr"},
      "tracking": {"eventsFile": "artifacts/workflow/WI-PLAN2026022701-02/events.jsonl"}
    }
  ]
}`

func TestSchemaRegistry_CheckJSON(t *testing.T) {
	sr := NewSchemaRegistry()
	ctx := context.Background()

	errs, err := sr.CheckJSON(ctx, SchemaBacklog, "backlog.json", []byte(canonicalBacklog))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(errs) != 0 {
		t.Fatalf("expected canonical document to pass, got %v", errs)
	}

	tests := []struct {
		name string
		from string
		to   string
	}{
		{"legacy id", `"workItemId": "WI-PLAN2026022701-01",`, `"workItemId": "WI-PLAN2026022701-01", "id": "old",`},
		{"bad status", `"status": "todo",
      "priority": "P2"`, `"status": "open",
      "priority": "P2"`},
		{"task without workflow", `"workflow": {"branchPrefix": "-", "triggerPaths": [], "requiredDocs": [], "closeChecks": "required-docs,dependencies,adr"},`, ``},
		{"float version", `"version": 2,`, `"version": 2.5,`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			doc := replaceOnce(t, canonicalBacklog, tt.from, tt.to)
			errs, err := sr.CheckJSON(ctx, SchemaBacklog, "backlog.json", []byte(doc))
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if len(errs) == 0 {
				t.Error("expected schema errors")
			}
		})
	}

	if _, err := sr.CheckJSON(ctx, SchemaBacklog, "backlog.json", []byte("{")); err == nil {
		t.Error("expected malformed JSON to fail")
	}
}

func replaceOnce(t *testing.T, s, from, to string) string {
	t.Helper()
	idx := strings.Index(s, from)
	if idx < 0 {
		t.Fatalf("fixture does not contain %q", from)
	}
	return s[:idx] + to + s[idx+len(from):]
}
