package source

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/workitems/backlog/pkg/engine"
)

func TestFileSource_LoadJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "backlog.json")
	content := `{"workItems": [{"workItemId": "WI-PLAN2026022701-01", "status": "todo", "weight": 3}]}`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write fixture: %v", err)
	}

	raw, err := NewFileSource(path).Load(context.Background())
	if err != nil {
		t.Fatalf("failed to load: %v", err)
	}

	items, ok := raw["workItems"].([]interface{})
	if !ok || len(items) != 1 {
		t.Fatalf("Expected one work item, got %v", raw["workItems"])
	}
	item := items[0].(map[string]interface{})
	if item["weight"] != float64(3) {
		t.Errorf("Expected JSON number as float64, got %T", item["weight"])
	}
}

func TestFileSource_LoadYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "backlog.yaml")
	content := `
workItems:
  - workItemId: WI-PLAN2026022701-01
    kind: Task
    lastUpdate: 2026-02-27
    links:
      dependsOnWorkItems: WI-PLAN2026022701-02
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write fixture: %v", err)
	}

	raw, err := NewFileSource(path).Load(context.Background())
	if err != nil {
		t.Fatalf("failed to load: %v", err)
	}

	item := raw["workItems"].([]interface{})[0].(map[string]interface{})
	if _, ok := item["lastUpdate"].(string); !ok {
		t.Errorf("Expected YAML timestamp to stay a string, got %T", item["lastUpdate"])
	}

	doc := engine.Normalize(raw)
	wi := doc.WorkItems[0]
	if wi.LastUpdate != "2026-02-27" {
		t.Errorf("Expected lastUpdate 2026-02-27, got %s", wi.LastUpdate)
	}
	if wi.Kind != engine.KindTask {
		t.Errorf("Expected kind task, got %s", wi.Kind)
	}
	if len(wi.Links.DependsOnWorkItems) != 1 {
		t.Errorf("Expected scalar dependency coerced to a list, got %v", wi.Links.DependsOnWorkItems)
	}
}

func TestFileSource_Missing(t *testing.T) {
	s := NewFileSource(filepath.Join(t.TempDir(), "nope.json"))

	_, err := s.Load(context.Background())
	if !engine.IsNotFound(err) {
		t.Fatalf("Expected not-found error, got %v", err)
	}

	data, exists, err := s.ReadCanonical(context.Background())
	if err != nil || exists || data != nil {
		t.Errorf("Expected (nil, false, nil), got (%v, %v, %v)", data, exists, err)
	}
}

func TestDecode_Errors(t *testing.T) {
	tests := []struct {
		name string
		file string
		data string
	}{
		{"malformed json", "b.json", `{"workItems": [`},
		{"top-level array", "b.json", `[1, 2]`},
		{"trailing data", "b.json", `{} {}`},
		{"empty json", "b.json", ``},
		{"yaml list", "b.yaml", "- a\n- b\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode(tt.file, []byte(tt.data))
			if err == nil {
				t.Fatal("Expected decode error")
			}
			if !engine.IsPermanent(err) {
				t.Errorf("Expected permanent error, got %v", err)
			}
		})
	}

	raw, err := Decode("b.yml", []byte(""))
	if err != nil || len(raw) != 0 {
		t.Errorf("Expected empty YAML to decode to an empty document, got %v, %v", raw, err)
	}
}

func TestPersist(t *testing.T) {
	path := filepath.Join(t.TempDir(), "docs", "plans", "backlog.json")
	s := NewFileSource(path)

	if err := s.Persist(context.Background(), []byte("{}\n")); err != nil {
		t.Fatalf("failed to persist: %v", err)
	}
	if err := s.Persist(context.Background(), []byte("{\"version\": 2}\n")); err != nil {
		t.Fatalf("failed to overwrite: %v", err)
	}

	data, exists, err := s.ReadCanonical(context.Background())
	if err != nil || !exists {
		t.Fatalf("Expected document to exist, got %v, %v", exists, err)
	}
	if string(data) != "{\"version\": 2}\n" {
		t.Errorf("Expected overwritten content, got %q", data)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("failed to stat: %v", err)
	}
	if info.Mode().Perm() != filePerms {
		t.Errorf("Expected mode %o, got %o", filePerms, info.Mode().Perm())
	}

	entries, _ := os.ReadDir(filepath.Dir(path))
	if len(entries) != 1 {
		t.Errorf("Expected no temporary files left behind, got %d entries", len(entries))
	}
}

func TestPersist_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	path := filepath.Join(t.TempDir(), "b.json")
	if err := NewFileSource(path).Persist(ctx, []byte("{}")); err == nil {
		t.Fatal("Expected cancelled context to abort persist")
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Error("Expected nothing to be written")
	}
}
