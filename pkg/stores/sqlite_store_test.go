package stores

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/workitems/backlog/pkg/engine"
	"github.com/workitems/backlog/pkg/telemetry"
)

// setupTestStore creates an in-memory SQLite store for testing
func setupTestStore(t *testing.T) *SQLiteStore {
	t.Helper()

	store, err := Open(context.Background(), MemoryPath)
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	return store
}

func TestStoreLifecycle(t *testing.T) {
	if _, err := NewSQLiteStore(Config{}); err == nil {
		t.Error("expected error for empty path")
	}

	path := filepath.Join(t.TempDir(), "nested", "history.db")
	store, err := Open(context.Background(), path)
	if err != nil {
		t.Fatalf("failed to open file store: %v", err)
	}

	ctx := context.Background()
	if err := store.HealthCheck(ctx); err != nil {
		t.Fatalf("health check failed: %v", err)
	}

	// Migrating twice is a no-op.
	if err := store.Migrate(ctx); err != nil {
		t.Fatalf("second migration failed: %v", err)
	}

	if err := store.Close(); err != nil {
		t.Fatalf("failed to close store: %v", err)
	}

	var uninitialized SQLiteStore
	if err := uninitialized.HealthCheck(ctx); err == nil {
		t.Error("expected health check to fail before Init")
	}
}

func TestStoreMigrations(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	for _, table := range []string{"snapshots", "action_runs", "events"} {
		var count int
		if err := store.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+table).Scan(&count); err != nil {
			t.Errorf("table %s does not exist or is not accessible: %v", table, err)
		}
	}
}

func TestSnapshots(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	if _, err := store.LatestSnapshot(ctx, ""); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound on empty store, got %v", err)
	}

	base := time.Date(2026, 2, 27, 10, 0, 0, 0, time.UTC)
	build := &Snapshot{
		Command:      "build",
		DocumentPath: "docs/plans/backlog.json",
		DocumentHash: HashDocument([]byte("{}")),
		ItemCount:    3,
		CreatedAt:    base,
	}
	check := &Snapshot{
		Command:      "check",
		DocumentPath: "docs/plans/backlog.json",
		DocumentHash: build.DocumentHash,
		ItemCount:    3,
		Drifted:      true,
		CreatedAt:    base.Add(time.Minute),
	}
	for _, snap := range []*Snapshot{build, check} {
		if err := store.RecordSnapshot(ctx, snap); err != nil {
			t.Fatalf("failed to record snapshot: %v", err)
		}
		if snap.ID == "" {
			t.Error("expected generated snapshot ID")
		}
	}

	latest, err := store.LatestSnapshot(ctx, "")
	if err != nil {
		t.Fatalf("failed to get latest snapshot: %v", err)
	}
	if latest.ID != check.ID || !latest.Drifted {
		t.Errorf("expected latest check snapshot, got %+v", latest)
	}
	if !latest.CreatedAt.Equal(check.CreatedAt) {
		t.Errorf("expected created_at %v, got %v", check.CreatedAt, latest.CreatedAt)
	}

	latestBuild, err := store.LatestSnapshot(ctx, "build")
	if err != nil {
		t.Fatalf("failed to get latest build: %v", err)
	}
	if latestBuild.ID != build.ID || latestBuild.ItemCount != 3 || latestBuild.Drifted {
		t.Errorf("unexpected build snapshot %+v", latestBuild)
	}

	all, err := store.ListSnapshots(ctx, 0, 0)
	if err != nil {
		t.Fatalf("failed to list snapshots: %v", err)
	}
	if len(all) != 2 || all[0].ID != check.ID {
		t.Errorf("expected 2 snapshots newest first, got %d", len(all))
	}

	page, err := store.ListSnapshots(ctx, 1, 1)
	if err != nil {
		t.Fatalf("failed to page snapshots: %v", err)
	}
	if len(page) != 1 || page[0].ID != build.ID {
		t.Errorf("expected second page to hold the build snapshot")
	}
}

func TestActionRuns(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	base := time.Date(2026, 2, 27, 10, 0, 0, 0, time.UTC)
	const itemA = "WI-PLAN2026022701-01"
	const itemB = "WI-PLAN2026022701-02"

	runs := []*ActionRun{
		{Token: engine.TokenWorkflowStart, WorkItemID: itemA, OK: true, Command: []string{"run.sh", itemA, "start"}, StartedAt: base, EndedAt: base.Add(time.Second)},
		{Token: engine.TokenWorkflowProgress, WorkItemID: itemA, OK: false, ExitCode: 2, Stderr: "boom", StartedAt: base.Add(time.Hour), EndedAt: base.Add(time.Hour + time.Second)},
		{Token: engine.TokenWorkflowStart, WorkItemID: itemB, OK: true, StartedAt: base.Add(time.Minute)},
		{Token: engine.TokenCIVerify, OK: true, StartedAt: base.Add(2 * time.Hour)},
	}
	for _, run := range runs {
		if err := store.RecordActionRun(ctx, run); err != nil {
			t.Fatalf("failed to record run: %v", err)
		}
	}

	got, err := store.GetActionRun(ctx, runs[0].ID)
	if err != nil {
		t.Fatalf("failed to get run: %v", err)
	}
	if !got.OK || len(got.Command) != 3 || got.Command[2] != "start" {
		t.Errorf("unexpected run %+v", got)
	}
	if got.Duration() != time.Second {
		t.Errorf("expected 1s duration, got %v", got.Duration())
	}

	if _, err := store.GetActionRun(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}

	id := itemA
	forA, err := store.ListActionRuns(ctx, &id, 10, 0)
	if err != nil {
		t.Fatalf("failed to list runs: %v", err)
	}
	if len(forA) != 2 || forA[0].Token != engine.TokenWorkflowProgress {
		t.Errorf("expected 2 runs for %s newest first, got %d", itemA, len(forA))
	}

	everything, err := store.ListActionRuns(ctx, nil, 0, 0)
	if err != nil {
		t.Fatalf("failed to list runs: %v", err)
	}
	if len(everything) != 4 || everything[0].Token != engine.TokenCIVerify {
		t.Errorf("expected 4 runs newest first, got %d", len(everything))
	}

	latest, err := store.LatestRunsByWorkItem(ctx)
	if err != nil {
		t.Fatalf("failed to get latest runs: %v", err)
	}
	if len(latest) != 2 {
		t.Fatalf("expected latest runs for 2 items, got %d", len(latest))
	}
	if latest[itemA].Token != engine.TokenWorkflowProgress || latest[itemA].ExitCode != 2 {
		t.Errorf("unexpected latest run for %s: %+v", itemA, latest[itemA])
	}
	if latest[itemB].EndedAt.IsZero() {
		t.Error("expected EndedAt to default to StartedAt")
	}
}

func TestEvents(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	item := "WI-PLAN2026022701-01"
	events := []*Event{
		{Type: telemetry.EventTypeBuildCompleted, Level: EventLevelInfo, Message: "built"},
		{Type: telemetry.EventTypePolicyWarning, WorkItemID: &item, Level: EventLevelWarning, Message: "no owner"},
		{Type: telemetry.EventTypeDriftDetected, Level: EventLevelError, Message: "drift"},
	}
	for i, e := range events {
		e.Timestamp = time.Date(2026, 2, 27, 10, i, 0, 0, time.UTC)
		if err := store.AppendEvent(ctx, e); err != nil {
			t.Fatalf("failed to append event: %v", err)
		}
		if e.ID == 0 || e.EventID == "" {
			t.Errorf("expected generated ids, got %+v", e)
		}
	}

	all, err := store.ListEvents(ctx, EventQuery{})
	if err != nil {
		t.Fatalf("failed to list events: %v", err)
	}
	if len(all) != 3 || all[0].Type != telemetry.EventTypeDriftDetected {
		t.Errorf("expected 3 events newest first, got %d", len(all))
	}

	level := EventLevelWarning
	warnings, err := store.ListEvents(ctx, EventQuery{Level: &level})
	if err != nil {
		t.Fatalf("failed to filter events: %v", err)
	}
	if len(warnings) != 1 || warnings[0].WorkItemID == nil || *warnings[0].WorkItemID != item {
		t.Errorf("expected one warning for %s, got %+v", item, warnings)
	}

	typ := telemetry.EventTypeBuildCompleted
	builds, err := store.ListEvents(ctx, EventQuery{Type: &typ, Limit: 5})
	if err != nil {
		t.Fatalf("failed to filter events: %v", err)
	}
	if len(builds) != 1 || builds[0].WorkItemID != nil {
		t.Errorf("expected one build event without work item, got %+v", builds)
	}

	bad := &Event{Type: "x", Level: "fatal", Message: "nope"}
	if err := store.AppendEvent(ctx, bad); err == nil {
		t.Error("expected level check constraint to reject event")
	}
}

func TestPrune(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	old := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	recent := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)

	_ = store.RecordSnapshot(ctx, &Snapshot{Command: "build", CreatedAt: old})
	_ = store.RecordSnapshot(ctx, &Snapshot{Command: "build", CreatedAt: recent})
	_ = store.RecordActionRun(ctx, &ActionRun{Token: engine.TokenCIVerify, StartedAt: old})
	_ = store.AppendEvent(ctx, &Event{Type: "x", Level: EventLevelInfo, Message: "old", Timestamp: old})

	removed, err := store.Prune(ctx, time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("failed to prune: %v", err)
	}
	if removed != 3 {
		t.Errorf("expected 3 rows removed, got %d", removed)
	}

	snaps, _ := store.ListSnapshots(ctx, 0, 0)
	if len(snaps) != 1 {
		t.Errorf("expected 1 snapshot to survive, got %d", len(snaps))
	}
}

func TestNewActionRun(t *testing.T) {
	start := time.Date(2026, 2, 27, 10, 0, 0, 0, time.UTC)
	result := &engine.ActionResult{
		OK:        false,
		ExitCode:  -1,
		Command:   []string{"sleep", "10"},
		StartedAt: start,
		EndedAt:   start.Add(time.Second),
	}

	run := NewActionRun("slow", "", result, errors.New("timed out"))
	if run.OK || run.Error == nil || *run.Error != "timed out" {
		t.Errorf("expected failed run with error, got %+v", run)
	}
	if run.Command[0] != "sleep" || !run.StartedAt.Equal(start) {
		t.Errorf("expected result fields to carry over, got %+v", run)
	}

	never := NewActionRun(engine.TokenCIVerify, "", nil, errors.New("no such file"))
	if never.ExitCode != -1 || never.StartedAt.IsZero() || never.Command == nil {
		t.Errorf("unexpected run for a command that never started: %+v", never)
	}
}

func TestEventSink(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	publisher, err := telemetry.NewEventPublisher(telemetry.EventsConfig{Enabled: true})
	if err != nil {
		t.Fatalf("failed to create publisher: %v", err)
	}
	publisher.Subscribe(EventSink(ctx, store, zerolog.Nop()), nil)

	if err := publisher.PublishActionExecuted("WI-PLAN2026022701-01", engine.TokenCIVerify, false, 3, time.Second); err != nil {
		t.Fatalf("failed to publish: %v", err)
	}
	if err := publisher.Shutdown(ctx); err != nil {
		t.Fatalf("failed to shut down publisher: %v", err)
	}

	events, err := store.ListEvents(ctx, EventQuery{})
	if err != nil {
		t.Fatalf("failed to list events: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("expected 1 persisted event, got %d", len(events))
	}
	e := events[0]
	if e.Type != telemetry.EventTypeActionExecuted || e.Details == nil || e.WorkItemID == nil {
		t.Errorf("unexpected persisted event %+v", e)
	}
}
