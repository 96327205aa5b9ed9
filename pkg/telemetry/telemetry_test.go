package telemetry

import (
	"bytes"
	"context"
	"errors"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestConfig_Validate(t *testing.T) {
	if err := DefaultConfig().Validate(); err != nil {
		t.Fatalf("Expected default config to be valid, got %v", err)
	}
	if err := CIConfig().Validate(); err != nil {
		t.Fatalf("Expected CI config to be valid, got %v", err)
	}

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"empty service", func(c *Config) { c.ServiceName = "" }},
		{"bad level", func(c *Config) { c.Logging.Level = "loud" }},
		{"bad format", func(c *Config) { c.Logging.Format = "xml" }},
		{"otlp without endpoint", func(c *Config) { c.Tracing.Enabled = true; c.Tracing.Exporter = "otlp" }},
		{"sampling out of range", func(c *Config) { c.Tracing.SamplingRate = 1.5 }},
		{"metrics without address", func(c *Config) { c.Metrics.Enabled = true; c.Metrics.ListenAddress = "" }},
		{"async without buffer", func(c *Config) { c.Events.EnableAsync = true; c.Events.BufferSize = 0 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("Expected validation error")
			}
		})
	}
}

func TestLogger_Fields(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLoggerWithWriter(LoggingConfig{Level: "debug", Format: "json"}, &buf)

	logger.NewComponentLogger("executor").
		WithWorkItemID("WI-PLAN2026022701-01").
		WithActionToken("workflow.start").
		Info("starting action")

	out := buf.String()
	for _, want := range []string{`"component":"executor"`, `"work_item_id":"WI-PLAN2026022701-01"`, `"action_token":"workflow.start"`, `"message":"starting action"`} {
		if !strings.Contains(out, want) {
			t.Errorf("Expected %s in %s", want, out)
		}
	}
}

func TestLogger_Level(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLoggerWithWriter(LoggingConfig{Level: "warn", Format: "json"}, &buf)

	logger.Info("hidden")
	logger.Warn("shown")

	if strings.Contains(buf.String(), "hidden") {
		t.Error("Expected info message to be filtered")
	}
	if !strings.Contains(buf.String(), "shown") {
		t.Error("Expected warn message to be written")
	}
}

func TestFromContext_Default(t *testing.T) {
	logger := FromContext(context.Background())
	if logger == nil {
		t.Fatal("Expected a no-op logger")
	}
	logger.Info("discarded")
}

func TestEventPublisher_Sync(t *testing.T) {
	ep, err := NewEventPublisher(EventsConfig{Enabled: true})
	if err != nil {
		t.Fatalf("failed to create publisher: %v", err)
	}

	var got []Event
	ep.Subscribe(func(e Event) { got = append(got, e) }, FilterByType(EventTypeDriftDetected, EventTypePolicyWarning))

	_ = ep.PublishBuildCompleted("docs/plans/backlog.json", 3, true)
	_ = ep.PublishDriftDetected("docs/plans/backlog.json", false)
	_ = ep.PublishPolicyWarning("WI-PLAN2026022701-01", "self-dependency", "depends on itself")

	if len(got) != 2 {
		t.Fatalf("Expected 2 delivered events, got %d", len(got))
	}
	if got[0].Type != EventTypeDriftDetected || got[0].Level != EventLevelWarning {
		t.Errorf("Expected drift warning first, got %s/%s", got[0].Type, got[0].Level)
	}
	if got[1].WorkItemID != "WI-PLAN2026022701-01" {
		t.Errorf("Expected work item on policy event, got %q", got[1].WorkItemID)
	}
	if got[0].ID == "" || got[0].Timestamp.IsZero() {
		t.Error("Expected ID and timestamp to be assigned")
	}
}

func TestEventPublisher_AsyncFlushOnShutdown(t *testing.T) {
	ep, err := NewEventPublisher(EventsConfig{Enabled: true, EnableAsync: true, BufferSize: 16})
	if err != nil {
		t.Fatalf("failed to create publisher: %v", err)
	}

	received := make(chan Event, 16)
	ep.Subscribe(func(e Event) { received <- e }, nil)

	for i := 0; i < 5; i++ {
		if err := ep.PublishActionExecuted("WI-PLAN2026022701-01", "workflow.start", true, 0, time.Millisecond); err != nil {
			t.Fatalf("failed to publish: %v", err)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := ep.Shutdown(ctx); err != nil {
		t.Fatalf("failed to shut down: %v", err)
	}

	if len(received) != 5 {
		t.Errorf("Expected 5 events after shutdown, got %d", len(received))
	}
	if err := ep.PublishPolicyWarning("", "x", "late"); err == nil {
		t.Error("Expected publish after shutdown to fail")
	}
}

func TestEventPublisher_Disabled(t *testing.T) {
	ep, _ := NewEventPublisher(EventsConfig{Enabled: false})
	called := false
	ep.Subscribe(func(Event) { called = true }, nil)

	if err := ep.PublishCheckFailed("b.json", "drift"); err != nil {
		t.Fatalf("Expected nil error, got %v", err)
	}
	if called {
		t.Error("Expected no delivery when disabled")
	}
	if err := ep.Shutdown(context.Background()); err != nil {
		t.Errorf("Expected clean shutdown, got %v", err)
	}
}

func TestFilterByLevel(t *testing.T) {
	f := FilterByLevel(EventLevelWarning)
	if f(Event{Level: EventLevelInfo}) {
		t.Error("Expected info to be filtered")
	}
	if !f(Event{Level: EventLevelError}) {
		t.Error("Expected error to pass")
	}
	if !FilterByWorkItem("a")(Event{WorkItemID: "a"}) {
		t.Error("Expected work item filter to match")
	}
}

func TestMetrics_Disabled(t *testing.T) {
	m, err := NewMetrics(MetricsConfig{Enabled: false})
	if err != nil {
		t.Fatalf("failed to create metrics: %v", err)
	}
	if m.Enabled() {
		t.Error("Expected disabled metrics")
	}
	m.RecordCommand("build", nil, time.Second)
	m.RecordViolation("kind")
	m.RecordActionRun("workflow.start", true, time.Second)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	if rec.Code != 404 {
		t.Errorf("Expected 404 from disabled handler, got %d", rec.Code)
	}
}

func TestMetrics_Exposition(t *testing.T) {
	m, err := NewMetrics(MetricsConfig{Enabled: true, Namespace: "backlog", Path: "/metrics"})
	if err != nil {
		t.Fatalf("failed to create metrics: %v", err)
	}

	m.RecordCommand("check", errors.New("drift"), 10*time.Millisecond)
	m.RecordViolation("depends-on")
	m.RecordDriftCheck("drifted")
	m.SetWorkItemCount("task", "todo", 3)
	m.SetActionsPlanned(4)
	m.RecordActionRun("ci.verify", false, time.Second)
	m.RecordPolicyWarning("self-dependency")
	m.RecordError("permanent", "DRIFT")

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body := rec.Body.String()

	for _, want := range []string{
		`backlog_commands_total{command="check",result="error"} 1`,
		`backlog_validation_violations_total{category="depends-on"} 1`,
		`backlog_work_items{kind="task",status="todo"} 3`,
		`backlog_actions_planned 4`,
		`backlog_action_runs_total{ok="false",token="ci.verify"} 1`,
		`backlog_errors_by_code_total{code="DRIFT"} 1`,
	} {
		if !strings.Contains(body, want) {
			t.Errorf("Expected %s in exposition", want)
		}
	}
}

func TestRecordActionExecution(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Metrics.Enabled = true
	tel, err := NewTelemetryWithLogger(cfg, NopLogger())
	if err != nil {
		t.Fatalf("failed to create telemetry: %v", err)
	}
	defer tel.Shutdown(context.Background())

	var events []Event
	tel.Events.Subscribe(func(e Event) { events = append(events, e) }, nil)

	ctx := tel.WithContext(context.Background())
	ok, code, err := RecordActionExecution(ctx, "workflow.close", "WI-PLAN2026022701-01", func(context.Context) (bool, int, error) {
		return false, 2, nil
	})

	if ok || code != 2 || err != nil {
		t.Errorf("Expected passthrough of (false, 2, nil), got (%v, %d, %v)", ok, code, err)
	}
	if len(events) != 1 || events[0].Type != EventTypeActionExecuted || events[0].Level != EventLevelError {
		t.Fatalf("Expected one failed action event, got %+v", events)
	}
	if events[0].Data["exit_code"] != 2 {
		t.Errorf("Expected exit_code 2, got %v", events[0].Data["exit_code"])
	}
}

func TestStartCommand_WithoutTelemetry(t *testing.T) {
	op := StartCommand(context.Background(), "status")
	if op.Logger == nil || op.Timer == nil {
		t.Fatal("Expected logger and timer")
	}
	op.End(nil)
}

func TestStartPhase(t *testing.T) {
	tel, err := NewTelemetryWithLogger(DefaultConfig(), NopLogger())
	if err != nil {
		t.Fatalf("failed to create telemetry: %v", err)
	}
	defer tel.Shutdown(context.Background())

	op := StartPhase(tel.WithContext(context.Background()), "check", "backlog.json")
	if op.Span == nil {
		t.Fatal("Expected a phase span")
	}
	Annotate(op.Span, DocumentStats{WorkItems: 3, Violations: 1, Drifted: true})
	op.End(errors.New("drifted"))

	bare := StartPhase(context.Background(), "plan", "backlog.json")
	if bare.Span != nil {
		t.Error("Expected no span without telemetry")
	}
	Annotate(bare.Span, DocumentStats{})
	bare.End(nil)
}

func TestParseLevel(t *testing.T) {
	tests := map[string]string{
		"":      "info",
		"debug": "debug",
		"warn":  "warn",
		"loud":  "info",
		"trace": "trace",
	}
	for in, want := range tests {
		if got := ParseLevel(in).String(); got != want {
			t.Errorf("Expected %s for %q, got %s", want, in, got)
		}
	}
}
