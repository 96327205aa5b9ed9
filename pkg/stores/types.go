package stores

import (
	"context"
	"database/sql"
	"time"
)

// EventLevel represents the severity level of an event
type EventLevel string

const (
	EventLevelInfo    EventLevel = "info"
	EventLevelWarning EventLevel = "warning"
	EventLevelError   EventLevel = "error"
)

// Snapshot records one build or check of the canonical document
type Snapshot struct {
	ID             string    `json:"id"`
	Command        string    `json:"command"` // build, check
	DocumentPath   string    `json:"document_path"`
	DocumentHash   string    `json:"document_hash"` // SHA256 of the rendered bytes
	ItemCount      int       `json:"item_count"`
	ViolationCount int       `json:"violation_count"`
	Drifted        bool      `json:"drifted"`
	CreatedAt      time.Time `json:"created_at"`
}

// ActionRun records one execution of an action token
type ActionRun struct {
	ID         string    `json:"id"`
	Token      string    `json:"token"`
	WorkItemID string    `json:"work_item_id"`
	OK         bool      `json:"ok"`
	ExitCode   int       `json:"exit_code"`
	Command    []string  `json:"command"`
	Stdout     string    `json:"stdout"`
	Stderr     string    `json:"stderr"`
	Error      *string   `json:"error,omitempty"` // set when the command could not run to completion
	StartedAt  time.Time `json:"started_at"`
	EndedAt    time.Time `json:"ended_at"`
}

// Duration returns how long the run took
func (r *ActionRun) Duration() time.Duration {
	return r.EndedAt.Sub(r.StartedAt)
}

// Event represents an append-only log event
type Event struct {
	ID         int64      `json:"id"`
	EventID    string     `json:"event_id"`
	Type       string     `json:"type"`
	Source     string     `json:"source"`
	WorkItemID *string    `json:"work_item_id,omitempty"`
	Level      EventLevel `json:"level"`
	Message    string     `json:"message"`
	Details    *string    `json:"details,omitempty"` // JSON blob
	Timestamp  time.Time  `json:"timestamp"`
}

// EventQuery filters ListEvents; nil fields match everything
type EventQuery struct {
	Type       *string
	WorkItemID *string
	Level      *EventLevel
	Limit      int
	Offset     int
}

// Store defines the interface for the history layer
type Store interface {
	// Lifecycle
	Init(ctx context.Context) error
	Close() error
	Migrate(ctx context.Context) error

	// Transaction support
	BeginTx(ctx context.Context) (*sql.Tx, error)

	// Snapshot operations
	RecordSnapshot(ctx context.Context, snapshot *Snapshot) error
	LatestSnapshot(ctx context.Context, command string) (*Snapshot, error)
	ListSnapshots(ctx context.Context, limit, offset int) ([]*Snapshot, error)

	// ActionRun operations
	RecordActionRun(ctx context.Context, run *ActionRun) error
	GetActionRun(ctx context.Context, id string) (*ActionRun, error)
	ListActionRuns(ctx context.Context, workItemID *string, limit, offset int) ([]*ActionRun, error)
	LatestRunsByWorkItem(ctx context.Context) (map[string]*ActionRun, error)

	// Event operations
	AppendEvent(ctx context.Context, event *Event) error
	ListEvents(ctx context.Context, query EventQuery) ([]*Event, error)

	// Maintenance
	Prune(ctx context.Context, before time.Time) (int64, error)
	HealthCheck(ctx context.Context) error
}
