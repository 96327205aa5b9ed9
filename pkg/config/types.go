package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/workitems/backlog/pkg/engine"
	"github.com/workitems/backlog/pkg/telemetry"
)

// DefaultFile is the workspace configuration file looked up in the repository root.
const DefaultFile = "backlog.cue"

// WorkspaceConfig represents the workspace configuration.
type WorkspaceConfig struct {
	// Name is the workspace name.
	Name string `json:"name" validate:"required"`

	// Backlog locates the backlog document.
	Backlog BacklogConfig `json:"backlog"`

	// Defaults overrides the values the normalizer falls back to.
	Defaults DefaultsConfig `json:"defaults"`

	// Actions maps action tokens to command templates.
	Actions map[string]string `json:"actions,omitempty" validate:"dive,required"`

	// Store configures the history database.
	Store StoreConfig `json:"store"`

	// Policy configures advisory policy evaluation.
	Policy PolicyConfig `json:"policy"`

	Logging telemetry.LoggingConfig `json:"logging"`
	Metrics telemetry.MetricsConfig `json:"metrics"`
	Tracing telemetry.TracingConfig `json:"tracing"`
}

// BacklogConfig locates the backlog document and its related sources.
type BacklogConfig struct {
	// Path is the backlog document path, relative to the repository root.
	Path string `json:"path" validate:"required"`

	// Sources are written into the document's sources block.
	Sources map[string]string `json:"sources,omitempty"`
}

// DefaultsConfig mirrors engine.Defaults.
type DefaultsConfig struct {
	Owner             string `json:"owner" validate:"required"`
	Priority          string `json:"priority" validate:"required,priority"`
	Title             string `json:"title"`
	LastUpdate        string `json:"lastUpdate"`
	CloseChecks       string `json:"closeChecks"`
	BranchPrefix      string `json:"branchPrefix"`
	EventsFilePattern string `json:"eventsFilePattern" validate:"omitempty,contains=%s"`
}

// StoreConfig configures the sqlite history store.
type StoreConfig struct {
	// Enabled turns snapshot and run recording on.
	Enabled bool `json:"enabled"`

	// Path is the database file path.
	Path string `json:"path" validate:"required_if=Enabled true"`
}

// PolicyConfig configures policy evaluation.
type PolicyConfig struct {
	// Enabled indicates if policy evaluation runs.
	Enabled bool `json:"enabled"`

	// Paths lists extra .rego files or directories.
	Paths []string `json:"paths,omitempty"`

	// Disabled lists built-in rules to skip.
	Disabled []string `json:"disabled,omitempty"`
}

// ParsedConfig represents the fully parsed configuration from CUE.
type ParsedConfig struct {
	// Workspace is the workspace configuration.
	Workspace *WorkspaceConfig `json:"workspace"`

	// SourceFiles are the CUE files that were parsed.
	SourceFiles []string `json:"source_files"`

	// ParsedAt is when the configuration was parsed.
	ParsedAt time.Time `json:"parsed_at"`

	// Errors lists any validation errors.
	Errors []ValidationError `json:"errors,omitempty"`
}

// ValidationError represents a validation error with location information.
type ValidationError struct {
	// File is the source file path.
	File string `json:"file,omitempty"`

	// Line is the line number (1-indexed).
	Line int `json:"line,omitempty"`

	// Column is the column number (1-indexed).
	Column int `json:"column,omitempty"`

	// Path is the CUE path to the error (e.g., "workspace.defaults.priority").
	Path string `json:"path,omitempty"`

	// Message is the error message.
	Message string `json:"message"`

	// Severity is the error severity (error, warning, info).
	Severity string `json:"severity" validate:"required,oneof=error warning info"`
}

func (e ValidationError) String() string {
	var loc string
	switch {
	case e.File != "" && e.Line > 0:
		loc = fmt.Sprintf("%s:%d:%d: ", e.File, e.Line, e.Column)
	case e.File != "":
		loc = e.File + ": "
	}
	if e.Path != "" {
		return fmt.Sprintf("%s%s: %s", loc, e.Path, e.Message)
	}
	return loc + e.Message
}

// ConfigError aggregates the errors of a configuration that failed to load.
type ConfigError struct {
	Errors []ValidationError
}

func (e *ConfigError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "invalid configuration: %d error(s)", len(e.Errors))
	for _, ve := range e.Errors {
		b.WriteString("\n  - ")
		b.WriteString(ve.String())
	}
	return b.String()
}

// DefaultWorkspace returns the configuration used when no backlog.cue exists.
func DefaultWorkspace() *WorkspaceConfig {
	d := engine.NewDefaults()
	tel := telemetry.DefaultConfig()

	sources := make(map[string]string, len(d.Sources))
	for k, v := range d.Sources {
		sources[k] = v
	}

	return &WorkspaceConfig{
		Name: "backlog",
		Backlog: BacklogConfig{
			Path:    d.Sources["backlogFile"],
			Sources: sources,
		},
		Defaults: DefaultsConfig{
			Owner:             d.Owner,
			Priority:          d.Priority,
			Title:             d.Title,
			LastUpdate:        d.LastUpdate,
			CloseChecks:       d.CloseChecks,
			BranchPrefix:      d.BranchPrefix,
			EventsFilePattern: d.EventsFilePattern,
		},
		Actions: map[string]string{},
		Store: StoreConfig{
			Enabled: true,
			Path:    ".backlog/history.db",
		},
		Policy: PolicyConfig{
			Enabled: true,
		},
		Logging: tel.Logging,
		Metrics: tel.Metrics,
		Tracing: tel.Tracing,
	}
}

// EngineDefaults converts the workspace defaults for the normalizer.
// The backlog path always wins over sources.backlogFile.
func (w *WorkspaceConfig) EngineDefaults() engine.Defaults {
	sources := make(map[string]string, len(w.Backlog.Sources)+1)
	for k, v := range w.Backlog.Sources {
		sources[k] = v
	}
	if w.Backlog.Path != "" {
		sources["backlogFile"] = w.Backlog.Path
	}

	return engine.Defaults{
		Owner:             w.Defaults.Owner,
		Priority:          w.Defaults.Priority,
		Title:             w.Defaults.Title,
		LastUpdate:        w.Defaults.LastUpdate,
		CloseChecks:       w.Defaults.CloseChecks,
		BranchPrefix:      w.Defaults.BranchPrefix,
		EventsFilePattern: w.Defaults.EventsFilePattern,
		Sources:           sources,
	}
}

// TelemetryConfig builds the telemetry configuration for this workspace.
func (w *WorkspaceConfig) TelemetryConfig(version string) *telemetry.Config {
	cfg := telemetry.DefaultConfig()
	cfg.ServiceName = w.Name
	if version != "" {
		cfg.ServiceVersion = version
	}
	cfg.Logging = w.Logging
	cfg.Metrics = w.Metrics
	cfg.Tracing = w.Tracing
	return cfg
}
