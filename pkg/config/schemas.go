package config

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
)

// Built-in schema names.
const (
	SchemaWorkspace = "workspace"
	SchemaBacklog   = "backlog"
)

// SchemaRegistry manages CUE schemas for validation.
type SchemaRegistry struct {
	ctx     *cue.Context
	schemas map[string]cue.Value
	mu      sync.RWMutex
}

// NewSchemaRegistry creates a new schema registry with built-in schemas.
func NewSchemaRegistry() *SchemaRegistry {
	sr := &SchemaRegistry{
		ctx:     cuecontext.New(),
		schemas: make(map[string]cue.Value),
	}

	sr.registerBuiltInSchemas()

	return sr
}

// registerBuiltInSchemas registers all built-in schemas.
func (sr *SchemaRegistry) registerBuiltInSchemas() {
	if err := sr.RegisterDefinition(SchemaWorkspace, builtinWorkspaceSchema, "#Workspace"); err != nil {
		panic(err)
	}
	if err := sr.RegisterDefinition(SchemaBacklog, builtinBacklogSchema, "#Backlog"); err != nil {
		panic(err)
	}
}

// RegisterSchema registers a CUE schema with the given name. The whole
// compiled value is the constraint.
func (sr *SchemaRegistry) RegisterSchema(name, schema string) error {
	return sr.register(name, schema, "")
}

// RegisterDefinition registers a single definition (e.g. "#Backlog") of a
// CUE source under the given name.
func (sr *SchemaRegistry) RegisterDefinition(name, schema, definition string) error {
	return sr.register(name, schema, definition)
}

func (sr *SchemaRegistry) register(name, schema, definition string) error {
	sr.mu.Lock()
	defer sr.mu.Unlock()

	val := sr.ctx.CompileString(schema, cue.Filename(name+".cue"))
	if err := val.Err(); err != nil {
		return fmt.Errorf("failed to compile schema %s: %w", name, err)
	}

	if definition != "" {
		val = val.LookupPath(cue.ParsePath(definition))
		if !val.Exists() {
			return fmt.Errorf("schema %s has no definition %s", name, definition)
		}
	}

	sr.schemas[name] = val
	return nil
}

// GetSchema retrieves a schema by name.
func (sr *SchemaRegistry) GetSchema(name string) (cue.Value, bool) {
	sr.mu.RLock()
	defer sr.mu.RUnlock()

	val, ok := sr.schemas[name]
	return val, ok
}

// Check validates data against a named schema and returns every schema
// error found. The error return is reserved for unknown schemas and data
// that cannot be encoded.
func (sr *SchemaRegistry) Check(ctx context.Context, schemaName string, data interface{}) ([]ValidationError, error) {
	dataVal := sr.ctx.Encode(data)
	if err := dataVal.Err(); err != nil {
		return nil, fmt.Errorf("failed to encode data: %w", err)
	}
	return sr.CheckValue(ctx, schemaName, dataVal)
}

// CheckJSON validates a JSON document against a named schema. JSON numbers
// keep their int or float kind and errors carry positions in filename.
func (sr *SchemaRegistry) CheckJSON(ctx context.Context, schemaName, filename string, data []byte) ([]ValidationError, error) {
	dataVal := sr.ctx.CompileBytes(data, cue.Filename(filename))
	if err := dataVal.Err(); err != nil {
		return nil, fmt.Errorf("failed to compile %s: %w", filename, err)
	}
	return sr.CheckValue(ctx, schemaName, dataVal)
}

// CheckValue validates a CUE value built with this registry's Context.
func (sr *SchemaRegistry) CheckValue(ctx context.Context, schemaName string, val cue.Value) ([]ValidationError, error) {
	schema, ok := sr.GetSchema(schemaName)
	if !ok {
		return nil, fmt.Errorf("schema %s not found", schemaName)
	}

	unified := schema.Unify(val)
	if err := unified.Validate(cue.Concrete(true)); err != nil {
		return convertCUEErrors(err), nil
	}
	return nil, nil
}

// Context returns the CUE context values must be built with for CheckValue.
func (sr *SchemaRegistry) Context() *cue.Context {
	return sr.ctx
}

// ValidateAgainstSchema validates data against a named schema.
func (sr *SchemaRegistry) ValidateAgainstSchema(ctx context.Context, schemaName string, data interface{}) error {
	errs, err := sr.Check(ctx, schemaName, data)
	if err != nil {
		return err
	}
	if len(errs) > 0 {
		return &ConfigError{Errors: errs}
	}
	return nil
}

// ListSchemas returns all registered schema names, sorted.
func (sr *SchemaRegistry) ListSchemas() []string {
	sr.mu.RLock()
	defer sr.mu.RUnlock()

	names := make([]string, 0, len(sr.schemas))
	for name := range sr.schemas {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

const builtinWorkspaceSchema = `
#Workspace: {
	name: string & =~"^[a-zA-Z0-9_.-]+$"

	backlog?: {
		path?: string & !=""
		sources?: {[string]: string}
	}

	defaults?: {
		owner?:             string & !=""
		priority?:          =~"^P[0-9]$"
		title?:             string
		lastUpdate?:        string
		closeChecks?:       string
		branchPrefix?:      string
		eventsFilePattern?: string
	}

	// token -> command template
	actions?: {[string]: string & !=""}

	store?: {
		enabled?: bool
		path?:    string
	}

	policy?: {
		enabled?:  bool
		paths?:    [...string]
		disabled?: [...string]
	}

	logging?: {
		level?:        "trace" | "debug" | "info" | "warn" | "error" | "fatal"
		format?:       "console" | "json"
		output?:       string
		enableCaller?: bool
		timeFormat?:   "unix" | "unixms" | "rfc3339"
	}

	metrics?: {
		enabled?:       bool
		listenAddress?: string
		path?:          string
		namespace?:     string
		buckets?:       [...number]
	}

	tracing?: {
		enabled?:            bool
		exporter?:           "otlp" | "stdout" | "none"
		endpoint?:           string
		samplingRate?:       number & >=0 & <=1
		maxExportBatchSize?: int & >0
		headers?:            {[string]: string}
		insecure?:           bool
	}
}
`

const builtinBacklogSchema = `
#Backlog: {
	version:   int & >=1
	model:     {...}
	sources:   {[string]: string}
	summary:   #Summary
	workItems: [...#WorkItem]
}

#Summary: {
	workItemCount: int & >=0
	planCount:     int & >=0
	statusCount: {
		todo:        int & >=0
		in_progress: int & >=0
		blocked:     int & >=0
		done:        int & >=0
	}
	kindCount: {
		initiative: int & >=0
		capability: int & >=0
		task:       int & >=0
		debt:       int & >=0
	}
}

#WorkItem: {
	workItemId: =~"^WI-PLAN[0-9]{10}-[0-9]{2}$"
	planId:     =~"^PLAN-[0-9]{8}-[0-9]{2}$"
	kind:       "initiative" | "capability" | "task" | "debt"
	title:      string & !=""
	status:     "todo" | "in_progress" | "blocked" | "done"
	priority:   =~"^P[0-9]$"
	owner:      string & !=""
	lastUpdate: string
	detail:     {...}
	links: dependsOnWorkItems: [...string]
	acceptance: {
		cmds:        [...string]
		evidenceDir: string
	}
	workflow?: {
		branchPrefix: string
		triggerPaths: [...string]
		requiredDocs: [...string]
		closeChecks:  string
	}
	tracking?: eventsFile: string

	if kind == "task" || kind == "debt" {
		workflow: _
		tracking: _
	}
}
`
