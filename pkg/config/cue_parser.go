package config

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"regexp"
	"strings"
	"time"

	"cuelang.org/go/cue"
	cueerrors "cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/load"
	"github.com/go-playground/validator/v10"
)

var priorityPattern = regexp.MustCompile(`^P\d$`)

// CUEParser parses and validates CUE workspace configuration files.
// A parser is not safe for concurrent use.
type CUEParser struct {
	ctx            *cue.Context
	schemaRegistry *SchemaRegistry
	validator      *validator.Validate
}

// NewCUEParser creates a new CUE parser.
func NewCUEParser() *CUEParser {
	registry := NewSchemaRegistry()

	v := validator.New()
	_ = v.RegisterValidation("priority", func(fl validator.FieldLevel) bool {
		return priorityPattern.MatchString(fl.Field().String())
	})

	return &CUEParser{
		ctx:            registry.Context(),
		schemaRegistry: registry,
		validator:      v,
	}
}

// Load reads the workspace configuration at path. A missing file yields
// DefaultWorkspace. Any parse, schema or struct error is returned as a
// *ConfigError listing every problem.
func (cp *CUEParser) Load(ctx context.Context, path string) (*WorkspaceConfig, error) {
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return DefaultWorkspace(), nil
		}
		return nil, fmt.Errorf("failed to stat config %s: %w", path, err)
	}

	parsed, err := cp.Parse(ctx, []string{path})
	if err != nil {
		return nil, err
	}
	if len(parsed.Errors) > 0 {
		return nil, &ConfigError{Errors: parsed.Errors}
	}
	return parsed.Workspace, nil
}

// Parse parses CUE configuration from the given files or package directories.
// Sources are unified; a conflict between them is reported as an error.
func (cp *CUEParser) Parse(ctx context.Context, sources []string) (*ParsedConfig, error) {
	if len(sources) == 0 {
		return nil, fmt.Errorf("no sources provided")
	}

	var cueValue cue.Value
	var sourceFiles []string
	var parseErrors []ValidationError

	for _, source := range sources {
		info, err := os.Stat(source)
		if err != nil {
			return nil, fmt.Errorf("failed to stat source %s: %w", source, err)
		}

		var val cue.Value
		if info.IsDir() {
			var files []string
			var errs []ValidationError
			val, files, errs = cp.loadDirectory(source)
			parseErrors = append(parseErrors, errs...)
			sourceFiles = append(sourceFiles, files...)
		} else {
			var errs []ValidationError
			val, errs = cp.loadFile(source)
			parseErrors = append(parseErrors, errs...)
			sourceFiles = append(sourceFiles, source)
		}

		if val.Exists() {
			if cueValue.Exists() {
				cueValue = cueValue.Unify(val)
			} else {
				cueValue = val
			}
		}
	}

	if len(parseErrors) > 0 {
		return &ParsedConfig{
			SourceFiles: sourceFiles,
			ParsedAt:    time.Now(),
			Errors:      parseErrors,
		}, nil
	}

	if err := cueValue.Err(); err != nil {
		return &ParsedConfig{
			SourceFiles: sourceFiles,
			ParsedAt:    time.Now(),
			Errors:      convertCUEErrors(err),
		}, nil
	}

	return cp.extractConfig(ctx, cueValue, sourceFiles)
}

// ParseInline parses inline CUE content.
func (cp *CUEParser) ParseInline(ctx context.Context, content string) (*ParsedConfig, error) {
	val := cp.ctx.CompileString(content, cue.Filename("inline"))
	if err := val.Err(); err != nil {
		return &ParsedConfig{
			SourceFiles: []string{"inline"},
			ParsedAt:    time.Now(),
			Errors:      convertCUEErrors(err),
		}, nil
	}

	return cp.extractConfig(ctx, val, []string{"inline"})
}

// loadDirectory loads a directory as a CUE package.
func (cp *CUEParser) loadDirectory(dir string) (cue.Value, []string, []ValidationError) {
	buildInstances := load.Instances([]string{"."}, &load.Config{Dir: dir})
	if len(buildInstances) == 0 {
		return cue.Value{}, nil, []ValidationError{{
			File:     dir,
			Message:  "no CUE files found",
			Severity: "error",
		}}
	}

	inst := buildInstances[0]
	if inst.Err != nil {
		return cue.Value{}, nil, convertCUEErrors(inst.Err)
	}

	val := cp.ctx.BuildInstance(inst)
	if err := val.Err(); err != nil {
		return cue.Value{}, nil, convertCUEErrors(err)
	}

	var files []string
	for _, file := range inst.Files {
		if file.Filename != "" {
			files = append(files, file.Filename)
		}
	}

	return val, files, nil
}

// loadFile loads a single CUE file.
func (cp *CUEParser) loadFile(path string) (cue.Value, []ValidationError) {
	content, err := os.ReadFile(path)
	if err != nil {
		return cue.Value{}, []ValidationError{{
			File:     path,
			Message:  fmt.Sprintf("failed to read file: %v", err),
			Severity: "error",
		}}
	}

	val := cp.ctx.CompileBytes(content, cue.Filename(path))
	if err := val.Err(); err != nil {
		return cue.Value{}, convertCUEErrors(err)
	}

	return val, nil
}

// extractConfig checks the workspace value against #Workspace, overlays it
// on DefaultWorkspace and runs struct validation.
func (cp *CUEParser) extractConfig(ctx context.Context, val cue.Value, sourceFiles []string) (*ParsedConfig, error) {
	parsedConfig := &ParsedConfig{
		SourceFiles: sourceFiles,
		ParsedAt:    time.Now(),
		Workspace:   DefaultWorkspace(),
	}

	workspaceVal := val.LookupPath(cue.ParsePath("workspace"))
	if !workspaceVal.Exists() {
		return parsedConfig, nil
	}

	schemaErrs, err := cp.schemaRegistry.CheckValue(ctx, SchemaWorkspace, workspaceVal)
	if err != nil {
		return nil, err
	}
	if len(schemaErrs) > 0 {
		parsedConfig.Errors = append(parsedConfig.Errors, schemaErrs...)
		return parsedConfig, nil
	}

	data, err := workspaceVal.MarshalJSON()
	if err != nil {
		parsedConfig.Errors = append(parsedConfig.Errors, ValidationError{
			Path:     "workspace",
			Message:  fmt.Sprintf("failed to export workspace: %v", err),
			Severity: "error",
		})
		return parsedConfig, nil
	}

	// json.Unmarshal keeps defaults for absent fields and merges maps
	if err := json.Unmarshal(data, parsedConfig.Workspace); err != nil {
		parsedConfig.Errors = append(parsedConfig.Errors, ValidationError{
			Path:     "workspace",
			Message:  fmt.Sprintf("failed to decode workspace: %v", err),
			Severity: "error",
		})
		return parsedConfig, nil
	}

	parsedConfig.Errors = append(parsedConfig.Errors, cp.validateStruct(parsedConfig.Workspace)...)
	return parsedConfig, nil
}

// Validate runs struct validation on an already decoded workspace, e.g.
// after command-line overrides were applied.
func (cp *CUEParser) Validate(ctx context.Context, ws *WorkspaceConfig) error {
	if errs := cp.validateStruct(ws); len(errs) > 0 {
		return &ConfigError{Errors: errs}
	}
	return nil
}

func (cp *CUEParser) validateStruct(ws *WorkspaceConfig) []ValidationError {
	err := cp.validator.Struct(ws)
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return []ValidationError{{Path: "workspace", Message: err.Error(), Severity: "error"}}
	}

	out := make([]ValidationError, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		out = append(out, ValidationError{
			Path:     fieldPath(fe.Namespace()),
			Message:  fmt.Sprintf("failed on the '%s' rule", fe.Tag()),
			Severity: "error",
		})
	}
	return out
}

// fieldPath turns "WorkspaceConfig.Defaults.Priority" into "workspace.defaults.priority".
func fieldPath(namespace string) string {
	parts := strings.Split(namespace, ".")
	if len(parts) > 0 {
		parts[0] = "workspace"
	}
	for i := 1; i < len(parts); i++ {
		if parts[i] != "" {
			parts[i] = strings.ToLower(parts[i][:1]) + parts[i][1:]
		}
	}
	return strings.Join(parts, ".")
}

// GetSchemaRegistry returns the schema registry.
func (cp *CUEParser) GetSchemaRegistry() *SchemaRegistry {
	return cp.schemaRegistry
}

// convertCUEErrors converts CUE errors to a ValidationError slice.
func convertCUEErrors(err error) []ValidationError {
	var validationErrors []ValidationError

	for _, e := range cueerrors.Errors(err) {
		pos := cueerrors.Positions(e)
		var file string
		var line, column int

		if len(pos) > 0 {
			file = pos[0].Filename()
			line = pos[0].Line()
			column = pos[0].Column()
		}

		validationErrors = append(validationErrors, ValidationError{
			File:     file,
			Line:     line,
			Column:   column,
			Path:     strings.Join(e.Path(), "."),
			Message:  strings.TrimSpace(cueerrors.Details(e, nil)),
			Severity: "error",
		})
	}

	return validationErrors
}
