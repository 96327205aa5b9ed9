// Package executor maps action tokens to repository commands and runs them.
package executor

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/google/shlex"

	"github.com/workitems/backlog/pkg/engine"
)

// DefaultTemplates returns the built-in token to command-template table.
// Templates are split like a shell command line; {name} is replaced with
// the matching action parameter.
func DefaultTemplates() map[string]string {
	return map[string]string{
		engine.TokenWorkflowStart:    "scripts/workflow/run.sh {workItemId} start",
		engine.TokenWorkflowProgress: "scripts/workflow/run.sh {workItemId} progress",
		engine.TokenWorkflowClose:    "scripts/workflow/run.sh {workItemId} close",
		engine.TokenWorkflowFull:     "scripts/workflow/run.sh {workItemId} full",
		engine.TokenCIVerify:         "scripts/ci/verify.sh",
		"ci.workflow_sync":           "scripts/ci/workflow-sync-check.sh",
		"docs.library.all":           "scripts/docs/library-check.sh all",
		"docs.library.index":         "scripts/docs/library-check.sh index",
		"docs.library.rules":         "scripts/docs/library-check.sh rules",
		"docs.library.experience":    "scripts/docs/library-check.sh experience",
		"docs.library.governance":    "scripts/docs/library-check.sh governance",
		"docs.library.gardening":     "scripts/docs/library-check.sh gardening",
	}
}

var placeholderPattern = regexp.MustCompile(`\{([A-Za-z][A-Za-z0-9_]*)\}`)

// Registry resolves action tokens to argument vectors.
type Registry struct {
	templates map[string]string
}

// NewRegistry returns the default templates with overrides applied. An
// override with an empty template removes the token.
func NewRegistry(overrides map[string]string) *Registry {
	templates := DefaultTemplates()
	for token, tmpl := range overrides {
		if strings.TrimSpace(tmpl) == "" {
			delete(templates, token)
			continue
		}
		templates[token] = tmpl
	}
	return &Registry{templates: templates}
}

// Supports reports whether token has a template.
func (r *Registry) Supports(token string) bool {
	_, ok := r.templates[token]
	return ok
}

// Tokens returns every registered token, sorted.
func (r *Registry) Tokens() []string {
	tokens := make([]string, 0, len(r.templates))
	for token := range r.templates {
		tokens = append(tokens, token)
	}
	sort.Strings(tokens)
	return tokens
}

// Template returns the raw template for token.
func (r *Registry) Template(token string) (string, bool) {
	tmpl, ok := r.templates[token]
	return tmpl, ok
}

// Command builds the argument vector for token. Workflow tokens require a
// well-formed workItemId parameter.
func (r *Registry) Command(token string, params map[string]string) ([]string, error) {
	tmpl, ok := r.templates[token]
	if !ok {
		return nil, engine.NewPermanentError(fmt.Sprintf("unsupported action %q", token), nil).
			WithCode(engine.ErrCodeUnsupportedAction).
			WithOperation("resolve")
	}

	if isWorkflowToken(token) && !engine.ValidWorkItemID(params["workItemId"]) {
		return nil, engine.NewPermanentError(
			fmt.Sprintf("action %s needs a workItemId of the form %s, got %q", token, engine.ModelIDPattern, params["workItemId"]), nil).
			WithCode(engine.ErrCodeInvalidParams).
			WithOperation("resolve")
	}

	parts, err := shlex.Split(tmpl)
	if err != nil {
		return nil, engine.NewPermanentError(fmt.Sprintf("failed to parse template for %s", token), err).
			WithCode(engine.ErrCodeInvalidParams).
			WithOperation("resolve")
	}
	if len(parts) == 0 {
		return nil, engine.NewPermanentError(fmt.Sprintf("empty template for %s", token), nil).
			WithCode(engine.ErrCodeInvalidParams).
			WithOperation("resolve")
	}

	var missing []string
	for i, part := range parts {
		parts[i] = placeholderPattern.ReplaceAllStringFunc(part, func(m string) string {
			name := m[1 : len(m)-1]
			v, ok := params[name]
			if !ok || v == "" {
				missing = append(missing, name)
				return m
			}
			return v
		})
	}
	if len(missing) > 0 {
		return nil, engine.NewPermanentError(
			fmt.Sprintf("action %s is missing parameter(s): %s", token, strings.Join(missing, ", ")), nil).
			WithCode(engine.ErrCodeInvalidParams).
			WithOperation("resolve")
	}

	return parts, nil
}

func isWorkflowToken(token string) bool {
	switch token {
	case engine.TokenWorkflowStart, engine.TokenWorkflowProgress, engine.TokenWorkflowClose, engine.TokenWorkflowFull:
		return true
	}
	return false
}
