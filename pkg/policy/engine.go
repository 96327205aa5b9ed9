package policy

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/open-policy-agent/opa/ast"
	"github.com/open-policy-agent/opa/rego"
	"github.com/rs/zerolog"

	"github.com/workitems/backlog/pkg/engine"
)

// Engine evaluates advisory Rego policies against backlog documents.
type Engine struct {
	mu       sync.RWMutex
	policies map[string]*compiledPolicy
	disabled map[string]bool
	logger   zerolog.Logger
}

// compiledPolicy represents a compiled Rego policy.
type compiledPolicy struct {
	policy   *Policy
	query    rego.PreparedEvalQuery
	compiled time.Time
}

// NewEngine creates a new policy engine with the built-in policies loaded.
func NewEngine(logger zerolog.Logger) (*Engine, error) {
	e := &Engine{
		policies: make(map[string]*compiledPolicy),
		disabled: make(map[string]bool),
		logger:   logger.With().Str("component", "policy-engine").Logger(),
	}

	if err := e.loadBuiltinPolicies(context.Background()); err != nil {
		return nil, fmt.Errorf("failed to load built-in policies: %w", err)
	}

	return e, nil
}

// Evaluate runs every enabled policy against every work item of doc.
// A policy that fails to evaluate is reported in Result.Errors and skipped.
func (e *Engine) Evaluate(ctx context.Context, doc *engine.Document, defaults engine.Defaults) (*Result, error) {
	startTime := time.Now()

	e.mu.RLock()
	defer e.mu.RUnlock()

	result := &Result{
		Warnings:          []Warning{},
		EvaluatedPolicies: []string{},
		EvaluatedAt:       startTime.UTC(),
	}

	known := doc.IDs()
	inputs := make([]Input, 0, len(doc.WorkItems))
	for i := range doc.WorkItems {
		item, err := itemInput(&doc.WorkItems[i])
		if err != nil {
			return nil, fmt.Errorf("failed to encode work item %s: %w", doc.WorkItems[i].WorkItemID, err)
		}
		inputs = append(inputs, Input{
			WorkItem: item,
			KnownIDs: known,
			Defaults: InputDefaults{Owner: defaults.Owner, Priority: defaults.Priority},
		})
	}

	for _, name := range e.sortedNames() {
		cp := e.policies[name]
		if !cp.policy.Enabled || e.disabled[name] {
			continue
		}
		result.EvaluatedPolicies = append(result.EvaluatedPolicies, name)

		for i := range inputs {
			warnings, err := e.evaluatePolicy(ctx, cp, &inputs[i])
			if err != nil {
				if ctx.Err() != nil {
					return nil, ctx.Err()
				}
				e.logger.Error().Err(err).
					Str("policy", name).
					Str("work_item_id", doc.WorkItems[i].WorkItemID).
					Msg("Policy evaluation failed")
				result.Errors = append(result.Errors, fmt.Sprintf("policy %s evaluation failed: %v", name, err))
				break
			}
			result.Warnings = append(result.Warnings, warnings...)
		}
	}

	sort.SliceStable(result.Warnings, func(i, j int) bool {
		a, b := result.Warnings[i], result.Warnings[j]
		if a.WorkItemID != b.WorkItemID {
			return a.WorkItemID < b.WorkItemID
		}
		if a.Policy != b.Policy {
			return a.Policy < b.Policy
		}
		return a.Message < b.Message
	})

	result.Duration = time.Since(startTime)
	e.logger.Debug().
		Int("work_items", len(inputs)).
		Int("warnings", len(result.Warnings)).
		Dur("duration", result.Duration).
		Msg("Policy evaluation completed")

	return result, nil
}

// itemInput converts a work item to the untyped shape rules see.
func itemInput(item *engine.WorkItem) (map[string]interface{}, error) {
	data, err := json.Marshal(item)
	if err != nil {
		return nil, err
	}
	var out map[string]interface{}
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// LoadPolicies loads policy files from paths and compiles them. Policies
// with the name of an existing policy replace it.
func (e *Engine) LoadPolicies(ctx context.Context, paths []string) error {
	loader := NewLoader(e.logger)
	policies, err := loader.LoadFromPaths(ctx, paths)
	if err != nil {
		return fmt.Errorf("failed to load policies: %w", err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	return e.storePolicies(ctx, policies)
}

// ReplaceCustom drops every non-builtin policy and compiles policies in
// their place. It is the reload callback used with Loader.Watch.
func (e *Engine) ReplaceCustom(ctx context.Context, policies []Policy) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	for name, cp := range e.policies {
		if !cp.policy.Builtin {
			delete(e.policies, name)
		}
	}
	return e.storePolicies(ctx, policies)
}

func (e *Engine) storePolicies(ctx context.Context, policies []Policy) error {
	for i := range policies {
		if err := e.compileAndStorePolicy(ctx, &policies[i]); err != nil {
			e.logger.Error().Err(err).
				Str("policy", policies[i].Name).
				Msg("Failed to compile policy")
			return fmt.Errorf("failed to compile policy %s: %w", policies[i].Name, err)
		}
	}

	e.logger.Info().
		Int("count", len(policies)).
		Msg("Policies loaded successfully")

	return nil
}

// evaluatePolicy evaluates a single compiled policy for one input.
func (e *Engine) evaluatePolicy(ctx context.Context, cp *compiledPolicy, input *Input) ([]Warning, error) {
	results, err := cp.query.Eval(ctx, rego.EvalInput(input))
	if err != nil {
		return nil, fmt.Errorf("policy evaluation error: %w", err)
	}

	var warnings []Warning
	for _, result := range results {
		if len(result.Expressions) == 0 {
			continue
		}
		denySet, ok := result.Expressions[0].Value.([]interface{})
		if !ok {
			continue
		}
		for _, d := range denySet {
			warnings = append(warnings, createWarning(cp.policy, d, input))
		}
	}

	return warnings, nil
}

// createWarning builds a Warning from one element of a deny set.
func createWarning(policy *Policy, result interface{}, input *Input) Warning {
	warning := Warning{
		Policy:   policy.Name,
		Severity: policy.Severity,
	}
	if id, ok := input.WorkItem["workItemId"].(string); ok {
		warning.WorkItemID = id
	}

	switch v := result.(type) {
	case string:
		warning.Message = v
	case map[string]interface{}:
		if msg, ok := v["message"].(string); ok {
			warning.Message = msg
		}
		if sev, ok := v["severity"].(string); ok {
			warning.Severity = Severity(sev)
		}
		if id, ok := v["workItemId"].(string); ok {
			warning.WorkItemID = id
		}
		if details, ok := v["details"].(map[string]interface{}); ok {
			warning.Details = details
		}
	default:
		warning.Message = fmt.Sprintf("%v", result)
	}

	return warning
}

// compileAndStorePolicy compiles a policy and stores it under its name.
func (e *Engine) compileAndStorePolicy(ctx context.Context, policy *Policy) error {
	module, err := ast.ParseModule(policy.Name, policy.Rego)
	if err != nil {
		return fmt.Errorf("failed to parse policy: %w", err)
	}

	r := rego.New(
		rego.Module(policy.Name, policy.Rego),
		rego.Query(module.Package.Path.String()+".deny"),
	)

	query, err := r.PrepareForEval(ctx)
	if err != nil {
		return fmt.Errorf("failed to prepare query: %w", err)
	}

	e.policies[policy.Name] = &compiledPolicy{
		policy:   policy,
		query:    query,
		compiled: time.Now(),
	}

	e.logger.Debug().
		Str("policy", policy.Name).
		Msg("Policy compiled successfully")

	return nil
}

// loadBuiltinPolicies loads the built-in policies.
func (e *Engine) loadBuiltinPolicies(ctx context.Context) error {
	builtins := GetBuiltinPolicies()
	for i := range builtins {
		if err := e.compileAndStorePolicy(ctx, &builtins[i]); err != nil {
			return fmt.Errorf("failed to compile built-in policy %s: %w", builtins[i].Name, err)
		}
	}

	e.logger.Debug().
		Int("count", len(builtins)).
		Msg("Built-in policies loaded")

	return nil
}

func (e *Engine) sortedNames() []string {
	names := make([]string, 0, len(e.policies))
	for name := range e.policies {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// GetPolicy returns a policy by name.
func (e *Engine) GetPolicy(name string) (*Policy, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	cp, exists := e.policies[name]
	if !exists {
		return nil, fmt.Errorf("policy not found: %s", name)
	}

	return cp.policy, nil
}

// ListPolicies returns all loaded policies sorted by name.
func (e *Engine) ListPolicies() []Policy {
	e.mu.RLock()
	defer e.mu.RUnlock()

	policies := make([]Policy, 0, len(e.policies))
	for _, name := range e.sortedNames() {
		p := *e.policies[name].policy
		p.Enabled = p.Enabled && !e.disabled[name]
		policies = append(policies, p)
	}

	return policies
}

// EnablePolicy clears a previous DisablePolicy for name.
func (e *Engine) EnablePolicy(name string) {
	e.mu.Lock()
	defer e.mu.Unlock()

	delete(e.disabled, name)
	e.logger.Debug().Str("policy", name).Msg("Policy enabled")
}

// DisablePolicy turns off the policy called name, including policies
// loaded later under that name.
func (e *Engine) DisablePolicy(name string) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.disabled[name] = true
	e.logger.Debug().Str("policy", name).Msg("Policy disabled")
}
