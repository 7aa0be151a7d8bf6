package policy

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/open-policy-agent/opa/v1/ast"
	"github.com/open-policy-agent/opa/v1/rego"
	"github.com/openfroyo/catalog/pkg/engine"
	"github.com/rs/zerolog"
)

// Engine evaluates Rego policies against compiled catalogs.
type Engine struct {
	mu       sync.RWMutex
	policies map[string]*compiledPolicy
	logger   zerolog.Logger
	now      func() time.Time
}

// compiledPolicy represents a compiled Rego policy.
type compiledPolicy struct {
	policy *Policy
	query  rego.PreparedEvalQuery
}

// NewEngine creates a new policy engine with the built-in policies loaded.
func NewEngine(logger zerolog.Logger) (*Engine, error) {
	e := &Engine{
		policies: make(map[string]*compiledPolicy),
		logger:   logger.With().Str("component", "policy-engine").Logger(),
		now:      time.Now,
	}

	builtins := GetBuiltinPolicies()
	compiled, err := e.compileAll(context.Background(), builtins)
	if err != nil {
		return nil, fmt.Errorf("failed to load built-in policies: %w", err)
	}
	e.policies = compiled

	e.logger.Debug().
		Int("count", len(builtins)).
		Msg("Built-in policies loaded")

	return e, nil
}

// EvaluateCatalog evaluates every enabled policy against catalog.
// A policy that fails to evaluate is reported as a warning, not an error.
func (e *Engine) EvaluateCatalog(ctx context.Context, catalog *engine.Catalog) (*Result, error) {
	if catalog == nil {
		return nil, fmt.Errorf("catalog is required")
	}
	start := e.now()
	input := NewInput(catalog)

	e.mu.RLock()
	names := e.sortedNamesLocked()
	policies := make([]*compiledPolicy, 0, len(names))
	for _, name := range names {
		if cp := e.policies[name]; cp.policy.Enabled {
			policies = append(policies, cp)
		}
	}
	e.mu.RUnlock()

	result := &Result{Allowed: true, EvaluatedPolicies: make([]string, 0, len(policies))}
	for _, cp := range policies {
		result.EvaluatedPolicies = append(result.EvaluatedPolicies, cp.policy.Name)

		violations, err := e.evaluatePolicy(ctx, cp, input)
		if err != nil {
			e.logger.Error().Err(err).
				Str("policy", cp.policy.Name).
				Str("node", catalog.Name).
				Msg("Policy evaluation failed")
			result.Warnings = append(result.Warnings, fmt.Sprintf("policy %s evaluation failed: %v", cp.policy.Name, err))
			continue
		}
		result.Violations = append(result.Violations, violations...)
	}

	sortViolations(result.Violations)
	result.Allowed = len(result.Blocking()) == 0
	result.EvaluatedAt = e.now()
	result.Duration = result.EvaluatedAt.Sub(start)

	e.logger.Debug().
		Str("node", catalog.Name).
		Int("violations", len(result.Violations)).
		Bool("allowed", result.Allowed).
		Dur("duration", result.Duration).
		Msg("Catalog policy evaluation completed")

	return result, nil
}

// Gate evaluates catalog and rejects it when any violation is blocking.
// Non-blocking violations are logged as warnings. The returned error is a
// configuration error with code POLICY_VIOLATION wrapping every blocking violation.
func (e *Engine) Gate(ctx context.Context, catalog *engine.Catalog) error {
	result, err := e.EvaluateCatalog(ctx, catalog)
	if err != nil {
		return engine.NewConfigurationError("failed to evaluate policies", err).
			WithCode(engine.ErrCodePolicyViolation)
	}

	var merr *multierror.Error
	for _, v := range result.Violations {
		if v.Severity.Blocking() {
			merr = multierror.Append(merr, v)
			continue
		}
		e.logger.Warn().
			Str("policy", v.Policy).
			Str("resource", v.Resource).
			Str("severity", string(v.Severity)).
			Msg(v.Message)
	}

	if merr == nil {
		return nil
	}
	return engine.NewConfigurationError(
		fmt.Sprintf("catalog for %s rejected by %d policy violation(s)", catalog.Name, merr.Len()),
		merr.ErrorOrNil(),
	).WithCode(engine.ErrCodePolicyViolation).
		WithDetail("violations", result.Blocking())
}

// LoadPolicies loads policy files and directories and replaces every
// non-builtin policy with them.
func (e *Engine) LoadPolicies(ctx context.Context, paths []string) (int, error) {
	loader := NewLoader(e.logger)
	policies, err := loader.LoadFromPaths(ctx, paths)
	if err != nil {
		return 0, fmt.Errorf("failed to load policies: %w", err)
	}
	if err := e.ReplacePolicies(ctx, policies); err != nil {
		return 0, err
	}
	return len(policies), nil
}

// ReplacePolicies swaps the non-builtin policies for policies. Every policy is
// compiled first; on any failure the current set stays in place.
func (e *Engine) ReplacePolicies(ctx context.Context, policies []Policy) error {
	compiled, err := e.compileAll(ctx, policies)
	if err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	for name, cp := range e.policies {
		if cp.policy.Builtin {
			if _, shadowed := compiled[name]; !shadowed {
				compiled[name] = cp
			}
		}
	}
	e.policies = compiled

	e.logger.Info().
		Int("count", len(policies)).
		Msg("Policies loaded successfully")

	return nil
}

// evaluatePolicy evaluates a single compiled policy.
func (e *Engine) evaluatePolicy(ctx context.Context, cp *compiledPolicy, input *Input) ([]Violation, error) {
	results, err := cp.query.Eval(ctx, rego.EvalInput(input))
	if err != nil {
		return nil, fmt.Errorf("policy evaluation error: %w", err)
	}

	var violations []Violation
	for _, result := range results {
		if len(result.Expressions) == 0 {
			continue
		}
		// deny is a set, which OPA hands back as a slice
		if denySet, ok := result.Expressions[0].Value.([]interface{}); ok {
			for _, d := range denySet {
				violations = append(violations, createViolation(cp.policy, d))
			}
		}
	}

	return violations, nil
}

// createViolation creates a Violation from one deny entry.
func createViolation(policy *Policy, result interface{}) Violation {
	violation := Violation{
		Policy:   policy.Name,
		Severity: policy.Severity,
	}

	switch v := result.(type) {
	case string:
		violation.Message = v
	case map[string]interface{}:
		if msg, ok := v["message"].(string); ok {
			violation.Message = msg
		}
		if sev, ok := v["severity"].(string); ok && Severity(sev).Validate() == nil {
			violation.Severity = Severity(sev)
		}
		if res, ok := v["resource"].(string); ok {
			violation.Resource = res
		}
	default:
		violation.Message = fmt.Sprintf("%v", result)
	}

	return violation
}

// compileAll compiles policies into a fresh map. Names must be unique.
func (e *Engine) compileAll(ctx context.Context, policies []Policy) (map[string]*compiledPolicy, error) {
	compiled := make(map[string]*compiledPolicy, len(policies))

	var merr *multierror.Error
	for i := range policies {
		p := policies[i]
		if _, dup := compiled[p.Name]; dup {
			merr = multierror.Append(merr, fmt.Errorf("duplicate policy name %s", p.Name))
			continue
		}
		cp, err := e.compile(ctx, &p)
		if err != nil {
			merr = multierror.Append(merr, fmt.Errorf("failed to compile policy %s: %w", p.Name, err))
			continue
		}
		compiled[p.Name] = cp
	}

	if err := merr.ErrorOrNil(); err != nil {
		return nil, err
	}
	return compiled, nil
}

// compile parses a policy and prepares its deny query for reuse.
func (e *Engine) compile(ctx context.Context, policy *Policy) (*compiledPolicy, error) {
	if policy.Severity == "" {
		policy.Severity = SeverityWarning
	}
	if err := policy.Severity.Validate(); err != nil {
		return nil, err
	}

	module, err := ast.ParseModuleWithOpts(policy.Name, policy.Rego, ast.ParserOptions{RegoVersion: ast.RegoV1})
	if err != nil {
		return nil, fmt.Errorf("failed to parse policy: %w", err)
	}

	query, err := rego.New(
		rego.Query(module.Package.Path.String()+".deny"),
		rego.Module(policy.Name, policy.Rego),
	).PrepareForEval(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare query: %w", err)
	}

	if policy.LoadedAt.IsZero() {
		policy.LoadedAt = e.now()
	}

	e.logger.Debug().
		Str("policy", policy.Name).
		Msg("Policy compiled successfully")

	return &compiledPolicy{policy: policy, query: query}, nil
}

// GetPolicy returns a policy by name.
func (e *Engine) GetPolicy(name string) (*Policy, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	cp, exists := e.policies[name]
	if !exists {
		return nil, fmt.Errorf("policy not found: %s", name)
	}

	p := *cp.policy
	return &p, nil
}

// ListPolicies returns all loaded policies sorted by name.
func (e *Engine) ListPolicies() []Policy {
	e.mu.RLock()
	defer e.mu.RUnlock()

	names := e.sortedNamesLocked()
	policies := make([]Policy, 0, len(names))
	for _, name := range names {
		policies = append(policies, *e.policies[name].policy)
	}

	return policies
}

// EnablePolicy enables a policy by name.
func (e *Engine) EnablePolicy(name string) error {
	return e.setEnabled(name, true)
}

// DisablePolicy disables a policy by name.
func (e *Engine) DisablePolicy(name string) error {
	return e.setEnabled(name, false)
}

func (e *Engine) setEnabled(name string, enabled bool) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	cp, exists := e.policies[name]
	if !exists {
		return fmt.Errorf("policy not found: %s", name)
	}

	p := *cp.policy
	p.Enabled = enabled
	e.policies[name] = &compiledPolicy{policy: &p, query: cp.query}

	e.logger.Info().Str("policy", name).Bool("enabled", enabled).Msg("Policy state changed")
	return nil
}

func (e *Engine) sortedNamesLocked() []string {
	names := make([]string, 0, len(e.policies))
	for name := range e.policies {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
