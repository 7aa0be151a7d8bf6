package policy

import (
	"fmt"
	"sort"
	"time"

	"github.com/openfroyo/catalog/pkg/engine"
)

// Severity represents the severity level of a policy violation.
type Severity string

const (
	// SeverityInfo is for informational messages.
	SeverityInfo Severity = "info"

	// SeverityWarning is for warnings that should be reviewed.
	SeverityWarning Severity = "warning"

	// SeverityError is for errors that reject the catalog.
	SeverityError Severity = "error"

	// SeverityCritical is for critical violations. They reject the catalog like errors.
	SeverityCritical Severity = "critical"
)

// Validate checks if the severity is valid.
func (s Severity) Validate() error {
	switch s {
	case SeverityInfo, SeverityWarning, SeverityError, SeverityCritical:
		return nil
	default:
		return fmt.Errorf("invalid severity: %s", s)
	}
}

// Blocking reports whether a violation of this severity rejects a catalog.
func (s Severity) Blocking() bool {
	return s == SeverityError || s == SeverityCritical
}

// Policy represents a policy rule with its Rego code.
type Policy struct {
	// Name is the unique name of the policy.
	Name string `json:"name" yaml:"name"`

	// Description provides a human-readable description.
	Description string `json:"description" yaml:"description"`

	// Rego contains the Rego policy code. The module must define a deny set.
	Rego string `json:"rego" yaml:"rego"`

	// Severity is the default severity for violations.
	Severity Severity `json:"severity" yaml:"severity"`

	// Enabled indicates if the policy is active.
	Enabled bool `json:"enabled" yaml:"enabled"`

	// Builtin marks policies shipped with the binary. They survive reloads.
	Builtin bool `json:"builtin,omitempty" yaml:"builtin,omitempty"`

	// Tags are labels for organizing policies.
	Tags []string `json:"tags,omitempty" yaml:"tags,omitempty"`

	// Source is the file the policy was loaded from, if any.
	Source string `json:"source,omitempty" yaml:"source,omitempty"`

	// LoadedAt is when the policy was loaded or compiled.
	LoadedAt time.Time `json:"loaded_at" yaml:"loaded_at"`
}

// Violation represents a single policy violation.
type Violation struct {
	// Policy is the name of the policy that was violated.
	Policy string `json:"policy"`

	// Resource is the Type[Title] reference of the offending resource, if any.
	Resource string `json:"resource,omitempty"`

	// Message describes the violation.
	Message string `json:"message"`

	// Severity is the severity of this violation.
	Severity Severity `json:"severity"`
}

// Error implements error so violations can be aggregated.
func (v Violation) Error() string {
	if v.Resource != "" {
		return fmt.Sprintf("%s: %s (%s)", v.Policy, v.Message, v.Resource)
	}
	return fmt.Sprintf("%s: %s", v.Policy, v.Message)
}

// Result contains the result of evaluating the policies against one catalog.
type Result struct {
	// Allowed is false when any violation is blocking.
	Allowed bool `json:"allowed"`

	// Violations lists all violations, ordered by policy then resource.
	Violations []Violation `json:"violations,omitempty"`

	// Warnings lists policies that failed to evaluate.
	Warnings []string `json:"warnings,omitempty"`

	// EvaluatedPolicies lists the policies that were evaluated.
	EvaluatedPolicies []string `json:"evaluated_policies"`

	// EvaluatedAt is when the evaluation finished.
	EvaluatedAt time.Time `json:"evaluated_at"`

	// Duration is how long the evaluation took.
	Duration time.Duration `json:"duration"`
}

// Blocking returns the violations that reject the catalog.
func (r *Result) Blocking() []Violation {
	var blocking []Violation
	for _, v := range r.Violations {
		if v.Severity.Blocking() {
			blocking = append(blocking, v)
		}
	}
	return blocking
}

// Input is the document policies see as input.
type Input struct {
	Node        string          `json:"node"`
	Environment string          `json:"environment"`
	Version     string          `json:"version"`
	Classes     []string        `json:"classes"`
	Resources   []InputResource `json:"resources"`
	Edges       []InputEdge     `json:"edges"`
}

// InputResource is a resource as presented to policies.
type InputResource struct {
	Type       string                 `json:"type"`
	Title      string                 `json:"title"`
	Ref        string                 `json:"ref"`
	Parameters map[string]interface{} `json:"parameters"`
	Requires   []string               `json:"requires"`
	Tags       []string               `json:"tags"`
}

// InputEdge orders Source before Target.
type InputEdge struct {
	Source string `json:"source"`
	Target string `json:"target"`
}

// NewInput converts a catalog into a policy input document.
func NewInput(catalog *engine.Catalog) *Input {
	in := &Input{
		Node:        catalog.Name,
		Environment: catalog.Environment,
		Version:     catalog.Version,
		Classes:     append([]string{}, catalog.Classes...),
		Resources:   make([]InputResource, 0, len(catalog.Resources)),
		Edges:       make([]InputEdge, 0, len(catalog.Edges)),
	}

	for i := range catalog.Resources {
		res := &catalog.Resources[i]
		params := res.Parameters
		if params == nil {
			params = map[string]interface{}{}
		}
		requires := make([]string, 0, len(res.Requires))
		for _, ref := range res.Requires {
			requires = append(requires, ref.String())
		}
		in.Resources = append(in.Resources, InputResource{
			Type:       res.Type,
			Title:      res.Title,
			Ref:        res.Ref().String(),
			Parameters: params,
			Requires:   requires,
			Tags:       append([]string{}, res.Tags...),
		})
	}

	for _, e := range catalog.Edges {
		in.Edges = append(in.Edges, InputEdge{Source: e.Source.String(), Target: e.Target.String()})
	}

	return in
}

func sortViolations(violations []Violation) {
	sort.SliceStable(violations, func(i, j int) bool {
		if violations[i].Policy != violations[j].Policy {
			return violations[i].Policy < violations[j].Policy
		}
		if violations[i].Resource != violations[j].Resource {
			return violations[i].Resource < violations[j].Resource
		}
		return violations[i].Message < violations[j].Message
	})
}
