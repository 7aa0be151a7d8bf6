package engine

import (
	"fmt"
	"strings"
	"time"
)

// Catalog is the declarative description of the desired state of one node.
type Catalog struct {
	// Name is the node identity the catalog was compiled for.
	Name string `json:"name" yaml:"name"`

	// Version is an opaque token identifying this compilation.
	Version string `json:"version" yaml:"version"`

	// Environment is the environment label the catalog was compiled in.
	Environment string `json:"environment" yaml:"environment"`

	// Resources are the declared resources in declaration order.
	Resources []Resource `json:"resources" yaml:"resources"`

	// Edges are explicit ordering edges in addition to each resource's Requires.
	Edges []Edge `json:"edges,omitempty" yaml:"edges,omitempty"`

	// Classes lists the classes evaluated while compiling the catalog.
	Classes []string `json:"classes,omitempty" yaml:"classes,omitempty"`

	// RetrievalDuration is how long the last download of this catalog took.
	RetrievalDuration time.Duration `json:"retrieval_duration,omitempty" yaml:"retrieval_duration,omitempty"`

	// CompiledAt is when the catalog was compiled.
	CompiledAt time.Time `json:"compiled_at" yaml:"compiled_at"`
}

// Resource is one typed, titled declaration in a catalog.
type Resource struct {
	// Type is the resource type (e.g., "file", "exec").
	Type string `json:"type" yaml:"type" validate:"required"`

	// Title identifies the resource uniquely within its type.
	Title string `json:"title" yaml:"title" validate:"required"`

	// Parameters are the declared attributes of the resource.
	Parameters map[string]interface{} `json:"parameters,omitempty" yaml:"parameters,omitempty"`

	// Requires lists resources that must be applied before this one.
	Requires []ResourceRef `json:"requires,omitempty" yaml:"requires,omitempty" validate:"dive"`

	// Tags are free-form labels, usually the class the resource was declared in.
	Tags []string `json:"tags,omitempty" yaml:"tags,omitempty"`
}

// Ref returns the canonical reference for the resource.
func (r *Resource) Ref() ResourceRef {
	return ResourceRef{Type: r.Type, Title: r.Title}
}

// StringParam returns a string parameter or def when it is missing or not a string.
func (r *Resource) StringParam(name, def string) string {
	if v, ok := r.Parameters[name].(string); ok {
		return v
	}
	return def
}

// ResourceRef references a resource by type and title.
type ResourceRef struct {
	Type  string `json:"type" yaml:"type" validate:"required"`
	Title string `json:"title" yaml:"title" validate:"required"`
}

// String renders the reference as Type[Title].
func (r ResourceRef) String() string {
	return fmt.Sprintf("%s[%s]", r.Type, r.Title)
}

// ParseResourceRef parses a Type[Title] reference.
func ParseResourceRef(s string) (ResourceRef, error) {
	open := strings.Index(s, "[")
	if open <= 0 || !strings.HasSuffix(s, "]") || open == len(s)-2 {
		return ResourceRef{}, NewConfigurationError(
			fmt.Sprintf("malformed resource reference %q", s), nil,
		).WithCode(ErrCodeValidation)
	}
	return ResourceRef{Type: s[:open], Title: s[open+1 : len(s)-1]}, nil
}

// Edge orders Source before Target.
type Edge struct {
	Source ResourceRef `json:"source" yaml:"source"`
	Target ResourceRef `json:"target" yaml:"target"`
}

// Facts is an opaque key-value description of a node.
type Facts struct {
	// Name is the node identity the facts describe.
	Name string `json:"name" yaml:"name"`

	// Values holds the fact values.
	Values map[string]interface{} `json:"values" yaml:"values"`

	// Timestamp is when the facts were collected.
	Timestamp time.Time `json:"timestamp" yaml:"timestamp"`
}

// Event records the outcome of one resource during an apply.
type Event struct {
	// Resource is the reference of the resource the event belongs to.
	Resource string `json:"resource" yaml:"resource"`

	// Status is the outcome.
	Status EventStatus `json:"status" yaml:"status"`

	// Message describes what happened.
	Message string `json:"message,omitempty" yaml:"message,omitempty"`

	// Error holds the failure for failed and skipped events.
	Error *EngineError `json:"error,omitempty" yaml:"error,omitempty"`

	// OutOfSync is set when Check found a difference, even in noop mode.
	OutOfSync bool `json:"out_of_sync,omitempty" yaml:"out_of_sync,omitempty"`

	// Noop is set when a change was detected but not applied.
	Noop bool `json:"noop,omitempty" yaml:"noop,omitempty"`

	// StartedAt is when the resource was visited.
	StartedAt time.Time `json:"started_at" yaml:"started_at"`

	// Duration is how long the resource took.
	Duration time.Duration `json:"duration" yaml:"duration"`
}

// transition moves the event to next, rejecting anything but pending -> terminal.
func (e *Event) transition(next EventStatus) error {
	if !e.Status.CanTransitionTo(next) {
		return NewFatalEngineError(
			fmt.Sprintf("invalid event transition %s -> %s", e.Status, next), nil,
		).WithCode(ErrCodeInvalidTransition).WithResource(e.Resource)
	}
	e.Status = next
	return nil
}
