// Package indirector routes requests for a subject (a catalog, a set of facts) to the
// terminus currently responsible for it.
//
// A Registry is an explicit object owned by the process and passed into every workflow.
// Its selection state is shared and mutable: a workflow that switches the active
// terminus leaves it switched until someone sets it again.
package indirector

import (
	"context"
	"fmt"
	"strings"

	"github.com/openfroyo/catalog/pkg/engine"
)

// Subject names the kind of entity a registry entry routes.
type Subject string

const (
	// SubjectCatalog routes catalogs.
	SubjectCatalog Subject = "catalog"

	// SubjectFacts routes facts.
	SubjectFacts Subject = "facts"
)

// Kind is the closed set of terminus variants.
type Kind string

const (
	// KindCompiler synthesizes the entity locally.
	KindCompiler Kind = "compiler"

	// KindNetwork fetches the entity from a remote authority.
	KindNetwork Kind = "network"

	// KindCache reads and writes a locally persisted copy.
	KindCache Kind = "cache"
)

// Validate checks if the kind is valid.
func (k Kind) Validate() error {
	switch k {
	case KindCompiler, KindNetwork, KindCache:
		return nil
	default:
		return fmt.Errorf("invalid terminus kind: %s", k)
	}
}

// Capability is a bit set of the operations a terminus implements.
type Capability uint8

const (
	CapFind Capability = 1 << iota
	CapSave
	CapDestroy
	CapSearch
)

// Has reports whether every capability in c2 is present in c.
func (c Capability) Has(c2 Capability) bool {
	return c&c2 == c2
}

// String lists the capabilities, e.g. "find,save".
func (c Capability) String() string {
	names := make([]string, 0, 4)
	for _, flag := range []struct {
		bit  Capability
		name string
	}{{CapFind, "find"}, {CapSave, "save"}, {CapDestroy, "destroy"}, {CapSearch, "search"}} {
		if c.Has(flag.bit) {
			names = append(names, flag.name)
		}
	}
	return strings.Join(names, ",")
}

// Request carries pass-through context for a find. Termini interpret what they need
// and ignore the rest.
type Request struct {
	// Facts about the node the entity is requested for.
	Facts map[string]interface{}

	// Environment overrides the environment label, if set.
	Environment string

	// Options holds terminus-specific parameters.
	Options map[string]string
}

// Terminus is one strategy for locating, storing or compiling entities of type T.
// Operations outside Capabilities return a NotSupported configuration error.
type Terminus[T any] interface {
	// Name identifies the terminus instance in logs and errors.
	Name() string

	// Kind returns the terminus variant.
	Kind() Kind

	// Capabilities returns the operations the terminus implements.
	Capabilities() Capability

	// Find returns the entity stored or produced under key.
	Find(ctx context.Context, key string, req *Request) (T, error)

	// Save persists the entity under key.
	Save(ctx context.Context, key string, value T) error

	// Destroy removes the entity stored under key.
	Destroy(ctx context.Context, key string) error

	// Search returns the keys matching pattern. An empty pattern matches everything.
	Search(ctx context.Context, pattern string) ([]string, error)
}

// Unsupported is embedded by termini to answer the operations they do not implement.
// Each method returns a configuration error with code NOT_SUPPORTED. Termini
// override the methods they do support.
type Unsupported[T any] struct {
	// TerminusName is reported in the errors.
	TerminusName string
}

// Find is not supported.
func (u Unsupported[T]) Find(context.Context, string, *Request) (T, error) {
	var zero T
	return zero, engine.NewNotSupportedError(u.TerminusName, "find")
}

// Save is not supported.
func (u Unsupported[T]) Save(context.Context, string, T) error {
	return engine.NewNotSupportedError(u.TerminusName, "save")
}

// Destroy is not supported.
func (u Unsupported[T]) Destroy(context.Context, string) error {
	return engine.NewNotSupportedError(u.TerminusName, "destroy")
}

// Search is not supported.
func (u Unsupported[T]) Search(context.Context, string) ([]string, error) {
	return nil, engine.NewNotSupportedError(u.TerminusName, "search")
}

// BackendState is a snapshot of the termini selected for a subject.
type BackendState struct {
	Subject    Subject `json:"subject" yaml:"subject"`
	Active     string  `json:"active" yaml:"active"`
	ActiveKind Kind    `json:"active_kind" yaml:"active_kind"`
	Cache      string  `json:"cache,omitempty" yaml:"cache,omitempty"`
}
