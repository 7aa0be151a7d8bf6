// Package compiler provides the catalog terminus that compiles catalogs locally
// from the CUE manifests of the current run mode.
package compiler

import (
	"context"

	"github.com/openfroyo/catalog/pkg/config"
	"github.com/openfroyo/catalog/pkg/engine"
	"github.com/openfroyo/catalog/pkg/indirector"
	"github.com/rs/zerolog"
)

// Name is the default terminus name.
const Name = "compiler"

// ManifestSource says where manifests live. The directory may change with the
// run mode, so it is read on every find.
type ManifestSource interface {
	ManifestDir() string
	Environment() string
}

// Gate accepts or rejects a compiled catalog.
type Gate interface {
	Gate(ctx context.Context, catalog *engine.Catalog) error
}

// Terminus compiles catalogs. It only supports find.
type Terminus struct {
	indirector.Unsupported[*engine.Catalog]

	compiler *config.Compiler
	source   ManifestSource
	facts    engine.FactsProvider
	gate     Gate
	logger   zerolog.Logger
}

var _ indirector.Terminus[*engine.Catalog] = (*Terminus)(nil)

// New creates a compiler terminus.
func New(compiler *config.Compiler, source ManifestSource, logger zerolog.Logger) *Terminus {
	return &Terminus{
		Unsupported: indirector.Unsupported[*engine.Catalog]{TerminusName: Name},
		compiler:    compiler,
		source:      source,
		logger:      logger.With().Str("terminus", Name).Logger(),
	}
}

// WithFacts sets the provider used when a request carries no facts.
func (t *Terminus) WithFacts(facts engine.FactsProvider) *Terminus {
	t.facts = facts
	return t
}

// WithGate sets the policy gate every compiled catalog must pass.
func (t *Terminus) WithGate(gate Gate) *Terminus {
	t.gate = gate
	return t
}

// Name returns the terminus name.
func (t *Terminus) Name() string { return Name }

// Kind returns KindCompiler.
func (t *Terminus) Kind() indirector.Kind { return indirector.KindCompiler }

// Capabilities returns CapFind.
func (t *Terminus) Capabilities() indirector.Capability { return indirector.CapFind }

// Find compiles the catalog for node key. Facts come from req when present,
// otherwise from the facts provider; a node without facts compiles with none.
func (t *Terminus) Find(ctx context.Context, key string, req *indirector.Request) (*engine.Catalog, error) {
	node := config.Node{Name: key, Environment: t.source.Environment()}
	if req != nil && req.Environment != "" {
		node.Environment = req.Environment
	}

	facts, err := t.nodeFacts(ctx, key, req)
	if err != nil {
		return nil, err
	}
	node.Facts = facts

	dir := t.source.ManifestDir()
	t.logger.Debug().
		Str("node", key).
		Str("environment", node.Environment).
		Str("manifest_dir", dir).
		Msg("Compiling catalog")

	catalog, err := t.compiler.Compile(ctx, dir, node)
	if err != nil {
		return nil, err
	}

	if t.gate != nil {
		if err := t.gate.Gate(ctx, catalog); err != nil {
			return nil, err
		}
	}

	t.logger.Info().
		Str("node", key).
		Str("version", catalog.Version).
		Int("resources", len(catalog.Resources)).
		Msgf("Compiled catalog for %s in environment %s", key, catalog.Environment)

	return catalog, nil
}

func (t *Terminus) nodeFacts(ctx context.Context, key string, req *indirector.Request) (map[string]interface{}, error) {
	if req != nil && req.Facts != nil {
		return req.Facts, nil
	}
	if t.facts == nil {
		return map[string]interface{}{}, nil
	}

	facts, err := t.facts.Facts(ctx, key)
	if engine.IsNotFound(err) {
		t.logger.Debug().Str("node", key).Msg("No facts found, compiling without facts")
		return map[string]interface{}{}, nil
	}
	if err != nil {
		return nil, err
	}
	if facts == nil || facts.Values == nil {
		return map[string]interface{}{}, nil
	}
	return facts.Values, nil
}
