package config

import (
	"fmt"
	"sort"
	"sync"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
)

// SchemaRegistry holds the CUE definitions manifests are checked against.
type SchemaRegistry struct {
	ctx     *cue.Context
	schemas map[string]cue.Value
	mu      sync.RWMutex
}

// NewSchemaRegistry creates a schema registry with the built-in schemas.
func NewSchemaRegistry() *SchemaRegistry {
	sr := &SchemaRegistry{
		ctx:     cuecontext.New(),
		schemas: make(map[string]cue.Value),
	}

	// Built-in schemas are constants and always compile.
	_ = sr.RegisterSchema("resource", "#Resource", builtinResourceSchema)
	_ = sr.RegisterSchema("manifest", "#Manifest", builtinResourceSchema+builtinManifestSchema)

	return sr
}

// RegisterSchema compiles source and registers its definition def under name.
func (sr *SchemaRegistry) RegisterSchema(name, def, source string) error {
	val := sr.ctx.CompileString(source, cue.Filename(name+".cue"))
	if err := val.Err(); err != nil {
		return fmt.Errorf("failed to compile schema %s: %w", name, err)
	}

	schema := val.LookupPath(cue.ParsePath(def))
	if !schema.Exists() {
		return fmt.Errorf("schema %s does not define %s", name, def)
	}

	sr.mu.Lock()
	defer sr.mu.Unlock()
	sr.schemas[name] = schema
	return nil
}

// GetSchema retrieves a schema by name.
func (sr *SchemaRegistry) GetSchema(name string) (cue.Value, bool) {
	sr.mu.RLock()
	defer sr.mu.RUnlock()

	val, ok := sr.schemas[name]
	return val, ok
}

// ValidateAgainstSchema checks that data is a concrete instance of the named schema.
func (sr *SchemaRegistry) ValidateAgainstSchema(schemaName string, data interface{}) error {
	schema, ok := sr.GetSchema(schemaName)
	if !ok {
		return fmt.Errorf("schema %s not found", schemaName)
	}

	dataVal := sr.ctx.Encode(data)
	if err := dataVal.Err(); err != nil {
		return fmt.Errorf("failed to encode data: %w", err)
	}

	unified := schema.Unify(dataVal)
	if err := unified.Validate(cue.Concrete(true)); err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}

	return nil
}

// ValidateResource checks a manifest resource against the resource schema.
func (sr *SchemaRegistry) ValidateResource(res ManifestResource) error {
	return sr.ValidateAgainstSchema("resource", res)
}

// ListSchemas returns all registered schema names in sorted order.
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

const builtinResourceSchema = `
#Ref: string & =~"^[^\\[\\]]+\\[.+\\]$"

#Resource: {
	// Type is a lower-case resource type such as "file" or "exec"
	type: string & =~"^[a-z][a-z0-9_.]*$"

	title?: string & !=""

	parameters?: {[string]: _}

	requires?: [...#Ref]
	before?: [...#Ref]

	tags?: [...string]
}
`

const builtinManifestSchema = `
#Manifest: {
	version?: string
	classes?: [...string & =~"^[a-z0-9_:]+$"]
	resources: [...#Resource]
}
`
