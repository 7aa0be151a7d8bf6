package config

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
	"github.com/go-playground/validator/v10"
	"github.com/hashicorp/go-multierror"
	"github.com/openfroyo/catalog/pkg/engine"
	"github.com/rs/zerolog"
)

// Compiler turns a directory of CUE manifests into a catalog for one node.
//
// Every manifest is compiled with three extra identifiers in scope:
//
//	facts       the node's facts
//	node        {name: string, environment: string}
//	classifier  {classes: [...string], parameters: {...}}, from classifier.star
type Compiler struct {
	cue        *cue.Context
	schemas    *SchemaRegistry
	classifier *StarlarkEvaluator
	validator  *validator.Validate
	logger     zerolog.Logger
	now        func() time.Time
}

// NewCompiler creates a manifest compiler.
func NewCompiler(logger zerolog.Logger) *Compiler {
	return &Compiler{
		cue:        cuecontext.New(),
		schemas:    NewSchemaRegistry(),
		classifier: NewStarlarkEvaluator(30 * time.Second),
		validator:  validator.New(),
		logger:     logger.With().Str("component", "compiler").Logger(),
		now:        time.Now,
	}
}

// Compile compiles the manifests under dir for node. Manifest problems are
// collected and returned together as one ConfigurationError.
func (c *Compiler) Compile(ctx context.Context, dir string, node Node) (*engine.Catalog, error) {
	start := c.now()

	files, err := manifestFiles(dir)
	if err != nil {
		return nil, err
	}

	classified, err := c.classify(ctx, dir, node)
	if err != nil {
		return nil, err
	}

	scope, err := c.scope(node, classified)
	if err != nil {
		return nil, err
	}

	var (
		merged   cue.Value
		problems []ManifestError
	)
	for _, file := range files {
		data, err := os.ReadFile(file)
		if err != nil {
			problems = append(problems, ManifestError{File: file, Message: fmt.Sprintf("failed to read file: %v", err)})
			continue
		}

		val := c.cue.CompileBytes(data, cue.Filename(file), cue.Scope(scope))
		if err := val.Err(); err != nil {
			problems = append(problems, convertCUEErrors(err)...)
			continue
		}

		if merged.Exists() {
			merged = merged.Unify(val)
		} else {
			merged = val
		}
	}
	if len(problems) > 0 {
		return nil, manifestErrors(dir, problems)
	}

	if err := merged.Validate(cue.Concrete(true)); err != nil {
		return nil, manifestErrors(dir, convertCUEErrors(err))
	}

	manifest, problems := c.extract(merged)
	if len(problems) > 0 {
		return nil, manifestErrors(dir, problems)
	}

	catalog, problems := c.build(manifest, node, classified)
	if len(problems) > 0 {
		return nil, manifestErrors(dir, problems)
	}

	// Reject unknown references and cycles at compile time
	if _, err := engine.BuildResourceGraph(catalog); err != nil {
		return nil, err
	}

	c.logger.Debug().
		Str("node", node.Name).
		Int("files", len(files)).
		Int("resources", len(catalog.Resources)).
		Dur("duration", c.now().Sub(start)).
		Msg("Compiled catalog")

	return catalog, nil
}

func (c *Compiler) classify(ctx context.Context, dir string, node Node) (*ClassifierResult, error) {
	path := filepath.Join(dir, ClassifierFile)
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		return &ClassifierResult{Classes: []string{}, Parameters: map[string]interface{}{}}, nil
	}

	result, err := c.classifier.Classify(ctx, path, node)
	if err != nil {
		return nil, engine.NewConfigurationError(fmt.Sprintf("classifier %s failed", path), err).
			WithCode(engine.ErrCodeValidation)
	}
	return result, nil
}

func (c *Compiler) scope(node Node, classified *ClassifierResult) (cue.Value, error) {
	facts := node.Facts
	if facts == nil {
		facts = map[string]interface{}{}
	}

	scope := c.cue.Encode(map[string]interface{}{
		"facts": facts,
		"node": map[string]interface{}{
			"name":        node.Name,
			"environment": node.Environment,
		},
		"classifier": map[string]interface{}{
			"classes":    classified.Classes,
			"parameters": classified.Parameters,
		},
	})
	if err := scope.Err(); err != nil {
		return cue.Value{}, engine.NewConfigurationError("failed to encode facts for the manifests", err)
	}
	return scope, nil
}

// extract decodes the top-level manifest fields. resources may be a struct keyed
// by title or a list of resources with explicit titles.
func (c *Compiler) extract(val cue.Value) (*Manifest, []ManifestError) {
	manifest := &Manifest{}
	var problems []ManifestError

	if v := val.LookupPath(cue.ParsePath("version")); v.Exists() {
		if err := v.Decode(&manifest.Version); err != nil {
			problems = append(problems, ManifestError{Path: "version", Message: err.Error()})
		}
	}

	if v := val.LookupPath(cue.ParsePath("classes")); v.Exists() {
		if err := v.Decode(&manifest.Classes); err != nil {
			problems = append(problems, ManifestError{Path: "classes", Message: err.Error()})
		}
	}

	resourcesVal := val.LookupPath(cue.ParsePath("resources"))
	if !resourcesVal.Exists() {
		return manifest, problems
	}

	switch resourcesVal.Kind() {
	case cue.StructKind:
		iter, err := resourcesVal.Fields()
		if err != nil {
			return manifest, append(problems, ManifestError{Path: "resources", Message: err.Error()})
		}
		for iter.Next() {
			label := iter.Selector().Unquoted()
			res, err := c.decodeResource(iter.Value(), label)
			if err != nil {
				problems = append(problems, ManifestError{
					Path:    "resources." + iter.Selector().String(),
					Message: err.Error(),
				})
				continue
			}
			manifest.Resources = append(manifest.Resources, res)
		}
	case cue.ListKind:
		list, err := resourcesVal.List()
		if err != nil {
			return manifest, append(problems, ManifestError{Path: "resources", Message: err.Error()})
		}
		for idx := 0; list.Next(); idx++ {
			res, err := c.decodeResource(list.Value(), "")
			if err != nil {
				problems = append(problems, ManifestError{
					Path:    fmt.Sprintf("resources[%d]", idx),
					Message: err.Error(),
				})
				continue
			}
			manifest.Resources = append(manifest.Resources, res)
		}
	default:
		problems = append(problems, ManifestError{
			Path:    "resources",
			Message: fmt.Sprintf("must be a struct or a list, got %s", resourcesVal.Kind()),
		})
	}

	return manifest, problems
}

func (c *Compiler) decodeResource(val cue.Value, label string) (ManifestResource, error) {
	var res ManifestResource
	if err := val.Decode(&res); err != nil {
		return res, fmt.Errorf("failed to decode resource: %w", err)
	}
	if res.Title == "" {
		res.Title = label
	}
	if res.Title == "" {
		return res, fmt.Errorf("resource of type %q has no title", res.Type)
	}
	if err := c.schemas.ValidateResource(res); err != nil {
		return res, err
	}
	return res, nil
}

// build converts the manifest into a catalog, checking references and duplicates.
func (c *Compiler) build(manifest *Manifest, node Node, classified *ClassifierResult) (*engine.Catalog, []ManifestError) {
	catalog := &engine.Catalog{
		Name:        node.Name,
		Version:     manifest.Version,
		Environment: node.Environment,
		Resources:   make([]engine.Resource, 0, len(manifest.Resources)),
		Classes:     mergeClasses(manifest.Classes, classified.Classes),
		CompiledAt:  c.now().UTC(),
	}
	if catalog.Version == "" {
		catalog.Version = strconv.FormatInt(catalog.CompiledAt.Unix(), 10)
	}

	var problems []ManifestError
	seen := make(map[string]bool)

	for _, mr := range manifest.Resources {
		res := engine.Resource{
			Type:       mr.Type,
			Title:      mr.Title,
			Parameters: mr.Parameters,
			Tags:       mr.Tags,
		}
		ref := res.Ref().String()

		if seen[ref] {
			problems = append(problems, ManifestError{Path: ref, Message: "duplicate resource declaration"})
			continue
		}
		seen[ref] = true

		for _, raw := range mr.Requires {
			dep, err := engine.ParseResourceRef(raw)
			if err != nil {
				problems = append(problems, ManifestError{Path: ref + ".requires", Message: err.Error()})
				continue
			}
			res.Requires = append(res.Requires, dep)
		}
		for _, raw := range mr.Before {
			target, err := engine.ParseResourceRef(raw)
			if err != nil {
				problems = append(problems, ManifestError{Path: ref + ".before", Message: err.Error()})
				continue
			}
			catalog.Edges = append(catalog.Edges, engine.Edge{Source: res.Ref(), Target: target})
		}

		if err := c.validator.Struct(res); err != nil {
			problems = append(problems, ManifestError{Path: ref, Message: fmt.Sprintf("validation failed: %v", err)})
			continue
		}

		catalog.Resources = append(catalog.Resources, res)
	}

	return catalog, problems
}

func mergeClasses(lists ...[]string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, list := range lists {
		for _, class := range list {
			if !seen[class] {
				seen[class] = true
				out = append(out, class)
			}
		}
	}
	return out
}

// manifestFiles lists the .cue files under dir in lexical order.
func manifestFiles(dir string) ([]string, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, engine.NewConfigurationError(fmt.Sprintf("manifest directory %s is not readable", dir), err)
	}
	if !info.IsDir() {
		return nil, engine.NewConfigurationError(fmt.Sprintf("manifest path %s is not a directory", dir), nil)
	}

	var files []string
	err = filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() && path != dir && strings.HasPrefix(d.Name(), ".") {
			return filepath.SkipDir
		}
		if !d.IsDir() && strings.HasSuffix(path, ".cue") {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return nil, engine.NewConfigurationError(fmt.Sprintf("failed to walk manifest directory %s", dir), err)
	}
	if len(files) == 0 {
		return nil, engine.NewConfigurationError(fmt.Sprintf("no manifests found in %s", dir), nil).
			WithCode(engine.ErrCodeValidation)
	}
	return files, nil
}

func manifestErrors(dir string, problems []ManifestError) error {
	var result *multierror.Error
	for _, p := range problems {
		result = multierror.Append(result, p)
	}
	return engine.NewConfigurationError(
		fmt.Sprintf("manifests in %s are invalid", dir), result.ErrorOrNil(),
	).WithCode(engine.ErrCodeValidation).WithDetail("errors", problems)
}

// convertCUEErrors flattens a CUE error into located manifest errors.
func convertCUEErrors(err error) []ManifestError {
	var out []ManifestError

	for _, e := range cueerrors.Errors(err) {
		me := ManifestError{
			Path:    strings.Join(e.Path(), "."),
			Message: e.Error(),
		}
		if pos := cueerrors.Positions(e); len(pos) > 0 {
			me.File = pos[0].Filename()
			me.Line = pos[0].Line()
			me.Column = pos[0].Column()
		}
		out = append(out, me)
	}

	return out
}
