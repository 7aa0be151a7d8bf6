package config

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/openfroyo/catalog/pkg/engine"
	"github.com/rs/zerolog"
)

func writeManifests(t *testing.T, files map[string]string) string {
	t.Helper()
	dir := t.TempDir()
	for name, content := range files {
		path := filepath.Join(dir, name)
		if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
			t.Fatalf("failed to create dir: %v", err)
		}
		if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
			t.Fatalf("failed to write %s: %v", name, err)
		}
	}
	return dir
}

func newTestCompiler() *Compiler {
	c := NewCompiler(zerolog.Nop())
	c.now = func() time.Time { return time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC) }
	return c
}

func TestCompiler_MapForm(t *testing.T) {
	dir := writeManifests(t, map[string]string{
		"site.cue": `
classes: ["base"]

resources: {
	"/etc/motd": {
		type: "file"
		parameters: content: "Welcome to \(node.name) (\(facts.os))\n"
	}
	"reload": {
		type: "exec"
		parameters: command: "true"
		requires: ["file[/etc/motd]"]
	}
}
`,
	})

	catalog, err := newTestCompiler().Compile(context.Background(), dir, Node{
		Name:        "web-1",
		Environment: "production",
		Facts:       map[string]interface{}{"os": "linux"},
	})
	if err != nil {
		t.Fatalf("compile failed: %v", err)
	}

	want := &engine.Catalog{
		Name:        "web-1",
		Version:     "1767323045",
		Environment: "production",
		Classes:     []string{"base"},
		Resources: []engine.Resource{
			{
				Type:       "file",
				Title:      "/etc/motd",
				Parameters: map[string]interface{}{"content": "Welcome to web-1 (linux)\n"},
			},
			{
				Type:       "exec",
				Title:      "reload",
				Parameters: map[string]interface{}{"command": "true"},
				Requires:   []engine.ResourceRef{{Type: "file", Title: "/etc/motd"}},
			},
		},
		CompiledAt: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
	}
	if diff := cmp.Diff(want, catalog); diff != "" {
		t.Errorf("catalog mismatch (-want +got):\n%s", diff)
	}
}

func TestCompiler_ListFormAndEdges(t *testing.T) {
	dir := writeManifests(t, map[string]string{
		"site.cue": `
version: "v42"
resources: [
	{type: "notify", title: "hello", before: ["notify[world]"]},
	{type: "notify", title: "world"},
]
`,
	})

	catalog, err := newTestCompiler().Compile(context.Background(), dir, Node{Name: "web-1"})
	if err != nil {
		t.Fatalf("compile failed: %v", err)
	}
	if catalog.Version != "v42" {
		t.Errorf("expected manifest version, got %s", catalog.Version)
	}
	wantEdges := []engine.Edge{{
		Source: engine.ResourceRef{Type: "notify", Title: "hello"},
		Target: engine.ResourceRef{Type: "notify", Title: "world"},
	}}
	if diff := cmp.Diff(wantEdges, catalog.Edges); diff != "" {
		t.Errorf("edges mismatch (-want +got):\n%s", diff)
	}
}

func TestCompiler_FactsDriveResources(t *testing.T) {
	dir := writeManifests(t, map[string]string{
		"base.cue": `resources: "base": {type: "notify"}`,
		"web.cue": `
if facts.role == "web" {
	resources: "nginx": {type: "notify", requires: ["notify[base]"]}
}
`,
	})
	c := newTestCompiler()

	web, err := c.Compile(context.Background(), dir, Node{Name: "web-1", Facts: map[string]interface{}{"role": "web"}})
	if err != nil {
		t.Fatalf("compile failed: %v", err)
	}
	db, err := c.Compile(context.Background(), dir, Node{Name: "db-1", Facts: map[string]interface{}{"role": "db"}})
	if err != nil {
		t.Fatalf("compile failed: %v", err)
	}

	if len(web.Resources) != 2 || len(db.Resources) != 1 {
		t.Errorf("expected 2 web and 1 db resources, got %d and %d", len(web.Resources), len(db.Resources))
	}
}

func TestCompiler_Classifier(t *testing.T) {
	dir := writeManifests(t, map[string]string{
		ClassifierFile: `
classes = ["web"]
parameters = {"greeting": "hello " + node}
`,
		"site.cue": `
classes: ["base"]
resources: "motd": {
	type: "notify"
	parameters: message: classifier.parameters.greeting
}
`,
	})

	catalog, err := newTestCompiler().Compile(context.Background(), dir, Node{Name: "web-1"})
	if err != nil {
		t.Fatalf("compile failed: %v", err)
	}
	if diff := cmp.Diff([]string{"base", "web"}, catalog.Classes); diff != "" {
		t.Errorf("classes mismatch (-want +got):\n%s", diff)
	}
	if got := catalog.Resources[0].StringParam("message", ""); got != "hello web-1" {
		t.Errorf("expected classifier parameter in resource, got %q", got)
	}
}

func TestCompiler_ClassifierFailure(t *testing.T) {
	dir := writeManifests(t, map[string]string{
		ClassifierFile: `classes = undefined`,
		"site.cue":     `resources: {}`,
	})

	_, err := newTestCompiler().Compile(context.Background(), dir, Node{Name: "web-1"})
	if !engine.IsConfiguration(err) {
		t.Errorf("expected configuration error, got: %v", err)
	}
}

func TestCompiler_CollectsAllProblems(t *testing.T) {
	dir := writeManifests(t, map[string]string{
		"a.cue": `resources: "x": {type: "File"}`,
		"b.cue": `resources: "y": {type: "exec", requires: ["nonsense"]}`,
	})

	_, err := newTestCompiler().Compile(context.Background(), dir, Node{Name: "web-1"})
	if !engine.IsConfiguration(err) {
		t.Fatalf("expected configuration error, got: %v", err)
	}

	ee, ok := asEngineError(err)
	if !ok {
		t.Fatalf("expected *engine.EngineError, got %T", err)
	}
	problems, _ := ee.Details["errors"].([]ManifestError)
	if len(problems) != 2 {
		t.Errorf("expected 2 problems, got %d: %v", len(problems), err)
	}
}

func TestCompiler_Errors(t *testing.T) {
	tests := []struct {
		name  string
		files map[string]string
		code  string
	}{
		{
			name:  "syntax error",
			files: map[string]string{"bad.cue": `resources: {`},
			code:  engine.ErrCodeValidation,
		},
		{
			name:  "missing fact",
			files: map[string]string{"site.cue": `resources: "x": {type: "notify", parameters: os: facts.os}`},
			code:  engine.ErrCodeValidation,
		},
		{
			name:  "no manifests",
			files: map[string]string{"README.md": "nothing here"},
			code:  engine.ErrCodeValidation,
		},
		{
			name:  "unknown dependency",
			files: map[string]string{"site.cue": `resources: "x": {type: "notify", requires: ["notify[y]"]}`},
			code:  engine.ErrCodeUnknownDependency,
		},
		{
			name: "cycle",
			files: map[string]string{"site.cue": `
resources: {
	"a": {type: "notify", requires: ["notify[b]"]}
	"b": {type: "notify", requires: ["notify[a]"]}
}`},
			code: engine.ErrCodeCycle,
		},
		{
			name: "duplicate in list",
			files: map[string]string{"site.cue": `
resources: [
	{type: "notify", title: "a"},
	{type: "notify", title: "a"},
]`},
			code: engine.ErrCodeValidation,
		},
		{
			name:  "untitled list entry",
			files: map[string]string{"site.cue": `resources: [{type: "notify"}]`},
			code:  engine.ErrCodeValidation,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := writeManifests(t, tt.files)
			_, err := newTestCompiler().Compile(context.Background(), dir, Node{Name: "web-1"})
			if !engine.IsConfiguration(err) {
				t.Fatalf("expected configuration error, got: %v", err)
			}
			ee, _ := asEngineError(err)
			if ee.Code != tt.code {
				t.Errorf("expected code %s, got %s (%v)", tt.code, ee.Code, err)
			}
		})
	}
}

func TestCompiler_MissingDirectory(t *testing.T) {
	_, err := newTestCompiler().Compile(context.Background(), filepath.Join(t.TempDir(), "absent"), Node{Name: "web-1"})
	if !engine.IsConfiguration(err) {
		t.Errorf("expected configuration error, got: %v", err)
	}
	if err != nil && !strings.Contains(err.Error(), "absent") {
		t.Errorf("expected the path in the error: %v", err)
	}
}

func TestCompiler_NestedDirectories(t *testing.T) {
	dir := writeManifests(t, map[string]string{
		"site.cue":         `resources: "a": {type: "notify"}`,
		"roles/web.cue":    `resources: "b": {type: "notify"}`,
		".hidden/skip.cue": `resources: "c": {type: "notify"}`,
	})

	catalog, err := newTestCompiler().Compile(context.Background(), dir, Node{Name: "web-1"})
	if err != nil {
		t.Fatalf("compile failed: %v", err)
	}
	if len(catalog.Resources) != 2 {
		t.Errorf("expected hidden directories to be skipped, got %d resources", len(catalog.Resources))
	}
}

func asEngineError(err error) (*engine.EngineError, bool) {
	ee, ok := err.(*engine.EngineError)
	return ee, ok
}
