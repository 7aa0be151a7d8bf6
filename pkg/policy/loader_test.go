package policy

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/openfroyo/catalog/pkg/engine"
	"github.com/rs/zerolog"
)

const emptyRego = "package p\n\nimport rego.v1\n\ndeny contains msg if {\n\tfalse\n\tmsg := \"never\"\n}\n"

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("Failed to create directory: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("Failed to write test file: %v", err)
	}
}

func TestLoadFromFile_Rego(t *testing.T) {
	loader := NewLoader(zerolog.Nop())

	policyFile := filepath.Join(t.TempDir(), "no-curl.rego")
	regoContent := `# Forbid curl in exec commands
# severity: critical
package site.curl

import rego.v1

deny contains "curl is not allowed" if {
	some resource in input.resources
	contains(resource.parameters.command, "curl")
}
`
	writeFile(t, policyFile, regoContent)

	policy, err := loader.loadFromFile(context.Background(), policyFile)
	if err != nil {
		t.Fatalf("Failed to load policy: %v", err)
	}

	if policy.Name != "no-curl" {
		t.Errorf("Expected name 'no-curl', got '%s'", policy.Name)
	}
	if policy.Description != "Forbid curl in exec commands" {
		t.Errorf("unexpected description %q", policy.Description)
	}
	if policy.Severity != SeverityCritical {
		t.Errorf("Expected severity critical, got %s", policy.Severity)
	}
	if policy.Rego != regoContent || policy.Source != policyFile {
		t.Error("Rego content or source doesn't match")
	}
	if !policy.Enabled || policy.Builtin {
		t.Error("Loaded policy should be enabled and not builtin")
	}
}

func TestLoadFromFile_InvalidSeverity(t *testing.T) {
	loader := NewLoader(zerolog.Nop())

	policyFile := filepath.Join(t.TempDir(), "bad.rego")
	writeFile(t, policyFile, "# severity: fatal\n"+emptyRego)

	if _, err := loader.loadFromFile(context.Background(), policyFile); err == nil {
		t.Error("Expected error for invalid severity")
	}
}

func TestLoadFromFile_JSON(t *testing.T) {
	loader := NewLoader(zerolog.Nop())

	policyFile := filepath.Join(t.TempDir(), "fallback-name.json")
	policy := Policy{
		Description: "A test policy",
		Rego:        emptyRego,
		Severity:    SeverityError,
		Enabled:     true,
		Builtin:     true,
		Tags:        []string{"test"},
	}
	data, err := json.Marshal(policy)
	if err != nil {
		t.Fatalf("Failed to marshal policy: %v", err)
	}
	writeFile(t, policyFile, string(data))

	loaded, err := loader.loadFromFile(context.Background(), policyFile)
	if err != nil {
		t.Fatalf("Failed to load policy: %v", err)
	}

	if loaded.Name != "fallback-name" {
		t.Errorf("Expected name from file, got '%s'", loaded.Name)
	}
	if loaded.Severity != SeverityError {
		t.Errorf("Expected severity error, got '%s'", loaded.Severity)
	}
	if loaded.Builtin {
		t.Error("files can never declare builtin policies")
	}
}

func TestLoadFromDirectory(t *testing.T) {
	loader := NewLoader(zerolog.Nop())
	tmpDir := t.TempDir()

	writeFile(t, filepath.Join(tmpDir, "b.rego"), emptyRego)
	writeFile(t, filepath.Join(tmpDir, "a.rego"), emptyRego)
	writeFile(t, filepath.Join(tmpDir, "nested", "c.rego"), emptyRego)
	writeFile(t, filepath.Join(tmpDir, ".git", "d.rego"), emptyRego)
	writeFile(t, filepath.Join(tmpDir, "README.md"), "# Test")
	writeFile(t, filepath.Join(tmpDir, "broken.json"), "{")

	loaded, err := loader.loadFromDirectory(context.Background(), tmpDir)
	if err != nil {
		t.Fatalf("Failed to load directory: %v", err)
	}

	var names []string
	for _, p := range loaded {
		names = append(names, p.Name)
	}
	if len(names) != 3 || names[0] != "a" || names[1] != "b" || names[2] != "c" {
		t.Errorf("Expected [a b c] in path order, got %v", names)
	}
}

func TestLoadFromPaths(t *testing.T) {
	loader := NewLoader(zerolog.Nop())
	tmpDir := t.TempDir()

	dir1 := filepath.Join(tmpDir, "dir1")
	writeFile(t, filepath.Join(dir1, "policy1.rego"), emptyRego)
	file1 := filepath.Join(tmpDir, "policy2.rego")
	writeFile(t, file1, emptyRego)

	loaded, err := loader.LoadFromPaths(context.Background(), []string{dir1, file1})
	if err != nil {
		t.Fatalf("Failed to load paths: %v", err)
	}
	if len(loaded) != 2 {
		t.Errorf("Expected 2 policies, got %d", len(loaded))
	}

	if _, err := loader.LoadFromPaths(context.Background(), []string{"/nonexistent/path"}); err == nil {
		t.Error("Expected error for non-existent path")
	}
}

func TestParseHeader(t *testing.T) {
	tests := []struct {
		name         string
		content      string
		wantDesc     string
		wantSeverity Severity
	}{
		{
			name:     "single line comment",
			content:  "# This is a test policy\npackage test",
			wantDesc: "This is a test policy",
		},
		{
			name:     "multi line comments",
			content:  "# This is a test policy\n# that spans multiple lines\npackage test",
			wantDesc: "This is a test policy that spans multiple lines",
		},
		{
			name:    "no comments",
			content: "package test\n# trailing comment",
		},
		{
			name:         "severity and empty lines",
			content:      "# First line\n#\n# severity: ERROR\n\n# Second line\npackage test",
			wantDesc:     "First line Second line",
			wantSeverity: SeverityError,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			desc, severity := parseHeader(tt.content)
			if desc != tt.wantDesc {
				t.Errorf("Expected description '%s', got '%s'", tt.wantDesc, desc)
			}
			if severity != tt.wantSeverity {
				t.Errorf("Expected severity '%s', got '%s'", tt.wantSeverity, severity)
			}
		})
	}
}

func TestLoadFromFile_UnsupportedType(t *testing.T) {
	loader := NewLoader(zerolog.Nop())

	policyFile := filepath.Join(t.TempDir(), "test.txt")
	writeFile(t, policyFile, "not a policy")

	if _, err := loader.loadFromFile(context.Background(), policyFile); err == nil {
		t.Error("Expected error for unsupported file type")
	}
}

func TestEngineLoadPolicies(t *testing.T) {
	eng := newTestEngine(t)
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "no-tmp.rego"), `# severity: error
package site.tmp

import rego.v1

deny contains violation if {
	some resource in input.resources
	startswith(resource.title, "/tmp/")
	violation := {"message": "no files under /tmp", "resource": resource.ref}
}
`)

	n, err := eng.LoadPolicies(context.Background(), []string{dir})
	if err != nil || n != 1 {
		t.Fatalf("expected 1 policy loaded, got %d (%v)", n, err)
	}

	err = eng.Gate(context.Background(), catalogWith(engine.Resource{Type: "file", Title: "/tmp/x"}))
	if !engine.IsConfiguration(err) {
		t.Errorf("expected policy rejection, got: %v", err)
	}
}

func TestWatch_ReloadsOnChange(t *testing.T) {
	loader := NewLoader(zerolog.Nop())
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "a.rego"), emptyRego)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	reloaded := make(chan []Policy, 4)
	if err := loader.Watch(ctx, []string{dir}, func(p []Policy) error {
		reloaded <- p
		return nil
	}); err != nil {
		t.Fatalf("failed to watch: %v", err)
	}
	defer func() { _ = loader.StopWatching() }()

	writeFile(t, filepath.Join(dir, "b.rego"), emptyRego)

	select {
	case policies := <-reloaded:
		if len(policies) != 2 {
			t.Errorf("expected 2 policies after reload, got %d", len(policies))
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for reload")
	}
}
