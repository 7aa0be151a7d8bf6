package config

import (
	"fmt"
	"time"
)

// Manifest is the decoded top level of the CUE manifests for one node.
type Manifest struct {
	// Version overrides the generated catalog version when set.
	Version string `json:"version,omitempty"`

	// Classes lists the classes the manifests declare for the node.
	Classes []string `json:"classes,omitempty"`

	// Resources are the declared resources in declaration order.
	Resources []ManifestResource `json:"resources"`
}

// ManifestResource is one resource as written in a manifest.
//
// In the map form the field name doubles as the title:
//
//	resources: {
//	    "/etc/motd": {type: "file", parameters: content: "hi"}
//	}
type ManifestResource struct {
	Type       string                 `json:"type" validate:"required"`
	Title      string                 `json:"title,omitempty"`
	Parameters map[string]interface{} `json:"parameters,omitempty"`

	// Requires lists Type[Title] references applied before this resource.
	Requires []string `json:"requires,omitempty"`

	// Before lists Type[Title] references applied after this resource.
	Before []string `json:"before,omitempty"`

	Tags []string `json:"tags,omitempty"`
}

// Node describes who a catalog is compiled for.
type Node struct {
	Name        string
	Environment string
	Facts       map[string]interface{}
}

// ManifestError is a manifest problem with its source location.
type ManifestError struct {
	// File is the source file path.
	File string `json:"file,omitempty"`

	// Line is the line number (1-indexed).
	Line int `json:"line,omitempty"`

	// Column is the column number (1-indexed).
	Column int `json:"column,omitempty"`

	// Path is the CUE path to the error (e.g., "resources.motd.type").
	Path string `json:"path,omitempty"`

	Message string `json:"message"`
}

func (e ManifestError) Error() string {
	loc := e.Path
	if e.File != "" {
		loc = e.File
		if e.Line > 0 {
			loc = fmt.Sprintf("%s:%d:%d", e.File, e.Line, e.Column)
		}
	}
	if loc == "" {
		return e.Message
	}
	return loc + ": " + e.Message
}

// ClassifierResult is what classifier.star hands back to the compiler.
type ClassifierResult struct {
	// Classes are appended to the manifest's classes.
	Classes []string `json:"classes"`

	// Parameters are exposed to the manifests as classifier.parameters.
	Parameters map[string]interface{} `json:"parameters"`
}

// StarlarkResult contains the result of Starlark script execution.
type StarlarkResult struct {
	// Output is the map of exported global values.
	Output map[string]interface{} `json:"output"`

	// ExecutionTime is how long the script took to execute.
	ExecutionTime time.Duration `json:"execution_time"`

	// Error contains any execution error.
	Error string `json:"error,omitempty"`
}
