package engine

import (
	"context"
	"time"
)

// NodeIdentity yields the identity of the local node.
type NodeIdentity interface {
	// Certname returns the local node's identity string.
	Certname() string
}

// SettingsProvider exposes the settings the workflows read and mutate.
type SettingsProvider interface {
	// Environment returns the current environment label.
	Environment() string

	// RunMode returns the current run mode.
	RunMode() RunMode

	// SetRunMode changes the run mode.
	SetRunMode(mode RunMode)
}

// FactsProvider yields facts for a node.
type FactsProvider interface {
	// Facts returns the facts for the given node identity.
	Facts(ctx context.Context, node string) (*Facts, error)
}

// LogEntry is one structured log record captured by a LogSink.
type LogEntry struct {
	Time    time.Time `json:"time" yaml:"time"`
	Level   string    `json:"level" yaml:"level"`
	Message string    `json:"message" yaml:"message"`
}

// LogSink receives log entries while it is attached.
type LogSink interface {
	WriteEntry(entry LogEntry)
}

// LogSinkRegistry supports scoped attachment of log destinations.
type LogSinkRegistry interface {
	// Attach starts delivering log entries to sink and returns the function that stops it.
	// The returned function is safe to call more than once.
	Attach(name string, sink LogSink) (detach func())
}

// ResourceHandler manages one resource type.
// Check must not change the system; Apply converges the resource.
type ResourceHandler interface {
	// Type returns the resource type this handler manages.
	Type() string

	// Check reports whether the resource already matches its declaration.
	Check(ctx context.Context, res *Resource) (inSync bool, err error)

	// Apply converges the resource and describes what changed.
	Apply(ctx context.Context, res *Resource) (message string, err error)
}

// ApplyObserver receives per-resource and per-run outcomes, typically for metrics.
type ApplyObserver interface {
	ObserveEvent(resourceType string, status EventStatus, duration time.Duration)
	ObserveReport(status ReportStatus, duration time.Duration)
}
