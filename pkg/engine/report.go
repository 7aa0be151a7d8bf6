package engine

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Report is the structured record of one apply.
type Report struct {
	// ID uniquely identifies the apply run.
	ID string `json:"id" yaml:"id"`

	// Host is the node the catalog was applied to.
	Host string `json:"host" yaml:"host"`

	// CatalogVersion is the version token of the applied catalog.
	CatalogVersion string `json:"catalog_version" yaml:"catalog_version"`

	// Environment is the environment label of the applied catalog.
	Environment string `json:"environment" yaml:"environment"`

	// Noop indicates changes were detected but not applied.
	Noop bool `json:"noop,omitempty" yaml:"noop,omitempty"`

	// Events are the per-resource outcomes in execution order.
	Events []Event `json:"events" yaml:"events"`

	// Metrics aggregates the events.
	Metrics ReportMetrics `json:"metrics" yaml:"metrics"`

	// Status is the overall outcome.
	Status ReportStatus `json:"status" yaml:"status"`

	// CatalogFailure records a failure that was not tied to a single resource.
	CatalogFailure *EngineError `json:"catalog_failure,omitempty" yaml:"catalog_failure,omitempty"`

	// Logs holds everything logged while the report's sink was attached.
	Logs []LogEntry `json:"logs,omitempty" yaml:"logs,omitempty"`

	// State is the lifecycle state of the run that produced the report.
	State RunState `json:"state" yaml:"state"`

	// StartedAt is when the apply started.
	StartedAt time.Time `json:"started_at" yaml:"started_at"`

	mu sync.Mutex
}

// ReportMetrics counts events by status.
type ReportMetrics struct {
	Total     int           `json:"total" yaml:"total"`
	Applied   int           `json:"applied" yaml:"applied"`
	Unchanged int           `json:"unchanged" yaml:"unchanged"`
	Failed    int           `json:"failed" yaml:"failed"`
	Skipped   int           `json:"skipped" yaml:"skipped"`
	OutOfSync int           `json:"out_of_sync" yaml:"out_of_sync"`
	Duration  time.Duration `json:"duration" yaml:"duration"`
}

// NewReport creates a report seeded with the catalog's identity.
func NewReport(catalog *Catalog) *Report {
	r := &Report{
		ID:        uuid.New().String(),
		Events:    make([]Event, 0),
		State:     RunStateIdle,
		StartedAt: time.Now(),
	}
	if catalog != nil {
		r.Host = catalog.Name
		r.CatalogVersion = catalog.Version
		r.Environment = catalog.Environment
	}
	return r
}

// WriteEntry implements LogSink. Entries arriving after finalization are dropped.
func (r *Report) WriteEntry(entry LogEntry) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.State == RunStateFinalized {
		return
	}
	r.Logs = append(r.Logs, entry)
}

// Event returns the event for a resource reference.
func (r *Report) Event(ref string) (Event, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, e := range r.Events {
		if e.Resource == ref {
			return e, true
		}
	}
	return Event{}, false
}

// Finalized reports whether the report is frozen.
func (r *Report) Finalized() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.State == RunStateFinalized
}

func (r *Report) setState(state RunState) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.State = state
}

func (r *Report) addEvent(e Event) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.State == RunStateFinalized {
		return
	}
	r.Events = append(r.Events, e)
}

func (r *Report) failCatalog(err *EngineError) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.State == RunStateFinalized || r.CatalogFailure != nil {
		return
	}
	r.CatalogFailure = err
}

// finalize computes metrics and the overall status and freezes the report.
func (r *Report) finalize(duration time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.State == RunStateFinalized {
		return
	}

	m := ReportMetrics{Total: len(r.Events), Duration: duration}
	for _, e := range r.Events {
		switch e.Status {
		case EventStatusApplied:
			m.Applied++
		case EventStatusUnchanged:
			m.Unchanged++
		case EventStatusFailed:
			m.Failed++
		case EventStatusSkipped:
			m.Skipped++
		}
		if e.OutOfSync {
			m.OutOfSync++
		}
	}
	r.Metrics = m

	switch {
	case m.Failed > 0 || m.Skipped > 0 || r.CatalogFailure != nil:
		r.Status = ReportStatusFailed
	case m.Applied > 0:
		r.Status = ReportStatusChanged
	default:
		r.Status = ReportStatusUnchanged
	}

	r.State = RunStateFinalized
}
