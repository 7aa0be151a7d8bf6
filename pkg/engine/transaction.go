package engine

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// TransactionOptions configures a transaction.
type TransactionOptions struct {
	// Noop checks resources without applying changes.
	Noop bool

	// Observer receives event and report outcomes. Optional.
	Observer ApplyObserver
}

// Transaction applies one catalog. It walks the resource graph on the calling
// goroutine, one resource at a time, and is used exactly once.
type Transaction struct {
	catalog  *Catalog
	handlers *HandlerRegistry
	sinks    LogSinkRegistry
	logger   zerolog.Logger
	opts     TransactionOptions
	state    RunState
}

// NewTransaction creates a transaction for a catalog.
// sinks may be nil, in which case log output is not captured into the report.
func NewTransaction(
	catalog *Catalog,
	handlers *HandlerRegistry,
	sinks LogSinkRegistry,
	logger zerolog.Logger,
	opts TransactionOptions,
) *Transaction {
	if handlers == nil {
		handlers = NewHandlerRegistry()
	}
	return &Transaction{
		catalog:  catalog,
		handlers: handlers,
		sinks:    sinks,
		logger:   logger.With().Str("component", "transaction").Logger(),
		opts:     opts,
		state:    RunStateIdle,
	}
}

// State returns the lifecycle state of the transaction.
func (t *Transaction) State() RunState {
	return t.state
}

// Apply walks the catalog and returns the finalized report. It never returns an error:
// resource failures are events and anything else is recorded as a catalog failure.
func (t *Transaction) Apply(ctx context.Context) (report *Report) {
	report = NewReport(t.catalog)
	report.Noop = t.opts.Noop

	if !t.state.CanTransitionTo(RunStateRunning) {
		report.failCatalog(NewFatalEngineError(
			fmt.Sprintf("transaction is %s and cannot be applied again", t.state), nil,
		).WithCode(ErrCodeTransactionReused))
		report.finalize(0)
		return report
	}

	t.state = RunStateRunning
	report.setState(RunStateRunning)

	detach := func() {}
	if t.sinks != nil {
		detach = t.sinks.Attach("report:"+report.ID, report)
	}

	logger := t.logger.With().Str("report_id", report.ID).Logger()
	start := time.Now()

	defer func() {
		if r := recover(); r != nil {
			err := NewFatalEngineError(fmt.Sprintf("unexpected failure while applying catalog: %v", r), nil)
			logger.Error().Err(err).Msg("Catalog application aborted")
			report.failCatalog(err)
		}

		elapsed := time.Since(start)
		logger.Info().
			Float64("seconds", elapsed.Seconds()).
			Msgf("Applied catalog in %.2f seconds", elapsed.Seconds())

		detach()
		report.finalize(elapsed)
		t.state = RunStateFinalized

		if t.opts.Observer != nil {
			t.opts.Observer.ObserveReport(report.Status, elapsed)
		}
	}()

	if err := t.walk(ctx, report, logger); err != nil {
		logger.Error().Err(err).Msg("Catalog application failed")
		report.failCatalog(err)
	}

	return report
}

// walk converts the catalog and visits every resource in order.
func (t *Transaction) walk(ctx context.Context, report *Report, logger zerolog.Logger) *EngineError {
	graph, err := BuildResourceGraph(t.catalog)
	if err != nil {
		fatal := NewFatalEngineError("failed to convert catalog to resource graph", err).
			WithOperation("convert")
		if ee, ok := err.(*EngineError); ok {
			fatal.WithCode(ee.Code)
		}
		return fatal
	}

	logger.Debug().Int("resources", graph.Len()).Msg("Applying catalog")

	statuses := make(map[string]EventStatus, graph.Len())
	for _, res := range graph.Ordered() {
		ref := res.Ref().String()
		event := Event{Resource: ref, Status: EventStatusPending, StartedAt: time.Now()}

		if failed := t.failedPrerequisites(graph, ref, statuses); len(failed) > 0 {
			t.markSkipped(&event, failed, logger)
		} else {
			t.applyResource(ctx, res, &event, logger)
		}

		event.Duration = time.Since(event.StartedAt)
		statuses[ref] = event.Status
		report.addEvent(event)

		if t.opts.Observer != nil {
			t.opts.Observer.ObserveEvent(res.Type, event.Status, event.Duration)
		}
	}

	return nil
}

// failedPrerequisites returns the direct prerequisites of ref that failed or were skipped.
// Resources are visited in topological order, so checking direct prerequisites
// is enough to propagate skips transitively.
func (t *Transaction) failedPrerequisites(graph *ResourceGraph, ref string, statuses map[string]EventStatus) []string {
	var failed []string
	for _, dep := range graph.Dependencies(ref) {
		depRef := dep.Ref().String()
		switch statuses[depRef] {
		case EventStatusFailed, EventStatusSkipped:
			failed = append(failed, depRef)
		}
	}
	return failed
}

// markSkipped records a resource that was not attempted.
func (t *Transaction) markSkipped(event *Event, failed []string, logger zerolog.Logger) {
	_ = event.transition(EventStatusSkipped)
	event.Message = "Dependencies failed: " + strings.Join(failed, ", ")
	event.Error = NewApplyError(event.Message, nil).
		WithCode(ErrCodeDependencyFailed).
		WithResource(event.Resource)

	logger.Warn().
		Str("resource", event.Resource).
		Strs("failed_dependencies", failed).
		Msg("Skipping because of failed dependencies")
}

// applyResource runs Check and, when out of sync, Apply. Panics from the handler
// are contained to the resource.
func (t *Transaction) applyResource(ctx context.Context, res *Resource, event *Event, logger zerolog.Logger) {
	defer func() {
		if r := recover(); r != nil {
			t.markFailed(event, "apply", fmt.Errorf("handler panic: %v", r), logger)
		}
	}()

	handler, ok := t.handlers.Get(res.Type)
	if !ok {
		err := NewApplyError(fmt.Sprintf("no handler for resource type %s", res.Type), nil).
			WithCode(ErrCodeNoHandler)
		t.markFailed(event, "check", err, logger)
		return
	}

	inSync, err := handler.Check(ctx, res)
	if err != nil {
		t.markFailed(event, "check", err, logger)
		return
	}

	if inSync {
		_ = event.transition(EventStatusUnchanged)
		logger.Debug().Str("resource", event.Resource).Msg("Resource is in sync")
		return
	}

	event.OutOfSync = true
	if t.opts.Noop {
		_ = event.transition(EventStatusUnchanged)
		event.Noop = true
		event.Message = "Would have applied (noop)"
		logger.Info().Str("resource", event.Resource).Msg(event.Message)
		return
	}

	message, err := handler.Apply(ctx, res)
	if err != nil {
		t.markFailed(event, "apply", err, logger)
		return
	}

	_ = event.transition(EventStatusApplied)
	event.Message = message
	logger.Info().Str("resource", event.Resource).Str("change", message).Msg("Resource applied")
}

// markFailed records a resource failure. The error is logged, never returned.
func (t *Transaction) markFailed(event *Event, operation string, err error, logger zerolog.Logger) {
	if !event.Status.CanTransitionTo(EventStatusFailed) {
		return
	}
	_ = event.transition(EventStatusFailed)

	applyErr, ok := err.(*EngineError)
	if !ok || applyErr.Class != ErrorClassApply {
		applyErr = NewApplyError(fmt.Sprintf("%s failed", operation), err)
	}
	applyErr.WithResource(event.Resource).WithOperation(operation)

	event.Error = applyErr
	event.Message = applyErr.Error()

	logger.Error().
		Err(err).
		Str("resource", event.Resource).
		Str("operation", operation).
		Msg("Resource failed")
}
