package telemetry

import (
	"context"

	"github.com/hashicorp/go-multierror"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Telemetry bundles the logger, tracer, metrics and log-sink registry of one process.
type Telemetry struct {
	Logger  *Logger
	Tracer  *Tracer
	Metrics *Metrics
	Sinks   *SinkRegistry
	Config  *Config
}

type telemetryContextKey struct{}

// NewTelemetry creates a telemetry bundle from configuration. The returned logger
// delivers every event it emits to the attached log sinks.
func NewTelemetry(cfg *Config) (*Telemetry, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logger, err := NewLogger(cfg.Logging)
	if err != nil {
		return nil, err
	}
	return newTelemetry(cfg, logger)
}

// NewTelemetryWithLogger creates a telemetry bundle around an existing logger.
func NewTelemetryWithLogger(cfg *Config, logger *Logger) (*Telemetry, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return newTelemetry(cfg, logger)
}

func newTelemetry(cfg *Config, logger *Logger) (*Telemetry, error) {
	tracer, err := NewTracer(cfg.Tracing, cfg.ServiceName, cfg.ServiceVersion, cfg.Environment)
	if err != nil {
		return nil, err
	}

	metrics, err := NewMetrics(cfg.Metrics)
	if err != nil {
		return nil, err
	}

	sinks := NewSinkRegistry()

	return &Telemetry{
		Logger:  logger.AddHook(sinks),
		Tracer:  tracer,
		Metrics: metrics,
		Sinks:   sinks,
		Config:  cfg,
	}, nil
}

// WithContext adds the telemetry instance and its logger to the context.
func (t *Telemetry) WithContext(ctx context.Context) context.Context {
	ctx = context.WithValue(ctx, telemetryContextKey{}, t)
	return t.Logger.WithContext(ctx)
}

// FromTelemetryContext retrieves the telemetry instance from the context, or nil.
func FromTelemetryContext(ctx context.Context) *Telemetry {
	if t, ok := ctx.Value(telemetryContextKey{}).(*Telemetry); ok {
		return t
	}
	return nil
}

// Shutdown flushes pending spans and closes the log file, if any.
func (t *Telemetry) Shutdown(ctx context.Context) error {
	var result *multierror.Error
	if err := t.Tracer.Shutdown(ctx); err != nil {
		result = multierror.Append(result, err)
	}
	if err := t.Logger.Close(); err != nil {
		result = multierror.Append(result, err)
	}
	return result.ErrorOrNil()
}

// InstrumentedContext carries the span, logger and timer of one operation.
type InstrumentedContext struct {
	Ctx    context.Context
	Span   trace.Span
	Logger *Logger
	Timer  *Timer

	metrics *Metrics
}

// StartOperation begins an instrumented operation with logging, tracing and timing.
// Without telemetry in ctx it returns a context that only times the operation.
func StartOperation(ctx context.Context, operation string, attrs ...attribute.KeyValue) *InstrumentedContext {
	tel := FromTelemetryContext(ctx)
	if tel == nil {
		return &InstrumentedContext{
			Ctx:    ctx,
			Logger: FromContext(ctx),
			Timer:  NewTimer(),
		}
	}

	spanCtx, span := tel.Tracer.StartSpan(ctx, "catalog."+operation,
		append([]attribute.KeyValue{AttrOperation.String(operation)}, attrs...)...)

	logger := tel.Logger.WithField("operation", operation)
	if span.SpanContext().IsValid() {
		logger = logger.
			WithField("trace_id", span.SpanContext().TraceID().String()).
			WithField("span_id", span.SpanContext().SpanID().String())
	}

	return &InstrumentedContext{
		Ctx:     logger.WithContext(spanCtx),
		Span:    span,
		Logger:  logger,
		Timer:   NewTimer(),
		metrics: tel.Metrics,
	}
}

// End finishes the operation, recording success or failure on the span and
// counting the error by class.
func (ic *InstrumentedContext) End(err error) {
	ic.metrics.RecordError(err)
	if ic.Span == nil {
		return
	}
	if err != nil {
		RecordError(ic.Span, err)
	} else {
		RecordSuccess(ic.Span)
	}
	ic.Span.End()
}
