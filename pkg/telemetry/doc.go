// Package telemetry provides logging, tracing, metrics and scoped log capture
// for the catalog tooling.
//
// # Architecture
//
// The package is built on four pieces:
//
//  1. Structured logging with zerolog
//  2. Distributed tracing with OpenTelemetry (otlp or stdout exporters)
//  3. Prometheus metrics for terminus calls and catalog applies
//  4. A SinkRegistry that copies log events into whatever sinks are attached
//
// # Usage
//
// Initialize telemetry at startup and hand the zerolog logger to the engine:
//
//	tel, err := telemetry.NewTelemetry(telemetry.DefaultConfig())
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer tel.Shutdown(context.Background())
//
//	ctx = tel.WithContext(ctx)
//	txn := engine.NewTransaction(catalog, handlers, tel.Sinks, tel.Logger.Zerolog(),
//	    engine.TransactionOptions{Observer: tel.Metrics})
//
// # Log sinks
//
// The SinkRegistry is added to the logger as a zerolog hook. A transaction
// attaches its report as a sink for the duration of the apply, so every
// message logged during the walk lands in the report's log:
//
//	detach := tel.Sinks.Attach("report", report)
//	defer detach()
//
// Detach functions are idempotent. Sinks are delivered in attachment order.
//
// # Metrics
//
// Metrics implements indirector.Observer and engine.ApplyObserver. Register it on
// a registry with WithObserver and pass it as the transaction observer:
//
//	catalogs := indirector.NewRegistry[*engine.Catalog](logger).WithObserver(tel.Metrics)
//
// The metrics exposed are:
//
//	froyo_catalog_terminus_requests_total{subject,terminus,operation,outcome}
//	froyo_catalog_terminus_request_duration_seconds{subject,terminus,operation}
//	froyo_catalog_apply_runs_total{status}
//	froyo_catalog_apply_duration_seconds{status}
//	froyo_catalog_resource_events_total{type,status}
//	froyo_catalog_resource_duration_seconds{type}
//	froyo_catalog_errors_by_class_total{class}
//	froyo_catalog_catalog_resources
//	froyo_catalog_last_apply_timestamp_seconds
//
// A disabled or nil *Metrics accepts every call and records nothing.
//
// # Operations
//
// StartOperation wraps a workflow step in a span and a logger carrying the
// operation name and trace identifiers:
//
//	op := telemetry.StartOperation(ctx, "download", telemetry.AttrCertname.String(node))
//	err := doDownload(op.Ctx)
//	op.End(err)
package telemetry
