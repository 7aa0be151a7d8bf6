// Package engine provides the catalog model and the transaction engine that applies it.
//
// # Overview
//
// A catalog is the declarative, dependency-ordered description of the desired state
// of one node. The engine turns a catalog into a resource graph and walks that graph
// sequentially:
//
//  1. Graph - Order resources topologically, ties broken by declaration order (BuildResourceGraph)
//  2. Report - Seed a Report with the catalog version and environment, attach a log sink
//  3. Walk - Check and apply every resource through its ResourceHandler
//  4. Finalize - Detach the sink, compute metrics, derive the overall status
//
// # Core Domain Types
//
//   - Catalog: The retrieved entity, owned by the workflow that retrieved it
//   - Resource: A typed, titled declaration with parameters and dependency references
//   - ResourceGraph: The ordered, applyable form of a catalog
//   - Event: The outcome of one resource during an apply
//   - Report: Events, metrics, captured logs and the overall status of one apply
//   - Facts: Opaque node data supplied to compilation and retrieval
//
// # Failure Containment
//
// Apply never returns an error. Resource failures become failed events and every
// transitive dependent of a failed resource is recorded as skipped without being
// attempted. Failures outside a single resource (graph conversion, a panicking
// handler) are recorded as a catalog-level failure and the Report is still finalized.
//
// # Example Usage
//
//	handlers := engine.NewHandlerRegistry()
//	handlers.Register(file.New())
//
//	txn := engine.NewTransaction(catalog, handlers, sinks, logger, engine.TransactionOptions{})
//	report := txn.Apply(ctx)
//	if report.Status == engine.ReportStatusFailed {
//	    // inspect report.Events
//	}
package engine
