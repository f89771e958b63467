// Package emit provides event emission and observability for graph execution.
package emit

import "context"

// Emitter receives observability events from a running graph.
//
// Emitters enable pluggable observability backends:
//   - Logging: stdout, files.
//   - Distributed tracing: OpenTelemetry.
//   - Metrics: Prometheus (via the registry's own metrics hooks; Emitter
//     itself is for discrete events, not counters/gauges).
//   - In-memory capture for tests.
//
// Implementations should be:
//   - Non-blocking: never slow down graph execution.
//   - Thread-safe: multiple runs may emit concurrently.
//   - Resilient: never panic on a malformed event.
type Emitter interface {
	// Emit sends a single observability event to the configured backend.
	// Emit must not panic; internal errors should be swallowed or logged
	// by the implementation, not surfaced to the caller.
	Emit(event Event)

	// EmitBatch sends multiple events in one call, preserving order.
	// Returns an error only for catastrophic, non-per-event failures.
	EmitBatch(ctx context.Context, events []Event) error

	// Flush blocks until all buffered events are delivered or ctx expires.
	// Safe to call multiple times.
	Flush(ctx context.Context) error
}
