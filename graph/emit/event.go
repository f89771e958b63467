// Package emit provides event emission and observability for graph execution.
package emit

// Type classifies an Event per the engine's metadata schema.
//
// Each type carries a different set of conventional Meta keys; see the
// Meta field of Event for the key set of each.
type Type string

const (
	// TypeLifecycle covers run-level state transitions: start, complete,
	// fail, cancel, gate-waiting, gate-resolved.
	TypeLifecycle Type = "lifecycle"

	// TypeTransition covers a single executor step moving from one node
	// type to the next.
	TypeTransition Type = "transition"

	// TypeTiming covers per-call fill/choose_type timing measurements. Dep
	// timings are recorded on the run record only and are not emitted as
	// events.
	TypeTiming Type = "timing"

	// TypeMemory covers RSS delta sampling for a completed run.
	TypeMemory Type = "memory"

	// TypeDebug covers free-form diagnostic payloads (e.g. a formatted
	// call graph) not tied to the other categories.
	TypeDebug Type = "debug"

	// TypeError covers a reported failure with its engine error kind.
	TypeError Type = "error"
)

// Event represents an observability event emitted during graph execution.
//
// Events provide insight into run behavior: lifecycle transitions, node
// timings, memory deltas, and errors. They are emitted to an Emitter, which
// decides how to surface them (log line, OpenTelemetry span, in-memory
// buffer for test assertions, or nowhere at all).
type Event struct {
	// Type classifies this event per the engine's event metadata schema.
	Type Type

	// RunID identifies the graph run that emitted this event.
	RunID string

	// Step is the executor step number this event pertains to. Zero for
	// run-level events that precede the first step (e.g. "start").
	Step int

	// NodeID identifies the node type involved. Empty for run-level events.
	NodeID string

	// Msg is the event sub-type: for TypeLifecycle one of
	// start/complete/fail/cancel/gate-waiting/gate-resolved; for other
	// types, a short human-readable label.
	Msg string

	// Meta contains additional structured data specific to this event's
	// Type. See the Type constants above for the conventional key sets:
	//   - TypeTransition:  from_node, to_node
	//   - TypeTiming:      node_type, duration_ns (Msg is "fill" or "choose_type")
	//   - TypeMemory:      rss_delta_bytes
	//   - TypeDebug:       formatted_call_graph
	//   - TypeError:       error_kind, message
	Meta map[string]interface{}
}
