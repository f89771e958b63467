package emit

import "context"

// NullEmitter discards every event. Use it when OutputPolicy SILENT is in
// effect for every run, or in tests that don't assert on observability.
type NullEmitter struct{}

// NewNullEmitter returns an Emitter with zero overhead that drops all events.
func NewNullEmitter() *NullEmitter { return &NullEmitter{} }

// Emit discards the event.
func (n *NullEmitter) Emit(Event) {}

// EmitBatch discards the events and always succeeds.
func (n *NullEmitter) EmitBatch(context.Context, []Event) error { return nil }

// Flush is a no-op.
func (n *NullEmitter) Flush(context.Context) error { return nil }
