package graph

import (
	"context"
	"encoding/json"
	"fmt"
	"reflect"
	"sync"

	"github.com/flowgraph/agentgraph/graph/emit"
)

// GateField is one gate-classified field the resolver needs a value for,
// handed to the gate hook so it can create a future per field and describe
// each to whatever concurrent actor resolves them.
type GateField struct {
	Name        string
	Type        reflect.Type
	Description string
}

// InputGate is a pending suspension on a single value.
// Its future is set exactly once, by ResolveGate or CancelGates — never
// both.
type InputGate struct {
	GateID       string
	RunID        string
	FieldName    string
	FieldType    reflect.Type
	Description  string
	NodeTypeName string

	future *gateFuture
}

// SchemaDisplay renders "<field>: <type>", with the description appended
// when present — used by a host shell to list pending gates.
func (g *InputGate) SchemaDisplay() string {
	if g.Description != "" {
		return fmt.Sprintf("%s: %s (%s)", g.FieldName, g.FieldType, g.Description)
	}
	return fmt.Sprintf("%s: %s", g.FieldName, g.FieldType)
}

// gateFuture is a single-value future set exactly once, by resolve or
// cancel, never both — enforced with sync.Once so a racing resolve+cancel
// pair can't double-close.
type gateFuture struct {
	once  sync.Once
	done  chan struct{}
	value any
	err   error
}

func newGateFuture() *gateFuture {
	return &gateFuture{done: make(chan struct{})}
}

func (f *gateFuture) resolveValue(v any) {
	f.once.Do(func() {
		f.value = v
		close(f.done)
	})
}

func (f *gateFuture) cancel(err error) {
	f.once.Do(func() {
		f.err = err
		close(f.done)
	})
}

func (f *gateFuture) wait(ctx context.Context) (any, error) {
	select {
	case <-f.done:
		return f.value, f.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// gateMemoKey is the composite key under which a node type's gate-hook
// result is memoized. Keying on node type alone would be wrong if the
// same node type appears twice in one run via a custom escape-hatch loop
// — the second occurrence would replay the first's gate values instead of
// suspending again — so the key also carries trace position. See
// DESIGN.md.
type gateMemoKey struct {
	tracePos int
	nodeType reflect.Type
}

// resolveGates runs nodeType's gate hook exactly once per (tracePos,
// nodeType) — the second resolve() call the executor makes for the same
// trace position (once as target-side context when filling the node, again
// when the node itself becomes current) must observe the memoized result
// rather than re-suspend.
func resolveGates(ctx context.Context, run *Run, nodeType reflect.Type, tracePos int, fields []FieldSpec) (map[string]any, error) {
	key := gateMemoKey{tracePos: tracePos, nodeType: nodeType}

	run.gateMu.Lock()
	if cached, ok := run.gateMemo[key]; ok {
		run.gateMu.Unlock()
		return cached, nil
	}
	run.gateMu.Unlock()

	gateFields := make([]GateField, len(fields))
	for i, f := range fields {
		gateFields[i] = GateField{Name: f.Name, Type: f.ElemType, Description: f.gateDesc}
	}

	values, err := run.gateHook(ctx, nodeType, gateFields)
	if err != nil {
		return nil, err
	}

	run.gateMu.Lock()
	run.gateMemo[key] = values
	run.gateMu.Unlock()

	return values, nil
}

// gateHook creates one future per gate field, registers them with the
// registry's pending table, transitions the run to WAITING, awaits all
// futures concurrently, then transitions back to RUNNING.
func (run *Run) gateHook(ctx context.Context, nodeType reflect.Type, fields []GateField) (map[string]any, error) {
	gates := make([]*InputGate, len(fields))
	for i, f := range fields {
		idx := run.registry.gateSeq.Add(1) - 1
		gates[i] = &InputGate{
			GateID:       fmt.Sprintf("%s.%d", run.id, idx),
			RunID:        run.id,
			FieldName:    f.Name,
			FieldType:    f.Type,
			Description:  f.Description,
			NodeTypeName: nodeType.Name(),
			future:       newGateFuture(),
		}
	}

	run.registry.registerGates(gates)
	run.setState(RunWaiting)
	run.emit(emit.Event{Type: emit.TypeLifecycle, RunID: run.id, Msg: "gate-waiting", Meta: map[string]interface{}{"event": "gate-waiting", "gate_count": len(gates)}})

	values := make(map[string]any, len(gates))
	for _, g := range gates {
		v, err := g.future.wait(ctx)
		if err != nil {
			run.registry.unregisterGates(gates)
			return nil, &GateError{GateID: g.GateID, Reason: err.Error()}
		}
		values[g.FieldName] = v
	}

	run.registry.unregisterGates(gates)
	run.setState(RunRunning)
	run.emit(emit.Event{Type: emit.TypeLifecycle, RunID: run.id, Msg: "gate-resolved", Meta: map[string]interface{}{"event": "gate-resolved"}})

	return values, nil
}

// registerGates adds gates to the registry's pending table.
func (reg *Registry) registerGates(gates []*InputGate) {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	for _, g := range gates {
		reg.pendingGates[g.GateID] = g
	}
	reg.metrics.setPendingGates(len(reg.pendingGates))
}

func (reg *Registry) unregisterGates(gates []*InputGate) {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	for _, g := range gates {
		delete(reg.pendingGates, g.GateID)
	}
	reg.metrics.setPendingGates(len(reg.pendingGates))
}

// ResolveGate coerces value against the gate's declared field type and, on
// success, sets its future — the only way a pending gate's suspension
// ends in success. Returns false if value
// can't be coerced; the caller (an interactive session) should re-prompt.
func (reg *Registry) ResolveGate(gateID string, value any) bool {
	reg.mu.Lock()
	g, ok := reg.pendingGates[gateID]
	reg.mu.Unlock()
	if !ok {
		return false
	}

	coerced, err := coerceGateValue(value, g.FieldType)
	if err != nil {
		return false
	}

	g.future.resolveValue(coerced)
	return true
}

// CancelGates cancels every pending gate for runID, removing each from the
// pending table. Called from the registry's cancel path and as the last
// step of a failed run.
func (reg *Registry) CancelGates(runID string) {
	reg.mu.Lock()
	var matched []*InputGate
	for id, g := range reg.pendingGates {
		if g.RunID == runID {
			matched = append(matched, g)
			delete(reg.pendingGates, id)
		}
	}
	reg.metrics.setPendingGates(len(reg.pendingGates))
	reg.mu.Unlock()

	for _, g := range matched {
		g.future.cancel(context.Canceled)
	}
}

// PendingGatesForRun returns the gates currently pending for runID.
func (reg *Registry) PendingGatesForRun(runID string) []*InputGate {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	var out []*InputGate
	for _, g := range reg.pendingGates {
		if g.RunID == runID {
			out = append(out, g)
		}
	}
	return out
}

// PendingGateCount returns the total number of pending gates across every
// run.
func (reg *Registry) PendingGateCount() int {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	return len(reg.pendingGates)
}

// coerceGateValue validates value against fieldType by round-tripping it
// through JSON: marshal whatever the caller passed, unmarshal into a
// freshly typed destination. This is the same validate-then-extract
// discipline StructuredLM uses for fill(), applied here to a single value
// instead of a struct.
func coerceGateValue(value any, fieldType reflect.Type) (any, error) {
	// Interactive callers hand over whatever the user typed, as a string.
	// When the field itself isn't a string, try the text as a JSON
	// literal first, so "true" resolves a bool gate and "42" an int gate.
	if s, ok := value.(string); ok && fieldType.Kind() != reflect.String {
		dest := reflect.New(fieldType)
		if err := json.Unmarshal([]byte(s), dest.Interface()); err == nil {
			return dest.Elem().Interface(), nil
		}
	}

	raw, err := json.Marshal(value)
	if err != nil {
		return nil, err
	}
	dest := reflect.New(fieldType)
	if err := json.Unmarshal(raw, dest.Interface()); err != nil {
		return nil, err
	}
	return dest.Elem().Interface(), nil
}
