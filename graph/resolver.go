package graph

import (
	"context"
	"fmt"
	"reflect"
	"sync"
	"time"
)

// runDepCache is the per-run "callable-identity → resolved-value" map.
// Its lifetime is one run; within that run, each dep id is computed at
// most once.
type runDepCache struct {
	mu     sync.Mutex
	values map[string]any
}

func newRunDepCache() *runDepCache {
	return &runDepCache{values: map[string]any{}}
}

func (c *runDepCache) peek(id string) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.values[id]
	return v, ok
}

func (c *runDepCache) get(id string) (any, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.values[id]
	if !ok {
		return nil, fmt.Errorf("dep %q not yet resolved", id)
	}
	return v, nil
}

func (c *runDepCache) set(id string, v any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.values[id] = v
}

// ResolveContext is passed to every DepFunc so it can read its own
// already-resolved dependencies (via GetDep) and the run's identity. The
// run's LM backend and gate hook live alongside the dep cache on Run
// itself, not here — a DepFunc has no business invoking either directly.
type ResolveContext struct {
	ctx   context.Context
	runID string
	cache *runDepCache
	seed  map[string]any
}

// Context returns the context the resolve call was made with.
func (r *ResolveContext) Context() context.Context { return r.ctx }

// RunID returns the owning run's id.
func (r *ResolveContext) RunID() string { return r.runID }

// Seed returns a dep_cache value pre-seeded via WithDepCache (e.g. an
// external database handle), or false if name wasn't seeded.
func (r *ResolveContext) Seed(name string) (any, bool) {
	v, ok := r.seed[name]
	return v, ok
}

// ResolvedFields is the ordered map resolve() produces: field name to
// resolved value, in the node type's field-declaration order.
type ResolvedFields struct {
	order  []string
	values map[string]any
}

func newResolvedFields() ResolvedFields {
	return ResolvedFields{values: map[string]any{}}
}

func (r *ResolvedFields) set(name string, v any) {
	if _, ok := r.values[name]; !ok {
		r.order = append(r.order, name)
	}
	r.values[name] = v
}

// Get returns the resolved value for a field name.
func (r ResolvedFields) Get(name string) (any, bool) {
	v, ok := r.values[name]
	return v, ok
}

// Names returns field names in declaration order.
func (r ResolvedFields) Names() []string { return r.order }

// AsMap returns a plain map snapshot, the shape LM.ChooseType/Fill expect
// for "context".
func (r ResolvedFields) AsMap() map[string]any {
	out := make(map[string]any, len(r.values))
	for k, v := range r.values {
		out[k] = v
	}
	return out
}

// resolve computes every gate, recall, and dep field's value for nodeType
// against run's trace and dep cache. tracePos is the current trace
// length, used only to key gate memoization (see gate.go for why
// position, not just node type, is part of the key).
func resolve(ctx context.Context, run *Run, nodeType reflect.Type, tracePos int) (ResolvedFields, error) {
	spec := mustDescribe(nodeType)
	out := newResolvedFields()

	// Gate fields first: the hook must fire at most once per (tracePos,
	// nodeType), memoized in gate.go.
	if gateFields := spec.GateFields(); len(gateFields) > 0 {
		values, err := resolveGates(ctx, run, nodeType, tracePos, gateFields)
		if err != nil {
			return out, err
		}
		for _, f := range gateFields {
			out.set(f.Name, values[f.Name])
		}
	}

	// Recall fields: walk the trace backward for a type match.
	for _, f := range spec.RecallFields() {
		v, ok := run.trace.Recall(f.ElemType)
		if !ok {
			return out, &RecallError{NodeType: nodeType, FieldName: f.Name, FieldType: f.ElemType}
		}
		out.set(f.Name, v)
	}

	// Dep fields: build the transitive DAG from this type's top-level dep
	// ids, run level by level with a barrier between levels, fan out each
	// level concurrently, fail fast on the first error.
	depFields := spec.DepFields()
	if len(depFields) > 0 {
		rootIDs := make([]string, len(depFields))
		fieldByDepID := make(map[string]string, len(depFields))
		for i, f := range depFields {
			rootIDs[i] = f.depID
			fieldByDepID[f.depID] = f.Name
		}

		dag, err := buildDepDAG(rootIDs)
		if err != nil {
			return out, err
		}

		resolveCtx := &ResolveContext{ctx: ctx, runID: run.id, cache: run.depCache, seed: run.depSeed}

		for levelIdx, level := range dag.levels {
			if err := runDepLevel(ctx, run, resolveCtx, nodeType, levelIdx, level, fieldByDepID); err != nil {
				return out, err
			}
		}

		for _, f := range depFields {
			v, err := run.depCache.get(f.depID)
			if err != nil {
				return out, &DepError{NodeType: nodeType, FieldName: f.Name, Cause: err}
			}
			out.set(f.Name, v)
		}
	}

	return out, nil
}

// runDepLevel executes one dep-DAG level concurrently: every callable in
// level L finishes before any callable in L+1 starts. On the first
// failure the level's context is cancelled and the error returns
// immediately — sibling goroutines that ignore cancellation are left to
// finish on their own rather than awaited, since the run is about to
// abort anyway.
func runDepLevel(ctx context.Context, run *Run, resolveCtx *ResolveContext, nodeType reflect.Type, levelIdx int, level []*depNode, fieldByDepID map[string]string) error {
	levelCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	errCh := make(chan error, len(level))
	timingCh := make(chan depTiming, len(level))

	for _, dn := range level {
		if _, ok := run.depCache.peek(dn.id); ok {
			continue
		}
		dn := dn
		wg.Add(1)
		go func() {
			defer wg.Done()
			start := time.Now()
			v, err := dn.call(levelCtx, resolveCtx)
			if err != nil {
				cancel()
				errCh <- &DepError{NodeType: nodeType, FieldName: fieldByDepID[dn.id], Cause: err}
				return
			}
			run.depCache.set(dn.id, v)
			timingCh <- depTiming{
				orderKey:   depOrderKey(nodeType.Name(), levelIdx, dn.id),
				CallableID: dn.id,
				DurationNs: time.Since(start).Nanoseconds(),
			}
		}()
	}

	levelDone := make(chan struct{})
	go func() {
		wg.Wait()
		close(levelDone)
	}()

	select {
	case err := <-errCh:
		return err
	case <-levelDone:
	}

	select {
	case err := <-errCh:
		return err
	default:
	}

	close(timingCh)
	var timings []depTiming
	for t := range timingCh {
		timings = append(timings, t)
	}
	sortDepTimings(timings)
	run.recordDepTimings(timings)

	return nil
}

// applyResolvedFields writes resolve()'s output back onto an addressable
// struct value's Dep/Recall/Gate fields (their Value subfield), so that by
// the time a trace entry is appended every field — plain, dep, recall, or
// gate — holds a concrete value rather than bare marker metadata.
func applyResolvedFields(v reflect.Value, spec *NodeSpec, resolved ResolvedFields) error {
	for _, f := range spec.Fields {
		if f.Kind == KindPlain {
			continue
		}
		val, ok := resolved.Get(f.Name)
		if !ok {
			continue
		}
		field := v.Field(f.Index)
		valueField := field.FieldByName("Value")
		rv := reflect.ValueOf(val)
		if !rv.IsValid() {
			rv = reflect.Zero(valueField.Type())
		}
		if !rv.Type().AssignableTo(valueField.Type()) {
			return &GraphConstructionError{Message: fmt.Sprintf("field %s: cannot assign %s to %s", f.Name, rv.Type(), valueField.Type())}
		}
		valueField.Set(rv)
	}
	return nil
}
