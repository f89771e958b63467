package graph

import (
	"context"
	"reflect"

	"github.com/flowgraph/agentgraph/graph/emit"
)

// runGraph drives start to completion against the run's graph: resolve
// the current node's own fields, route by its registered strategy, fill
// or invoke the next node, and repeat until a terminal node or max_iters.
// The whole loop is wrapped so any error gets the partial trace attached
// before it propagates.
func runGraph(ctx context.Context, run *Run, start any) (trace Trace, err error) {
	defer func() {
		if err != nil {
			if te, ok := err.(tracedError); ok {
				te.attachTrace(append(Trace(nil), trace...))
			}
		}
	}()

	current := start
	iter := 0

	for current != nil && iter < run.maxIters {
		select {
		case <-ctx.Done():
			return trace, ctx.Err()
		default:
		}

		currentType := reflect.TypeOf(current)
		tracePos := len(trace)
		spec := mustDescribe(currentType)

		resolved, rErr := resolve(ctx, run, currentType, tracePos)
		if rErr != nil {
			return trace, rErr
		}

		ptr := reflect.New(currentType)
		ptr.Elem().Set(reflect.ValueOf(current))
		if err := applyResolvedFields(ptr.Elem(), spec, resolved); err != nil {
			return trace, err
		}

		route, ok := run.graph.route(currentType)
		if !ok {
			return trace, &GraphConstructionError{Message: "node type " + currentType.Name() + " is not registered in this graph"}
		}

		var next any
		switch route.kind {
		case RouteTerminal:
			next = nil

		case RouteSingle:
			next, err = run.fillSuccessor(ctx, route.single, tracePos+1)
			if err != nil {
				return trace, err
			}

		case RouteUnionKind:
			next, err = run.chooseAndFill(ctx, currentType, route.union, resolved, tracePos)
			if err != nil {
				return trace, err
			}

		case RouteEscape:
			next, err = run.callEscape(ctx, ptr)
			if err != nil {
				return trace, err
			}

		default:
			return trace, &GraphConstructionError{Message: "node type " + currentType.Name() + " has no routing strategy"}
		}

		resolvedInstance := ptr.Elem().Interface()
		trace = append(trace, TraceEntry{Type: currentType, Value: resolvedInstance})
		run.mu.Lock()
		run.trace = trace
		run.mu.Unlock()

		step := run.nextStep()
		toName := "<terminal>"
		if next != nil {
			toName = reflect.TypeOf(next).Name()
		}
		run.emit(emit.Event{
			Type:   emit.TypeTransition,
			Step:   step,
			NodeID: currentType.Name(),
			Msg:    "transition",
			Meta:   map[string]interface{}{"from_node": currentType.Name(), "to_node": toName},
		})

		current = next
		iter++
	}

	if iter >= run.maxIters && current != nil {
		return trace, &MaxItersError{Limit: run.maxIters}
	}

	return trace, nil
}

// fillSuccessor resolves T's own context and fills it via the run's LM
// backend. targetPos is the trace position T will occupy once appended —
// one past the current node's — so that when T comes around as the
// current node on the next iteration, its gate memo key matches this
// resolve's and the gate hook is not invoked a second time.
func (run *Run) fillSuccessor(ctx context.Context, t reflect.Type, targetPos int) (any, error) {
	targetResolved, err := resolve(ctx, run, t, targetPos)
	if err != nil {
		return nil, err
	}
	return run.lm.Fill(ctx, t, visibleToLM(t, targetResolved), instructionFor(t))
}

// chooseAndFill handles a union-successor step: choose one candidate with
// the current node's resolved context, then — unless the choice is
// termination — resolve and fill it.
func (run *Run) chooseAndFill(ctx context.Context, currentType reflect.Type, candidates []reflect.Type, resolved ResolvedFields, tracePos int) (any, error) {
	chosen, err := run.lm.ChooseType(ctx, currentType, candidates, resolved.AsMap())
	if err != nil {
		return nil, err
	}
	if chosen == nil || chosen == unitType {
		return nil, nil
	}
	return run.fillSuccessor(ctx, chosen, tracePos+1)
}

// callEscape invokes a registered escape-hatch node's own call logic
// instead of auto-routing, injecting the run's LM when the node opts in
// by implementing EscapeNodeWithLM.
func (run *Run) callEscape(ctx context.Context, ptr reflect.Value) (any, error) {
	if withLM, ok := ptr.Interface().(EscapeNodeWithLM); ok {
		return withLM.CallEscape(ctx, run.lm)
	}
	if plain, ok := ptr.Interface().(EscapeNode); ok {
		return plain.CallEscape(ctx)
	}
	return nil, &GraphConstructionError{Message: ptr.Elem().Type().Name() + " registered as Escape but implements neither EscapeNode nor EscapeNodeWithLM"}
}

// visibleToLM strips recall fields from a target's resolved context
// before handing it to fill.
func visibleToLM(t reflect.Type, resolved ResolvedFields) map[string]any {
	spec := mustDescribe(t)
	recallNames := make(map[string]bool, len(spec.RecallFields()))
	for _, f := range spec.RecallFields() {
		recallNames[f.Name] = true
	}
	out := make(map[string]any, len(resolved.Names()))
	for _, name := range resolved.Names() {
		if recallNames[name] {
			continue
		}
		v, _ := resolved.Get(name)
		out[name] = v
	}
	return out
}
