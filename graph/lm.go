package graph

import (
	"context"
	"reflect"
)

// LM is the polymorphic LM Backend Protocol: choose_type picks one
// successor type from a union given the current node's resolved context;
// fill populates a target type's plain fields given its own resolved
// context and an instruction string (the target's name plus docstring).
//
// nodeType identifies the node performing the call — the current node for
// ChooseType, the target node for Fill — so a decorator (TimingLM) and a
// backend's prompt construction both have a name to stamp without the
// caller threading it through context maps.
type LM interface {
	// ChooseType picks exactly one of candidates. context carries the
	// resolved gate, dep and recall fields of nodeType.
	ChooseType(ctx context.Context, nodeType reflect.Type, candidates []reflect.Type, context map[string]any) (reflect.Type, error)

	// Fill populates target's plain fields. context carries target's own
	// resolved dep + gate fields — recall is excluded, since the LLM
	// doesn't need to re-infer a value already present in the trace.
	// instruction is target's name plus docstring.
	Fill(ctx context.Context, target reflect.Type, context map[string]any, instruction string) (any, error)
}

// instructionFor builds the instruction string fill() uses: the target's
// class name plus docstring. Node types may implement Documented to
// supply the docstring half; otherwise the name alone.
func instructionFor(t reflect.Type) string {
	zero := reflect.New(t).Interface()
	if d, ok := zero.(Documented); ok {
		doc := d.Describe()
		if doc != "" {
			return t.Name() + ": " + doc
		}
	}
	return t.Name()
}
