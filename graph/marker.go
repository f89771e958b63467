package graph

import (
	"context"
	"reflect"
)

// FieldKind is the classifier's verdict for one struct field.
type FieldKind int

const (
	// KindPlain is an unannotated field: caller-supplied on the start node,
	// LLM-filled on every other node.
	KindPlain FieldKind = iota
	// KindDep is resolved by calling a registered dep callable.
	KindDep
	// KindRecall is resolved by walking the trace backward for a type match.
	KindRecall
	// KindGate is resolved by suspending on a future a concurrent actor sets.
	KindGate
)

func (k FieldKind) String() string {
	switch k {
	case KindDep:
		return "dep"
	case KindRecall:
		return "recall"
	case KindGate:
		return "gate"
	default:
		return "plain"
	}
}

// fieldMarker is implemented by Dep[T], Recall[T], and Gate[T] so the
// classifier can dispatch on type rather than parse struct tags, per the
// engine's preference for interface-based polymorphism over reflection-tag
// parsing elsewhere in this codebase (Node, Store, ChatModel).
type fieldMarker interface {
	fieldKind() FieldKind
}

// DepFunc produces a dep field's value. It receives a ResolveContext so it
// can pull its own Dep-annotated inputs from the run's dep cache, letting
// deps form their own DAG (a dep's producer may itself require other deps).
type DepFunc[T any] func(ctx context.Context, r *ResolveContext) (T, error)

// Dep marks a field as resolved by calling a registered dep callable. Build
// one with NewDep at package scope (it registers itself by id so the
// resolver can discover it transitively); reference the same value from
// every node type field that needs it. The node type itself must be
// registered with RegisterBlueprint so the classifier can read which dep
// each field was wired to — Go generics give every Dep[User] field the
// same type regardless of which callable it holds, so that information
// has to come from a real instance, not the field's zero value.
//
//	var depUser = graph.NewDep("fetch_user", func(ctx context.Context, r *graph.ResolveContext) (User, error) {
//	    return loadUser(ctx, r.RunID())
//	})
//
//	type Greet struct {
//	    User graph.Dep[User]
//	}
//	var greetBlueprint = graph.RegisterBlueprint(Greet{User: depUser})
type Dep[T any] struct {
	id    string
	reqs  []string
	fn    DepFunc[T]
	Value T
}

func (Dep[T]) fieldKind() FieldKind { return KindDep }

// depMarker is the type-erased interface the classifier and resolver use to
// operate on a Dep[T] field without knowing T.
type depMarker interface {
	fieldMarker
	depID() string
	depReqs() []string
	callDep(ctx context.Context, r *ResolveContext) (any, error)
}

func (d Dep[T]) depID() string     { return d.id }
func (d Dep[T]) depReqs() []string { return d.reqs }
func (d Dep[T]) callDep(ctx context.Context, r *ResolveContext) (any, error) {
	return d.fn(ctx, r)
}

// NewDep declares a dep callable under a stable id, registering it in the
// process-wide dep registry so the resolver can discover it (directly, as a
// node field, or transitively via reqs naming other deps' ids). reqs lists
// the ids of deps this fn itself calls via GetDep — Go can't introspect a
// closure's body, so the DAG edges this produces are declared explicitly
// here rather than inferred from fn's signature.
//
// NewDep panics if id is already registered; call it from a package-level
// var so duplicate ids surface at program init, the closest Go analogue to
// a graph-construction-time error.
func NewDep[T any](id string, fn DepFunc[T], reqs ...string) Dep[T] {
	dn := &depNode{
		id:   id,
		reqs: reqs,
		call: func(ctx context.Context, r *ResolveContext) (any, error) {
			return fn(ctx, r)
		},
	}
	if _, loaded := depRegistry.LoadOrStore(id, dn); loaded {
		panic("graph: duplicate dep id " + id)
	}
	return Dep[T]{id: id, reqs: reqs, fn: fn}
}

// GetDep reads dep's resolved value from the run's dep cache. It must only
// be called from inside another dep's DepFunc, for a dep named in that
// dep's reqs — by the time the DAG scheduler invokes a level, every dep in
// earlier levels has already run, so this is a cache read, never a
// recursive resolve.
func GetDep[T any](r *ResolveContext, d Dep[T]) (T, error) {
	var zero T
	v, err := r.cache.get(d.id)
	if err != nil {
		return zero, err
	}
	typed, ok := v.(T)
	if !ok {
		return zero, &DepError{FieldName: d.id, Cause: errTypeMismatch}
	}
	return typed, nil
}

// Recall marks a field as resolved by walking the trace backward for the
// most recent instance whose runtime type equals T.
type Recall[T any] struct {
	Value T
}

func (Recall[T]) fieldKind() FieldKind { return KindRecall }

type recallMarker interface {
	fieldMarker
	recallType() reflect.Type
}

func (Recall[T]) recallType() reflect.Type {
	return reflect.TypeOf((*T)(nil)).Elem()
}

// Gate marks a field as resolved by suspending on a future that a
// concurrent actor (the interactive session, in the out-of-scope shell)
// resolves. Description is shown to that actor; set it in the node
// type's RegisterBlueprint literal, the same mechanism Dep fields use to
// carry per-field configuration past the classifier.
type Gate[T any] struct {
	Description string
	Value       T
}

func (Gate[T]) fieldKind() FieldKind { return KindGate }

type gateMarker interface {
	fieldMarker
	gateType() reflect.Type
	gateDescription() string
}

func (g Gate[T]) gateType() reflect.Type {
	return reflect.TypeOf((*T)(nil)).Elem()
}

func (g Gate[T]) gateDescription() string { return g.Description }

// Effect marks a field as a record of a side-effecting action a node
// performed via a tool.Tool — ToolName and Input identify the call,
// Output its result. It carries no resolution strategy of its own (the
// classifier reports it as KindPlain) and the generic LM fill path never
// populates it: NodeSpec.PlainFields excludes Effect fields from the
// fill schema, since asking an LM to invent a tool result defeats the
// point of actually calling the tool. An escape-hatch node (see
// EscapeNode) sets an Effect field itself, after calling the tool
// directly in its CallEscape method; FieldSpec.IsEffect and
// NodeSpec.EffectFields are how a caller (e.g. a trace inspector) finds
// them afterward.
type Effect struct {
	ToolName string
	Input    map[string]interface{}
	Output   map[string]interface{}
}

func (Effect) fieldKind() FieldKind { return KindPlain }

// isEffectType reports whether t is the Effect marker type.
func isEffectType(t reflect.Type) bool {
	return t == reflect.TypeOf(Effect{})
}
