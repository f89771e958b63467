package graph

import (
	"context"
	"fmt"
	"reflect"
	"sort"
	"strings"
)

// RouteKind is the executor's per-step routing strategy for a node type,
// decided once at Build time from how the type was registered.
type RouteKind int

const (
	// RouteTerminal means this node type's call returns the unit type: a
	// run stops here.
	RouteTerminal RouteKind = iota
	// RouteSingle means call returns exactly one successor node type.
	RouteSingle
	// RouteUnionKind means call returns a union of successor node types (the
	// LM picks one via choose_type).
	RouteUnionKind
	// RouteEscape means the node supplies its own call logic instead of
	// being auto-routed.
	RouteEscape
)

// Unit is the terminal marker type. It may appear as a member of a
// RouteUnion's candidate list.
type Unit struct{}

var unitType = reflect.TypeOf(Unit{})

// routeSpec is the descriptor for one registered node type's routing
// strategy, built once by the Builder and consulted by the executor on
// every step.
type routeSpec struct {
	kind   RouteKind
	single reflect.Type
	union  []reflect.Type
}

// EscapeNode is implemented by a node type whose call contains user logic
// instead of a placeholder body, and which does not need the LM backend.
type EscapeNode interface {
	CallEscape(ctx context.Context) (any, error)
}

// EscapeNodeWithLM is implemented by an escape-hatch node type whose call
// wants the run's LM backend injected.
type EscapeNodeWithLM interface {
	CallEscape(ctx context.Context, lm LM) (any, error)
}

// Documented is optionally implemented by a node type to supply the
// "docstring" half of a fill instruction (class name plus docstring).
// Types that don't implement it fall back to their bare type name.
type Documented interface {
	Describe() string
}

// Builder accumulates node-type registrations and route declarations,
// mirroring the engine's Add/Connect/StartAt construction style, adapted
// from "named node ids plus edges" to "registered Go types plus route
// specs" since this engine's node set is a typed record graph rather than
// a single homogeneous state type.
type Builder struct {
	start reflect.Type
	specs map[reflect.Type]routeSpec
	err   error
}

// NewBuilder returns an empty Builder.
func NewBuilder() *Builder {
	return &Builder{specs: map[reflect.Type]routeSpec{}}
}

func typeOf[T any]() reflect.Type {
	return reflect.TypeOf((*T)(nil)).Elem()
}

func (b *Builder) fail(err error) *Builder {
	if b.err == nil {
		b.err = err
	}
	return b
}

// Start registers T as the graph's entry node type. Must be called exactly
// once, before Build. "Start must be a type, not an instance" is enforced
// structurally here: T is a type parameter, never a value.
func Start[T any](b *Builder) *Builder {
	t := typeOf[T]()
	if b.start != nil {
		return b.fail(&GraphConstructionError{Message: "Start called more than once"})
	}
	b.start = t
	return b
}

// Terminal registers T as a node type whose call returns the unit type.
func Terminal[T any](b *Builder) *Builder {
	return b.setRoute(typeOf[T](), routeSpec{kind: RouteTerminal})
}

// RouteTo registers From's call as returning exactly one successor type, To.
func RouteTo[From, To any](b *Builder) *Builder {
	return b.setRoute(typeOf[From](), routeSpec{kind: RouteSingle, single: typeOf[To]()})
}

// RouteUnion registers From's call as returning a union of successor types,
// chosen at runtime by the LM's choose_type. Include
// graph.TypeOf[Unit]() in to if the union may also terminate the run without
// a successor.
func RouteUnion[From any](b *Builder, to ...reflect.Type) *Builder {
	if len(to) == 0 {
		return b.fail(&GraphConstructionError{Message: "RouteUnion requires at least one candidate type"})
	}
	return b.setRoute(typeOf[From](), routeSpec{kind: RouteUnionKind, union: to})
}

// TypeOf exposes reflect.TypeOf((*T)(nil)).Elem() for use as a RouteUnion
// candidate, so callers never need to spell out reflect themselves.
func TypeOf[T any]() reflect.Type {
	return typeOf[T]()
}

// Escape registers T as an escape-hatch node: at runtime the executor calls
// T's CallEscape method (the EscapeNode or EscapeNodeWithLM form) instead
// of auto-routing.
func Escape[T any](b *Builder) *Builder {
	t := typeOf[T]()
	if _, ok := reflect.New(t).Interface().(EscapeNode); ok {
		return b.setRoute(t, routeSpec{kind: RouteEscape})
	}
	if _, ok := reflect.New(t).Interface().(EscapeNodeWithLM); ok {
		return b.setRoute(t, routeSpec{kind: RouteEscape})
	}
	return b.fail(&GraphConstructionError{Message: fmt.Sprintf("%s registered as Escape but implements neither EscapeNode nor EscapeNodeWithLM", t)})
}

func (b *Builder) setRoute(t reflect.Type, spec routeSpec) *Builder {
	if b.err != nil {
		return b
	}
	if t.Kind() != reflect.Struct {
		return b.fail(&GraphConstructionError{Message: fmt.Sprintf("%s is not a struct type", t)})
	}
	if _, exists := b.specs[t]; exists {
		return b.fail(&GraphConstructionError{Message: fmt.Sprintf("%s already registered", t)})
	}
	b.specs[t] = spec
	return b
}

// Graph is the built, validated node-type graph: a start type,
// the set of node types reachable from it, and each one's route.
type Graph struct {
	start reflect.Type
	specs map[reflect.Type]routeSpec
}

// Build validates the accumulated registrations and returns the Graph.
// It enforces the following construction constraints:
//   - start must be registered (not just declared).
//   - every type reachable from start by following routes must itself be
//     registered, so every call return type is accounted for.
//   - each node type's dep-DAG (built lazily per type by the resolver) is
//     validated the first time that type is resolved, not here — Go dep
//     registration is a package-level side effect (NewDep), so it may not
//     all have run yet at Build time for types defined in other packages.
func (b *Builder) Build() (*Graph, error) {
	if b.err != nil {
		return nil, b.err
	}
	if b.start == nil {
		return nil, &GraphConstructionError{Message: "no start type registered (call Start[T] first)"}
	}
	if _, ok := b.specs[b.start]; !ok {
		return nil, &GraphConstructionError{Message: fmt.Sprintf("start type %s has no registered route", b.start)}
	}

	visited := map[reflect.Type]bool{}
	var walk func(t reflect.Type) error
	walk = func(t reflect.Type) error {
		if visited[t] {
			return nil
		}
		visited[t] = true
		if t == unitType {
			return nil
		}
		spec, ok := b.specs[t]
		if !ok {
			return &GraphConstructionError{Message: fmt.Sprintf("node type %s is reachable but has no registered route", t)}
		}
		switch spec.kind {
		case RouteSingle:
			return walk(spec.single)
		case RouteUnionKind:
			for _, succ := range spec.union {
				if err := walk(succ); err != nil {
					return err
				}
			}
		case RouteEscape:
			// An escape node's call is user code that may construct any
			// registered type, so every registration counts as reachable
			// from it.
			for succ := range b.specs {
				if err := walk(succ); err != nil {
					return err
				}
			}
		}
		return nil
	}

	if err := walk(b.start); err != nil {
		return nil, err
	}

	specs := make(map[reflect.Type]routeSpec, len(visited))
	for t := range visited {
		if t == unitType {
			continue
		}
		specs[t] = b.specs[t]
	}

	return &Graph{start: b.start, specs: specs}, nil
}

// route returns t's registered routeSpec.
func (g *Graph) route(t reflect.Type) (routeSpec, bool) {
	spec, ok := g.specs[t]
	return spec, ok
}

// NodeTypes returns every node type in the built graph, in no particular
// order — used by hosts that want to print a formatted call graph.
func (g *Graph) NodeTypes() []reflect.Type {
	out := make([]reflect.Type, 0, len(g.specs))
	for t := range g.specs {
		out = append(out, t)
	}
	return out
}

// StartType returns the graph's registered entry node type.
func (g *Graph) StartType() reflect.Type { return g.start }

// StartSchema returns the JSON schema of the start type's plain fields —
// the values a caller supplies to construct the start instance. Dep,
// recall, and gate fields are excluded; they're resolved by the engine,
// not supplied by the caller.
func (g *Graph) StartSchema() map[string]interface{} {
	return buildPlainSchema(mustDescribe(g.start))
}

// NewStart constructs a start instance from caller-supplied plain field
// values, validating each against its declared type. A host holding
// primitives (a REPL command, an HTTP handler) uses this instead of the
// concrete struct literal; start-node fields are always caller-supplied,
// never LM-filled.
func (g *Graph) NewStart(fields map[string]interface{}) (any, error) {
	return extractTyped(g.start, mustDescribe(g.start), fields)
}

// FormatCallGraph renders the routing table as one line per node type,
// successors in name order, for a host's debug display.
func (g *Graph) FormatCallGraph() string {
	names := make([]string, 0, len(g.specs))
	byName := make(map[string]reflect.Type, len(g.specs))
	for t := range g.specs {
		names = append(names, t.Name())
		byName[t.Name()] = t
	}
	sort.Strings(names)

	var b strings.Builder
	fmt.Fprintf(&b, "start: %s\n", g.start.Name())
	for _, name := range names {
		spec := g.specs[byName[name]]
		switch spec.kind {
		case RouteTerminal:
			fmt.Fprintf(&b, "%s -> (terminal)\n", name)
		case RouteSingle:
			fmt.Fprintf(&b, "%s -> %s\n", name, spec.single.Name())
		case RouteUnionKind:
			succ := make([]string, len(spec.union))
			for i, t := range spec.union {
				succ[i] = t.Name()
			}
			sort.Strings(succ)
			fmt.Fprintf(&b, "%s -> {%s}\n", name, strings.Join(succ, " | "))
		case RouteEscape:
			fmt.Fprintf(&b, "%s -> (escape hatch)\n", name)
		}
	}
	return b.String()
}
