package graph

import (
	"reflect"
	"sync"
)

var (
	blueprintMu  sync.Mutex
	blueprintReg = map[reflect.Type]reflect.Value{}
)

// RegisterBlueprint declares instance as node type T's canonical field
// configuration — the Dep/Gate values a node type is wired to, e.g.
// Greet{User: depUser}. The classifier reads a registered blueprint's
// field values when building T's NodeSpec instead of T's zero value,
// since a Dep[T]/Gate[T] field's id, reqs, and description are carried
// on the value assigned in the struct literal, not on the field's type
// (Go generics give every Dep[User] field the same type regardless of
// which dep callable it's wired to).
//
// Call RegisterBlueprint once per node type that declares a Dep or Gate
// field, from a package-level var so a duplicate registration panics at
// program init rather than silently overwriting the first one:
//
//	var greetBlueprint = graph.RegisterBlueprint(Greet{User: depUser})
//
// A node type with no Dep or Gate fields needs no blueprint; its
// NodeSpec is built from the zero value, which is indistinguishable
// from any other instance for Plain, Recall, and Effect fields.
func RegisterBlueprint[T any](instance T) T {
	t := reflect.TypeOf(instance)
	blueprintMu.Lock()
	defer blueprintMu.Unlock()
	if _, exists := blueprintReg[t]; exists {
		panic("graph: blueprint already registered for " + t.Name())
	}
	blueprintReg[t] = reflect.ValueOf(instance)
	return instance
}

// blueprintFor returns t's registered blueprint value, if any.
func blueprintFor(t reflect.Type) (reflect.Value, bool) {
	blueprintMu.Lock()
	defer blueprintMu.Unlock()
	v, ok := blueprintReg[t]
	return v, ok
}
