package graph

import (
	"fmt"
	"reflect"
	"sync"
	"unicode"
)

// FieldSpec describes one field of a node type, as produced by the
// classifier.
type FieldSpec struct {
	Name     string
	Index    int
	Type     reflect.Type
	Kind     FieldKind
	IsEffect bool

	// ElemType is the T a Dep[T]/Recall[T]/Gate[T] field produces. Zero
	// Value (nil) for KindPlain fields.
	ElemType reflect.Type

	depID    string
	depReqs  []string
	gateDesc string
}

// NodeSpec is the descriptor for one node type: its classified fields, in
// declaration order, built once and cached by reflect.Type — a central
// node descriptor table filled on the first describe of each type rather
// than re-derived on every resolve.
type NodeSpec struct {
	Type   reflect.Type
	Fields []FieldSpec
}

// PlainFields returns the subset of Fields classified as KindPlain and
// not Effect, in declaration order — the schema an LM backend's fill()
// populates. Effect fields are excluded: they're bookkeeping an
// escape-hatch node sets after invoking a tool.Tool itself, not
// something to ask the LM to invent.
func (s *NodeSpec) PlainFields() []FieldSpec {
	var out []FieldSpec
	for _, f := range s.Fields {
		if f.Kind == KindPlain && !f.IsEffect {
			out = append(out, f)
		}
	}
	return out
}

// EffectFields returns the node's Effect-marked fields, in declaration
// order — how a caller (a trace inspector, or tool-wiring code in an
// escape-hatch node) finds them.
func (s *NodeSpec) EffectFields() []FieldSpec {
	var out []FieldSpec
	for _, f := range s.Fields {
		if f.IsEffect {
			out = append(out, f)
		}
	}
	return out
}

// DepFields returns the node's KindDep fields, in declaration order.
func (s *NodeSpec) DepFields() []FieldSpec {
	return s.fieldsOfKind(KindDep)
}

// RecallFields returns the node's KindRecall fields, in declaration order.
func (s *NodeSpec) RecallFields() []FieldSpec {
	return s.fieldsOfKind(KindRecall)
}

// GateFields returns the node's KindGate fields, in declaration order.
func (s *NodeSpec) GateFields() []FieldSpec {
	return s.fieldsOfKind(KindGate)
}

func (s *NodeSpec) fieldsOfKind(k FieldKind) []FieldSpec {
	var out []FieldSpec
	for _, f := range s.Fields {
		if f.Kind == k {
			out = append(out, f)
		}
	}
	return out
}

var (
	descriptorMu    sync.Mutex
	descriptorCache = map[reflect.Type]*NodeSpec{}
)

// describe builds (or returns the cached) NodeSpec for t, a struct type.
// Unexported fields are skipped entirely.
func describe(t reflect.Type) (*NodeSpec, error) {
	descriptorMu.Lock()
	defer descriptorMu.Unlock()

	if spec, ok := descriptorCache[t]; ok {
		return spec, nil
	}
	if t.Kind() != reflect.Struct {
		return nil, &GraphConstructionError{Message: fmt.Sprintf("%s is not a struct type", t)}
	}

	spec := &NodeSpec{Type: t}
	markerType := reflect.TypeOf((*fieldMarker)(nil)).Elem()
	blueprint, hasBlueprint := blueprintFor(t)

	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		if !isExported(f.Name) {
			continue
		}

		fs := FieldSpec{Name: f.Name, Index: i, Type: f.Type, Kind: KindPlain}

		if isEffectType(f.Type) {
			fs.IsEffect = true
			spec.Fields = append(spec.Fields, fs)
			continue
		}

		if f.Type.Implements(markerType) {
			fieldVal := reflect.Zero(f.Type)
			if hasBlueprint {
				fieldVal = blueprint.Field(i)
			}
			zero := fieldVal.Interface().(fieldMarker)
			fs.Kind = zero.fieldKind()

			switch m := zero.(type) {
			case depMarker:
				fs.depID = m.depID()
				fs.depReqs = m.depReqs()
				fs.ElemType = f.Type.Field(mustFieldIndex(f.Type, "Value")).Type
			case recallMarker:
				fs.ElemType = m.recallType()
			case gateMarker:
				fs.ElemType = m.gateType()
				fs.gateDesc = m.gateDescription()
			}
		}

		spec.Fields = append(spec.Fields, fs)
	}

	descriptorCache[t] = spec
	return spec, nil
}

// mustDescribe is describe without the graph-construction-time error path,
// for call sites that already know t is a registered node type (the
// builder validates this at Build time).
func mustDescribe(t reflect.Type) *NodeSpec {
	spec, err := describe(t)
	if err != nil {
		panic(err)
	}
	return spec
}

func isExported(name string) bool {
	if name == "" {
		return false
	}
	return unicode.IsUpper(rune(name[0]))
}

func mustFieldIndex(t reflect.Type, name string) int {
	f, ok := t.FieldByName(name)
	if !ok {
		panic("graph: marker type missing " + name + " field")
	}
	return f.Index[0]
}
