package graph

import (
	"context"
	"reflect"
	"testing"
)

var descTestDep = NewDep("descriptor_test.count", func(ctx context.Context, r *ResolveContext) (int, error) {
	return 7, nil
})

type descTestNode struct {
	Name   string
	Count  Dep[int]
	Prior  Recall[descTestPrior]
	Review Gate[bool]
	Log    Effect
}

type descTestPrior struct{ X int }

var descTestBlueprint = RegisterBlueprint(descTestNode{
	Count:  descTestDep,
	Review: Gate[bool]{Description: "approve this step?"},
})

func TestDescribeClassifiesEveryFieldKind(t *testing.T) {
	spec, err := describe(reflect.TypeOf(descTestNode{}))
	if err != nil {
		t.Fatalf("describe: %v", err)
	}

	byName := map[string]FieldSpec{}
	for _, f := range spec.Fields {
		byName[f.Name] = f
	}

	if got := byName["Name"].Kind; got != KindPlain {
		t.Errorf("Name: got kind %v, want KindPlain", got)
	}
	if got := byName["Count"].Kind; got != KindDep {
		t.Errorf("Count: got kind %v, want KindDep", got)
	}
	if got := byName["Count"].depID; got != "descriptor_test.count" {
		t.Errorf("Count: got depID %q, want descriptor_test.count (blueprint not consulted)", got)
	}
	if got := byName["Prior"].Kind; got != KindRecall {
		t.Errorf("Prior: got kind %v, want KindRecall", got)
	}
	if got := byName["Prior"].ElemType; got != reflect.TypeOf(descTestPrior{}) {
		t.Errorf("Prior: got ElemType %v, want descTestPrior", got)
	}
	if got := byName["Review"].Kind; got != KindGate {
		t.Errorf("Review: got kind %v, want KindGate", got)
	}
	if got := byName["Review"].gateDesc; got != "approve this step?" {
		t.Errorf("Review: got gateDesc %q, want the blueprint's description", got)
	}
	if !byName["Log"].IsEffect {
		t.Error("Log: want IsEffect true")
	}
	if got := byName["Log"].Kind; got != KindPlain {
		t.Errorf("Log: got kind %v, want KindPlain (Effect carries no resolution strategy)", got)
	}
}

func TestDescribeSkipsUnexportedFields(t *testing.T) {
	type withUnexported struct {
		Visible string
		hidden  string
	}
	spec, err := describe(reflect.TypeOf(withUnexported{}))
	if err != nil {
		t.Fatalf("describe: %v", err)
	}
	if len(spec.Fields) != 1 || spec.Fields[0].Name != "Visible" {
		t.Fatalf("got fields %+v, want only Visible", spec.Fields)
	}
}

func TestDescribeCachesByType(t *testing.T) {
	t1 := reflect.TypeOf(descTestNode{})
	s1, err := describe(t1)
	if err != nil {
		t.Fatalf("describe: %v", err)
	}
	s2, err := describe(t1)
	if err != nil {
		t.Fatalf("describe: %v", err)
	}
	if s1 != s2 {
		t.Error("describe returned a different *NodeSpec for the same type on a second call; want the cached pointer")
	}
}

func TestDescribeRejectsNonStruct(t *testing.T) {
	_, err := describe(reflect.TypeOf(42))
	if err == nil {
		t.Fatal("want an error describing a non-struct type")
	}
	if _, ok := err.(*GraphConstructionError); !ok {
		t.Errorf("got %T, want *GraphConstructionError", err)
	}
}

func TestNodeSpecFieldAccessorsPreserveOrder(t *testing.T) {
	spec := mustDescribe(reflect.TypeOf(descTestNode{}))
	plain := spec.PlainFields()
	if len(plain) != 1 || plain[0].Name != "Name" {
		t.Fatalf("PlainFields = %+v, want just Name (Effect is excluded despite being KindPlain internally)", plain)
	}
	if effects := spec.EffectFields(); len(effects) != 1 || effects[0].Name != "Log" {
		t.Fatalf("EffectFields = %+v, want just Log", effects)
	}
	if deps := spec.DepFields(); len(deps) != 1 || deps[0].Name != "Count" {
		t.Fatalf("DepFields = %+v, want just Count", deps)
	}
	if recalls := spec.RecallFields(); len(recalls) != 1 || recalls[0].Name != "Prior" {
		t.Fatalf("RecallFields = %+v, want just Prior", recalls)
	}
	if gates := spec.GateFields(); len(gates) != 1 || gates[0].Name != "Review" {
		t.Fatalf("GateFields = %+v, want just Review", gates)
	}
}

func TestNewDepPanicsOnDuplicateID(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("want a panic registering a duplicate dep id")
		}
	}()
	NewDep("descriptor_test.count", func(ctx context.Context, r *ResolveContext) (int, error) {
		return 0, nil
	})
}

func TestRegisterBlueprintPanicsOnDuplicate(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("want a panic registering a duplicate blueprint")
		}
	}()
	RegisterBlueprint(descTestNode{})
}
