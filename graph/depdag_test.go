package graph

import (
	"context"
	"reflect"
	"strings"
	"testing"
)

var depCycleA = NewDep("depdag_test.cycle_a", func(ctx context.Context, r *ResolveContext) (int, error) {
	return 0, nil
}, "depdag_test.cycle_b")

var depCycleB = NewDep("depdag_test.cycle_b", func(ctx context.Context, r *ResolveContext) (int, error) {
	return 0, nil
}, "depdag_test.cycle_a")

func TestBuildDepDAGRejectsCycles(t *testing.T) {
	_, err := buildDepDAG([]string{"depdag_test.cycle_a"})
	if err == nil {
		t.Fatal("want an error for a cyclic dep graph")
	}
	if !strings.Contains(err.Error(), "cyclic dep graph") {
		t.Errorf("got error %q, want it to name the cycle", err.Error())
	}
}

func TestBuildDepDAGRejectsUnregisteredID(t *testing.T) {
	_, err := buildDepDAG([]string{"depdag_test.nonexistent"})
	if err == nil {
		t.Fatal("want an error for an unregistered dep id")
	}
}

var depChainBase = NewDep("depdag_test.base", func(ctx context.Context, r *ResolveContext) (int, error) {
	return 1, nil
})

var depChainMid = NewDep("depdag_test.mid", func(ctx context.Context, r *ResolveContext) (int, error) {
	base, err := GetDep(r, depChainBase)
	if err != nil {
		return 0, err
	}
	return base + 1, nil
}, "depdag_test.base")

var depChainTop = NewDep("depdag_test.top", func(ctx context.Context, r *ResolveContext) (int, error) {
	mid, err := GetDep(r, depChainMid)
	if err != nil {
		return 0, err
	}
	return mid + 1, nil
}, "depdag_test.mid")

func TestBuildDepDAGOrdersTransitiveLevels(t *testing.T) {
	dag, err := buildDepDAG([]string{"depdag_test.top"})
	if err != nil {
		t.Fatalf("buildDepDAG: %v", err)
	}
	if len(dag.levels) != 3 {
		t.Fatalf("got %d levels, want 3 (base, mid, top in strict sequence)", len(dag.levels))
	}
	if dag.levels[0][0].id != "depdag_test.base" {
		t.Errorf("level 0 = %s, want depdag_test.base", dag.levels[0][0].id)
	}
	if dag.levels[1][0].id != "depdag_test.mid" {
		t.Errorf("level 1 = %s, want depdag_test.mid", dag.levels[1][0].id)
	}
	if dag.levels[2][0].id != "depdag_test.top" {
		t.Errorf("level 2 = %s, want depdag_test.top", dag.levels[2][0].id)
	}
}

func TestChainedDepsResolveThroughGetDep(t *testing.T) {
	run := newTestRun("depdag-chain-run")
	type chainNode struct {
		Top Dep[int]
	}
	dag, err := buildDepDAG([]string{"depdag_test.top"})
	if err != nil {
		t.Fatalf("buildDepDAG: %v", err)
	}
	resolveCtx := &ResolveContext{ctx: context.Background(), runID: run.id, cache: run.depCache}
	nodeType := reflect.TypeOf(chainNode{})
	for levelIdx, level := range dag.levels {
		if err := runDepLevel(context.Background(), run, resolveCtx, nodeType, levelIdx, level, map[string]string{"depdag_test.top": "Top"}); err != nil {
			t.Fatalf("runDepLevel: %v", err)
		}
	}
	v, err := run.depCache.get("depdag_test.top")
	if err != nil {
		t.Fatalf("depCache.get: %v", err)
	}
	if v != 3 {
		t.Errorf("got top = %v, want 3 (1 + 1 + 1 through the chain)", v)
	}
}
