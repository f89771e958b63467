package graph

import (
	"context"
	"errors"
	"reflect"
	"sync/atomic"
	"testing"
	"time"
)

func newTestRun(id string) *Run {
	return &Run{
		id:       id,
		registry: &Registry{},
		depCache: newRunDepCache(),
		gateMemo: map[gateMemoKey]map[string]any{},
		state:    RunRunning,
	}
}

var resolverTestCallCount int64

var depSlowA = NewDep("resolver_test.slow_a", func(ctx context.Context, r *ResolveContext) (string, error) {
	atomic.AddInt64(&resolverTestCallCount, 1)
	time.Sleep(40 * time.Millisecond)
	return "a", nil
})

var depSlowB = NewDep("resolver_test.slow_b", func(ctx context.Context, r *ResolveContext) (string, error) {
	atomic.AddInt64(&resolverTestCallCount, 1)
	time.Sleep(40 * time.Millisecond)
	return "b", nil
})

type resolverTestParallelNode struct {
	A Dep[string]
	B Dep[string]
}

var resolverTestParallelBlueprint = RegisterBlueprint(resolverTestParallelNode{
	A: depSlowA,
	B: depSlowB,
})

func TestResolveRunsSameLevelDepsConcurrently(t *testing.T) {
	run := newTestRun("r1")
	start := time.Now()
	fields, err := resolve(context.Background(), run, reflect.TypeOf(resolverTestParallelNode{}), 0)
	elapsed := time.Since(start)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if elapsed > 70*time.Millisecond {
		t.Errorf("resolve took %v, want well under 80ms (two 40ms deps should run concurrently, not serially)", elapsed)
	}

	a, _ := fields.Get("A")
	b, _ := fields.Get("B")
	if a != "a" || b != "b" {
		t.Errorf("got A=%v B=%v, want a/b", a, b)
	}
}

var depFailing = NewDep("resolver_test.failing", func(ctx context.Context, r *ResolveContext) (string, error) {
	return "", errors.New("boom")
})

var depNeverCalled = NewDep("resolver_test.never_called", func(ctx context.Context, r *ResolveContext) (string, error) {
	atomic.AddInt64(&resolverTestNeverCalledCount, 1)
	time.Sleep(200 * time.Millisecond)
	return "late", nil
})

var resolverTestNeverCalledCount int64

type resolverTestFailFastNode struct {
	Fail  Dep[string]
	Slow  Dep[string]
}

var resolverTestFailFastBlueprint = RegisterBlueprint(resolverTestFailFastNode{
	Fail: depFailing,
	Slow: depNeverCalled,
})

func TestResolveFailsFastWithinALevel(t *testing.T) {
	run := newTestRun("r2")
	start := time.Now()
	_, err := resolve(context.Background(), run, reflect.TypeOf(resolverTestFailFastNode{}), 0)
	elapsed := time.Since(start)
	if err == nil {
		t.Fatal("want an error from the failing dep")
	}
	var depErr *DepError
	if !errors.As(err, &depErr) {
		t.Fatalf("got %T, want *DepError", err)
	}
	// The level's cancel() fires as soon as Fail errors; since both deps
	// are in the same level (neither requires the other), the slow dep's
	// own sleep should never force the level to wait out its full 200ms.
	if elapsed > 100*time.Millisecond {
		t.Errorf("resolve took %v after a same-level failure; want it to return promptly rather than waiting for the slow dep's goroutine", elapsed)
	}
}

var depMemoCount int64
var depMemoized = NewDep("resolver_test.memoized", func(ctx context.Context, r *ResolveContext) (int, error) {
	n := atomic.AddInt64(&depMemoCount, 1)
	return int(n), nil
})

type resolverTestMemoNodeA struct {
	V Dep[int]
}
type resolverTestMemoNodeB struct {
	V Dep[int]
}

var resolverTestMemoBlueprintA = RegisterBlueprint(resolverTestMemoNodeA{V: depMemoized})
var resolverTestMemoBlueprintB = RegisterBlueprint(resolverTestMemoNodeB{V: depMemoized})

func TestResolveMemoizesDepWithinARun(t *testing.T) {
	run := newTestRun("r3")

	f1, err := resolve(context.Background(), run, reflect.TypeOf(resolverTestMemoNodeA{}), 0)
	if err != nil {
		t.Fatalf("first resolve: %v", err)
	}
	f2, err := resolve(context.Background(), run, reflect.TypeOf(resolverTestMemoNodeB{}), 1)
	if err != nil {
		t.Fatalf("second resolve: %v", err)
	}

	v1, _ := f1.Get("V")
	v2, _ := f2.Get("V")
	if v1 != v2 {
		t.Errorf("got V=%v then V=%v within the same run; want the same memoized value both times", v1, v2)
	}
}

type resolverTestRecallTarget struct{ N int }

type resolverTestRecallNode struct {
	Prior Recall[resolverTestRecallTarget]
}

func TestResolveRecallFindsMostRecentMatch(t *testing.T) {
	run := newTestRun("r4")
	run.trace = Trace{
		{Type: reflect.TypeOf(resolverTestRecallTarget{}), Value: resolverTestRecallTarget{N: 1}},
		{Type: reflect.TypeOf(struct{ Other string }{}), Value: struct{ Other string }{Other: "x"}},
		{Type: reflect.TypeOf(resolverTestRecallTarget{}), Value: resolverTestRecallTarget{N: 2}},
	}

	fields, err := resolve(context.Background(), run, reflect.TypeOf(resolverTestRecallNode{}), len(run.trace))
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	v, _ := fields.Get("Prior")
	got, ok := v.(resolverTestRecallTarget)
	if !ok || got.N != 2 {
		t.Errorf("got Prior=%v, want the most recent match (N=2)", v)
	}
}

func TestResolveRecallMissIsAnError(t *testing.T) {
	run := newTestRun("r5")
	_, err := resolve(context.Background(), run, reflect.TypeOf(resolverTestRecallNode{}), 0)
	if err == nil {
		t.Fatal("want an error recalling a type that never appeared in the trace")
	}
	var recallErr *RecallError
	if !errors.As(err, &recallErr) {
		t.Fatalf("got %T, want *RecallError", err)
	}
}

func TestApplyResolvedFieldsWritesValueSubfield(t *testing.T) {
	spec := mustDescribe(reflect.TypeOf(resolverTestMemoNodeA{}))
	resolved := newResolvedFields()
	resolved.set("V", 42)

	v := reflect.New(reflect.TypeOf(resolverTestMemoNodeA{})).Elem()
	if err := applyResolvedFields(v, spec, resolved); err != nil {
		t.Fatalf("applyResolvedFields: %v", err)
	}
	node := v.Interface().(resolverTestMemoNodeA)
	if node.V.Value != 42 {
		t.Errorf("got V.Value = %d, want 42", node.V.Value)
	}
}

var depDiamondA = NewDep("resolver_test.diamond_a", func(ctx context.Context, r *ResolveContext) (int, error) {
	time.Sleep(30 * time.Millisecond)
	return 1, nil
})

var depDiamondB = NewDep("resolver_test.diamond_b", func(ctx context.Context, r *ResolveContext) (int, error) {
	time.Sleep(30 * time.Millisecond)
	return 2, nil
})

var depDiamondSum = NewDep("resolver_test.diamond_sum", func(ctx context.Context, r *ResolveContext) (int, error) {
	a, err := GetDep(r, depDiamondA)
	if err != nil {
		return 0, err
	}
	b, err := GetDep(r, depDiamondB)
	if err != nil {
		return 0, err
	}
	time.Sleep(30 * time.Millisecond)
	return a + b, nil
}, "resolver_test.diamond_a", "resolver_test.diamond_b")

type resolverTestDiamondNode struct {
	A   Dep[int]
	B   Dep[int]
	Sum Dep[int]
}

var resolverTestDiamondBlueprint = RegisterBlueprint(resolverTestDiamondNode{
	A:   depDiamondA,
	B:   depDiamondB,
	Sum: depDiamondSum,
})

func TestResolveDiamondRunsIndependentDepsInParallel(t *testing.T) {
	run := newTestRun("r-diamond")
	start := time.Now()
	fields, err := resolve(context.Background(), run, reflect.TypeOf(resolverTestDiamondNode{}), 0)
	elapsed := time.Since(start)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	// a and b share a level (30ms concurrent), then sum's own 30ms: two
	// level barriers, not three serial sleeps.
	if elapsed > 75*time.Millisecond {
		t.Errorf("resolve took %v; want roughly two level durations, not three serial deps", elapsed)
	}
	sum, _ := fields.Get("Sum")
	if sum != 3 {
		t.Errorf("got Sum=%v, want 3", sum)
	}
}
