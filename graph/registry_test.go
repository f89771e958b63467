package graph_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/flowgraph/agentgraph/graph"
)

func TestRegistrySubmitThenInspectThenArchive(t *testing.T) {
	b := graph.NewBuilder()
	graph.Start[execStart](b)
	graph.RouteTo[execStart, execMiddle](b)
	graph.Terminal[execMiddle](b)
	g, err := b.Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	mock := graph.NewMockLM()
	mock.FillResponses["execMiddle"] = []any{execMiddle{Text: "done"}}
	reg := graph.NewRegistry(mock)

	run, err := reg.Submit(g, execStart{Text: "hi"})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}

	record, err := run.Wait(context.Background())
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if record.State != graph.RunDone {
		t.Fatalf("got state %v, want RunDone", record.State)
	}

	inspected, ok := reg.Inspect(run.RunID())
	if !ok {
		t.Fatal("Inspect returned not-found for a just-completed run")
	}
	if inspected.State != graph.RunDone {
		t.Errorf("Inspect state = %v, want RunDone", inspected.State)
	}

	for _, id := range reg.Active() {
		if id == run.RunID() {
			t.Error("completed run still listed as Active")
		}
	}
}

func TestRegistryArchiveIsBounded(t *testing.T) {
	b := graph.NewBuilder()
	graph.Start[execStart](b)
	graph.RouteTo[execStart, execMiddle](b)
	graph.Terminal[execMiddle](b)
	g, err := b.Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	mock := graph.NewMockLM()
	mock.FillResponses["execMiddle"] = []any{execMiddle{Text: "done"}}
	reg := graph.NewRegistry(mock, graph.WithArchiveCapacity(2))

	var ids []string
	for i := 0; i < 4; i++ {
		record, err := reg.Run(context.Background(), g, execStart{Text: "hi"})
		if err != nil {
			t.Fatalf("Run %d: %v", i, err)
		}
		ids = append(ids, record.RunID)
	}

	if _, ok := reg.Inspect(ids[0]); ok {
		t.Error("oldest run should have been evicted from the bounded archive")
	}
	if _, ok := reg.Inspect(ids[len(ids)-1]); !ok {
		t.Error("most recent run should still be in the archive")
	}
}

type execBlockingEscape struct {
	unblock chan struct{}
}

func (e execBlockingEscape) CallEscape(ctx context.Context) (any, error) {
	select {
	case <-e.unblock:
		return execEnd{Text: "finished"}, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func TestRegistryCancelStopsAnInFlightRun(t *testing.T) {
	b := graph.NewBuilder()
	graph.Start[execBlockingEscape](b)
	graph.Escape[execBlockingEscape](b)
	graph.Terminal[execEnd](b)
	g, err := b.Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	reg := graph.NewRegistry(graph.NewMockLM())
	run, err := reg.Submit(g, execBlockingEscape{unblock: make(chan struct{})})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}

	if ok := reg.Cancel(run.RunID()); !ok {
		t.Fatal("Cancel returned false for an active run")
	}

	record, err := run.Wait(context.Background())
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if record.State != graph.RunCancelled {
		t.Errorf("got state %v, want RunCancelled", record.State)
	}
}

func TestRegistryCancelOfUnknownRunReturnsFalse(t *testing.T) {
	reg := graph.NewRegistry(graph.NewMockLM())
	if reg.Cancel("no-such-run") {
		t.Error("Cancel should return false for an unregistered run id")
	}
}

func TestRunWaitRespectsCallerContext(t *testing.T) {
	b := graph.NewBuilder()
	graph.Start[execBlockingEscape](b)
	graph.Escape[execBlockingEscape](b)
	graph.Terminal[execEnd](b)
	g, err := b.Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	reg := graph.NewRegistry(graph.NewMockLM())
	unblock := make(chan struct{})
	run, err := reg.Submit(g, execBlockingEscape{unblock: unblock})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	defer close(unblock)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := run.Wait(ctx); err == nil {
		t.Fatal("want Wait to return an error once its own context expires, independent of the run's state")
	}
}

type gateStart struct{ Question string }

type gateApproval struct {
	Summary  string
	Approved graph.Gate[bool]
}

var gateApprovalBlueprint = graph.RegisterBlueprint(gateApproval{
	Approved: graph.Gate[bool]{Description: "OK to proceed?"},
})

func buildGateGraph(t *testing.T) *graph.Graph {
	t.Helper()
	b := graph.NewBuilder()
	graph.Start[gateStart](b)
	graph.RouteTo[gateStart, gateApproval](b)
	graph.Terminal[gateApproval](b)
	g, err := b.Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	return g
}

func awaitPendingGate(t *testing.T, reg *graph.Registry, runID string) *graph.InputGate {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if gates := reg.PendingGatesForRun(runID); len(gates) > 0 {
			return gates[0]
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal("timed out waiting for the run to suspend on a gate")
	return nil
}

func TestRunSuspendsOnGateThenCompletesOnResolve(t *testing.T) {
	g := buildGateGraph(t)

	mock := graph.NewMockLM()
	mock.FillResponses["gateApproval"] = []any{gateApproval{Summary: "reviewed"}}
	reg := graph.NewRegistry(mock)

	run, err := reg.Submit(g, gateStart{Question: "deploy?"})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}

	gate := awaitPendingGate(t, reg, run.RunID())
	if gate.GateID != run.RunID()+".0" {
		t.Errorf("gate id = %q, want %q", gate.GateID, run.RunID()+".0")
	}
	// The gate registers an instant before the state flips, so poll.
	waitingDeadline := time.Now().Add(2 * time.Second)
	for {
		record, ok := reg.Inspect(run.RunID())
		if ok && record.State == graph.RunWaiting {
			break
		}
		if time.Now().After(waitingDeadline) {
			t.Fatalf("state while gate pending = %v, want RunWaiting", record.State)
		}
		time.Sleep(2 * time.Millisecond)
	}

	// The shell hands over the user's raw text; "true" must coerce into
	// the bool field.
	if ok := reg.ResolveGate(gate.GateID, "true"); !ok {
		t.Fatal("ResolveGate returned false for a coercible value")
	}

	record, err := run.Wait(context.Background())
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if record.State != graph.RunDone {
		t.Fatalf("got state %v, want RunDone", record.State)
	}
	last, _ := record.Trace.Last()
	approval, ok := last.Value.(gateApproval)
	if !ok {
		t.Fatalf("last trace entry is %T, want gateApproval", last.Value)
	}
	if !approval.Approved.Value {
		t.Error("Approved.Value = false after resolving the gate with true")
	}
	if approval.Summary != "reviewed" {
		t.Errorf("Summary = %q, want the LM-filled value", approval.Summary)
	}
	if n := reg.PendingGateCount(); n != 0 {
		t.Errorf("PendingGateCount = %d after completion, want 0", n)
	}
}

func TestCancelDuringGateWaitCancelsRunAndClearsGates(t *testing.T) {
	g := buildGateGraph(t)

	mock := graph.NewMockLM()
	mock.FillResponses["gateApproval"] = []any{gateApproval{Summary: "never used"}}
	reg := graph.NewRegistry(mock)

	run, err := reg.Submit(g, gateStart{Question: "deploy?"})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}

	awaitPendingGate(t, reg, run.RunID())
	if ok := reg.Cancel(run.RunID()); !ok {
		t.Fatal("Cancel returned false for a waiting run")
	}

	record, err := run.Wait(context.Background())
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if record.State != graph.RunCancelled {
		t.Errorf("got state %v, want RunCancelled", record.State)
	}
	if n := reg.PendingGateCount(); n != 0 {
		t.Errorf("PendingGateCount = %d after cancel, want 0", n)
	}
	// The partial trace survives the cancellation: the start node had not
	// yet been appended (the run was suspended resolving its successor),
	// so the trace is empty but still inspectable.
	if len(record.Trace) != 0 {
		t.Errorf("got %d trace entries, want 0 (suspended before the first append)", len(record.Trace))
	}
}

var registryFailingDep = graph.NewDep("registry_test.always_fails", func(ctx context.Context, r *graph.ResolveContext) (string, error) {
	return "", errors.New("upstream unavailable")
})

type depFailNode struct {
	Data graph.Dep[string]
}

var depFailBlueprint = graph.RegisterBlueprint(depFailNode{Data: registryFailingDep})

func TestRunFailsWithDepErrorAndPartialTrace(t *testing.T) {
	b := graph.NewBuilder()
	graph.Start[depFailNode](b)
	graph.Terminal[depFailNode](b)
	g, err := b.Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	reg := graph.NewRegistry(graph.NewMockLM())
	record, err := reg.Run(context.Background(), g, depFailNode{})
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if record.State != graph.RunFailed {
		t.Fatalf("got state %v, want RunFailed", record.State)
	}
	var depErr *graph.DepError
	if !errors.As(record.Err, &depErr) {
		t.Fatalf("got error %T, want *graph.DepError", record.Err)
	}
	// The failure hit the first node, so the attached partial trace is
	// empty but present.
	if len(depErr.Trace()) != 0 {
		t.Errorf("got %d trace entries on the error, want 0", len(depErr.Trace()))
	}
	if len(record.Trace) != 0 {
		t.Errorf("got %d trace entries on the record, want 0", len(record.Trace))
	}
}
