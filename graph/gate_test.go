package graph

import (
	"context"
	"reflect"
	"testing"
	"time"
)

func waitForPendingGate(t *testing.T, reg *Registry, runID string) *InputGate {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if gates := reg.PendingGatesForRun(runID); len(gates) > 0 {
			return gates[0]
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal("timed out waiting for a pending gate to register")
	return nil
}

func TestGateHookSuspendsThenResumesOnResolve(t *testing.T) {
	reg := NewRegistry(nil)
	run := reg.newRun(nil, SubmitOptions{})

	type gateTestNode struct{}
	fields := []GateField{{Name: "Approved", Type: reflect.TypeOf(false), Description: "approve?"}}

	type result struct {
		values map[string]any
		err    error
	}
	done := make(chan result, 1)
	go func() {
		v, err := run.gateHook(context.Background(), reflect.TypeOf(gateTestNode{}), fields)
		done <- result{v, err}
	}()

	gate := waitForPendingGate(t, reg, run.id)
	if got := run.getState(); got != RunWaiting {
		t.Errorf("run state = %v while a gate is pending, want RunWaiting", got)
	}
	if gate.Description != "approve?" {
		t.Errorf("gate.Description = %q, want approve?", gate.Description)
	}

	if ok := reg.ResolveGate(gate.GateID, true); !ok {
		t.Fatal("ResolveGate returned false")
	}

	select {
	case res := <-done:
		if res.err != nil {
			t.Fatalf("gateHook: %v", res.err)
		}
		if res.values["Approved"] != true {
			t.Errorf("got Approved=%v, want true", res.values["Approved"])
		}
	case <-time.After(2 * time.Second):
		t.Fatal("gateHook never returned after ResolveGate")
	}

	if got := run.getState(); got != RunRunning {
		t.Errorf("run state after resolve = %v, want RunRunning", got)
	}
	if n := reg.PendingGateCount(); n != 0 {
		t.Errorf("PendingGateCount = %d after resolve, want 0", n)
	}
}

func TestGateHookReturnsErrorOnCancel(t *testing.T) {
	reg := NewRegistry(nil)
	run := reg.newRun(nil, SubmitOptions{})

	type gateTestNode2 struct{}
	fields := []GateField{{Name: "Approved", Type: reflect.TypeOf(false)}}

	done := make(chan error, 1)
	go func() {
		_, err := run.gateHook(context.Background(), reflect.TypeOf(gateTestNode2{}), fields)
		done <- err
	}()

	waitForPendingGate(t, reg, run.id)
	reg.CancelGates(run.id)

	select {
	case err := <-done:
		if err == nil {
			t.Fatal("want an error after CancelGates")
		}
		if _, ok := err.(*GateError); !ok {
			t.Errorf("got %T, want *GateError", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("gateHook never returned after CancelGates")
	}
}

func TestResolveGateRejectsBadCoercion(t *testing.T) {
	reg := NewRegistry(nil)
	run := reg.newRun(nil, SubmitOptions{})

	type gateTestNode3 struct{}
	fields := []GateField{{Name: "Count", Type: reflect.TypeOf(0)}}

	go func() {
		run.gateHook(context.Background(), reflect.TypeOf(gateTestNode3{}), fields)
	}()

	gate := waitForPendingGate(t, reg, run.id)
	if ok := reg.ResolveGate(gate.GateID, "not a number"); ok {
		t.Error("ResolveGate succeeded coercing a string into an int field, want false")
	}
	// Clean up the still-pending goroutine so the test doesn't leak it.
	reg.CancelGates(run.id)
}

func TestCoerceGateValueAcceptsUserTypedText(t *testing.T) {
	cases := []struct {
		name      string
		value     any
		fieldType reflect.Type
		want      any
	}{
		{"typed text into bool", "true", reflect.TypeOf(false), true},
		{"typed text into int", "42", reflect.TypeOf(0), 42},
		{"plain string stays a string", "true", reflect.TypeOf(""), "true"},
		{"native bool passes through", true, reflect.TypeOf(false), true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := coerceGateValue(tc.value, tc.fieldType)
			if err != nil {
				t.Fatalf("coerceGateValue: %v", err)
			}
			if got != tc.want {
				t.Errorf("got %v (%T), want %v (%T)", got, got, tc.want, tc.want)
			}
		})
	}
}

func TestGateSchemaDisplayFallsBackWithoutDescription(t *testing.T) {
	withDesc := &InputGate{FieldName: "Approved", FieldType: reflect.TypeOf(false), Description: "OK?"}
	if got := withDesc.SchemaDisplay(); got != "Approved: bool (OK?)" {
		t.Errorf("SchemaDisplay = %q", got)
	}
	without := &InputGate{FieldName: "Approved", FieldType: reflect.TypeOf(false)}
	if got := without.SchemaDisplay(); got != "Approved: bool" {
		t.Errorf("SchemaDisplay without description = %q, want the field: type fallback", got)
	}
}
