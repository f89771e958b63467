package graph

import (
	"context"
	"reflect"
	"time"
)

// TimingLM decorates any LM backend, recording each call's wall-clock
// duration onto the owning run. The registry wraps every run's
// configured backend in one of these before passing it to the executor,
// so node timing is captured unconditionally regardless of which backend
// is in use.
type TimingLM struct {
	inner LM
	run   *Run
}

// NewTimingLM wraps inner for run.
func NewTimingLM(inner LM, run *Run) *TimingLM {
	return &TimingLM{inner: inner, run: run}
}

// ChooseType implements LM, forwarding to inner and recording duration.
func (t *TimingLM) ChooseType(ctx context.Context, nodeType reflect.Type, candidates []reflect.Type, ctxFields map[string]any) (reflect.Type, error) {
	start := time.Now()
	chosen, err := t.inner.ChooseType(ctx, nodeType, candidates, ctxFields)
	t.run.recordNodeTiming(nodeType, "choose_type", time.Since(start).Nanoseconds())
	return chosen, err
}

// Fill implements LM, forwarding to inner and recording duration.
func (t *TimingLM) Fill(ctx context.Context, target reflect.Type, ctxFields map[string]any, instruction string) (any, error) {
	start := time.Now()
	out, err := t.inner.Fill(ctx, target, ctxFields, instruction)
	t.run.recordNodeTiming(target, "fill", time.Since(start).Nanoseconds())
	return out, err
}
