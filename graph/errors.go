package graph

import (
	"errors"
	"fmt"
	"reflect"
)

// errTypeMismatch is wrapped into a DepError when a dep's cached value
// can't be asserted to the type a field or GetDep call expects — it should
// only happen if two deps register under the same id with different T,
// which NewDep's registry guards against, so this is a defensive branch.
var errTypeMismatch = errors.New("dep value type mismatch")

// tracedError is implemented by every engine error kind except
// GraphConstructionError (which is always raised before a run, hence never
// has a trace to attach).
type tracedError interface {
	error
	Trace() []TraceEntry
	attachTrace(trace []TraceEntry)
}

// DepError wraps a dep callable's failure. FieldName is empty for
// transitive failures (a dep the field's dep required, rather than the
// field's own dep).
type DepError struct {
	NodeType  reflect.Type
	FieldName string
	Cause     error
	trace     []TraceEntry
}

func (e *DepError) Error() string {
	if e.FieldName == "" {
		return fmt.Sprintf("dep resolution failed for %s: %v", typeName(e.NodeType), e.Cause)
	}
	return fmt.Sprintf("dep resolution failed for %s.%s: %v", typeName(e.NodeType), e.FieldName, e.Cause)
}

func (e *DepError) Unwrap() error            { return e.Cause }
func (e *DepError) Trace() []TraceEntry      { return e.trace }
func (e *DepError) attachTrace(t []TraceEntry) { e.trace = t }

// RecallError is raised when no prior trace entry matches a recall field's
// declared type. There is no retry: this is treated as a construction
// mistake manifesting at runtime.
type RecallError struct {
	NodeType  reflect.Type
	FieldName string
	FieldType reflect.Type
	trace     []TraceEntry
}

func (e *RecallError) Error() string {
	return fmt.Sprintf("recall miss for %s.%s: no prior %s in trace", typeName(e.NodeType), e.FieldName, typeName(e.FieldType))
}

func (e *RecallError) Trace() []TraceEntry      { return e.trace }
func (e *RecallError) attachTrace(t []TraceEntry) { e.trace = t }

// FillError is raised when an LM backend's fill() output fails validation
// twice in a row (original attempt plus one self-correction retry).
type FillError struct {
	TargetType  reflect.Type
	ParseErrors []string
	Attempts    int
	trace       []TraceEntry
}

func (e *FillError) Error() string {
	return fmt.Sprintf("fill failed for %s after %d attempt(s): %v", typeName(e.TargetType), e.Attempts, e.ParseErrors)
}

func (e *FillError) Trace() []TraceEntry      { return e.trace }
func (e *FillError) attachTrace(t []TraceEntry) { e.trace = t }

// LMError is raised when an LM backend's transport fails twice in a row
// (original attempt plus one fixed-delay retry).
type LMError struct {
	Cause    error
	Attempts int
	trace    []TraceEntry
}

func (e *LMError) Error() string {
	return fmt.Sprintf("lm transport failed after %d attempt(s): %v", e.Attempts, e.Cause)
}

func (e *LMError) Unwrap() error            { return e.Cause }
func (e *LMError) Trace() []TraceEntry      { return e.trace }
func (e *LMError) attachTrace(t []TraceEntry) { e.trace = t }

// GateError is raised on gate coercion failure or gate cancellation.
type GateError struct {
	GateID string
	Reason string
	trace  []TraceEntry
}

func (e *GateError) Error() string {
	return fmt.Sprintf("gate %s: %s", e.GateID, e.Reason)
}

func (e *GateError) Trace() []TraceEntry      { return e.trace }
func (e *GateError) attachTrace(t []TraceEntry) { e.trace = t }

// MaxItersError is raised when a run reaches its step limit without
// terminating.
type MaxItersError struct {
	Limit int
	trace []TraceEntry
}

func (e *MaxItersError) Error() string {
	return fmt.Sprintf("exceeded max iterations (%d)", e.Limit)
}

func (e *MaxItersError) Trace() []TraceEntry      { return e.trace }
func (e *MaxItersError) attachTrace(t []TraceEntry) { e.trace = t }

// GraphConstructionError is raised only while building a graph (Builder.Build),
// never during a run, so it carries no trace.
type GraphConstructionError struct {
	Message string
}

func (e *GraphConstructionError) Error() string {
	return "graph construction: " + e.Message
}

func typeName(t reflect.Type) string {
	if t == nil {
		return "<nil>"
	}
	return t.Name()
}
