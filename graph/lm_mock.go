package graph

import (
	"context"
	"fmt"
	"reflect"
	"sync"
)

// MockLM is a scripted LM for tests, following the same call-recording
// shape as model.MockChatModel: a queue of canned responses (by node type
// name), consumed in order, with every invocation recorded for assertions.
type MockLM struct {
	// ChooseResponses maps a node type name to the successor type it
	// should pick, consumed once each call for that node (repeating the
	// last once exhausted, like model.MockChatModel).
	ChooseResponses map[string][]reflect.Type

	// FillResponses maps a target type name to the instances fill()
	// should return for it, consumed once each call for that target
	// (repeating the last once exhausted).
	FillResponses map[string][]any

	Err error

	mu          sync.Mutex
	ChooseCalls []MockChooseCall
	FillCalls   []MockFillCall

	chooseIdx map[string]int
	fillIdx   map[string]int
}

// MockChooseCall records one ChooseType invocation.
type MockChooseCall struct {
	NodeType   reflect.Type
	Candidates []reflect.Type
	Context    map[string]any
}

// MockFillCall records one Fill invocation.
type MockFillCall struct {
	Target  reflect.Type
	Context map[string]any
}

// NewMockLM returns an empty MockLM ready for responses to be assigned.
func NewMockLM() *MockLM {
	return &MockLM{
		ChooseResponses: map[string][]reflect.Type{},
		FillResponses:   map[string][]any{},
		chooseIdx:       map[string]int{},
		fillIdx:         map[string]int{},
	}
}

// ChooseType implements LM.
func (m *MockLM) ChooseType(ctx context.Context, nodeType reflect.Type, candidates []reflect.Type, context map[string]any) (reflect.Type, error) {
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	m.ChooseCalls = append(m.ChooseCalls, MockChooseCall{NodeType: nodeType, Candidates: candidates, Context: context})

	if m.Err != nil {
		return nil, m.Err
	}

	responses := m.ChooseResponses[nodeType.Name()]
	if len(responses) == 0 {
		return nil, fmt.Errorf("graph: MockLM has no ChooseType response for %s", nodeType)
	}
	idx := m.chooseIdx[nodeType.Name()]
	if idx >= len(responses) {
		idx = len(responses) - 1
	} else {
		m.chooseIdx[nodeType.Name()]++
	}
	return responses[idx], nil
}

// Fill implements LM.
func (m *MockLM) Fill(ctx context.Context, target reflect.Type, context map[string]any, instruction string) (any, error) {
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	m.FillCalls = append(m.FillCalls, MockFillCall{Target: target, Context: context})

	if m.Err != nil {
		return nil, m.Err
	}

	responses := m.FillResponses[target.Name()]
	if len(responses) == 0 {
		return nil, fmt.Errorf("graph: MockLM has no Fill response for %s", target)
	}
	idx := m.fillIdx[target.Name()]
	if idx >= len(responses) {
		idx = len(responses) - 1
	} else {
		m.fillIdx[target.Name()]++
	}
	return responses[idx], nil
}

// CallCount returns the total number of ChooseType and Fill calls made.
func (m *MockLM) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.ChooseCalls) + len(m.FillCalls)
}
