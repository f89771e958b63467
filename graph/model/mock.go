package model

import (
	"context"
	"sync"
)

// MockChatModel is a test implementation of ChatModel. It returns a
// configured sequence of responses (repeating the last once exhausted),
// optionally failing with Err, and records every call for assertions.
type MockChatModel struct {
	Responses []ChatOut
	Err       error
	Calls     []MockChatCall

	// Name is returned by ModelName; defaults to "mock" when unset.
	Name string

	mu        sync.Mutex
	callIndex int
}

// ModelName implements ChatModel.
func (m *MockChatModel) ModelName() string {
	if m.Name == "" {
		return "mock"
	}
	return m.Name
}

// MockChatCall records a single invocation of Chat().
type MockChatCall struct {
	Messages []Message
	Tools    []ToolSpec
}

// Chat implements ChatModel.
func (m *MockChatModel) Chat(ctx context.Context, messages []Message, tools []ToolSpec) (ChatOut, error) {
	if ctx.Err() != nil {
		return ChatOut{}, ctx.Err()
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.Calls = append(m.Calls, MockChatCall{Messages: messages, Tools: tools})

	if m.Err != nil {
		return ChatOut{}, m.Err
	}
	if len(m.Responses) == 0 {
		return ChatOut{}, nil
	}

	idx := m.callIndex
	if idx >= len(m.Responses) {
		idx = len(m.Responses) - 1
	} else {
		m.callIndex++
	}

	return m.Responses[idx], nil
}

// Reset clears call history and rewinds the response cursor.
func (m *MockChatModel) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.Calls = nil
	m.callIndex = 0
}

// CallCount returns the number of times Chat() has been invoked.
func (m *MockChatModel) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	return len(m.Calls)
}
