// Package model provides the low-level wire interface to LLM chat providers.
// It is intentionally thin: one message format, one tool-call format, one
// interface. Everything structured-output related (schema reduction, typed
// field extraction, retries) lives one layer up in the graph package's
// StructuredLM.
package model

import "context"

// ChatModel is the wire interface implemented by each provider adapter
// (anthropic, openai, google). Implementations should:
//   - Convert Message/ToolSpec to the provider's request format.
//   - Parse the provider's response back into ChatOut.
//   - Respect ctx cancellation and deadlines.
type ChatModel interface {
	// Chat sends messages to the LLM and returns its response. tools may be
	// nil if the caller has no tool schema to offer.
	Chat(ctx context.Context, messages []Message, tools []ToolSpec) (ChatOut, error)

	// ModelName identifies which model this adapter talks to (e.g.
	// "claude-sonnet-4-5-20250929", "gpt-4o"), used by callers that
	// attribute cost per model.
	ModelName() string
}

// Message is one turn in a conversation.
type Message struct {
	Role    string
	Content string
}

// Standard roles, shared across providers.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// ToolSpec describes a callable tool (or, for StructuredLM, a synthetic
// "emit result" tool) an LLM can invoke. Schema follows JSON Schema.
type ToolSpec struct {
	Name        string
	Description string
	Schema      map[string]interface{}
}

// ChatOut is an LLM's response: free text, tool calls, or both.
type ChatOut struct {
	Text      string
	ToolCalls []ToolCall
	Usage     ChatUsage
}

// ChatUsage reports token counts for one Chat call, when the provider's
// response includes them. Zero values mean the provider didn't report
// usage for this call, not that usage was zero.
type ChatUsage struct {
	InputTokens  int
	OutputTokens int
}

// ToolCall is one invocation request the LLM emitted.
type ToolCall struct {
	Name  string
	Input map[string]interface{}
}
