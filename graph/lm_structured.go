package graph

import (
	"context"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/flowgraph/agentgraph/graph/model"
)

// fillToolName is the synthetic tool name a StructuredLM asks the
// underlying ChatModel to invoke when filling a target's plain fields.
const fillToolName = "emit_result"

// StructuredLM adapts a low-level model.ChatModel into the LM protocol by
// prompting it to invoke a single synthetic tool whose schema is the
// target type's reduced plain-fields schema. It is the default
// backend for any configured anthropic/openai/google model.
type StructuredLM struct {
	chat           model.ChatModel
	transportDelay time.Duration
	cost           *CostTracker
}

// NewStructuredLM wraps chat. transportDelay (default 1s) is the pause
// before the single transport-failure retry.
func NewStructuredLM(chat model.ChatModel) *StructuredLM {
	return &StructuredLM{chat: chat, transportDelay: time.Second}
}

// WithCostTracker attaches a CostTracker that records token usage from
// every Chat response carrying one, attributed to the node type the call
// was made for.
func (s *StructuredLM) WithCostTracker(ct *CostTracker) *StructuredLM {
	s.cost = ct
	return s
}

func (s *StructuredLM) recordUsage(nodeType reflect.Type, usage model.ChatUsage) {
	if s.cost == nil || (usage.InputTokens == 0 && usage.OutputTokens == 0) {
		return
	}
	s.cost.Record(s.chat.ModelName(), nodeType.Name(), ChatUsageTokens{
		InputTokens:  usage.InputTokens,
		OutputTokens: usage.OutputTokens,
	}, time.Now())
}

// ChooseType implements LM by offering one synthetic tool per candidate
// and reading back whichever one the model invoked.
func (s *StructuredLM) ChooseType(ctx context.Context, nodeType reflect.Type, candidates []reflect.Type, ctxFields map[string]any) (reflect.Type, error) {
	tools := make([]model.ToolSpec, len(candidates))
	byName := make(map[string]reflect.Type, len(candidates))
	for i, c := range candidates {
		name := "choose_" + c.Name()
		tools[i] = model.ToolSpec{
			Name:        name,
			Description: fmt.Sprintf("Continue the run with %s as the next step.", c.Name()),
		}
		byName[name] = c
	}

	messages := []model.Message{
		{Role: model.RoleSystem, Content: "Pick exactly one of the offered tools to continue the run."},
		{Role: model.RoleUser, Content: fmt.Sprintf("Current step: %s\nContext: %s", nodeType.Name(), formatContext(ctxFields))},
	}

	out, err := s.chatWithTransportRetry(ctx, messages, tools)
	if err != nil {
		return nil, err
	}
	s.recordUsage(nodeType, out.Usage)
	if len(out.ToolCalls) == 0 {
		return nil, &LMError{Cause: fmt.Errorf("choose_type: model returned no tool call"), Attempts: 1}
	}
	chosen, ok := byName[out.ToolCalls[0].Name]
	if !ok {
		return nil, &LMError{Cause: fmt.Errorf("choose_type: model invoked unrecognized tool %q", out.ToolCalls[0].Name), Attempts: 1}
	}
	return chosen, nil
}

// Fill implements LM by offering a single synthetic tool whose schema is
// target's reduced plain-fields schema, then validating and typing the
// response via extractTyped. On a parse failure it retries once with a
// correction hint appended to the prompt.
func (s *StructuredLM) Fill(ctx context.Context, target reflect.Type, ctxFields map[string]any, instruction string) (any, error) {
	spec := mustDescribe(target)
	schema := buildPlainSchema(spec)
	tools := []model.ToolSpec{{Name: fillToolName, Description: "Populate the fields of " + instruction, Schema: schema}}

	base := []model.Message{
		{Role: model.RoleSystem, Content: "Call " + fillToolName + " with the fields it requires. Do not explain."},
		{Role: model.RoleUser, Content: fmt.Sprintf("Populate: %s\nContext: %s", instruction, formatContext(ctxFields))},
	}

	var parseErrs []string
	for attempt := 1; attempt <= 2; attempt++ {
		messages := base
		if attempt == 2 {
			hint := parseErrs[len(parseErrs)-1]
			if len(hint) > correctionHintMaxLen {
				hint = hint[:correctionHintMaxLen]
			}
			messages = append(append([]model.Message{}, base...), model.Message{
				Role:    model.RoleUser,
				Content: "Your previous response was invalid: " + hint + ". Try again, matching the schema exactly.",
			})
		}

		out, err := s.chatWithTransportRetry(ctx, messages, tools)
		if err != nil {
			return nil, err
		}
		s.recordUsage(target, out.Usage)
		if len(out.ToolCalls) == 0 {
			parseErrs = append(parseErrs, "model returned no tool call")
			continue
		}

		instance, err := extractTyped(target, spec, out.ToolCalls[0].Input)
		if err != nil {
			parseErrs = append(parseErrs, err.Error())
			continue
		}
		return instance, nil
	}

	return nil, &FillError{TargetType: target, ParseErrors: parseErrs, Attempts: len(parseErrs)}
}

// chatWithTransportRetry retries exactly once, after transportDelay plus a
// run-deterministic jitter, on a transport-level error. A context
// cancellation during the wait short-circuits the retry.
func (s *StructuredLM) chatWithTransportRetry(ctx context.Context, messages []model.Message, tools []model.ToolSpec) (model.ChatOut, error) {
	out, err := s.chat.Chat(ctx, messages, tools)
	if err == nil {
		return out, nil
	}

	select {
	case <-time.After(retryBackoff(ctx, s.transportDelay)):
	case <-ctx.Done():
		return model.ChatOut{}, ctx.Err()
	}

	out, err = s.chat.Chat(ctx, messages, tools)
	if err != nil {
		return model.ChatOut{}, &LMError{Cause: err, Attempts: 2}
	}
	return out, nil
}

// formatContext renders resolved context fields as a flat "name=value"
// listing for prompt construction. Deterministic ordering isn't required
// here (unlike scheduler.go's order keys) since this text never drives
// memoization.
func formatContext(fields map[string]any) string {
	if len(fields) == 0 {
		return "(none)"
	}
	var b strings.Builder
	first := true
	for k, v := range fields {
		if !first {
			b.WriteString(", ")
		}
		first = false
		fmt.Fprintf(&b, "%s=%v", k, v)
	}
	return b.String()
}
