package graph

import (
	"sync"
	"time"
)

// ModelPricing gives input/output token cost in USD per 1M tokens.
type ModelPricing struct {
	InputPer1M  float64
	OutputPer1M float64
}

// defaultModelPricing is a static table for the providers this module
// wires StructuredLM backends to.
var defaultModelPricing = map[string]ModelPricing{
	"gpt-4o":                     {InputPer1M: 2.50, OutputPer1M: 10.00},
	"gpt-4o-mini":                {InputPer1M: 0.15, OutputPer1M: 0.60},
	"gpt-4-turbo":                {InputPer1M: 10.00, OutputPer1M: 30.00},
	"claude-sonnet-4-5-20250929": {InputPer1M: 3.00, OutputPer1M: 15.00},
	"claude-3-5-sonnet-20241022": {InputPer1M: 3.00, OutputPer1M: 15.00},
	"claude-3-opus-20240229":     {InputPer1M: 15.00, OutputPer1M: 75.00},
	"claude-3-haiku-20240307":    {InputPer1M: 0.25, OutputPer1M: 1.25},
	"gemini-2.5-flash":           {InputPer1M: 0.075, OutputPer1M: 0.30},
	"gemini-1.5-pro":             {InputPer1M: 1.25, OutputPer1M: 5.00},
	"gemini-1.5-flash":           {InputPer1M: 0.075, OutputPer1M: 0.30},
}

// LLMCall is one priced LM invocation.
type LLMCall struct {
	Model        string
	NodeType     string
	InputTokens  int
	OutputTokens int
	CostUSD      float64
	Timestamp    int64
}

// CostTracker attributes token cost to one run, keyed by model and node
// type. A model absent from Pricing is recorded with CostUSD 0 rather
// than rejected, since an unpriced or self-hosted model is still worth
// counting tokens for.
type CostTracker struct {
	RunID    string
	Currency string
	Pricing  map[string]ModelPricing

	mu           sync.Mutex
	calls        []LLMCall
	totalCostUSD float64
	byModel      map[string]float64
}

// NewCostTracker returns a tracker for runID using the default pricing
// table.
func NewCostTracker(runID string) *CostTracker {
	return &CostTracker{
		RunID:    runID,
		Currency: "USD",
		Pricing:  defaultModelPricing,
		byModel:  map[string]float64{},
	}
}

// Record attributes one LM call's token usage to model/nodeType.
func (ct *CostTracker) Record(model, nodeType string, usage ChatUsageTokens, at time.Time) {
	ct.mu.Lock()
	defer ct.mu.Unlock()

	var cost float64
	if pricing, ok := ct.Pricing[model]; ok {
		cost = float64(usage.InputTokens)/1_000_000*pricing.InputPer1M +
			float64(usage.OutputTokens)/1_000_000*pricing.OutputPer1M
	}

	ct.calls = append(ct.calls, LLMCall{
		Model:        model,
		NodeType:     nodeType,
		InputTokens:  usage.InputTokens,
		OutputTokens: usage.OutputTokens,
		CostUSD:      cost,
		Timestamp:    at.UnixNano(),
	})
	ct.totalCostUSD += cost
	ct.byModel[model] += cost
}

// TotalCostUSD returns the cumulative cost recorded so far.
func (ct *CostTracker) TotalCostUSD() float64 {
	ct.mu.Lock()
	defer ct.mu.Unlock()
	return ct.totalCostUSD
}

// CostByModel returns a snapshot of cost attributed to each model.
func (ct *CostTracker) CostByModel() map[string]float64 {
	ct.mu.Lock()
	defer ct.mu.Unlock()
	out := make(map[string]float64, len(ct.byModel))
	for k, v := range ct.byModel {
		out[k] = v
	}
	return out
}

// Calls returns a snapshot of every recorded call, in recording order.
func (ct *CostTracker) Calls() []LLMCall {
	ct.mu.Lock()
	defer ct.mu.Unlock()
	out := make([]LLMCall, len(ct.calls))
	copy(out, ct.calls)
	return out
}

// ChatUsageTokens is the subset of model.ChatUsage CostTracker needs,
// declared locally so this file doesn't import the model package just for
// a two-field struct.
type ChatUsageTokens struct {
	InputTokens  int
	OutputTokens int
}
