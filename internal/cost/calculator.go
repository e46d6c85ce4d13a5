// Package cost tracks the runtime's LM spend: per-model token pricing
// and running totals per run, so a driver can surface a cost summary
// alongside a run's result.
package cost

import "sync"

// Pricing holds per-million-token rates for one model, the unit most
// provider price sheets are quoted in.
type Pricing struct {
	InputPerMillion  float64 `json:"input_per_million"`
	OutputPerMillion float64 `json:"output_per_million"`
}

// DefaultPricing is used for any model without an explicit entry.
var DefaultPricing = Pricing{InputPerMillion: 3.0, OutputPerMillion: 15.0}

// RoundCost is the cost breakdown for one provider round.
type RoundCost struct {
	PromptTokens     int     `json:"prompt_tokens"`
	CompletionTokens int     `json:"completion_tokens"`
	InputCost        float64 `json:"input_cost"`
	OutputCost       float64 `json:"output_cost"`
	TotalCost        float64 `json:"total_cost"`
}

// ModelSummary aggregates cost across every round charged to one model
// within a run.
type ModelSummary struct {
	Model            string  `json:"model"`
	Rounds           int64   `json:"rounds"`
	PromptTokens     int64   `json:"prompt_tokens"`
	CompletionTokens int64   `json:"completion_tokens"`
	TotalCost        float64 `json:"total_cost"`
}

// Calculator prices LM usage and accumulates a per-run, per-model cost
// ledger. Safe for concurrent use since the async scheduler may charge
// several models' usage at once.
type Calculator struct {
	mu      sync.Mutex
	pricing map[string]Pricing
	summary map[string]*ModelSummary
}

func NewCalculator(pricing map[string]Pricing) *Calculator {
	if pricing == nil {
		pricing = map[string]Pricing{}
	}
	return &Calculator{pricing: pricing, summary: make(map[string]*ModelSummary)}
}

// PriceFor returns the configured pricing for model, or DefaultPricing.
func (c *Calculator) PriceFor(model string) Pricing {
	c.mu.Lock()
	defer c.mu.Unlock()
	if p, ok := c.pricing[model]; ok {
		return p
	}
	return DefaultPricing
}

// Charge prices one round's token usage against model and folds it
// into that model's running summary for this calculator's lifetime
// (one run, by convention — callers construct a fresh Calculator per
// driver invocation).
func (c *Calculator) Charge(model string, promptTokens, completionTokens int) RoundCost {
	p := c.PriceFor(model)
	rc := RoundCost{
		PromptTokens:     promptTokens,
		CompletionTokens: completionTokens,
		InputCost:        float64(promptTokens) / 1_000_000 * p.InputPerMillion,
		OutputCost:       float64(completionTokens) / 1_000_000 * p.OutputPerMillion,
	}
	rc.TotalCost = rc.InputCost + rc.OutputCost

	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.summary[model]
	if !ok {
		s = &ModelSummary{Model: model}
		c.summary[model] = s
	}
	s.Rounds++
	s.PromptTokens += int64(promptTokens)
	s.CompletionTokens += int64(completionTokens)
	s.TotalCost += rc.TotalCost
	return rc
}

// Summaries returns a snapshot of accumulated cost per model.
func (c *Calculator) Summaries() []*ModelSummary {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*ModelSummary, 0, len(c.summary))
	for _, s := range c.summary {
		cp := *s
		out = append(out, &cp)
	}
	return out
}
