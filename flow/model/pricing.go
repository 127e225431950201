package model

import "math"

// Pricing defines input and output token costs for an LLM model.
// Prices are in USD per 1M tokens.
type Pricing struct {
	InputPer1M  float64
	OutputPer1M float64
}

// Static pricing map for major LLM providers (as of 2025-01-01).
// Prices are in USD per 1M tokens.
//
// Sources:
//   - OpenAI: https://openai.com/pricing
//   - Anthropic: https://anthropic.com/pricing
//   - Google: https://cloud.google.com/vertex-ai/pricing
//
// Note: Prices subject to change. Update this map as providers adjust
// pricing. Locally hosted models (ollama) are intentionally absent and
// cost zero.
var defaultPricing = map[string]Pricing{
	// OpenAI
	"gpt-4o":        {InputPer1M: 2.50, OutputPer1M: 10.00},
	"gpt-4o-mini":   {InputPer1M: 0.15, OutputPer1M: 0.60},
	"gpt-4-turbo":   {InputPer1M: 10.00, OutputPer1M: 30.00},
	"gpt-3.5-turbo": {InputPer1M: 0.50, OutputPer1M: 1.50},

	// Anthropic
	"claude-3-5-sonnet-20241022": {InputPer1M: 3.00, OutputPer1M: 15.00},
	"claude-3-5-haiku-20241022":  {InputPer1M: 0.80, OutputPer1M: 4.00},
	"claude-3-opus-20240229":     {InputPer1M: 15.00, OutputPer1M: 75.00},
	"claude-3-haiku-20240307":    {InputPer1M: 0.25, OutputPer1M: 1.25},

	// Google
	"gemini-1.5-pro":   {InputPer1M: 1.25, OutputPer1M: 5.00},
	"gemini-1.5-flash": {InputPer1M: 0.075, OutputPer1M: 0.30},
	"gemini-2.0-flash": {InputPer1M: 0.10, OutputPer1M: 0.40},
}

// EstimateCost returns the USD cost of one call, rounded to 6 decimal
// places. Models without a pricing entry cost zero.
func EstimateCost(model string, usage TokenUsage) float64 {
	p, ok := defaultPricing[model]
	if !ok {
		return 0
	}
	cost := float64(usage.PromptTokens)/1_000_000.0*p.InputPer1M +
		float64(usage.CompletionTokens)/1_000_000.0*p.OutputPer1M
	return math.Round(cost*1e6) / 1e6
}

// PricingFor returns the pricing entry for a model, if one exists.
func PricingFor(model string) (Pricing, bool) {
	p, ok := defaultPricing[model]
	return p, ok
}
