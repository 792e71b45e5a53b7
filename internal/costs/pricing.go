package costs

import "strings"

const perMillion = 1_000_000.0

type price struct {
	input  float64
	output float64
}

// Ordered most specific first so "gpt-4o-mini" does not match "gpt-4o".
var fallbackPricing = []struct {
	prefix string
	price  price
}{
	{"gpt-4o-mini", price{0.15, 0.60}},
	{"gpt-4o", price{2.50, 10.00}},
	{"gpt-4.1-nano", price{0.10, 0.40}},
	{"gpt-4.1-mini", price{0.40, 1.60}},
	{"gpt-4.1", price{2.00, 8.00}},
	{"gpt-4-turbo", price{10.00, 30.00}},
	{"gpt-4", price{30.00, 60.00}},
	{"gpt-3.5-turbo", price{0.50, 1.50}},
	{"o3-mini", price{1.10, 4.40}},
	{"o1-mini", price{1.10, 4.40}},
	{"o1", price{15.00, 60.00}},
	{"deepseek-chat", price{0.27, 1.10}},
	{"deepseek-reasoner", price{0.55, 2.19}},
}

// EstimateUSD returns estimated USD cost for common OpenAI-compatible models.
// Returns ok=false when no known fallback pricing exists for the model.
func EstimateUSD(model string, promptTokens, completionTokens int) (usd float64, ok bool) {
	modelName := strings.ToLower(strings.TrimSpace(model))
	if i := strings.LastIndex(modelName, "/"); i >= 0 {
		modelName = modelName[i+1:]
	}

	for _, entry := range fallbackPricing {
		if !strings.HasPrefix(modelName, entry.prefix) {
			continue
		}
		inputCost := (float64(promptTokens) / perMillion) * entry.price.input
		outputCost := (float64(completionTokens) / perMillion) * entry.price.output
		return inputCost + outputCost, true
	}
	return 0, false
}
