package llm

// modelPrice holds USD cost per one million tokens for a model family.
type modelPrice struct {
	prefix    string
	inputUSD  float64
	outputUSD float64
}

// priceTable is matched by model prefix; the longest matching prefix wins so
// "gpt-4-turbo" resolves before "gpt-4" and "gpt-4o-mini" before "gpt-4o".
var priceTable = []modelPrice{
	{"gpt-4-turbo", 10.0, 30.0},
	{"gpt-4o-mini", 0.15, 0.60},
	{"gpt-4o", 2.50, 10.0},
	{"gpt-4", 30.0, 60.0},
	{"gpt-3.5-turbo", 0.50, 1.50},
	{"claude-3-5-sonnet", 3.0, 15.0},
	{"claude-3-5-haiku", 0.25, 1.25},
	{"claude-3-sonnet", 3.0, 15.0},
	{"claude-3-haiku", 0.25, 1.25},
	{"claude-3-opus", 15.0, 75.0},
}

// defaultPrice is used when the model matches no table entry.
var defaultPrice = modelPrice{prefix: "", inputUSD: 10.0, outputUSD: 30.0}

// priceFor resolves the price entry for a model name.
func priceFor(model string) modelPrice {
	best := defaultPrice
	bestLen := -1
	for _, p := range priceTable {
		if len(p.prefix) > bestLen && hasPrefix(model, p.prefix) {
			best = p
			bestLen = len(p.prefix)
		}
	}
	return best
}

func hasPrefix(s, prefix string) bool {
	return len(s) >= len(prefix) && s[:len(prefix)] == prefix
}

// EstimatedCostUSD computes the request cost from the static price table.
// Pure function of the response's model and token counts.
func (r *Response) EstimatedCostUSD() float64 {
	p := priceFor(r.Model)
	in := float64(r.PromptTokens) / 1_000_000 * p.inputUSD
	out := float64(r.CompletionTokens) / 1_000_000 * p.outputUSD
	return in + out
}

// CostMicrodollars returns the estimated cost as integer microdollars,
// the unit used for accumulation in session accounting.
func (r *Response) CostMicrodollars() int64 {
	return int64(r.EstimatedCostUSD() * 1_000_000)
}
