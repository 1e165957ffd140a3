package llm

import "strings"

// Price is USD per million tokens.
type Price struct {
	Input  float64
	Output float64
}

// DefaultPrice applies to models missing from the table.
var DefaultPrice = Price{Input: 3, Output: 15}

var defaultPrices = map[string]Price{
	"claude-sonnet-4-5-20250929": {Input: 3, Output: 15},
	"claude-haiku-4-5-20251001":  {Input: 1, Output: 5},
	"claude-opus-4-6":            {Input: 15, Output: 75},
}

// PriceTable maps model names to prices.
type PriceTable map[string]Price

// DefaultPriceTable returns a copy of the built-in prices.
func DefaultPriceTable() PriceTable {
	t := make(PriceTable, len(defaultPrices))
	for k, v := range defaultPrices {
		t[k] = v
	}
	return t
}

// With returns a copy of t with overrides applied.
func (t PriceTable) With(overrides map[string]Price) PriceTable {
	out := make(PriceTable, len(t)+len(overrides))
	for k, v := range t {
		out[k] = v
	}
	for k, v := range overrides {
		out[k] = v
	}
	return out
}

// Lookup finds a model's price. Dated variants fall back to their family
// (e.g. "claude-opus-4-6-20260101" uses "claude-opus-4-6").
func (t PriceTable) Lookup(model string) Price {
	if p, ok := t[model]; ok {
		return p
	}
	best := ""
	for name := range t {
		if strings.HasPrefix(model, name) && len(name) > len(best) {
			best = name
		}
	}
	if best != "" {
		return t[best]
	}
	return DefaultPrice
}

// Cost prices one call.
func (t PriceTable) Cost(model string, u Usage) float64 {
	p := t.Lookup(model)
	return (float64(u.InputTokens)*p.Input + float64(u.OutputTokens)*p.Output) / 1_000_000
}
