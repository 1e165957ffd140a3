// Package assist holds the single-shot model helpers used by tools, and the
// meter that prices every model call into the cost ledger.
package assist

import (
	"context"
	"fmt"

	"github.com/iksnae/chief-of-staff/internal/config"
	"github.com/iksnae/chief-of-staff/internal/llm"
	"github.com/iksnae/chief-of-staff/internal/metrics"
	"github.com/iksnae/chief-of-staff/internal/store"
)

// Ledger receives priced model calls.
type Ledger interface {
	RecordCost(ctx context.Context, e store.CostEntry) error
}

// Meter prices model usage and writes it to the ledger.
type Meter struct {
	ledger Ledger
	cfg    *config.Live
}

// NewMeter creates a Meter. Pricing overrides are read from cfg on every call.
func NewMeter(ledger Ledger, cfg *config.Live) *Meter {
	return &Meter{ledger: ledger, cfg: cfg}
}

// Prices returns the built-in price table with the configured overrides.
func (m *Meter) Prices() llm.PriceTable {
	table := llm.DefaultPriceTable()
	if m.cfg == nil {
		return table
	}
	overrides := m.cfg.Current().API.Pricing
	if len(overrides) == 0 {
		return table
	}
	prices := make(map[string]llm.Price, len(overrides))
	for model, p := range overrides {
		prices[model] = llm.Price{Input: p.Input, Output: p.Output}
	}
	return table.With(prices)
}

// Charge prices one successful call, records it under operation and returns
// the cost in USD.
func (m *Meter) Charge(ctx context.Context, model, operation, sessionID string, u llm.Usage) (float64, error) {
	cost := m.Prices().Cost(model, u)
	metrics.RecordLLMCall(model, "ok", u.InputTokens, u.OutputTokens, cost)

	err := m.ledger.RecordCost(ctx, store.CostEntry{
		Model:        model,
		InputTokens:  u.InputTokens,
		OutputTokens: u.OutputTokens,
		CostUSD:      cost,
		Operation:    operation,
		SessionID:    sessionID,
	})
	if err != nil {
		return cost, fmt.Errorf("failed to record cost: %w", err)
	}
	return cost, nil
}

// Failed counts a model call that returned an error.
func (m *Meter) Failed(model string) {
	metrics.RecordLLMCall(model, "error", 0, 0, 0)
}
