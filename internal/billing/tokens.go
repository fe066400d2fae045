package billing

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/mhollis/tally/internal/ledger"
	"github.com/mhollis/tally/internal/usage"
)

// TokenFeature is the usage-log feature name under which token charges are
// recorded.
const TokenFeature = "tokens"

// TokenRates holds per-token prices for the three processing stages.
type TokenRates struct {
	Input  float64
	LLM    float64
	Output float64
}

// TokenCounts is a single measurement of tokens consumed per stage.
type TokenCounts struct {
	Input  int64
	LLM    int64
	Output int64
}

// Total returns the combined token count across all stages.
func (c TokenCounts) Total() int64 {
	return c.Input + c.LLM + c.Output
}

// TokenMeter prices and charges token consumption. Token charges bypass
// included limits entirely; the cost is always deducted from the balance.
type TokenMeter struct {
	rates     TokenRates
	store     Store
	collector *usage.Collector
	now       func() time.Time
}

// NewTokenMeter creates a token meter. The collector may be nil, in which
// case zero-cost observability records are skipped.
func NewTokenMeter(rates TokenRates, store Store, collector *usage.Collector) *TokenMeter {
	return &TokenMeter{
		rates:     rates,
		store:     store,
		collector: collector,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Cost returns the price of the given token counts. The total is the sum of
// each stage's count multiplied by its rate.
func (m *TokenMeter) Cost(counts TokenCounts) float64 {
	return float64(counts.Input)*m.rates.Input +
		float64(counts.LLM)*m.rates.LLM +
		float64(counts.Output)*m.rates.Output
}

// Charge deducts the cost of the token counts from the organization's balance
// and appends one usage entry carrying the per-stage breakdown. A zero-cost
// measurement is recorded without touching the balance.
func (m *TokenMeter) Charge(ctx context.Context, orgID, userID string, counts TokenCounts) (float64, error) {
	cost := m.Cost(counts)

	err := m.store.Mutate(ctx, orgID, func(tx MutationTx, bal *ledger.Balance) error {
		if bal.Balance < cost {
			return newError(KindInsufficientBalance,
				"balance %.4f cannot cover token cost %.4f", bal.Balance, cost)
		}

		if cost > 0 {
			bal.Balance -= cost
			bal.LastUpdated = m.now()
			if err := tx.UpdateLedger(ctx, bal); err != nil {
				return err
			}
		}

		return tx.AppendUsage(ctx, &usage.Entry{
			ID:             uuid.NewString(),
			OrganizationID: orgID,
			UserID:         userID,
			Feature:        TokenFeature,
			Tokens:         counts.Total(),
			PriceCharged:   cost,
			Metadata: map[string]any{
				"input_tokens":  counts.Input,
				"llm_tokens":    counts.LLM,
				"output_tokens": counts.Output,
			},
			Timestamp: m.now(),
		})
	})
	if err != nil {
		return 0, err
	}
	return cost, nil
}

// Observe records token consumption without charging. Entries go through the
// batch collector and carry no price.
func (m *TokenMeter) Observe(orgID, userID string, counts TokenCounts) {
	if m.collector == nil {
		return
	}
	m.collector.Record(usage.Entry{
		ID:             uuid.NewString(),
		OrganizationID: orgID,
		UserID:         userID,
		Feature:        TokenFeature,
		Tokens:         counts.Total(),
		Metadata: map[string]any{
			"input_tokens":  counts.Input,
			"llm_tokens":    counts.LLM,
			"output_tokens": counts.Output,
		},
		Timestamp: m.now(),
	})
}

// ChargeInput charges for input-stage tokens only.
func (m *TokenMeter) ChargeInput(ctx context.Context, orgID, userID string, tokens int64) (float64, error) {
	return m.Charge(ctx, orgID, userID, TokenCounts{Input: tokens})
}

// ChargeLLM charges for LLM-stage tokens only.
func (m *TokenMeter) ChargeLLM(ctx context.Context, orgID, userID string, tokens int64) (float64, error) {
	return m.Charge(ctx, orgID, userID, TokenCounts{LLM: tokens})
}

// ChargeOutput charges for output-stage tokens only.
func (m *TokenMeter) ChargeOutput(ctx context.Context, orgID, userID string, tokens int64) (float64, error) {
	return m.Charge(ctx, orgID, userID, TokenCounts{Output: tokens})
}
