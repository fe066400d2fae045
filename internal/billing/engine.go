package billing

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/mhollis/tally/internal/catalog"
	"github.com/mhollis/tally/internal/ledger"
	"github.com/mhollis/tally/internal/usage"
)

// Engine orchestrates feature-call billing: access control, included-limit
// computation, limit-then-balance charging, top-ups, and usage history.
type Engine struct {
	catalog *catalog.Catalog
	store   Store
	now     func() time.Time
}

// NewEngine creates a billing engine over the given catalog and store.
func NewEngine(cat *catalog.Catalog, store Store) *Engine {
	return &Engine{
		catalog: cat,
		store:   store,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// InitializeOrganization creates the single ledger row for an organization.
// Callers are responsible for not initializing twice; a second call fails on
// the primary key.
func (e *Engine) InitializeOrganization(ctx context.Context, in ledger.CreateInput) (*ledger.Balance, error) {
	if in.TariffPlan != "" {
		if _, ok := e.catalog.Tariff(in.TariffPlan); !ok {
			return nil, errTariffNotFound(in.TariffPlan)
		}
	}
	return e.store.CreateLedger(ctx, in)
}

// CheckAccess verifies that the organization may use the feature. Exclusive
// features with an allow-list require the organization's tariff to be listed.
// No side effects.
func (e *Engine) CheckAccess(ctx context.Context, orgID, feature string) error {
	feat, ok := e.catalog.Feature(feature)
	if !ok {
		return errFeatureNotConfigured(feature)
	}

	bal, err := e.store.GetLedger(ctx, orgID)
	if err != nil {
		return err
	}

	return checkAccess(feat, bal)
}

// checkAccess is the pure gating rule, shared with the charge path.
func checkAccess(feat *catalog.FeatureConfig, bal *ledger.Balance) error {
	if !feat.AccessibleFrom(bal.TariffPlan) {
		return newError(KindAccessDenied,
			"tariff %q does not grant access to feature %q", bal.TariffPlan, feat.Name)
	}
	return nil
}

// Price returns the per-unit price of the feature for the organization,
// reduced by the tariff's PAYG discount when one is configured. An
// organization with no tariff pays the undiscounted price.
func (e *Engine) Price(ctx context.Context, orgID, feature string) (float64, error) {
	feat, ok := e.catalog.Feature(feature)
	if !ok {
		return 0, errFeatureNotConfigured(feature)
	}

	bal, err := e.store.GetLedger(ctx, orgID)
	if err != nil {
		return 0, err
	}

	return e.priceFor(feat, bal.TariffPlan), nil
}

func (e *Engine) priceFor(feat *catalog.FeatureConfig, tariffName string) float64 {
	price := feat.PricePerUnit
	if t, ok := e.catalog.Tariff(tariffName); ok {
		price *= 1 - t.PAYGDiscount()
	}
	return price
}

// CheckLimit returns (remaining, total) included units for the feature.
// Total is 0 when the organization has no tariff or the tariff does not list
// the feature. Usage is summed all-time; included limits do not reset per
// billing period.
func (e *Engine) CheckLimit(ctx context.Context, orgID, feature string) (remaining, total int64, err error) {
	bal, err := e.store.GetLedger(ctx, orgID)
	if err != nil {
		return 0, 0, err
	}

	total = e.includedLimit(bal.TariffPlan, feature)
	if total == 0 {
		return 0, 0, nil
	}

	used, err := e.store.SumUnits(ctx, orgID, feature, time.Time{})
	if err != nil {
		return 0, 0, err
	}

	return remainingUnits(total, used), total, nil
}

func (e *Engine) includedLimit(tariffName, feature string) int64 {
	t, ok := e.catalog.Tariff(tariffName)
	if !ok {
		return 0
	}
	return t.IncludedLimit(feature)
}

func remainingUnits(total, used int64) int64 {
	if used >= total {
		return 0
	}
	return total - used
}

// Charge bills the organization for units of the feature as one atomic
// transaction: units covered by the tariff's included limit cost nothing, any
// overage is priced per unit (PAYG-discounted) and deducted from the balance.
// The whole charge is rejected with KindInsufficientBalance when the balance
// cannot cover the overage; no partial mutation survives a failure. Every
// successful charge appends exactly one usage entry for the full units
// requested.
func (e *Engine) Charge(ctx context.Context, orgID, feature string, units int64, userID string) (float64, error) {
	if units <= 0 {
		units = 1
	}

	feat, ok := e.catalog.Feature(feature)
	if !ok {
		return 0, errFeatureNotConfigured(feature)
	}

	var charged float64
	err := e.store.Mutate(ctx, orgID, func(tx MutationTx, bal *ledger.Balance) error {
		if err := checkAccess(feat, bal); err != nil {
			return err
		}

		total := e.includedLimit(bal.TariffPlan, feature)
		var used int64
		if total > 0 {
			var err error
			used, err = tx.SumUnits(ctx, orgID, feature, time.Time{})
			if err != nil {
				return err
			}
		}
		remaining := remainingUnits(total, used)

		if remaining < units {
			overage := units - remaining
			price := e.priceFor(feat, bal.TariffPlan)
			charged = float64(overage) * price

			if bal.Balance < charged {
				charged = 0
				return newError(KindInsufficientBalance,
					"balance %.4f cannot cover charge of %.4f for %d unit(s) of %q",
					bal.Balance, float64(overage)*price, overage, feature)
			}

			if charged > 0 {
				bal.Balance -= charged
				bal.LastUpdated = e.now()
				if err := tx.UpdateLedger(ctx, bal); err != nil {
					return err
				}
			}
		}

		return tx.AppendUsage(ctx, &usage.Entry{
			ID:             uuid.NewString(),
			OrganizationID: orgID,
			UserID:         userID,
			Feature:        feature,
			Units:          units,
			PriceCharged:   charged,
			Timestamp:      e.now(),
		})
	})
	if err != nil {
		return 0, err
	}
	return charged, nil
}

// TopUp adds amount to the organization's balance and returns the new
// balance. Amount validation (> 0) is the caller's concern; negative amounts
// are rejected here as a backstop.
func (e *Engine) TopUp(ctx context.Context, orgID string, amount float64) (float64, error) {
	if amount <= 0 {
		return 0, newError(KindInvalidArgument, "top-up amount must be positive")
	}

	var newBalance float64
	err := e.store.Mutate(ctx, orgID, func(tx MutationTx, bal *ledger.Balance) error {
		bal.Balance += amount
		bal.LastUpdated = e.now()
		newBalance = bal.Balance
		return tx.UpdateLedger(ctx, bal)
	})
	if err != nil {
		return 0, err
	}
	return newBalance, nil
}

// GetBalance returns the organization's current balance.
func (e *Engine) GetBalance(ctx context.Context, orgID string) (float64, error) {
	bal, err := e.store.GetLedger(ctx, orgID)
	if err != nil {
		return 0, err
	}
	return bal.Balance, nil
}

// GetLedger returns the full ledger row.
func (e *Engine) GetLedger(ctx context.Context, orgID string) (*ledger.Balance, error) {
	return e.store.GetLedger(ctx, orgID)
}

// UsageHistory returns a newest-first page of the organization's usage log,
// optionally filtered by feature and time range.
func (e *Engine) UsageHistory(ctx context.Context, q usage.Query) ([]*usage.Entry, string, error) {
	return e.store.ListUsage(ctx, q)
}

// UsageSummary returns aggregate usage metrics for the given filters.
func (e *Engine) UsageSummary(ctx context.Context, q usage.Query) (*usage.Summary, error) {
	return e.store.SummarizeUsage(ctx, q)
}

// FeaturesFor returns the feature configs usable by the organization's
// current tariff.
func (e *Engine) FeaturesFor(ctx context.Context, orgID string) ([]*catalog.FeatureConfig, error) {
	bal, err := e.store.GetLedger(ctx, orgID)
	if err != nil {
		return nil, err
	}
	return e.catalog.FeaturesForTariff(bal.TariffPlan), nil
}
