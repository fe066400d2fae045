package billing

import (
	"context"
	"time"

	"github.com/mhollis/tally/internal/catalog"
	"github.com/mhollis/tally/internal/ledger"
)

// TeamManager handles seat-based billing: seats are charged immediately from
// the balance against the tariff's seat cap and per-seat price.
type TeamManager struct {
	catalog *catalog.Catalog
	store   Store
	now     func() time.Time
}

// NewTeamManager creates a team manager over the given catalog and store.
func NewTeamManager(cat *catalog.Catalog, store Store) *TeamManager {
	return &TeamManager{
		catalog: cat,
		store:   store,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// TeamInfo is the read model for an organization's seat state.
type TeamInfo struct {
	TeamMembers    int     `json:"team_members"`
	MaxTeamMembers int     `json:"max_team_members"`
	MemberPrice    float64 `json:"member_price"`
	Balance        float64 `json:"balance"`
}

func (m *TeamManager) tariffFor(bal *ledger.Balance) (*catalog.TariffPlan, error) {
	if bal.TariffPlan == "" {
		return nil, newError(KindTariffNotFound, "organization %q has no tariff plan", bal.OrganizationID)
	}
	t, ok := m.catalog.Tariff(bal.TariffPlan)
	if !ok {
		return nil, errTariffNotFound(bal.TariffPlan)
	}
	return t, nil
}

// AddMember adds one seat: enforces the tariff's seat cap, charges the
// per-seat price from the balance, and increments the seat count atomically.
func (m *TeamManager) AddMember(ctx context.Context, orgID string) error {
	return m.store.Mutate(ctx, orgID, func(tx MutationTx, bal *ledger.Balance) error {
		tariff, err := m.tariffFor(bal)
		if err != nil {
			return err
		}

		if bal.TeamMembers >= tariff.MaxTeamMembers {
			return newError(KindSeatLimitReached,
				"tariff %q allows at most %d team members", tariff.Name, tariff.MaxTeamMembers)
		}

		cost := tariff.MemberPrice
		if bal.Balance < cost {
			return newError(KindInsufficientBalance,
				"balance %.4f cannot cover seat price %.4f", bal.Balance, cost)
		}

		bal.Balance -= cost
		bal.TeamMembers++
		bal.LastUpdated = m.now()
		return tx.UpdateLedger(ctx, bal)
	})
}

// RemoveMember removes one seat. The last seat cannot be removed and prior
// seat charges are not refunded.
func (m *TeamManager) RemoveMember(ctx context.Context, orgID string) error {
	return m.store.Mutate(ctx, orgID, func(tx MutationTx, bal *ledger.Balance) error {
		if bal.TeamMembers <= 1 {
			return newError(KindCannotRemoveLastMember, "organization must keep at least one member")
		}

		bal.TeamMembers--
		bal.LastUpdated = m.now()
		return tx.UpdateLedger(ctx, bal)
	})
}

// Info returns the organization's seat state. Pure read.
func (m *TeamManager) Info(ctx context.Context, orgID string) (*TeamInfo, error) {
	bal, err := m.store.GetLedger(ctx, orgID)
	if err != nil {
		return nil, err
	}

	tariff, err := m.tariffFor(bal)
	if err != nil {
		return nil, err
	}

	return &TeamInfo{
		TeamMembers:    bal.TeamMembers,
		MaxTeamMembers: tariff.MaxTeamMembers,
		MemberPrice:    tariff.MemberPrice,
		Balance:        bal.Balance,
	}, nil
}

// UpgradeTariff moves the organization to a new tariff, charging the monthly
// price difference from the balance (the old price counts as 0 when no tariff
// was assigned). Upgrading to the current tariff is rejected.
func (m *TeamManager) UpgradeTariff(ctx context.Context, orgID, newTariff string) error {
	target, ok := m.catalog.Tariff(newTariff)
	if !ok {
		return errTariffNotFound(newTariff)
	}

	return m.store.Mutate(ctx, orgID, func(tx MutationTx, bal *ledger.Balance) error {
		if bal.TariffPlan == newTariff {
			return newError(KindNoOpUpgrade, "organization is already on tariff %q", newTariff)
		}

		var oldPrice float64
		if current, ok := m.catalog.Tariff(bal.TariffPlan); ok {
			oldPrice = current.MonthlyPrice
		}

		cost := target.MonthlyPrice - oldPrice
		if bal.Balance < cost {
			return newError(KindInsufficientBalance,
				"balance %.4f cannot cover upgrade cost %.4f", bal.Balance, cost)
		}

		bal.Balance -= cost
		bal.TariffPlan = newTariff
		bal.LastUpdated = m.now()
		return tx.UpdateLedger(ctx, bal)
	})
}
