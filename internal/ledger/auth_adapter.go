package ledger

import (
	"context"

	"github.com/mhollis/tally/internal/auth"
)

// AuthAdapter adapts the ledger store to the auth.OrgLookup interface.
type AuthAdapter struct {
	store *Store
}

// NewAuthAdapter creates a new adapter around the given store.
func NewAuthAdapter(store *Store) *AuthAdapter {
	return &AuthAdapter{store: store}
}

// GetByKeyHash looks up an organization by API key hash and converts it to
// the auth package's representation.
func (a *AuthAdapter) GetByKeyHash(ctx context.Context, hash string) (*auth.Organization, error) {
	b, err := a.store.GetByKeyHash(ctx, hash)
	if err != nil {
		return nil, err
	}
	return &auth.Organization{
		ID:         b.OrganizationID,
		TariffPlan: b.TariffPlan,
	}, nil
}
