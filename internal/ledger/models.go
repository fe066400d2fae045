package ledger

import "time"

// Balance is the mutable financial state of one organization. The balance
// field is only ever changed through the billing engine's charge, top-up and
// seat paths.
type Balance struct {
	OrganizationID string    `json:"organization_id"`
	Balance        float64   `json:"balance"`
	TariffPlan     string    `json:"tariff_plan,omitempty"` // empty means no plan assigned
	TeamMembers    int       `json:"team_members"`
	AutoRecharge   bool      `json:"auto_recharge"`
	APIKeyHash     string    `json:"-"`
	APIKeyPrefix   string    `json:"api_key_prefix,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
	LastUpdated    time.Time `json:"last_updated"`
}

// CreateInput holds the fields required to create an organization ledger row.
type CreateInput struct {
	OrganizationID string  `json:"organization_id"`
	TariffPlan     string  `json:"tariff_plan"`
	InitialBalance float64 `json:"initial_balance"`
	APIKeyHash     string  `json:"-"`
	APIKeyPrefix   string  `json:"-"`
}
