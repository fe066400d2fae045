package usage

import "time"

// Entry is a single billable event in the append-only usage log. Once
// written, entries are never mutated or deleted by the billing core.
type Entry struct {
	ID             string         `json:"id"`
	OrganizationID string         `json:"organization_id"`
	UserID         string         `json:"user_id,omitempty"`
	Feature        string         `json:"feature"`
	Units          int64          `json:"units_used"`
	Tokens         int64          `json:"tokens_used,omitempty"`
	PriceCharged   float64        `json:"price_charged"`
	Metadata       map[string]any `json:"metadata,omitempty"`
	Timestamp      time.Time      `json:"timestamp"`
}

// Summary holds aggregate metrics for a set of usage entries.
type Summary struct {
	TotalEntries int64   `json:"total_entries"`
	TotalUnits   int64   `json:"total_units"`
	TotalTokens  int64   `json:"total_tokens"`
	TotalCharged float64 `json:"total_charged"`
}

// Query defines filters and pagination for reading the usage log.
type Query struct {
	OrganizationID string    `json:"organization_id,omitempty"`
	Feature        string    `json:"feature,omitempty"`
	From           time.Time `json:"from"`
	To             time.Time `json:"to"`
	Cursor         string    `json:"cursor,omitempty"`
	Limit          int       `json:"limit"`
}
