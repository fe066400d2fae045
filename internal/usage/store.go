package usage

import (
	"context"
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const entryColumns = `id, organization_id, user_id, feature, units_used,
	 tokens_used, price_charged, metadata, timestamp`

// Store provides database operations for the usage log.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore creates a new Store backed by the given connection pool.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// InsertTx appends one entry inside the given transaction. The billing engine
// uses this so the append commits or rolls back together with the balance
// mutation.
func (s *Store) InsertTx(ctx context.Context, tx pgx.Tx, e *Entry) error {
	_, err := tx.Exec(ctx,
		`INSERT INTO usage_log
		 (id, organization_id, user_id, feature, units_used, tokens_used, price_charged, metadata, timestamp)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		e.ID, e.OrganizationID, e.UserID, e.Feature, e.Units,
		e.Tokens, e.PriceCharged, e.Metadata, e.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("inserting usage entry: %w", err)
	}
	return nil
}

// BatchInsert writes a slice of entries in a single multi-row INSERT. It is a
// no-op when entries is empty. Used by the collector for zero-cost
// observability records.
func (s *Store) BatchInsert(ctx context.Context, entries []Entry) error {
	if len(entries) == 0 {
		return nil
	}

	const cols = 9
	args := make([]any, 0, len(entries)*cols)
	rows := make([]string, 0, len(entries))

	for i, e := range entries {
		base := i * cols
		rows = append(rows, fmt.Sprintf(
			"($%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d)",
			base+1, base+2, base+3, base+4, base+5, base+6, base+7, base+8, base+9,
		))
		args = append(args,
			e.ID, e.OrganizationID, e.UserID, e.Feature, e.Units,
			e.Tokens, e.PriceCharged, e.Metadata, e.Timestamp,
		)
	}

	query := `INSERT INTO usage_log
		(id, organization_id, user_id, feature, units_used, tokens_used, price_charged, metadata, timestamp)
		VALUES ` + strings.Join(rows, ", ")

	if _, err := s.pool.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("batch inserting usage entries: %w", err)
	}
	return nil
}

type querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// SumUnits returns the total units_used for the organization and feature
// since the given time. The zero time means all-time.
func (s *Store) SumUnits(ctx context.Context, orgID, feature string, since time.Time) (int64, error) {
	return sumUnits(ctx, s.pool, orgID, feature, since)
}

// SumUnitsTx is SumUnits inside an open transaction, so the limit check sees
// a consistent view with the row-locked ledger.
func (s *Store) SumUnitsTx(ctx context.Context, tx pgx.Tx, orgID, feature string, since time.Time) (int64, error) {
	return sumUnits(ctx, tx, orgID, feature, since)
}

func sumUnits(ctx context.Context, q querier, orgID, feature string, since time.Time) (int64, error) {
	query := `SELECT COALESCE(SUM(units_used), 0)
		 FROM usage_log
		 WHERE organization_id = $1 AND feature = $2`
	args := []any{orgID, feature}
	if !since.IsZero() {
		args = append(args, since)
		query += ` AND timestamp >= $3`
	}

	var total int64
	if err := q.QueryRow(ctx, query, args...).Scan(&total); err != nil {
		return 0, fmt.Errorf("summing usage units: %w", err)
	}
	return total, nil
}

// Summarize returns aggregate metrics for entries matching the query filters.
func (s *Store) Summarize(ctx context.Context, q Query) (*Summary, error) {
	where, args := buildWhereClause(q)

	query := `SELECT
		COUNT(*),
		COALESCE(SUM(units_used), 0),
		COALESCE(SUM(tokens_used), 0),
		COALESCE(SUM(price_charged), 0)
	FROM usage_log` + where

	var sum Summary
	err := s.pool.QueryRow(ctx, query, args...).Scan(
		&sum.TotalEntries, &sum.TotalUnits, &sum.TotalTokens, &sum.TotalCharged,
	)
	if err != nil {
		return nil, fmt.Errorf("querying usage summary: %w", err)
	}
	return &sum, nil
}

// List returns a page of entries matching the query filters, ordered by
// timestamp DESC, id DESC. It uses cursor-based pagination and returns the
// next cursor (empty string if no more results).
func (s *Store) List(ctx context.Context, q Query) ([]*Entry, string, error) {
	limit := q.Limit
	if limit <= 0 {
		limit = 50
	}

	where, args := buildWhereClause(q)

	// Apply cursor: the cursor encodes "timestamp|id".
	if q.Cursor != "" {
		ts, id, err := decodeCursor(q.Cursor)
		if err != nil {
			return nil, "", fmt.Errorf("invalid cursor: %w", err)
		}
		n := len(args)
		if where == "" {
			where = " WHERE"
		} else {
			where += " AND"
		}
		where += fmt.Sprintf(" (timestamp, id) < ($%d, $%d)", n+1, n+2)
		args = append(args, ts, id)
	}

	query := `SELECT ` + entryColumns + ` FROM usage_log` + where +
		` ORDER BY timestamp DESC, id DESC LIMIT $` + strconv.Itoa(len(args)+1)
	args = append(args, limit+1) // fetch one extra to determine if there's a next page

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, "", fmt.Errorf("listing usage entries: %w", err)
	}
	defer rows.Close()

	var entries []*Entry
	for rows.Next() {
		e := &Entry{}
		if err := rows.Scan(
			&e.ID, &e.OrganizationID, &e.UserID, &e.Feature, &e.Units,
			&e.Tokens, &e.PriceCharged, &e.Metadata, &e.Timestamp,
		); err != nil {
			return nil, "", fmt.Errorf("scanning usage entry row: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, "", fmt.Errorf("iterating usage entry rows: %w", err)
	}

	var nextCursor string
	if len(entries) > limit {
		last := entries[limit-1]
		nextCursor = encodeCursor(last.Timestamp, last.ID)
		entries = entries[:limit]
	}

	return entries, nextCursor, nil
}

// buildWhereClause constructs a WHERE clause and positional arguments from a
// Query. The returned string starts with " WHERE" or is empty.
func buildWhereClause(q Query) (string, []any) {
	var conditions []string
	var args []any

	if q.OrganizationID != "" {
		args = append(args, q.OrganizationID)
		conditions = append(conditions, fmt.Sprintf("organization_id = $%d", len(args)))
	}
	if q.Feature != "" {
		args = append(args, q.Feature)
		conditions = append(conditions, fmt.Sprintf("feature = $%d", len(args)))
	}
	if !q.From.IsZero() {
		args = append(args, q.From)
		conditions = append(conditions, fmt.Sprintf("timestamp >= $%d", len(args)))
	}
	if !q.To.IsZero() {
		args = append(args, q.To)
		conditions = append(conditions, fmt.Sprintf("timestamp <= $%d", len(args)))
	}

	if len(conditions) == 0 {
		return "", nil
	}

	return " WHERE " + strings.Join(conditions, " AND "), args
}

// encodeCursor encodes a timestamp and id into an opaque cursor string.
func encodeCursor(ts time.Time, id string) string {
	raw := ts.Format(time.RFC3339Nano) + "|" + id
	return base64.RawURLEncoding.EncodeToString([]byte(raw))
}

// decodeCursor decodes an opaque cursor string into a timestamp and id.
func decodeCursor(cursor string) (time.Time, string, error) {
	raw, err := base64.RawURLEncoding.DecodeString(cursor)
	if err != nil {
		return time.Time{}, "", fmt.Errorf("decoding cursor: %w", err)
	}
	parts := strings.SplitN(string(raw), "|", 2)
	if len(parts) != 2 {
		return time.Time{}, "", fmt.Errorf("malformed cursor")
	}
	ts, err := time.Parse(time.RFC3339Nano, parts[0])
	if err != nil {
		return time.Time{}, "", fmt.Errorf("parsing cursor timestamp: %w", err)
	}
	return ts, parts[1], nil
}
