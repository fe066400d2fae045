package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrNotFound is returned when no ledger row exists for an organization.
var ErrNotFound = errors.New("organization ledger not found")

// ErrAlreadyExists is returned when a ledger row already exists for the
// organization. Initializing twice is a caller error.
var ErrAlreadyExists = errors.New("organization ledger already exists")

const balanceColumns = `organization_id, balance, tariff_plan, team_members,
	 auto_recharge, api_key_hash, api_key_prefix, created_at, last_updated`

// Store provides database operations for organization ledgers.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore creates a new ledger store backed by the given connection pool.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Create inserts a new ledger row and returns the created record. Exactly one
// row may exist per organization.
func (s *Store) Create(ctx context.Context, in CreateInput) (*Balance, error) {
	b := &Balance{}
	err := s.pool.QueryRow(ctx,
		`INSERT INTO organization_balances
		 (organization_id, balance, tariff_plan, team_members, api_key_hash, api_key_prefix)
		 VALUES ($1, $2, $3, 1, $4, $5)
		 RETURNING `+balanceColumns,
		in.OrganizationID, in.InitialBalance, in.TariffPlan, in.APIKeyHash, in.APIKeyPrefix,
	).Scan(
		&b.OrganizationID, &b.Balance, &b.TariffPlan, &b.TeamMembers,
		&b.AutoRecharge, &b.APIKeyHash, &b.APIKeyPrefix, &b.CreatedAt, &b.LastUpdated,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return nil, fmt.Errorf("creating ledger for %q: %w", in.OrganizationID, ErrAlreadyExists)
		}
		return nil, fmt.Errorf("creating ledger: %w", err)
	}
	return b, nil
}

// Get retrieves a ledger row by organization id without locking.
func (s *Store) Get(ctx context.Context, orgID string) (*Balance, error) {
	return s.get(ctx, s.pool, orgID, false)
}

// GetForUpdate retrieves a ledger row inside the given transaction with a
// row-level lock, serializing concurrent read-modify-write cycles on the same
// organization.
func (s *Store) GetForUpdate(ctx context.Context, tx pgx.Tx, orgID string) (*Balance, error) {
	return s.get(ctx, tx, orgID, true)
}

type querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func (s *Store) get(ctx context.Context, q querier, orgID string, forUpdate bool) (*Balance, error) {
	query := `SELECT ` + balanceColumns + ` FROM organization_balances WHERE organization_id = $1`
	if forUpdate {
		query += ` FOR UPDATE`
	}

	b := &Balance{}
	err := q.QueryRow(ctx, query, orgID).Scan(
		&b.OrganizationID, &b.Balance, &b.TariffPlan, &b.TeamMembers,
		&b.AutoRecharge, &b.APIKeyHash, &b.APIKeyPrefix, &b.CreatedAt, &b.LastUpdated,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("getting ledger for %q: %w", orgID, ErrNotFound)
		}
		return nil, fmt.Errorf("getting ledger: %w", err)
	}
	return b, nil
}

// GetByKeyHash retrieves a ledger row by its API key hash, used for
// authentication.
func (s *Store) GetByKeyHash(ctx context.Context, hash string) (*Balance, error) {
	b := &Balance{}
	err := s.pool.QueryRow(ctx,
		`SELECT `+balanceColumns+` FROM organization_balances WHERE api_key_hash = $1`,
		hash,
	).Scan(
		&b.OrganizationID, &b.Balance, &b.TariffPlan, &b.TeamMembers,
		&b.AutoRecharge, &b.APIKeyHash, &b.APIKeyPrefix, &b.CreatedAt, &b.LastUpdated,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("getting ledger by key hash: %w", ErrNotFound)
		}
		return nil, fmt.Errorf("getting ledger by key hash: %w", err)
	}
	return b, nil
}

// Update writes the mutable fields of a ledger row inside the given
// transaction. The row must have been locked with GetForUpdate first.
func (s *Store) Update(ctx context.Context, tx pgx.Tx, b *Balance) error {
	tag, err := tx.Exec(ctx,
		`UPDATE organization_balances
		 SET balance = $2, tariff_plan = $3, team_members = $4,
		     auto_recharge = $5, last_updated = $6
		 WHERE organization_id = $1`,
		b.OrganizationID, b.Balance, b.TariffPlan, b.TeamMembers,
		b.AutoRecharge, b.LastUpdated,
	)
	if err != nil {
		return fmt.Errorf("updating ledger: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("updating ledger for %q: %w", b.OrganizationID, ErrNotFound)
	}
	return nil
}
