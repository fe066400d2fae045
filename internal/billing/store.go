package billing

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mhollis/tally/internal/ledger"
	"github.com/mhollis/tally/internal/usage"
)

// Store is the transactional persistence boundary for the billing engine.
// Implementations translate missing-ledger conditions into
// KindOrganizationNotFound billing errors and wrap every other persistence
// failure as KindStorage.
type Store interface {
	// CreateLedger inserts a new ledger row.
	CreateLedger(ctx context.Context, in ledger.CreateInput) (*ledger.Balance, error)

	// GetLedger returns the ledger row without locking.
	GetLedger(ctx context.Context, orgID string) (*ledger.Balance, error)

	// SumUnits returns the units consumed by the organization for the
	// feature since the given time (zero time means all-time).
	SumUnits(ctx context.Context, orgID, feature string, since time.Time) (int64, error)

	// ListUsage returns a newest-first page of usage entries.
	ListUsage(ctx context.Context, q usage.Query) ([]*usage.Entry, string, error)

	// SummarizeUsage returns aggregate metrics over usage entries.
	SummarizeUsage(ctx context.Context, q usage.Query) (*usage.Summary, error)

	// Mutate runs fn against the row-locked ledger for the organization.
	// All writes made through the MutationTx commit atomically with the
	// ledger update when fn returns nil, and are rolled back together when
	// fn returns an error.
	Mutate(ctx context.Context, orgID string, fn MutateFunc) error
}

// MutateFunc receives the locked ledger row and the transaction-scoped write
// surface. Mutations to bal take effect only via tx.UpdateLedger.
type MutateFunc func(tx MutationTx, bal *ledger.Balance) error

// MutationTx exposes the operations available inside a Mutate call.
type MutationTx interface {
	// SumUnits reads the usage sum within the transaction.
	SumUnits(ctx context.Context, orgID, feature string, since time.Time) (int64, error)

	// UpdateLedger writes the mutable ledger fields.
	UpdateLedger(ctx context.Context, bal *ledger.Balance) error

	// AppendUsage appends one usage log entry.
	AppendUsage(ctx context.Context, e *usage.Entry) error
}

// PostgresStore implements Store on top of the pgx ledger and usage stores.
type PostgresStore struct {
	pool    *pgxpool.Pool
	ledgers *ledger.Store
	entries *usage.Store
}

// NewPostgresStore creates a Store backed by the given pool and entity stores.
func NewPostgresStore(pool *pgxpool.Pool, ledgers *ledger.Store, entries *usage.Store) *PostgresStore {
	return &PostgresStore{pool: pool, ledgers: ledgers, entries: entries}
}

func (s *PostgresStore) CreateLedger(ctx context.Context, in ledger.CreateInput) (*ledger.Balance, error) {
	b, err := s.ledgers.Create(ctx, in)
	if err != nil {
		return nil, wrapStorage("creating organization ledger", err)
	}
	return b, nil
}

func (s *PostgresStore) GetLedger(ctx context.Context, orgID string) (*ledger.Balance, error) {
	b, err := s.ledgers.Get(ctx, orgID)
	if err != nil {
		if errors.Is(err, ledger.ErrNotFound) {
			return nil, errOrganizationNotFound(orgID)
		}
		return nil, wrapStorage("loading organization ledger", err)
	}
	return b, nil
}

func (s *PostgresStore) SumUnits(ctx context.Context, orgID, feature string, since time.Time) (int64, error) {
	n, err := s.entries.SumUnits(ctx, orgID, feature, since)
	if err != nil {
		return 0, wrapStorage("summing usage", err)
	}
	return n, nil
}

func (s *PostgresStore) ListUsage(ctx context.Context, q usage.Query) ([]*usage.Entry, string, error) {
	entries, cursor, err := s.entries.List(ctx, q)
	if err != nil {
		return nil, "", wrapStorage("listing usage", err)
	}
	return entries, cursor, nil
}

func (s *PostgresStore) SummarizeUsage(ctx context.Context, q usage.Query) (*usage.Summary, error) {
	sum, err := s.entries.Summarize(ctx, q)
	if err != nil {
		return nil, wrapStorage("summarizing usage", err)
	}
	return sum, nil
}

// Mutate opens a transaction, locks the ledger row with FOR UPDATE, runs fn,
// and commits. Any error from fn (or from persistence) rolls back every write
// made during the attempt.
func (s *PostgresStore) Mutate(ctx context.Context, orgID string, fn MutateFunc) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return wrapStorage("beginning transaction", err)
	}
	defer tx.Rollback(ctx) // no-op after commit

	bal, err := s.ledgers.GetForUpdate(ctx, tx, orgID)
	if err != nil {
		if errors.Is(err, ledger.ErrNotFound) {
			return errOrganizationNotFound(orgID)
		}
		return wrapStorage("locking organization ledger", err)
	}

	mtx := &pgxMutation{store: s, tx: tx}
	if err := fn(mtx, bal); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return wrapStorage("committing transaction", err)
	}
	return nil
}

// pgxMutation is the transaction-scoped write surface handed to MutateFuncs.
type pgxMutation struct {
	store *PostgresStore
	tx    pgx.Tx
}

func (m *pgxMutation) SumUnits(ctx context.Context, orgID, feature string, since time.Time) (int64, error) {
	n, err := m.store.entries.SumUnitsTx(ctx, m.tx, orgID, feature, since)
	if err != nil {
		return 0, wrapStorage("summing usage", err)
	}
	return n, nil
}

func (m *pgxMutation) UpdateLedger(ctx context.Context, bal *ledger.Balance) error {
	if err := m.store.ledgers.Update(ctx, m.tx, bal); err != nil {
		return wrapStorage("updating organization ledger", err)
	}
	return nil
}

func (m *pgxMutation) AppendUsage(ctx context.Context, e *usage.Entry) error {
	if err := m.store.entries.InsertTx(ctx, m.tx, e); err != nil {
		return wrapStorage("appending usage entry", err)
	}
	return nil
}
