package billing

import (
	"context"
	"sync"
	"time"

	"github.com/mhollis/tally/internal/ledger"
	"github.com/mhollis/tally/internal/usage"
)

// fakeStore is an in-memory Store. Mutate serializes on a mutex the way the
// database serializes on the row lock, and discards all staged writes when
// the callback fails.
type fakeStore struct {
	mu      sync.Mutex
	ledgers map[string]ledger.Balance
	entries []usage.Entry
}

func newFakeStore() *fakeStore {
	return &fakeStore{ledgers: make(map[string]ledger.Balance)}
}

func (s *fakeStore) seed(b ledger.Balance) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ledgers[b.OrganizationID] = b
}

func (s *fakeStore) balance(orgID string) ledger.Balance {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ledgers[orgID]
}

func (s *fakeStore) entryCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

func (s *fakeStore) CreateLedger(ctx context.Context, in ledger.CreateInput) (*ledger.Balance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.ledgers[in.OrganizationID]; ok {
		return nil, wrapStorage("creating organization ledger", ledger.ErrAlreadyExists)
	}
	now := time.Now().UTC()
	b := ledger.Balance{
		OrganizationID: in.OrganizationID,
		Balance:        in.InitialBalance,
		TariffPlan:     in.TariffPlan,
		TeamMembers:    1,
		APIKeyHash:     in.APIKeyHash,
		APIKeyPrefix:   in.APIKeyPrefix,
		CreatedAt:      now,
		LastUpdated:    now,
	}
	s.ledgers[in.OrganizationID] = b
	return &b, nil
}

func (s *fakeStore) GetLedger(ctx context.Context, orgID string) (*ledger.Balance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.ledgers[orgID]
	if !ok {
		return nil, errOrganizationNotFound(orgID)
	}
	return &b, nil
}

func (s *fakeStore) sumUnitsLocked(orgID, feature string, since time.Time) int64 {
	var total int64
	for _, e := range s.entries {
		if e.OrganizationID != orgID || e.Feature != feature {
			continue
		}
		if !since.IsZero() && e.Timestamp.Before(since) {
			continue
		}
		total += e.Units
	}
	return total
}

func (s *fakeStore) SumUnits(ctx context.Context, orgID, feature string, since time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sumUnitsLocked(orgID, feature, since), nil
}

func (s *fakeStore) ListUsage(ctx context.Context, q usage.Query) ([]*usage.Entry, string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*usage.Entry
	for i := len(s.entries) - 1; i >= 0; i-- {
		e := s.entries[i]
		if e.OrganizationID != q.OrganizationID {
			continue
		}
		if q.Feature != "" && e.Feature != q.Feature {
			continue
		}
		out = append(out, &e)
	}
	return out, "", nil
}

func (s *fakeStore) SummarizeUsage(ctx context.Context, q usage.Query) (*usage.Summary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sum := &usage.Summary{}
	for _, e := range s.entries {
		if e.OrganizationID != q.OrganizationID {
			continue
		}
		if q.Feature != "" && e.Feature != q.Feature {
			continue
		}
		sum.TotalEntries++
		sum.TotalUnits += e.Units
		sum.TotalTokens += e.Tokens
		sum.TotalCharged += e.PriceCharged
	}
	return sum, nil
}

func (s *fakeStore) Mutate(ctx context.Context, orgID string, fn MutateFunc) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.ledgers[orgID]
	if !ok {
		return errOrganizationNotFound(orgID)
	}

	staged := &fakeMutation{store: s}
	if err := fn(staged, &b); err != nil {
		return err
	}

	if staged.updated != nil {
		s.ledgers[orgID] = *staged.updated
	}
	s.entries = append(s.entries, staged.appended...)
	return nil
}

// fakeMutation stages writes until the callback returns nil.
type fakeMutation struct {
	store    *fakeStore
	updated  *ledger.Balance
	appended []usage.Entry
}

func (m *fakeMutation) SumUnits(ctx context.Context, orgID, feature string, since time.Time) (int64, error) {
	return m.store.sumUnitsLocked(orgID, feature, since), nil
}

func (m *fakeMutation) UpdateLedger(ctx context.Context, bal *ledger.Balance) error {
	cp := *bal
	m.updated = &cp
	return nil
}

func (m *fakeMutation) AppendUsage(ctx context.Context, e *usage.Entry) error {
	m.appended = append(m.appended, *e)
	return nil
}
