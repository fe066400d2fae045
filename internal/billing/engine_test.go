package billing

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"

	"github.com/mhollis/tally/internal/catalog"
	"github.com/mhollis/tally/internal/ledger"
	"github.com/mhollis/tally/internal/usage"
)

func usageQueryFor(orgID, feature string) usage.Query {
	return usage.Query{OrganizationID: orgID, Feature: feature, Limit: 50}
}

func testCatalog(t *testing.T) *catalog.Catalog {
	t.Helper()
	cat, err := catalog.New(
		[]catalog.TariffPlan{
			{
				Name:           "starter",
				MonthlyPrice:   10,
				IncludedLimits: map[string]int64{"categorization": 100},
				MaxTeamMembers: 3,
				MemberPrice:    5,
			},
			{
				Name:           "business",
				MonthlyPrice:   50,
				IncludedLimits: map[string]int64{"categorization": 1000, "transcription": 60},
				Discounts:      map[string]float64{catalog.DiscountPAYG: 0.5},
				MaxTeamMembers: 10,
				MemberPrice:    3,
			},
		},
		[]catalog.FeatureConfig{
			{Name: "categorization", Type: catalog.FeatureBasic, Unit: "call", PricePerUnit: 0.02},
			{Name: "transcription", Type: catalog.FeaturePremium, Unit: "minute", PricePerUnit: 0.1},
			{
				Name:          "bulk-export",
				Type:          catalog.FeatureExclusive,
				Unit:          "call",
				PricePerUnit:  0.5,
				AccessTariffs: []string{"business"},
			},
		},
	)
	if err != nil {
		t.Fatalf("building catalog: %v", err)
	}
	return cat
}

func newTestEngine(t *testing.T) (*Engine, *fakeStore) {
	t.Helper()
	store := newFakeStore()
	return NewEngine(testCatalog(t), store), store
}

func seedOrg(store *fakeStore, orgID, tariff string, balance float64) {
	store.seed(ledger.Balance{
		OrganizationID: orgID,
		Balance:        balance,
		TariffPlan:     tariff,
		TeamMembers:    1,
	})
}

func assertKind(t *testing.T, err error, kind Kind) {
	t.Helper()
	var be *Error
	if !errors.As(err, &be) {
		t.Fatalf("expected billing error, got %v", err)
	}
	if be.Kind != kind {
		t.Fatalf("expected kind %v (%s), got %v (%s)", kind, kind.Code(), be.Kind, be.Kind.Code())
	}
}

func almostEqual(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func TestEngine_InitializeOrganization(t *testing.T) {
	engine, _ := newTestEngine(t)
	ctx := context.Background()

	b, err := engine.InitializeOrganization(ctx, ledger.CreateInput{
		OrganizationID: "org-1",
		TariffPlan:     "starter",
		InitialBalance: 25,
	})
	if err != nil {
		t.Fatalf("initialize: %v", err)
	}
	if b.Balance != 25 || b.TariffPlan != "starter" || b.TeamMembers != 1 {
		t.Fatalf("unexpected ledger row: %+v", b)
	}

	if _, err := engine.InitializeOrganization(ctx, ledger.CreateInput{
		OrganizationID: "org-2",
		TariffPlan:     "no-such-plan",
	}); err == nil {
		t.Fatal("expected error for unknown tariff")
	} else {
		assertKind(t, err, KindTariffNotFound)
	}
}

func TestEngine_CheckAccess(t *testing.T) {
	engine, store := newTestEngine(t)
	ctx := context.Background()

	seedOrg(store, "starter-org", "starter", 10)
	seedOrg(store, "business-org", "business", 10)
	seedOrg(store, "no-tariff-org", "", 10)

	tests := []struct {
		name     string
		orgID    string
		feature  string
		wantKind Kind
		wantOK   bool
	}{
		{name: "basic feature open to all", orgID: "no-tariff-org", feature: "categorization", wantOK: true},
		{name: "premium feature open to all", orgID: "starter-org", feature: "transcription", wantOK: true},
		{name: "exclusive feature allowed tariff", orgID: "business-org", feature: "bulk-export", wantOK: true},
		{name: "exclusive feature denied tariff", orgID: "starter-org", feature: "bulk-export", wantKind: KindAccessDenied},
		{name: "exclusive feature denied without tariff", orgID: "no-tariff-org", feature: "bulk-export", wantKind: KindAccessDenied},
		{name: "unknown feature", orgID: "starter-org", feature: "nope", wantKind: KindFeatureNotConfigured},
		{name: "unknown organization", orgID: "ghost", feature: "categorization", wantKind: KindOrganizationNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := engine.CheckAccess(ctx, tt.orgID, tt.feature)
			if tt.wantOK {
				if err != nil {
					t.Fatalf("expected access, got %v", err)
				}
				return
			}
			assertKind(t, err, tt.wantKind)
		})
	}
}

func TestEngine_PriceAppliesPAYGDiscount(t *testing.T) {
	engine, store := newTestEngine(t)
	ctx := context.Background()

	seedOrg(store, "business-org", "business", 0)
	seedOrg(store, "no-tariff-org", "", 0)

	got, err := engine.Price(ctx, "business-org", "categorization")
	if err != nil {
		t.Fatalf("price: %v", err)
	}
	if !almostEqual(got, 0.01) {
		t.Fatalf("expected discounted price 0.01, got %v", got)
	}

	got, err = engine.Price(ctx, "no-tariff-org", "categorization")
	if err != nil {
		t.Fatalf("price: %v", err)
	}
	if !almostEqual(got, 0.02) {
		t.Fatalf("expected base price 0.02, got %v", got)
	}
}

func TestEngine_CheckLimit(t *testing.T) {
	engine, store := newTestEngine(t)
	ctx := context.Background()

	seedOrg(store, "org-1", "starter", 100)

	remaining, total, err := engine.CheckLimit(ctx, "org-1", "categorization")
	if err != nil {
		t.Fatalf("check limit: %v", err)
	}
	if remaining != 100 || total != 100 {
		t.Fatalf("expected 100/100, got %d/%d", remaining, total)
	}

	if _, err := engine.Charge(ctx, "org-1", "categorization", 30, ""); err != nil {
		t.Fatalf("charge: %v", err)
	}

	remaining, total, err = engine.CheckLimit(ctx, "org-1", "categorization")
	if err != nil {
		t.Fatalf("check limit: %v", err)
	}
	if remaining != 70 || total != 100 {
		t.Fatalf("expected 70/100 after charge, got %d/%d", remaining, total)
	}

	// Feature without an included limit on this tariff.
	remaining, total, err = engine.CheckLimit(ctx, "org-1", "transcription")
	if err != nil {
		t.Fatalf("check limit: %v", err)
	}
	if remaining != 0 || total != 0 {
		t.Fatalf("expected 0/0 for unlisted feature, got %d/%d", remaining, total)
	}
}

func TestEngine_ChargeWithinIncludedLimitIsFree(t *testing.T) {
	engine, store := newTestEngine(t)
	ctx := context.Background()

	seedOrg(store, "org-1", "starter", 50)

	charged, err := engine.Charge(ctx, "org-1", "categorization", 40, "user-1")
	if err != nil {
		t.Fatalf("charge: %v", err)
	}
	if charged != 0 {
		t.Fatalf("expected free charge within limit, got %v", charged)
	}
	if got := store.balance("org-1").Balance; got != 50 {
		t.Fatalf("balance should be untouched, got %v", got)
	}
	if store.entryCount() != 1 {
		t.Fatalf("expected 1 usage entry, got %d", store.entryCount())
	}
}

func TestEngine_ChargeOverageStraddlesLimit(t *testing.T) {
	engine, store := newTestEngine(t)
	ctx := context.Background()

	seedOrg(store, "org-1", "starter", 10)

	// Consume 90 of the 100 included units, then charge 30 more: 10 free,
	// 20 billed at 0.02.
	if _, err := engine.Charge(ctx, "org-1", "categorization", 90, ""); err != nil {
		t.Fatalf("warm-up charge: %v", err)
	}

	charged, err := engine.Charge(ctx, "org-1", "categorization", 30, "")
	if err != nil {
		t.Fatalf("charge: %v", err)
	}
	if !almostEqual(charged, 0.4) {
		t.Fatalf("expected overage charge 0.40, got %v", charged)
	}
	if got := store.balance("org-1").Balance; !almostEqual(got, 9.6) {
		t.Fatalf("expected balance 9.60, got %v", got)
	}
}

func TestEngine_ChargeInsufficientBalanceLeavesNoTrace(t *testing.T) {
	engine, store := newTestEngine(t)
	ctx := context.Background()

	// Starter has no included transcription minutes, so every unit bills
	// at full price.
	seedOrg(store, "org-1", "starter", 0.05)

	_, err := engine.Charge(ctx, "org-1", "transcription", 1, "")
	assertKind(t, err, KindInsufficientBalance)

	if got := store.balance("org-1").Balance; got != 0.05 {
		t.Fatalf("balance must be unchanged after rejection, got %v", got)
	}
	if store.entryCount() != 0 {
		t.Fatalf("no usage entry may survive a rejected charge, got %d", store.entryCount())
	}
}

func TestEngine_ChargeExactBalanceSucceeds(t *testing.T) {
	engine, store := newTestEngine(t)
	ctx := context.Background()

	seedOrg(store, "org-1", "", 0.2)

	charged, err := engine.Charge(ctx, "org-1", "transcription", 2, "")
	if err != nil {
		t.Fatalf("charge: %v", err)
	}
	if !almostEqual(charged, 0.2) {
		t.Fatalf("expected charge 0.20, got %v", charged)
	}
	if got := store.balance("org-1").Balance; !almostEqual(got, 0) {
		t.Fatalf("expected zero balance, got %v", got)
	}
}

func TestEngine_ChargeDefaultsToOneUnit(t *testing.T) {
	engine, store := newTestEngine(t)
	ctx := context.Background()

	seedOrg(store, "org-1", "", 1)

	charged, err := engine.Charge(ctx, "org-1", "categorization", 0, "")
	if err != nil {
		t.Fatalf("charge: %v", err)
	}
	if !almostEqual(charged, 0.02) {
		t.Fatalf("expected single-unit charge 0.02, got %v", charged)
	}
}

func TestEngine_ChargeDeniedFeatureRecordsNothing(t *testing.T) {
	engine, store := newTestEngine(t)
	ctx := context.Background()

	seedOrg(store, "org-1", "starter", 100)

	_, err := engine.Charge(ctx, "org-1", "bulk-export", 1, "")
	assertKind(t, err, KindAccessDenied)

	if store.entryCount() != 0 {
		t.Fatalf("expected no usage entries, got %d", store.entryCount())
	}
}

func TestEngine_TopUp(t *testing.T) {
	engine, store := newTestEngine(t)
	ctx := context.Background()

	seedOrg(store, "org-1", "starter", 10)

	newBal, err := engine.TopUp(ctx, "org-1", 15.5)
	if err != nil {
		t.Fatalf("top up: %v", err)
	}
	if !almostEqual(newBal, 25.5) {
		t.Fatalf("expected balance 25.5, got %v", newBal)
	}

	if _, err := engine.TopUp(ctx, "org-1", -1); err == nil {
		t.Fatal("expected rejection of negative top-up")
	} else {
		assertKind(t, err, KindInvalidArgument)
	}

	if _, err := engine.TopUp(ctx, "ghost", 5); err == nil {
		t.Fatal("expected error for unknown organization")
	} else {
		assertKind(t, err, KindOrganizationNotFound)
	}
}

func TestEngine_ConcurrentChargesNeverOverdraw(t *testing.T) {
	engine, store := newTestEngine(t)
	ctx := context.Background()

	// 10 affordable single-unit transcription charges at 0.1 each; 25
	// goroutines race for them.
	seedOrg(store, "org-1", "", 1.0)

	const workers = 25
	var wg sync.WaitGroup
	var succeeded, rejected int
	var mu sync.Mutex

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := engine.Charge(ctx, "org-1", "transcription", 1, "")
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				succeeded++
				return
			}
			var be *Error
			if errors.As(err, &be) && be.Kind == KindInsufficientBalance {
				rejected++
			}
		}()
	}
	wg.Wait()

	if succeeded != 10 {
		t.Fatalf("expected exactly 10 successful charges, got %d", succeeded)
	}
	if rejected != workers-10 {
		t.Fatalf("expected %d rejections, got %d", workers-10, rejected)
	}
	if got := store.balance("org-1").Balance; !almostEqual(got, 0) {
		t.Fatalf("expected exhausted balance, got %v", got)
	}
	if store.entryCount() != 10 {
		t.Fatalf("expected 10 usage entries, got %d", store.entryCount())
	}
}

func TestEngine_UsageHistoryAndSummary(t *testing.T) {
	engine, store := newTestEngine(t)
	ctx := context.Background()

	seedOrg(store, "org-1", "", 100)

	for i := 0; i < 3; i++ {
		if _, err := engine.Charge(ctx, "org-1", "categorization", 2, "user-1"); err != nil {
			t.Fatalf("charge: %v", err)
		}
	}

	entries, _, err := engine.UsageHistory(ctx, usageQueryFor("org-1", ""))
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(entries) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(entries))
	}

	sum, err := engine.UsageSummary(ctx, usageQueryFor("org-1", "categorization"))
	if err != nil {
		t.Fatalf("summary: %v", err)
	}
	if sum.TotalEntries != 3 || sum.TotalUnits != 6 {
		t.Fatalf("unexpected summary: %+v", sum)
	}
	if !almostEqual(sum.TotalCharged, 0.12) {
		t.Fatalf("expected total charged 0.12, got %v", sum.TotalCharged)
	}
}

func TestEngine_FeaturesFor(t *testing.T) {
	engine, store := newTestEngine(t)
	ctx := context.Background()

	seedOrg(store, "starter-org", "starter", 0)
	seedOrg(store, "business-org", "business", 0)

	feats, err := engine.FeaturesFor(ctx, "starter-org")
	if err != nil {
		t.Fatalf("features: %v", err)
	}
	for _, f := range feats {
		if f.Name == "bulk-export" {
			t.Fatal("starter tariff must not see the exclusive feature")
		}
	}

	feats, err = engine.FeaturesFor(ctx, "business-org")
	if err != nil {
		t.Fatalf("features: %v", err)
	}
	found := false
	for _, f := range feats {
		if f.Name == "bulk-export" {
			found = true
		}
	}
	if !found {
		t.Fatal("business tariff should see the exclusive feature")
	}
}
