package billing

import (
	"context"
	"testing"
)

func newTestTeamManager(t *testing.T) (*TeamManager, *fakeStore) {
	t.Helper()
	store := newFakeStore()
	return NewTeamManager(testCatalog(t), store), store
}

func TestTeamManager_AddMember(t *testing.T) {
	mgr, store := newTestTeamManager(t)
	ctx := context.Background()

	seedOrg(store, "org-1", "starter", 20)

	if err := mgr.AddMember(ctx, "org-1"); err != nil {
		t.Fatalf("add member: %v", err)
	}

	b := store.balance("org-1")
	if b.TeamMembers != 2 {
		t.Fatalf("expected 2 members, got %d", b.TeamMembers)
	}
	if !almostEqual(b.Balance, 15) {
		t.Fatalf("expected balance 15 after seat charge, got %v", b.Balance)
	}
}

func TestTeamManager_AddMemberSeatCap(t *testing.T) {
	mgr, store := newTestTeamManager(t)
	ctx := context.Background()

	// Starter allows 3 seats at 5 each.
	seedOrg(store, "org-1", "starter", 100)

	if err := mgr.AddMember(ctx, "org-1"); err != nil {
		t.Fatalf("add second member: %v", err)
	}
	if err := mgr.AddMember(ctx, "org-1"); err != nil {
		t.Fatalf("add third member: %v", err)
	}

	err := mgr.AddMember(ctx, "org-1")
	assertKind(t, err, KindSeatLimitReached)

	b := store.balance("org-1")
	if b.TeamMembers != 3 {
		t.Fatalf("expected members capped at 3, got %d", b.TeamMembers)
	}
	if !almostEqual(b.Balance, 90) {
		t.Fatalf("expected only two seat charges, balance %v", b.Balance)
	}
}

func TestTeamManager_AddMemberInsufficientBalance(t *testing.T) {
	mgr, store := newTestTeamManager(t)
	ctx := context.Background()

	seedOrg(store, "org-1", "starter", 4.99)

	err := mgr.AddMember(ctx, "org-1")
	assertKind(t, err, KindInsufficientBalance)

	b := store.balance("org-1")
	if b.TeamMembers != 1 || !almostEqual(b.Balance, 4.99) {
		t.Fatalf("rejected add must not mutate the ledger: %+v", b)
	}
}

func TestTeamManager_AddMemberWithoutTariff(t *testing.T) {
	mgr, store := newTestTeamManager(t)
	ctx := context.Background()

	seedOrg(store, "org-1", "", 100)

	err := mgr.AddMember(ctx, "org-1")
	assertKind(t, err, KindTariffNotFound)
}

func TestTeamManager_RemoveMember(t *testing.T) {
	mgr, store := newTestTeamManager(t)
	ctx := context.Background()

	seedOrg(store, "org-1", "starter", 20)
	if err := mgr.AddMember(ctx, "org-1"); err != nil {
		t.Fatalf("add member: %v", err)
	}

	if err := mgr.RemoveMember(ctx, "org-1"); err != nil {
		t.Fatalf("remove member: %v", err)
	}

	b := store.balance("org-1")
	if b.TeamMembers != 1 {
		t.Fatalf("expected 1 member, got %d", b.TeamMembers)
	}
	// Seat charges are not refunded.
	if !almostEqual(b.Balance, 15) {
		t.Fatalf("expected balance 15 (no refund), got %v", b.Balance)
	}

	err := mgr.RemoveMember(ctx, "org-1")
	assertKind(t, err, KindCannotRemoveLastMember)
}

func TestTeamManager_Info(t *testing.T) {
	mgr, store := newTestTeamManager(t)
	ctx := context.Background()

	seedOrg(store, "org-1", "business", 42)

	info, err := mgr.Info(ctx, "org-1")
	if err != nil {
		t.Fatalf("info: %v", err)
	}
	if info.TeamMembers != 1 || info.MaxTeamMembers != 10 {
		t.Fatalf("unexpected seat counts: %+v", info)
	}
	if !almostEqual(info.MemberPrice, 3) || !almostEqual(info.Balance, 42) {
		t.Fatalf("unexpected prices: %+v", info)
	}

	seedOrg(store, "org-2", "", 10)
	if _, err := mgr.Info(ctx, "org-2"); err == nil {
		t.Fatal("expected error without tariff")
	} else {
		assertKind(t, err, KindTariffNotFound)
	}
}

func TestTeamManager_UpgradeTariff(t *testing.T) {
	mgr, store := newTestTeamManager(t)
	ctx := context.Background()

	tests := []struct {
		name        string
		tariff      string
		balance     float64
		target      string
		wantKind    Kind
		wantOK      bool
		wantBalance float64
		wantTariff  string
	}{
		{
			name:        "upgrade charges price difference",
			tariff:      "starter",
			balance:     100,
			target:      "business",
			wantOK:      true,
			wantBalance: 60,
			wantTariff:  "business",
		},
		{
			name:        "first tariff charges full monthly price",
			tariff:      "",
			balance:     15,
			target:      "starter",
			wantOK:      true,
			wantBalance: 5,
			wantTariff:  "starter",
		},
		{
			name:        "downgrade credits the difference",
			tariff:      "business",
			balance:     0,
			target:      "starter",
			wantOK:      true,
			wantBalance: 40,
			wantTariff:  "starter",
		},
		{
			name:     "same tariff rejected",
			tariff:   "starter",
			balance:  100,
			target:   "starter",
			wantKind: KindNoOpUpgrade,
		},
		{
			name:     "unknown tariff rejected",
			tariff:   "starter",
			balance:  100,
			target:   "enterprise",
			wantKind: KindTariffNotFound,
		},
		{
			name:     "insufficient balance rejected",
			tariff:   "starter",
			balance:  10,
			target:   "business",
			wantKind: KindInsufficientBalance,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			orgID := "org-" + tt.name
			seedOrg(store, orgID, tt.tariff, tt.balance)

			err := mgr.UpgradeTariff(ctx, orgID, tt.target)
			if !tt.wantOK {
				assertKind(t, err, tt.wantKind)
				b := store.balance(orgID)
				if b.TariffPlan != tt.tariff || !almostEqual(b.Balance, tt.balance) {
					t.Fatalf("rejected upgrade must not mutate the ledger: %+v", b)
				}
				return
			}
			if err != nil {
				t.Fatalf("upgrade: %v", err)
			}
			b := store.balance(orgID)
			if b.TariffPlan != tt.wantTariff {
				t.Fatalf("expected tariff %q, got %q", tt.wantTariff, b.TariffPlan)
			}
			if !almostEqual(b.Balance, tt.wantBalance) {
				t.Fatalf("expected balance %v, got %v", tt.wantBalance, b.Balance)
			}
		})
	}
}
