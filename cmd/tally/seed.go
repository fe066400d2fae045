package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"

	"github.com/mhollis/tally/internal/auth"
	"github.com/mhollis/tally/internal/catalog"
	"github.com/mhollis/tally/internal/config"
	"github.com/mhollis/tally/internal/ledger"
)

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Seed demo organization ledgers",
	RunE:  runSeed,
}

func init() {
	rootCmd.AddCommand(seedCmd)
}

type demoOrg struct {
	id      string
	tariff  string
	balance float64
}

var demoOrgs = []demoOrg{
	{id: "demo-free", tariff: "", balance: 10},
	{id: "demo-starter", tariff: "starter", balance: 50},
	{id: "demo-business", tariff: "business", balance: 250},
}

func runSeed(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return err
	}

	cat, err := catalog.LoadFile(cfg.Catalog.Path)
	if err != nil {
		return err
	}

	ctx := context.Background()
	pool, err := pgxpool.New(ctx, cfg.Database.URL)
	if err != nil {
		return err
	}
	defer pool.Close()

	store := ledger.NewStore(pool)

	fmt.Printf("\n=== Demo Organizations ===\n")
	for _, org := range demoOrgs {
		if org.tariff != "" {
			if _, ok := cat.Tariff(org.tariff); !ok {
				return fmt.Errorf("tariff %q not in catalog %s", org.tariff, cfg.Catalog.Path)
			}
		}

		apiKey, plaintext, err := auth.GenerateAPIKey()
		if err != nil {
			return fmt.Errorf("generating api key: %w", err)
		}

		b, err := store.Create(ctx, ledger.CreateInput{
			OrganizationID: org.id,
			TariffPlan:     org.tariff,
			InitialBalance: org.balance,
			APIKeyHash:     apiKey.Hash,
			APIKeyPrefix:   apiKey.Prefix,
		})
		if err != nil {
			if errors.Is(err, ledger.ErrAlreadyExists) {
				slog.Info("organization already seeded, skipping", "id", org.id)
				continue
			}
			return fmt.Errorf("creating organization %q: %w", org.id, err)
		}

		slog.Info("created organization", "id", b.OrganizationID, "tariff", b.TariffPlan)
		fmt.Printf("Org:     %-14s tariff=%-10s balance=%.2f\n", b.OrganizationID, orDash(b.TariffPlan), b.Balance)
		fmt.Printf("API Key: %s\n\n", plaintext)
	}

	fmt.Printf("Try it:\n")
	fmt.Printf("  curl -H 'Authorization: Bearer <key>' http://localhost:%d/api/v1/balance\n", cfg.Server.Port)

	return nil
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
