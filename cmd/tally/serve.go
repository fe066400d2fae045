package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"

	"github.com/mhollis/tally/internal/api"
	"github.com/mhollis/tally/internal/auth"
	"github.com/mhollis/tally/internal/billing"
	"github.com/mhollis/tally/internal/catalog"
	"github.com/mhollis/tally/internal/config"
	"github.com/mhollis/tally/internal/ledger"
	"github.com/mhollis/tally/internal/metrics"
	"github.com/mhollis/tally/internal/usage"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the Tally billing server",
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	cfg, err := config.Load(cfgFile)
	if err != nil {
		return err
	}

	cat, err := catalog.LoadFile(cfg.Catalog.Path)
	if err != nil {
		return err
	}
	slog.Info("catalog loaded", "tariffs", len(cat.Tariffs()), "features", len(cat.Features()))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pool, err := pgxpool.New(ctx, cfg.Database.URL)
	if err != nil {
		return err
	}
	defer pool.Close()

	if err := pool.Ping(ctx); err != nil {
		return err
	}
	slog.Info("connected to database")

	ledgerStore := ledger.NewStore(pool)
	usageStore := usage.NewStore(pool)
	billingStore := billing.NewPostgresStore(pool, ledgerStore, usageStore)

	collector := usage.NewCollector(usageStore, cfg.Metering.BatchSize, cfg.Metering.FlushInterval)
	go collector.Start(ctx)

	engine := billing.NewEngine(cat, billingStore)
	teamManager := billing.NewTeamManager(cat, billingStore)
	tokenMeter := billing.NewTokenMeter(billing.TokenRates{
		Input:  cfg.Pricing.TokenInputPrice,
		LLM:    cfg.Pricing.TokenLLMPrice,
		Output: cfg.Pricing.TokenOutputPrice,
	}, billingStore, collector)

	authService := auth.NewService(ledger.NewAuthAdapter(ledgerStore))

	m := metrics.New()
	m.RegisterDBPoolCollector(func() (total, idle, acquired int32) {
		st := pool.Stat()
		return st.TotalConns(), st.IdleConns(), st.AcquiredConns()
	})

	router := api.NewRouter(api.RouterDeps{
		Engine:         engine,
		TeamManager:    teamManager,
		TokenMeter:     tokenMeter,
		Catalog:        cat,
		Auth:           authService,
		Metrics:        m,
		AdminKey:       cfg.Auth.AdminKey,
		AllowedOrigins: cfg.CORS.AllowedOrigins,
	})

	srv := &http.Server{
		Addr:         cfg.Addr(),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		slog.Info("server starting", "addr", cfg.Addr())
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	<-sigCh
	slog.Info("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	collector.Stop()

	return srv.Shutdown(shutdownCtx)
}
