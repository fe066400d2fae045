package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "tally",
	Short: "Tally — Billing & Metering Engine",
	Long:  "Tally is a multi-tenant billing and metering engine: tariff plans with included limits, pay-as-you-go overage pricing, team seat billing, token metering, and an append-only usage log, all served over an HTTP API.",
}

func init() {
	// Load .env if present; real env vars win.
	_ = godotenv.Load()

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: configs/tally.yaml)")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
