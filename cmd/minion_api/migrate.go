package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/minionlabs/minion-api/internal/config"
	"github.com/minionlabs/minion-api/internal/db"
	"github.com/minionlabs/minion-api/internal/observability"
	"github.com/minionlabs/minion-api/internal/types"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply the database schema and seed the price book",
	Long:  "Creates any missing tables and indexes, then seeds one price version per service from the pricing config. Existing prices are never overwritten.",
	RunE:  runMigrate,
}

func init() {
	rootCmd.AddCommand(migrateCmd)
}

// priceSeed maps the pricing config onto the price book services.
func priceSeed(p config.PricingConfig) map[types.Service]int {
	return map[types.Service]int{
		types.ServiceVerify:              p.VerifyCost,
		types.ServiceEnrich:              p.EnrichCost,
		types.ServiceCredit:              p.CreditPrice,
		types.ServiceRegistrationCredits: p.RegistrationCredits,
	}
}

func runMigrate(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	database, err := db.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer database.Close()

	if err := database.Migrate(ctx); err != nil {
		return err
	}
	if err := database.SeedPrices(ctx, priceSeed(cfg.Pricing)); err != nil {
		return err
	}

	prices, err := database.ListPrices(ctx)
	if err != nil {
		return err
	}
	observability.NewPrinter(os.Stdout).PrintPrices(prices)
	return nil
}
