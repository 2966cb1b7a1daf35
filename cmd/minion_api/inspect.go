package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/minionlabs/minion-api/internal/config"
	"github.com/minionlabs/minion-api/internal/db"
	"github.com/minionlabs/minion-api/internal/observability"
)

var inspectCmd = &cobra.Command{
	Use:   "inspect <log-id>",
	Short: "Print a verification job and its checkpoint",
	Args:  cobra.ExactArgs(1),
	RunE:  runInspect,
}

func init() {
	rootCmd.AddCommand(inspectCmd)
}

func runInspect(cmd *cobra.Command, args []string) error {
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

	job, err := database.GetJob(ctx, args[0])
	if err != nil {
		return err
	}
	if job == nil {
		return fmt.Errorf("verification log %s not found", args[0])
	}
	cp, err := database.LoadCheckpoint(ctx, job.ID)
	if err != nil {
		return err
	}

	p := observability.NewPrinter(os.Stdout)
	p.PrintJob(job)
	if cp != nil {
		p.PrintCheckpoint(cp)
	}
	return nil
}
