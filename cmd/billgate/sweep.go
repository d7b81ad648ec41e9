package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/artpar/billgate/bootstrap"
)

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Run one cleanup pass and exit",
	Long: `Run the sweeper once: expire overdue pending payments and
subscriptions, cancel grace-lapsed subscriptions, purge old gateway
events and backfill missing invoices.

The server runs this on a schedule; the command exists for operational
catch-up after downtime.`,
	RunE: runSweep,
}

func init() {
	rootCmd.AddCommand(sweepCmd)
}

func runSweep(cmd *cobra.Command, args []string) error {
	app, err := bootstrap.New(cfgFile)
	if err != nil {
		return fmt.Errorf("error initializing: %w", err)
	}
	defer app.Shutdown()

	if err := app.Sweeper.Run(context.Background()); err != nil {
		return fmt.Errorf("sweep: %w", err)
	}
	fmt.Println("sweep complete")
	return nil
}
