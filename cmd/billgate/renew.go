package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/artpar/billgate/bootstrap"
)

var renewSettle time.Duration

var renewCmd = &cobra.Command{
	Use:   "renew",
	Short: "Run one renewal pass and exit",
	Long: `Run the renewal coordinator once: expire stale charges from the
previous pass, charge every subscription due for renewal and send
expiry reminders.

Notices and charge retries ride the in-process job queue; the command
waits --settle before exiting so queued work can drain.`,
	RunE: runRenew,
}

func init() {
	rootCmd.AddCommand(renewCmd)

	renewCmd.Flags().DurationVar(&renewSettle, "settle", 5*time.Second, "how long to let queued jobs drain before exit")
}

func runRenew(cmd *cobra.Command, args []string) error {
	app, err := bootstrap.New(cfgFile)
	if err != nil {
		return fmt.Errorf("error initializing: %w", err)
	}
	defer app.Shutdown()

	app.Queue.Start()

	ctx := context.Background()
	if err := app.Renewals.Run(ctx); err != nil {
		return fmt.Errorf("renewal pass: %w", err)
	}
	if err := app.Renewals.RunReminders(ctx); err != nil {
		return fmt.Errorf("reminder pass: %w", err)
	}

	time.Sleep(renewSettle)
	fmt.Println("renewal pass complete")
	return nil
}
