package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	// Global flags
	cfgFile string
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "billgate",
	Short: "Subscription billing engine with gateway webhooks, renewals and quotas",
	Long: `BillGate is a self-hosted subscription billing engine.

It sells time-boxed packages through external payment gateways, tracks
usage quotas, renews subscriptions automatically and issues invoices.

Quick start:
  billgate packages seed   # Load the package catalog
  billgate serve           # Start the HTTP server

Operations:
  billgate renew           # Run one renewal pass
  billgate sweep           # Run one cleanup pass
  billgate validate        # Validate configuration`,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "billgate.yaml", "config file path")
}
