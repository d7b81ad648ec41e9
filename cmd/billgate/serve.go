package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/artpar/billgate/bootstrap"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the billing HTTP server",
	Long: `Start the BillGate server.

The server will:
  - Load configuration from billgate.yaml (or --config)
  - Or load configuration from BILLGATE_* environment variables
  - Connect to the database and run migrations
  - Serve the payment, subscription and webhook endpoints
  - Run the renewal and sweep schedules

Environment variables (for Docker deployments):
  BILLGATE_DATABASE_DSN        - Database path (default: billgate.db)
  BILLGATE_SERVER_PORT         - Server port (default: 8080)
  BILLGATE_GATEWAY_DEFAULT     - Default gateway: payvn, stripe or dummy
  BILLGATE_PAYVN_TMN_CODE      - PayVN terminal code
  BILLGATE_PAYVN_HASH_SECRET   - PayVN signature secret
  BILLGATE_STRIPE_SECRET_KEY   - Stripe API key
  BILLGATE_LOG_LEVEL           - Log level: debug, info, warn, error

Examples:
  billgate serve
  billgate serve --config /etc/billgate/config.yaml`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	app, err := bootstrap.New(cfgFile)
	if err != nil {
		return fmt.Errorf("error initializing: %w", err)
	}
	return app.Run()
}
