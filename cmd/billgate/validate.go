package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/artpar/billgate/config"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate the configuration and exit",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(cfgFile)
		if err != nil {
			return fmt.Errorf("configuration invalid: %w", err)
		}

		fmt.Printf("Configuration %s is valid.\n", cfgFile)
		fmt.Printf("  server:    %s:%d\n", cfg.Server.Host, cfg.Server.Port)
		fmt.Printf("  database:  %s\n", cfg.Database.DSN)
		fmt.Printf("  gateways:  %v (default %s)\n", cfg.EnabledGateways(), cfg.Gateways.Default)
		fmt.Printf("  email:     %s\n", cfg.Email.Provider)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(validateCmd)
}
