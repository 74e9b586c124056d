package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ljxpython/noteai/config"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate configuration and exit",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(cfgFile)
		if err != nil {
			return fmt.Errorf("configuration invalid: %w", err)
		}
		fmt.Println("Configuration valid")
		fmt.Printf("  Provider:  %s (%s)\n", cfg.AI.Provider, cfg.AI.Model)
		fmt.Printf("  Database:  %s\n", cfg.Database.DSN)
		if cfg.Redis.Addr != "" {
			fmt.Printf("  Counters:  redis (%s)\n", cfg.Redis.Addr)
		} else {
			fmt.Printf("  Counters:  sqlite\n")
		}
		fmt.Printf("  Plan:      %s (%d/day, %d/month)\n",
			cfg.Quota.Plan.Type, cfg.Quota.Plan.DailyLimit, cfg.Quota.Plan.MonthlyLimit)
		fmt.Printf("  Fail-open: %v\n", cfg.Quota.IsFailOpen())
		return nil
	},
}

func init() {
	rootCmd.AddCommand(validateCmd)
}
