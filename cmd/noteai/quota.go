package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/ljxpython/noteai/adapters/clock"
	redisadapter "github.com/ljxpython/noteai/adapters/redis"
	"github.com/ljxpython/noteai/adapters/sqlite"
	"github.com/ljxpython/noteai/app"
	"github.com/ljxpython/noteai/config"
	"github.com/ljxpython/noteai/domain/quota"
	"github.com/ljxpython/noteai/ports"
)

var quotaCmd = &cobra.Command{
	Use:   "quota",
	Short: "Inspect and manage user quotas",
	Long: `Inspect and manage per-user usage quotas.

Examples:
  noteai quota show user_123
  noteai quota reset user_123
  noteai quota reset user_123 --window=daily`,
}

var quotaShowCmd = &cobra.Command{
	Use:   "show <user-id>",
	Short: "Show a user's quota usage",
	Args:  cobra.ExactArgs(1),
	RunE:  runQuotaShow,
}

var quotaResetCmd = &cobra.Command{
	Use:   "reset <user-id>",
	Short: "Reset a user's quota window",
	Args:  cobra.ExactArgs(1),
	RunE:  runQuotaReset,
}

var quotaWindow string

func init() {
	rootCmd.AddCommand(quotaCmd)

	quotaCmd.AddCommand(quotaShowCmd)
	quotaCmd.AddCommand(quotaResetCmd)

	quotaResetCmd.Flags().StringVar(&quotaWindow, "window", "all", "window to reset: daily, monthly or all")
}

// buildQuotaService connects to the configured counter store without
// starting the full application.
func buildQuotaService() (*app.QuotaService, quota.Limits, func(), error) {
	cfg, err := config.LoadWithFallback(cfgFile)
	if err != nil {
		return nil, quota.Limits{}, nil, err
	}

	var (
		store   ports.CounterStore
		cleanup func()
	)
	if cfg.Redis.Addr != "" {
		client := goredis.NewClient(&goredis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		store = redisadapter.New(client)
		cleanup = func() { client.Close() }
	} else {
		db, err := sqlite.Open(cfg.Database.DSN)
		if err != nil {
			return nil, quota.Limits{}, nil, err
		}
		if err := db.Migrate(); err != nil {
			db.Close()
			return nil, quota.Limits{}, nil, err
		}
		store = sqlite.NewCounterStore(db)
		cleanup = func() { db.Close() }
	}

	svc := app.NewQuotaService(app.QuotaDeps{
		Store:  store,
		Clock:  clock.Real{},
		Logger: zerolog.Nop(),
	}, cfg.Quota.IsFailOpen())

	lim := quota.Limits{
		PlanType: cfg.Quota.Plan.Type,
		PerDay:   cfg.Quota.Plan.DailyLimit,
		PerMonth: cfg.Quota.Plan.MonthlyLimit,
	}
	return svc, lim, cleanup, nil
}

func runQuotaShow(cmd *cobra.Command, args []string) error {
	svc, lim, cleanup, err := buildQuotaService()
	if err != nil {
		return err
	}
	defer cleanup()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	info, err := svc.Info(ctx, args[0], lim)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintf(w, "Plan:\t%s\n", info.PlanType)
	fmt.Fprintf(w, "Daily:\t%d / %d (%d remaining)\n", info.DailyUsed, info.DailyLimit, info.DailyRemaining)
	fmt.Fprintf(w, "Monthly:\t%d / %d (%d remaining)\n", info.MonthlyUsed, info.MonthlyLimit, info.MonthlyRemaining)
	fmt.Fprintf(w, "Resets:\t%s\n", info.ResetAt.Format(time.RFC3339))
	return w.Flush()
}

func runQuotaReset(cmd *cobra.Command, args []string) error {
	var kinds []quota.WindowKind
	switch quotaWindow {
	case "daily":
		kinds = []quota.WindowKind{quota.WindowDaily}
	case "monthly":
		kinds = []quota.WindowKind{quota.WindowMonthly}
	case "all":
		kinds = []quota.WindowKind{quota.WindowDaily, quota.WindowMonthly}
	default:
		return fmt.Errorf("invalid window %q: must be daily, monthly or all", quotaWindow)
	}

	svc, _, cleanup, err := buildQuotaService()
	if err != nil {
		return err
	}
	defer cleanup()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	for _, kind := range kinds {
		if err := svc.Reset(ctx, args[0], kind); err != nil {
			return err
		}
		fmt.Printf("Reset %s quota for %s\n", kind, args[0])
	}
	return nil
}
