// Package bootstrap wires all dependencies and starts the application.
package bootstrap

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/ljxpython/noteai/adapters/clock"
	"github.com/ljxpython/noteai/adapters/idgen"
	"github.com/ljxpython/noteai/adapters/metrics"
	"github.com/ljxpython/noteai/adapters/model"
	redisadapter "github.com/ljxpython/noteai/adapters/redis"
	"github.com/ljxpython/noteai/adapters/sqlite"
	"github.com/ljxpython/noteai/app"
	"github.com/ljxpython/noteai/config"
	"github.com/ljxpython/noteai/domain/quota"
	"github.com/ljxpython/noteai/domain/reconcile"
	"github.com/ljxpython/noteai/ports"
	"github.com/ljxpython/noteai/web"
)

// App represents the running application.
type App struct {
	Logger     zerolog.Logger
	Config     *config.Holder
	DB         *sqlite.DB
	HTTPServer *http.Server
	Metrics    *metrics.Collector

	// Services
	Quota *app.QuotaService
	AI    *app.AIService

	// Adapters (for cleanup)
	redisClient   *goredis.Client
	counterStore  ports.CounterStore
	usageStore    *sqlite.UsageStore
	usageRecorder ports.UsageRecorder

	cleanupStop chan struct{}
}

// New creates and initializes the application without config hot
// reload. An empty or missing configPath falls back to environment
// variables only.
func New(configPath string) (*App, error) {
	cfg, err := config.LoadWithFallback(configPath)
	if err != nil {
		return nil, err
	}
	return build(cfg, nil)
}

// NewWithHotReload creates the application with a watched config file.
// Plan limits, the fail-open policy and the log level are applied
// without a restart.
func NewWithHotReload(configPath string) (*App, error) {
	// Bootstrap logger until the configured one is ready.
	bootLogger := zerolog.New(os.Stderr).With().Timestamp().Logger()
	holder, err := config.NewHolder(configPath, bootLogger)
	if err != nil {
		return nil, err
	}
	return build(holder.Get(), holder)
}

func build(cfg *config.Config, holder *config.Holder) (*App, error) {
	logger := setupLogger(cfg.Logging)
	logger.Info().Msg("initializing noteai")

	a := &App{
		Logger:      logger,
		Config:      holder,
		cleanupStop: make(chan struct{}),
	}

	if err := a.init(cfg); err != nil {
		a.closePartial()
		return nil, err
	}

	if holder != nil {
		a.registerReload(holder)
		if err := holder.WatchFile(); err != nil {
			logger.Warn().Err(err).Msg("config file watch unavailable")
		}
		holder.WatchSignals()
	}

	return a, nil
}

func (a *App) init(cfg *config.Config) error {
	// Database
	db, err := sqlite.Open(cfg.Database.DSN)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	a.DB = db
	if err := db.Migrate(); err != nil {
		return fmt.Errorf("migrate database: %w", err)
	}
	a.Logger.Info().Str("dsn", cfg.Database.DSN).Msg("database ready")

	// Metrics
	if cfg.Metrics.IsEnabled() {
		a.Metrics = metrics.New()
		a.Logger.Info().Msg("prometheus metrics enabled")
	}

	// Counter store: Redis when configured, SQLite otherwise.
	a.counterStore = a.buildCounterStore(cfg)

	// Usage recording
	a.usageStore = sqlite.NewUsageStore(db)
	a.usageRecorder = NewBufferedUsageRecorder(a.usageStore, a.Logger, cfg.Usage.BatchSize, cfg.Usage.FlushInterval)

	// Model client
	modelClient, err := model.New(model.Config{
		Provider:    model.Provider(cfg.AI.Provider),
		Model:       cfg.AI.Model,
		APIKey:      cfg.AI.APIKey,
		BaseURL:     cfg.AI.BaseURL,
		MaxTokens:   cfg.AI.MaxTokens,
		Temperature: cfg.AI.Temperature,
		Timeout:     cfg.AI.Timeout,
	})
	if err != nil {
		return fmt.Errorf("build model client: %w", err)
	}
	a.Logger.Info().Str("provider", cfg.AI.Provider).Str("model", cfg.AI.Model).Msg("model client ready")

	// Services
	a.Quota = app.NewQuotaService(app.QuotaDeps{
		Store:   a.counterStore,
		Clock:   clock.Real{},
		Logger:  a.Logger.With().Str("component", "quota").Logger(),
		Metrics: a.Metrics,
	}, cfg.Quota.IsFailOpen())

	a.AI = app.NewAIService(app.AIDeps{
		Quota:   a.Quota,
		Model:   modelClient,
		Rec:     reconcile.New(reconcile.Config{}),
		Usage:   a.usageRecorder,
		IDGen:   idgen.UUID{},
		Clock:   clock.Real{},
		Logger:  a.Logger.With().Str("component", "ai").Logger(),
		Metrics: a.Metrics,
	}, app.AIConfig{
		Timeout: cfg.AI.Timeout,
		Limits:  planLimits(cfg.Quota.Plan),
	})

	// HTTP server
	handler := web.NewHandler(web.Deps{
		AI:     a.AI,
		Quota:  a.Quota,
		Logger: a.Logger,
	})
	router := handler.Router(web.RouterConfig{
		MetricsEnabled: cfg.Metrics.IsEnabled(),
		MetricsPath:    cfg.Metrics.Path,
	})

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	a.HTTPServer = &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}
	a.Logger.Info().Str("addr", addr).Msg("http server configured")

	go a.cleanupLoop(cfg.Usage.RetentionDays)

	return nil
}

// buildCounterStore selects the quota counter backend. Redis failures
// at startup are logged but not fatal: the fail-open policy decides
// what happens to requests while it is down.
func (a *App) buildCounterStore(cfg *config.Config) ports.CounterStore {
	if cfg.Redis.Addr == "" {
		a.Logger.Info().Msg("quota counters in sqlite")
		return sqlite.NewCounterStore(a.DB)
	}

	a.redisClient = goredis.NewClient(&goredis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	store := redisadapter.New(a.redisClient)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := store.Ping(ctx); err != nil {
		a.Logger.Warn().Err(err).Str("addr", cfg.Redis.Addr).Msg("redis unreachable at startup")
	} else {
		a.Logger.Info().Str("addr", cfg.Redis.Addr).Msg("quota counters in redis")
	}
	return store
}

// registerReload applies hot-reloadable settings when the config file
// changes.
func (a *App) registerReload(holder *config.Holder) {
	holder.OnChange(func(cfg *config.Config) {
		a.AI.UpdateLimits(planLimits(cfg.Quota.Plan))
		a.Quota.SetFailOpen(cfg.Quota.IsFailOpen())

		if level, err := zerolog.ParseLevel(cfg.Logging.Level); err == nil {
			zerolog.SetGlobalLevel(level)
		}
	})
}

func planLimits(p config.PlanConfig) quota.Limits {
	return quota.Limits{
		PlanType: p.Type,
		PerDay:   p.DailyLimit,
		PerMonth: p.MonthlyLimit,
	}
}

// cleanupLoop periodically drops expired counters and old usage events.
func (a *App) cleanupLoop(retentionDays int) {
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()

	for {
		select {
		case <-a.cleanupStop:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			now := time.Now()

			if cs, ok := a.counterStore.(*sqlite.CounterStore); ok {
				if n, err := cs.CleanupExpired(ctx, now); err != nil {
					a.Logger.Warn().Err(err).Msg("counter cleanup failed")
				} else if n > 0 {
					a.Logger.Debug().Int64("removed", n).Msg("expired counters removed")
				}
			}

			if retentionDays > 0 {
				cutoff := now.AddDate(0, 0, -retentionDays)
				if n, err := a.usageStore.DeleteBefore(ctx, cutoff); err != nil {
					a.Logger.Warn().Err(err).Msg("usage retention cleanup failed")
				} else if n > 0 {
					a.Logger.Debug().Int64("removed", n).Msg("old usage events removed")
				}
			}
			cancel()
		}
	}
}

// Run starts the HTTP server and blocks until interrupted.
func (a *App) Run() error {
	errCh := make(chan error, 1)
	go func() {
		a.Logger.Info().Str("addr", a.HTTPServer.Addr).Msg("starting http server")
		if err := a.HTTPServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	case sig := <-quit:
		a.Logger.Info().Str("signal", sig.String()).Msg("shutting down")
	}

	return a.Shutdown()
}

// Shutdown gracefully stops the application.
func (a *App) Shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	close(a.cleanupStop)

	if a.Config != nil {
		a.Config.Stop()
	}

	if a.HTTPServer != nil {
		if err := a.HTTPServer.Shutdown(ctx); err != nil {
			a.Logger.Error().Err(err).Msg("http server shutdown error")
		}
	}

	a.closePartial()

	a.Logger.Info().Msg("shutdown complete")
	return nil
}

// closePartial releases adapters in reverse dependency order. Safe to
// call with only some of them initialized.
func (a *App) closePartial() {
	if a.usageRecorder != nil {
		if err := a.usageRecorder.Close(); err != nil {
			a.Logger.Error().Err(err).Msg("usage recorder close error")
		}
	}
	if a.redisClient != nil {
		if err := a.redisClient.Close(); err != nil {
			a.Logger.Error().Err(err).Msg("redis close error")
		}
	}
	if a.DB != nil {
		if err := a.DB.Close(); err != nil {
			a.Logger.Error().Err(err).Msg("database close error")
		}
	}
}

func setupLogger(cfg config.LoggingConfig) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	if cfg.Format == "console" {
		output := zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}
		return zerolog.New(output).With().Timestamp().Logger()
	}
	return zerolog.New(os.Stdout).With().Timestamp().Logger()
}
