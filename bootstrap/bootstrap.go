// Package bootstrap wires all dependencies and starts the application:
// config, database, gateways, job queue, billing services, cron schedules
// and the HTTP server.
package bootstrap

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/artpar/billgate/adapters/clock"
	"github.com/artpar/billgate/adapters/directory"
	"github.com/artpar/billgate/adapters/email"
	"github.com/artpar/billgate/adapters/gateway"
	"github.com/artpar/billgate/adapters/idgen"
	"github.com/artpar/billgate/adapters/metrics"
	"github.com/artpar/billgate/adapters/queue"
	"github.com/artpar/billgate/adapters/sqlite"
	"github.com/artpar/billgate/app"
	"github.com/artpar/billgate/config"
	"github.com/artpar/billgate/ports"
	"github.com/artpar/billgate/web"
)

// App represents the running application.
type App struct {
	Logger     zerolog.Logger
	Config     *config.Holder
	DB         *sqlite.DB
	Metrics    *metrics.Collector
	HTTPServer *http.Server
	Queue      *queue.Memory
	Cron       *cron.Cron

	// Stores, exposed for the CLI commands.
	Packages ports.PackageStore

	// Services
	Payments      *app.PaymentService
	Subscriptions *app.SubscriptionService
	Invoices      *app.InvoiceService
	Renewals      *app.RenewalService
	Webhooks      *app.WebhookService
	Sweeper       *app.SweeperService

	emailSender ports.EmailSender
}

// New creates and initializes the application from the given config file.
// An empty path (or a missing file) falls back to environment variables
// only, without hot reload.
func New(configPath string) (*App, error) {
	cfg, err := config.LoadWithFallback(configPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	logger := NewLogger(cfg.Logging)
	logger.Info().Msg("initializing billgate")

	a := &App{Logger: logger}
	if err := a.init(cfg); err != nil {
		return nil, err
	}

	if configPath != "" {
		if _, statErr := os.Stat(configPath); statErr == nil {
			if err := a.initHotReload(configPath); err != nil {
				return nil, err
			}
		}
	}

	return a, nil
}

func (a *App) init(cfg *config.Config) error {
	db, err := sqlite.Open(cfg.Database.DSN)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	if err := db.Migrate(); err != nil {
		db.Close()
		return fmt.Errorf("migrate: %w", err)
	}
	a.DB = db
	a.Logger.Info().Str("dsn", cfg.Database.DSN).Msg("database initialized")

	if cfg.Metrics.Enabled {
		a.Metrics = metrics.New()
		a.Logger.Info().Msg("prometheus metrics enabled")
	}

	clk := clock.Real{}
	ids := idgen.UUID{}

	gateways, err := buildGateways(cfg, clk)
	if err != nil {
		return err
	}
	for name := range gateways {
		a.Logger.Info().Str("gateway", name).Msg("gateway enabled")
	}

	sender, err := email.NewSender(cfg.Email.Provider, email.SMTPConfig{
		Host:       cfg.Email.SMTP.Host,
		Port:       cfg.Email.SMTP.Port,
		Username:   cfg.Email.SMTP.Username,
		Password:   cfg.Email.SMTP.Password,
		From:       cfg.Email.SMTP.From,
		FromName:   cfg.Email.SMTP.FromName,
		UseTLS:     cfg.Email.SMTP.UseTLS,
		SkipVerify: cfg.Email.SMTP.SkipVerify,
		Timeout:    cfg.Email.SMTP.Timeout,
	}, cfg.Email.AppName)
	if err != nil {
		a.Logger.Warn().Err(err).Msg("email sender unavailable, notices disabled")
		sender = email.NewNoopSender()
	}
	a.emailSender = sender

	a.Queue = queue.NewMemory(queue.Options{
		Workers:     cfg.Queue.Workers,
		MaxAttempts: cfg.Queue.MaxAttempts,
		BaseBackoff: cfg.Queue.BaseBackoff,
	}, clk, a.Logger)

	packages := sqlite.NewPackageStore(db)
	payments := sqlite.NewPaymentStore(db)
	subscriptions := sqlite.NewSubscriptionStore(db)
	invoices := sqlite.NewInvoiceStore(db)
	events := sqlite.NewEventStore(db)
	a.Packages = packages

	// Buyer identity is owned by the surrounding platform; invoices fall
	// back to a blank buyer block when no directory is provisioned.
	buyers := directory.Noop{}

	policy := policyFromConfig(cfg)

	a.Payments = app.NewPaymentService(packages, payments, gateways, ids, clk, policy, a.Metrics, a.Logger)
	a.Subscriptions = app.NewSubscriptionService(subscriptions, packages, ids, clk, a.Metrics, a.Logger)
	a.Invoices = app.NewInvoiceService(invoices, payments, packages, buyers, ids, clk, a.Logger)
	a.Renewals = app.NewRenewalService(subscriptions, payments, packages, gateways, buyers, sender, a.Queue, ids, clk, policy, a.Metrics, a.Logger)
	a.Webhooks = app.NewWebhookService(events, payments, gateways, a.Subscriptions, a.Renewals, a.Invoices, ids, clk, a.Metrics, a.Logger)
	a.Sweeper = app.NewSweeperService(subscriptions, payments, events, a.Payments, a.Subscriptions, a.Invoices, a.Renewals, clk, policy, a.Metrics, a.Logger)

	if err := a.initCron(cfg); err != nil {
		return err
	}
	a.initHTTPServer(cfg)
	return nil
}

func buildGateways(cfg *config.Config, clk ports.Clock) (map[string]ports.GatewayProvider, error) {
	gwCfg := gateway.Config{
		Stripe: gateway.StripeConfig{
			SecretKey:     cfg.Gateways.Stripe.SecretKey,
			WebhookSecret: cfg.Gateways.Stripe.WebhookSecret,
		},
		PayVN: gateway.PayVNConfig{
			PayURL:     cfg.Gateways.PayVN.PayURL,
			TmnCode:    cfg.Gateways.PayVN.TmnCode,
			HashSecret: cfg.Gateways.PayVN.HashSecret,
			ReturnURL:  cfg.Gateways.PayVN.ReturnURL,
		},
	}

	gateways := make(map[string]ports.GatewayProvider)
	for _, name := range cfg.EnabledGateways() {
		p, err := gateway.NewProvider(name, gwCfg, clk)
		if err != nil {
			return nil, fmt.Errorf("gateway %s: %w", name, err)
		}
		gateways[name] = p
	}
	if len(gateways) == 0 {
		return nil, fmt.Errorf("no payment gateway configured")
	}
	return gateways, nil
}

func policyFromConfig(cfg *config.Config) app.Policy {
	return app.Policy{
		PendingTTL:         cfg.Payments.PendingTTL,
		RenewalLookahead:   cfg.Renewal.Lookahead,
		ConfirmWindow:      cfg.Renewal.ConfirmWindow,
		GracePeriod:        cfg.Renewal.GracePeriod,
		EventRetention:     cfg.Sweep.EventRetention,
		ReminderLead:       cfg.Renewal.ReminderLead,
		InvoiceBackfillAge: cfg.Sweep.InvoiceBackfillAge,
	}
}

func (a *App) initCron(cfg *config.Config) error {
	c := cron.New()

	schedule := func(name, spec string, run func(context.Context) error) error {
		_, err := c.AddFunc(spec, func() {
			ctx := context.Background()
			if err := run(ctx); err != nil {
				a.Logger.Error().Err(err).Str("job", name).Msg("scheduled job failed")
			}
		})
		if err != nil {
			return fmt.Errorf("schedule %s (%q): %w", name, spec, err)
		}
		a.Logger.Info().Str("job", name).Str("spec", spec).Msg("job scheduled")
		return nil
	}

	if err := schedule("renewal", cfg.Renewal.Cron, a.Renewals.Run); err != nil {
		return err
	}
	if err := schedule("renewal_reminders", cfg.Renewal.ReminderCron, a.Renewals.RunReminders); err != nil {
		return err
	}
	if err := schedule("sweep", cfg.Sweep.Cron, a.Sweeper.Run); err != nil {
		return err
	}

	a.Cron = c
	return nil
}

func (a *App) initHTTPServer(cfg *config.Config) {
	handler := web.NewHandler(web.Deps{
		Payments:      a.Payments,
		Subscriptions: a.Subscriptions,
		Webhooks:      a.Webhooks,
		Redirects: web.RedirectPages{
			SuccessURL: cfg.Payments.SuccessURL,
			FailureURL: cfg.Payments.FailureURL,
		},
		Logger: a.Logger,
	})

	router := web.NewRouterWithConfig(handler, a.Logger, web.RouterConfig{Metrics: a.Metrics})

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	a.HTTPServer = &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}
	a.Logger.Info().Str("addr", addr).Msg("http server configured")
}

func (a *App) initHotReload(configPath string) error {
	holder, err := config.NewHolder(configPath, a.Logger)
	if err != nil {
		return fmt.Errorf("config holder: %w", err)
	}
	if a.Metrics != nil {
		holder.SetMetrics(a.Metrics)
	}
	holder.OnChange(a.applyConfig)

	if err := holder.WatchFile(); err != nil {
		a.Logger.Warn().Err(err).Msg("config file watch unavailable, SIGHUP still works")
	}
	holder.WatchSignals()

	a.Config = holder
	return nil
}

// applyConfig pushes the reloadable parts of a new config into the running
// services. Server, database, gateway and queue changes need a restart.
func (a *App) applyConfig(cfg *config.Config) {
	if level, err := zerolog.ParseLevel(cfg.Logging.Level); err == nil {
		zerolog.SetGlobalLevel(level)
	}

	policy := policyFromConfig(cfg)
	a.Payments.UpdatePolicy(policy)
	a.Renewals.UpdatePolicy(policy)
	a.Sweeper.UpdatePolicy(policy)

	a.Logger.Info().Msg("runtime policy updated from config")
}

// Run starts the queue workers, cron schedules and HTTP server, then
// blocks until shutdown.
func (a *App) Run() error {
	a.Queue.Start()
	a.Cron.Start()

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

	if a.Cron != nil {
		stopCtx := a.Cron.Stop()
		select {
		case <-stopCtx.Done():
		case <-ctx.Done():
			a.Logger.Warn().Msg("cron jobs did not finish before shutdown deadline")
		}
	}

	if a.HTTPServer != nil {
		if err := a.HTTPServer.Shutdown(ctx); err != nil {
			a.Logger.Error().Err(err).Msg("http server shutdown error")
		}
	}

	if a.Queue != nil {
		if err := a.Queue.Close(); err != nil {
			a.Logger.Error().Err(err).Msg("queue close error")
		}
	}

	if a.Config != nil {
		a.Config.Stop()
	}

	if a.DB != nil {
		if err := a.DB.Close(); err != nil {
			a.Logger.Error().Err(err).Msg("database close error")
		}
	}

	a.Logger.Info().Msg("shutdown complete")
	return nil
}

// NewLogger builds the process logger from the logging config.
func NewLogger(cfg config.LoggingConfig) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil || cfg.Level == "" {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	if cfg.Format == "console" {
		output := zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}
		return zerolog.New(output).With().Timestamp().Logger()
	}
	return zerolog.New(os.Stdout).With().Timestamp().Logger()
}
