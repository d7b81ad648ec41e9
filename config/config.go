// Package config provides configuration loading and validation.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Gateways GatewaysConfig `yaml:"gateways"`
	Payments PaymentsConfig `yaml:"payments"`
	Renewal  RenewalConfig  `yaml:"renewal"`
	Sweep    SweepConfig    `yaml:"sweep"`
	Queue    QueueConfig    `yaml:"queue"`
	Email    EmailConfig    `yaml:"email"`
	Logging  LoggingConfig  `yaml:"logging"`
	Metrics  MetricsConfig  `yaml:"metrics"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Host         string        `yaml:"host"`
	Port         int           `yaml:"port"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

// DatabaseConfig configures the database.
type DatabaseConfig struct {
	Driver string `yaml:"driver"` // "sqlite"
	DSN    string `yaml:"dsn"`
}

// GatewaysConfig configures the payment gateways. A gateway is enabled
// when its section carries credentials; "dummy" is for development only.
type GatewaysConfig struct {
	Default string       `yaml:"default"`
	Dummy   bool         `yaml:"dummy"`
	PayVN   PayVNConfig  `yaml:"payvn"`
	Stripe  StripeConfig `yaml:"stripe"`
}

// PayVNConfig holds the redirect-gateway credentials.
type PayVNConfig struct {
	PayURL     string `yaml:"pay_url"`
	TmnCode    string `yaml:"tmn_code"`
	HashSecret string `yaml:"hash_secret,omitempty"`
	ReturnURL  string `yaml:"return_url"`
}

// StripeConfig holds the hosted-checkout gateway credentials.
type StripeConfig struct {
	SecretKey     string `yaml:"secret_key,omitempty"`
	WebhookSecret string `yaml:"webhook_secret,omitempty"`
}

// PaymentsConfig configures the purchase flow.
type PaymentsConfig struct {
	PendingTTL time.Duration `yaml:"pending_ttl"`
	SuccessURL string        `yaml:"success_url"`
	FailureURL string        `yaml:"failure_url"`
}

// RenewalConfig configures the recurring billing coordinator.
type RenewalConfig struct {
	Cron          string        `yaml:"cron"`
	Lookahead     time.Duration `yaml:"lookahead"`
	ConfirmWindow time.Duration `yaml:"confirm_window"`
	GracePeriod   time.Duration `yaml:"grace_period"`
	ReminderCron  string        `yaml:"reminder_cron"`
	ReminderLead  time.Duration `yaml:"reminder_lead"`
}

// SweepConfig configures the cleanup sweeper.
type SweepConfig struct {
	Cron               string        `yaml:"cron"`
	EventRetention     time.Duration `yaml:"event_retention"`
	InvoiceBackfillAge time.Duration `yaml:"invoice_backfill_age"`
}

// QueueConfig configures the in-process job queue.
type QueueConfig struct {
	Workers     int           `yaml:"workers"`
	MaxAttempts int           `yaml:"max_attempts"`
	BaseBackoff time.Duration `yaml:"base_backoff"`
}

// EmailConfig configures billing notices.
// Use "none", "smtp", or "mock".
type EmailConfig struct {
	Provider string     `yaml:"provider"`
	AppName  string     `yaml:"app_name"`
	SMTP     SMTPConfig `yaml:"smtp,omitempty"`
}

// SMTPConfig holds SMTP delivery settings.
type SMTPConfig struct {
	Host       string        `yaml:"host"`
	Port       int           `yaml:"port"`
	Username   string        `yaml:"username,omitempty"`
	Password   string        `yaml:"password,omitempty"`
	From       string        `yaml:"from"`
	FromName   string        `yaml:"from_name"`
	UseTLS     bool          `yaml:"use_tls"`
	SkipVerify bool          `yaml:"skip_verify"`
	Timeout    time.Duration `yaml:"timeout"`
}

// LoggingConfig configures logging.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // "debug", "info", "warn", "error"
	Format string `yaml:"format"` // "json" or "console"
}

// MetricsConfig configures Prometheus metrics.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
}

// Load reads configuration from a YAML file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	// Expand environment variables
	data = []byte(os.ExpandEnv(string(data)))

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	applyEnvOverrides(&cfg)
	setDefaults(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return &cfg, nil
}

// LoadFromEnv creates configuration entirely from environment variables.
// Useful for container deployments without a config file.
func LoadFromEnv() (*Config, error) {
	var cfg Config

	applyEnvOverrides(&cfg)
	setDefaults(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return &cfg, nil
}

// LoadWithFallback tries to load from file, falls back to environment
// variables.
func LoadWithFallback(path string) (*Config, error) {
	if path != "" {
		if _, err := os.Stat(path); err == nil {
			return Load(path)
		}
	}
	return LoadFromEnv()
}

// applyEnvOverrides applies BILLGATE_* environment variables to the config.
// Environment variables always override file-based configuration.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("BILLGATE_SERVER_HOST"); v != "" {
		cfg.Server.Host = v
	}
	if v := os.Getenv("BILLGATE_SERVER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}

	if v := os.Getenv("BILLGATE_DATABASE_DSN"); v != "" {
		cfg.Database.DSN = v
	}

	if v := os.Getenv("BILLGATE_GATEWAY_DEFAULT"); v != "" {
		cfg.Gateways.Default = v
	}
	if v := os.Getenv("BILLGATE_PAYVN_TMN_CODE"); v != "" {
		cfg.Gateways.PayVN.TmnCode = v
	}
	if v := os.Getenv("BILLGATE_PAYVN_HASH_SECRET"); v != "" {
		cfg.Gateways.PayVN.HashSecret = v
	}
	if v := os.Getenv("BILLGATE_PAYVN_PAY_URL"); v != "" {
		cfg.Gateways.PayVN.PayURL = v
	}
	if v := os.Getenv("BILLGATE_PAYVN_RETURN_URL"); v != "" {
		cfg.Gateways.PayVN.ReturnURL = v
	}
	if v := os.Getenv("BILLGATE_STRIPE_SECRET_KEY"); v != "" {
		cfg.Gateways.Stripe.SecretKey = v
	}
	if v := os.Getenv("BILLGATE_STRIPE_WEBHOOK_SECRET"); v != "" {
		cfg.Gateways.Stripe.WebhookSecret = v
	}

	if v := os.Getenv("BILLGATE_PAYMENTS_PENDING_TTL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Payments.PendingTTL = d
		}
	}
	if v := os.Getenv("BILLGATE_RENEWAL_GRACE_PERIOD"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Renewal.GracePeriod = d
		}
	}

	if v := os.Getenv("BILLGATE_EMAIL_PROVIDER"); v != "" {
		cfg.Email.Provider = v
	}
	if v := os.Getenv("BILLGATE_SMTP_HOST"); v != "" {
		cfg.Email.SMTP.Host = v
	}
	if v := os.Getenv("BILLGATE_SMTP_PASSWORD"); v != "" {
		cfg.Email.SMTP.Password = v
	}

	if v := os.Getenv("BILLGATE_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("BILLGATE_LOG_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}
	if v := os.Getenv("BILLGATE_METRICS_ENABLED"); v != "" {
		cfg.Metrics.Enabled = parseBool(v)
	}
}

// parseBool parses a boolean from common string values.
func parseBool(v string) bool {
	v = strings.ToLower(strings.TrimSpace(v))
	return v == "true" || v == "1" || v == "yes" || v == "on"
}

func setDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "0.0.0.0"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.ReadTimeout == 0 {
		cfg.Server.ReadTimeout = 30 * time.Second
	}
	if cfg.Server.WriteTimeout == 0 {
		cfg.Server.WriteTimeout = 60 * time.Second
	}

	if cfg.Database.Driver == "" {
		cfg.Database.Driver = "sqlite"
	}
	if cfg.Database.DSN == "" {
		cfg.Database.DSN = "billgate.db"
	}

	if cfg.Payments.PendingTTL == 0 {
		cfg.Payments.PendingTTL = 15 * time.Minute
	}

	if cfg.Renewal.Cron == "" {
		cfg.Renewal.Cron = "0 * * * *" // hourly
	}
	if cfg.Renewal.Lookahead == 0 {
		cfg.Renewal.Lookahead = 24 * time.Hour
	}
	if cfg.Renewal.ConfirmWindow == 0 {
		cfg.Renewal.ConfirmWindow = 24 * time.Hour
	}
	if cfg.Renewal.GracePeriod == 0 {
		cfg.Renewal.GracePeriod = 7 * 24 * time.Hour
	}
	if cfg.Renewal.ReminderCron == "" {
		cfg.Renewal.ReminderCron = "0 9 * * *" // daily, 09:00
	}
	if cfg.Renewal.ReminderLead == 0 {
		cfg.Renewal.ReminderLead = 7 * 24 * time.Hour
	}

	if cfg.Sweep.Cron == "" {
		cfg.Sweep.Cron = "*/5 * * * *" // every five minutes
	}
	if cfg.Sweep.EventRetention == 0 {
		cfg.Sweep.EventRetention = 90 * 24 * time.Hour
	}
	if cfg.Sweep.InvoiceBackfillAge == 0 {
		cfg.Sweep.InvoiceBackfillAge = time.Hour
	}

	if cfg.Queue.Workers == 0 {
		cfg.Queue.Workers = 4
	}
	if cfg.Queue.MaxAttempts == 0 {
		cfg.Queue.MaxAttempts = 5
	}
	if cfg.Queue.BaseBackoff == 0 {
		cfg.Queue.BaseBackoff = 30 * time.Second
	}

	if cfg.Email.Provider == "" {
		cfg.Email.Provider = "none"
	}
	if cfg.Email.AppName == "" {
		cfg.Email.AppName = "BillGate"
	}

	if cfg.Gateways.Default == "" {
		cfg.Gateways.Default = "payvn"
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
}

func validate(cfg *Config) error {
	if cfg.Database.Driver != "sqlite" {
		return fmt.Errorf("database.driver must be 'sqlite', got %q", cfg.Database.Driver)
	}

	validEmail := map[string]bool{"none": true, "smtp": true, "mock": true}
	if !validEmail[cfg.Email.Provider] {
		return fmt.Errorf("email.provider must be one of: none, smtp, mock")
	}
	if cfg.Email.Provider == "smtp" && cfg.Email.SMTP.Host == "" {
		return fmt.Errorf("email.smtp.host is required when email.provider is 'smtp'")
	}

	if cfg.Gateways.PayVN.TmnCode != "" && cfg.Gateways.PayVN.HashSecret == "" {
		return fmt.Errorf("gateways.payvn.hash_secret is required when tmn_code is set")
	}
	if cfg.Gateways.Stripe.SecretKey != "" && cfg.Gateways.Stripe.WebhookSecret == "" {
		return fmt.Errorf("gateways.stripe.webhook_secret is required when secret_key is set")
	}

	if !gatewayConfigured(cfg, cfg.Gateways.Default) {
		return fmt.Errorf("gateways.default %q has no credentials configured", cfg.Gateways.Default)
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[cfg.Logging.Level] {
		return fmt.Errorf("logging.level must be one of: debug, info, warn, error")
	}

	return nil
}

func gatewayConfigured(cfg *Config, name string) bool {
	switch name {
	case "payvn":
		return cfg.Gateways.PayVN.TmnCode != ""
	case "dummy":
		return cfg.Gateways.Dummy
	case "stripe":
		return cfg.Gateways.Stripe.SecretKey != ""
	}
	return false
}

// EnabledGateways lists every gateway with credentials configured.
func (c *Config) EnabledGateways() []string {
	var out []string
	for _, name := range []string{"payvn", "stripe", "dummy"} {
		if gatewayConfigured(c, name) {
			out = append(out, name)
		}
	}
	return out
}
