// Package config defines the global configuration for the BillWatch
// reminder pipeline. Configuration is loaded once at process start and is
// immutable thereafter; sub-components receive only the config subsets
// they require.
package config

import (
	"time"

	"billwatch/internal/types"
)

// SecretString is an alias for types.SecretString, the redacted secret type
// used throughout configuration to prevent accidental logging of sensitive
// values.
type SecretString = types.SecretString

// Config is the top-level configuration struct.
type Config struct {
	Environment string `envconfig:"APP_ENV" default:"local" validate:"required,oneof=local dev staging prod"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info"`

	Server   ServerConfig
	Database DatabaseConfig
	Cron     CronConfig
	Email    EmailConfig
	Push     PushConfig
	Sync     SyncConfig
	Metrics  MetricsConfig
}

// ServerConfig holds HTTP server settings for the cron trigger surface.
type ServerConfig struct {
	Port           string        `envconfig:"PORT" default:"8080"`
	RequestTimeout time.Duration `envconfig:"REQUEST_TIMEOUT" default:"55s"`
}

// DatabaseConfig holds database connection and pool tuning parameters.
type DatabaseConfig struct {
	URL SecretString `envconfig:"DATABASE_URL" validate:"required"`

	MaxConns        int           `envconfig:"DB_MAX_CONNS" default:"10"`
	MinConns        int           `envconfig:"DB_MIN_CONNS" default:"2"`
	MaxConnLifetime time.Duration `envconfig:"DB_MAX_CONN_LIFETIME" default:"30m"`
}

// CronConfig holds settings for the externally-triggered jobs. The shared
// secret gates both trigger endpoints; requests without it are rejected
// before any work occurs.
type CronConfig struct {
	Secret SecretString `envconfig:"CRON_SECRET" validate:"required,min=16"`

	// Queue drain tuning
	DrainBatchSize       int           `envconfig:"DRAIN_BATCH_SIZE" default:"100"`
	SendTimeout          time.Duration `envconfig:"SEND_TIMEOUT" default:"15s"`
	DrainUserConcurrency int           `envconfig:"DRAIN_USER_CONCURRENCY" default:"8"`
}

// EmailConfig holds email delivery provider credentials. Provider selects
// the transport: "sendgrid" calls the SendGrid v3 HTTP API, "smtp" uses a
// plain SMTP relay.
type EmailConfig struct {
	Provider    string `envconfig:"EMAIL_PROVIDER" default:"sendgrid" validate:"oneof=sendgrid smtp"`
	FromAddress string `envconfig:"EMAIL_FROM_ADDRESS" default:"reminders@billwatch.app"`
	FromName    string `envconfig:"EMAIL_FROM_NAME" default:"BillWatch"`

	SendGridAPIKey SecretString `envconfig:"SENDGRID_API_KEY"`

	SMTPHost     string       `envconfig:"SMTP_HOST"`
	SMTPPort     int          `envconfig:"SMTP_PORT" default:"587"`
	SMTPUser     string       `envconfig:"SMTP_USER"`
	SMTPPassword SecretString `envconfig:"SMTP_PASSWORD"`
}

// PushConfig holds credentials for the two push transports: VAPID keys for
// web push and a token-auth signing key for APNs.
type PushConfig struct {
	VAPIDPublicKey  string       `envconfig:"VAPID_PUBLIC_KEY"`
	VAPIDPrivateKey SecretString `envconfig:"VAPID_PRIVATE_KEY"`
	VAPIDSubject    string       `envconfig:"VAPID_SUBJECT" default:"mailto:reminders@billwatch.app"`

	APNSKeyFile    string `envconfig:"APNS_KEY_FILE"`
	APNSKeyID      string `envconfig:"APNS_KEY_ID"`
	APNSTeamID     string `envconfig:"APNS_TEAM_ID"`
	APNSTopic      string `envconfig:"APNS_TOPIC" default:"app.billwatch.ios"`
	APNSProduction bool   `envconfig:"APNS_PRODUCTION" default:"true"`
}

// SyncConfig tunes the auto-sync orchestrator.
type SyncConfig struct {
	BatchLimit       int           `envconfig:"SYNC_BATCH_LIMIT" default:"100"`
	BatchConcurrency int           `envconfig:"SYNC_BATCH_CONCURRENCY" default:"5"`
	PerUserTimeout   time.Duration `envconfig:"SYNC_PER_USER_TIMEOUT" default:"2m"`
	LockTTL          time.Duration `envconfig:"SYNC_LOCK_TTL" default:"30m"`
	MaxResults       int           `envconfig:"SYNC_MAX_RESULTS" default:"50"`
	DaysBack         int           `envconfig:"SYNC_DAYS_BACK" default:"30"`
}

// MetricsConfig holds telemetry settings. When Enabled is false the
// pipeline runs with a no-op recorder (local development, tests).
type MetricsConfig struct {
	Enabled   bool   `envconfig:"METRICS_ENABLED" default:"false"`
	Namespace string `envconfig:"METRIC_NAMESPACE" default:"BillWatch"`
	AWSRegion string `envconfig:"AWS_REGION" default:"us-east-1"`
}
