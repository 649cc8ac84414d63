// Package config defines the process configuration for the notification
// engine. Configuration is loaded once at startup and is immutable
// thereafter. Values come from the OS environment, falling back to a .env
// file for local development.
//
// Any missing required value or invalid format fails startup.
package config

import (
	"time"

	"alertrelay/internal/types"
)

// SecretString is an alias for types.SecretString so config consumers do not
// need to import types for credential fields.
type SecretString = types.SecretString

// Config is the top-level configuration struct. Sub-components receive only
// the sub-config they need.
type Config struct {
	Environment string `envconfig:"APP_ENV" validate:"required,oneof=local dev staging prod"`
	Service     string `envconfig:"SERVICE_NAME" default:"alertrelay"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info" validate:"oneof=debug info warn error"`

	Server        ServerConfig
	Database      DatabaseConfig
	AWS           AWSConfig
	Email         EmailConfig
	Webhook       WebhookConfig
	Dispatch      DispatchConfig
	Retry         RetryConfig
	Auth          AuthConfig
	Observability ObservabilityConfig
}

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Port            string        `envconfig:"PORT" default:"8080"`
	ReadTimeout     time.Duration `envconfig:"HTTP_READ_TIMEOUT" default:"10s"`
	WriteTimeout    time.Duration `envconfig:"HTTP_WRITE_TIMEOUT" default:"30s"`
	RequestTimeout  time.Duration `envconfig:"HTTP_REQUEST_TIMEOUT" default:"25s"`
	ShutdownTimeout time.Duration `envconfig:"SHUTDOWN_TIMEOUT" default:"20s"`
}

// DatabaseConfig holds database connection and pool tuning parameters.
type DatabaseConfig struct {
	URL             SecretString  `envconfig:"DATABASE_URL" validate:"required"`
	MaxConns        int32         `envconfig:"DB_MAX_CONNS" default:"10" validate:"min=1"`
	MinConns        int32         `envconfig:"DB_MIN_CONNS" default:"1" validate:"min=0"`
	MaxConnLifetime time.Duration `envconfig:"DB_MAX_CONN_LIFETIME" default:"30m"`
	ApplySchema     bool          `envconfig:"DB_APPLY_SCHEMA" default:"false"`
}

// AWSConfig holds AWS settings used by the SQS submitter and CloudWatch.
type AWSConfig struct {
	Region          string `envconfig:"AWS_REGION" default:"us-east-1"`
	TriggerQueueURL string `envconfig:"TRIGGER_QUEUE_URL" validate:"omitempty,url"`
}

// EmailConfig holds the transactional-email provider settings.
type EmailConfig struct {
	SendGridAPIKey SecretString  `envconfig:"SENDGRID_API_KEY"`
	BaseURL        string        `envconfig:"SENDGRID_BASE_URL" validate:"omitempty,url"`
	FromAddress    string        `envconfig:"EMAIL_FROM_ADDRESS" default:"alerts@alertrelay.io" validate:"required,email"`
	FromName       string        `envconfig:"EMAIL_FROM_NAME" default:"AlertRelay"`
	Timeout        time.Duration `envconfig:"EMAIL_TIMEOUT" default:"10s"`
}

// WebhookConfig holds outbound webhook delivery settings shared by the
// slack, teams and generic senders.
type WebhookConfig struct {
	Timeout              time.Duration `envconfig:"WEBHOOK_TIMEOUT" default:"10s"`
	MaxRedirects         int           `envconfig:"WEBHOOK_MAX_REDIRECTS" default:"3" validate:"min=0,max=10"`
	AllowPrivateNetworks bool          `envconfig:"WEBHOOK_ALLOW_PRIVATE_NETWORKS" default:"false"`
	UserAgent            string        `envconfig:"WEBHOOK_USER_AGENT" default:"AlertRelay-Webhook/1.0"`
}

// DispatchConfig tunes the immediate delivery path and the fire-and-forget
// submitter.
type DispatchConfig struct {
	ImmediateAttempts int           `envconfig:"IMMEDIATE_ATTEMPTS" default:"3" validate:"min=1,max=10"`
	ImmediateBackoff  time.Duration `envconfig:"IMMEDIATE_BACKOFF" default:"200ms" validate:"gt=0"`

	SubmitterWorkers   int    `envconfig:"SUBMITTER_WORKERS" default:"4" validate:"min=1"`
	SubmitterQueueSize int    `envconfig:"SUBMITTER_QUEUE_SIZE" default:"256" validate:"min=1"`
	SubmitterMode      string `envconfig:"SUBMITTER_MODE" default:"inprocess" validate:"oneof=inprocess sqs"`

	// ChannelRateLimit caps outbound sends per second per channel type.
	// Zero disables limiting.
	ChannelRateLimit float64 `envconfig:"CHANNEL_RATE_LIMIT" default:"0" validate:"min=0"`
	ChannelBurst     int     `envconfig:"CHANNEL_RATE_BURST" default:"10" validate:"min=1"`
}

// RetryConfig tunes the persisted retry queue and its poller.
type RetryConfig struct {
	BaseDelay     time.Duration `envconfig:"RETRY_BASE_DELAY" default:"120s" validate:"gt=0"`
	MaxDelay      time.Duration `envconfig:"RETRY_MAX_DELAY" default:"1h" validate:"gtfield=BaseDelay"`
	MaxAttempts   int           `envconfig:"RETRY_MAX_ATTEMPTS" default:"5" validate:"min=1"`
	BatchSize     int           `envconfig:"RETRY_BATCH_SIZE" default:"50" validate:"min=1,max=1000"`
	Concurrency   int           `envconfig:"RETRY_CONCURRENCY" default:"4" validate:"min=1"`
	Schedule      string        `envconfig:"RETRY_POLL_SCHEDULE" default:"@every 30s" validate:"required"`
	StaleAfter    time.Duration `envconfig:"RETRY_STALE_AFTER" default:"10m" validate:"gt=0"`
	EmbeddedInAPI bool          `envconfig:"RETRY_POLLER_EMBEDDED" default:"false"`
}

// AuthConfig holds producer authentication settings. ProducerKeyHashes is a
// comma-separated list of name:bcrypt-hash pairs; an empty list disables
// authentication on the trigger endpoints.
type AuthConfig struct {
	ProducerKeyHashes []string `envconfig:"PRODUCER_KEY_HASHES"`

	// ProducerRateLimit caps trigger requests per second per producer.
	// Zero disables limiting.
	ProducerRateLimit float64 `envconfig:"PRODUCER_RATE_LIMIT" default:"0" validate:"min=0"`
	ProducerBurst     int     `envconfig:"PRODUCER_RATE_BURST" default:"50" validate:"min=1"`
}

// ObservabilityConfig selects the metrics backend.
type ObservabilityConfig struct {
	MetricsBackend string `envconfig:"METRICS_BACKEND" default:"prometheus" validate:"oneof=prometheus cloudwatch none"`
}

// ConfigErrorType categorizes configuration loading failures.
type ConfigErrorType string

const (
	ErrMissingEnv ConfigErrorType = "MISSING_ENV"
	ErrValidation ConfigErrorType = "VALIDATION_FAILED"
	ErrParsing    ConfigErrorType = "PARSING_FAILED"
)
