package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"github.com/robfig/cron/v3"
)

// ConfigError is a diagnostic error type returned by LoadConfig.
type ConfigError struct {
	Type    ConfigErrorType
	Message string
	Err     error
}

// Error implements the error interface.
func (e *ConfigError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Type, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Type, e.Message)
}

// Unwrap returns the underlying error for use with errors.Is/errors.As.
func (e *ConfigError) Unwrap() error {
	return e.Err
}

// loaderDeps holds the injectable dependencies for the loader.
type loaderDeps struct {
	loadDotenv func() error
}

func defaultDeps() loaderDeps {
	return loaderDeps{
		loadDotenv: func() error { return godotenv.Load() },
	}
}

// LoadConfig loads and validates the process configuration.
//
// Steps:
//  1. Sets the process timezone to UTC.
//  2. Loads a .env file if present. It never overrides variables already
//     set in the environment.
//  3. Processes envconfig tags to populate the Config struct.
//  4. Validates the struct with go-playground/validator and the cross-field
//     rules in validateSemantics.
func LoadConfig() (*Config, error) {
	return loadConfigWithDeps(defaultDeps())
}

func loadConfigWithDeps(deps loaderDeps) (*Config, error) {
	time.Local = time.UTC

	if deps.loadDotenv != nil {
		_ = deps.loadDotenv()
	}

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, &ConfigError{
			Type:    ErrParsing,
			Message: "failed to process environment configuration",
			Err:     err,
		}
	}

	validate := validator.New()
	if err := validate.Struct(cfg); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			for _, fe := range verrs {
				if fe.Tag() == "required" {
					return nil, &ConfigError{
						Type:    ErrMissingEnv,
						Message: fmt.Sprintf("required setting %s is not set", fe.Namespace()),
						Err:     err,
					}
				}
			}
		}
		return nil, &ConfigError{
			Type:    ErrValidation,
			Message: "configuration validation failed",
			Err:     err,
		}
	}

	if err := validateSemantics(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// ScheduleParser accepts standard five-field cron expressions and
// descriptors such as "@every 30s".
var ScheduleParser = cron.NewParser(
	cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// validateSemantics enforces rules that span sub-configs and cannot be
// expressed as struct tags.
func validateSemantics(cfg *Config) error {
	if cfg.Dispatch.SubmitterMode == "sqs" && cfg.AWS.TriggerQueueURL == "" {
		return &ConfigError{
			Type:    ErrValidation,
			Message: "SUBMITTER_MODE=sqs requires TRIGGER_QUEUE_URL",
		}
	}
	if cfg.Environment == "prod" && cfg.Webhook.AllowPrivateNetworks {
		return &ConfigError{
			Type:    ErrValidation,
			Message: "WEBHOOK_ALLOW_PRIVATE_NETWORKS must not be enabled in prod",
		}
	}
	if _, err := ScheduleParser.Parse(cfg.Retry.Schedule); err != nil {
		return &ConfigError{
			Type:    ErrValidation,
			Message: fmt.Sprintf("RETRY_POLL_SCHEDULE %q is not a valid cron schedule", cfg.Retry.Schedule),
			Err:     err,
		}
	}
	for _, entry := range cfg.Auth.ProducerKeyHashes {
		if name, hash, ok := strings.Cut(entry, ":"); !ok || name == "" || hash == "" {
			return &ConfigError{
				Type:    ErrValidation,
				Message: "PRODUCER_KEY_HASHES entries must be name:hash",
			}
		}
	}
	return nil
}
