// loader.go implements the configuration loading lifecycle.
//
// The loading sequence is:
//  1. Enforce UTC process timezone to prevent drift between the queue's
//     absolute timestamps and local clock reads.
//  2. Load a .env file via godotenv (non-fatal if absent; never overrides
//     existing environment variables).
//  3. Process envconfig tags to populate the Config struct.
//  4. Validate the struct with go-playground/validator (fail fast).
package config

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Load reads, defaults, and validates the process configuration. Any
// missing required value or invalid format is returned as an error; callers
// are expected to exit on failure rather than run half-configured.
func Load() (*Config, error) {
	time.Local = time.UTC

	_ = godotenv.Load()

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("config: processing environment: %w", err)
	}

	if err := validate(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// validate runs struct-tag validation plus the cross-field checks that
// validator tags cannot express (provider-specific credential presence).
func validate(cfg *Config) error {
	v := validator.New()
	if err := v.Struct(cfg); err != nil {
		return fmt.Errorf("config: validation failed: %w", err)
	}

	switch cfg.Email.Provider {
	case "sendgrid":
		if cfg.Email.SendGridAPIKey.Unmask() == "" {
			return fmt.Errorf("config: SENDGRID_API_KEY is required when EMAIL_PROVIDER=sendgrid")
		}
	case "smtp":
		if cfg.Email.SMTPHost == "" {
			return fmt.Errorf("config: SMTP_HOST is required when EMAIL_PROVIDER=smtp")
		}
	}

	return nil
}
