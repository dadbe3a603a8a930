package config

import (
	"fmt"

	"github.com/go-playground/validator/v10"
)

// validate is the singleton validator instance
var validate *validator.Validate

func init() {
	validate = validator.New()
}

// Validate validates the configuration using struct tags and custom rules.
//
// This function uses go-playground/validator for declarative validation
// via struct tags, with additional custom validation for complex rules
// that cannot be expressed in tags.
//
// Note: Log level normalization is handled in ApplyDefaults, not here.
// Validation accepts both uppercase and lowercase log levels.
//
// Returns an error describing validation failures.
func Validate(cfg *Config) error {
	if err := validate.Struct(cfg); err != nil {
		return formatValidationError(err)
	}

	if err := validateCustomRules(cfg); err != nil {
		return err
	}

	return nil
}

// validateCustomRules performs custom validation beyond struct tags.
func validateCustomRules(cfg *Config) error {
	// The local tier must be fast local storage; S3 belongs on the remote
	// side of the gateway.
	if cfg.Storage.Local.Type == "s3" {
		return fmt.Errorf("storage.local: s3 is not a valid local tier type (use filesystem or memory)")
	}

	// Eviction must stop below the point where it would immediately
	// retrigger.
	if cfg.Eviction.LowWaterPercent >= cfg.Quota.HighWaterPercent {
		return fmt.Errorf("eviction.low_water_percent (%.0f) must be below quota.high_water_percent (%.0f)",
			cfg.Eviction.LowWaterPercent, cfg.Quota.HighWaterPercent)
	}

	// A quota-less deployment has nothing to evict against.
	if cfg.Eviction.Enabled && cfg.Quota.LimitBytes == 0 {
		return fmt.Errorf("eviction: enabled requires a non-zero quota.limit_bytes")
	}

	return nil
}

// formatValidationError converts validator errors into user-friendly messages.
func formatValidationError(err error) error {
	if validationErrs, ok := err.(validator.ValidationErrors); ok {
		// Return the first validation error with context
		if len(validationErrs) > 0 {
			e := validationErrs[0]
			return fmt.Errorf("%s: validation failed on '%s' tag (value: %v)",
				e.Namespace(), e.Tag(), e.Value())
		}
	}
	return err
}
