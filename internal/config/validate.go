package config

import (
	"fmt"
	"net/url"
	"time"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationErrors is a collection of validation errors.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	if len(e) == 1 {
		return e[0].Error()
	}
	msg := fmt.Sprintf("%d validation errors:", len(e))
	for _, err := range e {
		msg += "\n  - " + err.Error()
	}
	return msg
}

// Validate checks the configuration for errors.
// Returns nil if valid, or ValidationErrors if invalid.
func Validate(cfg Config) error {
	var errs ValidationErrors

	if cfg.DatabaseURL == "" {
		errs = append(errs, ValidationError{
			Field:   "DATABASE_URL",
			Message: "required",
		})
	}

	if cfg.WebhookURL == "" {
		errs = append(errs, ValidationError{
			Field:   "WEBHOOK_URL",
			Message: "required",
		})
	} else if err := validateHTTPURL(cfg.WebhookURL); err != nil {
		errs = append(errs, ValidationError{
			Field:   "WEBHOOK_URL",
			Message: err.Error(),
		})
	}

	if cfg.ProviderBaseURL == "" {
		errs = append(errs, ValidationError{
			Field:   "PROVIDER_BASE_URL",
			Message: "required",
		})
	} else if err := validateHTTPURL(cfg.ProviderBaseURL); err != nil {
		errs = append(errs, ValidationError{
			Field:   "PROVIDER_BASE_URL",
			Message: err.Error(),
		})
	}

	durations := []struct {
		field string
		value string
	}{
		{"DB_OP_TIMEOUT", cfg.DBOpTimeoutStr},
		{"HTTP_SHUTDOWN_TIMEOUT", cfg.HTTPShutdownTimeoutStr},
		{"RUN_DRAIN_TIMEOUT", cfg.RunDrainTimeoutStr},
		{"PROVIDER_TIMEOUT", cfg.ProviderTimeoutStr},
		{"CAPTURE_TIMEOUT", cfg.CaptureTimeoutStr},
		{"DELIVERY_TIMEOUT", cfg.DeliveryTimeoutStr},
		{"CIRCUIT_BREAKER_COOLDOWN", cfg.CircuitBreakerCooldownStr},
		{"LEADER_RETRY_INTERVAL", cfg.LeaderRetryIntervalStr},
		{"LEADER_HEARTBEAT_INTERVAL", cfg.LeaderHeartbeatIntervalStr},
		{"RECONCILE_INTERVAL", cfg.ReconcileIntervalStr},
	}
	for _, dv := range durations {
		if dv.value == "" {
			continue
		}
		d, err := time.ParseDuration(dv.value)
		if err != nil {
			errs = append(errs, ValidationError{
				Field:   dv.field,
				Message: fmt.Sprintf("invalid duration: %v", err),
			})
		} else if d <= 0 {
			errs = append(errs, ValidationError{
				Field:   dv.field,
				Message: "must be positive",
			})
		}
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}

func validateHTTPURL(rawURL string) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("scheme must be http or https")
	}
	if u.Host == "" {
		return fmt.Errorf("host is required")
	}
	return nil
}
