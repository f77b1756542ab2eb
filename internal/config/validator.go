package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

// ConfigValidator validates configuration values.
type ConfigValidator interface {
	Validate(cfg *Config) error
}

type validatorImpl struct {
	validate *validator.Validate
}

// NewValidator creates a ConfigValidator backed by struct tags plus the
// cross-field rules tags cannot express.
func NewValidator() ConfigValidator {
	return &validatorImpl{validate: validator.New()}
}

func (v *validatorImpl) Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New("configuration is nil")
	}

	var problems []string
	if err := v.validate.Struct(cfg); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			return fmt.Errorf("validation error: %w", err)
		}
		for _, e := range verrs {
			problems = append(problems, formatValidationError(e))
		}
	}

	if cfg.Planner.MaxAttemptsLimit < cfg.Planner.MaxAttempts {
		problems = append(problems, fmt.Sprintf("planner.max_attempts_limit (%d) must not be below planner.max_attempts (%d)",
			cfg.Planner.MaxAttemptsLimit, cfg.Planner.MaxAttempts))
	}
	if cfg.Decomposer.MaxBackoff < cfg.Decomposer.BaseBackoff {
		problems = append(problems, "decomposer.max_backoff must not be below decomposer.base_backoff")
	}
	if cfg.Decomposer.Provider == "ollama" && cfg.Decomposer.Model == "" {
		problems = append(problems, "decomposer.model is required for the ollama provider")
	}
	if cfg.Server.GRPCAddr == "" && cfg.Server.HTTPAddr == "" {
		problems = append(problems, "at least one of server.grpc_addr and server.http_addr must be set")
	}

	if len(problems) > 0 {
		return fmt.Errorf("configuration validation failed:\n  - %s", strings.Join(problems, "\n  - "))
	}
	return nil
}

func formatValidationError(e validator.FieldError) string {
	field := formatFieldPath(e.Namespace())
	switch e.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", field)
	case "min", "gte":
		return fmt.Sprintf("%s must be at least %s (got: %v)", field, e.Param(), e.Value())
	case "max", "lte":
		return fmt.Sprintf("%s must be at most %s (got: %v)", field, e.Param(), e.Value())
	case "gt":
		return fmt.Sprintf("%s must be greater than %s (got: %v)", field, e.Param(), e.Value())
	case "oneof":
		return fmt.Sprintf("%s must be one of [%s] (got: %v)", field, e.Param(), e.Value())
	default:
		return fmt.Sprintf("%s failed validation '%s' (got: %v)", field, e.Tag(), e.Value())
	}
}

// formatFieldPath turns "Config.Planner.MaxAttempts" into "planner.maxattempts".
func formatFieldPath(namespace string) string {
	parts := strings.Split(namespace, ".")
	if len(parts) > 1 {
		parts = parts[1:]
	}
	return strings.ToLower(strings.Join(parts, "."))
}
