package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

// RegisterCustomValidators registers Relayguard-specific validation rules.
// Must be called before validating Config.
func RegisterCustomValidators(v *validator.Validate) error {
	// duration: validates Go duration strings ("30s", "5m", "1h")
	if err := v.RegisterValidation("duration", validateDuration); err != nil {
		return fmt.Errorf("failed to register duration validator: %w", err)
	}
	// path_prefix: validates rooted URL path prefixes ("/api/")
	if err := v.RegisterValidation("path_prefix", validatePathPrefix); err != nil {
		return fmt.Errorf("failed to register path_prefix validator: %w", err)
	}
	// token_hash: validates "sha256:<hex>" or Argon2id PHC hashes
	if err := v.RegisterValidation("token_hash", validateTokenHash); err != nil {
		return fmt.Errorf("failed to register token_hash validator: %w", err)
	}
	return nil
}

// validateDuration validates a Go duration string. Zero and negative
// durations are rejected; every configured duration here is a lifetime.
func validateDuration(fl validator.FieldLevel) bool {
	d, err := time.ParseDuration(fl.Field().String())
	return err == nil && d > 0
}

// validatePathPrefix validates that a path prefix is rooted.
func validatePathPrefix(fl validator.FieldLevel) bool {
	return strings.HasPrefix(fl.Field().String(), "/")
}

// validateTokenHash validates a stored token hash.
// Valid forms: "sha256:<64 hex chars>" or an Argon2id PHC string.
func validateTokenHash(fl validator.FieldLevel) bool {
	hash := fl.Field().String()

	if strings.HasPrefix(hash, "$argon2id$") {
		return true
	}
	if strings.HasPrefix(hash, "sha256:") {
		hex := strings.TrimPrefix(hash, "sha256:")
		return len(hex) == 64 && isHex(hex)
	}
	return false
}

func isHex(s string) bool {
	for _, c := range s {
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') && (c < 'A' || c > 'F') {
			return false
		}
	}
	return true
}

// Validate validates the Config using struct tags and custom cross-field rules.
// Returns an error if validation fails, with actionable error messages.
func (c *Config) Validate() error {
	// Create validator with required struct enabled
	v := validator.New(validator.WithRequiredStructEnabled())

	// Register custom validators
	if err := RegisterCustomValidators(v); err != nil {
		return err
	}

	// Run struct validation (tags)
	if err := v.Struct(c); err != nil {
		return formatValidationErrors(err)
	}

	// Cross-field validation: cacheable categories need a TTL
	if err := c.validateCategoryTTLs(); err != nil {
		return err
	}

	// Cross-field validation: rate-limit role names must be non-empty
	if err := c.validateRoleNames(); err != nil {
		return err
	}

	// Cross-field validation: duplicate token hashes would shadow principals
	if err := c.validateTokenUniqueness(); err != nil {
		return err
	}

	return nil
}

// validateCategoryTTLs ensures every cacheable category carries a TTL.
// NoCache categories legitimately omit it.
func (c *Config) validateCategoryTTLs() error {
	for i, cat := range c.Cache.Categories {
		if !cat.NoCache && cat.TTL == "" {
			return fmt.Errorf("cache.categories[%d] (%s): ttl is required unless no_cache is set", i, cat.PathPrefix)
		}
	}
	return nil
}

// validateRoleNames ensures the role table has no empty keys.
func (c *Config) validateRoleNames() error {
	for name := range c.RateLimit.Roles {
		if strings.TrimSpace(name) == "" {
			return errors.New("rate_limit.roles: role names must be non-empty")
		}
	}
	return nil
}

// validateTokenUniqueness ensures no two tokens share a hash.
func (c *Config) validateTokenUniqueness() error {
	seen := make(map[string]string, len(c.Auth.Tokens))
	for i, tok := range c.Auth.Tokens {
		if other, dup := seen[tok.Hash]; dup {
			return fmt.Errorf("auth.tokens[%d]: hash already used by principal %q", i, other)
		}
		seen[tok.Hash] = tok.ID
	}
	return nil
}

// formatValidationErrors converts validator.ValidationErrors to user-friendly messages.
func formatValidationErrors(err error) error {
	var validationErrors validator.ValidationErrors
	if errors.As(err, &validationErrors) {
		var messages []string
		for _, e := range validationErrors {
			msg := formatSingleValidationError(e)
			messages = append(messages, msg)
		}
		return errors.New(strings.Join(messages, "; "))
	}
	return err
}

// formatSingleValidationError creates a user-friendly message for a single validation error.
func formatSingleValidationError(e validator.FieldError) string {
	field := e.Namespace()
	tag := e.Tag()

	switch tag {
	case "required":
		return fmt.Sprintf("%s is required", field)
	case "min":
		return fmt.Sprintf("%s must be at least %s", field, e.Param())
	case "oneof":
		return fmt.Sprintf("%s must be one of: %s", field, e.Param())
	case "url":
		return fmt.Sprintf("%s must be a valid URL", field)
	case "hostname_port":
		return fmt.Sprintf("%s must be a valid host:port", field)
	case "duration":
		return fmt.Sprintf("%s must be a positive duration (e.g. \"30s\", \"5m\")", field)
	case "path_prefix":
		return fmt.Sprintf("%s must start with \"/\"", field)
	case "token_hash":
		return fmt.Sprintf("%s must be \"sha256:<hex>\" or an Argon2id hash", field)
	default:
		return fmt.Sprintf("%s failed validation: %s", field, tag)
	}
}
