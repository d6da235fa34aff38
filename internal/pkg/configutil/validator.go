package configutil

import (
	"fmt"
	"net/url"
	"strings"
	"time"
)

// ValidationError represents a configuration validation error
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("validation error for field '%s': %s", e.Field, e.Message)
}

// ValidationErrors holds multiple validation errors
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return "no validation errors"
	}
	if len(e) == 1 {
		return e[0].Error()
	}
	parts := make([]string, len(e))
	for i, err := range e {
		parts[i] = fmt.Sprintf("%s %s", err.Field, err.Message)
	}
	return fmt.Sprintf("%d validation errors: %s", len(e), strings.Join(parts, "; "))
}

// Validator provides configuration validation utilities
type Validator struct {
	errors []ValidationError
}

// NewValidator creates a new configuration validator
func NewValidator() *Validator {
	return &Validator{
		errors: make([]ValidationError, 0),
	}
}

func (v *Validator) add(field, message string) *Validator {
	v.errors = append(v.errors, ValidationError{Field: field, Message: message})
	return v
}

// RequiredString validates that a string field is not blank
func (v *Validator) RequiredString(field, value string) *Validator {
	if strings.TrimSpace(value) == "" {
		return v.add(field, "is required and cannot be empty")
	}
	return v
}

// RequiredInt validates that an integer field is greater than zero
func (v *Validator) RequiredInt(field string, value int) *Validator {
	if value <= 0 {
		return v.add(field, "must be greater than zero")
	}
	return v
}

// NonNegativeInt validates that an integer field is zero or more
func (v *Validator) NonNegativeInt(field string, value int) *Validator {
	if value < 0 {
		return v.add(field, "must not be negative")
	}
	return v
}

// IntRange validates that an integer field is within a specific range
func (v *Validator) IntRange(field string, value, min, max int) *Validator {
	if value < min || value > max {
		return v.add(field, fmt.Sprintf("must be between %d and %d", min, max))
	}
	return v
}

// FloatRange validates that a float field is within a specific range
func (v *Validator) FloatRange(field string, value, min, max float64) *Validator {
	if value < min || value > max {
		return v.add(field, fmt.Sprintf("must be between %g and %g", min, max))
	}
	return v
}

// RequiredDuration validates that a duration field is positive
func (v *Validator) RequiredDuration(field string, value time.Duration) *Validator {
	if value <= 0 {
		return v.add(field, "must be a positive duration")
	}
	return v
}

// DurationRange validates that a duration field is within a specific range
func (v *Validator) DurationRange(field string, value, min, max time.Duration) *Validator {
	if value < min || value > max {
		return v.add(field, fmt.Sprintf("must be between %v and %v", min, max))
	}
	return v
}

// OneOf validates that a string field is one of the allowed values
func (v *Validator) OneOf(field, value string, allowed []string) *Validator {
	for _, allowedValue := range allowed {
		if value == allowedValue {
			return v
		}
	}
	return v.add(field, fmt.Sprintf("must be one of: %v", allowed))
}

// ValidateURL validates that a non-empty string is an HTTP or HTTPS URL
func (v *Validator) ValidateURL(field, value string) *Validator {
	return v.ValidateURLScheme(field, value, "http", "https")
}

// ValidateURLScheme validates that a non-empty string is an absolute URL with
// one of the given schemes.
func (v *Validator) ValidateURLScheme(field, value string, schemes ...string) *Validator {
	if value == "" {
		return v
	}
	u, err := url.Parse(value)
	if err != nil || u.Host == "" {
		return v.add(field, "must be an absolute URL")
	}
	for _, s := range schemes {
		if strings.EqualFold(u.Scheme, s) {
			return v
		}
	}
	return v.add(field, fmt.Sprintf("must use one of the schemes: %v", schemes))
}

// ValidateFilePath validates that a file path is not empty
func (v *Validator) ValidateFilePath(field, value string) *Validator {
	if strings.TrimSpace(value) == "" {
		return v.add(field, "file path cannot be empty")
	}
	return v
}

// Result returns validation errors if any exist
func (v *Validator) Result() error {
	if len(v.errors) == 0 {
		return nil
	}
	return ValidationErrors(v.errors)
}

// HasErrors returns true if there are validation errors
func (v *Validator) HasErrors() bool {
	return len(v.errors) > 0
}

// ErrorCount returns the number of validation errors
func (v *Validator) ErrorCount() int {
	return len(v.errors)
}
