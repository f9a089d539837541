package config

import (
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

// validate is the singleton validator instance
var validate *validator.Validate

func init() {
	validate = validator.New()
}

// Validate validates the configuration using struct tags and custom rules.
//
// Uses go-playground/validator for declarative validation via struct tags,
// with additional custom validation for rules that cannot be expressed in
// tags.
//
// Returns an error describing the first validation failure.
func Validate(cfg *Config) error {
	if err := validate.Struct(cfg); err != nil {
		return formatValidationError(err)
	}
	return validateCustomRules(cfg)
}

// validateCustomRules performs custom validation beyond struct tags.
func validateCustomRules(cfg *Config) error {
	if len(cfg.Mounts) == 0 {
		return fmt.Errorf("mounts: at least one mount must be configured")
	}

	// Mount names become path components, so they must not contain '/'
	// and must be unique after ':' normalization.
	names := make(map[string]bool)
	for i, m := range cfg.Mounts {
		if strings.ContainsRune(m.Name, '/') {
			return fmt.Errorf("mounts[%d]: mount name %q must not contain '/'", i, m.Name)
		}
		normalized := m.Name
		if !strings.HasSuffix(normalized, ":") {
			normalized += ":"
		}
		if normalized == ":" {
			return fmt.Errorf("mounts[%d]: mount name must not be empty", i)
		}
		if names[normalized] {
			return fmt.Errorf("mounts[%d]: duplicate mount name %q", i, normalized)
		}
		names[normalized] = true
	}

	return nil
}

// formatValidationError converts validator errors into user-friendly messages.
func formatValidationError(err error) error {
	if validationErrs, ok := err.(validator.ValidationErrors); ok {
		if len(validationErrs) > 0 {
			e := validationErrs[0]
			return fmt.Errorf("%s: validation failed on '%s' tag (value: %v)",
				e.Namespace(), e.Tag(), e.Value())
		}
	}
	return err
}
