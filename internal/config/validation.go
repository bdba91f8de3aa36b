package config

import (
	"errors"
)

// ValidationResult collects everything wrong with an environment, plus
// non-fatal observations worth surfacing before a deploy.
type ValidationResult struct {
	Errors   []ValidationError
	Warnings []ValidationError
}

// ValidationError names a variable and what is wrong with it.
type ValidationError struct {
	Path    string
	Message string
}

// IsValid reports whether no errors were found.
func (r *ValidationResult) IsValid() bool {
	return len(r.Errors) == 0
}

// ValidateEnvironment checks vars without starting anything. A nil map reads
// the process environment.
func ValidateEnvironment(vars map[string]string) *ValidationResult {
	result := &ValidationResult{}

	cfg, err := LoadEnvironment(vars)
	if err != nil {
		var cfgErr *ConfigurationError
		if !errors.As(err, &cfgErr) {
			result.Errors = append(result.Errors, ValidationError{Message: err.Error()})
			return result
		}
		for _, name := range cfgErr.Missing {
			result.Errors = append(result.Errors, ValidationError{Path: name, Message: "required"})
		}
		for _, msg := range cfgErr.Invalid {
			result.Errors = append(result.Errors, ValidationError{Message: msg})
		}
		return result
	}

	result.Warnings = Warnings(cfg)
	return result
}

// Warnings lists settings that are legal but weaken or limit the service.
func Warnings(cfg Config) []ValidationError {
	var warnings []ValidationError
	if cfg.Provider.Issuer == "" {
		warnings = append(warnings, ValidationError{
			Path:    "CUSTOMER_ACCOUNT_ISSUER",
			Message: "not set; ID token issuer will not be checked",
		})
	}
	if cfg.Provider.LogoutURL == "" {
		warnings = append(warnings, ValidationError{
			Path:    "CUSTOMER_ACCOUNT_LOGOUT_URL",
			Message: "not set; logout only clears the local session",
		})
	}
	if cfg.Downstream.StorefrontAPIURL == "" {
		warnings = append(warnings, ValidationError{
			Path:    "STOREFRONT_API_URL",
			Message: "not set; subscription routes answer 503",
		})
	}
	if cfg.IsDev() {
		warnings = append(warnings, ValidationError{
			Path:    "APP_ENV",
			Message: "development mode; cookies are sent without the Secure attribute",
		})
	}
	return warnings
}
