package core

import (
	"errors"
	"fmt"
)

// ConfigError represents a configuration-related error with actionable instructions.
type ConfigError struct {
	Code    string // Error code for programmatic handling
	Message string // Human-readable error message
	Action  string // Actionable instruction for resolution
}

func (e *ConfigError) Error() string {
	if e.Action != "" {
		return fmt.Sprintf("%s. %s", e.Message, e.Action)
	}
	return e.Message
}

// Error codes for configuration errors
const (
	ErrCodeConfigFileMissing = "CONFIG_FILE_MISSING"
	ErrCodeInvalidConfigFile = "INVALID_CONFIG_FILE"
	ErrCodeInvalidValue      = "INVALID_VALUE"
	ErrCodeInvalidThreshold  = "INVALID_THRESHOLD"
	ErrCodeUnknownProvider   = "UNKNOWN_PROVIDER"
	ErrCodeMissingConfig     = "MISSING_CONFIG"
)

// ErrConfigFileMissing returns an error for a YAML config file that does not exist.
func ErrConfigFileMissing(path string) *ConfigError {
	return &ConfigError{
		Code:    ErrCodeConfigFileMissing,
		Message: fmt.Sprintf("Configuration file not found: %s", path),
		Action:  fmt.Sprintf("Create the file or unset %s", ConfigFileEnvVar),
	}
}

// ErrInvalidConfigFile returns an error for a YAML config file that cannot be parsed.
func ErrInvalidConfigFile(path, reason string) *ConfigError {
	return &ConfigError{
		Code:    ErrCodeInvalidConfigFile,
		Message: fmt.Sprintf("Cannot parse configuration file %s: %s", path, reason),
		Action:  "Fix the YAML syntax; durations are written like 500ms or 30s",
	}
}

// ErrInvalidValue returns an error for a setting outside its allowed range.
func ErrInvalidValue(setting string, value any, reason string) *ConfigError {
	return &ConfigError{
		Code:    ErrCodeInvalidValue,
		Message: fmt.Sprintf("Invalid %s '%v': %s", setting, value, reason),
		Action:  fmt.Sprintf("Set %s to a valid value in the environment or config file", setting),
	}
}

// ErrInvalidThreshold returns an error for a threshold whose warning level exceeds its critical level.
func ErrInvalidThreshold(name string, warning, critical float64) *ConfigError {
	return &ConfigError{
		Code:    ErrCodeInvalidThreshold,
		Message: fmt.Sprintf("Threshold %s has warning %g above critical %g", name, warning, critical),
		Action:  "Make the warning level less than or equal to the critical level",
	}
}

// ErrUnknownProvider returns an error for an LLM provider the monitor cannot probe.
func ErrUnknownProvider(provider string) *ConfigError {
	return &ConfigError{
		Code:    ErrCodeUnknownProvider,
		Message: fmt.Sprintf("Unknown LLM provider: %s", provider),
		Action:  "Use one of: openai, anthropic, ollama",
	}
}

// ErrMissingConfig returns an error for missing required configuration
func ErrMissingConfig(varName string) *ConfigError {
	return &ConfigError{
		Code:    ErrCodeMissingConfig,
		Message: fmt.Sprintf("Missing required configuration: %s", varName),
		Action:  fmt.Sprintf("Set %s in your .env file", varName),
	}
}

// IsConfigError reports whether err is or wraps a ConfigError and returns it.
func IsConfigError(err error) (*ConfigError, bool) {
	var configErr *ConfigError
	if errors.As(err, &configErr) {
		return configErr, true
	}
	return nil, false
}

// GetErrorCode extracts the error code from an error if it's a ConfigError
func GetErrorCode(err error) string {
	if configErr, ok := IsConfigError(err); ok {
		return configErr.Code
	}
	return ""
}
