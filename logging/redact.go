package logging

import (
	"regexp"
	"strings"
)

// RedactedPlaceholder replaces sensitive values in log output.
const RedactedPlaceholder = "[REDACTED]"

// sensitivePatterns match secrets that may appear inside free-form values.
var sensitivePatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)(sk-ant-[a-zA-Z0-9_-]{20,})`),    // Anthropic keys
	regexp.MustCompile(`(?i)(sk-[a-zA-Z0-9_-]{20,})`),        // OpenAI keys, legacy and project-scoped
	regexp.MustCompile(`(?i)(AIza[a-zA-Z0-9_-]{35})`),        // Google API keys
	regexp.MustCompile(`(?i)(gh[po]_[a-zA-Z0-9]{36})`),       // GitHub tokens
	regexp.MustCompile(`(?i)(github_pat_[a-zA-Z0-9_]{22,})`), // GitHub fine-grained tokens
	regexp.MustCompile(`(?i)(bearer\s+[a-zA-Z0-9._-]{20,})`),
	regexp.MustCompile(`(?i)((?:password|secret|token|api_key|apikey)\s*[:=]\s*[^\s,;]{8,})`),
}

// sensitiveFieldMarkers flag field names whose values are always redacted.
var sensitiveFieldMarkers = []string{
	"OPENAI_API_KEY",
	"ANTHROPIC_API_KEY",
	"PASSWORD",
	"SECRET",
	"TOKEN",
	"API_KEY",
	"APIKEY",
	"AUTHORIZATION",
}

// RedactSensitiveData replaces any secret-looking substrings of value.
//
// Example:
//
//	RedactSensitiveData("key is sk-abc123def456ghi789jkl012")
//	// "key is [REDACTED]"
func RedactSensitiveData(value string) string {
	if value == "" {
		return value
	}
	for _, pattern := range sensitivePatterns {
		value = pattern.ReplaceAllString(value, RedactedPlaceholder)
	}
	return value
}

// IsSensitiveField reports whether a field name marks its value as secret.
// Counting fields such as "tokens_used" are not secrets.
func IsSensitiveField(name string) bool {
	upper := strings.ToUpper(name)
	if strings.HasPrefix(upper, "TOKENS") || strings.HasSuffix(upper, "_TOKENS") {
		return false
	}
	for _, marker := range sensitiveFieldMarkers {
		if strings.Contains(upper, marker) {
			return true
		}
	}
	return false
}

// ContainsSensitiveData reports whether value matches a secret pattern.
func ContainsSensitiveData(value string) bool {
	for _, pattern := range sensitivePatterns {
		if pattern.MatchString(value) {
			return true
		}
	}
	return false
}
