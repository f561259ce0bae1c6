package security

import (
	"regexp"
	"strings"
)

var (
	apiKeyPattern = regexp.MustCompile(`(?i)(api[_-]?key|apikey|secret|token|password|auth)["\s:=]+["']?([a-zA-Z0-9_:-]{16,})["']?`)
	bearerPattern = regexp.MustCompile(`(?i)bearer\s+[a-zA-Z0-9._:-]+`)

	sensitiveFields = []string{
		"secret", "ciphertext", "token", "api_key", "apikey",
		"authorization", "private_key", "password", "credential",
	}
)

// MaskHex shortens long hex values (tx hashes, CCTP messages, attestations) to
// their first 6 and last 4 characters for display
func MaskHex(value string) string {
	if len(value) <= 12 {
		return value
	}
	return value[:6] + "..." + value[len(value)-4:]
}

// MaskAPIKey masks an API key showing only first 4 chars
func MaskAPIKey(key string) string {
	if len(key) < 4 {
		return "****"
	}
	return key[:4] + strings.Repeat("*", len(key)-4)
}

// MaskString redacts credentials embedded in free text such as upstream error bodies
func MaskString(s string) string {
	s = bearerPattern.ReplaceAllString(s, "Bearer ***REDACTED***")
	s = apiKeyPattern.ReplaceAllString(s, "$1: ***REDACTED***")
	return s
}

// MaskMap masks sensitive fields in a map
func MaskMap(data map[string]interface{}) map[string]interface{} {
	masked := make(map[string]interface{}, len(data))
	for k, v := range data {
		if isSensitiveField(k) {
			masked[k] = "***REDACTED***"
			continue
		}
		switch val := v.(type) {
		case string:
			masked[k] = MaskString(val)
		case map[string]interface{}:
			masked[k] = MaskMap(val)
		default:
			masked[k] = v
		}
	}
	return masked
}

// RedactHeaders flattens headers for logging with credentials removed
func RedactHeaders(headers map[string][]string) map[string]string {
	redacted := make(map[string]string, len(headers))
	for k, v := range headers {
		lower := strings.ToLower(k)
		if lower == "authorization" || lower == "x-api-key" || lower == "cookie" || lower == "set-cookie" {
			redacted[k] = "***REDACTED***"
			continue
		}
		if len(v) > 0 {
			redacted[k] = v[0]
		}
	}
	return redacted
}

func isSensitiveField(field string) bool {
	lower := strings.ToLower(field)
	for _, sensitive := range sensitiveFields {
		if strings.Contains(lower, sensitive) {
			return true
		}
	}
	return false
}
