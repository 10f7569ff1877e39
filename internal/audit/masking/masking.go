// Package masking redacts credentials before they reach the audit trail.
package masking

import "strings"

const maskToken = "****"

var sensitiveFragments = []string{"password", "secret", "token", "credential", "api_key", "apikey"}

// IsSensitiveKey reports whether a metadata key names a credential.
func IsSensitiveKey(key string) bool {
	lowered := strings.ToLower(strings.TrimSpace(key))
	for _, fragment := range sensitiveFragments {
		if strings.Contains(lowered, fragment) {
			return true
		}
	}
	return false
}

// MaskSecret redacts a secret while keeping a short suffix so operators
// can still correlate entries.
func MaskSecret(value string) string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return ""
	}
	if len(trimmed) <= 4 {
		return maskToken
	}
	return maskToken + trimmed[len(trimmed)-4:]
}

// MaskMap returns a copy of the input with values under sensitive keys
// redacted. Nested maps are walked recursively.
func MaskMap(input map[string]any) map[string]any {
	if len(input) == 0 {
		return nil
	}

	masked := make(map[string]any, len(input))
	for key, value := range input {
		trimmedKey := strings.TrimSpace(key)
		if trimmedKey == "" {
			continue
		}
		masked[trimmedKey] = maskValue(trimmedKey, value)
	}
	return masked
}

func maskValue(key string, value any) any {
	switch cast := value.(type) {
	case string:
		if IsSensitiveKey(key) {
			return MaskSecret(cast)
		}
		return cast
	case map[string]any:
		return MaskMap(cast)
	default:
		if IsSensitiveKey(key) {
			return maskToken
		}
		return value
	}
}
