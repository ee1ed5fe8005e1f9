package logger

import "strings"

var secretKeyHints = []string{"key", "token", "secret", "password", "credential"}

// redactSecretValue masks values logged under credential-looking keys.
// Provider API keys and sheet tokens must never land in plaintext logs.
func redactSecretValue(key, val string) string {
	lower := strings.ToLower(key)
	for _, hint := range secretKeyHints {
		if strings.Contains(lower, hint) {
			return RedactSecret(val)
		}
	}
	return val
}

// RedactSecret masks a credential for safe logging, keeping a short prefix
// so operators can tell which key was in use.
// "a1b2c3d4e5f6" → "a1b2***"
func RedactSecret(s string) string {
	if len(s) <= 4 {
		return "***"
	}
	return s[:4] + "***"
}
