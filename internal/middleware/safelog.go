package middleware

import "strings"

// MaskToken masks a bearer token for logs (never print the full token in prod).
func MaskToken(s string) string {
	s = strings.TrimSpace(s)
	if len(s) <= 6 {
		return "****"
	}
	return s[:6] + "***"
}
