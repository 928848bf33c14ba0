package observability

import (
	"strings"
	"unicode"
)

const maxLoggedValueLen = 256

// stripControl drops control characters other than common whitespace so that
// attacker-supplied values cannot forge extra log lines.
func stripControl(value string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case '\n', '\r', '\t':
			return r
		}
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, value)
}

func sanitizeString(value string, limit int) string {
	if limit <= 0 {
		limit = maxLoggedValueLen
	}
	cleaned := []rune(stripControl(value))
	if len(cleaned) > limit {
		cleaned = cleaned[:limit]
	}
	return string(cleaned)
}

// SanitizeRoute bounds a route pattern before it reaches logs or span attributes.
func SanitizeRoute(route string) string {
	if route == "" {
		return "/"
	}
	return sanitizeString(route, 180)
}

// SanitizeMethod bounds an HTTP method string.
func SanitizeMethod(method string) string {
	return sanitizeString(method, 10)
}

// SanitizeUserID bounds customer and staff identifiers logged with requests.
func SanitizeUserID(uid string) string {
	if uid == "" {
		return ""
	}
	return sanitizeString(uid, 64)
}
