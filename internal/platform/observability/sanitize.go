package observability

import "unicode"

// Log field caps. Routes stay readable while identifiers stay short enough
// that a hostile header or token subject cannot flood a log line.
const (
	maxRouteLength   = 180
	maxMethodLength  = 10
	maxSubjectLength = 64
	maxFieldLength   = 256
)

// SanitizeRoute strips control characters from a route pattern before logging.
func SanitizeRoute(route string) string {
	if route == "" {
		return "/"
	}
	return stripControl(route, maxRouteLength)
}

// SanitizeMethod strips control characters from an HTTP method.
func SanitizeMethod(method string) string {
	return stripControl(method, maxMethodLength)
}

// SanitizeOperatorID caps token subjects so operator identifiers never bloat
// or poison log output.
func SanitizeOperatorID(subject string) string {
	if subject == "" {
		return ""
	}
	return stripControl(subject, maxSubjectLength)
}

// stripControl drops control runes (keeping plain whitespace) and truncates
// to limit runes. Non-positive limits fall back to maxFieldLength.
func stripControl(value string, limit int) string {
	if limit <= 0 {
		limit = maxFieldLength
	}
	out := make([]rune, 0, len(value))
	for _, r := range value {
		if unicode.IsControl(r) && r != '\n' && r != '\r' && r != '\t' {
			continue
		}
		out = append(out, r)
		if len(out) == limit {
			break
		}
	}
	return string(out)
}
