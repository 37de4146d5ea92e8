// Package origin matches configured allow-list patterns against runtime request
// origins. Patterns are either exact origins or contain a single wildcard that
// stands for exactly one hostname label, e.g. "https://*.example.com".
package origin

import (
	"regexp"
	"strings"
)

const wildcard = "*"

// Single DNS label: alphanumerics with internal hyphens only.
var labelPattern = regexp.MustCompile(`^[A-Za-z0-9]([A-Za-z0-9-]*[A-Za-z0-9])?$`)

// Matches reports whether origin satisfies pattern. Malformed inputs fail
// closed: the function never panics and returns false for anything it cannot
// positively match.
func Matches(pattern, origin string) bool {
	pattern = strings.TrimSpace(pattern)
	origin = strings.TrimSpace(origin)
	if pattern == "" || origin == "" {
		return false
	}

	if pattern == origin {
		return true
	}

	if !strings.Contains(pattern, wildcard) {
		// Without a wildcard only exact equality is acceptable; no prefix or
		// substring matching.
		return false
	}

	schemeEnd := strings.Index(pattern, "://")
	if schemeEnd <= 0 {
		return false
	}
	scheme := pattern[:schemeEnd+len("://")]
	if strings.Contains(scheme, wildcard) {
		return false
	}
	// The scheme must match exactly; http against an https pattern is spoofing.
	if !strings.HasPrefix(origin, scheme) {
		return false
	}

	patternHost := pattern[len(scheme):]
	originHost := origin[len(scheme):]
	if strings.Count(patternHost, wildcard) != 1 {
		return false
	}

	starIdx := strings.Index(patternHost, wildcard)
	prefix := patternHost[:starIdx]
	suffix := patternHost[starIdx+1:]

	if len(originHost) < len(prefix)+len(suffix) {
		return false
	}
	if !strings.HasPrefix(originHost, prefix) || !strings.HasSuffix(originHost, suffix) {
		return false
	}
	label := originHost[len(prefix) : len(originHost)-len(suffix)]
	if label == "" {
		// "https://*.domain" requires a label; the bare domain does not match.
		return false
	}
	return labelPattern.MatchString(label)
}

// MatchesAny reports whether origin satisfies any of the configured patterns.
func MatchesAny(patterns []string, origin string) bool {
	for _, pattern := range patterns {
		if Matches(pattern, origin) {
			return true
		}
	}
	return false
}
