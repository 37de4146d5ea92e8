package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/briq-connect/api/internal/origin"
)

var (
	errEmptyBody    = errors.New("request body is empty")
	errBodyTooLarge = errors.New("request body exceeds the allowed size")
)

func readLimitedBody(r *http.Request, limit int64) ([]byte, error) {
	if r == nil || r.Body == nil {
		return nil, errEmptyBody
	}
	reader := io.LimitReader(r.Body, limit+1)
	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, err
	}
	if len(strings.TrimSpace(string(data))) == 0 {
		return nil, errEmptyBody
	}
	if int64(len(data)) > limit {
		return nil, errBodyTooLarge
	}
	return data, nil
}

func writeJSONResponse(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

// originAllowed reports whether the request origin matches the allow-list.
// An empty allow-list disables the check. Patterns may carry a single
// hostname-label wildcard, e.g. "https://*.shop.example".
func originAllowed(r *http.Request, allowed []string) bool {
	if len(allowed) == 0 {
		return true
	}
	requestOrigin := strings.TrimRight(strings.TrimSpace(r.Header.Get("Origin")), "/")
	if requestOrigin == "" {
		return false
	}
	for _, pattern := range allowed {
		if origin.Matches(strings.TrimRight(pattern, "/"), requestOrigin) {
			return true
		}
	}
	return false
}
