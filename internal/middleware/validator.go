package middleware

import (
	"fmt"
	"net/http"
	"regexp"
)

var runIDPattern = regexp.MustCompile(`^[a-zA-Z0-9_-]{1,64}$`)

// ValidateRunID validates run ID format (uuid or client supplied token)
func ValidateRunID(id string) error {
	if id == "" {
		return fmt.Errorf("run ID cannot be empty")
	}
	if !runIDPattern.MatchString(id) {
		return fmt.Errorf("invalid run ID format (alphanumeric, dash, underscore only, max 64 chars)")
	}
	return nil
}

// ValidateLimit validates pagination limit
func ValidateLimit(limit int) int {
	if limit <= 0 {
		return 20 // default
	}
	if limit > 100 {
		return 100 // max limit
	}
	return limit
}

// MaxBodyBytes caps request bodies; reads past n fail with
// *http.MaxBytesError.
func MaxBodyBytes(n int64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if n <= 0 {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			r.Body = http.MaxBytesReader(w, r.Body, n)
			next.ServeHTTP(w, r)
		})
	}
}
