package middleware

import (
	"encoding/json"
	"net/http"
	"strings"
)

// SecurityHeaders adds security headers to all responses. The relay only
// serves JSON, so the content security policy is fully restrictive.
func SecurityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Referrer-Policy", "no-referrer")
		w.Header().Set("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		w.Header().Set("Content-Security-Policy", "default-src 'none'")
		w.Header().Set("Cache-Control", "no-store")

		next.ServeHTTP(w, r)
	})
}

// MaxBodySize limits request body size.
func MaxBodySize(maxBytes int64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.ContentLength > maxBytes {
				jsonError(w, http.StatusRequestEntityTooLarge, "request body too large")
				return
			}
			r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
			next.ServeHTTP(w, r)
		})
	}
}

// ValidateRequest rejects form-encoded submissions and requests carrying
// common attack patterns. Ciphertext bodies are raw bytes, so any other
// content type is accepted.
func ValidateRequest(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			ct := r.Header.Get("Content-Type")
			if strings.HasPrefix(ct, "multipart/form-data") || strings.HasPrefix(ct, "application/x-www-form-urlencoded") {
				jsonError(w, http.StatusUnsupportedMediaType, "body must be raw ciphertext")
				return
			}
		}

		// Public keys in the query may be base64 and contain "//", so only
		// the path is checked for traversal markers.
		if containsAny(r.URL.Path, pathPatterns) || containsAny(r.URL.RawQuery, scriptPatterns) {
			jsonError(w, http.StatusBadRequest, "invalid request")
			return
		}

		next.ServeHTTP(w, r)
	})
}

var (
	scriptPatterns = []string{"<script", "javascript:", "vbscript:"}
	pathPatterns   = append([]string{"..", "//"}, scriptPatterns...)
)

// containsAny reports whether input contains any of the patterns,
// ignoring case.
func containsAny(input string, patterns []string) bool {
	if input == "" {
		return false
	}

	lower := strings.ToLower(input)
	for _, s := range patterns {
		if strings.Contains(lower, s) {
			return true
		}
	}
	return false
}

func jsonError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
