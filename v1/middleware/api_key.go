package middleware

import (
	"crypto/subtle"
	"log/slog"
	"net/http"

	"github.com/Ironbeetle/tcn-member-portal/v1/utils"
)

// APIKeyHeader is the pre-shared key header every sync endpoint requires
const APIKeyHeader = "X-API-Key"

// APIKeyMiddleware validates the pre-shared sync API key before any
// business logic runs. Absence or mismatch yields 401; the comparison is
// constant-time so the key cannot be probed byte by byte.
type APIKeyMiddleware struct {
	apiKey string
}

// NewAPIKeyMiddleware creates a new API key middleware
func NewAPIKeyMiddleware(apiKey string) *APIKeyMiddleware {
	if apiKey == "" {
		slog.Warn("Sync API key is empty; all sync requests will be rejected")
	}
	return &APIKeyMiddleware{apiKey: apiKey}
}

// Middleware wraps a handler with API key validation
func (m *APIKeyMiddleware) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		provided := r.Header.Get(APIKeyHeader)
		if provided == "" {
			utils.RespondWithError(w, http.StatusUnauthorized, "Missing API key")
			return
		}
		if m.apiKey == "" || subtle.ConstantTimeCompare([]byte(provided), []byte(m.apiKey)) != 1 {
			slog.Warn("Rejected sync request with invalid API key",
				"path", r.URL.Path,
				"ip", utils.GetClientIP(r))
			utils.RespondWithError(w, http.StatusUnauthorized, "Invalid API key")
			return
		}
		next.ServeHTTP(w, r)
	})
}
