package utils

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	apperrors "github.com/Ironbeetle/tcn-member-portal/pkg/errors"
)

// RespondWithError sends an error response
func RespondWithError(w http.ResponseWriter, statusCode int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	errorResponse := map[string]interface{}{
		"error": message,
		"code":  http.StatusText(statusCode),
	}

	if err := json.NewEncoder(w).Encode(errorResponse); err != nil {
		slog.Error("Failed to encode error response", "error", err)
	}
}

// RespondWithAPIError sends a structured error response for a typed
// APIError, hiding internal causes from the caller
func RespondWithAPIError(w http.ResponseWriter, apiErr *apperrors.APIError) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(apiErr.HTTPStatus)

	errorResponse := map[string]interface{}{
		"error": apiErr.Message,
		"code":  apiErr.Code,
		"type":  apiErr.Type,
	}
	if apiErr.Details != "" {
		errorResponse["details"] = apiErr.Details
	}

	if err := json.NewEncoder(w).Encode(errorResponse); err != nil {
		slog.Error("Failed to encode error response", "error", err)
	}
}

// RespondWithSuccess sends a success response
func RespondWithSuccess(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	payload := map[string]interface{}{
		"success": true,
		"data":    data,
	}

	if err := json.NewEncoder(w).Encode(payload); err != nil {
		slog.Error("Failed to encode success response", "error", err)
	}
}

// HandleServiceError maps a service-layer error onto the HTTP response
func HandleServiceError(w http.ResponseWriter, err error) {
	if apiErr := apperrors.GetAPIError(err); apiErr != nil {
		if apiErr.Type == apperrors.ErrorTypeInternal || apiErr.Type == apperrors.ErrorTypeDatabase {
			slog.Error("Internal error serving sync request", "error", err)
			RespondWithError(w, http.StatusInternalServerError, "Internal server error")
			return
		}
		RespondWithAPIError(w, apiErr)
		return
	}
	slog.Error("Unexpected error serving sync request", "error", err)
	RespondWithError(w, http.StatusInternalServerError, "Internal server error")
}

// PanicRecoveryMiddleware recovers from handler panics and returns a 500
func PanicRecoveryMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				slog.Error("Panic in handler", "path", r.URL.Path, "panic", rec)
				RespondWithError(w, http.StatusInternalServerError, "Internal server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// GetClientIP extracts the caller address, honoring X-Forwarded-For from
// the reverse proxy in front of the portal
func GetClientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		parts := strings.Split(fwd, ",")
		return strings.TrimSpace(parts[0])
	}
	if rip := r.Header.Get("X-Real-IP"); rip != "" {
		return rip
	}
	host := r.RemoteAddr
	if idx := strings.LastIndex(host, ":"); idx != -1 {
		host = host[:idx]
	}
	return host
}
