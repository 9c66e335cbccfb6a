package middleware

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/Ironbeetle/tcn-member-portal/pkg/monitoring"
	"github.com/Ironbeetle/tcn-member-portal/v1/models"
	"github.com/Ironbeetle/tcn-member-portal/v1/services"
	"github.com/Ironbeetle/tcn-member-portal/v1/utils"
)

type auditContextKey struct{}

// SyncAuditContext carries per-request sync counters from the handler to
// the audit middleware. Handlers fill it in; the middleware folds it into
// the audit entry after the response is written.
type SyncAuditContext struct {
	SyncID    string
	Processed int
	Failed    int
	Error     string
}

// AuditContext returns the request's audit context, or nil when the
// request did not pass through the audit middleware
func AuditContext(ctx context.Context) *SyncAuditContext {
	v, _ := ctx.Value(auditContextKey{}).(*SyncAuditContext)
	return v
}

// responseWriter captures the status code written by the handler chain
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// AuditMiddleware records the outcome of every sync call to the audit
// sink: endpoint, status, caller IP and duration. Request and response
// bodies are deliberately not recorded so member data stays out of the
// audit trail.
type AuditMiddleware struct {
	repo services.AuditRepository
}

// NewAuditMiddleware creates a new audit middleware
func NewAuditMiddleware(repo services.AuditRepository) *AuditMiddleware {
	return &AuditMiddleware{repo: repo}
}

// Middleware wraps a handler with audit logging
func (m *AuditMiddleware) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapper := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		auditCtx := &SyncAuditContext{}
		r = r.WithContext(context.WithValue(r.Context(), auditContextKey{}, auditCtx))

		next.ServeHTTP(wrapper, r)

		success := wrapper.statusCode < 400
		monitoring.RecordSyncRequest(r.URL.Path, strconv.Itoa(wrapper.statusCode))

		entry := &models.SyncAuditLog{
			Endpoint:   r.URL.Path,
			Method:     r.Method,
			SyncID:     auditCtx.SyncID,
			Success:    success,
			StatusCode: wrapper.statusCode,
			Processed:  auditCtx.Processed,
			Failed:     auditCtx.Failed,
			Error:      auditCtx.Error,
			CallerIP:   utils.GetClientIP(r),
			DurationMs: time.Since(start).Milliseconds(),
		}
		if !success && entry.Error == "" {
			entry.Error = http.StatusText(wrapper.statusCode)
		}

		// Fire-and-forget: the response is already written.
		services.RecordAccessAsync(m.repo, entry)
	})
}
