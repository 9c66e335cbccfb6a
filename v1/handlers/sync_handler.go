package handlers

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/Ironbeetle/tcn-member-portal/v1/middleware"
	"github.com/Ironbeetle/tcn-member-portal/v1/models"
	"github.com/Ironbeetle/tcn-member-portal/v1/services"
	"github.com/Ironbeetle/tcn-member-portal/v1/utils"
)

// SyncHandler handles all cross-system sync routes
type SyncHandler struct {
	batchService    *services.BatchService
	pullService     *services.PullService
	memberService   *services.MemberService
	bulletinService *services.BulletinService
	councilService  *services.CouncilService
	auditRepo       services.AuditRepository
}

// NewSyncHandler creates a new sync handler with all services wired to
// the given store
func NewSyncHandler(db *gorm.DB) *SyncHandler {
	return &SyncHandler{
		batchService:    services.NewBatchService(db),
		pullService:     services.NewPullService(db),
		memberService:   services.NewMemberService(db),
		bulletinService: services.NewBulletinService(db),
		councilService:  services.NewCouncilService(db),
		auditRepo:       services.NewGormAuditRepository(db),
	}
}

// SyncMiddleware bundles the boundary middleware applied to sync routes
type SyncMiddleware struct {
	Auth        *middleware.APIKeyMiddleware
	PushLimiter *middleware.RateLimitMiddleware
	PullLimiter *middleware.RateLimitMiddleware
	Audit       *middleware.AuditMiddleware
}

// SetupSyncRoutes configures all sync API routes. The chain is
// panic-recovery, then audit (so denied requests are recorded too), then
// API key, then the rate limiter for the route's scope.
func (h *SyncHandler) SetupSyncRoutes(mux *http.ServeMux, mw *SyncMiddleware) {
	push := func(fn http.HandlerFunc) http.Handler {
		return utils.PanicRecoveryMiddleware(
			mw.Audit.Middleware(mw.Auth.Middleware(mw.PushLimiter.Middleware(fn))))
	}
	pull := func(fn http.HandlerFunc) http.Handler {
		return utils.PanicRecoveryMiddleware(
			mw.Audit.Middleware(mw.Auth.Middleware(mw.PullLimiter.Middleware(fn))))
	}

	mux.Handle("/api/v1/sync/batch", push(h.handleBatch))
	mux.Handle("/api/v1/sync/members", pull(h.handleMembers))
	mux.Handle("/api/v1/sync/members/", pull(h.handleMembers))
	mux.Handle("/api/v1/sync/pull", pull(h.handlePull))
	mux.Handle("/api/v1/sync/bulletin", push(h.handleBulletin))
	mux.Handle("/api/v1/sync/council", push(h.handleCouncil))
	mux.Handle("/api/v1/sync/council/", pull(h.handleCouncilLookup))
	mux.Handle("/api/v1/sync/audit", pull(h.handleAudit))
}

// handleBatch handles POST /api/v1/sync/batch
func (h *SyncHandler) handleBatch(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		utils.RespondWithError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	var req models.BatchSyncRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		utils.RespondWithError(w, http.StatusBadRequest, "Invalid JSON body")
		return
	}

	resp, err := h.batchService.ProcessBatch(r.Context(), &req)
	if err != nil {
		h.recordAuditError(r, req.SyncID, err)
		utils.HandleServiceError(w, err)
		return
	}

	if auditCtx := middleware.AuditContext(r.Context()); auditCtx != nil {
		auditCtx.SyncID = resp.SyncID
		auditCtx.Processed = resp.Processed
		auditCtx.Failed = resp.Failed
	}

	utils.RespondWithSuccess(w, http.StatusOK, resp)
}

// handleMembers handles GET /api/v1/sync/members (delta pull) and
// GET/DELETE /api/v1/sync/members/:key (lookup and tombstone by treaty
// number or surrogate id)
func (h *SyncHandler) handleMembers(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/api/v1/sync/members")
	key := strings.Trim(path, "/")

	if key == "" {
		if r.Method != http.MethodGet {
			utils.RespondWithError(w, http.StatusMethodNotAllowed, "Method not allowed")
			return
		}
		h.pullMembers(w, r)
		return
	}

	switch r.Method {
	case http.MethodGet:
		snapshot, err := h.memberService.GetMember(r.Context(), key)
		if err != nil {
			utils.HandleServiceError(w, err)
			return
		}
		utils.RespondWithSuccess(w, http.StatusOK, snapshot)
	case http.MethodDelete:
		member, err := h.memberService.DeleteMember(r.Context(), key, r.URL.Query().Get("status"))
		if err != nil {
			utils.HandleServiceError(w, err)
			return
		}
		utils.RespondWithSuccess(w, http.StatusOK, member)
	default:
		utils.RespondWithError(w, http.StatusMethodNotAllowed, "Method not allowed")
	}
}

func (h *SyncHandler) pullMembers(w http.ResponseWriter, r *http.Request) {
	since, limit, cursor, ok := parsePullParams(w, r)
	if !ok {
		return
	}

	resp, err := h.pullService.PullMembers(r.Context(), since, cursor, limit)
	if err != nil {
		utils.HandleServiceError(w, err)
		return
	}

	if auditCtx := middleware.AuditContext(r.Context()); auditCtx != nil {
		auditCtx.Processed = len(resp.Members)
	}

	// The pull contract's response shape is flat, not the success/data
	// envelope the push endpoints use.
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(resp)
}

// handlePull handles GET /api/v1/sync/pull (master pulls portal edits)
func (h *SyncHandler) handlePull(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		utils.RespondWithError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	since, limit, cursor, ok := parsePullParams(w, r)
	if !ok {
		return
	}

	var modelNames []string
	if raw := r.URL.Query().Get("models"); raw != "" {
		for _, name := range strings.Split(raw, ",") {
			modelNames = append(modelNames, strings.TrimSpace(name))
		}
	}

	resp, err := h.pullService.PullChanges(r.Context(), modelNames, since, cursor, limit)
	if err != nil {
		utils.HandleServiceError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(resp)
}

// handleBulletin handles POST and DELETE /api/v1/sync/bulletin. POST
// accepts either a single record or an {items, syncId} batch.
func (h *SyncHandler) handleBulletin(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
	case http.MethodDelete:
		q := r.URL.Query()
		err := h.bulletinService.DeleteBulletin(r.Context(), q.Get("sourceId"), q.Get("id"))
		if err != nil {
			utils.HandleServiceError(w, err)
			return
		}
		utils.RespondWithSuccess(w, http.StatusOK, map[string]string{"deleted": "bulletin"})
		return
	default:
		utils.RespondWithError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		utils.RespondWithError(w, http.StatusBadRequest, "Failed to read request body")
		return
	}

	if isBatchEnvelope(body) {
		var req models.BulletinBatchRequest
		if err := json.Unmarshal(body, &req); err != nil {
			utils.RespondWithError(w, http.StatusBadRequest, "Invalid JSON body")
			return
		}
		resp, err := h.bulletinService.ProcessBatch(r.Context(), &req)
		if err != nil {
			h.recordAuditError(r, req.SyncID, err)
			utils.HandleServiceError(w, err)
			return
		}
		if auditCtx := middleware.AuditContext(r.Context()); auditCtx != nil {
			auditCtx.SyncID = resp.SyncID
			auditCtx.Processed = resp.Processed
			auditCtx.Failed = resp.Failed
		}
		utils.RespondWithSuccess(w, http.StatusOK, resp)
		return
	}

	var data models.BulletinSyncData
	if err := json.Unmarshal(body, &data); err != nil {
		utils.RespondWithError(w, http.StatusBadRequest, "Invalid JSON body")
		return
	}
	bulletin, err := h.bulletinService.UpsertBulletin(r.Context(), &data)
	if err != nil {
		utils.HandleServiceError(w, err)
		return
	}
	utils.RespondWithSuccess(w, http.StatusOK, bulletin)
}

// handleCouncil handles POST /api/v1/sync/council, single term or batch
func (h *SyncHandler) handleCouncil(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		utils.RespondWithError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		utils.RespondWithError(w, http.StatusBadRequest, "Failed to read request body")
		return
	}

	if isBatchEnvelope(body) {
		var req models.CouncilBatchRequest
		if err := json.Unmarshal(body, &req); err != nil {
			utils.RespondWithError(w, http.StatusBadRequest, "Invalid JSON body")
			return
		}
		resp, err := h.councilService.ProcessBatch(r.Context(), &req)
		if err != nil {
			h.recordAuditError(r, req.SyncID, err)
			utils.HandleServiceError(w, err)
			return
		}
		if auditCtx := middleware.AuditContext(r.Context()); auditCtx != nil {
			auditCtx.SyncID = resp.SyncID
			auditCtx.Processed = resp.Processed
			auditCtx.Failed = resp.Failed
		}
		utils.RespondWithSuccess(w, http.StatusOK, resp)
		return
	}

	var data models.CouncilSyncData
	if err := json.Unmarshal(body, &data); err != nil {
		utils.RespondWithError(w, http.StatusBadRequest, "Invalid JSON body")
		return
	}
	result, err := h.councilService.SyncCouncil(r.Context(), &data)
	if err != nil {
		utils.HandleServiceError(w, err)
		return
	}
	utils.RespondWithSuccess(w, http.StatusOK, result)
}

// handleCouncilLookup handles GET /api/v1/sync/council/:sourceId
func (h *SyncHandler) handleCouncilLookup(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		utils.RespondWithError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	sourceID := strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/v1/sync/council"), "/")
	if sourceID == "" {
		utils.RespondWithError(w, http.StatusBadRequest, "Council sourceId is required")
		return
	}

	result, err := h.councilService.GetCouncil(r.Context(), sourceID)
	if err != nil {
		utils.HandleServiceError(w, err)
		return
	}
	utils.RespondWithSuccess(w, http.StatusOK, result)
}

// handleAudit handles GET /api/v1/sync/audit for operational visibility
func (h *SyncHandler) handleAudit(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		utils.RespondWithError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	q := r.URL.Query()
	limit, _ := strconv.Atoi(q.Get("limit"))
	entries, err := h.auditRepo.ListRecent(r.Context(), q.Get("endpoint"), limit)
	if err != nil {
		utils.HandleServiceError(w, err)
		return
	}
	utils.RespondWithSuccess(w, http.StatusOK, entries)
}

func (h *SyncHandler) recordAuditError(r *http.Request, syncID string, err error) {
	if auditCtx := middleware.AuditContext(r.Context()); auditCtx != nil {
		auditCtx.SyncID = syncID
		auditCtx.Error = err.Error()
	}
}

// parsePullParams reads the shared since/limit/cursor query parameters.
// since is an exclusive watermark defaulting to the epoch; a malformed
// value is a request-level validation failure.
func parsePullParams(w http.ResponseWriter, r *http.Request) (since time.Time, limit int, cursor string, ok bool) {
	q := r.URL.Query()

	since = time.Unix(0, 0).UTC()
	if raw := q.Get("since"); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			utils.RespondWithError(w, http.StatusBadRequest, "since must be an RFC3339 timestamp")
			return since, 0, "", false
		}
		since = parsed
	}

	if raw := q.Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			utils.RespondWithError(w, http.StatusBadRequest, "limit must be a positive integer")
			return since, 0, "", false
		}
		limit = parsed
	}

	return since, limit, q.Get("cursor"), true
}

// isBatchEnvelope reports whether the body carries an {items: [...]}
// batch rather than a single record
func isBatchEnvelope(body []byte) bool {
	var probe struct {
		Items []json.RawMessage `json:"items"`
	}
	if err := json.Unmarshal(body, &probe); err != nil {
		return false
	}
	return probe.Items != nil
}
