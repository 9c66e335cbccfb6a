package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/Ironbeetle/tcn-member-portal/v1/middleware"
	"github.com/Ironbeetle/tcn-member-portal/v1/models"
	"github.com/Ironbeetle/tcn-member-portal/v1/services"
)

const testAPIKey = "test-sync-key"

func setupTestServer(t *testing.T) (*http.ServeMux, *gorm.DB) {
	t.Helper()
	db := services.SetupSQLiteTestDB(t)
	handler := NewSyncHandler(db)

	store := middleware.NewMemoryRateLimitStore()
	mw := &SyncMiddleware{
		Auth:        middleware.NewAPIKeyMiddleware(testAPIKey),
		PushLimiter: middleware.NewRateLimitMiddleware(store, "sync-push", 1000, time.Minute),
		PullLimiter: middleware.NewRateLimitMiddleware(store, "sync-pull", 1000, time.Minute),
		Audit:       middleware.NewAuditMiddleware(services.NewGormAuditRepository(db)),
	}

	mux := http.NewServeMux()
	handler.SetupSyncRoutes(mux, mw)
	return mux, db
}

func doJSON(t *testing.T, mux *http.ServeMux, method, path string, body interface{}, apiKey string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if apiKey != "" {
		req.Header.Set(middleware.APIKeyHeader, apiKey)
	}
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	return rec
}

func decodeSuccessData(t *testing.T, rec *httptest.ResponseRecorder, out interface{}) {
	t.Helper()
	var envelope struct {
		Success bool            `json:"success"`
		Data    json.RawMessage `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &envelope))
	require.True(t, envelope.Success)
	require.NoError(t, json.Unmarshal(envelope.Data, out))
}

func TestSyncRoutes_RequireAPIKey(t *testing.T) {
	mux, db := setupTestServer(t)

	paths := []struct {
		method string
		path   string
	}{
		{"POST", "/api/v1/sync/batch"},
		{"GET", "/api/v1/sync/members"},
		{"GET", "/api/v1/sync/pull"},
		{"POST", "/api/v1/sync/bulletin"},
		{"POST", "/api/v1/sync/council"},
		{"GET", "/api/v1/sync/audit"},
	}
	for _, p := range paths {
		rec := doJSON(t, mux, p.method, p.path, nil, "")
		assert.Equal(t, http.StatusUnauthorized, rec.Code, "%s %s", p.method, p.path)
	}

	// Auth short-circuits before any store work.
	var count int64
	db.Model(&models.Member{}).Count(&count)
	assert.Equal(t, int64(0), count)
}

func TestBatchEndpoint(t *testing.T) {
	mux, db := setupTestServer(t)

	t.Run("Processes a batch with partial failure", func(t *testing.T) {
		req := models.BatchSyncRequest{
			SyncID: "http-sync-1",
			Items: []models.SyncItem{
				{Model: models.ModelMember, Operation: models.OperationCreate,
					Data: json.RawMessage(`{"id":"m-1","treatyNumber":"T-1","firstName":"A"}`)},
				{Model: models.ModelMember, Operation: models.OperationUpdate,
					Data: json.RawMessage(`{"id":"ghost","email":"x@y.ca"}`)},
			},
		}
		rec := doJSON(t, mux, "POST", "/api/v1/sync/batch", req, testAPIKey)
		require.Equal(t, http.StatusOK, rec.Code)

		var resp models.BatchSyncResponse
		decodeSuccessData(t, rec, &resp)
		assert.Equal(t, "http-sync-1", resp.SyncID)
		assert.Equal(t, 1, resp.Processed)
		assert.Equal(t, 1, resp.Failed)
		require.Len(t, resp.Results, 2)
		assert.True(t, resp.Results[0].Success)
		assert.Equal(t, "RESOURCE_NOT_FOUND", resp.Results[1].ErrorCode)

		var count int64
		db.Model(&models.Member{}).Count(&count)
		assert.Equal(t, int64(1), count)
	})

	t.Run("Envelope failure is a request-level 400", func(t *testing.T) {
		rec := doJSON(t, mux, "POST", "/api/v1/sync/batch",
			models.BatchSyncRequest{SyncID: "", Items: nil}, testAPIKey)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("Malformed JSON is a 400", func(t *testing.T) {
		req := httptest.NewRequest("POST", "/api/v1/sync/batch", bytes.NewBufferString("{not json"))
		req.Header.Set(middleware.APIKeyHeader, testAPIKey)
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("GET is not allowed", func(t *testing.T) {
		rec := doJSON(t, mux, "GET", "/api/v1/sync/batch", nil, testAPIKey)
		assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	})
}

func TestMemberEndpoints(t *testing.T) {
	mux, db := setupTestServer(t)

	require.NoError(t, db.Create(&models.Member{
		MemberID: "m-1", TreatyNumber: "T-100", FirstName: "Mary", Status: models.MemberStatusActive,
	}).Error)

	t.Run("Pull returns the flat contract shape", func(t *testing.T) {
		rec := doJSON(t, mux, "GET", "/api/v1/sync/members?limit=10", nil, testAPIKey)
		require.Equal(t, http.StatusOK, rec.Code)

		var resp models.MemberPullResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		require.Len(t, resp.Members, 1)
		assert.Equal(t, "T-100", resp.Members[0].TreatyNumber)
		assert.False(t, resp.Pagination.HasMore)
	})

	t.Run("Bad since parameter is a 400", func(t *testing.T) {
		rec := doJSON(t, mux, "GET", "/api/v1/sync/members?since=notatime", nil, testAPIKey)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("Lookup by treaty number", func(t *testing.T) {
		rec := doJSON(t, mux, "GET", "/api/v1/sync/members/T-100", nil, testAPIKey)
		require.Equal(t, http.StatusOK, rec.Code)

		var snapshot models.MemberSnapshot
		decodeSuccessData(t, rec, &snapshot)
		assert.Equal(t, "m-1", snapshot.MemberID)
	})

	t.Run("Unknown member is a 404", func(t *testing.T) {
		rec := doJSON(t, mux, "GET", "/api/v1/sync/members/T-999", nil, testAPIKey)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("Delete tombstones with the requested status", func(t *testing.T) {
		rec := doJSON(t, mux, "DELETE", "/api/v1/sync/members/T-100?status=REMOVED_BY_MASTER", nil, testAPIKey)
		require.Equal(t, http.StatusOK, rec.Code)

		var row models.Member
		require.NoError(t, db.First(&row, "member_id = ?", "m-1").Error)
		assert.Equal(t, models.MemberStatusRemovedByMaster, row.Status)
	})
}

func TestPullEndpoint(t *testing.T) {
	mux, db := setupTestServer(t)

	require.NoError(t, db.Create(&models.Member{
		MemberID: "m-1", TreatyNumber: "T-1", Status: models.MemberStatusActive,
	}).Error)
	require.NoError(t, db.Create(&models.Profile{
		ProfileID: "p-1", MemberID: "m-1", City: "Thompson",
	}).Error)

	t.Run("Selected models come back keyed by name", func(t *testing.T) {
		rec := doJSON(t, mux, "GET", "/api/v1/sync/pull?models=Profile,Family", nil, testAPIKey)
		require.Equal(t, http.StatusOK, rec.Code)

		var resp struct {
			Profiles *struct {
				Items      []models.Profile  `json:"items"`
				Pagination models.Pagination `json:"pagination"`
			} `json:"profiles"`
			Families *struct {
				Items      []models.Family   `json:"items"`
				Pagination models.Pagination `json:"pagination"`
			} `json:"families"`
		}
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		require.NotNil(t, resp.Profiles)
		require.Len(t, resp.Profiles.Items, 1)
		assert.Equal(t, "Thompson", resp.Profiles.Items[0].City)
		require.NotNil(t, resp.Families)
		assert.Empty(t, resp.Families.Items)
	})

	t.Run("Missing models selector is a 400", func(t *testing.T) {
		rec := doJSON(t, mux, "GET", "/api/v1/sync/pull", nil, testAPIKey)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestBulletinEndpoint(t *testing.T) {
	mux, db := setupTestServer(t)

	t.Run("Single record push", func(t *testing.T) {
		rec := doJSON(t, mux, "POST", "/api/v1/sync/bulletin", map[string]interface{}{
			"sourceId": "src-1",
			"title":    "Band meeting Friday",
		}, testAPIKey)
		require.Equal(t, http.StatusOK, rec.Code)

		var row models.Bulletin
		decodeSuccessData(t, rec, &row)
		assert.Equal(t, "src-1", row.SourceID)
	})

	t.Run("Batch envelope push", func(t *testing.T) {
		rec := doJSON(t, mux, "POST", "/api/v1/sync/bulletin", map[string]interface{}{
			"syncId": "bulletin-http-1",
			"items": []map[string]interface{}{
				{"sourceId": "src-2", "title": "Road closure"},
				{"sourceId": "src-3", "title": "Pow wow schedule"},
			},
		}, testAPIKey)
		require.Equal(t, http.StatusOK, rec.Code)

		var resp models.BatchSyncResponse
		decodeSuccessData(t, rec, &resp)
		assert.Equal(t, 2, resp.Processed)

		var count int64
		db.Model(&models.Bulletin{}).Count(&count)
		assert.Equal(t, int64(3), count)
	})

	t.Run("Delete by sourceId", func(t *testing.T) {
		rec := doJSON(t, mux, "DELETE", "/api/v1/sync/bulletin?sourceId=src-1", nil, testAPIKey)
		require.Equal(t, http.StatusOK, rec.Code)

		var count int64
		db.Model(&models.Bulletin{}).Where("source_id = ?", "src-1").Count(&count)
		assert.Equal(t, int64(0), count)
	})
}

func TestCouncilEndpoints(t *testing.T) {
	mux, _ := setupTestServer(t)

	rec := doJSON(t, mux, "POST", "/api/v1/sync/council", map[string]interface{}{
		"sourceId": "council-2026",
		"members": []map[string]interface{}{
			{"sourceId": "seat-1", "firstName": "Doreen", "lastName": "Spence", "portfolio": []string{"health"}},
		},
	}, testAPIKey)
	require.Equal(t, http.StatusOK, rec.Code)

	t.Run("Lookup by sourceId", func(t *testing.T) {
		rec := doJSON(t, mux, "GET", "/api/v1/sync/council/council-2026", nil, testAPIKey)
		require.Equal(t, http.StatusOK, rec.Code)

		var result services.CouncilSyncResult
		decodeSuccessData(t, rec, &result)
		assert.Equal(t, "council-2026", result.Council.SourceID)
		require.Len(t, result.Members, 1)
		assert.Equal(t, "health", result.Members[0].Portfolio)
	})

	t.Run("Unknown term is a 404", func(t *testing.T) {
		rec := doJSON(t, mux, "GET", "/api/v1/sync/council/council-1999", nil, testAPIKey)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}

func TestAuditEndpoint(t *testing.T) {
	mux, db := setupTestServer(t)

	repo := services.NewGormAuditRepository(db)
	for i := 0; i < 3; i++ {
		require.NoError(t, repo.RecordAccess(context.Background(), &models.SyncAuditLog{
			Endpoint: "/api/v1/sync/batch", Method: "POST", Success: true,
			StatusCode: 200, SyncID: fmt.Sprintf("sync-%d", i),
		}))
	}

	rec := doJSON(t, mux, "GET", "/api/v1/sync/audit?endpoint=/api/v1/sync/batch&limit=2", nil, testAPIKey)
	require.Equal(t, http.StatusOK, rec.Code)

	var entries []models.SyncAuditLog
	decodeSuccessData(t, rec, &entries)
	assert.Len(t, entries, 2)
}

func TestPushRateLimitApplied(t *testing.T) {
	db := services.SetupSQLiteTestDB(t)
	handler := NewSyncHandler(db)

	store := middleware.NewMemoryRateLimitStore()
	mw := &SyncMiddleware{
		Auth:        middleware.NewAPIKeyMiddleware(testAPIKey),
		PushLimiter: middleware.NewRateLimitMiddleware(store, "sync-push", 1, time.Minute),
		PullLimiter: middleware.NewRateLimitMiddleware(store, "sync-pull", 1000, time.Minute),
		Audit:       middleware.NewAuditMiddleware(services.NewGormAuditRepository(db)),
	}
	mux := http.NewServeMux()
	handler.SetupSyncRoutes(mux, mw)

	body := models.BatchSyncRequest{
		SyncID: "rl-1",
		Items: []models.SyncItem{
			{Model: models.ModelMember, Operation: models.OperationUpsert,
				Data: json.RawMessage(`{"treatyNumber":"T-1"}`)},
		},
	}
	rec := doJSON(t, mux, "POST", "/api/v1/sync/batch", body, testAPIKey)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, mux, "POST", "/api/v1/sync/batch", body, testAPIKey)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)

	// The stricter push cap does not bleed into the pull scope.
	rec = doJSON(t, mux, "GET", "/api/v1/sync/members", nil, testAPIKey)
	assert.Equal(t, http.StatusOK, rec.Code)
}
