package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAPIKeyMiddleware(t *testing.T) {
	var reached bool
	handler := NewAPIKeyMiddleware("secret-key").Middleware(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			reached = true
			w.WriteHeader(http.StatusOK)
		}))

	t.Run("Missing key", func(t *testing.T) {
		reached = false
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest("POST", "/api/v1/sync/batch", nil))
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
		assert.False(t, reached)
	})

	t.Run("Wrong key", func(t *testing.T) {
		reached = false
		req := httptest.NewRequest("POST", "/api/v1/sync/batch", nil)
		req.Header.Set(APIKeyHeader, "guess")
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
		assert.False(t, reached)
	})

	t.Run("Valid key", func(t *testing.T) {
		reached = false
		req := httptest.NewRequest("POST", "/api/v1/sync/batch", nil)
		req.Header.Set(APIKeyHeader, "secret-key")
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.True(t, reached)
	})

	t.Run("Empty configured key rejects everything", func(t *testing.T) {
		reached = false
		open := NewAPIKeyMiddleware("").Middleware(
			http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { reached = true }))
		req := httptest.NewRequest("POST", "/api/v1/sync/batch", nil)
		req.Header.Set(APIKeyHeader, "anything")
		rec := httptest.NewRecorder()
		open.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
		assert.False(t, reached)
	})
}
