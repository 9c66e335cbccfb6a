package errors

import (
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"gorm.io/gorm"
)

func TestFromStoreError(t *testing.T) {
	t.Run("Nil passes through", func(t *testing.T) {
		assert.Nil(t, FromStoreError(nil, "member"))
	})

	t.Run("Record not found", func(t *testing.T) {
		apiErr := FromStoreError(gorm.ErrRecordNotFound, "member")
		assert.Equal(t, ErrorTypeNotFound, apiErr.Type)
		assert.Equal(t, http.StatusNotFound, apiErr.HTTPStatus)
	})

	t.Run("Duplicate key", func(t *testing.T) {
		apiErr := FromStoreError(gorm.ErrDuplicatedKey, "member")
		assert.Equal(t, ErrorTypeConflict, apiErr.Type)
		assert.Equal(t, http.StatusConflict, apiErr.HTTPStatus)
	})

	t.Run("Existing APIError is preserved", func(t *testing.T) {
		original := ValidationError("SOME_CODE", "bad input")
		apiErr := FromStoreError(fmt.Errorf("wrapped: %w", original), "member")
		assert.Equal(t, "SOME_CODE", apiErr.Code)
	})

	t.Run("Anything else is a database error", func(t *testing.T) {
		apiErr := FromStoreError(fmt.Errorf("disk on fire"), "member")
		assert.Equal(t, ErrorTypeDatabase, apiErr.Type)
		assert.Equal(t, http.StatusInternalServerError, apiErr.HTTPStatus)
	})
}

func TestAPIErrorUnwrap(t *testing.T) {
	cause := fmt.Errorf("underlying")
	apiErr := InternalErrorWithCause("boom", cause)
	assert.ErrorIs(t, apiErr, cause)
	assert.True(t, IsAPIError(fmt.Errorf("outer: %w", apiErr)))
}
