package services

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/Ironbeetle/tcn-member-portal/pkg/errors"
	"github.com/Ironbeetle/tcn-member-portal/v1/models"
)

func TestMemberService_GetMember(t *testing.T) {
	db := SetupSQLiteTestDB(t)
	svc := NewMemberService(db)
	ctx := context.Background()

	member := seedMember(t, db, "m-1", "T-800")
	require.NoError(t, db.Create(&models.Profile{
		ProfileID: "p-1", MemberID: member.MemberID, City: "Split Lake",
	}).Error)

	t.Run("Lookup by treaty number", func(t *testing.T) {
		snapshot, err := svc.GetMember(ctx, "T-800")
		require.NoError(t, err)
		assert.Equal(t, "m-1", snapshot.MemberID)
		require.NotNil(t, snapshot.Profile)
		assert.Equal(t, "Split Lake", snapshot.Profile.City)
	})

	t.Run("Lookup by surrogate id", func(t *testing.T) {
		snapshot, err := svc.GetMember(ctx, "m-1")
		require.NoError(t, err)
		assert.Equal(t, "T-800", snapshot.TreatyNumber)
	})

	t.Run("Treaty number wins when a key is ambiguous", func(t *testing.T) {
		// Second member whose surrogate id collides with the first
		// member's treaty number.
		seedMember(t, db, "T-800", "T-801")
		snapshot, err := svc.GetMember(ctx, "T-800")
		require.NoError(t, err)
		assert.Equal(t, "m-1", snapshot.MemberID)
	})

	t.Run("Unknown key is NotFound", func(t *testing.T) {
		_, err := svc.GetMember(ctx, "nope")
		apiErr := apperrors.GetAPIError(err)
		require.NotNil(t, apiErr)
		assert.Equal(t, apperrors.ErrorTypeNotFound, apiErr.Type)
	})

	t.Run("Empty key is rejected", func(t *testing.T) {
		_, err := svc.GetMember(ctx, "")
		apiErr := apperrors.GetAPIError(err)
		require.NotNil(t, apiErr)
		assert.Equal(t, apperrors.ErrorTypeValidation, apiErr.Type)
	})
}

func TestMemberService_DeleteMember(t *testing.T) {
	db := SetupSQLiteTestDB(t)
	svc := NewMemberService(db)
	ctx := context.Background()

	seedMember(t, db, "m-1", "T-810")

	t.Run("Defaults to deceased tombstone", func(t *testing.T) {
		member, err := svc.DeleteMember(ctx, "T-810", "")
		require.NoError(t, err)
		assert.Equal(t, models.MemberStatusDeceased, member.Status)

		var row models.Member
		require.NoError(t, db.First(&row, "member_id = ?", "m-1").Error)
		assert.True(t, row.Deleted())
	})

	t.Run("Rejects a non-tombstone status", func(t *testing.T) {
		_, err := svc.DeleteMember(ctx, "T-810", models.MemberStatusActive)
		apiErr := apperrors.GetAPIError(err)
		require.NotNil(t, apiErr)
		assert.Equal(t, "INVALID_STATUS", apiErr.Code)
	})

	t.Run("Master removal status", func(t *testing.T) {
		seedMember(t, db, "m-2", "T-811")
		member, err := svc.DeleteMember(ctx, "m-2", models.MemberStatusRemovedByMaster)
		require.NoError(t, err)
		assert.Equal(t, models.MemberStatusRemovedByMaster, member.Status)
	})
}
