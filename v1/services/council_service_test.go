package services

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/Ironbeetle/tcn-member-portal/pkg/errors"
	"github.com/Ironbeetle/tcn-member-portal/v1/models"
)

func TestCouncilService_SyncCouncil(t *testing.T) {
	db := SetupSQLiteTestDB(t)
	svc := NewCouncilService(db)
	ctx := context.Background()

	first := &models.CouncilSyncData{
		SourceID:     "council-2026",
		CouncilStart: strPtr("2026-01-01T00:00:00Z"),
		Members: []models.CouncilMemberSyncData{
			{SourceID: "seat-1", FirstName: "Doreen", LastName: "Spence", Portfolio: []string{"health", "education"}},
			{SourceID: "seat-2", FirstName: "Victor", LastName: "Flett"},
		},
	}

	result, err := svc.SyncCouncil(ctx, first)
	require.NoError(t, err)
	assert.Equal(t, "council-2026", result.Council.SourceID)
	require.Len(t, result.Members, 2)
	assert.Equal(t, "health,education", result.Members[0].Portfolio)
	assert.Equal(t, 0, result.Removed)

	t.Run("Resync replaces the member set", func(t *testing.T) {
		second := &models.CouncilSyncData{
			SourceID: "council-2026",
			Members: []models.CouncilMemberSyncData{
				{SourceID: "seat-1", FirstName: "Doreen", LastName: "Spence", Portfolio: []string{"health"}},
				{SourceID: "seat-3", FirstName: "Irene", LastName: "Beardy"},
			},
		}
		result, err := svc.SyncCouncil(ctx, second)
		require.NoError(t, err)
		assert.Equal(t, 1, result.Removed)

		var seats []models.CouncilMember
		require.NoError(t, db.Order("source_id ASC").Find(&seats).Error)
		require.Len(t, seats, 2)
		assert.Equal(t, "seat-1", seats[0].SourceID)
		assert.Equal(t, "health", seats[0].Portfolio)
		assert.Equal(t, "seat-3", seats[1].SourceID)

		// One council row throughout.
		var count int64
		db.Model(&models.Council{}).Count(&count)
		assert.Equal(t, int64(1), count)
	})

	t.Run("Empty member list clears the term", func(t *testing.T) {
		result, err := svc.SyncCouncil(ctx, &models.CouncilSyncData{SourceID: "council-2026"})
		require.NoError(t, err)
		assert.Equal(t, 2, result.Removed)

		var count int64
		db.Model(&models.CouncilMember{}).Count(&count)
		assert.Equal(t, int64(0), count)
	})

	t.Run("Missing sourceId is rejected", func(t *testing.T) {
		_, err := svc.SyncCouncil(ctx, &models.CouncilSyncData{})
		apiErr := apperrors.GetAPIError(err)
		require.NotNil(t, apiErr)
		assert.Equal(t, "MISSING_SOURCE_ID", apiErr.Code)
	})
}

func TestCouncilService_SeatMovesBetweenTerms(t *testing.T) {
	db := SetupSQLiteTestDB(t)
	svc := NewCouncilService(db)
	ctx := context.Background()

	_, err := svc.SyncCouncil(ctx, &models.CouncilSyncData{
		SourceID: "council-2022",
		Members:  []models.CouncilMemberSyncData{{SourceID: "seat-1", FirstName: "Doreen"}},
	})
	require.NoError(t, err)

	// The same seat pushed under a new term gets re-pointed, not duplicated.
	_, err = svc.SyncCouncil(ctx, &models.CouncilSyncData{
		SourceID: "council-2026",
		Members:  []models.CouncilMemberSyncData{{SourceID: "seat-1", FirstName: "Doreen"}},
	})
	require.NoError(t, err)

	var seats []models.CouncilMember
	require.NoError(t, db.Find(&seats).Error)
	require.Len(t, seats, 1)

	var term models.Council
	require.NoError(t, db.First(&term, "source_id = ?", "council-2026").Error)
	assert.Equal(t, term.CouncilID, seats[0].CouncilID)
}

func TestCouncilService_GetCouncil(t *testing.T) {
	db := SetupSQLiteTestDB(t)
	svc := NewCouncilService(db)
	ctx := context.Background()

	_, err := svc.SyncCouncil(ctx, &models.CouncilSyncData{
		SourceID: "council-2026",
		Members:  []models.CouncilMemberSyncData{{SourceID: "seat-1", FirstName: "Doreen"}},
	})
	require.NoError(t, err)

	result, err := svc.GetCouncil(ctx, "council-2026")
	require.NoError(t, err)
	assert.Equal(t, "council-2026", result.Council.SourceID)
	require.Len(t, result.Members, 1)

	_, err = svc.GetCouncil(ctx, "council-1999")
	apiErr := apperrors.GetAPIError(err)
	require.NotNil(t, apiErr)
	assert.Equal(t, apperrors.ErrorTypeNotFound, apiErr.Type)
}
