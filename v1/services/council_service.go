package services

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	"gorm.io/gorm"

	apperrors "github.com/Ironbeetle/tcn-member-portal/pkg/errors"
	"github.com/Ironbeetle/tcn-member-portal/v1/models"
)

// CouncilService reconciles council terms. A term push replaces the
// member set for that term: incoming seats are upserted by sourceId and
// re-pointed at the term, seats absent from the payload are removed.
type CouncilService struct {
	db *gorm.DB
}

// NewCouncilService creates a new council service
func NewCouncilService(db *gorm.DB) *CouncilService {
	return &CouncilService{db: db}
}

// CouncilSyncResult is the outcome of a term sync
type CouncilSyncResult struct {
	Council models.Council         `json:"council"`
	Members []models.CouncilMember `json:"members"`
	Removed int                    `json:"removed"`
}

// SyncCouncil applies one council term push in a single transaction
func (s *CouncilService) SyncCouncil(ctx context.Context, data *models.CouncilSyncData) (*CouncilSyncResult, error) {
	if err := data.Validate(); err != nil {
		return nil, err
	}

	var result CouncilSyncResult
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		council, err := s.upsertCouncil(tx, data)
		if err != nil {
			return err
		}
		result.Council = *council

		keep := make([]string, 0, len(data.Members))
		for i := range data.Members {
			row, err := s.upsertCouncilMember(tx, council, &data.Members[i])
			if err != nil {
				return err
			}
			keep = append(keep, row.SourceID)
			result.Members = append(result.Members, *row)
		}

		// Replace semantics: drop seats on this term that the sender no
		// longer lists.
		q := tx.Where("council_id = ?", council.CouncilID)
		if len(keep) > 0 {
			q = q.Where("source_id NOT IN ?", keep)
		}
		res := q.Delete(&models.CouncilMember{})
		if res.Error != nil {
			return apperrors.FromStoreError(res.Error, "council member")
		}
		result.Removed = int(res.RowsAffected)
		return nil
	})
	if err != nil {
		return nil, err
	}

	slog.Info("Council term synced",
		"sourceId", data.SourceID,
		"members", len(result.Members),
		"removed", result.Removed)

	return &result, nil
}

func (s *CouncilService) upsertCouncil(tx *gorm.DB, data *models.CouncilSyncData) (*models.Council, error) {
	var council models.Council
	err := tx.First(&council, "source_id = ?", data.SourceID).Error
	switch {
	case err == nil:
	case errors.Is(err, gorm.ErrRecordNotFound):
		council = models.Council{
			CouncilID: data.ID,
			SourceID:  data.SourceID,
		}
		if council.CouncilID == "" {
			council.CouncilID = uuid.NewString()
		}
	default:
		return nil, apperrors.FromStoreError(err, "council")
	}

	if data.CouncilStart != nil {
		ts, err := models.ParseSyncTimestamp(*data.CouncilStart)
		if err != nil {
			return nil, apperrors.ValidationErrorWithDetails("INVALID_TIMESTAMP", "councilStart is not RFC3339", err.Error())
		}
		council.CouncilStart = &ts
	}
	if data.CouncilEnd != nil {
		ts, err := models.ParseSyncTimestamp(*data.CouncilEnd)
		if err != nil {
			return nil, apperrors.ValidationErrorWithDetails("INVALID_TIMESTAMP", "councilEnd is not RFC3339", err.Error())
		}
		council.CouncilEnd = &ts
	}

	if err := tx.Save(&council).Error; err != nil {
		return nil, apperrors.FromStoreError(err, "council")
	}
	return &council, nil
}

func (s *CouncilService) upsertCouncilMember(tx *gorm.DB, council *models.Council, data *models.CouncilMemberSyncData) (*models.CouncilMember, error) {
	var row models.CouncilMember
	err := tx.First(&row, "source_id = ?", data.SourceID).Error
	switch {
	case err == nil:
	case errors.Is(err, gorm.ErrRecordNotFound):
		row = models.CouncilMember{
			CouncilMemberID: data.ID,
			SourceID:        data.SourceID,
		}
		if row.CouncilMemberID == "" {
			row.CouncilMemberID = uuid.NewString()
		}
	default:
		return nil, apperrors.FromStoreError(err, "council member")
	}

	// A seat carried over from a prior term push gets re-pointed at the
	// current term's surrogate id.
	row.CouncilID = council.CouncilID
	row.FirstName = data.FirstName
	row.LastName = data.LastName
	row.Email = data.Email
	row.Portfolio = strings.Join(data.Portfolio, ",")

	if err := tx.Save(&row).Error; err != nil {
		return nil, apperrors.FromStoreError(err, "council member")
	}
	return &row, nil
}

// ProcessBatch applies several term pushes with per-item outcomes, in
// order, one transaction per term
func (s *CouncilService) ProcessBatch(ctx context.Context, req *models.CouncilBatchRequest) (*models.BatchSyncResponse, error) {
	if req.SyncID == "" {
		return nil, apperrors.ValidationError("MISSING_SYNC_ID", "syncId is required")
	}
	if len(req.Items) == 0 {
		return nil, apperrors.ValidationError("EMPTY_BATCH", "items must contain at least one council term")
	}
	if len(req.Items) > models.MaxBatchItems {
		return nil, apperrors.ValidationError("BATCH_TOO_LARGE", "batch exceeds the maximum item count")
	}

	resp := &models.BatchSyncResponse{
		SyncID:  req.SyncID,
		Total:   len(req.Items),
		Results: make([]models.SyncItemResult, 0, len(req.Items)),
	}

	for i := range req.Items {
		result := models.SyncItemResult{
			Index:     i,
			Model:     "Council",
			Operation: models.OperationUpsert,
		}
		row, err := s.SyncCouncil(ctx, &req.Items[i])
		if err != nil {
			apiErr := apperrors.GetAPIError(err)
			if apiErr == nil {
				apiErr = apperrors.InternalErrorWithCause("council sync failed", err)
			}
			result.Error = apiErr.Message
			result.ErrorCode = apiErr.Code
			resp.Failed++
		} else {
			result.Success = true
			result.Data = row
			resp.Processed++
		}
		resp.Results = append(resp.Results, result)
	}

	return resp, nil
}

// GetCouncil returns a council term and its seats by natural key
func (s *CouncilService) GetCouncil(ctx context.Context, sourceID string) (*CouncilSyncResult, error) {
	var council models.Council
	if err := s.db.WithContext(ctx).First(&council, "source_id = ?", sourceID).Error; err != nil {
		return nil, apperrors.FromStoreError(err, "council")
	}

	var seats []models.CouncilMember
	err := s.db.WithContext(ctx).
		Where("council_id = ?", council.CouncilID).
		Order("council_member_id ASC").
		Find(&seats).Error
	if err != nil {
		return nil, apperrors.FromStoreError(err, "council member")
	}

	return &CouncilSyncResult{Council: council, Members: seats}, nil
}
