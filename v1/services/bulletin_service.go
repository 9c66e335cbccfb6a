package services

import (
	"context"
	"errors"
	"log/slog"

	"github.com/google/uuid"
	"gorm.io/gorm"

	apperrors "github.com/Ironbeetle/tcn-member-portal/pkg/errors"
	"github.com/Ironbeetle/tcn-member-portal/pkg/monitoring"
	"github.com/Ironbeetle/tcn-member-portal/v1/models"
)

// BulletinService reconciles community bulletins pushed by the messaging
// application. Bulletins are flat records upserted by sourceId.
type BulletinService struct {
	db *gorm.DB
}

// NewBulletinService creates a new bulletin service
func NewBulletinService(db *gorm.DB) *BulletinService {
	return &BulletinService{db: db}
}

// UpsertBulletin applies one bulletin record by natural key
func (s *BulletinService) UpsertBulletin(ctx context.Context, data *models.BulletinSyncData) (*models.Bulletin, error) {
	if err := data.Validate(); err != nil {
		return nil, err
	}

	var bulletin *models.Bulletin
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var row models.Bulletin
		err := tx.First(&row, "source_id = ?", data.SourceID).Error
		switch {
		case err == nil:
			if err := applyBulletinFields(&row, data); err != nil {
				return err
			}
			if err := tx.Save(&row).Error; err != nil {
				return apperrors.FromStoreError(err, "bulletin")
			}
		case errors.Is(err, gorm.ErrRecordNotFound):
			row = models.Bulletin{
				BulletinID: data.ID,
				SourceID:   data.SourceID,
			}
			if row.BulletinID == "" {
				row.BulletinID = uuid.NewString()
			}
			if err := applyBulletinFields(&row, data); err != nil {
				return err
			}
			if err := tx.Create(&row).Error; err != nil {
				if errors.Is(err, gorm.ErrDuplicatedKey) {
					// Concurrent push of the same sourceId: re-read and update.
					if err := tx.First(&row, "source_id = ?", data.SourceID).Error; err != nil {
						return apperrors.FromStoreError(err, "bulletin")
					}
					if err := applyBulletinFields(&row, data); err != nil {
						return err
					}
					return apperrors.FromStoreError(tx.Save(&row).Error, "bulletin")
				}
				return apperrors.FromStoreError(err, "bulletin")
			}
		default:
			return apperrors.FromStoreError(err, "bulletin")
		}
		bulletin = &row
		return nil
	})
	if err != nil {
		return nil, err
	}
	return bulletin, nil
}

// ProcessBatch applies a bulletin batch with the same per-item semantics
// as the general batch processor: in order, one transaction per item,
// failures reported rather than thrown.
func (s *BulletinService) ProcessBatch(ctx context.Context, req *models.BulletinBatchRequest) (*models.BatchSyncResponse, error) {
	if req.SyncID == "" {
		return nil, apperrors.ValidationError("MISSING_SYNC_ID", "syncId is required")
	}
	if len(req.Items) == 0 {
		return nil, apperrors.ValidationError("EMPTY_BATCH", "items must contain at least one bulletin")
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
			Model:     "Bulletin",
			Operation: models.OperationUpsert,
		}
		row, err := s.UpsertBulletin(ctx, &req.Items[i])
		if err != nil {
			apiErr := apperrors.GetAPIError(err)
			if apiErr == nil {
				apiErr = apperrors.InternalErrorWithCause("bulletin sync failed", err)
			}
			result.Error = apiErr.Message
			result.ErrorCode = apiErr.Code
			resp.Failed++
			monitoring.RecordSyncItem("Bulletin", string(models.OperationUpsert), "failure")
		} else {
			result.Success = true
			result.Data = row
			resp.Processed++
			monitoring.RecordSyncItem("Bulletin", string(models.OperationUpsert), "success")
		}
		resp.Results = append(resp.Results, result)
	}

	slog.Info("Bulletin batch processed",
		"syncId", req.SyncID,
		"total", resp.Total,
		"processed", resp.Processed,
		"failed", resp.Failed)

	return resp, nil
}

// DeleteBulletin removes a bulletin, natural key preferred
func (s *BulletinService) DeleteBulletin(ctx context.Context, sourceID, id string) error {
	if sourceID == "" && id == "" {
		return apperrors.ValidationError("MISSING_KEY", "sourceId or id is required")
	}

	tx := s.db.WithContext(ctx)
	var res *gorm.DB
	if sourceID != "" {
		res = tx.Where("source_id = ?", sourceID).Delete(&models.Bulletin{})
	} else {
		res = tx.Where("bulletin_id = ?", id).Delete(&models.Bulletin{})
	}
	if res.Error != nil {
		return apperrors.FromStoreError(res.Error, "bulletin")
	}
	if res.RowsAffected == 0 {
		return apperrors.NotFoundError("bulletin")
	}
	return nil
}

func applyBulletinFields(bulletin *models.Bulletin, data *models.BulletinSyncData) error {
	if data.Title != nil {
		bulletin.Title = *data.Title
	}
	if data.Body != nil {
		bulletin.Body = *data.Body
	}
	if data.Category != nil {
		bulletin.Category = *data.Category
	}
	if data.PostedAt != nil {
		ts, err := models.ParseSyncTimestamp(*data.PostedAt)
		if err != nil {
			return apperrors.ValidationErrorWithDetails("INVALID_TIMESTAMP", "postedAt is not RFC3339", err.Error())
		}
		bulletin.PostedAt = &ts
	}
	if data.ExpiresAt != nil {
		ts, err := models.ParseSyncTimestamp(*data.ExpiresAt)
		if err != nil {
			return apperrors.ValidationErrorWithDetails("INVALID_TIMESTAMP", "expiresAt is not RFC3339", err.Error())
		}
		bulletin.ExpiresAt = &ts
	}
	return nil
}
