package services

import (
	"context"
	"log/slog"

	"gorm.io/gorm"

	apperrors "github.com/Ironbeetle/tcn-member-portal/pkg/errors"
	"github.com/Ironbeetle/tcn-member-portal/pkg/monitoring"
	"github.com/Ironbeetle/tcn-member-portal/v1/models"
)

// BatchService processes batch sync pushes. Items run strictly in array
// order, one at a time: later items may depend on rows created by earlier
// ones (a family record referencing a member from the same batch), so
// ordering stays caller-controlled and reproducible. Each item gets its
// own transaction; one item's failure never rolls back or halts the rest.
type BatchService struct {
	db         *gorm.DB
	reconciler *Reconciler
}

// NewBatchService creates a new batch service
func NewBatchService(db *gorm.DB) *BatchService {
	return &BatchService{db: db, reconciler: NewReconciler()}
}

// ProcessBatch applies every item of the request and reports per-item
// outcomes. Only envelope-level problems return an error; item-level
// failures are carried inside the response.
func (s *BatchService) ProcessBatch(ctx context.Context, req *models.BatchSyncRequest) (*models.BatchSyncResponse, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	resp := &models.BatchSyncResponse{
		SyncID:  req.SyncID,
		Total:   len(req.Items),
		Results: make([]models.SyncItemResult, 0, len(req.Items)),
	}

	for i, item := range req.Items {
		result := models.SyncItemResult{
			Index:     i,
			Model:     item.Model,
			Operation: item.Operation,
		}

		var data interface{}
		err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			var applyErr error
			data, applyErr = s.reconciler.Apply(tx, item)
			return applyErr
		})

		if err != nil {
			apiErr := apperrors.GetAPIError(err)
			if apiErr == nil {
				apiErr = apperrors.InternalErrorWithCause("sync item failed", err)
			}
			result.Error = apiErr.Message
			result.ErrorCode = apiErr.Code
			resp.Failed++
			monitoring.RecordSyncItem(string(item.Model), string(item.Operation), "failure")
			slog.Warn("Sync item failed",
				"syncId", req.SyncID,
				"index", i,
				"model", item.Model,
				"operation", item.Operation,
				"code", apiErr.Code,
				"error", apiErr.Message)
		} else {
			result.Success = true
			result.Data = data
			resp.Processed++
			monitoring.RecordSyncItem(string(item.Model), string(item.Operation), "success")
		}

		resp.Results = append(resp.Results, result)
	}

	slog.Info("Batch sync processed",
		"syncId", req.SyncID,
		"total", resp.Total,
		"processed", resp.Processed,
		"failed", resp.Failed)

	return resp, nil
}
