package services

import (
	"context"
	"log/slog"

	"github.com/google/uuid"
	"gorm.io/gorm"

	apperrors "github.com/Ironbeetle/tcn-member-portal/pkg/errors"
	"github.com/Ironbeetle/tcn-member-portal/v1/models"
)

// AuditRepository is the database-facing interface for the audit sink.
// The HTTP layer only depends on this, so tests can swap in a recorder.
type AuditRepository interface {
	RecordAccess(ctx context.Context, entry *models.SyncAuditLog) error
	ListRecent(ctx context.Context, endpoint string, limit int) ([]models.SyncAuditLog, error)
}

// GormAuditRepository stores audit entries in the portal database
type GormAuditRepository struct {
	db *gorm.DB
}

// NewGormAuditRepository creates a GORM-backed audit repository
func NewGormAuditRepository(db *gorm.DB) *GormAuditRepository {
	return &GormAuditRepository{db: db}
}

// RecordAccess persists one sync call outcome. Payloads are never stored
// here, only counts and error strings.
func (r *GormAuditRepository) RecordAccess(ctx context.Context, entry *models.SyncAuditLog) error {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if err := r.db.WithContext(ctx).Create(entry).Error; err != nil {
		return apperrors.DatabaseError("audit log", err)
	}
	return nil
}

// ListRecent returns the most recent audit entries, optionally filtered
// by endpoint
func (r *GormAuditRepository) ListRecent(ctx context.Context, endpoint string, limit int) ([]models.SyncAuditLog, error) {
	if limit <= 0 || limit > models.MaxPullLimit {
		limit = models.DefaultPullLimit
	}

	query := r.db.WithContext(ctx).Model(&models.SyncAuditLog{})
	if endpoint != "" {
		query = query.Where("endpoint = ?", endpoint)
	}

	var entries []models.SyncAuditLog
	if err := query.Order("created_at DESC").Limit(limit).Find(&entries).Error; err != nil {
		return nil, apperrors.DatabaseError("audit log", err)
	}
	return entries, nil
}

// RecordAccessAsync logs an audit entry without blocking the caller.
// Audit failures are logged and dropped; a broken sink must not fail a
// sync request after the store work has already committed.
func RecordAccessAsync(repo AuditRepository, entry *models.SyncAuditLog) {
	go func() {
		if err := repo.RecordAccess(context.Background(), entry); err != nil {
			slog.Error("Failed to record audit entry",
				"endpoint", entry.Endpoint,
				"error", err)
		}
	}()
}
