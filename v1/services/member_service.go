package services

import (
	"context"
	"errors"

	"gorm.io/gorm"

	apperrors "github.com/Ironbeetle/tcn-member-portal/pkg/errors"
	"github.com/Ironbeetle/tcn-member-portal/v1/models"
)

// MemberService serves single-member lookup and deletion for the sync
// API. Keys resolve natural-key first: a treaty number match wins over a
// surrogate id match.
type MemberService struct {
	db         *gorm.DB
	reconciler *Reconciler
}

// NewMemberService creates a new member service
func NewMemberService(db *gorm.DB) *MemberService {
	return &MemberService{db: db, reconciler: NewReconciler()}
}

func (s *MemberService) findByKey(tx *gorm.DB, key string) (*models.Member, error) {
	var member models.Member
	err := tx.First(&member, "treaty_number = ?", key).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		err = tx.First(&member, "member_id = ?", key).Error
	}
	if err != nil {
		return nil, apperrors.FromStoreError(err, "member")
	}
	return &member, nil
}

// GetMember returns a member snapshot by treaty number or surrogate id
func (s *MemberService) GetMember(ctx context.Context, key string) (*models.MemberSnapshot, error) {
	if key == "" {
		return nil, apperrors.ValidationError("MISSING_KEY", "treaty number or member id is required")
	}

	tx := s.db.WithContext(ctx)
	member, err := s.findByKey(tx, key)
	if err != nil {
		return nil, err
	}

	snapshot := &models.MemberSnapshot{Member: *member}

	var profile models.Profile
	if err := tx.First(&profile, "member_id = ?", member.MemberID).Error; err == nil {
		snapshot.Profile = &profile
	} else if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperrors.FromStoreError(err, "profile")
	}

	var barcode models.Barcode
	if err := tx.First(&barcode, "member_id = ?", member.MemberID).Error; err == nil {
		snapshot.Barcode = &barcode
	} else if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperrors.FromStoreError(err, "barcode")
	}

	var family []models.Family
	if err := tx.Where("member_id = ?", member.MemberID).Order("family_id ASC").Find(&family).Error; err != nil {
		return nil, apperrors.FromStoreError(err, "family records")
	}
	if len(family) > 0 {
		snapshot.Family = family
	}

	return snapshot, nil
}

// DeleteMember tombstones a member by treaty number or surrogate id.
// The row stays queryable so the delta pull can propagate the deletion.
func (s *MemberService) DeleteMember(ctx context.Context, key, status string) (*models.Member, error) {
	if key == "" {
		return nil, apperrors.ValidationError("MISSING_KEY", "treaty number or member id is required")
	}
	if status == "" {
		status = models.MemberStatusDeceased
	}
	if status != models.MemberStatusDeceased && status != models.MemberStatusRemovedByMaster {
		return nil, apperrors.ValidationError("INVALID_STATUS", "delete status must be a tombstone status")
	}

	var member *models.Member
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		member, err = s.findByKey(tx, key)
		if err != nil {
			return err
		}
		member.Status = status
		if err := tx.Save(member).Error; err != nil {
			return apperrors.FromStoreError(err, "member")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return member, nil
}
