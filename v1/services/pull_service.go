package services

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	apperrors "github.com/Ironbeetle/tcn-member-portal/pkg/errors"
	"github.com/Ironbeetle/tcn-member-portal/pkg/monitoring"
	"github.com/Ironbeetle/tcn-member-portal/v1/models"
)

// PullService serves delta pulls in both sync directions: the messaging
// side pulls member snapshots, the master side pulls portal-originated
// profile and family edits.
//
// Pagination is two-keyed on purpose. UpdatedAt timestamps are not unique,
// so a timestamp-only cursor would skip or duplicate rows updated in the
// same instant; the surrogate-id cursor gives a total order within any
// timestamp tie. The watermark filter stays fixed across pages while the
// id cursor advances.
type PullService struct {
	db *gorm.DB
}

// NewPullService creates a new pull service
func NewPullService(db *gorm.DB) *PullService {
	return &PullService{db: db}
}

// ClampPullLimit bounds a caller-supplied page size
func ClampPullLimit(limit int) int {
	if limit <= 0 {
		return models.DefaultPullLimit
	}
	if limit > models.MaxPullLimit {
		return models.MaxPullLimit
	}
	return limit
}

// PullMembers returns members updated after the watermark, with their
// profile, barcode and family records attached.
func (s *PullService) PullMembers(ctx context.Context, since time.Time, cursor string, limit int) (*models.MemberPullResponse, error) {
	limit = ClampPullLimit(limit)

	var members []models.Member
	err := s.db.WithContext(ctx).
		Where("updated_at > ?", since).
		Where("member_id > ?", cursor).
		Order("member_id ASC").
		Limit(limit + 1).
		Find(&members).Error
	if err != nil {
		return nil, apperrors.FromStoreError(err, "members")
	}

	page, pagination := trimMemberPage(members, limit)

	resp := &models.MemberPullResponse{
		Members:    make([]models.MemberSnapshot, 0, len(page)),
		Pagination: pagination,
	}

	for i := range page {
		snapshot, err := s.loadMemberSnapshot(ctx, &page[i])
		if err != nil {
			return nil, err
		}
		resp.Members = append(resp.Members, *snapshot)
	}

	monitoring.RecordPullRows("fnmember", len(resp.Members))
	return resp, nil
}

func trimMemberPage(members []models.Member, limit int) ([]models.Member, models.Pagination) {
	pagination := models.Pagination{Count: len(members)}
	if len(members) > limit {
		members = members[:limit]
		pagination.Count = limit
		pagination.HasMore = true
		pagination.NextCursor = members[limit-1].MemberID
	}
	return members, pagination
}

func (s *PullService) loadMemberSnapshot(ctx context.Context, member *models.Member) (*models.MemberSnapshot, error) {
	snapshot := &models.MemberSnapshot{Member: *member}

	var profile models.Profile
	err := s.db.WithContext(ctx).First(&profile, "member_id = ?", member.MemberID).Error
	if err == nil {
		snapshot.Profile = &profile
	} else if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperrors.FromStoreError(err, "profile")
	}

	var barcode models.Barcode
	err = s.db.WithContext(ctx).First(&barcode, "member_id = ?", member.MemberID).Error
	if err == nil {
		snapshot.Barcode = &barcode
	} else if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperrors.FromStoreError(err, "barcode")
	}

	var family []models.Family
	err = s.db.WithContext(ctx).
		Where("member_id = ?", member.MemberID).
		Order("family_id ASC").
		Find(&family).Error
	if err != nil {
		return nil, apperrors.FromStoreError(err, "family records")
	}
	if len(family) > 0 {
		snapshot.Family = family
	}

	return snapshot, nil
}

// PullChanges returns portal-side profile and family edits for the master
// system. Each selected model pages independently with the shared cursor
// and limit parameters.
func (s *PullService) PullChanges(ctx context.Context, modelNames []string, since time.Time, cursor string, limit int) (*models.ChangesPullResponse, error) {
	limit = ClampPullLimit(limit)

	if len(modelNames) == 0 {
		return nil, apperrors.ValidationError("MISSING_MODELS", "models selector is required")
	}

	resp := &models.ChangesPullResponse{}
	for _, name := range modelNames {
		switch models.SyncModel(name) {
		case models.ModelProfile:
			page, err := s.pullProfiles(ctx, since, cursor, limit)
			if err != nil {
				return nil, err
			}
			resp.Profiles = page
		case models.ModelFamily:
			page, err := s.pullFamilies(ctx, since, cursor, limit)
			if err != nil {
				return nil, err
			}
			resp.Families = page
		default:
			return nil, apperrors.ValidationError("INVALID_MODEL",
				"models selector accepts Profile and Family only")
		}
	}
	return resp, nil
}

func (s *PullService) pullProfiles(ctx context.Context, since time.Time, cursor string, limit int) (*models.ModelPage, error) {
	var rows []models.Profile
	err := s.db.WithContext(ctx).
		Where("updated_at > ?", since).
		Where("profile_id > ?", cursor).
		Order("profile_id ASC").
		Limit(limit + 1).
		Find(&rows).Error
	if err != nil {
		return nil, apperrors.FromStoreError(err, "profiles")
	}

	pagination := models.Pagination{Count: len(rows)}
	if len(rows) > limit {
		rows = rows[:limit]
		pagination.Count = limit
		pagination.HasMore = true
		pagination.NextCursor = rows[limit-1].ProfileID
	}

	monitoring.RecordPullRows("Profile", len(rows))
	return &models.ModelPage{Items: rows, Pagination: pagination}, nil
}

func (s *PullService) pullFamilies(ctx context.Context, since time.Time, cursor string, limit int) (*models.ModelPage, error) {
	var rows []models.Family
	err := s.db.WithContext(ctx).
		Where("updated_at > ?", since).
		Where("family_id > ?", cursor).
		Order("family_id ASC").
		Limit(limit + 1).
		Find(&rows).Error
	if err != nil {
		return nil, apperrors.FromStoreError(err, "family records")
	}

	pagination := models.Pagination{Count: len(rows)}
	if len(rows) > limit {
		rows = rows[:limit]
		pagination.Count = limit
		pagination.HasMore = true
		pagination.NextCursor = rows[limit-1].FamilyID
	}

	monitoring.RecordPullRows("Family", len(rows))
	return &models.ModelPage{Items: rows, Pagination: pagination}, nil
}
