package services

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	apperrors "github.com/Ironbeetle/tcn-member-portal/pkg/errors"
	"github.com/Ironbeetle/tcn-member-portal/v1/models"
)

// Reconciler maps one incoming sync item to a concrete store mutation.
// Identity is always resolved by natural key first: members by treaty
// number, dependent records by their owning member's local surrogate id.
// Incoming surrogate ids minted by the sending system are never used for
// lookups on owner-keyed models, which is what keeps repeated pushes of
// the same record from creating duplicates.
type Reconciler struct{}

// NewReconciler creates a new reconciler
func NewReconciler() *Reconciler {
	return &Reconciler{}
}

// Apply reconciles one sync item inside the given transaction and returns
// the resulting record. All errors are *apperrors.APIError values so the
// batch processor can report them per item without aborting siblings.
func (r *Reconciler) Apply(tx *gorm.DB, item models.SyncItem) (interface{}, error) {
	if err := item.Validate(); err != nil {
		return nil, err
	}

	switch item.Model {
	case models.ModelMember:
		var data models.MemberSyncData
		if err := decodeSyncData(item.Data, &data); err != nil {
			return nil, err
		}
		if data.ID == "" {
			data.ID = item.ID
		}
		return r.applyMember(tx, item.Operation, &data)
	case models.ModelProfile:
		var data models.ProfileSyncData
		if err := decodeSyncData(item.Data, &data); err != nil {
			return nil, err
		}
		if data.ID == "" {
			data.ID = item.ID
		}
		return r.applyProfile(tx, item.Operation, &data)
	case models.ModelBarcode:
		var data models.BarcodeSyncData
		if err := decodeSyncData(item.Data, &data); err != nil {
			return nil, err
		}
		if data.ID == "" {
			data.ID = item.ID
		}
		return r.applyBarcode(tx, item.Operation, &data)
	case models.ModelFamily:
		var data models.FamilySyncData
		if err := decodeSyncData(item.Data, &data); err != nil {
			return nil, err
		}
		if data.ID == "" {
			data.ID = item.ID
		}
		return r.applyFamily(tx, item.Operation, &data)
	default:
		return nil, apperrors.ValidationError("INVALID_MODEL", fmt.Sprintf("unknown sync model %q", item.Model))
	}
}

func decodeSyncData(raw json.RawMessage, out interface{}) error {
	if err := json.Unmarshal(raw, out); err != nil {
		return apperrors.ValidationErrorWithDetails("MALFORMED_DATA", "sync item data does not match the model schema", err.Error())
	}
	return nil
}

// --- Member ---

func (r *Reconciler) applyMember(tx *gorm.DB, op models.SyncOperation, data *models.MemberSyncData) (interface{}, error) {
	if err := data.Validate(op); err != nil {
		return nil, err
	}

	switch op {
	case models.OperationCreate, models.OperationUpsert:
		return r.upsertMember(tx, data)
	case models.OperationUpdate:
		return r.updateMember(tx, data)
	case models.OperationDelete:
		return r.deleteMember(tx, data)
	}
	return nil, apperrors.ValidationError("INVALID_OPERATION", fmt.Sprintf("unsupported member operation %q", op))
}

func (r *Reconciler) upsertMember(tx *gorm.DB, data *models.MemberSyncData) (interface{}, error) {
	var member models.Member
	err := tx.First(&member, "treaty_number = ?", data.TreatyNumber).Error
	switch {
	case err == nil:
		// Known treaty number: update in place, keeping our surrogate id
		// whatever id the sender minted on its side.
		if err := applyMemberFields(&member, data); err != nil {
			return nil, err
		}
		if err := tx.Save(&member).Error; err != nil {
			return nil, apperrors.FromStoreError(err, "member")
		}
	case errors.Is(err, gorm.ErrRecordNotFound):
		member = models.Member{
			MemberID:     data.ID,
			TreatyNumber: data.TreatyNumber,
			Status:       models.MemberStatusActive,
		}
		if member.MemberID == "" {
			member.MemberID = uuid.NewString()
		}
		if err := applyMemberFields(&member, data); err != nil {
			return nil, err
		}
		if err := tx.Create(&member).Error; err != nil {
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				// Lost a race with a concurrent upsert of the same treaty
				// number: re-read and convert to an update.
				return r.retryMemberAsUpdate(tx, data)
			}
			return nil, apperrors.FromStoreError(err, "member")
		}
	default:
		return nil, apperrors.FromStoreError(err, "member")
	}

	return r.reconcileMemberChildren(tx, &member, data)
}

func (r *Reconciler) retryMemberAsUpdate(tx *gorm.DB, data *models.MemberSyncData) (interface{}, error) {
	var member models.Member
	if err := tx.First(&member, "treaty_number = ?", data.TreatyNumber).Error; err != nil {
		return nil, apperrors.FromStoreError(err, "member")
	}
	if err := applyMemberFields(&member, data); err != nil {
		return nil, err
	}
	if err := tx.Save(&member).Error; err != nil {
		return nil, apperrors.FromStoreError(err, "member")
	}
	return r.reconcileMemberChildren(tx, &member, data)
}

func (r *Reconciler) updateMember(tx *gorm.DB, data *models.MemberSyncData) (interface{}, error) {
	var member models.Member
	if err := tx.First(&member, "member_id = ?", data.ID).Error; err != nil {
		return nil, apperrors.FromStoreError(err, "member")
	}
	if data.TreatyNumber != "" && data.TreatyNumber != member.TreatyNumber {
		return nil, apperrors.ValidationError("TREATY_NUMBER_IMMUTABLE", "treaty number cannot be changed once assigned")
	}
	if err := applyMemberFields(&member, data); err != nil {
		return nil, err
	}
	if err := tx.Save(&member).Error; err != nil {
		return nil, apperrors.FromStoreError(err, "member")
	}
	return r.reconcileMemberChildren(tx, &member, data)
}

// deleteMember sets a tombstone rather than removing the row, so the
// master system can still pull the deletion as a delta.
func (r *Reconciler) deleteMember(tx *gorm.DB, data *models.MemberSyncData) (interface{}, error) {
	var member models.Member
	var err error
	if data.TreatyNumber != "" {
		err = tx.First(&member, "treaty_number = ?", data.TreatyNumber).Error
	} else {
		err = tx.First(&member, "member_id = ?", data.ID).Error
	}
	if err != nil {
		return nil, apperrors.FromStoreError(err, "member")
	}

	status := models.MemberStatusDeceased
	if data.Status != nil && *data.Status == models.MemberStatusRemovedByMaster {
		status = models.MemberStatusRemovedByMaster
	}
	member.Status = status
	if err := tx.Save(&member).Error; err != nil {
		return nil, apperrors.FromStoreError(err, "member")
	}
	return &member, nil
}

// reconcileMemberChildren applies the optional embedded Profile, Barcode
// and Family records against the just-resolved member. The children's own
// ids are irrelevant here; the owner id drives every lookup. Embedded
// children inherit the owner from the enclosing member item, so their
// payloads need no fnmemberId or treatyNumber of their own.
func (r *Reconciler) reconcileMemberChildren(tx *gorm.DB, member *models.Member, data *models.MemberSyncData) (interface{}, error) {
	snapshot := models.MemberSnapshot{Member: *member}

	if data.Profile != nil {
		if data.Profile.FNMemberID == "" {
			data.Profile.FNMemberID = member.MemberID
		}
		if err := data.Profile.Validate(models.OperationUpsert); err != nil {
			return nil, err
		}
		profile, err := r.upsertProfileFor(tx, member, data.Profile)
		if err != nil {
			return nil, err
		}
		snapshot.Profile = profile
	}
	if data.Barcode != nil {
		if data.Barcode.FNMemberID == "" {
			data.Barcode.FNMemberID = member.MemberID
		}
		if err := data.Barcode.Validate(models.OperationUpsert); err != nil {
			return nil, err
		}
		barcode, err := r.upsertBarcodeFor(tx, member, data.Barcode)
		if err != nil {
			return nil, err
		}
		snapshot.Barcode = barcode
	}
	for i := range data.Family {
		fam := &data.Family[i]
		if fam.FNMemberID == "" {
			fam.FNMemberID = member.MemberID
		}
		if err := fam.Validate(models.OperationUpsert); err != nil {
			return nil, err
		}
		row, err := r.upsertFamilyFor(tx, member, fam)
		if err != nil {
			return nil, err
		}
		snapshot.Family = append(snapshot.Family, *row)
	}

	if snapshot.Profile == nil && snapshot.Barcode == nil && snapshot.Family == nil {
		return member, nil
	}
	return &snapshot, nil
}

func applyMemberFields(member *models.Member, data *models.MemberSyncData) error {
	if data.FirstName != nil {
		member.FirstName = *data.FirstName
	}
	if data.LastName != nil {
		member.LastName = *data.LastName
	}
	if data.Email != nil {
		member.Email = *data.Email
	}
	if data.PhoneNumber != nil {
		member.PhoneNumber = *data.PhoneNumber
	}
	if data.Status != nil {
		member.Status = *data.Status
	}
	if data.Birthdate != nil {
		bd, err := models.ParseSyncDate(*data.Birthdate)
		if err != nil {
			return apperrors.ValidationErrorWithDetails("INVALID_BIRTHDATE", "birthdate is not a valid date", err.Error())
		}
		member.Birthdate = &bd
	}
	return nil
}

// resolveOwner finds the local member a dependent record belongs to.
// The sender's fnmemberId may be our surrogate id, the master's own id,
// or a bare treaty number, so all three readings are tried in order.
func (r *Reconciler) resolveOwner(tx *gorm.DB, fnmemberID, treatyNumber string) (*models.Member, error) {
	var member models.Member
	if fnmemberID != "" {
		if err := tx.First(&member, "member_id = ?", fnmemberID).Error; err == nil {
			return &member, nil
		} else if !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperrors.FromStoreError(err, "member")
		}
	}
	if treatyNumber != "" {
		if err := tx.First(&member, "treaty_number = ?", treatyNumber).Error; err == nil {
			return &member, nil
		} else if !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperrors.FromStoreError(err, "member")
		}
	}
	if fnmemberID != "" {
		if err := tx.First(&member, "treaty_number = ?", fnmemberID).Error; err == nil {
			return &member, nil
		} else if !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperrors.FromStoreError(err, "member")
		}
	}
	return nil, apperrors.NotFoundError("owning member")
}

// --- Profile ---

func (r *Reconciler) applyProfile(tx *gorm.DB, op models.SyncOperation, data *models.ProfileSyncData) (interface{}, error) {
	if err := data.Validate(op); err != nil {
		return nil, err
	}

	switch op {
	case models.OperationCreate, models.OperationUpsert:
		owner, err := r.resolveOwner(tx, data.FNMemberID, data.TreatyNumber)
		if err != nil {
			return nil, err
		}
		return r.upsertProfileFor(tx, owner, data)
	case models.OperationUpdate:
		var profile models.Profile
		if err := tx.First(&profile, "profile_id = ?", data.ID).Error; err != nil {
			return nil, apperrors.FromStoreError(err, "profile")
		}
		applyProfileFields(&profile, data)
		if err := tx.Save(&profile).Error; err != nil {
			return nil, apperrors.FromStoreError(err, "profile")
		}
		return &profile, nil
	case models.OperationDelete:
		return nil, r.deleteProfile(tx, data)
	}
	return nil, apperrors.ValidationError("INVALID_OPERATION", fmt.Sprintf("unsupported profile operation %q", op))
}

// upsertProfileFor looks the profile up by owner, never by the incoming
// row's own id. A profile pushed standalone and one pushed nested inside
// a member item therefore always land on the same row.
func (r *Reconciler) upsertProfileFor(tx *gorm.DB, owner *models.Member, data *models.ProfileSyncData) (*models.Profile, error) {
	var profile models.Profile
	err := tx.First(&profile, "member_id = ?", owner.MemberID).Error
	switch {
	case err == nil:
		applyProfileFields(&profile, data)
		if err := tx.Save(&profile).Error; err != nil {
			return nil, apperrors.FromStoreError(err, "profile")
		}
	case errors.Is(err, gorm.ErrRecordNotFound):
		profile = models.Profile{
			ProfileID: uuid.NewString(),
			MemberID:  owner.MemberID,
		}
		applyProfileFields(&profile, data)
		if err := tx.Create(&profile).Error; err != nil {
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				return r.retryProfileAsUpdate(tx, owner, data)
			}
			return nil, apperrors.FromStoreError(err, "profile")
		}
	default:
		return nil, apperrors.FromStoreError(err, "profile")
	}
	return &profile, nil
}

func (r *Reconciler) retryProfileAsUpdate(tx *gorm.DB, owner *models.Member, data *models.ProfileSyncData) (*models.Profile, error) {
	var profile models.Profile
	if err := tx.First(&profile, "member_id = ?", owner.MemberID).Error; err != nil {
		return nil, apperrors.FromStoreError(err, "profile")
	}
	applyProfileFields(&profile, data)
	if err := tx.Save(&profile).Error; err != nil {
		return nil, apperrors.FromStoreError(err, "profile")
	}
	return &profile, nil
}

func (r *Reconciler) deleteProfile(tx *gorm.DB, data *models.ProfileSyncData) error {
	if data.FNMemberID != "" || data.TreatyNumber != "" {
		owner, err := r.resolveOwner(tx, data.FNMemberID, data.TreatyNumber)
		if err != nil {
			return err
		}
		res := tx.Where("member_id = ?", owner.MemberID).Delete(&models.Profile{})
		if res.Error != nil {
			return apperrors.FromStoreError(res.Error, "profile")
		}
		if res.RowsAffected == 0 {
			return apperrors.NotFoundError("profile")
		}
		return nil
	}
	res := tx.Where("profile_id = ?", data.ID).Delete(&models.Profile{})
	if res.Error != nil {
		return apperrors.FromStoreError(res.Error, "profile")
	}
	if res.RowsAffected == 0 {
		return apperrors.NotFoundError("profile")
	}
	return nil
}

func applyProfileFields(profile *models.Profile, data *models.ProfileSyncData) {
	if data.Address != nil {
		profile.Address = *data.Address
	}
	if data.City != nil {
		profile.City = *data.City
	}
	if data.Province != nil {
		profile.Province = *data.Province
	}
	if data.PostalCode != nil {
		profile.PostalCode = *data.PostalCode
	}
	if data.EmergencyContact != nil {
		profile.EmergencyContact = *data.EmergencyContact
	}
	if data.EmergencyPhone != nil {
		profile.EmergencyPhone = *data.EmergencyPhone
	}
}

// --- Barcode ---

func (r *Reconciler) applyBarcode(tx *gorm.DB, op models.SyncOperation, data *models.BarcodeSyncData) (interface{}, error) {
	if err := data.Validate(op); err != nil {
		return nil, err
	}

	switch op {
	case models.OperationCreate, models.OperationUpsert:
		owner, err := r.resolveOwner(tx, data.FNMemberID, data.TreatyNumber)
		if err != nil {
			return nil, err
		}
		return r.upsertBarcodeFor(tx, owner, data)
	case models.OperationUpdate:
		var barcode models.Barcode
		if err := tx.First(&barcode, "barcode_id = ?", data.ID).Error; err != nil {
			return nil, apperrors.FromStoreError(err, "barcode")
		}
		applyBarcodeFields(&barcode, data)
		if err := tx.Save(&barcode).Error; err != nil {
			return nil, apperrors.FromStoreError(err, "barcode")
		}
		return &barcode, nil
	case models.OperationDelete:
		return nil, r.deleteBarcode(tx, data)
	}
	return nil, apperrors.ValidationError("INVALID_OPERATION", fmt.Sprintf("unsupported barcode operation %q", op))
}

func (r *Reconciler) upsertBarcodeFor(tx *gorm.DB, owner *models.Member, data *models.BarcodeSyncData) (*models.Barcode, error) {
	var barcode models.Barcode
	err := tx.First(&barcode, "member_id = ?", owner.MemberID).Error
	switch {
	case err == nil:
		applyBarcodeFields(&barcode, data)
		if err := tx.Save(&barcode).Error; err != nil {
			return nil, apperrors.FromStoreError(err, "barcode")
		}
	case errors.Is(err, gorm.ErrRecordNotFound):
		// Barcodes are directly keyed by the master system, so a
		// caller-supplied id is accepted on create.
		barcode = models.Barcode{
			BarcodeID: data.ID,
			MemberID:  owner.MemberID,
			Activated: models.BarcodeMinted,
		}
		if barcode.BarcodeID == "" {
			barcode.BarcodeID = uuid.NewString()
		}
		applyBarcodeFields(&barcode, data)
		if err := tx.Create(&barcode).Error; err != nil {
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				return r.retryBarcodeAsUpdate(tx, owner, data)
			}
			return nil, apperrors.FromStoreError(err, "barcode")
		}
	default:
		return nil, apperrors.FromStoreError(err, "barcode")
	}
	return &barcode, nil
}

func (r *Reconciler) retryBarcodeAsUpdate(tx *gorm.DB, owner *models.Member, data *models.BarcodeSyncData) (*models.Barcode, error) {
	var barcode models.Barcode
	if err := tx.First(&barcode, "member_id = ?", owner.MemberID).Error; err != nil {
		return nil, apperrors.FromStoreError(err, "barcode")
	}
	applyBarcodeFields(&barcode, data)
	if err := tx.Save(&barcode).Error; err != nil {
		return nil, apperrors.FromStoreError(err, "barcode")
	}
	return &barcode, nil
}

func (r *Reconciler) deleteBarcode(tx *gorm.DB, data *models.BarcodeSyncData) error {
	if data.FNMemberID != "" || data.TreatyNumber != "" {
		owner, err := r.resolveOwner(tx, data.FNMemberID, data.TreatyNumber)
		if err != nil {
			return err
		}
		res := tx.Where("member_id = ?", owner.MemberID).Delete(&models.Barcode{})
		if res.Error != nil {
			return apperrors.FromStoreError(res.Error, "barcode")
		}
		if res.RowsAffected == 0 {
			return apperrors.NotFoundError("barcode")
		}
		return nil
	}
	res := tx.Where("barcode_id = ?", data.ID).Delete(&models.Barcode{})
	if res.Error != nil {
		return apperrors.FromStoreError(res.Error, "barcode")
	}
	if res.RowsAffected == 0 {
		return apperrors.NotFoundError("barcode")
	}
	return nil
}

func applyBarcodeFields(barcode *models.Barcode, data *models.BarcodeSyncData) {
	if data.Barcode != nil {
		barcode.Barcode = *data.Barcode
	}
	if data.Activated != nil {
		barcode.Activated = *data.Activated
	}
}

// --- Family ---

func (r *Reconciler) applyFamily(tx *gorm.DB, op models.SyncOperation, data *models.FamilySyncData) (interface{}, error) {
	if err := data.Validate(op); err != nil {
		return nil, err
	}

	switch op {
	case models.OperationCreate, models.OperationUpsert:
		owner, err := r.resolveOwner(tx, data.FNMemberID, data.TreatyNumber)
		if err != nil {
			return nil, err
		}
		return r.upsertFamilyFor(tx, owner, data)
	case models.OperationUpdate:
		var family models.Family
		if err := tx.First(&family, "family_id = ?", data.ID).Error; err != nil {
			return nil, apperrors.FromStoreError(err, "family record")
		}
		if err := applyFamilyFields(&family, data); err != nil {
			return nil, err
		}
		if err := tx.Save(&family).Error; err != nil {
			return nil, apperrors.FromStoreError(err, "family record")
		}
		return &family, nil
	case models.OperationDelete:
		res := tx.Where("family_id = ?", data.ID).Delete(&models.Family{})
		if res.Error != nil {
			return nil, apperrors.FromStoreError(res.Error, "family record")
		}
		if res.RowsAffected == 0 {
			return nil, apperrors.NotFoundError("family record")
		}
		return nil, nil
	}
	return nil, apperrors.ValidationError("INVALID_OPERATION", fmt.Sprintf("unsupported family operation %q", op))
}

// upsertFamilyFor matches within the owner's family set. A member can have
// many family records, so the match is by id when the caller already knows
// our id, by name otherwise.
func (r *Reconciler) upsertFamilyFor(tx *gorm.DB, owner *models.Member, data *models.FamilySyncData) (*models.Family, error) {
	var family models.Family
	var err error
	if data.ID != "" {
		err = tx.First(&family, "family_id = ? AND member_id = ?", data.ID, owner.MemberID).Error
	} else {
		err = gorm.ErrRecordNotFound
	}
	if errors.Is(err, gorm.ErrRecordNotFound) && data.FirstName != nil {
		lastName := ""
		if data.LastName != nil {
			lastName = *data.LastName
		}
		err = tx.First(&family, "member_id = ? AND first_name = ? AND last_name = ?",
			owner.MemberID, *data.FirstName, lastName).Error
	}

	switch {
	case err == nil:
		if err := applyFamilyFields(&family, data); err != nil {
			return nil, err
		}
		if err := tx.Save(&family).Error; err != nil {
			return nil, apperrors.FromStoreError(err, "family record")
		}
	case errors.Is(err, gorm.ErrRecordNotFound):
		family = models.Family{
			FamilyID: uuid.NewString(),
			MemberID: owner.MemberID,
		}
		if err := applyFamilyFields(&family, data); err != nil {
			return nil, err
		}
		if err := tx.Create(&family).Error; err != nil {
			return nil, apperrors.FromStoreError(err, "family record")
		}
	default:
		return nil, apperrors.FromStoreError(err, "family record")
	}
	return &family, nil
}

func applyFamilyFields(family *models.Family, data *models.FamilySyncData) error {
	if data.Relationship != nil {
		family.Relationship = *data.Relationship
	}
	if data.FirstName != nil {
		family.FirstName = *data.FirstName
	}
	if data.LastName != nil {
		family.LastName = *data.LastName
	}
	if data.Birthdate != nil {
		bd, err := models.ParseSyncDate(*data.Birthdate)
		if err != nil {
			return apperrors.ValidationErrorWithDetails("INVALID_BIRTHDATE", "birthdate is not a valid date", err.Error())
		}
		family.Birthdate = &bd
	}
	return nil
}
