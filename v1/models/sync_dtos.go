package models

import (
	"encoding/json"
	"fmt"
	"time"

	apperrors "github.com/Ironbeetle/tcn-member-portal/pkg/errors"
)

// SyncItem is one element of a batch push. Data is decoded into the
// typed payload for the declared model before any reconciliation runs.
// ID is an optional envelope-level alternative to an id inside Data;
// when both are present the payload's own id wins.
type SyncItem struct {
	Model     SyncModel       `json:"model"`
	Operation SyncOperation   `json:"operation"`
	Data      json.RawMessage `json:"data"`
	ID        string          `json:"id,omitempty"`
}

// Validate checks the item envelope
func (i *SyncItem) Validate() *apperrors.APIError {
	if !ValidModels[i.Model] {
		return apperrors.ValidationError("INVALID_MODEL", fmt.Sprintf("unknown sync model %q", i.Model))
	}
	if !ValidOperations[i.Operation] {
		return apperrors.ValidationError("INVALID_OPERATION", fmt.Sprintf("unknown sync operation %q", i.Operation))
	}
	if len(i.Data) == 0 {
		return apperrors.ValidationError("MISSING_DATA", "sync item data is required")
	}
	return nil
}

// BatchSyncRequest is the envelope for POST /sync/batch. SyncID is an
// opaque caller correlation id; the processor itself never keys on it.
type BatchSyncRequest struct {
	SyncID string     `json:"syncId"`
	Items  []SyncItem `json:"items"`
}

// Validate checks the batch envelope
func (r *BatchSyncRequest) Validate() *apperrors.APIError {
	if r.SyncID == "" {
		return apperrors.ValidationError("MISSING_SYNC_ID", "syncId is required")
	}
	if len(r.Items) == 0 {
		return apperrors.ValidationError("EMPTY_BATCH", "items must contain at least one sync item")
	}
	if len(r.Items) > MaxBatchItems {
		return apperrors.ValidationError("BATCH_TOO_LARGE",
			fmt.Sprintf("batch exceeds the maximum of %d items", MaxBatchItems))
	}
	return nil
}

// SyncItemResult is the per-item outcome of a batch push
type SyncItemResult struct {
	Index     int           `json:"index"`
	Model     SyncModel     `json:"model"`
	Operation SyncOperation `json:"operation"`
	Success   bool          `json:"success"`
	Error     string        `json:"error,omitempty"`
	ErrorCode string        `json:"errorCode,omitempty"`
	Data      interface{}   `json:"data,omitempty"`
}

// BatchSyncResponse summarizes a processed batch
type BatchSyncResponse struct {
	SyncID    string           `json:"syncId"`
	Processed int              `json:"processed"`
	Failed    int              `json:"failed"`
	Total     int              `json:"total"`
	Results   []SyncItemResult `json:"results"`
}

// MemberSyncData is the typed payload for fnmember items. Pointer fields
// distinguish "absent" from "zero" so UPDATE can apply partial changes.
// The optional children make the owner-first rule explicit: they are
// reconciled against the just-resolved member, never by their own ids.
type MemberSyncData struct {
	ID           string           `json:"id,omitempty"`
	TreatyNumber string           `json:"treatyNumber,omitempty"`
	FirstName    *string          `json:"firstName,omitempty"`
	LastName     *string          `json:"lastName,omitempty"`
	Birthdate    *string          `json:"birthdate,omitempty"`
	Email        *string          `json:"email,omitempty"`
	PhoneNumber  *string          `json:"phoneNumber,omitempty"`
	Status       *string          `json:"status,omitempty"`
	Profile      *ProfileSyncData `json:"profile,omitempty"`
	Barcode      *BarcodeSyncData `json:"barcode,omitempty"`
	Family       []FamilySyncData `json:"family,omitempty"`
}

// Validate checks the payload for the given operation
func (d *MemberSyncData) Validate(op SyncOperation) *apperrors.APIError {
	switch op {
	case OperationCreate, OperationUpsert:
		if d.TreatyNumber == "" {
			return apperrors.ValidationError("MISSING_TREATY_NUMBER", "treatyNumber is required for member create/upsert")
		}
	case OperationUpdate:
		if d.ID == "" {
			return apperrors.ValidationError("MISSING_ID", "id is required for member update")
		}
	case OperationDelete:
		if d.ID == "" && d.TreatyNumber == "" {
			return apperrors.ValidationError("MISSING_KEY", "treatyNumber or id is required for member delete")
		}
	}
	if d.Status != nil && !ValidMemberStatuses[*d.Status] {
		return apperrors.ValidationError("INVALID_STATUS", fmt.Sprintf("unknown member status %q", *d.Status))
	}
	if d.Birthdate != nil {
		if _, err := ParseSyncDate(*d.Birthdate); err != nil {
			return apperrors.ValidationErrorWithDetails("INVALID_BIRTHDATE", "birthdate is not a valid date", err.Error())
		}
	}
	return nil
}

// ProfileSyncData is the typed payload for Profile items. FNMemberID is
// the sender's reference to the owning member: either the portal's
// surrogate id or, failing that, the treaty number resolves the owner.
type ProfileSyncData struct {
	ID               string  `json:"id,omitempty"`
	FNMemberID       string  `json:"fnmemberId,omitempty"`
	TreatyNumber     string  `json:"treatyNumber,omitempty"`
	Address          *string `json:"address,omitempty"`
	City             *string `json:"city,omitempty"`
	Province         *string `json:"province,omitempty"`
	PostalCode       *string `json:"postalCode,omitempty"`
	EmergencyContact *string `json:"emergencyContact,omitempty"`
	EmergencyPhone   *string `json:"emergencyPhone,omitempty"`
}

// Validate checks the payload for the given operation
func (d *ProfileSyncData) Validate(op SyncOperation) *apperrors.APIError {
	switch op {
	case OperationCreate, OperationUpsert:
		if d.FNMemberID == "" && d.TreatyNumber == "" {
			return apperrors.ValidationError("MISSING_OWNER", "fnmemberId or treatyNumber is required for profile create/upsert")
		}
	case OperationUpdate:
		if d.ID == "" {
			return apperrors.ValidationError("MISSING_ID", "id is required for profile update")
		}
	case OperationDelete:
		if d.ID == "" && d.FNMemberID == "" && d.TreatyNumber == "" {
			return apperrors.ValidationError("MISSING_KEY", "fnmemberId, treatyNumber or id is required for profile delete")
		}
	}
	return nil
}

// BarcodeSyncData is the typed payload for Barcode items
type BarcodeSyncData struct {
	ID           string  `json:"id,omitempty"`
	FNMemberID   string  `json:"fnmemberId,omitempty"`
	TreatyNumber string  `json:"treatyNumber,omitempty"`
	Barcode      *string `json:"barcode,omitempty"`
	Activated    *int    `json:"activated,omitempty"`
}

// Validate checks the payload for the given operation
func (d *BarcodeSyncData) Validate(op SyncOperation) *apperrors.APIError {
	switch op {
	case OperationCreate, OperationUpsert:
		if d.FNMemberID == "" && d.TreatyNumber == "" {
			return apperrors.ValidationError("MISSING_OWNER", "fnmemberId or treatyNumber is required for barcode create/upsert")
		}
		if d.Barcode == nil || *d.Barcode == "" {
			return apperrors.ValidationError("MISSING_BARCODE", "barcode is required for barcode create/upsert")
		}
	case OperationUpdate:
		if d.ID == "" {
			return apperrors.ValidationError("MISSING_ID", "id is required for barcode update")
		}
	case OperationDelete:
		if d.ID == "" && d.FNMemberID == "" && d.TreatyNumber == "" {
			return apperrors.ValidationError("MISSING_KEY", "fnmemberId, treatyNumber or id is required for barcode delete")
		}
	}
	if d.Activated != nil && *d.Activated != BarcodeMinted && *d.Activated != BarcodeAssigned {
		return apperrors.ValidationError("INVALID_ACTIVATED",
			fmt.Sprintf("activated must be %d or %d", BarcodeMinted, BarcodeAssigned))
	}
	return nil
}

// FamilySyncData is the typed payload for Family items
type FamilySyncData struct {
	ID           string  `json:"id,omitempty"`
	FNMemberID   string  `json:"fnmemberId,omitempty"`
	TreatyNumber string  `json:"treatyNumber,omitempty"`
	Relationship *string `json:"relationship,omitempty"`
	FirstName    *string `json:"firstName,omitempty"`
	LastName     *string `json:"lastName,omitempty"`
	Birthdate    *string `json:"birthdate,omitempty"`
}

// Validate checks the payload for the given operation
func (d *FamilySyncData) Validate(op SyncOperation) *apperrors.APIError {
	switch op {
	case OperationCreate, OperationUpsert:
		if d.FNMemberID == "" && d.TreatyNumber == "" {
			return apperrors.ValidationError("MISSING_OWNER", "fnmemberId or treatyNumber is required for family create/upsert")
		}
		if d.FirstName == nil || *d.FirstName == "" {
			return apperrors.ValidationError("MISSING_FIRST_NAME", "firstName is required for family create/upsert")
		}
	case OperationUpdate:
		if d.ID == "" {
			return apperrors.ValidationError("MISSING_ID", "id is required for family update")
		}
	case OperationDelete:
		if d.ID == "" {
			return apperrors.ValidationError("MISSING_ID", "id is required for family delete")
		}
	}
	if d.Birthdate != nil {
		if _, err := ParseSyncDate(*d.Birthdate); err != nil {
			return apperrors.ValidationErrorWithDetails("INVALID_BIRTHDATE", "birthdate is not a valid date", err.Error())
		}
	}
	return nil
}

// BulletinSyncData is the typed payload for bulletin push
type BulletinSyncData struct {
	ID        string  `json:"id,omitempty"`
	SourceID  string  `json:"sourceId"`
	Title     *string `json:"title,omitempty"`
	Body      *string `json:"body,omitempty"`
	Category  *string `json:"category,omitempty"`
	PostedAt  *string `json:"postedAt,omitempty"`
	ExpiresAt *string `json:"expiresAt,omitempty"`
}

// Validate checks the bulletin payload
func (d *BulletinSyncData) Validate() *apperrors.APIError {
	if d.SourceID == "" {
		return apperrors.ValidationError("MISSING_SOURCE_ID", "sourceId is required")
	}
	if d.Title == nil || *d.Title == "" {
		return apperrors.ValidationError("MISSING_TITLE", "title is required")
	}
	for _, ts := range []*string{d.PostedAt, d.ExpiresAt} {
		if ts != nil {
			if _, err := ParseSyncTimestamp(*ts); err != nil {
				return apperrors.ValidationErrorWithDetails("INVALID_TIMESTAMP", "timestamp is not RFC3339", err.Error())
			}
		}
	}
	return nil
}

// BulletinBatchRequest is the batch envelope for POST /sync/bulletin
type BulletinBatchRequest struct {
	SyncID string             `json:"syncId"`
	Items  []BulletinSyncData `json:"items"`
}

// CouncilMemberSyncData is one seat in a council term sync
type CouncilMemberSyncData struct {
	ID        string   `json:"id,omitempty"`
	SourceID  string   `json:"sourceId"`
	FirstName string   `json:"firstName"`
	LastName  string   `json:"lastName"`
	Portfolio []string `json:"portfolio,omitempty"`
	Email     string   `json:"email,omitempty"`
}

// CouncilSyncData is the typed payload for council term push. The member
// set is replaced for the term: seats absent from Members are removed.
type CouncilSyncData struct {
	ID           string                  `json:"id,omitempty"`
	SourceID     string                  `json:"sourceId"`
	CouncilStart *string                 `json:"councilStart,omitempty"`
	CouncilEnd   *string                 `json:"councilEnd,omitempty"`
	Members      []CouncilMemberSyncData `json:"members"`
}

// Validate checks the council payload
func (d *CouncilSyncData) Validate() *apperrors.APIError {
	if d.SourceID == "" {
		return apperrors.ValidationError("MISSING_SOURCE_ID", "sourceId is required")
	}
	for i, m := range d.Members {
		if m.SourceID == "" {
			return apperrors.ValidationError("MISSING_MEMBER_SOURCE_ID",
				fmt.Sprintf("members[%d].sourceId is required", i))
		}
	}
	for _, ts := range []*string{d.CouncilStart, d.CouncilEnd} {
		if ts != nil {
			if _, err := ParseSyncTimestamp(*ts); err != nil {
				return apperrors.ValidationErrorWithDetails("INVALID_TIMESTAMP", "timestamp is not RFC3339", err.Error())
			}
		}
	}
	return nil
}

// CouncilBatchRequest is the batch envelope for POST /sync/council
type CouncilBatchRequest struct {
	SyncID string            `json:"syncId"`
	Items  []CouncilSyncData `json:"items"`
}

// Pagination describes one page of a delta pull
type Pagination struct {
	Count      int    `json:"count"`
	NextCursor string `json:"nextCursor,omitempty"`
	HasMore    bool   `json:"hasMore"`
}

// MemberSnapshot is a member with its dependent records, served by the
// member delta pull so the messaging side gets the full picture per member
type MemberSnapshot struct {
	Member
	Profile *Profile `json:"profile,omitempty"`
	Barcode *Barcode `json:"barcode,omitempty"`
	Family  []Family `json:"family,omitempty"`
}

// MemberPullResponse is the body of GET /sync/members
type MemberPullResponse struct {
	Members    []MemberSnapshot `json:"members"`
	Pagination Pagination       `json:"pagination"`
}

// ModelPage is one model's page in a portal-direction pull
type ModelPage struct {
	Items      interface{} `json:"items"`
	Pagination Pagination  `json:"pagination"`
}

// ChangesPullResponse is the body of GET /sync/pull, keyed by model name
type ChangesPullResponse struct {
	Profiles *ModelPage `json:"profiles,omitempty"`
	Families *ModelPage `json:"families,omitempty"`
}

// ParseSyncDate parses a date-only field (YYYY-MM-DD)
func ParseSyncDate(s string) (time.Time, error) {
	return time.Parse("2006-01-02", s)
}

// ParseSyncTimestamp parses an RFC3339 timestamp field
func ParseSyncTimestamp(s string) (time.Time, error) {
	return time.Parse(time.RFC3339, s)
}
