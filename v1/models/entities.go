package models

import "time"

// Member represents a registered First Nation member. MemberID is the
// portal-local surrogate id; TreatyNumber is the natural key shared with
// the master system and is immutable once assigned.
type Member struct {
	MemberID     string     `gorm:"primarykey;column:member_id" json:"memberId"`
	TreatyNumber string     `gorm:"column:treaty_number;uniqueIndex;not null" json:"treatyNumber"`
	FirstName    string     `gorm:"column:first_name" json:"firstName"`
	LastName     string     `gorm:"column:last_name" json:"lastName"`
	Birthdate    *time.Time `gorm:"column:birthdate" json:"birthdate,omitempty"`
	Email        string     `gorm:"column:email" json:"email"`
	PhoneNumber  string     `gorm:"column:phone_number" json:"phoneNumber"`
	Status       string     `gorm:"column:status;not null;default:ACTIVE" json:"status"`
	BaseModel
}

// TableName sets the table name for GORM
func (Member) TableName() string {
	return "members"
}

// Deleted reports whether the member carries a tombstone status
func (m *Member) Deleted() bool {
	return m.Status == MemberStatusDeceased || m.Status == MemberStatusRemovedByMaster
}

// Profile holds a member's contact profile. At most one per member;
// reconciliation always resolves the owner first, so ProfileID is never
// trusted from an incoming payload.
type Profile struct {
	ProfileID        string `gorm:"primarykey;column:profile_id" json:"profileId"`
	MemberID         string `gorm:"column:member_id;uniqueIndex;not null" json:"memberId"`
	Address          string `gorm:"column:address" json:"address"`
	City             string `gorm:"column:city" json:"city"`
	Province         string `gorm:"column:province" json:"province"`
	PostalCode       string `gorm:"column:postal_code" json:"postalCode"`
	EmergencyContact string `gorm:"column:emergency_contact" json:"emergencyContact"`
	EmergencyPhone   string `gorm:"column:emergency_phone" json:"emergencyPhone"`
	BaseModel
}

// TableName sets the table name for GORM
func (Profile) TableName() string {
	return "profiles"
}

// Barcode is a member's issued card barcode. Activated is tri-state:
// 1 minted, 2 assigned; a missing row means not yet issued.
type Barcode struct {
	BarcodeID string `gorm:"primarykey;column:barcode_id" json:"barcodeId"`
	MemberID  string `gorm:"column:member_id;uniqueIndex;not null" json:"memberId"`
	Barcode   string `gorm:"column:barcode;not null" json:"barcode"`
	Activated int    `gorm:"column:activated;not null;default:1" json:"activated"`
	BaseModel
}

// TableName sets the table name for GORM
func (Barcode) TableName() string {
	return "barcodes"
}

// Family is a household/family member record attached to a member.
// Unlike Profile and Barcode a member may have many of these.
type Family struct {
	FamilyID     string     `gorm:"primarykey;column:family_id" json:"familyId"`
	MemberID     string     `gorm:"column:member_id;index;not null" json:"memberId"`
	Relationship string     `gorm:"column:relationship" json:"relationship"`
	FirstName    string     `gorm:"column:first_name" json:"firstName"`
	LastName     string     `gorm:"column:last_name" json:"lastName"`
	Birthdate    *time.Time `gorm:"column:birthdate" json:"birthdate,omitempty"`
	BaseModel
}

// TableName sets the table name for GORM
func (Family) TableName() string {
	return "families"
}

// Bulletin is a community bulletin pushed from the messaging application.
// SourceID is the sender's stable identifier and the reconciliation key.
type Bulletin struct {
	BulletinID string     `gorm:"primarykey;column:bulletin_id" json:"bulletinId"`
	SourceID   string     `gorm:"column:source_id;uniqueIndex;not null" json:"sourceId"`
	Title      string     `gorm:"column:title;not null" json:"title"`
	Body       string     `gorm:"column:body" json:"body"`
	Category   string     `gorm:"column:category" json:"category"`
	PostedAt   *time.Time `gorm:"column:posted_at" json:"postedAt,omitempty"`
	ExpiresAt  *time.Time `gorm:"column:expires_at" json:"expiresAt,omitempty"`
	BaseModel
}

// TableName sets the table name for GORM
func (Bulletin) TableName() string {
	return "bulletins"
}

// Council is a council term. A term sync replaces the member set for the
// term rather than merging it.
type Council struct {
	CouncilID    string     `gorm:"primarykey;column:council_id" json:"councilId"`
	SourceID     string     `gorm:"column:source_id;uniqueIndex;not null" json:"sourceId"`
	CouncilStart *time.Time `gorm:"column:council_start" json:"councilStart,omitempty"`
	CouncilEnd   *time.Time `gorm:"column:council_end" json:"councilEnd,omitempty"`
	BaseModel
}

// TableName sets the table name for GORM
func (Council) TableName() string {
	return "councils"
}

// CouncilMember is a seat on a council term
type CouncilMember struct {
	CouncilMemberID string `gorm:"primarykey;column:council_member_id" json:"councilMemberId"`
	CouncilID       string `gorm:"column:council_id;index;not null" json:"councilId"`
	SourceID        string `gorm:"column:source_id;uniqueIndex;not null" json:"sourceId"`
	FirstName       string `gorm:"column:first_name" json:"firstName"`
	LastName        string `gorm:"column:last_name" json:"lastName"`
	Portfolio       string `gorm:"column:portfolio" json:"portfolio"`
	Email           string `gorm:"column:email" json:"email"`
	BaseModel
}

// TableName sets the table name for GORM
func (CouncilMember) TableName() string {
	return "council_members"
}

// SyncAuditLog records the outcome of every sync call. Counts and error
// strings only; raw payloads are never stored to keep member data out of
// the audit trail.
type SyncAuditLog struct {
	ID         string `gorm:"primarykey;column:id" json:"id"`
	Endpoint   string `gorm:"column:endpoint;not null;index" json:"endpoint"`
	Method     string `gorm:"column:method" json:"method"`
	SyncID     string `gorm:"column:sync_id;index" json:"syncId,omitempty"`
	Success    bool   `gorm:"column:success;not null" json:"success"`
	StatusCode int    `gorm:"column:status_code" json:"statusCode"`
	Processed  int    `gorm:"column:processed" json:"processed"`
	Failed     int    `gorm:"column:failed" json:"failed"`
	Error      string `gorm:"column:error" json:"error,omitempty"`
	CallerIP   string `gorm:"column:caller_ip" json:"callerIp"`
	DurationMs int64  `gorm:"column:duration_ms" json:"durationMs"`
	BaseModel
}

// TableName sets the table name for GORM
func (SyncAuditLog) TableName() string {
	return "sync_audit_logs"
}
