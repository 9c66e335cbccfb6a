package models

// SyncOperation is the caller-declared intent for a sync item
type SyncOperation string

const (
	OperationCreate SyncOperation = "CREATE"
	OperationUpdate SyncOperation = "UPDATE"
	OperationUpsert SyncOperation = "UPSERT"
	OperationDelete SyncOperation = "DELETE"
)

// SyncModel identifies which entity a sync item targets
type SyncModel string

const (
	ModelMember  SyncModel = "fnmember"
	ModelProfile SyncModel = "Profile"
	ModelBarcode SyncModel = "Barcode"
	ModelFamily  SyncModel = "Family"
)

// Member status values. Deletion is logical: the row is kept and the
// status is flipped so the master system can still pull the tombstone.
const (
	MemberStatusActive          = "ACTIVE"
	MemberStatusDeceased        = "DECEASED"
	MemberStatusRemovedByMaster = "REMOVED_BY_MASTER"
)

// Barcode activation states. No row at all means not yet issued.
const (
	BarcodeMinted   = 1
	BarcodeAssigned = 2
)

// Batch processing limits
const (
	MaxBatchItems    = 100
	MaxPullLimit     = 500
	DefaultPullLimit = 100
)

// ValidOperations lists the accepted sync operations
var ValidOperations = map[SyncOperation]bool{
	OperationCreate: true,
	OperationUpdate: true,
	OperationUpsert: true,
	OperationDelete: true,
}

// ValidModels lists the accepted sync models for batch push
var ValidModels = map[SyncModel]bool{
	ModelMember:  true,
	ModelProfile: true,
	ModelBarcode: true,
	ModelFamily:  true,
}

// ValidMemberStatuses lists the accepted member statuses
var ValidMemberStatuses = map[string]bool{
	MemberStatusActive:          true,
	MemberStatusDeceased:        true,
	MemberStatusRemovedByMaster: true,
}
