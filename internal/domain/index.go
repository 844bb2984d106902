package domain

import "time"

// IndexStatus represents the build status of an index version.
// Values include IndexStatusBuilding, IndexStatusReady, IndexStatusFailed, and IndexStatusRetired.
type IndexStatus string

const (
	IndexStatusBuilding IndexStatus = "building"
	IndexStatusReady    IndexStatus = "ready"
	IndexStatusFailed   IndexStatus = "failed"
	IndexStatusRetired  IndexStatus = "retired"
)

// Index is a named, versioned, immutable-once-built artifact over a snapshot of
// vector records restricted to one model. At most one version per name is building
// and exactly one version per name is ready (the active one) once a build succeeded.
type Index struct {
	ID          string      `gorm:"type:text;primaryKey" json:"id"`
	Name        string      `gorm:"type:text;not null;uniqueIndex:idx_indexes_name_version" json:"name"`
	Version     int         `gorm:"not null;uniqueIndex:idx_indexes_name_version" json:"version"`
	ModelName   string      `gorm:"type:text;not null" json:"model_name"`
	Status      IndexStatus `gorm:"type:text;not null;index:idx_indexes_status" json:"status"`
	ArtifactKey string      `gorm:"type:text" json:"artifact_key,omitempty"`
	MappingKey  string      `gorm:"type:text" json:"mapping_key,omitempty"`
	VectorCount int         `gorm:"not null;default:0" json:"vector_count"`
	Dimensions  int         `gorm:"not null;default:0" json:"dimensions"`
	Cursor      int64       `gorm:"not null;default:0" json:"cursor"`
	SnapshotAt  time.Time   `json:"snapshot_at"`
	FailReason  string      `gorm:"type:text" json:"fail_reason,omitempty"`
	CreatedAt   time.Time   `json:"created_at"`
	UpdatedAt   time.Time   `json:"updated_at"`
}

// TableName returns the database table name for Index.
// Parameters: none.
// Returns:
//   - string: table name for GORM mapping.
func (Index) TableName() string {
	return "indexes"
}

// Artifact describes the persisted output of a finished build.
type Artifact struct {
	ArtifactKey string
	MappingKey  string
	VectorCount int
	Dimensions  int
	Cursor      int64
	SnapshotAt  time.Time
}
