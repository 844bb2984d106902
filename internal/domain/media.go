package domain

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"time"
)

// MediaType is the kind of an uploaded media item.
type MediaType string

const (
	MediaTypeImage MediaType = "image"
	MediaTypeVideo MediaType = "video"
)

// Valid reports whether t is a media type that can be ingested.
func (t MediaType) Valid() bool {
	return t == MediaTypeImage || t == MediaTypeVideo
}

// MediaStatus represents the lifecycle status of a media item.
// Values include MediaStatusProcessing, MediaStatusCompleted, and MediaStatusError.
type MediaStatus string

const (
	MediaStatusProcessing MediaStatus = "processing"
	MediaStatusCompleted  MediaStatus = "completed"
	MediaStatusError      MediaStatus = "error"
)

// Terminal reports whether the status is a final ingestion outcome.
func (s MediaStatus) Terminal() bool {
	return s == MediaStatusCompleted || s == MediaStatusError
}

// StringArray is a custom type for storing string arrays as JSON in the database.
type StringArray []string

// Value implements the driver.Valuer interface for database serialization.
// Parameters: none.
// Returns:
//   - driver.Value: JSON-encoded string representation of the slice.
//   - error: non-nil if marshaling fails.
func (a StringArray) Value() (driver.Value, error) {
	if a == nil {
		return "[]", nil
	}
	b, err := json.Marshal(a)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// Scan implements the sql.Scanner interface for database deserialization.
// Parameters:
//   - value: raw database value to decode.
// Returns:
//   - error: non-nil if decoding fails or the type is unexpected.
func (a *StringArray) Scan(value interface{}) error {
	if value == nil {
		*a = StringArray{}
		return nil
	}
	bytes, ok := value.([]byte)
	if !ok {
		str, ok := value.(string)
		if !ok {
			return errors.New("failed to scan StringArray")
		}
		bytes = []byte(str)
	}
	return json.Unmarshal(bytes, a)
}

// Media represents one uploaded item.
// It is owned by the ingestion coordinator until Status becomes terminal.
type Media struct {
	ID              string      `gorm:"type:text;primaryKey" json:"id"`
	Title           string      `gorm:"type:text" json:"title"`
	Description     string      `gorm:"type:text" json:"description,omitempty"`
	SourceURL       string      `gorm:"type:text" json:"source_url,omitempty"`
	MediaType       MediaType   `gorm:"type:text;not null;index:idx_media_type" json:"media_type"`
	FileName        string      `gorm:"type:text" json:"file_name,omitempty"`
	ContentType     string      `gorm:"type:text" json:"content_type,omitempty"`
	DurationSeconds *float64    `json:"duration_seconds,omitempty"`
	StorageKey      string      `gorm:"type:text;not null" json:"storage_key"`
	Status          MediaStatus `gorm:"type:text;index:idx_media_status;default:processing" json:"status"`
	ErrorMessage    string      `gorm:"type:text" json:"error_message,omitempty"`
	CreatedAt       time.Time   `json:"created_at"`
	UpdatedAt       time.Time   `json:"updated_at"`
}

// TableName returns the database table name for Media.
// Parameters: none.
// Returns:
//   - string: table name for GORM mapping.
func (Media) TableName() string {
	return "media"
}
