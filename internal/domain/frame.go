package domain

import "time"

// Frame is a sampled instant of a media item and the unit of embedding and retrieval.
// Images have exactly one frame with timestamp 0. Frames are immutable; re-ingestion
// flags the previous generation as superseded instead of appending to it.
type Frame struct {
	ID               string    `gorm:"type:text;primaryKey" json:"id"`
	MediaID          string    `gorm:"type:text;not null;index:idx_frames_media" json:"media_id"`
	FrameNumber      int       `gorm:"not null" json:"frame_number"`
	TimestampSeconds float64   `gorm:"not null;default:0" json:"timestamp_seconds"`
	StorageKey       string    `gorm:"type:text;not null" json:"storage_key"`
	Generation       int       `gorm:"not null;default:1" json:"generation"`
	Superseded       bool      `gorm:"not null;default:false;index:idx_frames_superseded" json:"superseded"`
	CreatedAt        time.Time `json:"created_at"`
}

// TableName returns the database table name for Frame.
func (Frame) TableName() string {
	return "frames"
}

// FrameMetadata holds descriptive attributes of a frame.
// It is used for presentation only and never influences ranking.
type FrameMetadata struct {
	ID               string      `gorm:"type:text;primaryKey" json:"id"`
	FrameID          string      `gorm:"type:text;not null;uniqueIndex:idx_frame_metadata_frame" json:"frame_id"`
	SceneDescription string      `gorm:"type:text" json:"scene_description,omitempty"`
	DetectedObjects  StringArray `gorm:"type:text" json:"detected_objects"`
	DetectedText     string      `gorm:"type:text" json:"detected_text,omitempty"`
	ColorPalette     StringArray `gorm:"type:text" json:"color_palette"`
	CreatedAt        time.Time   `json:"created_at"`
}

// TableName returns the database table name for FrameMetadata.
func (FrameMetadata) TableName() string {
	return "frame_metadata"
}
