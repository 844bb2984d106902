package domain

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"time"
)

// RankedFrame is one entry of an audited result list.
type RankedFrame struct {
	FrameID string  `json:"frame_id"`
	Score   float64 `json:"score"`
}

// RankedFrames is a custom type for storing ordered results as JSON in the database.
type RankedFrames []RankedFrame

// Value implements the driver.Valuer interface for database serialization.
// Parameters: none.
// Returns:
//   - driver.Value: JSON-encoded string representation of the list.
//   - error: non-nil if marshaling fails.
func (r RankedFrames) Value() (driver.Value, error) {
	if r == nil {
		return "[]", nil
	}
	b, err := json.Marshal(r)
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
func (r *RankedFrames) Scan(value interface{}) error {
	if value == nil {
		*r = RankedFrames{}
		return nil
	}
	bytes, ok := value.([]byte)
	if !ok {
		str, ok := value.(string)
		if !ok {
			return errors.New("failed to scan RankedFrames")
		}
		bytes = []byte(str)
	}
	return json.Unmarshal(bytes, r)
}

// SearchQuery is the audit record of a resolved query. It is written once after
// resolution and is never read back by the resolver.
type SearchQuery struct {
	ID               string       `gorm:"type:text;primaryKey" json:"id"`
	QueryType        string       `gorm:"type:text;not null;index:idx_search_queries_type" json:"query_type"`
	QueryText        string       `gorm:"type:text" json:"query_text,omitempty"`
	TopResultFrameID string       `gorm:"type:text" json:"top_result_frame_id,omitempty"`
	Clicked          bool         `gorm:"not null;default:false" json:"clicked"`
	LatencyMs        int64        `json:"latency_ms"`
	TopKResults      RankedFrames `gorm:"type:text" json:"top_k_results"`
	CreatedAt        time.Time    `json:"created_at"`
}

// TableName returns the database table name for SearchQuery.
func (SearchQuery) TableName() string {
	return "search_queries"
}
