package domain

import (
	"database/sql/driver"
	"encoding/binary"
	"fmt"
	"math"
	"time"
)

// Vector is a dense float32 embedding stored as little-endian bytes.
type Vector []float32

// Value implements the driver.Valuer interface for database serialization.
func (v Vector) Value() (driver.Value, error) {
	buf := make([]byte, 4*len(v))
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[4*i:], math.Float32bits(f))
	}
	return buf, nil
}

// Scan implements the sql.Scanner interface for database deserialization.
func (v *Vector) Scan(value interface{}) error {
	var raw []byte
	switch x := value.(type) {
	case nil:
		*v = Vector{}
		return nil
	case []byte:
		raw = x
	case string:
		raw = []byte(x)
	default:
		return fmt.Errorf("failed to scan Vector from %T", value)
	}
	if len(raw)%4 != 0 {
		return fmt.Errorf("failed to scan Vector: %d bytes is not a multiple of 4", len(raw))
	}
	out := make(Vector, len(raw)/4)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(raw[4*i:]))
	}
	*v = out
	return nil
}

// Embedding is a vector record: a vector produced by a named model for one frame.
// Seq is the per-model insertion cursor used by incremental index builds.
// Rows are never mutated except for SupersededAt (re-embedding or re-ingestion)
// and IndexVersion (the first index version that folded the record in).
type Embedding struct {
	ID           string     `gorm:"type:text;primaryKey" json:"id"`
	FrameID      string     `gorm:"type:text;not null;index:idx_embeddings_frame_model" json:"frame_id"`
	ModelName    string     `gorm:"type:text;not null;index:idx_embeddings_frame_model;uniqueIndex:idx_embeddings_model_seq" json:"model_name"`
	Seq          int64      `gorm:"not null;uniqueIndex:idx_embeddings_model_seq" json:"seq"`
	Dimensions   int        `gorm:"not null" json:"dimensions"`
	Vector       Vector     `gorm:"type:bytes;not null" json:"vector,omitempty"`
	IndexVersion int        `gorm:"not null;default:0" json:"index_version"`
	SupersededAt *time.Time `gorm:"index:idx_embeddings_superseded" json:"superseded_at,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
}

// TableName returns the database table name for Embedding.
func (Embedding) TableName() string {
	return "embeddings"
}

// Live reports whether the record has not been superseded.
func (e *Embedding) Live() bool {
	return e.SupersededAt == nil
}
