package vecindex

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/timmy/clipsearch/internal/domain"
	"github.com/timmy/clipsearch/internal/storage"
	"github.com/vmihailenco/msgpack/v5"
)

const artifactFormat = 1

// ArtifactKey returns the object key of the vectors artifact of one index version.
func ArtifactKey(name string, version int) string {
	return fmt.Sprintf("indexes/%s/v%d/vectors.msgpack", name, version)
}

// MappingKey returns the object key of the position -> record mapping of one index version.
func MappingKey(name string, version int) string {
	return fmt.Sprintf("indexes/%s/v%d/mapping.json", name, version)
}

// vectorsFile is the msgpack body of the vectors artifact.
type vectorsFile struct {
	Format     int       `msgpack:"format"`
	Name       string    `msgpack:"name"`
	Version    int       `msgpack:"version"`
	Dimensions int       `msgpack:"dimensions"`
	Count      int       `msgpack:"count"`
	Vectors    []float32 `msgpack:"vectors"`
}

// Mapping is the JSON sidecar of the vectors artifact: row i of the vectors
// belongs to Records[i].
type Mapping struct {
	Name       string          `json:"name"`
	Version    int             `json:"version"`
	Model      string          `json:"model"`
	Cursor     int64           `json:"cursor"`
	SnapshotAt time.Time       `json:"snapshot_at"`
	Records    []MappingRecord `json:"records"`
}

// MappingRecord identifies the vector record at one position.
type MappingRecord struct {
	RecordID string `json:"record_id"`
	FrameID  string `json:"frame_id"`
}

// Encode serializes a snapshot into its vectors artifact and mapping sidecar.
func Encode(s *Snapshot, model string, cursor int64, snapshotAt time.Time) (vectors, mapping []byte, err error) {
	vectors, err = msgpack.Marshal(&vectorsFile{
		Format:     artifactFormat,
		Name:       s.Name,
		Version:    s.Version,
		Dimensions: s.Dimensions,
		Count:      s.Len(),
		Vectors:    s.vectors,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to encode vectors of %s v%d: %w", s.Name, s.Version, err)
	}

	m := Mapping{
		Name:       s.Name,
		Version:    s.Version,
		Model:      model,
		Cursor:     cursor,
		SnapshotAt: snapshotAt,
		Records:    make([]MappingRecord, s.Len()),
	}
	for i := range s.records {
		m.Records[i] = MappingRecord{RecordID: s.records[i], FrameID: s.frames[i]}
	}
	mapping, err = json.Marshal(&m)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to encode mapping of %s v%d: %w", s.Name, s.Version, err)
	}
	return vectors, mapping, nil
}

// Decode rebuilds a snapshot from its vectors artifact and mapping sidecar.
func Decode(vectors, mapping []byte) (*Snapshot, *Mapping, error) {
	var vf vectorsFile
	if err := msgpack.Unmarshal(vectors, &vf); err != nil {
		return nil, nil, fmt.Errorf("failed to decode vectors: %w", err)
	}
	if vf.Format != artifactFormat {
		return nil, nil, fmt.Errorf("unsupported artifact format %d", vf.Format)
	}
	var m Mapping
	if err := json.Unmarshal(mapping, &m); err != nil {
		return nil, nil, fmt.Errorf("failed to decode mapping: %w", err)
	}
	if m.Name != vf.Name || m.Version != vf.Version {
		return nil, nil, fmt.Errorf("mapping %s v%d does not belong to vectors %s v%d", m.Name, m.Version, vf.Name, vf.Version)
	}
	if len(m.Records) != vf.Count || len(vf.Vectors) != vf.Count*vf.Dimensions {
		return nil, nil, fmt.Errorf("corrupt artifact %s v%d: %d records, %d values, %d dimensions",
			vf.Name, vf.Version, len(m.Records), len(vf.Vectors), vf.Dimensions)
	}

	s := &Snapshot{
		Name:       vf.Name,
		Version:    vf.Version,
		Dimensions: vf.Dimensions,
		records:    make([]string, vf.Count),
		frames:     make([]string, vf.Count),
		vectors:    vf.Vectors,
		norms:      make([]float64, vf.Count),
	}
	for i, r := range m.Records {
		s.records[i] = r.RecordID
		s.frames[i] = r.FrameID
		s.norms[i] = norm(s.row(i))
	}
	return s, &m, nil
}

// Save writes both files of a snapshot. Keys are derived from name and version,
// so retrying a build overwrites the same objects.
func Save(ctx context.Context, store storage.ObjectStorage, s *Snapshot, model string, cursor int64, snapshotAt time.Time) (domain.Artifact, error) {
	vectors, mapping, err := Encode(s, model, cursor, snapshotAt)
	if err != nil {
		return domain.Artifact{}, err
	}
	art := domain.Artifact{
		ArtifactKey: ArtifactKey(s.Name, s.Version),
		MappingKey:  MappingKey(s.Name, s.Version),
		VectorCount: s.Len(),
		Dimensions:  s.Dimensions,
		Cursor:      cursor,
		SnapshotAt:  snapshotAt,
	}
	if err := storage.PutBytes(ctx, store, art.ArtifactKey, vectors, "application/msgpack"); err != nil {
		return domain.Artifact{}, err
	}
	if err := storage.PutBytes(ctx, store, art.MappingKey, mapping, "application/json"); err != nil {
		return domain.Artifact{}, err
	}
	return art, nil
}

// Load reads the artifact an index row points to.
func Load(ctx context.Context, store storage.ObjectStorage, idx *domain.Index) (*Snapshot, error) {
	if idx.ArtifactKey == "" || idx.MappingKey == "" {
		return nil, fmt.Errorf("index %s v%d has no artifact", idx.Name, idx.Version)
	}
	vectors, err := storage.GetBytes(ctx, store, idx.ArtifactKey)
	if err != nil {
		return nil, err
	}
	mapping, err := storage.GetBytes(ctx, store, idx.MappingKey)
	if err != nil {
		return nil, err
	}
	s, _, err := Decode(vectors, mapping)
	if err != nil {
		return nil, err
	}
	if s.Len() != idx.VectorCount || (s.Len() > 0 && s.Dimensions != idx.Dimensions) {
		return nil, fmt.Errorf("artifact of %s v%d disagrees with catalog: %d vectors x %d, want %d x %d",
			idx.Name, idx.Version, s.Len(), s.Dimensions, idx.VectorCount, idx.Dimensions)
	}
	return s, nil
}

// StorageLoader returns a Loader reading artifacts from store.
func StorageLoader(store storage.ObjectStorage) Loader {
	return func(ctx context.Context, idx *domain.Index) (*Snapshot, error) {
		return Load(ctx, store, idx)
	}
}
