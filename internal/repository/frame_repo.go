package repository

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/timmy/clipsearch/internal/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// FrameRepository handles frame data operations.
type FrameRepository struct {
	*Repository[domain.Frame]
}

// NewFrameRepository creates a new FrameRepository.
func NewFrameRepository(db *gorm.DB) *FrameRepository {
	return &FrameRepository{Repository: NewRepository[domain.Frame](db, "frame")}
}

// ListByMedia retrieves the frames of a media item ordered by frame number.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - mediaID: owning media ID.
//   - includeSuperseded: whether earlier generations are returned too.
// Returns:
//   - []domain.Frame: matching frames.
//   - error: non-nil if the query fails.
func (r *FrameRepository) ListByMedia(ctx context.Context, mediaID string, includeSuperseded bool) ([]domain.Frame, error) {
	query := r.db.WithContext(ctx).Where("media_id = ?", mediaID)
	if !includeSuperseded {
		query = query.Where("superseded = ?", false)
	}
	var frames []domain.Frame
	if err := query.Order("generation ASC, frame_number ASC").Find(&frames).Error; err != nil {
		return nil, fmt.Errorf("failed to list frames: %w", err)
	}
	return frames, nil
}

// ReplaceGeneration supersedes every live frame of the media item together with
// their embeddings and inserts frames as the next generation, in one transaction.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - mediaID: owning media ID.
//   - frames: new frames; MediaID and Generation are assigned here.
// Returns:
//   - int: the generation number given to frames.
//   - error: non-nil if the transaction fails.
func (r *FrameRepository) ReplaceGeneration(ctx context.Context, mediaID string, frames []domain.Frame) (int, error) {
	var generation int
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var current int
		if err := tx.Model(&domain.Frame{}).
			Where("media_id = ?", mediaID).
			Select("COALESCE(MAX(generation), 0)").
			Scan(&current).Error; err != nil {
			return err
		}
		generation = current + 1

		var liveIDs []string
		if err := tx.Model(&domain.Frame{}).
			Where("media_id = ? AND superseded = ?", mediaID, false).
			Pluck("id", &liveIDs).Error; err != nil {
			return err
		}
		if len(liveIDs) > 0 {
			if err := tx.Model(&domain.Frame{}).
				Where("id IN ?", liveIDs).
				Update("superseded", true).Error; err != nil {
				return err
			}
			if err := supersedeByFrames(tx, liveIDs, utcNow()); err != nil {
				return err
			}
		}

		if len(frames) == 0 {
			return nil
		}
		for i := range frames {
			if frames[i].ID == "" {
				frames[i].ID = uuid.New().String()
			}
			frames[i].MediaID = mediaID
			frames[i].Generation = generation
			frames[i].Superseded = false
		}
		return tx.Create(&frames).Error
	})
	if err != nil {
		return 0, fmt.Errorf("failed to replace frames of media %s: %w", mediaID, err)
	}
	return generation, nil
}

// FrameMetadataRepository handles frame metadata operations.
type FrameMetadataRepository struct {
	*Repository[domain.FrameMetadata]
}

// NewFrameMetadataRepository creates a new FrameMetadataRepository.
func NewFrameMetadataRepository(db *gorm.DB) *FrameMetadataRepository {
	return &FrameMetadataRepository{Repository: NewRepository[domain.FrameMetadata](db, "frame metadata")}
}

// Upsert creates or replaces the metadata of a frame.
func (r *FrameMetadataRepository) Upsert(ctx context.Context, meta *domain.FrameMetadata) error {
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "frame_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"scene_description", "detected_objects", "detected_text", "color_palette"}),
	}).Create(meta).Error
}

// GetByFrameID retrieves the metadata of one frame.
func (r *FrameMetadataRepository) GetByFrameID(ctx context.Context, frameID string) (*domain.FrameMetadata, error) {
	var meta domain.FrameMetadata
	if err := r.db.WithContext(ctx).First(&meta, "frame_id = ?", frameID).Error; err != nil {
		return nil, translate(err, "frame metadata of "+frameID)
	}
	return &meta, nil
}

// GetByFrameIDs retrieves metadata keyed by frame id. Frames without metadata are absent.
func (r *FrameMetadataRepository) GetByFrameIDs(ctx context.Context, frameIDs []string) (map[string]domain.FrameMetadata, error) {
	out := make(map[string]domain.FrameMetadata, len(frameIDs))
	if len(frameIDs) == 0 {
		return out, nil
	}
	var metas []domain.FrameMetadata
	if err := r.db.WithContext(ctx).Where("frame_id IN ?", frameIDs).Find(&metas).Error; err != nil {
		return nil, fmt.Errorf("failed to get frame metadata: %w", err)
	}
	for _, m := range metas {
		out[m.FrameID] = m
	}
	return out, nil
}

// SearchQueryRepository handles search audit records.
type SearchQueryRepository struct {
	*Repository[domain.SearchQuery]
}

// NewSearchQueryRepository creates a new SearchQueryRepository.
func NewSearchQueryRepository(db *gorm.DB) *SearchQueryRepository {
	return &SearchQueryRepository{Repository: NewRepository[domain.SearchQuery](db, "search query")}
}

// MarkClicked records that the top result of a query was clicked.
func (r *SearchQueryRepository) MarkClicked(ctx context.Context, id string) error {
	result := r.db.WithContext(ctx).Model(&domain.SearchQuery{}).
		Where("id = ?", id).
		Update("clicked", true)
	if result.Error != nil {
		return fmt.Errorf("failed to mark search query clicked: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("search query %s: %w", id, domain.ErrNotFound)
	}
	return nil
}
