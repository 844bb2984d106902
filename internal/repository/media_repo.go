package repository

import (
	"context"
	"fmt"

	"github.com/timmy/clipsearch/internal/domain"
	"gorm.io/gorm"
)

// MediaRepository handles media data operations.
type MediaRepository struct {
	*Repository[domain.Media]
}

// NewMediaRepository creates a new MediaRepository.
// Parameters:
//   - db: GORM database handle used for queries.
// Returns:
//   - *MediaRepository: repository instance bound to db.
func NewMediaRepository(db *gorm.DB) *MediaRepository {
	return &MediaRepository{Repository: NewRepository[domain.Media](db, "media")}
}

// UpdateStatus sets the lifecycle status and error message of a media item.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - id: media ID.
//   - status: new lifecycle status.
//   - errMsg: failure description; cleared when empty.
// Returns:
//   - error: wraps domain.ErrNotFound if no row matched.
func (r *MediaRepository) UpdateStatus(ctx context.Context, id string, status domain.MediaStatus, errMsg string) error {
	result := r.db.WithContext(ctx).Model(&domain.Media{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"status":        status,
			"error_message": errMsg,
		})
	if result.Error != nil {
		return fmt.Errorf("failed to update media status: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("media %s: %w", id, domain.ErrNotFound)
	}
	return nil
}

// ListByStatus retrieves media by status, oldest first.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - status: lifecycle status to filter by.
//   - limit: maximum number of records to return.
// Returns:
//   - []domain.Media: matching media records.
//   - error: non-nil if the query fails.
func (r *MediaRepository) ListByStatus(ctx context.Context, status domain.MediaStatus, limit int) ([]domain.Media, error) {
	return r.List(ctx, ListOptions{
		Limit:   limit,
		Order:   "created_at ASC",
		Filters: map[string]interface{}{"status": status},
	})
}

// GetByIDsMap retrieves media keyed by id.
func (r *MediaRepository) GetByIDsMap(ctx context.Context, ids []string) (map[string]domain.Media, error) {
	media, err := r.GetByIDs(ctx, ids)
	if err != nil {
		return nil, err
	}
	out := make(map[string]domain.Media, len(media))
	for _, m := range media {
		out[m.ID] = m
	}
	return out, nil
}

// SetDuration records the duration reported by frame extraction.
func (r *MediaRepository) SetDuration(ctx context.Context, id string, seconds float64) error {
	if err := r.db.WithContext(ctx).Model(&domain.Media{}).
		Where("id = ?", id).
		Update("duration_seconds", seconds).Error; err != nil {
		return fmt.Errorf("failed to set media duration: %w", err)
	}
	return nil
}
