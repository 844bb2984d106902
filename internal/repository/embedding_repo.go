package repository

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"time"

	"github.com/google/uuid"
	"github.com/sethvargo/go-retry"
	"github.com/timmy/clipsearch/internal/domain"
	"gorm.io/gorm"
)

const defaultPageSize = 1000

// EmbeddingRepository is the vector record store. Records are appended with a
// per-model sequence number that is gap-free and ordered by commit, so ListSince
// is a stable feed for incremental index builds.
type EmbeddingRepository struct {
	*Repository[domain.Embedding]
	models   map[string]domain.ModelSpec
	pageSize int
}

// NewEmbeddingRepository creates a new EmbeddingRepository.
// Parameters:
//   - db: GORM database handle used for queries.
//   - models: declared models; Put rejects vectors of any other model.
//   - pageSize: rows fetched per ListSince page; <= 0 uses a default.
// Returns:
//   - *EmbeddingRepository: repository instance bound to db.
func NewEmbeddingRepository(db *gorm.DB, models []domain.ModelSpec, pageSize int) *EmbeddingRepository {
	if pageSize <= 0 {
		pageSize = defaultPageSize
	}
	byName := make(map[string]domain.ModelSpec, len(models))
	for _, m := range models {
		byName[m.Name] = m
	}
	return &EmbeddingRepository{
		Repository: NewRepository[domain.Embedding](db, "embedding"),
		models:     byName,
		pageSize:   pageSize,
	}
}

// Put stores vector as the embedding of frameID under modelName and returns the record id.
// An earlier live record for the same frame and model is superseded in the same transaction.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - frameID: owning frame ID.
//   - modelName: declared model that produced vector.
//   - vector: embedding values; its length must equal the model's dimensions.
// Returns:
//   - string: new record ID.
//   - error: wraps domain.ErrDimensionMismatch (nothing written) or domain.ErrNotFound for an unknown model.
func (r *EmbeddingRepository) Put(ctx context.Context, frameID, modelName string, vector []float32) (string, error) {
	spec, ok := r.models[modelName]
	if !ok {
		return "", fmt.Errorf("model %q: %w", modelName, domain.ErrNotFound)
	}
	if len(vector) != spec.Dimensions {
		return "", fmt.Errorf("%w: model %s expects %d dimensions, got %d",
			domain.ErrDimensionMismatch, modelName, spec.Dimensions, len(vector))
	}

	record := domain.Embedding{
		ID:         uuid.New().String(),
		FrameID:    frameID,
		ModelName:  modelName,
		Dimensions: spec.Dimensions,
		Vector:     append(domain.Vector(nil), vector...),
	}

	// Two writers may read the same MAX(seq); the loser hits the unique index and retries.
	b := retry.WithMaxRetries(10, retry.WithJitter(2*time.Millisecond, retry.NewExponential(2*time.Millisecond)))
	err := retry.Do(ctx, b, func(ctx context.Context) error {
		err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			now := utcNow()
			if err := tx.Model(&domain.Embedding{}).
				Where("frame_id = ? AND model_name = ? AND superseded_at IS NULL", frameID, modelName).
				Update("superseded_at", now).Error; err != nil {
				return err
			}

			var last int64
			if err := tx.Model(&domain.Embedding{}).
				Where("model_name = ?", modelName).
				Select("COALESCE(MAX(seq), 0)").
				Scan(&last).Error; err != nil {
				return err
			}
			record.Seq = last + 1
			record.CreatedAt = now
			return tx.Create(&record).Error
		})
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return retry.RetryableError(err)
		}
		return err
	})
	if err != nil {
		return "", fmt.Errorf("failed to put embedding for frame %s: %w", frameID, err)
	}
	return record.ID, nil
}

// ListSince lazily yields the records of modelName with seq > cursor in seq order,
// superseded ones included. Restarting from any yielded Seq continues without gaps.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - modelName: model whose records are listed.
//   - cursor: last seq already consumed; 0 lists from the beginning.
// Returns:
//   - iter.Seq2[domain.Embedding, error]: records, or a single error that ends the sequence.
func (r *EmbeddingRepository) ListSince(ctx context.Context, modelName string, cursor int64) iter.Seq2[domain.Embedding, error] {
	return func(yield func(domain.Embedding, error) bool) {
		next := cursor
		for {
			var page []domain.Embedding
			if err := r.db.WithContext(ctx).
				Where("model_name = ? AND seq > ?", modelName, next).
				Order("seq ASC").
				Limit(r.pageSize).
				Find(&page).Error; err != nil {
				yield(domain.Embedding{}, fmt.Errorf("failed to list embeddings of %s: %w", modelName, err))
				return
			}
			for _, e := range page {
				if !yield(e, nil) {
					return
				}
				next = e.Seq
			}
			if len(page) < r.pageSize {
				return
			}
		}
	}
}

// CountSince counts the records of modelName appended after cursor.
func (r *EmbeddingRepository) CountSince(ctx context.Context, modelName string, cursor int64) (int64, error) {
	var count int64
	if err := r.db.WithContext(ctx).Model(&domain.Embedding{}).
		Where("model_name = ? AND seq > ?", modelName, cursor).
		Count(&count).Error; err != nil {
		return 0, fmt.Errorf("failed to count embeddings of %s: %w", modelName, err)
	}
	return count, nil
}

// ListSupersededSince returns ids of records of modelName with seq <= cursor
// that were superseded at or after t.
func (r *EmbeddingRepository) ListSupersededSince(ctx context.Context, modelName string, cursor int64, t time.Time) ([]string, error) {
	var ids []string
	if err := r.db.WithContext(ctx).Model(&domain.Embedding{}).
		Where("model_name = ? AND seq <= ? AND superseded_at >= ?", modelName, cursor, t).
		Pluck("id", &ids).Error; err != nil {
		return nil, fmt.Errorf("failed to list superseded embeddings of %s: %w", modelName, err)
	}
	return ids, nil
}

// ListByFrame returns every record of a frame, newest first.
func (r *EmbeddingRepository) ListByFrame(ctx context.Context, frameID string) ([]domain.Embedding, error) {
	return r.List(ctx, ListOptions{
		Order:   "created_at DESC",
		Filters: map[string]interface{}{"frame_id": frameID},
	})
}

// SupersedeByFrames marks every live record of the given frames superseded.
func (r *EmbeddingRepository) SupersedeByFrames(ctx context.Context, frameIDs []string) error {
	return supersedeByFrames(r.db.WithContext(ctx), frameIDs, utcNow())
}

func supersedeByFrames(tx *gorm.DB, frameIDs []string, at time.Time) error {
	if len(frameIDs) == 0 {
		return nil
	}
	if err := tx.Model(&domain.Embedding{}).
		Where("frame_id IN ? AND superseded_at IS NULL", frameIDs).
		Update("superseded_at", at).Error; err != nil {
		return fmt.Errorf("failed to supersede embeddings: %w", err)
	}
	return nil
}
