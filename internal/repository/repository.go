package repository

import (
	"context"
	"fmt"

	"gorm.io/gorm"
)

// ListOptions narrows and pages a List call.
type ListOptions struct {
	Limit   int
	Offset  int
	Order   string                 // defaults to "created_at DESC"
	Filters map[string]interface{} // column = value
}

// Repository is the CRUD surface shared by every table keyed by a string id.
type Repository[T any] struct {
	db   *gorm.DB
	name string
}

// NewRepository creates a Repository for entity T; name is used in error messages.
func NewRepository[T any](db *gorm.DB, name string) *Repository[T] {
	return &Repository[T]{db: db, name: name}
}

// DB returns the underlying handle for entity-specific queries.
func (r *Repository[T]) DB() *gorm.DB {
	return r.db
}

// Create inserts a new record.
func (r *Repository[T]) Create(ctx context.Context, entity *T) error {
	return translate(r.db.WithContext(ctx).Create(entity).Error, "create "+r.name)
}

// Update saves every field of an existing record.
func (r *Repository[T]) Update(ctx context.Context, entity *T) error {
	return translate(r.db.WithContext(ctx).Save(entity).Error, "update "+r.name)
}

// GetByID retrieves a record by id, wrapping domain.ErrNotFound when absent.
func (r *Repository[T]) GetByID(ctx context.Context, id string) (*T, error) {
	var entity T
	if err := r.db.WithContext(ctx).First(&entity, "id = ?", id).Error; err != nil {
		return nil, translate(err, fmt.Sprintf("get %s %s", r.name, id))
	}
	return &entity, nil
}

// GetByIDs retrieves the records whose ids are listed. Missing ids are skipped.
func (r *Repository[T]) GetByIDs(ctx context.Context, ids []string) ([]T, error) {
	if len(ids) == 0 {
		return []T{}, nil
	}
	var entities []T
	if err := r.db.WithContext(ctx).Where("id IN ?", ids).Find(&entities).Error; err != nil {
		return nil, fmt.Errorf("failed to get %s by IDs: %w", r.name, err)
	}
	return entities, nil
}

// List retrieves records matching opts.
func (r *Repository[T]) List(ctx context.Context, opts ListOptions) ([]T, error) {
	query := r.db.WithContext(ctx)
	if len(opts.Filters) > 0 {
		query = query.Where(opts.Filters)
	}
	order := opts.Order
	if order == "" {
		order = "created_at DESC"
	}
	query = query.Order(order)
	if opts.Limit > 0 {
		query = query.Limit(opts.Limit)
	}
	if opts.Offset > 0 {
		query = query.Offset(opts.Offset)
	}

	var entities []T
	if err := query.Find(&entities).Error; err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", r.name, err)
	}
	return entities, nil
}

// Count counts records matching filters.
func (r *Repository[T]) Count(ctx context.Context, filters map[string]interface{}) (int64, error) {
	var count int64
	query := r.db.WithContext(ctx).Model(new(T))
	if len(filters) > 0 {
		query = query.Where(filters)
	}
	if err := query.Count(&count).Error; err != nil {
		return 0, fmt.Errorf("failed to count %s: %w", r.name, err)
	}
	return count, nil
}

// Delete removes a record by id.
func (r *Repository[T]) Delete(ctx context.Context, id string) error {
	return translate(r.db.WithContext(ctx).Delete(new(T), "id = ?", id).Error, "delete "+r.name)
}
