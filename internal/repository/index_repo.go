package repository

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/timmy/clipsearch/internal/domain"
	"gorm.io/gorm"
)

// IndexRepository is the index catalog: named, versioned index rows and their
// building -> ready|failed -> retired transitions.
type IndexRepository struct {
	*Repository[domain.Index]
	staleAfter time.Duration
	locks      sync.Map // name -> *sync.Mutex
}

// NewIndexRepository creates a new IndexRepository.
// Parameters:
//   - db: GORM database handle used for queries.
//   - staleAfter: a building row untouched for longer is treated as abandoned; 0 disables.
// Returns:
//   - *IndexRepository: repository instance bound to db.
func NewIndexRepository(db *gorm.DB, staleAfter time.Duration) *IndexRepository {
	return &IndexRepository{
		Repository: NewRepository[domain.Index](db, "index"),
		staleAfter: staleAfter,
	}
}

func (r *IndexRepository) lock(name string) func() {
	mu, _ := r.locks.LoadOrStore(name, &sync.Mutex{})
	m := mu.(*sync.Mutex)
	m.Lock()
	return m.Unlock
}

// BeginBuild inserts the next version of name in building status.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - name: index name.
//   - modelName: model whose records the index covers.
// Returns:
//   - *domain.Index: the building row.
//   - error: wraps domain.ErrBuildAlreadyInProgress if another build holds name.
func (r *IndexRepository) BeginBuild(ctx context.Context, name, modelName string) (*domain.Index, error) {
	unlock := r.lock(name)
	defer unlock()

	var idx domain.Index
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var building []domain.Index
		if err := tx.Where("name = ? AND status = ?", name, domain.IndexStatusBuilding).
			Find(&building).Error; err != nil {
			return err
		}
		for _, b := range building {
			if r.staleAfter <= 0 || utcNow().Sub(b.UpdatedAt) < r.staleAfter {
				return fmt.Errorf("index %s version %d: %w", name, b.Version, domain.ErrBuildAlreadyInProgress)
			}
			if err := tx.Model(&domain.Index{}).
				Where("id = ? AND status = ?", b.ID, domain.IndexStatusBuilding).
				Updates(map[string]interface{}{
					"status":      domain.IndexStatusFailed,
					"fail_reason": "abandoned",
				}).Error; err != nil {
				return err
			}
		}

		var last int
		if err := tx.Model(&domain.Index{}).
			Where("name = ?", name).
			Select("COALESCE(MAX(version), 0)").
			Scan(&last).Error; err != nil {
			return err
		}

		idx = domain.Index{
			ID:         uuid.New().String(),
			Name:       name,
			Version:    last + 1,
			ModelName:  modelName,
			Status:     domain.IndexStatusBuilding,
			SnapshotAt: utcNow(),
		}
		return tx.Create(&idx).Error
	})
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		// Another process won the partial unique index or the version.
		return nil, fmt.Errorf("index %s: %w", name, domain.ErrBuildAlreadyInProgress)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to begin build of %s: %w", name, err)
	}
	return &idx, nil
}

// Touch refreshes a building row so long builds are not mistaken for abandoned ones.
func (r *IndexRepository) Touch(ctx context.Context, name string, version int) error {
	return r.db.WithContext(ctx).Model(&domain.Index{}).
		Where("name = ? AND version = ? AND status = ?", name, version, domain.IndexStatusBuilding).
		Update("updated_at", utcNow()).Error
}

// CompleteBuild makes version the active index of name in one transaction: the
// previous ready version is retired and the records it covers are stamped.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - name: index name.
//   - version: building version to activate.
//   - artifact: persisted artifact description.
// Returns:
//   - error: non-nil if the row is not building or a newer version is already active.
func (r *IndexRepository) CompleteBuild(ctx context.Context, name string, version int, artifact domain.Artifact) error {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var idx domain.Index
		if err := tx.First(&idx, "name = ? AND version = ?", name, version).Error; err != nil {
			return translate(err, fmt.Sprintf("index %s version %d", name, version))
		}
		if idx.Status != domain.IndexStatusBuilding {
			return fmt.Errorf("index %s version %d is %s, not building", name, version, idx.Status)
		}

		var active int
		if err := tx.Model(&domain.Index{}).
			Where("name = ? AND status = ?", name, domain.IndexStatusReady).
			Select("COALESCE(MAX(version), 0)").
			Scan(&active).Error; err != nil {
			return err
		}
		if active >= version {
			return fmt.Errorf("index %s version %d is already active, refusing %d", name, active, version)
		}

		if err := tx.Model(&domain.Index{}).
			Where("name = ? AND status = ?", name, domain.IndexStatusReady).
			Update("status", domain.IndexStatusRetired).Error; err != nil {
			return err
		}
		res := tx.Model(&domain.Index{}).
			Where("id = ? AND status = ?", idx.ID, domain.IndexStatusBuilding).
			Updates(map[string]interface{}{
				"status":       domain.IndexStatusReady,
				"artifact_key": artifact.ArtifactKey,
				"mapping_key":  artifact.MappingKey,
				"vector_count": artifact.VectorCount,
				"dimensions":   artifact.Dimensions,
				"cursor":       artifact.Cursor,
				"snapshot_at":  artifact.SnapshotAt,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return fmt.Errorf("index %s version %d left building status", name, version)
		}

		return tx.Model(&domain.Embedding{}).
			Where("model_name = ? AND seq <= ? AND index_version = 0", idx.ModelName, artifact.Cursor).
			Update("index_version", version).Error
	})
	if err != nil {
		return fmt.Errorf("failed to complete build of %s: %w", name, err)
	}
	return nil
}

// FailBuild marks a building version failed. The active version is untouched.
func (r *IndexRepository) FailBuild(ctx context.Context, name string, version int, reason string) error {
	res := r.db.WithContext(ctx).Model(&domain.Index{}).
		Where("name = ? AND version = ? AND status = ?", name, version, domain.IndexStatusBuilding).
		Updates(map[string]interface{}{
			"status":      domain.IndexStatusFailed,
			"fail_reason": reason,
		})
	if res.Error != nil {
		return fmt.Errorf("failed to fail build of %s: %w", name, res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("building index %s version %d: %w", name, version, domain.ErrNotFound)
	}
	return nil
}

// GetActive returns the ready version of name. It never returns a building or failed row.
func (r *IndexRepository) GetActive(ctx context.Context, name string) (*domain.Index, error) {
	var idx domain.Index
	if err := r.db.WithContext(ctx).
		Where("name = ? AND status = ?", name, domain.IndexStatusReady).
		Order("version DESC").
		First(&idx).Error; err != nil {
		return nil, translate(err, "active index "+name)
	}
	return &idx, nil
}

// GetVersion returns one version of name regardless of status.
func (r *IndexRepository) GetVersion(ctx context.Context, name string, version int) (*domain.Index, error) {
	var idx domain.Index
	if err := r.db.WithContext(ctx).First(&idx, "name = ? AND version = ?", name, version).Error; err != nil {
		return nil, translate(err, fmt.Sprintf("index %s version %d", name, version))
	}
	return &idx, nil
}

// ListVersions returns every version of name, newest first.
func (r *IndexRepository) ListVersions(ctx context.Context, name string) ([]domain.Index, error) {
	return r.List(ctx, ListOptions{
		Order:   "version DESC",
		Filters: map[string]interface{}{"name": name},
	})
}

// ListNames returns the distinct index names in the catalog.
func (r *IndexRepository) ListNames(ctx context.Context) ([]string, error) {
	var names []string
	if err := r.db.WithContext(ctx).Model(&domain.Index{}).
		Distinct("name").
		Order("name ASC").
		Pluck("name", &names).Error; err != nil {
		return nil, fmt.Errorf("failed to list index names: %w", err)
	}
	return names, nil
}
