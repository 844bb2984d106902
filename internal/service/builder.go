package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/timmy/clipsearch/internal/domain"
	"github.com/timmy/clipsearch/internal/logger"
	"github.com/timmy/clipsearch/internal/repository"
	"github.com/timmy/clipsearch/internal/storage"
	"github.com/timmy/clipsearch/internal/vecindex"
	"golang.org/x/sync/errgroup"
)

// BuildMode selects how a new index version is assembled.
type BuildMode string

const (
	BuildFull        BuildMode = "full"
	BuildIncremental BuildMode = "incremental"
)

// ParseBuildMode converts s into a BuildMode; "" means incremental.
func ParseBuildMode(s string) (BuildMode, error) {
	switch BuildMode(s) {
	case "", BuildIncremental:
		return BuildIncremental, nil
	case BuildFull:
		return BuildFull, nil
	}
	return "", fmt.Errorf("%w: unknown build mode %q", domain.ErrInvalidQuery, s)
}

const (
	// supersedeSkew widens the removal window of incremental builds so clock
	// drift between writers and the builder cannot hide a superseded record.
	supersedeSkew = time.Minute
	touchEvery    = 1000
	mirrorBatch   = 256
	failTimeout   = 10 * time.Second
)

// BuilderConfig holds the trigger policy of the background loop.
type BuilderConfig struct {
	CountThreshold int
	MaxStaleness   time.Duration
	CheckInterval  time.Duration
}

// IndexBuilder turns the vector records of a model into a new index version.
// The index of a model carries the model's name.
type IndexBuilder struct {
	registry *ModelRegistry
	records  *repository.EmbeddingRepository
	catalog  *repository.IndexRepository
	store    storage.ObjectStorage
	cache    *vecindex.Cache
	mirror   *repository.QdrantRepository
	logger   *logger.Logger
	cfg      BuilderConfig
	wake     chan struct{}
}

// NewIndexBuilder creates a new index builder.
// Parameters:
//   - registry: declared models; every model owns one index name.
//   - records: vector record store the builder folds in.
//   - catalog: index catalog holding versions and their status.
//   - objectStorage: object store receiving artifacts.
//   - cache: snapshot cache refreshed after each successful build.
//   - mirror: optional Qdrant repository; nil disables mirroring.
//   - log: logger instance.
//   - cfg: trigger policy.
//
// Returns:
//   - *IndexBuilder: initialized builder.
func NewIndexBuilder(
	registry *ModelRegistry,
	records *repository.EmbeddingRepository,
	catalog *repository.IndexRepository,
	objectStorage storage.ObjectStorage,
	cache *vecindex.Cache,
	mirror *repository.QdrantRepository,
	log *logger.Logger,
	cfg BuilderConfig,
) *IndexBuilder {
	if cfg.CheckInterval <= 0 {
		cfg.CheckInterval = 10 * time.Second
	}
	if cfg.CountThreshold <= 0 {
		cfg.CountThreshold = 1
	}
	return &IndexBuilder{
		registry: registry,
		records:  records,
		catalog:  catalog,
		store:    objectStorage,
		cache:    cache,
		mirror:   mirror,
		logger:   log,
		cfg:      cfg,
		wake:     make(chan struct{}, 1),
	}
}

// log returns a logger from context if available, otherwise returns the default logger
func (b *IndexBuilder) log(ctx context.Context) *logger.Logger {
	if l := logger.FromContext(ctx); l != nil {
		return l
	}
	return b.logger
}

// Build creates and activates the next version of name.
// An incremental build falls back to a full one when there is no active
// version or its artifact cannot be loaded. On failure the version is marked
// failed and the previous active version keeps serving.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - name: index name, equal to the model name.
//   - mode: full or incremental.
//
// Returns:
//   - *domain.Index: the activated version.
//   - error: wraps domain.ErrBuildAlreadyInProgress, domain.ErrNotFound, or the build failure.
func (b *IndexBuilder) Build(ctx context.Context, name string, mode BuildMode) (*domain.Index, error) {
	spec, ok := b.registry.Get(name)
	if !ok {
		return nil, fmt.Errorf("index %q: %w", name, domain.ErrNotFound)
	}

	idx, err := b.catalog.BeginBuild(ctx, name, spec.Name)
	if err != nil {
		return nil, err
	}
	ctx = logger.WithFields(ctx, logger.Fields{
		logger.FieldIndexName:    name,
		logger.FieldIndexVersion: idx.Version,
	})

	start := time.Now()
	built, err := b.build(ctx, spec, idx, mode)
	if err != nil {
		fctx, cancel := context.WithTimeout(logger.Detach(ctx), failTimeout)
		defer cancel()
		if ferr := b.catalog.FailBuild(fctx, name, idx.Version, err.Error()); ferr != nil {
			b.log(ctx).WithError(ferr).Error("Failed to mark build failed")
		}
		if b.mirror != nil {
			b.dropCollection(fctx, name, idx.Version)
		}
		b.log(ctx).WithError(err).Error("Index build failed")
		return nil, fmt.Errorf("build of %s v%d failed: %w", name, idx.Version, err)
	}

	logger.With(logger.Fields{
		logger.FieldCount: built.VectorCount,
		"cursor":          built.Cursor,
		"mode":            string(mode),
	}).WithDuration(time.Since(start).Milliseconds()).Info(ctx, "Index build completed")
	return built, nil
}

func (b *IndexBuilder) build(ctx context.Context, spec domain.ModelSpec, idx *domain.Index, mode BuildMode) (*domain.Index, error) {
	// Captured before reading so records superseded while reading fall into
	// the next incremental build's removal window.
	snapshotAt := time.Now().UTC()

	var entries []vecindex.Entry
	var cursor int64
	var err error
	if mode == BuildIncremental {
		entries, cursor, err = b.carryOver(ctx, spec)
		if err != nil {
			b.log(ctx).WithError(err).Warn("Incremental build falling back to full")
			mode = BuildFull
		}
	}
	if mode == BuildFull {
		entries, cursor = nil, 0
	}

	entries, cursor, err = b.fold(ctx, spec.Name, idx.Version, entries, cursor)
	if err != nil {
		return nil, err
	}

	snap, err := vecindex.NewSnapshot(idx.Name, idx.Version, spec.Dimensions, entries)
	if err != nil {
		return nil, err
	}

	artifact, err := vecindex.Save(ctx, b.store, snap, spec.Name, cursor, snapshotAt)
	if err != nil {
		return nil, err
	}

	if b.mirror != nil {
		if err := b.mirrorSnapshot(ctx, snap, entries); err != nil {
			return nil, err
		}
	}

	if err := b.catalog.CompleteBuild(ctx, idx.Name, idx.Version, artifact); err != nil {
		return nil, err
	}
	b.cache.Put(snap)
	if b.mirror != nil {
		b.pruneMirror(ctx, idx.Name)
	}

	return b.catalog.GetVersion(ctx, idx.Name, idx.Version)
}

// carryOver returns the entries of the active version minus the records
// superseded since it was snapshotted, and its cursor.
func (b *IndexBuilder) carryOver(ctx context.Context, spec domain.ModelSpec) ([]vecindex.Entry, int64, error) {
	active, err := b.catalog.GetActive(ctx, spec.Name)
	if err != nil {
		return nil, 0, err
	}
	if active.Dimensions != 0 && active.Dimensions != spec.Dimensions {
		return nil, 0, fmt.Errorf("%w: active index has %d dimensions, model %d",
			domain.ErrDimensionMismatch, active.Dimensions, spec.Dimensions)
	}
	prev, err := b.cache.Get(ctx, active)
	if err != nil {
		return nil, 0, err
	}
	if prev.Version != active.Version {
		// The cache already holds something newer than the catalog reported.
		return nil, 0, fmt.Errorf("active version %d superseded by cached version %d", active.Version, prev.Version)
	}

	removed, err := b.records.ListSupersededSince(ctx, spec.Name, active.Cursor, active.SnapshotAt.Add(-supersedeSkew))
	if err != nil {
		return nil, 0, err
	}
	drop := make(map[string]bool, len(removed))
	for _, id := range removed {
		drop[id] = true
	}
	return prev.Entries(drop), active.Cursor, nil
}

// fold appends the live records after cursor and returns the new cursor.
func (b *IndexBuilder) fold(ctx context.Context, model string, version int, entries []vecindex.Entry, cursor int64) ([]vecindex.Entry, int64, error) {
	read := 0
	for rec, err := range b.records.ListSince(ctx, model, cursor) {
		if err != nil {
			return nil, 0, err
		}
		cursor = rec.Seq
		read++
		if read%touchEvery == 0 {
			if err := b.catalog.Touch(ctx, model, version); err != nil {
				return nil, 0, err
			}
		}
		if !rec.Live() {
			continue
		}
		entries = append(entries, vecindex.Entry{
			RecordID: rec.ID,
			FrameID:  rec.FrameID,
			Vector:   rec.Vector,
		})
	}
	return entries, cursor, nil
}

func (b *IndexBuilder) mirrorSnapshot(ctx context.Context, snap *vecindex.Snapshot, entries []vecindex.Entry) error {
	collection := b.mirror.CollectionName(snap.Name, snap.Version)
	if err := b.mirror.EnsureCollection(ctx, collection, snap.Dimensions); err != nil {
		return err
	}
	for start := 0; start < len(entries); start += mirrorBatch {
		end := min(start+mirrorBatch, len(entries))
		points := make([]repository.QdrantPoint, 0, end-start)
		for _, e := range entries[start:end] {
			points = append(points, repository.QdrantPoint{
				RecordID: e.RecordID,
				FrameID:  e.FrameID,
				Vector:   e.Vector,
			})
		}
		if err := b.mirror.UpsertBatch(ctx, collection, points); err != nil {
			return err
		}
	}
	return nil
}

// pruneMirror drops the collection of the second most recently retired
// version. The latest retired one is kept for queries still in flight.
func (b *IndexBuilder) pruneMirror(ctx context.Context, name string) {
	versions, err := b.catalog.ListVersions(ctx, name)
	if err != nil {
		b.log(ctx).WithError(err).Warn("Failed to list versions for mirror pruning")
		return
	}
	retired := 0
	for _, v := range versions {
		if v.Status != domain.IndexStatusRetired {
			continue
		}
		if retired++; retired == 2 {
			b.dropCollection(ctx, name, v.Version)
			return
		}
	}
}

func (b *IndexBuilder) dropCollection(ctx context.Context, name string, version int) {
	collection := b.mirror.CollectionName(name, version)
	if err := b.mirror.DeleteCollection(ctx, collection); err != nil {
		b.log(ctx).WithField("collection", collection).WithError(err).Debug("Failed to drop mirror collection")
	}
}

// Notify wakes the trigger loop early. It never blocks.
func (b *IndexBuilder) Notify(ctx context.Context, name string) {
	select {
	case b.wake <- struct{}{}:
	default:
	}
}

// Run checks every index on each tick or notification until ctx is done.
func (b *IndexBuilder) Run(ctx context.Context) error {
	ctx = logger.SetComponent(ctx, "index_builder")
	b.log(ctx).WithFields(logger.Fields{
		"count_threshold": b.cfg.CountThreshold,
		"max_staleness":   b.cfg.MaxStaleness.String(),
		"check_interval":  b.cfg.CheckInterval.String(),
	}).Info("Index builder started")

	ticker := time.NewTicker(b.cfg.CheckInterval)
	defer ticker.Stop()
	for {
		b.Check(ctx)
		select {
		case <-ctx.Done():
			b.log(ctx).Info("Index builder stopped")
			return ctx.Err()
		case <-ticker.C:
		case <-b.wake:
		}
	}
}

// Check evaluates the trigger policy of every index once, building the due
// ones in parallel. Failures are logged, never returned.
func (b *IndexBuilder) Check(ctx context.Context) {
	g, gctx := errgroup.WithContext(ctx)
	for _, name := range b.registry.Names() {
		g.Go(func() error {
			mode, due, err := b.due(gctx, name)
			if err != nil {
				b.log(gctx).WithField(logger.FieldIndexName, name).WithError(err).Warn("Failed to evaluate build trigger")
				return nil
			}
			if !due {
				return nil
			}
			if _, err := b.Build(gctx, name, mode); err != nil && errors.Is(err, domain.ErrBuildAlreadyInProgress) {
				b.log(gctx).WithField(logger.FieldIndexName, name).Debug("Build already in progress")
			}
			return nil
		})
	}
	_ = g.Wait()
}

// due reports whether name needs a build and which kind.
func (b *IndexBuilder) due(ctx context.Context, name string) (BuildMode, bool, error) {
	active, err := b.catalog.GetActive(ctx, name)
	if errors.Is(err, domain.ErrNotFound) {
		n, err := b.records.CountSince(ctx, name, 0)
		if err != nil {
			return "", false, err
		}
		return BuildFull, n > 0, nil
	}
	if err != nil {
		return "", false, err
	}

	pending, err := b.records.CountSince(ctx, name, active.Cursor)
	if err != nil {
		return "", false, err
	}
	switch {
	case pending == 0:
		return "", false, nil
	case pending >= int64(b.cfg.CountThreshold):
		return BuildIncremental, true, nil
	case b.cfg.MaxStaleness > 0 && time.Since(active.SnapshotAt) >= b.cfg.MaxStaleness:
		return BuildIncremental, true, nil
	}
	return "", false, nil
}
