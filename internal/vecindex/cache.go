package vecindex

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/timmy/clipsearch/internal/domain"
	"github.com/timmy/clipsearch/internal/logger"
	"golang.org/x/sync/singleflight"
)

// Loader materializes the snapshot an index row points to.
type Loader func(ctx context.Context, idx *domain.Index) (*Snapshot, error)

// Cache keeps the newest loaded snapshot per index name. Readers get either the
// old or the new snapshot, never a partial one, and a slot never moves back to
// an older version.
type Cache struct {
	load        Loader
	loadTimeout time.Duration

	mu    sync.Mutex
	slots map[string]*atomic.Pointer[Snapshot]
	group singleflight.Group
}

// NewCache creates a Cache; concurrent misses for one version share a single load.
func NewCache(load Loader, loadTimeout time.Duration) *Cache {
	if loadTimeout <= 0 {
		loadTimeout = 2 * time.Minute
	}
	return &Cache{
		load:        load,
		loadTimeout: loadTimeout,
		slots:       make(map[string]*atomic.Pointer[Snapshot]),
	}
}

func (c *Cache) slot(name string) *atomic.Pointer[Snapshot] {
	c.mu.Lock()
	defer c.mu.Unlock()
	p, ok := c.slots[name]
	if !ok {
		p = &atomic.Pointer[Snapshot]{}
		c.slots[name] = p
	}
	return p
}

// Current returns the snapshot held for name, or nil.
func (c *Cache) Current(name string) *Snapshot {
	return c.slot(name).Load()
}

// Put installs s unless an equal or newer version is already held, and returns
// the snapshot the slot holds afterwards.
func (c *Cache) Put(s *Snapshot) *Snapshot {
	p := c.slot(s.Name)
	for {
		cur := p.Load()
		if cur != nil && cur.Version >= s.Version {
			return cur
		}
		if p.CompareAndSwap(cur, s) {
			return s
		}
	}
}

// Get returns a snapshot at least as new as idx, loading idx on a miss.
// The load is detached from ctx so one cancelled caller does not fail the
// others waiting on it; ctx still bounds how long this caller waits.
func (c *Cache) Get(ctx context.Context, idx *domain.Index) (*Snapshot, error) {
	if cur := c.Current(idx.Name); cur != nil && cur.Version >= idx.Version {
		return cur, nil
	}

	key := fmt.Sprintf("%s@%d", idx.Name, idx.Version)
	ch := c.group.DoChan(key, func() (interface{}, error) {
		lctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.loadTimeout)
		defer cancel()

		start := time.Now()
		s, err := c.load(lctx, idx)
		if err != nil {
			return nil, err
		}
		logger.With(logger.Fields{
			logger.FieldIndexName:    idx.Name,
			logger.FieldIndexVersion: idx.Version,
			logger.FieldCount:        s.Len(),
		}).WithDuration(time.Since(start).Milliseconds()).Info(lctx, "Loaded index snapshot")
		return c.Put(s), nil
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, fmt.Errorf("failed to load index %s v%d: %w", idx.Name, idx.Version, res.Err)
		}
		return res.Val.(*Snapshot), nil
	}
}
