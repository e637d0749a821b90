package catalog

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/hurttlocker/cvegs/internal/metrics"
)

// DefaultRefreshInterval is how old a snapshot may get before an access
// triggers a background rebuild.
const DefaultRefreshInterval = 24 * time.Hour

// Cache owns the active snapshot. Publication is an atomic pointer swap:
// refresh builds into fresh memory and publishes when complete, so readers
// never observe a torn snapshot and in-flight matches finish on the snapshot
// they started with.
type Cache struct {
	store           Store
	refreshInterval time.Duration
	log             *zap.Logger

	current atomic.Pointer[Snapshot]

	refreshMu  sync.Mutex // serializes rebuilds
	refreshing atomic.Bool
}

// CacheOptions configures a Cache.
type CacheOptions struct {
	RefreshInterval time.Duration // zero means DefaultRefreshInterval
	Logger          *zap.Logger
}

// NewCache creates a cache over the given store. Call Refresh before the
// first Snapshot to load the initial version.
func NewCache(store Store, opts CacheOptions) *Cache {
	interval := opts.RefreshInterval
	if interval <= 0 {
		interval = DefaultRefreshInterval
	}
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	return &Cache{
		store:           store,
		refreshInterval: interval,
		log:             log,
	}
}

// Refresh rebuilds the snapshot from the store and publishes it.
// On failure the previously published snapshot (if any) stays in service.
func (c *Cache) Refresh(ctx context.Context) error {
	c.refreshMu.Lock()
	defer c.refreshMu.Unlock()

	version, err := c.store.LatestVersion(ctx)
	if err != nil {
		metrics.CatalogRefreshes.WithLabelValues("error").Inc()
		return fmt.Errorf("resolving active catalog version: %w", err)
	}

	records, err := c.store.LoadVersion(ctx, version)
	if err != nil {
		metrics.CatalogRefreshes.WithLabelValues("error").Inc()
		return fmt.Errorf("loading catalog version %d: %w", version, err)
	}

	snap := NewSnapshot(version, records)
	c.current.Store(snap)
	metrics.CatalogRefreshes.WithLabelValues("ok").Inc()
	metrics.SnapshotRecords.Set(float64(len(records)))
	c.log.Info("catalog snapshot published",
		zap.Int64("version", version),
		zap.Int("records", len(records)))
	return nil
}

// Snapshot returns the published snapshot, or an error when none has been
// loaded yet. A stale snapshot stays in service while one background refresh
// runs; refresh failure is logged and the old snapshot lives on.
func (c *Cache) Snapshot() (*Snapshot, error) {
	snap := c.current.Load()
	if snap == nil {
		return nil, fmt.Errorf("catalog cache not loaded")
	}

	if time.Since(snap.LoadedAt) > c.refreshInterval && c.refreshing.CompareAndSwap(false, true) {
		go func() {
			defer c.refreshing.Store(false)
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
			defer cancel()
			if err := c.Refresh(ctx); err != nil {
				c.log.Warn("background catalog refresh failed; keeping previous snapshot", zap.Error(err))
			}
		}()
	}

	return snap, nil
}
