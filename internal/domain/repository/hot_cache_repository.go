package repository

import (
	"context"
	"time"

	"github.com/tilecache-microservice/internal/domain"
)

// HotCacheRepository is the short-lived Redis layer in front of the record
// store: computed statistics and recently served tile bytes. A nil result
// with nil error is a miss.
type HotCacheRepository interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	Exists(ctx context.Context, key string) (bool, error)

	GetTileData(ctx context.Context, cacheID string, z, x, y int) ([]byte, error)
	SetTileData(ctx context.Context, cacheID string, z, x, y int, data []byte, ttl time.Duration) error

	GetGlobalStats(ctx context.Context) (*domain.CacheStatistics, error)
	SetGlobalStats(ctx context.Context, stats *domain.CacheStatistics, ttl time.Duration) error

	GetRegionStats(ctx context.Context, regionID string) ([]*domain.RegionStatistics, error)
	SetRegionStats(ctx context.Context, regionID string, stats []*domain.RegionStatistics, ttl time.Duration) error

	// InvalidateStats drops the cached rollups after a session finishes.
	InvalidateStats(ctx context.Context) error
}
