package repository

import (
	"context"
	"time"

	"github.com/tilecache-microservice/internal/domain"
)

// CacheFilter narrows List results; nil fields are ignored.
type CacheFilter struct {
	RegionID *string
	Status   *domain.CacheStatus
	MapType  *domain.MapType
	Priority *int
}

// CacheRepository persists Cache records. DELETED caches are excluded from
// reads everywhere except GetByID.
type CacheRepository interface {
	Create(ctx context.Context, cache *domain.Cache) error

	GetByID(ctx context.Context, id string) (*domain.Cache, error)

	List(ctx context.Context, filter CacheFilter) ([]*domain.Cache, error)

	Update(ctx context.Context, cache *domain.Cache) error

	// UpdateStatus moves the cache to next after validating the transition
	// against the current stored status.
	UpdateStatus(ctx context.Context, id string, next domain.CacheStatus) error

	// AddProgress atomically adds deltas to the downloaded/failed tile
	// counters and the byte total, so concurrent worker completions never
	// lose an increment.
	AddProgress(ctx context.Context, id string, downloadedDelta, failedDelta, bytesDelta int64) error

	// ListExpired returns caches whose expiry is before now and whose
	// status is neither EXPIRED nor DELETED.
	ListExpired(ctx context.Context, now time.Time) ([]*domain.Cache, error)

	// Delete marks the cache DELETED. Tile and session rows are removed by
	// their own repositories as part of the registry cascade.
	Delete(ctx context.Context, id string) error
}
