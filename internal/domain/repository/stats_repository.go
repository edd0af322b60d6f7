package repository

import (
	"context"

	"github.com/tilecache-microservice/internal/domain"
)

// StatsRepository computes read-only rollups over cache state. Postgres
// implements it with aggregate queries; the in-memory implementation scans.
type StatsRepository interface {
	// GlobalStats aggregates all non-deleted caches created within r.
	GlobalStats(ctx context.Context, r domain.StatsRange) (*domain.CacheStatistics, error)

	// RegionStats groups the same aggregates by region. A non-empty
	// regionID restricts the result to that region.
	RegionStats(ctx context.Context, r domain.StatsRange, regionID string) ([]*domain.RegionStatistics, error)
}
