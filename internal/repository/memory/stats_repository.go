package memory

import (
	"context"
	"sort"
	"time"

	"github.com/tilecache-microservice/internal/domain"
	"github.com/tilecache-microservice/internal/domain/repository"
)

// StatsRepository computes rollups by scanning the cache and session
// repositories. Fine for tests and small deployments; the postgres
// implementation aggregates in SQL.
type StatsRepository struct {
	caches   repository.CacheRepository
	sessions repository.SessionRepository
}

func NewStatsRepository(caches repository.CacheRepository, sessions repository.SessionRepository) *StatsRepository {
	return &StatsRepository{caches: caches, sessions: sessions}
}

func (r *StatsRepository) GlobalStats(ctx context.Context, rng domain.StatsRange) (*domain.CacheStatistics, error) {
	caches, err := r.caches.List(ctx, repository.CacheFilter{})
	if err != nil {
		return nil, err
	}

	stats := &domain.CacheStatistics{
		ByStatus:    make(map[domain.CacheStatus]int),
		ByMapType:   make(map[domain.MapType]int),
		GeneratedAt: time.Now().UTC(),
	}

	var progressSum float64
	for _, c := range caches {
		if !rng.Contains(c.CreatedAt) {
			continue
		}
		stats.TotalCaches++
		stats.ByStatus[c.Status]++
		stats.ByMapType[c.MapType]++
		stats.TotalBytes += c.CacheSizeBytes
		stats.TotalTiles += c.TotalTiles
		stats.DownloadedTiles += c.DownloadedTiles
		progressSum += c.DownloadProgress()

		active, err := r.sessions.GetActiveByCache(ctx, c.ID)
		if err != nil {
			return nil, err
		}
		if active != nil {
			stats.ActiveSessions++
		}
	}
	if stats.TotalCaches > 0 {
		stats.AverageProgress = progressSum / float64(stats.TotalCaches)
	}
	return stats, nil
}

func (r *StatsRepository) RegionStats(ctx context.Context, rng domain.StatsRange, regionID string) ([]*domain.RegionStatistics, error) {
	caches, err := r.caches.List(ctx, repository.CacheFilter{})
	if err != nil {
		return nil, err
	}

	byRegion := make(map[string]*domain.RegionStatistics)
	progress := make(map[string]float64)
	for _, c := range caches {
		if !rng.Contains(c.CreatedAt) {
			continue
		}
		if regionID != "" && c.RegionID != regionID {
			continue
		}
		rs, ok := byRegion[c.RegionID]
		if !ok {
			rs = &domain.RegionStatistics{
				RegionID:   c.RegionID,
				RegionName: c.RegionName,
				ByStatus:   make(map[domain.CacheStatus]int),
			}
			byRegion[c.RegionID] = rs
		}
		rs.TotalCaches++
		rs.ByStatus[c.Status]++
		rs.TotalBytes += c.CacheSizeBytes
		progress[c.RegionID] += c.DownloadProgress()
	}

	result := make([]*domain.RegionStatistics, 0, len(byRegion))
	for id, rs := range byRegion {
		rs.AverageProgress = progress[id] / float64(rs.TotalCaches)
		result = append(result, rs)
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].RegionID < result[j].RegionID
	})
	return result, nil
}
