package usecase

import (
	"context"
	"time"

	"github.com/tilecache-microservice/internal/domain"
	"github.com/tilecache-microservice/internal/domain/repository"
	"github.com/tilecache-microservice/internal/usecase/dto"
	"go.uber.org/zap"
)

// StatsUseCase serves aggregate rollups. Unbounded queries read through the
// hot cache; time-ranged queries always recompute, since every range would
// need its own cache entry.
type StatsUseCase struct {
	stats  repository.StatsRepository
	hot    repository.HotCacheRepository
	logger *zap.Logger
	ttl    time.Duration
}

func NewStatsUseCase(stats repository.StatsRepository, hot repository.HotCacheRepository, logger *zap.Logger, ttl time.Duration) *StatsUseCase {
	return &StatsUseCase{stats: stats, hot: hot, logger: logger, ttl: ttl}
}

func statsRange(req dto.StatsRequest) domain.StatsRange {
	var r domain.StatsRange
	if req.From != nil {
		r.From = *req.From
	}
	if req.To != nil {
		r.To = *req.To
	}
	return r
}

// GetGlobalStats aggregates every non-deleted cache: counts by status and
// map type, byte and tile totals, average progress and active sessions.
func (uc *StatsUseCase) GetGlobalStats(ctx context.Context, req dto.StatsRequest) (*domain.CacheStatistics, error) {
	r := statsRange(req)
	cacheable := r.From.IsZero() && r.To.IsZero()

	if cacheable && uc.hot != nil {
		if cached, err := uc.hot.GetGlobalStats(ctx); err == nil && cached != nil {
			return cached, nil
		}
	}

	stats, err := uc.stats.GlobalStats(ctx, r)
	if err != nil {
		return nil, err
	}

	if cacheable && uc.hot != nil {
		if err := uc.hot.SetGlobalStats(ctx, stats, uc.ttl); err != nil {
			uc.logger.Warn("Failed to cache global stats", zap.Error(err))
		}
	}
	return stats, nil
}

// GetRegionStats returns the same rollup grouped by region, optionally
// narrowed to one region.
func (uc *StatsUseCase) GetRegionStats(ctx context.Context, req dto.StatsRequest) ([]*domain.RegionStatistics, error) {
	r := statsRange(req)
	cacheable := r.From.IsZero() && r.To.IsZero() && req.RegionID != ""

	if cacheable && uc.hot != nil {
		if cached, err := uc.hot.GetRegionStats(ctx, req.RegionID); err == nil && cached != nil {
			return cached, nil
		}
	}

	stats, err := uc.stats.RegionStats(ctx, r, req.RegionID)
	if err != nil {
		return nil, err
	}

	if cacheable && uc.hot != nil {
		if err := uc.hot.SetRegionStats(ctx, req.RegionID, stats, uc.ttl); err != nil {
			uc.logger.Warn("Failed to cache region stats", zap.Error(err))
		}
	}
	return stats, nil
}
