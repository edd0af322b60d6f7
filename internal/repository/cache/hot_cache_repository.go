package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/tilecache-microservice/internal/domain"
	"github.com/tilecache-microservice/internal/domain/repository"
	"go.uber.org/zap"
)

const (
	globalStatsKey    = "stats:global"
	regionStatsPrefix = "stats:region:"
)

type hotCacheRepository struct {
	client *redis.Client
	logger *zap.Logger
}

func NewHotCacheRepository(redis *Redis) repository.HotCacheRepository {
	return &hotCacheRepository{
		client: redis.Client(),
		logger: redis.logger,
	}
}

func (r *hotCacheRepository) Get(ctx context.Context, key string) ([]byte, error) {
	val, err := r.client.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return nil, nil // Cache miss
	}
	if err != nil {
		r.logger.Error("Failed to get from cache", zap.String("key", key), zap.Error(err))
		return nil, fmt.Errorf("cache get error: %w", err)
	}

	r.logger.Debug("Cache hit", zap.String("key", key))
	return val, nil
}

func (r *hotCacheRepository) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	err := r.client.Set(ctx, key, value, ttl).Err()
	if err != nil {
		r.logger.Error("Failed to set cache", zap.String("key", key), zap.Error(err))
		return fmt.Errorf("cache set error: %w", err)
	}

	r.logger.Debug("Cache set", zap.String("key", key), zap.Duration("ttl", ttl))
	return nil
}

func (r *hotCacheRepository) Delete(ctx context.Context, key string) error {
	err := r.client.Del(ctx, key).Err()
	if err != nil {
		r.logger.Error("Failed to delete from cache", zap.String("key", key), zap.Error(err))
		return fmt.Errorf("cache delete error: %w", err)
	}

	r.logger.Debug("Cache deleted", zap.String("key", key))
	return nil
}

func (r *hotCacheRepository) Exists(ctx context.Context, key string) (bool, error) {
	val, err := r.client.Exists(ctx, key).Result()
	if err != nil {
		r.logger.Error("Failed to check cache existence", zap.String("key", key), zap.Error(err))
		return false, fmt.Errorf("cache exists error: %w", err)
	}

	return val > 0, nil
}

func (r *hotCacheRepository) GetTileData(ctx context.Context, cacheID string, z, x, y int) ([]byte, error) {
	return r.Get(ctx, tileDataKey(cacheID, z, x, y))
}

func (r *hotCacheRepository) SetTileData(ctx context.Context, cacheID string, z, x, y int, data []byte, ttl time.Duration) error {
	return r.Set(ctx, tileDataKey(cacheID, z, x, y), data, ttl)
}

func (r *hotCacheRepository) GetGlobalStats(ctx context.Context) (*domain.CacheStatistics, error) {
	data, err := r.Get(ctx, globalStatsKey)
	if err != nil {
		return nil, err
	}
	if data == nil {
		return nil, nil // Cache miss
	}

	var stats domain.CacheStatistics
	if err := json.Unmarshal(data, &stats); err != nil {
		r.logger.Error("Failed to unmarshal stats from cache", zap.Error(err))
		return nil, fmt.Errorf("unmarshal stats: %w", err)
	}

	return &stats, nil
}

func (r *hotCacheRepository) SetGlobalStats(ctx context.Context, stats *domain.CacheStatistics, ttl time.Duration) error {
	data, err := json.Marshal(stats)
	if err != nil {
		r.logger.Error("Failed to marshal stats", zap.Error(err))
		return fmt.Errorf("marshal stats: %w", err)
	}

	return r.Set(ctx, globalStatsKey, data, ttl)
}

func (r *hotCacheRepository) GetRegionStats(ctx context.Context, regionID string) ([]*domain.RegionStatistics, error) {
	data, err := r.Get(ctx, regionStatsPrefix+regionID)
	if err != nil {
		return nil, err
	}
	if data == nil {
		return nil, nil // Cache miss
	}

	var stats []*domain.RegionStatistics
	if err := json.Unmarshal(data, &stats); err != nil {
		r.logger.Error("Failed to unmarshal region stats from cache", zap.Error(err))
		return nil, fmt.Errorf("unmarshal region stats: %w", err)
	}

	return stats, nil
}

func (r *hotCacheRepository) SetRegionStats(ctx context.Context, regionID string, stats []*domain.RegionStatistics, ttl time.Duration) error {
	data, err := json.Marshal(stats)
	if err != nil {
		r.logger.Error("Failed to marshal region stats", zap.Error(err))
		return fmt.Errorf("marshal region stats: %w", err)
	}

	return r.Set(ctx, regionStatsPrefix+regionID, data, ttl)
}

func (r *hotCacheRepository) InvalidateStats(ctx context.Context) error {
	if err := r.Delete(ctx, globalStatsKey); err != nil {
		return err
	}

	iter := r.client.Scan(ctx, 0, regionStatsPrefix+"*", 0).Iterator()
	for iter.Next(ctx) {
		if err := r.client.Del(ctx, iter.Val()).Err(); err != nil {
			return fmt.Errorf("invalidate region stats: %w", err)
		}
	}
	return iter.Err()
}

func tileDataKey(cacheID string, z, x, y int) string {
	return fmt.Sprintf("tile:%s:%d:%d:%d", cacheID, z, x, y)
}
