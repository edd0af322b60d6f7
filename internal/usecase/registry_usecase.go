package usecase

import (
	"context"
	"sort"
	"time"

	"github.com/tilecache-microservice/internal/domain"
	"github.com/tilecache-microservice/internal/domain/repository"
	"github.com/tilecache-microservice/internal/geo"
	"github.com/tilecache-microservice/internal/pkg/errors"
	"github.com/tilecache-microservice/internal/pkg/utils"
	"github.com/tilecache-microservice/internal/usecase/dto"
	"go.uber.org/zap"
)

// RegistryUseCase owns the cache lifecycle: creation with pyramid
// enumeration, lookups, spatial queries, tile reads, delete cascades and
// expiry cleanup.
type RegistryUseCase struct {
	caches   repository.CacheRepository
	tiles    repository.TileRepository
	sessions repository.SessionRepository
	storage  repository.TileStorageRepository
	hot      repository.HotCacheRepository
	logger   *zap.Logger
	tileTTL  time.Duration
}

func NewRegistryUseCase(
	caches repository.CacheRepository,
	tiles repository.TileRepository,
	sessions repository.SessionRepository,
	storage repository.TileStorageRepository,
	hot repository.HotCacheRepository,
	logger *zap.Logger,
	tileTTL time.Duration,
) *RegistryUseCase {
	return &RegistryUseCase{
		caches:   caches,
		tiles:    tiles,
		sessions: sessions,
		storage:  storage,
		hot:      hot,
		logger:   logger,
		tileTTL:  tileTTL,
	}
}

// CreateCache validates the region, enumerates the full tile pyramid and
// persists the cache in PENDING with its tile rows. The returned cache
// carries the pre-download size estimate.
func (uc *RegistryUseCase) CreateCache(ctx context.Context, req dto.CreateCacheRequest) (*domain.Cache, error) {
	mapType := domain.MapType(req.MapType)
	if !mapType.Valid() {
		return nil, errors.ErrInvalidMapType.WithDetails(map[string]interface{}{
			"map_type": req.MapType,
		})
	}

	polygon := req.Polygon()
	if err := geo.ValidatePolygon(polygon); err != nil {
		return nil, errors.ErrInvalidRegion.WithDetails(map[string]interface{}{
			"reason": err.Error(),
		})
	}

	zoomLevels := normalizeZoomLevels(req.ZoomLevels)
	if err := geo.ValidateZoomLevels(zoomLevels); err != nil {
		return nil, errors.ErrInvalidZoomRange.WithDetails(map[string]interface{}{
			"zoom_levels": req.ZoomLevels,
			"max_zoom":    geo.MaxZoom,
		})
	}

	cache := domain.NewCache(req.Name, req.RegionID, req.RegionName, polygon,
		zoomLevels, mapType, req.TileSourceURL, req.TileFormat, req.Priority)
	cache.Description = req.Description
	cache.ExpiresAt = req.ExpiresAt
	cache.CreatedBy = req.CreatedBy
	cache.Metadata = req.Metadata

	tiles := make([]*domain.Tile, 0)
	for _, z := range zoomLevels {
		for _, cell := range geo.CellsIntersecting(polygon, z) {
			url := utils.RenderTileURL(req.TileSourceURL, cell.Zoom, cell.X, cell.Y)
			tiles = append(tiles, domain.NewTile(cache.ID, cell.Zoom, cell.X, cell.Y, url))
		}
	}
	cache.TotalTiles = int64(len(tiles))
	cache.EstimatedBytes = cache.TotalTiles * domain.AverageTileSizeFor(mapType, req.TileFormat)

	if err := uc.caches.Create(ctx, cache); err != nil {
		uc.logger.Error("Failed to create cache", zap.Error(err))
		return nil, err
	}
	if err := uc.tiles.CreateBatch(ctx, tiles); err != nil {
		uc.logger.Error("Failed to create tile index, rolling back cache",
			zap.String("cache_id", cache.ID), zap.Error(err))
		if delErr := uc.caches.Delete(ctx, cache.ID); delErr != nil {
			uc.logger.Error("Rollback delete failed", zap.String("cache_id", cache.ID), zap.Error(delErr))
		}
		return nil, err
	}

	uc.logger.Info("Cache created",
		zap.String("cache_id", cache.ID),
		zap.String("region_id", cache.RegionID),
		zap.Int64("total_tiles", cache.TotalTiles),
		zap.Int64("estimated_bytes", cache.EstimatedBytes),
	)
	return cache, nil
}

// GetCache returns one cache. DELETED caches read as not found.
func (uc *RegistryUseCase) GetCache(ctx context.Context, id string) (*domain.Cache, error) {
	cache, err := uc.caches.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if cache.Status == domain.CacheStatusDeleted {
		return nil, errors.ErrCacheNotFound
	}
	return cache, nil
}

func (uc *RegistryUseCase) ListCaches(ctx context.Context, req dto.ListCachesRequest) ([]*domain.Cache, error) {
	filter := repository.CacheFilter{
		RegionID: req.RegionID,
		Priority: req.Priority,
	}
	if req.Status != nil {
		status := domain.CacheStatus(*req.Status)
		if !status.Valid() {
			return nil, errors.ErrInvalidRequest.WithDetails(map[string]interface{}{
				"status": *req.Status,
			})
		}
		filter.Status = &status
	}
	if req.MapType != nil {
		mapType := domain.MapType(*req.MapType)
		if !mapType.Valid() {
			return nil, errors.ErrInvalidMapType.WithDetails(map[string]interface{}{
				"map_type": *req.MapType,
			})
		}
		filter.MapType = &mapType
	}
	return uc.caches.List(ctx, filter)
}

// FindWithinBounds returns every non-deleted cache whose region polygon
// intersects the query box.
func (uc *RegistryUseCase) FindWithinBounds(ctx context.Context, box domain.BoundingBox) ([]*domain.Cache, error) {
	if box.MinLat > box.MaxLat || box.MinLon > box.MaxLon ||
		box.MinLat < -90 || box.MaxLat > 90 || box.MinLon < -180 || box.MaxLon > 180 {
		return nil, errors.ErrInvalidRequest.WithDetails(map[string]interface{}{
			"reason": "malformed bounding box",
		})
	}

	all, err := uc.caches.List(ctx, repository.CacheFilter{})
	if err != nil {
		return nil, err
	}
	result := make([]*domain.Cache, 0)
	for _, c := range all {
		if geo.BBoxIntersectsPolygon(box, c.Bounds) {
			result = append(result, c)
		}
	}
	return result, nil
}

// FindContainingPoint returns every non-deleted cache whose region polygon
// contains the point. Points on the boundary count as inside.
func (uc *RegistryUseCase) FindContainingPoint(ctx context.Context, p domain.Point) ([]*domain.Cache, error) {
	if p.Lat < -90 || p.Lat > 90 || p.Lon < -180 || p.Lon > 180 {
		return nil, errors.ErrInvalidRequest.WithDetails(map[string]interface{}{
			"reason": "coordinate outside WGS84 range",
		})
	}

	all, err := uc.caches.List(ctx, repository.CacheFilter{})
	if err != nil {
		return nil, err
	}
	result := make([]*domain.Cache, 0)
	for _, c := range all {
		if geo.PointInPolygon(p.Lon, p.Lat, c.Bounds) {
			result = append(result, c)
		}
	}
	return result, nil
}

// ListTiles pages through a cache's tile index.
func (uc *RegistryUseCase) ListTiles(ctx context.Context, cacheID string, req dto.ListTilesRequest) ([]*domain.Tile, int, error) {
	if _, err := uc.GetCache(ctx, cacheID); err != nil {
		return nil, 0, err
	}

	filter := repository.TileFilter{
		Zoom:  req.Zoom,
		Page:  req.Page,
		Limit: req.Limit,
	}
	if req.Status != nil {
		status := domain.TileStatus(*req.Status)
		if !status.Valid() {
			return nil, 0, errors.ErrInvalidRequest.WithDetails(map[string]interface{}{
				"status": *req.Status,
			})
		}
		filter.Status = &status
	}
	if filter.Page < 1 {
		filter.Page = 1
	}
	if filter.Limit < 1 || filter.Limit > 1000 {
		filter.Limit = 100
	}
	return uc.tiles.ListByCache(ctx, cacheID, filter)
}

// GetTileData serves the bytes of one completed tile, reading through the
// hot cache and recording the access on both the tile and the cache.
func (uc *RegistryUseCase) GetTileData(ctx context.Context, cacheID string, z, x, y int) ([]byte, string, error) {
	cache, err := uc.GetCache(ctx, cacheID)
	if err != nil {
		return nil, "", err
	}

	if uc.hot != nil {
		if data, err := uc.hot.GetTileData(ctx, cacheID, z, x, y); err == nil && data != nil {
			return data, cache.TileFormat, nil
		}
	}

	tile, err := uc.tiles.GetByKey(ctx, cacheID, z, x, y)
	if err != nil {
		return nil, "", err
	}
	if tile.Status != domain.TileStatusCompleted || tile.StoragePath == nil {
		return nil, "", errors.ErrTileNotFound.WithDetails(map[string]interface{}{
			"tile":   domain.TileKey(z, x, y),
			"status": string(tile.Status),
		})
	}

	data, err := uc.storage.Read(ctx, *tile.StoragePath)
	if err != nil {
		uc.logger.Error("Failed to read tile from storage",
			zap.String("cache_id", cacheID),
			zap.String("tile", tile.Key()),
			zap.Error(err),
		)
		return nil, "", errors.ErrStorageError
	}

	if err := uc.tiles.TouchAccess(ctx, tile.ID); err != nil {
		uc.logger.Warn("Failed to record tile access", zap.String("tile_id", tile.ID), zap.Error(err))
	}
	cache.Touch(time.Now().UTC())
	if err := uc.caches.Update(ctx, cache); err != nil {
		uc.logger.Warn("Failed to record cache access", zap.String("cache_id", cacheID), zap.Error(err))
	}

	if uc.hot != nil {
		if err := uc.hot.SetTileData(ctx, cacheID, z, x, y, data, uc.tileTTL); err != nil {
			uc.logger.Warn("Failed to populate tile hot cache", zap.Error(err))
		}
	}
	return data, cache.TileFormat, nil
}

// DeleteCache removes a cache and everything under it: tile rows, session
// history and stored tile files. A cache with an active download session is
// refused; pause or cancel first.
func (uc *RegistryUseCase) DeleteCache(ctx context.Context, id string) error {
	if _, err := uc.GetCache(ctx, id); err != nil {
		return err
	}

	active, err := uc.sessions.GetActiveByCache(ctx, id)
	if err != nil {
		return err
	}
	if active != nil {
		return errors.ErrCacheBusy.WithDetails(map[string]interface{}{
			"session_id": active.ID,
			"status":     string(active.Status),
		})
	}

	if err := uc.tiles.DeleteByCache(ctx, id); err != nil {
		return err
	}
	if err := uc.sessions.DeleteByCache(ctx, id); err != nil {
		return err
	}
	if err := uc.storage.DeleteCache(ctx, id); err != nil {
		uc.logger.Error("Failed to remove stored tiles", zap.String("cache_id", id), zap.Error(err))
		return errors.ErrStorageError
	}
	if err := uc.caches.Delete(ctx, id); err != nil {
		return err
	}

	uc.invalidateStats(ctx)
	uc.logger.Info("Cache deleted", zap.String("cache_id", id))
	return nil
}

// CleanupExpired marks every cache past its expiry EXPIRED, expires its tile
// rows and reclaims the stored tile files. Already-expired caches are not
// revisited, so repeated runs are no-ops.
func (uc *RegistryUseCase) CleanupExpired(ctx context.Context) (int, error) {
	expired, err := uc.caches.ListExpired(ctx, time.Now().UTC())
	if err != nil {
		return 0, err
	}

	cleaned := 0
	for _, cache := range expired {
		if err := uc.caches.UpdateStatus(ctx, cache.ID, domain.CacheStatusExpired); err != nil {
			uc.logger.Error("Failed to expire cache", zap.String("cache_id", cache.ID), zap.Error(err))
			continue
		}
		if err := uc.tiles.UpdateStatusByCache(ctx, cache.ID, domain.TileStatusExpired); err != nil {
			uc.logger.Error("Failed to expire tiles", zap.String("cache_id", cache.ID), zap.Error(err))
			continue
		}
		if err := uc.storage.DeleteCache(ctx, cache.ID); err != nil {
			uc.logger.Error("Failed to reclaim expired tile files",
				zap.String("cache_id", cache.ID), zap.Error(err))
			continue
		}
		cleaned++
		uc.logger.Info("Cache expired",
			zap.String("cache_id", cache.ID),
			zap.Timep("expired_at", cache.ExpiresAt),
		)
	}

	if cleaned > 0 {
		uc.invalidateStats(ctx)
	}
	return cleaned, nil
}

func (uc *RegistryUseCase) invalidateStats(ctx context.Context) {
	if uc.hot == nil {
		return
	}
	if err := uc.hot.InvalidateStats(ctx); err != nil {
		uc.logger.Warn("Failed to invalidate statistics cache", zap.Error(err))
	}
}

// normalizeZoomLevels sorts the set ascending and drops duplicates.
func normalizeZoomLevels(levels []int) []int {
	if len(levels) == 0 {
		return nil
	}
	sorted := make([]int, len(levels))
	copy(sorted, levels)
	sort.Ints(sorted)

	out := sorted[:1]
	for _, z := range sorted[1:] {
		if z != out[len(out)-1] {
			out = append(out, z)
		}
	}
	return out
}
